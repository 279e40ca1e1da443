// Package oracle provides the index-price source for the engine. The
// engine refreshes the index from the oracle before every mutating
// operation and rejects data older than its staleness bound.
package oracle

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"vammengine/internal/fixedpoint"
)

var ErrNoData = errors.New("oracle has no completed data")

// PriceData is one completed oracle round. Price is at market scale.
type PriceData struct {
	Price     *big.Int
	UpdatedAt time.Time
}

// PriceOracle is the read interface the engine depends on.
type PriceOracle interface {
	LastCompletedData(ctx context.Context) (PriceData, error)
}

// Feed is an in-process PriceOracle fed by the NATS subscriber (or by
// tests directly).
type Feed struct {
	mu   sync.RWMutex
	last PriceData
}

func NewFeed() *Feed {
	return &Feed{}
}

// SetPrice records a completed round.
func (f *Feed) SetPrice(price *big.Int, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = PriceData{Price: fixedpoint.Clone(price), UpdatedAt: at}
}

func (f *Feed) LastCompletedData(ctx context.Context) (PriceData, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.last.Price == nil {
		return PriceData{}, ErrNoData
	}
	return PriceData{Price: fixedpoint.Clone(f.last.Price), UpdatedAt: f.last.UpdatedAt}, nil
}
