package engine

import (
	"math/big"
	"time"

	"vammengine/internal/fixedpoint"
	"vammengine/internal/funding"
	"vammengine/internal/vamm"
)

// ContractStatus gates which operations the engine accepts.
type ContractStatus int32

const (
	StatusNotInitialized ContractStatus = iota
	StatusActive
	StatusCloseOnly
	StatusPaused
)

func (s ContractStatus) String() string {
	switch s {
	case StatusNotInitialized:
		return "NotInitialized"
	case StatusActive:
		return "Active"
	case StatusCloseOnly:
		return "CloseOnly"
	case StatusPaused:
		return "Paused"
	default:
		return "Unknown"
	}
}

// Valid reports whether s is a known status code.
func (s ContractStatus) Valid() bool {
	return s >= StatusNotInitialized && s <= StatusPaused
}

// allowsOpen reports whether risk-increasing operations are permitted.
func (s ContractStatus) allowsOpen() bool {
	return s == StatusActive
}

// allowsReduce reports whether risk-reducing operations (decrease, close,
// liquidate, remove margin, funding) are permitted. CloseOnly lets
// participants unwind without taking new risk.
func (s ContractStatus) allowsReduce() bool {
	return s == StatusActive || s == StatusCloseOnly
}

// Position is one holder's open position. Exposure is the asset-side
// quantity backing the position; NotionalUsd the leveraged quote-side
// size; Collateral the margin held by the engine. All values at market
// scale.
type Position struct {
	Direction      vamm.Direction
	EntryPrice     *big.Int
	FundingAccrued *big.Int
	Exposure       *big.Int
	Collateral     *big.Int
	NotionalUsd    *big.Int
}

// Clone returns a deep copy, used for rollback snapshots and view returns.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	return &Position{
		Direction:      p.Direction,
		EntryPrice:     fixedpoint.Clone(p.EntryPrice),
		FundingAccrued: fixedpoint.Clone(p.FundingAccrued),
		Exposure:       fixedpoint.Clone(p.Exposure),
		Collateral:     fixedpoint.Clone(p.Collateral),
		NotionalUsd:    fixedpoint.Clone(p.NotionalUsd),
	}
}

// PriceView is the synchronous index/mark price view.
type PriceView struct {
	IndexPrice *big.Int
	MarkPrice  *big.Int
}

// VmmView is a copy of the reserve state.
type VmmView struct {
	ReserveAsset *big.Int
	ReserveQuote *big.Int
	Invariant    *big.Int
}

// FundingPeriodView exposes the funding schedule.
type FundingPeriodView struct {
	Period   time.Duration
	Previous time.Time
	Upcoming time.Time
}

// FundingRateView is a copy of the last computed rate pair.
type FundingRateView struct {
	Long  funding.Rate
	Short funding.Rate
}
