package oracle

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"
)

func TestFeedEmpty(t *testing.T) {
	f := NewFeed()
	_, err := f.LastCompletedData(context.Background())
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("err = %v, want ErrNoData", err)
	}
}

func TestFeedSetAndRead(t *testing.T) {
	f := NewFeed()
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	price := big.NewInt(8_000_000)
	f.SetPrice(price, at)

	// Mutating the caller's value must not affect the feed.
	price.SetInt64(0)

	data, err := f.LastCompletedData(context.Background())
	if err != nil {
		t.Fatalf("LastCompletedData: %v", err)
	}
	if data.Price.Cmp(big.NewInt(8_000_000)) != 0 {
		t.Errorf("price = %s, want 8000000", data.Price)
	}
	if !data.UpdatedAt.Equal(at) {
		t.Errorf("updated at = %v, want %v", data.UpdatedAt, at)
	}

	// Nor may a caller mutate the feed through the returned copy.
	data.Price.SetInt64(1)
	again, _ := f.LastCompletedData(context.Background())
	if again.Price.Cmp(big.NewInt(8_000_000)) != 0 {
		t.Errorf("feed mutated through returned copy: %s", again.Price)
	}
}
