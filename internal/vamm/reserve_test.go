package vamm_test

import (
	"math/big"
	"testing"

	"vammengine/internal/fixedpoint"
	"vammengine/internal/vamm"
)

var scale = fixedpoint.Scale(6)

// 100M asset units at 10^6 scale, index price 8.0.
func seededPair(t *testing.T) *vamm.ReservePair {
	t.Helper()
	r := vamm.NewReservePair()
	asset := new(big.Int).Mul(big.NewInt(100_000_000), scale)
	if err := r.Seed(asset, big.NewInt(8_000_000), scale); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	return r
}

func TestSeed_ScenarioValues(t *testing.T) {
	r := seededPair(t)

	wantQuote, _ := new(big.Int).SetString("800000000000000", 10) // 8e14
	if r.Quote.Cmp(wantQuote) != 0 {
		t.Errorf("quote = %s, want %s", r.Quote, wantQuote)
	}
	wantInv, _ := new(big.Int).SetString("80000000000000000000000", 10) // 8e22
	if r.Invariant.Cmp(wantInv) != 0 {
		t.Errorf("invariant = %s, want %s", r.Invariant, wantInv)
	}

	mark, err := r.MarkPrice(scale)
	if err != nil {
		t.Fatal(err)
	}
	if mark.Cmp(big.NewInt(8_000_000)) != 0 {
		t.Errorf("mark = %s, want 8000000", mark)
	}
}

func TestExposureDelta_LongRaisesMark(t *testing.T) {
	r := seededPair(t)
	quoteDelta := big.NewInt(3_920_000_000) // leverage 2 on $1960 net

	delta, err := r.ExposureDelta(vamm.DirectionLong, quoteDelta, true, scale)
	if err != nil {
		t.Fatal(err)
	}
	if delta.Sign() <= 0 {
		t.Fatal("long exposure delta must be positive")
	}

	if err := r.ApplyOpen(vamm.DirectionLong, quoteDelta, delta); err != nil {
		t.Fatal(err)
	}
	mark, err := r.MarkPrice(scale)
	if err != nil {
		t.Fatal(err)
	}
	if mark.Cmp(big.NewInt(8_000_000)) <= 0 {
		t.Errorf("mark after long open = %s, want > 8000000", mark)
	}
	if err := r.CheckInvariant(scale); err != nil {
		t.Errorf("invariant after open: %v", err)
	}
}

func TestExposureDelta_ShortLowersMark(t *testing.T) {
	r := seededPair(t)
	quoteDelta := big.NewInt(3_920_000_000)

	delta, err := r.ExposureDelta(vamm.DirectionShort, quoteDelta, true, scale)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.ApplyOpen(vamm.DirectionShort, quoteDelta, delta); err != nil {
		t.Fatal(err)
	}
	mark, _ := r.MarkPrice(scale)
	if mark.Cmp(big.NewInt(8_000_000)) >= 0 {
		t.Errorf("mark after short open = %s, want < 8000000", mark)
	}
	if err := r.CheckInvariant(scale); err != nil {
		t.Errorf("invariant after open: %v", err)
	}
}

func TestSettlementValue_RoundTripNearNotional(t *testing.T) {
	r := seededPair(t)
	quoteDelta := big.NewInt(3_920_000_000)

	delta, err := r.ExposureDelta(vamm.DirectionLong, quoteDelta, true, scale)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.ApplyOpen(vamm.DirectionLong, quoteDelta, delta); err != nil {
		t.Fatal(err)
	}

	// Settling the same exposure with no price move should return very
	// close to the quote that was put in.
	value, err := r.SettlementValue(vamm.DirectionLong, delta, scale)
	if err != nil {
		t.Fatal(err)
	}
	diff := new(big.Int).Sub(value, quoteDelta)
	diff.Abs(diff)
	if diff.Cmp(big.NewInt(1_000_000)) > 0 {
		t.Errorf("settlement %s vs quote in %s, diff %s beyond rounding", value, quoteDelta, diff)
	}

	if err := r.ApplyReduce(vamm.DirectionLong, value, delta); err != nil {
		t.Fatal(err)
	}
	if err := r.CheckInvariant(scale); err != nil {
		t.Errorf("invariant after close: %v", err)
	}
}

func TestExposureDelta_DecreasePreservesInvariant(t *testing.T) {
	r := seededPair(t)
	openDelta := big.NewInt(3_920_000_000)

	exp, err := r.ExposureDelta(vamm.DirectionLong, openDelta, true, scale)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.ApplyOpen(vamm.DirectionLong, openDelta, exp); err != nil {
		t.Fatal(err)
	}

	// Partial unwind: the quote reserve shrinks, so the long-side
	// decrease denominator must be Quote - quoteDelta.
	reduceQuote := big.NewInt(1_000_000_000)
	released, err := r.ExposureDelta(vamm.DirectionLong, reduceQuote, false, scale)
	if err != nil {
		t.Fatal(err)
	}
	if released.Sign() <= 0 || released.Cmp(exp) >= 0 {
		t.Fatalf("released exposure = %s, want in (0, %s)", released, exp)
	}
	if err := r.ApplyReduce(vamm.DirectionLong, reduceQuote, released); err != nil {
		t.Fatal(err)
	}
	if err := r.CheckInvariant(scale); err != nil {
		t.Errorf("invariant after partial decrease: %v", err)
	}
}

func TestApplyOpen_RefusesDepletion(t *testing.T) {
	r := seededPair(t)
	before := r.Clone()

	// A short pushing more quote out than the reserve holds must fail
	// without mutating.
	tooMuch := new(big.Int).Add(r.Quote, big.NewInt(1))
	if err := r.ApplyOpen(vamm.DirectionShort, tooMuch, big.NewInt(1)); err == nil {
		t.Fatal("expected reserve depletion error")
	}
	if r.Asset.Cmp(before.Asset) != 0 || r.Quote.Cmp(before.Quote) != 0 {
		t.Error("failed ApplyOpen must not mutate reserves")
	}

	if _, err := r.ExposureDelta(vamm.DirectionShort, tooMuch, true, scale); err == nil {
		t.Error("expected depletion error from ExposureDelta")
	}
}

func TestSeed_RequiresPositiveReserves(t *testing.T) {
	r := vamm.NewReservePair()
	if err := r.Seed(big.NewInt(0), big.NewInt(8_000_000), scale); err == nil {
		t.Error("zero asset seed should fail")
	}
	if r.Initialized() {
		t.Error("failed seed must leave the pair uninitialized")
	}
}
