package vamm

import (
	"errors"
	"fmt"
	"math/big"

	"vammengine/internal/fixedpoint"
)

// Direction of a position against the reserve pair.
type Direction int32

const (
	DirectionNone Direction = iota
	DirectionLong
	DirectionShort
)

func (d Direction) String() string {
	switch d {
	case DirectionLong:
		return "Long"
	case DirectionShort:
		return "Short"
	default:
		return "None"
	}
}

// Valid reports whether d is Long or Short.
func (d Direction) Valid() bool {
	return d == DirectionLong || d == DirectionShort
}

// ErrReserveDepleted is returned when a mutation would drive a reserve to
// zero or flip its sign. The caller must not commit any part of the op.
var ErrReserveDepleted = errors.New("reserve depleted")

// ReservePair is the synthetic constant-product reserve state. The reserves
// back no real liquidity; they exist purely for price discovery.
//
// Invariant: Invariant == Asset * Quote / scale immediately after every
// completed mutation (floor rounding leaves dust in the reserves, so the
// equality holds within one unit of Quote/scale).
type ReservePair struct {
	Asset     *big.Int // synthetic base-asset reserve
	Quote     *big.Int // synthetic quote (USD) reserve
	Invariant *big.Int
}

// NewReservePair returns an empty (uninitialized) pair.
func NewReservePair() *ReservePair {
	return &ReservePair{
		Asset:     new(big.Int),
		Quote:     new(big.Int),
		Invariant: new(big.Int),
	}
}

// Initialized reports whether the reserves have been seeded.
func (r *ReservePair) Initialized() bool {
	return r.Asset.Sign() != 0 || r.Quote.Sign() != 0
}

// Clone returns a deep copy, used for op-level rollback snapshots.
func (r *ReservePair) Clone() *ReservePair {
	return &ReservePair{
		Asset:     fixedpoint.Clone(r.Asset),
		Quote:     fixedpoint.Clone(r.Quote),
		Invariant: fixedpoint.Clone(r.Invariant),
	}
}

// Restore copies src back into r.
func (r *ReservePair) Restore(src *ReservePair) {
	r.Asset.Set(src.Asset)
	r.Quote.Set(src.Quote)
	r.Invariant.Set(src.Invariant)
}

// Seed initializes the pair from an asset amount and index price:
// quote = asset * indexPrice / scale, invariant = asset * quote / scale.
func (r *ReservePair) Seed(assetAmount, indexPrice, scale *big.Int) error {
	quote, err := fixedpoint.MulDiv(assetAmount, indexPrice, scale)
	if err != nil {
		return err
	}
	inv, err := fixedpoint.MulDiv(assetAmount, quote, scale)
	if err != nil {
		return err
	}
	if assetAmount.Sign() <= 0 || quote.Sign() <= 0 {
		return ErrReserveDepleted
	}
	r.Asset.Set(assetAmount)
	r.Quote.Set(quote)
	r.Invariant.Set(inv)
	return nil
}

// MarkPrice returns Quote * scale / Asset.
func (r *ReservePair) MarkPrice(scale *big.Int) (*big.Int, error) {
	return fixedpoint.MulDiv(r.Quote, scale, r.Asset)
}

// ExposureDelta computes the asset-side exposure created or released by
// moving the quote reserve by quoteDelta (= leverage * net USD). The
// denominator follows the direction the quote reserve is about to move:
//
//	long open / short decrease (quote grows):   |invariant * scale / (Quote + quoteDelta) - Asset|
//	short open / long decrease (quote shrinks): |invariant * scale / (Quote - quoteDelta) - Asset|
//
// so the reserves walk back along the same curve they advanced on and
// the constant-product invariant survives both halves of the trip.
func (r *ReservePair) ExposureDelta(direction Direction, quoteDelta *big.Int, opening bool, scale *big.Int) (*big.Int, error) {
	quoteShrinks := (opening && direction == DirectionShort) || (!opening && direction == DirectionLong)
	denom := new(big.Int)
	if quoteShrinks {
		denom.Sub(r.Quote, quoteDelta)
	} else {
		denom.Add(r.Quote, quoteDelta)
	}
	if denom.Sign() <= 0 {
		return nil, ErrReserveDepleted
	}
	implied, err := fixedpoint.MulDiv(r.Invariant, scale, denom)
	if err != nil {
		return nil, err
	}
	return implied.Sub(implied, r.Asset).Abs(implied), nil
}

// SettlementValue solves the invariant for the quote-side value of removing
// exposure from the pair:
//
//	long:  Quote - invariant * scale / (Asset + exposure)
//	short: invariant * scale / (Asset - exposure) - Quote
func (r *ReservePair) SettlementValue(direction Direction, exposure, scale *big.Int) (*big.Int, error) {
	denom := new(big.Int)
	switch direction {
	case DirectionLong:
		denom.Add(r.Asset, exposure)
	case DirectionShort:
		denom.Sub(r.Asset, exposure)
	default:
		return nil, fmt.Errorf("settlement for direction %s", direction)
	}
	if denom.Sign() <= 0 {
		return nil, ErrReserveDepleted
	}
	implied, err := fixedpoint.MulDiv(r.Invariant, scale, denom)
	if err != nil {
		return nil, err
	}
	if direction == DirectionLong {
		return new(big.Int).Sub(r.Quote, implied), nil
	}
	return implied.Sub(implied, r.Quote), nil
}

// ApplyOpen moves the reserves for an open/increase: longs push quote up
// and pull asset out, shorts mirror. Fails without mutating if either
// reserve would be depleted.
func (r *ReservePair) ApplyOpen(direction Direction, quoteDelta, exposureDelta *big.Int) error {
	asset := new(big.Int)
	quote := new(big.Int)
	switch direction {
	case DirectionLong:
		quote.Add(r.Quote, quoteDelta)
		asset.Sub(r.Asset, exposureDelta)
	case DirectionShort:
		quote.Sub(r.Quote, quoteDelta)
		asset.Add(r.Asset, exposureDelta)
	default:
		return fmt.Errorf("open for direction %s", direction)
	}
	if asset.Sign() <= 0 || quote.Sign() <= 0 {
		return ErrReserveDepleted
	}
	r.Asset.Set(asset)
	r.Quote.Set(quote)
	return nil
}

// ApplyReduce moves the reserves in the opposite direction of ApplyOpen,
// releasing exposure back into the pair.
func (r *ReservePair) ApplyReduce(direction Direction, quoteDelta, exposureDelta *big.Int) error {
	switch direction {
	case DirectionLong:
		return r.ApplyOpen(DirectionShort, quoteDelta, exposureDelta)
	case DirectionShort:
		return r.ApplyOpen(DirectionLong, quoteDelta, exposureDelta)
	default:
		return fmt.Errorf("reduce for direction %s", direction)
	}
}

// ApplySettle removes a settled position from the pair: longs hand their
// exposure back to the asset reserve and take the settlement value out of
// the quote reserve, shorts mirror. Fails without mutating if either
// reserve would be depleted.
func (r *ReservePair) ApplySettle(direction Direction, settlement, exposure *big.Int) error {
	asset := new(big.Int)
	quote := new(big.Int)
	switch direction {
	case DirectionLong:
		quote.Sub(r.Quote, settlement)
		asset.Add(r.Asset, exposure)
	case DirectionShort:
		quote.Add(r.Quote, settlement)
		asset.Sub(r.Asset, exposure)
	default:
		return fmt.Errorf("settle for direction %s", direction)
	}
	if asset.Sign() <= 0 || quote.Sign() <= 0 {
		return ErrReserveDepleted
	}
	r.Asset.Set(asset)
	r.Quote.Set(quote)
	return nil
}

// CheckInvariant verifies Asset * Quote / scale stays within the floor
// rounding bound of the stored invariant. The bound is one quote unit per
// scale unit of asset drift, the worst case a single truncating division
// can introduce.
func (r *ReservePair) CheckInvariant(scale *big.Int) error {
	got, err := fixedpoint.MulDiv(r.Asset, r.Quote, scale)
	if err != nil {
		return err
	}
	diff := new(big.Int).Sub(got, r.Invariant)
	diff.Abs(diff)
	bound := new(big.Int).Add(r.Quote, r.Asset)
	bound.Quo(bound, scale)
	bound.Add(bound, big.NewInt(1))
	if diff.Cmp(bound) > 0 {
		return fmt.Errorf("invariant drift: asset*quote/scale=%s stored=%s diff=%s bound=%s",
			got, r.Invariant, diff, bound)
	}
	return nil
}
