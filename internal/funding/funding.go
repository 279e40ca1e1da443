// Package funding computes directional funding rates from the mark/index
// spread. It is pure computation: no state, no clock, no I/O.
package funding

import (
	"math/big"
	"time"

	"vammengine/internal/fixedpoint"
)

// RateDirection tells whether a side pays (Negative) or receives (Positive).
type RateDirection int32

const (
	RatePositive RateDirection = iota
	RateNegative
)

func (d RateDirection) String() string {
	if d == RateNegative {
		return "Negative"
	}
	return "Positive"
}

// Rate is one side's funding rate. Value is a percent scaled by the
// engine's decimal scale (5% == 5 * scale).
type Rate struct {
	Value     *big.Int
	Direction RateDirection
}

// Pair holds both sides' rates for one funding cycle.
type Pair struct {
	Long  Rate
	Short Rate
}

// maxPct caps the per-cycle funding percentage at 5%.
const maxPct = 5

// PeriodsPerDay derives the rate divisor from the configured funding
// period instead of hard-coding 24, so a reconfigured period scales the
// per-cycle rate consistently. Never less than 1.
func PeriodsPerDay(period time.Duration) int64 {
	secs := int64(period / time.Second)
	if secs <= 0 {
		return 1
	}
	n := int64(24*time.Hour/time.Second) / secs
	if n < 1 {
		return 1
	}
	return n
}

// Inputs for one rate computation.
type Inputs struct {
	MarkPrice     *big.Int
	IndexPrice    *big.Int
	Scale         *big.Int
	TotalLong     *big.Int
	TotalShort    *big.Int
	PeriodsPerDay int64
}

// ComputeRates derives both sides' rates from the mark/index spread.
//
//	rawRate = (mark - index) / periodsPerDay
//	pct     = rawRate * scale * 100 / ((mark + index) / 2), capped at 5%
//
// The side the spread favors pays (Negative); the other side receives a
// rate rebalanced by the exposure ratio so the transfer is zero-sum. A
// side with zero exposure gets a zero rate: there is nobody to pay or
// nothing to offset against.
func ComputeRates(in Inputs) (Pair, error) {
	zero := func(d RateDirection) Rate { return Rate{Value: new(big.Int), Direction: d} }

	priceDiff := new(big.Int).Sub(in.MarkPrice, in.IndexPrice)
	if priceDiff.Sign() == 0 {
		return Pair{Long: zero(RatePositive), Short: zero(RatePositive)}, nil
	}

	rawRate, err := fixedpoint.Div(priceDiff, big.NewInt(in.PeriodsPerDay))
	if err != nil {
		return Pair{}, err
	}
	avg := new(big.Int).Add(in.MarkPrice, in.IndexPrice)
	avg.Quo(avg, big.NewInt(2))

	pct, err := fixedpoint.MulDiv(rawRate, new(big.Int).Mul(in.Scale, big.NewInt(100)), avg)
	if err != nil {
		return Pair{}, err
	}
	pct.Abs(pct)
	cap := new(big.Int).Mul(in.Scale, big.NewInt(maxPct))
	if pct.Cmp(cap) >= 0 {
		pct = cap
	}

	var payingTotal, receivingTotal *big.Int
	if priceDiff.Sign() > 0 {
		payingTotal, receivingTotal = in.TotalLong, in.TotalShort
	} else {
		payingTotal, receivingTotal = in.TotalShort, in.TotalLong
	}

	paying := zero(RateNegative)
	if payingTotal.Sign() > 0 {
		paying.Value = fixedpoint.Clone(pct)
	}
	receiving := zero(RatePositive)
	if receivingTotal.Sign() > 0 {
		// Rebalance by exposure ratio so paid == received.
		v, err := fixedpoint.MulDiv(payingTotal, pct, receivingTotal)
		if err != nil {
			return Pair{}, err
		}
		receiving.Value = v
	}

	if priceDiff.Sign() > 0 {
		return Pair{Long: paying, Short: receiving}, nil
	}
	return Pair{Long: receiving, Short: paying}, nil
}
