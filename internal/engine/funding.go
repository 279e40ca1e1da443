package engine

import (
	"context"
	"fmt"
	"math/big"

	"vammengine/internal/collateral"
	"vammengine/internal/event"
	"vammengine/internal/fixedpoint"
	"vammengine/internal/funding"
	"vammengine/internal/vamm"
)

// DistributeFunding runs one funding pass: it recomputes the rate pair
// from the current mark/index spread and moves exposure-weighted funding
// between the two sides' positions. Callable by anyone once the upcoming
// funding time has passed.
//
// The pass walks every open position, so its cost is linear in the open
// position count. That bound is part of the contract and is pinned by a
// test rather than hidden.
func (e *PositionEngine) DistributeFunding(ctx context.Context, caller collateral.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	const op = "distributeFunding"
	if !e.status.allowsReduce() {
		return e.rejected(op, fmt.Errorf("%w: %s", ErrInvalidStatus, e.status))
	}
	now := e.nowFn()
	if now.Before(e.nextFunding) {
		return e.rejected(op, fmt.Errorf("%w: due at %s", ErrFundingNotDue, e.nextFunding))
	}
	if err := e.refreshIndexPrice(ctx); err != nil {
		return e.rejected(op, err)
	}

	snap := e.snapshot()
	start := now

	if err := e.recomputeMark(); err != nil {
		return e.rejected(op, err)
	}
	rates, err := funding.ComputeRates(funding.Inputs{
		MarkPrice:     e.markPrice,
		IndexPrice:    e.indexPrice,
		Scale:         e.scale,
		TotalLong:     e.totalLong,
		TotalShort:    e.totalShort,
		PeriodsPerDay: funding.PeriodsPerDay(e.fundingPeriod),
	})
	if err != nil {
		e.restore(snap)
		return e.rejected(op, err)
	}
	e.fundingRates = rates

	priceDiff := new(big.Int).Sub(e.markPrice, e.indexPrice)
	totalDebited := new(big.Int)
	totalCredited := new(big.Int)
	settled := 0

	apply := func(direction vamm.Direction, rate *big.Int, debit bool) {
		if rate.Sign() == 0 {
			return
		}
		for _, pos := range e.positions {
			if pos.Direction != direction {
				continue
			}
			delta, err := fixedpoint.MulDiv(pos.Exposure, rate, e.scale)
			if err != nil {
				continue
			}
			if debit {
				pos.FundingAccrued.Sub(pos.FundingAccrued, delta)
				pos.Collateral.Sub(pos.Collateral, delta)
				totalDebited.Add(totalDebited, delta)
			} else {
				pos.FundingAccrued.Add(pos.FundingAccrued, delta)
				pos.Collateral.Add(pos.Collateral, delta)
				totalCredited.Add(totalCredited, delta)
			}
			settled++
		}
	}

	switch {
	case priceDiff.Sign() > 0:
		// Mark above index: longs pay, shorts receive.
		apply(vamm.DirectionLong, rates.Long.Value, true)
		apply(vamm.DirectionShort, rates.Short.Value, false)
	case priceDiff.Sign() < 0:
		apply(vamm.DirectionShort, rates.Short.Value, true)
		apply(vamm.DirectionLong, rates.Long.Value, false)
	}

	e.prevFunding = now
	e.nextFunding = now.Add(e.fundingPeriod)
	e.updateMarketGauges()

	if e.metrics != nil {
		e.metrics.FundingPasses.Inc()
		e.metrics.FundingPositionsSettled.Add(float64(settled))
		e.metrics.FundingDuration.Observe(e.nowFn().Sub(start).Seconds())
	}
	e.log.Info().
		Str("mark_price", e.markPrice.String()).
		Str("index_price", e.indexPrice.String()).
		Str("long_rate", rates.Long.Value.String()).
		Str("short_rate", rates.Short.Value.String()).
		Int("positions_settled", settled).
		Msg("funding distributed")
	e.emit(event.FundingDistributed{
		MarkPrice:      e.markPrice.String(),
		IndexPrice:     e.indexPrice.String(),
		LongRate:       rates.Long.Value.String(),
		LongDirection:  rates.Long.Direction.String(),
		ShortRate:      rates.Short.Value.String(),
		ShortDirection: rates.Short.Direction.String(),
		TotalDebited:   totalDebited.String(),
		TotalCredited:  totalCredited.String(),
	})
	return nil
}
