package engine

import (
	"fmt"
	"math/big"

	"vammengine/internal/collateral"
	"vammengine/internal/fixedpoint"
	"vammengine/internal/funding"
)

// Views are synchronous and side-effect free: they copy state out under
// the lock and never touch the oracle or the ledger.

// IndexAndMarkPrice returns the stored index and mark prices.
func (e *PositionEngine) IndexAndMarkPrice() PriceView {
	e.mu.Lock()
	defer e.mu.Unlock()
	return PriceView{
		IndexPrice: fixedpoint.Clone(e.indexPrice),
		MarkPrice:  fixedpoint.Clone(e.markPrice),
	}
}

// PositionData returns a copy of the holder's position.
func (e *PositionEngine) PositionData(holder collateral.Address) (*Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, ok := e.positions[holder]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, holder)
	}
	return pos.Clone(), nil
}

// VmmData returns a copy of the reserve state.
func (e *PositionEngine) VmmData() VmmView {
	e.mu.Lock()
	defer e.mu.Unlock()
	return VmmView{
		ReserveAsset: fixedpoint.Clone(e.reserves.Asset),
		ReserveQuote: fixedpoint.Clone(e.reserves.Quote),
		Invariant:    fixedpoint.Clone(e.reserves.Invariant),
	}
}

// FundingRate returns the last computed rate pair.
func (e *PositionEngine) FundingRate() FundingRateView {
	e.mu.Lock()
	defer e.mu.Unlock()
	return FundingRateView{
		Long: funding.Rate{
			Value:     fixedpoint.Clone(e.fundingRates.Long.Value),
			Direction: e.fundingRates.Long.Direction,
		},
		Short: funding.Rate{
			Value:     fixedpoint.Clone(e.fundingRates.Short.Value),
			Direction: e.fundingRates.Short.Direction,
		},
	}
}

// FundingPeriodData returns the funding schedule.
func (e *PositionEngine) FundingPeriodData() FundingPeriodView {
	e.mu.Lock()
	defer e.mu.Unlock()
	return FundingPeriodView{
		Period:   e.fundingPeriod,
		Previous: e.prevFunding,
		Upcoming: e.nextFunding,
	}
}

// Status returns the current contract status.
func (e *PositionEngine) Status() ContractStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// AggregateExposure returns copies of the long and short totals.
func (e *PositionEngine) AggregateExposure() (totalLong, totalShort *big.Int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fixedpoint.Clone(e.totalLong), fixedpoint.Clone(e.totalShort)
}
