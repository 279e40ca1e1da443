package engine

import (
	"context"
	"fmt"
	"math/big"

	"vammengine/internal/collateral"
	"vammengine/internal/event"
	"vammengine/internal/fixedpoint"
	"vammengine/internal/vamm"
)

// SetVmm seeds the reserve pair from an asset amount and the current
// index price, transitions the engine to Active, and schedules the first
// funding pass. Admin only, once.
func (e *PositionEngine) SetVmm(ctx context.Context, caller collateral.Address, assetAmount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.admin.IsAdmin(caller) {
		return e.rejected("setVmm", fmt.Errorf("%w: %s", ErrNotAdmin, caller))
	}
	if e.reserves.Initialized() {
		return e.rejected("setVmm", ErrAlreadyInitialized)
	}
	if assetAmount == nil || assetAmount.Sign() <= 0 {
		return e.rejected("setVmm", fmt.Errorf("%w: asset amount %s", ErrInvalidAmount, assetAmount))
	}
	if err := e.refreshIndexPrice(ctx); err != nil {
		return e.rejected("setVmm", err)
	}

	if err := e.reserves.Seed(assetAmount, e.indexPrice, e.scale); err != nil {
		return e.rejected("setVmm", fmt.Errorf("%w: %v", ErrInvalidAmount, err))
	}
	if err := e.recomputeMark(); err != nil {
		return e.rejected("setVmm", err)
	}

	now := e.nowFn()
	e.prevFunding = now
	e.nextFunding = now.Add(e.fundingPeriod)
	e.status = StatusActive
	e.updateMarketGauges()

	e.log.Info().
		Str("reserve_asset", e.reserves.Asset.String()).
		Str("reserve_quote", e.reserves.Quote.String()).
		Str("invariant", e.reserves.Invariant.String()).
		Str("mark_price", e.markPrice.String()).
		Msg("vamm configured")
	e.emit(event.MarketConfigured{
		ReserveAsset:  e.reserves.Asset.String(),
		ReserveQuote:  e.reserves.Quote.String(),
		Invariant:     e.reserves.Invariant.String(),
		IndexPrice:    e.indexPrice.String(),
		FundingPeriod: e.fundingPeriod.String(),
	})
	return nil
}

// IncreasePosition opens a new position or adds to an existing one on
// the same side. The caller is either the holder (self-service) or a
// position manager acting for the holder; both forms behave identically.
// A fee of feePct percent is taken off usdAmount and forwarded to the
// fund manager; the rest becomes collateral at the given leverage.
func (e *PositionEngine) IncreasePosition(ctx context.Context, caller, holder collateral.Address, direction vamm.Direction, usdAmount, leverage *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	const op = "increasePosition"
	if !e.status.allowsOpen() {
		return e.rejected(op, fmt.Errorf("%w: %s", ErrInvalidStatus, e.status))
	}
	if err := e.authorizeFor(caller, holder); err != nil {
		return e.rejected(op, err)
	}
	if !direction.Valid() {
		return e.rejected(op, fmt.Errorf("%w: direction %d", ErrInvalidAmount, direction))
	}
	if usdAmount == nil || usdAmount.Sign() <= 0 {
		return e.rejected(op, fmt.Errorf("%w: usd amount %s", ErrInvalidAmount, usdAmount))
	}
	if leverage == nil || leverage.Sign() <= 0 {
		return e.rejected(op, fmt.Errorf("%w: leverage %s", ErrInvalidLeverage, leverage))
	}
	existing, hasPosition := e.positions[holder]
	if hasPosition && existing.Direction != direction {
		return e.rejected(op, fmt.Errorf("%w: position is %s, requested %s",
			ErrDirectionMismatch, existing.Direction, direction))
	}
	if err := e.refreshIndexPrice(ctx); err != nil {
		return e.rejected(op, err)
	}

	snap := e.snapshot()
	outbox := collateral.NewOutbox(e.ledger)

	fee := fixedpoint.PercentOf(usdAmount, e.feePct)
	net := new(big.Int).Sub(usdAmount, fee)
	levNet := new(big.Int).Mul(net, leverage)

	exposureDelta, err := e.reserves.ExposureDelta(direction, levNet, true, e.scale)
	if err != nil {
		return e.rejected(op, fmt.Errorf("%w: %v", ErrInvalidAmount, err))
	}
	if err := e.reserves.ApplyOpen(direction, levNet, exposureDelta); err != nil {
		return e.rejected(op, fmt.Errorf("%w: %v", ErrInvalidAmount, err))
	}

	// Entry price comes from the stored pre-trade mark price.
	entryMark := fixedpoint.Clone(e.markPrice)
	if hasPosition {
		existing.EntryPrice.Add(existing.EntryPrice, entryMark)
		existing.EntryPrice.Quo(existing.EntryPrice, big.NewInt(2))
		existing.Exposure.Add(existing.Exposure, exposureDelta)
		existing.Collateral.Add(existing.Collateral, net)
		existing.NotionalUsd.Add(existing.NotionalUsd, levNet)
	} else {
		e.positions[holder] = &Position{
			Direction:      direction,
			EntryPrice:     entryMark,
			FundingAccrued: new(big.Int),
			Exposure:       fixedpoint.Clone(exposureDelta),
			Collateral:     fixedpoint.Clone(net),
			NotionalUsd:    fixedpoint.Clone(levNet),
		}
	}
	e.totalFor(direction).Add(e.totalFor(direction), exposureDelta)

	if err := e.recomputeMark(); err != nil {
		e.restore(snap)
		return e.rejected(op, err)
	}

	outbox.Stage(holder, e.cfg.EngineAddress, usdAmount)
	outbox.Stage(e.cfg.EngineAddress, e.admin.FundManager, fee)
	if err := e.commit(snap, outbox); err != nil {
		return e.rejected(op, err)
	}

	e.log.Info().
		Str("holder", string(holder)).
		Str("direction", direction.String()).
		Str("net_amount", net.String()).
		Str("exposure_delta", exposureDelta.String()).
		Str("mark_price", e.markPrice.String()).
		Bool("increase", hasPosition).
		Msg("position increased")

	if hasPosition {
		if e.metrics != nil {
			e.metrics.PositionsIncreased.WithLabelValues(direction.String()).Inc()
		}
		pos := e.positions[holder]
		e.emit(event.PositionIncreased{
			Holder:        string(holder),
			Direction:     direction.String(),
			AddedAmount:   net.String(),
			Fee:           fee.String(),
			EntryPrice:    pos.EntryPrice.String(),
			ExposureDelta: exposureDelta.String(),
			MarkPrice:     e.markPrice.String(),
		})
	} else {
		if e.metrics != nil {
			e.metrics.PositionsOpened.WithLabelValues(direction.String()).Inc()
		}
		e.emit(event.PositionOpened{
			Holder:        string(holder),
			Direction:     direction.String(),
			Collateral:    net.String(),
			Fee:           fee.String(),
			Leverage:      leverage.String(),
			EntryPrice:    entryMark.String(),
			Exposure:      exposureDelta.String(),
			MarkPrice:     e.markPrice.String(),
			PositionCount: len(e.positions),
		})
	}
	return nil
}

// DecreasePosition releases part of a position's exposure back into the
// reserves and pays the freed value out to the holder. No fee is taken.
func (e *PositionEngine) DecreasePosition(ctx context.Context, caller, holder collateral.Address, usdAmount, leverage *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	const op = "decreasePosition"
	if !e.status.allowsReduce() {
		return e.rejected(op, fmt.Errorf("%w: %s", ErrInvalidStatus, e.status))
	}
	if err := e.authorizeFor(caller, holder); err != nil {
		return e.rejected(op, err)
	}
	pos, ok := e.positions[holder]
	if !ok {
		return e.rejected(op, fmt.Errorf("%w: %s", ErrPositionNotFound, holder))
	}
	if usdAmount == nil || usdAmount.Sign() <= 0 {
		return e.rejected(op, fmt.Errorf("%w: usd amount %s", ErrInvalidAmount, usdAmount))
	}
	if leverage == nil || leverage.Sign() <= 0 {
		return e.rejected(op, fmt.Errorf("%w: leverage %s", ErrInvalidLeverage, leverage))
	}
	if err := e.refreshIndexPrice(ctx); err != nil {
		return e.rejected(op, err)
	}

	snap := e.snapshot()
	outbox := collateral.NewOutbox(e.ledger)

	levUsd := new(big.Int).Mul(usdAmount, leverage)
	exposureDelta, err := e.reserves.ExposureDelta(pos.Direction, levUsd, false, e.scale)
	if err != nil {
		return e.rejected(op, fmt.Errorf("%w: %v", ErrInvalidAmount, err))
	}
	if exposureDelta.Cmp(pos.Exposure) > 0 {
		return e.rejected(op, fmt.Errorf("%w: delta %s exceeds exposure %s",
			ErrExcessiveDecrease, exposureDelta, pos.Exposure))
	}
	if err := e.reserves.ApplyReduce(pos.Direction, levUsd, exposureDelta); err != nil {
		return e.rejected(op, fmt.Errorf("%w: %v", ErrInvalidAmount, err))
	}

	pos.Exposure.Sub(pos.Exposure, exposureDelta)
	pos.NotionalUsd.Sub(pos.NotionalUsd, levUsd)
	e.totalFor(pos.Direction).Sub(e.totalFor(pos.Direction), exposureDelta)

	if err := e.recomputeMark(); err != nil {
		e.restore(snap)
		return e.rejected(op, err)
	}

	outbox.Stage(e.cfg.EngineAddress, holder, exposureDelta)
	if err := e.commit(snap, outbox); err != nil {
		return e.rejected(op, err)
	}

	if e.metrics != nil {
		e.metrics.PositionsDecreased.WithLabelValues(pos.Direction.String()).Inc()
	}
	e.log.Info().
		Str("holder", string(holder)).
		Str("direction", pos.Direction.String()).
		Str("exposure_delta", exposureDelta.String()).
		Str("mark_price", e.markPrice.String()).
		Msg("position decreased")
	e.emit(event.PositionDecreased{
		Holder:         string(holder),
		Direction:      pos.Direction.String(),
		RemovedAmount:  levUsd.String(),
		ExposureDelta:  exposureDelta.String(),
		SettlementPaid: exposureDelta.String(),
		MarkPrice:      e.markPrice.String(),
	})
	return nil
}

// ClosePosition settles a holder's position in full: the position's
// exposure is solved back through the invariant, pnl taken against the
// notional, and collateral plus pnl paid out (never below zero).
func (e *PositionEngine) ClosePosition(ctx context.Context, caller, holder collateral.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeLocked(ctx, "closePosition", caller, holder)
}

// TakeProfit is the manager-only close path used by order triggers.
func (e *PositionEngine) TakeProfit(ctx context.Context, caller, holder collateral.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.admin.IsPositionManager(caller) {
		return e.rejected("takeProfit", fmt.Errorf("%w: %s", ErrNotPositionManager, caller))
	}
	return e.closeLocked(ctx, "takeProfit", caller, holder)
}

func (e *PositionEngine) closeLocked(ctx context.Context, op string, caller, holder collateral.Address) error {
	if !e.status.allowsReduce() {
		return e.rejected(op, fmt.Errorf("%w: %s", ErrInvalidStatus, e.status))
	}
	if err := e.authorizeFor(caller, holder); err != nil {
		return e.rejected(op, err)
	}
	pos, ok := e.positions[holder]
	if !ok {
		return e.rejected(op, fmt.Errorf("%w: %s", ErrPositionNotFound, holder))
	}
	if err := e.refreshIndexPrice(ctx); err != nil {
		return e.rejected(op, err)
	}

	snap := e.snapshot()
	outbox := collateral.NewOutbox(e.ledger)

	settlement, err := e.reserves.SettlementValue(pos.Direction, pos.Exposure, e.scale)
	if err != nil {
		return e.rejected(op, fmt.Errorf("%w: %v", ErrInvalidAmount, err))
	}
	pnl := new(big.Int)
	if pos.Direction == vamm.DirectionLong {
		pnl.Sub(settlement, pos.NotionalUsd)
	} else {
		pnl.Sub(pos.NotionalUsd, settlement)
	}
	// A deep-underwater position pays out nothing rather than wrapping
	// through an absolute value.
	payout := fixedpoint.ClampZero(new(big.Int).Add(pos.Collateral, pnl))

	if err := e.reserves.ApplySettle(pos.Direction, settlement, pos.Exposure); err != nil {
		return e.rejected(op, fmt.Errorf("%w: %v", ErrInvalidAmount, err))
	}
	e.totalFor(pos.Direction).Sub(e.totalFor(pos.Direction), pos.Exposure)
	direction := pos.Direction
	notional := fixedpoint.Clone(pos.NotionalUsd)
	delete(e.positions, holder)

	if err := e.recomputeMark(); err != nil {
		e.restore(snap)
		return e.rejected(op, err)
	}

	outbox.Stage(e.cfg.EngineAddress, holder, payout)
	if err := e.commit(snap, outbox); err != nil {
		return e.rejected(op, err)
	}

	if e.metrics != nil {
		e.metrics.PositionsClosed.WithLabelValues(direction.String()).Inc()
	}
	e.log.Info().
		Str("holder", string(holder)).
		Str("direction", direction.String()).
		Str("pnl", pnl.String()).
		Str("payout", payout.String()).
		Msg("position closed")
	e.emit(event.PositionClosed{
		Holder:    string(holder),
		Direction: direction.String(),
		Notional:  notional.String(),
		Pnl:       pnl.String(),
		Payout:    payout.String(),
		MarkPrice: e.markPrice.String(),
	})
	return nil
}

// Liquidate force-closes an under-margined position. Only position
// managers may call it. While the position still has positive equity the
// margin ratio must have fallen below 8.5% of scale; the liquidated
// equity is split 97% to the caller and 3% to the fund manager.
func (e *PositionEngine) Liquidate(ctx context.Context, caller, holder collateral.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	const op = "liquidate"
	if !e.status.allowsReduce() {
		return e.rejected(op, fmt.Errorf("%w: %s", ErrInvalidStatus, e.status))
	}
	if !e.admin.IsPositionManager(caller) {
		return e.rejected(op, fmt.Errorf("%w: %s", ErrNotPositionManager, caller))
	}
	pos, ok := e.positions[holder]
	if !ok {
		return e.rejected(op, fmt.Errorf("%w: %s", ErrPositionNotFound, holder))
	}
	if err := e.refreshIndexPrice(ctx); err != nil {
		return e.rejected(op, err)
	}

	snap := e.snapshot()
	outbox := collateral.NewOutbox(e.ledger)

	settlement, err := e.reserves.SettlementValue(pos.Direction, pos.Exposure, e.scale)
	if err != nil {
		return e.rejected(op, fmt.Errorf("%w: %v", ErrInvalidAmount, err))
	}
	finalValue := new(big.Int)
	if pos.Direction == vamm.DirectionLong {
		finalValue.Sub(settlement, pos.NotionalUsd)
	} else {
		finalValue.Sub(pos.NotionalUsd, settlement)
	}
	finalValue.Add(finalValue, pos.Collateral)

	if finalValue.Sign() > 0 {
		ratio, err := fixedpoint.MulDiv(finalValue, e.scale, pos.NotionalUsd)
		if err != nil {
			return e.rejected(op, err)
		}
		// 8.5% of scale.
		threshold := new(big.Int).Mul(e.scale, big.NewInt(85))
		threshold.Quo(threshold, big.NewInt(1000))
		if ratio.Cmp(threshold) >= 0 {
			return e.rejected(op, fmt.Errorf("%w: ratio %s, threshold %s",
				ErrMarginRatioTooHigh, ratio, threshold))
		}
	}

	if err := e.reserves.ApplySettle(pos.Direction, settlement, pos.Exposure); err != nil {
		return e.rejected(op, fmt.Errorf("%w: %v", ErrInvalidAmount, err))
	}
	e.totalFor(pos.Direction).Sub(e.totalFor(pos.Direction), pos.Exposure)
	direction := pos.Direction
	delete(e.positions, holder)

	if err := e.recomputeMark(); err != nil {
		e.restore(snap)
		return e.rejected(op, err)
	}

	absFinal := fixedpoint.Abs(finalValue)
	fundCut := fixedpoint.PercentOf(absFinal, liquidationFundCutPct)
	callerReward := new(big.Int).Sub(absFinal, fundCut)
	outbox.Stage(e.cfg.EngineAddress, caller, callerReward)
	outbox.Stage(e.cfg.EngineAddress, e.admin.FundManager, fundCut)
	if err := e.commit(snap, outbox); err != nil {
		return e.rejected(op, err)
	}

	if e.metrics != nil {
		e.metrics.PositionsLiquidated.Inc()
	}
	e.log.Info().
		Str("holder", string(holder)).
		Str("liquidator", string(caller)).
		Str("final_value", finalValue.String()).
		Str("caller_reward", callerReward.String()).
		Str("fund_reward", fundCut.String()).
		Msg("position liquidated")
	e.emit(event.PositionLiquidated{
		Holder:       string(holder),
		Liquidator:   string(caller),
		Direction:    direction.String(),
		FinalValue:   finalValue.String(),
		CallerReward: callerReward.String(),
		FundReward:   fundCut.String(),
		MarkPrice:    e.markPrice.String(),
	})
	return nil
}

func (e *PositionEngine) totalFor(d vamm.Direction) *big.Int {
	if d == vamm.DirectionLong {
		return e.totalLong
	}
	return e.totalShort
}
