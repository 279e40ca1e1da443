package engine

import (
	"context"
	"fmt"
	"math/big"

	"vammengine/internal/collateral"
	"vammengine/internal/event"
	"vammengine/internal/fixedpoint"
)

// minMarginRatioPct is the floor a position must keep after removing
// margin, in whole percent of scale.
const minMarginRatioPct = 30

// AddMargin tops up a position's collateral without changing exposure.
// The transaction fee applies and goes to the fund manager.
func (e *PositionEngine) AddMargin(ctx context.Context, caller, holder collateral.Address, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	const op = "addMargin"
	if !e.status.allowsOpen() {
		return e.rejected(op, fmt.Errorf("%w: %s", ErrInvalidStatus, e.status))
	}
	if err := e.authorizeFor(caller, holder); err != nil {
		return e.rejected(op, err)
	}
	pos, ok := e.positions[holder]
	if !ok {
		return e.rejected(op, fmt.Errorf("%w: %s", ErrPositionNotFound, holder))
	}
	if amount == nil || amount.Sign() <= 0 {
		return e.rejected(op, fmt.Errorf("%w: amount %s", ErrInvalidAmount, amount))
	}
	if err := e.refreshIndexPrice(ctx); err != nil {
		return e.rejected(op, err)
	}

	snap := e.snapshot()
	outbox := collateral.NewOutbox(e.ledger)

	fee := fixedpoint.PercentOf(amount, e.feePct)
	net := new(big.Int).Sub(amount, fee)
	pos.Collateral.Add(pos.Collateral, net)

	outbox.Stage(holder, e.cfg.EngineAddress, amount)
	outbox.Stage(e.cfg.EngineAddress, e.admin.FundManager, fee)
	if err := e.commit(snap, outbox); err != nil {
		return e.rejected(op, err)
	}

	if e.metrics != nil {
		e.metrics.MarginOps.WithLabelValues("add").Inc()
	}
	e.log.Info().
		Str("holder", string(holder)).
		Str("amount", net.String()).
		Str("collateral", pos.Collateral.String()).
		Msg("margin added")
	e.emit(event.MarginAdded{
		Holder:     string(holder),
		Amount:     net.String(),
		Collateral: pos.Collateral.String(),
	})
	return nil
}

// RemoveMargin withdraws collateral. The position must keep a margin
// ratio strictly above 30% of scale after the removal.
func (e *PositionEngine) RemoveMargin(ctx context.Context, caller, holder collateral.Address, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	const op = "removeMargin"
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
	if amount == nil || amount.Sign() <= 0 {
		return e.rejected(op, fmt.Errorf("%w: amount %s", ErrInvalidAmount, amount))
	}
	if err := e.refreshIndexPrice(ctx); err != nil {
		return e.rejected(op, err)
	}

	remaining := new(big.Int).Sub(pos.Collateral, amount)
	ratio, err := fixedpoint.MulDiv(remaining, e.scale, pos.NotionalUsd)
	if err != nil {
		return e.rejected(op, err)
	}
	floor := fixedpoint.PercentOf(e.scale, minMarginRatioPct)
	if ratio.Cmp(floor) <= 0 {
		return e.rejected(op, fmt.Errorf("%w: ratio %s, floor %s", ErrInsufficientMargin, ratio, floor))
	}

	snap := e.snapshot()
	outbox := collateral.NewOutbox(e.ledger)

	pos.Collateral.Set(remaining)
	outbox.Stage(e.cfg.EngineAddress, holder, amount)
	if err := e.commit(snap, outbox); err != nil {
		return e.rejected(op, err)
	}

	if e.metrics != nil {
		e.metrics.MarginOps.WithLabelValues("remove").Inc()
	}
	e.log.Info().
		Str("holder", string(holder)).
		Str("amount", amount.String()).
		Str("margin_ratio", ratio.String()).
		Msg("margin removed")
	e.emit(event.MarginRemoved{
		Holder:      string(holder),
		Amount:      amount.String(),
		Collateral:  pos.Collateral.String(),
		MarginRatio: ratio.String(),
	})
	return nil
}
