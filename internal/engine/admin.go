package engine

import (
	"fmt"
	"time"

	"vammengine/internal/collateral"
	"vammengine/internal/event"
	"vammengine/internal/fixedpoint"
	"vammengine/internal/oracle"
)

// ProposeAdmin stages a two-step administrator handover.
func (e *PositionEngine) ProposeAdmin(caller, newAdmin collateral.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.admin.Propose(caller, newAdmin); err != nil {
		return e.rejected("proposeAdmin", err)
	}
	e.log.Info().Str("pending_admin", string(newAdmin)).Msg("administrator proposed")
	return nil
}

// ConfirmAdmin commits a pending handover; only the proposed address may
// call it.
func (e *PositionEngine) ConfirmAdmin(caller collateral.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.admin.Confirm(caller); err != nil {
		return e.rejected("confirmAdmin", err)
	}
	e.log.Info().Str("admin", string(caller)).Msg("administrator confirmed")
	return nil
}

// UpdateStatus moves the engine between Active, CloseOnly, and Paused.
// The NotInitialized state is only ever left through SetVmm.
func (e *PositionEngine) UpdateStatus(caller collateral.Address, status ContractStatus) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.admin.IsAdmin(caller) {
		return e.rejected("updateStatus", fmt.Errorf("%w: %s", ErrNotAdmin, caller))
	}
	if !status.Valid() || status == StatusNotInitialized {
		return e.rejected("updateStatus", fmt.Errorf("%w: status %d", ErrInvalidStatus, status))
	}
	if e.status == StatusNotInitialized {
		return e.rejected("updateStatus", fmt.Errorf("%w: reserves not initialized", ErrInvalidStatus))
	}
	from := e.status
	e.status = status
	e.log.Info().Str("from", from.String()).Str("to", status.String()).Msg("status updated")
	e.emit(event.StatusChanged{From: from.String(), To: status.String(), By: string(caller)})
	return nil
}

// AddPositionManager grants the position-manager role.
func (e *PositionEngine) AddPositionManager(caller, manager collateral.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.admin.IsAdmin(caller) {
		return e.rejected("addPositionManager", fmt.Errorf("%w: %s", ErrNotAdmin, caller))
	}
	e.admin.AddManager(manager)
	e.log.Info().Str("manager", string(manager)).Msg("position manager added")
	return nil
}

// RemovePositionManager revokes the role.
func (e *PositionEngine) RemovePositionManager(caller, manager collateral.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.admin.IsAdmin(caller) {
		return e.rejected("removePositionManager", fmt.Errorf("%w: %s", ErrNotAdmin, caller))
	}
	if err := e.admin.RemoveManager(manager); err != nil {
		return e.rejected("removePositionManager", err)
	}
	e.log.Info().Str("manager", string(manager)).Msg("position manager removed")
	return nil
}

// UpdateFundManager changes the fee and liquidation-cut recipient.
func (e *PositionEngine) UpdateFundManager(caller, fundManager collateral.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.admin.IsAdmin(caller) {
		return e.rejected("updateFundManager", fmt.Errorf("%w: %s", ErrNotAdmin, caller))
	}
	e.admin.FundManager = fundManager
	e.log.Info().Str("fund_manager", string(fundManager)).Msg("fund manager updated")
	return nil
}

// UpdateOracle swaps the index-price source.
func (e *PositionEngine) UpdateOracle(caller collateral.Address, priceOracle oracle.PriceOracle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.admin.IsAdmin(caller) {
		return e.rejected("updateOracle", fmt.Errorf("%w: %s", ErrNotAdmin, caller))
	}
	if priceOracle == nil {
		return e.rejected("updateOracle", fmt.Errorf("%w: nil oracle", ErrInvalidAmount))
	}
	e.oracle = priceOracle
	e.log.Info().Msg("oracle updated")
	return nil
}

// UpdateFundingPeriod changes the distribution cadence. The rate divisor
// is re-derived from the period on the next pass, so rates stay
// consistent with the new cadence. The already scheduled upcoming pass
// keeps its time.
func (e *PositionEngine) UpdateFundingPeriod(caller collateral.Address, period time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.admin.IsAdmin(caller) {
		return e.rejected("updateFundingPeriod", fmt.Errorf("%w: %s", ErrNotAdmin, caller))
	}
	if period <= 0 {
		return e.rejected("updateFundingPeriod", fmt.Errorf("%w: period %s", ErrInvalidAmount, period))
	}
	e.fundingPeriod = period
	e.log.Info().Dur("funding_period", period).Msg("funding period updated")
	return nil
}

// UpdateTransactionFees sets the open/add-margin fee in whole percent.
func (e *PositionEngine) UpdateTransactionFees(caller collateral.Address, pct int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.admin.IsAdmin(caller) {
		return e.rejected("updateTransactionFees", fmt.Errorf("%w: %s", ErrNotAdmin, caller))
	}
	if pct < 0 || pct > 100 {
		return e.rejected("updateTransactionFees", fmt.Errorf("%w: fee %d%%", ErrInvalidAmount, pct))
	}
	e.feePct = pct
	e.log.Info().Int64("fee_pct", pct).Msg("transaction fees updated")
	return nil
}

// UpdateDecimal changes the fixed-point scale. Only permitted before the
// reserves are seeded; after that every stored amount depends on it.
func (e *PositionEngine) UpdateDecimal(caller collateral.Address, decimals int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.admin.IsAdmin(caller) {
		return e.rejected("updateDecimal", fmt.Errorf("%w: %s", ErrNotAdmin, caller))
	}
	if e.status != StatusNotInitialized {
		return e.rejected("updateDecimal", fmt.Errorf("%w: %s", ErrInvalidStatus, e.status))
	}
	if decimals <= 0 || decimals > 18 {
		return e.rejected("updateDecimal", fmt.Errorf("%w: decimals %d", ErrInvalidAmount, decimals))
	}
	e.scale = fixedpoint.Scale(decimals)
	e.log.Info().Int("decimals", decimals).Msg("decimal scale updated")
	return nil
}
