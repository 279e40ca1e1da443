package orders

import (
	"fmt"

	"vammengine/internal/collateral"
	"vammengine/internal/engine"
	"vammengine/internal/event"
)

// ProposeAdmin stages a two-step administrator handover.
func (o *OrderEngine) ProposeAdmin(caller, newAdmin collateral.Address) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.admin.Propose(caller, newAdmin); err != nil {
		return o.rejected("proposeAdmin", err)
	}
	o.log.Info().Str("pending_admin", string(newAdmin)).Msg("administrator proposed")
	return nil
}

// ConfirmAdmin commits a pending handover; only the proposed address may
// call it.
func (o *OrderEngine) ConfirmAdmin(caller collateral.Address) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.admin.Confirm(caller); err != nil {
		return o.rejected("confirmAdmin", err)
	}
	o.log.Info().Str("admin", string(caller)).Msg("administrator confirmed")
	return nil
}

// UpdateStatus moves the order engine between Active, CloseOnly, and
// Paused. Anything but Active freezes the whole order surface.
func (o *OrderEngine) UpdateStatus(caller collateral.Address, status engine.ContractStatus) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.admin.IsAdmin(caller) {
		return o.rejected("updateStatus", fmt.Errorf("%w: %s", engine.ErrNotAdmin, caller))
	}
	if !status.Valid() || status == engine.StatusNotInitialized {
		return o.rejected("updateStatus", fmt.Errorf("%w: status %d", engine.ErrInvalidStatus, status))
	}
	from := o.status
	o.status = status
	o.log.Info().Str("from", from.String()).Str("to", status.String()).Msg("status updated")
	o.emit(event.StatusChanged{From: from.String(), To: status.String(), By: string(caller)})
	return nil
}

// AddPositionManager grants the keeper role for trigger execution.
func (o *OrderEngine) AddPositionManager(caller, manager collateral.Address) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.admin.IsAdmin(caller) {
		return o.rejected("addPositionManager", fmt.Errorf("%w: %s", engine.ErrNotAdmin, caller))
	}
	o.admin.AddManager(manager)
	o.log.Info().Str("manager", string(manager)).Msg("position manager added")
	return nil
}

// RemovePositionManager revokes the keeper role.
func (o *OrderEngine) RemovePositionManager(caller, manager collateral.Address) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.admin.IsAdmin(caller) {
		return o.rejected("removePositionManager", fmt.Errorf("%w: %s", engine.ErrNotAdmin, caller))
	}
	if err := o.admin.RemoveManager(manager); err != nil {
		return o.rejected("removePositionManager", err)
	}
	o.log.Info().Str("manager", string(manager)).Msg("position manager removed")
	return nil
}

// UpdateFundManager changes the recorded fund manager.
func (o *OrderEngine) UpdateFundManager(caller, fundManager collateral.Address) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.admin.IsAdmin(caller) {
		return o.rejected("updateFundManager", fmt.Errorf("%w: %s", engine.ErrNotAdmin, caller))
	}
	o.admin.FundManager = fundManager
	o.log.Info().Str("fund_manager", string(fundManager)).Msg("fund manager updated")
	return nil
}
