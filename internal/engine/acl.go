package engine

import (
	"fmt"

	"vammengine/internal/collateral"
)

// AdministrationPanel holds the role state: a single administrator with
// two-step handover, a set of position managers, and the fund manager
// that collects fees.
type AdministrationPanel struct {
	Administrator        collateral.Address
	PendingAdministrator *collateral.Address
	PositionManagers     map[collateral.Address]struct{}
	FundManager          collateral.Address
}

func NewAdministrationPanel(admin, fundManager collateral.Address) *AdministrationPanel {
	return &AdministrationPanel{
		Administrator:    admin,
		PositionManagers: make(map[collateral.Address]struct{}),
		FundManager:      fundManager,
	}
}

func (a *AdministrationPanel) IsAdmin(caller collateral.Address) bool {
	return caller == a.Administrator
}

func (a *AdministrationPanel) IsPositionManager(caller collateral.Address) bool {
	_, ok := a.PositionManagers[caller]
	return ok
}

// Propose stages a new administrator. Only the current administrator may
// propose; the handover commits when the proposed address confirms.
func (a *AdministrationPanel) Propose(caller, newAdmin collateral.Address) error {
	if !a.IsAdmin(caller) {
		return fmt.Errorf("%w: %s", ErrNotAdmin, caller)
	}
	pending := newAdmin
	a.PendingAdministrator = &pending
	return nil
}

// Confirm commits a pending handover. Only the exact proposed address may
// confirm.
func (a *AdministrationPanel) Confirm(caller collateral.Address) error {
	if a.PendingAdministrator == nil {
		return fmt.Errorf("%w: no pending administrator", ErrNotAuthorized)
	}
	if caller != *a.PendingAdministrator {
		return fmt.Errorf("%w: %s is not the pending administrator", ErrNotAuthorized, caller)
	}
	a.Administrator = *a.PendingAdministrator
	a.PendingAdministrator = nil
	return nil
}

// AddManager grants the position-manager role.
func (a *AdministrationPanel) AddManager(manager collateral.Address) {
	a.PositionManagers[manager] = struct{}{}
}

// RemoveManager revokes the role; unknown managers fail.
func (a *AdministrationPanel) RemoveManager(manager collateral.Address) error {
	if _, ok := a.PositionManagers[manager]; !ok {
		return fmt.Errorf("%w: %s", ErrNotPositionManager, manager)
	}
	delete(a.PositionManagers, manager)
	return nil
}

// clone deep-copies the panel for rollback snapshots.
func (a *AdministrationPanel) clone() *AdministrationPanel {
	c := &AdministrationPanel{
		Administrator:    a.Administrator,
		PositionManagers: make(map[collateral.Address]struct{}, len(a.PositionManagers)),
		FundManager:      a.FundManager,
	}
	if a.PendingAdministrator != nil {
		pending := *a.PendingAdministrator
		c.PendingAdministrator = &pending
	}
	for m := range a.PositionManagers {
		c.PositionManagers[m] = struct{}{}
	}
	return c
}
