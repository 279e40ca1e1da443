package collateral

import (
	"math/big"

	"vammengine/internal/fixedpoint"
)

// pendingTransfer is one staged ledger movement.
type pendingTransfer struct {
	from, to Address
	amount   *big.Int
}

// Outbox stages transfers while an operation mutates engine state and
// flushes them at the end. If any staged transfer fails during Flush the
// caller restores its pre-operation snapshot, so operations remain
// all-or-nothing.
type Outbox struct {
	ledger  Ledger
	pending []pendingTransfer
}

func NewOutbox(ledger Ledger) *Outbox {
	return &Outbox{ledger: ledger}
}

// Stage queues a transfer. Amounts are copied so the caller may keep
// mutating its working values.
func (o *Outbox) Stage(from, to Address, amount *big.Int) {
	if amount == nil || amount.Sign() == 0 {
		return
	}
	o.pending = append(o.pending, pendingTransfer{
		from:   from,
		to:     to,
		amount: fixedpoint.Clone(amount),
	})
}

// Flush executes staged transfers in order. Transfers already committed
// before a failure are compensated with reverse transfers, then the error
// is returned.
func (o *Outbox) Flush() error {
	for i, p := range o.pending {
		if err := o.ledger.Transfer(p.from, p.to, p.amount); err != nil {
			for j := i - 1; j >= 0; j-- {
				done := o.pending[j]
				// Reverse of a committed forward transfer cannot fail:
				// the receiving account still holds the amount.
				_ = o.ledger.Transfer(done.to, done.from, done.amount)
			}
			o.pending = o.pending[:0]
			return err
		}
	}
	o.pending = o.pending[:0]
	return nil
}

// Discard drops staged transfers without executing them.
func (o *Outbox) Discard() {
	o.pending = o.pending[:0]
}

// Len reports how many transfers are staged.
func (o *Outbox) Len() int {
	return len(o.pending)
}
