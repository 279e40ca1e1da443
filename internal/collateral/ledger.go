// Package collateral implements the token ledger used for collateral
// custody. Balances are tracked double-entry: every transfer is a journal
// moving a positive amount from one account to another, so the sum over
// all accounts (including the external boundary) is always zero.
package collateral

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"vammengine/internal/fixedpoint"
)

// Address identifies a ledger account (a position holder, an engine's
// custody account, the fund manager, ...).
type Address string

// ExternalDeposits is the boundary account credited when tokens enter the
// ledger. It is the only account allowed to go negative.
const ExternalDeposits Address = "external:deposits"

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("invalid transfer amount")
)

// Ledger is the transfer interface the engines depend on.
type Ledger interface {
	Transfer(from, to Address, amount *big.Int) error
	BalanceOf(addr Address) *big.Int
}

// Journal records one committed transfer.
type Journal struct {
	JournalID uuid.UUID
	Debit     Address // receives the amount
	Credit    Address // gives the amount
	Amount    *big.Int
	Timestamp time.Time
}

// JournalLedger is the in-process Ledger implementation.
type JournalLedger struct {
	mu       sync.Mutex
	balances map[Address]*big.Int
	journal  []Journal
}

func NewJournalLedger() *JournalLedger {
	return &JournalLedger{
		balances: make(map[Address]*big.Int),
	}
}

// Mint credits an account from the external boundary. Used by tests and
// by deposit plumbing; the boundary account goes negative to keep the
// ledger zero-sum.
func (l *JournalLedger) Mint(to Address, amount *big.Int) error {
	return l.Transfer(ExternalDeposits, to, amount)
}

// Transfer moves amount from one account to another. Zero-amount
// transfers are committed as no-ops without a journal entry; negative
// amounts are rejected. A non-boundary sender must hold the full amount.
func (l *JournalLedger) Transfer(from, to Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if from != ExternalDeposits {
		have := l.balance(from)
		if have.Cmp(amount) < 0 {
			return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from, have, amount)
		}
	}

	l.balance(from).Sub(l.balance(from), amount)
	l.balance(to).Add(l.balance(to), amount)
	l.journal = append(l.journal, Journal{
		JournalID: uuid.New(),
		Debit:     to,
		Credit:    from,
		Amount:    fixedpoint.Clone(amount),
		Timestamp: time.Now(),
	})
	return nil
}

// BalanceOf returns a copy of the account balance (zero if unknown).
func (l *JournalLedger) BalanceOf(addr Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fixedpoint.Clone(l.balances[addr])
}

// GlobalBalance sums every account. Zero-sum by construction; exposed so
// tests can verify it.
func (l *JournalLedger) GlobalBalance() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := new(big.Int)
	for _, b := range l.balances {
		total.Add(total, b)
	}
	return total
}

// JournalLen returns the number of committed journal entries.
func (l *JournalLedger) JournalLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.journal)
}

// Journals returns a copy of the committed journal.
func (l *JournalLedger) Journals() []Journal {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Journal, len(l.journal))
	copy(out, l.journal)
	return out
}

// balance returns the live balance entry, creating it at zero. Caller
// holds the lock.
func (l *JournalLedger) balance(addr Address) *big.Int {
	b, ok := l.balances[addr]
	if !ok {
		b = new(big.Int)
		l.balances[addr] = b
	}
	return b
}
