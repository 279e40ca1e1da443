package collateral

import (
	"errors"
	"math/big"
	"testing"
)

func TestTransferMovesBalance(t *testing.T) {
	l := NewJournalLedger()
	if err := l.Mint("alice", big.NewInt(1_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := l.Transfer("alice", "bob", big.NewInt(400)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := l.BalanceOf("alice"); got.Cmp(big.NewInt(600)) != 0 {
		t.Errorf("alice balance = %s, want 600", got)
	}
	if got := l.BalanceOf("bob"); got.Cmp(big.NewInt(400)) != 0 {
		t.Errorf("bob balance = %s, want 400", got)
	}
}

func TestTransferInsufficientBalance(t *testing.T) {
	l := NewJournalLedger()
	if err := l.Mint("alice", big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	err := l.Transfer("alice", "bob", big.NewInt(101))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	if got := l.BalanceOf("alice"); got.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("failed transfer mutated sender: %s", got)
	}
}

func TestTransferRejectsNegative(t *testing.T) {
	l := NewJournalLedger()
	if err := l.Transfer("alice", "bob", big.NewInt(-1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("err = %v, want ErrInvalidAmount", err)
	}
}

func TestZeroAmountIsNoop(t *testing.T) {
	l := NewJournalLedger()
	if err := l.Transfer("alice", "bob", big.NewInt(0)); err != nil {
		t.Fatalf("zero transfer: %v", err)
	}
	if l.JournalLen() != 0 {
		t.Errorf("zero transfer wrote a journal entry")
	}
}

func TestLedgerStaysZeroSum(t *testing.T) {
	l := NewJournalLedger()
	l.Mint("alice", big.NewInt(5_000))
	l.Mint("bob", big.NewInt(2_500))
	l.Transfer("alice", "engine", big.NewInt(1_200))
	l.Transfer("bob", "engine", big.NewInt(700))
	l.Transfer("engine", "fund", big.NewInt(38))
	if got := l.GlobalBalance(); got.Sign() != 0 {
		t.Errorf("global balance = %s, want 0", got)
	}
}

func TestOutboxFlushInOrder(t *testing.T) {
	l := NewJournalLedger()
	l.Mint("alice", big.NewInt(100))

	o := NewOutbox(l)
	o.Stage("alice", "engine", big.NewInt(100))
	o.Stage("engine", "fund", big.NewInt(2))

	// Nothing moved while staged.
	if got := l.BalanceOf("engine"); got.Sign() != 0 {
		t.Fatalf("engine balance before flush = %s", got)
	}
	if err := o.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := l.BalanceOf("fund"); got.Cmp(big.NewInt(2)) != 0 {
		t.Errorf("fund balance = %s, want 2", got)
	}
	if o.Len() != 0 {
		t.Errorf("outbox not drained after flush")
	}
}

func TestOutboxFlushCompensatesOnFailure(t *testing.T) {
	l := NewJournalLedger()
	l.Mint("alice", big.NewInt(100))

	o := NewOutbox(l)
	o.Stage("alice", "engine", big.NewInt(60))
	o.Stage("alice", "engine", big.NewInt(60)) // overdraws

	err := o.Flush()
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	// First leg must have been reversed.
	if got := l.BalanceOf("alice"); got.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("alice balance = %s, want 100 after compensation", got)
	}
	if got := l.BalanceOf("engine"); got.Sign() != 0 {
		t.Errorf("engine balance = %s, want 0 after compensation", got)
	}
}

func TestOutboxDiscard(t *testing.T) {
	l := NewJournalLedger()
	l.Mint("alice", big.NewInt(100))

	o := NewOutbox(l)
	o.Stage("alice", "bob", big.NewInt(10))
	o.Discard()
	if err := o.Flush(); err != nil {
		t.Fatalf("flush after discard: %v", err)
	}
	if got := l.BalanceOf("bob"); got.Sign() != 0 {
		t.Errorf("discarded transfer executed: bob = %s", got)
	}
}
