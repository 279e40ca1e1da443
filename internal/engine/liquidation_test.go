package engine

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"vammengine/internal/fixedpoint"
	"vammengine/internal/vamm"
)

func TestLiquidate_ManagerOnly(t *testing.T) {
	f := newFixture(t)
	mustOpen(t, f, aliceAddr, vamm.DirectionLong, 2_000_000_000, 2)

	err := f.engine.Liquidate(context.Background(), bobAddr, aliceAddr)
	if !errors.Is(err, ErrNotPositionManager) {
		t.Errorf("err = %v, want ErrNotPositionManager", err)
	}
}

func TestLiquidate_HealthyPositionRefused(t *testing.T) {
	f := newFixture(t)
	mustOpen(t, f, aliceAddr, vamm.DirectionLong, 2_000_000_000, 2)

	// Fresh position: margin ratio is ~50% of scale, far above 8.5%.
	err := f.engine.Liquidate(context.Background(), managerAddr, aliceAddr)
	if !errors.Is(err, ErrMarginRatioTooHigh) {
		t.Errorf("err = %v, want ErrMarginRatioTooHigh", err)
	}
	if _, err := f.engine.PositionData(aliceAddr); err != nil {
		t.Errorf("refused liquidation removed the position: %v", err)
	}
}

func TestLiquidate_UnderwaterPosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mustOpen(t, f, aliceAddr, vamm.DirectionLong, 2_000_000_000, 2)

	// A large short crashes the mark price; alice's long settlement
	// value collapses below her notional and her equity goes negative.
	mustOpen(t, f, bobAddr, vamm.DirectionShort, 150_000_000_000_000, 2)

	fundBefore := f.ledger.BalanceOf(fundAddr)
	callerBefore := f.ledger.BalanceOf(managerAddr)

	if err := f.engine.Liquidate(ctx, managerAddr, aliceAddr); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	if _, err := f.engine.PositionData(aliceAddr); !errors.Is(err, ErrPositionNotFound) {
		t.Errorf("position survives liquidation: %v", err)
	}
	totalLong, _ := f.engine.AggregateExposure()
	if totalLong.Sign() != 0 {
		t.Errorf("totalLong after liquidation = %s, want 0", totalLong)
	}

	fundDelta := new(big.Int).Sub(f.ledger.BalanceOf(fundAddr), fundBefore)
	callerDelta := new(big.Int).Sub(f.ledger.BalanceOf(managerAddr), callerBefore)
	if callerDelta.Sign() <= 0 || fundDelta.Sign() <= 0 {
		t.Fatalf("rewards: caller %s, fund %s, want both positive", callerDelta, fundDelta)
	}

	// The split is 97/3 of |finalValue|: fund cut is 3% of the total.
	total := new(big.Int).Add(callerDelta, fundDelta)
	wantFund := fixedpoint.PercentOf(total, 3)
	diff := new(big.Int).Sub(fundDelta, wantFund)
	diff.Abs(diff)
	if diff.Cmp(big.NewInt(1)) > 0 {
		t.Errorf("fund cut = %s, want 3%% of %s = %s", fundDelta, total, wantFund)
	}

	if got := f.ledger.GlobalBalance(); got.Sign() != 0 {
		t.Errorf("ledger out of balance after liquidation: %s", got)
	}
}

func TestTakeProfit_ManagerClosesPosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mustOpen(t, f, aliceAddr, vamm.DirectionLong, 2_000_000_000, 2)

	if err := f.engine.TakeProfit(ctx, aliceAddr, aliceAddr); !errors.Is(err, ErrNotPositionManager) {
		t.Errorf("takeProfit by holder err = %v, want ErrNotPositionManager", err)
	}

	balanceBefore := f.ledger.BalanceOf(aliceAddr)
	if err := f.engine.TakeProfit(ctx, managerAddr, aliceAddr); err != nil {
		t.Fatalf("takeProfit: %v", err)
	}
	if _, err := f.engine.PositionData(aliceAddr); !errors.Is(err, ErrPositionNotFound) {
		t.Errorf("takeProfit left the position open: %v", err)
	}
	if f.ledger.BalanceOf(aliceAddr).Cmp(balanceBefore) <= 0 {
		t.Errorf("takeProfit paid nothing out")
	}
}
