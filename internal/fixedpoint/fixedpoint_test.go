package fixedpoint_test

import (
	"math/big"
	"testing"

	"vammengine/internal/fixedpoint"
)

func TestScale(t *testing.T) {
	if got := fixedpoint.Scale(6); got.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Errorf("Scale(6) = %s, want 1000000", got)
	}
	if got := fixedpoint.Scale(0); got.Cmp(big.NewInt(1)) != 0 {
		t.Errorf("Scale(0) = %s, want 1", got)
	}
}

func TestDiv_TruncatesTowardZero(t *testing.T) {
	cases := []struct {
		a, b, want int64
	}{
		{7, 2, 3},
		{-7, 2, -3}, // toward zero, not floor
		{7, -2, -3},
		{-7, -2, 3},
		{0, 5, 0},
	}
	for _, c := range cases {
		got, err := fixedpoint.Div(big.NewInt(c.a), big.NewInt(c.b))
		if err != nil {
			t.Fatalf("Div(%d, %d): %v", c.a, c.b, err)
		}
		if got.Int64() != c.want {
			t.Errorf("Div(%d, %d) = %s, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestDiv_ZeroDenominator(t *testing.T) {
	if _, err := fixedpoint.Div(big.NewInt(1), big.NewInt(0)); err != fixedpoint.ErrDivisionByZero {
		t.Errorf("expected ErrDivisionByZero, got %v", err)
	}
	if _, err := fixedpoint.MulDiv(big.NewInt(1), big.NewInt(1), big.NewInt(0)); err != fixedpoint.ErrDivisionByZero {
		t.Errorf("expected ErrDivisionByZero, got %v", err)
	}
}

func TestMulDiv_NoIntermediateOverflow(t *testing.T) {
	// 10^14 * 10^14 overflows int64 but not the big.Int intermediate.
	a := new(big.Int).Exp(big.NewInt(10), big.NewInt(14), nil)
	got, err := fixedpoint.MulDiv(a, a, big.NewInt(1_000_000))
	if err != nil {
		t.Fatal(err)
	}
	want := new(big.Int).Exp(big.NewInt(10), big.NewInt(22), nil)
	if got.Cmp(want) != 0 {
		t.Errorf("MulDiv = %s, want %s", got, want)
	}
}

func TestClampZero(t *testing.T) {
	if got := fixedpoint.ClampZero(big.NewInt(-5)); got.Sign() != 0 {
		t.Errorf("ClampZero(-5) = %s, want 0", got)
	}
	if got := fixedpoint.ClampZero(big.NewInt(5)); got.Int64() != 5 {
		t.Errorf("ClampZero(5) = %s, want 5", got)
	}
}

func TestPercentOf(t *testing.T) {
	got := fixedpoint.PercentOf(big.NewInt(2_000_000_000), 2)
	if got.Int64() != 40_000_000 {
		t.Errorf("PercentOf(2e9, 2) = %s, want 40000000", got)
	}
}

func TestClone_Independent(t *testing.T) {
	a := big.NewInt(42)
	b := fixedpoint.Clone(a)
	b.SetInt64(7)
	if a.Int64() != 42 {
		t.Error("Clone must not alias the source")
	}
	if fixedpoint.Clone(nil).Sign() != 0 {
		t.Error("Clone(nil) should be zero")
	}
}
