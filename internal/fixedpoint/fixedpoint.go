package fixedpoint

import (
	"errors"
	"math/big"
)

// ErrDivisionByZero is returned by any division helper whose denominator is zero.
var ErrDivisionByZero = errors.New("division by zero")

// DefaultDecimals is the default precision (10^6 scale).
const DefaultDecimals = 6

// Scale returns 10^decimals as a big.Int.
func Scale(decimals int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

// Mul returns a * b in a fresh big.Int.
func Mul(a, b *big.Int) *big.Int {
	return new(big.Int).Mul(a, b)
}

// Div returns a / b truncated toward zero. All divisions in the reserve
// math truncate; fractional dust stays in the reserves.
func Div(a, b *big.Int) (*big.Int, error) {
	if b.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	return new(big.Int).Quo(a, b), nil
}

// MulDiv returns (a * b) / den truncated toward zero, keeping the
// intermediate product at arbitrary precision.
func MulDiv(a, b, den *big.Int) (*big.Int, error) {
	if den.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	prod := new(big.Int).Mul(a, b)
	return prod.Quo(prod, den), nil
}

// Abs returns |a| in a fresh big.Int.
func Abs(a *big.Int) *big.Int {
	return new(big.Int).Abs(a)
}

// Clone returns a copy of a, or a fresh zero when a is nil.
func Clone(a *big.Int) *big.Int {
	if a == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a)
}

// ClampZero returns a when positive, otherwise zero. Used for payout
// amounts that must never go negative.
func ClampZero(a *big.Int) *big.Int {
	if a.Sign() < 0 {
		return new(big.Int)
	}
	return Clone(a)
}

// PercentOf returns amount * pct / 100 truncated toward zero. Fees and
// liquidation splits are expressed in whole percent.
func PercentOf(amount *big.Int, pct int64) *big.Int {
	out := new(big.Int).Mul(amount, big.NewInt(pct))
	return out.Quo(out, big.NewInt(100))
}
