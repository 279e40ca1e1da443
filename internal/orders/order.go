package orders

import (
	"errors"
	"math/big"
	"time"

	"vammengine/internal/collateral"
	"vammengine/internal/fixedpoint"
	"vammengine/internal/vamm"
)

var (
	ErrInvalidOrderID     = errors.New("invalid order id")
	ErrInvalidOrderStatus = errors.New("invalid order status")
	ErrOrderExpired       = errors.New("order expired")
	ErrNotOrderHolder     = errors.New("caller is not the order holder")
	ErrTriggerNotReached  = errors.New("trigger price not reached")
)

// OrderType distinguishes immediate fills from trigger-gated ones.
type OrderType int

const (
	OrderTypeMarket OrderType = iota
	OrderTypeLimit
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeMarket:
		return "Market"
	case OrderTypeLimit:
		return "Limit"
	default:
		return "Unknown"
	}
}

func (t OrderType) Valid() bool {
	return t == OrderTypeMarket || t == OrderTypeLimit
}

// OrderStatus is the order state machine. Pending orders have not opened
// a position yet, Active orders back a live position, Closed is terminal.
type OrderStatus int

const (
	OrderPending OrderStatus = iota
	OrderActive
	OrderClosed
)

func (s OrderStatus) String() string {
	switch s {
	case OrderPending:
		return "Pending"
	case OrderActive:
		return "Active"
	case OrderClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// OrderParams is the caller-supplied part of an order. The optional
// stop-loss and take-profit thresholds are nil when unset; a zero
// Expiration means the order never expires.
type OrderParams struct {
	Type         OrderType
	Direction    vamm.Direction
	TriggerPrice *big.Int
	LimitPrice   *big.Int
	AmountIn     *big.Int
	Leverage     *big.Int
	StopTrigger  *big.Int
	StopLimit    *big.Int
	TakeTrigger  *big.Int
	TakePrice    *big.Int
	Expiration   time.Time
}

// Order is a stored conditional order. Ids are assigned monotonically
// and never reused, even after cancellation.
type Order struct {
	ID     uint64
	Holder collateral.Address

	Type         OrderType
	Direction    vamm.Direction
	TriggerPrice *big.Int
	LimitPrice   *big.Int
	AmountIn     *big.Int
	Leverage     *big.Int
	StopTrigger  *big.Int
	StopLimit    *big.Int
	TakeTrigger  *big.Int
	TakePrice    *big.Int
	Expiration   time.Time

	Status OrderStatus
}

func (o *Order) Clone() *Order {
	c := *o
	c.TriggerPrice = fixedpoint.Clone(o.TriggerPrice)
	c.LimitPrice = fixedpoint.Clone(o.LimitPrice)
	c.AmountIn = fixedpoint.Clone(o.AmountIn)
	c.Leverage = fixedpoint.Clone(o.Leverage)
	c.StopTrigger = cloneOpt(o.StopTrigger)
	c.StopLimit = cloneOpt(o.StopLimit)
	c.TakeTrigger = cloneOpt(o.TakeTrigger)
	c.TakePrice = cloneOpt(o.TakePrice)
	return &c
}

// expiredAt reports whether the order's expiration has passed. Orders
// with a zero expiration never expire.
func (o *Order) expiredAt(now time.Time) bool {
	return !o.Expiration.IsZero() && now.After(o.Expiration)
}

func cloneOpt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
