// Package orders implements the conditional-order state machine. Orders
// are triggers that re-invoke the position engine, not an order book:
// the order engine holds the position engine behind a client interface,
// reads its price views to evaluate triggers, and calls its position
// operations when a trigger fires.
package orders

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"vammengine/internal/collateral"
	"vammengine/internal/engine"
	"vammengine/internal/event"
	"vammengine/internal/fixedpoint"
	"vammengine/internal/observability"
	"vammengine/internal/vamm"
)

// EngineClient is the position-engine surface the order engine consumes.
// *engine.PositionEngine satisfies it directly; the indirection keeps the
// order engine free of shared mutable state.
type EngineClient interface {
	IndexAndMarkPrice() engine.PriceView
	IncreasePosition(ctx context.Context, caller, holder collateral.Address, direction vamm.Direction, usdAmount, leverage *big.Int) error
	DecreasePosition(ctx context.Context, caller, holder collateral.Address, usdAmount, leverage *big.Int) error
	ClosePosition(ctx context.Context, caller, holder collateral.Address) error
	TakeProfit(ctx context.Context, caller, holder collateral.Address) error
	AddMargin(ctx context.Context, caller, holder collateral.Address, amount *big.Int) error
	RemoveMargin(ctx context.Context, caller, holder collateral.Address, amount *big.Int) error
}

var _ EngineClient = (*engine.PositionEngine)(nil)

// Config carries the order engine's construction parameters.
type Config struct {
	// SelfAddress identifies the order engine when it calls the position
	// engine. It must be registered there as a position manager.
	SelfAddress   collateral.Address
	Administrator collateral.Address
	FundManager   collateral.Address
}

// OrderEngine owns the order map. All exported methods are safe for
// concurrent use.
type OrderEngine struct {
	mu  sync.Mutex
	log zerolog.Logger

	cfg     Config
	metrics *observability.Metrics
	client  EngineClient
	bus     *event.Bus
	nowFn   func() time.Time

	status engine.ContractStatus
	admin  *engine.AdministrationPanel

	orders map[uint64]*Order
	nextID uint64

	seq int64
}

// NewOrderEngine builds an order engine in Active status. Unlike the
// position engine there is no reserve seeding step, so the engine is
// usable immediately. The metrics handle may be nil.
func NewOrderEngine(
	cfg Config,
	client EngineClient,
	bus *event.Bus,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *OrderEngine {
	return &OrderEngine{
		log:     log,
		cfg:     cfg,
		metrics: metrics,
		client:  client,
		bus:     bus,
		nowFn:   time.Now,
		status:  engine.StatusActive,
		admin:   engine.NewAdministrationPanel(cfg.Administrator, cfg.FundManager),
		orders:  make(map[uint64]*Order),
		nextID:  1,
	}
}

// SetClock overrides the engine's time source. Test hook.
func (o *OrderEngine) SetClock(now func() time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nowFn = now
}

// CreateOrder stores a new order for the caller. Market orders with a
// zero trigger price open their position immediately and are stored
// Active; everything else is stored Pending until a trigger fires. The
// assigned id is returned.
func (o *OrderEngine) CreateOrder(ctx context.Context, caller, holder collateral.Address, params OrderParams) (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if caller != holder {
		return 0, o.rejected("createOrder", fmt.Errorf("%w: %s for %s", ErrNotOrderHolder, caller, holder))
	}
	if o.status != engine.StatusActive {
		return 0, o.rejected("createOrder", fmt.Errorf("%w: %s", engine.ErrInvalidStatus, o.status))
	}
	if err := validateParams(params); err != nil {
		return 0, o.rejected("createOrder", err)
	}
	now := o.nowFn()
	if !params.Expiration.IsZero() && now.After(params.Expiration) {
		return 0, o.rejected("createOrder", fmt.Errorf("%w: expiration %s already passed", ErrOrderExpired, params.Expiration))
	}

	ord := &Order{
		ID:           o.nextID,
		Holder:       holder,
		Type:         params.Type,
		Direction:    params.Direction,
		TriggerPrice: fixedpoint.Clone(params.TriggerPrice),
		LimitPrice:   fixedpoint.Clone(params.LimitPrice),
		AmountIn:     fixedpoint.Clone(params.AmountIn),
		Leverage:     fixedpoint.Clone(params.Leverage),
		StopTrigger:  cloneOpt(params.StopTrigger),
		StopLimit:    cloneOpt(params.StopLimit),
		TakeTrigger:  cloneOpt(params.TakeTrigger),
		TakePrice:    cloneOpt(params.TakePrice),
		Expiration:   params.Expiration,
		Status:       OrderPending,
	}

	immediate := ord.Type == OrderTypeMarket && ord.TriggerPrice.Sign() == 0
	if immediate {
		err := o.client.IncreasePosition(ctx, o.cfg.SelfAddress, holder, ord.Direction, ord.AmountIn, ord.Leverage)
		if err != nil {
			return 0, o.rejected("createOrder", err)
		}
		ord.Status = OrderActive
	}

	o.orders[ord.ID] = ord
	o.nextID++

	if o.metrics != nil {
		o.metrics.OrdersCreated.WithLabelValues(ord.Type.String()).Inc()
	}
	o.emit(event.OrderCreated{
		OrderID:    ord.ID,
		Holder:     string(ord.Holder),
		Direction:  ord.Direction.String(),
		Amount:     ord.AmountIn.String(),
		Leverage:   ord.Leverage.String(),
		StopPrice:  optString(ord.StopTrigger),
		TakePrice:  optString(ord.TakeTrigger),
		Expiration: expirationString(ord.Expiration),
	})
	if immediate {
		o.emit(event.OrderActivated{OrderID: ord.ID, Holder: string(ord.Holder)})
	}
	o.log.Info().
		Uint64("order_id", ord.ID).
		Str("holder", string(ord.Holder)).
		Str("type", ord.Type.String()).
		Str("status", ord.Status.String()).
		Msg("order created")
	return ord.ID, nil
}

// UpdatePendingOrder replaces the parameters of an order that has not
// opened a position yet. Holder only.
func (o *OrderEngine) UpdatePendingOrder(ctx context.Context, caller collateral.Address, id uint64, params OrderParams) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	ord, err := o.mutableOrder("updatePendingOrder", caller, id)
	if err != nil {
		return err
	}
	if ord.Status != OrderPending {
		return o.rejected("updatePendingOrder", fmt.Errorf("%w: order %d is %s", ErrInvalidOrderStatus, id, ord.Status))
	}
	if err := validateParams(params); err != nil {
		return o.rejected("updatePendingOrder", err)
	}

	ord.Type = params.Type
	ord.Direction = params.Direction
	ord.TriggerPrice = fixedpoint.Clone(params.TriggerPrice)
	ord.LimitPrice = fixedpoint.Clone(params.LimitPrice)
	ord.AmountIn = fixedpoint.Clone(params.AmountIn)
	ord.Leverage = fixedpoint.Clone(params.Leverage)
	ord.StopTrigger = cloneOpt(params.StopTrigger)
	ord.StopLimit = cloneOpt(params.StopLimit)
	ord.TakeTrigger = cloneOpt(params.TakeTrigger)
	ord.TakePrice = cloneOpt(params.TakePrice)
	ord.Expiration = params.Expiration
	return nil
}

// IncreaseActiveOrder adds to the position behind an active order.
func (o *OrderEngine) IncreaseActiveOrder(ctx context.Context, caller collateral.Address, id uint64, usdAmount, leverage *big.Int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	ord, err := o.liveOrder("increaseActiveOrder", caller, id)
	if err != nil {
		return err
	}
	if err := o.client.IncreasePosition(ctx, o.cfg.SelfAddress, ord.Holder, ord.Direction, usdAmount, leverage); err != nil {
		return o.rejected("increaseActiveOrder", err)
	}
	ord.AmountIn.Add(ord.AmountIn, usdAmount)
	return nil
}

// DecreaseActiveOrder partially unwinds the position behind an active
// order.
func (o *OrderEngine) DecreaseActiveOrder(ctx context.Context, caller collateral.Address, id uint64, usdAmount, leverage *big.Int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	ord, err := o.liveOrder("decreaseActiveOrder", caller, id)
	if err != nil {
		return err
	}
	if err := o.client.DecreasePosition(ctx, o.cfg.SelfAddress, ord.Holder, usdAmount, leverage); err != nil {
		return o.rejected("decreaseActiveOrder", err)
	}
	ord.AmountIn = fixedpoint.ClampZero(ord.AmountIn.Sub(ord.AmountIn, usdAmount))
	return nil
}

// ExecuteAddMargin tops up the margin of the position behind an active
// order.
func (o *OrderEngine) ExecuteAddMargin(ctx context.Context, caller collateral.Address, id uint64, amount *big.Int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	ord, err := o.liveOrder("executeAddMargin", caller, id)
	if err != nil {
		return err
	}
	if err := o.client.AddMargin(ctx, o.cfg.SelfAddress, ord.Holder, amount); err != nil {
		return o.rejected("executeAddMargin", err)
	}
	return nil
}

// ExecuteRemoveMargin withdraws margin from the position behind an
// active order.
func (o *OrderEngine) ExecuteRemoveMargin(ctx context.Context, caller collateral.Address, id uint64, amount *big.Int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	ord, err := o.liveOrder("executeRemoveMargin", caller, id)
	if err != nil {
		return err
	}
	if err := o.client.RemoveMargin(ctx, o.cfg.SelfAddress, ord.Holder, amount); err != nil {
		return o.rejected("executeRemoveMargin", err)
	}
	return nil
}

// CancelOrder removes a non-Closed order. The holder or a position
// manager may cancel; cancelling does not touch any open position.
func (o *OrderEngine) CancelOrder(ctx context.Context, caller collateral.Address, id uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.status != engine.StatusActive {
		return o.rejected("cancelOrder", fmt.Errorf("%w: %s", engine.ErrInvalidStatus, o.status))
	}
	ord, ok := o.orders[id]
	if !ok {
		return o.rejected("cancelOrder", fmt.Errorf("%w: %d", ErrInvalidOrderID, id))
	}
	if caller != ord.Holder && !o.admin.IsPositionManager(caller) {
		return o.rejected("cancelOrder", fmt.Errorf("%w: %s", ErrNotOrderHolder, caller))
	}
	if ord.Status == OrderClosed {
		return o.rejected("cancelOrder", fmt.Errorf("%w: order %d already closed", ErrInvalidOrderStatus, id))
	}

	delete(o.orders, id)
	if ord.expiredAt(o.nowFn()) {
		if o.metrics != nil {
			o.metrics.OrdersClosed.WithLabelValues("expired").Inc()
		}
		o.emit(event.OrderExpired{OrderID: id, Holder: string(ord.Holder), Refunded: "0"})
	} else {
		if o.metrics != nil {
			o.metrics.OrdersClosed.WithLabelValues("cancelled").Inc()
		}
		o.emit(event.OrderCancelled{OrderID: id, Holder: string(ord.Holder), Refunded: "0"})
	}
	o.log.Info().Uint64("order_id", id).Msg("order cancelled")
	return nil
}

// ExecuteLimitOrder fills a pending order whose trigger price has been
// crossed. Longs fill when the mark price falls to the trigger or
// below, shorts when it rises to the trigger or above. Keeper path,
// position managers only.
func (o *OrderEngine) ExecuteLimitOrder(ctx context.Context, caller collateral.Address, id uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	ord, err := o.keeperOrder("executeLimitOrder", caller, id)
	if err != nil {
		return err
	}
	if ord.Status != OrderPending {
		return o.rejected("executeLimitOrder", fmt.Errorf("%w: order %d is %s", ErrInvalidOrderStatus, id, ord.Status))
	}
	if ord.TriggerPrice.Sign() == 0 {
		return o.rejected("executeLimitOrder", fmt.Errorf("%w: order %d has no trigger price", ErrInvalidOrderStatus, id))
	}

	mark := o.client.IndexAndMarkPrice().MarkPrice
	var crossed bool
	if ord.Direction == vamm.DirectionLong {
		crossed = mark.Cmp(ord.TriggerPrice) <= 0
	} else {
		crossed = mark.Cmp(ord.TriggerPrice) >= 0
	}
	if !crossed {
		return o.rejected("executeLimitOrder", fmt.Errorf("%w: mark %s vs trigger %s", ErrTriggerNotReached, mark, ord.TriggerPrice))
	}

	if err := o.client.IncreasePosition(ctx, o.cfg.SelfAddress, ord.Holder, ord.Direction, ord.AmountIn, ord.Leverage); err != nil {
		return o.rejected("executeLimitOrder", err)
	}
	ord.Status = OrderActive

	if o.metrics != nil {
		o.metrics.OrdersExecuted.WithLabelValues("limit").Inc()
	}
	o.emit(event.OrderExecuted{
		OrderID:   ord.ID,
		Holder:    string(ord.Holder),
		Trigger:   ord.TriggerPrice.String(),
		MarkPrice: mark.String(),
	})
	o.emit(event.OrderActivated{OrderID: ord.ID, Holder: string(ord.Holder)})
	o.log.Info().
		Uint64("order_id", ord.ID).
		Str("mark", mark.String()).
		Str("trigger", ord.TriggerPrice.String()).
		Msg("limit order filled")
	return nil
}

// ExecuteCloseOrder closes the position behind an active order at the
// holder's request and retires the order.
func (o *OrderEngine) ExecuteCloseOrder(ctx context.Context, caller collateral.Address, id uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	ord, err := o.liveOrder("executeCloseOrder", caller, id)
	if err != nil {
		return err
	}
	if err := o.client.ClosePosition(ctx, o.cfg.SelfAddress, ord.Holder); err != nil {
		return o.rejected("executeCloseOrder", err)
	}
	ord.Status = OrderClosed

	if o.metrics != nil {
		o.metrics.OrdersClosed.WithLabelValues("holder_close").Inc()
	}
	mark := o.client.IndexAndMarkPrice().MarkPrice
	o.emit(event.OrderExecuted{
		OrderID:   ord.ID,
		Holder:    string(ord.Holder),
		Trigger:   "0",
		MarkPrice: mark.String(),
	})
	return nil
}

// TriggerStopLoss closes the position behind an active order once the
// mark price crosses the stored stop threshold against the holder.
// Keeper path, position managers only.
func (o *OrderEngine) TriggerStopLoss(ctx context.Context, caller collateral.Address, id uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	ord, err := o.keeperOrder("triggerStopLoss", caller, id)
	if err != nil {
		return err
	}
	if ord.Status != OrderActive {
		return o.rejected("triggerStopLoss", fmt.Errorf("%w: order %d is %s", ErrInvalidOrderStatus, id, ord.Status))
	}
	if ord.StopTrigger == nil {
		return o.rejected("triggerStopLoss", fmt.Errorf("%w: order %d has no stop loss", ErrInvalidOrderStatus, id))
	}

	mark := o.client.IndexAndMarkPrice().MarkPrice
	var crossed bool
	if ord.Direction == vamm.DirectionLong {
		crossed = mark.Cmp(ord.StopTrigger) <= 0
	} else {
		crossed = mark.Cmp(ord.StopTrigger) >= 0
	}
	if !crossed {
		return o.rejected("triggerStopLoss", fmt.Errorf("%w: mark %s vs stop %s", ErrTriggerNotReached, mark, ord.StopTrigger))
	}

	if err := o.client.ClosePosition(ctx, o.cfg.SelfAddress, ord.Holder); err != nil {
		return o.rejected("triggerStopLoss", err)
	}
	ord.Status = OrderClosed

	if o.metrics != nil {
		o.metrics.OrdersExecuted.WithLabelValues("stop_loss").Inc()
		o.metrics.OrdersClosed.WithLabelValues("stop_loss").Inc()
	}
	o.emit(event.OrderExecuted{
		OrderID:   ord.ID,
		Holder:    string(ord.Holder),
		Trigger:   ord.StopTrigger.String(),
		MarkPrice: mark.String(),
	})
	o.log.Info().Uint64("order_id", ord.ID).Str("mark", mark.String()).Msg("stop loss triggered")
	return nil
}

// TriggerTakeProfit settles the position behind an active order once
// the mark price crosses the stored take threshold in the holder's
// favor. Keeper path, position managers only.
func (o *OrderEngine) TriggerTakeProfit(ctx context.Context, caller collateral.Address, id uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	ord, err := o.keeperOrder("triggerTakeProfit", caller, id)
	if err != nil {
		return err
	}
	if ord.Status != OrderActive {
		return o.rejected("triggerTakeProfit", fmt.Errorf("%w: order %d is %s", ErrInvalidOrderStatus, id, ord.Status))
	}
	if ord.TakeTrigger == nil {
		return o.rejected("triggerTakeProfit", fmt.Errorf("%w: order %d has no take profit", ErrInvalidOrderStatus, id))
	}

	mark := o.client.IndexAndMarkPrice().MarkPrice
	var crossed bool
	if ord.Direction == vamm.DirectionLong {
		crossed = mark.Cmp(ord.TakeTrigger) >= 0
	} else {
		crossed = mark.Cmp(ord.TakeTrigger) <= 0
	}
	if !crossed {
		return o.rejected("triggerTakeProfit", fmt.Errorf("%w: mark %s vs take %s", ErrTriggerNotReached, mark, ord.TakeTrigger))
	}

	if err := o.client.TakeProfit(ctx, o.cfg.SelfAddress, ord.Holder); err != nil {
		return o.rejected("triggerTakeProfit", err)
	}
	ord.Status = OrderClosed

	if o.metrics != nil {
		o.metrics.OrdersExecuted.WithLabelValues("take_profit").Inc()
		o.metrics.OrdersClosed.WithLabelValues("take_profit").Inc()
	}
	o.emit(event.OrderExecuted{
		OrderID:   ord.ID,
		Holder:    string(ord.Holder),
		Trigger:   ord.TakeTrigger.String(),
		MarkPrice: mark.String(),
	})
	o.log.Info().Uint64("order_id", ord.ID).Str("mark", mark.String()).Msg("take profit triggered")
	return nil
}

// OrderData returns a copy of the order.
func (o *OrderEngine) OrderData(id uint64) (*Order, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ord, ok := o.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidOrderID, id)
	}
	return ord.Clone(), nil
}

// OrderCount returns the number of stored orders.
func (o *OrderEngine) OrderCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.orders)
}

// Status returns the current contract status.
func (o *OrderEngine) Status() engine.ContractStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// liveOrder loads an order for a holder-initiated mutation: contract
// Active, order exists, caller is the holder, order Active and not
// expired. Caller holds the lock.
func (o *OrderEngine) liveOrder(op string, caller collateral.Address, id uint64) (*Order, error) {
	ord, err := o.mutableOrder(op, caller, id)
	if err != nil {
		return nil, err
	}
	if ord.Status != OrderActive {
		return nil, o.rejected(op, fmt.Errorf("%w: order %d is %s", ErrInvalidOrderStatus, id, ord.Status))
	}
	if ord.expiredAt(o.nowFn()) {
		return nil, o.rejected(op, fmt.Errorf("%w: order %d", ErrOrderExpired, id))
	}
	return ord, nil
}

// mutableOrder checks contract status, existence, and holder identity.
// Caller holds the lock.
func (o *OrderEngine) mutableOrder(op string, caller collateral.Address, id uint64) (*Order, error) {
	if o.status != engine.StatusActive {
		return nil, o.rejected(op, fmt.Errorf("%w: %s", engine.ErrInvalidStatus, o.status))
	}
	ord, ok := o.orders[id]
	if !ok {
		return nil, o.rejected(op, fmt.Errorf("%w: %d", ErrInvalidOrderID, id))
	}
	if caller != ord.Holder {
		return nil, o.rejected(op, fmt.Errorf("%w: %s", ErrNotOrderHolder, caller))
	}
	return ord, nil
}

// keeperOrder checks contract status, existence, manager identity, and
// expiration for trigger-execution paths. Caller holds the lock.
func (o *OrderEngine) keeperOrder(op string, caller collateral.Address, id uint64) (*Order, error) {
	if o.status != engine.StatusActive {
		return nil, o.rejected(op, fmt.Errorf("%w: %s", engine.ErrInvalidStatus, o.status))
	}
	ord, ok := o.orders[id]
	if !ok {
		return nil, o.rejected(op, fmt.Errorf("%w: %d", ErrInvalidOrderID, id))
	}
	if !o.admin.IsPositionManager(caller) {
		return nil, o.rejected(op, fmt.Errorf("%w: %s", engine.ErrNotPositionManager, caller))
	}
	if ord.expiredAt(o.nowFn()) {
		return nil, o.rejected(op, fmt.Errorf("%w: order %d", ErrOrderExpired, id))
	}
	return ord, nil
}

func validateParams(p OrderParams) error {
	if !p.Type.Valid() {
		return fmt.Errorf("%w: order type %d", engine.ErrInvalidStatus, p.Type)
	}
	if !p.Direction.Valid() {
		return fmt.Errorf("%w: direction %s", engine.ErrDirectionMismatch, p.Direction)
	}
	if p.AmountIn == nil || p.AmountIn.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", engine.ErrInvalidAmount)
	}
	if p.Leverage == nil || p.Leverage.Sign() <= 0 {
		return fmt.Errorf("%w: leverage must be positive", engine.ErrInvalidLeverage)
	}
	if p.TriggerPrice != nil && p.TriggerPrice.Sign() < 0 {
		return fmt.Errorf("%w: negative trigger price", engine.ErrInvalidAmount)
	}
	if p.Type == OrderTypeLimit && (p.TriggerPrice == nil || p.TriggerPrice.Sign() == 0) {
		return fmt.Errorf("%w: limit order requires a trigger price", engine.ErrInvalidAmount)
	}
	return nil
}

// emit seals a payload into the event log. Caller holds the lock.
func (o *OrderEngine) emit(p event.Payload) {
	o.seq++
	env, err := event.NewEnvelope(o.seq, o.nowFn(), p)
	if err != nil {
		o.log.Error().Err(err).Msg("event envelope")
		return
	}
	o.bus.Emit(env)
}

func (o *OrderEngine) rejected(op string, err error) error {
	if o.metrics != nil {
		o.metrics.OpsRejected.WithLabelValues(op, orderReasonLabel(err)).Inc()
	}
	o.log.Warn().Str("op", op).Err(err).Msg("operation rejected")
	return err
}

func orderReasonLabel(err error) string {
	for _, s := range []struct {
		target error
		label  string
	}{
		{ErrInvalidOrderID, "invalid_order_id"},
		{ErrInvalidOrderStatus, "invalid_order_status"},
		{ErrOrderExpired, "order_expired"},
		{ErrNotOrderHolder, "not_order_holder"},
		{ErrTriggerNotReached, "trigger_not_reached"},
		{engine.ErrInvalidStatus, "invalid_status"},
		{engine.ErrNotAdmin, "not_admin"},
		{engine.ErrNotPositionManager, "not_position_manager"},
		{engine.ErrInvalidAmount, "invalid_amount"},
		{engine.ErrInvalidLeverage, "invalid_leverage"},
		{engine.ErrDirectionMismatch, "direction_mismatch"},
	} {
		if errors.Is(err, s.target) {
			return s.label
		}
	}
	return "other"
}

func optString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func expirationString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
