package event

// OrderCreated records a newly accepted order, still pending collateral.
type OrderCreated struct {
	OrderID    uint64 `json:"order_id"`
	Holder     string `json:"holder"`
	Direction  string `json:"direction"`
	Amount     string `json:"amount"`
	Leverage   string `json:"leverage"`
	StopPrice  string `json:"stop_price"`
	TakePrice  string `json:"take_price"`
	Expiration string `json:"expiration,omitempty"`
}

func (OrderCreated) EventType() EventType { return EventTypeOrderCreated }

// OrderActivated records collateral arrival flipping an order live.
type OrderActivated struct {
	OrderID uint64 `json:"order_id"`
	Holder  string `json:"holder"`
}

func (OrderActivated) EventType() EventType { return EventTypeOrderActivated }

// OrderExecuted records an order crossing its trigger and being filled.
type OrderExecuted struct {
	OrderID   uint64 `json:"order_id"`
	Holder    string `json:"holder"`
	Trigger   string `json:"trigger"`
	MarkPrice string `json:"mark_price"`
}

func (OrderExecuted) EventType() EventType { return EventTypeOrderExecuted }

// OrderCancelled records a holder- or manager-initiated cancellation.
type OrderCancelled struct {
	OrderID  uint64 `json:"order_id"`
	Holder   string `json:"holder"`
	Refunded string `json:"refunded"`
}

func (OrderCancelled) EventType() EventType { return EventTypeOrderCancelled }

// OrderExpired records an order closed because its expiration passed.
type OrderExpired struct {
	OrderID  uint64 `json:"order_id"`
	Holder   string `json:"holder"`
	Refunded string `json:"refunded"`
}

func (OrderExpired) EventType() EventType { return EventTypeOrderExpired }
