package event

// Amounts in payloads are decimal strings at market scale, so the log is
// lossless even when values exceed int64.

// PositionOpened records a fresh position (or an invocation that created
// one after the holder had none).
type PositionOpened struct {
	Holder        string `json:"holder"`
	Direction     string `json:"direction"`
	Collateral    string `json:"collateral"`
	Fee           string `json:"fee"`
	Leverage      string `json:"leverage"`
	EntryPrice    string `json:"entry_price"`
	Exposure      string `json:"exposure"`
	MarkPrice     string `json:"mark_price"`
	PositionCount int    `json:"position_count"`
}

func (PositionOpened) EventType() EventType { return EventTypePositionOpened }

// PositionIncreased records collateral added to an existing position in
// the same direction.
type PositionIncreased struct {
	Holder        string `json:"holder"`
	Direction     string `json:"direction"`
	AddedAmount   string `json:"added_amount"`
	Fee           string `json:"fee"`
	EntryPrice    string `json:"entry_price"`
	ExposureDelta string `json:"exposure_delta"`
	MarkPrice     string `json:"mark_price"`
}

func (PositionIncreased) EventType() EventType { return EventTypePositionIncreased }

// PositionDecreased records a partial reduction and the settlement paid
// out for the removed exposure.
type PositionDecreased struct {
	Holder         string `json:"holder"`
	Direction      string `json:"direction"`
	RemovedAmount  string `json:"removed_amount"`
	ExposureDelta  string `json:"exposure_delta"`
	SettlementPaid string `json:"settlement_paid"`
	MarkPrice      string `json:"mark_price"`
}

func (PositionDecreased) EventType() EventType { return EventTypePositionDecreased }

// PositionClosed records full settlement of a position.
type PositionClosed struct {
	Holder    string `json:"holder"`
	Direction string `json:"direction"`
	Notional  string `json:"notional"`
	Pnl       string `json:"pnl"`
	Payout    string `json:"payout"`
	MarkPrice string `json:"mark_price"`
}

func (PositionClosed) EventType() EventType { return EventTypePositionClosed }

// PositionLiquidated records a forced close and the reward split.
type PositionLiquidated struct {
	Holder       string `json:"holder"`
	Liquidator   string `json:"liquidator"`
	Direction    string `json:"direction"`
	FinalValue   string `json:"final_value"`
	CallerReward string `json:"caller_reward"`
	FundReward   string `json:"fund_reward"`
	MarkPrice    string `json:"mark_price"`
}

func (PositionLiquidated) EventType() EventType { return EventTypePositionLiquidated }
