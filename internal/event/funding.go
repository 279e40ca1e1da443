package event

// FundingDistributed records one funding round: the per-side rates and
// the aggregate amounts debited and credited across positions.
type FundingDistributed struct {
	MarkPrice      string `json:"mark_price"`
	IndexPrice     string `json:"index_price"`
	LongRate       string `json:"long_rate"`
	LongDirection  string `json:"long_direction"`
	ShortRate      string `json:"short_rate"`
	ShortDirection string `json:"short_direction"`
	TotalDebited   string `json:"total_debited"`
	TotalCredited  string `json:"total_credited"`
}

func (FundingDistributed) EventType() EventType { return EventTypeFundingDistributed }
