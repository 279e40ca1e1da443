package event

// MarketConfigured records (re)configuration of the virtual market.
type MarketConfigured struct {
	ReserveAsset  string `json:"reserve_asset"`
	ReserveQuote  string `json:"reserve_quote"`
	Invariant     string `json:"invariant"`
	IndexPrice    string `json:"index_price"`
	FundingPeriod string `json:"funding_period"`
}

func (MarketConfigured) EventType() EventType { return EventTypeMarketConfigured }

// StatusChanged records an administrative status transition.
type StatusChanged struct {
	From string `json:"from"`
	To   string `json:"to"`
	By   string `json:"by"`
}

func (StatusChanged) EventType() EventType { return EventTypeStatusChanged }
