package event

// MarginAdded records collateral topped up without changing exposure.
type MarginAdded struct {
	Holder     string `json:"holder"`
	Amount     string `json:"amount"`
	Collateral string `json:"collateral"`
}

func (MarginAdded) EventType() EventType { return EventTypeMarginAdded }

// MarginRemoved records collateral withdrawn after the margin-ratio check.
type MarginRemoved struct {
	Holder      string `json:"holder"`
	Amount      string `json:"amount"`
	Collateral  string `json:"collateral"`
	MarginRatio string `json:"margin_ratio"`
}

func (MarginRemoved) EventType() EventType { return EventTypeMarginRemoved }
