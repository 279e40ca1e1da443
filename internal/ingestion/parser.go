package ingestion

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"vammengine/internal/oracle"
)

// priceRoundJSON is the wire format of an oracle price round. Field
// names use snake_case to match the upstream producer.
type priceRoundJSON struct {
	Price       string `json:"price"`
	TimestampUs int64  `json:"timestamp_us"`
}

// ParsePriceRound validates and converts a raw price message. Price is
// a decimal string at market scale; rounds with a non-positive price
// are rejected.
func ParsePriceRound(data []byte) (oracle.PriceData, error) {
	var j priceRoundJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return oracle.PriceData{}, fmt.Errorf("parse price round: %w", err)
	}

	price, ok := new(big.Int).SetString(j.Price, 10)
	if !ok {
		return oracle.PriceData{}, fmt.Errorf("parse price %q", j.Price)
	}
	if price.Sign() <= 0 {
		return oracle.PriceData{}, fmt.Errorf("non-positive price %s", price)
	}
	if j.TimestampUs <= 0 {
		return oracle.PriceData{}, fmt.Errorf("missing timestamp")
	}

	return oracle.PriceData{
		Price:     price,
		UpdatedAt: time.UnixMicro(j.TimestampUs).UTC(),
	}, nil
}
