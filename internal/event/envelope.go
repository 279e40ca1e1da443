// Package event defines the engine's event log: one envelope per
// committed state transition, with a typed JSON payload.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypePositionOpened
	EventTypePositionIncreased
	EventTypePositionDecreased
	EventTypePositionClosed
	EventTypePositionLiquidated
	EventTypeMarginAdded
	EventTypeMarginRemoved
	EventTypeFundingDistributed
	EventTypeMarketConfigured
	EventTypeStatusChanged
	EventTypeOrderCreated
	EventTypeOrderActivated
	EventTypeOrderExecuted
	EventTypeOrderCancelled
	EventTypeOrderExpired
)

func (et EventType) String() string {
	switch et {
	case EventTypePositionOpened:
		return "PositionOpened"
	case EventTypePositionIncreased:
		return "PositionIncreased"
	case EventTypePositionDecreased:
		return "PositionDecreased"
	case EventTypePositionClosed:
		return "PositionClosed"
	case EventTypePositionLiquidated:
		return "PositionLiquidated"
	case EventTypeMarginAdded:
		return "MarginAdded"
	case EventTypeMarginRemoved:
		return "MarginRemoved"
	case EventTypeFundingDistributed:
		return "FundingDistributed"
	case EventTypeMarketConfigured:
		return "MarketConfigured"
	case EventTypeStatusChanged:
		return "StatusChanged"
	case EventTypeOrderCreated:
		return "OrderCreated"
	case EventTypeOrderActivated:
		return "OrderActivated"
	case EventTypeOrderExecuted:
		return "OrderExecuted"
	case EventTypeOrderCancelled:
		return "OrderCancelled"
	case EventTypeOrderExpired:
		return "OrderExpired"
	default:
		return "Unknown"
	}
}

// Envelope wraps every event in the log
type Envelope struct {
	// Global monotonic sequence assigned by the engine
	Sequence int64 `json:"sequence"`

	// Stable event identity
	EventID uuid.UUID `json:"event_id"`

	// Event type discriminator
	Type EventType `json:"type"`

	// Time the transition committed
	Timestamp time.Time `json:"timestamp"`

	// JSON-encoded event-specific data
	Payload json.RawMessage `json:"payload"`
}

// Payload is implemented by every event body.
type Payload interface {
	EventType() EventType
}

// NewEnvelope seals a payload into an envelope.
func NewEnvelope(seq int64, at time.Time, p Payload) (Envelope, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", p.EventType(), err)
	}
	return Envelope{
		Sequence:  seq,
		EventID:   uuid.New(),
		Type:      p.EventType(),
		Timestamp: at,
		Payload:   raw,
	}, nil
}
