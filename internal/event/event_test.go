package event

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewEnvelope(t *testing.T) {
	p := PositionOpened{
		Holder:     "tz1holder",
		Direction:  "Long",
		Collateral: "1960000000",
		Fee:        "40000000",
		Leverage:   "2000000",
		EntryPrice: "8000000",
		Exposure:   "489755",
		MarkPrice:  "8000078",
	}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	env, err := NewEnvelope(7, at, p)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if env.Sequence != 7 {
		t.Errorf("sequence = %d, want 7", env.Sequence)
	}
	if env.Type != EventTypePositionOpened {
		t.Errorf("type = %v, want PositionOpened", env.Type)
	}
	if !env.Timestamp.Equal(at) {
		t.Errorf("timestamp = %v, want %v", env.Timestamp, at)
	}

	var got PositionOpened
	if err := json.Unmarshal(env.Payload, &got); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if got != p {
		t.Errorf("payload round-trip = %+v, want %+v", got, p)
	}
}

func TestEventTypeStrings(t *testing.T) {
	cases := map[EventType]string{
		EventTypePositionOpened:     "PositionOpened",
		EventTypePositionLiquidated: "PositionLiquidated",
		EventTypeFundingDistributed: "FundingDistributed",
		EventTypeOrderExecuted:      "OrderExecuted",
		EventTypeUnknown:            "Unknown",
		EventType(99):               "Unknown",
	}
	for et, want := range cases {
		if got := et.String(); got != want {
			t.Errorf("EventType(%d).String() = %q, want %q", et, got, want)
		}
	}
}

func TestBusPersistBlockingPublishDrops(t *testing.T) {
	persist := make(chan Envelope, 2)
	publish := make(chan Envelope, 1)
	drops := 0
	b := NewBus(persist, publish, func() { drops++ })

	b.Emit(Envelope{Sequence: 1})
	b.Emit(Envelope{Sequence: 2}) // publish buffer full, must drop

	if len(persist) != 2 {
		t.Errorf("persist received %d envelopes, want 2", len(persist))
	}
	if len(publish) != 1 {
		t.Errorf("publish received %d envelopes, want 1", len(publish))
	}
	if drops != 1 {
		t.Errorf("drops = %d, want 1", drops)
	}
}

func TestBusNilSafe(t *testing.T) {
	var b *Bus
	b.Emit(Envelope{Sequence: 1}) // must not panic
	NewBus(nil, nil, nil).Emit(Envelope{Sequence: 2})
}
