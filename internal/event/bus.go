package event

// Bus fans committed envelopes out to the persistence writer and the
// external publisher. The persist channel uses a blocking send so the
// engine stalls rather than lose log entries; the publish channel is
// best-effort and drops when the publisher lags.
type Bus struct {
	persistChan chan<- Envelope
	publishChan chan<- Envelope
	dropped     func()
}

// NewBus wires the two sinks. Either channel may be nil, which disables
// that sink. dropped, if non-nil, is called once per publish-side drop.
func NewBus(persistChan, publishChan chan<- Envelope, dropped func()) *Bus {
	return &Bus{
		persistChan: persistChan,
		publishChan: publishChan,
		dropped:     dropped,
	}
}

// Emit delivers an envelope to both sinks.
func (b *Bus) Emit(env Envelope) {
	if b == nil {
		return
	}
	if b.persistChan != nil {
		// Blocking send: backpressure from the writer throttles the engine.
		b.persistChan <- env
	}
	if b.publishChan != nil {
		select {
		case b.publishChan <- env:
		default:
			// Dropped. Consumers rebuild from the event log.
			if b.dropped != nil {
				b.dropped()
			}
		}
	}
}
