package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"vammengine/internal/event"
)

const (
	outboundStream        = "VAMM_EVENTS"
	outboundSubjectPrefix = "vamm.events"
)

// OutboundPublisher drains the publish channel to JetStream. The engine
// side of the channel is non-blocking, so a slow publisher drops events
// for downstream consumers rather than stalling trading; the persisted
// event log in Postgres stays complete either way.
type OutboundPublisher struct {
	js     jetstream.JetStream
	events <-chan event.Envelope
	log    zerolog.Logger
}

func NewOutboundPublisher(js jetstream.JetStream, events <-chan event.Envelope, log zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{js: js, events: events, log: log}
}

// Run blocks until ctx is cancelled or the channel closes.
func (p *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-p.events:
			if !ok {
				return nil
			}
			if err := p.publish(ctx, env); err != nil {
				// Non-fatal: consumers can replay from the event log.
				p.log.Warn().Err(err).Int64("seq", env.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (p *OutboundPublisher) publish(ctx context.Context, env event.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	subject := fmt.Sprintf("%s.%s", outboundSubjectPrefix, env.Type)
	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// EnsureEventStream creates the outbound event stream if missing.
func EnsureEventStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      outboundStream,
		Subjects:  []string{outboundSubjectPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", outboundStream, err)
	}
	return nil
}
