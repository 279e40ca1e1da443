package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"vammengine/internal/oracle"
)

const (
	priceStream   = "VAMM_PRICES"
	priceSubject  = "vamm.prices.>"
	priceConsumer = "vamm-prices"
)

// PriceSubscriber consumes oracle price rounds from JetStream and
// updates the in-process feed the engine reads from. Rounds arrive
// at-least-once; applying the same round twice is harmless because the
// feed only keeps the latest.
type PriceSubscriber struct {
	js       jetstream.JetStream
	feed     *oracle.Feed
	log      zerolog.Logger
	consumer jetstream.ConsumeContext
}

func NewPriceSubscriber(js jetstream.JetStream, feed *oracle.Feed, log zerolog.Logger) *PriceSubscriber {
	return &PriceSubscriber{js: js, feed: feed, log: log}
}

// Subscribe creates the durable consumer and starts delivering rounds
// to the feed. Call Stop to shut delivery down.
func (s *PriceSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, priceStream, jetstream.ConsumerConfig{
		Durable:       priceConsumer,
		FilterSubject: priceSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", priceConsumer, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		round, err := ParsePriceRound(msg.Data())
		if err != nil {
			s.log.Warn().Err(err).Str("subject", msg.Subject()).Msg("bad price round")
			msg.Ack()
			return
		}
		s.feed.SetPrice(round.Price, round.UpdatedAt)
		s.log.Debug().
			Str("price", round.Price.String()).
			Time("updated_at", round.UpdatedAt).
			Msg("index price round")
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", priceConsumer, err)
	}
	s.consumer = cc
	return nil
}

// Stop halts message delivery.
func (s *PriceSubscriber) Stop() {
	if s.consumer != nil {
		s.consumer.Stop()
	}
}

// EnsurePriceStream creates the inbound price stream if missing.
func EnsurePriceStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      priceStream,
		Subjects:  []string{priceSubject},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", priceStream, err)
	}
	return nil
}
