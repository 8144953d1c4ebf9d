package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/Pinkyx99/gamdom2-sub000/go/internal/game/events"
)

// FeedConsumerConfig holds configuration for the JetStream feed consumer.
type FeedConsumerConfig struct {
	URL           string
	StreamName    string
	SubjectFilter string
	MaxReconnects int
	ReconnectWait time.Duration
}

func DefaultFeedConsumerConfig() FeedConsumerConfig {
	return FeedConsumerConfig{
		URL:           nats.DefaultURL,
		StreamName:    "CASINO_CHANGES",
		SubjectFilter: events.SubjectFilter(""),
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// FeedConsumer reads row changes from JetStream and hands them to the hub.
// Every gateway instance needs every change, so it uses an ordered consumer
// starting at new messages instead of a shared durable one; sessions catch
// up through their snapshot poll.
type FeedConsumer struct {
	hub    *Hub
	nc     *nats.Conn
	js     jetstream.JetStream
	config FeedConsumerConfig
}

func NewFeedConsumer(hub *Hub, config FeedConsumerConfig) (*FeedConsumer, error) {
	nc, err := nats.Connect(config.URL,
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
			hub.SetLink(false)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
			hub.SetLink(true)
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	return &FeedConsumer{hub: hub, nc: nc, js: js, config: config}, nil
}

// Start consumes until ctx is done.
func (fc *FeedConsumer) Start(ctx context.Context) error {
	consumer, err := fc.js.OrderedConsumer(ctx, fc.config.StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{fc.config.SubjectFilter},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create ordered consumer: %w", err)
	}

	log.Info().
		Str("stream", fc.config.StreamName).
		Str("filter", fc.config.SubjectFilter).
		Msg("starting feed consumer")

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		if err := fc.processMessage(msg.Data()); err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject()).Msg("dropping feed message")
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	<-ctx.Done()
	log.Info().Msg("feed consumer shutting down")
	return nil
}

func (fc *FeedConsumer) processMessage(data []byte) error {
	var ch events.Change
	if err := json.Unmarshal(data, &ch); err != nil {
		return fmt.Errorf("unmarshal change: %w", err)
	}
	if err := ch.Validate(); err != nil {
		return err
	}
	n := fc.hub.Publish(ch)
	log.Debug().
		Str("event_id", ch.EventID).
		Str("game", string(ch.Game)).
		Str("table", string(ch.Table)).
		Int("sessions", n).
		Msg("change fanned out")
	return nil
}

// Connected reports whether the NATS connection is up.
func (fc *FeedConsumer) Connected() bool {
	return fc.nc.IsConnected()
}

func (fc *FeedConsumer) Stop() error {
	if fc.nc != nil {
		fc.nc.Close()
	}
	return nil
}
