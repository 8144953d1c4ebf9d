package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

type ListenerConfig struct {
	DatabaseURL      string
	NotifyChannel    string
	FallbackInterval time.Duration
	MaxRetries       int
	RetryDelay       time.Duration
	PingInterval     time.Duration
	BatchSize        int
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		NotifyChannel:    "change_outbox",
		FallbackInterval: 5 * time.Second,
		MaxRetries:       5,
		RetryDelay:       200 * time.Millisecond,
		PingInterval:     90 * time.Second,
		BatchSize:        200,
	}
}

// Listener publishes outbox rows as soon as their NOTIFY arrives, and sweeps
// unsent rows on a fallback interval to cover missed notifications.
type Listener struct {
	store     Store
	publisher Publisher
	cfg       ListenerConfig
	clock     clockwork.Clock
	pq        *pq.Listener

	mu        sync.Mutex
	running   bool
	published uint64
	lastSent  time.Time
}

func NewListener(store Store, publisher Publisher, cfg ListenerConfig, clock clockwork.Clock) (*Listener, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.NotifyChannel, err)
	}
	log.Info().Str("channel", cfg.NotifyChannel).Msg("listening for notifications")

	return newListener(store, publisher, cfg, clock, l), nil
}

func newListener(store Store, publisher Publisher, cfg ListenerConfig, clock clockwork.Clock, l *pq.Listener) *Listener {
	return &Listener{store: store, publisher: publisher, cfg: cfg, clock: clock, pq: l}
}

// Start blocks until ctx is done.
func (l *Listener) Start(ctx context.Context) error {
	l.setRunning(true)
	defer l.setRunning(false)

	log.Info().
		Str("channel", l.cfg.NotifyChannel).
		Dur("fallback_interval", l.cfg.FallbackInterval).
		Msg("relay started")

	pingTicker := l.clock.NewTicker(l.cfg.PingInterval)
	fallbackTicker := l.clock.NewTicker(l.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	// Rows written while the relay was down.
	if err := l.processUnsent(ctx); err != nil {
		log.Error().Err(err).Msg("initial sweep failed")
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("relay shutting down")
			return l.pq.Close()
		case note := <-l.pq.Notify:
			if note == nil {
				// Reconnected. Anything notified meanwhile is only in the table.
				if err := l.processUnsent(ctx); err != nil {
					log.Error().Err(err).Msg("sweep after reconnect failed")
				}
				continue
			}
			if err := l.handleNotification(ctx, note.Extra); err != nil {
				log.Error().Err(err).Msg("failed to handle notification")
			}
		case <-fallbackTicker.Chan():
			if err := l.processUnsent(ctx); err != nil {
				log.Error().Err(err).Msg("failed to process unsent changes")
			}
		case <-pingTicker.Chan():
			if err := l.pq.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

// handleNotification publishes the row named by a NOTIFY payload.
func (l *Listener) handleNotification(ctx context.Context, extra string) error {
	id, err := uuid.Parse(extra)
	if err != nil {
		return fmt.Errorf("invalid outbox id in notification: %w", err)
	}

	row, err := l.store.FetchByID(ctx, id)
	if errors.Is(err, ErrRowNotFound) {
		// Purged or swept by another relay.
		return nil
	}
	if err != nil {
		return err
	}
	if row.SentAt != nil {
		return nil
	}

	if err := l.publishRow(ctx, row); err != nil {
		return err
	}
	if err := l.store.MarkSent(ctx, id); err != nil {
		return fmt.Errorf("mark %s sent: %w", id, err)
	}
	return nil
}

// processUnsent publishes every unsent row in batches.
func (l *Listener) processUnsent(ctx context.Context) error {
	for {
		n, err := l.store.ProcessUnsent(ctx, l.cfg.BatchSize, func(row OutboxRow) error {
			if err := l.publishRow(ctx, row); err != nil {
				log.Error().Err(err).Str("event_id", row.ID.String()).Msg("failed to publish change")
				return err
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("process unsent: %w", err)
		}
		if n > 0 {
			log.Info().Int("count", n).Msg("swept unsent changes")
		}
		if n < l.cfg.BatchSize {
			return nil
		}
	}
}

func (l *Listener) publishRow(ctx context.Context, row OutboxRow) error {
	if row.Unchanged() {
		return nil
	}
	ch, err := row.Change()
	if err != nil {
		// Unroutable rows are marked sent so they don't block the sweep.
		log.Warn().Err(err).Str("event_id", row.ID.String()).Msg("dropping malformed change")
		return nil
	}
	if err := l.publishWithRetry(ctx, ch.EventID, func() error { return l.publisher.Publish(ctx, ch) }); err != nil {
		return err
	}
	l.mu.Lock()
	l.published++
	l.lastSent = l.clock.Now()
	l.mu.Unlock()
	return nil
}

// publishWithRetry retries with a linearly growing delay.
func (l *Listener) publishWithRetry(ctx context.Context, eventID string, publish func() error) error {
	var lastErr error
	for attempt := 0; attempt <= l.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-l.clock.After(l.cfg.RetryDelay * time.Duration(attempt)):
			}
		}

		if err := publish(); err != nil {
			lastErr = err
			log.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Str("event_id", eventID).
				Msg("failed to publish, retrying")
			continue
		}

		if attempt > 0 {
			log.Info().Int("attempt", attempt+1).Str("event_id", eventID).Msg("publish succeeded after retry")
		}
		return nil
	}
	return fmt.Errorf("publish failed after %d attempts: %w", l.cfg.MaxRetries+1, lastErr)
}

func (l *Listener) setRunning(v bool) {
	l.mu.Lock()
	l.running = v
	l.mu.Unlock()
}

// Stats returns the number of published changes and when the last one went out.
func (l *Listener) Stats() (uint64, time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.published, l.lastSent, l.running
}
