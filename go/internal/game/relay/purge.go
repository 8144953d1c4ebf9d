package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Purger deletes published outbox rows once they are older than the
// retention. Rows only need to outlive the JetStream duplicate window.
type Purger struct {
	store     Store
	retention time.Duration
	clock     clockwork.Clock
	cron      *cron.Cron
}

func NewPurger(store Store, retention time.Duration, clock clockwork.Clock) *Purger {
	return &Purger{
		store:     store,
		retention: retention,
		clock:     clock,
		cron:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
	}
}

// Start schedules the purge on spec, a standard five-field cron expression.
func (p *Purger) Start(ctx context.Context, spec string) error {
	if _, err := p.cron.AddFunc(spec, func() {
		if _, err := p.Purge(ctx); err != nil {
			log.Error().Err(err).Msg("outbox purge failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule purge %q: %w", spec, err)
	}
	p.cron.Start()
	log.Info().Str("schedule", spec).Dur("retention", p.retention).Msg("outbox purge scheduled")
	return nil
}

// Purge runs one purge pass.
func (p *Purger) Purge(ctx context.Context) (int64, error) {
	n, err := p.store.PurgeSent(ctx, p.clock.Now().Add(-p.retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Info().Int64("deleted", n).Msg("purged sent outbox rows")
	}
	return n, nil
}

// Stop waits for a running purge to finish.
func (p *Purger) Stop() {
	<-p.cron.Stop().Done()
}
