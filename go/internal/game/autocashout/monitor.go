// Package autocashout issues cashout commands for crash bets whose target
// multiplier has been reached.
//
// The pending set here only hides latency. The authority is the crash_cashout
// stored function, which resolves a bet only while cashout_multiplier is null,
// so a duplicate that slips through is rejected server side and reported as
// an ordinary business error.
package autocashout

import (
	"context"
	"errors"
	"fmt"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/Pinkyx99/gamdom2-sub000/go/internal/game/continuous"
	"github.com/Pinkyx99/gamdom2-sub000/go/internal/models"
)

var (
	ErrCashoutPending  = errors.New("cashout already pending for this bet")
	ErrNotRunning      = errors.New("round is not running")
	ErrAlreadyResolved = errors.New("bet already resolved")
	// ErrRejected marks a business rejection from the authority. A rejected
	// bet is not sent again in the same round.
	ErrRejected = errors.New("cashout rejected")
)

// Resolver sends one resolve command and returns the resolved bet.
type Resolver interface {
	Resolve(ctx context.Context, bet models.Bet, multiplier float64) (models.Bet, error)
}

// Options configures a Monitor.
type Options struct {
	PoolSize int
	Timeout  time.Duration
	// OnResolved applies a successful resolution locally. It runs before the
	// bet leaves the pending set.
	OnResolved func(models.Bet)
	// OnError reports a failed or undispatched resolve. Transport failures
	// leave the bet eligible for a later frame; rejections do not.
	OnError func(models.Bet, error)
}

// Monitor dispatches at most one in-flight resolve per bet. Evaluate and
// CashOut are meant to be called from a single loop; results arrive on pool
// goroutines.
type Monitor struct {
	resolver Resolver
	pool     *ants.Pool
	timeout  time.Duration
	pending  mapset.Set[uuid.UUID]
	done     mapset.Set[uuid.UUID]
	round    string

	onResolved func(models.Bet)
	onError    func(models.Bet, error)
}

// New creates a monitor with its own bounded dispatch pool.
func New(resolver Resolver, opts Options) (*Monitor, error) {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 8
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	pool, err := ants.NewPool(opts.PoolSize, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("create cashout pool: %w", err)
	}
	m := &Monitor{
		resolver:   resolver,
		pool:       pool,
		timeout:    opts.Timeout,
		pending:    mapset.NewSet[uuid.UUID](),
		done:       mapset.NewSet[uuid.UUID](),
		onResolved: opts.OnResolved,
		onError:    opts.OnError,
	}
	if m.onResolved == nil {
		m.onResolved = func(models.Bet) {}
	}
	if m.onError == nil {
		m.onError = func(models.Bet, error) {}
	}
	return m, nil
}

// Evaluate dispatches a resolve for every unresolved bet in mine whose
// auto_cashout_at has been reached, and returns the ids it dispatched.
func (m *Monitor) Evaluate(frame continuous.Frame, mine []models.Bet) []uuid.UUID {
	m.observeRound(frame.RoundID)
	if frame.Status != models.CrashStatusRunning {
		return nil
	}

	var dispatched []uuid.UUID
	for _, b := range mine {
		if b.Resolved() || b.AutoCashoutAt == nil || frame.Multiplier < *b.AutoCashoutAt {
			continue
		}
		if m.done.Contains(b.ID) {
			continue
		}
		if err := m.dispatch(b, *b.AutoCashoutAt); err == nil {
			dispatched = append(dispatched, b.ID)
		}
	}
	return dispatched
}

// CashOut resolves a bet manually at the frame's multiplier. It shares the
// pending guard with automatic cashouts.
func (m *Monitor) CashOut(frame continuous.Frame, bet models.Bet) error {
	m.observeRound(frame.RoundID)
	if frame.Status != models.CrashStatusRunning {
		return ErrNotRunning
	}
	if bet.Resolved() || m.done.Contains(bet.ID) {
		return ErrAlreadyResolved
	}
	return m.dispatch(bet, frame.Multiplier)
}

// Pending reports whether a resolve for id is in flight.
func (m *Monitor) Pending(id uuid.UUID) bool {
	return m.pending.Contains(id)
}

// Close waits up to timeout for in-flight resolves and releases the pool.
func (m *Monitor) Close(timeout time.Duration) error {
	return m.pool.ReleaseTimeout(timeout)
}

func (m *Monitor) observeRound(roundID string) {
	if roundID != m.round {
		m.round = roundID
		m.done.Clear()
	}
}

// dispatch adds the bet to the pending set before anything asynchronous
// happens; a bet already pending is not sent again.
func (m *Monitor) dispatch(bet models.Bet, multiplier float64) error {
	if !m.pending.Add(bet.ID) {
		return ErrCashoutPending
	}

	err := m.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()

		resolved, err := m.resolver.Resolve(ctx, bet, multiplier)
		if err != nil {
			if errors.Is(err, ErrRejected) {
				m.done.Add(bet.ID)
			}
			m.pending.Remove(bet.ID)
			m.onError(bet, err)
			return
		}
		m.onResolved(resolved)
		m.done.Add(bet.ID)
		m.pending.Remove(bet.ID)
	})
	if err != nil {
		m.pending.Remove(bet.ID)
		err = fmt.Errorf("dispatch cashout: %w", err)
		m.onError(bet, err)
		return err
	}
	return nil
}
