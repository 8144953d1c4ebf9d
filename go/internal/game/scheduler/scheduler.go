// Package scheduler is the authoritative round driver. It is the only writer
// of round status: it opens a round, starts it when the betting window
// closes, settles it from the committed seeds and opens the next one.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/Pinkyx99/gamdom2-sub000/go/internal/game/continuous"
	"github.com/Pinkyx99/gamdom2-sub000/go/internal/game/fairness"
	"github.com/Pinkyx99/gamdom2-sub000/go/internal/game/gameconfig"
	"github.com/Pinkyx99/gamdom2-sub000/go/internal/models"
)

// minWait keeps the run loop from spinning when a deadline is already due.
const minWait = 10 * time.Millisecond

// maxHistory is the largest history page served.
const maxHistory = 50

// liveRound caches the hidden outcome of the running crash round.
type liveRound struct {
	id      uuid.UUID
	seed    string
	point   float64
	crashAt time.Time
}

// Scheduler drives the rounds of one game.
type Scheduler struct {
	game       models.Game
	settings   gameconfig.Settings
	repo       Repository
	cache      HistoryCache
	clock      clockwork.Clock
	seeds      SeedSource
	instanceID string
	wakeCh     chan struct{}

	mu   sync.Mutex
	live *liveRound
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the real clock, e.g. with a fake one in tests.
func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithSeeds replaces the crypto/rand seed source.
func WithSeeds(fn SeedSource) Option {
	return func(s *Scheduler) { s.seeds = fn }
}

// WithHistoryCache serves history from a cache before hitting Postgres.
func WithHistoryCache(c HistoryCache) Option {
	return func(s *Scheduler) { s.cache = c }
}

// New creates a scheduler for one game.
func New(game models.Game, settings gameconfig.Settings, repo Repository, opts ...Option) *Scheduler {
	s := &Scheduler{
		game:       game,
		settings:   settings,
		repo:       repo,
		clock:      clockwork.NewRealClock(),
		seeds:      RandomSeeds,
		instanceID: uuid.New().String()[:8],
		wakeCh:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Game returns the game this scheduler drives.
func (s *Scheduler) Game() models.Game {
	return s.game
}

// Wake makes Run re-evaluate the current round immediately.
func (s *Scheduler) Wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// Run advances rounds until ctx is cancelled. It sleeps until the current
// phase deadline, never longer than the poll interval.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Info().
		Str("game", string(s.game)).
		Str("instance", s.instanceID).
		Msg("round scheduler started")

	for {
		wait := s.settings.PollInterval
		r, err := s.Tick(ctx)
		if err != nil {
			log.Error().Err(err).Str("game", string(s.game)).Msg("failed to advance round")
		} else if d := s.untilDeadline(r); d < wait {
			wait = d
		}
		if wait < minWait {
			wait = minWait
		}

		timer := s.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Str("game", string(s.game)).Str("instance", s.instanceID).Msg("round scheduler stopped")
			return nil
		case <-timer.Chan():
		case <-s.wakeCh:
			if !timer.Stop() {
				select {
				case <-timer.Chan():
				default:
				}
			}
		}
	}
}

// Tick advances the current round by at most one step if its phase is over.
// It is idempotent: calling it again before the next deadline changes nothing.
func (s *Scheduler) Tick(ctx context.Context) (models.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advanceLocked(ctx)
}

func (s *Scheduler) advanceLocked(ctx context.Context) (models.Round, error) {
	now := s.clock.Now()
	r, err := s.repo.LatestRound(ctx, s.game)
	if errors.Is(err, ErrNoRound) {
		return s.createRound(ctx, now, 1)
	}
	if err != nil {
		return models.Round{}, fmt.Errorf("load latest %s round: %w", s.game, err)
	}

	switch r.Status {
	case models.CrashStatusWaiting, models.RouletteStatusBetting:
		if now.Before(r.CreatedAt.Add(s.openDuration())) {
			return r, nil
		}
		return s.start(ctx, r, now)

	case models.CrashStatusRunning:
		live, err := s.liveFor(ctx, r)
		if err != nil {
			return r, err
		}
		if now.Before(live.crashAt) {
			return r, nil
		}
		point := live.point
		return s.settle(ctx, r, Settlement{EndedAt: live.crashAt, CrashPoint: &point, ServerSeed: live.seed})

	case models.RouletteStatusSpinning:
		end := s.phaseEnd(r)
		if now.Before(end) {
			return r, nil
		}
		seed, err := s.repo.ServerSeed(ctx, s.game, r.ID)
		if err != nil {
			return r, fmt.Errorf("load server seed of round %s: %w", r.ID, err)
		}
		n := fairness.RouletteNumber(models.SeedPair{ServerSeed: seed, ClientSeed: r.PublicSeed, Nonce: r.Nonce})
		return s.settle(ctx, r, Settlement{EndedAt: end, WinningNumber: &n, ServerSeed: seed})

	case models.CrashStatusCrashed, models.RouletteStatusEnded:
		if now.Before(s.phaseEnd(r)) {
			return r, nil
		}
		return s.createRound(ctx, now, r.Nonce+1)
	}
	return r, fmt.Errorf("round %s has unknown status %q", r.ID, r.Status)
}

func (s *Scheduler) createRound(ctx context.Context, now time.Time, nonce int64) (models.Round, error) {
	serverSeed, publicSeed, err := s.seeds()
	if err != nil {
		return models.Round{}, fmt.Errorf("generate seeds: %w", err)
	}
	r := models.Round{
		ID:         uuid.New(),
		Game:       s.game,
		Status:     models.OpenStatus(s.game),
		CreatedAt:  now,
		SeedHash:   fairness.Commitment(serverSeed),
		PublicSeed: publicSeed,
		Nonce:      nonce,
	}
	if err := s.repo.CreateRound(ctx, r, serverSeed); err != nil {
		return models.Round{}, fmt.Errorf("create %s round: %w", s.game, err)
	}
	s.live = nil

	log.Info().
		Str("game", string(s.game)).
		Str("round_id", r.ID.String()).
		Int64("nonce", nonce).
		Msg("round opened")
	return r, nil
}

func (s *Scheduler) start(ctx context.Context, r models.Round, now time.Time) (models.Round, error) {
	ok, err := s.repo.StartRound(ctx, s.game, r.ID, now)
	if err != nil {
		return r, fmt.Errorf("start round %s: %w", r.ID, err)
	}
	if !ok {
		// another instance moved it first
		return s.repo.LatestRound(ctx, s.game)
	}
	r.Status = liveStatus(s.game)
	r.StartedAt = &now

	log.Info().
		Str("game", string(s.game)).
		Str("round_id", r.ID.String()).
		Msg("round started")
	return r, nil
}

func (s *Scheduler) settle(ctx context.Context, r models.Round, st Settlement) (models.Round, error) {
	ok, err := s.repo.SettleRound(ctx, s.game, r.ID, st)
	if err != nil {
		return r, fmt.Errorf("settle round %s: %w", r.ID, err)
	}
	s.live = nil
	if !ok {
		return s.repo.LatestRound(ctx, s.game)
	}

	seed := st.ServerSeed
	r.Status = terminalStatus(s.game)
	r.EndedAt = &st.EndedAt
	r.CrashPoint = st.CrashPoint
	r.WinningNumber = st.WinningNumber
	r.ServerSeed = &seed

	if s.cache != nil {
		if err := s.cache.Push(ctx, models.HistoryFromRound(r)); err != nil {
			log.Warn().Err(err).Str("round_id", r.ID.String()).Msg("failed to cache history item")
		}
	}

	ev := log.Info().Str("game", string(s.game)).Str("round_id", r.ID.String())
	if r.CrashPoint != nil {
		ev = ev.Float64("crash_point", *r.CrashPoint)
	}
	if r.WinningNumber != nil {
		ev = ev.Int("winning_number", *r.WinningNumber)
	}
	ev.Msg("round settled")
	return r, nil
}

// liveFor loads and caches the crash point of a running round.
func (s *Scheduler) liveFor(ctx context.Context, r models.Round) (*liveRound, error) {
	if s.live != nil && s.live.id == r.ID {
		return s.live, nil
	}
	seed, err := s.repo.ServerSeed(ctx, s.game, r.ID)
	if err != nil {
		return nil, fmt.Errorf("load server seed of round %s: %w", r.ID, err)
	}
	point := fairness.CrashPoint(models.SeedPair{ServerSeed: seed, ClientSeed: r.PublicSeed, Nonce: r.Nonce})
	started := r.CreatedAt
	if r.StartedAt != nil {
		started = *r.StartedAt
	}
	s.live = &liveRound{
		id:      r.ID,
		seed:    seed,
		point:   point,
		crashAt: started.Add(continuous.CrashTime(s.settings.GrowthRate, point)),
	}
	return s.live, nil
}

func (s *Scheduler) untilDeadline(r models.Round) time.Duration {
	var deadline time.Time
	switch r.Status {
	case models.CrashStatusRunning:
		s.mu.Lock()
		live := s.live
		s.mu.Unlock()
		if live == nil || live.id != r.ID {
			return 0
		}
		deadline = live.crashAt
	default:
		deadline = s.phaseEnd(r)
	}
	return deadline.Sub(s.clock.Now())
}

// phaseEnd returns when the round's current phase is over.
func (s *Scheduler) phaseEnd(r models.Round) time.Time {
	switch r.Status {
	case models.CrashStatusWaiting, models.RouletteStatusBetting:
		return r.CreatedAt.Add(s.openDuration())
	case models.RouletteStatusSpinning:
		if r.StartedAt == nil {
			return r.CreatedAt.Add(s.openDuration())
		}
		return r.StartedAt.Add(s.settings.SpinningDuration)
	case models.CrashStatusCrashed, models.RouletteStatusEnded:
		end := r.CreatedAt
		if r.EndedAt != nil {
			end = *r.EndedAt
		}
		return end.Add(s.holdDuration())
	}
	return r.CreatedAt
}

func (s *Scheduler) openDuration() time.Duration {
	if s.game == models.GameRoulette {
		return s.settings.BettingDuration
	}
	return s.settings.WaitingDuration
}

func (s *Scheduler) holdDuration() time.Duration {
	if s.game == models.GameRoulette {
		return s.settings.EndedHold
	}
	return s.settings.CrashedHold
}

func liveStatus(g models.Game) models.RoundStatus {
	if g == models.GameRoulette {
		return models.RouletteStatusSpinning
	}
	return models.CrashStatusRunning
}

func terminalStatus(g models.Game) models.RoundStatus {
	if g == models.GameRoulette {
		return models.RouletteStatusEnded
	}
	return models.CrashStatusCrashed
}

// PlaceBet validates a bet and passes it to the place-bet stored function.
// Bets are only accepted while the target round is in its open phase.
func (s *Scheduler) PlaceBet(ctx context.Context, p PlaceBetParams) (uuid.UUID, error) {
	if err := s.validateBet(p); err != nil {
		return uuid.Nil, err
	}

	// The lock keeps the run loop from starting the round between the
	// open-phase check and the insert.
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.advanceLocked(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	if r.ID != p.RoundID || r.Status != models.OpenStatus(s.game) {
		return uuid.Nil, ErrRoundNotOpen
	}

	id, err := s.repo.PlaceBet(ctx, s.game, p)
	if err != nil {
		return uuid.Nil, err
	}
	log.Debug().
		Str("game", string(s.game)).
		Str("round_id", p.RoundID.String()).
		Str("bet_id", id.String()).
		Msg("bet placed")
	return id, nil
}

func (s *Scheduler) validateBet(p PlaceBetParams) error {
	if p.UserID == "" {
		return fmt.Errorf("%w: missing user", ErrInvalidBet)
	}
	if !p.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidBet)
	}
	switch s.game {
	case models.GameCrash:
		if p.Color != nil {
			return fmt.Errorf("%w: crash bets have no color", ErrInvalidBet)
		}
		if p.AutoCashoutAt != nil && *p.AutoCashoutAt <= 1 {
			return fmt.Errorf("%w: auto cashout must be above 1.00", ErrInvalidBet)
		}
		if p.AutoCashoutAt != nil && !models.WholeCents(*p.AutoCashoutAt) {
			return fmt.Errorf("%w: auto cashout must be in whole cents", ErrInvalidBet)
		}
	case models.GameRoulette:
		if p.Color == nil || !p.Color.Valid() {
			return fmt.Errorf("%w: pick green, red or black", ErrInvalidBet)
		}
		if p.AutoCashoutAt != nil {
			return fmt.Errorf("%w: roulette bets have no auto cashout", ErrInvalidBet)
		}
	}
	return nil
}

// ResolveBet cashes out a crash bet. The requested multiplier is clamped to
// the authoritative multiplier at the time of the request, so a client with a
// fast clock can never cash out above what the round actually reached.
func (s *Scheduler) ResolveBet(ctx context.Context, p CashoutParams) (models.Bet, error) {
	if s.game != models.GameCrash {
		return models.Bet{}, ErrWrongGame
	}
	if p.Multiplier < 1 || math.IsNaN(p.Multiplier) {
		return models.Bet{}, fmt.Errorf("%w: multiplier below 1.00", ErrInvalidBet)
	}

	s.mu.Lock()
	r, err := s.advanceLocked(ctx)
	var live *liveRound
	if err == nil && r.Status == models.CrashStatusRunning {
		live, err = s.liveFor(ctx, r)
	}
	s.mu.Unlock()
	if err != nil {
		return models.Bet{}, err
	}
	if live == nil {
		return models.Bet{}, ErrRoundNotRunning
	}

	bet, err := s.repo.GetBet(ctx, s.game, p.BetID)
	if err != nil {
		return models.Bet{}, err
	}
	if bet.UserID != p.UserID {
		return models.Bet{}, ErrBetNotFound
	}
	if bet.RoundID != r.ID {
		return models.Bet{}, ErrRoundNotRunning
	}
	if bet.Resolved() {
		return models.Bet{}, ErrBetResolved
	}

	now := s.clock.Now()
	if !now.Before(live.crashAt) {
		return models.Bet{}, ErrRoundNotRunning
	}
	authoritative := continuous.Multiplier(s.settings.GrowthRate, *r.StartedAt, now)
	m := math.Floor(math.Min(p.Multiplier, authoritative)*100) / 100
	if m < 1 {
		m = 1
	}

	resolved, err := s.repo.CashoutBet(ctx, CashoutParams{BetID: p.BetID, UserID: p.UserID, Multiplier: m})
	if err != nil {
		return models.Bet{}, err
	}
	log.Debug().
		Str("round_id", r.ID.String()).
		Str("bet_id", p.BetID.String()).
		Float64("multiplier", m).
		Msg("bet cashed out")
	return resolved, nil
}

// History returns the last settled outcomes, newest first.
func (s *Scheduler) History(ctx context.Context, limit int) ([]models.HistoryItem, error) {
	if limit <= 0 {
		limit = s.settings.HistoryLimit
	}
	if limit > maxHistory {
		limit = maxHistory
	}

	if s.cache != nil {
		items, err := s.cache.Recent(ctx, s.game, limit)
		if err != nil {
			log.Warn().Err(err).Str("game", string(s.game)).Msg("history cache unavailable")
		} else if len(items) >= limit {
			return items, nil
		}
	}

	// Settlement pushes to the cache under the same lock, so a refill can
	// not overwrite a round that settled during the query.
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := s.repo.History(ctx, s.game, limit)
	if err != nil {
		return nil, fmt.Errorf("load %s history: %w", s.game, err)
	}
	if s.cache != nil && len(items) > 0 {
		if err := s.cache.Fill(ctx, s.game, items); err != nil {
			log.Warn().Err(err).Str("game", string(s.game)).Msg("failed to fill history cache")
		}
	}
	return items, nil
}

// Snapshot returns the current round and its bets for reconciliation. The
// server seed stays hidden until the round is settled.
func (s *Scheduler) Snapshot(ctx context.Context) (models.Round, []models.Bet, error) {
	r, err := s.repo.LatestRound(ctx, s.game)
	if err != nil {
		return models.Round{}, nil, err
	}
	bets, err := s.repo.Bets(ctx, s.game, r.ID)
	if err != nil {
		return models.Round{}, nil, fmt.Errorf("load bets of round %s: %w", r.ID, err)
	}
	return r, bets, nil
}
