// Package roundstate holds the latest authoritative round of one game and the
// bets placed in it, reconciling the push feed and the reconciliation poll.
package roundstate

import (
	"context"
	"errors"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/Pinkyx99/gamdom2-sub000/go/internal/game/continuous"
	"github.com/Pinkyx99/gamdom2-sub000/go/internal/game/events"
	"github.com/Pinkyx99/gamdom2-sub000/go/internal/game/gameconfig"
	"github.com/Pinkyx99/gamdom2-sub000/go/internal/game/ledger"
	"github.com/Pinkyx99/gamdom2-sub000/go/internal/models"
)

const (
	// retiredLimit bounds how many superseded round ids are remembered.
	retiredLimit = 64
	// earlyRoundLimit and earlyBetLimit bound bets buffered for rounds that
	// have not been observed yet.
	earlyRoundLimit = 4
	earlyBetLimit   = 512
)

// ErrWrongGame is returned when a change for another game is applied.
var ErrWrongGame = errors.New("change belongs to another game")

// Store is the client-side view of one game. All reads and writes go through
// one mutex so a snapshot never mixes bets of one round with the timestamps of
// the next.
type Store struct {
	game     models.Game
	userID   string
	settings gameconfig.Settings
	frames   continuous.Clock
	clock    clockwork.Clock

	mu         sync.Mutex
	state      State
	stateRound uuid.UUID
	current    *models.Round
	settledAt  time.Time
	stale      bool
	bets       *ledger.Ledger
	early      map[uuid.UUID][]models.Bet
	retired    mapset.Set[uuid.UUID]
	retiredQ   []uuid.UUID
	history    *models.History
	observers  []func(Transition)
}

// New returns a store for game as seen by userID. It starts in the
// connecting state until the first round arrives.
func New(game models.Game, userID string, settings gameconfig.Settings, clock clockwork.Clock) *Store {
	return &Store{
		game:     game,
		userID:   userID,
		settings: settings,
		frames:   continuous.NewClock(settings),
		clock:    clock,
		state:    StateConnecting,
		bets:     ledger.New(uuid.Nil),
		early:    make(map[uuid.UUID][]models.Bet),
		retired:  mapset.NewThreadUnsafeSet[uuid.UUID](),
		history:  models.NewHistory(settings.HistoryLimit),
	}
}

// Game returns the game the store tracks.
func (s *Store) Game() models.Game {
	return s.game
}

// OnTransition registers an observer. Observers run on the goroutine that
// caused the transition, after the store lock has been released.
func (s *Store) OnTransition(fn func(Transition)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// State returns the current display state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Current returns a copy of the held round.
func (s *Store) Current() (models.Round, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return models.Round{}, false
	}
	return s.current.Clone(), true
}

// ApplyRound ingests one observation of a round. It reports whether the
// observation changed the held round; stale rounds only update history.
func (s *Store) ApplyRound(r models.Round) bool {
	if r.Game != "" && r.Game != s.game {
		return false
	}
	r.Game = s.game

	s.mu.Lock()
	now := s.clock.Now()
	applied := s.applyRoundLocked(r, now)
	ts := s.advanceLocked(now)
	observers := s.observers
	s.mu.Unlock()

	notify(observers, ts)
	return applied
}

func (s *Store) applyRoundLocked(r models.Round, now time.Time) bool {
	switch {
	case s.retired.Contains(r.ID):
		s.recordHistoryLocked(r)
		return false
	case s.current == nil:
		s.rolloverLocked(r)
	case r.ID == s.current.ID:
		merged := s.current.Merge(r)
		s.current = &merged
	case !r.CreatedAt.IsZero() && r.CreatedAt.Before(s.current.CreatedAt):
		s.recordHistoryLocked(r)
		return false
	default:
		s.rolloverLocked(r)
	}

	s.stale = false
	if s.current.Status.Terminal() && s.settledAt.IsZero() {
		s.settledAt = now
	}
	s.recordHistoryLocked(*s.current)
	return true
}

// rolloverLocked retires the held round, clears the ledger, adopts r and
// replays the bets that arrived for r before r itself did.
func (s *Store) rolloverLocked(r models.Round) {
	if s.current != nil {
		s.recordHistoryLocked(*s.current)
		s.retireLocked(s.current.ID)
	}
	adopted := r.Clone()
	s.current = &adopted
	s.settledAt = time.Time{}
	s.bets.Reset(adopted.ID)
	for _, b := range s.early[adopted.ID] {
		s.bets.RecordOrUpdate(b)
	}
	s.early = make(map[uuid.UUID][]models.Bet)
}

func (s *Store) retireLocked(id uuid.UUID) {
	if !s.retired.Add(id) {
		return
	}
	s.retiredQ = append(s.retiredQ, id)
	if len(s.retiredQ) > retiredLimit {
		s.retired.Remove(s.retiredQ[0])
		s.retiredQ = s.retiredQ[1:]
	}
}

func (s *Store) recordHistoryLocked(r models.Round) {
	if r.Status.Terminal() && r.Settled() {
		s.history.Push(models.HistoryFromRound(r))
	}
}

// ApplyBet ingests one observation of a bet. Bets for a round that has not
// been seen yet are buffered and replayed on rollover; bets of retired rounds
// are dropped.
func (s *Store) ApplyBet(b models.Bet) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && b.RoundID == s.current.ID {
		return s.bets.RecordOrUpdate(b)
	}
	if s.retired.Contains(b.RoundID) {
		return false
	}
	pending, ok := s.early[b.RoundID]
	if !ok && len(s.early) >= earlyRoundLimit {
		return false
	}
	if len(pending) < earlyBetLimit {
		s.early[b.RoundID] = append(pending, b)
	}
	return false
}

// Apply decodes a feed change and ingests it.
func (s *Store) Apply(ch events.Change) error {
	if err := ch.Validate(); err != nil {
		return err
	}
	if ch.Game != s.game {
		return ErrWrongGame
	}
	switch ch.Table {
	case events.TableRounds:
		r, err := events.DecodeRound(ch.Game, ch.Record)
		if err != nil {
			return err
		}
		s.ApplyRound(r)
	case events.TableBets:
		b, err := events.DecodeBet(ch.Game, ch.Record)
		if err != nil {
			return err
		}
		s.ApplyBet(b)
	}
	return nil
}

// Reconcile ingests a polled snapshot of the current round and its bets.
func (s *Store) Reconcile(r models.Round, bets []models.Bet) {
	s.ApplyRound(r)
	for _, b := range bets {
		s.ApplyBet(b)
	}
}

// ReplaceHistory swaps the history with a queried list, most recent first.
func (s *Store) ReplaceHistory(items []models.HistoryItem) {
	kept := make([]models.HistoryItem, 0, len(items))
	for _, it := range items {
		if it.Game == s.game && (it.CrashPoint != nil || it.WinningNumber != nil) {
			kept = append(kept, it)
		}
	}
	s.mu.Lock()
	s.history.Replace(kept)
	s.mu.Unlock()
}

// MarkDisconnected shows the connecting state until a fresh round
// observation arrives. Round data is kept so the countdown can continue.
func (s *Store) MarkDisconnected() {
	s.mu.Lock()
	s.stale = true
	ts := s.advanceLocked(s.clock.Now())
	observers := s.observers
	s.mu.Unlock()

	notify(observers, ts)
}

// Tick drives the local timed transitions and returns the resulting state.
func (s *Store) Tick(now time.Time) State {
	s.mu.Lock()
	ts := s.advanceLocked(now)
	state := s.state
	observers := s.observers
	s.mu.Unlock()

	notify(observers, ts)
	return state
}

func (s *Store) deriveLocked(now time.Time) State {
	if s.current == nil || s.stale {
		return StateConnecting
	}
	st := stateOf(s.current.Status)
	if st == StateCrashed && !s.settledAt.IsZero() && !now.Before(s.settledAt.Add(s.settings.CrashedHold)) {
		return StateResetting
	}
	return st
}

func (s *Store) advanceLocked(now time.Time) []Transition {
	next := s.deriveLocked(now)
	var round uuid.UUID
	if s.current != nil {
		round = s.current.ID
	}
	if next == s.state && round == s.stateRound {
		return nil
	}
	t := Transition{From: s.state, To: next, RoundID: round, At: now}
	s.state = next
	s.stateRound = round
	return []Transition{t}
}

func notify(observers []func(Transition), ts []Transition) {
	for _, t := range ts {
		for _, fn := range observers {
			fn(t)
		}
	}
}

// Snapshot reads the round, its derived frame and its bets under one lock.
func (s *Store) Snapshot(now time.Time) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		State:     s.deriveLocked(now),
		Bets:      s.bets.All(),
		Aggregate: s.bets.Aggregate(),
		History:   s.history.Items(),
	}
	if s.userID != "" {
		snap.Mine = s.bets.Mine(s.userID)
	}

	switch {
	case s.current == nil:
		snap.Frame = s.frames.Initial(models.OpenStatus(s.game))
		snap.Frame.At = now
	case snap.State == StateResetting:
		// The settled round's bets go with its frame.
		snap.Frame = s.frames.Initial(models.OpenStatus(s.game))
		snap.Frame.At = now
		empty := ledger.New(s.current.ID)
		snap.Bets = empty.All()
		snap.Aggregate = empty.Aggregate()
		if s.userID != "" {
			snap.Mine = empty.Mine(s.userID)
		}
		round := s.current.Clone()
		snap.Round = &round
	default:
		snap.Frame = s.frames.Frame(*s.current, now)
		round := s.current.Clone()
		snap.Round = &round
	}
	return snap
}

// Run consumes feed until ctx is done or the feed closes. A closed feed marks
// the store disconnected.
func (s *Store) Run(ctx context.Context, feed <-chan events.Change) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ch, ok := <-feed:
			if !ok {
				s.MarkDisconnected()
				return nil
			}
			if err := s.Apply(ch); err != nil {
				log.Warn().Err(err).Str("event_id", ch.EventID).Str("game", string(s.game)).Msg("dropping feed change")
			}
		}
	}
}
