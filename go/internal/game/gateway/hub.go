package gateway

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Pinkyx99/gamdom2-sub000/go/internal/game/events"
	"github.com/Pinkyx99/gamdom2-sub000/go/internal/models"
)

// Subscription receives the feed changes of one game. Link carries the
// latest feed connectivity; only the newest value is kept.
type Subscription struct {
	Game    models.Game
	Changes <-chan events.Change
	Link    <-chan bool

	changes chan events.Change
	link    chan bool
}

// Hub fans feed changes out to the sessions of each game.
type Hub struct {
	mu     sync.RWMutex
	subs   map[models.Game]map[*Subscription]struct{}
	linkUp bool
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[models.Game]map[*Subscription]struct{}), linkUp: true}
}

// Subscribe registers a subscriber with a buffer of size changes.
func (h *Hub) Subscribe(game models.Game, size int) *Subscription {
	changes := make(chan events.Change, size)
	link := make(chan bool, 1)
	sub := &Subscription{Game: game, Changes: changes, Link: link, changes: changes, link: link}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(changes)
		return sub
	}
	if h.subs[game] == nil {
		h.subs[game] = make(map[*Subscription]struct{})
	}
	h.subs[game][sub] = struct{}{}
	if !h.linkUp {
		link <- false
	}
	return sub
}

// Unsubscribe removes sub and closes its change channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.subs[sub.Game]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	close(sub.changes)
	if len(subs) == 0 {
		delete(h.subs, sub.Game)
	}
}

// Publish delivers ch to every subscriber of its game and returns how many
// took it. A subscriber with a full buffer misses the change; its next poll
// reconciles.
func (h *Hub) Publish(ch events.Change) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for sub := range h.subs[ch.Game] {
		select {
		case sub.changes <- ch:
			delivered++
		default:
			log.Warn().Str("game", string(ch.Game)).Str("event_id", ch.EventID).Msg("subscriber buffer full, dropping change")
		}
	}
	return delivered
}

// SetLink records feed connectivity and tells every subscriber.
func (h *Hub) SetLink(up bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.linkUp == up {
		return
	}
	h.linkUp = up
	for _, subs := range h.subs {
		for sub := range subs {
			select {
			case <-sub.link:
			default:
			}
			sub.link <- up
		}
	}
}

// Close closes every subscription. Later subscriptions start closed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for game, subs := range h.subs {
		for sub := range subs {
			close(sub.changes)
		}
		delete(h.subs, game)
	}
}

// Counts returns the number of subscribers per game.
func (h *Hub) Counts() map[models.Game]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[models.Game]int, len(h.subs))
	for game, subs := range h.subs {
		out[game] = len(subs)
	}
	return out
}
