package models

import (
	"time"

	"github.com/google/uuid"
)

// HistoryItem is the immutable record of a settled round's outcome.
type HistoryItem struct {
	RoundID       uuid.UUID  `json:"round_id"`
	Game          Game       `json:"game"`
	CrashPoint    *float64   `json:"crash_point,omitempty"`
	WinningNumber *int       `json:"winning_number,omitempty"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
}

// HistoryFromRound builds a history item from a settled round.
func HistoryFromRound(r Round) HistoryItem {
	c := r.Clone()
	return HistoryItem{
		RoundID:       c.ID,
		Game:          c.Game,
		CrashPoint:    c.CrashPoint,
		WinningNumber: c.WinningNumber,
		EndedAt:       c.EndedAt,
	}
}

// History is a bounded most-recent-first sequence of settled outcomes.
// It is not safe for concurrent use.
type History struct {
	limit int
	items []HistoryItem
}

// NewHistory returns an empty history holding at most limit items.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = 30
	}
	return &History{limit: limit}
}

// Push inserts an item by EndedAt, newest first. Items without an end time go
// to the front. A round already present, or one older than every item a full
// history keeps, is ignored.
func (h *History) Push(item HistoryItem) bool {
	for _, existing := range h.items {
		if existing.RoundID == item.RoundID {
			return false
		}
	}
	at := 0
	if item.EndedAt != nil {
		for at < len(h.items) && !endedBefore(h.items[at], *item.EndedAt) {
			at++
		}
	}
	if at >= h.limit {
		return false
	}
	h.items = append(h.items, HistoryItem{})
	copy(h.items[at+1:], h.items[at:])
	h.items[at] = item
	if len(h.items) > h.limit {
		h.items = h.items[:h.limit]
	}
	return true
}

func endedBefore(it HistoryItem, t time.Time) bool {
	return it.EndedAt != nil && it.EndedAt.Before(t)
}

// Replace swaps the whole sequence, e.g. with the result of a history query.
// Items are expected most-recent-first.
func (h *History) Replace(items []HistoryItem) {
	h.items = h.items[:0]
	for i := len(items) - 1; i >= 0; i-- {
		h.Push(items[i])
	}
}

// Items returns a copy of the sequence.
func (h *History) Items() []HistoryItem {
	out := make([]HistoryItem, len(h.items))
	copy(out, h.items)
	return out
}

// Len returns the number of stored items.
func (h *History) Len() int {
	return len(h.items)
}
