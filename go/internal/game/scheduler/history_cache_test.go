package scheduler

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Pinkyx99/gamdom2-sub000/go/internal/models"
)

func TestFillIsStale(t *testing.T) {
	at := func(sec int) *time.Time {
		v := base.Add(time.Duration(sec) * time.Second)
		return &v
	}
	older := models.HistoryItem{RoundID: uuid.New(), EndedAt: at(10)}
	newer := models.HistoryItem{RoundID: uuid.New(), EndedAt: at(20)}
	newest := models.HistoryItem{RoundID: uuid.New(), EndedAt: at(30)}

	tests := []struct {
		name  string
		head  models.HistoryItem
		items []models.HistoryItem
		want  bool
	}{
		{name: "nothing to write", head: newer, items: nil, want: true},
		{name: "head in query result", head: newer, items: []models.HistoryItem{newer, older}, want: false},
		{name: "head settled after query", head: newest, items: []models.HistoryItem{newer, older}, want: true},
		{name: "head older than query result", head: older, items: []models.HistoryItem{newest, newer}, want: false},
		{name: "head without end time", head: models.HistoryItem{RoundID: uuid.New()}, items: []models.HistoryItem{newer}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fillIsStale(tt.head, tt.items); got != tt.want {
				t.Errorf("fillIsStale = %v, want %v", got, tt.want)
			}
		})
	}
}
