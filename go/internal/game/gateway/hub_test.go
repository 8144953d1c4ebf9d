package gateway

import (
	"encoding/json"
	"testing"

	"github.com/Pinkyx99/gamdom2-sub000/go/internal/game/events"
	"github.com/Pinkyx99/gamdom2-sub000/go/internal/models"
)

func change(game models.Game, id string) events.Change {
	return events.Change{EventID: id, Game: game, Table: events.TableRounds, Op: events.OpInsert, Record: json.RawMessage(`{}`)}
}

func TestHubRoutesByGame(t *testing.T) {
	hub := NewHub()
	crash := hub.Subscribe(models.GameCrash, 4)
	roulette := hub.Subscribe(models.GameRoulette, 4)

	if n := hub.Publish(change(models.GameCrash, "1")); n != 1 {
		t.Fatalf("Publish() delivered to %d, want 1", n)
	}
	if got := (<-crash.Changes).EventID; got != "1" {
		t.Errorf("crash got %s, want 1", got)
	}
	select {
	case ch := <-roulette.Changes:
		t.Errorf("roulette subscriber got %s", ch.EventID)
	default:
	}
}

func TestHubDropsForFullSubscriber(t *testing.T) {
	hub := NewHub()
	slow := hub.Subscribe(models.GameCrash, 1)
	fast := hub.Subscribe(models.GameCrash, 4)

	hub.Publish(change(models.GameCrash, "1"))
	if n := hub.Publish(change(models.GameCrash, "2")); n != 1 {
		t.Errorf("second Publish() delivered to %d, want 1", n)
	}
	if len(slow.Changes) != 1 || len(fast.Changes) != 2 {
		t.Errorf("buffered slow=%d fast=%d, want 1 and 2", len(slow.Changes), len(fast.Changes))
	}
}

func TestHubLinkKeepsLatest(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe(models.GameCrash, 1)

	hub.SetLink(false)
	hub.SetLink(true)
	hub.SetLink(false)

	if up := <-sub.Link; up {
		t.Error("link = up, want down")
	}
	select {
	case up := <-sub.Link:
		t.Errorf("extra link value %v", up)
	default:
	}

	late := hub.Subscribe(models.GameRoulette, 1)
	if up := <-late.Link; up {
		t.Error("late subscriber should start with the link down")
	}
}

func TestHubUnsubscribeAndClose(t *testing.T) {
	hub := NewHub()
	a := hub.Subscribe(models.GameCrash, 1)
	b := hub.Subscribe(models.GameCrash, 1)

	hub.Unsubscribe(a)
	hub.Unsubscribe(a)
	if _, ok := <-a.Changes; ok {
		t.Error("unsubscribed channel should be closed")
	}
	if got := hub.Counts()[models.GameCrash]; got != 1 {
		t.Errorf("Counts() = %d, want 1", got)
	}

	hub.Close()
	if _, ok := <-b.Changes; ok {
		t.Error("Close() should close every subscription")
	}
	hub.Unsubscribe(b)

	c := hub.Subscribe(models.GameCrash, 1)
	if _, ok := <-c.Changes; ok {
		t.Error("subscription after Close() should start closed")
	}
}
