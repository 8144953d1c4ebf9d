package relay

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
)

type HealthStatus struct {
	Healthy           bool      `json:"healthy"`
	Published         uint64    `json:"published"`
	LastPublished     time.Time `json:"last_published"`
	PendingChanges    int       `json:"pending_changes"`
	DatabaseConnected bool      `json:"database_connected"`
	NATSConnected     bool      `json:"nats_connected"`
	ListenerActive    bool      `json:"listener_active"`
	Errors            []string  `json:"errors"`
}

// HealthChecker reports whether the relay is keeping up with the outbox.
type HealthChecker struct {
	listener  *Listener
	store     Store
	db        *sql.DB
	connected func() bool
	threshold time.Duration
	clock     clockwork.Clock
}

func NewHealthChecker(listener *Listener, store Store, db *sql.DB, connected func() bool, threshold time.Duration, clock clockwork.Clock) *HealthChecker {
	return &HealthChecker{
		listener:  listener,
		store:     store,
		db:        db,
		connected: connected,
		threshold: threshold,
		clock:     clock,
	}
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{Healthy: true, Errors: []string{}}

	status.Published, status.LastPublished, status.ListenerActive = h.listener.Stats()
	if !status.ListenerActive {
		status.Healthy = false
		status.Errors = append(status.Errors, "listener not active")
	}

	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("database ping failed: %v", err))
		} else {
			status.DatabaseConnected = true
		}
	}

	if h.connected != nil {
		status.NATSConnected = h.connected()
		if !status.NATSConnected {
			status.Healthy = false
			status.Errors = append(status.Errors, "NATS disconnected")
		}
	}

	if status.DatabaseConnected {
		pending, err := h.store.CountPending(ctx)
		if err != nil {
			status.Errors = append(status.Errors, fmt.Sprintf("count pending: %v", err))
		}
		status.PendingChanges = pending
	}

	// A backlog that is not draining means publishing is stuck.
	if status.PendingChanges > 0 && !status.LastPublished.IsZero() {
		if idle := h.clock.Since(status.LastPublished); idle > h.threshold {
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("no changes published for %s", idle))
		}
	}
	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)
	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}
