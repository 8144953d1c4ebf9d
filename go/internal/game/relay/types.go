// Package relay moves row changes from the Postgres change outbox onto the
// NATS JetStream push feed.
package relay

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"

	"github.com/Pinkyx99/gamdom2-sub000/go/internal/game/events"
	"github.com/Pinkyx99/gamdom2-sub000/go/internal/models"
)

// OutboxRow is one row of change_outbox, written by the row triggers on the
// round and bet tables.
type OutboxRow struct {
	ID        uuid.UUID
	Game      models.Game
	Table     events.Table
	Op        events.Op
	Record    json.RawMessage
	OldRecord pqtype.NullRawMessage
	CreatedAt time.Time
	SentAt    *time.Time
}

// Change converts the row into the feed envelope. The outbox id doubles as
// the event id so JetStream can drop redelivered publishes.
func (r OutboxRow) Change() (events.Change, error) {
	ch := events.Change{
		EventID:   r.ID.String(),
		Game:      r.Game,
		Table:     r.Table,
		Op:        r.Op,
		Timestamp: r.CreatedAt.UTC(),
		Record:    r.Record,
	}
	if err := ch.Validate(); err != nil {
		return events.Change{}, fmt.Errorf("outbox row %s: %w", r.ID, err)
	}
	return ch, nil
}

// Unchanged reports whether an UPDATE left the record as it was, which
// happens when a conditional write re-sets the same values.
func (r OutboxRow) Unchanged() bool {
	if r.Op != events.OpUpdate || !r.OldRecord.Valid {
		return false
	}
	var before, after any
	if json.Unmarshal(r.OldRecord.RawMessage, &before) != nil || json.Unmarshal(r.Record, &after) != nil {
		return false
	}
	b, _ := json.Marshal(before)
	a, _ := json.Marshal(after)
	return string(a) == string(b)
}
