package relay

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Pinkyx99/gamdom2-sub000/go/internal/sqlutil"
)

// Store is what the listener needs from the outbox table.
type Store interface {
	FetchByID(ctx context.Context, id uuid.UUID) (OutboxRow, error)
	// ProcessUnsent locks a batch of unsent rows, hands each to fn and marks
	// the ones fn accepted as sent, all in one transaction.
	ProcessUnsent(ctx context.Context, limit int, fn func(OutboxRow) error) (int, error)
	MarkSent(ctx context.Context, ids ...uuid.UUID) error
	PurgeSent(ctx context.Context, before time.Time) (int64, error)
	CountPending(ctx context.Context) (int, error)
}

var ErrRowNotFound = errors.New("outbox row not found")

const outboxColumns = `id, game, table_name, op, record, old_record, created_at, sent_at`

// Repository is the database/sql implementation of Store.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(s rowScanner) (OutboxRow, error) {
	var (
		r      OutboxRow
		record []byte
		sentAt sql.NullTime
	)
	if err := s.Scan(&r.ID, &r.Game, &r.Table, &r.Op, &record, &r.OldRecord, &r.CreatedAt, &sentAt); err != nil {
		return OutboxRow{}, err
	}
	r.Record = record
	r.SentAt = sqlutil.FromSqlTime(sentAt)
	return r, nil
}

func (r *Repository) FetchByID(ctx context.Context, id uuid.UUID) (OutboxRow, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+outboxColumns+` FROM change_outbox WHERE id = $1`, id)
	out, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return OutboxRow{}, ErrRowNotFound
	}
	if err != nil {
		return OutboxRow{}, fmt.Errorf("fetch outbox row %s: %w", id, err)
	}
	return out, nil
}

func (r *Repository) ProcessUnsent(ctx context.Context, limit int, fn func(OutboxRow) error) (int, error) {
	sent := 0
	err := sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT `+outboxColumns+` FROM change_outbox
			WHERE sent_at IS NULL
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED`, limit)
		if err != nil {
			return fmt.Errorf("fetch unsent: %w", err)
		}
		var batch []OutboxRow
		for rows.Next() {
			row, err := scanRow(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("scan unsent: %w", err)
			}
			batch = append(batch, row)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate unsent: %w", err)
		}

		var ids []uuid.UUID
		for _, row := range batch {
			if err := fn(row); err != nil {
				continue
			}
			ids = append(ids, row.ID)
		}
		if len(ids) == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `UPDATE change_outbox SET sent_at = now() WHERE id = ANY($1)`, pq.Array(uuidStrings(ids))); err != nil {
			return fmt.Errorf("mark sent: %w", err)
		}
		sent = len(ids)
		return nil
	})
	return sent, err
}

func (r *Repository) MarkSent(ctx context.Context, ids ...uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `UPDATE change_outbox SET sent_at = now() WHERE id = ANY($1) AND sent_at IS NULL`, pq.Array(uuidStrings(ids)))
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

func (r *Repository) PurgeSent(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM change_outbox WHERE sent_at IS NOT NULL AND sent_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge sent: %w", err)
	}
	return res.RowsAffected()
}

func (r *Repository) CountPending(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM change_outbox WHERE sent_at IS NULL`).Scan(&n)
	return n, err
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
