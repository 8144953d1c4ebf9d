package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Pinkyx99/gamdom2-sub000/go/internal/models"
	"github.com/Pinkyx99/gamdom2-sub000/go/internal/sqlutil"
)

// raiseException is the SQLSTATE of a plain RAISE EXCEPTION in PL/pgSQL,
// which the stored functions use for business rejections.
const raiseException = "P0001"

// gameTables names the per-game tables and the columns that differ.
type gameTables struct {
	rounds     string
	bets       string
	startCol   string
	outcomeCol string
}

var tablesByGame = map[models.Game]gameTables{
	models.GameCrash:    {rounds: "crash_rounds", bets: "crash_bets", startCol: "started_at", outcomeCol: "outcome"},
	models.GameRoulette: {rounds: "roulette_rounds", bets: "roulette_bets", startCol: "spun_at", outcomeCol: "winning_number"},
}

// PostgresRepository stores rounds in Postgres and calls the stored
// functions that move balances.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository wraps a pgx pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func tablesFor(game models.Game) (gameTables, error) {
	t, ok := tablesByGame[game]
	if !ok {
		return gameTables{}, fmt.Errorf("unknown game %q", game)
	}
	return t, nil
}

func (t gameTables) roundColumns() string {
	return fmt.Sprintf("id, status, created_at, %s, ended_at, %s, server_seed, server_seed_hash, public_seed, nonce", t.startCol, t.outcomeCol)
}

func scanRound(row pgx.Row, game models.Game) (models.Round, error) {
	r := models.Round{Game: game}
	var (
		status   string
		crashAt  *float64
		winning  *int
		seedHash *string
	)
	dest := []any{&r.ID, &status, &r.CreatedAt, &r.StartedAt, &r.EndedAt}
	if game == models.GameCrash {
		dest = append(dest, &crashAt)
	} else {
		dest = append(dest, &winning)
	}
	dest = append(dest, &r.ServerSeed, &seedHash, &r.PublicSeed, &r.Nonce)
	if err := row.Scan(dest...); err != nil {
		return models.Round{}, err
	}
	r.Status = models.RoundStatus(status)
	r.CrashPoint = crashAt
	r.WinningNumber = winning
	if seedHash != nil {
		r.SeedHash = *seedHash
	}
	return r, nil
}

// LatestRound returns the most recently created round.
func (p *PostgresRepository) LatestRound(ctx context.Context, game models.Game) (models.Round, error) {
	t, err := tablesFor(game)
	if err != nil {
		return models.Round{}, err
	}
	q := fmt.Sprintf("SELECT %s FROM %s ORDER BY created_at DESC LIMIT 1", t.roundColumns(), t.rounds)
	r, err := scanRound(p.pool.QueryRow(ctx, q), game)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Round{}, ErrNoRound
	}
	return r, err
}

// CreateRound inserts the round and its secret seed in one transaction.
func (p *PostgresRepository) CreateRound(ctx context.Context, r models.Round, serverSeed string) error {
	t, err := tablesFor(r.Game)
	if err != nil {
		return err
	}
	return sqlutil.RunPgx(ctx, p.pool, func(tx pgx.Tx) error {
		insert := fmt.Sprintf(
			"INSERT INTO %s (id, status, created_at, server_seed_hash, public_seed, nonce) VALUES ($1, $2, $3, $4, $5, $6)",
			t.rounds,
		)
		if _, err := tx.Exec(ctx, insert, r.ID, string(r.Status), r.CreatedAt, r.SeedHash, r.PublicSeed, r.Nonce); err != nil {
			return fmt.Errorf("insert round: %w", err)
		}
		if _, err := tx.Exec(ctx,
			"INSERT INTO round_secrets (round_id, game, server_seed) VALUES ($1, $2, $3)",
			r.ID, string(r.Game), serverSeed,
		); err != nil {
			return fmt.Errorf("insert round secret: %w", err)
		}
		return nil
	})
}

// StartRound moves an open round to its live status.
func (p *PostgresRepository) StartRound(ctx context.Context, game models.Game, id uuid.UUID, startedAt time.Time) (bool, error) {
	t, err := tablesFor(game)
	if err != nil {
		return false, err
	}
	q := fmt.Sprintf("UPDATE %s SET status = $2, %s = $3 WHERE id = $1 AND status = $4", t.rounds, t.startCol)
	tag, err := p.pool.Exec(ctx, q, id, string(liveStatus(game)), startedAt, string(models.OpenStatus(game)))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SettleRound records the outcome, reveals the seed and settles every
// unresolved bet through <game>_settle_round, all in one transaction.
func (p *PostgresRepository) SettleRound(ctx context.Context, game models.Game, id uuid.UUID, s Settlement) (bool, error) {
	t, err := tablesFor(game)
	if err != nil {
		return false, err
	}
	var outcome any
	if game == models.GameCrash {
		outcome = s.CrashPoint
	} else {
		outcome = s.WinningNumber
	}

	settled := false
	err = sqlutil.RunPgx(ctx, p.pool, func(tx pgx.Tx) error {
		q := fmt.Sprintf(
			"UPDATE %s SET status = $2, ended_at = $3, %s = $4, server_seed = $5 WHERE id = $1 AND status = $6",
			t.rounds, t.outcomeCol,
		)
		tag, err := tx.Exec(ctx, q, id, string(terminalStatus(game)), s.EndedAt, outcome, s.ServerSeed, string(liveStatus(game)))
		if err != nil {
			return fmt.Errorf("update round: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, fmt.Sprintf("SELECT %s_settle_round($1)", game), id); err != nil {
			return fmt.Errorf("settle bets: %w", mapPgError(err))
		}
		settled = true
		return nil
	})
	return settled, err
}

// ServerSeed returns the secret seed of a round.
func (p *PostgresRepository) ServerSeed(ctx context.Context, game models.Game, id uuid.UUID) (string, error) {
	var seed string
	err := p.pool.QueryRow(ctx,
		"SELECT server_seed FROM round_secrets WHERE round_id = $1 AND game = $2", id, string(game),
	).Scan(&seed)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("no secret stored for round %s", id)
	}
	return seed, err
}

// PlaceBet calls <game>_place_bet, which debits the balance and inserts the
// bet atomically.
func (p *PostgresRepository) PlaceBet(ctx context.Context, game models.Game, b PlaceBetParams) (uuid.UUID, error) {
	var (
		id  uuid.UUID
		err error
	)
	switch game {
	case models.GameCrash:
		err = p.pool.QueryRow(ctx,
			"SELECT crash_place_bet($1, $2, $3::numeric, $4)",
			b.RoundID, b.UserID, b.Amount.String(), b.AutoCashoutAt,
		).Scan(&id)
	case models.GameRoulette:
		err = p.pool.QueryRow(ctx,
			"SELECT roulette_place_bet($1, $2, $3::numeric, $4)",
			b.RoundID, b.UserID, b.Amount.String(), string(*b.Color),
		).Scan(&id)
	default:
		return uuid.Nil, fmt.Errorf("unknown game %q", game)
	}
	if err != nil {
		return uuid.Nil, mapPgError(err)
	}
	return id, nil
}

// CashoutBet calls crash_cashout, which only resolves a bet whose
// cashout_multiplier is still null. No row back means it was already
// resolved.
func (p *PostgresRepository) CashoutBet(ctx context.Context, c CashoutParams) (models.Bet, error) {
	row := p.pool.QueryRow(ctx,
		"SELECT "+crashBetColumns+" FROM crash_cashout($1, $2, $3)",
		c.BetID, c.UserID, c.Multiplier,
	)
	b, err := scanBet(row, models.GameCrash)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Bet{}, ErrBetResolved
	}
	if err != nil {
		return models.Bet{}, mapPgError(err)
	}
	return b, nil
}

const (
	crashBetColumns    = "id, round_id, user_id, bet_amount::text, cashout_multiplier, profit::text, auto_cashout_at"
	rouletteBetColumns = "id, round_id, user_id, bet_amount::text, bet_color, profit::text"
)

func betColumns(game models.Game) string {
	if game == models.GameRoulette {
		return rouletteBetColumns
	}
	return crashBetColumns
}

func scanBet(row pgx.Row, game models.Game) (models.Bet, error) {
	var (
		b      models.Bet
		amount string
		profit *string
		color  *string
	)
	var err error
	if game == models.GameRoulette {
		err = row.Scan(&b.ID, &b.RoundID, &b.UserID, &amount, &color, &profit)
	} else {
		err = row.Scan(&b.ID, &b.RoundID, &b.UserID, &amount, &b.CashoutMultiplier, &profit, &b.AutoCashoutAt)
	}
	if err != nil {
		return models.Bet{}, err
	}
	if b.Amount, err = sqlutil.DecimalFromText(amount); err != nil {
		return models.Bet{}, err
	}
	if b.Profit, err = sqlutil.NullDecimalFromText(profit); err != nil {
		return models.Bet{}, err
	}
	if color != nil {
		c := models.RouletteColor(*color)
		b.Color = &c
	}
	return b, nil
}

// GetBet loads one bet.
func (p *PostgresRepository) GetBet(ctx context.Context, game models.Game, id uuid.UUID) (models.Bet, error) {
	t, err := tablesFor(game)
	if err != nil {
		return models.Bet{}, err
	}
	q := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", betColumns(game), t.bets)
	b, err := scanBet(p.pool.QueryRow(ctx, q, id), game)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Bet{}, ErrBetNotFound
	}
	return b, err
}

// Bets loads every bet of a round.
func (p *PostgresRepository) Bets(ctx context.Context, game models.Game, roundID uuid.UUID) ([]models.Bet, error) {
	t, err := tablesFor(game)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf("SELECT %s FROM %s WHERE round_id = $1 ORDER BY created_at", betColumns(game), t.bets)
	rows, err := p.pool.Query(ctx, q, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bets []models.Bet
	for rows.Next() {
		b, err := scanBet(rows, game)
		if err != nil {
			return nil, err
		}
		bets = append(bets, b)
	}
	return bets, rows.Err()
}

// History returns the last settled rounds, newest first.
func (p *PostgresRepository) History(ctx context.Context, game models.Game, limit int) ([]models.HistoryItem, error) {
	t, err := tablesFor(game)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(
		"SELECT id, %s, ended_at FROM %s WHERE status = $1 ORDER BY ended_at DESC LIMIT $2",
		t.outcomeCol, t.rounds,
	)
	rows, err := p.pool.Query(ctx, q, string(terminalStatus(game)), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.HistoryItem
	for rows.Next() {
		it := models.HistoryItem{Game: game}
		if game == models.GameCrash {
			err = rows.Scan(&it.RoundID, &it.CrashPoint, &it.EndedAt)
		} else {
			err = rows.Scan(&it.RoundID, &it.WinningNumber, &it.EndedAt)
		}
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == raiseException {
		return &Rejection{Message: pgErr.Message}
	}
	return err
}
