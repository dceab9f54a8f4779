package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reversegremlin/harvest-market/internal/currency"
)

const uniqueViolation = "23505"

// historyQuery lists an account's records newest first. Records written in one
// transaction share created_at, so seq keeps them in insertion order.
const historyQuery = `SELECT id, user_id, kind, direction, from_currency, to_currency, amount, credited, description, created_at
	FROM transaction_history
	WHERE user_id = $1
	ORDER BY created_at DESC, seq DESC
	LIMIT $2`

// PgRepository implements Repository with PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository creates a new PostgreSQL ledger repository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) Create(ctx context.Context, b *currency.Balance) error {
	h := b.Holdings()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_balance (user_id, dabbers, groots, petalins, florens, last_updated)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		b.AccountID, h[currency.Dabber], h[currency.Groot], h[currency.Petalin], h[currency.Floren], b.LastUpdated)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return currency.ErrBalanceExists
		}
		return fmt.Errorf("%w: creating balance: %w", currency.ErrPersistence, err)
	}
	return nil
}

func (r *PgRepository) Get(ctx context.Context, accountID int64) (*currency.Balance, error) {
	return scanBalance(r.pool.QueryRow(ctx,
		`SELECT user_id, dabbers, groots, petalins, florens, last_updated
		 FROM user_balance WHERE user_id = $1`, accountID))
}

func (r *PgRepository) Update(ctx context.Context, accountID int64, fn UpdateFunc) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %w", currency.ErrPersistence, err)
	}
	defer tx.Rollback(ctx)

	b, err := scanBalance(tx.QueryRow(ctx,
		`SELECT user_id, dabbers, groots, petalins, florens, last_updated
		 FROM user_balance WHERE user_id = $1 FOR UPDATE`, accountID))
	if err != nil {
		return err
	}

	records, err := fn(b)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	h := b.Holdings()
	if _, err := tx.Exec(ctx,
		`UPDATE user_balance
		 SET dabbers = $2, groots = $3, petalins = $4, florens = $5, last_updated = $6
		 WHERE user_id = $1`,
		accountID, h[currency.Dabber], h[currency.Groot], h[currency.Petalin], h[currency.Floren], b.LastUpdated); err != nil {
		return fmt.Errorf("%w: updating balance: %w", currency.ErrPersistence, err)
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(
			`INSERT INTO transaction_history
			 (id, user_id, kind, direction, from_currency, to_currency, amount, credited, description, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			rec.ID, rec.AccountID, string(rec.Kind), rec.Direction, rec.From.String(), rec.To.String(),
			rec.Amount, rec.Credited, rec.Description, rec.Timestamp)
	}
	br := tx.SendBatch(ctx, batch)
	for range records {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("%w: inserting transaction record: %w", currency.ErrPersistence, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("%w: closing record batch: %w", currency.ErrPersistence, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: committing: %w", currency.ErrPersistence, err)
	}
	return nil
}

func (r *PgRepository) History(ctx context.Context, accountID int64, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 30
	}

	rows, err := r.pool.Query(ctx, historyQuery, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: listing history: %w", currency.ErrPersistence, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec      Record
			kind     string
			from, to string
		)
		if err := rows.Scan(&rec.ID, &rec.AccountID, &kind, &rec.Direction, &from, &to,
			&rec.Amount, &rec.Credited, &rec.Description, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("%w: scanning record: %w", currency.ErrPersistence, err)
		}
		rec.Kind = RecordKind(kind)
		if rec.From, err = currency.ParseDenomination(from); err != nil {
			return nil, fmt.Errorf("record %s: %w", rec.ID, err)
		}
		if rec.To, err = currency.ParseDenomination(to); err != nil {
			return nil, fmt.Errorf("record %s: %w", rec.ID, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating history: %w", currency.ErrPersistence, err)
	}
	return records, nil
}

func (r *PgRepository) AccountIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id FROM user_balance ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("%w: listing accounts: %w", currency.ErrPersistence, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("%w: collecting accounts: %w", currency.ErrPersistence, err)
	}
	return ids, nil
}

func (r *PgRepository) Summary(ctx context.Context) (Summary, error) {
	var s Summary
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(dabbers), 0)::BIGINT, COALESCE(SUM(groots), 0)::BIGINT,
		        COALESCE(SUM(petalins), 0)::BIGINT, COALESCE(SUM(florens), 0)::BIGINT
		 FROM user_balance`).Scan(&s.Accounts, &s.Dabbers, &s.Groots, &s.Petalins, &s.Florens)
	if err != nil {
		return Summary{}, fmt.Errorf("%w: summarizing balances: %w", currency.ErrPersistence, err)
	}
	return s, nil
}

func scanBalance(row pgx.Row) (*currency.Balance, error) {
	var (
		accountID                          int64
		dabbers, groots, petalins, florens int64
		lastUpdated                        time.Time
	)
	if err := row.Scan(&accountID, &dabbers, &groots, &petalins, &florens, &lastUpdated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, currency.ErrNoBalanceRecord
		}
		return nil, fmt.Errorf("%w: reading balance: %w", currency.ErrPersistence, err)
	}
	b := currency.NewBalance(accountID, dabbers, groots, petalins, florens)
	b.LastUpdated = lastUpdated
	return b, nil
}
