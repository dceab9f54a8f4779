package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"github.com/reversegremlin/harvest-market/internal/currency"
)

// UpdateFunc mutates a locked balance and returns the records to append with it.
// Returning an error aborts the transaction; returning no records means nothing is written.
type UpdateFunc func(b *currency.Balance) ([]Record, error)

// Repository defines persistent storage for balances and their history.
type Repository interface {
	Create(ctx context.Context, b *currency.Balance) error
	Get(ctx context.Context, accountID int64) (*currency.Balance, error)
	// Update runs fn against the account's balance while holding its row lock.
	// The balance write and the record inserts commit together or not at all.
	Update(ctx context.Context, accountID int64, fn UpdateFunc) error
	History(ctx context.Context, accountID int64, limit int) ([]Record, error)
	AccountIDs(ctx context.Context) ([]int64, error)
	Summary(ctx context.Context) (Summary, error)
}

// Options tune ledger behavior beyond the rate table.
type Options struct {
	SeedDabbers     int64
	Policy          currency.RemainderPolicy
	NormalizeOnRead bool
	Now             func() time.Time
}

// DefaultOptions mirrors the original product: 500 dabbers on opening,
// lossy up-conversion and normalization whenever a balance is read.
func DefaultOptions() Options {
	return Options{
		SeedDabbers:     500,
		Policy:          currency.RemainderTruncate,
		NormalizeOnRead: true,
	}
}

// Result is the outcome of a successful conversion.
type Result struct {
	Converted int64             `json:"converted"`
	Balance   *currency.Balance `json:"balance"`
	Record    Record            `json:"record"`
}

// Service is the denomination ledger.
type Service struct {
	repo  Repository
	rates currency.Rates
	opts  Options
}

// NewService creates a ledger over repo using the given rate table.
func NewService(repo Repository, rates currency.Rates, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.Policy == "" {
		opts.Policy = currency.RemainderTruncate
	}
	return &Service{repo: repo, rates: rates, opts: opts}
}

// Now returns the current time from the ledger's clock.
func (s *Service) Now() time.Time {
	return s.opts.Now()
}

// Rates returns the rate table the ledger converts with.
func (s *Service) Rates() currency.Rates {
	return s.rates
}

// Open creates the seeded balance for a new account.
func (s *Service) Open(ctx context.Context, accountID int64) (*currency.Balance, error) {
	b := currency.NewBalance(accountID, s.opts.SeedDabbers, 0, 0, 0)
	b.LastUpdated = s.opts.Now()
	if err := s.repo.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("opening balance for account %d: %w", accountID, err)
	}
	slog.Info("balance opened", "account", accountID, "dabbers", s.opts.SeedDabbers)
	return b, nil
}

// GetBalance returns the account's holdings. With NormalizeOnRead the balance
// is normalized (and the roll-ups recorded) before it is returned.
func (s *Service) GetBalance(ctx context.Context, accountID int64) (*currency.Balance, error) {
	if !s.opts.NormalizeOnRead {
		b, err := s.repo.Get(ctx, accountID)
		if err != nil {
			return nil, fmt.Errorf("getting balance for account %d: %w", accountID, err)
		}
		return b, nil
	}

	var out *currency.Balance
	records, err := s.normalize(ctx, accountID, func(b *currency.Balance) { out = b.Clone() })
	if err != nil {
		return nil, err
	}
	if len(records) > 0 {
		slog.Info("balance normalized on read", "account", accountID, "steps", len(records))
	}
	return out, nil
}

// Validate checks a conversion against the stored balance without changing it.
func (s *Service) Validate(ctx context.Context, accountID int64, from, to currency.Denomination, amount int64) error {
	b, err := s.repo.Get(ctx, accountID)
	if err != nil {
		if errors.Is(err, currency.ErrNoBalanceRecord) {
			return err
		}
		return fmt.Errorf("getting balance for account %d: %w", accountID, err)
	}
	return currency.Validate(b, from, to, amount)
}

// Convert moves amount of from into the adjacent denomination to and records it.
func (s *Service) Convert(ctx context.Context, accountID int64, from, to currency.Denomination, amount int64) (Result, error) {
	var res Result
	err := s.repo.Update(ctx, accountID, func(b *currency.Balance) ([]Record, error) {
		now := s.opts.Now()
		step, err := s.rates.Convert(b, from, to, amount, s.opts.Policy, now)
		if err != nil {
			return nil, err
		}
		rec := newRecord(accountID, step, now)
		res = Result{Converted: step.Credited, Balance: b.Clone(), Record: rec}
		return []Record{rec}, nil
	})
	if err != nil {
		slog.Warn("conversion failed", "account", accountID, "from", from, "to", to,
			"amount", amount, "reason", currency.KindOf(err))
		return Result{}, err
	}

	slog.Info("conversion completed", "account", accountID, "from", from, "to", to,
		"amount", amount, "converted", res.Converted)
	return res, nil
}

// Normalize rolls up the account's excess holdings and returns the records written.
func (s *Service) Normalize(ctx context.Context, accountID int64) ([]Record, error) {
	return s.normalize(ctx, accountID, nil)
}

func (s *Service) normalize(ctx context.Context, accountID int64, after func(*currency.Balance)) ([]Record, error) {
	var records []Record
	err := s.repo.Update(ctx, accountID, func(b *currency.Balance) ([]Record, error) {
		now := s.opts.Now()
		steps := s.rates.Normalize(b, now)
		records = lo.Map(steps, func(step currency.Step, _ int) Record {
			return newRecord(accountID, step, now)
		})
		if after != nil {
			after(b)
		}
		return records, nil
	})
	if err != nil {
		return nil, fmt.Errorf("normalizing account %d: %w", accountID, err)
	}
	return records, nil
}

// NormalizeAll normalizes every account, each in its own transaction.
// It keeps going past failures and returns the first one after the sweep.
func (s *Service) NormalizeAll(ctx context.Context) (int, error) {
	ids, err := s.repo.AccountIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing accounts: %w", err)
	}

	var written int
	var firstErr error
	for _, id := range ids {
		if ctx.Err() != nil {
			return written, ctx.Err()
		}
		records, err := s.Normalize(ctx, id)
		if err != nil {
			slog.Error("normalization failed", "account", id, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		written += len(records)
	}

	slog.Info("normalization sweep completed", "accounts", len(ids), "records", written)
	return written, firstErr
}

// History limits.
const (
	DefaultHistoryLimit = 30
	MaxHistoryLimit     = 365
)

// History returns the account's most recent records, newest first. A
// non-positive limit means DefaultHistoryLimit; larger limits are capped.
func (s *Service) History(ctx context.Context, accountID int64, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	limit = min(limit, MaxHistoryLimit)
	records, err := s.repo.History(ctx, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("getting history for account %d: %w", accountID, err)
	}
	return records, nil
}

// Summary aggregates all balances and values them in dabbers.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	sum, err := s.repo.Summary(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("summarizing ledger: %w", err)
	}
	holdings := sum.Holdings()
	sum.ValueInDabbers = 0
	for _, d := range currency.Denominations {
		sum.ValueInDabbers += holdings[d] * s.rates.ValueOf(d)
	}
	return sum, nil
}
