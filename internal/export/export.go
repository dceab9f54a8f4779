package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/reversegremlin/harvest-market/internal/currency"
	"github.com/reversegremlin/harvest-market/internal/ledger"
)

// statementHistoryLimit bounds how many records a statement carries.
const statementHistoryLimit = 365

// Ledger is the subset of the ledger service that exports read from.
type Ledger interface {
	GetBalance(ctx context.Context, accountID int64) (*currency.Balance, error)
	History(ctx context.Context, accountID int64, limit int) ([]ledger.Record, error)
	Summary(ctx context.Context) (ledger.Summary, error)
	Rates() currency.Rates
	Now() time.Time
}

// SummaryWriter writes the ledger-wide summary to a spreadsheet destination.
type SummaryWriter interface {
	WriteSummary(ctx context.Context, report SummaryReport) error
}

// Statement is one account's balance and recent history.
type Statement struct {
	AccountID      int64
	Balance        *currency.Balance
	ValueInDabbers int64
	Records        []ledger.Record
	GeneratedAt    time.Time
}

// SummaryReport is the ledger summary with the rate table it was valued at.
type SummaryReport struct {
	Summary     ledger.Summary
	Rates       currency.Rates
	GeneratedAt time.Time
}

// Service builds statements and pushes summaries to an optional SummaryWriter.
type Service struct {
	ledger Ledger
	writer SummaryWriter
}

// NewService creates a new export Service. writer may be nil when no
// spreadsheet destination is configured.
func NewService(l Ledger, writer SummaryWriter) *Service {
	return &Service{ledger: l, writer: writer}
}

// Statement collects the account's balance and recent records.
func (s *Service) Statement(ctx context.Context, accountID int64) (Statement, error) {
	b, err := s.ledger.GetBalance(ctx, accountID)
	if err != nil {
		return Statement{}, err
	}
	records, err := s.ledger.History(ctx, accountID, statementHistoryLimit)
	if err != nil {
		return Statement{}, err
	}
	return Statement{
		AccountID:      accountID,
		Balance:        b,
		ValueInDabbers: b.Value(s.ledger.Rates()),
		Records:        records,
		GeneratedAt:    s.ledger.Now(),
	}, nil
}

// Report builds the current ledger summary report.
func (s *Service) Report(ctx context.Context) (SummaryReport, error) {
	sum, err := s.ledger.Summary(ctx)
	if err != nil {
		return SummaryReport{}, err
	}
	return SummaryReport{
		Summary:     sum,
		Rates:       s.ledger.Rates(),
		GeneratedAt: s.ledger.Now(),
	}, nil
}

// Export writes the current summary through the configured writer.
// Implements worker.Exporter.
func (s *Service) Export(ctx context.Context) error {
	if s.writer == nil {
		return fmt.Errorf("no summary writer configured")
	}
	report, err := s.Report(ctx)
	if err != nil {
		return fmt.Errorf("building summary: %w", err)
	}
	if err := s.writer.WriteSummary(ctx, report); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}
	slog.Info("ledger summary exported", "accounts", report.Summary.Accounts)
	return nil
}

// summaryValues lays out a report as spreadsheet rows.
// Columns: Denomination | Total | Value in dabbers
func summaryValues(report SummaryReport) [][]any {
	holdings := report.Summary.Holdings()
	data := [][]any{
		{"Generated", report.GeneratedAt.Format(time.RFC3339)},
		{"Accounts", report.Summary.Accounts},
		{},
		{"Denomination", "Total", "Value in dabbers"},
	}
	for _, d := range currency.Denominations {
		data = append(data, []any{d.Plural(), holdings[d], holdings[d] * report.Rates.ValueOf(d)})
	}
	data = append(data, []any{"total", "", report.Summary.ValueInDabbers}, []any{}, []any{"Lower", "Higher", "Rate"})
	for _, p := range report.Rates.Table() {
		data = append(data, []any{p.Lower.Plural(), p.Higher.String(), p.Rate})
	}
	return data
}
