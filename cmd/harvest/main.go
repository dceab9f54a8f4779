package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/reversegremlin/harvest-market/internal/api"
	"github.com/reversegremlin/harvest-market/internal/config"
	"github.com/reversegremlin/harvest-market/internal/currency"
	"github.com/reversegremlin/harvest-market/internal/database"
	"github.com/reversegremlin/harvest-market/internal/export"
	"github.com/reversegremlin/harvest-market/internal/ledger"
	"github.com/reversegremlin/harvest-market/internal/worker"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Name:  "harvest",
		Usage: "multi-denomination ledger for the harvest market",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run migrations and serve the HTTP API",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "apply pending database migrations",
				Action: migrate,
			},
			{
				Name:  "open",
				Usage: "open a seeded balance for an account",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "account", Required: true, Usage: "account id"},
				},
				Action: openAccount,
			},
			{
				Name:  "normalize",
				Usage: "roll excess holdings up into larger denominations",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "account", Usage: "account id"},
					&cli.BoolFlag{Name: "all", Usage: "normalize every account"},
				},
				Action: normalize,
			},
			{
				Name:  "export",
				Usage: "write an account statement or the ledger summary to an xlsx file",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "account", Usage: "account id"},
					&cli.BoolFlag{Name: "summary", Usage: "export the ledger-wide summary instead"},
					&cli.StringFlag{Name: "out", Required: true, Usage: "output .xlsx path"},
				},
				Action: exportXLSX,
			},
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

// services bundles what every command is built from.
type services struct {
	cfg    config.Config
	pool   *pgxpool.Pool
	ledger *ledger.Service
}

func setup(ctx context.Context) (*services, error) {
	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}

	rates, err := currency.NewRates(cfg.DabbersPerGroot, cfg.GrootsPerPetalin, cfg.PetalinsPerFloren)
	if err != nil {
		return nil, fmt.Errorf("invalid rate table: %w", err)
	}
	policy, err := currency.ParseRemainderPolicy(cfg.RemainderPolicy)
	if err != nil {
		return nil, err
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	opts := ledger.DefaultOptions()
	opts.SeedDabbers = cfg.SeedDabbers
	opts.Policy = policy
	opts.NormalizeOnRead = cfg.NormalizeOnRead

	return &services{
		cfg:    cfg,
		pool:   pool,
		ledger: ledger.NewService(ledger.NewPgRepository(pool), rates, opts),
	}, nil
}

func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrationsSub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migrations sub-fs: %w", err)
	}
	applied, err := database.RunMigrations(ctx, pool, migrationsSub)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	slog.Info("migrations complete", "applied", len(applied))
	return nil
}

func migrate(c *cli.Context) error {
	a, err := setup(c.Context)
	if err != nil {
		return err
	}
	defer a.pool.Close()
	return runMigrations(c.Context, a.pool)
}

func serve(c *cli.Context) error {
	ctx := c.Context
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.pool.Close()

	if err := runMigrations(ctx, a.pool); err != nil {
		return err
	}

	var writer export.SummaryWriter
	if a.cfg.SheetsEnabled() {
		sheets, err := export.NewSheetsWriter(ctx, a.cfg.GoogleSheetsID, a.cfg.GoogleCredentialsJSON)
		if err != nil {
			return fmt.Errorf("creating sheets writer: %w", err)
		}
		writer = sheets
	}
	exports := export.NewService(a.ledger, writer)

	if writer != nil {
		summaryWorker := worker.NewSummaryWorker(exports, a.cfg.SummaryExportInterval)
		go summaryWorker.Run(ctx)
	} else {
		slog.Info("GOOGLE_SHEETS_ID or GOOGLE_CREDENTIALS_JSON not set, summary export disabled")
	}

	if a.cfg.AdminAPIKey == "" {
		slog.Warn("ADMIN_API_KEY not set, admin endpoints are unprotected")
	}

	srv := api.NewServer(a.cfg.HTTPPort, a.ledger, exports, a.cfg.AdminAPIKey)
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", a.cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("HTTP server: %w", err)
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

func openAccount(c *cli.Context) error {
	a, err := setup(c.Context)
	if err != nil {
		return err
	}
	defer a.pool.Close()

	b, err := a.ledger.Open(c.Context, c.Int64("account"))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "account %d opened with %d dabbers\n", b.AccountID, b.Get(currency.Dabber))
	return nil
}

func normalize(c *cli.Context) error {
	all := c.Bool("all")
	accountID := c.Int64("account")
	if all == (accountID != 0) {
		return errors.New("exactly one of --account or --all is required")
	}

	a, err := setup(c.Context)
	if err != nil {
		return err
	}
	defer a.pool.Close()

	if all {
		written, err := a.ledger.NormalizeAll(c.Context)
		fmt.Fprintf(c.App.Writer, "%d normalization records written\n", written)
		return err
	}

	records, err := a.ledger.Normalize(c.Context, accountID)
	if err != nil {
		return err
	}
	for _, rec := range records {
		fmt.Fprintln(c.App.Writer, rec.Description)
	}
	if len(records) == 0 {
		fmt.Fprintf(c.App.Writer, "account %d already normalized\n", accountID)
	}
	return nil
}

func exportXLSX(c *cli.Context) error {
	summary := c.Bool("summary")
	accountID := c.Int64("account")
	if summary == (accountID != 0) {
		return errors.New("exactly one of --account or --summary is required")
	}

	a, err := setup(c.Context)
	if err != nil {
		return err
	}
	defer a.pool.Close()

	exports := export.NewService(a.ledger, nil)

	f, err := os.Create(c.String("out"))
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer f.Close()

	if summary {
		report, err := exports.Report(c.Context)
		if err != nil {
			return err
		}
		if err := export.WriteSummaryXLSX(f, report); err != nil {
			return fmt.Errorf("writing summary workbook: %w", err)
		}
	} else {
		st, err := exports.Statement(c.Context, accountID)
		if err != nil {
			return err
		}
		if err := export.WriteStatementXLSX(f, st); err != nil {
			return fmt.Errorf("writing statement workbook: %w", err)
		}
	}
	return f.Close()
}
