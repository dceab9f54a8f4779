package worker

import (
	"context"
	"log/slog"
	"time"
)

// Exporter pushes the ledger summary to its destination.
type Exporter interface {
	Export(ctx context.Context) error
}

// SummaryWorker periodically exports the ledger summary. It only reads balances.
type SummaryWorker struct {
	exporter Exporter
	interval time.Duration
}

// NewSummaryWorker creates a new SummaryWorker.
func NewSummaryWorker(exporter Exporter, interval time.Duration) *SummaryWorker {
	return &SummaryWorker{
		exporter: exporter,
		interval: interval,
	}
}

// Run starts the export loop. It blocks until the context is cancelled.
func (w *SummaryWorker) Run(ctx context.Context) {
	slog.Info("SummaryWorker: starting", "interval", w.interval)

	// Export immediately on startup
	w.export(ctx, "initial export")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("SummaryWorker: shutting down")
			return
		case <-ticker.C:
			w.export(ctx, "export")
		}
	}
}

func (w *SummaryWorker) export(ctx context.Context, what string) {
	if err := w.exporter.Export(ctx); err != nil {
		slog.Error("SummaryWorker: "+what+" failed", "error", err)
		return
	}
	slog.Info("SummaryWorker: " + what + " completed")
}
