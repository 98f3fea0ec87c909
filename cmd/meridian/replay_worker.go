package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/meridian-crm/meridian/internal/platform/config"
	"github.com/meridian-crm/meridian/internal/webhooks"
)

// replayWorker periodically re-runs logged deliveries that still have
// unresolved failures, so transient reconciliation errors heal without
// operator action.
type replayWorker struct {
	replayer     *webhooks.Replayer
	pollInterval time.Duration
	window       time.Duration
	batchSize    int
}

func buildReplayWorker(replayer *webhooks.Replayer, cfg config.ReplayConfig) *replayWorker {
	if replayer == nil || !cfg.Enabled {
		return nil
	}

	pollInterval := time.Duration(cfg.IntervalSeconds) * time.Second
	if pollInterval <= 0 {
		pollInterval = 5 * time.Minute
	}
	window := time.Duration(cfg.WindowHours) * time.Hour
	if window <= 0 {
		window = 24 * time.Hour
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	return &replayWorker{
		replayer:     replayer,
		pollInterval: pollInterval,
		window:       window,
		batchSize:    batchSize,
	}
}

func (w *replayWorker) Run(ctx context.Context) error {
	if w == nil {
		return nil
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *replayWorker) sweep(ctx context.Context) {
	report, err := w.replayer.Replay(ctx, webhooks.ReplayParams{
		Since:      time.Now().UTC().Add(-w.window),
		Limit:      w.batchSize,
		FailedOnly: true,
	})
	if err != nil {
		slog.Error("replay sweep failed", "error", err)
		return
	}

	if report.Scanned > 0 {
		slog.Info("replay sweep complete",
			"scanned", report.Scanned,
			"succeeded", report.Succeeded,
			"failed", report.Failed,
			"skipped", report.Skipped,
		)
	}
}
