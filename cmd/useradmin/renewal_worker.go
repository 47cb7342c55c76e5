package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/valinor-ai/useradmin/internal/directory"
	"github.com/valinor-ai/useradmin/internal/platform/config"
	"github.com/valinor-ai/useradmin/internal/platform/metrics"
)

type renewalSource interface {
	Now() time.Time
	RenewalThresholdDays() int
	UsersNeedingPasswordRenewal(asOf time.Time, thresholdDays int) []directory.User
}

// renewalWorker periodically reports accounts whose password is about to
// expire or already has.
type renewalWorker struct {
	source   renewalSource
	interval time.Duration
	logger   *slog.Logger
}

// buildRenewalWorker returns nil when the scan interval is zero.
func buildRenewalWorker(source renewalSource, cfg config.WorkersConfig, logger *slog.Logger) *renewalWorker {
	if cfg.RenewalScanIntervalSecs <= 0 {
		return nil
	}
	return &renewalWorker{
		source:   source,
		interval: time.Duration(cfg.RenewalScanIntervalSecs) * time.Second,
		logger:   logger,
	}
}

func (w *renewalWorker) Run(ctx context.Context) error {
	if w == nil || w.source == nil {
		return nil
	}

	w.scan()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.scan()
		}
	}
}

func (w *renewalWorker) scan() int {
	asOf := w.source.Now()
	days := w.source.RenewalThresholdDays()
	due := w.source.UsersNeedingPasswordRenewal(asOf, days)
	metrics.RenewalScansTotal.Inc()

	if len(due) == 0 {
		w.logger.Debug("password renewal scan complete", "due", 0)
		return 0
	}

	expired := 0
	for _, u := range due {
		if !u.PasswordExpiry.After(asOf) {
			expired++
		}
	}
	w.logger.Warn("users need password renewal",
		"due", len(due),
		"expired", expired,
		"threshold_days", days,
	)
	return len(due)
}
