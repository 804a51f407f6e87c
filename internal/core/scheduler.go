package core

// scheduler.go runs periodic retention cleanup:
//  1. Remove failure report directories older than ReportRetention
//  2. Purge job history rows older than HistoryRetention
//
// Failures are logged and retried on the next tick; they never stop the
// application.

import (
	"context"
	"log/slog"
	"time"
)

// RetentionConfig controls the retention scheduler.
type RetentionConfig struct {
	ReportRetention  time.Duration // default 7 days
	HistoryRetention time.Duration // default 90 days
	CheckInterval    time.Duration // default 1h
}

func (c RetentionConfig) withDefaults() RetentionConfig {
	if c.ReportRetention <= 0 {
		c.ReportRetention = 7 * 24 * time.Hour
	}
	if c.HistoryRetention <= 0 {
		c.HistoryRetention = 90 * 24 * time.Hour
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = time.Hour
	}
	return c
}

// StartRetentionScheduler runs cleanup immediately and then every
// CheckInterval until ctx is cancelled.
func (s *Service) StartRetentionScheduler(ctx context.Context, cfg RetentionConfig) {
	cfg = cfg.withDefaults()
	s.logger.Info("retention scheduler started",
		"report_retention", cfg.ReportRetention,
		"history_retention", cfg.HistoryRetention,
		"interval", cfg.CheckInterval,
	)

	s.RunRetention(ctx, cfg)

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retention scheduler stopped")
			return
		case <-ticker.C:
			s.RunRetention(ctx, cfg)
		}
	}
}

// RunRetention performs one cleanup cycle.
func (s *Service) RunRetention(ctx context.Context, cfg RetentionConfig) {
	cfg = cfg.withDefaults()
	start := time.Now()

	if s.reports != nil {
		removed, err := s.reports.PurgeBefore(start.Add(-cfg.ReportRetention))
		if err != nil {
			s.logger.Error("report purge failed", "error", err)
		}
		if removed > 0 {
			reportsPurged.Add(float64(removed))
			s.logger.Info("purged failure reports", "reports_removed", removed)
		}
	}

	if s.history != nil {
		purged, err := s.history.PurgeJobsBefore(ctx, start.Add(-cfg.HistoryRetention))
		if err != nil {
			s.logger.Error("history purge failed", "error", err)
		} else if purged > 0 {
			s.logger.Info("purged job history", "jobs_removed", purged)
		}
	}

	s.logger.Log(ctx, slog.LevelDebug, "retention cycle completed", "duration_ms", time.Since(start).Milliseconds())
}
