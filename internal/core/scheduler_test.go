package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRetentionConfigDefaults(t *testing.T) {
	cfg := RetentionConfig{}.withDefaults()
	if cfg.ReportRetention != 7*24*time.Hour {
		t.Errorf("ReportRetention = %v", cfg.ReportRetention)
	}
	if cfg.HistoryRetention != 90*24*time.Hour {
		t.Errorf("HistoryRetention = %v", cfg.HistoryRetention)
	}
	if cfg.CheckInterval != time.Hour {
		t.Errorf("CheckInterval = %v", cfg.CheckInterval)
	}

	custom := RetentionConfig{ReportRetention: time.Minute}.withDefaults()
	if custom.ReportRetention != time.Minute {
		t.Errorf("custom ReportRetention = %v", custom.ReportRetention)
	}
}

func TestRunRetention(t *testing.T) {
	svc, store, dir := newTestService(t, nil)
	now := time.Now()

	store.jobs = []JobSummary{
		{ID: "old", FinishedAt: now.Add(-100 * 24 * time.Hour)},
		{ID: "recent", FinishedAt: now.Add(-time.Hour)},
	}

	oldReport := filepath.Join(dir, "old")
	newReport := filepath.Join(dir, "recent")
	for _, d := range []string{oldReport, newReport} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	past := now.Add(-8 * 24 * time.Hour)
	if err := os.Chtimes(oldReport, past, past); err != nil {
		t.Fatal(err)
	}

	svc.RunRetention(context.Background(), RetentionConfig{})

	if _, err := os.Stat(oldReport); !os.IsNotExist(err) {
		t.Error("old report kept")
	}
	if _, err := os.Stat(newReport); err != nil {
		t.Error("recent report removed")
	}
	jobs, _ := store.ListJobs(context.Background(), 0)
	if len(jobs) != 1 || jobs[0].ID != "recent" {
		t.Errorf("jobs = %+v", jobs)
	}
}

func TestStartRetentionSchedulerStops(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		svc.StartRetentionScheduler(ctx, RetentionConfig{CheckInterval: 10 * time.Millisecond})
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
