package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type trackedSource struct {
	io.Reader
	closed atomic.Bool
}

func (s *trackedSource) Close() error {
	s.closed.Store(true)
	return nil
}

func source(body string) *trackedSource {
	return &trackedSource{Reader: strings.NewReader(body)}
}

func newTestService(t *testing.T, mutate func(*Settings)) (*Service, *fakeStore, string) {
	t.Helper()
	store := newFakeStore()
	dir := t.TempDir()
	settings := DefaultSettings()
	settings.Reconciler = testReconcilerConfig()
	settings.MaxWait = 50 * time.Millisecond
	if mutate != nil {
		mutate(&settings)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(store, NewFileReportSink(dir), settings, WithHistory(store), WithLogger(logger))
	return svc, store, dir
}

func waitResult(t *testing.T, svc *Service, jobID string) *ImportResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := svc.GetResult(ctx, jobID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	return res
}

func TestServiceImport(t *testing.T) {
	svc, store, _ := newTestService(t, nil)
	src := source(testHeader + "\na@x.com,1,Secret1,Ann,Lee,Acme,en,Europe/Prague\n")

	jobID, err := svc.StartImport(context.Background(), ImportRequest{FileName: "users.csv", Source: src})
	if err != nil {
		t.Fatalf("StartImport: %v", err)
	}
	res := waitResult(t, svc, jobID)

	if res.Phase != PhaseComplete || res.Created != 1 || res.RowsProcessed != 1 {
		t.Errorf("result = %+v", res)
	}
	if res.Message != "Import completed!" || res.ReportFile != "" {
		t.Errorf("message/report = %q/%q", res.Message, res.ReportFile)
	}
	if !src.closed.Load() {
		t.Error("source not closed")
	}

	acct := store.account("a@x.com")
	if acct == nil || acct.Username != "a" || acct.Timezone != "Europe/Prague" {
		t.Errorf("account = %+v", acct)
	}

	history, err := svc.ListHistory(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].ID != jobID || history[0].Created != 1 {
		t.Errorf("history = %+v", history)
	}

	p, err := svc.GetProgress(jobID)
	if err != nil {
		t.Fatal(err)
	}
	if p.Phase != PhaseComplete || p.CurrentRow != 1 {
		t.Errorf("progress = %+v", p)
	}
}

func TestServiceImportWithFailures(t *testing.T) {
	svc, _, dir := newTestService(t, nil)
	body := strings.ReplaceAll(testHeader, ",", ";") + "\n" +
		"a@x.com;1;;;;;;\n" +
		"bad-email;1;x;;;;;\n" +
		"m@x.com;maybe;;;;;;\n"

	jobID, err := svc.StartImport(context.Background(), ImportRequest{
		FileName:  `C:\exports\users.csv`,
		Source:    source(body),
		Delimiter: ';',
	})
	if err != nil {
		t.Fatal(err)
	}
	res := waitResult(t, svc, jobID)

	if res.RowsProcessed != 3 || res.Created != 2 || len(res.FailedRows) != 1 {
		t.Fatalf("result = %+v", res)
	}
	if res.FailedRows[0].LineNumber != 3 {
		t.Errorf("failed line = %d", res.FailedRows[0].LineNumber)
	}
	if res.ReportFile != "failed_rows-users.csv" {
		t.Errorf("ReportFile = %q", res.ReportFile)
	}
	if !strings.HasPrefix(res.Message, "Import completed! Some rows failed to import.") {
		t.Errorf("Message = %q", res.Message)
	}

	path, name, err := svc.ReportPath(context.Background(), jobID)
	if err != nil {
		t.Fatal(err)
	}
	if name != res.ReportFile || !strings.HasPrefix(path, dir) {
		t.Errorf("ReportPath = %q, %q", path, name)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 || lines[1] != "bad-email;1;x;;;;;" {
		t.Errorf("report = %q", data)
	}
}

func TestServiceRejectsBadSource(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		delim   rune
		wantErr error
	}{
		{"header mismatch", "mail,status\n", ',', ErrHeaderMismatch},
		{"empty", "", ',', ErrEmptySource},
		{"bad delimiter", testHeader + "\n", '|', ErrUnsupportedDelimiter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, _ := newTestService(t, nil)
			src := source(tt.body)
			_, err := svc.StartImport(context.Background(), ImportRequest{FileName: "x.csv", Source: src, Delimiter: tt.delim})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if !src.closed.Load() {
				t.Error("source not closed")
			}
			if svc.LimiterStatus().Active != 0 {
				t.Error("slot not released")
			}
			if len(store.calls) != 0 {
				t.Errorf("store touched: %v", store.calls)
			}
		})
	}
}

func TestServiceGroupImport(t *testing.T) {
	svc, store, _ := newTestService(t, nil)
	jobID, err := svc.StartImport(context.Background(), ImportRequest{
		FileName: "g.csv",
		Source:   source(testHeader + "\nn@x.com,1,,,,,,\n"),
		GroupID:  "g1",
	})
	if err != nil {
		t.Fatal(err)
	}
	res := waitResult(t, svc, jobID)
	if res.RedirectGroup != "g1" || res.GroupID != "g1" {
		t.Errorf("result = %+v", res)
	}
	acct := store.account("n@x.com")
	if acct == nil || !store.isMember("g1", acct.ID) {
		t.Error("account not added to group")
	}
}

func slowSettings(s *Settings) {
	s.RowsPerSecond = 1
	s.MaxConcurrent = 1
	s.MaxWait = 20 * time.Millisecond
}

func TestServiceCancel(t *testing.T) {
	svc, _, _ := newTestService(t, slowSettings)
	body := testHeader + "\n" + strings.Repeat("a@x.com,1,,,,,,\n", 5)

	jobID, err := svc.StartImport(context.Background(), ImportRequest{FileName: "slow.csv", Source: source(body)})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.CancelImport(jobID); err != nil {
		t.Fatal(err)
	}
	res := waitResult(t, svc, jobID)
	if res.Phase != PhaseCancelled {
		t.Errorf("Phase = %v, want cancelled", res.Phase)
	}
	if res.RowsProcessed >= 5 {
		t.Errorf("RowsProcessed = %d, job should have stopped early", res.RowsProcessed)
	}
	if !strings.HasPrefix(res.Message, "Import did not complete.") {
		t.Errorf("Message = %q", res.Message)
	}
}

func TestServiceTooManyJobs(t *testing.T) {
	svc, _, _ := newTestService(t, slowSettings)
	body := testHeader + "\n" + strings.Repeat("a@x.com,1,,,,,,\n", 5)

	first, err := svc.StartImport(context.Background(), ImportRequest{FileName: "1.csv", Source: source(body)})
	if err != nil {
		t.Fatal(err)
	}
	second := source(body)
	_, err = svc.StartImport(context.Background(), ImportRequest{FileName: "2.csv", Source: second})
	if !errors.Is(err, ErrTooManyJobs) {
		t.Fatalf("err = %v, want ErrTooManyJobs", err)
	}
	if !second.closed.Load() {
		t.Error("rejected source not closed")
	}

	svc.CancelAll()
	waitResult(t, svc, first)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := svc.WaitForJobs(ctx); err != nil {
		t.Fatalf("WaitForJobs: %v", err)
	}
}

func TestServiceSubscribeProgress(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	body := testHeader + "\n" + strings.Repeat("a@x.com,1,,,,,,\n", 60)

	jobID, err := svc.StartImport(context.Background(), ImportRequest{FileName: "p.csv", Source: source(body)})
	if err != nil {
		t.Fatal(err)
	}
	ch, err := svc.SubscribeProgress(jobID)
	if err != nil {
		t.Fatal(err)
	}

	var last JobProgress
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case p, ok := <-ch:
			if !ok {
				done = true
				break
			}
			last = p
		case <-timeout:
			t.Fatal("progress channel not closed")
		}
	}
	if last.Phase != PhaseComplete || last.CurrentRow != 60 {
		t.Errorf("last progress = %+v", last)
	}
	if last.Created != 1 || last.Updated != 59 {
		t.Errorf("created/updated = %d/%d", last.Created, last.Updated)
	}

	// Subscribing after the end yields the final snapshot and a closed channel.
	ch, err = svc.SubscribeProgress(jobID)
	if err != nil {
		t.Fatal(err)
	}
	if p := <-ch; p.Phase != PhaseComplete {
		t.Errorf("Phase = %v", p.Phase)
	}
	if _, ok := <-ch; ok {
		t.Error("channel should be closed")
	}
}

func TestServiceUnknownJob(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	if _, err := svc.GetProgress("nope"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("GetProgress err = %v", err)
	}
	if _, err := svc.PeekResult("nope"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("PeekResult err = %v", err)
	}
	if err := svc.CancelImport("nope"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("CancelImport err = %v", err)
	}
	if _, _, err := svc.ReportPath(context.Background(), "nope"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("ReportPath err = %v", err)
	}
}

func TestServiceReportPathFromHistory(t *testing.T) {
	svc, store, _ := newTestService(t, func(s *Settings) { s.ResultTTL = 10 * time.Millisecond })
	jobID, err := svc.StartImport(context.Background(), ImportRequest{
		FileName: "h.csv",
		Source:   source(testHeader + "\nbad,1,,,,,,\n"),
	})
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		_, lerr := svc.lookup(jobID)
		j, _ := store.GetJob(context.Background(), jobID)
		if lerr != nil && j != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("job was not forgotten")
		}
		time.Sleep(5 * time.Millisecond)
	}

	path, name, err := svc.ReportPath(context.Background(), jobID)
	if err != nil {
		t.Fatalf("ReportPath: %v", err)
	}
	if name != "failed_rows-h.csv" {
		t.Errorf("name = %q", name)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("report missing: %v", err)
	}
}

func TestServiceHistoryFailureDoesNotFailJob(t *testing.T) {
	svc, store, _ := newTestService(t, nil)
	store.historyFaults = errors.New("connection refused")

	jobID, err := svc.StartImport(context.Background(), ImportRequest{
		FileName: "x.csv",
		Source:   source(testHeader + "\na@x.com,1,,,,,,\n"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res := waitResult(t, svc, jobID); res.Phase != PhaseComplete {
		t.Errorf("Phase = %v", res.Phase)
	}
}
