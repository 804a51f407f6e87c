package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Settings holds the import behaviour configured for a Service.
type Settings struct {
	Reconciler ReconcilerConfig

	// DefaultDelimiter is used when a request does not name one.
	DefaultDelimiter rune

	// Encoding is the source charset; empty means UTF-8.
	Encoding string

	// RowsPerSecond throttles row processing per job. 0 disables throttling.
	RowsPerSecond float64

	JobTimeout    time.Duration
	MaxConcurrent int
	MaxWait       time.Duration

	// ResultTTL is how long a finished job stays queryable in memory.
	ResultTTL time.Duration
}

// DefaultSettings returns settings suitable for tests and local runs.
func DefaultSettings() Settings {
	return Settings{
		Reconciler: ReconcilerConfig{
			Locales:         NewLocaleSet("en"),
			Zones:           IANAZones{},
			DefaultLocale:   "en",
			DefaultTimezone: "UTC",
		},
		DefaultDelimiter: DelimiterComma,
		JobTimeout:       30 * time.Minute,
		MaxConcurrent:    DefaultMaxConcurrentJobs,
		MaxWait:          DefaultMaxWaitTime,
		ResultTTL:        30 * time.Minute,
	}
}

// ImportRequest describes one source to import.
type ImportRequest struct {
	FileName  string
	Source    io.ReadCloser
	Size      int64
	Delimiter rune // 0 uses Settings.DefaultDelimiter
	GroupID   string
}

// ImportResult is the final state of a job.
type ImportResult struct {
	JobID         string        `json:"job_id"`
	FileName      string        `json:"file_name"`
	GroupID       string        `json:"group_id,omitempty"`
	Phase         JobPhase      `json:"phase"`
	RowsProcessed int           `json:"rows_processed"`
	Created       int           `json:"created"`
	Updated       int           `json:"updated"`
	FailedRows    []FailedRow   `json:"failed_rows"`
	ReportFile    string        `json:"report_file,omitempty"`
	Message       string        `json:"message"`
	RedirectGroup string        `json:"redirect_group,omitempty"`
	Error         string        `json:"error,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// Service runs import jobs in the background and tracks their progress.
type Service struct {
	store        IdentityStore
	reports      *FileReportSink
	history      JobHistory
	orchestrator *Orchestrator
	limiter      *JobLimiter
	settings     Settings
	logger       *slog.Logger

	mu   sync.RWMutex
	jobs map[string]*activeJob
}

// Option configures a Service.
type Option func(*Service)

// WithHistory persists job summaries to h.
func WithHistory(h JobHistory) Option {
	return func(s *Service) { s.history = h }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

type activeJob struct {
	id        string
	req       ImportRequest
	job       *Job
	cancel    context.CancelFunc
	startedAt time.Time
	done      chan struct{}
	doneOnce  sync.Once

	mu        sync.Mutex
	progress  JobProgress
	result    *ImportResult
	listeners []chan JobProgress
}

// NewService creates a Service that applies rows to store and writes failure
// files through reports.
func NewService(store IdentityStore, reports *FileReportSink, settings Settings, opts ...Option) *Service {
	s := &Service{
		store:    store,
		reports:  reports,
		settings: settings,
		logger:   slog.Default(),
		jobs:     make(map[string]*activeJob),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.settings.DefaultDelimiter == 0 {
		s.settings.DefaultDelimiter = DelimiterComma
	}
	if s.settings.JobTimeout <= 0 {
		s.settings.JobTimeout = 30 * time.Minute
	}
	if s.settings.ResultTTL <= 0 {
		s.settings.ResultTTL = 30 * time.Minute
	}
	s.limiter = NewJobLimiter(s.settings.MaxConcurrent, s.settings.MaxWait)
	s.orchestrator = NewOrchestrator(NewReconciler(store, s.settings.Reconciler), s.logger)
	return s
}

// StartImport validates the source header and begins importing in the
// background. It returns the job ID immediately; the source is closed when
// the job ends. Header and delimiter problems are returned before any row is
// processed.
//
// Returns ErrTooManyJobs if no import slot frees up within the wait period.
func (s *Service) StartImport(ctx context.Context, req ImportRequest) (string, error) {
	if req.Delimiter == 0 {
		req.Delimiter = s.settings.DefaultDelimiter
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		req.Source.Close()
		return "", err
	}

	stream, err := OpenSource(req.Source, SourceOptions{
		Delimiter: req.Delimiter,
		Encoding:  s.settings.Encoding,
		Size:      req.Size,
	})
	if err != nil {
		s.limiter.Release()
		req.Source.Close()
		return "", err
	}

	jobID := uuid.New().String()
	jobCtx, cancel := context.WithTimeout(context.Background(), s.settings.JobTimeout)

	aj := &activeJob{
		id:        jobID,
		req:       req,
		job:       NewJob(),
		cancel:    cancel,
		startedAt: time.Now(),
		done:      make(chan struct{}),
		progress: JobProgress{
			JobID:      jobID,
			Phase:      PhaseStarting,
			FileName:   req.FileName,
			GroupID:    req.GroupID,
			BytesTotal: req.Size,
		},
	}

	s.mu.Lock()
	s.jobs[jobID] = aj
	s.mu.Unlock()

	jobsActive.Inc()
	go func() {
		defer s.limiter.Release()
		defer jobsActive.Dec()
		defer cancel()
		defer req.Source.Close()
		s.runJob(jobCtx, aj, stream)
	}()

	return jobID, nil
}

// SubscribeProgress returns a channel of progress updates for a job. The
// current progress is delivered first; the channel is closed when the job ends.
func (s *Service) SubscribeProgress(jobID string) (<-chan JobProgress, error) {
	aj, err := s.lookup(jobID)
	if err != nil {
		return nil, err
	}

	ch := make(chan JobProgress, 16)
	aj.mu.Lock()
	defer aj.mu.Unlock()

	ch <- aj.progress
	if aj.result != nil {
		close(ch)
		return ch, nil
	}
	aj.listeners = append(aj.listeners, ch)
	return ch, nil
}

// CancelImport stops a job at the next row boundary.
func (s *Service) CancelImport(jobID string) error {
	aj, err := s.lookup(jobID)
	if err != nil {
		return err
	}
	aj.cancel()
	return nil
}

// GetProgress returns the current progress without blocking.
func (s *Service) GetProgress(jobID string) (JobProgress, error) {
	aj, err := s.lookup(jobID)
	if err != nil {
		return JobProgress{}, err
	}
	aj.mu.Lock()
	defer aj.mu.Unlock()
	return aj.progress, nil
}

// GetResult waits for a job to finish and returns its result.
func (s *Service) GetResult(ctx context.Context, jobID string) (*ImportResult, error) {
	aj, err := s.lookup(jobID)
	if err != nil {
		return nil, err
	}
	select {
	case <-aj.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	aj.mu.Lock()
	defer aj.mu.Unlock()
	return aj.result, nil
}

// PeekResult returns the result of a finished job, or nil while it is still running.
func (s *Service) PeekResult(jobID string) (*ImportResult, error) {
	aj, err := s.lookup(jobID)
	if err != nil {
		return nil, err
	}
	aj.mu.Lock()
	defer aj.mu.Unlock()
	return aj.result, nil
}

// ReportPath returns the failure file of a finished job. Jobs no longer held
// in memory are resolved through the job history.
func (s *Service) ReportPath(ctx context.Context, jobID string) (path, name string, err error) {
	if aj, lerr := s.lookup(jobID); lerr == nil {
		aj.mu.Lock()
		res := aj.result
		aj.mu.Unlock()
		if res == nil || res.ReportFile == "" || s.reports == nil {
			return "", "", ErrJobNotFound
		}
		return s.reports.Path(jobID, res.ReportFile), res.ReportFile, nil
	}

	if s.history == nil || s.reports == nil {
		return "", "", ErrJobNotFound
	}
	summary, err := s.history.GetJob(ctx, jobID)
	if err != nil {
		return "", "", fmt.Errorf("get job: %w", err)
	}
	if summary == nil || summary.ReportFile == "" {
		return "", "", ErrJobNotFound
	}
	return s.reports.Path(jobID, summary.ReportFile), summary.ReportFile, nil
}

// ListHistory returns the most recent finished jobs.
func (s *Service) ListHistory(ctx context.Context, limit int) ([]JobSummary, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.ListJobs(ctx, limit)
}

// LimiterStatus returns the current concurrency state.
func (s *Service) LimiterStatus() LimiterStatus {
	return s.limiter.Status()
}

// WaitForJobs blocks until running jobs finish or ctx is done.
func (s *Service) WaitForJobs(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// CancelAll cancels every running job.
func (s *Service) CancelAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, aj := range s.jobs {
		aj.cancel()
	}
}

func (s *Service) lookup(jobID string) (*activeJob, error) {
	s.mu.RLock()
	aj, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return aj, nil
}

// forget removes a finished job from memory after delay.
func (s *Service) forget(jobID string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.jobs, jobID)
		s.mu.Unlock()
	})
}

// update mutates the job's progress and notifies listeners.
func (aj *activeJob) update(fn func(p *JobProgress)) {
	aj.mu.Lock()
	defer aj.mu.Unlock()
	fn(&aj.progress)
	for _, ch := range aj.listeners {
		select {
		case ch <- aj.progress:
		default:
			// slow listener, drop this update
		}
	}
}

// complete stores the result, closes listeners and releases waiters. Only
// the first call has any effect.
func (aj *activeJob) complete(res *ImportResult) {
	aj.doneOnce.Do(func() {
		aj.mu.Lock()
		aj.result = res
		for _, ch := range aj.listeners {
			close(ch)
		}
		aj.listeners = nil
		aj.mu.Unlock()
		close(aj.done)
	})
}

// IsClientError reports whether err was caused by the request rather than
// the server.
func IsClientError(err error) bool {
	return errors.Is(err, ErrHeaderMismatch) ||
		errors.Is(err, ErrMissingFile) ||
		errors.Is(err, ErrEmptySource) ||
		errors.Is(err, ErrUnsupportedDelimiter) ||
		errors.Is(err, ErrUnsupportedEncoding)
}
