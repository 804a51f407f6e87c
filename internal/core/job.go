package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// FailureFilePrefix is prepended to the source base name to name the failed-rows file.
const FailureFilePrefix = "failed_rows-"

// defaultSourceName is used for the failure file when no source was remembered.
const defaultSourceName = "import.csv"

// JobState is the lifecycle state of a Job.
type JobState int

const (
	JobNotStarted JobState = iota
	JobRunning
	JobFinished
)

func (s JobState) String() string {
	switch s {
	case JobRunning:
		return "running"
	case JobFinished:
		return "finished"
	default:
		return "not_started"
	}
}

// SourceRow is one data row as read from the source, with its 1-based line number.
type SourceRow struct {
	Line  int
	Cells []string
}

// JobResult is the accumulated outcome of a job.
type JobResult struct {
	RowsProcessed  int
	Created        int
	Updated        int
	FailedRows     []FailedRow
	SourceFilename string
	GroupID        string
}

// Job accumulates the outcome of one import. A Job is driven by a single
// goroutine and is not safe for concurrent use.
type Job struct {
	state  JobState
	result JobResult
}

// NewJob returns a job in the NotStarted state.
func NewJob() *Job {
	return &Job{}
}

// State returns the job's lifecycle state.
func (j *Job) State() JobState {
	return j.state
}

// RememberSource records the source filename and moves the job to Running.
// It must be called once, before any row.
func (j *Job) RememberSource(filename string) error {
	if j.result.SourceFilename != "" || j.state != JobNotStarted {
		return ErrSourceAlreadySet
	}
	j.result.SourceFilename = filename
	j.state = JobRunning
	return nil
}

// Result returns a copy of the accumulated result.
func (j *Job) Result() JobResult {
	r := j.result
	r.FailedRows = append([]FailedRow(nil), j.result.FailedRows...)
	return r
}

// Finish moves the job to Finished and returns the report directive.
func (j *Job) Finish(success bool) ReportDirective {
	j.state = JobFinished
	return Finish(success, j.Result())
}

func (j *Job) fail(row SourceRow, reason string) {
	j.result.FailedRows = append(j.result.FailedRows, FailedRow{
		LineNumber: row.Line,
		Reason:     reason,
		Data:       row.Cells,
	})
}

// Orchestrator applies source rows to a job.
type Orchestrator struct {
	reconciler *Reconciler
	logger     *slog.Logger
}

// NewOrchestrator creates an Orchestrator. A nil logger uses slog.Default().
func NewOrchestrator(reconciler *Reconciler, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{reconciler: reconciler, logger: logger}
}

// ProcessRow decodes and reconciles one data row. It never returns an error:
// a row that cannot be applied is appended to the job's failed rows and the
// job continues. The header row must not be passed in.
func (o *Orchestrator) ProcessRow(ctx context.Context, job *Job, row SourceRow, groupID string) {
	if job.state == JobNotStarted {
		job.state = JobRunning
	}
	job.result.RowsProcessed++
	job.result.GroupID = groupID

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic while importing row", "line", row.Line, "panic", r)
			job.fail(row, fmt.Sprintf("internal error: %v", r))
			rowsTotal.WithLabelValues(rowOutcomeFailed).Inc()
		}
	}()

	decoded := DecodeRow(row.Cells)
	if decoded.Rejected {
		o.logger.Debug("row rejected", "line", row.Line, "reason", decoded.Reason)
		job.fail(row, decoded.Reason)
		rowsTotal.WithLabelValues(rowOutcomeRejected).Inc()
		return
	}

	outcome, err := o.reconciler.Reconcile(ctx, decoded.Record, groupID)
	if err != nil {
		o.logger.Warn("row not applied", "line", row.Line, "error", err)
		job.fail(row, err.Error())
		rowsTotal.WithLabelValues(rowOutcomeFailed).Inc()
		return
	}

	switch outcome.Action {
	case ActionCreated:
		job.result.Created++
	case ActionUpdated:
		job.result.Updated++
	}
	rowsTotal.WithLabelValues(string(outcome.Action)).Inc()
}

// ReportDirective tells the report sink what to emit for a finished job.
type ReportDirective struct {
	Success         bool
	RowsProcessed   int
	Created         int
	Updated         int
	FailedRows      []FailedRow
	SourceFilename  string
	EmitFailureFile bool
	FailureFileName string
	Message         string
	RedirectGroup   string
}

// Finish turns a job result into a ReportDirective. It is safe to call with
// no failed rows, in which case no failure file is requested.
func Finish(success bool, result JobResult) ReportDirective {
	d := ReportDirective{
		Success:         success,
		RowsProcessed:   result.RowsProcessed,
		Created:         result.Created,
		Updated:         result.Updated,
		FailedRows:      result.FailedRows,
		SourceFilename:  result.SourceFilename,
		EmitFailureFile: len(result.FailedRows) > 0,
		RedirectGroup:   result.GroupID,
	}
	if d.EmitFailureFile {
		d.FailureFileName = FailureFileName(result.SourceFilename)
	}

	var msg []string
	if success {
		msg = append(msg, "Import completed!")
	} else {
		msg = append(msg, "Import did not complete.")
	}
	if d.EmitFailureFile {
		msg = append(msg, "Some rows failed to import.")
	}
	d.Message = strings.Join(msg, " ")

	return d
}

// FailureFileName derives the failed-rows file name from a source filename.
// Directory components, including Windows-style ones, are dropped.
func FailureFileName(source string) string {
	base := source
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	base = strings.TrimSpace(base)
	if base == "" || base == "." || base == ".." {
		base = defaultSourceName
	}
	return FailureFilePrefix + base
}
