package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/time/rate"
)

// progressEvery is how many rows pass between progress notifications.
const progressEvery = 25

// runJob drives one job from the first data row to the final report. ctx is
// only checked between rows, so a row that has started is always finished.
func (s *Service) runJob(ctx context.Context, aj *activeJob, stream *RowStream) {
	logger := s.logger.With("job_id", aj.id, "source", aj.req.FileName)
	job := aj.job
	phase := PhaseComplete
	var runErr error

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in import job", "panic", r)
			s.finishJob(aj, PhaseFailed, fmt.Errorf("internal error: %v", r))
		}
	}()

	if err := job.RememberSource(aj.req.FileName); err != nil {
		logger.Warn("remember source", "error", err)
	}

	var limiter *rate.Limiter
	if s.settings.RowsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.settings.RowsPerSecond), 1)
	}

	aj.update(func(p *JobProgress) { p.Phase = PhaseImporting })
	logger.Info("import started", "group_id", aj.req.GroupID)

	rowCtx := context.WithoutCancel(ctx)
	for {
		if err := ctx.Err(); err != nil {
			phase, runErr = stopPhase(err), err
			break
		}

		row, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			phase, runErr = PhaseFailed, err
			break
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				phase, runErr = stopPhase(ctx.Err()), err
				break
			}
		}

		s.orchestrator.ProcessRow(rowCtx, job, row, aj.req.GroupID)

		n := job.result.RowsProcessed
		if n%progressEvery == 0 {
			res := job.result
			aj.update(func(p *JobProgress) {
				p.CurrentRow = n
				p.Created = res.Created
				p.Updated = res.Updated
				p.Failed = len(res.FailedRows)
				p.BytesRead = stream.BytesRead()
				p.Message = fmt.Sprintf("Importing row %d", n)
			})
		}
	}

	s.finishJob(aj, phase, runErr)
}

// finishJob emits the report, records history and publishes the result.
func (s *Service) finishJob(aj *activeJob, phase JobPhase, runErr error) {
	logger := s.logger.With("job_id", aj.id, "source", aj.req.FileName)
	job := aj.job

	directive := job.Finish(phase == PhaseComplete)
	report := Report{Message: directive.Message}
	if s.reports != nil {
		var err error
		report, err = s.reports.Emit(context.Background(), aj.id, directive, aj.req.Delimiter)
		if err != nil {
			logger.Error("write failure report", "error", err)
		}
	}

	res := &ImportResult{
		JobID:         aj.id,
		FileName:      aj.req.FileName,
		GroupID:       aj.req.GroupID,
		Phase:         phase,
		RowsProcessed: directive.RowsProcessed,
		Created:       directive.Created,
		Updated:       directive.Updated,
		FailedRows:    directive.FailedRows,
		ReportFile:    report.FileName,
		Message:       report.Message,
		RedirectGroup: directive.RedirectGroup,
		Duration:      time.Since(aj.startedAt),
	}
	if res.RedirectGroup == "" {
		res.RedirectGroup = aj.req.GroupID
	}
	if runErr != nil {
		res.Error = runErr.Error()
	}

	if s.history != nil {
		hctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := s.history.RecordJob(hctx, JobSummary{
			ID:            aj.id,
			SourceFile:    aj.req.FileName,
			GroupID:       aj.req.GroupID,
			Phase:         phase,
			RowsProcessed: res.RowsProcessed,
			Created:       res.Created,
			Updated:       res.Updated,
			Failed:        len(res.FailedRows),
			ReportFile:    res.ReportFile,
			Message:       res.Message,
			Duration:      res.Duration,
			StartedAt:     aj.startedAt,
			FinishedAt:    time.Now(),
		})
		cancel()
		if err != nil {
			logger.Error("record job history", "error", err)
		}
	}

	jobsTotal.WithLabelValues(string(phase)).Inc()
	jobDuration.Observe(res.Duration.Seconds())

	logger.Info("import finished",
		"phase", phase,
		"rows", res.RowsProcessed,
		"created", res.Created,
		"updated", res.Updated,
		"failed", len(res.FailedRows),
		"duration_ms", res.Duration.Milliseconds(),
	)

	aj.update(func(p *JobProgress) {
		p.Phase = phase
		p.CurrentRow = res.RowsProcessed
		p.Created = res.Created
		p.Updated = res.Updated
		p.Failed = len(res.FailedRows)
		p.Message = res.Message
		p.Error = res.Error
		if p.BytesTotal > 0 {
			p.BytesRead = p.BytesTotal
		}
	})
	aj.complete(res)
	s.forget(aj.id, s.settings.ResultTTL)
}

func stopPhase(err error) JobPhase {
	if errors.Is(err, context.Canceled) {
		return PhaseCancelled
	}
	return PhaseFailed
}
