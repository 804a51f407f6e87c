package core

// job_limiter.go bounds how many imports run at once. Each import holds a
// slot for its whole lifetime; a request that cannot get a slot within
// maxWait fails with ErrTooManyJobs. WaitForDrain supports graceful shutdown.

import (
	"context"
	"errors"
	"time"
)

// ErrTooManyJobs is returned when every import slot stays occupied for the
// whole wait period. Clients should retry after a short delay.
var ErrTooManyJobs = errors.New("too many concurrent imports, please try again later")

const (
	// DefaultMaxConcurrentJobs is used when the configured limit is not positive.
	DefaultMaxConcurrentJobs = 3

	// DefaultMaxWaitTime is how long Acquire waits for a slot by default.
	DefaultMaxWaitTime = 30 * time.Second
)

// JobLimiter is a counting semaphore for import jobs.
type JobLimiter struct {
	slots   chan struct{}
	maxWait time.Duration
}

// NewJobLimiter allows at most maxConcurrent imports at a time.
func NewJobLimiter(maxConcurrent int, maxWait time.Duration) *JobLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentJobs
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	return &JobLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
	}
}

// Acquire takes a slot, waiting up to maxWait. The caller must Release it.
func (l *JobLimiter) Acquire(ctx context.Context) error {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTooManyJobs
	}
}

// Release frees a slot taken by Acquire.
func (l *JobLimiter) Release() {
	<-l.slots
}

// Active returns the number of slots in use.
func (l *JobLimiter) Active() int {
	return len(l.slots)
}

// MaxConcurrent returns the slot count.
func (l *JobLimiter) MaxConcurrent() int {
	return cap(l.slots)
}

// WaitForDrain blocks until no slot is in use or ctx is done.
func (l *JobLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for l.Active() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// LimiterStatus is a point-in-time view of the limiter.
type LimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status returns the limiter state for monitoring.
func (l *JobLimiter) Status() LimiterStatus {
	active := l.Active()
	return LimiterStatus{
		Active:        active,
		Available:     cap(l.slots) - active,
		MaxConcurrent: cap(l.slots),
	}
}
