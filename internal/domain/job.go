package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobState is the broker-owned lifecycle state of an analysis job.
type JobState string

const (
	JobWaiting   JobState = "waiting"
	JobDelayed   JobState = "delayed"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// Terminal reports whether no further transition can leave s.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// BackoffPolicy describes exponential retry delays: Base * 2^(attempt-1).
type BackoffPolicy struct {
	Type string        `json:"type"` // only "exponential" is supported
	Base time.Duration `json:"base"`
}

// Delay returns how long a job that has failed attemptsMade times waits
// before it is eligible again.
func (p BackoffPolicy) Delay(attemptsMade int) time.Duration {
	if attemptsMade < 1 {
		attemptsMade = 1
	}
	shift := attemptsMade - 1
	if shift > 20 {
		shift = 20
	}
	return p.Base * time.Duration(1<<uint(shift))
}

// AnalysisJob is one queued request to analyze a URL.
type AnalysisJob struct {
	ID            string
	URL           string
	Metadata      map[string]string
	RequestedAt   time.Time
	AttemptsMade  int
	MaxAttempts   int
	Backoff       BackoffPolicy
	State         JobState
	AvailableAt   time.Time  // when a delayed job becomes claimable again
	LeaseExpires  *time.Time // set while active
	LeaseToken    string     // identifies the current claim; acks must present it
	StartedAt     *time.Time
	FinishedAt    *time.Time
	Result        *AnalysisResult
	FailureReason string
}

// CanRetry reports whether the job still has attempts left and has not
// finished.
func (j *AnalysisJob) CanRetry() bool {
	return j.AttemptsMade < j.MaxAttempts && !j.State.Terminal()
}

// FailAttempt records one failed attempt at now. The job is parked Delayed
// for its backoff while attempts remain, and ends Failed once they run out.
func (j *AnalysisJob) FailAttempt(reason string, now time.Time) {
	j.AttemptsMade++
	j.FailureReason = reason
	j.LeaseExpires = nil
	j.LeaseToken = ""
	if !j.CanRetry() {
		j.State = JobFailed
		j.FinishedAt = &now
		return
	}
	j.State = JobDelayed
	j.AvailableAt = now.Add(j.Backoff.Delay(j.AttemptsMade))
}

// Public status vocabulary exposed to pollers.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusUnknown    = "unknown"
)

// PublicStatus maps the broker state to what clients see.
func (j *AnalysisJob) PublicStatus() string {
	switch j.State {
	case JobWaiting, JobDelayed:
		return StatusQueued
	case JobActive:
		return StatusProcessing
	case JobCompleted:
		return StatusCompleted
	case JobFailed:
		return StatusFailed
	default:
		return StatusUnknown
	}
}

// NewJobID returns a caller-opaque id: millisecond timestamp plus a random
// suffix so submissions made in the same instant stay distinct.
func NewJobID(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}

// QueueCounts is the number of jobs in each broker state.
type QueueCounts struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
}
