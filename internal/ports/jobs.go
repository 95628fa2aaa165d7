package ports

import (
	"context"
	"time"

	"sitewatch/internal/domain"
)

// JobBroker is the durable analysis queue. Delivery is at-least-once: a
// claimed job whose lease expires is handed out again, so handlers must be
// idempotent.
type JobBroker interface {
	Enqueue(ctx context.Context, url string, metadata map[string]string) (jobID string, err error)
	Get(ctx context.Context, jobID string) (*domain.AnalysisJob, error)
	// ClaimNext blocks until a job is available or ctx is done.
	ClaimNext(ctx context.Context) (*domain.AnalysisJob, error)
	// TryClaim claims the next eligible job without waiting.
	TryClaim(ctx context.Context) (job *domain.AnalysisJob, found bool, err error)
	// Complete and Fail settle the claim identified by leaseToken. They
	// return ErrJobNotActive when the job is no longer held under that token.
	Complete(ctx context.Context, jobID, leaseToken string, result domain.AnalysisResult) error
	// Fail records a failed attempt and returns the job after the retry
	// decision: Delayed while attempts remain, Failed once exhausted.
	Fail(ctx context.Context, jobID, leaseToken, reason string) (*domain.AnalysisJob, error)
	Counts(ctx context.Context) (domain.QueueCounts, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Paused(ctx context.Context) (bool, error)
	Ping(ctx context.Context) error
}

// JobOptions are the per-job retry settings a broker applies at enqueue time.
type JobOptions struct {
	MaxAttempts  int
	BackoffBase  time.Duration
	LeaseTimeout time.Duration
}

// DefaultJobOptions mirrors the production queue defaults.
func DefaultJobOptions() JobOptions {
	return JobOptions{
		MaxAttempts:  3,
		BackoffBase:  2 * time.Second,
		LeaseTimeout: 2 * time.Minute,
	}
}
