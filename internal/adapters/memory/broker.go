// Package memory provides process-local implementations of the broker and
// repository ports. They back STORE=memory development runs and the tests of
// every layer above the adapters.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"sitewatch/internal/domain"
	"sitewatch/internal/ports"
)

// maxIdleWait bounds how long ClaimNext sleeps before re-checking for due
// delayed jobs and expired leases.
const maxIdleWait = time.Second

// Broker is an in-memory JobBroker with the same state machine as the
// postgres adapter. Nothing survives a restart.
type Broker struct {
	mu     sync.Mutex
	jobs   map[string]*domain.AnalysisJob
	order  []string
	opts   ports.JobOptions
	paused bool
	wake   chan struct{}
	now    func() time.Time // injectable for deterministic tests
}

// NewBroker returns an empty broker applying opts to every enqueued job.
func NewBroker(opts ports.JobOptions) *Broker {
	return &Broker{
		jobs: make(map[string]*domain.AnalysisJob),
		opts: opts,
		wake: make(chan struct{}),
		now:  time.Now,
	}
}

// SetClock replaces the broker's time source.
func (b *Broker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// broadcastLocked wakes every goroutine blocked in ClaimNext.
func (b *Broker) broadcastLocked() {
	close(b.wake)
	b.wake = make(chan struct{})
}

func (b *Broker) Enqueue(ctx context.Context, url string, metadata map[string]string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	id := domain.NewJobID(now)
	for b.jobs[id] != nil {
		id = domain.NewJobID(now)
	}
	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	b.jobs[id] = &domain.AnalysisJob{
		ID:          id,
		URL:         url,
		Metadata:    md,
		RequestedAt: now,
		MaxAttempts: b.opts.MaxAttempts,
		Backoff:     domain.BackoffPolicy{Type: "exponential", Base: b.opts.BackoffBase},
		State:       domain.JobWaiting,
		AvailableAt: now,
	}
	b.order = append(b.order, id)
	b.broadcastLocked()
	return id, nil
}

func (b *Broker) Get(ctx context.Context, jobID string) (*domain.AnalysisJob, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	j, ok := b.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneJob(j), nil
}

// TryClaim promotes due delayed jobs, then hands out the eligible job that
// has been available the longest. Active jobs with an expired lease are
// eligible again and keep their attempt count; the new claim gets a fresh
// lease token.
func (b *Broker) TryClaim(ctx context.Context) (*domain.AnalysisJob, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	j := b.claimLocked()
	if j == nil {
		return nil, false, nil
	}
	return cloneJob(j), true, nil
}

func (b *Broker) claimLocked() *domain.AnalysisJob {
	if b.paused {
		return nil
	}
	now := b.now()
	var next *domain.AnalysisJob
	var nextAt time.Time
	for _, id := range b.order {
		j := b.jobs[id]
		var at time.Time
		switch j.State {
		case domain.JobDelayed:
			if j.AvailableAt.After(now) {
				continue
			}
			j.State = domain.JobWaiting
			at = j.AvailableAt
		case domain.JobWaiting:
			at = j.AvailableAt
		case domain.JobActive:
			if j.LeaseExpires == nil || j.LeaseExpires.After(now) {
				continue
			}
			at = *j.LeaseExpires
		default:
			continue
		}
		if next == nil || at.Before(nextAt) {
			next, nextAt = j, at
		}
	}
	if next == nil {
		return nil
	}
	lease := now.Add(b.opts.LeaseTimeout)
	next.State = domain.JobActive
	next.LeaseExpires = &lease
	next.LeaseToken = uuid.NewString()
	if next.StartedAt == nil {
		started := now
		next.StartedAt = &started
	}
	return next
}

// idleWaitLocked is how long to sleep before the next delayed job or lease
// becomes due.
func (b *Broker) idleWaitLocked() time.Duration {
	now := b.now()
	wait := maxIdleWait
	for _, j := range b.jobs {
		var due time.Time
		switch {
		case j.State == domain.JobDelayed:
			due = j.AvailableAt
		case j.State == domain.JobActive && j.LeaseExpires != nil:
			due = *j.LeaseExpires
		default:
			continue
		}
		if d := due.Sub(now); d < wait {
			wait = d
		}
	}
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait
}

func (b *Broker) ClaimNext(ctx context.Context) (*domain.AnalysisJob, error) {
	for {
		b.mu.Lock()
		if j := b.claimLocked(); j != nil {
			out := cloneJob(j)
			b.mu.Unlock()
			return out, nil
		}
		wake := b.wake
		wait := b.idleWaitLocked()
		b.mu.Unlock()

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-wake:
		case <-t.C:
		}
		t.Stop()
	}
}

// heldLocked returns the job if it is active under leaseToken. An expired
// lease that nobody has reclaimed yet is still honoured.
func (b *Broker) heldLocked(jobID, leaseToken string) (*domain.AnalysisJob, error) {
	j, ok := b.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if j.State != domain.JobActive || j.LeaseToken != leaseToken {
		return nil, domain.ErrJobNotActive
	}
	return j, nil
}

func (b *Broker) Complete(ctx context.Context, jobID, leaseToken string, result domain.AnalysisResult) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	j, err := b.heldLocked(jobID, leaseToken)
	if err != nil {
		return err
	}
	now := b.now()
	res := result
	j.State = domain.JobCompleted
	j.Result = &res
	j.FinishedAt = &now
	j.LeaseExpires = nil
	j.LeaseToken = ""
	return nil
}

func (b *Broker) Fail(ctx context.Context, jobID, leaseToken, reason string) (*domain.AnalysisJob, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	j, err := b.heldLocked(jobID, leaseToken)
	if err != nil {
		return nil, err
	}
	j.FailAttempt(reason, b.now())
	b.broadcastLocked()
	return cloneJob(j), nil
}

func (b *Broker) Counts(ctx context.Context) (domain.QueueCounts, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var c domain.QueueCounts
	for _, j := range b.jobs {
		switch j.State {
		case domain.JobWaiting:
			c.Waiting++
		case domain.JobActive:
			c.Active++
		case domain.JobCompleted:
			c.Completed++
		case domain.JobFailed:
			c.Failed++
		case domain.JobDelayed:
			c.Delayed++
		}
	}
	return c, nil
}

func (b *Broker) Pause(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paused = true
	return nil
}

func (b *Broker) Resume(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paused = false
	b.broadcastLocked()
	return nil
}

func (b *Broker) Paused(ctx context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paused, nil
}

func (b *Broker) Ping(ctx context.Context) error { return ctx.Err() }

func cloneJob(j *domain.AnalysisJob) *domain.AnalysisJob {
	out := *j
	if j.Metadata != nil {
		out.Metadata = make(map[string]string, len(j.Metadata))
		for k, v := range j.Metadata {
			out.Metadata[k] = v
		}
	}
	if j.Result != nil {
		res := *j.Result
		out.Result = &res
	}
	return &out
}
