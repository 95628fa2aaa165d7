// Package analysisrunner drains the analysis queue with a bounded pool of
// handlers and reports every outcome back to the broker.
package analysisrunner

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"sitewatch/internal/domain"
	"sitewatch/internal/ports"
)

// Handler performs the analysis for one claimed job.
type Handler interface {
	Handle(ctx context.Context, job *domain.AnalysisJob) (domain.AnalysisResult, error)
}

// StatsRecorder receives terminal outcomes.
type StatsRecorder interface {
	RecordSuccess(ctx context.Context, res domain.AnalysisResult) (domain.AnalysisStats, error)
	RecordFailure(ctx context.Context, job *domain.AnalysisJob) (domain.AnalysisStats, error)
}

type Options struct {
	Concurrency   int
	RatePerSecond float64       // handler starts per second; <= 0 means unlimited
	RetryInterval time.Duration // pause after a broker error
	DrainTimeout  time.Duration
}

func DefaultOptions() Options {
	return Options{
		Concurrency:   5,
		RatePerSecond: 10,
		RetryInterval: 500 * time.Millisecond,
		DrainTimeout:  15 * time.Second,
	}
}

type Runner struct {
	broker   ports.JobBroker
	handler  Handler
	websites ports.WebsiteRepository
	stats    StatsRecorder
	opts     Options
	limiter  *rate.Limiter
	log      logrus.FieldLogger
	alive    atomic.Bool
	now      func() time.Time
}

func New(broker ports.JobBroker, handler Handler, websites ports.WebsiteRepository, stats StatsRecorder, opts Options, log logrus.FieldLogger) *Runner {
	def := DefaultOptions()
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = def.RetryInterval
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = def.DrainTimeout
	}
	limit, burst := limitFor(opts.RatePerSecond)
	return &Runner{
		broker:   broker,
		handler:  handler,
		websites: websites,
		stats:    stats,
		opts:     opts,
		limiter:  rate.NewLimiter(limit, burst),
		log:      log,
		now:      time.Now,
	}
}

// limitFor keeps the burst at one: starts stay 1/perSecond apart even after
// the pool has been idle.
func limitFor(perSecond float64) (rate.Limit, int) {
	if perSecond <= 0 {
		return rate.Inf, 1
	}
	return rate.Limit(perSecond), 1
}

// Alive reports whether the dispatch loop is running.
func (r *Runner) Alive() bool { return r.alive.Load() }

// SetRateLimit changes the throughput cap of a running pool.
func (r *Runner) SetRateLimit(perSecond float64) {
	limit, burst := limitFor(perSecond)
	r.limiter.SetLimit(limit)
	r.limiter.SetBurst(burst)
	r.log.WithField("rate_per_second", perSecond).Info("worker rate limit updated")
}

// Run claims and processes jobs until ctx is cancelled, then waits up to
// DrainTimeout for in-flight handlers. Handlers still running after that are
// cancelled; their jobs are redelivered once the lease expires.
func (r *Runner) Run(ctx context.Context) error {
	if r.opts.Concurrency < 1 {
		return nil
	}
	r.alive.Store(true)
	defer r.alive.Store(false)

	handlerCtx, cancelHandlers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelHandlers()

	var handlers errgroup.Group
	slots := make(chan struct{}, r.opts.Concurrency)

	r.log.WithFields(logrus.Fields{
		"concurrency":     r.opts.Concurrency,
		"rate_per_second": r.opts.RatePerSecond,
	}).Info("analysis workers started")

dispatch:
	for {
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			break dispatch
		}
		job, err := r.broker.ClaimNext(ctx)
		if err != nil {
			<-slots
			if ctx.Err() != nil {
				break dispatch
			}
			r.log.WithError(err).Error("job claim error")
			select {
			case <-ctx.Done():
				break dispatch
			case <-time.After(r.opts.RetryInterval):
			}
			continue
		}
		// handlerCtx outlives shutdown, so a job already claimed still starts.
		if err := r.limiter.Wait(handlerCtx); err != nil {
			<-slots
			r.log.WithError(err).WithField("job_id", job.ID).Warn("claimed job left for lease expiry")
			break dispatch
		}
		handlers.Go(func() error {
			defer func() { <-slots }()
			r.Process(handlerCtx, job)
			return nil
		})
	}

	r.log.Info("analysis workers draining")
	done := make(chan struct{})
	go func() {
		_ = handlers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(r.opts.DrainTimeout):
		r.log.WithField("timeout", r.opts.DrainTimeout).Warn("drain timed out, cancelling in-flight analyses")
		cancelHandlers()
		<-done
	}
	r.log.Info("analysis workers stopped")
	return nil
}

// Process runs one claimed job to an acknowledged outcome.
func (r *Runner) Process(ctx context.Context, job *domain.AnalysisJob) {
	log := r.log.WithFields(logrus.Fields{
		"job_id":  job.ID,
		"url":     job.URL,
		"attempt": job.AttemptsMade + 1,
	})
	log.Info("job active")

	res, err := r.handle(ctx, job)
	if err != nil {
		r.fail(ctx, job, err, log)
		return
	}

	if err := r.broker.Complete(ctx, job.ID, job.LeaseToken, res); err != nil {
		if errors.Is(err, domain.ErrJobNotActive) {
			log.Warn("job lease lost before completion")
			return
		}
		log.WithError(err).Error("complete job")
		return
	}
	log.WithFields(logrus.Fields{
		"state":       res.State,
		"duration_ms": res.AnalysisTimeMs,
		"from_cache":  res.FromCache,
	}).Info("job completed")

	if res.FromCache {
		return
	}
	if _, err := r.stats.RecordSuccess(ctx, res); err != nil {
		log.WithError(err).Error("update analysis stats")
	}
}

func (r *Runner) handle(ctx context.Context, job *domain.AnalysisJob) (res domain.AnalysisResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return r.handler.Handle(ctx, job)
}

func (r *Runner) fail(ctx context.Context, job *domain.AnalysisJob, cause error, log logrus.FieldLogger) {
	reason := cause.Error()
	updated, err := r.broker.Fail(ctx, job.ID, job.LeaseToken, reason)
	if errors.Is(err, domain.ErrJobNotActive) {
		log.WithField("cause", reason).Warn("job lease lost before failure was recorded")
		return
	}
	if err != nil {
		log.WithError(err).WithField("cause", reason).Error("record job failure")
		return
	}
	permanent := updated.State == domain.JobFailed

	entry := log.WithError(cause).WithFields(logrus.Fields{
		"attempts_made": updated.AttemptsMade,
		"max_attempts":  updated.MaxAttempts,
		"permanent":     permanent,
	})
	if permanent {
		entry.Error("analysis failed")
	} else {
		entry.Warn("analysis failed")
	}

	if err := r.websites.RecordFailure(ctx, job.URL, reason, r.now(), permanent); err != nil {
		log.WithError(err).Error("store failure info")
	}
	if !permanent {
		return
	}
	if _, err := r.stats.RecordFailure(ctx, updated); err != nil {
		log.WithError(err).Error("update analysis stats")
	}
}
