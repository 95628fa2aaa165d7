// Package stats maintains the process-wide analysis statistics. Only
// terminal, non-cached outcomes are counted.
package stats

import (
	"context"
	"fmt"
	"time"

	"sitewatch/internal/domain"
	"sitewatch/internal/ports"
)

var _ ports.Stats = (*Aggregator)(nil)

type Aggregator struct {
	repo ports.StatsRepository
	now  func() time.Time
}

func New(repo ports.StatsRepository) *Aggregator {
	return &Aggregator{repo: repo, now: time.Now}
}

// SetClock replaces the time source for lastUpdated.
func (a *Aggregator) SetClock(now func() time.Time) { a.now = now }

// RecordSuccess folds a completed analysis into the rolling mean. Cache hits
// are ignored.
func (a *Aggregator) RecordSuccess(ctx context.Context, res domain.AnalysisResult) (domain.AnalysisStats, error) {
	if res.FromCache {
		return a.repo.Get(ctx)
	}
	s, err := a.repo.RecordSuccess(ctx, res.AnalysisTimeMs, a.now())
	if err != nil {
		return domain.AnalysisStats{}, fmt.Errorf("record success: %w", err)
	}
	return s, nil
}

// RecordFailure counts a job that exhausted its retries. Jobs that will
// still be retried are ignored.
func (a *Aggregator) RecordFailure(ctx context.Context, job *domain.AnalysisJob) (domain.AnalysisStats, error) {
	if job.State != domain.JobFailed {
		return a.repo.Get(ctx)
	}
	s, err := a.repo.RecordFailure(ctx, a.now())
	if err != nil {
		return domain.AnalysisStats{}, fmt.Errorf("record failure: %w", err)
	}
	return s, nil
}

func (a *Aggregator) Snapshot(ctx context.Context) (domain.AnalysisStats, error) {
	return a.repo.Get(ctx)
}
