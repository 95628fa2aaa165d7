// Package analysis holds the job-level orchestration of a website analysis:
// submission, the cooldown and idempotency guard, and the per-job processing
// chain run by the worker pool.
package analysis

import (
	"context"
	"fmt"

	"sitewatch/internal/domain"
	"sitewatch/internal/ports"
	"sitewatch/internal/urlutil"
)

var _ ports.Submitter = (*Submitter)(nil)

type Submitter struct {
	broker ports.JobBroker
}

func NewSubmitter(broker ports.JobBroker) *Submitter { return &Submitter{broker: broker} }

// Submit validates and normalizes rawURL and enqueues it. Validation failures
// are returned as *domain.ValidationError and never reach the broker.
func (s *Submitter) Submit(ctx context.Context, rawURL string, metadata map[string]string) (string, error) {
	url, err := urlutil.Normalize(rawURL)
	if err != nil {
		return "", err
	}
	id, err := s.broker.Enqueue(ctx, url, metadata)
	if err != nil {
		return "", fmt.Errorf("enqueue analysis: %w", err)
	}
	return id, nil
}

func (s *Submitter) Status(ctx context.Context, jobID string) (*domain.AnalysisJob, error) {
	return s.broker.Get(ctx, jobID)
}
