package ports

import (
	"context"

	"sitewatch/internal/domain"
)

// SignalCollector probes a URL. Expected site failures (DNS, timeout, HTTP
// errors) come back as signals; an error means the probe itself broke.
type SignalCollector interface {
	Collect(ctx context.Context, url string) (domain.Signals, error)
}

// Submitter validates and enqueues analysis requests and reports job status.
type Submitter interface {
	Submit(ctx context.Context, rawURL string, metadata map[string]string) (jobID string, err error)
	Status(ctx context.Context, jobID string) (*domain.AnalysisJob, error)
}

// Stats exposes the read side of the analysis stats singleton.
type Stats interface {
	Snapshot(ctx context.Context) (domain.AnalysisStats, error)
}
