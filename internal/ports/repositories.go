package ports

import (
	"context"
	"time"

	"sitewatch/internal/domain"
)

// WebsiteRepository stores the latest analysis per URL. Implementations must
// make each method a single atomic write; concurrent writers to the same URL
// are last-write-wins.
type WebsiteRepository interface {
	FindByURL(ctx context.Context, url string) (*domain.WebsiteRecord, error)
	FindByID(ctx context.Context, id string) (*domain.WebsiteRecord, error)
	FindByJobID(ctx context.Context, jobID string) (*domain.WebsiteRecord, error)
	// List returns all records, newest analyzedAt first.
	List(ctx context.Context) ([]*domain.WebsiteRecord, error)
	// UpsertByURL replaces every signal/finding/verdict field, sets analyzedAt
	// and lastJobId, and increments analysisCount.
	UpsertByURL(ctx context.Context, rec *domain.WebsiteRecord) (*domain.WebsiteRecord, error)
	// Touch refreshes analyzedAt and lastJobId and increments analysisCount
	// without rewriting the classification.
	Touch(ctx context.Context, url, jobID string, at time.Time) (*domain.WebsiteRecord, error)
	// RecordFailure stores failure bookkeeping, creating a placeholder record
	// when the URL has never been analyzed.
	RecordFailure(ctx context.Context, url, reason string, at time.Time, permanent bool) error
	Ping(ctx context.Context) error
}

// StatsRepository persists the analysis stats singleton. Both writes are
// atomic upserts that are safe against concurrent workers.
type StatsRepository interface {
	RecordSuccess(ctx context.Context, durationMs int64, at time.Time) (domain.AnalysisStats, error)
	RecordFailure(ctx context.Context, at time.Time) (domain.AnalysisStats, error)
	Get(ctx context.Context) (domain.AnalysisStats, error)
}
