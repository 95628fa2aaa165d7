package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"sitewatch/internal/domain"
	"sitewatch/internal/ports"
)

var _ ports.StatsRepository = (*Stats)(nil)

// Stats keeps the singleton row with id 1. Both writes are one upsert whose
// SET clause reads the pre-update row, so concurrent workers serialize on
// the row lock instead of racing a read-then-write.
type Stats struct {
	db *DB
}

func NewStats(db *DB) *Stats { return &Stats{db: db} }

const statsColumns = `total_jobs, successful_jobs, failed_jobs, mean_analysis_time_ms, last_updated`

func (s *Stats) RecordSuccess(ctx context.Context, durationMs int64, at time.Time) (domain.AnalysisStats, error) {
	row := s.db.Pool.QueryRow(ctx, `
		INSERT INTO analysis_stats (id, total_jobs, successful_jobs, mean_analysis_time_ms, last_updated)
		VALUES (1, 1, 1, $1::float8, $2)
		ON CONFLICT (id) DO UPDATE SET
		    mean_analysis_time_ms = (analysis_stats.mean_analysis_time_ms * analysis_stats.successful_jobs + $1::float8)
		                            / (analysis_stats.successful_jobs + 1),
		    total_jobs = analysis_stats.total_jobs + 1,
		    successful_jobs = analysis_stats.successful_jobs + 1,
		    last_updated = $2
		RETURNING `+statsColumns, float64(durationMs), at)
	out, err := scanStats(row)
	if err != nil {
		return out, fmt.Errorf("record success: %w", err)
	}
	return out, nil
}

func (s *Stats) RecordFailure(ctx context.Context, at time.Time) (domain.AnalysisStats, error) {
	row := s.db.Pool.QueryRow(ctx, `
		INSERT INTO analysis_stats (id, total_jobs, failed_jobs, last_updated)
		VALUES (1, 1, 1, $1)
		ON CONFLICT (id) DO UPDATE SET
		    total_jobs = analysis_stats.total_jobs + 1,
		    failed_jobs = analysis_stats.failed_jobs + 1,
		    last_updated = $1
		RETURNING `+statsColumns, at)
	out, err := scanStats(row)
	if err != nil {
		return out, fmt.Errorf("record failure: %w", err)
	}
	return out, nil
}

// Get returns zero stats until the first terminal outcome creates the row.
func (s *Stats) Get(ctx context.Context) (domain.AnalysisStats, error) {
	out, err := scanStats(s.db.Pool.QueryRow(ctx, `SELECT `+statsColumns+` FROM analysis_stats WHERE id = 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AnalysisStats{}, nil
	}
	return out, err
}

func scanStats(row pgx.Row) (domain.AnalysisStats, error) {
	var st domain.AnalysisStats
	err := row.Scan(&st.TotalJobs, &st.SuccessfulJobs, &st.FailedJobs, &st.MeanAnalysisTimeMs, &st.LastUpdated)
	return st, err
}
