package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"sitewatch/internal/domain"
	"sitewatch/internal/ports"
	"sitewatch/internal/urlutil"
)

var _ ports.WebsiteRepository = (*Websites)(nil)

const websiteColumns = `id, url, domain, signals, findings, impact_summary, state, risk_level, confidence,
	analysis_count, last_job_id, last_failure_reason, last_failure_at, permanent_failure, analyzed_at, created_at`

// Websites stores one row per URL. Every write is a single statement, so
// concurrent workers never lose an analysis_count increment.
type Websites struct {
	db *DB
}

func NewWebsites(db *DB) *Websites { return &Websites{db: db} }

func (w *Websites) FindByURL(ctx context.Context, url string) (*domain.WebsiteRecord, error) {
	return scanWebsite(w.db.Pool.QueryRow(ctx, `SELECT `+websiteColumns+` FROM websites WHERE url = $1`, url))
}

func (w *Websites) FindByID(ctx context.Context, id string) (*domain.WebsiteRecord, error) {
	return scanWebsite(w.db.Pool.QueryRow(ctx, `SELECT `+websiteColumns+` FROM websites WHERE id = $1`, id))
}

func (w *Websites) FindByJobID(ctx context.Context, jobID string) (*domain.WebsiteRecord, error) {
	return scanWebsite(w.db.Pool.QueryRow(ctx, `SELECT `+websiteColumns+` FROM websites WHERE last_job_id = $1`, jobID))
}

func (w *Websites) List(ctx context.Context) ([]*domain.WebsiteRecord, error) {
	rows, err := w.db.Pool.Query(ctx, `
		SELECT `+websiteColumns+` FROM websites
		ORDER BY analyzed_at DESC NULLS LAST, created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list websites: %w", err)
	}
	defer rows.Close()

	var out []*domain.WebsiteRecord
	for rows.Next() {
		rec, err := scanWebsite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (w *Websites) UpsertByURL(ctx context.Context, rec *domain.WebsiteRecord) (*domain.WebsiteRecord, error) {
	dom := rec.Domain
	if dom == "" {
		dom = urlutil.RegistrableDomain(rec.URL)
	}
	row := w.db.Pool.QueryRow(ctx, `
		INSERT INTO websites (id, url, domain, signals, findings, impact_summary, state, risk_level,
		                      confidence, analysis_count, last_job_id, analyzed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10, $11)
		ON CONFLICT (url) DO UPDATE SET
		    domain = EXCLUDED.domain,
		    signals = EXCLUDED.signals,
		    findings = EXCLUDED.findings,
		    impact_summary = EXCLUDED.impact_summary,
		    state = EXCLUDED.state,
		    risk_level = EXCLUDED.risk_level,
		    confidence = EXCLUDED.confidence,
		    analysis_count = websites.analysis_count + 1,
		    last_job_id = EXCLUDED.last_job_id,
		    analyzed_at = EXCLUDED.analyzed_at,
		    permanent_failure = false
		RETURNING `+websiteColumns,
		uuid.NewString(), rec.URL, dom, rec.Signals, nonNilFindings(rec.Findings), nonNilStrings(rec.ImpactSummary),
		string(rec.State), string(rec.RiskLevel), string(rec.Confidence), rec.LastJobID, rec.AnalyzedAt)
	out, err := scanWebsite(row)
	if err != nil {
		return nil, fmt.Errorf("upsert website: %w", err)
	}
	return out, nil
}

func (w *Websites) Touch(ctx context.Context, url, jobID string, at time.Time) (*domain.WebsiteRecord, error) {
	return scanWebsite(w.db.Pool.QueryRow(ctx, `
		UPDATE websites
		SET analyzed_at = $3, last_job_id = $2, analysis_count = analysis_count + 1
		WHERE url = $1
		RETURNING `+websiteColumns, url, jobID, at))
}

func (w *Websites) RecordFailure(ctx context.Context, url, reason string, at time.Time, permanent bool) error {
	_, err := w.db.Pool.Exec(ctx, `
		INSERT INTO websites (id, url, domain, state, risk_level, last_failure_reason, last_failure_at, permanent_failure)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (url) DO UPDATE SET
		    last_failure_reason = EXCLUDED.last_failure_reason,
		    last_failure_at = EXCLUDED.last_failure_at,
		    permanent_failure = EXCLUDED.permanent_failure
	`, uuid.NewString(), url, urlutil.RegistrableDomain(url), string(domain.StateUnknown), string(domain.RiskLow),
		reason, at, permanent)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

func (w *Websites) Ping(ctx context.Context) error { return w.db.Ping(ctx) }

func scanWebsite(row pgx.Row) (*domain.WebsiteRecord, error) {
	var (
		r                       domain.WebsiteRecord
		state, risk, confidence string
	)
	err := row.Scan(&r.ID, &r.URL, &r.Domain, &r.Signals, &r.Findings, &r.ImpactSummary,
		&state, &risk, &confidence, &r.AnalysisCount, &r.LastJobID, &r.LastFailure, &r.LastFailureAt,
		&r.PermanentFailure, &r.AnalyzedAt, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan website: %w", err)
	}
	r.State = domain.State(state)
	r.RiskLevel = domain.RiskLevel(risk)
	r.Confidence = domain.Confidence(confidence)
	return &r, nil
}

// jsonb columns are NOT NULL; a nil slice would encode as null.
func nonNilFindings(f []domain.Finding) []domain.Finding {
	if f == nil {
		return []domain.Finding{}
	}
	return f
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
