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
)

var _ ports.JobBroker = (*Broker)(nil)

const jobColumns = `id, url, metadata, state, attempts_made, max_attempts, backoff_base_ms,
	requested_at, available_at, lease_expires_at, lease_token, started_at, finished_at, result, failure_reason`

// Broker is the durable JobBroker. Delayed jobs need no promotion step: a
// delayed job whose available_at has passed is claimable like a waiting one.
type Broker struct {
	db           *DB
	opts         ports.JobOptions
	pollInterval time.Duration
}

func NewBroker(db *DB, opts ports.JobOptions, pollInterval time.Duration) *Broker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Broker{db: db, opts: opts, pollInterval: pollInterval}
}

func (b *Broker) Enqueue(ctx context.Context, url string, metadata map[string]string) (string, error) {
	if metadata == nil {
		metadata = map[string]string{}
	}
	id := domain.NewJobID(time.Now())
	_, err := b.db.Pool.Exec(ctx, `
		INSERT INTO analysis_jobs (id, url, metadata, max_attempts, backoff_base_ms)
		VALUES ($1, $2, $3, $4, $5)
	`, id, url, metadata, b.opts.MaxAttempts, b.opts.BackoffBase.Milliseconds())
	if err != nil {
		return "", fmt.Errorf("insert job: %w", err)
	}
	return id, nil
}

func (b *Broker) Get(ctx context.Context, jobID string) (*domain.AnalysisJob, error) {
	row := b.db.Pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM analysis_jobs WHERE id = $1`, jobID)
	return scanJob(row)
}

// TryClaim locks the longest-available eligible job with SKIP LOCKED and
// marks it active under a fresh lease and lease token.
func (b *Broker) TryClaim(ctx context.Context) (job *domain.AnalysisJob, found bool, err error) {
	tx, err := b.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			_ = tx.Commit(ctx)
		}
	}()

	var id string
	err = tx.QueryRow(ctx, `
		SELECT id FROM analysis_jobs
		WHERE NOT (SELECT paused FROM queue_control WHERE id = 1)
		  AND ((state IN ('waiting', 'delayed') AND available_at <= now())
		    OR (state = 'active' AND lease_expires_at <= now()))
		ORDER BY CASE WHEN state = 'active' THEN lease_expires_at ELSE available_at END
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	row := tx.QueryRow(ctx, `
		UPDATE analysis_jobs
		SET state = 'active',
		    lease_expires_at = now() + $2::float8 * interval '1 millisecond',
		    lease_token = $3,
		    started_at = COALESCE(started_at, now())
		WHERE id = $1
		RETURNING `+jobColumns, id, b.opts.LeaseTimeout.Milliseconds(), uuid.NewString())
	job, err = scanJob(row)
	if err != nil {
		return nil, false, err
	}
	return job, true, nil
}

// ClaimNext polls TryClaim every pollInterval until a job is claimed or ctx
// is done.
func (b *Broker) ClaimNext(ctx context.Context) (*domain.AnalysisJob, error) {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()
	for {
		job, found, err := b.TryClaim(ctx)
		if err != nil {
			return nil, err
		}
		if found {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (b *Broker) Complete(ctx context.Context, jobID, leaseToken string, result domain.AnalysisResult) error {
	tag, err := b.db.Pool.Exec(ctx, `
		UPDATE analysis_jobs
		SET state = 'completed', result = $3, finished_at = now(), lease_expires_at = NULL, lease_token = ''
		WHERE id = $1 AND state = 'active' AND lease_token = $2
	`, jobID, leaseToken, result)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return b.notActive(ctx, jobID)
	}
	return nil
}

// Fail applies the retry decision inside one transaction so the attempt
// count and the next state always move together.
func (b *Broker) Fail(ctx context.Context, jobID, leaseToken, reason string) (job *domain.AnalysisJob, err error) {
	tx, err := b.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			_ = tx.Commit(ctx)
		}
	}()

	var now time.Time
	if err = tx.QueryRow(ctx, `SELECT now()`).Scan(&now); err != nil {
		return nil, err
	}
	job, err = scanJob(tx.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM analysis_jobs
		WHERE id = $1 AND state = 'active' AND lease_token = $2
		FOR UPDATE
	`, jobID, leaseToken))
	if errors.Is(err, domain.ErrNotFound) {
		err = b.notActive(ctx, jobID)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	job.FailAttempt(reason, now)
	if _, err = tx.Exec(ctx, `
		UPDATE analysis_jobs
		SET state = $2, attempts_made = $3, failure_reason = $4, available_at = $5,
		    finished_at = $6, lease_expires_at = NULL, lease_token = ''
		WHERE id = $1
	`, job.ID, string(job.State), job.AttemptsMade, job.FailureReason, job.AvailableAt, job.FinishedAt); err != nil {
		return nil, fmt.Errorf("fail job: %w", err)
	}
	return job, nil
}

// notActive tells a missing job apart from one that is no longer held under
// the caller's lease token.
func (b *Broker) notActive(ctx context.Context, jobID string) error {
	var exists bool
	if err := b.db.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM analysis_jobs WHERE id = $1)`, jobID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrJobNotActive
}

func (b *Broker) Counts(ctx context.Context) (domain.QueueCounts, error) {
	var c domain.QueueCounts
	err := b.db.Pool.QueryRow(ctx, `
		SELECT
		    count(*) FILTER (WHERE state = 'waiting' OR (state = 'delayed' AND available_at <= now())),
		    count(*) FILTER (WHERE state = 'active'),
		    count(*) FILTER (WHERE state = 'completed'),
		    count(*) FILTER (WHERE state = 'failed'),
		    count(*) FILTER (WHERE state = 'delayed' AND available_at > now())
		FROM analysis_jobs
	`).Scan(&c.Waiting, &c.Active, &c.Completed, &c.Failed, &c.Delayed)
	if err != nil {
		return c, fmt.Errorf("count jobs: %w", err)
	}
	return c, nil
}

func (b *Broker) Pause(ctx context.Context) error { return b.setPaused(ctx, true) }

func (b *Broker) Resume(ctx context.Context) error { return b.setPaused(ctx, false) }

func (b *Broker) setPaused(ctx context.Context, paused bool) error {
	_, err := b.db.Pool.Exec(ctx, `UPDATE queue_control SET paused = $1 WHERE id = 1`, paused)
	return err
}

func (b *Broker) Paused(ctx context.Context) (bool, error) {
	var paused bool
	err := b.db.Pool.QueryRow(ctx, `SELECT paused FROM queue_control WHERE id = 1`).Scan(&paused)
	return paused, err
}

func (b *Broker) Ping(ctx context.Context) error { return b.db.Ping(ctx) }

func scanJob(row pgx.Row) (*domain.AnalysisJob, error) {
	var (
		j         domain.AnalysisJob
		state     string
		backoffMs int64
	)
	err := row.Scan(&j.ID, &j.URL, &j.Metadata, &state, &j.AttemptsMade, &j.MaxAttempts, &backoffMs,
		&j.RequestedAt, &j.AvailableAt, &j.LeaseExpires, &j.LeaseToken, &j.StartedAt, &j.FinishedAt, &j.Result, &j.FailureReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	j.State = domain.JobState(state)
	j.Backoff = domain.BackoffPolicy{Type: "exponential", Base: time.Duration(backoffMs) * time.Millisecond}
	return &j, nil
}
