package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"sitewatch/internal/domain"
	"sitewatch/internal/ports"
	"sitewatch/internal/urlutil"
)

var (
	_ ports.JobBroker         = (*Broker)(nil)
	_ ports.WebsiteRepository = (*Websites)(nil)
	_ ports.StatsRepository   = (*Stats)(nil)
)

// Websites is a thread-safe in-memory WebsiteRepository keyed by URL.
type Websites struct {
	mu    sync.RWMutex
	byURL map[string]*domain.WebsiteRecord
}

func NewWebsites() *Websites {
	return &Websites{byURL: make(map[string]*domain.WebsiteRecord)}
}

func (w *Websites) FindByURL(ctx context.Context, url string) (*domain.WebsiteRecord, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	r, ok := w.byURL[url]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneRecord(r), nil
}

func (w *Websites) FindByID(ctx context.Context, id string) (*domain.WebsiteRecord, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, r := range w.byURL {
		if r.ID == id {
			return cloneRecord(r), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (w *Websites) FindByJobID(ctx context.Context, jobID string) (*domain.WebsiteRecord, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, r := range w.byURL {
		if r.LastJobID == jobID {
			return cloneRecord(r), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (w *Websites) List(ctx context.Context) ([]*domain.WebsiteRecord, error) {
	w.mu.RLock()
	out := make([]*domain.WebsiteRecord, 0, len(w.byURL))
	for _, r := range w.byURL {
		out = append(out, cloneRecord(r))
	}
	w.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].AnalyzedAt, out[j].AnalyzedAt
		switch {
		case a == nil && b == nil:
			return out[i].CreatedAt.After(out[j].CreatedAt)
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
	return out, nil
}

func (w *Websites) UpsertByURL(ctx context.Context, rec *domain.WebsiteRecord) (*domain.WebsiteRecord, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	next := cloneRecord(rec)
	if prev, ok := w.byURL[rec.URL]; ok {
		next.ID = prev.ID
		next.CreatedAt = prev.CreatedAt
		next.AnalysisCount = prev.AnalysisCount + 1
		next.LastFailure = prev.LastFailure
		next.LastFailureAt = prev.LastFailureAt
	} else {
		next.ID = uuid.NewString()
		next.AnalysisCount = 1
		if next.CreatedAt.IsZero() {
			next.CreatedAt = time.Now()
		}
	}
	if next.Domain == "" {
		next.Domain = urlutil.RegistrableDomain(next.URL)
	}
	next.PermanentFailure = false
	w.byURL[rec.URL] = next
	return cloneRecord(next), nil
}

func (w *Websites) Touch(ctx context.Context, url, jobID string, at time.Time) (*domain.WebsiteRecord, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.byURL[url]
	if !ok {
		return nil, domain.ErrNotFound
	}
	r.AnalyzedAt = &at
	r.LastJobID = jobID
	r.AnalysisCount++
	return cloneRecord(r), nil
}

func (w *Websites) RecordFailure(ctx context.Context, url, reason string, at time.Time, permanent bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.byURL[url]
	if !ok {
		r = &domain.WebsiteRecord{
			ID:        uuid.NewString(),
			URL:       url,
			Domain:    urlutil.RegistrableDomain(url),
			State:     domain.StateUnknown,
			RiskLevel: domain.RiskLow,
			CreatedAt: at,
		}
		w.byURL[url] = r
	}
	r.LastFailure = reason
	r.LastFailureAt = &at
	r.PermanentFailure = permanent
	return nil
}

func (w *Websites) Ping(ctx context.Context) error { return ctx.Err() }

func cloneRecord(r *domain.WebsiteRecord) *domain.WebsiteRecord {
	out := *r
	out.Findings = append([]domain.Finding(nil), r.Findings...)
	out.ImpactSummary = append([]string(nil), r.ImpactSummary...)
	return &out
}

// Stats is the in-memory analysis stats singleton.
type Stats struct {
	mu    sync.Mutex
	stats domain.AnalysisStats
}

func NewStats() *Stats { return &Stats{} }

func (s *Stats) RecordSuccess(ctx context.Context, durationMs int64, at time.Time) (domain.AnalysisStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.stats.SuccessfulJobs + 1
	s.stats.MeanAnalysisTimeMs = domain.RollingMean(s.stats.MeanAnalysisTimeMs, n, float64(durationMs))
	s.stats.SuccessfulJobs = n
	s.stats.TotalJobs++
	s.stats.LastUpdated = &at
	return s.stats, nil
}

func (s *Stats) RecordFailure(ctx context.Context, at time.Time) (domain.AnalysisStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.FailedJobs++
	s.stats.TotalJobs++
	s.stats.LastUpdated = &at
	return s.stats, nil
}

func (s *Stats) Get(ctx context.Context) (domain.AnalysisStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats, nil
}
