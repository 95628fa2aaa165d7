package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"sitewatch/internal/domain"
	"sitewatch/internal/ports"
	"sitewatch/internal/services/rules"
	"sitewatch/internal/urlutil"
)

// Processor runs the guard, collector, rules and store chain for one job.
// Expected site failures end up as findings; any returned error is a
// pipeline fault that the broker should retry.
type Processor struct {
	websites  ports.WebsiteRepository
	collector ports.SignalCollector
	cooldown  time.Duration
	log       logrus.FieldLogger
	now       func() time.Time
}

func NewProcessor(websites ports.WebsiteRepository, collector ports.SignalCollector, cooldown time.Duration, log logrus.FieldLogger) *Processor {
	if cooldown < 0 {
		cooldown = DefaultCooldown
	}
	return &Processor{
		websites:  websites,
		collector: collector,
		cooldown:  cooldown,
		log:       log,
		now:       time.Now,
	}
}

// SetClock replaces the time source used for cooldown checks and timestamps.
func (p *Processor) SetClock(now func() time.Time) { p.now = now }

func (p *Processor) Handle(ctx context.Context, job *domain.AnalysisJob) (domain.AnalysisResult, error) {
	start := p.now()
	log := p.log.WithFields(logrus.Fields{"job_id": job.ID, "url": job.URL})

	rec, err := p.websites.FindByURL(ctx, job.URL)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		rec = nil
	case err != nil:
		return domain.AnalysisResult{}, fmt.Errorf("load website record: %w", err)
	}

	switch Decide(job, rec, start, p.cooldown) {
	case Duplicate:
		log.Info("job already applied, returning stored verdict")
		return domain.ResultFromRecord(rec, true, 0), nil
	case Cooldown:
		touched, err := p.websites.Touch(ctx, job.URL, job.ID, start)
		if err != nil {
			return domain.AnalysisResult{}, fmt.Errorf("refresh cached record: %w", err)
		}
		elapsed := p.now().Sub(start)
		log.WithFields(logrus.Fields{
			"state":       touched.State,
			"duration_ms": elapsed.Milliseconds(),
			"from_cache":  true,
		}).Info("analysis served from cache")
		return domain.ResultFromRecord(touched, true, elapsed), nil
	}

	log.Info("analysis started")
	signals, err := p.collector.Collect(ctx, job.URL)
	if err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("collect signals: %w", err)
	}
	verdict := rules.Evaluate(signals)
	impact := rules.Impact(verdict.Findings)

	at := p.now()
	var saved *domain.WebsiteRecord
	if rec == nil || rec.State == domain.StateUnknown || rec.State != verdict.State {
		saved, err = p.websites.UpsertByURL(ctx, &domain.WebsiteRecord{
			URL:           job.URL,
			Domain:        urlutil.RegistrableDomain(job.URL),
			Signals:       signals,
			Findings:      verdict.Findings,
			ImpactSummary: impact,
			State:         verdict.State,
			RiskLevel:     verdict.RiskLevel,
			Confidence:    verdict.Confidence,
			LastJobID:     job.ID,
			AnalyzedAt:    &at,
		})
		if err != nil {
			return domain.AnalysisResult{}, fmt.Errorf("save website record: %w", err)
		}
	} else {
		saved, err = p.websites.Touch(ctx, job.URL, job.ID, at)
		if err != nil {
			return domain.AnalysisResult{}, fmt.Errorf("refresh website record: %w", err)
		}
	}

	elapsed := p.now().Sub(start)
	log.WithFields(logrus.Fields{
		"state":       saved.State,
		"duration_ms": elapsed.Milliseconds(),
		"from_cache":  false,
	}).Info("analysis complete")
	return domain.ResultFromRecord(saved, false, elapsed), nil
}
