package analysis

import (
	"time"

	"sitewatch/internal/domain"
)

// DefaultCooldown is the minimum age of a stored verdict before a URL is
// probed again.
const DefaultCooldown = 10 * time.Minute

// Decision is what the guard wants done with a claimed job.
type Decision int

const (
	// Fresh means the site must be probed and classified again.
	Fresh Decision = iota
	// Duplicate means this job id was already applied to the record; nothing
	// may be written.
	Duplicate
	// Cooldown means the stored verdict is recent enough to be served as is.
	Cooldown
)

func (d Decision) String() string {
	switch d {
	case Duplicate:
		return "duplicate"
	case Cooldown:
		return "cooldown"
	default:
		return "fresh"
	}
}

// Decide runs before any network I/O. rec is the current record for the
// job's URL, nil when none exists. A zero cooldown never yields Cooldown.
func Decide(job *domain.AnalysisJob, rec *domain.WebsiteRecord, now time.Time, cooldown time.Duration) Decision {
	if rec == nil {
		return Fresh
	}
	if rec.LastJobID != "" && rec.LastJobID == job.ID {
		return Duplicate
	}
	// placeholders written by failure bookkeeping carry no verdict to serve
	if rec.State == domain.StateUnknown || rec.AnalyzedAt == nil {
		return Fresh
	}
	if cooldown > 0 && now.Sub(*rec.AnalyzedAt) < cooldown {
		return Cooldown
	}
	return Fresh
}
