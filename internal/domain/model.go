package domain

import "time"

// Core domain models used internally. HTTP response shapes live in
// internal/adapters/http; keep these decoupled where helpful.

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
)

// State is the overall classification of a website.
type State string

const (
	StateUnknown        State = "unknown"
	StateNoWebsite      State = "no_website"
	StateCritical       State = "critical"
	StateNeedsAttention State = "needs_attention"
	StateAcceptable     State = "acceptable"
	StateGood           State = "good"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Finding is a named, severity-tagged conclusion derived from signals.
type Finding struct {
	Type     string   `json:"type"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Code     string   `json:"code,omitempty"`
}

// Verdict is the aggregate classification derived from an ordered set of findings.
type Verdict struct {
	Findings   []Finding
	State      State
	RiskLevel  RiskLevel
	Confidence Confidence
}

// Reachability is what the probe observed when fetching the site.
type Reachability struct {
	IsReachable    bool   `json:"isReachable"`
	HTTPStatus     int    `json:"httpStatus,omitempty"` // 0 when no response was received
	StatusText     string `json:"statusText,omitempty"`
	DNSResolved    bool   `json:"dnsResolved"`
	ResponseTimeMs int64  `json:"responseTimeMs,omitempty"`
}

type SSL struct {
	HasSSL bool `json:"hasSSL"`
}

type Viewport struct {
	HasViewportMeta bool   `json:"hasViewportMeta"`
	ViewportContent string `json:"viewportContent,omitempty"`
}

type Speed struct {
	Classification string `json:"classification"` // fast|acceptable|slow|unknown
}

type MobileFriendly struct {
	HasViewportMeta  bool   `json:"hasViewportMeta"`
	IsMobileFriendly bool   `json:"isMobileFriendly"`
	ViewportContent  string `json:"viewportContent,omitempty"`
}

// Signals is the raw snapshot returned by a signal collector for one URL.
type Signals struct {
	URL            string         `json:"url"` // URL actually probed, after http fallback
	WebsiteExists  bool           `json:"websiteExists"`
	Reachability   Reachability   `json:"reachability"`
	SSL            SSL            `json:"ssl"`
	Viewport       Viewport       `json:"viewport"`
	Speed          Speed          `json:"speed"`
	MobileFriendly MobileFriendly `json:"mobileFriendly"`
}

// WebsiteRecord is the latest analysis of one URL. URL is the natural key.
type WebsiteRecord struct {
	ID               string
	URL              string
	Domain           string // registrable domain (eTLD+1)
	Signals          Signals
	Findings         []Finding
	ImpactSummary    []string
	State            State
	RiskLevel        RiskLevel
	Confidence       Confidence
	AnalysisCount    int
	LastJobID        string
	LastFailure      string
	LastFailureAt    *time.Time
	PermanentFailure bool
	AnalyzedAt       *time.Time
	CreatedAt        time.Time
}

// Verdict returns the stored classification of the record.
func (r *WebsiteRecord) Verdict() Verdict {
	return Verdict{
		Findings:   r.Findings,
		State:      r.State,
		RiskLevel:  r.RiskLevel,
		Confidence: r.Confidence,
	}
}

// AnalysisResult is what a completed job reports back to the broker and to
// pollers.
type AnalysisResult struct {
	URL            string     `json:"url"`
	State          State      `json:"state"`
	RiskLevel      RiskLevel  `json:"riskLevel"`
	Findings       []Finding  `json:"technicalFindings"`
	ImpactSummary  []string   `json:"impactSummary"`
	Confidence     Confidence `json:"confidence"`
	AnalyzedAt     *time.Time `json:"analyzedAt,omitempty"`
	AnalysisCount  int        `json:"analysisCount"`
	FromCache      bool       `json:"fromCache"`
	AnalysisTimeMs int64      `json:"analysisTimeMs"`
}

// ResultFromRecord builds a result payload from a persisted record.
func ResultFromRecord(r *WebsiteRecord, fromCache bool, elapsed time.Duration) AnalysisResult {
	v := r.Verdict()
	return AnalysisResult{
		URL:            r.URL,
		State:          v.State,
		RiskLevel:      v.RiskLevel,
		Findings:       v.Findings,
		ImpactSummary:  r.ImpactSummary,
		Confidence:     v.Confidence,
		AnalyzedAt:     r.AnalyzedAt,
		AnalysisCount:  r.AnalysisCount,
		FromCache:      fromCache,
		AnalysisTimeMs: elapsed.Milliseconds(),
	}
}
