package httpadapter

import (
	"encoding/json"
	"net/http"
	"time"

	"sitewatch/internal/domain"
)

// response is what every handler returns; it writes itself to the wire.
type response interface {
	visit(w http.ResponseWriter) error
}

type jsonResponse struct {
	status int
	body   any
}

func (r jsonResponse) visit(w http.ResponseWriter) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(r.status)
	return json.NewEncoder(w).Encode(r.body)
}

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// httpError carries a status code and a client-safe message.
type httpError struct {
	code int
	msg  string
}

func (e *httpError) Error() string { return e.msg }

type analyzeRequest struct {
	URL string `json:"url"`
}

type analyzeAccepted struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

type jobStatus struct {
	JobID        string                 `json:"jobId"`
	URL          string                 `json:"url"`
	RequestedAt  time.Time              `json:"requestedAt"`
	Status       string                 `json:"status"`
	Result       *domain.AnalysisResult `json:"result,omitempty"`
	Error        string                 `json:"error,omitempty"`
	AttemptsMade int                    `json:"attemptsMade"`
	MaxAttempts  int                    `json:"maxAttempts"`
}

func jobStatusFrom(j *domain.AnalysisJob) jobStatus {
	out := jobStatus{
		JobID:        j.ID,
		URL:          j.URL,
		RequestedAt:  j.RequestedAt,
		Status:       j.PublicStatus(),
		AttemptsMade: j.AttemptsMade,
		MaxAttempts:  j.MaxAttempts,
	}
	if j.State == domain.JobCompleted {
		out.Result = j.Result
	} else {
		out.Error = j.FailureReason
	}
	return out
}

type website struct {
	ID                string            `json:"id"`
	URL               string            `json:"url"`
	Domain            string            `json:"domain"`
	Signals           domain.Signals    `json:"rawSignals"`
	Findings          []domain.Finding  `json:"technicalFindings"`
	ImpactSummary     []string          `json:"impactSummary"`
	State             domain.State      `json:"state"`
	RiskLevel         domain.RiskLevel  `json:"riskLevel"`
	Confidence        domain.Confidence `json:"confidence"`
	AnalysisCount     int               `json:"analysisCount"`
	LastJobID         string            `json:"lastJobId,omitempty"`
	LastFailureReason string            `json:"lastFailureReason,omitempty"`
	LastFailureAt     *time.Time        `json:"lastFailureAt,omitempty"`
	PermanentFailure  bool              `json:"permanentFailure"`
	AnalyzedAt        *time.Time        `json:"analyzedAt"`
	CreatedAt         time.Time         `json:"createdAt"`
}

func websiteFrom(r *domain.WebsiteRecord) website {
	findings := r.Findings
	if findings == nil {
		findings = []domain.Finding{}
	}
	impact := r.ImpactSummary
	if impact == nil {
		impact = []string{}
	}
	return website{
		ID:                r.ID,
		URL:               r.URL,
		Domain:            r.Domain,
		Signals:           r.Signals,
		Findings:          findings,
		ImpactSummary:     impact,
		State:             r.State,
		RiskLevel:         r.RiskLevel,
		Confidence:        r.Confidence,
		AnalysisCount:     r.AnalysisCount,
		LastJobID:         r.LastJobID,
		LastFailureReason: r.LastFailure,
		LastFailureAt:     r.LastFailureAt,
		PermanentFailure:  r.PermanentFailure,
		AnalyzedAt:        r.AnalyzedAt,
		CreatedAt:         r.CreatedAt,
	}
}

type websiteList struct {
	Success bool      `json:"success"`
	Count   int       `json:"count"`
	Data    []website `json:"data"`
}

type websiteOne struct {
	Success bool    `json:"success"`
	Data    website `json:"data"`
}

type analysisStats struct {
	TotalJobs       int64      `json:"totalJobs"`
	SuccessfulJobs  int64      `json:"successfulJobs"`
	FailedJobs      int64      `json:"failedJobs"`
	AvgAnalysisTime int64      `json:"avgAnalysisTime"`
	SuccessRate     string     `json:"successRate"`
	LastUpdated     *time.Time `json:"lastUpdated"`
}

func analysisStatsFrom(s domain.AnalysisStats) analysisStats {
	return analysisStats{
		TotalJobs:       s.TotalJobs,
		SuccessfulJobs:  s.SuccessfulJobs,
		FailedJobs:      s.FailedJobs,
		AvgAnalysisTime: s.AvgAnalysisTimeMs(),
		SuccessRate:     s.SuccessRate(),
		LastUpdated:     s.LastUpdated,
	}
}

type health struct {
	Status      string `json:"status"`
	Broker      string `json:"broker"`
	Store       string `json:"store"`
	WorkerAlive bool   `json:"workerAlive"`
	QueuePaused bool   `json:"queuePaused"`
}

type queueState struct {
	Paused bool `json:"paused"`
}
