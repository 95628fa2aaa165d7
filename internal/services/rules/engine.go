// Package rules turns collected website signals into findings and a
// state/risk/confidence verdict. Everything here is a pure function of its
// input: no clock, no randomness, no I/O.
package rules

import (
	"strings"

	"sitewatch/internal/domain"
)

// Finding types produced by the rule table.
const (
	TypeDNSResolutionFailed = "dns_resolution_failed"
	TypeTimeout             = "timeout"
	TypeUnreachable         = "unreachable"
	TypeServerError         = "server_error"
	TypeClientError         = "client_error"
	TypeNoSSL               = "no_ssl"
	TypeSlowPerformance     = "slow_performance"
	TypeNoViewportMeta      = "no_viewport_meta"
)

// SlowResponseMs is the response time at or above which a site is slow.
const SlowResponseMs = 3000

type rule struct {
	check   func(s *domain.Signals) bool
	finding domain.Finding
}

// table is evaluated in order; every rule is checked independently.
var table = []rule{
	{
		check: func(s *domain.Signals) bool { return !s.WebsiteExists || !s.Reachability.DNSResolved },
		finding: domain.Finding{
			Type:     TypeDNSResolutionFailed,
			Severity: domain.SeverityCritical,
			Message:  "Domain could not be resolved.",
			Code:     "ERR_DNS_FAIL",
		},
	},
	{
		check: func(s *domain.Signals) bool {
			return resolved(s) && !s.Reachability.IsReachable && isTimeout(s)
		},
		finding: domain.Finding{
			Type:     TypeTimeout,
			Severity: domain.SeverityCritical,
			Message:  "Server did not respond within 5 seconds.",
			Code:     "ERR_TIMEOUT",
		},
	},
	{
		check: func(s *domain.Signals) bool {
			return resolved(s) && !s.Reachability.IsReachable && !isTimeout(s)
		},
		finding: domain.Finding{
			Type:     TypeUnreachable,
			Severity: domain.SeverityCritical,
			Message:  "Website unreachable (Network Error).",
			Code:     "ERR_UNREACHABLE",
		},
	},
	{
		check: func(s *domain.Signals) bool { return s.Reachability.HTTPStatus >= 500 },
		finding: domain.Finding{
			Type:     TypeServerError,
			Severity: domain.SeverityCritical,
			Message:  "Server returned HTTP 5xx error.",
			Code:     "ERR_HTTP_5XX",
		},
	},
	{
		check: func(s *domain.Signals) bool {
			st := s.Reachability.HTTPStatus
			return st >= 400 && st < 500
		},
		finding: domain.Finding{
			Type:     TypeClientError,
			Severity: domain.SeverityMajor,
			Message:  "Website returned HTTP 4xx error.",
			Code:     "ERR_HTTP_4XX",
		},
	},
	{
		check: func(s *domain.Signals) bool { return servable(s) && !s.SSL.HasSSL },
		finding: domain.Finding{
			Type:     TypeNoSSL,
			Severity: domain.SeverityMajor,
			Message:  "SSL certificate not detected.",
			Code:     "ERR_NO_SSL",
		},
	},
	{
		check: func(s *domain.Signals) bool {
			return servable(s) && s.Reachability.ResponseTimeMs >= SlowResponseMs
		},
		finding: domain.Finding{
			Type:     TypeSlowPerformance,
			Severity: domain.SeverityMajor,
			Message:  "Server response time is slow.",
			Code:     "ERR_SLOW_PERF",
		},
	},
	{
		check: func(s *domain.Signals) bool {
			return servable(s) && !MobileViewport(s.Viewport)
		},
		finding: domain.Finding{
			Type:     TypeNoViewportMeta,
			Severity: domain.SeverityMinor,
			Message:  "Viewport meta tag missing or improperly configured.",
			Code:     "ERR_NO_VIEWPORT",
		},
	},
}

// resolved is true when the domain resolved; a DNS failure is reported only
// by its own rule and never also as a timeout or unreachable.
func resolved(s *domain.Signals) bool {
	return s.WebsiteExists && s.Reachability.DNSResolved
}

// servable gates the quality rules: they only apply to a site that answered
// with a non-5xx response.
func servable(s *domain.Signals) bool {
	return resolved(s) && s.Reachability.IsReachable && s.Reachability.HTTPStatus < 500
}

func isTimeout(s *domain.Signals) bool {
	return strings.Contains(strings.ToUpper(s.Reachability.StatusText), "TIMEOUT")
}

// MobileViewport reports whether a viewport tag is present and carries both
// width=device-width and initial-scale.
func MobileViewport(v domain.Viewport) bool {
	if !v.HasViewportMeta || v.ViewportContent == "" {
		return false
	}
	lower := strings.ToLower(v.ViewportContent)
	return strings.Contains(lower, "width=device-width") && strings.Contains(lower, "initial-scale")
}

// Findings runs the rule table against s and returns every finding that
// fired, in table order.
func Findings(s domain.Signals) []domain.Finding {
	out := make([]domain.Finding, 0, len(table))
	for _, r := range table {
		if r.check(&s) {
			out = append(out, r.finding)
		}
	}
	return out
}

// Evaluate derives the full verdict for s.
func Evaluate(s domain.Signals) domain.Verdict {
	findings := Findings(s)
	state := deriveState(findings)
	return domain.Verdict{
		Findings:   findings,
		State:      state,
		RiskLevel:  RiskFor(state),
		Confidence: deriveConfidence(state, findings),
	}
}

type tally struct {
	critical, major, minor int
	types                  map[string]bool
}

func count(findings []domain.Finding) tally {
	t := tally{types: make(map[string]bool, len(findings))}
	for _, f := range findings {
		t.types[f.Type] = true
		switch f.Severity {
		case domain.SeverityCritical:
			t.critical++
		case domain.SeverityMajor:
			t.major++
		case domain.SeverityMinor:
			t.minor++
		}
	}
	return t
}

// deriveState applies the state priority list; first match wins.
func deriveState(findings []domain.Finding) domain.State {
	t := count(findings)
	switch {
	case t.critical > 0 && t.types[TypeDNSResolutionFailed]:
		return domain.StateNoWebsite
	case t.critical > 0:
		return domain.StateCritical
	case t.types[TypeClientError]:
		return domain.StateNeedsAttention
	case t.major >= 2:
		return domain.StateNeedsAttention
	case t.major == 1:
		return domain.StateAcceptable
	case t.minor >= 2:
		return domain.StateAcceptable
	default:
		return domain.StateGood
	}
}

func deriveConfidence(state domain.State, findings []domain.Finding) domain.Confidence {
	t := count(findings)
	switch {
	case state == domain.StateGood && len(findings) == 0:
		return domain.ConfidenceHigh
	case state == domain.StateNoWebsite:
		return domain.ConfidenceHigh
	case t.types[TypeServerError]:
		return domain.ConfidenceHigh
	case t.types[TypeClientError]:
		return domain.ConfidenceHigh
	case t.major >= 2:
		return domain.ConfidenceHigh
	default:
		return domain.ConfidenceMedium
	}
}

// RiskFor maps a state to its risk level.
func RiskFor(state domain.State) domain.RiskLevel {
	switch state {
	case domain.StateCritical, domain.StateNoWebsite:
		return domain.RiskHigh
	case domain.StateNeedsAttention:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}
