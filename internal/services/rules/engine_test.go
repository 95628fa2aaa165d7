package rules

import (
	"reflect"
	"testing"

	"sitewatch/internal/domain"
)

// --- helpers ---

func reachable(status int, ssl bool, ms int64, viewport string) domain.Signals {
	s := domain.Signals{
		URL:           "https://example.com",
		WebsiteExists: true,
		Reachability: domain.Reachability{
			IsReachable:    true,
			HTTPStatus:     status,
			StatusText:     "OK",
			DNSResolved:    true,
			ResponseTimeMs: ms,
		},
		SSL: domain.SSL{HasSSL: ssl},
	}
	if viewport != "" {
		s.Viewport = domain.Viewport{HasViewportMeta: true, ViewportContent: viewport}
	}
	return s
}

func unreachable(statusText string) domain.Signals {
	return domain.Signals{
		URL:           "https://example.com",
		WebsiteExists: true,
		Reachability: domain.Reachability{
			IsReachable: false,
			StatusText:  statusText,
			DNSResolved: true,
		},
		SSL: domain.SSL{HasSSL: true},
	}
}

func types(fs []domain.Finding) []string {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		out = append(out, f.Type)
	}
	return out
}

const goodViewport = "width=device-width, initial-scale=1"

// --- scenarios ---

func TestEvaluate_DNSFailure_NoWebsite(t *testing.T) {
	v := Evaluate(domain.Signals{
		URL:          "https://nope.invalid",
		Reachability: domain.Reachability{StatusText: "DNS_RESOLUTION_FAILED"},
	})

	if got := types(v.Findings); !reflect.DeepEqual(got, []string{TypeDNSResolutionFailed}) {
		t.Fatalf("findings = %v, want [dns_resolution_failed]", got)
	}
	if v.Findings[0].Severity != domain.SeverityCritical {
		t.Errorf("severity = %q, want critical", v.Findings[0].Severity)
	}
	if v.State != domain.StateNoWebsite {
		t.Errorf("state = %q, want no_website", v.State)
	}
	if v.Confidence != domain.ConfidenceHigh {
		t.Errorf("confidence = %q, want high", v.Confidence)
	}
	if v.RiskLevel != domain.RiskHigh {
		t.Errorf("risk = %q, want high", v.RiskLevel)
	}
}

func TestEvaluate_NoSSLSlowNoViewport_NeedsAttention(t *testing.T) {
	v := Evaluate(reachable(200, false, 3500, ""))

	want := []string{TypeNoSSL, TypeSlowPerformance, TypeNoViewportMeta}
	if got := types(v.Findings); !reflect.DeepEqual(got, want) {
		t.Fatalf("findings = %v, want %v", got, want)
	}
	wantSev := []domain.Severity{domain.SeverityMajor, domain.SeverityMajor, domain.SeverityMinor}
	for i, f := range v.Findings {
		if f.Severity != wantSev[i] {
			t.Errorf("finding %d severity = %q, want %q", i, f.Severity, wantSev[i])
		}
	}
	if v.State != domain.StateNeedsAttention {
		t.Errorf("state = %q, want needs_attention", v.State)
	}
	if v.Confidence != domain.ConfidenceHigh {
		t.Errorf("confidence = %q, want high", v.Confidence)
	}
	if v.RiskLevel != domain.RiskMedium {
		t.Errorf("risk = %q, want medium", v.RiskLevel)
	}
}

func TestEvaluate_HealthySite_Good(t *testing.T) {
	v := Evaluate(reachable(200, true, 500, goodViewport))

	if len(v.Findings) != 0 {
		t.Fatalf("findings = %v, want none", types(v.Findings))
	}
	if v.State != domain.StateGood || v.Confidence != domain.ConfidenceHigh || v.RiskLevel != domain.RiskLow {
		t.Errorf("verdict = %s/%s/%s, want good/high/low", v.State, v.Confidence, v.RiskLevel)
	}
}

// --- individual rules and state priority ---

func TestEvaluate_Table(t *testing.T) {
	tests := []struct {
		name       string
		signals    domain.Signals
		findings   []string
		state      domain.State
		confidence domain.Confidence
	}{
		{
			name:       "timeout",
			signals:    unreachable("TIMEOUT"),
			findings:   []string{TypeTimeout},
			state:      domain.StateCritical,
			confidence: domain.ConfidenceMedium,
		},
		{
			name:       "timeout matched case-insensitively",
			signals:    unreachable("request timeout"),
			findings:   []string{TypeTimeout},
			state:      domain.StateCritical,
			confidence: domain.ConfidenceMedium,
		},
		{
			name:       "connection refused is unreachable",
			signals:    unreachable("CONNECTION_REFUSED"),
			findings:   []string{TypeUnreachable},
			state:      domain.StateCritical,
			confidence: domain.ConfidenceMedium,
		},
		{
			name:       "server error suppresses quality rules",
			signals:    reachable(503, false, 4000, ""),
			findings:   []string{TypeServerError},
			state:      domain.StateCritical,
			confidence: domain.ConfidenceHigh,
		},
		{
			name:       "client error alone needs attention",
			signals:    reachable(404, true, 100, goodViewport),
			findings:   []string{TypeClientError},
			state:      domain.StateNeedsAttention,
			confidence: domain.ConfidenceHigh,
		},
		{
			name:       "client error still evaluates quality rules",
			signals:    reachable(403, false, 100, goodViewport),
			findings:   []string{TypeClientError, TypeNoSSL},
			state:      domain.StateNeedsAttention,
			confidence: domain.ConfidenceHigh,
		},
		{
			name:       "single major is acceptable",
			signals:    reachable(200, false, 100, goodViewport),
			findings:   []string{TypeNoSSL},
			state:      domain.StateAcceptable,
			confidence: domain.ConfidenceMedium,
		},
		{
			name:       "exactly 3000ms is slow",
			signals:    reachable(200, true, SlowResponseMs, goodViewport),
			findings:   []string{TypeSlowPerformance},
			state:      domain.StateAcceptable,
			confidence: domain.ConfidenceMedium,
		},
		{
			name:       "2999ms is not slow",
			signals:    reachable(200, true, SlowResponseMs-1, goodViewport),
			findings:   []string{},
			state:      domain.StateGood,
			confidence: domain.ConfidenceHigh,
		},
		{
			name:       "single minor is still good",
			signals:    reachable(200, true, 100, ""),
			findings:   []string{TypeNoViewportMeta},
			state:      domain.StateGood,
			confidence: domain.ConfidenceMedium,
		},
		{
			name:       "viewport without initial-scale is invalid",
			signals:    reachable(200, true, 100, "width=device-width"),
			findings:   []string{TypeNoViewportMeta},
			state:      domain.StateGood,
			confidence: domain.ConfidenceMedium,
		},
		{
			name:       "viewport matched case-insensitively",
			signals:    reachable(200, true, 100, "Width=Device-Width, Initial-Scale=1.0"),
			findings:   []string{},
			state:      domain.StateGood,
			confidence: domain.ConfidenceHigh,
		},
		{
			name:       "redirect status counts as reachable",
			signals:    reachable(301, true, 100, goodViewport),
			findings:   []string{},
			state:      domain.StateGood,
			confidence: domain.ConfidenceHigh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Evaluate(tt.signals)
			if got := types(v.Findings); !reflect.DeepEqual(got, tt.findings) {
				t.Errorf("findings = %v, want %v", got, tt.findings)
			}
			if v.State != tt.state {
				t.Errorf("state = %q, want %q", v.State, tt.state)
			}
			if v.Confidence != tt.confidence {
				t.Errorf("confidence = %q, want %q", v.Confidence, tt.confidence)
			}
			if v.RiskLevel != RiskFor(tt.state) {
				t.Errorf("risk = %q, want %q", v.RiskLevel, RiskFor(tt.state))
			}
		})
	}
}

func TestDeriveState_TwoMinorsAcceptable(t *testing.T) {
	minor := domain.Finding{Type: "custom_minor", Severity: domain.SeverityMinor}
	if got := deriveState([]domain.Finding{minor, minor}); got != domain.StateAcceptable {
		t.Errorf("state = %q, want acceptable", got)
	}
}

func TestRiskFor(t *testing.T) {
	tests := map[domain.State]domain.RiskLevel{
		domain.StateCritical:       domain.RiskHigh,
		domain.StateNoWebsite:      domain.RiskHigh,
		domain.StateNeedsAttention: domain.RiskMedium,
		domain.StateAcceptable:     domain.RiskLow,
		domain.StateGood:           domain.RiskLow,
	}
	for state, want := range tests {
		if got := RiskFor(state); got != want {
			t.Errorf("RiskFor(%q) = %q, want %q", state, got, want)
		}
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	inputs := []domain.Signals{
		{},
		unreachable("TIMEOUT"),
		reachable(200, false, 3500, ""),
		reachable(404, true, 100, goodViewport),
	}
	for _, in := range inputs {
		first := Evaluate(in)
		for i := 0; i < 50; i++ {
			if again := Evaluate(in); !reflect.DeepEqual(first, again) {
				t.Fatalf("Evaluate not deterministic for %+v: %+v vs %+v", in, first, again)
			}
		}
	}
}
