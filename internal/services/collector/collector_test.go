package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"sitewatch/internal/services/rules"
)

type staticResolver struct{ err error }

func (r staticResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	if r.err != nil {
		return nil, r.err
	}
	return []string{"127.0.0.1"}, nil
}

func newCollector(t *testing.T, cfg Config) *HTTP {
	t.Helper()
	logger, _ := test.NewNullLogger()
	return New(cfg, logger)
}

func htmlHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, body)
	}
}

const mobilePage = `<!doctype html><html><head>
<META NAME="Viewport" content="width=device-width, initial-scale=1">
<title>ok</title></head><body>hi</body></html>`

func TestCollect_HealthyHTTPS(t *testing.T) {
	srv := httptest.NewTLSServer(htmlHandler(mobilePage))
	defer srv.Close()

	s, err := newCollector(t, DefaultConfig()).Collect(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if !s.WebsiteExists || !s.Reachability.DNSResolved || !s.Reachability.IsReachable {
		t.Fatalf("reachability = %+v", s.Reachability)
	}
	if s.Reachability.HTTPStatus != 200 || s.Reachability.StatusText != "OK" {
		t.Errorf("status = %d %q", s.Reachability.HTTPStatus, s.Reachability.StatusText)
	}
	if !s.SSL.HasSSL {
		t.Error("https site reported without SSL")
	}
	if !s.Viewport.HasViewportMeta || !strings.Contains(s.Viewport.ViewportContent, "device-width") {
		t.Errorf("viewport = %+v", s.Viewport)
	}
	if !s.MobileFriendly.IsMobileFriendly {
		t.Error("mobile friendly = false")
	}
	if s.Speed.Classification != "fast" {
		t.Errorf("speed = %s, want fast", s.Speed.Classification)
	}

	v := rules.Evaluate(s)
	if len(v.Findings) != 0 {
		t.Errorf("healthy site produced findings: %+v", v.Findings)
	}
}

func TestCollect_FallsBackToHTTP(t *testing.T) {
	srv := httptest.NewServer(htmlHandler("<html><head></head><body></body></html>"))
	defer srv.Close()

	// same host:port, but try TLS first
	target := strings.Replace(srv.URL, "http://", "https://", 1)
	s, err := newCollector(t, DefaultConfig()).Collect(context.Background(), target)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if !s.Reachability.IsReachable || s.Reachability.HTTPStatus != 200 {
		t.Fatalf("fallback not taken: %+v", s.Reachability)
	}
	if s.SSL.HasSSL || !strings.HasPrefix(s.URL, "http://") {
		t.Errorf("url = %s ssl = %v, want plain http", s.URL, s.SSL.HasSSL)
	}
	if s.Viewport.HasViewportMeta {
		t.Error("viewport found on a page without one")
	}
}

func TestCollect_DefaultsToHTTPS(t *testing.T) {
	srv := httptest.NewTLSServer(htmlHandler(mobilePage))
	defer srv.Close()

	bare := strings.TrimPrefix(srv.URL, "https://")
	s, err := newCollector(t, DefaultConfig()).Collect(context.Background(), bare)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if s.URL != srv.URL || !s.SSL.HasSSL {
		t.Errorf("url = %s, want %s", s.URL, srv.URL)
	}
}

func TestCollect_DNSFailure(t *testing.T) {
	c := newCollector(t, DefaultConfig()).WithResolver(staticResolver{err: errors.New("no such host")})

	s, err := c.Collect(context.Background(), "https://does-not-exist.invalid")
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if s.WebsiteExists || s.Reachability.DNSResolved || s.Reachability.IsReachable {
		t.Errorf("reachability = %+v", s.Reachability)
	}
	if s.Reachability.StatusText != StatusDNSFailed {
		t.Errorf("status text = %q", s.Reachability.StatusText)
	}
	if s.Speed.Classification != "unknown" {
		t.Errorf("speed = %s", s.Speed.Classification)
	}
}

func TestCollect_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := DefaultConfig()
	cfg.Timeout = 100 * time.Millisecond
	s, err := newCollector(t, cfg).Collect(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if s.Reachability.IsReachable || s.Reachability.StatusText != StatusTimeout {
		t.Errorf("reachability = %+v, want TIMEOUT", s.Reachability)
	}
	if !s.Reachability.DNSResolved {
		t.Error("dns should have resolved")
	}
}

func TestCollect_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL
	srv.Close()

	s, err := newCollector(t, DefaultConfig()).Collect(context.Background(), target)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if s.Reachability.IsReachable || s.Reachability.StatusText != StatusConnectionRefused {
		t.Errorf("reachability = %+v, want CONNECTION_REFUSED", s.Reachability)
	}
}

func TestCollect_ErrorStatusIsASignal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s, err := newCollector(t, DefaultConfig()).Collect(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if !s.Reachability.IsReachable || s.Reachability.HTTPStatus != 503 {
		t.Fatalf("reachability = %+v", s.Reachability)
	}
	if s.Reachability.StatusText != "Service Unavailable" {
		t.Errorf("status text = %q", s.Reachability.StatusText)
	}
}

func TestCollect_TooManyRedirects(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+"/loop", http.StatusFound)
	}))
	defer srv.Close()

	s, err := newCollector(t, DefaultConfig()).Collect(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if s.Reachability.IsReachable || s.Reachability.StatusText != StatusTooManyRedirects {
		t.Errorf("reachability = %+v", s.Reachability)
	}
}

func TestCollect_SkipsNonHTMLBodies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"meta":"<meta name=viewport content='width=device-width, initial-scale=1'>"}`)
	}))
	defer srv.Close()

	s, err := newCollector(t, DefaultConfig()).Collect(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if s.Viewport.HasViewportMeta {
		t.Error("viewport extracted from a non-HTML body")
	}
}

func TestExtractViewport(t *testing.T) {
	tests := []struct {
		name    string
		html    string
		has     bool
		content string
	}{
		{"missing", `<html><head><meta charset="utf-8"></head></html>`, false, ""},
		{"lowercase", `<meta name="viewport" content="width=device-width">`, true, "width=device-width"},
		{"mixed case name", `<meta name="VIEWPORT" content=" initial-scale=1 ">`, true, "initial-scale=1"},
		{"no content", `<meta name="viewport">`, true, ""},
		{"empty body", ``, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := extractViewport([]byte(tt.html))
			if err != nil {
				t.Fatalf("extractViewport: %v", err)
			}
			if v.HasViewportMeta != tt.has || v.ViewportContent != tt.content {
				t.Errorf("viewport = %+v, want has=%v content=%q", v, tt.has, tt.content)
			}
		})
	}
}

func TestClassifySpeed(t *testing.T) {
	tests := []struct {
		reachable bool
		ms        int64
		want      string
	}{
		{false, 0, "unknown"},
		{true, 999, "fast"},
		{true, 1000, "acceptable"},
		{true, 2999, "acceptable"},
		{true, 3000, "slow"},
	}
	for _, tt := range tests {
		s := probe{}
		s.IsReachable = tt.reachable
		s.ResponseTimeMs = tt.ms
		if got := classifySpeed(s.Reachability); got != tt.want {
			t.Errorf("classifySpeed(%v, %d) = %s, want %s", tt.reachable, tt.ms, got, tt.want)
		}
	}
}
