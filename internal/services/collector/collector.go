// Package collector probes a website over the network and reports what it
// saw as domain.Signals. Site failures (DNS, timeouts, refused connections,
// error statuses) are signals, not errors.
package collector

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"sitewatch/internal/domain"
	"sitewatch/internal/ports"
	"sitewatch/internal/services/rules"
	"sitewatch/internal/urlutil"
)

var _ ports.SignalCollector = (*HTTP)(nil)

const (
	StatusDNSFailed         = "DNS_RESOLUTION_FAILED"
	StatusTimeout           = "TIMEOUT"
	StatusConnectionRefused = "CONNECTION_REFUSED"
	StatusConnectionReset   = "CONNECTION_RESET"
	StatusTLSError          = "TLS_ERROR"
	StatusTooManyRedirects  = "TOO_MANY_REDIRECTS"
)

var errTooManyRedirects = errors.New("too many redirects")

// Resolver is the DNS lookup the collector runs before any HTTP request.
// *net.Resolver satisfies it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

type Config struct {
	Timeout      time.Duration
	MaxRedirects int
	UserAgent    string
	MaxBodyBytes int64
}

func DefaultConfig() Config {
	return Config{
		Timeout:      5 * time.Second,
		MaxRedirects: 5,
		UserAgent:    "Mozilla/5.0 (compatible; sitewatch/1.0; +https://github.com/sitewatch)",
		MaxBodyBytes: 2 << 20,
	}
}

type HTTP struct {
	cfg      Config
	client   *http.Client
	resolver Resolver
	log      logrus.FieldLogger
}

func New(cfg Config, log logrus.FieldLogger) *HTTP {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = def.MaxRedirects
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	// reachability is measured, certificate trust is not
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec

	maxRedirects := cfg.MaxRedirects
	return &HTTP{
		cfg: cfg,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return errTooManyRedirects
				}
				return nil
			},
		},
		resolver: net.DefaultResolver,
		log:      log,
	}
}

// WithResolver swaps the DNS resolver, mainly for tests.
func (h *HTTP) WithResolver(r Resolver) *HTTP {
	h.resolver = r
	return h
}

// probe is the outcome of one DNS + GET attempt.
type probe struct {
	domain.Reachability
	html []byte
}

func (h *HTTP) Collect(ctx context.Context, rawURL string) (domain.Signals, error) {
	target := strings.TrimSpace(rawURL)
	if !urlutil.HasHTTPScheme(target) {
		target = "https://" + target
	}

	p, err := h.probe(ctx, target)
	if err != nil {
		return domain.Signals{}, err
	}

	if !p.IsReachable && p.DNSResolved && strings.HasPrefix(target, "https://") {
		plain := urlutil.ToHTTP(target)
		h.log.WithFields(logrus.Fields{"url": target, "status": p.StatusText}).Debug("https unreachable, trying http")
		fallback, err := h.probe(ctx, plain)
		if err != nil {
			return domain.Signals{}, err
		}
		if fallback.IsReachable {
			p, target = fallback, plain
		}
	}

	viewport, err := extractViewport(p.html)
	if err != nil {
		return domain.Signals{}, fmt.Errorf("parse html from %s: %w", target, err)
	}

	return domain.Signals{
		URL:           target,
		WebsiteExists: p.DNSResolved,
		Reachability:  p.Reachability,
		SSL:           domain.SSL{HasSSL: strings.HasPrefix(target, "https://")},
		Viewport:      viewport,
		Speed:         domain.Speed{Classification: classifySpeed(p.Reachability)},
		MobileFriendly: domain.MobileFriendly{
			HasViewportMeta:  viewport.HasViewportMeta,
			IsMobileFriendly: rules.MobileViewport(viewport),
			ViewportContent:  viewport.ViewportContent,
		},
	}, nil
}

func (h *HTTP) probe(ctx context.Context, target string) (probe, error) {
	u, err := url.Parse(target)
	if err != nil {
		return probe{}, fmt.Errorf("parse url: %w", err)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	_, err = h.resolver.LookupHost(lookupCtx, u.Hostname())
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return probe{}, ctx.Err()
		}
		return probe{Reachability: domain.Reachability{StatusText: StatusDNSFailed}}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return probe{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", h.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return probe{}, ctx.Err()
		}
		return probe{Reachability: domain.Reachability{
			DNSResolved: true,
			StatusText:  classifyError(err),
		}}, nil
	}
	defer resp.Body.Close()

	var html []byte
	if isHTML(resp.Header.Get("Content-Type")) {
		html, err = io.ReadAll(io.LimitReader(resp.Body, h.cfg.MaxBodyBytes))
		if err != nil {
			return probe{}, fmt.Errorf("read body: %w", err)
		}
	}
	elapsed := time.Since(start)

	return probe{
		Reachability: domain.Reachability{
			IsReachable:    true,
			HTTPStatus:     resp.StatusCode,
			StatusText:     statusText(resp),
			DNSResolved:    true,
			ResponseTimeMs: elapsed.Milliseconds(),
		},
		html: html,
	}, nil
}

func isHTML(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "text/html" || mt == "application/xhtml+xml"
}

func statusText(resp *http.Response) string {
	code := strconv.Itoa(resp.StatusCode)
	if text := strings.TrimSpace(strings.TrimPrefix(resp.Status, code)); text != "" {
		return text
	}
	return code
}

// classifyError maps a transport error onto the status vocabulary the rule
// engine understands.
func classifyError(err error) string {
	var netErr net.Error
	var recordErr tls.RecordHeaderError
	var certErr *tls.CertificateVerificationError
	switch {
	case errors.Is(err, errTooManyRedirects):
		return StatusTooManyRedirects
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return StatusTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		return StatusConnectionRefused
	case errors.Is(err, syscall.ECONNRESET):
		return StatusConnectionReset
	case errors.As(err, &recordErr), errors.As(err, &certErr), strings.Contains(err.Error(), "tls: "):
		return StatusTLSError
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err.Error()
	}
	return err.Error()
}

func classifySpeed(r domain.Reachability) string {
	switch {
	case !r.IsReachable:
		return "unknown"
	case r.ResponseTimeMs < 1000:
		return "fast"
	case r.ResponseTimeMs < rules.SlowResponseMs:
		return "acceptable"
	default:
		return "slow"
	}
}

// extractViewport finds the first <meta name="viewport">, matching the name
// case-insensitively.
func extractViewport(html []byte) (domain.Viewport, error) {
	if len(html) == 0 {
		return domain.Viewport{}, nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return domain.Viewport{}, err
	}
	var v domain.Viewport
	doc.Find("meta[name]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !strings.EqualFold(strings.TrimSpace(s.AttrOr("name", "")), "viewport") {
			return true
		}
		v.HasViewportMeta = true
		v.ViewportContent = strings.TrimSpace(s.AttrOr("content", ""))
		return false
	})
	return v, nil
}
