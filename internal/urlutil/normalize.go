// Package urlutil normalizes submitted website URLs into the key the result
// store is indexed by.
package urlutil

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"sitewatch/internal/domain"
)

// Normalize trims raw, defaults the scheme to https:// when no http(s)
// scheme is present, and lowercases scheme and host. Fragments are dropped;
// path and query are kept as submitted.
func Normalize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", &domain.ValidationError{Field: "url", Msg: "Website URL is required"}
	}
	if !HasHTTPScheme(s) {
		s = "https://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", &domain.ValidationError{Field: "url", Msg: "malformed URL"}
	}
	if u.Hostname() == "" || strings.ContainsAny(u.Hostname(), " \t") {
		return "", &domain.ValidationError{Field: "url", Msg: "URL must include a host"}
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return u.String(), nil
}

// HasHTTPScheme reports whether s starts with http:// or https://.
func HasHTTPScheme(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// ToHTTP rewrites an https URL to plain http.
func ToHTTP(s string) string {
	if strings.HasPrefix(s, "https://") {
		return "http://" + strings.TrimPrefix(s, "https://")
	}
	return s
}

// RegistrableDomain returns the eTLD+1 of rawURL's host, or the bare host
// when it has none (IP literals, localhost).
func RegistrableDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := u.Hostname()
	if net.ParseIP(host) != nil {
		return host
	}
	registrable, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return registrable
}
