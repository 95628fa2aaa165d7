package urlutil

import (
	"errors"
	"testing"

	"sitewatch/internal/domain"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{name: "bare host gets https", input: "example.com", expected: "https://example.com"},
		{name: "bare host with path", input: "example.com/shop?a=1", expected: "https://example.com/shop?a=1"},
		{name: "http kept", input: "http://example.com", expected: "http://example.com"},
		{name: "https kept", input: "https://example.com/", expected: "https://example.com/"},
		{name: "whitespace trimmed", input: "  example.com  ", expected: "https://example.com"},
		{name: "scheme and host lowercased", input: "HTTPS://Example.COM/Page", expected: "https://example.com/Page"},
		{name: "fragment dropped", input: "https://example.com/a#top", expected: "https://example.com/a"},
		{name: "empty", input: "", wantErr: true},
		{name: "blank", input: "   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Normalize(%q) = %q, want error", tt.input, got)
				}
				var ve *domain.ValidationError
				if !errors.As(err, &ve) {
					t.Errorf("error %v is not a ValidationError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.expected {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestToHTTP(t *testing.T) {
	if got := ToHTTP("https://example.com/x"); got != "http://example.com/x" {
		t.Errorf("ToHTTP = %q", got)
	}
	if got := ToHTTP("http://example.com"); got != "http://example.com" {
		t.Errorf("ToHTTP on http = %q", got)
	}
}

func TestRegistrableDomain(t *testing.T) {
	tests := map[string]string{
		"https://www.example.co.uk/path": "example.co.uk",
		"https://shop.example.com":       "example.com",
		"http://127.0.0.1:8080":          "127.0.0.1",
	}
	for in, want := range tests {
		if got := RegistrableDomain(in); got != want {
			t.Errorf("RegistrableDomain(%q) = %q, want %q", in, got, want)
		}
	}
}
