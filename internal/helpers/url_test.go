package helpers

import (
	"errors"
	"testing"
)

func TestCheckPublicURL(t *testing.T) {
	ok := []string{
		"https://example.com/article",
		"http://news.example.org:8080/a?b=c",
		"https://93.184.216.34/",
	}
	for _, raw := range ok {
		if _, err := CheckPublicURL(raw); err != nil {
			t.Fatalf("expected %q to be allowed: %v", raw, err)
		}
	}

	private := []string{
		"http://localhost:8080",
		"http://127.0.0.1/admin",
		"http://10.0.0.4/",
		"http://169.254.169.254/latest/meta-data",
		"http://[::1]/",
		"http://metadata.google.internal/",
	}
	for _, raw := range private {
		_, err := CheckPublicURL(raw)
		if !errors.Is(err, ErrPrivateTarget) {
			t.Fatalf("expected %q to be rejected as private, got %v", raw, err)
		}
	}
}

func TestCheckPublicURLErrors(t *testing.T) {
	for _, raw := range []string{"", "ftp://example.com/file", "not a url", "https://"} {
		if _, err := CheckPublicURL(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}
