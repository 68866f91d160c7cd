package helpers

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrPrivateTarget is returned when a URL points at loopback, private or
// metadata addresses.
var ErrPrivateTarget = errors.New("url targets a private or internal address")

var blockedHosts = map[string]struct{}{
	"localhost":                {},
	"0.0.0.0":                  {},
	"metadata.google.internal": {},
	"metadata.google":          {},
}

// CheckPublicURL validates that raw is an absolute http(s) URL whose host is
// not an internal address. It does not resolve DNS.
func CheckPublicURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, errors.New("url host is required")
	}
	if _, ok := blockedHosts[host]; ok {
		return nil, ErrPrivateTarget
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
			return nil, ErrPrivateTarget
		}
	}
	return u, nil
}
