// Package capability fetches what agents can actually do: A2A agent cards
// from well-known paths and MCP server listings (tools, prompts, resources).
// Endpoints come from on-chain registrations, i.e. arbitrary user input, so
// every fetch goes through the URL guard first. All failures degrade into a
// result with Success=false; a bad endpoint never aborts a sync run.
package capability

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrBlockedURL marks endpoints rejected by the guard.
var ErrBlockedURL = errors.New("capability: blocked URL")

// Guard validates outbound endpoint URLs before any request is made.
// The zero value is the production posture: https only, no private ranges.
type Guard struct {
	// AllowHTTP permits plain http endpoints. Local development only.
	AllowHTTP bool
	// AllowPrivate permits loopback and RFC1918 hosts. Tests only.
	AllowPrivate bool
	// BlockedHosts are additional exact-match hostnames to reject.
	BlockedHosts []string
}

// Check returns ErrBlockedURL (wrapped with the reason) when the URL must not
// be fetched.
func (g *Guard) Check(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: unparseable: %v", ErrBlockedURL, err)
	}

	switch u.Scheme {
	case "https":
	case "http":
		if !g.AllowHTTP {
			return fmt.Errorf("%w: scheme http not allowed", ErrBlockedURL)
		}
	default:
		return fmt.Errorf("%w: scheme %q not allowed", ErrBlockedURL, u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrBlockedURL)
	}

	for _, blocked := range g.BlockedHosts {
		if host == strings.ToLower(blocked) {
			return fmt.Errorf("%w: host %q is blocklisted", ErrBlockedURL, host)
		}
	}

	if !g.AllowPrivate {
		if host == "localhost" || strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".internal") {
			return fmt.Errorf("%w: internal hostname %q", ErrBlockedURL, host)
		}
		if ip := net.ParseIP(host); ip != nil {
			if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
				return fmt.Errorf("%w: non-public address %q", ErrBlockedURL, host)
			}
		}
	}

	return nil
}
