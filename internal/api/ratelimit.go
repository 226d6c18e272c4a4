package api

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures per-key request throttling. Keys are API keys
// when present, client IPs otherwise. Tiers maps an exact API key to a
// higher per-minute allowance.
type RateLimitConfig struct {
	Enabled bool

	RequestsPerMinute int
	Burst             int

	Tiers map[string]int

	// BypassPaths skip throttling (e.g. /health, /metrics).
	BypassPaths []string

	// EntryTTL controls idle limiter eviction.
	EntryTTL time.Duration
}

func defaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: 60,
		Burst:             20,
		BypassPaths:       []string{"/health", "/metrics"},
		EntryTTL:          30 * time.Minute,
	}
}

func normalizeRateLimitConfig(cfg RateLimitConfig) RateLimitConfig {
	d := defaultRateLimitConfig()
	if !cfg.Enabled && cfg.RequestsPerMinute == 0 && cfg.Burst == 0 && len(cfg.Tiers) == 0 && len(cfg.BypassPaths) == 0 && cfg.EntryTTL == 0 {
		cfg.Enabled = d.Enabled
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = d.RequestsPerMinute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = d.Burst
	}
	if len(cfg.BypassPaths) == 0 {
		cfg.BypassPaths = d.BypassPaths
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = d.EntryTTL
	}
	return cfg
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type keyRateLimiter struct {
	cfg RateLimitConfig

	mu      sync.Mutex
	entries map[string]*limiterEntry
}

func newKeyRateLimiter(cfg RateLimitConfig) *keyRateLimiter {
	return &keyRateLimiter{
		cfg:     normalizeRateLimitConfig(cfg),
		entries: map[string]*limiterEntry{},
	}
}

func (l *keyRateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.cfg.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		for _, bp := range l.cfg.BypassPaths {
			if strings.HasPrefix(r.URL.Path, bp) {
				next.ServeHTTP(w, r)
				return
			}
		}

		key, rpm := l.keyAndLimit(r)
		if l.allow(key, rpm) {
			next.ServeHTTP(w, r)
			return
		}

		retryAfter := retryAfterSeconds(rpm)
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
		writeError(w, r, http.StatusTooManyRequests, CodeRateLimited,
			fmt.Sprintf("rate limit reached, retry in %ds", retryAfter))
	})
}

// keyAndLimit resolves the throttle key and its per-minute allowance.
// API keys get their tier allowance; anonymous clients share the default
// per source IP.
func (l *keyRateLimiter) keyAndLimit(r *http.Request) (string, int) {
	if apiKey := strings.TrimSpace(r.Header.Get("X-Api-Key")); apiKey != "" {
		rpm := l.cfg.RequestsPerMinute
		if tier, ok := l.cfg.Tiers[apiKey]; ok && tier > 0 {
			rpm = tier
		}
		return "key|" + apiKey, rpm
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip|" + host, l.cfg.RequestsPerMinute
}

func (l *keyRateLimiter) allow(key string, rpm int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.prune(now)

	entry, ok := l.entries[key]
	if !ok {
		entry = &limiterEntry{
			limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), l.cfg.Burst),
			lastSeen: now,
		}
		l.entries[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.Allow()
}

func (l *keyRateLimiter) prune(now time.Time) {
	for k, v := range l.entries {
		if now.Sub(v.lastSeen) > l.cfg.EntryTTL {
			delete(l.entries, k)
		}
	}
}

func retryAfterSeconds(rpm int) int {
	if rpm <= 0 {
		return 1
	}
	seconds := int(math.Ceil(60.0 / float64(rpm)))
	if seconds < 1 {
		return 1
	}
	return seconds
}
