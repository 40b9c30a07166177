// Package ratelimit implements a per-host token bucket used to pace probes.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultIdleTTL is how long an untouched host bucket is kept.
const DefaultIdleTTL = 10 * time.Minute

// Limiter manages per-host rate limits. Buckets idle for longer than the
// configured TTL are dropped so the host set stays bounded on long runs.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*hostBucket
	defaultRate  rate.Limit
	defaultBurst int
	idleTTL      time.Duration
	lastSweep    time.Time
	now          func() time.Time
	observe      func(host string, delay time.Duration)
}

type hostBucket struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	// IdleTTL bounds how long an unused host bucket is retained.
	// Zero means DefaultIdleTTL.
	IdleTTL time.Duration
	// OnDelay, when set, is called with the time spent waiting for a token.
	// Waits shorter than a millisecond are not reported.
	OnDelay func(host string, delay time.Duration)
}

// New creates a new Limiter. A non-positive rate disables pacing.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	ttl := cfg.IdleTTL
	if ttl <= 0 {
		ttl = DefaultIdleTTL
	}
	return &Limiter{
		limiters:     make(map[string]*hostBucket),
		defaultRate:  r,
		defaultBurst: burst,
		idleTTL:      ttl,
		lastSweep:    time.Now(),
		now:          time.Now,
		observe:      cfg.OnDelay,
	}
}

// Wait blocks until a token is available for the URL's host, respecting the context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostKey(rawURL)
	limiter := l.forHost(host)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if delay := time.Since(start); delay > time.Millisecond && l.observe != nil {
		l.observe(host, delay)
	}
	return nil
}

// Hosts reports how many hosts currently have a bucket.
func (l *Limiter) Hosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *Limiter) forHost(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.lastSweep) >= l.idleTTL {
		l.sweep(now)
	}
	b, ok := l.limiters[host]
	if !ok {
		b = &hostBucket{limiter: rate.NewLimiter(l.defaultRate, l.defaultBurst)}
		l.limiters[host] = b
	}
	b.lastUsed = now
	return b.limiter
}

// sweep drops buckets unused for idleTTL. Caller holds mu.
func (l *Limiter) sweep(now time.Time) {
	for host, b := range l.limiters {
		if now.Sub(b.lastUsed) >= l.idleTTL {
			delete(l.limiters, host)
		}
	}
	l.lastSweep = now
}

func hostKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
