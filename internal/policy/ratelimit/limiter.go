// Package ratelimit implements per-host token buckets so image fan-out never
// hammers a single provider CDN.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/chapterbox/internal/metrics"
)

// Config holds rate limiter configuration.
type Config struct {
	// RPS is the steady request rate per host. Zero or less disables limiting.
	RPS float64
	// Burst is the bucket size per host.
	Burst int
	// Overrides sets a different RPS for specific hosts.
	Overrides map[string]float64
}

// Limiter manages per-host rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
	overrides    map[string]rate.Limit
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	overrides := make(map[string]rate.Limit, len(cfg.Overrides))
	for host, rps := range cfg.Overrides {
		overrides[host] = toLimit(rps)
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  toLimit(cfg.RPS),
		defaultBurst: burst,
		overrides:    overrides,
	}
}

// Wait blocks until a token is available for the URL's host.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := metrics.SanitizeHost(rawURL)
	limiter := l.forHost(host)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

func (l *Limiter) forHost(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[host]
	if !ok {
		r := l.defaultRate
		if override, found := l.overrides[host]; found {
			r = override
		}
		limiter = rate.NewLimiter(r, l.defaultBurst)
		l.limiters[host] = limiter
	}
	return limiter
}

func toLimit(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}
