// Package ratelimit provides a per-requester token-bucket limiter for the
// Request Router, backed by golang.org/x/time/rate.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config describes one limiter's shape: RequestsPerWindow tokens refilled
// over Window, per requester.
type Config struct {
	RequestsPerWindow int
	Window            time.Duration
}

// DefaultConfig matches the daemon's RATE_LIMIT/RATE_LIMIT_WINDOW defaults.
func DefaultConfig() Config {
	return Config{RequestsPerWindow: 20, Window: time.Second}
}

// Limiter is a registry of per-requester rate.Limiters, created lazily.
type Limiter struct {
	cfg  Config
	mu   sync.Mutex
	byID map[string]*rate.Limiter
}

// New builds a Limiter from cfg.
func New(cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	if cfg.RequestsPerWindow <= 0 {
		cfg.RequestsPerWindow = 20
	}
	return &Limiter{cfg: cfg, byID: make(map[string]*rate.Limiter)}
}

func (l *Limiter) limiterFor(requester string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	rl, ok := l.byID[requester]
	if !ok {
		perSecond := rate.Limit(float64(l.cfg.RequestsPerWindow) / l.cfg.Window.Seconds())
		rl = rate.NewLimiter(perSecond, l.cfg.RequestsPerWindow)
		l.byID[requester] = rl
	}
	return rl
}

// Allow reports whether requester may proceed immediately, consuming a token
// if so.
func (l *Limiter) Allow(requester string) bool {
	return l.limiterFor(requester).Allow()
}

// Wait blocks until requester has a token or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context, requester string) error {
	return l.limiterFor(requester).Wait(ctx)
}
