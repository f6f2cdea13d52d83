package indexerclient

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// HealthGuard implements the degradation discipline of §4.9: when a
// transport error is observed and IsHealthy reports false, log "indexer is
// not healthy" exactly once; the next successful call clears the flag and logs
// "indexer is healthy" exactly once. logTrackings is single-writer per spec §5,
// so no lock is required beyond guarding the boolean itself for safety
// across the reconciler and sweeper goroutines that may both observe it.
type HealthGuard struct {
	client Client
	log    *logrus.Entry

	mu        sync.Mutex
	unhealthy bool
}

// NewHealthGuard wraps client with the logging discipline above.
func NewHealthGuard(client Client, log *logrus.Entry) *HealthGuard {
	return &HealthGuard{client: client, log: log}
}

// ObserveTransportError probes IsHealthy after a transport-kind failure and
// emits the guarded "not healthy" log line at most once per outage. A
// transport error whose probe still reports healthy (a one-off blip) is not
// logged at all.
func (g *HealthGuard) ObserveTransportError(ctx context.Context) {
	if g.client.IsHealthy(ctx) {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.unhealthy {
		g.unhealthy = true
		g.log.Warn("indexer is not healthy")
	}
}

// ObserveSuccess clears the unhealthy flag, emitting the guarded "healthy"
// recovery log line exactly once.
func (g *HealthGuard) ObserveSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.unhealthy {
		g.unhealthy = false
		g.log.Info("indexer is healthy")
	}
}

// Client returns the wrapped IndexerClient so callers can still make direct
// calls (e.g. the health probe itself) through the same instance.
func (g *HealthGuard) Client() Client { return g.client }
