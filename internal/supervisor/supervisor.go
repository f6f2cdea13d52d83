// Package supervisor implements C10: the daemon's /health endpoint and a
// small MetricsServer serving /metrics on its own port. Ordered startup and
// shutdown of the services is handled by lifecycle.Manager.
package supervisor

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"

	"github.com/Forest-Protocols/safe-scan-provider/internal/indexerclient"
)

// HealthReport is the /health response body.
type HealthReport struct {
	Status         string  `json:"status"`
	IndexerHealthy bool    `json:"indexerHealthy"`
	UptimeSeconds  float64 `json:"uptimeSeconds"`
	CPUPercent     float64 `json:"cpuPercent,omitempty"`
	MemUsedPct     float64 `json:"memUsedPercent,omitempty"`
}

// Supervisor serves GET /health, aggregating the indexer's observed health
// (via the same HealthGuard the reconciler/sweeper consult) and light host
// diagnostics from gopsutil.
type Supervisor struct {
	Addr    string
	Indexer *indexerclient.HealthGuard
	Log     *logrus.Entry

	started time.Time
	server  *http.Server
}

func New(addr string, idx *indexerclient.HealthGuard, log *logrus.Entry) *Supervisor {
	return &Supervisor{Addr: addr, Indexer: idx, Log: log}
}

func (s *Supervisor) Name() string { return "supervisor" }

func (s *Supervisor) Start(ctx context.Context) error {
	s.started = time.Now()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{Addr: s.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

func (s *Supervisor) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// MetricsServer is a minimal lifecycle.Service wrapping a plain
// http.Handler, used to serve /metrics on its own port (METRICS_PORT) apart
// from the request router and health endpoint.
type MetricsServer struct {
	Addr    string
	Handler http.Handler

	server *http.Server
}

func (m *MetricsServer) Name() string { return "metrics-server" }

func (m *MetricsServer) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler)
	m.server = &http.Server{Addr: m.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

func (m *MetricsServer) Stop(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}

func (s *Supervisor) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := HealthReport{
		Status:         "ok",
		IndexerHealthy: s.Indexer.Client().IsHealthy(r.Context()),
		UptimeSeconds:  time.Since(s.started).Seconds(),
	}

	if pct, err := cpu.PercentWithContext(r.Context(), 0, false); err == nil && len(pct) > 0 {
		report.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(r.Context()); err == nil {
		report.MemUsedPct = vm.UsedPercent
	}
	if !report.IndexerHealthy {
		report.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	if !report.IndexerHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(report)
}
