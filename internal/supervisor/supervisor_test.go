package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Forest-Protocols/safe-scan-provider/internal/indexerclient"
)

func nopLogEntry() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestHandleHealthReportsHealthyIndexer(t *testing.T) {
	idx := indexerclient.NewMemory()
	guard := indexerclient.NewHealthGuard(idx, nopLogEntry())
	port := freePort(t)
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	s := New(addr, guard, nopLogEntry())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
		defer stopCancel()
		_ = s.Stop(stopCtx)
	}()

	resp, err := http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var report HealthReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.Equal(t, "ok", report.Status)
	assert.True(t, report.IndexerHealthy)
}

func TestHandleHealthReportsDegradedWhenIndexerUnhealthy(t *testing.T) {
	idx := indexerclient.NewMemory()
	idx.Healthy = false
	guard := indexerclient.NewHealthGuard(idx, nopLogEntry())
	port := freePort(t)
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	s := New(addr, guard, nopLogEntry())

	require.NoError(t, s.Start(context.Background()))
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Stop(stopCtx)
	}()

	resp, err := http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var report HealthReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.Equal(t, "degraded", report.Status)
	assert.False(t, report.IndexerHealthy)
}

func TestSupervisorStopIsNoOpBeforeStart(t *testing.T) {
	s := New("127.0.0.1:0", indexerclient.NewHealthGuard(indexerclient.NewMemory(), nopLogEntry()), nopLogEntry())
	assert.NoError(t, s.Stop(context.Background()))
}

func TestMetricsServerServesHandlerAndStops(t *testing.T) {
	port := freePort(t)
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	m := &MetricsServer{Addr: addr, Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("metric_x 1\n"))
	})}

	require.NoError(t, m.Start(context.Background()))

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "metric_x")

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, m.Stop(stopCtx))
}

func TestMetricsServerStopIsNoOpBeforeStart(t *testing.T) {
	m := &MetricsServer{Addr: "127.0.0.1:0"}
	assert.NoError(t, m.Stop(context.Background()))
}
