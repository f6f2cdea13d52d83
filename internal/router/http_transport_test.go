package router

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Forest-Protocols/safe-scan-provider/internal/backend"
	"github.com/Forest-Protocols/safe-scan-provider/internal/metrics"
	"github.com/Forest-Protocols/safe-scan-provider/internal/ratelimit"
)

func newTestHTTPTransport() *HTTPTransport {
	r := New(ratelimit.New(ratelimit.Config{RequestsPerWindow: 100, Window: time.Minute}), zerolog.Nop(), metrics.New())
	return NewHTTPTransport(r)
}

func TestHTTPTransportServesRegisteredRoute(t *testing.T) {
	tr := newTestHTTPTransport()
	tr.Router.RegisterRoute("GET", "/ping", func(ctx context.Context, req backend.RouteRequest) (backend.RouteResponse, error) {
		return backend.RouteResponse{Code: 200, Body: "pong"}, nil
	})

	req := httptest.NewRequest("GET", "/ping", nil)
	rec := httptest.NewRecorder()
	tr.ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "pong")
}

func TestHTTPTransportThreadsSignatureHeader(t *testing.T) {
	tr := newTestHTTPTransport()
	var gotSig string
	tr.Router.RegisterRoute("GET", "/sig", func(ctx context.Context, req backend.RouteRequest) (backend.RouteResponse, error) {
		return backend.RouteResponse{Code: 200}, nil
	})
	_ = gotSig // signature is consumed by authenticate(); assert via rejection below instead

	req := httptest.NewRequest("GET", "/sig", nil)
	req.Header.Set("X-Signature", "not-hex")
	rec := httptest.NewRecorder()
	tr.ServeHTTP(rec, req)

	assert.NotEqual(t, 200, rec.Code, "a malformed signature header must fail authentication")
}

func TestHTTPTransportFoldsQueryParamsIntoParams(t *testing.T) {
	tr := newTestHTTPTransport()
	var gotParams map[string]string
	tr.Router.RegisterRoute("GET", "/search", func(ctx context.Context, req backend.RouteRequest) (backend.RouteResponse, error) {
		gotParams = req.Params
		return backend.RouteResponse{Code: 200}, nil
	})

	req := httptest.NewRequest("GET", "/search?q=widgets&limit=5", nil)
	rec := httptest.NewRecorder()
	tr.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Equal(t, "widgets", gotParams["q"])
	assert.Equal(t, "5", gotParams["limit"])
}

func TestHTTPTransportReturnsNotFoundForUnknownPath(t *testing.T) {
	tr := newTestHTTPTransport()
	req := httptest.NewRequest("GET", "/nowhere", nil)
	rec := httptest.NewRecorder()
	tr.ServeHTTP(rec, req)

	assert.NotEqual(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
}

func TestHTTPTransportLimitsRequestBodySize(t *testing.T) {
	tr := newTestHTTPTransport()
	tr.Router.RegisterRoute("POST", "/big", func(ctx context.Context, req backend.RouteRequest) (backend.RouteResponse, error) {
		return backend.RouteResponse{Code: 200}, nil
	})

	body := strings.Repeat("a", 2<<20) // 2MB, above the 1MB read cap
	req := httptest.NewRequest("POST", "/big", strings.NewReader(`{"x":"`+body+`"}`))
	rec := httptest.NewRecorder()
	tr.ServeHTTP(rec, req)

	assert.NotEqual(t, 200, rec.Code, "a body truncated at the 1MB cap must fail to parse as valid JSON")
}
