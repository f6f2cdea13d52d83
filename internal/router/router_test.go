package router

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Forest-Protocols/safe-scan-provider/internal/backend"
	"github.com/Forest-Protocols/safe-scan-provider/internal/chainclient"
	"github.com/Forest-Protocols/safe-scan-provider/internal/metrics"
	"github.com/Forest-Protocols/safe-scan-provider/internal/ratelimit"
)

func newTestRouter() *Router {
	return New(ratelimit.New(ratelimit.Config{RequestsPerWindow: 100, Window: time.Minute}), zerolog.Nop(), metrics.New())
}

func TestDispatchRoutesToRegisteredHandler(t *testing.T) {
	r := newTestRouter()
	r.RegisterRoute("GET", "/ping", func(ctx context.Context, req backend.RouteRequest) (backend.RouteResponse, error) {
		return backend.RouteResponse{Code: 200, Body: "pong"}, nil
	})

	resp := r.Dispatch(context.Background(), "http", PipeRequest{ID: "1", Method: "GET", Path: "/ping"})
	assert.Equal(t, 200, resp.Code)
	assert.Equal(t, "pong", resp.Body)
}

func TestDispatchReturnsNotFoundForUnknownRoute(t *testing.T) {
	r := newTestRouter()
	resp := r.Dispatch(context.Background(), "http", PipeRequest{ID: "1", Method: "GET", Path: "/missing"})
	assert.NotEqual(t, 200, resp.Code)
	assert.NotEmpty(t, resp.Error)
}

func TestDispatchExtractsProviderIDFromProviderRoute(t *testing.T) {
	r := newTestRouter()
	var gotProviderID int64
	r.RegisterProviderRoute("GET", "/resources", func(ctx context.Context, req backend.RouteRequest) (backend.RouteResponse, error) {
		gotProviderID = req.ProviderID
		return backend.RouteResponse{Code: 200}, nil
	})

	resp := r.Dispatch(context.Background(), "http", PipeRequest{ID: "1", Method: "GET", Path: "/providers/42/resources"})
	assert.Equal(t, 200, resp.Code)
	assert.Equal(t, int64(42), gotProviderID)
}

func TestDispatchRejectsMalformedBody(t *testing.T) {
	r := newTestRouter()
	r.RegisterRoute("POST", "/echo", func(ctx context.Context, req backend.RouteRequest) (backend.RouteResponse, error) {
		return backend.RouteResponse{Code: 200}, nil
	})

	resp := r.Dispatch(context.Background(), "http", PipeRequest{ID: "1", Method: "POST", Path: "/echo", Body: json.RawMessage(`{not json`)})
	assert.NotEqual(t, 200, resp.Code)
}

func TestDispatchAuthenticatesValidSignature(t *testing.T) {
	r := newTestRouter()
	priv, err := chainclient.LoadPrivateKey("0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)

	var gotRequester string
	r.RegisterRoute("GET", "/whoami", func(ctx context.Context, req backend.RouteRequest) (backend.RouteResponse, error) {
		gotRequester = req.Requester.String()
		return backend.RouteResponse{Code: 200}, nil
	})

	payload := signingPayload("GET", "/whoami", nil)
	sig, err := chainclient.Sign(priv, payload)
	require.NoError(t, err)

	resp := r.Dispatch(context.Background(), "http", PipeRequest{
		ID: "1", Method: "GET", Path: "/whoami", Signature: "0x" + hex.EncodeToString(sig),
	})
	require.Equal(t, 200, resp.Code)
	assert.Equal(t, string(chainclient.AddressOf(priv)), gotRequester)
}

func TestDispatchRejectsMalformedSignatureEncoding(t *testing.T) {
	r := newTestRouter()
	r.RegisterRoute("GET", "/x", func(ctx context.Context, req backend.RouteRequest) (backend.RouteResponse, error) {
		return backend.RouteResponse{Code: 200}, nil
	})
	resp := r.Dispatch(context.Background(), "http", PipeRequest{ID: "1", Method: "GET", Path: "/x", Signature: "not-hex"})
	assert.NotEqual(t, 200, resp.Code)
	assert.NotEmpty(t, resp.Error)
}

func TestDispatchEnforcesRateLimitPerRequester(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{RequestsPerWindow: 1, Window: time.Minute})
	r := New(limiter, zerolog.Nop(), metrics.New())
	r.RegisterRoute("GET", "/x", func(ctx context.Context, req backend.RouteRequest) (backend.RouteResponse, error) {
		return backend.RouteResponse{Code: 200}, nil
	})

	priv, err := chainclient.LoadPrivateKey("0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	payload := signingPayload("GET", "/x", nil)
	sig, err := chainclient.Sign(priv, payload)
	require.NoError(t, err)
	req := PipeRequest{ID: "1", Method: "GET", Path: "/x", Signature: "0x" + hex.EncodeToString(sig)}

	first := r.Dispatch(context.Background(), "http", req)
	assert.Equal(t, 200, first.Code)

	second := r.Dispatch(context.Background(), "http", req)
	assert.NotEqual(t, 200, second.Code)
}

func TestDispatchDefaultsResponseCodeToOK(t *testing.T) {
	r := newTestRouter()
	r.RegisterRoute("GET", "/noop", func(ctx context.Context, req backend.RouteRequest) (backend.RouteResponse, error) {
		return backend.RouteResponse{}, nil
	})
	resp := r.Dispatch(context.Background(), "http", PipeRequest{ID: "1", Method: "GET", Path: "/noop"})
	assert.Equal(t, 200, resp.Code)
}
