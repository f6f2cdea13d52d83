package router

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/Forest-Protocols/safe-scan-provider/internal/backend"
	"github.com/Forest-Protocols/safe-scan-provider/internal/chainclient"
	"github.com/Forest-Protocols/safe-scan-provider/internal/errors"
	"github.com/Forest-Protocols/safe-scan-provider/internal/metrics"
	"github.com/Forest-Protocols/safe-scan-provider/internal/model"
	"github.com/Forest-Protocols/safe-scan-provider/internal/ratelimit"
)

// registration is one route's metadata: the mux pattern used purely for
// path matching (both transports share it) and the handler it resolves to.
type registration struct {
	method  string
	pattern string
	handler backend.RouteHandler
}

// Router is the shared route table and dispatch logic for both transports
// (spec §4.5). Handlers never see transport details; they receive a
// backend.RouteRequest and return a backend.RouteResponse.
type Router struct {
	mu     sync.RWMutex
	routes []registration
	mux    *mux.Router

	RateLimit *ratelimit.Limiter
	Audit     zerolog.Logger
	Metrics   *metrics.Registry
}

// New builds an empty Router; operator-level routes are added separately by
// RegisterOperatorRoutes.
func New(rateLimit *ratelimit.Limiter, audit zerolog.Logger, m *metrics.Registry) *Router {
	r := &Router{
		mux:       mux.NewRouter(),
		RateLimit: rateLimit,
		Audit:     audit,
		Metrics:   m,
	}
	return r
}

// RegisterRoute adds a route to the shared table, usable by both transports.
func (r *Router) RegisterRoute(method, path string, handler backend.RouteHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, registration{method: method, pattern: path, handler: handler})
	r.mux.Handle(path, http.NotFoundHandler()).Methods(method) // registers the pattern for path-matching only
}

// RegisterProviderRoute implements backend.RouteRegistrar: routes registered
// this way are automatically prefixed under /providers/{providerId}.
func (r *Router) RegisterProviderRoute(method, path string, handler backend.RouteHandler) {
	r.RegisterRoute(method, "/providers/{providerId}"+path, handler)
}

// match resolves method+path against the route table, returning the
// handler and any path variables (spec §4.5 shared route table).
func (r *Router) match(method, path string) (backend.RouteHandler, map[string]string, bool) {
	req, err := http.NewRequest(method, "http://router"+path, nil)
	if err != nil {
		return nil, nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var match mux.RouteMatch
	if !r.mux.Match(req, &match) {
		return nil, nil, false
	}
	tmpl, err := match.Route.GetPathTemplate()
	if err != nil {
		return nil, nil, false
	}
	for _, reg := range r.routes {
		if reg.method == method && reg.pattern == tmpl {
			return reg.handler, match.Vars, true
		}
	}
	return nil, nil, false
}

// Dispatch authenticates, rate-limits, matches, and invokes a request. Both
// transports funnel through this single entry point (spec §4.5).
func (r *Router) Dispatch(ctx context.Context, transport string, req PipeRequest) PipeResponse {
	start := time.Now()
	resp := r.dispatch(ctx, req)

	r.Metrics.RequestsTotal.WithLabelValues(transport, req.Method, codeLabel(resp.Code)).Inc()
	r.Metrics.RequestDuration.WithLabelValues(transport, req.Method).Observe(time.Since(start).Seconds())
	r.Audit.Info().
		Str("transport", transport).
		Str("method", req.Method).
		Str("path", req.Path).
		Int("code", resp.Code).
		Dur("duration", time.Since(start)).
		Msg("request handled")
	return resp
}

func (r *Router) dispatch(ctx context.Context, req PipeRequest) PipeResponse {
	requester, err := r.authenticate(req)
	if err != nil {
		return errorResponse(req.ID, err)
	}

	if !requester.IsZero() && r.RateLimit != nil && !r.RateLimit.Allow(requester.String()) {
		return errorResponse(req.ID, errors.Validation("rate_limit", "too many requests"))
	}

	handler, vars, ok := r.match(req.Method, req.Path)
	if !ok {
		return errorResponse(req.ID, errors.NotFound("route "+req.Method+" "+req.Path))
	}

	var body map[string]any
	if len(req.Body) > 0 {
		if err := json.Unmarshal(req.Body, &body); err != nil {
			return errorResponse(req.ID, errors.Validation("body", "malformed JSON"))
		}
	}

	var providerID int64
	if raw, ok := vars["providerId"]; ok {
		if _, err := scanInt64(raw, &providerID); err != nil {
			return errorResponse(req.ID, errors.Validation("providerId", "must be numeric"))
		}
	}

	result, err := handler(ctx, backend.RouteRequest{
		ID:         req.ID,
		Requester:  requester,
		Path:       req.Path,
		PathParams: vars,
		Params:     req.Params,
		Body:       body,
		ProviderID: providerID,
	})
	if err != nil {
		return errorResponse(req.ID, err)
	}
	code := result.Code
	if code == 0 {
		code = int(errors.CodeOK)
	}
	return PipeResponse{ID: req.ID, Code: code, Body: result.Body}
}

// authenticate recovers the requester's address from req.Signature over the
// canonical signing payload. An empty signature authenticates as the zero
// address (anonymous, for public routes); handlers that require a known
// requester reject the zero address themselves via errors.Authorization.
func (r *Router) authenticate(req PipeRequest) (model.Address, error) {
	if req.Signature == "" {
		return "", nil
	}
	sigBytes, err := decodeSignature(req.Signature)
	if err != nil {
		return "", errors.Validation("signature", "malformed signature encoding")
	}
	addr, err := chainclient.RecoverSigner(signingPayload(req.Method, req.Path, req.Body), sigBytes)
	if err != nil {
		return "", errors.Authorization("signature verification failed")
	}
	return addr, nil
}

func errorResponse(id string, err error) PipeResponse {
	code := int(errors.CodeInternalServerError)
	if kind := errors.KindOf(err); kind != "" {
		var e *errors.Error
		if errors.As(err, &e) {
			code = int(e.Code())
		}
	}
	return PipeResponse{ID: id, Code: code, Error: err.Error()}
}

func codeLabel(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 400 && code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
