package router

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"
)

// HTTPTransport adapts the shared Router onto plain HTTP: every request's
// method/path/query/body/X-Signature header is folded into a PipeRequest,
// dispatched, and the PipeResponse is written back as JSON with a matching
// status code (spec §4.5, transport 1 of 2).
type HTTPTransport struct {
	Router *Router
}

func NewHTTPTransport(r *Router) *HTTPTransport { return &HTTPTransport{Router: r} }

func (t *HTTPTransport) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(io.LimitReader(req.Body, 1<<20))

	params := map[string]string{}
	for k := range req.URL.Query() {
		params[k] = req.URL.Query().Get(k)
	}

	pipeReq := PipeRequest{
		ID:        uuid.NewString(),
		Method:    req.Method,
		Path:      req.URL.Path,
		Params:    params,
		Body:      json.RawMessage(body),
		Signature: req.Header.Get("X-Signature"),
	}

	resp := t.Router.Dispatch(req.Context(), "http", pipeReq)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Code)
	_ = json.NewEncoder(w).Encode(resp)
}
