// Package router implements C5, the Request Router: a shared route table
// served over two transports (HTTP via gorilla/mux, signed messaging via
// gorilla/websocket), wallet-signature authentication, rate limiting, and
// per-request audit logging (spec §4.5/§4.6).
package router

import (
	"encoding/json"
)

// PipeRequest is the wire envelope both transports decode into before
// dispatch (spec §4.5). Signature covers signingPayload(Method, Path, Body):
// the method, path and raw body bytes, newline-joined.
type PipeRequest struct {
	ID         string            `json:"id"`
	Method     string            `json:"method"`
	Path       string            `json:"path"`
	PathParams map[string]string `json:"pathParams,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
	Body       json.RawMessage   `json:"body,omitempty"`
	Signature  string            `json:"signature"`
}

// PipeResponse is the wire envelope both transports encode responses into.
type PipeResponse struct {
	ID    string `json:"id"`
	Code  int    `json:"code"`
	Body  any    `json:"body,omitempty"`
	Error string `json:"error,omitempty"`
}

// signingPayload reproduces exactly what the caller must have signed:
// method + path + body, newline-joined, so a signature cannot be replayed
// against a different route.
func signingPayload(method, path string, body json.RawMessage) []byte {
	payload := method + "\n" + path + "\n"
	if len(body) > 0 {
		payload += string(body)
	}
	return []byte(payload)
}
