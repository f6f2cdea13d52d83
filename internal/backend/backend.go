// Package backend defines ServiceBackend, the lifecycle interface concrete
// service backends implement (spec §4.3/§9 — the "AbstractProvider →
// BaseXService → Concrete" inheritance chain collapsed into one interface
// plus optional capability interfaces detected by type assertion).
package backend

import (
	"context"

	"github.com/Forest-Protocols/safe-scan-provider/internal/model"
)

// DetailedOffer pairs an on-chain offer with its resolved detail blob
// content, the shape every ServiceBackend method receives (spec §4.4.1:
// "backends require chain-typed data for backward compatibility").
type DetailedOffer struct {
	Offer        model.Offer
	DetailsBytes []byte
}

// ResourceDetails is what Create/GetDetails return: a status plus free-form
// detail fields. Name and Status are lifted out of Details by the runtime
// before persistence (spec §4.4.1).
type ResourceDetails struct {
	Name    string
	Status  model.DeploymentStatus
	Details model.Details
}

// ServiceBackend is the lifecycle contract every concrete backend
// implements. Concrete backends are an external collaborator per spec §1;
// this module ships exactly one reference implementation (backend/echo) to
// exercise the runtime/reconciler/watcher machinery.
type ServiceBackend interface {
	// Init is called once during provider runtime startup, after routes for
	// the operator-level surface are registered, so the backend may add its
	// own provider-scoped routes via RouteRegistrar (if it implements
	// RequestRouterExtender).
	Init(ctx context.Context) error

	// Create produces a resource's initial details. The reconciler only
	// calls Create when no local resource row exists (spec §4.4.1) — it is
	// never retried by the daemon after a crash.
	Create(ctx context.Context, agreement model.Agreement, offer DetailedOffer) (ResourceDetails, error)

	// GetDetails is polled by the Resource Watcher for a not-yet-Running
	// resource (spec §4.7).
	GetDetails(ctx context.Context, agreement model.Agreement, offer DetailedOffer, resource model.Resource) (ResourceDetails, error)

	// Delete tears down the resource on AgreementClosed (spec §4.4.2).
	Delete(ctx context.Context, agreement model.Agreement, offer DetailedOffer, resource model.Resource) error
}

// RouteRegistrar is the subset of the Request Router a backend may use to
// add provider-scoped routes during Init (spec §4.3 item 5, §4.5).
type RouteRegistrar interface {
	RegisterProviderRoute(method, path string, handler RouteHandler)
}

// RouteHandler handles one provider-scoped request. Defined here (rather
// than imported from the router package) to keep ServiceBackend free of a
// dependency on the router's transport concerns; the router package defines
// the concrete PipeRequest/PipeResponse types and adapts between them.
type RouteHandler func(ctx context.Context, req RouteRequest) (RouteResponse, error)

// RouteRequest mirrors the router's PipeRequest shape (spec §4.5) without
// importing the router package.
type RouteRequest struct {
	ID         string
	Requester  model.Address
	Path       string
	PathParams map[string]string
	Params     map[string]string
	Body       map[string]any
	ProviderID int64
}

// RouteResponse is a handler's result; Code defaults to 200 when zero.
type RouteResponse struct {
	Code int
	Body any
}

// GatewayConfigProvider is an optional capability: backends that support
// virtual-provider offer configuration declare their schema this way (spec
// §4.6 GET /virtual-provider-configurations). Absent backends make that
// route return INTERNAL_SERVER_ERROR.
type GatewayConfigProvider interface {
	ConfigurationSchema() map[string]model.ConfigField
}

// RequestRouterExtender is an optional capability: backends that need
// provider-scoped routes beyond the daemon's built-in ones implement this
// and are called once from Init with a RouteRegistrar.
type RequestRouterExtender interface {
	RegisterRoutes(r RouteRegistrar)
}
