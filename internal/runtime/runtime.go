// Package runtime implements C6, the Provider Runtime: identity resolution,
// virtual-provider roster validation, and the public contract exposed to a
// ServiceBackend (create/getDetails/delete/authorizeAndLoadResource).
package runtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Forest-Protocols/safe-scan-provider/internal/backend"
	"github.com/Forest-Protocols/safe-scan-provider/internal/chainclient"
	"github.com/Forest-Protocols/safe-scan-provider/internal/detailregistry"
	"github.com/Forest-Protocols/safe-scan-provider/internal/errors"
	"github.com/Forest-Protocols/safe-scan-provider/internal/model"
	"github.com/Forest-Protocols/safe-scan-provider/internal/store"
)

// ProviderDetailsSchema lists the fields required/optional in a provider's
// detailsLink JSON (spec §4.3 item 1): name required, description/homepage
// optional.
type ProviderDetailsSchema struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Homepage    string `json:"homepage,omitempty"`
}

// Validate reports whether the parsed JSON satisfies the schema.
func (s ProviderDetailsSchema) Validate() error {
	if s.Name == "" {
		return errors.Validation("name", "provider details must declare a name")
	}
	return nil
}

// Runtime is one physical provider's runtime: its identity, protocol, its
// virtual-provider roster (if it is a gateway), and the backend it wires
// lifecycle and request handling through.
type Runtime struct {
	Provider        model.Provider
	ProtocolAddress model.Address
	ProtocolID      int64
	VirtualChildren []model.Provider // populated if Provider.IsVirtual == false and it is a gateway
	Backend         backend.ServiceBackend

	store    store.Store
	chain    chainclient.Client
	registry *detailregistry.Registry
	log      *logrus.Entry
}

// Deps bundles the Runtime's collaborators.
type Deps struct {
	Store    store.Store
	Chain    chainclient.Client
	Registry *detailregistry.Registry
	Backend  backend.ServiceBackend
	Log      *logrus.Entry
}

// New constructs a Runtime for owner, resolving its on-chain actor and
// protocol, and validating its detailsLink, per spec §4.3 item 1.
// explicitProtocolAddress must be non-zero: New returns an error when it is
// empty and does not fall back to any of the provider's registered protocols.
func New(ctx context.Context, ownerAddress model.Address, explicitProtocolAddress model.Address, deps Deps) (*Runtime, error) {
	actor, err := deps.Chain.GetActor(ctx, ownerAddress)
	if err != nil {
		return nil, errors.Transport("resolve owner actor", err)
	}
	if actor == nil {
		return nil, fmt.Errorf("runtime: no on-chain actor registered for owner %s", ownerAddress)
	}

	if explicitProtocolAddress.IsZero() {
		return nil, fmt.Errorf("runtime: provider %d: PROTOCOL_ADDRESS must be configured", actor.ID)
	}
	protocolAddress := explicitProtocolAddress

	protocolIDs, err := deps.Chain.GetRegisteredProtocolsOf(ctx, actor.ID)
	if err != nil {
		return nil, errors.Transport("resolve registered protocols", err)
	}
	proto, err := deps.Store.GetOrCreateProtocol(ctx, protocolAddress, "")
	if err != nil {
		return nil, err
	}
	registered := false
	for _, id := range protocolIDs {
		if id == proto.ID {
			registered = true
			break
		}
	}
	if !registered {
		return nil, fmt.Errorf("runtime: provider %d has no registered offers under protocol %s", actor.ID, protocolAddress)
	}

	r := &Runtime{
		Provider:        *actor,
		ProtocolAddress: protocolAddress,
		ProtocolID:      proto.ID,
		Backend:         deps.Backend,
		store:           deps.Store,
		chain:           deps.Chain,
		registry:        deps.Registry,
		log:             deps.Log,
	}

	if err := r.validateDetails(ctx, actor.DetailsCID); err != nil {
		return nil, fmt.Errorf("runtime: provider %d: %w", actor.ID, err)
	}
	if err := r.validateOfferDetails(ctx, actor.ID); err != nil {
		return nil, fmt.Errorf("runtime: provider %d: %w", actor.ID, err)
	}
	return r, nil
}

func (r *Runtime) validateDetails(ctx context.Context, cid string) error {
	content, err := r.registry.Get(ctx, cid)
	if err != nil {
		return fmt.Errorf("detailsLink %q does not resolve in the detail registry: %w", cid, err)
	}
	var parsed ProviderDetailsSchema
	if err := json.Unmarshal(content, &parsed); err != nil {
		return errors.Validation("detailsLink", "provider details do not parse as JSON: "+err.Error())
	}
	return parsed.Validate()
}

// validateOfferDetails confirms every offer detailsLink for providerID in
// this runtime's protocol resolves in the Detail Registry; missing details
// is fatal for the provider (spec §4.3 item 1).
func (r *Runtime) validateOfferDetails(ctx context.Context, providerID int64) error {
	offers, err := r.chain.GetAllProviderOffers(ctx, providerID)
	if err != nil {
		return errors.Transport("list provider offers", err)
	}
	for _, offer := range offers {
		if _, err := r.registry.Get(ctx, offer.DetailsCID); err != nil {
			return fmt.Errorf("offer %d detailsLink %q does not resolve in the detail registry: %w", offer.ID, offer.DetailsCID, err)
		}
	}
	return nil
}

// LoadVirtualChildren loads and validates this gateway's virtual-provider
// roster (spec §4.3 item 2). Per-child failures are logged as warnings and
// the child is skipped; the gateway continues.
func (r *Runtime) LoadVirtualChildren(ctx context.Context) {
	children, err := r.store.ListVirtualChildren(ctx, r.Provider.ID)
	if err != nil {
		r.log.WithError(err).Warn("failed to list virtual children, continuing without them")
		return
	}

	var valid []model.Provider
	for _, child := range children {
		if err := r.validateVirtualChild(ctx, child); err != nil {
			r.log.WithFields(logrus.Fields{"gatewayId": r.Provider.ID, "childOwner": child.OwnerAddress}).
				WithError(err).Warn("virtual provider failed validation, skipping")
			continue
		}
		valid = append(valid, child)
	}
	r.VirtualChildren = valid
}

func (r *Runtime) validateVirtualChild(ctx context.Context, child model.Provider) error {
	actor, err := r.chain.GetActor(ctx, child.OwnerAddress)
	if err != nil {
		return errors.Transport("resolve child actor", err)
	}
	if actor == nil {
		return fmt.Errorf("no on-chain actor for %s", child.OwnerAddress)
	}
	if !actor.OperatorAddress.Equal(r.Provider.OperatorAddress) {
		return fmt.Errorf("operator mismatch: child has %s, gateway has %s", actor.OperatorAddress, r.Provider.OperatorAddress)
	}
	if actor.Endpoint != r.Provider.Endpoint {
		return fmt.Errorf("endpoint mismatch: child has %q, gateway has %q", actor.Endpoint, r.Provider.Endpoint)
	}
	if err := r.validateDetails(ctx, actor.DetailsCID); err != nil {
		return err
	}
	return r.validateOfferDetails(ctx, actor.ID)
}

// ResolveActor finds the provider or virtual child responsible for an event
// whose on-chain providerAddress is addr (spec §4.4 step 3).
func (r *Runtime) ResolveActor(addr model.Address) (model.Provider, bool) {
	if r.Provider.OwnerAddress.Equal(addr) {
		return r.Provider, true
	}
	for _, child := range r.VirtualChildren {
		if child.OwnerAddress.Equal(addr) {
			return child, true
		}
	}
	return model.Provider{}, false
}

// Chain exposes the runtime's chain client, shared with the reconciler,
// watcher and sweeper so they don't each need their own connection.
func (r *Runtime) Chain() chainclient.Client {
	return r.chain
}

// ProviderIDs returns this runtime's own id plus every virtual child's id —
// the full set a resource's providerId may legitimately belong to (spec §8
// invariant: resource.providerId ∈ {runtime.provider.id} ∪ virtualChildren.ids).
func (r *Runtime) ProviderIDs() []int64 {
	ids := make([]int64, 0, len(r.VirtualChildren)+1)
	ids = append(ids, r.Provider.ID)
	for _, c := range r.VirtualChildren {
		ids = append(ids, c.ID)
	}
	return ids
}

// ProviderAddresses returns this runtime's own owner address plus every
// virtual child's owner address — the addresses the Balance Sweeper queries
// the indexer for (spec §4.8 step 1: "this provider's own and its virtual
// children's" agreements).
func (r *Runtime) ProviderAddresses() []model.Address {
	addrs := make([]model.Address, 0, len(r.VirtualChildren)+1)
	addrs = append(addrs, r.Provider.OwnerAddress)
	for _, c := range r.VirtualChildren {
		addrs = append(addrs, c.OwnerAddress)
	}
	return addrs
}

// Create delegates to the backend's Create method (spec §4.3 public contract).
func (r *Runtime) Create(ctx context.Context, agreement model.Agreement, offer backend.DetailedOffer) (backend.ResourceDetails, error) {
	details, err := r.Backend.Create(ctx, agreement, offer)
	if err != nil {
		return backend.ResourceDetails{}, errors.Backend("create", err.Error(), err)
	}
	return details, nil
}

// GetDetails delegates to the backend's GetDetails method.
func (r *Runtime) GetDetails(ctx context.Context, agreement model.Agreement, offer backend.DetailedOffer, resource model.Resource) (backend.ResourceDetails, error) {
	details, err := r.Backend.GetDetails(ctx, agreement, offer, resource)
	if err != nil {
		return backend.ResourceDetails{}, errors.Backend("getDetails", err.Error(), err)
	}
	return details, nil
}

// Delete delegates to the backend's Delete method.
func (r *Runtime) Delete(ctx context.Context, agreement model.Agreement, offer backend.DetailedOffer, resource model.Resource) error {
	if err := r.Backend.Delete(ctx, agreement, offer, resource); err != nil {
		return errors.Backend("delete", err.Error(), err)
	}
	return nil
}

// AuthorizeAndLoadResource is used inside request handlers: it loads a
// resource and its agreement, returning NotFoundError if missing, inactive,
// or not owned by one of this runtime's providers (spec §4.3 public contract).
func (r *Runtime) AuthorizeAndLoadResource(ctx context.Context, id int64, requester model.Address) (*model.Resource, *model.Agreement, error) {
	resource, err := r.store.GetResource(ctx, id, requester, r.ProtocolAddress)
	if err != nil {
		return nil, nil, err
	}
	if resource == nil || !resource.IsActive {
		return nil, nil, errors.NotFound(fmt.Sprintf("resource %d", id))
	}

	owned := false
	for _, pid := range r.ProviderIDs() {
		if resource.ProviderID == pid {
			owned = true
			break
		}
	}
	if !owned {
		return nil, nil, errors.NotFound(fmt.Sprintf("resource %d", id))
	}

	agreement, err := r.chain.GetAgreement(ctx, id)
	if err != nil {
		return nil, nil, errors.Transport("get agreement", err)
	}
	return resource, agreement, nil
}
