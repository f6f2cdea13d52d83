package router

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Forest-Protocols/safe-scan-provider/internal/backend"
	"github.com/Forest-Protocols/safe-scan-provider/internal/chainclient"
	"github.com/Forest-Protocols/safe-scan-provider/internal/detailregistry"
	"github.com/Forest-Protocols/safe-scan-provider/internal/errors"
	"github.com/Forest-Protocols/safe-scan-provider/internal/model"
	"github.com/Forest-Protocols/safe-scan-provider/internal/runtime"
	"github.com/Forest-Protocols/safe-scan-provider/internal/store"
)

// specCandidates is the search order GET /spec tries under dataDir (spec §6:
// "data/spec.{yaml,json}" or "data/oas.{yaml,json}", first match wins).
var specCandidates = []struct {
	name        string
	contentType string
}{
	{"spec.yaml", "application/yaml"},
	{"spec.json", "application/json"},
	{"oas.yaml", "application/yaml"},
	{"oas.json", "application/json"},
}

// RegisterOperatorRoutes wires the operator-level surface spec §4.5
// describes every provider runtime as exposing: the daemon's OpenAPI
// document, raw detail-blob lookup, the caller's resources, and one
// resource's details. dataDir is the filesystem root spec/oas documents are
// served from (conventionally "data", the parent of the detail registry's
// own "data/details"). Virtual-provider gateway routes (§4.6) are
// registered separately via RegisterGatewayRoutes.
func RegisterOperatorRoutes(r *Router, rt *runtime.Runtime, st store.Store, registry *detailregistry.Registry, dataDir string) {
	r.RegisterRoute("GET", "/spec", func(ctx context.Context, req backend.RouteRequest) (backend.RouteResponse, error) {
		for _, candidate := range specCandidates {
			content, err := os.ReadFile(filepath.Join(dataDir, candidate.name))
			if err != nil {
				continue
			}
			return backend.RouteResponse{Body: map[string]any{
				"contentType": candidate.contentType,
				"content":     string(content),
			}}, nil
		}
		return backend.RouteResponse{}, errors.NotFound("no spec or oas document configured")
	})

	r.RegisterRoute("GET", "/details", func(ctx context.Context, req backend.RouteRequest) (backend.RouteResponse, error) {
		cids := requestedCIDs(req)
		if len(cids) == 0 {
			return backend.RouteResponse{}, errors.Validation("cids", "body or params.cids must list at least one CID")
		}

		matches := make([]map[string]any, 0, len(cids))
		for _, cid := range cids {
			content, err := registry.Get(ctx, cid)
			if err != nil {
				continue
			}
			matches = append(matches, map[string]any{"cid": cid, "content": string(content)})
		}
		if len(matches) == 0 {
			return backend.RouteResponse{}, errors.NotFound("no requested CIDs resolve in the detail registry")
		}
		return backend.RouteResponse{Body: matches}, nil
	})

	r.RegisterRoute("GET", "/resources", func(ctx context.Context, req backend.RouteRequest) (backend.RouteResponse, error) {
		if req.Requester.IsZero() {
			return backend.RouteResponse{}, errors.Authorization("a signed request is required")
		}
		resources, err := st.ListResourcesByOwner(ctx, req.Requester)
		if err != nil {
			return backend.RouteResponse{}, err
		}
		owned := make([]model.Resource, 0, len(resources))
		for _, res := range resources {
			for _, id := range rt.ProviderIDs() {
				if res.ProviderID == id {
					owned = append(owned, res)
					break
				}
			}
		}
		views := make([]map[string]any, 0, len(owned))
		for _, res := range owned {
			views = append(views, map[string]any{
				"id":      res.ID,
				"name":    res.Name,
				"status":  res.DeploymentStatus,
				"details": res.Details.PublicView(),
			})
		}
		return backend.RouteResponse{Body: views}, nil
	})

	r.RegisterRoute("GET", "/resources/{id}", func(ctx context.Context, req backend.RouteRequest) (backend.RouteResponse, error) {
		if req.Requester.IsZero() {
			return backend.RouteResponse{}, errors.Authorization("a signed request is required")
		}
		var id int64
		if _, err := scanInt64(req.PathParams["id"], &id); err != nil {
			return backend.RouteResponse{}, errors.Validation("id", "must be numeric")
		}

		resource, _, err := rt.AuthorizeAndLoadResource(ctx, id, req.Requester)
		if err != nil {
			return backend.RouteResponse{}, err
		}
		return backend.RouteResponse{Body: map[string]any{
			"id":      resource.ID,
			"name":    resource.Name,
			"status":  resource.DeploymentStatus,
			"details": resource.Details.PublicView(),
		}}, nil
	})
}

// requestedCIDs reads cids from the body (an array field) or from
// params.cids (comma-separated, since the pipe envelope's query params are
// single-valued per key).
func requestedCIDs(req backend.RouteRequest) []string {
	if raw, ok := req.Body["cids"]; ok {
		if list, ok := raw.([]any); ok {
			out := make([]string, 0, len(list))
			for _, v := range list {
				if s, ok := v.(string); ok && s != "" {
					out = append(out, s)
				}
			}
			return out
		}
	}
	if raw, ok := req.Params["cids"]; ok && raw != "" {
		parts := strings.Split(raw, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return nil
}

// RegisterGatewayRoutes wires the virtual-provider gateway surface (spec
// §4.6): registering a new virtual provider, registering its offers, and
// reading/writing per-offer configuration.
func RegisterGatewayRoutes(r *Router, rt *runtime.Runtime, st store.Store, chain chainclient.Client, registry *detailregistry.Registry) {
	r.RegisterRoute("POST", "/virtual-providers", func(ctx context.Context, req backend.RouteRequest) (backend.RouteResponse, error) {
		if req.Requester.IsZero() {
			return backend.RouteResponse{}, errors.Authorization("a signed request is required")
		}
		if existing, err := st.GetProviderByOwner(ctx, req.Requester); err != nil {
			return backend.RouteResponse{}, err
		} else if existing != nil {
			return backend.RouteResponse{}, errors.Validation("requester", "a provider with this address already exists")
		}

		detailsFile, _ := req.Body["detailsFile"].(string)
		if detailsFile == "" {
			return backend.RouteResponse{}, errors.Validation("detailsFile", "detailsFile is required")
		}
		var parsed runtime.ProviderDetailsSchema
		if err := jsonUnmarshalString(detailsFile, &parsed); err != nil {
			return backend.RouteResponse{}, errors.Validation("detailsFile", "does not parse as JSON: "+err.Error())
		}
		if err := parsed.Validate(); err != nil {
			return backend.RouteResponse{}, err
		}

		actor, err := chain.GetActor(ctx, req.Requester)
		if err != nil {
			return backend.RouteResponse{}, errors.Transport("resolve requester actor", err)
		}
		if actor == nil {
			return backend.RouteResponse{}, errors.Authorization("requester is not registered on-chain as a provider")
		}
		if !actor.OperatorAddress.Equal(rt.Provider.OperatorAddress) {
			return backend.RouteResponse{}, errors.Authorization("requester's operator does not match this gateway")
		}
		if actor.Endpoint != rt.Provider.Endpoint {
			return backend.RouteResponse{}, errors.Authorization("requester's endpoint does not match this gateway")
		}

		cid := detailregistry.CID([]byte(detailsFile))
		if !strings.EqualFold(cid, actor.DetailsCID) {
			return backend.RouteResponse{}, errors.Authorization("submitted content does not match the on-chain detailsLink")
		}

		ownerLower := strings.ToLower(req.Requester.String())
		fileName := fmt.Sprintf("vprov.%s.details.%s.json", ownerLower, cid)
		if _, err := registry.Put(ctx, fileName, []byte(detailsFile)); err != nil {
			return backend.RouteResponse{}, err
		}

		gatewayID := rt.Provider.ID
		created, err := st.PutProvider(ctx, model.Provider{
			OwnerAddress:      req.Requester,
			OperatorAddress:   rt.Provider.OperatorAddress,
			Endpoint:          rt.Provider.Endpoint,
			IsVirtual:         true,
			GatewayProviderID: &gatewayID,
			DetailsCID:        cid,
		})
		if err != nil {
			return backend.RouteResponse{}, err
		}
		return backend.RouteResponse{Body: map[string]any{"id": created.ID}}, nil
	})

	r.RegisterRoute("POST", "/virtual-providers/offers", func(ctx context.Context, req backend.RouteRequest) (backend.RouteResponse, error) {
		vprov, err := authorizeVirtualChild(ctx, st, rt, req.Requester)
		if err != nil {
			return backend.RouteResponse{}, err
		}

		detailsFile, _ := req.Body["detailsFile"].(string)
		if detailsFile == "" {
			return backend.RouteResponse{}, errors.Validation("detailsFile", "detailsFile is required")
		}
		feeRaw, _ := req.Body["fee"].(string)
		fee, err := strconv.ParseInt(feeRaw, 10, 64)
		if err != nil {
			return backend.RouteResponse{}, errors.Validation("fee", "must be an integer string")
		}
		stockAmount := int64(1000)
		if raw, ok := req.Body["stockAmount"].(float64); ok {
			stockAmount = int64(raw)
		}

		cid := detailregistry.CID([]byte(detailsFile))

		var offerID int64
		if raw, ok := req.Body["existingOfferId"].(float64); ok && raw != 0 {
			offerID = int64(raw)
			if _, err := chain.GetOffer(ctx, offerID); err != nil {
				return backend.RouteResponse{}, errors.Validation("existingOfferId", "offer does not exist on-chain")
			}
		} else {
			offerID, err = chain.RegisterOffer(ctx, vprov.OwnerAddress, cid, fee, stockAmount)
			if err != nil {
				return backend.RouteResponse{}, errors.Transport("register offer", err)
			}
		}

		offerFileName := fmt.Sprintf("vprov.%s.offer.%d.%s.details.%s.json", strings.ToLower(vprov.OwnerAddress.String()), offerID, rt.ProtocolAddress.String(), cid)
		if _, err := registry.Put(ctx, offerFileName, []byte(detailsFile)); err != nil {
			return backend.RouteResponse{}, err
		}

		if raw, ok := req.Body["configuration"]; ok {
			cfgJSON, err := jsonRemarshalValue(raw)
			if err != nil {
				return backend.RouteResponse{}, errors.Validation("configuration", "malformed configuration")
			}
			if err := st.PutOfferConfiguration(ctx, model.VirtualProviderOfferConfig{
				OfferID:       offerID,
				ProtocolID:    rt.ProtocolID,
				Configuration: cfgJSON,
			}); err != nil {
				return backend.RouteResponse{}, err
			}
		}

		return backend.RouteResponse{Body: map[string]any{"offerId": offerID}}, nil
	})

	cfgProvider, ok := rt.Backend.(backend.GatewayConfigProvider)
	if !ok {
		r.RegisterRoute("GET", "/virtual-provider-configurations", func(ctx context.Context, req backend.RouteRequest) (backend.RouteResponse, error) {
			return backend.RouteResponse{}, fmt.Errorf("backend does not support virtual-provider configuration")
		})
		return
	}

	r.RegisterRoute("GET", "/virtual-provider-configurations", func(ctx context.Context, req backend.RouteRequest) (backend.RouteResponse, error) {
		return backend.RouteResponse{Body: cfgProvider.ConfigurationSchema()}, nil
	})

	r.RegisterRoute("GET", "/virtual-provider-configurations/{offerId}", func(ctx context.Context, req backend.RouteRequest) (backend.RouteResponse, error) {
		var offerID int64
		if _, err := scanInt64(req.PathParams["offerId"], &offerID); err != nil {
			return backend.RouteResponse{}, errors.Validation("offerId", "must be numeric")
		}
		if err := authorizeOfferOwner(ctx, chain, offerID, req.Requester); err != nil {
			return backend.RouteResponse{}, err
		}
		cfg, err := st.GetOfferConfiguration(ctx, offerID, rt.ProtocolID)
		if err != nil {
			return backend.RouteResponse{}, err
		}
		return backend.RouteResponse{Body: cfg.Configuration}, nil
	})

	r.RegisterRoute("PATCH", "/virtual-provider-configurations/{offerId}", func(ctx context.Context, req backend.RouteRequest) (backend.RouteResponse, error) {
		var offerID int64
		if _, err := scanInt64(req.PathParams["offerId"], &offerID); err != nil {
			return backend.RouteResponse{}, errors.Validation("offerId", "must be numeric")
		}
		if err := authorizeOfferOwner(ctx, chain, offerID, req.Requester); err != nil {
			return backend.RouteResponse{}, err
		}
		raw, err := jsonRemarshal(req.Body)
		if err != nil {
			return backend.RouteResponse{}, errors.Validation("body", "malformed configuration")
		}
		if err := st.PutOfferConfiguration(ctx, model.VirtualProviderOfferConfig{OfferID: offerID, ProtocolID: rt.ProtocolID, Configuration: raw}); err != nil {
			return backend.RouteResponse{}, err
		}
		return backend.RouteResponse{Code: int(errors.CodeOK)}, nil
	})
}

// authorizeVirtualChild confirms requester is a known virtual child of rt's
// gateway, per spec §4.6 ("if the requester is not a known virtual child of
// this gateway → NOT_AUTHORIZED").
func authorizeVirtualChild(ctx context.Context, st store.Store, rt *runtime.Runtime, requester model.Address) (*model.Provider, error) {
	if requester.IsZero() {
		return nil, errors.Authorization("a signed request is required")
	}
	child, err := st.GetProviderByOwner(ctx, requester)
	if err != nil {
		return nil, err
	}
	if child == nil || !child.IsVirtual || child.GatewayProviderID == nil || *child.GatewayProviderID != rt.Provider.ID {
		return nil, errors.Authorization("requester is not a known virtual child of this gateway")
	}
	return child, nil
}

// authorizeOfferOwner confirms offerID's on-chain owner is requester (spec
// §4.6: GET/PATCH virtual-provider-configurations "require the offer to be
// owned by the requester's address on-chain").
func authorizeOfferOwner(ctx context.Context, chain chainclient.Client, offerID int64, requester model.Address) error {
	if requester.IsZero() {
		return errors.Authorization("a signed request is required")
	}
	offer, err := chain.GetOffer(ctx, offerID)
	if err != nil {
		return errors.Transport("resolve offer", err)
	}
	if offer == nil || !offer.OwnerAddress.Equal(requester) {
		return errors.Authorization("offer is not owned by the requester")
	}
	return nil
}
