package router

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Forest-Protocols/safe-scan-provider/internal/backend"
	"github.com/Forest-Protocols/safe-scan-provider/internal/backend/echo"
	"github.com/Forest-Protocols/safe-scan-provider/internal/chainclient"
	"github.com/Forest-Protocols/safe-scan-provider/internal/detailregistry"
	"github.com/Forest-Protocols/safe-scan-provider/internal/metrics"
	"github.com/Forest-Protocols/safe-scan-provider/internal/model"
	"github.com/Forest-Protocols/safe-scan-provider/internal/ratelimit"
	"github.com/Forest-Protocols/safe-scan-provider/internal/runtime"
	"github.com/Forest-Protocols/safe-scan-provider/internal/store"
)

// testUserKey and testChildKey are fixed, arbitrary private keys (not tied
// to any real funds) used to derive signed requesters in these tests.
const (
	testUserKey  = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testChildKey = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690"
)

func signedRequest(t *testing.T, privHex, method, path string, body json.RawMessage) (model.Address, string) {
	t.Helper()
	priv, err := chainclient.LoadPrivateKey(privHex)
	require.NoError(t, err)
	sig, err := chainclient.Sign(priv, signingPayload(method, path, body))
	require.NoError(t, err)
	return chainclient.AddressOf(priv), "0x" + hex.EncodeToString(sig)
}

func newOperatorTestFixture(t *testing.T) (*Router, *runtime.Runtime, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	chain := chainclient.NewMemory()
	reg := detailregistry.New(st, t.TempDir())

	owner := model.NewAddress("0xowner")
	protocol := model.NewAddress("0xproto")
	detailsCID, err := reg.Put(context.Background(), "p.json", []byte(`{"name":"safe-scan"}`))
	require.NoError(t, err)

	chain.PutProvider(model.Provider{ID: 1, OwnerAddress: owner, OperatorAddress: owner, DetailsCID: detailsCID})
	chain.SetProtocolsOf(1, []int64{1})

	rt, err := runtime.New(context.Background(), owner, protocol, runtime.Deps{
		Store: st, Chain: chain, Registry: reg, Backend: echo.New(0), Log: nopLogEntry(),
	})
	require.NoError(t, err)

	r := New(ratelimit.New(ratelimit.Config{RequestsPerWindow: 100, Window: time.Minute}), zerolog.Nop(), metrics.New())
	RegisterOperatorRoutes(r, rt, st, reg, t.TempDir())
	return r, rt, st
}

func TestSpecRouteReturns404WhenNoSpecFileConfigured(t *testing.T) {
	r, _, _ := newOperatorTestFixture(t)
	resp := r.Dispatch(context.Background(), "http", PipeRequest{ID: "1", Method: "GET", Path: "/spec"})
	assert.Equal(t, 404, resp.Code, "no spec/oas document exists in the empty data dir")
}

func TestSpecRouteServesConfiguredSpecFile(t *testing.T) {
	st := store.NewMemory()
	chain := chainclient.NewMemory()
	reg := detailregistry.New(st, t.TempDir())
	owner := model.NewAddress("0xowner")
	detailsCID, err := reg.Put(context.Background(), "p.json", []byte(`{"name":"safe-scan"}`))
	require.NoError(t, err)
	chain.PutProvider(model.Provider{ID: 1, OwnerAddress: owner, OperatorAddress: owner, DetailsCID: detailsCID})
	chain.SetProtocolsOf(1, []int64{1})
	rt, err := runtime.New(context.Background(), owner, model.NewAddress("0xproto"), runtime.Deps{
		Store: st, Chain: chain, Registry: reg, Backend: echo.New(0), Log: nopLogEntry(),
	})
	require.NoError(t, err)

	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "spec.json"), []byte(`{"openapi":"3.0.0"}`), 0o644))

	r := New(ratelimit.New(ratelimit.Config{RequestsPerWindow: 100, Window: time.Minute}), zerolog.Nop(), metrics.New())
	RegisterOperatorRoutes(r, rt, st, reg, dataDir)

	resp := r.Dispatch(context.Background(), "http", PipeRequest{ID: "1", Method: "GET", Path: "/spec"})
	require.Equal(t, 200, resp.Code)
	body, ok := resp.Body.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, `{"openapi":"3.0.0"}`, body["content"])
}

func TestDetailsRouteReturns404WhenNoCIDResolves(t *testing.T) {
	r, _, _ := newOperatorTestFixture(t)
	resp := r.Dispatch(context.Background(), "http", PipeRequest{
		ID: "1", Method: "GET", Path: "/details", Params: map[string]string{"cids": "nonexistent-cid"},
	})
	assert.Equal(t, 404, resp.Code, "no requested CID resolves")
}

func TestDetailsRouteRejectsRequestWithNoCIDs(t *testing.T) {
	r, _, _ := newOperatorTestFixture(t)
	resp := r.Dispatch(context.Background(), "http", PipeRequest{ID: "1", Method: "GET", Path: "/details"})
	assert.NotEqual(t, 200, resp.Code)
}

func TestDetailsRouteReturnsMatchingContent(t *testing.T) {
	st := store.NewMemory()
	chain := chainclient.NewMemory()
	reg := detailregistry.New(st, t.TempDir())
	owner := model.NewAddress("0xowner")
	cid, err := reg.Put(context.Background(), "thing.json", []byte(`{"hello":"world"}`))
	require.NoError(t, err)
	chain.PutProvider(model.Provider{ID: 1, OwnerAddress: owner, OperatorAddress: owner, DetailsCID: cid})
	chain.SetProtocolsOf(1, []int64{1})
	rt, err := runtime.New(context.Background(), owner, model.NewAddress("0xproto"), runtime.Deps{
		Store: st, Chain: chain, Registry: reg, Backend: echo.New(0), Log: nopLogEntry(),
	})
	require.NoError(t, err)

	r := New(ratelimit.New(ratelimit.Config{RequestsPerWindow: 100, Window: time.Minute}), zerolog.Nop(), metrics.New())
	RegisterOperatorRoutes(r, rt, st, reg, t.TempDir())

	resp := r.Dispatch(context.Background(), "http", PipeRequest{
		ID: "1", Method: "GET", Path: "/details", Params: map[string]string{"cids": cid},
	})
	require.Equal(t, 200, resp.Code)
	matches, ok := resp.Body.([]map[string]any)
	require.True(t, ok)
	require.Len(t, matches, 1)
	assert.Equal(t, `{"hello":"world"}`, matches[0]["content"])
}

func TestResourcesRouteRejectsAnonymousRequest(t *testing.T) {
	r, _, _ := newOperatorTestFixture(t)
	resp := r.Dispatch(context.Background(), "http", PipeRequest{ID: "1", Method: "GET", Path: "/resources"})
	assert.NotEqual(t, 200, resp.Code)
}

func TestResourcesRouteFiltersToOwnedProvider(t *testing.T) {
	r, rt, st := newOperatorTestFixture(t)
	requester := model.NewAddress("0xuser")
	require.NoError(t, st.CreateResource(context.Background(), model.Resource{
		ID: 1, ProtocolID: rt.ProtocolID, ProviderID: rt.Provider.ID, OwnerAddress: requester,
		Name: "r1", IsActive: true, DeploymentStatus: model.StatusRunning,
	}))
	require.NoError(t, st.CreateResource(context.Background(), model.Resource{
		ID: 2, ProtocolID: rt.ProtocolID, ProviderID: 999, OwnerAddress: requester,
		Name: "r2", IsActive: true, DeploymentStatus: model.StatusRunning,
	}))

	priv, err := chainclient.LoadPrivateKey(testUserKey)
	require.NoError(t, err)
	// align requester's chain-derived address with the fixture's test user
	signer := model.NewAddress(string(chainclient.AddressOf(priv)))
	require.NoError(t, st.CreateResource(context.Background(), model.Resource{
		ID: 3, ProtocolID: rt.ProtocolID, ProviderID: rt.Provider.ID, OwnerAddress: signer,
		Name: "r3", IsActive: true, DeploymentStatus: model.StatusRunning,
	}))

	payload := signingPayload("GET", "/resources", nil)
	sig, err := chainclient.Sign(priv, payload)
	require.NoError(t, err)

	resp := r.Dispatch(context.Background(), "http", PipeRequest{
		ID: "1", Method: "GET", Path: "/resources", Signature: "0x" + hex.EncodeToString(sig),
	})
	require.Equal(t, 200, resp.Code)

	views, ok := resp.Body.([]map[string]any)
	require.True(t, ok)
	require.Len(t, views, 1)
	assert.Equal(t, "r3", views[0]["name"])
}

func TestResourceByIDRouteReturns404ForWrongOwner(t *testing.T) {
	r, rt, st := newOperatorTestFixture(t)
	require.NoError(t, st.CreateResource(context.Background(), model.Resource{
		ID: 5, ProtocolID: rt.ProtocolID, ProviderID: rt.Provider.ID, OwnerAddress: model.NewAddress("0xother"),
		Name: "r5", IsActive: true, DeploymentStatus: model.StatusRunning,
	}))

	priv, err := chainclient.LoadPrivateKey(testUserKey)
	require.NoError(t, err)
	payload := signingPayload("GET", "/resources/5", nil)
	sig, err := chainclient.Sign(priv, payload)
	require.NoError(t, err)

	resp := r.Dispatch(context.Background(), "http", PipeRequest{
		ID: "1", Method: "GET", Path: "/resources/5", Signature: "0x" + hex.EncodeToString(sig),
	})
	assert.Equal(t, 404, resp.Code)
}

// newGatewayTestFixture builds a runtime acting as a gateway (its own
// on-chain actor row plus store/chain/registry) for the virtual-provider
// surface tests below.
func newGatewayTestFixture(t *testing.T) (*Router, *runtime.Runtime, *store.Memory, *chainclient.Memory, *detailregistry.Registry) {
	t.Helper()
	st := store.NewMemory()
	chain := chainclient.NewMemory()
	reg := detailregistry.New(st, t.TempDir())
	owner := model.NewAddress("0xowner")
	operator := model.NewAddress("0xoperator")
	detailsCID, err := reg.Put(context.Background(), "p.json", []byte(`{"name":"gw"}`))
	require.NoError(t, err)
	chain.PutProvider(model.Provider{ID: 1, OwnerAddress: owner, OperatorAddress: operator, Endpoint: "https://gw.example", DetailsCID: detailsCID})
	chain.SetProtocolsOf(1, []int64{1})

	rt, err := runtime.New(context.Background(), owner, model.NewAddress("0xproto"), runtime.Deps{
		Store: st, Chain: chain, Registry: reg, Backend: echo.New(0), Log: nopLogEntry(),
	})
	require.NoError(t, err)

	r := New(ratelimit.New(ratelimit.Config{RequestsPerWindow: 100, Window: time.Minute}), zerolog.Nop(), metrics.New())
	RegisterGatewayRoutes(r, rt, st, chain, reg)
	return r, rt, st, chain, reg
}

func TestGatewayRoutesRejectAnonymousCaller(t *testing.T) {
	r, _, _, _, _ := newGatewayTestFixture(t)

	body, err := json.Marshal(map[string]any{"detailsFile": `{"name":"child"}`})
	require.NoError(t, err)
	resp := r.Dispatch(context.Background(), "http", PipeRequest{
		ID: "1", Method: "POST", Path: "/virtual-providers", Body: body,
	})
	assert.NotEqual(t, 200, resp.Code, "an unsigned, anonymous requester must be rejected")
}

func TestVirtualProviderRegistrationSucceedsForOnChainVerifiedChild(t *testing.T) {
	r, rt, st, chain, _ := newGatewayTestFixture(t)

	priv, err := chainclient.LoadPrivateKey(testChildKey)
	require.NoError(t, err)
	child := chainclient.AddressOf(priv)

	detailsFile := `{"name":"child-provider"}`
	cid := detailregistry.CID([]byte(detailsFile))
	chain.PutProvider(model.Provider{
		ID: 2, OwnerAddress: child, OperatorAddress: rt.Provider.OperatorAddress,
		Endpoint: rt.Provider.Endpoint, DetailsCID: cid,
	})

	body, err := json.Marshal(map[string]any{"detailsFile": detailsFile})
	require.NoError(t, err)
	sig, err := chainclient.Sign(priv, signingPayload("POST", "/virtual-providers", body))
	require.NoError(t, err)

	resp := r.Dispatch(context.Background(), "http", PipeRequest{
		ID: "1", Method: "POST", Path: "/virtual-providers", Body: body,
		Signature: "0x" + hex.EncodeToString(sig),
	})
	require.Equal(t, 200, resp.Code)

	created, err := st.GetProviderByOwner(context.Background(), child)
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.True(t, created.IsVirtual)
	require.NotNil(t, created.GatewayProviderID)
	assert.Equal(t, rt.Provider.ID, *created.GatewayProviderID)
	assert.Equal(t, cid, created.DetailsCID)
}

func TestVirtualProviderRegistrationRejectsMismatchedOnChainDetailsCID(t *testing.T) {
	r, rt, _, chain, _ := newGatewayTestFixture(t)

	priv, err := chainclient.LoadPrivateKey(testChildKey)
	require.NoError(t, err)
	child := chainclient.AddressOf(priv)
	chain.PutProvider(model.Provider{
		ID: 2, OwnerAddress: child, OperatorAddress: rt.Provider.OperatorAddress,
		Endpoint: rt.Provider.Endpoint, DetailsCID: "some-other-cid",
	})

	body, err := json.Marshal(map[string]any{"detailsFile": `{"name":"child-provider"}`})
	require.NoError(t, err)
	sig, err := chainclient.Sign(priv, signingPayload("POST", "/virtual-providers", body))
	require.NoError(t, err)

	resp := r.Dispatch(context.Background(), "http", PipeRequest{
		ID: "1", Method: "POST", Path: "/virtual-providers", Body: body,
		Signature: "0x" + hex.EncodeToString(sig),
	})
	assert.NotEqual(t, 200, resp.Code)
}

func TestVirtualProviderOfferRegistrationSucceedsAndPersistsConfiguration(t *testing.T) {
	r, rt, st, chain, _ := newGatewayTestFixture(t)

	priv, err := chainclient.LoadPrivateKey(testChildKey)
	require.NoError(t, err)
	child := chainclient.AddressOf(priv)

	gwID := rt.Provider.ID
	_, err = st.PutProvider(context.Background(), model.Provider{
		OwnerAddress: child, IsVirtual: true, GatewayProviderID: &gwID,
	})
	require.NoError(t, err)

	body, err := json.Marshal(map[string]any{
		"detailsFile":   `{"name":"child-offer"}`,
		"fee":           "100",
		"stockAmount":   float64(50),
		"configuration": map[string]any{"threshold": 5},
	})
	require.NoError(t, err)
	sig, err := chainclient.Sign(priv, signingPayload("POST", "/virtual-providers/offers", body))
	require.NoError(t, err)

	resp := r.Dispatch(context.Background(), "http", PipeRequest{
		ID: "1", Method: "POST", Path: "/virtual-providers/offers", Body: body,
		Signature: "0x" + hex.EncodeToString(sig),
	})
	require.Equal(t, 200, resp.Code)

	respBody, ok := resp.Body.(map[string]any)
	require.True(t, ok)
	offerID, ok := respBody["offerId"].(int64)
	require.True(t, ok)

	offer, err := chain.GetOffer(context.Background(), offerID)
	require.NoError(t, err)
	require.NotNil(t, offer)
	assert.Equal(t, int64(100), offer.FeePerSecond)
	assert.Equal(t, int64(50), offer.Stock)

	cfg, err := st.GetOfferConfiguration(context.Background(), offerID, rt.ProtocolID)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.JSONEq(t, `{"threshold":5}`, string(cfg.Configuration))
}

func TestVirtualProviderOfferRegistrationRejectsUnknownChild(t *testing.T) {
	r, _, _, _, _ := newGatewayTestFixture(t)

	priv, err := chainclient.LoadPrivateKey(testChildKey)
	require.NoError(t, err)

	body, err := json.Marshal(map[string]any{"detailsFile": `{"name":"x"}`, "fee": "1"})
	require.NoError(t, err)
	sig, err := chainclient.Sign(priv, signingPayload("POST", "/virtual-providers/offers", body))
	require.NoError(t, err)

	resp := r.Dispatch(context.Background(), "http", PipeRequest{
		ID: "1", Method: "POST", Path: "/virtual-providers/offers", Body: body,
		Signature: "0x" + hex.EncodeToString(sig),
	})
	assert.NotEqual(t, 200, resp.Code, "requester is not a registered virtual child of this gateway")
}

func TestVirtualProviderConfigurationRouteRejectsNonOwningRequester(t *testing.T) {
	r, _, _, chain, _ := newGatewayTestFixture(t)

	owner := model.NewAddress("0xoffer-owner")
	chain.PutOffer(model.Offer{ID: 7, OwnerAddress: owner})

	priv, err := chainclient.LoadPrivateKey(testChildKey)
	require.NoError(t, err)
	sig, err := chainclient.Sign(priv, signingPayload("GET", "/virtual-provider-configurations/7", nil))
	require.NoError(t, err)

	resp := r.Dispatch(context.Background(), "http", PipeRequest{
		ID: "1", Method: "GET", Path: "/virtual-provider-configurations/7",
		Signature: "0x" + hex.EncodeToString(sig),
	})
	assert.NotEqual(t, 200, resp.Code, "the offer is owned on-chain by a different address than the requester")
}

func TestGatewayConfigurationRouteFallsBackWhenUnsupported(t *testing.T) {
	r, rt, st := newOperatorTestFixture(t)
	// Wrapping the echo backend in a struct that embeds only the
	// ServiceBackend interface hides its ConfigurationSchema method, so the
	// backend no longer satisfies GatewayConfigProvider.
	rt.Backend = struct{ backend.ServiceBackend }{rt.Backend}
	reg := detailregistry.New(st, t.TempDir())
	RegisterGatewayRoutes(r, rt, st, chainclient.NewMemory(), reg)

	resp := r.Dispatch(context.Background(), "http", PipeRequest{
		ID: "1", Method: "GET", Path: "/virtual-provider-configurations",
	})
	assert.NotEqual(t, 200, resp.Code, "the wrapped backend does not implement GatewayConfigProvider")
}
