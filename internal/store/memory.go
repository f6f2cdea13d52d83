package store

import (
	"context"
	"sync"

	"github.com/Forest-Protocols/safe-scan-provider/internal/errors"
	"github.com/Forest-Protocols/safe-scan-provider/internal/model"
)

type resourceKey struct {
	id         int64
	protocolID int64
}

// Memory is an in-memory Store used by the daemon's own tests (scenario
// tests in §8, reconciler idempotency tests) in place of Postgres.
type Memory struct {
	mu         sync.Mutex
	protocols  map[string]*model.Protocol // by lowercase address
	providers  map[int64]*model.Provider
	nextProvID int64
	resources  map[resourceKey]*model.Resource
	details    map[string]*model.DetailBlob
	config     map[string]string
	offerCfgs  map[resourceKey]*model.VirtualProviderOfferConfig
}

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		protocols:  make(map[string]*model.Protocol),
		providers:  make(map[int64]*model.Provider),
		resources:  make(map[resourceKey]*model.Resource),
		details:    make(map[string]*model.DetailBlob),
		config:     make(map[string]string),
		offerCfgs:  make(map[resourceKey]*model.VirtualProviderOfferConfig),
		nextProvID: 1,
	}
}

func (m *Memory) GetOrCreateProtocol(ctx context.Context, address model.Address, detailsCID string) (*model.Protocol, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := string(model.NewAddress(address.String()))
	if p, ok := m.protocols[key]; ok {
		cp := *p
		return &cp, nil
	}
	p := &model.Protocol{ID: int64(len(m.protocols) + 1), Address: model.NewAddress(address.String()), DetailsCID: detailsCID}
	m.protocols[key] = p
	cp := *p
	return &cp, nil
}

func (m *Memory) GetProtocolByAddress(ctx context.Context, address model.Address) (*model.Protocol, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.protocols[string(model.NewAddress(address.String()))]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) GetProvider(ctx context.Context, id int64) (*model.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) GetProviderByOwner(ctx context.Context, owner model.Address) (*model.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.providers {
		if p.OwnerAddress.Equal(owner) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListVirtualChildren(ctx context.Context, gatewayProviderID int64) ([]model.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Provider
	for _, p := range m.providers {
		if p.IsVirtual && p.GatewayProviderID != nil && *p.GatewayProviderID == gatewayProviderID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *Memory) PutProvider(ctx context.Context, p model.Provider) (*model.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == 0 {
		p.ID = m.nextProvID
		m.nextProvID++
	} else if p.ID >= m.nextProvID {
		m.nextProvID = p.ID + 1
	}
	cp := p
	m.providers[p.ID] = &cp
	out := cp
	return &out, nil
}

func (m *Memory) GetResource(ctx context.Context, id int64, owner model.Address, protocolAddr model.Address) (*model.Resource, error) {
	proto, err := m.GetProtocolByAddress(ctx, protocolAddr)
	if err != nil {
		return nil, err
	}
	if proto == nil {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[resourceKey{id: id, protocolID: proto.ID}]
	if !ok || !r.OwnerAddress.Equal(owner) {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *Memory) GetResourceByID(ctx context.Context, id int64, protocolID int64) (*model.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[resourceKey{id: id, protocolID: protocolID}]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *Memory) ListResourcesByOwner(ctx context.Context, owner model.Address) ([]model.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Resource
	for _, r := range m.resources {
		if r.OwnerAddress.Equal(owner) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *Memory) ListResourcesByStatus(ctx context.Context, status model.DeploymentStatus) ([]model.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Resource
	for _, r := range m.resources {
		if r.IsActive && r.DeploymentStatus == status {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *Memory) CreateResource(ctx context.Context, r model.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := resourceKey{id: r.ID, protocolID: r.ProtocolID}
	cp := r
	m.resources[key] = &cp
	return nil
}

func (m *Memory) UpdateResource(ctx context.Context, id int64, protocolAddr model.Address, status model.DeploymentStatus, details model.Details) error {
	proto, err := m.GetProtocolByAddress(ctx, protocolAddr)
	if err != nil {
		return err
	}
	if proto == nil {
		// Unknown protocol: the update is dropped and nil is returned;
		// nothing is logged here or by the caller.
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := resourceKey{id: id, protocolID: proto.ID}
	r, ok := m.resources[key]
	if !ok {
		return nil
	}
	r.DeploymentStatus = status
	r.Details = details
	return nil
}

func (m *Memory) DeleteResource(ctx context.Context, id int64, protocolID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := resourceKey{id: id, protocolID: protocolID}
	r, ok := m.resources[key]
	if !ok {
		return nil
	}
	r.IsActive = false
	r.DeploymentStatus = model.StatusClosed
	r.Details = model.Details{}
	return nil
}

func (m *Memory) ResourceExists(ctx context.Context, id int64, protocolID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.resources[resourceKey{id: id, protocolID: protocolID}]
	return ok, nil
}

func (m *Memory) GetDetailBlob(ctx context.Context, cid string) (*model.DetailBlob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.details[cid]
	if !ok {
		return nil, errors.NotFound("detail blob " + cid)
	}
	cp := *b
	return &cp, nil
}

func (m *Memory) PutDetailBlob(ctx context.Context, blob model.DetailBlob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := blob
	m.details[blob.CID] = &cp
	return nil
}

func (m *Memory) SyncDetailFiles(ctx context.Context, contents []model.DetailBlob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool, len(contents))
	for _, c := range contents {
		want[c.CID] = true
	}
	for cid := range m.details {
		if !want[cid] {
			delete(m.details, cid)
		}
	}
	for _, c := range contents {
		cp := c
		m.details[c.CID] = &cp
	}
	return nil
}

func (m *Memory) GetConfig(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.config[key]
	return v, ok, nil
}

func (m *Memory) SetConfig(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config[key] = value
	return nil
}

func (m *Memory) GetOfferConfiguration(ctx context.Context, offerID, protocolID int64) (*model.VirtualProviderOfferConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.offerCfgs[resourceKey{id: offerID, protocolID: protocolID}]
	if !ok {
		return nil, errors.NotFound("offer configuration")
	}
	cp := *cfg
	return &cp, nil
}

func (m *Memory) PutOfferConfiguration(ctx context.Context, cfg model.VirtualProviderOfferConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := cfg
	m.offerCfgs[resourceKey{id: cfg.OfferID, protocolID: cfg.ProtocolID}] = &cp
	return nil
}

func (m *Memory) Close() error { return nil }

var _ Store = (*Memory)(nil)
