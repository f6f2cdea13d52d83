package chainclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/Forest-Protocols/safe-scan-provider/internal/errors"
	"github.com/Forest-Protocols/safe-scan-provider/internal/model"
)

// Memory is an in-memory Client used by the daemon's own unit and scenario
// tests in place of a real EVM node.
type Memory struct {
	mu         sync.Mutex
	providers  map[string]*model.Provider // by lowercase owner address
	offers     map[int64]*model.Offer
	agreements map[int64]*model.Agreement
	protocolsOf map[int64][]int64
	nextOfferID int64
	closed      map[int64]int // close count per agreement, for idempotency assertions
	block       uint64
	FailNext    error // test hook: next call returns this error
}

// SetCurrentBlock fixes the value CurrentBlock reports, letting reconciler
// tests control how far a tick's block window can advance.
func (m *Memory) SetCurrentBlock(b uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.block = b
}

// NewMemory builds an empty fake chain client.
func NewMemory() *Memory {
	return &Memory{
		providers:   make(map[string]*model.Provider),
		offers:      make(map[int64]*model.Offer),
		agreements:  make(map[int64]*model.Agreement),
		protocolsOf: make(map[int64][]int64),
		closed:      make(map[int64]int),
		nextOfferID: 1,
	}
}

func (m *Memory) takeFailure() error {
	if m.FailNext != nil {
		err := m.FailNext
		m.FailNext = nil
		return err
	}
	return nil
}

func (m *Memory) PutProvider(p model.Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := p
	m.providers[string(p.OwnerAddress)] = &cp
}

func (m *Memory) PutOffer(o model.Offer) { m.mu.Lock(); defer m.mu.Unlock(); cp := o; m.offers[o.ID] = &cp }

func (m *Memory) PutAgreement(a model.Agreement) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := a
	m.agreements[a.ID] = &cp
}

func (m *Memory) SetProtocolsOf(providerID int64, protocolIDs []int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.protocolsOf[providerID] = protocolIDs
}

func (m *Memory) GetActor(ctx context.Context, owner model.Address) (*model.Provider, error) {
	if err := m.takeFailure(); err != nil {
		return nil, errors.Transport("get actor", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[string(owner)]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) GetRegisteredProtocolsOf(ctx context.Context, providerID int64) ([]int64, error) {
	if err := m.takeFailure(); err != nil {
		return nil, errors.Transport("get protocols", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.protocolsOf[providerID]...), nil
}

func (m *Memory) GetOffer(ctx context.Context, offerID int64) (*model.Offer, error) {
	if err := m.takeFailure(); err != nil {
		return nil, errors.Transport("get offer", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offers[offerID]
	if !ok {
		return nil, errors.NotFound(fmt.Sprintf("offer %d", offerID))
	}
	cp := *o
	return &cp, nil
}

func (m *Memory) GetAgreement(ctx context.Context, agreementID int64) (*model.Agreement, error) {
	if err := m.takeFailure(); err != nil {
		return nil, errors.Transport("get agreement", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agreements[agreementID]
	if !ok {
		return nil, errors.NotFound(fmt.Sprintf("agreement %d", agreementID))
	}
	cp := *a
	return &cp, nil
}

func (m *Memory) GetAllProviderOffers(ctx context.Context, providerID int64) ([]model.Offer, error) {
	if err := m.takeFailure(); err != nil {
		return nil, errors.Transport("list offers", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Offer
	for _, o := range m.offers {
		out = append(out, *o)
	}
	return out, nil
}

func (m *Memory) CloseAgreement(ctx context.Context, agreementID int64) error {
	if err := m.takeFailure(); err != nil {
		return errors.Transport("close agreement", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agreements[agreementID]
	if !ok {
		return errors.NotFound(fmt.Sprintf("agreement %d", agreementID))
	}
	a.Status = model.AgreementNotActive
	m.closed[agreementID]++
	return nil
}

// CloseCount reports how many times CloseAgreement was invoked for id,
// used by tests asserting the sweeper's idempotent-close behavior.
func (m *Memory) CloseCount(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed[id]
}

func (m *Memory) RegisterOffer(ctx context.Context, ownerAddress model.Address, detailsCID string, feePerSecond int64, stock int64) (int64, error) {
	if err := m.takeFailure(); err != nil {
		return 0, errors.Transport("register offer", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextOfferID
	m.nextOfferID++
	m.offers[id] = &model.Offer{ID: id, OwnerAddress: ownerAddress, FeePerSecond: feePerSecond, Stock: stock, DetailsCID: detailsCID}
	return id, nil
}

func (m *Memory) GenerateCID(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func (m *Memory) CurrentBlock(ctx context.Context) (uint64, error) {
	if err := m.takeFailure(); err != nil {
		return 0, errors.Transport("current block", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.block, nil
}

var _ Client = (*Memory)(nil)
