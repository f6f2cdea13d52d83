package indexerclient

import (
	"context"
	"sync"

	"github.com/Forest-Protocols/safe-scan-provider/internal/errors"
	"github.com/Forest-Protocols/safe-scan-provider/internal/model"
)

// Memory is an in-memory Client used by the daemon's reconciler/sweeper
// tests. Events and agreements are appended directly by the test via
// PutEvent/PutAgreement; Healthy defaults to true.
type Memory struct {
	mu         sync.Mutex
	events     []Event
	agreements []model.Agreement
	Healthy    bool
	FailNext   bool
}

func NewMemory() *Memory {
	return &Memory{Healthy: true}
}

func (m *Memory) PutEvent(e Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func (m *Memory) PutAgreement(a model.Agreement) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agreements = append(m.agreements, a)
}

func (m *Memory) GetAgreements(ctx context.Context, filter AgreementFilter) ([]model.Agreement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.takeFailure() {
		return nil, errors.Transport("simulated indexer outage", nil)
	}
	var out []model.Agreement
	for _, a := range m.agreements {
		if filter.ProviderAddress != "" && !a.ProviderAddress.Equal(filter.ProviderAddress) {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		if filter.ID != 0 && a.ID != filter.ID {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (m *Memory) GetEvents(ctx context.Context, filter EventFilter) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.takeFailure() {
		return nil, errors.Transport("simulated indexer outage", nil)
	}
	var out []Event
	for _, e := range m.events {
		if filter.EventName != "" && e.Name != filter.EventName {
			continue
		}
		if e.BlockNumber < filter.FromBlock || (filter.ToBlock != 0 && e.BlockNumber > filter.ToBlock) {
			continue
		}
		out = append(out, e)
	}
	SortEvents(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *Memory) IsHealthy(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Healthy
}

func (m *Memory) takeFailure() bool {
	if m.FailNext {
		m.FailNext = false
		return true
	}
	return false
}

var _ Client = (*Memory)(nil)
