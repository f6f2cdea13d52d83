// Package echo is a reference ServiceBackend that records whatever detail
// fields it is handed and transitions Deploying→Running after a configurable
// number of polls. It is not a real service backend; it exists to exercise
// the provider runtime, reconciler, and resource watcher in tests and local
// operation, the way the distilled specification's own "Example_Detail"
// end-to-end scenario (spec §8, scenario 3) implies a trivial backend.
package echo

import (
	"context"
	"sync"

	"github.com/Forest-Protocols/safe-scan-provider/internal/backend"
	"github.com/Forest-Protocols/safe-scan-provider/internal/model"
)

// Backend is the reference ServiceBackend.
type Backend struct {
	// PollsUntilRunning is how many GetDetails calls a resource takes to
	// reach Running after Create. Zero means Create itself returns Running.
	PollsUntilRunning int

	mu    sync.Mutex
	polls map[int64]int // agreement id -> polls observed so far
}

// New builds an echo backend that takes pollsUntilRunning GetDetails calls
// to reach Running.
func New(pollsUntilRunning int) *Backend {
	return &Backend{PollsUntilRunning: pollsUntilRunning, polls: make(map[int64]int)}
}

func (b *Backend) Init(ctx context.Context) error { return nil }

func (b *Backend) Create(ctx context.Context, agreement model.Agreement, offer backend.DetailedOffer) (backend.ResourceDetails, error) {
	status := model.StatusRunning
	if b.PollsUntilRunning > 0 {
		status = model.StatusDeploying
	}
	return backend.ResourceDetails{
		Status: status,
		Details: model.Details{
			"echo_offer_id": offer.Offer.ID,
		},
	}, nil
}

func (b *Backend) GetDetails(ctx context.Context, agreement model.Agreement, offer backend.DetailedOffer, resource model.Resource) (backend.ResourceDetails, error) {
	b.mu.Lock()
	b.polls[agreement.ID]++
	count := b.polls[agreement.ID]
	b.mu.Unlock()

	status := model.StatusDeploying
	if count >= b.PollsUntilRunning {
		status = model.StatusRunning
	}
	details := resource.Details.Clone()
	details["echo_polls"] = count
	return backend.ResourceDetails{Status: status, Details: details}, nil
}

func (b *Backend) Delete(ctx context.Context, agreement model.Agreement, offer backend.DetailedOffer, resource model.Resource) error {
	b.mu.Lock()
	delete(b.polls, agreement.ID)
	b.mu.Unlock()
	return nil
}

// ConfigurationSchema implements backend.GatewayConfigProvider so the
// virtual-provider configuration routes (spec §4.6) have something to
// exercise even with the reference backend.
func (b *Backend) ConfigurationSchema() map[string]model.ConfigField {
	return map[string]model.ConfigField{
		"note": {Example: "hello", Format: "string", Description: "free-form operator note", Required: false, Default: ""},
	}
}

var (
	_ backend.ServiceBackend         = (*Backend)(nil)
	_ backend.GatewayConfigProvider  = (*Backend)(nil)
)
