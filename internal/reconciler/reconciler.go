// Package reconciler implements C7: the block-window event ingestor that
// turns on-chain AgreementCreated/AgreementClosed events into local resource
// rows and ServiceBackend calls (spec §4.4).
package reconciler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Forest-Protocols/safe-scan-provider/internal/backend"
	"github.com/Forest-Protocols/safe-scan-provider/internal/chainclient"
	"github.com/Forest-Protocols/safe-scan-provider/internal/detailregistry"
	"github.com/Forest-Protocols/safe-scan-provider/internal/errors"
	"github.com/Forest-Protocols/safe-scan-provider/internal/indexerclient"
	"github.com/Forest-Protocols/safe-scan-provider/internal/lifecycle"
	"github.com/Forest-Protocols/safe-scan-provider/internal/model"
	"github.com/Forest-Protocols/safe-scan-provider/internal/runtime"
	"github.com/Forest-Protocols/safe-scan-provider/internal/store"
)

// RuntimeSet resolves which Runtime (and therefore which actor/backend) owns
// an event's on-chain providerAddress. A protocol may host several physical
// providers, each possibly fronting virtual children.
type RuntimeSet []*runtime.Runtime

// Resolve returns the runtime whose provider or virtual children own addr.
func (s RuntimeSet) Resolve(addr model.Address) (*runtime.Runtime, model.Provider, bool) {
	for _, rt := range s {
		if actor, ok := rt.ResolveActor(addr); ok {
			return rt, actor, true
		}
	}
	return nil, model.Provider{}, false
}

// RuntimeFor returns the runtime owning providerID, whether that id is the
// runtime's own physical provider or one of its virtual children.
func (s RuntimeSet) RuntimeFor(providerID int64) (*runtime.Runtime, bool) {
	for _, rt := range s {
		for _, id := range rt.ProviderIDs() {
			if id == providerID {
				return rt, true
			}
		}
	}
	return nil, false
}

// Reconciler is a single protocol's event-ingestion loop.
type Reconciler struct {
	ProtocolAddress model.Address
	ProtocolID      int64
	Runtimes        RuntimeSet

	Store    store.Store
	Chain    chainclient.Client
	Indexer  *indexerclient.HealthGuard
	Registry *detailregistry.Registry
	Interval time.Duration

	// BlockRange caps how many blocks one tick processes (BLOCK_PROCESS_RANGE),
	// so a long-idle daemon catches up in bounded steps instead of one huge
	// indexer query. Non-positive falls back to a sane default.
	BlockRange int

	log *zap.Logger

	stop chan struct{}
	done chan struct{}
}

// New constructs a Reconciler. interval is the tick cadence between
// ingestion passes (spec §4.4 says "periodically").
func New(protocolAddress model.Address, protocolID int64, runtimes RuntimeSet, st store.Store, chain chainclient.Client, idx *indexerclient.HealthGuard, registry *detailregistry.Registry, interval time.Duration, log *zap.Logger) *Reconciler {
	return &Reconciler{
		ProtocolAddress: protocolAddress,
		ProtocolID:      protocolID,
		Runtimes:        runtimes,
		Store:           st,
		Chain:           chain,
		Indexer:         idx,
		Registry:        registry,
		Interval:        interval,
		log:             log,
	}
}

func (r *Reconciler) Name() string { return fmt.Sprintf("reconciler[%s]", r.ProtocolAddress) }

// Start runs the ingestion loop until ctx is cancelled or Stop is called.
func (r *Reconciler) Start(ctx context.Context) error {
	r.stop = make(chan struct{})
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.Interval)
		defer ticker.Stop()

		for {
			if err := r.tick(ctx); err != nil && !errors.IsTermination(err) {
				r.log.Warn("reconciler tick failed", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			case <-ticker.C:
			}
		}
	}()
	return nil
}

// Stop signals the loop to exit and waits for it to finish, bounded by ctx.
func (r *Reconciler) Stop(ctx context.Context) error {
	if r.stop == nil {
		return nil
	}
	close(r.stop)
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tick runs one block-window ingestion pass: resolve the window, fetch
// events ordered by (BlockNumber, LogIndex), apply each idempotently, then
// advance the cursor only if the whole window succeeded (spec §4.4/§9).
func (r *Reconciler) tick(ctx context.Context) error {
	current, err := r.Chain.CurrentBlock(ctx)
	if err != nil {
		r.Indexer.ObserveTransportError(ctx)
		return errors.Transport("read current block", err)
	}

	from, err := r.cursor(ctx, current)
	if err != nil {
		return err
	}
	if from > current {
		return nil // nothing new
	}

	blockRange := lifecycle.ClampLimit(r.BlockRange, 1000, 5000)
	to := from + uint64(blockRange) - 1
	if to > current {
		to = current
	}

	events, err := r.fetchEvents(ctx, from, to)
	if err != nil {
		r.Indexer.ObserveTransportError(ctx)
		return err
	}
	r.Indexer.ObserveSuccess()

	indexerclient.SortEvents(events)
	for _, ev := range events {
		select {
		case <-ctx.Done():
			return errors.Termination(ctx.Err())
		default:
		}
		if err := r.apply(ctx, ev); err != nil {
			r.log.Error("failed to apply event, window will not advance past it",
				zap.String("event", string(ev.Name)), zap.Int64("agreementId", ev.AgreementID), zap.Error(err))
			return err
		}
	}

	return r.Store.SetConfig(ctx, model.ConfigKeyLastProcessedBlock, fmt.Sprint(to))
}

func (r *Reconciler) cursor(ctx context.Context, current uint64) (uint64, error) {
	raw, ok, err := r.Store.GetConfig(ctx, model.ConfigKeyLastProcessedBlock)
	if err != nil {
		return 0, err
	}
	if !ok {
		// Fresh daemon: seed the cursor at the chain head rather than replaying
		// history (spec §4.4 "seed lastProcessedBlock on a fresh daemon").
		return current + 1, r.Store.SetConfig(ctx, model.ConfigKeyLastProcessedBlock, fmt.Sprint(current))
	}
	var last uint64
	if _, err := fmt.Sscanf(raw, "%d", &last); err != nil {
		return 0, errors.Domain("parse stored cursor", err)
	}
	return last + 1, nil
}

func (r *Reconciler) fetchEvents(ctx context.Context, from, to uint64) ([]indexerclient.Event, error) {
	var all []indexerclient.Event
	retryPolicy := lifecycle.RetryPolicy{Attempts: 3, InitialBackoff: 200 * time.Millisecond, MaxBackoff: 2 * time.Second, Multiplier: 2}
	for _, name := range []model.EventName{model.EventAgreementCreated, model.EventAgreementClosed} {
		var evs []indexerclient.Event
		err := lifecycle.Retry(ctx, retryPolicy, func() error {
			fetched, err := r.Indexer.Client().GetEvents(ctx, indexerclient.EventFilter{
				ContractAddress: r.ProtocolAddress,
				EventName:       name,
				FromBlock:       from,
				ToBlock:         to,
			})
			if err != nil {
				return err
			}
			evs = fetched
			return nil
		})
		if err != nil {
			return nil, err
		}
		all = append(all, evs...)
	}
	return all, nil
}

func (r *Reconciler) apply(ctx context.Context, ev indexerclient.Event) error {
	switch ev.Name {
	case model.EventAgreementCreated:
		return r.applyCreated(ctx, ev)
	case model.EventAgreementClosed:
		return r.applyClosed(ctx, ev)
	default:
		r.log.Warn("ignoring unknown event name", zap.String("name", string(ev.Name)))
		return nil
	}
}

// applyCreated implements spec §4.4.1. It is idempotent: if a resource row
// already exists for this agreement, Create is never called again.
func (r *Reconciler) applyCreated(ctx context.Context, ev indexerclient.Event) error {
	exists, err := r.Store.ResourceExists(ctx, ev.AgreementID, r.ProtocolID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	rt, actor, ok := r.Runtimes.Resolve(ev.ProviderAddr)
	if !ok {
		r.log.Debug("event provider is not one of ours, ignoring",
			zap.String("providerAddr", ev.ProviderAddr.String()))
		return nil
	}

	agreement, err := r.Chain.GetAgreement(ctx, ev.AgreementID)
	if err != nil {
		return errors.Transport("load agreement", err)
	}
	offer, err := r.Chain.GetOffer(ctx, ev.OfferID)
	if err != nil {
		return errors.Transport("load offer", err)
	}
	detailBytes, err := r.Registry.Get(ctx, offer.DetailsCID)
	if err != nil {
		r.log.Warn("offer detailsLink unresolved, creating without offer details",
			zap.Int64("offerId", offer.ID), zap.Error(err))
		detailBytes = nil
	}

	result, err := rt.Create(ctx, *agreement, backend.DetailedOffer{Offer: *offer, DetailsBytes: detailBytes})
	if err != nil {
		r.log.Error("backend create failed, persisting Failed resource",
			zap.Int64("agreementId", ev.AgreementID), zap.Error(err))
		return r.Store.CreateResource(ctx, model.Resource{
			ID:               ev.AgreementID,
			ProtocolID:       r.ProtocolID,
			Name:             fmt.Sprintf("resource-%d", ev.AgreementID),
			OwnerAddress:     ev.UserAddr,
			OfferID:          ev.OfferID,
			ProviderID:       actor.ID,
			GroupName:        "default",
			DeploymentStatus: model.StatusFailed,
			Details:          model.Details{},
			IsActive:         true,
		})
	}

	name := result.Name
	if name == "" {
		name = fmt.Sprintf("resource-%d", ev.AgreementID)
	}
	return r.Store.CreateResource(ctx, model.Resource{
		ID:               ev.AgreementID,
		ProtocolID:       r.ProtocolID,
		Name:             name,
		OwnerAddress:     ev.UserAddr,
		OfferID:          ev.OfferID,
		ProviderID:       actor.ID,
		GroupName:        "default",
		DeploymentStatus: result.Status,
		Details:          result.Details,
		IsActive:         true,
	})
}

// applyClosed implements spec §4.4.2. Idempotent: a missing or already
// inactive resource is a no-op.
func (r *Reconciler) applyClosed(ctx context.Context, ev indexerclient.Event) error {
	resource, err := r.Store.GetResourceByID(ctx, ev.AgreementID, r.ProtocolID)
	if err != nil {
		return err
	}
	if resource == nil || !resource.IsActive {
		return nil
	}

	rt, _, ok := r.Runtimes.Resolve(ev.ProviderAddr)
	if !ok {
		r.log.Warn("closing resource for unresolvable provider, marking inactive without backend delete",
			zap.Int64("agreementId", ev.AgreementID))
		return r.Store.DeleteResource(ctx, ev.AgreementID, r.ProtocolID)
	}

	agreement, err := r.Chain.GetAgreement(ctx, ev.AgreementID)
	if err != nil {
		return errors.Transport("load agreement", err)
	}
	offer, err := r.Chain.GetOffer(ctx, resource.OfferID)
	if err != nil {
		return errors.Transport("load offer", err)
	}
	detailBytes, err := r.Registry.Get(ctx, offer.DetailsCID)
	if err != nil {
		r.log.Warn("offer detailsLink unresolved, deleting without offer details",
			zap.Int64("offerId", offer.ID), zap.Error(err))
		detailBytes = nil
	}

	if err := rt.Delete(ctx, *agreement, backend.DetailedOffer{Offer: *offer, DetailsBytes: detailBytes}, *resource); err != nil {
		r.log.Error("backend delete failed, closing resource anyway",
			zap.Int64("agreementId", ev.AgreementID), zap.Error(err))
	}
	return r.Store.DeleteResource(ctx, ev.AgreementID, r.ProtocolID)
}
