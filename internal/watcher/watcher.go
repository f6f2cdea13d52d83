// Package watcher implements C8, the Resource Watcher: one cooperative
// polling task per not-yet-Running resource (cancellable ticker, bounded
// shutdown wait).
package watcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Forest-Protocols/safe-scan-provider/internal/backend"
	"github.com/Forest-Protocols/safe-scan-provider/internal/chainclient"
	"github.com/Forest-Protocols/safe-scan-provider/internal/detailregistry"
	"github.com/Forest-Protocols/safe-scan-provider/internal/errors"
	"github.com/Forest-Protocols/safe-scan-provider/internal/lifecycle"
	"github.com/Forest-Protocols/safe-scan-provider/internal/model"
	"github.com/Forest-Protocols/safe-scan-provider/internal/reconciler"
	"github.com/Forest-Protocols/safe-scan-provider/internal/runtime"
	"github.com/Forest-Protocols/safe-scan-provider/internal/store"
)

// PollInterval is the cadence between GetDetails calls for a deploying
// resource (spec §4.7).
const PollInterval = 5 * time.Second

// ScanInterval is how often the watcher looks for newly deploying resources
// that do not yet have a poll goroutine.
const ScanInterval = 10 * time.Second

// Watcher discovers resources in DeploymentStatus Deploying and polls each
// one's backend until it reaches Running, or becomes inactive/missing.
type Watcher struct {
	Store    store.Store
	Chain    chainclient.Client
	Registry *detailregistry.Registry
	Runtimes reconciler.RuntimeSet
	Log      *logrus.Entry

	mu      sync.Mutex
	polling map[resourceKey]context.CancelFunc
	wg      sync.WaitGroup

	stop chan struct{}
	done chan struct{}
}

type resourceKey struct {
	id         int64
	protocolID int64
}

// New builds a Watcher. runtimes is consulted to find the ServiceBackend
// owning each resource's provider.
func New(st store.Store, chain chainclient.Client, registry *detailregistry.Registry, runtimes reconciler.RuntimeSet, log *logrus.Entry) *Watcher {
	return &Watcher{
		Store:    st,
		Chain:    chain,
		Registry: registry,
		Runtimes: runtimes,
		Log:      log,
		polling:  make(map[resourceKey]context.CancelFunc),
	}
}

func (w *Watcher) Name() string { return "resource-watcher" }

// Start runs the scan loop until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.stop = make(chan struct{})
	w.done = make(chan struct{})

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(ScanInterval)
		defer ticker.Stop()

		w.scan(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stop:
				return
			case <-ticker.C:
				w.scan(ctx)
			}
		}
	}()
	return nil
}

// Stop cancels every in-flight poll and waits for them to exit, bounded by
// ctx's deadline.
func (w *Watcher) Stop(ctx context.Context) error {
	if w.stop == nil {
		return nil
	}
	close(w.stop)

	w.mu.Lock()
	for _, cancel := range w.polling {
		cancel()
	}
	w.mu.Unlock()

	waited := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(waited)
	}()

	select {
	case <-w.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Watcher) scan(ctx context.Context) {
	resources, err := w.Store.ListResourcesByStatus(ctx, model.StatusDeploying)
	if err != nil {
		w.Log.WithError(err).Warn("resource watcher: failed to list resources")
		return
	}
	for _, res := range resources {
		rt, ok := w.Runtimes.RuntimeFor(res.ProviderID)
		if !ok {
			continue
		}
		w.ensurePolling(ctx, rt, res)
	}
}

func (w *Watcher) ensurePolling(ctx context.Context, rt *runtime.Runtime, res model.Resource) {
	key := resourceKey{id: res.ID, protocolID: res.ProtocolID}

	w.mu.Lock()
	_, already := w.polling[key]
	if already {
		w.mu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	w.polling[key] = cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			w.mu.Lock()
			delete(w.polling, key)
			w.mu.Unlock()
		}()
		w.poll(pollCtx, rt, key)
	}()
}

// observationHooks logs each GetDetails call's outcome and latency at debug
// level, cheap instrumentation for a poll loop that otherwise only logs on
// failure.
func (w *Watcher) observationHooks() lifecycle.ObservationHooks {
	return lifecycle.ObservationHooks{
		OnComplete: func(ctx context.Context, meta map[string]string, err error, d time.Duration) {
			entry := w.Log.WithField("resourceId", meta["resourceId"]).WithField("durationMs", d.Milliseconds())
			if err != nil {
				entry.WithError(err).Debug("resource watcher: getDetails failed")
				return
			}
			entry.Debug("resource watcher: getDetails completed")
		},
	}
}

// poll repeatedly calls GetDetails every PollInterval until the resource
// reaches Running, becomes inactive, or disappears (spec §4.7).
func (w *Watcher) poll(ctx context.Context, rt *runtime.Runtime, key resourceKey) {
	for {
		select {
		case <-time.After(PollInterval):
		case <-ctx.Done():
			return
		}

		res, err := w.Store.GetResourceByID(ctx, key.id, key.protocolID)
		if err != nil {
			w.Log.WithError(err).WithField("resourceId", key.id).Warn("resource watcher: poll lookup failed")
			continue
		}
		if res == nil || !res.IsActive {
			return
		}
		if res.DeploymentStatus != model.StatusDeploying {
			return
		}

		agreement, err := w.Chain.GetAgreement(ctx, key.id)
		if err != nil || agreement == nil {
			w.Log.WithError(err).WithField("resourceId", key.id).Warn("resource watcher: agreement lookup failed")
			continue
		}
		offer, err := w.Chain.GetOffer(ctx, res.OfferID)
		if err != nil || offer == nil {
			w.Log.WithError(err).WithField("resourceId", key.id).Warn("resource watcher: offer lookup failed")
			continue
		}
		detailBytes, err := w.Registry.Get(ctx, offer.DetailsCID)
		if err != nil {
			w.Log.WithError(err).WithField("resourceId", key.id).Warn("resource watcher: detailsLink unresolved")
			continue
		}

		done := lifecycle.StartObservation(ctx, w.observationHooks(), map[string]string{"resourceId": fmt.Sprint(key.id)})
		result, err := rt.GetDetails(ctx, *agreement, backend.DetailedOffer{Offer: *offer, DetailsBytes: detailBytes}, *res)
		done(err)
		if err != nil {
			if errors.IsTermination(err) {
				return
			}
			w.Log.WithError(err).WithField("resourceId", key.id).Warn("resource watcher: GetDetails failed")
			continue
		}

		if err := w.Store.UpdateResource(ctx, key.id, rt.ProtocolAddress, result.Status, result.Details); err != nil {
			w.Log.WithError(err).WithField("resourceId", key.id).Warn("resource watcher: update failed")
			continue
		}
		if result.Status == model.StatusRunning || result.Status == model.StatusFailed {
			return
		}
	}
}
