// Package sweeper implements C9, the Balance Sweeper: a periodic scan of
// active agreements that force-closes any whose on-chain balance has
// dropped to zero or below (spec §4.8).
package sweeper

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/Forest-Protocols/safe-scan-provider/internal/chainclient"
	"github.com/Forest-Protocols/safe-scan-provider/internal/errors"
	"github.com/Forest-Protocols/safe-scan-provider/internal/indexerclient"
	"github.com/Forest-Protocols/safe-scan-provider/internal/model"
	"github.com/Forest-Protocols/safe-scan-provider/internal/runtime"
)

// DefaultInterval is used when no cron schedule is configured.
const DefaultInterval = 5 * time.Minute

// Sweeper periodically force-closes agreements with a depleted balance,
// scoped to the providers (and their virtual children) this daemon runs —
// never the whole protocol (spec §4.8 step 1).
type Sweeper struct {
	ProtocolAddress model.Address
	Runtimes        []*runtime.Runtime
	Indexer         *indexerclient.HealthGuard
	Chain           chainclient.Client
	Log             *logrus.Entry

	// Schedule, if non-nil, overrides Interval with a cron expression
	// (config SWEEP_SCHEDULE), parsed with robfig/cron's standard parser.
	Schedule cron.Schedule
	Interval time.Duration

	stop chan struct{}
	done chan struct{}
}

// New builds a Sweeper over runtimes (this daemon's own providers and their
// virtual children for protocolAddress). schedule may be empty to use
// Interval (or DefaultInterval if Interval is zero).
func New(protocolAddress model.Address, runtimes []*runtime.Runtime, idx *indexerclient.HealthGuard, chain chainclient.Client, schedule string, interval time.Duration, log *logrus.Entry) (*Sweeper, error) {
	s := &Sweeper{
		ProtocolAddress: protocolAddress,
		Runtimes:        runtimes,
		Indexer:         idx,
		Chain:           chain,
		Log:             log,
		Interval:        interval,
	}
	if s.Interval <= 0 {
		s.Interval = DefaultInterval
	}
	if schedule != "" {
		parsed, err := cron.ParseStandard(schedule)
		if err != nil {
			return nil, errors.Validation("SWEEP_SCHEDULE", "invalid cron expression: "+err.Error())
		}
		s.Schedule = parsed
	}
	return s, nil
}

func (s *Sweeper) Name() string { return "balance-sweeper" }

func (s *Sweeper) Start(ctx context.Context) error {
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		for {
			wait := s.nextWait()
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-time.After(wait):
			}

			if err := s.tick(ctx); err != nil && !errors.IsTermination(err) {
				s.Log.WithError(err).Warn("balance sweeper tick failed")
			}
		}
	}()
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	if s.stop == nil {
		return nil
	}
	close(s.stop)
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) nextWait() time.Duration {
	if s.Schedule == nil {
		return s.Interval
	}
	d := time.Until(s.Schedule.Next(time.Now()))
	if d <= 0 {
		return time.Second
	}
	return d
}

// tick scans every active agreement belonging to this daemon's own providers
// and their virtual children (spec §4.8 step 1 — never the whole protocol)
// and force-closes any with balance <= 0. Agreements already seen this tick
// are skipped (the §9 open-question resolution: per-tick dedup is an
// optimization against the indexer returning an agreement more than once
// across providers or pages, not a correctness requirement — CloseAgreement
// is itself idempotent on-chain).
func (s *Sweeper) tick(ctx context.Context) error {
	var agreements []model.Agreement
	for _, rt := range s.Runtimes {
		for _, addr := range rt.ProviderAddresses() {
			fetched, err := s.Indexer.Client().GetAgreements(ctx, indexerclient.AgreementFilter{
				ProtocolAddress: s.ProtocolAddress,
				ProviderAddress: addr,
				Status:          model.AgreementActive,
				AutoPaginate:    true,
			})
			if err != nil {
				s.Indexer.ObserveTransportError(ctx)
				return errors.Transport("list active agreements", err)
			}
			agreements = append(agreements, fetched...)
		}
	}
	s.Indexer.ObserveSuccess()

	seen := make(map[int64]bool, len(agreements))
	for _, a := range agreements {
		if seen[a.ID] {
			continue
		}
		seen[a.ID] = true

		if a.Balance > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return errors.Termination(ctx.Err())
		default:
		}
		if err := s.Chain.CloseAgreement(ctx, a.ID); err != nil {
			s.Log.WithError(err).WithField("agreementId", a.ID).Warn("failed to force-close depleted agreement")
			continue
		}
		s.Log.WithField("agreementId", a.ID).Info("force-closed agreement with depleted balance")
	}
	return nil
}
