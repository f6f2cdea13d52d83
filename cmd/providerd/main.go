// Command providerd is the Forest Protocols provider daemon: it reconciles
// on-chain agreements into local resources, drives a ServiceBackend through
// their lifecycle, and serves the operator-pipe request router over HTTP
// and signed messaging (spec §1/§5).
package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"go.uber.org/zap"

	"github.com/Forest-Protocols/safe-scan-provider/internal/backend"
	"github.com/Forest-Protocols/safe-scan-provider/internal/backend/echo"
	"github.com/Forest-Protocols/safe-scan-provider/internal/chainclient"
	"github.com/Forest-Protocols/safe-scan-provider/internal/config"
	"github.com/Forest-Protocols/safe-scan-provider/internal/detailregistry"
	"github.com/Forest-Protocols/safe-scan-provider/internal/indexerclient"
	"github.com/Forest-Protocols/safe-scan-provider/internal/lifecycle"
	"github.com/Forest-Protocols/safe-scan-provider/internal/metrics"
	"github.com/Forest-Protocols/safe-scan-provider/internal/platform/database"
	"github.com/Forest-Protocols/safe-scan-provider/internal/ratelimit"
	"github.com/Forest-Protocols/safe-scan-provider/internal/reconciler"
	"github.com/Forest-Protocols/safe-scan-provider/internal/router"
	"github.com/Forest-Protocols/safe-scan-provider/internal/runtime"
	"github.com/Forest-Protocols/safe-scan-provider/internal/store/postgres"
	"github.com/Forest-Protocols/safe-scan-provider/internal/sweeper"
	"github.com/Forest-Protocols/safe-scan-provider/internal/supervisor"
	"github.com/Forest-Protocols/safe-scan-provider/internal/watcher"
	"github.com/Forest-Protocols/safe-scan-provider/pkg/logger"
)

var chainIDs = map[string]int64{
	"anvil":            31337,
	"optimism":         10,
	"optimism-sepolia": 11155420,
	"base":             8453,
	"base-sepolia":     84532,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "providerd:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New(logger.LoggingConfig{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: "stdout"})
	root := log.WithField("component", "providerd")

	zapLog, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build zap logger: %w", err)
	}
	defer zapLog.Sync()

	audit := zerolog.New(os.Stdout).With().Timestamp().Str("component", "router").Logger()

	db, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	st := postgres.New(db)
	defer st.Close()

	registry := detailregistry.New(st, "data/details")
	if err := registry.SyncFromDisk(ctx); err != nil {
		return fmt.Errorf("sync detail registry: %w", err)
	}

	idx := indexerclient.NewHTTPClient(cfg.IndexerEndpoint)
	idxGuard := indexerclient.NewHealthGuard(idx, root.WithField("component", "indexer"))

	scopes, err := config.DiscoverProviderScopes(os.Environ())
	if err != nil {
		return err
	}
	if len(scopes) == 0 {
		return fmt.Errorf("no provider scopes configured: at least one OPERATOR_PIPE_PORT_<tag> is required")
	}

	chainID, ok := chainIDs[cfg.Chain]
	if !ok {
		return fmt.Errorf("unknown chain %q", cfg.Chain)
	}
	if cfg.RegistryAddress == "" {
		return fmt.Errorf("REGISTRY_ADDRESS is required")
	}

	mgr := lifecycle.NewManager()
	m := metrics.New()

	baseChain, err := chainclient.Dial(ctx, cfg.RPCHost, common.HexToAddress(cfg.RegistryAddress), big.NewInt(chainID), nil)
	if err != nil {
		return fmt.Errorf("dial registry contract: %w", err)
	}

	runtimesByProtocol := map[string]reconciler.RuntimeSet{}

	for _, scope := range scopes {
		scopeLog := root.WithField("providerTag", scope.Tag)

		operatorKey, err := chainclient.LoadPrivateKey(scope.OperatorPrivateKey)
		if err != nil {
			return fmt.Errorf("scope %s: %w", scope.Tag, err)
		}
		providerKey, err := chainclient.LoadPrivateKey(scope.ProviderPrivateKey)
		if err != nil {
			return fmt.Errorf("scope %s: %w", scope.Tag, err)
		}
		ownerAddr := chainclient.AddressOf(providerKey)

		protocolAddr, err := chainclient.NormalizeAddress(scope.ProtocolAddress)
		if err != nil {
			return fmt.Errorf("scope %s: PROTOCOL_ADDRESS_%s: %w", scope.Tag, scope.Tag, err)
		}

		chain := baseChain.WithSigner(operatorKey)

		rt, err := runtime.New(ctx, ownerAddr, protocolAddr, runtime.Deps{
			Store:    st,
			Chain:    chain,
			Registry: registry,
			Backend:  echo.New(3),
			Log:      scopeLog,
		})
		if err != nil {
			return fmt.Errorf("scope %s: %w", scope.Tag, err)
		}
		if scope.Gateway {
			rt.LoadVirtualChildren(ctx)
		}
		if err := rt.Backend.Init(ctx); err != nil {
			return fmt.Errorf("scope %s: backend init: %w", scope.Tag, err)
		}

		rl := ratelimit.New(ratelimit.Config{RequestsPerWindow: cfg.RateLimit, Window: mustDuration(cfg.RateLimitWindow)})
		rtr := router.New(rl, audit, m)
		router.RegisterOperatorRoutes(rtr, rt, st, registry, "data")
		if scope.Gateway {
			router.RegisterGatewayRoutes(rtr, rt, st, chain, registry)
		}
		if extender, ok := rt.Backend.(backend.RequestRouterExtender); ok {
			extender.RegisterRoutes(rtr)
		}

		listener := router.NewListener(fmt.Sprintf(":%d", scope.OperatorPipePort), rtr, scopeLog)
		if err := mgr.Register(listener); err != nil {
			return err
		}

		key := protocolAddr.String()
		runtimesByProtocol[key] = append(runtimesByProtocol[key], rt)
	}

	for protoKey, rts := range runtimesByProtocol {
		protocolAddr := rts[0].ProtocolAddress
		protocolID := rts[0].ProtocolID
		protoLog := root.WithField("protocol", protoKey)

		rec := reconciler.New(protocolAddr, protocolID, rts, st, rts[0].Chain(), idxGuard, registry, mustDuration(cfg.AgreementCheckInterval), zapLog)
		rec.BlockRange = cfg.BlockProcessRange
		if err := mgr.Register(rec); err != nil {
			return err
		}

		sw, err := sweeper.New(protocolAddr, rts, idxGuard, rts[0].Chain(), cfg.SweepSchedule, mustDuration(cfg.AgreementBalanceCheckInterval), protoLog)
		if err != nil {
			return err
		}
		if err := mgr.Register(sw); err != nil {
			return err
		}

		var allRuntimes reconciler.RuntimeSet
		for _, protoRts := range runtimesByProtocol {
			allRuntimes = append(allRuntimes, protoRts...)
		}
		w := watcher.New(st, rts[0].Chain(), registry, allRuntimes, protoLog)
		if err := mgr.Register(w); err != nil {
			return err
		}
	}

	if err := mgr.Register(supervisor.New(fmt.Sprintf(":%d", cfg.Port), idxGuard, root)); err != nil {
		return err
	}
	if err := mgr.Register(&supervisor.MetricsServer{Addr: fmt.Sprintf(":%d", cfg.MetricsPort), Handler: m.Handler()}); err != nil {
		return err
	}

	if err := mgr.Start(ctx); err != nil {
		return err
	}
	root.Info("providerd started")

	<-ctx.Done()
	root.Info("shutting down")

	grace := mustDuration(cfg.ShutdownGrace)
	stopCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	return mgr.Stop(stopCtx)
}

func mustDuration(raw string) time.Duration {
	d, err := config.ParseDuration(raw)
	if err != nil {
		return 5 * time.Second
	}
	return d
}
