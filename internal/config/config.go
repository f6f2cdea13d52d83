// Package config loads the daemon's environment-driven configuration:
// daemon-scoped settings via envdecode struct tags, and per-provider <tag>
// scoped settings discovered by scanning os.Environ() (the set of tags is
// only known at runtime, so struct tags cannot name them).
package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Daemon holds the daemon-scoped configuration, decoded via envdecode.
type Daemon struct {
	DatabaseURL      string `env:"DATABASE_URL,required"`
	RPCHost          string `env:"RPC_HOST,required"`
	IndexerEndpoint  string `env:"INDEXER_ENDPOINT,required"`
	LogLevel         string `env:"LOG_LEVEL,default=debug"`
	LogFormat        string `env:"LOG_FORMAT,default=text"`
	NodeEnv          string `env:"NODE_ENV,default=dev"`
	Chain            string `env:"CHAIN,default=anvil"`
	Port             int    `env:"PORT,default=3000"`
	MetricsPort      int    `env:"METRICS_PORT,default=9090"`
	RateLimit        int    `env:"RATE_LIMIT,default=20"`
	RateLimitWindow  string `env:"RATE_LIMIT_WINDOW,default=1s"`
	RegistryAddress  string `env:"REGISTRY_ADDRESS"`
	AgreementCheckInterval        string `env:"AGREEMENT_CHECK_INTERVAL,default=5s"`
	AgreementBalanceCheckInterval string `env:"AGREEMENT_BALANCE_CHECK_INTERVAL,default=5m"`
	BlockProcessRange             int    `env:"BLOCK_PROCESS_RANGE,default=1000"`
	SweepSchedule    string `env:"SWEEP_SCHEDULE"`
	ShutdownGrace    string `env:"SHUTDOWN_GRACE,default=10s"`
}

var validChains = map[string]bool{
	"anvil": true, "optimism": true, "optimism-sepolia": true, "base": true, "base-sepolia": true,
}

var validLogLevels = map[string]bool{"error": true, "warning": true, "info": true, "debug": true}

// Load reads a .env file if present (development convenience; absence is not
// an error), then decodes the daemon-scoped struct and validates enums.
func Load() (*Daemon, error) {
	_ = godotenv.Load() // optional; NODE_ENV=dev local convenience, never required

	var d Daemon
	if err := envdecode.StrictDecode(&d); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if !validChains[d.Chain] {
		return nil, fmt.Errorf("config: CHAIN %q is not one of anvil, optimism, optimism-sepolia, base, base-sepolia", d.Chain)
	}
	if !validLogLevels[d.LogLevel] {
		return nil, fmt.Errorf("config: LOG_LEVEL %q is not one of error, warning, info, debug", d.LogLevel)
	}
	if d.NodeEnv != "dev" && d.NodeEnv != "production" {
		return nil, fmt.Errorf("config: NODE_ENV %q is not one of dev, production", d.NodeEnv)
	}
	return &d, nil
}

// ParseDuration parses the daemon's "<number>[s|m|h|d]" duration convention.
// time.ParseDuration already understands s/m/h; "d" (days) is handled here.
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("config: empty duration")
	}
	if strings.HasSuffix(raw, "d") {
		numPart := strings.TrimSuffix(raw, "d")
		days, err := strconv.ParseFloat(numPart, 64)
		if err != nil {
			return 0, fmt.Errorf("config: invalid duration %q: %w", raw, err)
		}
		return time.Duration(days * 24 * float64(time.Hour)), nil
	}
	return time.ParseDuration(raw)
}

// ProviderScope holds the per-provider <tag>-scoped configuration variables.
type ProviderScope struct {
	Tag                string
	ProviderPrivateKey string
	BillingPrivateKey  string
	OperatorPrivateKey string
	OperatorPipePort   int
	ProtocolAddress    string // optional
	Gateway            bool
}

var tagVarPattern = regexp.MustCompile(`^OPERATOR_PIPE_PORT_([A-Za-z0-9]+)$`)

// DiscoverProviderScopes scans the process environment for every <tag> that
// has an OPERATOR_PIPE_PORT_<tag> variable (the one variable required by
// every provider scope) and assembles the full per-tag scope, reading the
// remaining PROVIDER_PRIVATE_KEY_<tag> / BILLING_PRIVATE_KEY_<tag> /
// OPERATOR_PRIVATE_KEY_<tag> / PROTOCOL_ADDRESS_<tag> / GATEWAY_<tag> vars.
// Tags are returned in sorted order for deterministic startup logging.
func DiscoverProviderScopes(environ []string) ([]ProviderScope, error) {
	tags := map[string]bool{}
	for _, kv := range environ {
		key, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if m := tagVarPattern.FindStringSubmatch(key); m != nil {
			tags[m[1]] = true
		}
	}

	sorted := make([]string, 0, len(tags))
	for tag := range tags {
		sorted = append(sorted, tag)
	}
	sort.Strings(sorted)

	scopes := make([]ProviderScope, 0, len(sorted))
	for _, tag := range sorted {
		scope := ProviderScope{
			Tag:                tag,
			ProviderPrivateKey: os.Getenv("PROVIDER_PRIVATE_KEY_" + tag),
			BillingPrivateKey:  os.Getenv("BILLING_PRIVATE_KEY_" + tag),
			OperatorPrivateKey: os.Getenv("OPERATOR_PRIVATE_KEY_" + tag),
			ProtocolAddress:    os.Getenv("PROTOCOL_ADDRESS_" + tag),
		}
		if scope.ProviderPrivateKey == "" || scope.BillingPrivateKey == "" || scope.OperatorPrivateKey == "" {
			return nil, fmt.Errorf("config: provider scope %q missing one of PROVIDER_PRIVATE_KEY/BILLING_PRIVATE_KEY/OPERATOR_PRIVATE_KEY", tag)
		}
		portRaw := os.Getenv("OPERATOR_PIPE_PORT_" + tag)
		port, err := strconv.Atoi(portRaw)
		if err != nil || port <= 0 {
			return nil, fmt.Errorf("config: provider scope %q has invalid OPERATOR_PIPE_PORT_%s=%q", tag, tag, portRaw)
		}
		scope.OperatorPipePort = port

		if raw := os.Getenv("GATEWAY_" + tag); raw != "" {
			gw, err := strconv.ParseBool(raw)
			if err != nil {
				return nil, fmt.Errorf("config: provider scope %q has invalid GATEWAY_%s=%q", tag, tag, raw)
			}
			scope.Gateway = gw
		}
		scopes = append(scopes, scope)
	}
	return scopes, nil
}
