// Package chainclient defines the ChainClient interface the daemon consumes
// to read provider/offer/agreement records and to close agreements and
// register offers. This package defines the contract, EVM-flavored
// address/signature helpers shared with the request router, RPCClient (an
// implementation talking to a real EVM node), and an in-memory fake used by
// the daemon's own tests.
package chainclient

import (
	"context"
	"math/big"

	"github.com/Forest-Protocols/safe-scan-provider/internal/model"
)

// Client is the typed surface the Provider Runtime, Reconciler, and Balance
// Sweeper consume. Implementations MUST compare addresses case-insensitively.
type Client interface {
	// GetActor resolves a provider by owner address. Returns (nil, nil) if
	// no such provider is registered on-chain.
	GetActor(ctx context.Context, owner model.Address) (*model.Provider, error)

	// GetRegisteredProtocolsOf returns the protocol ids a provider has
	// registered offers under.
	GetRegisteredProtocolsOf(ctx context.Context, providerID int64) ([]int64, error)

	GetOffer(ctx context.Context, offerID int64) (*model.Offer, error)

	GetAgreement(ctx context.Context, agreementID int64) (*model.Agreement, error)

	GetAllProviderOffers(ctx context.Context, providerID int64) ([]model.Offer, error)

	// CloseAgreement submits the on-chain close transaction. The daemon
	// never mutates balances directly; this is its only write.
	CloseAgreement(ctx context.Context, agreementID int64) error

	// RegisterOffer registers a new offer for a virtual provider's owner and
	// returns the assigned on-chain offer id.
	RegisterOffer(ctx context.Context, ownerAddress model.Address, detailsCID string, feePerSecond int64, stock int64) (int64, error)

	// GenerateCID computes the on-chain content identifier for bytes, so the
	// daemon can compare a locally computed CID against detailsLink.
	GenerateCID(content []byte) string

	// CurrentBlock returns the chain's current head block number, used to
	// seed lastProcessedBlock on a fresh daemon (§4.4).
	CurrentBlock(ctx context.Context) (uint64, error)
}

// FeeFromPerSecond renders a per-second fee as a *big.Int, matching the
// on-chain integer representation (wei-per-second style units).
func FeeFromPerSecond(feePerSecond int64) *big.Int {
	return big.NewInt(feePerSecond)
}
