// Package store defines the daemon's single transactional Store interface
// (spec §6/§9 — one cohesive interface rather than the many small per-domain
// interfaces a larger service layer would split into, since this daemon's
// persisted surface is small: protocols, providers, resources, detail
// blobs, config, and virtual-provider offer configuration) plus a Postgres
// implementation (sqlx + lib/pq) and an in-memory implementation for tests.
package store

import (
	"context"

	"github.com/Forest-Protocols/safe-scan-provider/internal/model"
)

// Store is the daemon's sole persistence surface. All mutating operations
// run in short transactions (§4.1); addresses are compared case-insensitively.
type Store interface {
	// Protocols
	GetOrCreateProtocol(ctx context.Context, address model.Address, detailsCID string) (*model.Protocol, error)
	GetProtocolByAddress(ctx context.Context, address model.Address) (*model.Protocol, error)

	// Providers
	GetProvider(ctx context.Context, id int64) (*model.Provider, error)
	GetProviderByOwner(ctx context.Context, owner model.Address) (*model.Provider, error)
	ListVirtualChildren(ctx context.Context, gatewayProviderID int64) ([]model.Provider, error)
	PutProvider(ctx context.Context, p model.Provider) (*model.Provider, error)

	// Resources
	GetResource(ctx context.Context, id int64, owner model.Address, protocolAddr model.Address) (*model.Resource, error)
	GetResourceByID(ctx context.Context, id int64, protocolID int64) (*model.Resource, error)
	ListResourcesByOwner(ctx context.Context, owner model.Address) ([]model.Resource, error)
	// ListResourcesByStatus returns every active resource in a given
	// deployment status, across all protocols — used by the Resource Watcher
	// to discover newly deploying resources without per-protocol scanning.
	ListResourcesByStatus(ctx context.Context, status model.DeploymentStatus) ([]model.Resource, error)
	CreateResource(ctx context.Context, r model.Resource) error
	// UpdateResource requires the (id, protocolAddr) pair; if the protocol is
	// unknown the update is dropped: no row changes, no error is returned, and
	// nothing is logged.
	UpdateResource(ctx context.Context, id int64, protocolAddr model.Address, status model.DeploymentStatus, details model.Details) error
	// DeleteResource marks inactive, sets status Closed, clears details.
	DeleteResource(ctx context.Context, id int64, protocolID int64) error
	ResourceExists(ctx context.Context, id int64, protocolID int64) (bool, error)

	// Detail blobs
	GetDetailBlob(ctx context.Context, cid string) (*model.DetailBlob, error)
	PutDetailBlob(ctx context.Context, blob model.DetailBlob) error
	// SyncDetailFiles is a single transaction: delete every row whose CID is
	// not in contents, then upsert contents (§4.1 startup-sync law).
	SyncDetailFiles(ctx context.Context, contents []model.DetailBlob) error

	// Config
	GetConfig(ctx context.Context, key string) (string, bool, error)
	SetConfig(ctx context.Context, key, value string) error

	// Virtual-provider offer configuration
	GetOfferConfiguration(ctx context.Context, offerID, protocolID int64) (*model.VirtualProviderOfferConfig, error)
	PutOfferConfiguration(ctx context.Context, cfg model.VirtualProviderOfferConfig) error

	Close() error
}
