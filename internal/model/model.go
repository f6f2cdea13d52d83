// Package model holds the daemon's data model: the on-chain-mirrored types
// (Protocol, Provider, Offer, Agreement) and the daemon's local projections
// (Resource, detail blobs, virtual-provider offer configuration, config kv).
package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Address is a 20-byte on-chain address, compared case-insensitively
// everywhere in the daemon. Construct via NewAddress; String() always
// returns the lowercased form so a single normalization point exists.
type Address string

// NewAddress normalizes raw into the daemon's canonical lowercase form.
func NewAddress(raw string) Address {
	return Address(strings.ToLower(strings.TrimSpace(raw)))
}

// Equal reports whether two addresses refer to the same account,
// case-insensitively.
func (a Address) Equal(b Address) bool {
	return strings.EqualFold(string(a), string(b))
}

func (a Address) String() string { return string(a) }

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool { return a == "" }

// DeploymentStatus is the Resource lifecycle state.
type DeploymentStatus string

const (
	StatusDeploying DeploymentStatus = "Deploying"
	StatusRunning   DeploymentStatus = "Running"
	StatusFailed    DeploymentStatus = "Failed"
	StatusClosed    DeploymentStatus = "Closed"
)

// AgreementStatus mirrors the on-chain agreement lifecycle flag.
type AgreementStatus string

const (
	AgreementActive    AgreementStatus = "Active"
	AgreementNotActive AgreementStatus = "NotActive"
)

// Protocol is an on-chain contract namespace. Stable once created; created on
// first reference by the reconciler or provider runtime.
type Protocol struct {
	ID         int64
	Address    Address
	DetailsCID string
}

// Provider is a participant identity: a physical provider, or a virtual
// provider (vPROV) delegated under a gateway's operator identity.
type Provider struct {
	ID                int64
	OwnerAddress      Address
	OperatorAddress   Address
	Endpoint          string // externally reachable base URL; compared for vPROV/gateway equality
	IsVirtual         bool
	GatewayProviderID *int64
	DetailsCID        string
}

// Offer is an on-chain item registered by a provider within a protocol.
type Offer struct {
	ID         int64
	OwnerAddress Address
	ProtocolID int64
	FeePerSecond int64
	Stock      int64
	DetailsCID string
}

// Agreement is an on-chain instance of a user purchasing an offer.
type Agreement struct {
	ID           int64
	ProtocolID   int64
	UserAddress  Address
	ProviderAddress Address
	OfferID      int64
	Balance      int64
	Status       AgreementStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Details is a free-form detail map. Keys beginning with "_" are private and
// MUST be stripped by any handler that returns details to a requester.
type Details map[string]any

// PublicView returns a copy of d with private ("_"-prefixed) keys removed.
func (d Details) PublicView() Details {
	out := make(Details, len(d))
	for k, v := range d {
		if strings.HasPrefix(k, "_") {
			continue
		}
		out[k] = v
	}
	return out
}

// Clone returns a deep-enough copy for safe mutation (values are not
// recursively cloned; details values are expected to be JSON-marshalable
// scalars/maps/slices treated as immutable once stored).
func (d Details) Clone() Details {
	out := make(Details, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// MarshalForStorage renders details as canonical JSON for the store layer.
func (d Details) MarshalForStorage() ([]byte, error) {
	if d == nil {
		d = Details{}
	}
	return json.Marshal(d)
}

// Resource is the daemon's local projection of an active agreement.
// Primary key is (ID, ProtocolID) since agreement ids are only unique within
// a protocol's namespace.
type Resource struct {
	ID               int64
	ProtocolID       int64
	Name             string
	OwnerAddress     Address
	OfferID          int64
	ProviderID       int64
	GroupName        string
	DeploymentStatus DeploymentStatus
	Details          Details
	IsActive         bool
	CreatedAt        time.Time
}

// DetailBlob is a deduped, content-addressed metadata blob.
type DetailBlob struct {
	CID     string
	Content []byte
}

// VirtualProviderOfferConfig is a JSON blob per (OfferID, ProtocolID) owned
// by a gateway provider; schema is contributed by the concrete ServiceBackend.
type VirtualProviderOfferConfig struct {
	ID            int64
	OfferID       int64
	ProtocolID    int64
	Configuration json.RawMessage
}

// ConfigEntry is a daemon-scoped key/value pair, notably LAST_PROCESSED_BLOCK.
type ConfigEntry struct {
	Key   string
	Value string
}

const ConfigKeyLastProcessedBlock = "LAST_PROCESSED_BLOCK"

// EventName enumerates the indexer event types the reconciler understands.
type EventName string

const (
	EventAgreementCreated EventName = "AgreementCreated"
	EventAgreementClosed  EventName = "AgreementClosed"
)

// ConfigField describes one field of a backend-declared virtual-provider
// offer configuration schema, per spec §4.6 GET /virtual-provider-configurations.
type ConfigField struct {
	Example     any    `json:"example,omitempty"`
	Format      string `json:"format,omitempty"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
	Default     any    `json:"default,omitempty"`
}
