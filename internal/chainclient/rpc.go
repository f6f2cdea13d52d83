package chainclient

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/Forest-Protocols/safe-scan-provider/internal/model"
)

// protocolABI is the minimal contract surface the daemon needs (spec §4.2),
// the registry/protocol contract every provider runtime and reconciler
// reads against. A real deployment's full ABI is a superset of this.
const protocolABI = `[
	{"type":"function","name":"getActor","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[
		{"name":"id","type":"uint256"},{"name":"operatorAddress","type":"address"},{"name":"endpoint","type":"string"},
		{"name":"isVirtual","type":"bool"},{"name":"gatewayProviderId","type":"uint256"},{"name":"detailsCid","type":"string"}]},
	{"type":"function","name":"getRegisteredProtocolsOf","stateMutability":"view","inputs":[{"name":"providerId","type":"uint256"}],"outputs":[{"name":"","type":"uint256[]"}]},
	{"type":"function","name":"getOffer","stateMutability":"view","inputs":[{"name":"offerId","type":"uint256"}],"outputs":[
		{"name":"owner","type":"address"},{"name":"protocolId","type":"uint256"},{"name":"feePerSecond","type":"uint256"},
		{"name":"stock","type":"uint256"},{"name":"detailsCid","type":"string"}]},
	{"type":"function","name":"getAgreement","stateMutability":"view","inputs":[{"name":"agreementId","type":"uint256"}],"outputs":[
		{"name":"protocolId","type":"uint256"},{"name":"user","type":"address"},{"name":"provider","type":"address"},
		{"name":"offerId","type":"uint256"},{"name":"balance","type":"uint256"},{"name":"active","type":"bool"}]},
	{"type":"function","name":"getAllProviderOffers","stateMutability":"view","inputs":[{"name":"providerId","type":"uint256"}],"outputs":[{"name":"","type":"uint256[]"}]},
	{"type":"function","name":"closeAgreement","stateMutability":"nonpayable","inputs":[{"name":"agreementId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"registerOffer","stateMutability":"nonpayable","inputs":[
		{"name":"owner","type":"address"},{"name":"detailsCid","type":"string"},{"name":"feePerSecond","type":"uint256"},{"name":"stock","type":"uint256"}],
		"outputs":[{"name":"offerId","type":"uint256"}]}
]`

// RPCClient is the reference on-chain Client implementation: it wraps
// go-ethereum's ethclient over a bound contract instance, the idiom the
// rest of the example pack uses for talking to an EVM node.
type RPCClient struct {
	eth      *ethclient.Client
	contract *bind.BoundContract
	chainID  *big.Int
	signer   *ecdsa.PrivateKey
}

// Dial connects to rpcURL and binds the protocol contract at contractAddr.
// signer authorizes CloseAgreement/RegisterOffer transactions (the
// operator key); it may be nil for a read-only client.
func Dial(ctx context.Context, rpcURL string, contractAddr common.Address, chainID *big.Int, signer *ecdsa.PrivateKey) (*RPCClient, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chainclient: dial %s: %w", rpcURL, err)
	}
	parsed, err := abi.JSON(strings.NewReader(protocolABI))
	if err != nil {
		return nil, fmt.Errorf("chainclient: parse ABI: %w", err)
	}
	c := &RPCClient{
		eth:      eth,
		contract: bind.NewBoundContract(contractAddr, parsed, eth, eth, eth),
		chainID:  chainID,
		signer:   signer,
	}
	return c, nil
}

// WithSigner returns a shallow copy of c authorized by a different signer,
// sharing the same underlying connection and bound contract. Each provider
// scope signs with its own operator key against one shared registry contract.
func (c *RPCClient) WithSigner(signer *ecdsa.PrivateKey) *RPCClient {
	cp := *c
	cp.signer = signer
	return &cp
}

func (c *RPCClient) callOpts(ctx context.Context) *bind.CallOpts {
	return &bind.CallOpts{Context: ctx}
}

func (c *RPCClient) transactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	if c.signer == nil {
		return nil, fmt.Errorf("chainclient: write operation requires a signer")
	}
	opts, err := bind.NewKeyedTransactorWithChainID(c.signer, c.chainID)
	if err != nil {
		return nil, err
	}
	opts.Context = ctx
	return opts, nil
}

func (c *RPCClient) GetActor(ctx context.Context, owner model.Address) (*model.Provider, error) {
	var out []interface{}
	if err := c.contract.Call(c.callOpts(ctx), &out, "getActor", common.HexToAddress(owner.String())); err != nil {
		return nil, fmt.Errorf("chainclient: getActor: %w", err)
	}
	id := out[0].(*big.Int)
	if id.Sign() == 0 {
		return nil, nil
	}
	gatewayID := out[4].(*big.Int)
	p := &model.Provider{
		ID:              id.Int64(),
		OwnerAddress:    owner,
		OperatorAddress: model.NewAddress(out[1].(common.Address).Hex()),
		Endpoint:        out[2].(string),
		IsVirtual:       out[3].(bool),
		DetailsCID:      out[5].(string),
	}
	if gatewayID.Sign() != 0 {
		gid := gatewayID.Int64()
		p.GatewayProviderID = &gid
	}
	return p, nil
}

func (c *RPCClient) GetRegisteredProtocolsOf(ctx context.Context, providerID int64) ([]int64, error) {
	var out []interface{}
	if err := c.contract.Call(c.callOpts(ctx), &out, "getRegisteredProtocolsOf", big.NewInt(providerID)); err != nil {
		return nil, fmt.Errorf("chainclient: getRegisteredProtocolsOf: %w", err)
	}
	return bigIntsToInt64s(out[0].([]*big.Int)), nil
}

func (c *RPCClient) GetOffer(ctx context.Context, offerID int64) (*model.Offer, error) {
	var out []interface{}
	if err := c.contract.Call(c.callOpts(ctx), &out, "getOffer", big.NewInt(offerID)); err != nil {
		return nil, fmt.Errorf("chainclient: getOffer: %w", err)
	}
	return &model.Offer{
		ID:           offerID,
		OwnerAddress: model.NewAddress(out[0].(common.Address).Hex()),
		ProtocolID:   out[1].(*big.Int).Int64(),
		FeePerSecond: out[2].(*big.Int).Int64(),
		Stock:        out[3].(*big.Int).Int64(),
		DetailsCID:   out[4].(string),
	}, nil
}

func (c *RPCClient) GetAgreement(ctx context.Context, agreementID int64) (*model.Agreement, error) {
	var out []interface{}
	if err := c.contract.Call(c.callOpts(ctx), &out, "getAgreement", big.NewInt(agreementID)); err != nil {
		return nil, fmt.Errorf("chainclient: getAgreement: %w", err)
	}
	status := model.AgreementNotActive
	if out[5].(bool) {
		status = model.AgreementActive
	}
	return &model.Agreement{
		ID:              agreementID,
		ProtocolID:      out[0].(*big.Int).Int64(),
		UserAddress:     model.NewAddress(out[1].(common.Address).Hex()),
		ProviderAddress: model.NewAddress(out[2].(common.Address).Hex()),
		OfferID:         out[3].(*big.Int).Int64(),
		Balance:         out[4].(*big.Int).Int64(),
		Status:          status,
	}, nil
}

func (c *RPCClient) GetAllProviderOffers(ctx context.Context, providerID int64) ([]model.Offer, error) {
	var out []interface{}
	if err := c.contract.Call(c.callOpts(ctx), &out, "getAllProviderOffers", big.NewInt(providerID)); err != nil {
		return nil, fmt.Errorf("chainclient: getAllProviderOffers: %w", err)
	}
	ids := bigIntsToInt64s(out[0].([]*big.Int))
	offers := make([]model.Offer, 0, len(ids))
	for _, id := range ids {
		offer, err := c.GetOffer(ctx, id)
		if err != nil {
			return nil, err
		}
		offers = append(offers, *offer)
	}
	return offers, nil
}

func (c *RPCClient) CloseAgreement(ctx context.Context, agreementID int64) error {
	opts, err := c.transactOpts(ctx)
	if err != nil {
		return err
	}
	_, err = c.contract.Transact(opts, "closeAgreement", big.NewInt(agreementID))
	if err != nil {
		return fmt.Errorf("chainclient: closeAgreement: %w", err)
	}
	return nil
}

func (c *RPCClient) RegisterOffer(ctx context.Context, ownerAddress model.Address, detailsCID string, feePerSecond int64, stock int64) (int64, error) {
	opts, err := c.transactOpts(ctx)
	if err != nil {
		return 0, err
	}
	tx, err := c.contract.Transact(opts, "registerOffer",
		common.HexToAddress(ownerAddress.String()), detailsCID, big.NewInt(feePerSecond), big.NewInt(stock))
	if err != nil {
		return 0, fmt.Errorf("chainclient: registerOffer: %w", err)
	}
	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return 0, fmt.Errorf("chainclient: wait for registerOffer: %w", err)
	}
	if receipt.Status != 1 {
		return 0, fmt.Errorf("chainclient: registerOffer transaction reverted")
	}
	return 0, nil // the assigned id is recovered from the emitted event by the indexer, not the receipt
}

// GenerateCID MUST agree with internal/detailregistry.CID: both are a
// hex-encoded SHA-256 digest of content.
func (c *RPCClient) GenerateCID(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func (c *RPCClient) CurrentBlock(ctx context.Context) (uint64, error) {
	header, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("chainclient: current block: %w", err)
	}
	return header.Number.Uint64(), nil
}

func bigIntsToInt64s(in []*big.Int) []int64 {
	out := make([]int64, len(in))
	for i, v := range in {
		out[i] = v.Int64()
	}
	return out
}

var _ Client = (*RPCClient)(nil)
