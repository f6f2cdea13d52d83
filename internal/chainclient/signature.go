package chainclient

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Forest-Protocols/safe-scan-provider/internal/model"
)

// LoadPrivateKey parses a hex-encoded (0x-optional) secp256k1 private key,
// the format every PROVIDER_PRIVATE_KEY_<tag>/BILLING_PRIVATE_KEY_<tag>/
// OPERATOR_PRIVATE_KEY_<tag> config variable is supplied in.
func LoadPrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	priv, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("chainclient: invalid private key: %w", err)
	}
	return priv, nil
}

// AddressOf returns the address corresponding to priv's public key.
func AddressOf(priv *ecdsa.PrivateKey) model.Address {
	return model.NewAddress(crypto.PubkeyToAddress(priv.PublicKey).Hex())
}

// RecoverSigner recovers the 20-byte address that produced signature over
// message, using the standard Ethereum personal-sign prefix. Both the HTTP
// and signed-messaging transports (internal/router) call this on the
// envelope body to populate PipeRequest.Requester before handler dispatch —
// verification is the transport's job; handlers trust the result.
func RecoverSigner(message, signature []byte) (model.Address, error) {
	if len(signature) != 65 {
		return "", fmt.Errorf("chainclient: signature must be 65 bytes, got %d", len(signature))
	}
	// go-ethereum's Sign/Ecrecover expect the V byte in {0,1}; callers that
	// hand us wallet-style {27,28} normalize here rather than upstream.
	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	hash := crypto.Keccak256(signedMessagePrefix(len(message)), message)
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return "", fmt.Errorf("chainclient: recover signer: %w", err)
	}
	return model.NewAddress(crypto.PubkeyToAddress(*pub).Hex()), nil
}

// Sign produces a 65-byte personal-sign-style signature over message using
// priv. Used by the daemon's own test fixtures to construct signed request
// envelopes, and by the optional virtual-provider client helpers.
func Sign(priv *ecdsa.PrivateKey, message []byte) ([]byte, error) {
	hash := crypto.Keccak256(signedMessagePrefix(len(message)), message)
	sig, err := crypto.Sign(hash, priv)
	if err != nil {
		return nil, fmt.Errorf("chainclient: sign: %w", err)
	}
	// Normalize to the wallet-conventional {27,28} V byte for transport.
	sig[64] += 27
	return sig, nil
}

func signedMessagePrefix(msgLen int) []byte {
	return []byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d", msgLen))
}

// NormalizeAddress renders hex as the daemon's canonical lowercase Address,
// validating it is a well-formed 20-byte hex address.
func NormalizeAddress(hex string) (model.Address, error) {
	if !common.IsHexAddress(hex) {
		return "", fmt.Errorf("chainclient: %q is not a valid 20-byte hex address", hex)
	}
	return model.NewAddress(common.HexToAddress(hex).Hex()), nil
}
