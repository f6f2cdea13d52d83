package chainclient

import (
	"crypto/ecdsa"
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPrivateKeyAcceptsWith0xPrefix(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := "0x" + privToHex(priv)

	got, err := LoadPrivateKey(hexKey)
	require.NoError(t, err)
	assert.Equal(t, AddressOf(priv), AddressOf(got))
}

func TestLoadPrivateKeyAcceptsWithoutPrefix(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)

	got, err := LoadPrivateKey(privToHex(priv))
	require.NoError(t, err)
	assert.Equal(t, AddressOf(priv), AddressOf(got))
}

func TestLoadPrivateKeyRejectsGarbage(t *testing.T) {
	_, err := LoadPrivateKey("not-hex")
	assert.Error(t, err)
}

func TestSignAndRecoverSignerRoundTrip(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)

	msg := []byte("hello safe-scan")
	sig, err := Sign(priv, msg)
	require.NoError(t, err)
	require.Len(t, sig, 65)

	recovered, err := RecoverSigner(msg, sig)
	require.NoError(t, err)
	assert.Equal(t, AddressOf(priv), recovered)
}

func TestRecoverSignerRejectsWrongLength(t *testing.T) {
	_, err := RecoverSigner([]byte("msg"), []byte{1, 2, 3})
	assert.Error(t, err)
}

func TestRecoverSignerAcceptsZeroBasedVByte(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)

	msg := []byte("v-byte test")
	sig, err := Sign(priv, msg)
	require.NoError(t, err)

	zeroBased := make([]byte, 65)
	copy(zeroBased, sig)
	zeroBased[64] -= 27

	recovered, err := RecoverSigner(msg, zeroBased)
	require.NoError(t, err)
	assert.Equal(t, AddressOf(priv), recovered)
}

func TestNormalizeAddress(t *testing.T) {
	_, err := NormalizeAddress("0x1234")
	assert.Error(t, err, "too short to be a 20-byte address")

	got, err := NormalizeAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	require.NoError(t, err)
	assert.NotEmpty(t, got.String())
}

func TestNormalizeAddressRejectsGarbage(t *testing.T) {
	_, err := NormalizeAddress("not-an-address")
	assert.Error(t, err)
}

func privToHex(priv *ecdsa.PrivateKey) string {
	return hex.EncodeToString(crypto.FromECDSA(priv))
}
