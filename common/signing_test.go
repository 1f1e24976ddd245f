package common

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
)

func TestEthSign(t *testing.T) {
	addr, privateKeyHex := GetEVMDevAccount(1)
	digest := Keccak256([]byte("update"))

	key, err := crypto.HexToECDSA(privateKeyHex)
	require.NoError(t, err)
	messageHash, signature, err := EthSignWithKey(key, digest)
	require.NoError(t, err, "Error during EthSignWithKey")
	assert.Equal(t, SignedMessageHash(digest), messageHash)

	recovered, err := RecoverSigner(digest, signature)
	require.NoError(t, err)
	assert.Equal(t, addr, recovered)
	assert.NoError(t, VerifyEthSignature(addr, digest, signature))

	other, _ := GetEVMDevAccount(2)
	assert.Error(t, VerifyEthSignature(other, digest, signature))
	assert.Error(t, VerifyEthSignature(addr, Keccak256([]byte("other")), signature))
	assert.Error(t, VerifyEthSignature(addr, digest, signature[:64]))
}

func TestGetEVMDevAccount(t *testing.T) {
	for i := 0; i < 10; i++ {
		addr, privKeyHex := GetEVMDevAccount(i)
		derived, err := PrivateKeyAddress(privKeyHex)
		require.NoError(t, err)
		assert.Equal(t, addr, derived, "account %d", i)
	}
}

func TestAddressJSON(t *testing.T) {
	addr, _ := GetEVMDevAccount(3)
	b, err := addr.MarshalJSON()
	require.NoError(t, err)

	var out Address
	require.NoError(t, out.UnmarshalJSON(b))
	assert.Equal(t, addr, out)
	assert.Error(t, out.UnmarshalJSON([]byte(`"0x1234"`)))
	assert.Equal(t, -1, Address{}.Cmp(addr))
}

func TestHashEncoding(t *testing.T) {
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 1, 2}, Uint64ToBytes(258))
	assert.Equal(t, uint64(258), BytesToUint64(Uint64ToBytes(258)))
	assert.Equal(t, Keccak256([]byte("ab")), Keccak256([]byte("a"), []byte("b")))
	sum := blake2b.Sum256([]byte("ab"))
	assert.Equal(t, BytesToHash(sum[:]), Blake2Hash([]byte("a"), []byte("b")))
}
