package signer

import (
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

const testPrivKeyHex = "0101010101010101010101010101010101010101010101010101010101010101" // 32-byte key, one repeated byte

func testVaultAddr(t *testing.T) common.Address {
	t.Helper()
	return common.HexToAddress("0x000000000000000000000000000000000000aa")
}

func hexDecode(s string) ([]byte, error) {
	return hex.DecodeString(s[2:])
}

func mustSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner(testPrivKeyHex, true)
	require.NoError(t, err)
	return s
}

// TestSignOrderActionGoldenVector pins down the wire contract: for a
// fixed (action, nonce=0, vault=nil, privkey) the signature recovers to
// the account address and the JSON key order matches the binary pack
// exactly (spec scenario S8 / invariant 8).
func TestSignOrderActionGoldenVector(t *testing.T) {
	s := mustSigner(t)

	orders := []WireOrder{{
		Asset: 0,
		IsBuy: true,
		Price: "100.0",
		Size:  "1.0",
		TIF:   "Alo",
	}}

	body, sig, err := s.SignOrderAction(orders, "na", 0, nil)
	require.NoError(t, err)

	require.Equal(t,
		`{"type":"order","orders":[{"a":0,"b":true,"p":"100.0","s":"1.0","r":false,"t":{"limit":{"tif":"Alo"}}}],"grouping":"na"}`,
		string(body))

	require.Len(t, sig.R, 66) // "0x" + 64 hex chars
	require.Len(t, sig.S, 66)
	require.Contains(t, []uint8{27, 28}, sig.V)

	// Determinism: identical inputs produce an identical signature.
	_, sig2, err := s.SignOrderAction(orders, "na", 0, nil)
	require.NoError(t, err)
	require.Equal(t, sig, sig2)

	// Recoverability: the digest recovers to the signer's own address.
	packed, err := packOrderAction(orders, "na")
	require.NoError(t, err)
	actionHash := ActionHash(packed, 0, nil)
	digest := AgentDigest(actionHash, s.source)

	sigBytes := append(append(hexToBytes(t, sig.R), hexToBytes(t, sig.S)...), sig.V-27)
	pub, err := crypto.SigToPub(digest, sigBytes)
	require.NoError(t, err)
	require.Equal(t, s.Address(), crypto.PubkeyToAddress(*pub))
}

func TestSignCancelActionKeyOrder(t *testing.T) {
	s := mustSigner(t)

	cancels := []WireCancel{{Asset: 4, OID: 12345}}
	body, sig, err := s.SignCancelAction(cancels, 1, nil)
	require.NoError(t, err)
	require.Equal(t, `{"type":"cancel","cancels":[{"a":4,"o":12345}]}`, string(body))
	require.NotEmpty(t, sig.R)
}

func TestActionHashChangesWithVault(t *testing.T) {
	orders := []WireOrder{{Asset: 1, IsBuy: false, Price: "10", Size: "1", TIF: "Ioc"}}
	packed, err := packOrderAction(orders, "na")
	require.NoError(t, err)

	noVault := ActionHash(packed, 5, nil)
	vault := testVaultAddr(t)
	withVault := ActionHash(packed, 5, &vault)

	require.NotEqual(t, noVault, withVault)
}

func hexToBytes(t *testing.T, hexStr string) []byte {
	t.Helper()
	b, err := hexDecode(hexStr)
	require.NoError(t, err)
	return b
}
