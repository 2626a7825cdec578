// Package signer produces deterministic, bit-exact L1 action signatures
// for the Hyperliquid-style venue: a binary action hash over an
// insertion-ordered map, wrapped in an EIP-712 `Agent` digest and signed
// with the account's secp256k1 key.
package signer

import (
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	apperrors "market_maker/pkg/errors"
)

// Hyperliquid Exchange EIP-712 domain: {name:"Exchange", version:"1",
// chainId:1337, verifyingContract:0x0...0}.
var (
	domainName         = "Exchange"
	domainVersion      = "1"
	domainChainID      = int64(1337)
	domainVerifyingAddr = common.Address{}
)

var agentTypeHash = crypto.Keccak256([]byte("Agent(string source,bytes32 connectionId)"))
var domainTypeHash = crypto.Keccak256([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))

// Signature is the (r,s,v) triple the venue expects, hex-encoded exactly
// as it must appear on the wire.
type Signature struct {
	R string // 0x-prefixed, 64 hex chars, zero-padded
	S string // 0x-prefixed, 64 hex chars, zero-padded
	V uint8  // 27 or 28
}

// Signer holds one account's signing key and the mainnet/testnet source
// tag used in the Agent typed message.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	source     string // "a" (mainnet) or "b" (testnet)
}

// NewSigner builds a Signer from a hex-encoded secp256k1 private key
// (with or without a leading 0x).
func NewSigner(privateKeyHex string, mainnet bool) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid private key: %v", apperrors.ErrInvalidOrderParameter, err)
	}
	source := "b"
	if mainnet {
		source = "a"
	}
	return &Signer{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
		source:     source,
	}, nil
}

// Address returns the account address derived from the signing key.
func (s *Signer) Address() common.Address { return s.address }

// SignOrderAction packs, hashes, and signs an `order` L1 action, and
// returns both the signature and the accompanying JSON action body with
// the exact key order the venue expects (`type`, `orders`, `grouping`;
// each order `a,b,p,s,r,t`).
func (s *Signer) SignOrderAction(orders []WireOrder, grouping string, nonce uint64, vault *common.Address) (json.RawMessage, Signature, error) {
	packed, err := packOrderAction(orders, grouping)
	if err != nil {
		return nil, Signature{}, fmt.Errorf("%w: %v", apperrors.ErrInvalidOrderParameter, err)
	}

	sig, err := s.signAction(packed, nonce, vault)
	if err != nil {
		return nil, Signature{}, err
	}

	body, err := json.Marshal(jsonOrderAction{
		Type:     "order",
		Orders:   toJSONOrders(orders),
		Grouping: grouping,
	})
	if err != nil {
		return nil, Signature{}, fmt.Errorf("%w: %v", apperrors.ErrInvalidOrderParameter, err)
	}
	return body, sig, nil
}

// SignCancelAction packs, hashes, and signs a `cancel` L1 action.
func (s *Signer) SignCancelAction(cancels []WireCancel, nonce uint64, vault *common.Address) (json.RawMessage, Signature, error) {
	packed, err := packCancelAction(cancels)
	if err != nil {
		return nil, Signature{}, fmt.Errorf("%w: %v", apperrors.ErrInvalidOrderParameter, err)
	}

	sig, err := s.signAction(packed, nonce, vault)
	if err != nil {
		return nil, Signature{}, err
	}

	body, err := json.Marshal(jsonCancelAction{
		Type:    "cancel",
		Cancels: toJSONCancels(cancels),
	})
	if err != nil {
		return nil, Signature{}, fmt.Errorf("%w: %v", apperrors.ErrInvalidOrderParameter, err)
	}
	return body, sig, nil
}

// signAction computes the action hash, wraps it in the Agent EIP-712
// digest, and signs with the account key.
func (s *Signer) signAction(packed []byte, nonce uint64, vault *common.Address) (Signature, error) {
	actionHash := ActionHash(packed, nonce, vault)
	digest := AgentDigest(actionHash, s.source)

	sigBytes, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return Signature{}, fmt.Errorf("%w: sign digest: %v", apperrors.ErrInvalidOrderParameter, err)
	}

	v := sigBytes[64]
	if v < 27 {
		v += 27
	}

	return Signature{
		R: fmt.Sprintf("0x%064x", sigBytes[0:32]),
		S: fmt.Sprintf("0x%064x", sigBytes[32:64]),
		V: v,
	}, nil
}

// ActionHash appends the nonce (8 big-endian bytes) and the vault byte
// (0x00, or 0x01 followed by the 20-byte address) to the binary-packed
// action, then hashes the result with keccak-256. Exported for the
// golden-vector test (spec scenario S8).
func ActionHash(packed []byte, nonce uint64, vault *common.Address) []byte {
	buf := make([]byte, 0, len(packed)+8+21)
	buf = append(buf, packed...)

	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], nonce)
	buf = append(buf, nonceBytes[:]...)

	if vault == nil {
		buf = append(buf, 0x00)
	} else {
		buf = append(buf, 0x01)
		buf = append(buf, vault.Bytes()...)
	}

	return crypto.Keccak256(buf)
}

// AgentDigest computes the EIP-712 digest over
// Agent(string source, bytes32 connectionId), where connectionId is the
// action hash and source is "a" (mainnet) or "b" (testnet).
func AgentDigest(actionHash []byte, source string) []byte {
	domainSeparator := hashDomain()

	sourceHash := crypto.Keccak256([]byte(source))
	structHash := crypto.Keccak256(concatBytes(agentTypeHash, sourceHash, actionHash))

	prefixed := concatBytes([]byte{0x19, 0x01}, domainSeparator, structHash)
	return crypto.Keccak256(prefixed)
}

func hashDomain() []byte {
	nameHash := crypto.Keccak256([]byte(domainName))
	versionHash := crypto.Keccak256([]byte(domainVersion))
	chainID := make([]byte, 32)
	big := domainChainID
	for i := 31; i >= 0 && big != 0; i-- {
		chainID[i] = byte(big & 0xff)
		big >>= 8
	}
	verifying := make([]byte, 32)
	copy(verifying[12:], domainVerifyingAddr.Bytes())

	return crypto.Keccak256(concatBytes(domainTypeHash, nameHash, versionHash, chainID, verifying))
}

func concatBytes(parts ...[]byte) []byte {
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	out := make([]byte, 0, total)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
