package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Pre-computed keccak256 hashes of the canonical EIP-712 type strings the
// CLOB uses for auth and order signing.
var (
	typeHashDomain = keccakStr("EIP712Domain(string name,string version,uint256 chainId)")
	typeHashAuth   = keccakStr("ClobAuth(address address,uint256 timestamp,uint256 nonce)")
	typeHashOrder  = keccakStr("Order(uint256 salt,address maker,address signer,address taker,uint256 tokenId,uint256 makerAmount,uint256 takerAmount,uint256 expiration,uint256 nonce,uint256 feeRateBps,uint8 side,uint8 signatureType)")
)

// OrderPayload carries the twelve signed fields of a CLOB order. Addresses
// and large numbers stay strings so precision survives JSON boundaries.
type OrderPayload struct {
	Salt          string `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          int    `json:"side"`          // 0 = BUY, 1 = SELL
	SignatureType int    `json:"signatureType"` // 0 = EOA, 1 = POLY_PROXY, 2 = POLY_GNOSIS_SAFE
}

// Signer signs CLOB auth messages and orders with a secp256k1 key.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID int

	// domain is the cached ClobAuthDomain separator for this chain.
	domain []byte
}

// NewSigner creates a Signer from a hex private key (with or without the 0x
// prefix) and a chain ID. 137 is Polygon mainnet, 80002 is Amoy.
func NewSigner(privateKeyHex string, chainID int) (*Signer, error) {
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	s := &Signer{
		key:     key,
		address: ethcrypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
	}
	s.domain = domainSeparator("ClobAuthDomain", "1", chainID)
	return s, nil
}

// Address returns the address derived from the signing key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignAuthMessage signs the ClobAuth struct the derive-api-key endpoint
// verifies. Returns a 0x-prefixed 65-byte signature.
func (s *Signer) SignAuthMessage(address string, timestamp, nonce int64) (string, error) {
	structHash := hashStruct(
		typeHashAuth,
		encodeAddress(address),
		encodeBig(big.NewInt(timestamp)),
		encodeBig(big.NewInt(nonce)),
	)
	return s.sign(typedDataDigest(s.domain, structHash))
}

// SignOrder signs an Order struct for submission to the CLOB.
func (s *Signer) SignOrder(order OrderPayload) (string, error) {
	fields, err := orderFields(order)
	if err != nil {
		return "", err
	}
	structHash := hashStruct(append([][]byte{typeHashOrder}, fields...)...)
	return s.sign(typedDataDigest(s.domain, structHash))
}

// orderFields encodes the order payload into 32-byte EIP-712 words, in type
// order.
func orderFields(o OrderPayload) ([][]byte, error) {
	numeric := []struct {
		name  string
		value string
	}{
		{"salt", o.Salt},
		{"tokenId", o.TokenID},
		{"makerAmount", o.MakerAmount},
		{"takerAmount", o.TakerAmount},
		{"expiration", o.Expiration},
		{"nonce", o.Nonce},
		{"feeRateBps", o.FeeRateBps},
	}
	parsed := make(map[string]*big.Int, len(numeric))
	for _, f := range numeric {
		n, ok := new(big.Int).SetString(f.value, 10)
		if !ok {
			return nil, fmt.Errorf("crypto/signer: invalid %s %q", f.name, f.value)
		}
		parsed[f.name] = n
	}

	return [][]byte{
		encodeBig(parsed["salt"]),
		encodeAddress(o.Maker),
		encodeAddress(o.Signer),
		encodeAddress(o.Taker),
		encodeBig(parsed["tokenId"]),
		encodeBig(parsed["makerAmount"]),
		encodeBig(parsed["takerAmount"]),
		encodeBig(parsed["expiration"]),
		encodeBig(parsed["nonce"]),
		encodeBig(parsed["feeRateBps"]),
		encodeBig(big.NewInt(int64(o.Side))),
		encodeBig(big.NewInt(int64(o.SignatureType))),
	}, nil
}

// sign produces the r||s||v signature over a 32-byte digest, with v shifted
// into {27,28} as EIP-712 verifiers expect.
func (s *Signer) sign(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.key)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// domainSeparator hashes the EIP712Domain struct for the given name,
// version, and chain.
func domainSeparator(name, version string, chainID int) []byte {
	return hashStruct(
		typeHashDomain,
		keccakStr(name),
		keccakStr(version),
		encodeBig(big.NewInt(int64(chainID))),
	)
}

// typedDataDigest is keccak256("\x19\x01" || domainSeparator || structHash).
func typedDataDigest(domain, structHash []byte) []byte {
	return hashStruct([]byte{0x19, 0x01}, domain, structHash)
}

// hashStruct keccak256-hashes the concatenation of its parts.
func hashStruct(parts ...[]byte) []byte {
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	buf := make([]byte, 0, total)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return ethcrypto.Keccak256(buf)
}

func keccakStr(s string) []byte {
	return ethcrypto.Keccak256([]byte(s))
}

// encodeBig writes n as a 32-byte big-endian word.
func encodeBig(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// encodeAddress left-pads a 20-byte address into a 32-byte word.
func encodeAddress(addr string) []byte {
	return common.LeftPadBytes(common.HexToAddress(addr).Bytes(), 32)
}
