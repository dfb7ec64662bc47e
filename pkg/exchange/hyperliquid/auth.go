package hyperliquid

import (
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	mathhex "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/vmihailenco/msgpack/v5"
)

const verifyingContractHex = "0x0000000000000000000000000000000000000000"

// Signer produces signatures over 32-byte digests.
type Signer interface {
	Sign(digest []byte) (*Signature, error)
	GetAddress() string
}

// PrivateKeySigner signs with an in-memory ECDSA key.
type PrivateKeySigner struct {
	privateKey *ecdsa.PrivateKey
	address    string
}

// NewPrivateKeySigner parses a hex private key, with or without 0x.
func NewPrivateKeySigner(privateKeyHex string) (*PrivateKeySigner, error) {
	keyHex := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	if keyHex == "" {
		return nil, fmt.Errorf("hyperliquid: empty private key")
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: decode private key: %w", err)
	}
	return &PrivateKeySigner{
		privateKey: key,
		address:    strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex()),
	}, nil
}

func (s *PrivateKeySigner) Sign(digest []byte) (*Signature, error) {
	if s == nil || s.privateKey == nil {
		return nil, errors.New("hyperliquid: signer not initialised")
	}
	if len(digest) != 32 {
		return nil, fmt.Errorf("hyperliquid: expected 32-byte digest, got %d bytes", len(digest))
	}
	sig, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: sign digest: %w", err)
	}
	return &Signature{
		R: "0x" + hex.EncodeToString(sig[:32]),
		S: "0x" + hex.EncodeToString(sig[32:64]),
		V: int(sig[64]) + 27,
	}, nil
}

func (s *PrivateKeySigner) GetAddress() string {
	if s == nil {
		return ""
	}
	return s.address
}

func signAction(action Action, signer Signer, nonce int64, vaultAddress string, isMainnet bool) (*ExchangeRequest, error) {
	if signer == nil {
		return nil, errors.New("hyperliquid: signer required")
	}
	digest, err := actionDigest(action, nonce, vaultAddress, isMainnet)
	if err != nil {
		return nil, err
	}
	sig, err := signer.Sign(digest)
	if err != nil {
		return nil, err
	}
	return &ExchangeRequest{
		Action:       action,
		Nonce:        nonce,
		Signature:    *sig,
		VaultAddress: vaultAddress,
	}, nil
}

// actionDigest hashes msgpack(action) ‖ vault ‖ nonce into the connection id
// and wraps it in the phantom "Agent" EIP-712 message.
func actionDigest(action Action, nonce int64, vaultAddress string, isMainnet bool) ([]byte, error) {
	if nonce <= 0 {
		return nil, fmt.Errorf("hyperliquid: nonce must be positive")
	}
	packed, err := msgpack.Marshal(action)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: msgpack encode action: %w", err)
	}
	vault := make([]byte, common.AddressLength)
	if vaultAddress != "" {
		if !common.IsHexAddress(vaultAddress) {
			return nil, fmt.Errorf("hyperliquid: invalid vault address %q", vaultAddress)
		}
		copy(vault, common.HexToAddress(vaultAddress).Bytes())
	}
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], uint64(nonce))

	buf := make([]byte, 0, len(packed)+len(vault)+len(nonceBytes))
	buf = append(buf, packed...)
	buf = append(buf, vault...)
	buf = append(buf, nonceBytes[:]...)

	source, chainID := "a", int64(1337)
	if !isMainnet {
		source, chainID = "b", 1338
	}
	typed := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Agent": {
				{Name: "source", Type: "string"},
				{Name: "connectionId", Type: "bytes32"},
			},
		},
		PrimaryType: "Agent",
		Domain: apitypes.TypedDataDomain{
			Name:              "Exchange",
			Version:           "1",
			ChainId:           mathhex.NewHexOrDecimal256(chainID),
			VerifyingContract: verifyingContractHex,
		},
		Message: map[string]interface{}{
			"source":       source,
			"connectionId": crypto.Keccak256(buf),
		},
	}
	domainSeparator, err := typed.HashStruct("EIP712Domain", typed.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: hash domain: %w", err)
	}
	messageHash, err := typed.HashStruct(typed.PrimaryType, typed.Message)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: hash message: %w", err)
	}
	raw := make([]byte, 0, 2+len(domainSeparator)+len(messageHash))
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, messageHash...)
	return crypto.Keccak256(raw), nil
}
