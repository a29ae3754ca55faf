package services

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrRelayerKeyMissing is returned when a chain has no relayer key configured.
var ErrRelayerKeyMissing = errors.New("RELAYER_PRIVATE_KEY not set")

// SigningStrategy signs the relayer's outer transactions.
type SigningStrategy interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
	Name() string
}

// PrivateKeySigningStrategy signs with an in-memory key.
type PrivateKeySigningStrategy struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewPrivateKeySigningStrategy parses a hex key. An empty key yields ErrRelayerKeyMissing.
func NewPrivateKeySigningStrategy(hexKey string) (*PrivateKeySigningStrategy, error) {
	if strings.TrimSpace(hexKey) == "" {
		return nil, ErrRelayerKeyMissing
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid relayer private key: %w", err)
	}
	return &PrivateKeySigningStrategy{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

func (s *PrivateKeySigningStrategy) Address() common.Address { return s.address }

func (s *PrivateKeySigningStrategy) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}

func (s *PrivateKeySigningStrategy) Name() string { return "PrivateKey" }
