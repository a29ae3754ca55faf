package services

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"defeatthememe-backend/internal/clients"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// ErrUserDeclined is returned when the signer refuses to sign a request.
var ErrUserDeclined = errors.New("user declined to sign the request")

// TypedDataSigner produces EIP-712 signatures, typically a user's wallet.
type TypedDataSigner interface {
	Address() common.Address
	SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error)
}

// ForwarderNonceSource is the part of the forwarder the builder reads.
type ForwarderNonceSource interface {
	Address() common.Address
	ChainID() *big.Int
	GetNonce(ctx context.Context, from common.Address) (*big.Int, error)
}

// BuildParams describe the call to forward. Gas overrides the per-operation ceiling when non-zero.
type BuildParams struct {
	To        common.Address
	Data      []byte
	Value     *big.Int
	Operation string
	Gas       uint64
}

// SignedForwardRequest is ready to be posted to the relay.
type SignedForwardRequest struct {
	Request   clients.ForwardRequest
	Signature []byte
	TypedData apitypes.TypedData
}

// RequestBuilder constructs forward requests with a live nonce and signs them.
type RequestBuilder struct {
	forwarder   ForwarderNonceSource
	gasCeilings map[string]uint64
	defaultGas  uint64
}

// NewRequestBuilder creates a builder. gasCeilings maps operation names to inner-call gas.
func NewRequestBuilder(forwarder ForwarderNonceSource, gasCeilings map[string]uint64, defaultGas uint64) *RequestBuilder {
	return &RequestBuilder{forwarder: forwarder, gasCeilings: gasCeilings, defaultGas: defaultGas}
}

// GasFor returns the gas ceiling for an operation.
func (b *RequestBuilder) GasFor(operation string) uint64 {
	if gas, ok := b.gasCeilings[operation]; ok && gas > 0 {
		return gas
	}
	return b.defaultGas
}

// Prepare reads the nonce for from and returns the request and the typed data to sign.
func (b *RequestBuilder) Prepare(ctx context.Context, from common.Address, params BuildParams) (clients.ForwardRequest, apitypes.TypedData, error) {
	nonce, err := b.forwarder.GetNonce(ctx, from)
	if err != nil {
		return clients.ForwardRequest{}, apitypes.TypedData{}, fmt.Errorf("read forwarder nonce: %w", err)
	}

	gas := params.Gas
	if gas == 0 {
		gas = b.GasFor(params.Operation)
	}
	value := params.Value
	if value == nil {
		value = new(big.Int)
	}

	req := clients.ForwardRequest{
		From:  from,
		To:    params.To,
		Value: value,
		Gas:   new(big.Int).SetUint64(gas),
		Nonce: nonce,
		Data:  params.Data,
	}.Normalized()
	return req, clients.ForwardRequestTypedData(b.forwarder.ChainID(), b.forwarder.Address(), req), nil
}

// Build prepares and signs a request. A refusal by the signer is reported as ErrUserDeclined.
func (b *RequestBuilder) Build(ctx context.Context, signer TypedDataSigner, params BuildParams) (*SignedForwardRequest, error) {
	req, typed, err := b.Prepare(ctx, signer.Address(), params)
	if err != nil {
		return nil, err
	}
	sig, err := signer.SignTypedData(ctx, typed)
	if err != nil {
		if IsUserRejection(err) {
			return nil, fmt.Errorf("%w: %v", ErrUserDeclined, err)
		}
		return nil, fmt.Errorf("sign forward request: %w", err)
	}
	return &SignedForwardRequest{Request: req, Signature: sig, TypedData: typed}, nil
}

// userRejectionCode matches the EIP-1193 rejection code when it is spelled out
// as a code field, e.g. `code 4001` or `"code": 4001`.
var userRejectionCode = regexp.MustCompile(`\bcode"?\s*[:=]?\s*4001\b`)

// IsUserRejection recognises ErrUserDeclined, a JSON-RPC error with code 4001
// and the wallet rejection messages.
func IsUserRejection(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUserDeclined) {
		return true
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == 4001 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "user rejected") || strings.Contains(msg, "user denied") || userRejectionCode.MatchString(msg)
}

// KeySigner signs typed data with a local private key, producing 27/28 recovery ids like wallets do.
type KeySigner struct {
	key *ecdsa.PrivateKey
}

// NewKeySigner parses a hex private key with or without 0x.
func NewKeySigner(hexKey string) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &KeySigner{key: key}, nil
}

// NewKeySignerFromECDSA wraps an existing key.
func NewKeySignerFromECDSA(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{key: key}
}

func (s *KeySigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

func (s *KeySigner) SignTypedData(_ context.Context, data apitypes.TypedData) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}
