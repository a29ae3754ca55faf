package clients

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	ForwarderDomainName    = "MinimalForwarder"
	ForwarderDomainVersion = "0.0.1"
	forwardRequestType     = "ForwardRequest"
)

var ErrInvalidSignatureLength = errors.New("signature must be 65 bytes")

var forwardRequestTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	forwardRequestType: {
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "gas", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "data", Type: "bytes"},
	},
}

// ForwardRequestTypedData builds the EIP-712 payload the forwarder hashes in verify.
// Wallets must be asked to sign exactly this document.
func ForwardRequestTypedData(chainID *big.Int, forwarder common.Address, req ForwardRequest) apitypes.TypedData {
	req = req.Normalized()
	return apitypes.TypedData{
		Types:       forwardRequestTypes,
		PrimaryType: forwardRequestType,
		Domain: apitypes.TypedDataDomain{
			Name:              ForwarderDomainName,
			Version:           ForwarderDomainVersion,
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(chainID)),
			VerifyingContract: forwarder.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":  req.From.Hex(),
			"to":    req.To.Hex(),
			"value": req.Value.String(),
			"gas":   req.Gas.String(),
			"nonce": req.Nonce.String(),
			"data":  hexutil.Encode(req.Data),
		},
	}
}

// ForwardRequestDigest returns the EIP-712 digest of req for the given forwarder.
func ForwardRequestDigest(chainID *big.Int, forwarder common.Address, req ForwardRequest) (common.Hash, error) {
	hash, _, err := apitypes.TypedDataAndHash(ForwardRequestTypedData(chainID, forwarder, req))
	if err != nil {
		return common.Hash{}, fmt.Errorf("hash typed data: %w", err)
	}
	return common.BytesToHash(hash), nil
}

// RecoverSigner returns the address that produced sig over digest. Both 0/1 and
// 27/28 recovery ids are accepted.
func RecoverSigner(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, ErrInvalidSignatureLength
	}
	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifyLocally checks that sig over req was produced by req.From without a chain call.
func (f *ForwarderClient) VerifyLocally(req ForwardRequest, sig []byte) (bool, error) {
	digest, err := ForwardRequestDigest(f.chainID, f.address, req)
	if err != nil {
		return false, err
	}
	signer, err := RecoverSigner(digest, sig)
	if err != nil {
		return false, nil
	}
	return signer == req.From, nil
}
