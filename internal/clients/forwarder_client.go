package clients

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrForwarderNotDeployed is returned when the forwarder address holds no bytecode.
	ErrForwarderNotDeployed = errors.New("forwarder: MinimalForwarder not deployed")
)

// ForwardRequest mirrors MinimalForwarder.ForwardRequest. Field names must match
// the ABI tuple components for packing.
type ForwardRequest struct {
	From  common.Address
	To    common.Address
	Value *big.Int
	Gas   *big.Int
	Nonce *big.Int
	Data  []byte
}

// Normalized returns a copy with nil amounts replaced by zero.
func (r ForwardRequest) Normalized() ForwardRequest {
	out := r
	if out.Value == nil {
		out.Value = new(big.Int)
	}
	if out.Gas == nil {
		out.Gas = new(big.Int)
	}
	if out.Nonce == nil {
		out.Nonce = new(big.Int)
	}
	if out.Data == nil {
		out.Data = []byte{}
	}
	return out
}

// ExecuteOutcome is the decoded return of MinimalForwarder.execute.
type ExecuteOutcome struct {
	Success    bool
	ReturnData []byte
}

// ForwarderClient wraps read and write calls to one deployed MinimalForwarder.
type ForwarderClient struct {
	backend ChainBackend
	address common.Address
	chainID *big.Int
}

// NewForwarderClient binds the forwarder at address on chainID.
func NewForwarderClient(backend ChainBackend, address common.Address, chainID *big.Int) *ForwarderClient {
	return &ForwarderClient{backend: backend, address: address, chainID: new(big.Int).Set(chainID)}
}

func (f *ForwarderClient) Address() common.Address { return f.address }
func (f *ForwarderClient) ChainID() *big.Int       { return new(big.Int).Set(f.chainID) }

// GetNonce reads the forwarder's current nonce for from.
func (f *ForwarderClient) GetNonce(ctx context.Context, from common.Address) (*big.Int, error) {
	out, err := f.call(ctx, common.Address{}, nil, "getNonce", from)
	if err != nil {
		return nil, err
	}
	nonce, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("getNonce: unexpected output type %T", out[0])
	}
	return nonce, nil
}

// Verify asks the forwarder whether sig is a valid signature of req by req.From
// with the current nonce.
func (f *ForwarderClient) Verify(ctx context.Context, req ForwardRequest, sig []byte) (bool, error) {
	out, err := f.call(ctx, common.Address{}, nil, "verify", req.Normalized(), sig)
	if err != nil {
		return false, err
	}
	ok, isBool := out[0].(bool)
	if !isBool {
		return false, fmt.Errorf("verify: unexpected output type %T", out[0])
	}
	return ok, nil
}

// SimulateExecute performs a read-only execute call from the relayer, attaching
// req.Value, and reports the inner call's success flag and return data.
func (f *ForwarderClient) SimulateExecute(ctx context.Context, relayer common.Address, req ForwardRequest, sig []byte) (*ExecuteOutcome, error) {
	req = req.Normalized()
	out, err := f.call(ctx, relayer, req.Value, "execute", req, sig)
	if err != nil {
		return nil, err
	}
	success, ok := out[0].(bool)
	if !ok {
		return nil, fmt.Errorf("execute: unexpected success type %T", out[0])
	}
	ret, ok := out[1].([]byte)
	if !ok {
		return nil, fmt.Errorf("execute: unexpected return data type %T", out[1])
	}
	return &ExecuteOutcome{Success: success, ReturnData: ret}, nil
}

// PackExecute encodes the execute calldata for submission.
func (f *ForwarderClient) PackExecute(req ForwardRequest, sig []byte) ([]byte, error) {
	return forwarderABI.Pack("execute", req.Normalized(), sig)
}

// HasCode reports whether bytecode is deployed at the forwarder address.
func (f *ForwarderClient) HasCode(ctx context.Context) (bool, error) {
	code, err := f.backend.CodeAt(ctx, f.address, nil)
	if err != nil {
		return false, err
	}
	return len(code) > 0, nil
}

func (f *ForwarderClient) call(ctx context.Context, from common.Address, value *big.Int, method string, args ...interface{}) ([]interface{}, error) {
	return CallView(ctx, f.backend, from, f.address, value, forwarderABI, method, args...)
}

// CallView packs method, runs eth_call against contract and unpacks the outputs.
func CallView(ctx context.Context, backend ChainBackend, from, contract common.Address, value *big.Int, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	input, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: pack: %w", method, err)
	}
	msg := ethereum.CallMsg{From: from, To: &contract, Data: input}
	if value != nil && value.Sign() > 0 {
		msg.Value = value
	}
	raw, err := backend.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%s: empty result from %s", method, contract.Hex())
	}
	out, err := parsed.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("%s: unpack: %w", method, err)
	}
	return out, nil
}
