package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"defeatthememe-backend/internal/clients"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

type staticNonce struct {
	nonce *big.Int
	err   error
}

func (s staticNonce) Address() common.Address { return testForwarder }
func (s staticNonce) ChainID() *big.Int       { return big.NewInt(testChainID) }
func (s staticNonce) GetNonce(context.Context, common.Address) (*big.Int, error) {
	return s.nonce, s.err
}

type decliningSigner struct{ err error }

func (d decliningSigner) Address() common.Address { return common.HexToAddress(playerA) }
func (d decliningSigner) SignTypedData(context.Context, apitypes.TypedData) ([]byte, error) {
	return nil, d.err
}

func TestBuildUsesLiveNonceAndCeiling(t *testing.T) {
	key, _ := crypto.GenerateKey()
	signer := NewKeySignerFromECDSA(key)
	builder := NewRequestBuilder(staticNonce{nonce: big.NewInt(9)}, map[string]uint64{"startGame": 500_000}, 1_000_000)

	signed, err := builder.Build(context.Background(), signer, BuildParams{To: testEngine, Operation: "startGame"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	req := signed.Request
	if req.Nonce.Int64() != 9 || req.Gas.Uint64() != 500_000 || req.From != signer.Address() {
		t.Errorf("request = %+v", req)
	}
	if len(signed.Signature) != 65 || signed.Signature[64] < 27 {
		t.Errorf("signature %x is not a 65-byte wallet signature", signed.Signature)
	}

	digest, err := clients.ForwardRequestDigest(big.NewInt(testChainID), testForwarder, req)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	recovered, err := clients.RecoverSigner(digest, signed.Signature)
	if err != nil || recovered != signer.Address() {
		t.Errorf("recovered %s (%v), want %s", recovered.Hex(), err, signer.Address().Hex())
	}

	if gas := builder.GasFor("unknown"); gas != 1_000_000 {
		t.Errorf("GasFor(unknown) = %d, want default", gas)
	}
	signed, err = builder.Build(context.Background(), signer, BuildParams{To: testEngine, Operation: "startGame", Gas: 42})
	if err != nil || signed.Request.Gas.Uint64() != 42 {
		t.Errorf("explicit gas not honoured: %v %v", signed, err)
	}
}

func TestBuildUserDeclined(t *testing.T) {
	builder := NewRequestBuilder(staticNonce{nonce: big.NewInt(0)}, nil, 1_000_000)
	for _, cause := range []error{
		errors.New("MetaMask Tx Signature: User denied message signature."),
		errors.New("code 4001: user rejected the request"),
	} {
		_, err := builder.Build(context.Background(), decliningSigner{err: cause}, BuildParams{To: testEngine})
		if !errors.Is(err, ErrUserDeclined) {
			t.Errorf("Build with %q err = %v, want ErrUserDeclined", cause, err)
		}
	}

	_, err := builder.Build(context.Background(), decliningSigner{err: errors.New("hardware wallet disconnected")}, BuildParams{To: testEngine})
	if err == nil || errors.Is(err, ErrUserDeclined) {
		t.Errorf("non-rejection signer error = %v", err)
	}
}

func TestBuildNonceUnavailable(t *testing.T) {
	builder := NewRequestBuilder(staticNonce{err: errors.New("rpc down")}, nil, 1_000_000)
	key, _ := crypto.GenerateKey()
	if _, err := builder.Build(context.Background(), NewKeySignerFromECDSA(key), BuildParams{To: testEngine}); err == nil {
		t.Error("Build succeeded without a nonce")
	}
}

type codedError struct {
	code int
	msg  string
}

func (e codedError) Error() string  { return e.msg }
func (e codedError) ErrorCode() int { return e.code }

func TestIsUserRejection(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", fmt.Errorf("wallet: %w", ErrUserDeclined), true},
		{"rpc code 4001", codedError{code: 4001, msg: "request refused"}, true},
		{"rpc other code", codedError{code: -32000, msg: "execution reverted"}, false},
		{"json code field", errors.New(`{"code": 4001, "message": "refused"}`), true},
		{"denied message", errors.New("User denied message signature"), true},
		{"port 4001", errors.New("dial tcp 127.0.0.1:4001: connect: connection refused"), false},
		{"hex fragment", errors.New("unexpected selector 0x40011234"), false},
		{"block number", errors.New("header not found for block 4001"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUserRejection(tt.err); got != tt.want {
				t.Errorf("IsUserRejection(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
