// Package chaintest provides an in-memory chain for tests. It emulates a
// MinimalForwarder, a GameEngine and a PlanetNFT behind clients.ChainBackend,
// checking forward-request signatures with the real EIP-712 digest.
package chaintest

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"defeatthememe-backend/internal/clients"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// Contract addresses served by Chain.
var (
	Forwarder  = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	GameEngine = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	PlanetNFT  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	Registrar  = common.HexToAddress("0x00000000000000000000000000000000000000b1")
)

// RevertError mimics the rpc error a node returns for a reverted eth_call.
type RevertError struct{ Data string }

func (e RevertError) Error() string          { return "execution reverted" }
func (e RevertError) ErrorCode() int         { return 3 }
func (e RevertError) ErrorData() interface{} { return e.Data }

// RevertWithReason returns the node error for a require(false, reason).
func RevertWithReason(reason string) RevertError {
	// Error(string) selector followed by the abi-encoded reason.
	str, _ := abi.NewType("string", "", nil)
	packed, _ := abi.Arguments{{Type: str}}.Pack(reason)
	return RevertError{Data: hexutil.Encode(append([]byte{0x08, 0xc3, 0x79, 0xa0}, packed...))}
}

var _ clients.ChainBackend = (*Chain)(nil)

// Chain is a scripted chain. Set the exported fields before use.
type Chain struct {
	mu      sync.Mutex
	chainID *big.Int
	nonces  map[common.Address]*big.Int
	sent    []*types.Transaction

	InnerSuccess  bool
	InnerReturn   []byte
	SimulateErr   error
	VerifyErr     error
	ReceiptStatus uint64
	ReceiptErr    error

	EngineErr  error
	Trusted    bool
	EnemyTypes int64
	Planets    map[common.Address]int64

	// SendGate, when set, blocks SendTransaction until closed. Sending is
	// signalled on entry and must be buffered.
	SendGate chan struct{}
	Sending  chan struct{}
}

// New returns a chain on which every check passes.
func New(chainID int64) *Chain {
	return &Chain{
		chainID:       big.NewInt(chainID),
		nonces:        make(map[common.Address]*big.Int),
		InnerSuccess:  true,
		ReceiptStatus: types.ReceiptStatusSuccessful,
		Trusted:       true,
		EnemyTypes:    3,
		Planets:       make(map[common.Address]int64),
	}
}

func (c *Chain) nonce(addr common.Address) *big.Int {
	if n, ok := c.nonces[addr]; ok {
		return new(big.Int).Set(n)
	}
	return new(big.Int)
}

// Sent returns the relayer transactions broadcast so far.
func (c *Chain) Sent() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.Transaction(nil), c.sent...)
}

func (c *Chain) SentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *Chain) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	if account == Forwarder {
		return []byte{0x60, 0x80}, nil
	}
	return nil, nil
}

func (c *Chain) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if call.To == nil || len(call.Data) < 4 {
		return nil, errors.New("chaintest: bad call")
	}
	switch *call.To {
	case Forwarder:
		return c.callForwarder(call.Data)
	case GameEngine:
		return c.callEngine(call.Data)
	case PlanetNFT:
		return c.callPlanet(call.Data)
	}
	return nil, nil
}

func (c *Chain) callForwarder(data []byte) ([]byte, error) {
	method, args, err := unpackCall(clients.ForwarderABI(), data)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	switch method.Name {
	case "getNonce":
		return method.Outputs.Pack(c.nonce(args[0].(common.Address)))
	case "verify":
		if c.VerifyErr != nil {
			return nil, c.VerifyErr
		}
		req := *abi.ConvertType(args[0], new(clients.ForwardRequest)).(*clients.ForwardRequest)
		return method.Outputs.Pack(c.verify(req, args[1].([]byte)))
	case "execute":
		if c.SimulateErr != nil {
			return nil, c.SimulateErr
		}
		ret := c.InnerReturn
		if ret == nil {
			ret = []byte{}
		}
		return method.Outputs.Pack(c.InnerSuccess, ret)
	}
	return nil, errors.New("chaintest: unknown forwarder method")
}

func (c *Chain) verify(req clients.ForwardRequest, sig []byte) bool {
	digest, err := clients.ForwardRequestDigest(c.chainID, Forwarder, req)
	if err != nil {
		return false
	}
	signer, err := clients.RecoverSigner(digest, sig)
	if err != nil {
		return false
	}
	return signer == req.From && req.Nonce.Cmp(c.nonce(req.From)) == 0
}

func (c *Chain) callEngine(data []byte) ([]byte, error) {
	if c.EngineErr != nil {
		return nil, c.EngineErr
	}
	method, _, err := unpackCall(clients.GameEngineContractABI(), data)
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "isTrustedForwarder":
		return method.Outputs.Pack(c.Trusted)
	case "enemyTypesCount":
		return method.Outputs.Pack(big.NewInt(c.EnemyTypes))
	}
	return nil, errors.New("chaintest: unknown engine method")
}

// callPlanet answers ownedPlanet and getPlanetIdByOwner alike.
func (c *Chain) callPlanet(data []byte) ([]byte, error) {
	method, args, err := unpackCall(clients.PlanetNFTContractABI(), data)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	id := c.Planets[args[0].(common.Address)]
	c.mu.Unlock()
	return method.Outputs.Pack(big.NewInt(id))
}

func unpackCall(parsed abi.ABI, data []byte) (*abi.Method, []interface{}, error) {
	method, err := parsed.MethodById(data[:4])
	if err != nil {
		return nil, nil, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, err
	}
	return method, args, nil
}

func (c *Chain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint64(len(c.sent)), nil
}

func (c *Chain) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (c *Chain) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}

func (c *Chain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if c.SendGate != nil {
		c.Sending <- struct{}{}
		select {
		case <-c.SendGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	method, args, err := unpackCall(clients.ForwarderABI(), tx.Data())
	if err != nil {
		return err
	}
	if method.Name != "execute" {
		return errors.New("chaintest: relayer sent something other than execute")
	}
	req := *abi.ConvertType(args[0], new(clients.ForwardRequest)).(*clients.ForwardRequest)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, tx)
	c.nonces[req.From] = new(big.Int).Add(c.nonce(req.From), big.NewInt(1))
	return nil
}

func (c *Chain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ReceiptErr != nil {
		return nil, c.ReceiptErr
	}
	for _, tx := range c.sent {
		if tx.Hash() == hash {
			return &types.Receipt{Status: c.ReceiptStatus, TxHash: hash, BlockNumber: big.NewInt(42), GasUsed: 80_000}, nil
		}
	}
	return nil, ethereum.NotFound
}
