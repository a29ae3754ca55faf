package clients

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"
)

// entityCreatedTopic is emitted once per created entity with the key in topic 1
// and the expiration block in the first data word.
var entityCreatedTopic = crypto.Keccak256Hash([]byte("GolemBaseStorageEntityCreated(uint256,uint256)"))

// GolemDBOptions configures the JSON-RPC entity store client.
type GolemDBOptions struct {
	RPCURL         string
	ChainID        int64
	PrivateKey     string
	StorageAddress common.Address
	Timeout        time.Duration
	PollInterval   time.Duration
}

// GolemDBClient talks to a GolemDB node. Reads use golembase_* JSON-RPC methods;
// writes are RLP-encoded storage transactions sent to the storage processor address.
type GolemDBClient struct {
	opts GolemDBOptions
	log  *logrus.Entry

	mu   sync.Mutex
	rpc  *rpc.Client
	eth  *ethclient.Client
	key  *ecdsa.PrivateKey
	from common.Address
}

// NewGolemDBClient returns an unconnected client.
func NewGolemDBClient(opts GolemDBOptions, log *logrus.Entry) *GolemDBClient {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Second
	}
	return &GolemDBClient{opts: opts, log: log}
}

// Connect dials the node once; later calls are no-ops.
func (g *GolemDBClient) Connect(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rpc != nil {
		return nil
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(g.opts.PrivateKey, "0x"))
	if err != nil {
		return fmt.Errorf("%w: invalid private key: %v", ErrStoreNotConnected, err)
	}

	client, err := rpc.DialContext(ctx, g.opts.RPCURL)
	if err != nil {
		return fmt.Errorf("%w: failed to connect to %s: %v", ErrStoreNotConnected, g.opts.RPCURL, err)
	}

	g.rpc = client
	g.eth = ethclient.NewClient(client)
	g.key = key
	g.from = crypto.PubkeyToAddress(key.PublicKey)
	g.log.WithFields(logrus.Fields{"rpc": g.opts.RPCURL, "account": g.from.Hex()}).Info("✅ Connected to GolemDB")
	return nil
}

func (g *GolemDBClient) handles(ctx context.Context) (*rpc.Client, *ethclient.Client, error) {
	if err := g.Connect(ctx); err != nil {
		return nil, nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rpc, g.eth, nil
}

type storageTransaction struct {
	Create []storageCreate
	Update []storageUpdate
	Delete []common.Hash
	Extend []storageExtend
}

type storageCreate struct {
	BTL                uint64
	Payload            []byte
	StringAnnotations  []StringAnnotation
	NumericAnnotations []NumericAnnotation
}

type storageUpdate struct {
	EntityKey          common.Hash
	BTL                uint64
	Payload            []byte
	StringAnnotations  []StringAnnotation
	NumericAnnotations []NumericAnnotation
}

type storageExtend struct {
	EntityKey      common.Hash
	NumberOfBlocks uint64
}

// CreateEntities writes creates in a single storage transaction and waits for its receipt.
func (g *GolemDBClient) CreateEntities(ctx context.Context, creates []EntityCreate) ([]CreateReceipt, error) {
	_, eth, err := g.handles(ctx)
	if err != nil {
		return nil, err
	}

	stx := storageTransaction{Create: make([]storageCreate, 0, len(creates))}
	for _, c := range creates {
		stx.Create = append(stx.Create, storageCreate{
			BTL:                c.BTL,
			Payload:            c.Data,
			StringAnnotations:  c.StringAnnotations,
			NumericAnnotations: c.NumericAnnotations,
		})
	}
	payload, err := rlp.EncodeToBytes(&stx)
	if err != nil {
		return nil, fmt.Errorf("encode storage transaction: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	nonce, err := eth.PendingNonceAt(ctx, g.from)
	if err != nil {
		return nil, fmt.Errorf("get nonce: %w", err)
	}
	gasPrice, err := eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get gas price: %w", err)
	}
	to := g.opts.StorageAddress
	gasLimit, err := eth.EstimateGas(ctx, ethereum.CallMsg{From: g.from, To: &to, Data: payload})
	if err != nil {
		gasLimit = 1_000_000
	}

	chainID := big.NewInt(g.opts.ChainID)
	tx, err := types.SignTx(types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     payload,
	}), types.LatestSignerForChainID(chainID), g.key)
	if err != nil {
		return nil, fmt.Errorf("sign storage transaction: %w", err)
	}
	if err := eth.SendTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("send storage transaction: %w", err)
	}

	receipt, err := g.waitReceipt(ctx, eth, tx.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("storage transaction %s failed", tx.Hash().Hex())
	}

	receipts := make([]CreateReceipt, 0, len(creates))
	for _, l := range receipt.Logs {
		if len(l.Topics) < 2 || l.Topics[0] != entityCreatedTopic {
			continue
		}
		r := CreateReceipt{EntityKey: l.Topics[1]}
		if len(l.Data) >= 32 {
			r.ExpirationBlock = new(big.Int).SetBytes(l.Data[:32]).Uint64()
		}
		receipts = append(receipts, r)
	}
	if len(receipts) != len(creates) {
		return nil, fmt.Errorf("storage transaction %s: expected %d created entities, got %d", tx.Hash().Hex(), len(creates), len(receipts))
	}
	return receipts, nil
}

func (g *GolemDBClient) waitReceipt(ctx context.Context, eth *ethclient.Client, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(g.opts.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := eth.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("receipt %s: %w", hash.Hex(), err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("receipt %s: timeout: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

type rpcQueryResult struct {
	Key   common.Hash `json:"key"`
	Value []byte      `json:"value"`
}

// QueryEntities runs a golembase query such as `type = "game_result" && score > 100`.
func (g *GolemDBClient) QueryEntities(ctx context.Context, query string) ([]EntityResult, error) {
	client, _, err := g.handles(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	var rows []rpcQueryResult
	if err := client.CallContext(ctx, &rows, "golembase_queryEntities", query); err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	results := make([]EntityResult, 0, len(rows))
	for _, row := range rows {
		results = append(results, EntityResult{EntityKey: row.Key, StorageValue: row.Value})
	}
	return results, nil
}

// GetEntityMetaData fetches annotations and expiry for key.
func (g *GolemDBClient) GetEntityMetaData(ctx context.Context, key common.Hash) (*EntityMetaData, error) {
	client, _, err := g.handles(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	var meta *EntityMetaData
	if err := client.CallContext(ctx, &meta, "golembase_getEntityMetaData", key); err != nil {
		return nil, fmt.Errorf("get entity metadata: %w", err)
	}
	if meta == nil {
		return nil, ErrEntityNotFound
	}
	return meta, nil
}

// Close releases the RPC connection.
func (g *GolemDBClient) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rpc != nil {
		g.rpc.Close()
		g.rpc = nil
		g.eth = nil
	}
}
