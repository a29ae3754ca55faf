package clients

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

// ChainBackend is the subset of *ethclient.Client the relay depends on.
type ChainBackend interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

var _ ChainBackend = (*ethclient.Client)(nil)

// DialChain connects to the first endpoint that answers eth_chainId and
// matches the expected chain id.
func DialChain(ctx context.Context, chainID int64, endpoints []string, log *logrus.Entry) (*ethclient.Client, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no RPC endpoints configured for chain %d", chainID)
	}

	var lastErr error
	for _, endpoint := range endpoints {
		client, err := ethclient.DialContext(ctx, endpoint)
		if err != nil {
			lastErr = err
			log.WithError(err).Warnf("⚠️  Failed to dial %s", endpoint)
			continue
		}

		probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		remoteID, err := client.ChainID(probeCtx)
		cancel()
		if err != nil {
			client.Close()
			lastErr = err
			log.WithError(err).Warnf("⚠️  RPC %s did not answer eth_chainId", endpoint)
			continue
		}
		if remoteID.Int64() != chainID {
			client.Close()
			lastErr = fmt.Errorf("endpoint %s reports chain %s, expected %d", endpoint, remoteID, chainID)
			log.Warn(lastErr.Error())
			continue
		}

		log.WithField("chain_id", chainID).Infof("✅ Connected to %s", endpoint)
		return client, nil
	}
	return nil, fmt.Errorf("all RPC endpoints failed for chain %d: %w", chainID, lastErr)
}
