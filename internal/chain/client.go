package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// EthClient captures the subset of ethclient used by the gateway.
type EthClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionSender(ctx context.Context, tx *types.Transaction, block common.Hash, index uint) (common.Address, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// RPCGateway implements Gateway over an EVM JSON-RPC endpoint. Every call gets its own timeout.
type RPCGateway struct {
	client  EthClient
	chainID uint64
	timeout time.Duration
}

// Dial connects to an EVM node for the given chain id.
func Dial(rpcURL string, chainID uint64, timeout time.Duration) (*RPCGateway, error) {
	c, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial evm rpc: %w", err)
	}
	return NewRPCGateway(c, chainID, timeout), nil
}

// NewRPCGateway wraps an existing client.
func NewRPCGateway(client EthClient, chainID uint64, timeout time.Duration) *RPCGateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RPCGateway{client: client, chainID: chainID, timeout: timeout}
}

func (g *RPCGateway) ChainID() uint64 { return g.chainID }

// RemoteChainID asks the node which chain it serves.
func (g *RPCGateway) RemoteChainID(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	id, err := g.client.ChainID(ctx)
	if err != nil {
		return 0, fmt.Errorf("chain id: %w", err)
	}
	return id.Uint64(), nil
}

// Receipt fetches the receipt and resolves sender and destination from the transaction.
func (g *RPCGateway) Receipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	rcpt, err := g.client.TransactionReceipt(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("receipt %s on chain %d: %w", hash.Hex(), g.chainID, mapNotFound(err))
	}
	tx, _, err := g.client.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("transaction %s on chain %d: %w", hash.Hex(), g.chainID, mapNotFound(err))
	}
	from, err := g.client.TransactionSender(ctx, tx, rcpt.BlockHash, rcpt.TransactionIndex)
	if err != nil {
		return nil, fmt.Errorf("sender of %s: %w", hash.Hex(), err)
	}

	var blockNumber uint64
	if rcpt.BlockNumber != nil {
		blockNumber = rcpt.BlockNumber.Uint64()
	}
	return &Receipt{
		ChainID:     g.chainID,
		TxHash:      hash,
		Status:      rcpt.Status,
		From:        from,
		To:          tx.To(),
		BlockNumber: blockNumber,
		Logs:        rcpt.Logs,
	}, nil
}

// BlockTimestamp returns the unix timestamp of the given block.
func (g *RPCGateway) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	header, err := g.client.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return 0, fmt.Errorf("header %d on chain %d: %w", number, g.chainID, mapNotFound(err))
	}
	return header.Time, nil
}

// CallContract runs a read-only call against the latest block.
func (g *RPCGateway) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	out, err := g.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on chain %d: %w", to.Hex(), g.chainID, err)
	}
	return out, nil
}

func mapNotFound(err error) error {
	if errors.Is(err, ethereum.NotFound) {
		return ErrNotFound
	}
	return err
}
