// Package chain is the read-only EVM lookup layer: receipts with their sender,
// block timestamps and contract state, one gateway per chain id.
package chain

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrNotFound is returned when the node has no record of the requested transaction or block.
var ErrNotFound = errors.New("not found")

// Receipt is a finalized transaction as seen by one chain.
type Receipt struct {
	ChainID     uint64
	TxHash      common.Hash
	Status      uint64
	From        common.Address
	To          *common.Address
	BlockNumber uint64
	Logs        []*types.Log
}

// Succeeded reports whether the transaction executed without reverting.
func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == types.ReceiptStatusSuccessful
}

// Gateway is the per-chain lookup surface consumed by verification strategies.
type Gateway interface {
	ChainID() uint64
	Receipt(ctx context.Context, hash common.Hash) (*Receipt, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}
