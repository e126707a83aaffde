package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type fakeEthClient struct {
	receipts map[common.Hash]*types.Receipt
	txs      map[common.Hash]*types.Transaction
	sender   common.Address
	headers  map[uint64]*types.Header
	callOut  []byte
	sawDL    bool
}

func (f *fakeEthClient) ChainID(context.Context) (*big.Int, error) { return big.NewInt(8453), nil }

func (f *fakeEthClient) TransactionReceipt(ctx context.Context, h common.Hash) (*types.Receipt, error) {
	if _, ok := ctx.Deadline(); ok {
		f.sawDL = true
	}
	if r, ok := f.receipts[h]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (f *fakeEthClient) TransactionByHash(_ context.Context, h common.Hash) (*types.Transaction, bool, error) {
	if tx, ok := f.txs[h]; ok {
		return tx, false, nil
	}
	return nil, false, ethereum.NotFound
}

func (f *fakeEthClient) TransactionSender(context.Context, *types.Transaction, common.Hash, uint) (common.Address, error) {
	return f.sender, nil
}

func (f *fakeEthClient) HeaderByNumber(_ context.Context, n *big.Int) (*types.Header, error) {
	if h, ok := f.headers[n.Uint64()]; ok {
		return h, nil
	}
	return nil, ethereum.NotFound
}

func (f *fakeEthClient) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return f.callOut, nil
}

func TestReceiptResolvesSenderAndDestination(t *testing.T) {
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tx := types.NewTx(&types.LegacyTx{Nonce: 1, To: &to, Value: big.NewInt(0), Gas: 21000, GasPrice: big.NewInt(1)})
	hash := common.HexToHash("0x01")
	sender := common.HexToAddress("0x00000000000000000000000000000000000000bb")

	fc := &fakeEthClient{
		receipts: map[common.Hash]*types.Receipt{hash: {Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(42)}},
		txs:      map[common.Hash]*types.Transaction{hash: tx},
		sender:   sender,
	}
	gw := NewRPCGateway(fc, 8453, time.Second)

	rcpt, err := gw.Receipt(context.Background(), hash)
	if err != nil {
		t.Fatalf("receipt: %v", err)
	}
	if !fc.sawDL {
		t.Fatalf("expected per-call deadline")
	}
	if rcpt.From != sender || rcpt.To == nil || *rcpt.To != to {
		t.Fatalf("unexpected from/to: %s %v", rcpt.From.Hex(), rcpt.To)
	}
	if rcpt.BlockNumber != 42 || rcpt.ChainID != 8453 || !rcpt.Succeeded() {
		t.Fatalf("unexpected receipt: %+v", rcpt)
	}
}

func TestReceiptMapsNotFound(t *testing.T) {
	gw := NewRPCGateway(&fakeEthClient{}, 1, time.Second)
	_, err := gw.Receipt(context.Background(), common.HexToHash("0x02"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBlockTimestamp(t *testing.T) {
	fc := &fakeEthClient{headers: map[uint64]*types.Header{7: {Number: big.NewInt(7), Time: 1700000000}}}
	gw := NewRPCGateway(fc, 1, 0)
	ts, err := gw.BlockTimestamp(context.Background(), 7)
	if err != nil || ts != 1700000000 {
		t.Fatalf("timestamp = %d err=%v", ts, err)
	}
	if _, err := gw.BlockTimestamp(context.Background(), 8); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetNamesAndOrder(t *testing.T) {
	set := NewSet()
	f := common.HexToAddress("0x00000000000000000000000000000000000000ff")
	set.Add(NewRPCGateway(&fakeEthClient{}, 8453, 0), "", &f)
	set.Add(NewRPCGateway(&fakeEthClient{}, 10, 0), "OP Mainnet", nil)
	set.Add(NewRPCGateway(&fakeEthClient{}, 999999, 0), "", nil)

	ids := set.IDs()
	if len(ids) != 3 || ids[0] != 10 || ids[2] != 999999 {
		t.Fatalf("unexpected ids %v", ids)
	}
	if set.Name(8453) != "Base" || set.Name(10) != "OP Mainnet" || set.Name(999999) != "Chain 999999" {
		t.Fatalf("unexpected names: %s %s %s", set.Name(8453), set.Name(10), set.Name(999999))
	}
	if got, ok := set.Factory(8453); !ok || got != f {
		t.Fatalf("factory not registered")
	}
	if _, ok := set.Factory(10); ok {
		t.Fatalf("unexpected factory for chain 10")
	}
}
