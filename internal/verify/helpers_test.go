package verify

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/devblac/quest-verify/internal/chain"
	"github.com/devblac/quest-verify/internal/decoder"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

var (
	claimant    = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	stranger    = common.HexToAddress("0x00000000000000000000000000000000000000d2")
	vendorAddr  = common.HexToAddress("0x0000000000000000000000000000000000000a01")
	factoryAddr = common.HexToAddress("0x0000000000000000000000000000000000000f01")
	routerAddr  = common.HexToAddress("0x0000000000000000000000000000000000000b01")
	tokenA      = common.HexToAddress("0x000000000000000000000000000000000000a0a0")
	tokenB      = common.HexToAddress("0x000000000000000000000000000000000000b0b0")
	tokenC      = common.HexToAddress("0x000000000000000000000000000000000000c0c0")
	poolAB      = common.HexToAddress("0x0000000000000000000000000000000000001ab0")
	poolBC      = common.HexToAddress("0x0000000000000000000000000000000000001bc0")

	txHash = "0x" + "ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12"
	fixed  = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

type fakeGateway struct {
	mu        sync.Mutex
	id        uint64
	receipts  map[common.Hash]*chain.Receipt
	fetchErr  error
	timestamp uint64
	tsErr     error
	callOut   []byte
	callErr   error
	delay     time.Duration
	calls     int
}

func newFakeGateway(id uint64) *fakeGateway {
	return &fakeGateway{id: id, receipts: map[common.Hash]*chain.Receipt{}}
}

func (f *fakeGateway) ChainID() uint64 { return f.id }

func (f *fakeGateway) Receipt(_ context.Context, h common.Hash) (*chain.Receipt, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	rc, ok := f.receipts[h]
	if !ok {
		return nil, chain.ErrNotFound
	}
	return rc, nil
}

func (f *fakeGateway) BlockTimestamp(context.Context, uint64) (uint64, error) {
	return f.timestamp, f.tsErr
}

func (f *fakeGateway) CallContract(context.Context, common.Address, []byte) ([]byte, error) {
	return f.callOut, f.callErr
}

func (f *fakeGateway) put(rc *chain.Receipt) {
	rc.ChainID = f.id
	rc.TxHash = common.HexToHash(txHash)
	f.receipts[rc.TxHash] = rc
}

func okReceipt(from, to common.Address, logs ...*types.Log) *chain.Receipt {
	dest := to
	return &chain.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		From:        from,
		To:          &dest,
		BlockNumber: 1234,
		Logs:        logs,
	}
}

func mustDecoder(t *testing.T) *decoder.Decoder {
	t.Helper()
	d, err := decoder.New()
	require.NoError(t, err)
	return d
}

func addrTopic(a common.Address) common.Hash {
	return common.BytesToHash(a.Bytes())
}

// eventLog builds a log for an event of the embedded ABIs. indexed are address topics in order.
func eventLog(t *testing.T, d *decoder.Decoder, iface decoder.Interface, name string, emitter common.Address, indexed []common.Address, values ...any) *types.Log {
	t.Helper()
	ev, ok := d.EventSpec(iface, name)
	require.True(t, ok, "event %s", name)
	topics := []common.Hash{ev.ID}
	for _, a := range indexed {
		topics = append(topics, addrTopic(a))
	}
	var data []byte
	if len(values) > 0 {
		var err error
		data, err = ev.Inputs.NonIndexed().Pack(values...)
		require.NoError(t, err)
	}
	return &types.Log{Address: emitter, Topics: topics, Data: data, BlockNumber: 1234, Index: 7}
}

func swapLog(t *testing.T, d *decoder.Decoder, pool common.Address, amount0, amount1 int64) *types.Log {
	return eventLog(t, d, decoder.SwapPool, "Swap", pool, []common.Address{routerAddr, claimant},
		big.NewInt(amount0), big.NewInt(amount1), big.NewInt(1), big.NewInt(1), big.NewInt(0))
}

func taskConfig(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func frozen() time.Time { return fixed }
