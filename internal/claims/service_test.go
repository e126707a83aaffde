package claims

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/devblac/quest-verify/internal/ledger"
	"github.com/devblac/quest-verify/internal/logging"
	"github.com/devblac/quest-verify/internal/sink"
	"github.com/devblac/quest-verify/internal/storage"
	"github.com/devblac/quest-verify/internal/verify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hash = "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

type recordingSink struct {
	mu   sync.Mutex
	got  []sink.ClaimPayload
	fail bool
}

func (r *recordingSink) Send(ctx context.Context, p sink.ClaimPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, p)
	if r.fail {
		return errors.New("sink down")
	}
	return nil
}

type brokenStore struct{}

func (brokenStore) Reserve(ctx context.Context, e storage.LedgerEntry) (storage.LedgerEntry, bool, error) {
	return storage.LedgerEntry{}, false, errors.New("connection refused")
}

func onChain(meta map[string]any) verify.Strategy {
	return verify.StrategyFunc(func(context.Context, verify.Request) verify.Result {
		return verify.Result{Success: true, Metadata: meta}
	})
}

func newRegistry(t *testing.T) *verify.Registry {
	t.Helper()
	reg := verify.NewRegistry()
	require.NoError(t, reg.Register("vendor_buy", onChain(map[string]any{
		"transactionHash": hash,
		"chainId":         uint64(8453),
		"eventName":       "Purchased",
		"blockNumber":     uint64(120),
		"logIndex":        uint(3),
		"amount":          "1000",
	})))
	require.NoError(t, reg.Register("daily_checkin", onChain(map[string]any{"verifiedAt": "2026-03-01T12:00:00Z"})))
	require.NoError(t, reg.Register("vendor_sell", verify.StrategyFunc(func(context.Context, verify.Request) verify.Result {
		return verify.Result{ErrorCode: verify.CodeTxFailed, ErrorMessage: "reverted"}
	})))
	return reg
}

func newService(t *testing.T, opts ...Option) (*Service, *storage.Store) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	guard := ledger.NewGuard(store, nil, logging.Discard())
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	return NewService(newRegistry(t), guard, opts...), store
}

func submission(taskID, claimant, taskType string) Submission {
	return Submission{TaskID: taskID, Request: verify.Request{TaskType: taskType, ClaimantID: claimant}}
}

func TestSubmitAcceptsThenIsIdempotent(t *testing.T) {
	rec := &recordingSink{}
	svc, store := newService(t, WithSinks(map[string]sink.Sender{"ops": rec}),
		WithNetworkNames(func(uint64) string { return "Base" }))
	ctx := context.Background()

	first, err := svc.Submit(ctx, submission("task-1", "user-1", "vendor_buy"))
	require.NoError(t, err)
	assert.True(t, first.Rewardable)
	assert.False(t, first.Duplicate)
	require.NotNil(t, first.Entry)
	assert.Equal(t, "1000", *first.Entry.VerifiedAmount)
	assert.Equal(t, uint64(3), *first.Entry.LogIndex)

	again, err := svc.Submit(ctx, submission("task-1", "user-1", "vendor_buy"))
	require.NoError(t, err)
	assert.False(t, again.Rewardable)
	assert.True(t, again.Duplicate)
	assert.True(t, again.Result.Success)
	assert.Equal(t, first.Entry.ID, again.Entry.ID)

	require.Len(t, rec.got, 1)
	assert.Equal(t, "Base", rec.got[0].Network)
	assert.Equal(t, uint64(8453), rec.got[0].ChainID)
	assert.Equal(t, "0x"+"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", rec.got[0].TxHash)

	entries, err := store.ListLedgerEntries(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSubmitConflictForOtherClaimant(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Submit(ctx, submission("task-1", "user-1", "vendor_buy"))
	require.NoError(t, err)

	other, err := svc.Submit(ctx, submission("task-1", "user-2", "vendor_buy"))
	require.NoError(t, err)
	assert.False(t, other.Rewardable)
	assert.False(t, other.Result.Success)
	assert.Equal(t, verify.CodeDuplicateSubmission, other.Result.ErrorCode)

	otherTask, err := svc.Submit(ctx, submission("task-2", "user-1", "vendor_buy"))
	require.NoError(t, err)
	assert.Equal(t, verify.CodeDuplicateSubmission, otherTask.Result.ErrorCode)
}

func TestSubmitLedgerUnavailable(t *testing.T) {
	guard := ledger.NewGuard(brokenStore{}, nil, logging.Discard())
	svc := NewService(newRegistry(t), guard, WithLogger(logging.Discard()))

	dec, err := svc.Submit(context.Background(), submission("task-1", "user-1", "vendor_buy"))
	require.NoError(t, err)
	assert.False(t, dec.Rewardable)
	assert.Equal(t, verify.CodeLedgerUnavailable, dec.Result.ErrorCode)
}

func TestSubmitEvidenceFreeIsRewardable(t *testing.T) {
	rec := &recordingSink{fail: true}
	svc, store := newService(t, WithSinks(map[string]sink.Sender{"ops": rec}))

	dec, err := svc.Submit(context.Background(), submission("checkin-1", "user-1", "daily_checkin"))
	require.NoError(t, err)
	assert.True(t, dec.Rewardable)
	assert.Nil(t, dec.Entry)
	require.Len(t, rec.got, 1)
	assert.Empty(t, rec.got[0].Network)

	entries, err := store.ListLedgerEntries(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSubmitFailuresAreNotRewardable(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	dec, err := svc.Submit(ctx, submission("task-1", "user-1", "vendor_sell"))
	require.NoError(t, err)
	assert.False(t, dec.Rewardable)
	assert.Equal(t, verify.CodeTxFailed, dec.Result.ErrorCode)

	dec, err = svc.Submit(ctx, submission("task-1", "user-1", "mint_nft"))
	require.NoError(t, err)
	assert.False(t, dec.Rewardable)
	assert.False(t, dec.Result.Success)
	assert.Equal(t, verify.CodeUnsupportedTaskType, dec.Result.ErrorCode)

	_, err = svc.Submit(ctx, submission("", "user-1", "vendor_buy"))
	assert.ErrorIs(t, err, ErrTaskIDRequired)
}

func TestVerifyDoesNotWriteLedger(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	res := svc.Verify(ctx, verify.Request{TaskType: "vendor_buy", ClaimantID: "user-1"})
	assert.True(t, res.Success)

	entries, err := store.ListLedgerEntries(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEvidenceKey(t *testing.T) {
	tests := []struct {
		name  string
		meta  map[string]any
		bound bool
	}{
		{"uint64 chain", map[string]any{"transactionHash": hash, "chainId": uint64(1)}, true},
		{"json number chain", map[string]any{"transactionHash": hash, "chainId": float64(10)}, true},
		{"missing hash", map[string]any{"chainId": uint64(1)}, false},
		{"missing chain", map[string]any{"transactionHash": hash}, false},
		{"zero chain", map[string]any{"transactionHash": hash, "chainId": uint64(0)}, false},
		{"nil meta", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, bound := evidenceKey(tt.meta)
			assert.Equal(t, tt.bound, bound)
		})
	}
}
