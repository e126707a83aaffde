package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/devblac/quest-verify/internal/logging"
	"github.com/devblac/quest-verify/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGuard(t *testing.T) (*Guard, *storage.Store) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewGuard(store, nil, logging.Discard()), store
}

func claim(claimant, task string) Claim {
	return Claim{
		ChainID:    8453,
		TxHash:     "0xABCDEF",
		ClaimantID: claimant,
		TaskID:     task,
		TaskType:   "deploy_lock",
	}
}

func TestRegisterIdempotent(t *testing.T) {
	g, store := newGuard(t)
	ctx := context.Background()

	out, err := g.Register(ctx, claim("alice", "t1"))
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, out.Status)

	for i := 0; i < 2; i++ {
		out, err = g.Register(ctx, claim("alice", "t1"))
		require.NoError(t, err)
		assert.Equal(t, StatusAlreadyRegistered, out.Status)
	}

	entries, err := store.ListLedgerEntries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "0xabcdef", entries[0].TxHash)
}

func TestRegisterConflict(t *testing.T) {
	g, _ := newGuard(t)
	ctx := context.Background()

	_, err := g.Register(ctx, claim("alice", "t1"))
	require.NoError(t, err)

	for _, c := range []Claim{claim("bob", "t1"), claim("alice", "t2"), claim("bob", "t2")} {
		out, err := g.Register(ctx, c)
		require.NoError(t, err)
		assert.Equal(t, StatusConflict, out.Status, "%s/%s", c.ClaimantID, c.TaskID)
		assert.Equal(t, "alice", out.Entry.ClaimantID)
	}

	// unprefixed and upper-case spellings hit the same key
	c := claim("bob", "t9")
	c.TxHash = "abcdef"
	out, err := g.Register(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, StatusConflict, out.Status)
}

func TestRegisterConcurrentSingleWinner(t *testing.T) {
	g, _ := newGuard(t)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses = map[Status]int{}
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := g.Register(ctx, claim("alice", "t1"))
			if err != nil {
				t.Errorf("register: %v", err)
				return
			}
			mu.Lock()
			statuses[out.Status]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, statuses[StatusAccepted])
	assert.Equal(t, 11, statuses[StatusAlreadyRegistered])
}

type brokenStore struct{ err error }

func (b brokenStore) Reserve(context.Context, storage.LedgerEntry) (storage.LedgerEntry, bool, error) {
	return storage.LedgerEntry{}, false, b.err
}

func TestRegisterTransportError(t *testing.T) {
	g := NewGuard(brokenStore{err: errors.New("connection reset")}, nil, logging.Discard())
	out, err := g.Register(context.Background(), claim("alice", "t1"))
	require.NoError(t, err)
	assert.Equal(t, StatusTransportError, out.Status)
	assert.Contains(t, out.Detail, "connection reset")
	assert.Nil(t, out.Entry)
}

func TestRegisterRejectsIncompleteClaim(t *testing.T) {
	g, _ := newGuard(t)
	_, err := g.Register(context.Background(), Claim{ChainID: 1, TxHash: "0x1"})
	assert.ErrorIs(t, err, storage.ErrInvalidEntry)
}

func TestNormalizeTxHash(t *testing.T) {
	assert.Equal(t, "0xab", NormalizeTxHash(" 0xAB "))
	assert.Equal(t, "0xab", NormalizeTxHash("AB"))
	assert.Equal(t, "", NormalizeTxHash(""))
}
