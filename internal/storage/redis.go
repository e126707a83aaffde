package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

const ledgerKeyPrefix = "ledger:"

// RedisStore keeps entries as JSON values under ledger:{chain}:{hash}. SETNX arbitrates
// concurrent reservations; a local LRU remembers keys already known to be taken.
type RedisStore struct {
	rdb   *redis.Client
	cache *lru.Cache[string, LedgerEntry]
}

// OpenRedis connects using a redis:// URL.
func OpenRedis(ctx context.Context, url string, cacheSize int) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewRedisStore(rdb, cacheSize)
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb *redis.Client, cacheSize int) (*RedisStore, error) {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	cache, err := lru.New[string, LedgerEntry](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}
	return &RedisStore{rdb: rdb, cache: cache}, nil
}

func ledgerKey(chainID uint64, txHash string) string {
	return fmt.Sprintf("%s%d:%s", ledgerKeyPrefix, chainID, txHash)
}

func (s *RedisStore) Reserve(ctx context.Context, e LedgerEntry) (LedgerEntry, bool, error) {
	if err := e.Validate(); err != nil {
		return LedgerEntry{}, false, err
	}
	key := ledgerKey(e.ChainID, e.TxHash)

	// Entries never change once written, so a cached key is final.
	if cached, ok := s.cache.Get(key); ok {
		return cached, false, nil
	}

	if e.ID == "" {
		e.ID = key
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return LedgerEntry{}, false, fmt.Errorf("encode ledger entry: %w", err)
	}

	inserted, err := s.rdb.SetNX(ctx, key, payload, 0).Result()
	if err != nil {
		return LedgerEntry{}, false, fmt.Errorf("redis setnx: %w", err)
	}
	if inserted {
		s.cache.Add(key, e)
		return e, true, nil
	}

	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return LedgerEntry{}, false, fmt.Errorf("redis get: %w", err)
	}
	var existing LedgerEntry
	if err := json.Unmarshal(raw, &existing); err != nil {
		return LedgerEntry{}, false, fmt.Errorf("decode ledger entry: %w", err)
	}
	s.cache.Add(key, existing)
	return existing, false, nil
}

// ListLedgerEntries scans all ledger keys; intended for audit tooling, not hot paths.
func (s *RedisStore) ListLedgerEntries(ctx context.Context, limit int) ([]LedgerEntry, error) {
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := s.rdb.Scan(ctx, cursor, ledgerKeyPrefix+"*", 200).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	out := make([]LedgerEntry, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var e LedgerEntry
		if err := json.Unmarshal([]byte(str), &e); err != nil {
			return nil, fmt.Errorf("decode ledger entry: %w", err)
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if n := clampLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if s == nil || s.rdb == nil {
		return errors.New("store not initialized")
	}
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}
