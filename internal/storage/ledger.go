// Package storage persists replay-ledger entries. Every backend reserves a
// (chain id, tx hash) key with a single conditional write.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/devblac/quest-verify/internal/config"
)

// ErrInvalidEntry is returned when an entry lacks its key or owner.
var ErrInvalidEntry = errors.New("invalid ledger entry")

// LedgerEntry is one reserved piece of evidence.
type LedgerEntry struct {
	ID             string    `json:"id"`
	ChainID        uint64    `json:"chainId"`
	TxHash         string    `json:"txHash"`
	ClaimantID     string    `json:"claimantId"`
	TaskID         string    `json:"taskId"`
	TaskType       string    `json:"taskType"`
	VerifiedAmount *string   `json:"verifiedAmount,omitempty"`
	EventName      *string   `json:"eventName,omitempty"`
	BlockNumber    *uint64   `json:"blockNumber,omitempty"`
	LogIndex       *uint64   `json:"logIndex,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Validate checks the fields every backend relies on.
func (e LedgerEntry) Validate() error {
	if e.ChainID == 0 || e.TxHash == "" {
		return fmt.Errorf("%w: chain id and tx hash are required", ErrInvalidEntry)
	}
	if e.ClaimantID == "" || e.TaskID == "" {
		return fmt.Errorf("%w: claimant id and task id are required", ErrInvalidEntry)
	}
	return nil
}

// LedgerStore is implemented by every backend.
type LedgerStore interface {
	// Reserve inserts e unless its key exists. It returns the stored entry and whether
	// this call created it.
	Reserve(ctx context.Context, e LedgerEntry) (LedgerEntry, bool, error)
	ListLedgerEntries(ctx context.Context, limit int) ([]LedgerEntry, error)
	Ping(ctx context.Context) error
	Close() error
}

// OpenLedger opens the backend named by the ledger config section.
func OpenLedger(ctx context.Context, cfg config.LedgerConfig) (LedgerStore, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite":
		return Open(cfg.Path)
	case "postgres":
		return OpenPostgres(ctx, cfg.DSN)
	case "redis":
		return OpenRedis(ctx, cfg.RedisURL, cfg.CacheSize)
	default:
		return nil, fmt.Errorf("unsupported ledger driver: %s", cfg.Driver)
	}
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}

var (
	_ LedgerStore = (*Store)(nil)
	_ LedgerStore = (*PGStore)(nil)
	_ LedgerStore = (*RedisStore)(nil)
)
