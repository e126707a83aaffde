// Package ledger is the replay guard: it binds a piece of on-chain evidence to the first
// (claimant, task) that registers it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/devblac/quest-verify/internal/metrics"
	"github.com/devblac/quest-verify/internal/storage"
)

// Status is the outcome of a registration.
type Status string

const (
	StatusAccepted          Status = "accepted"
	StatusAlreadyRegistered Status = "already_registered"
	StatusConflict          Status = "conflict"
	StatusTransportError    Status = "transport_error"
)

// Claim is the evidence key plus its owner and optional audit facts.
type Claim struct {
	ChainID     uint64
	TxHash      string
	ClaimantID  string
	TaskID      string
	TaskType    string
	Amount      *string
	EventName   *string
	BlockNumber *uint64
	LogIndex    *uint64
}

// Outcome reports what happened. Entry is the stored record when one exists.
type Outcome struct {
	Status Status
	Detail string
	Entry  *storage.LedgerEntry
}

// Reserver is the storage operation the guard needs.
type Reserver interface {
	Reserve(ctx context.Context, e storage.LedgerEntry) (storage.LedgerEntry, bool, error)
}

// Guard registers claims against a store that provides per-key compare-and-set.
type Guard struct {
	store   Reserver
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewGuard(store Reserver, m *metrics.Metrics, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{store: store, metrics: m, logger: logger}
}

// NormalizeTxHash lowercases the hash and ensures the 0x prefix.
func NormalizeTxHash(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	if h != "" && !strings.HasPrefix(h, "0x") {
		h = "0x" + h
	}
	return h
}

// Register reserves the claim's evidence. The returned error is only set for a malformed
// claim; storage failures come back as StatusTransportError.
func (g *Guard) Register(ctx context.Context, c Claim) (Outcome, error) {
	entry := storage.LedgerEntry{
		ChainID:        c.ChainID,
		TxHash:         NormalizeTxHash(c.TxHash),
		ClaimantID:     c.ClaimantID,
		TaskID:         c.TaskID,
		TaskType:       c.TaskType,
		VerifiedAmount: c.Amount,
		EventName:      c.EventName,
		BlockNumber:    c.BlockNumber,
		LogIndex:       c.LogIndex,
	}
	if err := entry.Validate(); err != nil {
		return Outcome{}, err
	}

	stored, inserted, err := g.store.Reserve(ctx, entry)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidEntry) {
			return Outcome{}, err
		}
		g.logger.Error("ledger reserve failed", "chain_id", c.ChainID, "tx", entry.TxHash, "err", err)
		g.metrics.LedgerRegistration(string(StatusTransportError))
		g.metrics.Errors()
		return Outcome{Status: StatusTransportError, Detail: err.Error()}, nil
	}

	out := Outcome{Entry: &stored}
	switch {
	case inserted:
		out.Status = StatusAccepted
	case stored.ClaimantID == c.ClaimantID && stored.TaskID == c.TaskID:
		out.Status = StatusAlreadyRegistered
	default:
		out.Status = StatusConflict
		out.Detail = fmt.Sprintf("evidence already claimed for task %s", stored.TaskID)
		g.logger.Warn("ledger conflict", "chain_id", c.ChainID, "tx", entry.TxHash,
			"claimant", c.ClaimantID, "owner", stored.ClaimantID)
	}
	g.metrics.LedgerRegistration(string(out.Status))
	return out, nil
}
