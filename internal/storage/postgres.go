package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is the Postgres ledger backend, for deployments with several verifier replicas.
type PGStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects and initializes the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &PGStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGStore) initSchema(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS ledger_entries (
  id               TEXT PRIMARY KEY,
  chain_id         BIGINT NOT NULL,
  tx_hash          TEXT NOT NULL,
  claimant_id      TEXT NOT NULL,
  task_id          TEXT NOT NULL,
  task_type        TEXT NOT NULL,
  verified_amount  TEXT,
  event_name       TEXT,
  block_number     BIGINT,
  log_index        BIGINT,
  created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
  UNIQUE (chain_id, tx_hash)
);
CREATE INDEX IF NOT EXISTS ledger_entries_claimant ON ledger_entries (claimant_id);
`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *PGStore) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return errors.New("store not initialized")
	}
	return s.pool.Ping(ctx)
}

// Reserve relies on ON CONFLICT DO NOTHING: a row comes back only for the caller that inserted it.
func (s *PGStore) Reserve(ctx context.Context, e LedgerEntry) (LedgerEntry, bool, error) {
	if err := e.Validate(); err != nil {
		return LedgerEntry{}, false, err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var id string
	err := s.pool.QueryRow(ctx, `
INSERT INTO ledger_entries (id, chain_id, tx_hash, claimant_id, task_id, task_type,
  verified_amount, event_name, block_number, log_index, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (chain_id, tx_hash) DO NOTHING
RETURNING id`,
		e.ID, int64(e.ChainID), e.TxHash, e.ClaimantID, e.TaskID, e.TaskType,
		e.VerifiedAmount, e.EventName, toInt64Ptr(e.BlockNumber), toInt64Ptr(e.LogIndex), e.CreatedAt,
	).Scan(&id)
	switch {
	case err == nil:
		return e, true, nil
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return LedgerEntry{}, false, fmt.Errorf("reserve ledger entry: %w", err)
	}

	existing, err := scanPGEntry(s.pool.QueryRow(ctx, pgSelectColumns+` WHERE chain_id = $1 AND tx_hash = $2`, int64(e.ChainID), e.TxHash))
	if err != nil {
		return LedgerEntry{}, false, fmt.Errorf("get ledger entry: %w", err)
	}
	return existing, false, nil
}

const pgSelectColumns = `SELECT id, chain_id, tx_hash, claimant_id, task_id, task_type,
  verified_amount, event_name, block_number, log_index, created_at FROM ledger_entries`

func (s *PGStore) ListLedgerEntries(ctx context.Context, limit int) ([]LedgerEntry, error) {
	rows, err := s.pool.Query(ctx, pgSelectColumns+` ORDER BY created_at DESC, id LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		e, err := scanPGEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanPGEntry(row pgx.Row) (LedgerEntry, error) {
	var (
		e       LedgerEntry
		chainID int64
		block   *int64
		logIdx  *int64
	)
	if err := row.Scan(&e.ID, &chainID, &e.TxHash, &e.ClaimantID, &e.TaskID, &e.TaskType,
		&e.VerifiedAmount, &e.EventName, &block, &logIdx, &e.CreatedAt); err != nil {
		return LedgerEntry{}, err
	}
	e.ChainID = uint64(chainID)
	e.BlockNumber = fromInt64Ptr(block)
	e.LogIndex = fromInt64Ptr(logIdx)
	return e, nil
}

func toInt64Ptr(v *uint64) *int64 {
	if v == nil {
		return nil
	}
	n := int64(*v)
	return &n
}

func fromInt64Ptr(v *int64) *uint64 {
	if v == nil {
		return nil
	}
	n := uint64(*v)
	return &n
}
