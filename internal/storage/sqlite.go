package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store is the SQLite ledger backend.
type Store struct {
	db *sql.DB
}

// Open initializes a SQLite database and runs minimal schema setup.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// one writer connection; pragmas below are per connection
	db.SetMaxOpenConns(1)
	if err := configure(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	return s.db.PingContext(ctx)
}

func configure(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	return nil
}

func migrate(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	schema := `
CREATE TABLE IF NOT EXISTS ledger_entries (
  id               TEXT PRIMARY KEY,
  chain_id         INTEGER NOT NULL,
  tx_hash          TEXT NOT NULL,
  claimant_id      TEXT NOT NULL,
  task_id          TEXT NOT NULL,
  task_type        TEXT NOT NULL,
  verified_amount  TEXT,
  event_name       TEXT,
  block_number     INTEGER,
  log_index        INTEGER,
  created_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(chain_id, tx_hash)
);

CREATE INDEX IF NOT EXISTS ledger_entries_claimant ON ledger_entries (claimant_id);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Reserve inserts the entry; the unique (chain_id, tx_hash) constraint makes the insert the
// single point of arbitration between concurrent callers.
func (s *Store) Reserve(ctx context.Context, e LedgerEntry) (LedgerEntry, bool, error) {
	if err := e.Validate(); err != nil {
		return LedgerEntry{}, false, err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
INSERT INTO ledger_entries (id, chain_id, tx_hash, claimant_id, task_id, task_type,
  verified_amount, event_name, block_number, log_index, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(chain_id, tx_hash) DO NOTHING;
`, e.ID, int64(e.ChainID), e.TxHash, e.ClaimantID, e.TaskID, e.TaskType,
		nullString(e.VerifiedAmount), nullString(e.EventName), nullUint(e.BlockNumber), nullUint(e.LogIndex), e.CreatedAt.UTC())
	if err != nil {
		return LedgerEntry{}, false, fmt.Errorf("reserve ledger entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return LedgerEntry{}, false, fmt.Errorf("reserve ledger entry: %w", err)
	}
	if n == 1 {
		return e, true, nil
	}

	existing, err := s.get(ctx, e.ChainID, e.TxHash)
	if err != nil {
		return LedgerEntry{}, false, err
	}
	return existing, false, nil
}

const selectLedgerColumns = `SELECT id, chain_id, tx_hash, claimant_id, task_id, task_type,
  verified_amount, event_name, block_number, log_index, created_at FROM ledger_entries`

func (s *Store) get(ctx context.Context, chainID uint64, txHash string) (LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx, selectLedgerColumns+` WHERE chain_id = ? AND tx_hash = ?;`, int64(chainID), txHash)
	e, err := scanLedgerEntry(row)
	if err != nil {
		return LedgerEntry{}, fmt.Errorf("get ledger entry: %w", err)
	}
	return e, nil
}

// ListLedgerEntries returns the newest entries first.
func (s *Store) ListLedgerEntries(ctx context.Context, limit int) ([]LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, selectLedgerColumns+` ORDER BY created_at DESC, id LIMIT ?;`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLedgerEntry(row scanner) (LedgerEntry, error) {
	var (
		e         LedgerEntry
		chainID   int64
		amount    sql.NullString
		eventName sql.NullString
		block     sql.NullInt64
		logIndex  sql.NullInt64
	)
	if err := row.Scan(&e.ID, &chainID, &e.TxHash, &e.ClaimantID, &e.TaskID, &e.TaskType,
		&amount, &eventName, &block, &logIndex, &e.CreatedAt); err != nil {
		return LedgerEntry{}, err
	}
	e.ChainID = uint64(chainID)
	if amount.Valid {
		e.VerifiedAmount = &amount.String
	}
	if eventName.Valid {
		e.EventName = &eventName.String
	}
	if block.Valid {
		v := uint64(block.Int64)
		e.BlockNumber = &v
	}
	if logIndex.Valid {
		v := uint64(logIndex.Int64)
		e.LogIndex = &v
	}
	return e, nil
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullUint(v *uint64) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}
