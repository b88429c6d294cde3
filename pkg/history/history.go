// Package history is an optional posture-history store: it appends every
// computed QualitySnapshot to a small posture_history table so a caller can
// chart trust-score or weighted-risk trend over time, something the
// baseline file alone (which only ever holds the current and prior
// snapshot) cannot answer. This is a SPEC_FULL addition layered on top of
// the ratchet's own baseline file, never a replacement for it: Append is
// best-effort and its failures never affect a validate/gate decision.
//
// Grounded on the teacher's core/pkg/store/receipt_store_sqlite.go and
// core/pkg/store/ledger/{sql_ledger,postgres_ledger}.go: a database/sql
// store behind a driver-agnostic DSN, sqlite by default, postgres when
// configured, with the same create-table-if-missing migration on first
// open.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/compas-dev/compas/pkg/gatetypes"
)

// DSNEnvVar is the environment variable selecting the history store's
// backing database. Empty means history is disabled.
const DSNEnvVar = "AI_DX_HISTORY_DSN"

// DefaultSQLitePath is the conventional sqlite DSN for an on-disk history
// store. Nothing in this package opens it implicitly: OpenFromEnv returns
// nil when AI_DX_HISTORY_DSN is unset, and a caller that wants this store
// passes the path to Open.
const DefaultSQLitePath = ".agents/mcp/compas/state/history.db"

// Store appends QualitySnapshot records and reads them back in order.
type Store struct {
	db     *sql.DB
	driver string
}

// Entry is one row of posture_history: a snapshot plus the repo-relative
// identity it was recorded for.
type Entry struct {
	ID         int64                    `json:"id"`
	RepoRoot   string                   `json:"repo_root"`
	RecordedAt string                   `json:"recorded_at"`
	Snapshot   gatetypes.QualitySnapshot `json:"snapshot"`
}

// OpenFromEnv opens the history store configured via AI_DX_HISTORY_DSN,
// returning (nil, nil) when the variable is unset — history is an
// opt-in feature, and a nil *Store is valid: every method on a nil
// receiver is a no-op.
func OpenFromEnv() (*Store, error) {
	dsn := os.Getenv(DSNEnvVar)
	if dsn == "" {
		return nil, nil
	}
	return Open(dsn)
}

// Open opens (and migrates) a history store for the given DSN. DSNs
// prefixed "postgres://" or "postgresql://" use lib/pq; everything else is
// treated as a sqlite file path, including the bare default path.
func Open(dsn string) (*Store, error) {
	driver := "sqlite"
	dataSource := dsn
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver = "postgres"
		dataSource = dsn
	}

	db, err := sql.Open(driver, dataSource)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", driver, err)
	}
	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	if s == nil {
		return nil
	}
	autoincrement := "AUTOINCREMENT"
	idType := "INTEGER PRIMARY KEY " + autoincrement
	if s.driver == "postgres" {
		idType = "SERIAL PRIMARY KEY"
	}
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS posture_history (
			id %s,
			repo_root TEXT NOT NULL,
			recorded_at TEXT NOT NULL,
			trust_score INTEGER NOT NULL,
			weighted_risk INTEGER NOT NULL,
			findings_total INTEGER NOT NULL,
			config_hash TEXT NOT NULL,
			snapshot_json TEXT NOT NULL
		)`, idType)
	_, err := s.db.ExecContext(context.Background(), query)
	if err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// Append persists one snapshot for repoRoot at recordedAt (RFC3339).
// A nil Store makes this a no-op, matching the "history is optional and
// fail-open" design: callers should still treat a non-nil error as
// worth logging, but never as a reason to fail the gate.
func (s *Store) Append(ctx context.Context, repoRoot, recordedAt string, snap gatetypes.QualitySnapshot) error {
	if s == nil {
		return nil
	}
	blob, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("history: marshal snapshot: %w", err)
	}
	placeholder := placeholders(s.driver, 7)
	query := fmt.Sprintf(`INSERT INTO posture_history
		(repo_root, recorded_at, trust_score, weighted_risk, findings_total, config_hash, snapshot_json)
		VALUES (%s)`, placeholder)
	_, err = s.db.ExecContext(ctx, query,
		repoRoot, recordedAt, snap.TrustScore, snap.WeightedRisk, snap.FindingsTotal, snap.ConfigHash, string(blob))
	if err != nil {
		return fmt.Errorf("history: insert: %w", err)
	}
	return nil
}

// Recent returns the most recent limit entries for repoRoot, newest first.
func (s *Store) Recent(ctx context.Context, repoRoot string, limit int) ([]Entry, error) {
	if s == nil {
		return nil, nil
	}
	var query string
	if s.driver == "postgres" {
		query = `SELECT id, repo_root, recorded_at, snapshot_json FROM posture_history
			WHERE repo_root = $1 ORDER BY id DESC LIMIT $2`
	} else {
		query = `SELECT id, repo_root, recorded_at, snapshot_json FROM posture_history
			WHERE repo_root = ? ORDER BY id DESC LIMIT ?`
	}
	rows, err := s.db.QueryContext(ctx, query, repoRoot, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e    Entry
			blob string
		)
		if err := rows.Scan(&e.ID, &e.RepoRoot, &e.RecordedAt, &blob); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(blob), &e.Snapshot); err != nil {
			return nil, fmt.Errorf("history: unmarshal snapshot: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Close releases the underlying database handle. A no-op on a nil Store.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func placeholders(driver string, n int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		if driver == "postgres" {
			parts[i] = fmt.Sprintf("$%d", i+1)
		} else {
			parts[i] = "?"
		}
	}
	return strings.Join(parts, ", ")
}
