package bindings

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/zalouser/internal/upgrade"
)

// DefaultDBName is the SQLite database inside the state directory.
const DefaultDBName = "zalouser-state.db"

// SQLitePersister mirrors the store into a SQLite table. Each Save replaces
// the table contents in one transaction.
type SQLitePersister struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLitePersister, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	if _, err := upgrade.Apply(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open bindings db: %w", err)
	}
	db.SetMaxOpenConns(1)
	return &SQLitePersister{db: db}, nil
}

// Close closes the database.
func (p *SQLitePersister) Close() error { return p.db.Close() }

func (p *SQLitePersister) Load(ctx context.Context) ([]Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT account_id, target, thread_id, is_group, child_session_key, agent_id,
		       label, bound_at, last_touched_at, ttl_ms, expires_at
		FROM subagent_bindings
		ORDER BY bound_at`)
	if err != nil {
		return nil, fmt.Errorf("query bindings: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.AccountID, &r.To, &r.ThreadID, &r.IsGroup, &r.ChildSessionKey,
			&r.AgentID, &r.Label, &r.BoundAt, &r.LastTouchedAt, &r.TTLMs, &r.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan binding: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (p *SQLitePersister) Save(ctx context.Context, records []Record) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM subagent_bindings`); err != nil {
		return fmt.Errorf("clear bindings: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO subagent_bindings (account_id, target, thread_id, is_group, child_session_key,
			agent_id, label, bound_at, last_touched_at, ttl_ms, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.AccountID, r.To, r.ThreadID, r.IsGroup, r.ChildSessionKey,
			r.AgentID, r.Label, r.BoundAt, r.LastTouchedAt, r.TTLMs, r.ExpiresAt); err != nil {
			return fmt.Errorf("insert binding %s: %w", r.To, err)
		}
	}
	return tx.Commit()
}
