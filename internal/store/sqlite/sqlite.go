package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rankgate/rankgate/internal/model"
	"github.com/rankgate/rankgate/internal/store"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// migrations is an ordered list of SQL migrations.
// Each migration runs exactly once, tracked by schema_version table.
var migrations = []string{
	// Migration 1: Initial schema
	`
CREATE TABLE IF NOT EXISTS pending_approvals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ip TEXT NOT NULL,
	kind TEXT NOT NULL,
	requested_at INTEGER NOT NULL,
	approved INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_pending_approvals_ip ON pending_approvals(ip);

CREATE TABLE IF NOT EXISTS approved_ips (
	ip TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS blocked_ips (
	ip TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL
);
`,
	// Future migrations go here:
	// Migration 2: `ALTER TABLE ...`,
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		)
	`); err != nil {
		return err
	}

	var currentVersion int
	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&currentVersion); err != nil {
		return err
	}

	for i := currentVersion; i < len(migrations); i++ {
		if _, err := db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, i+1); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", i+1, err)
		}
	}

	return nil
}

func (s *Store) Propose(ctx context.Context, ip string) error {
	// At most one unresolved record per IP; a second proposal while one
	// is pending is a no-op.
	var exists int
	row := s.db.QueryRowContext(ctx, `
SELECT COUNT(1) FROM pending_approvals WHERE ip = ? AND approved = 0
`, ip)
	if err := row.Scan(&exists); err != nil {
		return err
	}
	if exists > 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO pending_approvals (ip, kind, requested_at, approved)
VALUES (?, ?, ?, 0)
`, ip, model.KindSecondaryLogin, time.Now().Unix())
	return err
}

func (s *Store) Approve(ctx context.Context, ip string) error {
	var id int64
	row := s.db.QueryRowContext(ctx, `
SELECT id FROM pending_approvals
WHERE ip = ? AND approved = 0
ORDER BY id DESC
LIMIT 1
`, ip)
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return store.ErrNotFound
		}
		return err
	}
	if _, err := s.db.ExecContext(ctx, `
UPDATE pending_approvals SET approved = 1 WHERE id = ?
`, id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO approved_ips (ip, created_at) VALUES (?, ?)
`, ip, time.Now().Unix())
	return err
}

func (s *Store) Reject(ctx context.Context, ip string) error {
	_, err := s.db.ExecContext(ctx, `
DELETE FROM pending_approvals WHERE ip = ?
`, ip)
	return err
}

func (s *Store) ListPending(ctx context.Context) ([]model.PendingApproval, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, ip, kind, requested_at, approved
FROM pending_approvals
WHERE approved = 0
ORDER BY id DESC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []model.PendingApproval
	for rows.Next() {
		var p model.PendingApproval
		var requestedAt int64
		var approved int
		if err := rows.Scan(&p.ID, &p.IP, &p.Kind, &requestedAt, &approved); err != nil {
			return nil, err
		}
		p.RequestedAt = time.Unix(requestedAt, 0)
		p.Approved = approved != 0
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

func (s *Store) IsApproved(ctx context.Context, ip string) (bool, error) {
	return s.member(ctx, "approved_ips", ip)
}

func (s *Store) Block(ctx context.Context, ip string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO blocked_ips (ip, created_at) VALUES (?, ?)
`, ip, time.Now().Unix())
	return err
}

func (s *Store) IsBlocked(ctx context.Context, ip string) (bool, error) {
	return s.member(ctx, "blocked_ips", ip)
}

func (s *Store) member(ctx context.Context, table, ip string) (bool, error) {
	var n int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM `+table+` WHERE ip = ?`, ip)
	if err := row.Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}
