// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package offline

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS queue (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    prompt TEXT NOT NULL,
    model TEXT NOT NULL DEFAULT '',
    enqueued_at INTEGER NOT NULL, -- Unix nanoseconds
    retries INTEGER NOT NULL DEFAULT 0
);
`

// SQLStore persists the queue in a SQLite database so it survives restarts.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore opens (creating if needed) the queue database at path.
func OpenSQLStore(path string) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create queue directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create queue schema: %w", err)
	}

	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Load(ctx context.Context) ([]Request, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, prompt, model, enqueued_at, retries FROM queue ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to load queue: %w", err)
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		var (
			r  Request
			ts int64
		)
		if err := rows.Scan(&r.ID, &r.Prompt, &r.Model, &ts, &r.Retries); err != nil {
			return nil, fmt.Errorf("failed to scan queued request: %w", err)
		}
		r.EnqueuedAt = time.Unix(0, ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) Append(ctx context.Context, req Request) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO queue (id, prompt, model, enqueued_at, retries) VALUES (?, ?, ?, ?, ?)`,
		req.ID, req.Prompt, req.Model, req.EnqueuedAt.UnixNano(), req.Retries)
	if err != nil {
		return fmt.Errorf("failed to append to queue: %w", err)
	}
	return nil
}

func (s *SQLStore) Update(ctx context.Context, req Request) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue SET prompt = ?, model = ?, retries = ? WHERE id = ?`,
		req.Prompt, req.Model, req.Retries, req.ID)
	if err != nil {
		return fmt.Errorf("failed to update queued request: %w", err)
	}
	return expectOne(res)
}

func (s *SQLStore) Remove(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove queued request: %w", err)
	}
	return expectOne(res)
}

func (s *SQLStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM queue`); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
