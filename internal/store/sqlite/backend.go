// Package sqlite is a store.Backend on a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	brainErrors "github.com/harunnryd/brain/internal/errors"
	"github.com/harunnryd/brain/internal/store"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	collection TEXT NOT NULL,
	id TEXT NOT NULL,
	owner TEXT NOT NULL,
	data TEXT NOT NULL,
	updated_at_unix_ms INTEGER NOT NULL,
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_records_owner ON records(collection, owner);
`

// DefaultFileName is the database file created inside the data directory.
const DefaultFileName = "brain.db"

type Backend struct {
	db *sql.DB
}

var _ store.Backend = (*Backend)(nil)

// Open opens or creates the database at path.
func Open(path string) (*Backend, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" || p == "." {
		return nil, brainErrors.InvalidInput("missing sqlite path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Backend{db: db}, nil
}

func (b *Backend) Put(ctx context.Context, collection string, rec store.Record) error {
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	data := string(rec.Data)
	if data == "" {
		data = "null"
	}
	_, err := b.db.ExecContext(ctx, `
INSERT INTO records(collection, id, owner, data, updated_at_unix_ms)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(collection, id) DO UPDATE SET
	owner = excluded.owner,
	data = excluded.data,
	updated_at_unix_ms = excluded.updated_at_unix_ms
`, collection, rec.ID, rec.Owner, data, updated.UnixMilli())
	return err
}

func (b *Backend) Get(ctx context.Context, collection, id string) (store.Record, error) {
	row := b.db.QueryRowContext(ctx, `
SELECT id, owner, data, updated_at_unix_ms
FROM records
WHERE collection = ? AND id = ?
`, collection, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, brainErrors.NotFound(fmt.Sprintf("%s/%s", collection, id))
	}
	return rec, err
}

func (b *Backend) List(ctx context.Context, collection, owner string) ([]store.Record, error) {
	query := `SELECT id, owner, data, updated_at_unix_ms FROM records WHERE collection = ?`
	args := []any{collection}
	if owner != "" {
		query += ` AND owner = ?`
		args = append(args, owner)
	}
	query += ` ORDER BY id ASC`

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]store.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (b *Backend) Delete(ctx context.Context, collection, id string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM records WHERE collection = ? AND id = ?`, collection, id)
	return err
}

func (b *Backend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (store.Record, error) {
	var (
		rec  store.Record
		data string
		ms   int64
	)
	if err := s.Scan(&rec.ID, &rec.Owner, &data, &ms); err != nil {
		return store.Record{}, err
	}
	rec.Data = []byte(data)
	rec.UpdatedAt = time.UnixMilli(ms)
	return rec, nil
}
