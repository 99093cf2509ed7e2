// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite"
)

// SQLiteStore backs a namespace with the single
// storage(namespace, key, value BLOB, attributes TEXT) table described in
// spec §6, keyed on (namespace, key). One connection is held per
// namespace-backed database file, per spec §5's "one connection per
// namespace" concurrency note.
type SQLiteStore struct {
	db        *sql.DB
	namespace string
}

// OpenSQLiteStore opens (creating if needed) the sqlite database at path
// and ensures the shared storage table exists, scoped to namespace.
func OpenSQLiteStore(path, namespace string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	const ddl = `CREATE TABLE IF NOT EXISTS storage (
		namespace TEXT NOT NULL,
		key TEXT NOT NULL,
		value BLOB,
		attributes TEXT,
		PRIMARY KEY (namespace, key)
	)`
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, namespace: namespace}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, Attributes, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT value, attributes FROM storage WHERE namespace = ? AND key = ?`,
		s.namespace, key)

	var value []byte
	var rawAttrs sql.NullString
	if err := row.Scan(&value, &rawAttrs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, Attributes{}, false, nil
		}
		return nil, Attributes{}, false, err
	}

	var attrs Attributes
	if rawAttrs.Valid && rawAttrs.String != "" {
		if err := json.Unmarshal([]byte(rawAttrs.String), &attrs); err != nil {
			return nil, Attributes{}, false, err
		}
	}

	return value, attrs, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key string, value []byte, attrs Attributes) error {
	raw, err := json.Marshal(attrs)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO storage (namespace, key, value, attributes) VALUES (?, ?, ?, ?)
		 ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, attributes = excluded.attributes`,
		s.namespace, key, value, string(raw))
	return err
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM storage WHERE namespace = ? AND key = ?`, s.namespace, key)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) List(ctx context.Context, prefix, cursor string, limit int) (ListResult, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, attributes FROM storage
		 WHERE namespace = ? AND key LIKE ? ESCAPE '\' AND key > ?
		 ORDER BY key ASC LIMIT ?`,
		s.namespace, escapeLike(prefix)+"%", cursor, limit+1)
	if err != nil {
		return ListResult{}, err
	}
	defer rows.Close()

	result := ListResult{Complete: true}
	for rows.Next() {
		var key string
		var rawAttrs sql.NullString
		if err := rows.Scan(&key, &rawAttrs); err != nil {
			return ListResult{}, err
		}
		if len(result.Keys) == limit {
			result.Complete = false
			break
		}
		var attrs Attributes
		if rawAttrs.Valid && rawAttrs.String != "" {
			_ = json.Unmarshal([]byte(rawAttrs.String), &attrs)
		}
		result.Keys = append(result.Keys, ListEntry{Key: key, Attributes: attrs})
	}
	if err := rows.Err(); err != nil {
		return ListResult{}, err
	}

	if !result.Complete && len(result.Keys) > 0 {
		result.Cursor = result.Keys[len(result.Keys)-1].Key
	}

	return result, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// escapeLike escapes LIKE metacharacters in a user-controlled prefix.
func escapeLike(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(s)
}
