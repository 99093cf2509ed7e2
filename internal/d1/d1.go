// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

// Package d1 implements the D1 gateway (spec §4.5): single-statement and
// batch SQL execution against a modernc.org/sqlite-backed database, with
// the query/execute distinction and the result envelope the worker
// runtime expects.
package d1

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// Statement is a single SQL statement with positional parameters.
type Statement struct {
	SQL    string
	Params []interface{}
}

// Result is the envelope returned for one executed statement, matching
// the production D1 response shape plus its deprecated legacy fields.
type Result struct {
	Results []map[string]interface{} `json:"results,omitempty"`
	Success bool                     `json:"success"`
	Meta    Meta                     `json:"meta"`
}

// Meta carries the per-statement execution metadata.
type Meta struct {
	Duration  float64 `json:"duration"`
	Changes   int64   `json:"changes"`
	LastRowID int64   `json:"last_row_id"`
	// RowsRead/RowsWritten are deprecated legacy fields preserved for
	// compatibility with older worker bindings that still read them.
	RowsRead    int64 `json:"rows_read"`
	RowsWritten int64 `json:"rows_written"`
}

// ErrRowsFromExecute is returned when /execute is asked to run a
// statement that would return rows (spec §4.5: "rejects statements that
// would return rows").
var ErrRowsFromExecute = fmt.Errorf("d1: execute does not accept row-returning statements")

// Gateway is a single D1 database gateway.
type Gateway struct {
	db   *sql.DB
	path string
}

// Open opens (creating if necessary) the sqlite database at path.
func Open(path string) (*Gateway, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("d1: opening database: %w", err)
	}
	db.SetMaxOpenConns(1)
	return &Gateway{db: db, path: path}, nil
}

// Close releases the underlying database handle.
func (g *Gateway) Close() error { return g.db.Close() }

// Query runs statements that may return rows inside a single
// transaction that rolls back on the first failure.
func (g *Gateway) Query(ctx context.Context, stmts []Statement) ([]Result, error) {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("d1: beginning transaction: %w", err)
	}
	results := make([]Result, 0, len(stmts))
	for _, st := range stmts {
		r, err := g.runQuery(ctx, tx, st)
		if err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		results = append(results, r)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("d1: committing transaction: %w", err)
	}
	return results, nil
}

// Execute runs statements that must not return rows, inside a single
// transaction that rolls back on the first failure (spec §4.5: "batches
// run inside an explicit transaction and roll back on first failure").
func (g *Gateway) Execute(ctx context.Context, stmts []Statement) ([]Result, error) {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("d1: beginning transaction: %w", err)
	}

	results := make([]Result, 0, len(stmts))
	for _, st := range stmts {
		if looksLikeQuery(st.SQL) {
			_ = tx.Rollback()
			return nil, ErrRowsFromExecute
		}
		r, err := g.runExec(tx, st)
		if err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		results = append(results, r)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("d1: committing transaction: %w", err)
	}
	return results, nil
}

func (g *Gateway) runExec(tx *sql.Tx, st Statement) (Result, error) {
	start := time.Now()
	res, err := tx.Exec(st.SQL, st.Params...)
	if err != nil {
		return Result{}, fmt.Errorf("d1: executing statement: %w", err)
	}
	changes, _ := res.RowsAffected()
	lastID, _ := res.LastInsertId()
	return Result{
		Success: true,
		Meta: Meta{
			Duration:    time.Since(start).Seconds() * 1000,
			Changes:     changes,
			LastRowID:   lastID,
			RowsWritten: changes,
		},
	}, nil
}

func (g *Gateway) runQuery(ctx context.Context, db *sql.Tx, st Statement) (Result, error) {
	start := time.Now()
	rows, err := db.QueryContext(ctx, st.SQL, st.Params...)
	if err != nil {
		// Not every statement executed through /query returns rows (e.g. an
		// INSERT); fall back to exec semantics for those.
		res, execErr := db.ExecContext(ctx, st.SQL, st.Params...)
		if execErr != nil {
			return Result{}, fmt.Errorf("d1: running statement: %w", err)
		}
		changes, _ := res.RowsAffected()
		lastID, _ := res.LastInsertId()
		return Result{
			Success: true,
			Meta: Meta{
				Duration:    time.Since(start).Seconds() * 1000,
				Changes:     changes,
				LastRowID:   lastID,
				RowsWritten: changes,
			},
		}, nil
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return Result{}, err
	}

	var out []map[string]interface{}
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Result{}, err
		}
		row := make(map[string]interface{}, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return Result{}, err
	}

	return Result{
		Results: out,
		Success: true,
		Meta: Meta{
			Duration: time.Since(start).Seconds() * 1000,
			RowsRead: int64(len(out)),
		},
	}, nil
}

// looksLikeQuery reports whether sql would return rows, to reject it from
// /execute. A statement starting with SELECT, PRAGMA or WITH, or carrying
// "RETURNING" anywhere, counts as returning rows; everything else does not.
func looksLikeQuery(stmt string) bool {
	trimmed := strings.TrimSpace(strings.ToUpper(stmt))
	if strings.HasPrefix(trimmed, "SELECT") || strings.HasPrefix(trimmed, "PRAGMA") || strings.HasPrefix(trimmed, "WITH") {
		return true
	}
	return strings.Contains(trimmed, "RETURNING")
}

// Dump returns the full database file as a blob (spec §4.5 "dump returns
// the full database as a blob").
func (g *Gateway) Dump(_ context.Context) ([]byte, error) {
	return os.ReadFile(g.path)
}
