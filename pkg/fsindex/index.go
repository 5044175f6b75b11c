// Copyright (c) 2025, NVIDIA CORPORATION.  All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fsindex

import (
	"context"
	"database/sql"
	_ "embed"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/NVIDIA/hostaudit/pkg/errors"
	"github.com/NVIDIA/hostaudit/pkg/kernel"
)

//go:embed schema.sql
var schemaSQL string

// maxLinkHops bounds ResolvePath on link cycles, matching the kernel's ELOOP limit.
const maxLinkHops = 40

const entryColumns = "id, parent, uid, gid, caps, mode, type, name, path, target"

// Index is a queryable SQLite copy of a filesystem Tree.
type Index struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens or creates the index database at dbPath.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "fsindex", "db", dbPath)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sql.Open(driverName, dsn(dbPath, [][2]string{{"journal_mode", "WAL"}, {"foreign_keys", "1"}}))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	logger.Debug("opened filesystem index")
	return &Index{db: db, logger: logger}, nil
}

// Close closes the database.
func (x *Index) Close() error {
	return x.db.Close()
}

// Insert replaces the content of the index with tree in one transaction.
func (x *Index) Insert(ctx context.Context, tree *Tree) error {
	start := time.Now()
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, stmt := range []string{"DELETE FROM links", "DELETE FROM inodes"} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to clear index: %w", err)
		}
	}

	ins, err := tx.PrepareContext(ctx, "INSERT INTO inodes ("+entryColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer ins.Close()
	for i := range tree.Entries {
		e := &tree.Entries[i]
		var parent, target any
		if e.Parent != 0 {
			parent = e.Parent
		}
		if e.Target != "" {
			target = e.Target
		}
		if _, err := ins.ExecContext(ctx, e.ID, parent, e.UID, e.GID, int64(e.Caps), int64(e.Mode), e.Type, e.Name, e.Path, target); err != nil {
			return fmt.Errorf("failed to insert %s: %w", e.FullPath(), err)
		}
	}

	link, err := tx.PrepareContext(ctx, "INSERT INTO links (name, target) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare link insert: %w", err)
	}
	defer link.Close()
	for _, l := range tree.Links {
		if _, err := link.ExecContext(ctx, l.Path, l.Target); err != nil {
			return fmt.Errorf("failed to insert link %s: %w", l.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit index: %w", err)
	}
	x.logger.Debug("filesystem index written",
		slog.Int("entries", len(tree.Entries)),
		slog.Int("links", len(tree.Links)),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// ResolvePath substitutes directory links in p one hop at a time until no
// recorded link is a prefix of it.
func (x *Index) ResolvePath(ctx context.Context, p string) (string, error) {
	p = filepath.Clean(p)
	for range maxLinkHops {
		var name, target string
		err := x.db.QueryRowContext(ctx,
			`SELECT name, target FROM links
			 WHERE name = ?1 OR substr(?1, 1, length(name) + 1) = name || '/'
			 ORDER BY length(name) DESC LIMIT 1`, p).Scan(&name, &target)
		if stderrors.Is(err, sql.ErrNoRows) {
			return p, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to resolve %s: %w", p, err)
		}
		p = filepath.Clean(target + strings.TrimPrefix(p, name))
	}
	return "", errors.NewWithContext(errors.ErrCodeInvalidRequest,
		"too many levels of symbolic links", map[string]any{"path": p})
}

// FileProperties returns the entry at path after resolving directory links.
func (x *Index) FileProperties(ctx context.Context, path string) (*Entry, error) {
	resolved, err := x.ResolvePath(ctx, path)
	if err != nil {
		return nil, err
	}
	row := x.db.QueryRowContext(ctx, "SELECT "+entryColumns+" FROM inodes WHERE path = ? AND name = ?",
		filepath.Dir(resolved), filepath.Base(resolved))
	e, err := scanEntry(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewWithContext(errors.ErrCodeNotFound, "path not in filesystem index",
			map[string]any{"path": path, "resolved": resolved})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", resolved, err)
	}
	return e, nil
}

// Query returns the entries matching q ordered by id.
func (x *Index) Query(ctx context.Context, q *Query) ([]Entry, error) {
	rows, err := x.db.QueryContext(ctx, "SELECT "+entryColumns+" FROM inodes"+q.clause()+" ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query index: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Count returns the number of entries matching q.
func (x *Index) Count(ctx context.Context, q *Query) (int, error) {
	var n int
	if err := x.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM inodes"+q.clause()).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count index: %w", err)
	}
	return n, nil
}

// Links returns every recorded directory link.
func (x *Index) Links(ctx context.Context) ([]Link, error) {
	rows, err := x.db.QueryContext(ctx, "SELECT name, target FROM links ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	defer rows.Close()
	var out []Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.Path, &l.Target); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var (
		e      Entry
		parent sql.NullInt64
		target sql.NullString
		caps   int64
		mode   int64
	)
	if err := s.Scan(&e.ID, &parent, &e.UID, &e.GID, &caps, &mode, &e.Type, &e.Name, &e.Path, &target); err != nil {
		return nil, err
	}
	e.Parent = parent.Int64
	e.Target = target.String
	e.Caps = kernel.CapSet(caps)
	e.Mode = uint32(mode)
	return &e, nil
}
