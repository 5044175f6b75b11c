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

package dump

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/NVIDIA/hostaudit/pkg/defaults"
	aerrors "github.com/NVIDIA/hostaudit/pkg/errors"
	"github.com/NVIDIA/hostaudit/pkg/fsindex"
	"github.com/NVIDIA/hostaudit/pkg/serializer"
	"github.com/NVIDIA/hostaudit/pkg/snapshotter"
)

const (
	// MarkerFile identifies a directory as a dump. It is written before any
	// category so a partially written dump can still be cleared.
	MarkerFile = ".hostaudit.data"

	// CompleteFile is written after every category and the index are in
	// place. Without it the dump is a miss.
	CompleteFile = ".complete"

	// IndexFile holds the filesystem category.
	IndexFile = "filesystem.db"

	blobSuffix = ".json.gz"
)

// Store persists snapshots under one directory per host.
type Store struct {
	// Root is the store directory. Defaults to defaults.DumpRoot.
	Root   string
	Logger *slog.Logger
}

// New returns a Store rooted at root.
func New(root string, logger *slog.Logger) *Store {
	return &Store{Root: root, Logger: logger}
}

func (s *Store) root() string {
	if s.Root == "" {
		return defaults.DumpRoot
	}
	return s.Root
}

func (s *Store) log() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// SanitizeHost maps a host name to a directory name. Anything outside
// [A-Za-z0-9._@-] becomes '_'.
func SanitizeHost(host string) string {
	host = strings.TrimSpace(host)
	if host == "" || host == "." || host == ".." {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '_', r == '-', r == '@':
			return r
		default:
			return '_'
		}
	}, host)
}

// HostDir is the dump directory of host.
func (s *Store) HostDir(host string) string {
	return filepath.Join(s.root(), SanitizeHost(host))
}

func (s *Store) lockPath(host string) string {
	return filepath.Join(s.root(), "."+SanitizeHost(host)+".lock")
}

func (s *Store) blobPath(host, category string) string {
	return filepath.Join(s.HostDir(host), category+blobSuffix)
}

// IndexPath is the filesystem database of host.
func (s *Store) IndexPath(host string) string {
	return filepath.Join(s.HostDir(host), IndexFile)
}

// Exists reports whether a dump directory exists for host, complete or not.
func (s *Store) Exists(host string) bool {
	_, err := os.Stat(s.HostDir(host))
	return err == nil
}

// HasCache reports whether a complete dump of host exists: every blob
// category and, unless the snapshot was taken without files, the
// filesystem database. Partial dumps are misses.
func (s *Store) HasCache(host string) bool {
	if !fileExists(filepath.Join(s.HostDir(host), MarkerFile)) ||
		!fileExists(filepath.Join(s.HostDir(host), CompleteFile)) {
		return false
	}
	for _, c := range Categories {
		if !fileExists(s.blobPath(host, c.Name)) {
			return false
		}
	}
	var sys snapshotter.SystemData
	if err := s.readBlob(host, CategorySystemData, &sys); err != nil {
		s.log().Debug("unreadable system data, treating dump as missing",
			slog.String("host", host), slog.String("error", err.Error()))
		return false
	}
	if sys.CollectFiles && !fileExists(s.IndexPath(host)) {
		return false
	}
	return true
}

// Clear removes the dump of host. It refuses when the marker file is
// absent, so it never deletes a directory it did not create.
func (s *Store) Clear(ctx context.Context, host string) error {
	return s.withHostLock(ctx, host, func() error {
		dir := s.HostDir(host)
		if !fileExists(filepath.Join(dir, MarkerFile)) {
			return aerrors.NewWithContext(aerrors.ErrCodeCacheMissingLockfile,
				"refusing to clear directory without dump marker",
				map[string]any{"host": host, "dir": dir})
		}
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to clear dump of %s: %w", host, err)
		}
		s.log().Debug("cleared dump", slog.String("host", host), slog.String("dir", dir))
		return nil
	})
}

// Hosts lists the directory names of the dumps in the store, sorted.
func (s *Store) Hosts() ([]string, error) {
	entries, err := os.ReadDir(s.root())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list dump root: %w", err)
	}
	var hosts []string
	for _, e := range entries {
		if e.IsDir() && fileExists(filepath.Join(s.root(), e.Name(), MarkerFile)) {
			hosts = append(hosts, e.Name())
		}
	}
	sort.Strings(hosts)
	return hosts, nil
}

// Save writes snap as the dump of host, replacing any previous one.
func (s *Store) Save(ctx context.Context, host string, snap *snapshotter.Snapshot) error {
	return s.withHostLock(ctx, host, func() (err error) {
		if err = s.prepare(host); err != nil {
			return err
		}
		defer func() {
			if err != nil {
				s.discard(host)
			}
		}()
		for _, c := range Categories {
			blob, err := serializer.EncodeBlob(c.get(snap))
			if err != nil {
				return fmt.Errorf("failed to encode %s: %w", c.Name, err)
			}
			if err := s.writeBlob(host, c.Name, blob); err != nil {
				return err
			}
		}
		if snap.Filesystem != nil {
			if err := s.writeIndex(ctx, host, snap.Filesystem); err != nil {
				return err
			}
		}
		if err := s.markComplete(host); err != nil {
			return err
		}
		s.log().Info("saved dump", slog.String("host", host), slog.Int("processes", len(snap.Processes)))
		return nil
	})
}

// SaveStream decodes a probe stream from r and stores it as the dump of
// host. Blob frames are written as received; the filesystem frame is
// loaded into the database. The stream must carry every category.
func (s *Store) SaveStream(ctx context.Context, host string, r io.Reader) error {
	return s.withHostLock(ctx, host, func() (err error) {
		if err = s.prepare(host); err != nil {
			return err
		}
		defer func() {
			if err != nil {
				s.discard(host)
			}
		}()
		seen := make(map[string]bool, len(Categories))
		sr := serializer.NewStreamReader(r)
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			f, err := sr.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return aerrors.WrapWithContext(aerrors.ErrCodeUnavailable, "truncated probe stream", err,
					map[string]any{"host": host})
			}

			switch {
			case f.Name == CategoryFilesystem:
				var tree fsindex.Tree
				if err := serializer.DecodeBlob(f.Blob, &tree); err != nil {
					return fmt.Errorf("failed to decode filesystem of %s: %w", host, err)
				}
				if err := s.writeIndex(ctx, host, &tree); err != nil {
					return err
				}
			case isCategory(f.Name):
				if err := s.writeBlob(host, f.Name, f.Blob); err != nil {
					return err
				}
			default:
				s.log().Warn("ignoring unknown stream frame", slog.String("host", host), slog.String("frame", f.Name))
				continue
			}
			seen[f.Name] = true
		}
		for _, c := range Categories {
			if !seen[c.Name] {
				return aerrors.NewWithContext(aerrors.ErrCodeInvalidRequest, "probe stream is missing a category",
					map[string]any{"host": host, "category": c.Name})
			}
		}
		if err := s.markComplete(host); err != nil {
			return err
		}
		s.log().Info("saved dump from stream", slog.String("host", host))
		return nil
	})
}

// Load rebuilds the snapshot of host from its blobs. The filesystem stays
// in the database; use OpenIndex to query it.
func (s *Store) Load(host string) (*snapshotter.Snapshot, error) {
	if !s.HasCache(host) {
		return nil, aerrors.NewWithContext(aerrors.ErrCodeNotFound, "no complete dump",
			map[string]any{"host": host, "dir": s.HostDir(host)})
	}
	snap := snapshotter.NewSnapshot()
	for _, c := range Categories {
		if err := s.readBlob(host, c.Name, c.set(snap)); err != nil {
			return nil, err
		}
	}
	if snap.System != nil {
		snap.Hostname = snap.System.Hostname
	}
	return snap, nil
}

// OpenIndex opens the filesystem database of host.
func (s *Store) OpenIndex(ctx context.Context, host string) (*fsindex.Index, error) {
	p := s.IndexPath(host)
	if !fileExists(p) {
		return nil, aerrors.NewWithContext(aerrors.ErrCodeNotFound, "dump has no filesystem index",
			map[string]any{"host": host, "path": p})
	}
	return fsindex.Open(ctx, p, s.log())
}

// prepare creates the host directory and its marker, removing the
// completion file and stale categories from a previous dump.
func (s *Store) prepare(host string) error {
	dir := s.HostDir(host)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create dump directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, MarkerFile), nil, 0o644); err != nil {
		return fmt.Errorf("failed to write dump marker: %w", err)
	}
	if err := removeIfExists(filepath.Join(dir, CompleteFile)); err != nil {
		return fmt.Errorf("failed to reset dump: %w", err)
	}
	for _, c := range Categories {
		if err := removeIfExists(s.blobPath(host, c.Name)); err != nil {
			return fmt.Errorf("failed to remove stale %s: %w", c.Name, err)
		}
	}
	for _, p := range []string{s.IndexPath(host), s.indexTempPath(host)} {
		if err := removeDB(p); err != nil {
			return fmt.Errorf("failed to remove stale filesystem index: %w", err)
		}
	}
	return nil
}

// discard removes whatever a failed save left behind. The marker stays so
// the directory can still be cleared.
func (s *Store) discard(host string) {
	paths := []string{filepath.Join(s.HostDir(host), CompleteFile)}
	for _, c := range Categories {
		paths = append(paths, s.blobPath(host, c.Name))
	}
	for _, p := range paths {
		if err := removeIfExists(p); err != nil {
			s.log().Warn("failed to remove partial dump file", slog.String("host", host),
				slog.String("path", p), slog.String("error", err.Error()))
		}
	}
	for _, p := range []string{s.IndexPath(host), s.indexTempPath(host)} {
		if err := removeDB(p); err != nil {
			s.log().Warn("failed to remove partial filesystem index", slog.String("host", host),
				slog.String("path", p), slog.String("error", err.Error()))
		}
	}
}

func (s *Store) markComplete(host string) error {
	if err := os.WriteFile(filepath.Join(s.HostDir(host), CompleteFile), nil, 0o644); err != nil {
		return fmt.Errorf("failed to mark dump of %s complete: %w", host, err)
	}
	return nil
}

func (s *Store) indexTempPath(host string) string {
	return s.IndexPath(host) + ".tmp"
}

// writeBlob writes through a temporary file so readers only ever see
// complete categories.
func (s *Store) writeBlob(host, category string, blob []byte) error {
	p := s.blobPath(host, category)
	tmp, err := os.CreateTemp(filepath.Dir(p), "."+category+"-*")
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", category, err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after rename
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", category, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", category, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("failed to write %s: %w", category, err)
	}
	return nil
}

func (s *Store) readBlob(host, category string, v any) error {
	b, err := os.ReadFile(s.blobPath(host, category))
	if err != nil {
		return fmt.Errorf("failed to read %s of %s: %w", category, host, err)
	}
	if err := serializer.DecodeBlob(b, v); err != nil {
		return fmt.Errorf("failed to decode %s of %s: %w", category, host, err)
	}
	return nil
}

// writeIndex builds the database under a temporary name and renames it
// into place once the insert committed and the database is closed.
func (s *Store) writeIndex(ctx context.Context, host string, tree *fsindex.Tree) error {
	tmp := s.indexTempPath(host)
	if err := removeDB(tmp); err != nil {
		return fmt.Errorf("failed to reset filesystem index: %w", err)
	}
	idx, err := fsindex.Open(ctx, tmp, s.log())
	if err != nil {
		return err
	}
	if err := idx.Insert(ctx, tree); err != nil {
		idx.Close() //nolint:errcheck // insert error wins
		return err
	}
	if err := idx.Close(); err != nil {
		return fmt.Errorf("failed to close filesystem index of %s: %w", host, err)
	}
	if err := os.Rename(tmp, s.IndexPath(host)); err != nil {
		return fmt.Errorf("failed to install filesystem index of %s: %w", host, err)
	}
	return removeDB(tmp)
}

func removeIfExists(p string) error {
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// removeDB removes a SQLite database with its WAL and shared memory files.
func removeDB(p string) error {
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := removeIfExists(p + suffix); err != nil {
			return err
		}
	}
	return nil
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}
