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
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/NVIDIA/hostaudit/pkg/defaults"
	"github.com/NVIDIA/hostaudit/pkg/kernel"
)

// Entry is one filesystem object. Path is the containing directory and
// Name the last element, so the root of a walk over "/" has both set to "/".
type Entry struct {
	ID     int64         `json:"id"`
	Parent int64         `json:"parent"`
	UID    int           `json:"uid"`
	GID    int           `json:"gid"`
	Caps   kernel.CapSet `json:"caps"`
	Mode   uint32        `json:"mode"`
	Type   string        `json:"type"`
	Name   string        `json:"name"`
	Path   string        `json:"path"`
	Target string        `json:"target,omitempty"`
}

// FullPath returns the absolute path of the entry.
func (e *Entry) FullPath() string {
	return filepath.Join(e.Path, e.Name)
}

// Link is a symlink to a directory, with its target made absolute.
type Link struct {
	Path   string `json:"path"`
	Target string `json:"target"`
}

// Tree is the result of a walk. Entries are in pre-order, so a parent
// always precedes its children.
type Tree struct {
	Entries []Entry `json:"entries"`
	Links   []Link  `json:"links"`
}

// Walker collects ownership, mode and capability metadata of a directory tree.
type Walker struct {
	// Root is where the walk starts. Defaults to "/".
	Root string
	// Exclude lists directories that are neither recorded nor descended into.
	// Defaults to defaults.ExcludedPaths.
	Exclude []string
	// FileCaps reads the capability mask of a regular file. Defaults to
	// kernel.FileCaps.
	FileCaps func(path string) (kernel.CapSet, error)
	Logger   *slog.Logger
}

// Walk traverses the tree once, depth first.
func (w *Walker) Walk(ctx context.Context) (*Tree, error) {
	root := w.Root
	if root == "" {
		root = "/"
	}
	root = filepath.Clean(root)
	exclude := w.Exclude
	if exclude == nil {
		exclude = defaults.ExcludedPaths
	}
	fileCaps := w.FileCaps
	if fileCaps == nil {
		fileCaps = kernel.FileCaps
	}
	log := w.Logger
	if log == nil {
		log = slog.Default()
	}

	tree := &Tree{Entries: []Entry{}, Links: []Link{}}
	dirIDs := map[string]int64{}
	var lstatFailures int

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root && d == nil {
				return err
			}
			// unreadable directory: already recorded, contents skipped
			log.Debug("walk error", slog.String("path", p), slog.String("error", err.Error()))
			return nil
		}
		if len(tree.Entries)%1024 == 0 {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
		}
		if d.IsDir() && p != root && excluded(p, exclude) {
			return filepath.SkipDir
		}

		e := Entry{
			ID:   int64(len(tree.Entries) + 1),
			Name: filepath.Base(p),
			Path: filepath.Dir(p),
		}
		if p != root {
			e.Parent = dirIDs[filepath.Dir(p)]
		}

		var st unix.Stat_t
		if err := unix.Lstat(p, &st); err != nil {
			lstatFailures++
			log.Debug("failed to lstat", slog.String("path", p), slog.String("error", err.Error()))
			e.UID, e.GID, e.Type = -1, -1, "?"
			tree.Entries = append(tree.Entries, e)
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		e.UID = int(st.Uid)
		e.GID = int(st.Gid)
		e.Mode = st.Mode
		e.Type = TypeChar(st.Mode)

		switch st.Mode & unix.S_IFMT {
		case unix.S_IFDIR:
			dirIDs[p] = e.ID
		case unix.S_IFREG:
			caps, err := fileCaps(p)
			if err != nil {
				log.Debug("failed to read file capabilities", slog.String("path", p), slog.String("error", err.Error()))
			}
			e.Caps = caps
		case unix.S_IFLNK:
			target, err := os.Readlink(p)
			if err == nil {
				e.Target = target
				if fi, serr := os.Stat(p); serr == nil && fi.IsDir() {
					if !filepath.IsAbs(target) {
						target = filepath.Join(filepath.Dir(p), target)
					}
					tree.Links = append(tree.Links, Link{Path: p, Target: filepath.Clean(target)})
				}
			}
		}
		tree.Entries = append(tree.Entries, e)
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Debug("filesystem walk complete",
		slog.String("root", root),
		slog.Int("entries", len(tree.Entries)),
		slog.Int("links", len(tree.Links)),
		slog.Int("lstat_failures", lstatFailures))
	return tree, nil
}

func excluded(p string, exclude []string) bool {
	for _, x := range exclude {
		if p == x || strings.HasPrefix(p, strings.TrimSuffix(x, "/")+"/") {
			return true
		}
	}
	return false
}

// TypeChar returns the ls(1) type character of a raw st_mode.
func TypeChar(mode uint32) string {
	switch mode & unix.S_IFMT {
	case unix.S_IFDIR:
		return "d"
	case unix.S_IFREG:
		return "-"
	case unix.S_IFLNK:
		return "l"
	case unix.S_IFIFO:
		return "p"
	case unix.S_IFSOCK:
		return "s"
	case unix.S_IFCHR:
		return "c"
	case unix.S_IFBLK:
		return "b"
	default:
		return "?"
	}
}

// ModeString renders a raw st_mode the way ls(1) does, e.g. "-rwsr-xr-x".
func ModeString(mode uint32) string {
	t := TypeChar(mode)
	if t == "-" || t == "?" {
		t = "-"
	}
	b := []byte(t + "rwxrwxrwx")
	for i := 0; i < 9; i++ {
		if mode&(1<<uint(8-i)) == 0 {
			b[i+1] = '-'
		}
	}
	special := []struct {
		bit  uint32
		pos  int
		x, s byte
	}{
		{unix.S_ISUID, 3, 's', 'S'},
		{unix.S_ISGID, 6, 's', 'S'},
		{unix.S_ISVTX, 9, 't', 'T'},
	}
	for _, sp := range special {
		if mode&sp.bit == 0 {
			continue
		}
		if b[sp.pos] == 'x' {
			b[sp.pos] = sp.x
		} else {
			b[sp.pos] = sp.s
		}
	}
	return string(b)
}
