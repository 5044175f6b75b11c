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
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/NVIDIA/hostaudit/pkg/kernel"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// buildTree lays out:
//
//	root/
//	  a/
//	    file    0644
//	    suid    4755, caps 0x3000
//	  excluded/
//	    hidden
//	  flink -> a/file
//	  link  -> a
func buildTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "excluded"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "file"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "suid"), []byte("x"), 0o755))
	require.NoError(t, unix.Chmod(filepath.Join(root, "a", "suid"), 0o4755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "excluded", "hidden"), []byte("x"), 0o644))
	require.NoError(t, os.Symlink("a/file", filepath.Join(root, "flink")))
	require.NoError(t, os.Symlink("a", filepath.Join(root, "link")))
	return root
}

func testWalker(root string) *Walker {
	return &Walker{
		Root:    root,
		Exclude: []string{filepath.Join(root, "excluded")},
		FileCaps: func(p string) (kernel.CapSet, error) {
			if filepath.Base(p) == "suid" {
				return 0x3000, nil
			}
			return 0, nil
		},
		Logger: testLogger(),
	}
}
