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

package captable

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/hostaudit/pkg/errors"
)

func TestEmbeddedCapabilities(t *testing.T) {
	caps, err := Capabilities("")
	require.NoError(t, err)
	assert.Equal(t, 41, caps.Len())

	// CAP_NET_ADMIN | CAP_NET_RAW
	assert.Equal(t, []string{"CAP_NET_ADMIN", "CAP_NET_RAW"}, caps.Names(0x3000))
	assert.Empty(t, caps.Names(0))

	bit, ok := caps.Bit("CAP_SYS_ADMIN")
	require.True(t, ok)
	assert.Equal(t, uint(21), bit)
}

func TestEmbeddedFlags(t *testing.T) {
	flags, err := FDFlags("")
	require.NoError(t, err)
	// O_RDWR with O_CLOEXEC
	assert.Equal(t, []string{"O_RDWR", "O_CLOEXEC"}, flags.Names(0o2000002))
}

func TestLoadOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "caps.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"CAP_B": 1, "CAP_A": 0}`), 0o644))

	tbl, err := Capabilities(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"CAP_A", "CAP_B"}, tbl.Names(3))
}

func TestLoadYAMLOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "caps.yaml")
	require.NoError(t, os.WriteFile(path, []byte("CAP_CHOWN: 0\nCAP_KILL: 5\n"), 0o644))

	tbl, err := Capabilities(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"CAP_CHOWN", "CAP_KILL"}, tbl.Names(0b100001))
}

func TestLoadErrors(t *testing.T) {
	_, err := Capabilities(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeScanner, errors.CodeOf(err))

	bad := filepath.Join(t.TempDir(), "caps.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"CAP_A": "zero"}`), 0o644))
	_, err = Capabilities(bad)
	assert.Equal(t, errors.ErrCodeScanner, errors.CodeOf(err))
	assert.Contains(t, err.Error(), "invalid translation table")

	_, err = Parse([]byte(`{"X": 64}`))
	assert.Equal(t, errors.ErrCodeScanner, errors.CodeOf(err))

	_, err = Parse([]byte(`not json`))
	assert.Equal(t, errors.ErrCodeScanner, errors.CodeOf(err))
}
