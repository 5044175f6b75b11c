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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/hostaudit/pkg/defaults"
	"github.com/NVIDIA/hostaudit/pkg/errors"
)

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, k := range []string{"OUTPUT_DIR", "PARALLELISM", "CONNECT_RATE", "USE_CACHE", "COLLECT_FILES",
		"EXCLUDE", "SSH_USER", "SSH_IDENTITY", "PRIVILEGE_WRAPPER", "CAPTABLE"} {
		t.Setenv(EnvPrefix+"_"+k, "")
		require.NoError(t, os.Unsetenv(EnvPrefix+"_"+k))
	}
	return home
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, defaults.DumpRoot, cfg.OutputDir)
	assert.Equal(t, defaults.Parallelism, cfg.Parallelism)
	assert.InDelta(t, defaults.ConnectRate, cfg.ConnectRate, 1e-9)
	assert.Equal(t, defaults.SSHUser, cfg.SSHUser)
	assert.Equal(t, defaults.PrivilegeWrapper, cfg.PrivilegeWrapper)
	assert.False(t, cfg.UseCache)
	assert.Empty(t, cfg.Exclude)
}

func TestLoadHomeFile(t *testing.T) {
	home := isolate(t)
	content := `output-dir: /srv/audit
parallelism: 16
use-cache: true
exclude:
  - /var/cache
  - /home
ssh-identity: /keys/audit
`
	require.NoError(t, os.WriteFile(filepath.Join(home, FileName+".yaml"), []byte(content), 0o600))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/srv/audit", cfg.OutputDir)
	assert.Equal(t, 16, cfg.Parallelism)
	assert.True(t, cfg.UseCache)
	assert.Equal(t, []string{"/var/cache", "/home"}, cfg.Exclude)
	assert.Equal(t, "/keys/audit", cfg.SSHIdentity)
	assert.Equal(t, defaults.SSHUser, cfg.SSHUser)
}

func TestLoadExplicitFileAndEnv(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "audit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ssh-user: auditor\nparallelism: 2\n"), 0o600))

	t.Setenv("HOSTAUDIT_PARALLELISM", "8")
	t.Setenv("HOSTAUDIT_COLLECT_FILES", "true")
	t.Setenv("HOSTAUDIT_EXCLUDE", "/a,/b")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "auditor", cfg.SSHUser)
	assert.Equal(t, 8, cfg.Parallelism)
	assert.True(t, cfg.CollectFiles)
	assert.Equal(t, []string{"/a", "/b"}, cfg.Exclude)
}

func TestLoadErrors(t *testing.T) {
	isolate(t)

	t.Run("missing explicit file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrCodeScanner))
	})

	t.Run("malformed file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("parallelism: [\n"), 0o600))
		_, err := Load(path)
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrCodeScanner))
	})

	t.Run("invalid value", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "zero.yaml")
		require.NoError(t, os.WriteFile(path, []byte("parallelism: 0\n"), 0o600))
		_, err := Load(path)
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidRequest))
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"empty output dir", func(c *Config) { c.OutputDir = "" }, true},
		{"zero parallelism", func(c *Config) { c.Parallelism = 0 }, true},
		{"negative rate", func(c *Config) { c.ConnectRate = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
