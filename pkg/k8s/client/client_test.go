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

package client

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/hostaudit/pkg/errors"
)

const validKubeconfig = `apiVersion: v1
kind: Config
clusters:
- name: lab
  cluster:
    server: https://10.0.0.1:6443
contexts:
- name: lab
  context:
    cluster: lab
    user: auditor
current-context: lab
users:
- name: auditor
  user:
    token: abc
`

func TestResolveKubeconfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	t.Run("explicit path wins", func(t *testing.T) {
		t.Setenv(EnvVarKubeconfig, "/from/env")
		assert.Equal(t, "/explicit", resolveKubeconfig("/explicit"))
	})

	t.Run("env var", func(t *testing.T) {
		t.Setenv(EnvVarKubeconfig, "/from/env")
		assert.Equal(t, "/from/env", resolveKubeconfig(""))
	})

	t.Run("nothing available", func(t *testing.T) {
		t.Setenv(EnvVarKubeconfig, "")
		assert.Empty(t, resolveKubeconfig(""))
	})

	t.Run("home config", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("HOME", home)
		t.Setenv(EnvVarKubeconfig, "")
		dir := filepath.Join(home, ".kube")
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config"), []byte(validKubeconfig), 0o600))
		assert.Equal(t, filepath.Join(dir, "config"), resolveKubeconfig(""))
	})
}

func TestBuildKubeClient(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, _, err := BuildKubeClient("/nonexistent/path/to/kubeconfig")
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrCodeScanner))
		assert.Contains(t, err.Error(), "failed to build kube config")
	})

	t.Run("invalid content", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "kubeconfig")
		require.NoError(t, os.WriteFile(path, []byte("invalid yaml content"), 0o600))
		_, _, err := BuildKubeClient(path)
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrCodeScanner))
	})

	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "kubeconfig")
		require.NoError(t, os.WriteFile(path, []byte(validKubeconfig), 0o600))
		cs, cfg, err := BuildKubeClient(path)
		require.NoError(t, err)
		assert.NotNil(t, cs)
		assert.Equal(t, "https://10.0.0.1:6443", cfg.Host)
	})
}

func TestGetKubeClientSingleton(t *testing.T) {
	reset := func() {
		clientOnce = sync.Once{}
		cachedClient = nil
		cachedConfig = nil
		clientErr = nil
	}
	reset()
	t.Cleanup(reset)

	path := filepath.Join(t.TempDir(), "kubeconfig")
	require.NoError(t, os.WriteFile(path, []byte(validKubeconfig), 0o600))
	t.Setenv(EnvVarKubeconfig, path)

	var wg sync.WaitGroup
	configs := make(chan any, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, cfg, err := GetKubeClientWithConfig("")
			assert.NoError(t, err)
			configs <- cfg
		}()
	}
	wg.Wait()
	close(configs)

	first := <-configs
	for cfg := range configs {
		assert.Same(t, first, cfg)
	}
}
