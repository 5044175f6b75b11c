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

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/NVIDIA/hostaudit/pkg/captable"
	"github.com/NVIDIA/hostaudit/pkg/dump"
	"github.com/NVIDIA/hostaudit/pkg/errors"
	"github.com/NVIDIA/hostaudit/pkg/fsindex"
	"github.com/NVIDIA/hostaudit/pkg/header"
	"github.com/NVIDIA/hostaudit/pkg/kernel"
	"github.com/NVIDIA/hostaudit/pkg/logging"
	"github.com/NVIDIA/hostaudit/pkg/namespace"
	"github.com/NVIDIA/hostaudit/pkg/serializer"
	"github.com/NVIDIA/hostaudit/pkg/snapshotter"
	"github.com/NVIDIA/hostaudit/pkg/topology"
)

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		name       string
		format     string
		wantFormat serializer.Format
		wantErr    bool
	}{
		{name: "yaml", format: "yaml", wantFormat: serializer.FormatYAML},
		{name: "json", format: "json", wantFormat: serializer.FormatJSON},
		{name: "table", format: "table", wantFormat: serializer.FormatTable},
		{name: "xml", format: "xml", wantErr: true},
		{name: "empty", format: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cli.Command{
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "format", Value: tt.format},
				},
				Action: func(_ context.Context, c *cli.Command) error {
					got, err := parseOutputFormat(c)
					if tt.wantErr {
						assert.Error(t, err)
						return nil
					}
					assert.NoError(t, err)
					assert.Equal(t, tt.wantFormat, got)
					return nil
				},
			}
			require.NoError(t, cmd.Run(context.Background(), []string{"test"}))
		})
	}
}

func TestSettingsPreferFlags(t *testing.T) {
	var (
		gotUser  string
		gotPar   int
		gotRate  float64
		gotCache bool
		gotExcl  []string
	)
	run := func(args ...string) {
		cmd := &cli.Command{
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "ssh-user"},
				&cli.IntFlag{Name: "parallelism"},
				&cli.FloatFlag{Name: "connect-rate"},
				&cli.BoolFlag{Name: "use-cache"},
				&cli.StringSliceFlag{Name: "exclude"},
			},
			Action: func(_ context.Context, c *cli.Command) error {
				gotUser = stringSetting(c, "ssh-user", "root")
				gotPar = intSetting(c, "parallelism", 4)
				gotRate = floatSetting(c, "connect-rate", 2)
				gotCache = boolSetting(c, "use-cache", true)
				gotExcl = sliceSetting(c, "exclude", []string{"/proc"})
				return nil
			},
		}
		require.NoError(t, cmd.Run(context.Background(), append([]string{"test"}, args...)))
	}

	run()
	assert.Equal(t, "root", gotUser)
	assert.Equal(t, 4, gotPar)
	assert.InDelta(t, 2.0, gotRate, 1e-9)
	assert.True(t, gotCache)
	assert.Equal(t, []string{"/proc"}, gotExcl)

	run("--ssh-user", "audit", "--parallelism", "9", "--connect-rate", "0.5", "--use-cache=false", "--exclude", "/home")
	assert.Equal(t, "audit", gotUser)
	assert.Equal(t, 9, gotPar)
	assert.InDelta(t, 0.5, gotRate, 1e-9)
	assert.False(t, gotCache)
	assert.Equal(t, []string{"/home"}, gotExcl)
}

func TestCollectTargets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topology.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"bastion": ["a", {"b": ["c"]}]}`), 0o600))

	t.Run("topology file", func(t *testing.T) {
		targets, err := collectTargets(path, nil, "local")
		require.NoError(t, err)
		assert.Equal(t, []topology.Target{
			{Host: "bastion"},
			{Host: "a", Via: []string{"bastion"}},
			{Host: "b", Via: []string{"bastion"}},
			{Host: "c", Via: []string{"bastion", "b"}},
		}, targets)
	})

	t.Run("arguments", func(t *testing.T) {
		targets, err := collectTargets("", []string{"x", "y"}, "local")
		require.NoError(t, err)
		assert.Equal(t, []topology.Target{{Host: "x"}, {Host: "y"}}, targets)
	})

	t.Run("local host", func(t *testing.T) {
		targets, err := collectTargets("", nil, "node-7")
		require.NoError(t, err)
		assert.Equal(t, []topology.Target{{Host: "node-7"}}, targets)

		targets, err = collectTargets("", nil, "")
		require.NoError(t, err)
		assert.Equal(t, []topology.Target{{Host: "localhost"}}, targets)
	})

	t.Run("both", func(t *testing.T) {
		_, err := collectTargets(path, []string{"x"}, "local")
		assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidRequest))
	})

	t.Run("bad topology", func(t *testing.T) {
		_, err := collectTargets(filepath.Join(t.TempDir(), "missing.json"), nil, "local")
		assert.True(t, errors.IsCode(err, errors.ErrCodeScanner))
	})
}

func TestPrintFatal(t *testing.T) {
	err := errors.Wrap(errors.ErrCodeUnavailable, "probe failed", os.ErrDeadlineExceeded)
	multi := errors.New(errors.ErrCodeInternal, "line one\nline two")

	var buf bytes.Buffer
	printFatal(&buf, false, err)
	assert.Equal(t, "Error: [UNAVAILABLE] probe failed: i/o timeout\n", buf.String())

	buf.Reset()
	printFatal(&buf, true, multi)
	assert.Equal(t, colorRed+"Error: [INTERNAL] line one line two"+colorReset+"\n", buf.String())
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands {
		names = append(names, c.Name)
		assert.True(t, c.Action != nil || len(c.Commands) > 0, "command %s has nothing to run", c.Name)
	}
	assert.Equal(t, []string{"collect", "probe", "inspect", "cache", "discover"}, names)
}

func storedSnapshot(host string) *snapshotter.Snapshot {
	snap := snapshotter.NewSnapshot()
	snap.Init(header.KindSnapshot, snapshotter.APIVersion, "test")
	snap.Hostname = host
	snap.Processes[1] = &kernel.Process{
		PID:          1,
		Name:         "init",
		Executable:   "/sbin/init",
		Capabilities: kernel.Capabilities{Effective: 1 << 12},
		Namespaces:   map[string]uint64{"net": 4026531992},
	}
	snap.Parents = map[int]int{1: 0}
	snap.Accounts = &kernel.Accounts{Users: map[int]string{0: "root"}, Groups: map[int]string{0: "root"}}
	snap.Namespaces = namespace.Resolve(snap.Processes, 1)
	snap.Networking = &kernel.ProtocolTables{}
	snap.SysVIPC = &kernel.SysVIPC{}
	snap.System = &snapshotter.SystemData{
		SystemData:   kernel.SystemData{Hostname: host, ClockTicks: kernel.ClockTicks},
		CollectFiles: true,
	}
	snap.Filesystem = &fsindex.Tree{
		Entries: []fsindex.Entry{
			{ID: 1, Type: "d", Name: "/", Path: "/", Mode: 0o40755},
			{ID: 2, Parent: 1, Type: "d", Name: "usr", Path: "/", Mode: 0o40755},
			{ID: 3, Parent: 2, Type: "-", Name: "su", Path: "/usr", Mode: 0o104755},
		},
		Links: []fsindex.Link{},
	}
	return snap
}

func TestInspectHost(t *testing.T) {
	ctx := context.Background()
	store := dump.New(t.TempDir(), logging.Discard())
	require.NoError(t, store.Save(ctx, "node-1", storedSnapshot("node-1")))

	caps, err := captable.Capabilities("")
	require.NoError(t, err)

	s, err := inspectHost(ctx, store, caps, "node-1")
	require.NoError(t, err)
	assert.Equal(t, "node-1", s.Host)
	assert.Equal(t, 1, s.Processes)
	require.Len(t, s.Privileged, 1)
	assert.Equal(t, []string{"CAP_NET_ADMIN"}, s.Privileged[0].Capabilities)
	require.Len(t, s.Files, 1)
	assert.Equal(t, "/usr/su", s.Files[0].Path)

	_, err = inspectHost(ctx, store, caps, "missing")
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

func TestCacheClear(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := dump.New(root, logging.Discard())
	require.NoError(t, store.Save(ctx, "a", storedSnapshot("a")))
	require.NoError(t, store.Save(ctx, "b", storedSnapshot("b")))

	assert.True(t, errors.IsCode(clearCache(ctx, store, nil, false), errors.ErrCodeInvalidRequest))
	assert.True(t, errors.IsCode(clearCache(ctx, store, []string{"a"}, true), errors.ErrCodeInvalidRequest))

	require.NoError(t, clearCache(ctx, store, []string{"a"}, false))
	assert.False(t, store.Exists("a"))
	assert.True(t, store.HasCache("b"))

	require.NoError(t, clearCache(ctx, store, nil, true))
	assert.False(t, store.Exists("b"))
}

func TestCacheListCommand(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	ctx := context.Background()
	root := t.TempDir()
	store := dump.New(root, logging.Discard())
	require.NoError(t, store.Save(ctx, "node-1", storedSnapshot("node-1")))

	out := filepath.Join(t.TempDir(), "cache.json")
	err := newRootCmd().Run(ctx, []string{
		name, "--log-level", "error", "cache", "list",
		"--output-dir", root, "--format", "json", "--output", out,
	})
	require.NoError(t, err)

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	var entries []CacheEntry
	require.NoError(t, json.Unmarshal(b, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "node-1", entries[0].Host)
	assert.True(t, entries[0].Complete)
	assert.Equal(t, filepath.Join(root, "node-1"), entries[0].Dir)
}
