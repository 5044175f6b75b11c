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

package snapshotter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/hostaudit/pkg/errors"
	"github.com/NVIDIA/hostaudit/pkg/fsindex"
	"github.com/NVIDIA/hostaudit/pkg/header"
	"github.com/NVIDIA/hostaudit/pkg/kernel"
	"github.com/NVIDIA/hostaudit/pkg/logging"
	"github.com/NVIDIA/hostaudit/pkg/namespace"
	"github.com/NVIDIA/hostaudit/pkg/services"
)

const statusTemplate = `Name:	%s
Umask:	0022
PPid:	%d
Uid:	%d	%d	%d	%d
Gid:	0	0	0	0
Groups:	
Seccomp:	0
CapInh:	0000000000000000
CapPrm:	0000000000000000
CapEff:	0000000000000000
CapBnd:	000001ffffffffff
`

type hostFixture struct {
	t    *testing.T
	root string
}

func newHostFixture(t *testing.T) *hostFixture {
	t.Helper()
	f := &hostFixture{t: t, root: t.TempDir()}
	f.write("proc/uptime", "100.00 200.00\n")
	f.write("proc/self/mountinfo", "25 1 8:2 / / rw,relatime shared:1 - ext4 /dev/sda2 rw\n")
	f.write("etc/passwd", "root:x:0:0:root:/root:/bin/bash\n")
	f.write("etc/group", "root:x:0:\n")
	f.write("sys/class/net/lo/ifindex", "1\n")
	f.write("sys/class/net/lo/operstate", "unknown\n")
	require.NoError(t, os.MkdirAll(filepath.Join(f.root, "dev", "shm"), 0o755))
	return f
}

func (f *hostFixture) write(rel, content string) {
	f.t.Helper()
	p := filepath.Join(f.root, rel)
	require.NoError(f.t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(f.t, os.WriteFile(p, []byte(content), 0o644))
}

func (f *hostFixture) symlink(target, rel string) {
	f.t.Helper()
	p := filepath.Join(f.root, rel)
	require.NoError(f.t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(f.t, os.Symlink(target, p))
}

func (f *hostFixture) addProcess(pid, ppid int, name string, netns uint64) {
	f.t.Helper()
	base := filepath.Join("proc", strconv.Itoa(pid))
	f.write(filepath.Join(base, "status"), fmt.Sprintf(statusTemplate, name, ppid, 0, 0, 0, 0))
	f.write(filepath.Join(base, "cmdline"), "/usr/bin/"+name+"\x00-v\x00")
	f.write(filepath.Join(base, "stat"),
		fmt.Sprintf("%d (%s) S %d %d %d 0 -1 0 0 0 0 0 0 0 0 0 20 0 1 0 500 0 0\n", pid, name, ppid, pid, pid))
	f.write(filepath.Join(base, "maps"), "")
	f.symlink("/", filepath.Join(base, "root"))
	f.symlink(fmt.Sprintf("net:[%d]", netns), filepath.Join(base, "ns", "net"))
	f.symlink("pid:[4026531836]", filepath.Join(base, "ns", "pid"))
	require.NoError(f.t, os.MkdirAll(filepath.Join(f.root, base, "fd"), 0o755))
	require.NoError(f.t, os.MkdirAll(filepath.Join(f.root, base, "task", strconv.Itoa(pid)), 0o755))
}

func (f *hostFixture) addNamespace(pid int, kind string, inode uint64) {
	f.t.Helper()
	f.symlink(fmt.Sprintf("%s:[%d]", kind, inode), filepath.Join("proc", strconv.Itoa(pid), "ns", kind))
}

func (f *hostFixture) reader() *kernel.Reader {
	return kernel.NewReader(
		kernel.WithProcRoot(filepath.Join(f.root, "proc")),
		kernel.WithSysRoot(filepath.Join(f.root, "sys")),
		kernel.WithDevShm(filepath.Join(f.root, "dev", "shm")),
		kernel.WithEtcRoot(filepath.Join(f.root, "etc")),
	)
}

type fakeJoiner struct {
	payload string
	err     error
	calls   []namespace.JoinRequest
}

func (j *fakeJoiner) Join(_ context.Context, req namespace.JoinRequest, out any) error {
	j.calls = append(j.calls, req)
	if j.err != nil {
		return j.err
	}
	return json.Unmarshal([]byte(j.payload), out)
}

type fakeServices struct {
	units map[string]services.Unit
	err   error
}

func (s *fakeServices) Collect(context.Context) (map[string]services.Unit, error) {
	return s.units, s.err
}

const hostNet = 4026531992

func TestMeasure(t *testing.T) {
	f := newHostFixture(t)
	f.addProcess(1, 0, "init", hostNet)
	f.addProcess(42, 1, "worker", 4026532100)
	require.NoError(t, os.MkdirAll(filepath.Join(f.root, "proc", "50"), 0o755))

	joiner := &fakeJoiner{payload: `{"eth0": {"name": "eth0", "ifindex": 2}}`}
	s := &HostSnapshotter{
		Version: "v1.0.0",
		Reader:  f.reader(),
		Joiner:  joiner,
		Services: &fakeServices{units: map[string]services.Unit{
			"sshd.service": {Name: "sshd.service", MainPID: 42},
		}},
		Logger: logging.Discard(),
	}

	vanishedBefore := testutil.ToFloat64(vanishedProcesses)

	snap, err := s.Measure(context.Background())
	require.NoError(t, err)

	assert.Equal(t, header.KindSnapshot, snap.Kind)
	assert.Equal(t, APIVersion, snap.APIVersion)
	assert.Equal(t, "v1.0.0", snap.Get(header.MetadataVersion))
	assert.NotEmpty(t, snap.Get(header.MetadataRunID))
	assert.Equal(t, snap.System.Hostname, snap.Hostname)

	require.Len(t, snap.Processes, 2)
	assert.Equal(t, "/usr/bin/worker", snap.Processes[42].Executable)
	assert.Equal(t, map[int]int{1: 0, 42: 1}, snap.Parents)
	assert.Equal(t, 1.0, testutil.ToFloat64(vanishedProcesses)-vanishedBefore)

	require.NotNil(t, snap.Namespaces)
	netns, ok := snap.Namespaces.Get(namespace.KindNet, hostNet)
	require.True(t, ok)
	assert.True(t, netns.Root)

	require.Len(t, joiner.calls, 1)
	assert.Equal(t, 42, joiner.calls[0].PID)
	assert.Equal(t, namespace.CollectInterfaces, joiner.calls[0].Collector)
	require.Contains(t, snap.NamespacesDeep, uint64(4026532100))
	assert.Contains(t, snap.NamespacesDeep[4026532100].Interfaces, "eth0")

	assert.Equal(t, "root", snap.Accounts.Users[0])
	assert.NotNil(t, snap.Networking)
	assert.NotNil(t, snap.SysVIPC)
	assert.Contains(t, snap.Interfaces, "lo")
	assert.Equal(t, 1, snap.Interfaces["lo"].Index)
	assert.False(t, snap.System.CollectFiles)
	assert.Nil(t, snap.Filesystem)
	assert.Equal(t, uint32(42), snap.System.Services["sshd.service"].MainPID)
}

func TestMeasureDropsOrphans(t *testing.T) {
	f := newHostFixture(t)
	f.addProcess(1, 0, "init", hostNet)
	// parent 999 is never collected, and 88 hangs off the dropped 77
	f.addProcess(77, 999, "orphan", hostNet)
	f.addProcess(88, 77, "grandchild", hostNet)

	s := &HostSnapshotter{Reader: f.reader(), Logger: logging.Discard()}
	before := testutil.ToFloat64(vanishedProcesses)

	snap, err := s.Measure(context.Background())
	require.NoError(t, err)

	assert.Equal(t, map[int]int{1: 0}, snap.Parents)
	assert.NotContains(t, snap.Processes, 77)
	assert.NotContains(t, snap.Processes, 88)
	assert.Equal(t, 2.0, testutil.ToFloat64(vanishedProcesses)-before)
}

func TestMeasureReparented(t *testing.T) {
	f := newHostFixture(t)
	f.addProcess(1, 0, "init", hostNet)
	f.addProcess(60, 1, "child", hostNet)

	r := f.reader()
	s := &HostSnapshotter{Reader: r, Logger: logging.Discard()}
	snap := NewSnapshot()
	p, err := r.Process(60)
	require.NoError(t, err)
	initProc, err := r.Process(1)
	require.NoError(t, err)
	// the scan saw the old parent; the status file now reports pid 1
	p.Parent = 55
	snap.Processes[1] = initProc
	snap.Processes[60] = p

	s.resolveParents(snap, logging.Discard())
	assert.Equal(t, map[int]int{1: 0, 60: 1}, snap.Parents)
	assert.Equal(t, []int{60}, snap.Children(1))
}

func TestMeasureJoinFailureCounted(t *testing.T) {
	f := newHostFixture(t)
	f.addProcess(1, 0, "init", hostNet)
	f.addProcess(42, 1, "worker", 4026532100)

	var logs bytes.Buffer
	s := &HostSnapshotter{
		Reader: f.reader(),
		Joiner: &fakeJoiner{err: errors.New(errors.ErrCodeNamespaceJoinFailed, "namespace helper failed")},
		Logger: slog.New(slog.NewJSONHandler(&logs, nil)),
	}
	before := testutil.ToFloat64(namespaceJoinFailures.WithLabelValues("net"))

	snap, err := s.Measure(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.NamespacesDeep)
	assert.Equal(t, 1.0, testutil.ToFloat64(namespaceJoinFailures.WithLabelValues("net"))-before)

	// the namespace itself is still part of the snapshot
	ns, ok := snap.Namespaces.Get(namespace.KindNet, 4026532100)
	require.True(t, ok)
	assert.False(t, ns.Root)
	assert.Equal(t, []int{42}, ns.Members)

	assert.Contains(t, logs.String(), `"level":"WARN"`)
	assert.Contains(t, logs.String(), "failed to collect namespace data")
	assert.Contains(t, logs.String(), "namespace helper failed")
}

func TestMeasureUserNamespaceOverlap(t *testing.T) {
	const (
		hostUser = 4026531837
		hostMnt  = 4026531840
		nsUser   = 4026532200
		nsMnt    = 4026532201
	)
	f := newHostFixture(t)
	f.write("etc/passwd", "root:x:0:0:root:/root:/bin/bash\nalice:x:1000:1000::/home/alice:/bin/sh\n")
	f.addProcess(1, 0, "init", hostNet)
	f.addNamespace(1, "user", hostUser)
	f.addNamespace(1, "mnt", hostMnt)
	f.addProcess(42, 1, "rootless", hostNet)
	f.addNamespace(42, "user", nsUser)
	f.addNamespace(42, "mnt", nsMnt)
	f.write("proc/42/uid_map", "0 1000 1\n1 100000 65536\n")
	f.write("proc/42/gid_map", "0 1000 1\n1 100000 65536\n")

	var logs bytes.Buffer
	joiner := &fakeJoiner{payload: `{"users": {"0": "root", "33": "www-data"}, "groups": {}}`}
	s := &HostSnapshotter{
		Reader: f.reader(),
		Joiner: joiner,
		Logger: slog.New(slog.NewJSONHandler(&logs, nil)),
	}

	snap, err := s.Measure(context.Background())
	require.NoError(t, err)

	require.Len(t, joiner.calls, 1)
	assert.Equal(t, namespace.CollectAccounts, joiner.calls[0].Collector)
	assert.Equal(t, "alice", snap.Accounts.Users[1000])
	assert.Equal(t, "www-data(user-ns)", snap.Accounts.Users[100032])
	assert.Contains(t, logs.String(), "keeping host name")
	assert.Contains(t, logs.String(), `"host_name":"alice"`)
}

func TestMeasureWithoutJoiner(t *testing.T) {
	f := newHostFixture(t)
	f.addProcess(1, 0, "init", hostNet)
	f.addProcess(42, 1, "worker", 4026532100)

	s := &HostSnapshotter{Reader: f.reader(), Logger: logging.Discard()}
	snap, err := s.Measure(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.NamespacesDeep)
	assert.Len(t, snap.Namespaces.Foreign(), 1)
}

func TestMeasureCollectFiles(t *testing.T) {
	f := newHostFixture(t)
	f.addProcess(1, 0, "init", hostNet)
	walkRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(walkRoot, "file"), []byte("x"), 0o640))

	s := &HostSnapshotter{
		Reader:       f.reader(),
		CollectFiles: true,
		Walker: &fsindex.Walker{
			Root:     walkRoot,
			Exclude:  []string{},
			FileCaps: func(string) (kernel.CapSet, error) { return 0, nil },
		},
		Logger: logging.Discard(),
	}
	snap, err := s.Measure(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.System.CollectFiles)
	require.NotNil(t, snap.Filesystem)
	assert.Len(t, snap.Filesystem.Entries, 2)
}

func TestMeasureServicesBestEffort(t *testing.T) {
	f := newHostFixture(t)
	f.addProcess(1, 0, "init", hostNet)

	s := &HostSnapshotter{
		Reader:   f.reader(),
		Services: &fakeServices{err: fmt.Errorf("no system bus")},
		Logger:   logging.Discard(),
	}
	snap, err := s.Measure(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.System.Services)
}

func TestMeasureCanceled(t *testing.T) {
	f := newHostFixture(t)
	f.addProcess(1, 0, "init", hostNet)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := &HostSnapshotter{Reader: f.reader(), Logger: logging.Discard()}
	_, err := s.Measure(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeTimeout))
}

func TestMeasureMissingProcRoot(t *testing.T) {
	s := &HostSnapshotter{
		Reader: kernel.NewReader(kernel.WithProcRoot(filepath.Join(t.TempDir(), "nope"))),
		Logger: logging.Discard(),
	}
	_, err := s.Measure(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to collect system")
}
