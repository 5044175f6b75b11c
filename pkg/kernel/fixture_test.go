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

package kernel

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

const statusInit = `Name:	systemd
Umask:	0000
State:	S (sleeping)
Tgid:	1
Pid:	1
PPid:	0
Uid:	0	0	0	0
Gid:	0	0	0	0
Groups:	
Seccomp:	0
CapInh:	0000000000000000
CapPrm:	000001ffffffffff
CapEff:	000001ffffffffff
CapBnd:	000001ffffffffff
CapAmb:	0000000000000000
`

const statusWorker = `Name:	worker (x)
Umask:	0022
PPid:	1
Uid:	1000	1000	1000	1001
Gid:	100	100	100	100
Groups:	10 100 
Seccomp:	1
CapInh:	0000000000000000
CapPrm:	0000000000003000
CapEff:	0000000000001000
CapBnd:	000001ffffffffff
`

const mountinfo = `22 1 0:21 / /proc rw,nosuid shared:12 - proc proc rw
25 1 8:2 / / rw,relatime shared:1 master:3 - ext4 /dev/sda2 rw,errors=remount-ro
40 22 0:45 / /dev/mqueue rw,nosuid - mqueue mqueue rw
41 25 0:46 / /mnt/with\040space rw - tmpfs none rw
`

// fixture lays out a minimal proc, sys and etc tree and returns a reader over it.
type fixture struct {
	t    *testing.T
	root string
	proc string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{t: t, root: root, proc: filepath.Join(root, "proc")}
	f.write("proc/uptime", "3600.50 7000.00\n")
	f.write("proc/self/mountinfo", mountinfo)
	f.write("etc/passwd", "root:x:0:0:root:/root:/bin/bash\nalice:x:1000:100::/home/alice:/bin/sh\nbroken\n")
	f.write("etc/group", "root:x:0:\nusers:x:100:alice\n#comment:x:5:\n")
	f.addProcess(1, statusInit, "/usr/lib/systemd/systemd\x00--switched-root\x00", "1 (systemd) S 0 1 1 0 -1 4194560 1 2 3 4 5 6 7 8 20 0 1 0 12 100 20")
	f.addProcess(42, statusWorker, "", "42 (worker (x)) S 1 40 41 0 -1 0 0 0 0 0 0 0 0 0 20 0 3 0 3000 0 0")
	return f
}

func (f *fixture) write(rel, content string) string {
	f.t.Helper()
	p := filepath.Join(f.root, rel)
	require.NoError(f.t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(f.t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func (f *fixture) symlink(target, rel string) {
	f.t.Helper()
	p := filepath.Join(f.root, rel)
	require.NoError(f.t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(f.t, os.Symlink(target, p))
}

func (f *fixture) addProcess(pid int, status, cmdline, stat string) {
	f.t.Helper()
	base := filepath.Join("proc", strconv.Itoa(pid))
	f.write(filepath.Join(base, "status"), status)
	f.write(filepath.Join(base, "cmdline"), cmdline)
	f.write(filepath.Join(base, "stat"), stat+"\n")
	f.write(filepath.Join(base, "maps"), "55d0c000-55d0d000 r-xp 00000000 08:02 1311 /usr/bin/my prog\n7ffd0000-7ffd1000 rw-p 00000000 00:00 0 [stack]\n")
	f.symlink("/", filepath.Join(base, "root"))
	f.symlink("net:[4026531992]", filepath.Join(base, "ns", "net"))
	f.symlink("pid:[4026531836]", filepath.Join(base, "ns", "pid"))
	f.symlink("pid:[4026531836]", filepath.Join(base, "ns", "pid_for_children"))
	require.NoError(f.t, os.MkdirAll(filepath.Join(f.root, base, "fd"), 0o755))
	require.NoError(f.t, os.MkdirAll(filepath.Join(f.root, base, "task", strconv.Itoa(pid)), 0o755))
}

func (f *fixture) reader() *Reader {
	return NewReader(
		WithProcRoot(f.proc),
		WithSysRoot(filepath.Join(f.root, "sys")),
		WithDevShm(filepath.Join(f.root, "dev", "shm")),
		WithEtcRoot(filepath.Join(f.root, "etc")),
	)
}
