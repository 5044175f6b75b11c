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
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/NVIDIA/hostaudit/pkg/errors"
)

// Default filesystem roots.
const (
	DefaultProcRoot = "/proc"
	DefaultSysRoot  = "/sys"
	DefaultDevShm   = "/dev/shm"
	DefaultEtcRoot  = "/etc"
)

// Option configures a Reader.
type Option func(*Reader)

// WithProcRoot overrides the procfs mount point.
func WithProcRoot(path string) Option {
	return func(r *Reader) {
		r.procRoot = path
	}
}

// WithSysRoot overrides the sysfs mount point.
func WithSysRoot(path string) Option {
	return func(r *Reader) {
		r.sysRoot = path
	}
}

// WithDevShm overrides the POSIX shared memory directory.
func WithDevShm(path string) Option {
	return func(r *Reader) {
		r.devShm = path
	}
}

// WithEtcRoot overrides the directory holding passwd and group.
func WithEtcRoot(path string) Option {
	return func(r *Reader) {
		r.etcRoot = path
	}
}

// WithNetDir overrides the procfs-relative directory of the protocol tables.
// Inside a joined network namespace use "thread-self/net", since "net"
// resolves through the thread group leader.
func WithNetDir(dir string) Option {
	return func(r *Reader) {
		r.netDir = dir
	}
}

// Reader reads process, namespace, network and IPC state from procfs and sysfs.
// All methods are stateless except Mounts, which records the device numbers of
// mqueue mounts that FileDescriptors needs to classify queue descriptors.
type Reader struct {
	procRoot string
	sysRoot  string
	devShm   string
	etcRoot  string
	netDir   string

	mu         sync.RWMutex
	mqueueDevs map[[2]uint32]struct{}
}

// NewReader creates a Reader with the provided options.
func NewReader(opts ...Option) *Reader {
	r := &Reader{
		procRoot: DefaultProcRoot,
		sysRoot:  DefaultSysRoot,
		devShm:   DefaultDevShm,
		etcRoot:  DefaultEtcRoot,
		netDir:   "net",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ProcRoot returns the procfs root the reader uses.
func (r *Reader) ProcRoot() string {
	return r.procRoot
}

func (r *Reader) proc(elem ...string) string {
	return filepath.Join(append([]string{r.procRoot}, elem...)...)
}

func (r *Reader) task(pid, tid int, elem ...string) string {
	parts := []string{strconv.Itoa(pid)}
	if tid > 0 {
		parts = append(parts, "task", strconv.Itoa(tid))
	}
	return r.proc(append(parts, elem...)...)
}

// vanished classifies errors that mean the process went away.
func vanished(err error) bool {
	return stderrors.Is(err, fs.ErrNotExist) || stderrors.Is(err, syscall.ESRCH)
}

// denied reports whether err is a permission failure. Unprivileged runs hit
// these for other users' descriptor tables and maps.
func denied(err error) bool {
	return stderrors.Is(err, fs.ErrPermission)
}

// pidError wraps err, marking it ResourceVanished when the process is gone.
func pidError(pid int, what string, err error) error {
	if vanished(err) {
		return errors.WrapWithContext(errors.ErrCodeResourceVanished,
			fmt.Sprintf("process vanished while reading %s", what), err,
			map[string]any{"pid": pid})
	}
	return fmt.Errorf("failed to read %s of pid %d: %w", what, pid, err)
}

// readLines reads path and returns its non-empty lines with surrounding
// whitespace removed.
func readLines(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw := strings.Split(string(b), "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines, nil
}

// readKV reads "key<delim>value" lines into a map, trimming both sides.
// Lines without the delimiter are ignored.
func readKV(path, delim string) (map[string]string, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, len(lines))
	for _, l := range lines {
		k, v, ok := strings.Cut(l, delim)
		if !ok {
			continue
		}
		m[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return m, nil
}

func readTrimmed(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// ListPIDs returns the numeric entries of the proc root in ascending order.
func (r *Reader) ListPIDs() ([]int, error) {
	entries, err := os.ReadDir(r.procRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", r.procRoot, err)
	}
	pids := make([]int, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(e.Name())
		if err != nil || pid <= 0 {
			continue
		}
		pids = append(pids, pid)
	}
	slices.Sort(pids)
	return pids, nil
}
