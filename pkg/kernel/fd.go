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
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// namespace link kinds as they appear in fd targets
var namespaceLinkKinds = map[string]bool{
	"net": true, "ipc": true, "mnt": true, "pid": true,
	"uts": true, "user": true, "cgroup": true, "time": true,
}

// ParsePseudoTarget splits a pseudo-file target such as "socket:[1234]" or
// "anon_inode:inotify" into its kind and identifier. Targets starting with
// "/" name real files and are rejected.
func ParsePseudoTarget(target string) (kind, id string, ok bool) {
	if strings.HasPrefix(target, "/") {
		return "", "", false
	}
	kind, id, ok = strings.Cut(target, ":")
	if !ok || kind == "" {
		return "", "", false
	}
	if strings.HasPrefix(id, "[") && strings.HasSuffix(id, "]") {
		id = id[1 : len(id)-1]
	}
	return kind, id, true
}

func classifyPseudo(kind string) FDKind {
	switch {
	case kind == "pipe":
		return FDPipe
	case kind == "socket":
		return FDSocket
	case kind == "anon_inode":
		return FDAnonInode
	case namespaceLinkKinds[kind]:
		return FDNamespace
	default:
		return FDOther
	}
}

// FileDescriptors reads the open descriptors of pid. Descriptors closed
// while being read are skipped. Mounts must have been called first for queue
// descriptors to be recognized.
func (r *Reader) FileDescriptors(pid int) ([]FileDescriptor, error) {
	dir := r.task(pid, 0, "fd")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, pidError(pid, "fd table", err)
	}

	fds := make([]FileDescriptor, 0, len(entries))
	for _, e := range entries {
		n, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		fd, err := r.fileDescriptor(pid, n, filepath.Join(dir, e.Name()))
		if err != nil {
			if vanished(err) {
				continue
			}
			return nil, pidError(pid, fmt.Sprintf("fd %d", n), err)
		}
		fds = append(fds, fd)
	}
	sort.Slice(fds, func(i, j int) bool { return fds[i].FD < fds[j].FD })
	return fds, nil
}

func (r *Reader) fileDescriptor(pid, n int, link string) (FileDescriptor, error) {
	target, err := os.Readlink(link)
	if err != nil {
		return FileDescriptor{}, err
	}

	// stat follows the link; pseudo files still report valid ownership
	var st unix.Stat_t
	if err := unix.Stat(link, &st); err != nil {
		return FileDescriptor{}, err
	}

	info, err := readKV(r.task(pid, 0, "fdinfo", strconv.Itoa(n)), ":")
	if err != nil {
		return FileDescriptor{}, err
	}
	flags, err := ParseFDFlags(info["flags"])
	if err != nil {
		return FileDescriptor{}, err
	}

	fd := FileDescriptor{
		FD:     n,
		Target: target,
		Flags:  flags,
		UID:    int(st.Uid),
		GID:    int(st.Gid),
		Mode:   st.Mode,
	}

	if kind, id, ok := ParsePseudoTarget(target); ok {
		fd.Kind = classifyPseudo(kind)
		fd.Pseudo = kind
		fd.Identifier = id
		return fd, nil
	}

	switch {
	case path.Dir(target) == "/" && r.isMqueueDevice(unix.Major(uint64(st.Dev)), unix.Minor(uint64(st.Dev))):
		fd.Kind = FDQueue
		fd.Identifier = path.Base(target)
	case st.Mode&unix.S_IFMT == unix.S_IFDIR:
		fd.Kind = FDDirectory
	default:
		fd.Kind = FDFile
	}
	return fd, nil
}

func (r *Reader) isMqueueDevice(major, minor uint32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.mqueueDevs[[2]uint32{major, minor}]
	return ok
}

// Mounts parses /proc/self/mountinfo and records the device numbers of
// mqueue mounts for later descriptor classification.
func (r *Reader) Mounts() ([]Mount, error) {
	p := r.proc("self", "mountinfo")
	lines, err := readLines(p)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p, err)
	}

	mounts := make([]Mount, 0, len(lines))
	devs := make(map[[2]uint32]struct{})
	for _, l := range lines {
		m, err := parseMountInfo(l)
		if err != nil {
			return nil, err
		}
		if m.FSType == "mqueue" {
			devs[[2]uint32{m.Major, m.Minor}] = struct{}{}
		}
		mounts = append(mounts, m)
	}

	r.mu.Lock()
	r.mqueueDevs = devs
	r.mu.Unlock()
	return mounts, nil
}

// parseMountInfo parses one mountinfo line. The optional fields sit between
// the mount options and a lone "-" separator.
func parseMountInfo(l string) (Mount, error) {
	parts := strings.Fields(l)
	sep := -1
	for i := 6; i < len(parts); i++ {
		if parts[i] == "-" {
			sep = i
			break
		}
	}
	if len(parts) < 7 || sep < 0 || len(parts) < sep+3 {
		return Mount{}, fmt.Errorf("malformed mountinfo line %q", l)
	}

	var m Mount
	var err error
	if m.MountID, err = strconv.Atoi(parts[0]); err != nil {
		return Mount{}, fmt.Errorf("invalid mount id in %q: %w", l, err)
	}
	if m.ParentID, err = strconv.Atoi(parts[1]); err != nil {
		return Mount{}, fmt.Errorf("invalid parent id in %q: %w", l, err)
	}
	maj, min, ok := strings.Cut(parts[2], ":")
	if !ok {
		return Mount{}, fmt.Errorf("invalid device in %q", l)
	}
	major, err := strconv.ParseUint(maj, 10, 32)
	if err != nil {
		return Mount{}, fmt.Errorf("invalid major in %q: %w", l, err)
	}
	minor, err := strconv.ParseUint(min, 10, 32)
	if err != nil {
		return Mount{}, fmt.Errorf("invalid minor in %q: %w", l, err)
	}
	m.Major, m.Minor = uint32(major), uint32(minor)
	m.Root = unescapeOctal(parts[3])
	m.MountPoint = unescapeOctal(parts[4])
	m.Options = parts[5]

	if sep > 6 {
		m.OptionalFields = make(map[string]string, sep-6)
		for _, f := range parts[6:sep] {
			k, v, _ := strings.Cut(f, ":")
			m.OptionalFields[k] = v
		}
	}

	m.FSType = parts[sep+1]
	m.Source = unescapeOctal(parts[sep+2])
	if len(parts) > sep+3 {
		m.SuperOptions = parts[sep+3]
	}
	return m, nil
}

// unescapeOctal decodes the \NNN escapes the kernel uses for whitespace in
// mountinfo paths.
func unescapeOctal(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+4 <= len(s) {
			if v, err := strconv.ParseUint(s[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(v))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
