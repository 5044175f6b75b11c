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
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// SysVIPC reads /proc/sysvipc/{msg,sem,shm}.
func (r *Reader) SysVIPC() (*SysVIPC, error) {
	ipc := &SysVIPC{}
	for _, t := range []struct {
		name string
		dst  *IPCTable
	}{
		{"msg", &ipc.Msg},
		{"sem", &ipc.Sem},
		{"shm", &ipc.Shm},
	} {
		rows, err := r.ipcTable(t.name)
		if err != nil {
			return nil, err
		}
		*t.dst = rows
	}
	return ipc, nil
}

func (r *Reader) ipcTable(name string) (IPCTable, error) {
	p := r.proc("sysvipc", name)
	lines, err := readLines(p)
	if err != nil {
		if vanished(err) {
			return IPCTable{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", p, err)
	}
	rows := IPCTable{}
	if len(lines) == 0 {
		return rows, nil
	}
	header := strings.Fields(lines[0])
	for _, l := range lines[1:] {
		cols := strings.Fields(l)
		row := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(cols) {
				row[h] = cols[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Uptime returns the system uptime in seconds.
func (r *Reader) Uptime() (float64, error) {
	s, err := readTrimmed(r.proc("uptime"))
	if err != nil {
		return 0, fmt.Errorf("failed to read uptime: %w", err)
	}
	first, _, _ := strings.Cut(s, " ")
	v, err := strconv.ParseFloat(first, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid uptime %q: %w", s, err)
	}
	return v, nil
}

// ShmFiles lists the POSIX shared memory objects in /dev/shm.
func (r *Reader) ShmFiles() ([]ShmFile, error) {
	entries, err := os.ReadDir(r.devShm)
	if err != nil {
		if vanished(err) {
			return []ShmFile{}, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", r.devShm, err)
	}
	files := make([]ShmFile, 0, len(entries))
	for _, e := range entries {
		var st unix.Stat_t
		if err := unix.Lstat(filepath.Join(r.devShm, e.Name()), &st); err != nil {
			continue
		}
		files = append(files, ShmFile{Name: e.Name(), Inode: st.Ino})
	}
	return files, nil
}

// SystemData reads uptime, mounts, shared memory objects and the kernel
// identity. Mounts are read first so descriptor classification can use them.
func (r *Reader) SystemData() (*SystemData, error) {
	mounts, err := r.Mounts()
	if err != nil {
		return nil, err
	}
	uptime, err := r.Uptime()
	if err != nil {
		return nil, err
	}
	shm, err := r.ShmFiles()
	if err != nil {
		return nil, err
	}
	host, release := Uname()
	return &SystemData{
		Uptime:        uptime,
		ClockTicks:    ClockTicks,
		Hostname:      host,
		KernelRelease: release,
		Mounts:        mounts,
		Shm:           shm,
	}, nil
}

// Uname returns the node name and kernel release of the calling thread's
// UTS namespace. Errors yield empty strings.
func Uname() (nodename, release string) {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return "", ""
	}
	return unix.ByteSliceToString(u.Nodename[:]), unix.ByteSliceToString(u.Release[:])
}

// DomainName returns the NIS domain name of the calling thread's UTS namespace.
func DomainName() string {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return ""
	}
	return unix.ByteSliceToString(u.Domainname[:])
}

// Accounts reads passwd and group from the etc root.
func (r *Reader) Accounts() (*Accounts, error) {
	users, err := readIDFile(filepath.Join(r.etcRoot, "passwd"))
	if err != nil {
		return nil, err
	}
	groups, err := readIDFile(filepath.Join(r.etcRoot, "group"))
	if err != nil {
		return nil, err
	}
	return &Accounts{Users: users, Groups: groups}, nil
}

// readIDFile maps the third colon separated field (the id) to the first
// (the name). The first name wins for duplicate ids.
func readIDFile(path string) (map[int]string, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	m := make(map[int]string, len(lines))
	for _, l := range lines {
		if strings.HasPrefix(l, "#") {
			continue
		}
		parts := strings.Split(l, ":")
		if len(parts) < 3 {
			continue
		}
		id, err := strconv.Atoi(parts[2])
		if err != nil {
			continue
		}
		if _, dup := m[id]; !dup {
			m[id] = parts[0]
		}
	}
	return m, nil
}

// IDMaps reads the uid and gid maps of pid's user namespace.
func (r *Reader) IDMaps(pid int) (uidMap, gidMap []IDMapEntry, err error) {
	if uidMap, err = r.idMap(pid, "uid_map"); err != nil {
		return nil, nil, err
	}
	if gidMap, err = r.idMap(pid, "gid_map"); err != nil {
		return nil, nil, err
	}
	return uidMap, gidMap, nil
}

func (r *Reader) idMap(pid int, name string) ([]IDMapEntry, error) {
	lines, err := readLines(r.task(pid, 0, name))
	if err != nil {
		return nil, pidError(pid, name, err)
	}
	entries := make([]IDMapEntry, 0, len(lines))
	for _, l := range lines {
		f := strings.Fields(l)
		if len(f) != 3 {
			return nil, fmt.Errorf("malformed %s line %q", name, l)
		}
		var vals [3]int
		for i := range f {
			if vals[i], err = strconv.Atoi(f[i]); err != nil {
				return nil, fmt.Errorf("malformed %s line %q: %w", name, l, err)
			}
		}
		entries = append(entries, IDMapEntry{Inside: vals[0], Outside: vals[1], Count: vals[2]})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Inside < entries[j].Inside })
	return entries, nil
}

const xattrCapability = "security.capability"

// vfs_cap_data revisions
const (
	vfsCapRevisionMask = 0xff000000
	vfsCapRevision1    = 0x01000000
	vfsCapRevision2    = 0x02000000
	vfsCapRevision3    = 0x03000000
)

// FileCaps returns the permitted capability mask stored in the
// security.capability extended attribute of path. Files without the
// attribute, or on filesystems without xattr support, have no capabilities.
func FileCaps(path string) (CapSet, error) {
	buf := make([]byte, 32)
	n, err := unix.Lgetxattr(path, xattrCapability, buf)
	if err != nil {
		if stderrors.Is(err, unix.ENODATA) || stderrors.Is(err, unix.ENOTSUP) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read %s of %s: %w", xattrCapability, path, err)
	}
	return DecodeFileCaps(buf[:n])
}

// DecodeFileCaps decodes a vfs_cap_data blob into its permitted mask.
func DecodeFileCaps(b []byte) (CapSet, error) {
	if len(b) < 4 {
		return 0, fmt.Errorf("capability attribute too short (%d bytes)", len(b))
	}
	magic := binary.LittleEndian.Uint32(b[0:4])
	switch magic & vfsCapRevisionMask {
	case vfsCapRevision1:
		if len(b) < 12 {
			return 0, fmt.Errorf("truncated v1 capability attribute")
		}
		return CapSet(binary.LittleEndian.Uint32(b[4:8])), nil
	case vfsCapRevision2, vfsCapRevision3:
		if len(b) < 20 {
			return 0, fmt.Errorf("truncated capability attribute")
		}
		lo := uint64(binary.LittleEndian.Uint32(b[4:8]))
		hi := uint64(binary.LittleEndian.Uint32(b[12:16]))
		return CapSet(lo | hi<<32), nil
	default:
		return 0, fmt.Errorf("unknown capability attribute revision %#x", magic&vfsCapRevisionMask)
	}
}
