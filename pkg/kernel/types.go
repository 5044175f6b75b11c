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
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ClockTicks is USER_HZ, the unit of the time fields in /proc/<pid>/stat.
// Linux exports it as 100 through /proc on every architecture we read.
const ClockTicks = 100

// CapSet is a capability bit mask. It serializes as 16 hex digits, the
// representation used by /proc/<pid>/status.
type CapSet uint64

// ParseCapSet parses a hexadecimal capability mask.
func ParseCapSet(s string) (CapSet, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid capability mask %q: %w", s, err)
	}
	return CapSet(v), nil
}

func (c CapSet) String() string {
	return fmt.Sprintf("%016x", uint64(c))
}

// Has reports whether capability number bit is set.
func (c CapSet) Has(bit int) bool {
	return bit >= 0 && bit < 64 && c&(1<<uint(bit)) != 0
}

// MarshalJSON implements json.Marshaler.
func (c CapSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *CapSet) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseCapSet(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// FDFlags are open file description flags. They serialize in octal with a
// leading zero, the representation used by /proc/<pid>/fdinfo.
type FDFlags uint32

// ParseFDFlags parses an octal flags value.
func ParseFDFlags(s string) (FDFlags, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid descriptor flags %q: %w", s, err)
	}
	return FDFlags(v), nil
}

func (f FDFlags) String() string {
	return "0" + strconv.FormatUint(uint64(f), 8)
}

// MarshalJSON implements json.Marshaler.
func (f FDFlags) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *FDFlags) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseFDFlags(s)
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// Umask is a process file mode creation mask, serialized as four octal digits.
type Umask uint32

// ParseUmask parses an octal umask.
func ParseUmask(s string) (Umask, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid umask %q: %w", s, err)
	}
	return Umask(v), nil
}

func (u Umask) String() string {
	return fmt.Sprintf("%04o", uint32(u))
}

// MarshalJSON implements json.Marshaler.
func (u Umask) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (u *Umask) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseUmask(s)
	if err != nil {
		return err
	}
	*u = v
	return nil
}

// ID tuple indices for Credentials.UID and Credentials.GID.
const (
	IDReal = iota
	IDEffective
	IDSaved
	IDFilesystem
)

// Credentials are the uid/gid tuples (real, effective, saved, filesystem)
// and supplementary groups of a task.
type Credentials struct {
	UID    [4]int `json:"uid"`
	GID    [4]int `json:"gid"`
	Groups []int  `json:"groups"`
}

// Capabilities are the capability sets of a task. Ambient is nil on kernels
// that do not report it.
type Capabilities struct {
	Inheritable CapSet  `json:"inheritable"`
	Permitted   CapSet  `json:"permitted"`
	Effective   CapSet  `json:"effective"`
	Bounding    CapSet  `json:"bounding"`
	Ambient     *CapSet `json:"ambient,omitempty"`
}

// Status is the parsed content of /proc/<pid>/status.
type Status struct {
	Name         string       `json:"name"`
	PPid         int          `json:"ppid"`
	Credentials  Credentials  `json:"credentials"`
	Capabilities Capabilities `json:"capabilities"`
	// Seccomp is true only for strict mode (1).
	Seccomp bool   `json:"seccomp"`
	Umask   *Umask `json:"umask,omitempty"`
}

// Stat holds the /proc/<pid>/stat fields the collector needs.
type Stat struct {
	PGroup    int    `json:"pgroup"`
	Session   int    `json:"session"`
	StartTime uint64 `json:"starttime"`
}

// Thread is a task of a process other than its main thread.
type Thread struct {
	TID          int          `json:"tid"`
	Name         string       `json:"name"`
	Credentials  Credentials  `json:"credentials"`
	Capabilities Capabilities `json:"capabilities"`
	Seccomp      bool         `json:"seccomp"`
	Executable   string       `json:"executable"`
	Parameters   string       `json:"parameters"`
	Cmdline      string       `json:"cmdline"`
}

// FDKind classifies what a file descriptor refers to.
type FDKind string

const (
	FDFile      FDKind = "file"
	FDDirectory FDKind = "directory"
	FDPipe      FDKind = "pipe"
	FDSocket    FDKind = "socket"
	FDQueue     FDKind = "queue"
	FDAnonInode FDKind = "anon_inode"
	FDNamespace FDKind = "namespace"
	FDOther     FDKind = "other"
)

// FileDescriptor is one entry of /proc/<pid>/fd.
type FileDescriptor struct {
	FD     int    `json:"fd"`
	Kind   FDKind `json:"kind"`
	Target string `json:"target"`
	// Pseudo is the "kind" part of a "kind:[identifier]" target.
	Pseudo string `json:"pseudo,omitempty"`
	// Identifier is the pipe/socket inode, namespace inode, anon inode class
	// or queue name.
	Identifier string  `json:"identifier,omitempty"`
	Flags      FDFlags `json:"flags"`
	UID        int     `json:"uid"`
	GID        int     `json:"gid"`
	Mode       uint32  `json:"mode"`
}

// MemoryMap is one line of /proc/<pid>/maps.
type MemoryMap struct {
	Address  string `json:"address"`
	Perms    string `json:"perms"`
	Offset   string `json:"offset"`
	Device   string `json:"dev"`
	Inode    uint64 `json:"inode"`
	Pathname string `json:"pathname,omitempty"`
}

// Process is the complete per-process record of a snapshot.
type Process struct {
	PID          int          `json:"pid"`
	Parent       int          `json:"parent"`
	Name         string       `json:"name"`
	Executable   string       `json:"executable"`
	Parameters   string       `json:"parameters"`
	Cmdline      string       `json:"cmdline"`
	Credentials  Credentials  `json:"credentials"`
	Capabilities Capabilities `json:"capabilities"`
	Seccomp      bool         `json:"seccomp"`
	Umask        *Umask       `json:"umask,omitempty"`
	Stat
	Root            string            `json:"root"`
	FileDescriptors []FileDescriptor  `json:"fds"`
	Maps            []MemoryMap       `json:"maps,omitempty"`
	Namespaces      map[string]uint64 `json:"namespaces"`
	Threads         map[int]*Thread   `json:"threads,omitempty"`
}

// Label is the "executable parameters" form used to name resource endpoints.
func (p *Process) Label() string {
	if p.Parameters == "" {
		return p.Executable
	}
	return p.Executable + " " + p.Parameters
}

// Runtime returns the seconds the process has been running given the system uptime.
func (p *Process) Runtime(uptime float64) float64 {
	return uptime - float64(p.StartTime)/ClockTicks
}

// Mount is one line of /proc/self/mountinfo.
type Mount struct {
	MountID        int               `json:"mount_id"`
	ParentID       int               `json:"parent_id"`
	Major          uint32            `json:"major"`
	Minor          uint32            `json:"minor"`
	Root           string            `json:"root"`
	MountPoint     string            `json:"mount_point"`
	Options        string            `json:"options"`
	OptionalFields map[string]string `json:"optional_fields,omitempty"`
	FSType         string            `json:"fstype"`
	Source         string            `json:"source"`
	SuperOptions   string            `json:"super_options"`
}

// InetSocket is a row of /proc/net/{tcp,udp}{,6}. The hex fields keep the
// kernel's representation; Local and Remote are decoded "host:port".
type InetSocket struct {
	LocalHex  string `json:"local_hex"`
	RemoteHex string `json:"remote_hex"`
	Local     string `json:"local"`
	Remote    string `json:"remote"`
	State     string `json:"state"`
	UID       int    `json:"uid"`
}

// UnixSocket is a row of /proc/net/unix. Path is empty for unnamed sockets.
type UnixSocket struct {
	Path string `json:"path"`
	Type string `json:"type"`
}

// NetlinkSocket is a row of /proc/net/netlink.
type NetlinkSocket struct {
	Protocol int `json:"protocol"`
}

// PacketSocket is a row of /proc/net/packet.
type PacketSocket struct {
	Type  int `json:"type"`
	Iface int `json:"iface"`
}

// Protocol names as they appear under /proc/net.
const (
	ProtoTCP     = "tcp"
	ProtoTCP6    = "tcp6"
	ProtoUDP     = "udp"
	ProtoUDP6    = "udp6"
	ProtoUnix    = "unix"
	ProtoNetlink = "netlink"
	ProtoPacket  = "packet"
)

// ProtocolTables maps socket inodes to their protocol table rows.
type ProtocolTables struct {
	Inet    map[string]map[uint64]InetSocket `json:"inet"`
	Unix    map[uint64]UnixSocket            `json:"unix"`
	Netlink map[uint64]NetlinkSocket         `json:"netlink"`
	Packet  map[uint64]PacketSocket          `json:"packet"`
}

// IPCTable is a /proc/sysvipc file as rows keyed by the header's column names.
type IPCTable []map[string]string

// SysVIPC holds the System V message queues, semaphores and shared memory
// segments.
type SysVIPC struct {
	Msg IPCTable `json:"msg"`
	Sem IPCTable `json:"sem"`
	Shm IPCTable `json:"shm"`
}

// ShmFile is a POSIX shared memory object under /dev/shm.
type ShmFile struct {
	Name  string `json:"name"`
	Inode uint64 `json:"inode"`
}

// SystemData is host-wide state read once per snapshot.
type SystemData struct {
	Uptime        float64   `json:"uptime"`
	ClockTicks    int       `json:"clock_ticks"`
	Hostname      string    `json:"hostname"`
	KernelRelease string    `json:"kernel_release"`
	Mounts        []Mount   `json:"mounts"`
	Shm           []ShmFile `json:"shm"`
}

// NetInterface describes one network interface as exported by sysfs.
type NetInterface struct {
	Name      string            `json:"name"`
	Index     int               `json:"ifindex"`
	Address   string            `json:"address"`
	Type      int               `json:"type"`
	OperState string            `json:"operstate"`
	Carrier   *int              `json:"carrier,omitempty"`
	Dormant   *int              `json:"dormant,omitempty"`
	Flags     string            `json:"flags"`
	MTU       int               `json:"mtu"`
	UEvent    map[string]string `json:"uevent,omitempty"`
	Attached  []string          `json:"attached,omitempty"`
	IPv4      []string          `json:"ipv4,omitempty"`
	IPv6      []string          `json:"ipv6,omitempty"`
}

// Accounts maps numeric ids to user and group names.
type Accounts struct {
	Users  map[int]string `json:"users"`
	Groups map[int]string `json:"groups"`
}

// IDMapEntry is one line of /proc/<pid>/{uid,gid}_map.
type IDMapEntry struct {
	Inside  int `json:"inside"`
	Outside int `json:"outside"`
	Count   int `json:"count"`
}
