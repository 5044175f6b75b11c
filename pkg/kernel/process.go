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
	"path/filepath"
	"strconv"
	"strings"

	"github.com/NVIDIA/hostaudit/pkg/errors"
)

// Status reads /proc/<pid>/status, or the thread's status when tid > 0.
func (r *Reader) Status(pid, tid int) (*Status, error) {
	fields, err := readKV(r.task(pid, tid, "status"), ":")
	if err != nil {
		return nil, pidError(pid, "status", err)
	}
	st, err := parseStatus(fields)
	if err != nil {
		return nil, fmt.Errorf("pid %d: %w", pid, err)
	}
	return st, nil
}

func parseStatus(fields map[string]string) (*Status, error) {
	st := &Status{Name: fields["Name"]}

	var err error
	if st.PPid, err = strconv.Atoi(fields["PPid"]); err != nil {
		return nil, fmt.Errorf("invalid PPid %q: %w", fields["PPid"], err)
	}
	if st.Credentials.UID, err = parseIDTuple(fields["Uid"]); err != nil {
		return nil, fmt.Errorf("invalid Uid: %w", err)
	}
	if st.Credentials.GID, err = parseIDTuple(fields["Gid"]); err != nil {
		return nil, fmt.Errorf("invalid Gid: %w", err)
	}
	st.Credentials.Groups = []int{}
	for _, g := range strings.Fields(fields["Groups"]) {
		id, err := strconv.Atoi(g)
		if err != nil {
			return nil, fmt.Errorf("invalid group %q: %w", g, err)
		}
		st.Credentials.Groups = append(st.Credentials.Groups, id)
	}

	caps := []struct {
		key string
		dst *CapSet
	}{
		{"CapInh", &st.Capabilities.Inheritable},
		{"CapPrm", &st.Capabilities.Permitted},
		{"CapEff", &st.Capabilities.Effective},
		{"CapBnd", &st.Capabilities.Bounding},
	}
	for _, c := range caps {
		if *c.dst, err = ParseCapSet(fields[c.key]); err != nil {
			return nil, err
		}
	}
	// older kernels have no ambient set
	if v, ok := fields["CapAmb"]; ok {
		amb, err := ParseCapSet(v)
		if err != nil {
			return nil, err
		}
		st.Capabilities.Ambient = &amb
	}

	st.Seccomp = fields["Seccomp"] == "1"

	if v, ok := fields["Umask"]; ok {
		u, err := ParseUmask(v)
		if err != nil {
			return nil, err
		}
		st.Umask = &u
	}
	return st, nil
}

func parseIDTuple(s string) ([4]int, error) {
	var ids [4]int
	parts := strings.Fields(s)
	if len(parts) != 4 {
		return ids, fmt.Errorf("expected 4 ids, got %q", s)
	}
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return ids, err
		}
		ids[i] = v
	}
	return ids, nil
}

// Cmdline holds the command line of a task.
type Cmdline struct {
	// Raw is the NUL separated content of the cmdline file.
	Raw        string
	Executable string
	Parameters string
}

// Cmdline reads /proc/<pid>/cmdline or the thread's cmdline when tid > 0.
// Kernel threads have an empty command line; callers substitute "[name]".
func (r *Reader) Cmdline(pid, tid int) (*Cmdline, error) {
	b, err := os.ReadFile(r.task(pid, tid, "cmdline"))
	if err != nil {
		return nil, pidError(pid, "cmdline", err)
	}
	return parseCmdline(b), nil
}

func parseCmdline(b []byte) *Cmdline {
	raw := strings.TrimRight(string(b), "\x00")
	c := &Cmdline{Raw: raw}
	if raw == "" {
		return c
	}
	items := strings.Split(raw, "\x00")
	c.Executable = items[0]
	c.Parameters = strings.Join(items[1:], " ")
	return c
}

// Stat reads the process group, session and start time from /proc/<pid>/stat.
func (r *Reader) Stat(pid int) (*Stat, error) {
	b, err := os.ReadFile(r.task(pid, 0, "stat"))
	if err != nil {
		return nil, pidError(pid, "stat", err)
	}
	st, err := parseStat(string(b))
	if err != nil {
		return nil, fmt.Errorf("pid %d: %w", pid, err)
	}
	return st, nil
}

func parseStat(s string) (*Stat, error) {
	// comm may contain spaces and parentheses; fields resume after the last ')'
	end := strings.LastIndexByte(s, ')')
	if end < 0 {
		return nil, fmt.Errorf("malformed stat line")
	}
	rest := strings.Fields(s[end+1:])
	// rest[0] is field 3 (state); pgrp=5, session=6, starttime=22
	if len(rest) < 20 {
		return nil, fmt.Errorf("stat line has %d fields after comm", len(rest))
	}
	pgrp, err := strconv.Atoi(rest[2])
	if err != nil {
		return nil, fmt.Errorf("invalid pgrp: %w", err)
	}
	session, err := strconv.Atoi(rest[3])
	if err != nil {
		return nil, fmt.Errorf("invalid session: %w", err)
	}
	start, err := strconv.ParseUint(rest[19], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid starttime: %w", err)
	}
	return &Stat{PGroup: pgrp, Session: session, StartTime: start}, nil
}

// Threads reads every task of pid other than the main thread.
func (r *Reader) Threads(pid int) (map[int]*Thread, error) {
	entries, err := os.ReadDir(r.task(pid, 0, "task"))
	if err != nil {
		return nil, pidError(pid, "task list", err)
	}
	threads := make(map[int]*Thread, len(entries))
	for _, e := range entries {
		tid, err := strconv.Atoi(e.Name())
		if err != nil || tid == pid {
			continue
		}
		st, err := r.Status(pid, tid)
		if err != nil {
			if errors.IsVanished(err) {
				continue
			}
			return nil, err
		}
		cmd, err := r.Cmdline(pid, tid)
		if err != nil {
			if errors.IsVanished(err) {
				continue
			}
			return nil, err
		}
		threads[tid] = &Thread{
			TID:          tid,
			Name:         st.Name,
			Credentials:  st.Credentials,
			Capabilities: st.Capabilities,
			Seccomp:      st.Seccomp,
			Executable:   executableOrName(cmd.Executable, st.Name),
			Parameters:   cmd.Parameters,
			Cmdline:      cmd.Raw,
		}
	}
	return threads, nil
}

func executableOrName(exe, name string) string {
	if exe != "" {
		return exe
	}
	return "[" + name + "]"
}

// Root returns the resolved root directory of pid.
func (r *Reader) Root(pid int) (string, error) {
	target, err := os.Readlink(r.task(pid, 0, "root"))
	if err != nil {
		return "", pidError(pid, "root", err)
	}
	return target, nil
}

// Namespaces returns the namespace inode of pid for each namespace kind.
// The *_for_children links are skipped.
func (r *Reader) Namespaces(pid int) (map[string]uint64, error) {
	dir := r.task(pid, 0, "ns")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, pidError(pid, "namespaces", err)
	}
	ns := make(map[string]uint64, len(entries))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), "_for_children") {
			continue
		}
		target, err := os.Readlink(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, pidError(pid, "namespace "+e.Name(), err)
		}
		_, id, ok := ParsePseudoTarget(target)
		if !ok {
			return nil, fmt.Errorf("unexpected namespace link %q", target)
		}
		inode, err := strconv.ParseUint(id, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid namespace inode in %q: %w", target, err)
		}
		ns[e.Name()] = inode
	}
	return ns, nil
}

// Maps reads /proc/<pid>/maps.
func (r *Reader) Maps(pid int) ([]MemoryMap, error) {
	lines, err := readLines(r.task(pid, 0, "maps"))
	if err != nil {
		return nil, pidError(pid, "maps", err)
	}
	maps := make([]MemoryMap, 0, len(lines))
	for _, l := range lines {
		m, err := parseMapsLine(l)
		if err != nil {
			return nil, fmt.Errorf("pid %d: %w", pid, err)
		}
		maps = append(maps, m)
	}
	return maps, nil
}

func parseMapsLine(l string) (MemoryMap, error) {
	parts := strings.Fields(l)
	if len(parts) < 5 {
		return MemoryMap{}, fmt.Errorf("malformed maps line %q", l)
	}
	inode, err := strconv.ParseUint(parts[4], 10, 64)
	if err != nil {
		return MemoryMap{}, fmt.Errorf("invalid inode in maps line %q: %w", l, err)
	}
	m := MemoryMap{
		Address: parts[0],
		Perms:   parts[1],
		Offset:  parts[2],
		Device:  parts[3],
		Inode:   inode,
	}
	if len(parts) > 5 {
		// pathnames may contain spaces
		m.Pathname = strings.Join(parts[5:], " ")
	}
	return m, nil
}

// Process collects the full record of pid. It fails with ResourceVanished
// when the process exits before its status can be read; descriptor, maps
// and thread tables that disappear afterwards are left empty.
func (r *Reader) Process(pid int) (*Process, error) {
	st, err := r.Status(pid, 0)
	if err != nil {
		return nil, err
	}
	cmd, err := r.Cmdline(pid, 0)
	if err != nil {
		return nil, err
	}
	stat, err := r.Stat(pid)
	if err != nil {
		return nil, err
	}
	ns, err := r.Namespaces(pid)
	if err != nil {
		return nil, err
	}

	p := &Process{
		PID:          pid,
		Parent:       st.PPid,
		Name:         st.Name,
		Executable:   executableOrName(cmd.Executable, st.Name),
		Parameters:   cmd.Parameters,
		Cmdline:      cmd.Raw,
		Credentials:  st.Credentials,
		Capabilities: st.Capabilities,
		Seccomp:      st.Seccomp,
		Umask:        st.Umask,
		Stat:         *stat,
		Namespaces:   ns,
	}

	if p.Root, err = r.Root(pid); err != nil && !denied(err) {
		return nil, err
	}
	if p.FileDescriptors, err = r.FileDescriptors(pid); err != nil && !denied(err) {
		return nil, err
	}
	if p.Maps, err = r.Maps(pid); err != nil && !denied(err) {
		return nil, err
	}
	if p.Threads, err = r.Threads(pid); err != nil {
		return nil, err
	}
	return p, nil
}
