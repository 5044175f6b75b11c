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

package summary

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/NVIDIA/hostaudit/pkg/captable"
	"github.com/NVIDIA/hostaudit/pkg/correlate"
	"github.com/NVIDIA/hostaudit/pkg/fsindex"
	"github.com/NVIDIA/hostaudit/pkg/header"
	"github.com/NVIDIA/hostaudit/pkg/kernel"
	"github.com/NVIDIA/hostaudit/pkg/namespace"
	"github.com/NVIDIA/hostaudit/pkg/snapshotter"
)

// APIVersion is the schema version of summaries.
const APIVersion = "hostaudit.nvidia.com/v1alpha1"

// FileQuerier runs filesystem index queries and path lookups.
// fsindex.Index implements it.
type FileQuerier interface {
	correlate.FileIndex
	Query(ctx context.Context, q *fsindex.Query) ([]fsindex.Entry, error)
}

// Process is a process holding effective capabilities.
type Process struct {
	PID          int      `json:"pid" yaml:"pid"`
	Name         string   `json:"name" yaml:"name"`
	UID          int      `json:"uid" yaml:"uid"`
	Capabilities []string `json:"capabilities" yaml:"capabilities"`
}

// File is a setuid, setgid or capability-carrying regular file.
type File struct {
	Path         string   `json:"path" yaml:"path"`
	Mode         string   `json:"mode" yaml:"mode"`
	UID          int      `json:"uid" yaml:"uid"`
	GID          int      `json:"gid" yaml:"gid"`
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
}

// Namespace is one namespace with its member count.
type Namespace struct {
	Alias   int    `json:"alias" yaml:"alias"`
	Kind    string `json:"kind" yaml:"kind"`
	ID      uint64 `json:"id" yaml:"id"`
	Members int    `json:"members" yaml:"members"`
	Root    bool   `json:"root" yaml:"root"`
}

// Pipe is a pipe shared by more than one process.
type Pipe struct {
	ID        uint64               `json:"id" yaml:"id"`
	Endpoints []correlate.Endpoint `json:"endpoints" yaml:"endpoints"`
}

// Socket is a socket held by a process, as the protocol tables describe it.
type Socket struct {
	Inode       uint64               `json:"inode" yaml:"inode"`
	Description string               `json:"description" yaml:"description"`
	Endpoints   []correlate.Endpoint `json:"endpoints" yaml:"endpoints"`
}

// Queue is a POSIX message queue and the descriptors opening it.
type Queue struct {
	Name      string               `json:"name" yaml:"name"`
	Endpoints []correlate.Endpoint `json:"endpoints" yaml:"endpoints"`
}

// SharedMemory is a /dev/shm object mapped by at least one process.
type SharedMemory struct {
	Name      string               `json:"name" yaml:"name"`
	Inode     uint64               `json:"inode" yaml:"inode"`
	Processes []correlate.Endpoint `json:"processes" yaml:"processes"`
}

// Summary is the audit-relevant digest of one host snapshot.
type Summary struct {
	header.Header `json:",inline" yaml:",inline"`

	Host       string         `json:"host" yaml:"host"`
	Processes  int            `json:"processes" yaml:"processes"`
	Privileged []Process      `json:"privileged" yaml:"privileged"`
	Files      []File         `json:"files,omitempty" yaml:"files,omitempty"`
	Namespaces []Namespace    `json:"namespaces" yaml:"namespaces"`
	Pipes      []Pipe         `json:"pipes,omitempty" yaml:"pipes,omitempty"`
	Sockets    []Socket       `json:"sockets,omitempty" yaml:"sockets,omitempty"`
	Queues     []Queue        `json:"queues,omitempty" yaml:"queues,omitempty"`
	Shm        []SharedMemory `json:"shm,omitempty" yaml:"shm,omitempty"`
	Services   int            `json:"services" yaml:"services"`
}

// Builder turns snapshots into summaries.
type Builder struct {
	Version string
	// Capabilities names capability bits. Required.
	Capabilities *captable.Table
	// Files is optional; without it the file section stays empty.
	Files FileQuerier
}

// Build summarizes snap.
func (b *Builder) Build(ctx context.Context, snap *snapshotter.Snapshot) (*Summary, error) {
	if b.Capabilities == nil {
		return nil, fmt.Errorf("capability table is required")
	}

	s := &Summary{
		Host:      snap.Hostname,
		Processes: len(snap.Processes),
	}
	s.Init(header.KindSummary, APIVersion, b.Version)
	if runID := snap.Get(header.MetadataRunID); runID != "" {
		s.Set("snapshot-run-id", runID)
	}

	src := correlate.Source{
		Processes:  snap.Processes,
		Protocols:  snap.Networking,
		Interfaces: snap.Interfaces,
	}
	if snap.System != nil {
		src.Shm = snap.System.Shm
		s.Services = len(snap.System.Services)
	}
	if b.Files != nil {
		src.Files = b.Files
	}
	c := correlate.New(src)

	s.Privileged = b.privileged(snap.Processes)
	s.Namespaces = namespaces(snap.Namespaces)
	s.Pipes = pipes(c, snap.Processes)
	s.Sockets = sockets(ctx, c, snap.Processes)
	s.Queues = queues(c, snap.Processes)
	s.Shm = sharedMemory(c, snap.Processes)

	if b.Files != nil {
		files, err := b.files(ctx)
		if err != nil {
			return nil, err
		}
		s.Files = files
	}

	return s, nil
}

func (b *Builder) privileged(procs map[int]*kernel.Process) []Process {
	out := []Process{}
	for _, p := range procs {
		if p.Capabilities.Effective == 0 {
			continue
		}
		out = append(out, Process{
			PID:          p.PID,
			Name:         p.Name,
			UID:          p.Credentials.UID[kernel.IDEffective],
			Capabilities: b.Capabilities.Names(uint64(p.Capabilities.Effective)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

func (b *Builder) files(ctx context.Context) ([]File, error) {
	q := fsindex.NewQuery().
		Type("f").
		ModeAny(unix.S_ISUID | unix.S_ISGID).
		CapsNonZero()

	entries, err := b.Files.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to query special files: %w", err)
	}

	out := make([]File, 0, len(entries))
	for _, e := range entries {
		f := File{
			Path: e.FullPath(),
			Mode: fsindex.ModeString(e.Mode),
			UID:  e.UID,
			GID:  e.GID,
		}
		if e.Caps != 0 {
			f.Capabilities = b.Capabilities.Names(uint64(e.Caps))
		}
		out = append(out, f)
	}
	return out, nil
}

func namespaces(set *namespace.Set) []Namespace {
	out := []Namespace{}
	if set == nil {
		return out
	}
	for _, ns := range set.All() {
		out = append(out, Namespace{
			Alias:   ns.Alias,
			Kind:    string(ns.Kind),
			ID:      ns.ID,
			Members: len(ns.Members),
			Root:    ns.Root,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out
}

// identifiers collects the distinct identifiers of descriptors of kind.
func identifiers(procs map[int]*kernel.Process, kind kernel.FDKind) []string {
	seen := map[string]struct{}{}
	for _, p := range procs {
		for _, fd := range p.FileDescriptors {
			if fd.Kind == kind && fd.Identifier != "" {
				seen[fd.Identifier] = struct{}{}
			}
		}
	}
	return slices.Sorted(maps.Keys(seen))
}

func inodes(procs map[int]*kernel.Process, kind kernel.FDKind) []uint64 {
	var out []uint64
	for _, id := range identifiers(procs, kind) {
		if ino, err := strconv.ParseUint(id, 10, 64); err == nil {
			out = append(out, ino)
		}
	}
	slices.Sort(out)
	return out
}

// pipes lists the pipes connecting at least two distinct processes.
func pipes(c *correlate.Correlator, procs map[int]*kernel.Process) []Pipe {
	var out []Pipe
	for _, id := range inodes(procs, kernel.FDPipe) {
		eps, err := c.EndpointsForPipe(id)
		if err != nil {
			continue
		}
		pids := map[int]struct{}{}
		for _, e := range eps {
			pids[e.PID] = struct{}{}
		}
		if len(pids) < 2 {
			continue
		}
		out = append(out, Pipe{ID: id, Endpoints: eps})
	}
	return out
}

// sockets lists the sockets found in the protocol tables. Sockets the
// tables do not know are left out.
func sockets(ctx context.Context, c *correlate.Correlator, procs map[int]*kernel.Process) []Socket {
	var out []Socket
	for _, id := range inodes(procs, kernel.FDSocket) {
		desc, err := c.DescribeSocket(ctx, id)
		if err != nil {
			continue
		}
		eps, err := c.EndpointsForSocket(id)
		if err != nil {
			continue
		}
		out = append(out, Socket{Inode: id, Description: desc, Endpoints: eps})
	}
	return out
}

func queues(c *correlate.Correlator, procs map[int]*kernel.Process) []Queue {
	var out []Queue
	for _, name := range identifiers(procs, kernel.FDQueue) {
		eps, err := c.EndpointsForQueue(name)
		if err != nil {
			continue
		}
		out = append(out, Queue{Name: name, Endpoints: eps})
	}
	return out
}

func sharedMemory(c *correlate.Correlator, procs map[int]*kernel.Process) []SharedMemory {
	byInode := map[uint64]SharedMemory{}
	for _, pid := range slices.Sorted(maps.Keys(procs)) {
		for _, m := range c.ShmsForPID(pid) {
			byInode[m.Inode] = SharedMemory{Name: m.Name, Inode: m.Inode, Processes: m.PIDs}
		}
	}
	if len(byInode) == 0 {
		return nil
	}
	out := make([]SharedMemory, 0, len(byInode))
	for _, ino := range slices.Sorted(maps.Keys(byInode)) {
		out = append(out, byInode[ino])
	}
	return out
}
