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

package namespace

import (
	"encoding/json"
	"slices"
	"sort"

	"github.com/NVIDIA/hostaudit/pkg/kernel"
)

// Kind is a namespace type as named under /proc/<pid>/ns.
type Kind string

const (
	KindCgroup Kind = "cgroup"
	KindIPC    Kind = "ipc"
	KindMnt    Kind = "mnt"
	KindNet    Kind = "net"
	KindPID    Kind = "pid"
	KindTime   Kind = "time"
	KindUser   Kind = "user"
	KindUTS    Kind = "uts"
)

// RootPID is the process whose namespaces are the host's own.
const RootPID = 1

// Key identifies a namespace.
type Key struct {
	Kind Kind
	ID   uint64
}

// Namespace is one kernel namespace and the processes inside it.
type Namespace struct {
	Kind Kind   `json:"kind"`
	ID   uint64 `json:"id"`
	// Alias is a small display number, unique across all kinds of one snapshot.
	Alias   int   `json:"alias"`
	Members []int `json:"members"`
	// OwnerUID is the filesystem uid of the first member seen.
	OwnerUID int  `json:"owner_uid"`
	Root     bool `json:"root"`
}

// Key returns the namespace's identity.
func (n *Namespace) Key() Key {
	return Key{Kind: n.Kind, ID: n.ID}
}

// Set is the resolved namespace table of a snapshot. It also satisfies
// json.Marshaler as an alias ordered list.
type Set struct {
	list    []*Namespace
	byKey   map[Key]*Namespace
	byAlias map[int]*Namespace
}

// Resolve groups processes by namespace. Processes are visited in ascending
// pid order and kinds in name order; each newly seen namespace receives the
// next alias starting at 1. A namespace containing rootPID is marked root.
func Resolve(procs map[int]*kernel.Process, rootPID int) *Set {
	pids := make([]int, 0, len(procs))
	for pid := range procs {
		pids = append(pids, pid)
	}
	slices.Sort(pids)

	s := newSet()
	for _, pid := range pids {
		p := procs[pid]
		kinds := make([]string, 0, len(p.Namespaces))
		for k := range p.Namespaces {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)

		for _, k := range kinds {
			key := Key{Kind: Kind(k), ID: p.Namespaces[k]}
			ns, ok := s.byKey[key]
			if !ok {
				ns = &Namespace{
					Kind:     key.Kind,
					ID:       key.ID,
					Alias:    len(s.list) + 1,
					OwnerUID: p.Credentials.UID[kernel.IDFilesystem],
				}
				s.add(ns)
			}
			ns.Members = append(ns.Members, pid)
			if pid == rootPID {
				ns.Root = true
			}
		}
	}
	return s
}

func newSet() *Set {
	return &Set{
		byKey:   make(map[Key]*Namespace),
		byAlias: make(map[int]*Namespace),
	}
}

func (s *Set) add(ns *Namespace) {
	s.list = append(s.list, ns)
	s.byKey[ns.Key()] = ns
	s.byAlias[ns.Alias] = ns
}

// Len returns the number of namespaces.
func (s *Set) Len() int {
	return len(s.list)
}

// All returns the namespaces in alias order.
func (s *Set) All() []*Namespace {
	return slices.Clone(s.list)
}

// Get looks a namespace up by kind and inode.
func (s *Set) Get(kind Kind, id uint64) (*Namespace, bool) {
	ns, ok := s.byKey[Key{Kind: kind, ID: id}]
	return ns, ok
}

// ByAlias looks a namespace up by its display alias.
func (s *Set) ByAlias(alias int) (*Namespace, bool) {
	ns, ok := s.byAlias[alias]
	return ns, ok
}

// RootOf returns the root namespace of kind, or nil if the root process was
// not observed.
func (s *Set) RootOf(kind Kind) *Namespace {
	for _, ns := range s.list {
		if ns.Kind == kind && ns.Root {
			return ns
		}
	}
	return nil
}

// Foreign returns the non-root namespaces in alias order.
func (s *Set) Foreign() []*Namespace {
	var out []*Namespace
	for _, ns := range s.list {
		if !ns.Root {
			out = append(out, ns)
		}
	}
	return out
}

// InRoot reports whether p lives in the root namespace of kind. Processes
// lacking the link are treated as inside the root namespace.
func (s *Set) InRoot(p *kernel.Process, kind Kind) bool {
	id, ok := p.Namespaces[string(kind)]
	if !ok {
		return true
	}
	ns, ok := s.Get(kind, id)
	return ok && ns.Root
}

// MarshalJSON implements json.Marshaler.
func (s *Set) MarshalJSON() ([]byte, error) {
	if s == nil || s.list == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.list)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Set) UnmarshalJSON(b []byte) error {
	var list []*Namespace
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	*s = *newSet()
	for _, ns := range list {
		s.add(ns)
	}
	return nil
}
