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
	"maps"
	"slices"

	"github.com/NVIDIA/hostaudit/pkg/kernel"
)

// UserNSSuffix marks names that come from inside a user namespace.
const UserNSSuffix = "(user-ns)"

// MapID translates an id inside a user namespace into the parent namespace.
func MapID(m []kernel.IDMapEntry, inside int) (int, bool) {
	for _, e := range m {
		if inside >= e.Inside && inside < e.Inside+e.Count {
			return e.Outside + (inside - e.Inside), true
		}
	}
	return 0, false
}

// Overlap is a namespaced account whose host id already has a name.
type Overlap struct {
	Kind      string // "uid" or "gid"
	ID        int    // host id
	Existing  string
	Name      string // name inside the namespace
	Namespace uint64
}

// MergeAccounts returns host extended with the accounts of every user
// namespace that has its own, translated to host ids and suffixed with
// UserNSSuffix. Ids without a mapping are dropped. When a translated id
// already has a name, the existing name stays and the collision is
// returned as an Overlap.
func MergeAccounts(host *kernel.Accounts, deep map[uint64]*Deep) (*kernel.Accounts, []Overlap) {
	out := &kernel.Accounts{
		Users:  maps.Clone(host.Users),
		Groups: maps.Clone(host.Groups),
	}
	if out.Users == nil {
		out.Users = map[int]string{}
	}
	if out.Groups == nil {
		out.Groups = map[int]string{}
	}

	var overlaps []Overlap
	for _, id := range slices.Sorted(maps.Keys(deep)) {
		d := deep[id]
		if d.User == nil || d.User.Accounts == nil {
			continue
		}
		overlaps = mergeIDs(overlaps, out.Users, d.User.Accounts.Users, d.User.UIDMap, "uid", id)
		overlaps = mergeIDs(overlaps, out.Groups, d.User.Accounts.Groups, d.User.GIDMap, "gid", id)
	}
	return out, overlaps
}

func mergeIDs(overlaps []Overlap, dst, src map[int]string, m []kernel.IDMapEntry, kind string, ns uint64) []Overlap {
	for _, inside := range slices.Sorted(maps.Keys(src)) {
		outside, ok := MapID(m, inside)
		if !ok {
			continue
		}
		if existing, dup := dst[outside]; dup {
			overlaps = append(overlaps, Overlap{
				Kind:      kind,
				ID:        outside,
				Existing:  existing,
				Name:      src[inside],
				Namespace: ns,
			})
			continue
		}
		dst[outside] = src[inside] + UserNSSuffix
	}
	return overlaps
}
