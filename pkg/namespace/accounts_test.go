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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/hostaudit/pkg/kernel"
)

func TestMapID(t *testing.T) {
	m := []kernel.IDMapEntry{{Inside: 0, Outside: 100000, Count: 1000}, {Inside: 1000, Outside: 5000, Count: 1}}
	tests := []struct {
		in   int
		want int
		ok   bool
	}{
		{0, 100000, true},
		{999, 100999, true},
		{1000, 5000, true},
		{1001, 0, false},
	}
	for _, tt := range tests {
		got, ok := MapID(m, tt.in)
		assert.Equal(t, tt.ok, ok, "id %d", tt.in)
		assert.Equal(t, tt.want, got, "id %d", tt.in)
	}
}

func TestMergeAccounts(t *testing.T) {
	host := &kernel.Accounts{
		Users:  map[int]string{0: "root", 1000: "alice"},
		Groups: map[int]string{0: "root"},
	}
	deep := map[uint64]*Deep{
		51: {Kind: KindUser, ID: 51, User: &UserInfo{
			UIDMap: []kernel.IDMapEntry{{Inside: 0, Outside: 100000, Count: 65536}},
			GIDMap: []kernel.IDMapEntry{{Inside: 0, Outside: 100000, Count: 65536}},
			Accounts: &kernel.Accounts{
				Users:  map[int]string{0: "root", 33: "www-data", 70000: "unmapped"},
				Groups: map[int]string{33: "www-data"},
			},
		}},
		// maps only, nothing to merge
		52: {Kind: KindUser, ID: 52, User: &UserInfo{}},
		21: {Kind: KindNet, ID: 21},
	}

	merged, overlaps := MergeAccounts(host, deep)
	assert.Empty(t, overlaps)
	assert.Equal(t, map[int]string{
		0:      "root",
		1000:   "alice",
		100000: "root(user-ns)",
		100033: "www-data(user-ns)",
	}, merged.Users)
	assert.Equal(t, "www-data(user-ns)", merged.Groups[100033])

	// host accounts are not modified
	assert.Len(t, host.Users, 2)
}

func TestMergeAccountsOverlap(t *testing.T) {
	host := &kernel.Accounts{
		Users:  map[int]string{1000: "alice"},
		Groups: map[int]string{1000: "alice"},
	}
	idMap := []kernel.IDMapEntry{{Inside: 0, Outside: 1000, Count: 1}, {Inside: 1, Outside: 100000, Count: 65536}}
	deep := map[uint64]*Deep{
		51: {Kind: KindUser, User: &UserInfo{
			UIDMap: idMap,
			GIDMap: idMap,
			Accounts: &kernel.Accounts{
				Users:  map[int]string{0: "root", 33: "www-data"},
				Groups: map[int]string{0: "root"},
			},
		}},
	}

	merged, overlaps := MergeAccounts(host, deep)
	require.Len(t, overlaps, 2)
	assert.Equal(t, Overlap{Kind: "uid", ID: 1000, Existing: "alice", Name: "root", Namespace: 51}, overlaps[0])
	assert.Equal(t, "gid", overlaps[1].Kind)

	// host names win, the rest of the namespace is still merged
	assert.Equal(t, "alice", merged.Users[1000])
	assert.Equal(t, "alice", merged.Groups[1000])
	assert.Equal(t, "www-data(user-ns)", merged.Users[100032])
}
