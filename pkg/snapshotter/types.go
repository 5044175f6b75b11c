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

package snapshotter

import (
	"context"
	"slices"

	"github.com/NVIDIA/hostaudit/pkg/fsindex"
	"github.com/NVIDIA/hostaudit/pkg/header"
	"github.com/NVIDIA/hostaudit/pkg/kernel"
	"github.com/NVIDIA/hostaudit/pkg/namespace"
	"github.com/NVIDIA/hostaudit/pkg/services"
)

// APIVersion is the schema version of snapshot documents.
const APIVersion = "hostaudit.nvidia.com/v1alpha1"

// Snapshotter collects one snapshot of a host.
type Snapshotter interface {
	Measure(ctx context.Context) (*Snapshot, error)
}

// SystemData is the host-wide state of a snapshot.
type SystemData struct {
	kernel.SystemData
	// CollectFiles records whether the filesystem was walked.
	CollectFiles bool                     `json:"collect_files"`
	Services     map[string]services.Unit `json:"services,omitempty"`
}

// Snapshot is the point-in-time state of one host. Each field except Header
// and Hostname is one persisted category.
type Snapshot struct {
	header.Header `json:",inline" yaml:",inline"`

	Hostname       string                         `json:"hostname" yaml:"hostname"`
	Processes      map[int]*kernel.Process        `json:"proc_data" yaml:"proc_data"`
	Parents        map[int]int                    `json:"parents" yaml:"parents"`
	Accounts       *kernel.Accounts               `json:"userdata" yaml:"userdata"`
	Namespaces     *namespace.Set                 `json:"namespaces" yaml:"namespaces"`
	NamespacesDeep map[uint64]*namespace.Deep     `json:"namespaces_deep" yaml:"namespaces_deep"`
	Networking     *kernel.ProtocolTables         `json:"networking" yaml:"networking"`
	SysVIPC        *kernel.SysVIPC                `json:"sysvipc" yaml:"sysvipc"`
	System         *SystemData                    `json:"systemdata" yaml:"systemdata"`
	Interfaces     map[string]kernel.NetInterface `json:"nwifaces" yaml:"nwifaces"`

	// Filesystem is stored relationally, not as a blob.
	Filesystem *fsindex.Tree `json:"-" yaml:"-"`
}

// NewSnapshot returns an empty snapshot with initialized maps.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Processes:      make(map[int]*kernel.Process),
		Parents:        make(map[int]int),
		NamespacesDeep: make(map[uint64]*namespace.Deep),
		Interfaces:     make(map[string]kernel.NetInterface),
	}
}

// Children returns the pids whose parent is pid, ascending.
func (s *Snapshot) Children(pid int) []int {
	var out []int
	for child, parent := range s.Parents {
		if parent == pid {
			out = append(out, child)
		}
	}
	slices.Sort(out)
	return out
}
