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
	"context"
	"log/slog"

	"github.com/NVIDIA/hostaudit/pkg/errors"
	"github.com/NVIDIA/hostaudit/pkg/kernel"
)

// UTSInfo is the identity of a UTS namespace.
type UTSInfo struct {
	Hostname   string `json:"hostname"`
	DomainName string `json:"domainname"`
}

// UserInfo describes a user namespace: its id mappings and, when the
// namespace has its own root filesystem, the accounts defined there.
type UserInfo struct {
	UIDMap   []kernel.IDMapEntry `json:"uid_map"`
	GIDMap   []kernel.IDMapEntry `json:"gid_map"`
	Accounts *kernel.Accounts    `json:"accounts,omitempty"`
}

// NestedProcess is a process as seen from inside a foreign pid namespace.
type NestedProcess struct {
	PID         int                `json:"pid"`
	Parent      int                `json:"parent"`
	Name        string             `json:"name"`
	Executable  string             `json:"executable"`
	Parameters  string             `json:"parameters"`
	Credentials kernel.Credentials `json:"credentials"`
}

// Deep is the extra data collected for a foreign namespace. Only the field
// matching Kind is set.
type Deep struct {
	Kind       Kind                           `json:"kind"`
	ID         uint64                         `json:"id"`
	Interfaces map[string]kernel.NetInterface `json:"interfaces,omitempty"`
	UTS        *UTSInfo                       `json:"uts,omitempty"`
	User       *UserInfo                      `json:"user,omitempty"`
	Processes  map[int]*NestedProcess         `json:"processes,omitempty"`
}

// DeepCollector gathers Deep data for every foreign namespace of a Set.
type DeepCollector struct {
	Joiner Joiner
	Reader *kernel.Reader
	// Logger receives join failures. Defaults to slog.Default().
	Logger *slog.Logger
	// OnJoinFailure is called for every failed join, after logging.
	OnJoinFailure func(kind Kind)
}

// Collect visits the foreign namespaces in alias order, one join at a time.
// Failed joins are logged at warning level and leave the namespace without
// the joined part of its deep data. The result is keyed by namespace inode.
func (c *DeepCollector) Collect(ctx context.Context, set *Set, procs map[int]*kernel.Process) map[uint64]*Deep {
	log := c.Logger
	if log == nil {
		log = slog.Default()
	}
	out := make(map[uint64]*Deep)
	for _, ns := range set.Foreign() {
		if ctx.Err() != nil {
			break
		}
		if len(ns.Members) == 0 {
			continue
		}
		pid := ns.Members[0]
		proc := procs[pid]
		if proc == nil {
			continue
		}

		deep, err := c.collectOne(ctx, set, ns, proc)
		if deep != nil {
			out[ns.ID] = deep
		}
		if err != nil {
			if errors.IsCode(err, errors.ErrCodeNamespaceJoinFailed) {
				log.Warn("failed to collect namespace data",
					slog.String("kind", string(ns.Kind)),
					slog.Uint64("id", ns.ID),
					slog.Int("pid", pid),
					slog.String("error", err.Error()))
				if c.OnJoinFailure != nil {
					c.OnJoinFailure(ns.Kind)
				}
			} else {
				log.Debug("skipping namespace data",
					slog.String("kind", string(ns.Kind)),
					slog.Int("pid", pid),
					slog.String("error", err.Error()))
			}
		}
	}
	return out
}

func (c *DeepCollector) collectOne(ctx context.Context, set *Set, ns *Namespace, proc *kernel.Process) (*Deep, error) {
	deep := &Deep{Kind: ns.Kind, ID: ns.ID}
	inRootMnt := set.InRoot(proc, KindMnt)

	switch ns.Kind {
	case KindNet:
		var ifaces map[string]kernel.NetInterface
		if err := c.Joiner.Join(ctx, JoinRequest{PID: proc.PID, Kinds: []Kind{KindNet}, Collector: CollectInterfaces}, &ifaces); err != nil {
			return nil, err
		}
		deep.Interfaces = ifaces

	case KindUTS:
		var uts UTSInfo
		if err := c.Joiner.Join(ctx, JoinRequest{PID: proc.PID, Kinds: []Kind{KindUTS}, Collector: CollectUTS}, &uts); err != nil {
			return nil, err
		}
		deep.UTS = &uts

	case KindUser:
		uids, gids, err := c.Reader.IDMaps(proc.PID)
		if err != nil {
			return nil, err
		}
		deep.User = &UserInfo{UIDMap: uids, GIDMap: gids}
		if !inRootMnt {
			// names only exist in the namespace's own /etc
			var acc kernel.Accounts
			err := c.Joiner.Join(ctx, JoinRequest{PID: proc.PID, Kinds: []Kind{KindMnt}, Collector: CollectAccounts}, &acc)
			if err != nil {
				// keep the id maps read from the host side
				return deep, err
			}
			deep.User.Accounts = &acc
		}

	case KindPID:
		if inRootMnt {
			// no private /proc to read the nested tree from
			return nil, nil
		}
		var procs map[int]*NestedProcess
		if err := c.Joiner.Join(ctx, JoinRequest{PID: proc.PID, Kinds: []Kind{KindMnt}, Collector: CollectProcesses}, &procs); err != nil {
			return nil, err
		}
		deep.Processes = procs

	default:
		return nil, nil
	}
	return deep, nil
}
