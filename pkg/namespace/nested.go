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
	"github.com/NVIDIA/hostaudit/pkg/errors"
	"github.com/NVIDIA/hostaudit/pkg/kernel"
)

// CollectNested reads a light process table through r. Inside a joined mount
// namespace the reader's /proc is the namespace's own, so pids are the ones
// seen from inside the container.
func CollectNested(r *kernel.Reader) (map[int]*NestedProcess, error) {
	pids, err := r.ListPIDs()
	if err != nil {
		return nil, err
	}
	out := make(map[int]*NestedProcess, len(pids))
	for _, pid := range pids {
		st, err := r.Status(pid, 0)
		if err != nil {
			if errors.IsVanished(err) {
				continue
			}
			return nil, err
		}
		cmd, err := r.Cmdline(pid, 0)
		if err != nil {
			if errors.IsVanished(err) {
				continue
			}
			return nil, err
		}
		exe := cmd.Executable
		if exe == "" {
			exe = "[" + st.Name + "]"
		}
		out[pid] = &NestedProcess{
			PID:         pid,
			Parent:      st.PPid,
			Name:        st.Name,
			Executable:  exe,
			Parameters:  cmd.Parameters,
			Credentials: st.Credentials,
		}
	}
	return out, nil
}
