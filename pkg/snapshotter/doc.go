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

// Package snapshotter assembles a point-in-time snapshot of the host it runs on.
//
// # Overview
//
// HostSnapshotter reads kernel state through a kernel.Reader and runs the
// collection steps in a fixed order:
//
//  1. system data (mount table, uptime, shared memory objects)
//  2. processes, dropping those that exit mid-scan
//  3. namespace resolution
//  4. deep namespace data, gathered by joining foreign namespaces
//  5. accounts, merged with user-namespace mappings
//  6. socket protocol tables
//  7. filesystem walk (optional)
//  8. SysV IPC tables
//  9. network interfaces
//  10. service units (best effort)
//
// Each step's duration is recorded as a Prometheus histogram labeled with
// the step name.
//
// # Usage
//
//	joiner, err := namespace.NewHelperJoiner()
//	if err != nil {
//	    return err
//	}
//	s := &snapshotter.HostSnapshotter{
//	    Version:      version,
//	    Joiner:       joiner,
//	    CollectFiles: true,
//	    Services:     &services.Collector{},
//	}
//	snap, err := s.Measure(ctx)
//
// # Parent consistency
//
// Every value of Snapshot.Parents is either 0 or a pid present in
// Snapshot.Processes. A process whose parent exited during the scan is
// re-read to pick up its new parent and dropped if that one is unknown too.
package snapshotter
