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

// Package kernel reads security relevant process and system state from
// procfs, sysfs and /etc.
//
// The Reader exposes one method per kernel source: process status, command
// line, stat, threads, descriptor tables with fdinfo flags, memory maps,
// namespace links, the mount table, the /proc/net protocol tables, System V
// IPC tables, shared memory objects, network interfaces and local accounts.
//
// Roots are configurable so every reader can run against a fixture tree:
//
//	r := kernel.NewReader(kernel.WithProcRoot("/host/proc"))
//	if _, err := r.Mounts(); err != nil { ... } // before descriptor reads
//	p, err := r.Process(1)
//
// Reads that fail because the process exited return an error carrying
// errors.ErrCodeResourceVanished; callers skip the process.
//
// Numeric fields keep their kernel radix through serialization: capability
// masks as hex, descriptor flags and umask as octal.
package kernel
