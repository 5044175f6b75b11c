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

// Package summary reduces a host snapshot to the findings an auditor looks
// at first: processes with effective capabilities, setuid, setgid and
// capability-carrying files, and namespaces. IPC is listed through the
// correlator: pipes shared between processes, sockets with their protocol
// table description, message queues and mapped /dev/shm objects.
package summary
