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

package defaults

import "time"

// Collector timeouts for data collection operations.
const (
	// CollectorTimeout bounds a single local snapshot.
	// Collectors should respect parent context deadlines when shorter.
	CollectorTimeout = 10 * time.Minute

	// NamespaceHelperTimeout bounds one namespace join round trip.
	NamespaceHelperTimeout = 30 * time.Second

	// SystemdTimeout bounds the service unit query over the system bus.
	SystemdTimeout = 10 * time.Second

	// K8sDiscoveryTimeout is the timeout for node listing during discovery.
	K8sDiscoveryTimeout = 30 * time.Second
)

// Remote transport timeouts.
const (
	// SSHConnectTimeout is passed to the ssh client as ConnectTimeout.
	SSHConnectTimeout = 15 * time.Second

	// RemoteProbeTimeout bounds shipping the binary and running the probe on one host.
	RemoteProbeTimeout = 30 * time.Minute
)

// CLI timeouts for command-line operations.
const (
	// CLICollectTimeout is the default timeout for a full collection run.
	CLICollectTimeout = 2 * time.Hour
)

// Collection defaults.
const (
	// DumpRoot is the default root directory of the dump store.
	DumpRoot = "/tmp/hostaudit"

	// Parallelism is the default number of hosts collected concurrently.
	Parallelism = 4

	// ConnectRate is the default number of new host connections started per second.
	ConnectRate = 2.0

	// SSHUser is the remote login used when the host name carries none.
	SSHUser = "root"

	// PrivilegeWrapper elevates the probe when not running as root.
	PrivilegeWrapper = "sudo"
)

// ExcludedPaths are never descended into by the filesystem walk.
var ExcludedPaths = []string{"/.snapshots", "/proc", "/sys", "/mounts", "/suse"}
