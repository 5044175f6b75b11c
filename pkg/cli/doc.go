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

// Package cli implements the hostaudit command-line interface.
//
// # Commands
//
// collect - Collect hosts into the dump store:
//
//	hostaudit collect [--topology topology.json] [host...]
//
// Collects the hosts of a topology file, the argument hosts, or the local
// host. Remote hosts are reached over ssh; the collector binary is shipped
// to each host and run there as "probe". Dumps land in --output-dir, one
// directory per host, and a per-host status report is written to --output.
//
// probe - Snapshot this host:
//
//	sudo hostaudit probe --output - [--collect-files] [--exclude /data]
//
// Writes the framed dump stream the collect command stores.
//
// inspect - Summarize collected dumps:
//
//	hostaudit inspect [host...] --format table
//
// cache - Manage the dump store:
//
//	hostaudit cache list
//	hostaudit cache clear node-1 node-2
//	hostaudit cache clear --all
//
// discover - Build a topology file from a Kubernetes cluster:
//
//	hostaudit discover --output topology.json
//
// # Global Flags
//
//	--config        Config file (default: $HOME/.hostaudit.yaml)
//	--log-level     Log level: debug, info, warn, error (default: info)
//	--verbose, -v   Debug logging
//	--metrics-file  Write Prometheus metrics to this file on exit
//
// # Configuration
//
// Settings are merged from the config file, HOSTAUDIT_* environment
// variables and command-line flags, later sources winning. See package
// config for the keys.
//
// # Exit Codes
//
//	0  Success
//	1  Any failure, including hosts that could not be collected
package cli
