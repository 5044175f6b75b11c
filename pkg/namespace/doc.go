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

// Package namespace groups processes by kernel namespace and gathers data
// that is only visible from inside foreign namespaces.
//
// Resolve builds a Set with dense display aliases. DeepCollector then visits
// every non-root namespace and, through a Joiner, runs a small collector in
// a helper process that has entered the namespace:
//
//	net   network interfaces of the namespace
//	uts   host and domain name
//	user  id maps (read by the parent) and, for containers with their own
//	      root filesystem, the accounts found there
//	pid   the nested process table, read from the container's /proc
//
// setns affects a single thread and cannot enter a user namespace from a
// multithreaded process, so the helper is a fresh copy of the binary started
// with HOSTAUDIT_MODE=ns-helper. It receives the namespace descriptors as
// inherited files starting at fd 3 and the JoinRequest on stdin, and answers
// with one JSON document on stdout:
//
//	func main() {
//	    if namespace.IsHelperInvocation() {
//	        os.Exit(namespace.RunHelper(os.Stdin, os.Stdout, os.Stderr))
//	    }
//	    ...
//	}
package namespace
