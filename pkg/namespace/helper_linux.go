//go:build linux

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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/NVIDIA/hostaudit/pkg/errors"
	"github.com/NVIDIA/hostaudit/pkg/kernel"
)

var cloneFlags = map[Kind]int{
	KindCgroup: unix.CLONE_NEWCGROUP,
	KindIPC:    unix.CLONE_NEWIPC,
	KindMnt:    unix.CLONE_NEWNS,
	KindNet:    unix.CLONE_NEWNET,
	KindTime:   unix.CLONE_NEWTIME,
	KindUser:   unix.CLONE_NEWUSER,
	KindUTS:    unix.CLONE_NEWUTS,
}

// IsHelperInvocation reports whether the process was started as the
// namespace helper.
func IsHelperInvocation() bool {
	return os.Getenv(ModeEnv) == ModeNamespaceHelper
}

// RunHelper is the body of the namespace helper process. It reads a
// JoinRequest from stdin, enters the namespaces passed as descriptors 3..n,
// runs the collector and writes its JSON result to stdout. The return value
// is the process exit code; nothing is written to stdout on failure.
func RunHelper(stdin io.Reader, stdout, stderr io.Writer) int {
	var req JoinRequest
	if err := json.NewDecoder(stdin).Decode(&req); err != nil {
		fmt.Fprintf(stderr, "invalid join request: %v\n", err)
		return 1
	}
	if err := req.Validate(); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	// setns applies to the calling thread only; the process exits afterwards
	// so the thread is never unlocked.
	runtime.LockOSThread()

	if err := enter(req.ordered()); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	result, err := collect(req.Collector)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if err := json.NewEncoder(stdout).Encode(result); err != nil {
		fmt.Fprintf(stderr, "failed to write result: %v\n", err)
		return 1
	}
	return 0
}

func enter(kinds []Kind) error {
	for i, k := range kinds {
		fd := firstNamespaceFD + i
		if k == KindMnt {
			// setns(CLONE_NEWNS) refuses a shared fs_struct
			if err := unix.Unshare(unix.CLONE_FS); err != nil {
				return fmt.Errorf("failed to unshare fs attributes: %w", err)
			}
		}
		if err := unix.Setns(fd, cloneFlags[k]); err != nil {
			return errors.Wrap(errors.ErrCodeNamespaceJoinFailed,
				fmt.Sprintf("failed to enter %s namespace via fd %d", k, fd), err)
		}
	}
	return nil
}

func collect(c Collector) (any, error) {
	switch c {
	case CollectInterfaces:
		return collectInterfaces()
	case CollectUTS:
		host, _ := kernel.Uname()
		return &UTSInfo{Hostname: host, DomainName: kernel.DomainName()}, nil
	case CollectAccounts:
		return kernel.NewReader().Accounts()
	case CollectProcesses:
		return CollectNested(kernel.NewReader())
	default:
		return nil, fmt.Errorf("unknown collector %q", c)
	}
}

// collectInterfaces reads sysfs of the joined network namespace. A fresh
// sysfs mount reflects the namespace of the mounting thread, so it is made
// in a private mount namespace that disappears with the helper.
func collectInterfaces() (map[string]kernel.NetInterface, error) {
	if err := unix.Unshare(unix.CLONE_NEWNS); err != nil {
		return nil, fmt.Errorf("failed to unshare mount namespace: %w", err)
	}
	if err := unix.Mount("", "/", "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
		return nil, fmt.Errorf("failed to make mounts private: %w", err)
	}
	dir, err := os.MkdirTemp("", "hostaudit-sysfs-")
	if err != nil {
		return nil, fmt.Errorf("failed to create sysfs mount point: %w", err)
	}
	defer os.Remove(dir)

	if err := unix.Mount("none", dir, "sysfs", 0, ""); err != nil {
		return nil, fmt.Errorf("failed to mount sysfs: %w", err)
	}
	defer unix.Unmount(dir, unix.MNT_DETACH)

	r := kernel.NewReader(kernel.WithSysRoot(dir), kernel.WithNetDir(filepath.Join("thread-self", "net")))
	return r.NetInterfaces()
}
