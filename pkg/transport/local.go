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

package transport

import (
	"context"
	"io"
	"os"
	"os/exec"

	"github.com/NVIDIA/hostaudit/pkg/defaults"
	"github.com/NVIDIA/hostaudit/pkg/dump"
	"github.com/NVIDIA/hostaudit/pkg/snapshotter"
	"github.com/NVIDIA/hostaudit/pkg/topology"
)

// Local probes the host the collector runs on. As root the snapshot is
// taken in-process; otherwise the collector re-executes itself under the
// privilege wrapper.
type Local struct {
	// Snapshotter takes the in-process snapshot.
	Snapshotter snapshotter.Snapshotter
	// Binary is the collector re-executed when not root. Defaults to the
	// running executable.
	Binary string
	// PrivilegeWrapper elevates the re-executed probe. Defaults to
	// defaults.PrivilegeWrapper.
	PrivilegeWrapper string
	Options          ProbeOptions

	// IsRoot defaults to checking the effective uid.
	IsRoot func() bool
}

func (l *Local) root() bool {
	if l.IsRoot != nil {
		return l.IsRoot()
	}
	return os.Geteuid() == 0
}

// Probe implements Transport.
func (l *Local) Probe(ctx context.Context, target topology.Target, consume func(io.Reader) error) error {
	if l.root() {
		return l.inProcess(ctx, consume)
	}

	exe, err := selfExecutable(l.Binary)
	if err != nil {
		return err
	}
	wrapper := l.PrivilegeWrapper
	if wrapper == "" {
		wrapper = defaults.PrivilegeWrapper
	}
	ctx, cancel := context.WithTimeout(ctx, defaults.CollectorTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, wrapper, append([]string{exe}, l.Options.Args()...)...)
	cmd.Stdin = os.Stdin // the wrapper may prompt for a password
	return run(cmd, map[string]any{"host": target.Host, "wrapper": wrapper}, consume)
}

// inProcess measures and streams through a pipe, so the consumer sees the
// same bytes a remote probe would send.
func (l *Local) inProcess(ctx context.Context, consume func(io.Reader) error) error {
	snap, err := l.Snapshotter.Measure(ctx)
	if err != nil {
		return err
	}
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(dump.WriteStream(pw, snap))
	}()
	err = consume(pr)
	pr.Close()
	return err
}
