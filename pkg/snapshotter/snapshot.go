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

package snapshotter

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/NVIDIA/hostaudit/pkg/errors"
	"github.com/NVIDIA/hostaudit/pkg/fsindex"
	"github.com/NVIDIA/hostaudit/pkg/header"
	"github.com/NVIDIA/hostaudit/pkg/kernel"
	"github.com/NVIDIA/hostaudit/pkg/namespace"
	"github.com/NVIDIA/hostaudit/pkg/services"
)

// RootPID is the process whose namespaces are the host's own.
const RootPID = 1

// ServiceCollector lists service units. Implemented by *services.Collector.
type ServiceCollector interface {
	Collect(ctx context.Context) (map[string]services.Unit, error)
}

// HostSnapshotter collects a snapshot of the host it runs on.
type HostSnapshotter struct {
	// Version is the collector version recorded in the header.
	Version string

	// Reader reads kernel state. If nil, a reader over the live system is used.
	Reader *kernel.Reader

	// Joiner enters foreign namespaces. If nil, deep namespace data is skipped.
	Joiner namespace.Joiner

	// CollectFiles enables the filesystem walk.
	CollectFiles bool

	// Walker walks the filesystem when CollectFiles is set. If nil, a walker
	// over "/" with the default exclusions is used.
	Walker *fsindex.Walker

	// Services lists service units. If nil, services are not collected.
	Services ServiceCollector

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Measure collects every category of the snapshot. Steps run sequentially:
// descriptor classification needs the mount table, namespace resolution
// needs the process table, and account merging needs the deep data.
func (h *HostSnapshotter) Measure(ctx context.Context) (*Snapshot, error) {
	if h.Reader == nil {
		h.Reader = kernel.NewReader()
	}
	log := h.Logger
	if log == nil {
		log = slog.Default()
	}

	log.Debug("starting host snapshot")

	start := time.Now()
	defer func() {
		snapshotCollectionDuration.Observe(time.Since(start).Seconds())
	}()

	snap, err := h.measure(ctx, log)
	if err != nil {
		snapshotCollectionTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	snapshotCollectionTotal.WithLabelValues("success").Inc()
	snapshotProcessCount.Set(float64(len(snap.Processes)))

	log.Debug("host snapshot collected",
		slog.Int("processes", len(snap.Processes)),
		slog.Int("namespaces", snap.Namespaces.Len()),
		slog.Duration("duration", time.Since(start)))
	return snap, nil
}

func (h *HostSnapshotter) measure(ctx context.Context, log *slog.Logger) (*Snapshot, error) {
	snap := NewSnapshot()
	snap.Init(header.KindSnapshot, APIVersion, h.Version)

	steps := []struct {
		name string
		run  func(ctx context.Context, snap *Snapshot, log *slog.Logger) error
	}{
		{"system", h.collectSystem},
		{"processes", h.collectProcesses},
		{"namespaces", h.collectNamespaces},
		{"namespaces_deep", h.collectDeep},
		{"accounts", h.collectAccounts},
		{"networking", h.collectNetworking},
		{"filesystem", h.collectFilesystem},
		{"sysvipc", h.collectSysVIPC},
		{"interfaces", h.collectInterfaces},
		{"services", h.collectServices},
	}

	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(errors.ErrCodeTimeout, "snapshot canceled before "+s.name, err)
		}
		stepStart := time.Now()
		err := s.run(ctx, snap, log)
		snapshotStepDuration.WithLabelValues(s.name).Observe(time.Since(stepStart).Seconds())
		if err != nil {
			log.Error("snapshot step failed", slog.String("step", s.name), slog.String("error", err.Error()))
			return nil, fmt.Errorf("failed to collect %s: %w", s.name, err)
		}
	}
	return snap, nil
}

// collectSystem must run first: it reads the mount table, which records the
// mqueue devices used to classify queue descriptors.
func (h *HostSnapshotter) collectSystem(_ context.Context, snap *Snapshot, _ *slog.Logger) error {
	sd, err := h.Reader.SystemData()
	if err != nil {
		return err
	}
	snap.System = &SystemData{SystemData: *sd, CollectFiles: h.CollectFiles}
	snap.Hostname = sd.Hostname
	snap.Set("hostname", sd.Hostname)
	snap.Set("kernel-release", sd.KernelRelease)
	return nil
}

func (h *HostSnapshotter) collectProcesses(ctx context.Context, snap *Snapshot, log *slog.Logger) error {
	pids, err := h.Reader.ListPIDs()
	if err != nil {
		return err
	}
	for _, pid := range pids {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p, err := h.Reader.Process(pid)
		if err != nil {
			if errors.IsVanished(err) {
				vanishedProcesses.Inc()
				log.Debug("process vanished", slog.Int("pid", pid), slog.String("error", err.Error()))
				continue
			}
			return err
		}
		snap.Processes[pid] = p
	}
	h.resolveParents(snap, log)
	return nil
}

// resolveParents fills the parent map so that every parent is either a
// collected process or 0. A process whose parent exited during the scan is
// re-read once, since it has been reparented; if its new parent is still
// unknown the process is dropped. Dropping can orphan children, so the
// pass repeats until nothing changes.
func (h *HostSnapshotter) resolveParents(snap *Snapshot, log *slog.Logger) {
	reread := make(map[int]bool)
	for {
		changed := false
		for _, pid := range sortedPIDs(snap.Processes) {
			p := snap.Processes[pid]
			if p.Parent == 0 || snap.Processes[p.Parent] != nil {
				continue
			}
			changed = true
			if !reread[pid] {
				reread[pid] = true
				if st, err := h.Reader.Status(pid, 0); err == nil {
					log.Debug("process reparented",
						slog.Int("pid", pid), slog.Int("from", p.Parent), slog.Int("to", st.PPid))
					p.Parent = st.PPid
					continue
				}
			}
			log.Debug("dropping process with vanished parent", slog.Int("pid", pid), slog.Int("parent", p.Parent))
			vanishedProcesses.Inc()
			delete(snap.Processes, pid)
		}
		if !changed {
			break
		}
	}

	clear(snap.Parents)
	for pid, p := range snap.Processes {
		snap.Parents[pid] = p.Parent
	}
}

func (h *HostSnapshotter) collectNamespaces(_ context.Context, snap *Snapshot, _ *slog.Logger) error {
	snap.Namespaces = namespace.Resolve(snap.Processes, h.rootPID(snap))
	return nil
}

// rootPID is pid 1 when collected, otherwise the lowest pid without a parent.
func (h *HostSnapshotter) rootPID(snap *Snapshot) int {
	if _, ok := snap.Processes[RootPID]; ok {
		return RootPID
	}
	for _, pid := range sortedPIDs(snap.Processes) {
		if snap.Processes[pid].Parent == 0 {
			return pid
		}
	}
	return RootPID
}

func (h *HostSnapshotter) collectDeep(ctx context.Context, snap *Snapshot, log *slog.Logger) error {
	if h.Joiner == nil {
		log.Debug("no namespace joiner configured, skipping deep namespace data")
		return nil
	}
	dc := &namespace.DeepCollector{
		Joiner: h.Joiner,
		Reader: h.Reader,
		Logger: log,
		OnJoinFailure: func(kind namespace.Kind) {
			namespaceJoinFailures.WithLabelValues(string(kind)).Inc()
		},
	}
	snap.NamespacesDeep = dc.Collect(ctx, snap.Namespaces, snap.Processes)
	return nil
}

func (h *HostSnapshotter) collectAccounts(_ context.Context, snap *Snapshot, log *slog.Logger) error {
	host, err := h.Reader.Accounts()
	if err != nil {
		return err
	}
	merged, overlaps := namespace.MergeAccounts(host, snap.NamespacesDeep)
	for _, o := range overlaps {
		log.Warn("user namespace account maps onto a named host id, keeping host name",
			slog.String("kind", o.Kind),
			slog.Int("id", o.ID),
			slog.String("host_name", o.Existing),
			slog.String("namespace_name", o.Name),
			slog.Uint64("namespace", o.Namespace))
	}
	snap.Accounts = merged
	return nil
}

func (h *HostSnapshotter) collectNetworking(_ context.Context, snap *Snapshot, _ *slog.Logger) error {
	t, err := h.Reader.ProtocolTables()
	if err != nil {
		return err
	}
	snap.Networking = t
	return nil
}

func (h *HostSnapshotter) collectFilesystem(ctx context.Context, snap *Snapshot, _ *slog.Logger) error {
	if !h.CollectFiles {
		return nil
	}
	w := h.Walker
	if w == nil {
		w = &fsindex.Walker{Logger: h.Logger}
	}
	tree, err := w.Walk(ctx)
	if err != nil {
		return err
	}
	snap.Filesystem = tree
	return nil
}

func (h *HostSnapshotter) collectSysVIPC(_ context.Context, snap *Snapshot, _ *slog.Logger) error {
	ipc, err := h.Reader.SysVIPC()
	if err != nil {
		return err
	}
	snap.SysVIPC = ipc
	return nil
}

func (h *HostSnapshotter) collectInterfaces(_ context.Context, snap *Snapshot, _ *slog.Logger) error {
	ifaces, err := h.Reader.NetInterfaces()
	if err != nil {
		return err
	}
	snap.Interfaces = ifaces
	return nil
}

// collectServices is best effort: hosts without a system bus keep an empty
// service map.
func (h *HostSnapshotter) collectServices(ctx context.Context, snap *Snapshot, log *slog.Logger) error {
	if h.Services == nil {
		return nil
	}
	units, err := h.Services.Collect(ctx)
	if err != nil {
		log.Warn("failed to collect service units", slog.String("error", err.Error()))
		return nil
	}
	snap.System.Services = units
	return nil
}

func sortedPIDs(procs map[int]*kernel.Process) []int {
	pids := make([]int, 0, len(procs))
	for pid := range procs {
		pids = append(pids, pid)
	}
	slices.Sort(pids)
	return pids
}
