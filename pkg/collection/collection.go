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

package collection

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/NVIDIA/hostaudit/pkg/defaults"
	"github.com/NVIDIA/hostaudit/pkg/dump"
	"github.com/NVIDIA/hostaudit/pkg/errors"
	"github.com/NVIDIA/hostaudit/pkg/header"
	"github.com/NVIDIA/hostaudit/pkg/snapshotter"
	"github.com/NVIDIA/hostaudit/pkg/topology"
	"github.com/NVIDIA/hostaudit/pkg/transport"
)

// APIVersion is the schema version of collection results.
const APIVersion = "hostaudit.nvidia.com/v1alpha1"

// Status is the outcome for one host.
type Status string

const (
	StatusCollected Status = "collected"
	StatusCached    Status = "cached"
	StatusFailed    Status = "failed"
)

// HostResult is the outcome of one target.
type HostResult struct {
	Host     string                `json:"host"`
	Via      []string              `json:"via,omitempty"`
	Status   Status                `json:"status"`
	Dir      string                `json:"dir,omitempty"`
	Duration time.Duration         `json:"duration"`
	Error    string                `json:"error,omitempty"`
	Snapshot *snapshotter.Snapshot `json:"-"`

	index int
	err   error
}

// Err returns the failure of the host, if any.
func (h *HostResult) Err() error { return h.err }

// Result is the outcome of a collection run, hosts in target order.
type Result struct {
	header.Header `json:",inline" yaml:",inline"`

	Hosts []*HostResult `json:"hosts"`
}

// Failed returns the hosts that could not be collected.
func (r *Result) Failed() []*HostResult {
	var out []*HostResult
	for _, h := range r.Hosts {
		if h.Status == StatusFailed {
			out = append(out, h)
		}
	}
	return out
}

// Collector collects a set of targets into a dump store.
type Collector struct {
	Version   string
	Store     *dump.Store
	Transport transport.Transport

	// Parallelism bounds concurrently collected hosts. Defaults to
	// defaults.Parallelism.
	Parallelism int
	// ConnectRate limits probe starts per second. Defaults to
	// defaults.ConnectRate.
	ConnectRate float64
	// UseCache loads complete dumps instead of collecting again. When false,
	// existing dumps are cleared first.
	UseCache bool
	Logger   *slog.Logger
}

// Collect processes every target. A failing host is recorded in its
// HostResult and does not stop the others; the returned error is non-nil
// only when ctx ends the run.
func (c *Collector) Collect(ctx context.Context, targets []topology.Target) (*Result, error) {
	log := c.Logger
	if log == nil {
		log = slog.Default()
	}
	parallelism := c.Parallelism
	if parallelism <= 0 {
		parallelism = defaults.Parallelism
	}
	connectRate := c.ConnectRate
	if connectRate <= 0 {
		connectRate = defaults.ConnectRate
	}
	limiter := rate.NewLimiter(rate.Limit(connectRate), 1)

	start := time.Now()
	res := &Result{Hosts: make([]*HostResult, 0, len(targets))}
	res.Init(header.KindResult, APIVersion, c.Version)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for i, t := range targets {
		g.Go(func() error {
			hr := c.collectOne(gctx, limiter, log, t)
			hr.index = i
			mu.Lock()
			res.Hosts = append(res.Hosts, hr)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(res.Hosts, func(a, b int) bool { return res.Hosts[a].index < res.Hosts[b].index })
	collectionDuration.Observe(time.Since(start).Seconds())
	log.Info("collection finished",
		slog.Int("hosts", len(targets)),
		slog.Int("failed", len(res.Failed())),
		slog.Duration("duration", time.Since(start)))

	if err := ctx.Err(); err != nil {
		return res, errors.Wrap(errors.ErrCodeTimeout, "collection interrupted", err)
	}
	return res, nil
}

func (c *Collector) collectOne(ctx context.Context, limiter *rate.Limiter, log *slog.Logger, t topology.Target) *HostResult {
	start := time.Now()
	hr := &HostResult{Host: t.Host, Via: t.Via, Dir: c.Store.HostDir(t.Host)}
	log = log.With(slog.String("host", t.Host))

	fail := func(err error) *HostResult {
		hr.Status = StatusFailed
		hr.err = err
		hr.Error = err.Error()
		hr.Duration = time.Since(start)
		hostsTotal.WithLabelValues(string(StatusFailed)).Inc()
		log.Error("host collection failed", slog.String("error", err.Error()))
		return hr
	}

	if c.UseCache && c.Store.HasCache(t.Host) {
		snap, err := c.Store.Load(t.Host)
		if err != nil {
			return fail(err)
		}
		hr.Status = StatusCached
		hr.Snapshot = snap
		hr.Duration = time.Since(start)
		hostsTotal.WithLabelValues(string(StatusCached)).Inc()
		log.Info("using cached dump")
		return hr
	}
	if !c.UseCache && c.Store.Exists(t.Host) {
		if err := c.Store.Clear(ctx, t.Host); err != nil {
			return fail(err)
		}
	}

	if err := limiter.Wait(ctx); err != nil {
		return fail(errors.Wrap(errors.ErrCodeTimeout, "waiting to connect", err))
	}
	log.Info("collecting host", slog.Any("via", t.Via))
	err := c.Transport.Probe(ctx, t, func(r io.Reader) error {
		return c.Store.SaveStream(ctx, t.Host, r)
	})
	if err != nil {
		return fail(err)
	}
	snap, err := c.Store.Load(t.Host)
	if err != nil {
		return fail(err)
	}

	hr.Status = StatusCollected
	hr.Snapshot = snap
	hr.Duration = time.Since(start)
	hostsTotal.WithLabelValues(string(StatusCollected)).Inc()
	hostDuration.Observe(hr.Duration.Seconds())
	return hr
}
