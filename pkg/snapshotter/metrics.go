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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Snapshot collection metrics
	snapshotCollectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hostaudit_snapshot_collection_duration_seconds",
			Help:    "Time taken to collect a complete host snapshot",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 900},
		},
	)

	snapshotCollectionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostaudit_snapshot_collection_total",
			Help: "Total number of snapshot collection attempts",
		},
		[]string{"status"}, // success or error
	)

	snapshotStepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hostaudit_snapshot_step_duration_seconds",
			Help:    "Time taken by individual collection steps",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 120},
		},
		[]string{"step"},
	)

	snapshotProcessCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hostaudit_snapshot_processes",
			Help: "Number of processes in the last collected snapshot",
		},
	)

	vanishedProcesses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hostaudit_snapshot_vanished_processes_total",
			Help: "Processes that exited between enumeration and read",
		},
	)

	namespaceJoinFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostaudit_namespace_join_failures_total",
			Help: "Namespace helper round trips that failed",
		},
		[]string{"kind"},
	)
)
