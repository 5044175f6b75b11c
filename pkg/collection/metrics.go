package collection

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	collectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hostaudit_collection_duration_seconds",
			Help:    "Time taken by a complete collection run",
			Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
		},
	)

	hostDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hostaudit_collection_host_duration_seconds",
			Help:    "Time taken to probe and store one host",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 900},
		},
	)

	hostsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostaudit_collection_hosts_total",
			Help: "Hosts processed by collection runs",
		},
		[]string{"status"}, // collected, cached or failed
	)
)
