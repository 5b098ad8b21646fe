// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"github.com/LeeDigitalWorks/hllstore/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// OperationsTotal counts backend operations by backend, op and status.
	OperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hllstore",
		Subsystem: "backend",
		Name:      "operations_total",
		Help:      "Total number of backend operations",
	}, []string{"backend", "op", "status"}) // status: "ok", "not_found", "too_large", "error"

	// OperationDuration tracks backend operation latency.
	OperationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "hllstore",
		Subsystem: "backend",
		Name:      "operation_duration_seconds",
		Help:      "Time spent in backend operations",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"backend", "op"})

	// FailoverReadsTotal counts reads served by the backup after a primary failure.
	FailoverReadsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "hllstore",
		Subsystem: "backend",
		Name:      "failover_reads_total",
		Help:      "Total number of reads served by the backup store after a primary error",
	})
)

func init() {
	debug.Registry().MustRegister(
		OperationsTotal,
		OperationDuration,
		FailoverReadsTotal,
	)
}
