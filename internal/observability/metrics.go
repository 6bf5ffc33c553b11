// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/auth"
)

// Metrics contains the gatekeeper Prometheus metrics.
type Metrics struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	HTTPRequestsTotal *prometheus.CounterVec

	reg prometheus.Registerer
}

var _ auth.Recorder = (*Metrics)(nil)

// NewMetrics creates and registers the gatekeeper metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gatekeeper",
				Name:      "auth_operations_total",
				Help:      "Total number of auth operations by operation and outcome code",
			},
			[]string{"operation", "code"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gatekeeper",
				Name:      "auth_operation_duration_seconds",
				Help:      "Auth operation latency by operation",
				Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gatekeeper",
				Name:      "http_requests_total",
				Help:      "Total number of API requests by route, method and status",
			},
			[]string{"route", "method", "status"},
		),
		reg: reg,
	}

	reg.MustRegister(m.OperationsTotal)
	reg.MustRegister(m.OperationDuration)
	reg.MustRegister(m.HTTPRequestsTotal)

	return m
}

// ObserveOperation records one auth.Service call.
func (m *Metrics) ObserveOperation(operation, code string, elapsed time.Duration) {
	m.OperationsTotal.WithLabelValues(operation, code).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// ObserveHTTPRequest records one API request.
func (m *Metrics) ObserveHTTPRequest(route, method string, status int) {
	m.HTTPRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
}

// RegisterActiveSessions exposes count as the active session gauge.
func (m *Metrics) RegisterActiveSessions(count func() int) error {
	gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "gatekeeper",
		Name:      "active_sessions",
		Help:      "Sessions held by the registry, including expired ones not yet swept",
	}, func() float64 { return float64(count()) })

	if err := m.reg.Register(gauge); err != nil {
		return oops.Code("METRICS_REGISTER_FAILED").With("metric", "active_sessions").Wrap(err)
	}
	return nil
}
