/*
Copyright 2024 QZD Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package qzd

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of one Qzd instance on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	TransactionsPosted *prometheus.CounterVec
	DeadLetters        *prometheus.CounterVec
	AlertsRaised       *prometheus.CounterVec
	HTTPRequests       *prometheus.CounterVec
	HTTPLatency        *prometheus.HistogramVec
}

// NewMetrics registers the service collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		TransactionsPosted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qzd_transactions_posted_total",
			Help: "Posted transactions by type",
		}, []string{"type"}),
		DeadLetters: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qzd_dead_letters_total",
			Help: "Journal executions moved to the dead-letter queue",
		}, []string{"job_kind"}),
		AlertsRaised: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qzd_alerts_raised_total",
			Help: "Fraud alerts raised by rule",
		}, []string{"rule"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qzd_http_requests_total",
			Help: "Total HTTP requests",
		}, []string{"method", "endpoint", "status"}),
		HTTPLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "qzd_http_request_duration_seconds",
			Help:    "Request latency",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"method", "endpoint"}),
	}
}

// Registry returns the registry served on /metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the instance registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
