// Copyright 2025 Lawliet Project
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

package hub

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics
var (
	promProvisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lawliet_hub_provisions_total",
			Help: "Total number of lab provisioning attempts",
		},
		[]string{"outcome"},
	)
	promTeardownsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lawliet_hub_teardowns_total",
			Help: "Total number of lab teardown attempts",
		},
		[]string{"outcome"},
	)
	promBackendCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lawliet_hub_backend_calls_total",
			Help: "Total number of container backend API calls",
		},
		[]string{"operation", "status"},
	)
	promBackendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lawliet_hub_backend_call_duration_milliseconds",
			Help:    "Container backend call duration in milliseconds",
			Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000},
		},
		[]string{"operation"},
	)
	promActiveLabs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lawliet_hub_active_labs",
			Help: "Number of lab connections currently registered by this instance",
		},
	)
)

func init() {
	// Register Prometheus metrics
	prometheus.MustRegister(promProvisionsTotal)
	prometheus.MustRegister(promTeardownsTotal)
	prometheus.MustRegister(promBackendCalls)
	prometheus.MustRegister(promBackendDuration)
	prometheus.MustRegister(promActiveLabs)
}
