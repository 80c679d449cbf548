/*
Copyright 2022 GramLabs, Inc.

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

// Package telemetry exposes study progress as Prometheus metrics for long
// running searches.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Telemetry collects study-level instrumentation. A nil *Telemetry is a valid
// no-op receiver so callers never need to guard their call sites.
type Telemetry struct {
	trialsActive prometheus.Gauge
	trialsTotal  *prometheus.CounterVec
	epochsTotal  prometheus.Counter
}

// New registers the study collectors with the supplied registerer.
func New(r prometheus.Registerer) *Telemetry {
	f := promauto.With(r)
	return &Telemetry{
		trialsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "tune_trials_active",
			Help: "Number of trials currently training.",
		}),
		trialsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tune_trials_total",
			Help: "Number of finished trials by terminal status.",
		}, []string{"status"}),
		epochsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "tune_epochs_total",
			Help: "Number of epoch reports received across all trials.",
		}),
	}
}

// TrialStarted records a trial entering its training loop.
func (t *Telemetry) TrialStarted() {
	if t != nil {
		t.trialsActive.Inc()
	}
}

// TrialFinished records a trial reaching the given terminal status.
func (t *Telemetry) TrialFinished(status string) {
	if t != nil {
		t.trialsActive.Dec()
		t.trialsTotal.WithLabelValues(status).Inc()
	}
}

// EpochReported records one per-epoch report.
func (t *Telemetry) EpochReported() {
	if t != nil {
		t.epochsTotal.Inc()
	}
}

// Handler serves the registry over HTTP.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
