// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

// Package telemetry exposes Prometheus metrics for the ingest state
// machine, the tracker's assignment costs, the wind cache's hit ratio, and
// prediction error. Safe to call from any component; metrics are
// package-level and registered once at init.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ingestTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "balloontrack_ingest_transitions_total",
		Help: "Count of ingest state machine transitions, labeled by the destination state",
	}, []string{"to_state"})

	ingestRunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "balloontrack_ingest_run_duration_seconds",
		Help:    "Wall-clock duration of one trigger_once pass",
		Buckets: prometheus.DefBuckets,
	})

	trackerAssignmentCost = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "balloontrack_tracker_assignment_cost",
		Help:    "Distribution of accepted (current, prev) assignment costs, 0-100 scale",
		Buckets: []float64{1, 5, 10, 20, 30, 45, 60, 70, 85, 100},
	})

	trackerNewIDsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "balloontrack_tracker_new_ids_total",
		Help: "Total new balloon ids minted across all ticks",
	})

	windCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "balloontrack_wind_cache_hits_total",
		Help: "Total wind cache lookups satisfied without an upstream fetch",
	})
	windCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "balloontrack_wind_cache_misses_total",
		Help: "Total wind cache lookups that required an upstream fetch",
	})

	predictionErrorKm = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "balloontrack_prediction_error_km",
		Help:    "Great-circle error (km) between a prediction and the observed next position, labeled by method",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 200, 400},
	}, []string{"method"})

	sourceDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "balloontrack_source_dropped_observations_total",
		Help: "Total raw observations dropped for violating the data model's numeric invariants",
	})
)

func init() {
	prometheus.MustRegister(
		ingestTransitionsTotal,
		ingestRunDuration,
		trackerAssignmentCost,
		trackerNewIDsTotal,
		windCacheHitsTotal,
		windCacheMissesTotal,
		predictionErrorKm,
		sourceDroppedTotal,
	)
}

// ObserveIngestTransition records a transition into toState.
func ObserveIngestTransition(toState string) {
	ingestTransitionsTotal.WithLabelValues(toState).Inc()
}

// ObserveIngestRunSeconds records how long one trigger_once pass took.
func ObserveIngestRunSeconds(seconds float64) {
	ingestRunDuration.Observe(seconds)
}

// ObserveTrackerAssignment records the cost of one accepted (current, prev)
// match, or counts a newly minted id when matched is false.
func ObserveTrackerAssignment(cost float64, matched bool) {
	if !matched {
		trackerNewIDsTotal.Inc()
		return
	}
	trackerAssignmentCost.Observe(cost)
}

// ObserveWindCacheLookup records a cache hit or miss.
func ObserveWindCacheLookup(hit bool) {
	if hit {
		windCacheHitsTotal.Inc()
		return
	}
	windCacheMissesTotal.Inc()
}

// ObservePredictionError records one scored prediction's error in km.
func ObservePredictionError(method string, errorKm float64) {
	predictionErrorKm.WithLabelValues(method).Observe(errorKm)
}

// ObserveSourceDropped increments the dropped-observation counter by n.
func ObserveSourceDropped(n int) {
	sourceDroppedTotal.Add(float64(n))
}

// Handler returns the promhttp handler for mounting at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
