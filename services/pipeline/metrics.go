// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for the Synthesis Loop
// =============================================================================

// Metrics are registered on the Registerer given to NewMetrics. A nil
// Registerer leaves them unregistered but still usable.
type Metrics struct {
	// attempts counts sandbox execution attempts.
	// Labels: phase (fix, refine)
	attempts *prometheus.CounterVec

	// regenerations counts candidates rebuilt from feedback.
	// Labels: phase (fix, refine)
	regenerations *prometheus.CounterVec

	// installs counts missing-module repairs.
	// Labels: result (installed, failed)
	installs *prometheus.CounterVec

	// sandboxDuration measures single sandbox executions.
	sandboxDuration prometheus.Histogram

	// runs counts finished runs.
	// Labels: outcome (success, failed, error)
	runs *prometheus.CounterVec
}

// NewMetrics creates the loop metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "termite",
			Name:      "execution_attempts_total",
			Help:      "Sandbox execution attempts by phase",
		}, []string{"phase"}),
		regenerations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "termite",
			Name:      "regenerations_total",
			Help:      "Candidates regenerated from feedback by phase",
		}, []string{"phase"}),
		installs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "termite",
			Name:      "dependency_installs_total",
			Help:      "Missing-module installs by result",
		}, []string{"result"}),
		sandboxDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "termite",
			Name:      "sandbox_duration_seconds",
			Help:      "Wall time of single sandbox executions",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "termite",
			Name:      "runs_total",
			Help:      "Finished runs by outcome",
		}, []string{"outcome"}),
	}
}
