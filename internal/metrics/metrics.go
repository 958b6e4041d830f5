/*
Copyright 2024 Blnk Finance Authors.

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

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "churnguard"

var (
	assessmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assessments_total",
			Help:      "Risk assessments produced, partitioned by stage and whether scoring degraded.",
		},
		[]string{"stage", "degraded"},
	)

	assessmentSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "assessment_seconds",
			Help:      "Time to produce a fresh risk assessment.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "intervention_queue_depth",
			Help:      "Assessments waiting for an intervention.",
		},
	)

	queueDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intervention_queue_dropped_total",
			Help:      "Assessments dropped because the intervention queue was full.",
		},
	)

	interventionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interventions_total",
			Help:      "Executed interventions, partitioned by stage and outcome.",
		},
		[]string{"stage", "outcome"},
	)

	channelDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_deliveries_total",
			Help:      "Per-channel delivery attempts, partitioned by status.",
		},
		[]string{"channel", "status"},
	)

	deliverySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_seconds",
			Help:      "Per-channel delivery latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"channel"},
	)

	escalationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Escalation attempts, partitioned by resulting status.",
		},
		[]string{"status"},
	)

	outcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intervention_outcomes_total",
			Help:      "Final intervention outcomes.",
		},
		[]string{"outcome", "prevented"},
	)

	revenueProtectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revenue_protected_total",
			Help:      "Deal value attributed to prevented churn.",
		},
	)
)

// Register attaches the collectors to reg. Registering twice is harmless.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		assessmentsTotal,
		assessmentSeconds,
		queueDepth,
		queueDroppedTotal,
		interventionsTotal,
		channelDeliveriesTotal,
		deliverySeconds,
		escalationsTotal,
		outcomesTotal,
		revenueProtectedTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

func ObserveAssessment(stage string, degraded bool, duration time.Duration) {
	assessmentsTotal.WithLabelValues(stage, strconv.FormatBool(degraded)).Inc()
	if duration < 0 {
		duration = 0
	}
	assessmentSeconds.Observe(duration.Seconds())
}

func SetQueueDepth(depth int) {
	queueDepth.Set(float64(depth))
}

func IncQueueDropped() {
	queueDroppedTotal.Inc()
}

func ObserveIntervention(stage, outcome string) {
	interventionsTotal.WithLabelValues(stage, outcome).Inc()
}

func ObserveDelivery(channel, status string, latency time.Duration) {
	channelDeliveriesTotal.WithLabelValues(channel, status).Inc()
	if latency < 0 {
		latency = 0
	}
	deliverySeconds.WithLabelValues(channel).Observe(latency.Seconds())
}

func ObserveEscalation(status string) {
	escalationsTotal.WithLabelValues(status).Inc()
}

// ObserveOutcome records a final outcome and the revenue it protected.
func ObserveOutcome(outcome string, prevented bool, revenue float64) {
	outcomesTotal.WithLabelValues(outcome, strconv.FormatBool(prevented)).Inc()
	if revenue > 0 {
		revenueProtectedTotal.Add(revenue)
	}
}
