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

package model

import "time"

// TimeWindow bounds an analytics query by intervention initiation time.
// A zero From or To leaves that side open.
type TimeWindow struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether t falls inside the window.
func (w TimeWindow) Contains(t time.Time) bool {
	if !w.From.IsZero() && t.Before(w.From) {
		return false
	}
	if !w.To.IsZero() && t.After(w.To) {
		return false
	}
	return true
}

// StagePerformance aggregates outcomes for one stage (or one segment).
type StagePerformance struct {
	Stage               Stage   `json:"stage,omitempty"`
	Segment             string  `json:"segment,omitempty"`
	Attempted           int     `json:"attempted"`
	Delivered           int     `json:"delivered"`
	ReEngaged           int     `json:"re_engaged"`
	Converted           int     `json:"converted"`
	Churned             int     `json:"churned"`
	DeliverySuccessRate float64 `json:"delivery_success_rate"`
	ReEngagementRate    float64 `json:"re_engagement_rate"`
	ConversionRate      float64 `json:"conversion_rate"`
	OverallSuccessRate  float64 `json:"overall_success_rate"`
	AverageSuccessScore float64 `json:"average_success_score"`
}

// ChannelPerformance aggregates delivery results for one channel.
type ChannelPerformance struct {
	Channel             Channel `json:"channel"`
	Attempted           int     `json:"attempted"`
	Succeeded           int     `json:"succeeded"`
	Failed              int     `json:"failed"`
	SuccessRate         float64 `json:"success_rate"`
	AverageDeliveryTime float64 `json:"average_delivery_time_ms"`
}

// StageTargetComparison compares a stage's success rate with its reporting target.
type StageTargetComparison struct {
	Stage       Stage   `json:"stage"`
	SuccessRate float64 `json:"success_rate"`
	Target      float64 `json:"target"`
	MeetsTarget bool    `json:"meets_target"`
}

// BusinessImpactReport is the revenue and churn-reduction view of a window.
type BusinessImpactReport struct {
	Window             TimeWindow              `json:"window"`
	TotalInterventions int                     `json:"total_interventions"`
	ChurnedCount       int                     `json:"churned_count"`
	LeadsSaved         int                     `json:"leads_saved"`
	BaselineChurnRate  float64                 `json:"baseline_churn_rate"`
	TargetChurnRate    float64                 `json:"target_churn_rate"`
	CurrentChurnRate   float64                 `json:"current_churn_rate"`
	ChurnReduction     float64                 `json:"churn_reduction"`
	OnTarget           bool                    `json:"on_target"`
	RevenueProtected   float64                 `json:"revenue_protected"`
	TotalCost          float64                 `json:"total_cost"`
	ROIMultiplier      float64                 `json:"roi_multiplier"`
	StageTargets       []StageTargetComparison `json:"stage_targets"`
	GeneratedAt        time.Time               `json:"generated_at"`
}

// EscalationMetrics summarizes hand-off resolution.
type EscalationMetrics struct {
	Created                  int     `json:"created"`
	Blocked                  int     `json:"blocked"`
	Acknowledged             int     `json:"acknowledged"`
	Resolved                 int     `json:"resolved"`
	Open                     int     `json:"open"`
	ResolutionRate           float64 `json:"resolution_rate"`
	AverageTimeToAcknowledge float64 `json:"average_time_to_acknowledge_sec"`
	AverageTimeToResolve     float64 `json:"average_time_to_resolve_sec"`
}

// AnalyticsSnapshot bundles every derived view for a window.
type AnalyticsSnapshot struct {
	Window      TimeWindow           `json:"window"`
	Stages      []StagePerformance   `json:"stages"`
	Channels    []ChannelPerformance `json:"channels"`
	Segments    []StagePerformance   `json:"segments"`
	Impact      BusinessImpactReport `json:"business_impact"`
	Escalations EscalationMetrics    `json:"escalations"`
	GeneratedAt time.Time            `json:"generated_at"`
}

// PreventionMetrics are running counters of the prevention pipeline.
type PreventionMetrics struct {
	AssessmentsTotal        int64           `json:"assessments_total"`
	AssessmentsByStage      map[Stage]int64 `json:"assessments_by_stage"`
	DegradedAssessments     int64           `json:"degraded_assessments"`
	AverageDetectionLatency float64         `json:"average_detection_latency_ms"`
	InterventionsTriggered  int64           `json:"interventions_triggered"`
	InterventionsDelivered  int64           `json:"interventions_delivered"`
	InterventionsFailed     int64           `json:"interventions_failed"`
	NoViableActions         int64           `json:"no_viable_actions"`
	EscalationsCreated      int64           `json:"escalations_created"`
	EscalationsBlocked      int64           `json:"escalations_blocked"`
	ActiveInterventions     int             `json:"active_interventions"`
	QueueDepth              int             `json:"queue_depth"`
	QueueDropped            int64           `json:"queue_dropped"`
}
