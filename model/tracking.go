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

// LifecycleStatus is the tracker's state for one intervention.
type LifecycleStatus string

const (
	StatusInitiated  LifecycleStatus = "INITIATED"
	StatusDelivering LifecycleStatus = "DELIVERING"
	StatusDelivered  LifecycleStatus = "DELIVERED"
	StatusEngaged    LifecycleStatus = "ENGAGED"
	StatusCompleted  LifecycleStatus = "COMPLETED"
	StatusFailed     LifecycleStatus = "FAILED"
)

// Terminal reports whether no further lifecycle transition is expected.
func (s LifecycleStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// FinalOutcome is the business outcome recorded when an intervention completes.
type FinalOutcome string

const (
	OutcomeReEngaged FinalOutcome = "RE_ENGAGED"
	OutcomeConverted FinalOutcome = "CONVERTED"
	OutcomeChurned   FinalOutcome = "CHURNED"
	OutcomeFailed    FinalOutcome = "FAILED"
)

// Prevented reports whether the outcome counts as a prevented churn.
func (o FinalOutcome) Prevented() bool {
	return o == OutcomeReEngaged || o == OutcomeConverted
}

// Valid reports whether o is a known final outcome.
func (o FinalOutcome) Valid() bool {
	switch o {
	case OutcomeReEngaged, OutcomeConverted, OutcomeChurned, OutcomeFailed:
		return true
	}
	return false
}

// Engagement event types with a success-metric meaning.
const (
	EngagementOpened    = "opened"
	EngagementClicked   = "clicked"
	EngagementResponded = "responded"
)

// Success score weights.
const (
	WeightDelivery       = 0.2
	WeightEngagement     = 0.3
	WeightResponse       = 0.25
	WeightChurnPrevented = 0.25
)

// EngagementEvent is one lead interaction observed after delivery.
type EngagementEvent struct {
	Type       string                 `json:"type"`
	Data       map[string]interface{} `json:"data,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// SuccessMetrics are the flags feeding the composite success score.
// Once a flag is true it stays true.
type SuccessMetrics struct {
	DeliverySuccess   bool `json:"delivery_success"`
	EngagementSuccess bool `json:"engagement_success"`
	ResponseSuccess   bool `json:"response_success"`
	ChurnPrevented    bool `json:"churn_prevented"`
}

// InterventionRecord is the lifecycle record of one triggered intervention.
type InterventionRecord struct {
	TrackingID               string                 `json:"tracking_id"`
	InterventionID           string                 `json:"intervention_id"`
	LeadID                   string                 `json:"lead_id"`
	TenantID                 string                 `json:"tenant_id"`
	Stage                    Stage                  `json:"stage"`
	Segment                  string                 `json:"segment"`
	ChurnProbability         float64                `json:"churn_probability"`
	PrimaryChannel           Channel                `json:"primary_channel"`
	Status                   LifecycleStatus        `json:"status"`
	InitiatedAt              time.Time              `json:"initiated_at"`
	DeliveringAt             *time.Time             `json:"delivering_at,omitempty"`
	DeliveredAt              *time.Time             `json:"delivered_at,omitempty"`
	FirstEngagementAt        *time.Time             `json:"first_engagement_at,omitempty"`
	CompletedAt              *time.Time             `json:"completed_at,omitempty"`
	TotalLatency             time.Duration          `json:"total_latency"`
	ResolutionTime           time.Duration          `json:"resolution_time"`
	ChannelsAttempted        []Channel              `json:"channels_attempted"`
	ChannelsSucceeded        []Channel              `json:"channels_succeeded"`
	ChannelsFailed           []Channel              `json:"channels_failed"`
	ChannelLatencyMs         map[Channel]int64      `json:"channel_latency_ms,omitempty"`
	ChannelProviderIDs       map[Channel]string     `json:"channel_provider_ids,omitempty"`
	EngagementEvents         []EngagementEvent      `json:"engagement_events"`
	ResponsePayload          map[string]interface{} `json:"response_payload,omitempty"`
	FinalOutcome             FinalOutcome           `json:"final_outcome,omitempty"`
	OutcomeReason            string                 `json:"outcome_reason,omitempty"`
	Metrics                  SuccessMetrics         `json:"metrics"`
	SuccessScore             float64                `json:"success_score"`
	RevenueProtected         float64                `json:"revenue_protected"`
	EscalationID             string                 `json:"escalation_id,omitempty"`
	EscalatedAt              *time.Time             `json:"escalated_at,omitempty"`
	EscalationResolvedAt     *time.Time             `json:"escalation_resolved_at,omitempty"`
	EscalationStatus         string                 `json:"escalation_status,omitempty"`
	EscalationResolutionTime time.Duration          `json:"escalation_resolution_time,omitempty"`
}

// ComputeSuccessScore recomputes the weighted composite score from the current
// flags. It is recomputed on every change rather than accumulated.
func (r *InterventionRecord) ComputeSuccessScore() float64 {
	score := 0.0
	if r.Metrics.DeliverySuccess {
		score += WeightDelivery
	}
	if r.Metrics.EngagementSuccess {
		score += WeightEngagement
	}
	if r.Metrics.ResponseSuccess {
		score += WeightResponse
	}
	if r.Metrics.ChurnPrevented {
		score += WeightChurnPrevented
	}
	r.SuccessScore = clamp01(score)
	return r.SuccessScore
}

// LastTransition returns the latest lifecycle timestamp recorded on the record.
func (r *InterventionRecord) LastTransition() time.Time {
	last := r.InitiatedAt
	for _, ts := range []*time.Time{r.DeliveringAt, r.DeliveredAt, r.FirstEngagementAt, r.CompletedAt} {
		if ts != nil && ts.After(last) {
			last = *ts
		}
	}
	return last
}

// Clone returns a deep copy safe to hand out of the tracker.
func (r *InterventionRecord) Clone() *InterventionRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.DeliveringAt = cloneTime(r.DeliveringAt)
	c.DeliveredAt = cloneTime(r.DeliveredAt)
	c.FirstEngagementAt = cloneTime(r.FirstEngagementAt)
	c.CompletedAt = cloneTime(r.CompletedAt)
	c.EscalatedAt = cloneTime(r.EscalatedAt)
	c.EscalationResolvedAt = cloneTime(r.EscalationResolvedAt)
	c.ChannelsAttempted = append([]Channel(nil), r.ChannelsAttempted...)
	c.ChannelsSucceeded = append([]Channel(nil), r.ChannelsSucceeded...)
	c.ChannelsFailed = append([]Channel(nil), r.ChannelsFailed...)
	c.EngagementEvents = make([]EngagementEvent, len(r.EngagementEvents))
	for i, ev := range r.EngagementEvents {
		ev.Data = CloneData(ev.Data)
		c.EngagementEvents[i] = ev
	}
	c.ResponsePayload = CloneData(r.ResponsePayload)
	if r.ChannelLatencyMs != nil {
		c.ChannelLatencyMs = make(map[Channel]int64, len(r.ChannelLatencyMs))
		for k, v := range r.ChannelLatencyMs {
			c.ChannelLatencyMs[k] = v
		}
	}
	if r.ChannelProviderIDs != nil {
		c.ChannelProviderIDs = make(map[Channel]string, len(r.ChannelProviderIDs))
		for k, v := range r.ChannelProviderIDs {
			c.ChannelProviderIDs[k] = v
		}
	}
	return &c
}

// CloneData deep-copies a free-form payload. Nested maps and slices are
// copied too; other values are copied by assignment.
func CloneData(data map[string]interface{}) map[string]interface{} {
	if data == nil {
		return nil
	}
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return CloneData(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
