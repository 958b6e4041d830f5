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

// Channel is a delivery medium for an intervention action.
type Channel string

const (
	ChannelEmail           Channel = "email"
	ChannelSMS             Channel = "sms"
	ChannelPhone           Channel = "phone"
	ChannelInApp           Channel = "in_app"
	ChannelWorkflow        Channel = "workflow"
	ChannelHumanAssignment Channel = "human_assignment"
)

// ActionType is the kind of intervention a selector can plan.
type ActionType string

const (
	ActionSendEmail       ActionType = "send_email"
	ActionSendOffer       ActionType = "send_offer"
	ActionShareContent    ActionType = "share_content"
	ActionInAppMessage    ActionType = "in_app_message"
	ActionSendSMS         ActionType = "send_sms"
	ActionScheduleMeeting ActionType = "schedule_meeting"
	ActionImmediateCall   ActionType = "immediate_call"
	ActionAssignHuman     ActionType = "assign_human"
)

// InterventionAction is one planned delivery. It is consumed once by the executor.
type InterventionAction struct {
	ActionID            string     `json:"action_id"`
	LeadID              string     `json:"lead_id"`
	TenantID            string     `json:"tenant_id"`
	Stage               Stage      `json:"stage"`
	Type                ActionType `json:"type"`
	Channel             Channel    `json:"channel"`
	ContentTemplate     string     `json:"content_template"`
	Priority            int        `json:"priority"`
	ScheduledAt         time.Time  `json:"scheduled_at"`
	ExecutionDeadline   time.Time  `json:"execution_deadline"`
	ExpectedSuccessRate float64    `json:"expected_success_rate"`
	Cost                float64    `json:"cost"`
	ExpectedValue       float64    `json:"expected_value"`
	ROIScore            float64    `json:"roi_score"`
}

// ResultOutcome is the aggregated outcome of executing an intervention.
type ResultOutcome string

const (
	ResultPending   ResultOutcome = "pending"
	ResultDelivered ResultOutcome = "delivered"
	ResultEngaged   ResultOutcome = "engaged"
	ResultConverted ResultOutcome = "converted"
	ResultFailed    ResultOutcome = "failed"
	ResultEscalated ResultOutcome = "escalated"
)

// DeliveryStatus is the status a channel provider reports for one send.
type DeliveryStatus string

const (
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// DeliveryReceipt is returned by a channel sender.
type DeliveryReceipt struct {
	Status     DeliveryStatus `json:"status"`
	ProviderID string         `json:"provider_id"`
	LatencyMs  int64          `json:"latency_ms"`
}

// ChannelDelivery is the per-channel outcome recorded on an InterventionResult.
type ChannelDelivery struct {
	ActionID    string         `json:"action_id"`
	Channel     Channel        `json:"channel"`
	Status      DeliveryStatus `json:"status"`
	ProviderID  string         `json:"provider_id,omitempty"`
	LatencyMs   int64          `json:"latency_ms"`
	DeliveredAt time.Time      `json:"delivered_at,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// InterventionResult is the outcome of executing one or more actions.
type InterventionResult struct {
	PrimaryActionID string            `json:"primary_action_id"`
	LeadID          string            `json:"lead_id"`
	TenantID        string            `json:"tenant_id"`
	Stage           Stage             `json:"stage"`
	Outcome         ResultOutcome     `json:"outcome"`
	DeliveryLatency time.Duration     `json:"delivery_latency"`
	Channels        []ChannelDelivery `json:"channels"`
	EscalationID    string            `json:"escalation_id,omitempty"`
	CompletedAt     time.Time         `json:"completed_at"`
}

// SucceededChannels returns the channels that reported a delivery.
func (r *InterventionResult) SucceededChannels() []Channel {
	var out []Channel
	for _, c := range r.Channels {
		if c.Status == DeliveryDelivered {
			out = append(out, c.Channel)
		}
	}
	return out
}

// FailedChannels returns the channels that failed to deliver.
func (r *InterventionResult) FailedChannels() []Channel {
	var out []Channel
	for _, c := range r.Channels {
		if c.Status != DeliveryDelivered {
			out = append(out, c.Channel)
		}
	}
	return out
}

// Reason reported when no action survives selection.
const ReasonNoViableActions = "no_viable_actions"

// TriggerRequest asks the engine to run one intervention for a lead. When
// Assessment is nil the lead is assessed first.
type TriggerRequest struct {
	LeadID       string          `json:"lead_id"`
	TenantID     string          `json:"tenant_id"`
	Assessment   *RiskAssessment `json:"assessment,omitempty"`
	ForceRefresh bool            `json:"force_refresh"`
}

// InterventionOutcome is what a trigger call hands back to its caller.
type InterventionOutcome struct {
	TrackingID string                `json:"tracking_id,omitempty"`
	Assessment *RiskAssessment       `json:"assessment"`
	Actions    []*InterventionAction `json:"actions"`
	Result     *InterventionResult   `json:"result"`
	Reason     string                `json:"reason,omitempty"`
}
