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

// Event types broadcast by the engine.
const (
	EventRiskUpdated           = "risk.updated"
	EventInterventionStarted   = "intervention.started"
	EventInterventionDelivered = "intervention.delivered"
	EventInterventionFailed    = "intervention.failed"
	EventInterventionEngaged   = "intervention.engaged"
	EventInterventionCompleted = "intervention.completed"
	EventEscalationCreated     = "escalation.created"
	EventEscalationUpdated     = "escalation.updated"
)

// Event is the payload handed to publishers.
type Event struct {
	EventID   string      `json:"event_id"`
	Type      string      `json:"type"`
	TenantID  string      `json:"tenant_id"`
	LeadID    string      `json:"lead_id,omitempty"`
	Payload   interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewEvent builds an event stamped with a fresh id.
func NewEvent(eventType, tenantID, leadID string, payload interface{}, at time.Time) Event {
	return Event{
		EventID:   GenerateUUIDWithSuffix("evt"),
		Type:      eventType,
		TenantID:  tenantID,
		LeadID:    leadID,
		Payload:   payload,
		Timestamp: at,
	}
}

// LeadRef identifies a lead to be monitored.
type LeadRef struct {
	LeadID   string `json:"lead_id"`
	TenantID string `json:"tenant_id"`
}
