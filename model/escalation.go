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

// Escalation resolution statuses.
const (
	EscalationPending      = "pending"
	EscalationAcknowledged = "acknowledged"
	EscalationResolved     = "resolved"
	EscalationBlocked      = "blocked"
	EscalationSuperseded   = "superseded"

	// NoOwner is the target of a blocked escalation.
	NoOwner = "none"
)

// Escalation reasons.
const (
	ReasonInterventionFailed = "intervention_failed"
	ReasonCriticalRisk       = "critical_risk"
	ReasonManual             = "manual"
)

// Urgency levels for a hand-off.
const (
	UrgencyCritical = "critical"
	UrgencyHigh     = "high"
	UrgencyNormal   = "normal"
)

// EscalationRequest carries the context for an escalation.
type EscalationRequest struct {
	LeadID     string          `json:"lead_id"`
	TenantID   string          `json:"tenant_id"`
	Reason     string          `json:"reason"`
	Urgency    string          `json:"urgency,omitempty"`
	TrackingID string          `json:"tracking_id,omitempty"`
	Assessment *RiskAssessment `json:"assessment,omitempty"`
	Notes      string          `json:"notes,omitempty"`
}

// EscalationRiskContext is the risk snapshot included in a hand-off package.
type EscalationRiskContext struct {
	Probability float64      `json:"probability"`
	Stage       Stage        `json:"stage"`
	Confidence  float64      `json:"confidence"`
	TopFactors  []RiskFactor `json:"top_factors"`
	AssessedAt  time.Time    `json:"assessed_at"`
}

// EscalationResult is the human hand-off package.
type EscalationResult struct {
	EscalationID       string                 `json:"escalation_id"`
	LeadID             string                 `json:"lead_id"`
	TenantID           string                 `json:"tenant_id"`
	Reason             string                 `json:"reason"`
	EscalatedTo        string                 `json:"escalated_to"`
	Urgency            string                 `json:"urgency"`
	RiskContext        *EscalationRiskContext `json:"risk_context,omitempty"`
	RecentActions      []*InterventionRecord  `json:"recent_actions,omitempty"`
	RecommendedActions []string               `json:"recommended_actions,omitempty"`
	TrackingID         string                 `json:"tracking_id,omitempty"`
	EscalatedAt        time.Time              `json:"escalated_at"`
	AcknowledgedAt     *time.Time             `json:"acknowledged_at,omitempty"`
	ResolvedAt         *time.Time             `json:"resolved_at,omitempty"`
	ResolutionStatus   string                 `json:"resolution_status"`
	Resolution         string                 `json:"resolution,omitempty"`
	NotificationSent   bool                   `json:"notification_sent"`
}

// Blocked reports whether the escalation was refused by the cooldown.
func (e *EscalationResult) Blocked() bool {
	return e != nil && e.ResolutionStatus == EscalationBlocked
}

// Open reports whether the escalation still awaits resolution.
func (e *EscalationResult) Open() bool {
	return e != nil && (e.ResolutionStatus == EscalationPending || e.ResolutionStatus == EscalationAcknowledged)
}

// Clone returns a deep copy safe to hand out of the escalation manager.
func (e *EscalationResult) Clone() *EscalationResult {
	if e == nil {
		return nil
	}
	c := *e
	if e.RiskContext != nil {
		rc := *e.RiskContext
		rc.TopFactors = append([]RiskFactor(nil), e.RiskContext.TopFactors...)
		c.RiskContext = &rc
	}
	if e.RecentActions != nil {
		c.RecentActions = make([]*InterventionRecord, len(e.RecentActions))
		for i, r := range e.RecentActions {
			c.RecentActions[i] = r.Clone()
		}
	}
	c.RecommendedActions = append([]string(nil), e.RecommendedActions...)
	c.AcknowledgedAt = cloneTime(e.AcknowledgedAt)
	c.ResolvedAt = cloneTime(e.ResolvedAt)
	return &c
}
