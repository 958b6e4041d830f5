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

import (
	"errors"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/blnkfinance/churnguard/model"
)

var channelValues = []interface{}{
	model.ChannelEmail, model.ChannelSMS, model.ChannelPhone,
	model.ChannelInApp, model.ChannelWorkflow, model.ChannelHumanAssignment,
}

var httpURL = regexp.MustCompile(`^https?://[^\s/$.?#].[^\s]*$`)

var stageValues = []interface{}{model.StageEarlyWarning, model.StageActiveRisk, model.StageCriticalRisk}

type LeadRequest struct {
	LeadID       string `json:"lead_id"`
	TenantID     string `json:"tenant_id"`
	ForceRefresh bool   `json:"force_refresh"`
}

func (r *LeadRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.LeadID, validation.Required),
		validation.Field(&r.TenantID, validation.Required),
	)
}

func (r *LeadRequest) ToTriggerRequest() model.TriggerRequest {
	return model.TriggerRequest{LeadID: r.LeadID, TenantID: r.TenantID, ForceRefresh: r.ForceRefresh}
}

// StartTracking opens a record for an intervention executed outside the engine.
type StartTracking struct {
	ActionID    string        `json:"action_id"`
	LeadID      string        `json:"lead_id"`
	TenantID    string        `json:"tenant_id"`
	Stage       model.Stage   `json:"stage"`
	Channel     model.Channel `json:"channel"`
	Probability float64       `json:"churn_probability"`
	Segment     string        `json:"segment"`
}

func (r *StartTracking) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.LeadID, validation.Required),
		validation.Field(&r.TenantID, validation.Required),
		validation.Field(&r.Stage, validation.Required, validation.In(stageValues...)),
		validation.Field(&r.Channel, validation.Required, validation.In(channelValues...)),
		validation.Field(&r.Probability, validation.Min(0.0), validation.Max(1.0)),
	)
}

func (r *StartTracking) ToAction() (*model.InterventionAction, *model.RiskAssessment) {
	actionID := r.ActionID
	if actionID == "" {
		actionID = model.GenerateUUIDWithSuffix("act")
	}
	action := &model.InterventionAction{
		ActionID: actionID,
		LeadID:   r.LeadID,
		TenantID: r.TenantID,
		Stage:    r.Stage,
		Channel:  r.Channel,
	}
	assessment := &model.RiskAssessment{
		LeadID:      r.LeadID,
		TenantID:    r.TenantID,
		Probability: r.Probability,
		Stage:       r.Stage,
		Segment:     r.Segment,
	}
	return action, assessment
}

type ChannelDelivery struct {
	Channel    model.Channel `json:"channel"`
	Delivered  bool          `json:"delivered"`
	ProviderID string        `json:"provider_id"`
	LatencyMs  int64         `json:"latency_ms"`
	Error      string        `json:"error"`
}

func (d ChannelDelivery) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Channel, validation.Required, validation.In(channelValues...)),
		validation.Field(&d.LatencyMs, validation.Min(int64(0))),
	)
}

type RecordDelivery struct {
	Channels []ChannelDelivery `json:"channels"`
}

func (r *RecordDelivery) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Channels, validation.Required),
	)
}

func (r *RecordDelivery) ToResult(now time.Time) *model.InterventionResult {
	result := &model.InterventionResult{Outcome: model.ResultFailed, CompletedAt: now}
	for _, d := range r.Channels {
		status := model.DeliveryFailed
		if d.Delivered {
			status = model.DeliveryDelivered
			result.Outcome = model.ResultDelivered
		}
		result.Channels = append(result.Channels, model.ChannelDelivery{
			Channel:    d.Channel,
			Status:     status,
			ProviderID: d.ProviderID,
			LatencyMs:  d.LatencyMs,
			Error:      d.Error,
		})
	}
	return result
}

type RecordEngagement struct {
	EventType string                 `json:"event_type"`
	Data      map[string]interface{} `json:"data"`
}

func (r *RecordEngagement) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.EventType, validation.Required),
	)
}

type RecordOutcome struct {
	Outcome model.FinalOutcome `json:"outcome"`
	Reason  string             `json:"reason"`
}

func (r *RecordOutcome) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Outcome, validation.Required, validation.By(func(value interface{}) error {
			if !r.Outcome.Valid() {
				return errors.New("must be one of RE_ENGAGED, CONVERTED, CHURNED, FAILED")
			}
			return nil
		})),
	)
}

type CreateEscalation struct {
	LeadID     string `json:"lead_id"`
	TenantID   string `json:"tenant_id"`
	Reason     string `json:"reason"`
	Urgency    string `json:"urgency"`
	TrackingID string `json:"tracking_id"`
	Notes      string `json:"notes"`
}

func (r *CreateEscalation) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.LeadID, validation.Required),
		validation.Field(&r.TenantID, validation.Required),
		validation.Field(&r.Reason, validation.In(model.ReasonManual, model.ReasonCriticalRisk, model.ReasonInterventionFailed)),
		validation.Field(&r.Urgency, validation.In(model.UrgencyCritical, model.UrgencyHigh, model.UrgencyNormal)),
	)
}

func (r *CreateEscalation) ToEscalationRequest() *model.EscalationRequest {
	return &model.EscalationRequest{
		LeadID:     r.LeadID,
		TenantID:   r.TenantID,
		Reason:     r.Reason,
		Urgency:    r.Urgency,
		TrackingID: r.TrackingID,
		Notes:      r.Notes,
	}
}

type ResolveEscalation struct {
	Resolution string `json:"resolution"`
}

func (r *ResolveEscalation) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Resolution, validation.Required, validation.Length(1, 2000)),
	)
}

type MonitorLead struct {
	LeadID   string `json:"lead_id"`
	TenantID string `json:"tenant_id"`
	Segment  string `json:"segment"`
}

func (r *MonitorLead) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.LeadID, validation.Required),
		validation.Field(&r.TenantID, validation.Required),
	)
}

type Provider struct {
	Name       string        `json:"name"`
	Channel    model.Channel `json:"channel"`
	URL        string        `json:"url"`
	APIKey     string        `json:"api_key"`
	Active     *bool         `json:"active"`
	Priority   int           `json:"priority"`
	Timeout    int           `json:"timeout"`
	RetryCount int           `json:"retry_count"`
}

func (r *Provider) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Name, validation.Required),
		validation.Field(&r.Channel, validation.Required, validation.In(channelValues...)),
		validation.Field(&r.URL, validation.Required, validation.Match(httpURL).Error("must be an http(s) URL")),
		validation.Field(&r.Timeout, validation.Min(0), validation.Max(300)),
		validation.Field(&r.RetryCount, validation.Min(0), validation.Max(10)),
	)
}

type Owner struct {
	TenantID string `json:"tenant_id"`
	Owner    string `json:"owner"`
	OnCall   bool   `json:"on_call"`
}

func (r *Owner) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.TenantID, validation.Required),
		validation.Field(&r.Owner, validation.Required),
	)
}

type Assignment struct {
	TenantID string `json:"tenant_id"`
	LeadID   string `json:"lead_id"`
	Owner    string `json:"owner"`
}

func (r *Assignment) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.TenantID, validation.Required),
		validation.Field(&r.LeadID, validation.Required),
		validation.Field(&r.Owner, validation.Required),
	)
}

// ParseWindow reads optional RFC 3339 from/to query values.
func ParseWindow(from, to string) (model.TimeWindow, error) {
	var window model.TimeWindow
	var err error
	if from != "" {
		if window.From, err = time.Parse(time.RFC3339, from); err != nil {
			return window, errors.New("from must be an RFC 3339 timestamp, e.g. 2024-04-22T15:28:03+00:00")
		}
	}
	if to != "" {
		if window.To, err = time.Parse(time.RFC3339, to); err != nil {
			return window, errors.New("to must be an RFC 3339 timestamp, e.g. 2024-04-22T15:28:03+00:00")
		}
	}
	if !window.From.IsZero() && !window.To.IsZero() && window.To.Before(window.From) {
		return window, errors.New("to must not be before from")
	}
	return window, nil
}
