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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/churnguard/model"
)

func TestStartTrackingValidation(t *testing.T) {
	tests := []struct {
		name    string
		req     StartTracking
		wantErr bool
	}{
		{"valid", StartTracking{LeadID: "l", TenantID: "t", Stage: model.StageActiveRisk, Channel: model.ChannelSMS, Probability: 0.6}, false},
		{"missing lead", StartTracking{TenantID: "t", Stage: model.StageActiveRisk, Channel: model.ChannelSMS}, true},
		{"unknown stage", StartTracking{LeadID: "l", TenantID: "t", Stage: "LOW", Channel: model.ChannelSMS}, true},
		{"unknown channel", StartTracking{LeadID: "l", TenantID: "t", Stage: model.StageActiveRisk, Channel: "fax"}, true},
		{"probability above one", StartTracking{LeadID: "l", TenantID: "t", Stage: model.StageActiveRisk, Channel: model.ChannelSMS, Probability: 1.2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStartTrackingToAction(t *testing.T) {
	req := StartTracking{LeadID: "l", TenantID: "t", Stage: model.StageCriticalRisk, Channel: model.ChannelPhone, Probability: 0.9, Segment: "smb"}
	action, assessment := req.ToAction()
	assert.Contains(t, action.ActionID, "act_")
	assert.Equal(t, model.ChannelPhone, action.Channel)
	assert.Equal(t, "smb", assessment.Segment)
	assert.Equal(t, 0.9, assessment.Probability)
}

func TestRecordDeliveryToResult(t *testing.T) {
	now := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	req := RecordDelivery{Channels: []ChannelDelivery{
		{Channel: model.ChannelEmail, Delivered: false, Error: "bounced"},
		{Channel: model.ChannelSMS, Delivered: true, ProviderID: "twl_1", LatencyMs: 90},
	}}
	require.NoError(t, req.Validate())

	result := req.ToResult(now)
	assert.Equal(t, model.ResultDelivered, result.Outcome)
	assert.Equal(t, []model.Channel{model.ChannelSMS}, result.SucceededChannels())
	assert.Equal(t, "bounced", result.Channels[0].Error)
	assert.Equal(t, now, result.CompletedAt)

	allFailed := RecordDelivery{Channels: []ChannelDelivery{{Channel: model.ChannelEmail}}}
	assert.Equal(t, model.ResultFailed, allFailed.ToResult(now).Outcome)

	assert.Error(t, (&RecordDelivery{}).Validate())
	assert.Error(t, (&RecordDelivery{Channels: []ChannelDelivery{{Channel: "pigeon"}}}).Validate())
}

func TestRecordOutcomeValidation(t *testing.T) {
	assert.NoError(t, (&RecordOutcome{Outcome: model.OutcomeConverted}).Validate())
	assert.Error(t, (&RecordOutcome{Outcome: "WON"}).Validate())
	assert.Error(t, (&RecordOutcome{}).Validate())
}

func TestCreateEscalationValidation(t *testing.T) {
	assert.NoError(t, (&CreateEscalation{LeadID: "l", TenantID: "t"}).Validate())
	assert.NoError(t, (&CreateEscalation{LeadID: "l", TenantID: "t", Reason: model.ReasonCriticalRisk, Urgency: model.UrgencyHigh}).Validate())
	assert.Error(t, (&CreateEscalation{LeadID: "l", TenantID: "t", Urgency: "asap"}).Validate())
	assert.Error(t, (&CreateEscalation{TenantID: "t"}).Validate())
}

func TestProviderValidation(t *testing.T) {
	valid := Provider{Name: "twilio", Channel: model.ChannelSMS, URL: "https://sms.example.com/send"}
	assert.NoError(t, valid.Validate())

	badURL := valid
	badURL.URL = "sms.example.com"
	assert.Error(t, badURL.Validate())

	tooManyRetries := valid
	tooManyRetries.RetryCount = 50
	assert.Error(t, tooManyRetries.Validate())
}

func TestParseWindow(t *testing.T) {
	window, err := ParseWindow("", "")
	require.NoError(t, err)
	assert.True(t, window.From.IsZero())

	window, err = ParseWindow("2024-06-01T00:00:00Z", "2024-06-30T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, 2024, window.From.Year())
	assert.Equal(t, time.June, window.To.Month())

	_, err = ParseWindow("yesterday", "")
	assert.Error(t, err)
	_, err = ParseWindow("2024-06-30T00:00:00Z", "2024-06-01T00:00:00Z")
	assert.Error(t, err)
}
