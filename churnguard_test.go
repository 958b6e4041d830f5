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

package churnguard

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/churnguard/model"
)

func TestNewChurnGuardRequiresCollaborators(t *testing.T) {
	_, err := NewChurnGuard(testConfig(), Dependencies{Sender: newFakeSender()})
	assert.Error(t, err)

	_, err = NewChurnGuard(testConfig(), Dependencies{Scorer: newFakeScorer()})
	assert.Error(t, err)

	_, err = NewChurnGuard(nil, Dependencies{Scorer: newFakeScorer(), Sender: newFakeSender()})
	assert.Error(t, err)
}

func TestTriggerInterventionDelivers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.scorer.set("lead-1", 0.6, model.RiskFactor{Name: "declining_activity", Impact: 0.4})

	outcome := h.guard.TriggerIntervention(ctx, model.TriggerRequest{LeadID: "lead-1", TenantID: "tenant-1"})
	require.NotNil(t, outcome.Result)
	assert.Empty(t, outcome.Reason)
	assert.Equal(t, model.StageActiveRisk, outcome.Assessment.Stage)
	assert.Len(t, outcome.Actions, 3)
	assert.Equal(t, model.ResultDelivered, outcome.Result.Outcome)
	assert.Empty(t, outcome.Result.EscalationID)

	record, ok := h.guard.GetIntervention(ctx, outcome.TrackingID)
	require.True(t, ok)
	assert.Equal(t, model.StatusDelivered, record.Status)
	assert.Equal(t, outcome.Actions[0].ActionID, record.InterventionID)
	assert.Equal(t, outcome.Actions[0].Channel, record.PrimaryChannel)
	assert.Equal(t, model.ChannelPhone, record.PrimaryChannel)
	// two of the three actions share the SMS channel
	assert.ElementsMatch(t, []model.Channel{model.ChannelPhone, model.ChannelSMS}, record.ChannelsSucceeded)
	assert.Equal(t, "enterprise", record.Segment)
	assert.InDelta(t, 0.2, record.SuccessScore, 1e-9)

	assert.Equal(t, 3, h.sender.sentCount())
	assert.Equal(t, 1, h.publisher.count(model.EventInterventionStarted))
	assert.Equal(t, 1, h.publisher.count(model.EventInterventionDelivered))

	m := h.guard.GetPreventionMetrics()
	assert.EqualValues(t, 1, m.AssessmentsTotal)
	assert.EqualValues(t, 1, m.InterventionsTriggered)
	assert.EqualValues(t, 1, m.InterventionsDelivered)
	assert.Equal(t, 1, m.ActiveInterventions)
	assert.Equal(t, 1, m.QueueDepth)
}

func TestTriggerInterventionUsesSuppliedAssessment(t *testing.T) {
	h := newHarness(t)
	assessment := &model.RiskAssessment{
		LeadID:      "lead-1",
		TenantID:    "tenant-1",
		Probability: 0.35,
		Stage:       model.StageEarlyWarning,
		Segment:     "smb",
	}

	outcome := h.guard.TriggerIntervention(context.Background(), model.TriggerRequest{LeadID: "lead-1", TenantID: "tenant-1", Assessment: assessment})
	assert.Zero(t, h.scorer.callCount())
	require.NotEmpty(t, outcome.Actions)
	assert.LessOrEqual(t, len(outcome.Actions), 2)
	for _, action := range outcome.Actions {
		assert.Contains(t, []model.Channel{model.ChannelEmail, model.ChannelInApp}, action.Channel)
	}
}

// Scenario: a critical lead whose every channel fails is handed to a human.
func TestCriticalFailureEscalates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.scorer.set("lead-c", 0.85)
	h.sender.failAll()

	outcome := h.guard.TriggerIntervention(ctx, model.TriggerRequest{LeadID: "lead-c", TenantID: "tenant-1"})
	require.NotNil(t, outcome.Result)
	assert.Equal(t, model.StageCriticalRisk, outcome.Assessment.Stage)
	assert.Equal(t, model.ResultFailed, outcome.Result.Outcome)
	require.NotEmpty(t, outcome.Result.EscalationID)

	escalation, ok := h.guard.GetEscalation(ctx, outcome.Result.EscalationID)
	require.True(t, ok)
	assert.Equal(t, model.ReasonInterventionFailed, escalation.Reason)
	assert.Equal(t, model.UrgencyCritical, escalation.Urgency)
	assert.Equal(t, "owner-1", escalation.EscalatedTo)
	assert.True(t, escalation.NotificationSent)
	assert.Equal(t, 1, h.notifier.count())

	record, ok := h.guard.GetIntervention(ctx, outcome.TrackingID)
	require.True(t, ok)
	assert.Equal(t, model.StatusFailed, record.Status)
	assert.Equal(t, outcome.Result.EscalationID, record.EscalationID)
	assert.Equal(t, model.EscalationPending, record.EscalationStatus)

	m := h.guard.GetPreventionMetrics()
	assert.EqualValues(t, 1, m.InterventionsFailed)
	assert.EqualValues(t, 1, m.EscalationsCreated)

	// a second failure inside the cooldown is blocked and leaves the result unlinked
	again := h.guard.TriggerIntervention(ctx, model.TriggerRequest{LeadID: "lead-c", TenantID: "tenant-1", ForceRefresh: true})
	assert.Equal(t, model.ResultFailed, again.Result.Outcome)
	assert.Empty(t, again.Result.EscalationID)
	assert.EqualValues(t, 1, h.guard.GetPreventionMetrics().EscalationsBlocked)
}

func TestFailedInterventionsLeaveActiveSet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.sender.failAll()

	for i := 0; i < 5; i++ {
		leadID := fmt.Sprintf("lead-%d", i)
		h.scorer.set(leadID, 0.6)
		outcome := h.guard.TriggerIntervention(ctx, model.TriggerRequest{LeadID: leadID, TenantID: "tenant-1"})
		require.Equal(t, model.ResultFailed, outcome.Result.Outcome)

		record, ok := h.guard.GetIntervention(ctx, outcome.TrackingID)
		require.True(t, ok)
		assert.Equal(t, model.StatusFailed, record.Status)
		assert.Equal(t, model.OutcomeFailed, record.FinalOutcome)
	}

	assert.Zero(t, h.guard.GetPreventionMetrics().ActiveInterventions)
	assert.Equal(t, 0, h.guard.tracker.ActiveCount())
	assert.Equal(t, 5, h.guard.tracker.HistoryLen())
}

func TestTriggerInterventionWithoutViableActions(t *testing.T) {
	h := newHarness(t, func(d *Dependencies) {
		d.Recommender = staticRecommender{"carrier_pigeon"}
	})
	h.scorer.set("lead-1", 0.6)

	outcome := h.guard.TriggerIntervention(context.Background(), model.TriggerRequest{LeadID: "lead-1", TenantID: "tenant-1"})
	assert.Equal(t, model.ReasonNoViableActions, outcome.Reason)
	assert.Empty(t, outcome.TrackingID)
	assert.Empty(t, outcome.Actions)
	require.NotNil(t, outcome.Result)
	assert.Equal(t, model.ResultFailed, outcome.Result.Outcome)
	assert.Zero(t, h.sender.sentCount())

	m := h.guard.GetPreventionMetrics()
	assert.EqualValues(t, 1, m.NoViableActions)
	assert.EqualValues(t, 0, m.InterventionsTriggered)
	assert.Zero(t, m.ActiveInterventions)
}

func TestEscalateDefaultsReason(t *testing.T) {
	h := newHarness(t)
	result := h.guard.Escalate(context.Background(), &model.EscalationRequest{LeadID: "lead-1", TenantID: "tenant-1"})
	assert.Equal(t, model.ReasonManual, result.Reason)
}

func TestMonitoredLeadsPaging(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, h.guard.MonitorLead(ctx, model.LeadRef{LeadID: fmt.Sprintf("lead-%d", i), TenantID: "tenant-1"}, "smb"))
	}
	assert.Error(t, h.guard.MonitorLead(ctx, model.LeadRef{LeadID: "lead-x"}, ""))

	page, err := h.guard.MonitoredLeads(ctx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, []model.LeadRef{{LeadID: "lead-0", TenantID: "tenant-1"}, {LeadID: "lead-1", TenantID: "tenant-1"}}, page)

	page, err = h.guard.MonitoredLeads(ctx, 2, 4)
	require.NoError(t, err)
	assert.Len(t, page, 1)

	page, err = h.guard.MonitoredLeads(ctx, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, page)

	require.NoError(t, h.guard.UnmonitorLead(ctx, model.LeadRef{LeadID: "lead-0", TenantID: "tenant-1"}))
	page, err = h.guard.MonitoredLeads(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, page, 4)
}

func TestMonitoredLeadsFromStore(t *testing.T) {
	store := newMemStore()
	h := newHarness(t, func(d *Dependencies) { d.Store = store })
	ctx := context.Background()

	require.NoError(t, h.guard.MonitorLead(ctx, model.LeadRef{LeadID: "lead-1", TenantID: "tenant-1"}, "smb"))
	page, err := h.guard.MonitoredLeads(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, page, 1)

	store.failWrites = true
	err = h.guard.MonitorLead(ctx, model.LeadRef{LeadID: "lead-2", TenantID: "tenant-1"}, "smb")
	assert.True(t, errors.Is(err, errStoreDown))
}

func TestRestoreReloadsCompletedInterventions(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	first := newHarness(t, func(d *Dependencies) { d.Store = store })
	first.scorer.set("lead-1", 0.6)
	outcome := first.guard.TriggerIntervention(ctx, model.TriggerRequest{LeadID: "lead-1", TenantID: "tenant-1"})
	require.True(t, first.guard.RecordOutcome(ctx, outcome.TrackingID, model.OutcomeConverted, "signed"))

	second := newHarness(t, func(d *Dependencies) { d.Store = store })
	restored, err := second.guard.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, restored)

	report := second.guard.GetBusinessImpactReport(ctx, model.TimeWindow{})
	assert.Equal(t, 1, report.LeadsSaved)
	assert.InDelta(t, 50000, report.RevenueProtected, 1e-6)
}

func TestGuardUsesConfiguredDealValue(t *testing.T) {
	cnf := testConfig()
	cnf.Intervention.AvgDealValue = 1000
	guard, err := NewChurnGuard(cnf, Dependencies{Scorer: newFakeScorer(), Sender: newFakeSender(), Clock: newFakeClock().Now, Sleep: noSleep})
	require.NoError(t, err)

	ctx := context.Background()
	id := guard.StartTracking(ctx, &model.InterventionAction{ActionID: "act_1", LeadID: "lead-1", TenantID: "tenant-1", Stage: model.StageActiveRisk, Channel: model.ChannelEmail}, nil)
	require.True(t, guard.RecordOutcome(ctx, id, model.OutcomeReEngaged, ""))
	record, _ := guard.GetIntervention(ctx, id)
	assert.Equal(t, 1000.0, record.RevenueProtected)
}
