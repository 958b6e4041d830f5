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
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/churnguard/model"
)

func newTestTracker(clock *fakeClock, capacity int) *Tracker {
	return NewTracker(TrackerOptions{
		HistoryCapacity: capacity,
		AvgDealValue:    50000,
		Publisher:       &recordingPublisher{},
		Clock:           clock.Now,
	})
}

func startFor(t *Tracker, leadID string, stage model.Stage, channel model.Channel) string {
	return t.Start(context.Background(), &model.InterventionAction{
		ActionID: model.GenerateUUIDWithSuffix("act"),
		LeadID:   leadID,
		TenantID: "tenant-1",
		Stage:    stage,
		Channel:  channel,
	}, &model.RiskAssessment{LeadID: leadID, TenantID: "tenant-1", Probability: 0.7, Stage: stage, Segment: "smb"})
}

func deliveredOn(channels ...model.Channel) *model.InterventionResult {
	result := &model.InterventionResult{Outcome: model.ResultDelivered}
	for _, c := range channels {
		result.Channels = append(result.Channels, model.ChannelDelivery{Channel: c, Status: model.DeliveryDelivered, LatencyMs: 200, ProviderID: "prv"})
	}
	return result
}

func TestTrackerSuccessScoreProgression(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock, 10)
	ctx := context.Background()
	id := startFor(tr, "lead-1", model.StageActiveRisk, model.ChannelEmail)

	require.True(t, tr.RecordDelivery(ctx, id, deliveredOn(model.ChannelEmail)))
	r, _ := tr.Get(ctx, id)
	assert.InDelta(t, 0.2, r.SuccessScore, 1e-9)

	require.True(t, tr.RecordEngagement(ctx, id, model.EngagementOpened, nil))
	r, _ = tr.Get(ctx, id)
	assert.InDelta(t, 0.5, r.SuccessScore, 1e-9)

	require.True(t, tr.RecordOutcome(ctx, id, model.OutcomeReEngaged, "replied"))
	r, _ = tr.Get(ctx, id)
	assert.InDelta(t, 0.75, r.SuccessScore, 1e-9)
	assert.False(t, r.Metrics.ResponseSuccess)
}

func TestTrackerLifecycle(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock, 10)
	ctx := context.Background()
	id := startFor(tr, "lead-1", model.StageActiveRisk, model.ChannelEmail)

	r, ok := tr.Get(ctx, id)
	require.True(t, ok)
	assert.Equal(t, model.StatusInitiated, r.Status)
	assert.Equal(t, "smb", r.Segment)
	assert.Equal(t, 0.7, r.ChurnProbability)

	clock.Advance(time.Second)
	require.True(t, tr.MarkDelivering(ctx, id))
	clock.Advance(2 * time.Second)
	require.True(t, tr.RecordDelivery(ctx, id, deliveredOn(model.ChannelEmail, model.ChannelSMS)))

	r, _ = tr.Get(ctx, id)
	assert.Equal(t, model.StatusDelivered, r.Status)
	assert.Equal(t, 3*time.Second, r.TotalLatency)
	assert.ElementsMatch(t, []model.Channel{model.ChannelEmail, model.ChannelSMS}, r.ChannelsSucceeded)
	assert.Equal(t, "prv", r.ChannelProviderIDs[model.ChannelSMS])

	clock.Advance(time.Minute)
	require.True(t, tr.RecordEngagement(ctx, id, model.EngagementClicked, nil))
	require.True(t, tr.RecordEngagement(ctx, id, model.EngagementResponded, map[string]interface{}{"text": "call me"}))
	r, _ = tr.Get(ctx, id)
	assert.Equal(t, model.StatusEngaged, r.Status)
	assert.Len(t, r.EngagementEvents, 2)
	assert.Equal(t, epoch.Add(63*time.Second), *r.FirstEngagementAt)
	assert.True(t, r.Metrics.ResponseSuccess)
	assert.False(t, r.Metrics.EngagementSuccess)
	assert.Equal(t, "call me", r.ResponsePayload["text"])

	clock.Advance(time.Hour)
	require.True(t, tr.RecordOutcome(ctx, id, model.OutcomeConverted, "signed"))
	r, _ = tr.Get(ctx, id)
	assert.Equal(t, model.StatusCompleted, r.Status)
	assert.Equal(t, time.Hour+63*time.Second, r.ResolutionTime)
	assert.True(t, r.Metrics.ChurnPrevented)
	assert.Equal(t, 50000.0, r.RevenueProtected)
	assert.Equal(t, 0, tr.ActiveCount())
	assert.Equal(t, 1, tr.HistoryLen())

	// completed records take no further lifecycle calls
	assert.False(t, tr.RecordEngagement(ctx, id, model.EngagementOpened, nil))
	assert.False(t, tr.RecordOutcome(ctx, id, model.OutcomeChurned, ""))
}

func TestTrackerFailedDelivery(t *testing.T) {
	tr := newTestTracker(newFakeClock(), 10)
	ctx := context.Background()
	id := startFor(tr, "lead-1", model.StageCriticalRisk, model.ChannelPhone)

	result := &model.InterventionResult{
		Outcome:      model.ResultFailed,
		EscalationID: "esc_1",
		Channels:     []model.ChannelDelivery{{Channel: model.ChannelPhone, Status: model.DeliveryFailed}},
	}
	require.True(t, tr.RecordDelivery(ctx, id, result))

	r, _ := tr.Get(ctx, id)
	assert.Equal(t, model.StatusFailed, r.Status)
	assert.Nil(t, r.DeliveredAt)
	assert.False(t, r.Metrics.DeliverySuccess)
	assert.Equal(t, []model.Channel{model.ChannelPhone}, r.ChannelsFailed)
	assert.Equal(t, "esc_1", r.EscalationID)
	assert.Zero(t, r.SuccessScore)

	// a failed delivery is terminal and leaves the active set
	assert.Equal(t, model.OutcomeFailed, r.FinalOutcome)
	assert.Equal(t, "delivery_failed", r.OutcomeReason)
	require.NotNil(t, r.CompletedAt)
	assert.Zero(t, r.RevenueProtected)
	assert.Equal(t, 0, tr.ActiveCount())
	assert.Equal(t, 1, tr.HistoryLen())
	assert.False(t, tr.RecordEngagement(ctx, id, model.EngagementOpened, nil))
	assert.False(t, tr.RecordOutcome(ctx, id, model.OutcomeReEngaged, ""))
}

func TestTrackerEngagementDataIsCopied(t *testing.T) {
	tr := newTestTracker(newFakeClock(), 10)
	ctx := context.Background()
	id := startFor(tr, "lead-1", model.StageActiveRisk, model.ChannelEmail)
	require.True(t, tr.RecordDelivery(ctx, id, deliveredOn(model.ChannelEmail)))

	data := map[string]interface{}{"text": "call me", "meta": map[string]interface{}{"source": "sms"}}
	require.True(t, tr.RecordEngagement(ctx, id, model.EngagementResponded, data))

	// the caller reuses its map after the call
	data["text"] = "unsubscribe"
	data["meta"].(map[string]interface{})["source"] = "email"

	r, _ := tr.Get(ctx, id)
	assert.Equal(t, "call me", r.ResponsePayload["text"])
	assert.Equal(t, "call me", r.EngagementEvents[0].Data["text"])
	assert.Equal(t, "sms", r.EngagementEvents[0].Data["meta"].(map[string]interface{})["source"])

	// and a returned copy cannot reach back into the tracker
	r.ResponsePayload["text"] = "edited"
	again, _ := tr.Get(ctx, id)
	assert.Equal(t, "call me", again.ResponsePayload["text"])
}

func TestTrackerOutcomeRevenue(t *testing.T) {
	tr := newTestTracker(newFakeClock(), 10)
	ctx := context.Background()
	for outcome, revenue := range map[model.FinalOutcome]float64{
		model.OutcomeReEngaged: 50000,
		model.OutcomeConverted: 50000,
		model.OutcomeChurned:   0,
		model.OutcomeFailed:    0,
	} {
		id := startFor(tr, gofakeit.UUID(), model.StageActiveRisk, model.ChannelEmail)
		require.True(t, tr.RecordOutcome(ctx, id, outcome, ""))
		r, _ := tr.Get(ctx, id)
		assert.Equal(t, revenue, r.RevenueProtected, string(outcome))
		assert.Equal(t, outcome.Prevented(), r.Metrics.ChurnPrevented, string(outcome))
	}
}

func TestTrackerUnknownIDsAreNoOps(t *testing.T) {
	tr := newTestTracker(newFakeClock(), 10)
	ctx := context.Background()

	assert.False(t, tr.MarkDelivering(ctx, "trk_missing"))
	assert.False(t, tr.RecordDelivery(ctx, "trk_missing", deliveredOn(model.ChannelEmail)))
	assert.False(t, tr.RecordEngagement(ctx, "trk_missing", model.EngagementOpened, nil))
	assert.False(t, tr.RecordOutcome(ctx, "trk_missing", model.OutcomeChurned, ""))
	assert.False(t, tr.LinkEscalation(ctx, "trk_missing", "esc_1", epoch))
	assert.False(t, tr.RecordEscalationResolution(ctx, "trk_missing", model.EscalationResolved, epoch))
	_, ok := tr.Get(ctx, "trk_missing")
	assert.False(t, ok)

	id := startFor(tr, "lead-1", model.StageActiveRisk, model.ChannelEmail)
	assert.False(t, tr.RecordOutcome(ctx, id, "MAYBE", ""))
}

func TestTrackerTimestampsNeverGoBackwards(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock, 10)
	ctx := context.Background()
	id := startFor(tr, "lead-1", model.StageActiveRisk, model.ChannelEmail)

	clock.Advance(time.Minute)
	tr.RecordDelivery(ctx, id, deliveredOn(model.ChannelEmail))
	clock.Set(epoch.Add(-time.Hour))
	tr.RecordEngagement(ctx, id, model.EngagementOpened, nil)
	tr.RecordOutcome(ctx, id, model.OutcomeReEngaged, "")

	r, _ := tr.Get(ctx, id)
	assert.False(t, r.DeliveredAt.Before(r.InitiatedAt))
	assert.False(t, r.FirstEngagementAt.Before(*r.DeliveredAt))
	assert.False(t, r.CompletedAt.Before(*r.FirstEngagementAt))
	assert.GreaterOrEqual(t, r.ResolutionTime, time.Duration(0))
}

func TestTrackerHistoryEvictsOldest(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock, 3)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		id := startFor(tr, fmt.Sprintf("lead-%d", i), model.StageEarlyWarning, model.ChannelEmail)
		clock.Advance(time.Second)
		require.True(t, tr.RecordOutcome(ctx, id, model.OutcomeChurned, ""))
		ids = append(ids, id)
	}

	assert.Equal(t, 3, tr.HistoryLen())
	records := tr.Records(model.TimeWindow{})
	require.Len(t, records, 3)
	assert.Equal(t, ids[2], records[0].TrackingID)
	assert.Empty(t, tr.RecentForLead("tenant-1", "lead-0", 10))
	assert.Len(t, tr.RecentForLead("tenant-1", "lead-4", 10), 1)
}

func TestTrackerPurge(t *testing.T) {
	clock := newFakeClock()
	store := newMemStore()
	tr := NewTracker(TrackerOptions{HistoryCapacity: 10, AvgDealValue: 50000, Store: store, Clock: clock.Now})
	ctx := context.Background()

	old := startFor(tr, "lead-old", model.StageActiveRisk, model.ChannelEmail)
	tr.RecordOutcome(ctx, old, model.OutcomeChurned, "")
	stale := startFor(tr, "lead-stale", model.StageActiveRisk, model.ChannelEmail)

	clock.Advance(48 * time.Hour)
	fresh := startFor(tr, "lead-fresh", model.StageActiveRisk, model.ChannelEmail)

	purged := tr.Purge(ctx, epoch.Add(24*time.Hour))
	assert.Equal(t, 1, purged)

	_, ok := tr.Get(ctx, old)
	assert.True(t, ok, "still served from cache")
	assert.Empty(t, tr.RecentForLead("tenant-1", "lead-old", 10))

	r, ok := tr.Get(ctx, stale)
	require.True(t, ok)
	assert.Equal(t, model.StatusCompleted, r.Status)
	assert.Equal(t, model.OutcomeFailed, r.FinalOutcome)
	assert.Equal(t, reasonExpired, r.OutcomeReason)

	assert.Equal(t, 1, tr.ActiveCount())
	_, ok = tr.Get(ctx, fresh)
	assert.True(t, ok)
	_, err := store.GetIntervention(ctx, stale)
	assert.NoError(t, err)
}

func TestTrackerRestore(t *testing.T) {
	clock := newFakeClock()
	store := newMemStore()
	ctx := context.Background()

	first := NewTracker(TrackerOptions{HistoryCapacity: 10, AvgDealValue: 50000, Store: store, Clock: clock.Now})
	done := startFor(first, "lead-1", model.StageActiveRisk, model.ChannelEmail)
	first.RecordOutcome(ctx, done, model.OutcomeReEngaged, "")
	startFor(first, "lead-2", model.StageActiveRisk, model.ChannelEmail)

	second := NewTracker(TrackerOptions{HistoryCapacity: 10, AvgDealValue: 50000, Store: store, Clock: clock.Now})
	restored, err := second.Restore(ctx, epoch.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, restored)
	assert.Equal(t, 1, second.HistoryLen())
	assert.Len(t, second.RecentForLead("tenant-1", "lead-1", 10), 1)

	restored, err = second.Restore(ctx, epoch.Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, restored)
}

func TestTrackerSurvivesStoreFailure(t *testing.T) {
	store := newMemStore()
	store.failWrites = true
	tr := NewTracker(TrackerOptions{HistoryCapacity: 10, AvgDealValue: 50000, Store: store, Clock: newFakeClock().Now})
	ctx := context.Background()

	id := startFor(tr, "lead-1", model.StageActiveRisk, model.ChannelEmail)
	assert.NotEmpty(t, id)
	assert.True(t, tr.RecordOutcome(ctx, id, model.OutcomeConverted, ""))
}

func TestTrackerConcurrentInterventions(t *testing.T) {
	tr := newTestTracker(newFakeClock(), 1000)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := startFor(tr, fmt.Sprintf("lead-%d", i%5), model.StageActiveRisk, model.ChannelEmail)
			tr.RecordDelivery(ctx, id, deliveredOn(model.ChannelEmail))
			tr.RecordEngagement(ctx, id, model.EngagementOpened, nil)
			tr.RecordOutcome(ctx, id, model.OutcomeReEngaged, "")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, tr.ActiveCount())
	assert.Equal(t, 50, tr.HistoryLen())
	assert.Len(t, tr.RecentForLead("tenant-1", "lead-3", 100), 10)
}
