package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComputeSuccessScore(t *testing.T) {
	record := &InterventionRecord{}
	assert.Equal(t, 0.0, record.ComputeSuccessScore())

	record.Metrics.DeliverySuccess = true
	assert.InDelta(t, 0.2, record.ComputeSuccessScore(), 1e-9)

	record.Metrics.EngagementSuccess = true
	assert.InDelta(t, 0.5, record.ComputeSuccessScore(), 1e-9)

	record.Metrics.ChurnPrevented = true
	assert.InDelta(t, 0.75, record.ComputeSuccessScore(), 1e-9)

	record.Metrics.ResponseSuccess = true
	assert.InDelta(t, 1.0, record.ComputeSuccessScore(), 1e-9)
}

func TestComputeSuccessScoreMonotonic(t *testing.T) {
	setters := []func(*SuccessMetrics){
		func(m *SuccessMetrics) { m.ChurnPrevented = true },
		func(m *SuccessMetrics) { m.ResponseSuccess = true },
		func(m *SuccessMetrics) { m.DeliverySuccess = true },
		func(m *SuccessMetrics) { m.EngagementSuccess = true },
	}

	record := &InterventionRecord{}
	previous := record.ComputeSuccessScore()
	for _, set := range setters {
		set(&record.Metrics)
		score := record.ComputeSuccessScore()
		assert.GreaterOrEqual(t, score, previous)
		assert.LessOrEqual(t, score, 1.0)
		previous = score
	}
}

func TestFinalOutcomePrevented(t *testing.T) {
	assert.True(t, OutcomeReEngaged.Prevented())
	assert.True(t, OutcomeConverted.Prevented())
	assert.False(t, OutcomeChurned.Prevented())
	assert.False(t, OutcomeFailed.Prevented())
	assert.False(t, FinalOutcome("MAYBE").Valid())
}

func TestRecordClone(t *testing.T) {
	now := time.Now()
	record := &InterventionRecord{
		TrackingID:        "trk_1",
		DeliveredAt:       &now,
		ChannelsAttempted: []Channel{ChannelEmail},
		ChannelLatencyMs:  map[Channel]int64{ChannelEmail: 40},
	}

	clone := record.Clone()
	clone.ChannelsAttempted[0] = ChannelSMS
	clone.ChannelLatencyMs[ChannelEmail] = 1
	later := now.Add(time.Hour)
	*clone.DeliveredAt = later

	assert.Equal(t, ChannelEmail, record.ChannelsAttempted[0])
	assert.Equal(t, int64(40), record.ChannelLatencyMs[ChannelEmail])
	assert.Equal(t, now, *record.DeliveredAt)
}

func TestRecordCloneCopiesPayloads(t *testing.T) {
	record := &InterventionRecord{
		EngagementEvents: []EngagementEvent{{Type: EngagementResponded, Data: map[string]interface{}{
			"text": "call me",
			"meta": map[string]interface{}{"source": "sms"},
		}}},
		ResponsePayload: map[string]interface{}{"text": "call me", "tags": []interface{}{"urgent"}},
	}

	clone := record.Clone()
	clone.EngagementEvents[0].Data["text"] = "changed"
	clone.EngagementEvents[0].Data["meta"].(map[string]interface{})["source"] = "email"
	clone.ResponsePayload["text"] = "changed"
	clone.ResponsePayload["tags"].([]interface{})[0] = "ignore"

	assert.Equal(t, "call me", record.EngagementEvents[0].Data["text"])
	assert.Equal(t, "sms", record.EngagementEvents[0].Data["meta"].(map[string]interface{})["source"])
	assert.Equal(t, "call me", record.ResponsePayload["text"])
	assert.Equal(t, "urgent", record.ResponsePayload["tags"].([]interface{})[0])
	assert.Nil(t, CloneData(nil))
}

func TestLifecycleStatusTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusDelivered.Terminal())
	assert.False(t, StatusEngaged.Terminal())
}

func TestTimeWindowContains(t *testing.T) {
	now := time.Now()
	window := TimeWindow{From: now.Add(-time.Hour), To: now}
	assert.True(t, window.Contains(now.Add(-time.Minute)))
	assert.False(t, window.Contains(now.Add(-2*time.Hour)))
	assert.False(t, window.Contains(now.Add(time.Minute)))
	assert.True(t, TimeWindow{}.Contains(now))
}
