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
	"sort"
	"sync"
	"time"

	"github.com/blnkfinance/churnguard/internal/cache"
	"github.com/blnkfinance/churnguard/model"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const snapshotKey = "analytics:snapshot:latest"

// StageSuccessTargets are the reporting targets for each stage's overall
// success rate. They never drive control flow.
var StageSuccessTargets = map[model.Stage]float64{
	model.StageEarlyWarning: 0.45,
	model.StageActiveRisk:   0.60,
	model.StageCriticalRisk: 0.70,
}

// Analytics derives performance and impact views from tracked records.
type Analytics struct {
	tracker     *Tracker
	escalations *EscalationManager
	cache       cache.Cache
	snapshotTTL time.Duration

	costPerIntervention float64
	baselineChurnRate   float64
	targetChurnRate     float64
	now                 func() time.Time

	mu     sync.RWMutex
	latest *model.AnalyticsSnapshot
}

// StagePerformance aggregates records per stage, in escalating stage order.
func (a *Analytics) StagePerformance(window model.TimeWindow) []model.StagePerformance {
	return stagePerformance(a.tracker.Records(window))
}

func stagePerformance(records []*model.InterventionRecord) []model.StagePerformance {
	groups := make(map[model.Stage][]*model.InterventionRecord)
	for _, r := range records {
		groups[r.Stage] = append(groups[r.Stage], r)
	}
	out := make([]model.StagePerformance, 0, len(model.Stages))
	for _, stage := range model.Stages {
		perf := aggregate(groups[stage])
		perf.Stage = stage
		out = append(out, perf)
	}
	return out
}

// SegmentPerformance aggregates records per lead segment, sorted by name.
func (a *Analytics) SegmentPerformance(window model.TimeWindow) []model.StagePerformance {
	return segmentPerformance(a.tracker.Records(window))
}

func segmentPerformance(records []*model.InterventionRecord) []model.StagePerformance {
	groups := make(map[string][]*model.InterventionRecord)
	for _, r := range records {
		segment := r.Segment
		if segment == "" {
			segment = unknownSegment
		}
		groups[segment] = append(groups[segment], r)
	}
	segments := make([]string, 0, len(groups))
	for segment := range groups {
		segments = append(segments, segment)
	}
	sort.Strings(segments)

	out := make([]model.StagePerformance, 0, len(segments))
	for _, segment := range segments {
		perf := aggregate(groups[segment])
		perf.Segment = segment
		out = append(out, perf)
	}
	return out
}

func aggregate(records []*model.InterventionRecord) model.StagePerformance {
	perf := model.StagePerformance{Attempted: len(records)}
	scoreSum := 0.0
	for _, r := range records {
		if r.Metrics.DeliverySuccess {
			perf.Delivered++
		}
		switch r.FinalOutcome {
		case model.OutcomeReEngaged:
			perf.ReEngaged++
		case model.OutcomeConverted:
			perf.Converted++
		case model.OutcomeChurned:
			perf.Churned++
		}
		scoreSum += r.SuccessScore
	}
	perf.DeliverySuccessRate = model.Ratio(perf.Delivered, perf.Attempted)
	perf.ReEngagementRate = model.Ratio(perf.ReEngaged, perf.Attempted)
	perf.ConversionRate = model.Ratio(perf.Converted, perf.Attempted)
	perf.OverallSuccessRate = model.Ratio(perf.ReEngaged+perf.Converted, perf.Attempted)
	if perf.Attempted > 0 {
		perf.AverageSuccessScore = scoreSum / float64(perf.Attempted)
	}
	return perf
}

// ChannelPerformance aggregates delivery results per channel. Average
// delivery time only counts successful deliveries.
func (a *Analytics) ChannelPerformance(window model.TimeWindow) []model.ChannelPerformance {
	return channelPerformance(a.tracker.Records(window))
}

func channelPerformance(records []*model.InterventionRecord) []model.ChannelPerformance {
	type acc struct {
		perf      model.ChannelPerformance
		latencyMs int64
	}
	byChannel := make(map[model.Channel]*acc)
	for _, r := range records {
		for _, channel := range r.ChannelsAttempted {
			entry, ok := byChannel[channel]
			if !ok {
				entry = &acc{perf: model.ChannelPerformance{Channel: channel}}
				byChannel[channel] = entry
			}
			entry.perf.Attempted++
			if containsChannel(r.ChannelsSucceeded, channel) {
				entry.perf.Succeeded++
				entry.latencyMs += r.ChannelLatencyMs[channel]
			} else if containsChannel(r.ChannelsFailed, channel) {
				entry.perf.Failed++
			}
		}
	}

	out := make([]model.ChannelPerformance, 0, len(byChannel))
	for _, entry := range byChannel {
		entry.perf.SuccessRate = model.Ratio(entry.perf.Succeeded, entry.perf.Attempted)
		if entry.perf.Succeeded > 0 {
			entry.perf.AverageDeliveryTime = float64(entry.latencyMs) / float64(entry.perf.Succeeded)
		}
		out = append(out, entry.perf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}

// BusinessImpact reports churn reduction, revenue protected and ROI for
// the records initiated inside the window.
func (a *Analytics) BusinessImpact(window model.TimeWindow) model.BusinessImpactReport {
	return a.businessImpact(window, a.tracker.Records(window))
}

func (a *Analytics) businessImpact(window model.TimeWindow, records []*model.InterventionRecord) model.BusinessImpactReport {
	report := model.BusinessImpactReport{
		Window:             window,
		TotalInterventions: len(records),
		BaselineChurnRate:  a.baselineChurnRate,
		TargetChurnRate:    a.targetChurnRate,
		GeneratedAt:        a.now(),
	}

	revenue := decimal.Zero
	for _, r := range records {
		if r.FinalOutcome == model.OutcomeChurned {
			report.ChurnedCount++
		}
		if r.Metrics.ChurnPrevented {
			report.LeadsSaved++
		}
		revenue = revenue.Add(decimal.NewFromFloat(r.RevenueProtected))
	}

	report.CurrentChurnRate = model.Ratio(report.ChurnedCount, report.TotalInterventions)
	if a.baselineChurnRate > 0 {
		report.ChurnReduction = (a.baselineChurnRate - report.CurrentChurnRate) / a.baselineChurnRate
	}
	report.OnTarget = report.CurrentChurnRate <= a.targetChurnRate

	cost := decimal.NewFromInt(int64(report.TotalInterventions)).Mul(decimal.NewFromFloat(a.costPerIntervention))
	report.RevenueProtected = revenue.InexactFloat64()
	report.TotalCost = cost.InexactFloat64()
	if cost.IsPositive() {
		report.ROIMultiplier = revenue.Div(cost).InexactFloat64()
	}

	for _, perf := range stagePerformance(records) {
		target := StageSuccessTargets[perf.Stage]
		report.StageTargets = append(report.StageTargets, model.StageTargetComparison{
			Stage:       perf.Stage,
			SuccessRate: perf.OverallSuccessRate,
			Target:      target,
			MeetsTarget: perf.OverallSuccessRate >= target,
		})
	}
	return report
}

// EscalationMetrics summarizes escalations raised inside the window.
func (a *Analytics) EscalationMetrics(window model.TimeWindow) model.EscalationMetrics {
	var out model.EscalationMetrics
	if a.escalations == nil {
		return out
	}
	escalations, blocked := a.escalations.List(window)
	out.Created = len(escalations)
	out.Blocked = blocked

	var ackTotal, resolveTotal time.Duration
	for _, e := range escalations {
		if e.AcknowledgedAt != nil {
			out.Acknowledged++
			ackTotal += e.AcknowledgedAt.Sub(e.EscalatedAt)
		}
		if e.ResolutionStatus == model.EscalationResolved && e.ResolvedAt != nil {
			out.Resolved++
			resolveTotal += e.ResolvedAt.Sub(e.EscalatedAt)
		}
		if e.Open() {
			out.Open++
		}
	}
	out.ResolutionRate = model.Ratio(out.Resolved, out.Created)
	if out.Acknowledged > 0 {
		out.AverageTimeToAcknowledge = ackTotal.Seconds() / float64(out.Acknowledged)
	}
	if out.Resolved > 0 {
		out.AverageTimeToResolve = resolveTotal.Seconds() / float64(out.Resolved)
	}
	return out
}

// Snapshot computes every view over one consistent read of the records.
func (a *Analytics) Snapshot(window model.TimeWindow) *model.AnalyticsSnapshot {
	records := a.tracker.Records(window)
	return &model.AnalyticsSnapshot{
		Window:      window,
		Stages:      stagePerformance(records),
		Channels:    channelPerformance(records),
		Segments:    segmentPerformance(records),
		Impact:      a.businessImpact(window, records),
		Escalations: a.EscalationMetrics(window),
		GeneratedAt: a.now(),
	}
}

// Refresh recomputes the all-time snapshot and keeps it as the latest.
func (a *Analytics) Refresh(ctx context.Context) *model.AnalyticsSnapshot {
	snapshot := a.Snapshot(model.TimeWindow{})
	a.mu.Lock()
	a.latest = snapshot
	a.mu.Unlock()
	if err := a.cache.Set(ctx, snapshotKey, snapshot, a.snapshotTTL); err != nil {
		logrus.Warnf("failed to cache analytics snapshot: %v", err)
	}
	return snapshot
}

// LatestSnapshot returns the last refreshed snapshot, from memory or cache.
func (a *Analytics) LatestSnapshot(ctx context.Context) (*model.AnalyticsSnapshot, bool) {
	a.mu.RLock()
	latest := a.latest
	a.mu.RUnlock()
	if latest != nil {
		return latest, true
	}
	var cached model.AnalyticsSnapshot
	if err := a.cache.Get(ctx, snapshotKey, &cached); err != nil {
		return nil, false
	}
	return &cached, true
}

func containsChannel(list []model.Channel, c model.Channel) bool {
	for _, existing := range list {
		if existing == c {
			return true
		}
	}
	return false
}
