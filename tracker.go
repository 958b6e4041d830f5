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

	"github.com/blnkfinance/churnguard/database"
	"github.com/blnkfinance/churnguard/internal/cache"
	"github.com/blnkfinance/churnguard/internal/metrics"
	"github.com/blnkfinance/churnguard/model"
	"github.com/sirupsen/logrus"
)

const (
	reasonExpired        = "expired"
	reasonDeliveryFailed = "delivery_failed"
)

// Tracker owns the lifecycle of every triggered intervention. Active
// records live in memory until an outcome moves them into a bounded
// history buffer. Every mutation happens under mu.
type Tracker struct {
	mu       sync.RWMutex
	records  map[string]*model.InterventionRecord
	active   map[string]*model.InterventionRecord
	byLead   map[string][]string
	history  []*model.InterventionRecord
	head     int
	capacity int

	cache        cache.Cache
	cacheTTL     time.Duration
	publisher    Publisher
	store        database.IDataSource
	avgDealValue float64
	now          func() time.Time
}

// TrackerOptions configures a Tracker.
type TrackerOptions struct {
	HistoryCapacity int
	AvgDealValue    float64
	CacheTTL        time.Duration
	Cache           cache.Cache
	Publisher       Publisher
	Store           database.IDataSource
	Clock           func() time.Time
}

func NewTracker(opts TrackerOptions) *Tracker {
	if opts.HistoryCapacity <= 0 {
		opts.HistoryCapacity = 100000
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewLocalCache(10000, time.Hour)
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}
	return &Tracker{
		records:      make(map[string]*model.InterventionRecord),
		active:       make(map[string]*model.InterventionRecord),
		byLead:       make(map[string][]string),
		history:      make([]*model.InterventionRecord, 0, min(opts.HistoryCapacity, 1024)),
		capacity:     opts.HistoryCapacity,
		cache:        opts.Cache,
		cacheTTL:     opts.CacheTTL,
		publisher:    opts.Publisher,
		store:        opts.Store,
		avgDealValue: opts.AvgDealValue,
		now:          opts.Clock,
	}
}

func trackingKey(trackingID string) string {
	return "tracking:" + trackingID
}

// Start opens a record in INITIATED and returns its tracking id. It never
// fails: cache and broadcast errors are only logged.
func (t *Tracker) Start(ctx context.Context, action *model.InterventionAction, assessment *model.RiskAssessment) string {
	record := &model.InterventionRecord{
		TrackingID:       model.GenerateUUIDWithSuffix("trk"),
		Status:           model.StatusInitiated,
		InitiatedAt:      t.now(),
		Segment:          unknownSegment,
		EngagementEvents: []model.EngagementEvent{},
	}
	if action != nil {
		record.InterventionID = action.ActionID
		record.LeadID = action.LeadID
		record.TenantID = action.TenantID
		record.Stage = action.Stage
		record.PrimaryChannel = action.Channel
	}
	if assessment != nil {
		if record.LeadID == "" {
			record.LeadID = assessment.LeadID
			record.TenantID = assessment.TenantID
		}
		if record.Stage == "" {
			record.Stage = assessment.Stage
		}
		record.ChurnProbability = assessment.Probability
		if assessment.Segment != "" {
			record.Segment = assessment.Segment
		}
	}

	t.mu.Lock()
	t.records[record.TrackingID] = record
	t.active[record.TrackingID] = record
	key := leadKey(record.TenantID, record.LeadID)
	t.byLead[key] = append(t.byLead[key], record.TrackingID)
	snapshot := record.Clone()
	t.mu.Unlock()

	t.cacheRecord(ctx, snapshot)
	publish(ctx, t.publisher, model.NewEvent(model.EventInterventionStarted, snapshot.TenantID, snapshot.LeadID, snapshot, snapshot.InitiatedAt))
	return snapshot.TrackingID
}

// MarkDelivering moves an INITIATED record to DELIVERING.
func (t *Tracker) MarkDelivering(ctx context.Context, trackingID string) bool {
	snapshot, ok := t.mutateActive(trackingID, "mark delivering", func(r *model.InterventionRecord) {
		if r.Status != model.StatusInitiated {
			return
		}
		at := t.clamp(r)
		r.Status = model.StatusDelivering
		r.DeliveringAt = &at
	})
	if ok {
		t.cacheRecord(ctx, snapshot)
	}
	return ok
}

// RecordDelivery applies the aggregated executor result to a record.
func (t *Tracker) RecordDelivery(ctx context.Context, trackingID string, result *model.InterventionResult) bool {
	if result == nil {
		return false
	}
	snapshot, ok := t.mutateActive(trackingID, "record delivery", func(r *model.InterventionRecord) {
		at := t.clamp(r)
		if r.ChannelLatencyMs == nil {
			r.ChannelLatencyMs = make(map[model.Channel]int64)
		}
		if r.ChannelProviderIDs == nil {
			r.ChannelProviderIDs = make(map[model.Channel]string)
		}
		for _, delivery := range result.Channels {
			r.ChannelsAttempted = appendChannel(r.ChannelsAttempted, delivery.Channel)
			if delivery.Status == model.DeliveryDelivered {
				r.ChannelsSucceeded = appendChannel(r.ChannelsSucceeded, delivery.Channel)
				r.ChannelLatencyMs[delivery.Channel] = delivery.LatencyMs
			} else {
				r.ChannelsFailed = appendChannel(r.ChannelsFailed, delivery.Channel)
			}
			if delivery.ProviderID != "" {
				r.ChannelProviderIDs[delivery.Channel] = delivery.ProviderID
			}
		}

		if len(result.SucceededChannels()) > 0 {
			r.Status = model.StatusDelivered
			r.DeliveredAt = &at
			r.Metrics.DeliverySuccess = true
		}
		r.TotalLatency = at.Sub(r.InitiatedAt)
		if result.EscalationID != "" && r.EscalationID == "" {
			linkEscalation(r, result.EscalationID, at)
		}
		if !r.Metrics.DeliverySuccess {
			// nothing reached the lead; the record is done
			t.retire(r, model.StatusFailed, model.OutcomeFailed, reasonDeliveryFailed)
			return
		}
		r.ComputeSuccessScore()
	})
	if !ok {
		return false
	}

	t.cacheRecord(ctx, snapshot)
	event := model.EventInterventionDelivered
	if snapshot.Status == model.StatusFailed {
		event = model.EventInterventionFailed
		t.persist(ctx, snapshot)
	}
	publish(ctx, t.publisher, model.NewEvent(event, snapshot.TenantID, snapshot.LeadID, snapshot, t.now()))
	return true
}

// RecordEngagement appends an engagement event. The first engagement moves
// a DELIVERED record to ENGAGED.
func (t *Tracker) RecordEngagement(ctx context.Context, trackingID, eventType string, data map[string]interface{}) bool {
	snapshot, ok := t.mutateActive(trackingID, "record engagement", func(r *model.InterventionRecord) {
		at := t.clamp(r)
		r.EngagementEvents = append(r.EngagementEvents, model.EngagementEvent{
			Type:       eventType,
			Data:       model.CloneData(data),
			OccurredAt: at,
		})
		if r.Status == model.StatusDelivered && r.FirstEngagementAt == nil {
			r.Status = model.StatusEngaged
			r.FirstEngagementAt = &at
		}
		switch eventType {
		case model.EngagementOpened:
			r.Metrics.EngagementSuccess = true
		case model.EngagementResponded:
			r.Metrics.ResponseSuccess = true
			r.ResponsePayload = model.CloneData(data)
		}
		r.ComputeSuccessScore()
	})
	if !ok {
		return false
	}

	t.cacheRecord(ctx, snapshot)
	publish(ctx, t.publisher, model.NewEvent(model.EventInterventionEngaged, snapshot.TenantID, snapshot.LeadID, snapshot, t.now()))
	return true
}

// RecordOutcome completes a record and moves it into history.
func (t *Tracker) RecordOutcome(ctx context.Context, trackingID string, outcome model.FinalOutcome, reason string) bool {
	if !outcome.Valid() {
		logrus.WithField("tracking_id", trackingID).Warnf("ignoring unknown outcome %q", outcome)
		return false
	}

	snapshot, ok := t.mutateActive(trackingID, "record outcome", func(r *model.InterventionRecord) {
		t.complete(r, outcome, reason)
	})
	if !ok {
		return false
	}

	t.cacheRecord(ctx, snapshot)
	t.persist(ctx, snapshot)
	metrics.ObserveOutcome(string(outcome), snapshot.Metrics.ChurnPrevented, snapshot.RevenueProtected)
	publish(ctx, t.publisher, model.NewEvent(model.EventInterventionCompleted, snapshot.TenantID, snapshot.LeadID, snapshot, t.now()))
	return true
}

// complete must be called with mu held for writing.
func (t *Tracker) complete(r *model.InterventionRecord, outcome model.FinalOutcome, reason string) {
	t.retire(r, model.StatusCompleted, outcome, reason)
}

// retire closes r with a terminal status and moves it from the active set
// into history. mu must be held for writing.
func (t *Tracker) retire(r *model.InterventionRecord, status model.LifecycleStatus, outcome model.FinalOutcome, reason string) {
	at := t.clamp(r)
	r.Status = status
	r.CompletedAt = &at
	r.ResolutionTime = at.Sub(r.InitiatedAt)
	r.FinalOutcome = outcome
	r.OutcomeReason = reason
	if outcome.Prevented() {
		r.Metrics.ChurnPrevented = true
		r.RevenueProtected = t.avgDealValue
	} else {
		r.RevenueProtected = 0
	}
	r.ComputeSuccessScore()

	delete(t.active, r.TrackingID)
	t.pushHistory(r)
}

// LinkEscalation attaches an escalation to a record without touching its
// lifecycle status. Completed records can be linked too.
func (t *Tracker) LinkEscalation(ctx context.Context, trackingID, escalationID string, at time.Time) bool {
	snapshot, ok := t.mutate(trackingID, "link escalation", func(r *model.InterventionRecord) {
		linkEscalation(r, escalationID, at)
	})
	if ok {
		t.cacheRecord(ctx, snapshot)
	}
	return ok
}

// RecordEscalationResolution updates the escalation status on a record.
func (t *Tracker) RecordEscalationResolution(ctx context.Context, trackingID, status string, at time.Time) bool {
	snapshot, ok := t.mutate(trackingID, "record escalation resolution", func(r *model.InterventionRecord) {
		r.EscalationStatus = status
		if status == model.EscalationResolved || status == model.EscalationSuperseded {
			resolved := at
			if r.EscalatedAt != nil && resolved.Before(*r.EscalatedAt) {
				resolved = *r.EscalatedAt
			}
			r.EscalationResolvedAt = &resolved
			if r.EscalatedAt != nil {
				r.EscalationResolutionTime = resolved.Sub(*r.EscalatedAt)
			}
		}
	})
	if !ok {
		return false
	}
	t.cacheRecord(ctx, snapshot)
	if snapshot.Status.Terminal() {
		t.persist(ctx, snapshot)
	}
	return true
}

func linkEscalation(r *model.InterventionRecord, escalationID string, at time.Time) {
	r.EscalationID = escalationID
	r.EscalatedAt = &at
	r.EscalationStatus = model.EscalationPending
	r.EscalationResolvedAt = nil
	r.EscalationResolutionTime = 0
}

// Get returns a copy of a record, falling back to the cache for records
// no longer held in memory.
func (t *Tracker) Get(ctx context.Context, trackingID string) (*model.InterventionRecord, bool) {
	t.mu.RLock()
	record, ok := t.records[trackingID]
	if ok {
		record = record.Clone()
	}
	t.mu.RUnlock()
	if ok {
		return record, true
	}

	var cached model.InterventionRecord
	if err := t.cache.Get(ctx, trackingKey(trackingID), &cached); err != nil {
		return nil, false
	}
	return &cached, true
}

// RecentForLead returns up to limit records for a lead, newest first.
func (t *Tracker) RecentForLead(tenantID, leadID string, limit int) []*model.InterventionRecord {
	t.mu.RLock()
	ids := t.byLead[leadKey(tenantID, leadID)]
	out := make([]*model.InterventionRecord, 0, len(ids))
	for _, id := range ids {
		if r, ok := t.records[id]; ok {
			out = append(out, r.Clone())
		}
	}
	t.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].InitiatedAt.After(out[j].InitiatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Records returns copies of every active and historical record initiated
// inside the window.
func (t *Tracker) Records(window model.TimeWindow) []*model.InterventionRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*model.InterventionRecord, 0, len(t.records))
	for _, r := range t.records {
		if window.Contains(r.InitiatedAt) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].InitiatedAt.Before(out[j].InitiatedAt)
	})
	return out
}

func (t *Tracker) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.active)
}

func (t *Tracker) HistoryLen() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.history)
}

// Purge drops history completed before cutoff and expires active records
// initiated before it. It returns the number of records dropped.
func (t *Tracker) Purge(ctx context.Context, cutoff time.Time) int {
	t.mu.Lock()
	var expired []*model.InterventionRecord
	for _, r := range t.active {
		if r.InitiatedAt.Before(cutoff) {
			expired = append(expired, r)
		}
	}
	for _, r := range expired {
		t.complete(r, model.OutcomeFailed, reasonExpired)
	}

	kept := make([]*model.InterventionRecord, 0, len(t.history))
	purged := 0
	t.eachHistory(func(r *model.InterventionRecord) {
		if r.CompletedAt != nil && r.CompletedAt.Before(cutoff) {
			t.forget(r)
			purged++
			return
		}
		kept = append(kept, r)
	})
	t.history = kept
	t.head = 0
	snapshots := make([]*model.InterventionRecord, 0, len(expired))
	for _, r := range expired {
		snapshots = append(snapshots, r.Clone())
	}
	t.mu.Unlock()

	for _, r := range snapshots {
		t.persist(ctx, r)
	}
	if purged > 0 || len(expired) > 0 {
		logrus.Infof("tracker purge: %d records dropped, %d stale interventions expired", purged, len(expired))
	}
	return purged
}

// Restore loads terminal records persisted since the given time into
// history. Records already held are skipped.
func (t *Tracker) Restore(ctx context.Context, since time.Time) (int, error) {
	if t.store == nil {
		return 0, nil
	}
	records, err := t.store.ListInterventionsSince(ctx, since, t.capacity)
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	restored := 0
	for _, r := range records {
		if r == nil || !r.Status.Terminal() {
			continue
		}
		if _, exists := t.records[r.TrackingID]; exists {
			continue
		}
		t.records[r.TrackingID] = r
		key := leadKey(r.TenantID, r.LeadID)
		t.byLead[key] = append(t.byLead[key], r.TrackingID)
		t.pushHistory(r)
		restored++
	}
	return restored, nil
}

// mutateActive applies fn to an active record. Unknown or terminal ids are
// logged and ignored.
func (t *Tracker) mutateActive(trackingID, op string, fn func(*model.InterventionRecord)) (*model.InterventionRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	record, ok := t.active[trackingID]
	if !ok {
		logrus.WithField("tracking_id", trackingID).Warnf("%s: no active intervention with this tracking id", op)
		return nil, false
	}
	fn(record)
	return record.Clone(), true
}

func (t *Tracker) mutate(trackingID, op string, fn func(*model.InterventionRecord)) (*model.InterventionRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	record, ok := t.records[trackingID]
	if !ok {
		logrus.WithField("tracking_id", trackingID).Warnf("%s: unknown tracking id", op)
		return nil, false
	}
	fn(record)
	return record.Clone(), true
}

// clamp returns now, or the record's latest transition when the clock
// reads earlier, keeping lifecycle timestamps non-decreasing.
func (t *Tracker) clamp(r *model.InterventionRecord) time.Time {
	now := t.now()
	if last := r.LastTransition(); now.Before(last) {
		return last
	}
	return now
}

func (t *Tracker) pushHistory(r *model.InterventionRecord) {
	if len(t.history) < t.capacity {
		t.history = append(t.history, r)
		return
	}
	t.forget(t.history[t.head])
	t.history[t.head] = r
	t.head = (t.head + 1) % t.capacity
}

// eachHistory walks history oldest first.
func (t *Tracker) eachHistory(fn func(*model.InterventionRecord)) {
	n := len(t.history)
	for i := 0; i < n; i++ {
		fn(t.history[(t.head+i)%n])
	}
}

func (t *Tracker) forget(r *model.InterventionRecord) {
	delete(t.records, r.TrackingID)
	key := leadKey(r.TenantID, r.LeadID)
	ids := t.byLead[key]
	for i, id := range ids {
		if id == r.TrackingID {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(t.byLead, key)
		return
	}
	t.byLead[key] = ids
}

func (t *Tracker) cacheRecord(ctx context.Context, r *model.InterventionRecord) {
	if err := t.cache.Set(ctx, trackingKey(r.TrackingID), r, t.cacheTTL); err != nil {
		logrus.WithField("tracking_id", r.TrackingID).Warnf("failed to cache intervention record: %v", err)
	}
}

func (t *Tracker) persist(ctx context.Context, r *model.InterventionRecord) {
	if t.store == nil {
		return
	}
	if err := t.store.SaveIntervention(ctx, r); err != nil {
		logrus.WithField("tracking_id", r.TrackingID).Errorf("failed to persist intervention record: %v", err)
	}
}

func appendChannel(list []model.Channel, c model.Channel) []model.Channel {
	for _, existing := range list {
		if existing == c {
			return list
		}
	}
	return append(list, c)
}
