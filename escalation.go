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
	"sync"
	"time"

	"github.com/blnkfinance/churnguard/database"
	redlock "github.com/blnkfinance/churnguard/internal/lock"
	"github.com/blnkfinance/churnguard/internal/metrics"
	"github.com/blnkfinance/churnguard/model"
	"github.com/sirupsen/logrus"
	"github.com/wacul/ptr"
)

const topRiskFactors = 3

// EscalationManager hands leads over to human owners. A per-lead cooldown
// keeps at most one escalation per lead inside the window.
type EscalationManager struct {
	mu       sync.RWMutex
	byID     map[string]*model.EscalationResult
	open     map[string]string
	blocked  []time.Time
	cooldown redlock.Cooldown
	fallback *redlock.MemoryCooldown

	window       time.Duration
	historyLimit int
	defaultOwner string
	router       EscalationRouter
	notify       Notifier
	rules        *RecommendationRules
	latest       func(ctx context.Context, tenantID, leadID string) *model.RiskAssessment
	tracker      *Tracker
	store        database.IDataSource
	publisher    Publisher
	stats        *pipelineStats
	now          func() time.Time
}

// Escalate creates and routes a hand-off package for a lead. Inside the
// cooldown window it returns a blocked result without creating anything.
func (m *EscalationManager) Escalate(ctx context.Context, req *model.EscalationRequest) *model.EscalationResult {
	now := m.now()
	key := leadKey(req.TenantID, req.LeadID)
	fields := logrus.Fields{"lead_id": req.LeadID, "tenant_id": req.TenantID, "reason": req.Reason}

	allowed, last, err := m.cooldown.TryAcquire(ctx, key, now, m.window)
	if err != nil {
		logrus.WithFields(fields).Warnf("cooldown store unavailable, using local cooldown: %v", err)
		allowed, last, _ = m.fallback.TryAcquire(ctx, key, now, m.window)
	}
	if !allowed {
		m.mu.Lock()
		m.blocked = append(m.blocked, now)
		m.mu.Unlock()
		m.stats.escalation(true)
		metrics.ObserveEscalation(model.EscalationBlocked)
		logrus.WithFields(fields).Infof("escalation blocked, lead escalated at %s", last.Format(time.RFC3339))
		return &model.EscalationResult{
			LeadID:           req.LeadID,
			TenantID:         req.TenantID,
			Reason:           req.Reason,
			EscalatedTo:      model.NoOwner,
			Urgency:          req.Urgency,
			TrackingID:       req.TrackingID,
			EscalatedAt:      now,
			ResolutionStatus: model.EscalationBlocked,
		}
	}

	assessment := req.Assessment
	if assessment == nil && m.latest != nil {
		assessment = m.latest(ctx, req.TenantID, req.LeadID)
	}

	escalation := &model.EscalationResult{
		EscalationID:     model.GenerateUUIDWithSuffix("esc"),
		LeadID:           req.LeadID,
		TenantID:         req.TenantID,
		Reason:           req.Reason,
		Urgency:          urgencyFor(req, assessment),
		TrackingID:       req.TrackingID,
		EscalatedAt:      now,
		ResolutionStatus: model.EscalationPending,
	}
	var factors []model.RiskFactor
	if assessment != nil {
		factors = assessment.TopFactors(topRiskFactors)
		escalation.RiskContext = &model.EscalationRiskContext{
			Probability: assessment.Probability,
			Stage:       assessment.Stage,
			Confidence:  assessment.Confidence,
			TopFactors:  factors,
			AssessedAt:  assessment.AssessedAt,
		}
	}
	if m.tracker != nil {
		escalation.RecentActions = m.tracker.RecentForLead(req.TenantID, req.LeadID, m.historyLimit)
	}
	escalation.RecommendedActions = m.rules.Recommend(factors)

	owner, err := m.router.Route(ctx, req)
	if err != nil || owner == "" {
		if err != nil {
			logrus.WithFields(fields).Warnf("escalation routing failed, using default owner: %v", err)
		}
		owner = m.defaultOwner
	}
	escalation.EscalatedTo = owner

	superseded := m.register(escalation)
	for _, prev := range superseded {
		m.propagate(ctx, prev)
	}

	if m.notify != nil {
		if err := m.notify(ctx, escalation.Clone()); err != nil {
			logrus.WithFields(fields).Warnf("escalation notification failed: %v", err)
		} else {
			m.mu.Lock()
			escalation.NotificationSent = true
			m.mu.Unlock()
		}
	}

	if req.TrackingID != "" && m.tracker != nil {
		m.tracker.LinkEscalation(ctx, req.TrackingID, escalation.EscalationID, now)
	}

	snapshot := m.snapshot(escalation)
	m.save(ctx, snapshot)
	m.stats.escalation(false)
	metrics.ObserveEscalation(model.EscalationPending)
	publish(ctx, m.publisher, model.NewEvent(model.EventEscalationCreated, req.TenantID, req.LeadID, snapshot, now))
	logrus.WithFields(fields).WithField("owner", owner).Info("lead escalated")
	return snapshot
}

// register stores a new escalation and supersedes the lead's previous
// unresolved one.
func (m *EscalationManager) register(escalation *model.EscalationResult) []*model.EscalationResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := leadKey(escalation.TenantID, escalation.LeadID)
	var superseded []*model.EscalationResult
	if prevID, ok := m.open[key]; ok {
		if prev := m.byID[prevID]; prev.Open() {
			prev.ResolutionStatus = model.EscalationSuperseded
			prev.ResolvedAt = ptr.Time(escalation.EscalatedAt)
			prev.Resolution = "superseded by " + escalation.EscalationID
			superseded = append(superseded, prev.Clone())
		}
	}
	m.byID[escalation.EscalationID] = escalation
	m.open[key] = escalation.EscalationID
	return superseded
}

// Acknowledge marks a pending escalation as picked up by its owner.
func (m *EscalationManager) Acknowledge(ctx context.Context, escalationID string) (*model.EscalationResult, bool) {
	m.mu.Lock()
	escalation, ok := m.byID[escalationID]
	if !ok || escalation.ResolutionStatus != model.EscalationPending {
		m.mu.Unlock()
		logrus.WithField("escalation_id", escalationID).Warn("acknowledge: no pending escalation with this id")
		return nil, false
	}
	escalation.ResolutionStatus = model.EscalationAcknowledged
	escalation.AcknowledgedAt = ptr.Time(m.stamp(escalation.EscalatedAt))
	snapshot := escalation.Clone()
	m.mu.Unlock()

	m.propagate(ctx, snapshot)
	return snapshot, true
}

// Resolve closes an open escalation with a free-form resolution note.
func (m *EscalationManager) Resolve(ctx context.Context, escalationID, resolution string) (*model.EscalationResult, bool) {
	m.mu.Lock()
	escalation, ok := m.byID[escalationID]
	if !ok || !escalation.Open() {
		m.mu.Unlock()
		logrus.WithField("escalation_id", escalationID).Warn("resolve: no open escalation with this id")
		return nil, false
	}
	floor := escalation.EscalatedAt
	if escalation.AcknowledgedAt != nil {
		floor = *escalation.AcknowledgedAt
	}
	escalation.ResolutionStatus = model.EscalationResolved
	escalation.ResolvedAt = ptr.Time(m.stamp(floor))
	escalation.Resolution = resolution
	if m.open[leadKey(escalation.TenantID, escalation.LeadID)] == escalationID {
		delete(m.open, leadKey(escalation.TenantID, escalation.LeadID))
	}
	snapshot := escalation.Clone()
	m.mu.Unlock()

	m.propagate(ctx, snapshot)
	return snapshot, true
}

// Get returns a copy of a known escalation, consulting the store for ones
// no longer held in memory.
func (m *EscalationManager) Get(ctx context.Context, escalationID string) (*model.EscalationResult, bool) {
	m.mu.RLock()
	escalation, ok := m.byID[escalationID]
	if ok {
		escalation = escalation.Clone()
	}
	m.mu.RUnlock()
	if ok {
		return escalation, true
	}
	if m.store == nil {
		return nil, false
	}
	stored, err := m.store.GetEscalation(ctx, escalationID)
	if err != nil {
		return nil, false
	}
	return stored, true
}

// List returns the escalations created inside the window and the number
// of blocked attempts in it.
func (m *EscalationManager) List(window model.TimeWindow) ([]*model.EscalationResult, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.EscalationResult, 0, len(m.byID))
	for _, e := range m.byID {
		if window.Contains(e.EscalatedAt) {
			out = append(out, e.Clone())
		}
	}
	blocked := 0
	for _, at := range m.blocked {
		if window.Contains(at) {
			blocked++
		}
	}
	return out, blocked
}

// Prune forgets closed escalations and blocked attempts older than cutoff,
// along with expired local cooldown entries.
func (m *EscalationManager) Prune(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	pruned := 0
	for id, e := range m.byID {
		if !e.Open() && e.EscalatedAt.Before(cutoff) {
			delete(m.byID, id)
			pruned++
		}
	}
	kept := m.blocked[:0]
	for _, at := range m.blocked {
		if !at.Before(cutoff) {
			kept = append(kept, at)
		}
	}
	m.blocked = kept
	m.fallback.Prune(m.now(), m.window)
	if mc, ok := m.cooldown.(*redlock.MemoryCooldown); ok {
		mc.Prune(m.now(), m.window)
	}
	return pruned
}

// propagate pushes a status change to the linked record, the store and
// subscribers.
func (m *EscalationManager) propagate(ctx context.Context, escalation *model.EscalationResult) {
	if escalation.TrackingID != "" && m.tracker != nil {
		at := escalation.EscalatedAt
		switch {
		case escalation.ResolvedAt != nil:
			at = *escalation.ResolvedAt
		case escalation.AcknowledgedAt != nil:
			at = *escalation.AcknowledgedAt
		}
		m.tracker.RecordEscalationResolution(ctx, escalation.TrackingID, escalation.ResolutionStatus, at)
	}
	m.save(ctx, escalation)
	metrics.ObserveEscalation(escalation.ResolutionStatus)
	publish(ctx, m.publisher, model.NewEvent(model.EventEscalationUpdated, escalation.TenantID, escalation.LeadID, escalation, m.now()))
}

func (m *EscalationManager) save(ctx context.Context, escalation *model.EscalationResult) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveEscalation(ctx, escalation); err != nil {
		logrus.WithField("escalation_id", escalation.EscalationID).Errorf("failed to persist escalation: %v", err)
	}
}

func (m *EscalationManager) snapshot(escalation *model.EscalationResult) *model.EscalationResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return escalation.Clone()
}

// stamp returns now, never earlier than floor.
func (m *EscalationManager) stamp(floor time.Time) time.Time {
	now := m.now()
	if now.Before(floor) {
		return floor
	}
	return now
}

func urgencyFor(req *model.EscalationRequest, assessment *model.RiskAssessment) string {
	if req.Urgency != "" {
		return req.Urgency
	}
	if req.Reason == model.ReasonInterventionFailed || req.Reason == model.ReasonCriticalRisk {
		return model.UrgencyCritical
	}
	if assessment == nil {
		return model.UrgencyNormal
	}
	switch assessment.Stage {
	case model.StageCriticalRisk:
		return model.UrgencyCritical
	case model.StageActiveRisk:
		return model.UrgencyHigh
	default:
		return model.UrgencyNormal
	}
}
