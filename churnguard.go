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
	"embed"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/blnkfinance/churnguard/config"
	"github.com/blnkfinance/churnguard/database"
	"github.com/blnkfinance/churnguard/internal/broadcast"
	"github.com/blnkfinance/churnguard/internal/cache"
	redlock "github.com/blnkfinance/churnguard/internal/lock"
	"github.com/blnkfinance/churnguard/internal/metrics"
	"github.com/blnkfinance/churnguard/internal/notification"
	"github.com/blnkfinance/churnguard/model"
	"github.com/sirupsen/logrus"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

var tracer = otel.Tracer("churnguard")

// Dependencies are the collaborators a ChurnGuard is built from. Scorer and
// Sender are required; everything else has an in-process default.
type Dependencies struct {
	Scorer      Scorer
	Sender      ChannelSender
	Publisher   Publisher
	Router      EscalationRouter
	Notifier    Notifier
	Recommender ActionRecommender
	Rules       *RecommendationRules
	Cache       cache.Cache
	Cooldown    redlock.Cooldown
	Store       database.IDataSource
	Clock       func() time.Time
	Sleep       SleepFunc
}

// ChurnGuard is the churn prevention engine: it assesses leads, runs
// interventions, escalates to humans and reports on the results.
type ChurnGuard struct {
	config      config.InterventionConfig
	assessor    *RiskAssessor
	queue       *RiskQueue
	selector    *ActionSelector
	executor    *Executor
	escalations *EscalationManager
	tracker     *Tracker
	analytics   *Analytics
	store       database.IDataSource
	stats       *pipelineStats
	now         func() time.Time

	monitoredMu sync.RWMutex
	monitored   map[string]model.LeadRef
}

func NewChurnGuard(cnf *config.Configuration, deps Dependencies) (*ChurnGuard, error) {
	if cnf == nil {
		return nil, errors.New("configuration is required")
	}
	if deps.Scorer == nil {
		return nil, errors.New("a churn scorer is required")
	}
	if deps.Sender == nil {
		return nil, errors.New("a channel sender is required")
	}
	ic := cnf.Intervention

	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Sleep == nil {
		deps.Sleep = sleepContext
	}
	if deps.Publisher == nil {
		deps.Publisher = broadcast.LogPublisher{}
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewLocalCache(10000, ic.TrackingCacheTTL())
	}
	if deps.Cooldown == nil {
		deps.Cooldown = redlock.NewMemoryCooldown()
	}
	if deps.Router == nil {
		deps.Router = staticRouter(ic.DefaultOwner)
	}
	if deps.Notifier == nil {
		deps.Notifier = notification.NotifyEscalation
	}
	if deps.Rules == nil {
		rules, err := LoadRecommendationRules(ic.RecommendationRulesFile)
		if err != nil {
			return nil, err
		}
		deps.Rules = rules
	}
	if deps.Recommender == nil {
		deps.Recommender = NewFactorRecommender(deps.Rules)
	}

	stats := newPipelineStats()
	queue := NewRiskQueue(ic.QueueCapacity)
	g := &ChurnGuard{
		config:    ic,
		queue:     queue,
		store:     deps.Store,
		stats:     stats,
		now:       deps.Clock,
		monitored: make(map[string]model.LeadRef),
	}

	g.tracker = NewTracker(TrackerOptions{
		HistoryCapacity: ic.HistoryCapacity,
		AvgDealValue:    ic.AvgDealValue,
		CacheTTL:        ic.TrackingCacheTTL(),
		Cache:           deps.Cache,
		Publisher:       deps.Publisher,
		Store:           deps.Store,
		Clock:           deps.Clock,
	})
	g.assessor = &RiskAssessor{
		scorer:    deps.Scorer,
		cache:     deps.Cache,
		publisher: deps.Publisher,
		queue:     queue,
		store:     deps.Store,
		freshness: ic.FreshnessWindow(),
		stats:     stats,
		now:       deps.Clock,
	}
	g.selector = &ActionSelector{
		recommender:  deps.Recommender,
		avgDealValue: ic.AvgDealValue,
		now:          deps.Clock,
	}
	g.escalations = &EscalationManager{
		byID:         make(map[string]*model.EscalationResult),
		open:         make(map[string]string),
		cooldown:     deps.Cooldown,
		fallback:     redlock.NewMemoryCooldown(),
		window:       ic.EscalationCooldown(),
		historyLimit: ic.EscalationHistoryLimit,
		defaultOwner: ic.DefaultOwner,
		router:       deps.Router,
		notify:       deps.Notifier,
		rules:        deps.Rules,
		latest:       g.assessor.Latest,
		tracker:      g.tracker,
		store:        deps.Store,
		publisher:    deps.Publisher,
		stats:        stats,
		now:          deps.Clock,
	}
	g.executor = &Executor{
		sender:   deps.Sender,
		escalate: g.escalations.Escalate,
		sleep:    deps.Sleep,
		now:      deps.Clock,
	}
	g.analytics = &Analytics{
		tracker:             g.tracker,
		escalations:         g.escalations,
		cache:               deps.Cache,
		snapshotTTL:         time.Duration(cnf.Schedule.AnalyticsIntervalSec) * 2 * time.Second,
		costPerIntervention: ic.CostPerIntervention,
		baselineChurnRate:   ic.BaselineChurnRate,
		targetChurnRate:     ic.TargetChurnRate,
		now:                 deps.Clock,
	}
	return g, nil
}

// AssessRisk scores a lead and stages the result.
func (g *ChurnGuard) AssessRisk(ctx context.Context, leadID, tenantID string, forceRefresh bool) *model.RiskAssessment {
	ctx, span := tracer.Start(ctx, "AssessRisk", trace.WithAttributes(
		attribute.String("lead.id", leadID),
		attribute.String("tenant.id", tenantID),
	))
	defer span.End()

	assessment := g.assessor.Assess(ctx, leadID, tenantID, forceRefresh)
	span.SetAttributes(
		attribute.String("risk.stage", string(assessment.Stage)),
		attribute.Bool("risk.degraded", assessment.Degraded),
	)
	return assessment
}

// TriggerIntervention runs one full intervention for a lead: assess when
// needed, select actions, track, execute and record delivery. An empty
// action plan is reported as a failed attempt, not an error.
func (g *ChurnGuard) TriggerIntervention(ctx context.Context, req model.TriggerRequest) *model.InterventionOutcome {
	triggeredAt := g.now()
	ctx, span := tracer.Start(ctx, "TriggerIntervention")
	defer span.End()

	assessment := req.Assessment
	if assessment == nil {
		assessment = g.assessor.Assess(ctx, req.LeadID, req.TenantID, req.ForceRefresh)
	}
	span.SetAttributes(
		attribute.String("lead.id", assessment.LeadID),
		attribute.String("risk.stage", string(assessment.Stage)),
	)
	fields := logrus.Fields{"lead_id": assessment.LeadID, "tenant_id": assessment.TenantID, "stage": assessment.Stage}

	outcome := &model.InterventionOutcome{Assessment: assessment}
	actions := g.selector.SelectActions(ctx, assessment, assessment.Stage)
	outcome.Actions = actions
	if len(actions) == 0 {
		g.stats.noViableActions()
		metrics.ObserveIntervention(string(assessment.Stage), model.ReasonNoViableActions)
		span.AddEvent("no viable actions")
		logrus.WithFields(fields).Warn("no viable intervention actions")
		outcome.Reason = model.ReasonNoViableActions
		outcome.Result = &model.InterventionResult{
			LeadID:      assessment.LeadID,
			TenantID:    assessment.TenantID,
			Stage:       assessment.Stage,
			Outcome:     model.ResultFailed,
			CompletedAt: g.now(),
		}
		return outcome
	}

	trackingID := g.tracker.Start(ctx, actions[0], assessment)
	outcome.TrackingID = trackingID
	g.tracker.MarkDelivering(ctx, trackingID)

	result := g.executor.Execute(ctx, actions, TriggeredAt(triggeredAt), ForTracking(trackingID, assessment))
	g.tracker.RecordDelivery(ctx, trackingID, result)
	outcome.Result = result

	g.stats.intervention(result.Outcome)
	metrics.ObserveIntervention(string(assessment.Stage), string(result.Outcome))
	span.SetAttributes(attribute.String("intervention.outcome", string(result.Outcome)))
	logrus.WithFields(fields).WithField("tracking_id", trackingID).Infof("intervention %s", result.Outcome)
	return outcome
}

// LatestAssessment returns the newest known assessment for a lead without
// calling the scorer. It returns nil when the lead was never assessed.
func (g *ChurnGuard) LatestAssessment(ctx context.Context, tenantID, leadID string) *model.RiskAssessment {
	return g.assessor.Latest(ctx, tenantID, leadID)
}

// Escalate hands a lead over to a human owner, subject to the cooldown.
func (g *ChurnGuard) Escalate(ctx context.Context, req *model.EscalationRequest) *model.EscalationResult {
	ctx, span := tracer.Start(ctx, "Escalate", trace.WithAttributes(
		attribute.String("lead.id", req.LeadID),
		attribute.String("escalation.reason", req.Reason),
	))
	defer span.End()

	if req.Reason == "" {
		req.Reason = model.ReasonManual
	}
	result := g.escalations.Escalate(ctx, req)
	span.SetAttributes(attribute.String("escalation.status", result.ResolutionStatus))
	return result
}

func (g *ChurnGuard) AcknowledgeEscalation(ctx context.Context, escalationID string) (*model.EscalationResult, bool) {
	return g.escalations.Acknowledge(ctx, escalationID)
}

func (g *ChurnGuard) ResolveEscalation(ctx context.Context, escalationID, resolution string) (*model.EscalationResult, bool) {
	return g.escalations.Resolve(ctx, escalationID, resolution)
}

func (g *ChurnGuard) GetEscalation(ctx context.Context, escalationID string) (*model.EscalationResult, bool) {
	return g.escalations.Get(ctx, escalationID)
}

// GetPreventionMetrics returns the running pipeline counters.
func (g *ChurnGuard) GetPreventionMetrics() model.PreventionMetrics {
	m := g.stats.snapshot()
	m.ActiveInterventions = g.tracker.ActiveCount()
	m.QueueDepth = g.queue.Len()
	m.QueueDropped = g.queue.Dropped()
	return m
}

// StartTracking opens a lifecycle record for an intervention driven outside
// TriggerIntervention.
func (g *ChurnGuard) StartTracking(ctx context.Context, action *model.InterventionAction, assessment *model.RiskAssessment) string {
	ctx, span := tracer.Start(ctx, "StartTracking")
	defer span.End()
	return g.tracker.Start(ctx, action, assessment)
}

func (g *ChurnGuard) RecordDelivery(ctx context.Context, trackingID string, result *model.InterventionResult) bool {
	ctx, span := tracer.Start(ctx, "RecordDelivery", trace.WithAttributes(attribute.String("tracking.id", trackingID)))
	defer span.End()
	return g.tracker.RecordDelivery(ctx, trackingID, result)
}

func (g *ChurnGuard) RecordEngagement(ctx context.Context, trackingID, eventType string, data map[string]interface{}) bool {
	ctx, span := tracer.Start(ctx, "RecordEngagement", trace.WithAttributes(attribute.String("tracking.id", trackingID)))
	defer span.End()
	return g.tracker.RecordEngagement(ctx, trackingID, eventType, data)
}

func (g *ChurnGuard) RecordOutcome(ctx context.Context, trackingID string, outcome model.FinalOutcome, reason string) bool {
	ctx, span := tracer.Start(ctx, "RecordOutcome", trace.WithAttributes(attribute.String("tracking.id", trackingID)))
	defer span.End()
	return g.tracker.RecordOutcome(ctx, trackingID, outcome, reason)
}

func (g *ChurnGuard) GetIntervention(ctx context.Context, trackingID string) (*model.InterventionRecord, bool) {
	return g.tracker.Get(ctx, trackingID)
}

// GetAnalytics computes a fresh snapshot for the window.
func (g *ChurnGuard) GetAnalytics(ctx context.Context, window model.TimeWindow) *model.AnalyticsSnapshot {
	_, span := tracer.Start(ctx, "GetAnalytics")
	defer span.End()
	return g.analytics.Snapshot(window)
}

// LatestAnalytics returns the snapshot of the last scheduled refresh.
func (g *ChurnGuard) LatestAnalytics(ctx context.Context) (*model.AnalyticsSnapshot, bool) {
	return g.analytics.LatestSnapshot(ctx)
}

func (g *ChurnGuard) GetBusinessImpactReport(ctx context.Context, window model.TimeWindow) model.BusinessImpactReport {
	_, span := tracer.Start(ctx, "GetBusinessImpactReport")
	defer span.End()
	return g.analytics.BusinessImpact(window)
}

// MonitorLead adds a lead to the continuous re-assessment loop.
func (g *ChurnGuard) MonitorLead(ctx context.Context, lead model.LeadRef, segment string) error {
	if lead.LeadID == "" || lead.TenantID == "" {
		return errors.New("lead id and tenant id are required")
	}
	if g.store != nil {
		if err := g.store.AddMonitoredLead(ctx, lead, segment); err != nil {
			return err
		}
	}
	g.monitoredMu.Lock()
	g.monitored[leadKey(lead.TenantID, lead.LeadID)] = lead
	g.monitoredMu.Unlock()
	return nil
}

func (g *ChurnGuard) UnmonitorLead(ctx context.Context, lead model.LeadRef) error {
	if g.store != nil {
		if err := g.store.RemoveMonitoredLead(ctx, lead); err != nil {
			return err
		}
	}
	g.monitoredMu.Lock()
	delete(g.monitored, leadKey(lead.TenantID, lead.LeadID))
	g.monitoredMu.Unlock()
	return nil
}

// MonitoredLeads pages through the monitored leads. The store is the
// source of truth when configured.
func (g *ChurnGuard) MonitoredLeads(ctx context.Context, limit, offset int) ([]model.LeadRef, error) {
	if g.store != nil {
		return g.store.ListMonitoredLeads(ctx, limit, offset)
	}
	g.monitoredMu.RLock()
	leads := make([]model.LeadRef, 0, len(g.monitored))
	for _, lead := range g.monitored {
		leads = append(leads, lead)
	}
	g.monitoredMu.RUnlock()
	sortLeads(leads)
	if offset >= len(leads) {
		return []model.LeadRef{}, nil
	}
	leads = leads[offset:]
	if limit > 0 && len(leads) > limit {
		leads = leads[:limit]
	}
	return leads, nil
}

// RunRetention purges everything older than the retention window.
func (g *ChurnGuard) RunRetention(ctx context.Context) int {
	cutoff := g.now().Add(-g.config.RetentionWindow())
	purged := g.tracker.Purge(ctx, cutoff)
	pruned := g.escalations.Prune(cutoff)
	if g.store != nil {
		deleted, err := g.store.DeleteInterventionsBefore(ctx, cutoff)
		if err != nil {
			logrus.Errorf("retention: failed to delete stored interventions: %v", err)
		} else if deleted > 0 {
			logrus.Infof("retention: deleted %d stored interventions", deleted)
		}
	}
	if pruned > 0 {
		logrus.Infof("retention: pruned %d closed escalations", pruned)
	}
	return purged
}

// Restore reloads completed interventions inside the retention window.
func (g *ChurnGuard) Restore(ctx context.Context) (int, error) {
	return g.tracker.Restore(ctx, g.now().Add(-g.config.RetentionWindow()))
}

func (g *ChurnGuard) Queue() *RiskQueue {
	return g.queue
}

func (g *ChurnGuard) Analytics() *Analytics {
	return g.analytics
}
