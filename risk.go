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
	"time"

	"github.com/blnkfinance/churnguard/database"
	"github.com/blnkfinance/churnguard/internal/cache"
	"github.com/blnkfinance/churnguard/internal/metrics"
	"github.com/blnkfinance/churnguard/model"
	"github.com/sirupsen/logrus"
)

// Fallback values used when the scorer is unavailable.
const (
	fallbackProbability = 0.5
	fallbackConfidence  = 0.25
	unknownSegment      = "unknown"
)

// RiskAssessor scores leads, stages the result and feeds the risk queue.
type RiskAssessor struct {
	scorer    Scorer
	cache     cache.Cache
	publisher Publisher
	queue     *RiskQueue
	store     database.IDataSource
	freshness time.Duration
	stats     *pipelineStats
	now       func() time.Time
}

func assessmentKey(tenantID, leadID string) string {
	return "risk:" + leadKey(tenantID, leadID)
}

// Assess returns the current assessment for a lead. A cached assessment
// younger than the freshness window is returned as is unless forceRefresh
// is set. Scoring failures never surface: a degraded fallback is returned
// instead.
func (a *RiskAssessor) Assess(ctx context.Context, leadID, tenantID string, forceRefresh bool) *model.RiskAssessment {
	if !forceRefresh {
		if cached := a.cached(ctx, tenantID, leadID); cached != nil {
			return cached
		}
	}

	started := a.now()
	assessment := &model.RiskAssessment{
		AssessmentID: model.GenerateUUIDWithSuffix("ras"),
		LeadID:       leadID,
		TenantID:     tenantID,
		Segment:      unknownSegment,
	}

	score, err := a.scorer.Score(ctx, leadID, tenantID)
	if err == nil && score == nil {
		err = model.ErrScoringUnavailable
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"lead_id":   leadID,
			"tenant_id": tenantID,
		}).Warnf("scoring unavailable, using fallback assessment: %v", err)
		assessment.Probability = fallbackProbability
		assessment.Confidence = fallbackConfidence
		assessment.Degraded = true
		assessment.DegradedReason = err.Error()
		assessment.RiskFactors = []model.RiskFactor{}
	} else {
		assessment.Probability = score.Probability
		assessment.Confidence = score.Confidence
		assessment.RiskFactors = score.RiskFactors
		assessment.BehavioralSignals = score.Signals
		assessment.TimeToChurn = time.Duration(score.EstimatedDaysToChurn * float64(24*time.Hour))
		if score.Segment != "" {
			assessment.Segment = score.Segment
		}
	}

	assessment.Stage = model.StageForProbability(assessment.Probability)
	assessment.AssessedAt = a.now()
	assessment.DetectionLatency = assessment.AssessedAt.Sub(started)

	a.remember(ctx, assessment)

	if assessment.ShouldIntervene() && a.queue != nil {
		queued := *assessment
		queued.QueuedIntervention = true
		assessment.QueuedIntervention = a.queue.Offer(&queued)
	}

	a.stats.assessment(assessment)
	metrics.ObserveAssessment(string(assessment.Stage), assessment.Degraded, assessment.DetectionLatency)
	publish(ctx, a.publisher, model.NewEvent(model.EventRiskUpdated, tenantID, leadID, assessment, assessment.AssessedAt))

	return assessment
}

// Latest returns the newest known assessment for a lead without scoring.
func (a *RiskAssessor) Latest(ctx context.Context, tenantID, leadID string) *model.RiskAssessment {
	var assessment model.RiskAssessment
	if err := a.cache.Get(ctx, assessmentKey(tenantID, leadID), &assessment); err == nil {
		return &assessment
	}
	if a.store == nil {
		return nil
	}
	stored, err := a.store.GetLatestAssessment(ctx, tenantID, leadID)
	if err != nil {
		logrus.WithFields(logrus.Fields{"lead_id": leadID, "tenant_id": tenantID}).Debugf("no stored assessment: %v", err)
		return nil
	}
	return stored
}

func (a *RiskAssessor) cached(ctx context.Context, tenantID, leadID string) *model.RiskAssessment {
	var assessment model.RiskAssessment
	err := a.cache.Get(ctx, assessmentKey(tenantID, leadID), &assessment)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			logrus.Warnf("failed to read cached assessment for %s: %v", leadID, err)
		}
		return nil
	}
	if assessment.Degraded || assessment.Age(a.now()) > a.freshness {
		return nil
	}
	assessment.ServedFromCache = true
	return &assessment
}

// remember makes the assessment the current one for its lead. Degraded
// assessments are stored too so Latest reflects them; cached never serves
// them, so the next call scores again.
func (a *RiskAssessor) remember(ctx context.Context, assessment *model.RiskAssessment) {
	key := assessmentKey(assessment.TenantID, assessment.LeadID)
	if err := a.cache.Set(ctx, key, assessment, a.freshness); err != nil {
		logrus.Warnf("failed to cache assessment for %s: %v", assessment.LeadID, err)
	}
	if a.store != nil {
		if err := a.store.SaveAssessment(ctx, assessment); err != nil {
			logrus.Warnf("failed to persist assessment for %s: %v", assessment.LeadID, err)
		}
	}
}

func publish(ctx context.Context, publisher Publisher, event model.Event) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(ctx, event); err != nil {
		logrus.WithFields(logrus.Fields{
			"event":     event.Type,
			"tenant_id": event.TenantID,
			"lead_id":   event.LeadID,
		}).Warnf("failed to publish event: %v", err)
	}
}
