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
	"sort"
	"time"
)

// Stage is the intervention stage derived from a churn probability.
type Stage string

const (
	StageEarlyWarning Stage = "EARLY_WARNING"
	StageActiveRisk   Stage = "ACTIVE_RISK"
	StageCriticalRisk Stage = "CRITICAL_RISK"
)

// Staging thresholds. Anything below ActiveRiskThreshold, including very low
// probabilities, stays in EARLY_WARNING; there is no "no risk" stage.
const (
	CriticalRiskThreshold = 0.8
	ActiveRiskThreshold   = 0.6
	EarlyWarningThreshold = 0.3
	// InterventionProbabilityFloor queues EARLY_WARNING assessments above this probability.
	InterventionProbabilityFloor = 0.4
)

// Stages lists every stage in escalating order.
var Stages = []Stage{StageEarlyWarning, StageActiveRisk, StageCriticalRisk}

// RiskFactor is one explanatory factor returned by the churn model.
type RiskFactor struct {
	Name   string  `json:"name"`
	Impact float64 `json:"impact"`
	Value  float64 `json:"value,omitempty"`
}

// ChurnScore is what a scorer returns for a single lead.
type ChurnScore struct {
	Probability          float64            `json:"probability"`
	Confidence           float64            `json:"confidence"`
	RiskFactors          []RiskFactor       `json:"risk_factors"`
	EstimatedDaysToChurn float64            `json:"estimated_days_to_churn"`
	Segment              string             `json:"segment,omitempty"`
	Signals              map[string]float64 `json:"signals,omitempty"`
}

// RiskAssessment is a point-in-time churn estimate for one lead. It is never
// mutated after creation; a newer assessment supersedes it.
type RiskAssessment struct {
	AssessmentID       string             `json:"assessment_id"`
	LeadID             string             `json:"lead_id"`
	TenantID           string             `json:"tenant_id"`
	Probability        float64            `json:"probability"`
	Stage              Stage              `json:"stage"`
	Confidence         float64            `json:"confidence"`
	RiskFactors        []RiskFactor       `json:"risk_factors"`
	TimeToChurn        time.Duration      `json:"time_to_churn"`
	DetectionLatency   time.Duration      `json:"detection_latency"`
	BehavioralSignals  map[string]float64 `json:"behavioral_signals,omitempty"`
	Segment            string             `json:"segment"`
	Degraded           bool               `json:"degraded"`
	DegradedReason     string             `json:"degraded_reason,omitempty"`
	AssessedAt         time.Time          `json:"assessed_at"`
	ServedFromCache    bool               `json:"served_from_cache"`
	QueuedIntervention bool               `json:"queued_intervention"`
}

// StageForProbability maps a churn probability to its intervention stage.
func StageForProbability(p float64) Stage {
	switch {
	case p >= CriticalRiskThreshold:
		return StageCriticalRisk
	case p >= ActiveRiskThreshold:
		return StageActiveRisk
	default:
		return StageEarlyWarning
	}
}

// ShouldIntervene reports whether an assessment warrants a queued intervention.
func (r *RiskAssessment) ShouldIntervene() bool {
	if r == nil {
		return false
	}
	return r.Stage != StageEarlyWarning || r.Probability > InterventionProbabilityFloor
}

// Age returns how old the assessment is relative to now.
func (r *RiskAssessment) Age(now time.Time) time.Duration {
	return now.Sub(r.AssessedAt)
}

// TopFactors returns up to n risk factors ordered by descending impact.
func (r *RiskAssessment) TopFactors(n int) []RiskFactor {
	factors := make([]RiskFactor, len(r.RiskFactors))
	copy(factors, r.RiskFactors)
	sort.SliceStable(factors, func(i, j int) bool {
		return factors[i].Impact > factors[j].Impact
	})
	if n >= 0 && len(factors) > n {
		factors = factors[:n]
	}
	return factors
}

// Rank returns the position of the stage in escalating order.
func (s Stage) Rank() int {
	for i, stage := range Stages {
		if stage == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	return s.Rank() >= 0
}
