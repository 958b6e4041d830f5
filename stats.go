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
	"sync"
	"time"

	"github.com/blnkfinance/churnguard/model"
)

// pipelineStats holds the running counters behind GetPreventionMetrics.
type pipelineStats struct {
	mu           sync.Mutex
	metrics      model.PreventionMetrics
	latencyTotal time.Duration
}

func newPipelineStats() *pipelineStats {
	return &pipelineStats{
		metrics: model.PreventionMetrics{AssessmentsByStage: make(map[model.Stage]int64)},
	}
}

func (s *pipelineStats) assessment(a *model.RiskAssessment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.AssessmentsTotal++
	s.metrics.AssessmentsByStage[a.Stage]++
	if a.Degraded {
		s.metrics.DegradedAssessments++
	}
	s.latencyTotal += a.DetectionLatency
}

func (s *pipelineStats) intervention(outcome model.ResultOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.InterventionsTriggered++
	if outcome == model.ResultFailed {
		s.metrics.InterventionsFailed++
		return
	}
	s.metrics.InterventionsDelivered++
}

func (s *pipelineStats) noViableActions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.NoViableActions++
}

func (s *pipelineStats) escalation(blocked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if blocked {
		s.metrics.EscalationsBlocked++
		return
	}
	s.metrics.EscalationsCreated++
}

func (s *pipelineStats) snapshot() model.PreventionMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.metrics
	out.AssessmentsByStage = make(map[model.Stage]int64, len(s.metrics.AssessmentsByStage))
	for stage, n := range s.metrics.AssessmentsByStage {
		out.AssessmentsByStage[stage] = n
	}
	if s.metrics.AssessmentsTotal > 0 {
		avg := s.latencyTotal / time.Duration(s.metrics.AssessmentsTotal)
		out.AverageDetectionLatency = float64(avg) / float64(time.Millisecond)
	}
	return out
}
