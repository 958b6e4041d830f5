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
	"sync/atomic"

	"github.com/blnkfinance/churnguard/internal/metrics"
	"github.com/blnkfinance/churnguard/model"
	"github.com/sirupsen/logrus"
)

// RiskQueue is the bounded hand-off between the assessor and the
// intervention pipeline. Offer never blocks; a full queue drops the newest
// assessment.
type RiskQueue struct {
	items   chan *model.RiskAssessment
	dropped atomic.Int64
}

func NewRiskQueue(capacity int) *RiskQueue {
	if capacity <= 0 {
		capacity = 10000
	}
	return &RiskQueue{items: make(chan *model.RiskAssessment, capacity)}
}

// Offer enqueues the assessment and reports whether it was accepted.
func (q *RiskQueue) Offer(assessment *model.RiskAssessment) bool {
	select {
	case q.items <- assessment:
		metrics.SetQueueDepth(len(q.items))
		return true
	default:
		q.dropped.Add(1)
		metrics.IncQueueDropped()
		logrus.WithFields(logrus.Fields{
			"lead_id":   assessment.LeadID,
			"tenant_id": assessment.TenantID,
			"stage":     assessment.Stage,
		}).Warn("risk queue full, dropping assessment")
		return false
	}
}

// Next blocks until an assessment is available or ctx is done.
func (q *RiskQueue) Next(ctx context.Context) (*model.RiskAssessment, bool) {
	select {
	case <-ctx.Done():
		return nil, false
	case a := <-q.items:
		metrics.SetQueueDepth(len(q.items))
		return a, true
	}
}

func (q *RiskQueue) Len() int {
	return len(q.items)
}

func (q *RiskQueue) Cap() int {
	return cap(q.items)
}

// Dropped is the number of assessments refused since creation.
func (q *RiskQueue) Dropped() int64 {
	return q.dropped.Load()
}
