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
	"fmt"
	"sync"
	"time"

	"github.com/blnkfinance/churnguard/internal/metrics"
	"github.com/blnkfinance/churnguard/model"
	"github.com/sirupsen/logrus"
)

const errDeadlineExceeded = "deadline_exceeded"

// Executor dispatches the actions of one intervention concurrently.
type Executor struct {
	sender   ChannelSender
	escalate func(ctx context.Context, req *model.EscalationRequest) *model.EscalationResult
	sleep    SleepFunc
	now      func() time.Time
}

type executeOptions struct {
	triggeredAt time.Time
	trackingID  string
	assessment  *model.RiskAssessment
}

// ExecuteOption adjusts a single Execute call.
type ExecuteOption func(*executeOptions)

// TriggeredAt sets the instant latency is measured from.
func TriggeredAt(t time.Time) ExecuteOption {
	return func(o *executeOptions) { o.triggeredAt = t }
}

// ForTracking attaches the tracking id and assessment used if the
// intervention has to be escalated.
func ForTracking(trackingID string, assessment *model.RiskAssessment) ExecuteOption {
	return func(o *executeOptions) {
		o.trackingID = trackingID
		o.assessment = assessment
	}
}

// Execute sends every action and aggregates the channel outcomes. One
// failing channel never cancels the others. The outcome is delivered when
// at least one channel succeeded. A critical-risk intervention with no
// successful channel is escalated automatically.
func (e *Executor) Execute(ctx context.Context, actions []*model.InterventionAction, opts ...ExecuteOption) *model.InterventionResult {
	options := executeOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.triggeredAt.IsZero() {
		options.triggeredAt = e.now()
	}

	result := &model.InterventionResult{Outcome: model.ResultFailed}
	if len(actions) == 0 {
		result.CompletedAt = e.now()
		result.DeliveryLatency = result.CompletedAt.Sub(options.triggeredAt)
		return result
	}

	primary := actions[0]
	result.PrimaryActionID = primary.ActionID
	result.LeadID = primary.LeadID
	result.TenantID = primary.TenantID
	result.Stage = primary.Stage
	result.Channels = make([]model.ChannelDelivery, len(actions))

	var wg sync.WaitGroup
	for i, action := range actions {
		wg.Add(1)
		go func(i int, action *model.InterventionAction) {
			defer wg.Done()
			result.Channels[i] = e.dispatch(ctx, action)
		}(i, action)
	}
	wg.Wait()

	for _, delivery := range result.Channels {
		if delivery.Status == model.DeliveryDelivered {
			result.Outcome = model.ResultDelivered
			break
		}
	}
	result.CompletedAt = e.now()
	result.DeliveryLatency = result.CompletedAt.Sub(options.triggeredAt)

	if result.Outcome == model.ResultFailed && result.Stage == model.StageCriticalRisk && e.escalate != nil {
		escalation := e.escalate(ctx, &model.EscalationRequest{
			LeadID:     result.LeadID,
			TenantID:   result.TenantID,
			Reason:     model.ReasonInterventionFailed,
			Urgency:    model.UrgencyCritical,
			TrackingID: options.trackingID,
			Assessment: options.assessment,
		})
		if escalation != nil && !escalation.Blocked() {
			result.EscalationID = escalation.EscalationID
		}
	}

	return result
}

func (e *Executor) dispatch(ctx context.Context, action *model.InterventionAction) (delivery model.ChannelDelivery) {
	delivery = model.ChannelDelivery{
		ActionID: action.ActionID,
		Channel:  action.Channel,
		Status:   model.DeliveryFailed,
	}
	started := e.now()
	fields := logrus.Fields{
		"lead_id":   action.LeadID,
		"tenant_id": action.TenantID,
		"channel":   action.Channel,
		"action_id": action.ActionID,
	}

	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(fields).Errorf("channel sender panicked: %v", r)
			delivery.Status = model.DeliveryFailed
			delivery.Error = fmt.Sprintf("panic: %v", r)
		}
		metrics.ObserveDelivery(string(delivery.Channel), string(delivery.Status), time.Duration(delivery.LatencyMs)*time.Millisecond)
	}()

	if wait := action.ScheduledAt.Sub(started); wait > 0 {
		if err := e.sleep(ctx, wait); err != nil {
			delivery.Error = err.Error()
			return delivery
		}
	}

	if !action.ExecutionDeadline.IsZero() && !e.now().Before(action.ExecutionDeadline) {
		logrus.WithFields(fields).Warn("action deadline passed before dispatch")
		delivery.Error = errDeadlineExceeded
		return delivery
	}

	dispatchCtx := ctx
	if !action.ExecutionDeadline.IsZero() {
		var cancel context.CancelFunc
		dispatchCtx, cancel = context.WithDeadline(ctx, action.ExecutionDeadline)
		defer cancel()
	}

	sendStarted := e.now()
	receipt, err := e.sender.Send(dispatchCtx, action)
	finished := e.now()

	delivery.ProviderID = receipt.ProviderID
	delivery.LatencyMs = receipt.LatencyMs
	if delivery.LatencyMs == 0 {
		delivery.LatencyMs = finished.Sub(sendStarted).Milliseconds()
	}

	switch {
	case err != nil:
		if errors.Is(err, context.DeadlineExceeded) {
			delivery.Error = errDeadlineExceeded
		} else {
			delivery.Error = err.Error()
		}
		logrus.WithFields(fields).Warnf("channel delivery failed: %v", err)
	case receipt.Status != model.DeliveryDelivered:
		delivery.Error = "provider reported " + string(receipt.Status)
	default:
		delivery.Status = model.DeliveryDelivered
		delivery.DeliveredAt = finished
	}
	return delivery
}
