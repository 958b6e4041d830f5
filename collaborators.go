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
	"time"

	"github.com/blnkfinance/churnguard/model"
)

// Scorer returns the churn model's estimate for one lead. Implementations
// fail with model.ErrScoringUnavailable when no score can be produced.
type Scorer interface {
	Score(ctx context.Context, leadID, tenantID string) (*model.ChurnScore, error)
}

// ChannelSender delivers one action on its channel.
type ChannelSender interface {
	Send(ctx context.Context, action *model.InterventionAction) (model.DeliveryReceipt, error)
}

// Publisher broadcasts engine events. Failures are logged by the caller and
// never propagated.
type Publisher interface {
	Publish(ctx context.Context, event model.Event) error
}

// EscalationRouter resolves the human owner for a lead.
type EscalationRouter interface {
	Route(ctx context.Context, req *model.EscalationRequest) (string, error)
}

// ActionRecommender proposes candidate action types for an assessment.
// An empty answer makes the selector fall back to the stage defaults.
type ActionRecommender interface {
	Recommend(ctx context.Context, assessment *model.RiskAssessment) []model.ActionType
}

// Notifier tells the owner about a new escalation.
type Notifier func(ctx context.Context, escalation *model.EscalationResult) error

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type staticRouter string

func (r staticRouter) Route(context.Context, *model.EscalationRequest) (string, error) {
	return string(r), nil
}

func leadKey(tenantID, leadID string) string {
	return tenantID + ":" + leadID
}
