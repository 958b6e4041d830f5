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
	"strings"
	"time"

	"github.com/blnkfinance/churnguard/model"
)

// StagePolicy bounds what the selector may plan for a stage.
type StagePolicy struct {
	MaxActions    int
	DispatchDelay time.Duration
	Deadline      time.Duration
	Channels      []model.Channel
	Defaults      []model.ActionType
}

// Allows reports whether the stage may use the channel.
func (p StagePolicy) Allows(channel model.Channel) bool {
	for _, c := range p.Channels {
		if c == channel {
			return true
		}
	}
	return false
}

var StagePolicies = map[model.Stage]StagePolicy{
	model.StageEarlyWarning: {
		MaxActions:    2,
		DispatchDelay: 30 * time.Second,
		Deadline:      24 * time.Hour,
		Channels:      []model.Channel{model.ChannelEmail, model.ChannelInApp},
		Defaults:      []model.ActionType{model.ActionSendEmail, model.ActionInAppMessage},
	},
	model.StageActiveRisk: {
		MaxActions:    3,
		DispatchDelay: 10 * time.Second,
		Deadline:      4 * time.Hour,
		Channels:      []model.Channel{model.ChannelEmail, model.ChannelSMS, model.ChannelPhone},
		Defaults:      []model.ActionType{model.ActionSendOffer, model.ActionImmediateCall, model.ActionSendSMS},
	},
	model.StageCriticalRisk: {
		MaxActions:    4,
		DispatchDelay: 0,
		Deadline:      time.Hour,
		Channels:      []model.Channel{model.ChannelPhone, model.ChannelSMS, model.ChannelHumanAssignment},
		Defaults:      []model.ActionType{model.ActionImmediateCall, model.ActionSendSMS, model.ActionAssignHuman, model.ActionSendOffer},
	},
}

type actionCost struct {
	Cost        float64
	SuccessRate float64
}

// actionCostTable holds the unit cost and historical success rate per action type.
var actionCostTable = map[model.ActionType]actionCost{
	model.ActionSendEmail:       {Cost: 0.5, SuccessRate: 0.12},
	model.ActionSendOffer:       {Cost: 5, SuccessRate: 0.22},
	model.ActionShareContent:    {Cost: 1, SuccessRate: 0.10},
	model.ActionInAppMessage:    {Cost: 0.25, SuccessRate: 0.08},
	model.ActionSendSMS:         {Cost: 1.5, SuccessRate: 0.18},
	model.ActionScheduleMeeting: {Cost: 25, SuccessRate: 0.35},
	model.ActionImmediateCall:   {Cost: 40, SuccessRate: 0.40},
	model.ActionAssignHuman:     {Cost: 120, SuccessRate: 0.55},
}

var actionChannels = map[model.ActionType]model.Channel{
	model.ActionSendEmail:       model.ChannelEmail,
	model.ActionSendOffer:       model.ChannelEmail,
	model.ActionShareContent:    model.ChannelEmail,
	model.ActionInAppMessage:    model.ChannelInApp,
	model.ActionSendSMS:         model.ChannelSMS,
	model.ActionScheduleMeeting: model.ChannelWorkflow,
	model.ActionImmediateCall:   model.ChannelPhone,
	model.ActionAssignHuman:     model.ChannelHumanAssignment,
}

// channelForAction maps an action type to its delivery channel for a stage.
// Email-borne actions move to SMS once a lead is at active or critical risk.
func channelForAction(action model.ActionType, stage model.Stage) model.Channel {
	channel, ok := actionChannels[action]
	if !ok {
		channel = model.ChannelEmail
	}
	if channel == model.ChannelEmail && (stage == model.StageActiveRisk || stage == model.StageCriticalRisk) {
		return model.ChannelSMS
	}
	return channel
}

// ActionSelector plans the actions of one intervention.
type ActionSelector struct {
	recommender  ActionRecommender
	avgDealValue float64
	now          func() time.Time
}

// SelectActions returns at most the stage's MaxActions actions, one per
// action type, ranked by net expected value. Actions whose channel the
// stage does not allow are dropped. An empty result means nothing viable
// was found.
func (s *ActionSelector) SelectActions(ctx context.Context, assessment *model.RiskAssessment, stage model.Stage) []*model.InterventionAction {
	policy, ok := StagePolicies[stage]
	if !ok || assessment == nil {
		return nil
	}

	var candidates []model.ActionType
	if s.recommender != nil {
		candidates = s.recommender.Recommend(ctx, assessment)
	}
	if len(candidates) == 0 {
		candidates = policy.Defaults
	}

	seen := make(map[model.ActionType]bool, len(candidates))
	actions := make([]*model.InterventionAction, 0, len(candidates))
	for _, actionType := range candidates {
		cost, known := actionCostTable[actionType]
		if !known || seen[actionType] {
			continue
		}
		channel := channelForAction(actionType, stage)
		if !policy.Allows(channel) {
			continue
		}
		seen[actionType] = true

		action := &model.InterventionAction{
			LeadID:              assessment.LeadID,
			TenantID:            assessment.TenantID,
			Stage:               stage,
			Type:                actionType,
			Channel:             channel,
			ContentTemplate:     contentTemplate(stage, actionType),
			ExpectedSuccessRate: cost.SuccessRate,
			Cost:                cost.Cost,
			ExpectedValue:       cost.SuccessRate * assessment.Probability * s.avgDealValue,
		}
		action.ROIScore = roi(action.ExpectedValue, action.Cost)
		actions = append(actions, action)
	}

	sort.SliceStable(actions, func(i, j int) bool {
		ni, nj := netValue(actions[i]), netValue(actions[j])
		if ni != nj {
			return ni > nj
		}
		if actions[i].ROIScore != actions[j].ROIScore {
			return actions[i].ROIScore > actions[j].ROIScore
		}
		return actions[i].Type < actions[j].Type
	})
	if len(actions) > policy.MaxActions {
		actions = actions[:policy.MaxActions]
	}

	now := s.now()
	for i, action := range actions {
		action.ActionID = model.GenerateUUIDWithSuffix("act")
		action.Priority = i + 1
		action.ScheduledAt = now.Add(time.Duration(i) * policy.DispatchDelay)
		action.ExecutionDeadline = action.ScheduledAt.Add(policy.Deadline)
	}
	return actions
}

func netValue(action *model.InterventionAction) float64 {
	return action.ExpectedValue - action.Cost
}

func roi(expectedValue, cost float64) float64 {
	if cost <= 0 {
		return expectedValue
	}
	return (expectedValue - cost) / cost
}

func contentTemplate(stage model.Stage, action model.ActionType) string {
	return strings.ToLower(string(stage)) + "." + string(action)
}
