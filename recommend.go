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
	"os"
	"strings"

	"github.com/blnkfinance/churnguard/model"
	"github.com/texttheater/golang-levenshtein/levenshtein"
	"gopkg.in/yaml.v3"
)

// RecommendationRule prepends suggestions when a lead's risk factor matches
// Factor. Actions are the intervention types tried first for that factor.
type RecommendationRule struct {
	Factor          string             `yaml:"factor"`
	Recommendations []string           `yaml:"recommendations"`
	Actions         []model.ActionType `yaml:"actions"`
}

// RecommendationRules builds the recommended-action list of an escalation.
type RecommendationRules struct {
	Base  []string             `yaml:"base"`
	Rules []RecommendationRule `yaml:"rules"`
	// Drift is the allowed edit distance between a factor name and a rule,
	// as a percentage of the longer name.
	Drift float64 `yaml:"drift"`
}

func DefaultRecommendationRules() *RecommendationRules {
	return &RecommendationRules{
		Base: []string{
			"Review the lead's recent interactions and intervention history",
			"Schedule a personal check-in call",
			"Confirm the decision maker and buying timeline",
		},
		Rules: []RecommendationRule{
			{
				Factor:          "declining activity",
				Recommendations: []string{"Send a personalized re-engagement message"},
				Actions:         []model.ActionType{model.ActionInAppMessage, model.ActionSendEmail},
			},
			{
				Factor:          "no response",
				Recommendations: []string{"Reach out on a channel the lead has not been contacted on"},
				Actions:         []model.ActionType{model.ActionSendSMS, model.ActionImmediateCall},
			},
			{
				Factor:          "price sensitivity",
				Recommendations: []string{"Offer a tailored discount or flexible payment plan"},
				Actions:         []model.ActionType{model.ActionSendOffer},
			},
			{
				Factor:          "competitor interest",
				Recommendations: []string{"Share a competitive comparison and differentiators"},
				Actions:         []model.ActionType{model.ActionScheduleMeeting, model.ActionShareContent},
			},
			{
				Factor:          "low engagement",
				Recommendations: []string{"Share a relevant case study"},
				Actions:         []model.ActionType{model.ActionShareContent},
			},
			{
				Factor:          "support issues",
				Recommendations: []string{"Loop in customer success to close open issues"},
				Actions:         []model.ActionType{model.ActionAssignHuman},
			},
		},
		Drift: 20,
	}
}

// LoadRecommendationRules reads rules from a YAML file. An empty path or a
// missing file yields the default rules.
func LoadRecommendationRules(path string) (*RecommendationRules, error) {
	if path == "" {
		return DefaultRecommendationRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultRecommendationRules(), nil
		}
		return nil, err
	}
	var rules RecommendationRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, err
	}
	if rules.Drift <= 0 {
		rules.Drift = 20
	}
	return &rules, nil
}

// Recommend returns the factor-specific suggestions, in factor order,
// followed by the base list. Duplicates are dropped.
func (r *RecommendationRules) Recommend(factors []model.RiskFactor) []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.Base)+len(factors))
	for _, factor := range factors {
		for _, rule := range r.Rules {
			if factorMatches(factor.Name, rule.Factor, r.Drift) {
				out = appendUnique(out, rule.Recommendations...)
			}
		}
	}
	return appendUnique(out, r.Base...)
}

// RecommendActions returns the action types of every rule matching one of
// the factors, in factor order. Duplicates are dropped.
func (r *RecommendationRules) RecommendActions(factors []model.RiskFactor) []model.ActionType {
	if r == nil {
		return nil
	}
	var out []model.ActionType
	for _, factor := range factors {
		for _, rule := range r.Rules {
			if factorMatches(factor.Name, rule.Factor, r.Drift) {
				out = appendUniqueActions(out, rule.Actions...)
			}
		}
	}
	return out
}

// FactorRecommender proposes intervention actions from a lead's risk
// factors. Matched actions come first, followed by the stage defaults so
// the selector still has the full stage plan to rank.
type FactorRecommender struct {
	rules *RecommendationRules
}

func NewFactorRecommender(rules *RecommendationRules) *FactorRecommender {
	if rules == nil {
		rules = DefaultRecommendationRules()
	}
	return &FactorRecommender{rules: rules}
}

// Recommend returns nil when no factor matches a rule, leaving the choice
// to the stage defaults.
func (f *FactorRecommender) Recommend(_ context.Context, assessment *model.RiskAssessment) []model.ActionType {
	if assessment == nil {
		return nil
	}
	matched := f.rules.RecommendActions(assessment.RiskFactors)
	if len(matched) == 0 {
		return nil
	}
	return appendUniqueActions(matched, StagePolicies[assessment.Stage].Defaults...)
}

func normalizeFactor(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer("_", " ", "-", " ").Replace(name)
}

// factorMatches compares names loosely so "declining_activity" and a
// misspelt "Declining activty" hit the same rule.
func factorMatches(name, ruleFactor string, drift float64) bool {
	a, b := normalizeFactor(name), normalizeFactor(ruleFactor)
	if a == "" || b == "" {
		return false
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return true
	}
	distance := levenshtein.DistanceForStrings([]rune(a), []rune(b), levenshtein.DefaultOptions)
	maxLength := float64(max(len(a), len(b)))
	return distance <= int(maxLength*(drift/100))
}

func appendUnique(list []string, values ...string) []string {
	for _, v := range values {
		found := false
		for _, existing := range list {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			list = append(list, v)
		}
	}
	return list
}

func appendUniqueActions(list []model.ActionType, values ...model.ActionType) []model.ActionType {
	for _, v := range values {
		found := false
		for _, existing := range list {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			list = append(list, v)
		}
	}
	return list
}
