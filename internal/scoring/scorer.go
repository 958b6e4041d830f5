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

package scoring

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/blnkfinance/churnguard/config"
	"github.com/blnkfinance/churnguard/internal/request"
	"github.com/blnkfinance/churnguard/model"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// HTTPScorer asks a remote churn model for a lead's score.
//
// Any failure, including exhausting retries, is reported as
// model.ErrScoringUnavailable so the assessor can fall back.
type HTTPScorer struct {
	url        string
	apiKey     string
	client     *http.Client
	maxElapsed time.Duration
	initial    time.Duration
}

type scoreRequest struct {
	LeadID   string `json:"lead_id"`
	TenantID string `json:"tenant_id"`
}

type scoreResponse struct {
	Probability          float64            `json:"churn_probability"`
	Confidence           float64            `json:"confidence"`
	RiskFactors          []model.RiskFactor `json:"risk_factors"`
	EstimatedDaysToChurn float64            `json:"estimated_days_to_churn"`
	Segment              string             `json:"segment"`
	Signals              map[string]float64 `json:"behavioral_signals"`
}

func NewHTTPScorer(url, apiKey string, timeout, maxElapsed time.Duration) *HTTPScorer {
	return &HTTPScorer{
		url:        url,
		apiKey:     apiKey,
		client:     &http.Client{Timeout: timeout},
		maxElapsed: maxElapsed,
		initial:    250 * time.Millisecond,
	}
}

// NewHTTPScorerFromConfig builds a scorer from the scoring section of the config.
func NewHTTPScorerFromConfig(cfg *config.Configuration) (*HTTPScorer, error) {
	if cfg.Scoring.Url == "" {
		return nil, errors.New("scoring url is not configured")
	}
	return NewHTTPScorer(cfg.Scoring.Url, cfg.Scoring.ApiKey,
		time.Duration(cfg.Scoring.TimeoutSec)*time.Second,
		time.Duration(cfg.Scoring.MaxElapsedSec)*time.Second), nil
}

func (s *HTTPScorer) Score(ctx context.Context, leadID, tenantID string) (*model.ChurnScore, error) {
	headers := map[string]string{}
	if s.apiKey != "" {
		headers["Authorization"] = "Bearer " + s.apiKey
	}

	var resp scoreResponse
	operation := func() error {
		err := request.PostJSON(ctx, s.client, s.url, headers, scoreRequest{LeadID: leadID, TenantID: tenantID}, &resp)
		var statusErr *request.StatusError
		if errors.As(err, &statusErr) && !statusErr.Retryable() {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.initial
	policy.MaxElapsedTime = s.maxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		logrus.WithFields(logrus.Fields{
			"lead_id":   leadID,
			"tenant_id": tenantID,
		}).WithError(err).Warn("churn scoring request failed")
		return nil, fmt.Errorf("%w: %v", model.ErrScoringUnavailable, err)
	}

	if resp.Probability < 0 || resp.Probability > 1 {
		return nil, fmt.Errorf("%w: probability %v out of range", model.ErrScoringUnavailable, resp.Probability)
	}

	return &model.ChurnScore{
		Probability:          resp.Probability,
		Confidence:           resp.Confidence,
		RiskFactors:          resp.RiskFactors,
		EstimatedDaysToChurn: resp.EstimatedDaysToChurn,
		Segment:              resp.Segment,
		Signals:              resp.Signals,
	}, nil
}
