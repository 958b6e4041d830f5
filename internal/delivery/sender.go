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

package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/blnkfinance/churnguard/internal/request"
	"github.com/blnkfinance/churnguard/model"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// ErrNoProvider is returned when a channel has no active provider.
var ErrNoProvider = errors.New("no active provider for channel")

// HTTPSender delivers actions by posting them to the registered providers of
// the action's channel. Providers are tried in priority order; each one is
// retried with exponential backoff on transport errors and 429/5xx answers.
type HTTPSender struct {
	registry Registry
	client   *http.Client
	now      func() time.Time

	initialInterval time.Duration
}

func NewHTTPSender(registry Registry) *HTTPSender {
	return &HTTPSender{
		registry:        registry,
		client:          &http.Client{},
		now:             time.Now,
		initialInterval: 200 * time.Millisecond,
	}
}

// Send implements the executor's channel sender contract.
func (s *HTTPSender) Send(ctx context.Context, action *model.InterventionAction) (model.DeliveryReceipt, error) {
	started := s.now()
	providers, err := s.registry.ListProviders(ctx, action.Channel)
	if err != nil {
		return failedReceipt(started, s.now()), err
	}

	var lastErr error = fmt.Errorf("%w: %s", ErrNoProvider, action.Channel)
	for _, p := range providers {
		if !p.Active {
			continue
		}
		providerID, err := s.sendWithRetry(ctx, p, action)
		if recErr := s.registry.RecordRun(ctx, p, err == nil); recErr != nil {
			logrus.WithError(recErr).WithField("provider_id", p.ID).Warn("failed to record provider run")
		}
		if err == nil {
			return model.DeliveryReceipt{
				Status:     model.DeliveryDelivered,
				ProviderID: providerID,
				LatencyMs:  s.now().Sub(started).Milliseconds(),
			}, nil
		}
		lastErr = err
		logrus.WithFields(logrus.Fields{
			"provider_id": p.ID,
			"channel":     action.Channel,
			"action_id":   action.ActionID,
		}).WithError(err).Warn("provider delivery failed, trying next provider")
		if ctx.Err() != nil {
			break
		}
	}
	return failedReceipt(started, s.now()), lastErr
}

func failedReceipt(started, now time.Time) model.DeliveryReceipt {
	return model.DeliveryReceipt{Status: model.DeliveryFailed, LatencyMs: now.Sub(started).Milliseconds()}
}

func (s *HTTPSender) sendWithRetry(ctx context.Context, p *Provider, action *model.InterventionAction) (string, error) {
	payload := Payload{
		ActionID:        action.ActionID,
		LeadID:          action.LeadID,
		TenantID:        action.TenantID,
		Stage:           action.Stage,
		Channel:         action.Channel,
		ActionType:      action.Type,
		ContentTemplate: action.ContentTemplate,
		Priority:        action.Priority,
		Deadline:        action.ExecutionDeadline,
		Timestamp:       s.now().UTC(),
	}
	headers := map[string]string{
		"X-Provider-ID": p.ID,
		"X-Channel":     string(p.Channel),
	}
	if p.APIKey != "" {
		headers["Authorization"] = "Bearer " + p.APIKey
	}

	var providerID string
	operation := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, time.Duration(p.Timeout)*time.Second)
		defer cancel()

		var resp Response
		err := request.PostJSON(attemptCtx, s.client, p.URL, headers, payload, &resp)
		if err != nil {
			var statusErr *request.StatusError
			if errors.As(err, &statusErr) && !statusErr.Retryable() {
				return backoff.Permanent(err)
			}
			return err
		}
		if !resp.Success {
			return backoff.Permanent(fmt.Errorf("provider rejected delivery: %s", resp.Message))
		}
		providerID = resp.ProviderID
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.initialInterval
	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(p.RetryCount)), ctx))
	return providerID, err
}
