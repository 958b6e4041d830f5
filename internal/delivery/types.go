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
	"time"

	"github.com/blnkfinance/churnguard/model"
)

// Provider is an outbound delivery endpoint for one channel, such as an
// email gateway, an SMS aggregator or a dialer.
type Provider struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Channel     model.Channel `json:"channel"`
	URL         string        `json:"url"`
	APIKey      string        `json:"api_key,omitempty"`
	Active      bool          `json:"active"`
	Priority    int           `json:"priority"`
	Timeout     int           `json:"timeout"`
	RetryCount  int           `json:"retry_count"`
	CreatedAt   time.Time     `json:"created_at"`
	LastRun     time.Time     `json:"last_run"`
	LastSuccess bool          `json:"last_success"`
}

// Payload is the body posted to a provider.
type Payload struct {
	ActionID        string           `json:"action_id"`
	LeadID          string           `json:"lead_id"`
	TenantID        string           `json:"tenant_id"`
	Stage           model.Stage      `json:"stage"`
	Channel         model.Channel    `json:"channel"`
	ActionType      model.ActionType `json:"action_type"`
	ContentTemplate string           `json:"content_template"`
	Priority        int              `json:"priority"`
	Deadline        time.Time        `json:"deadline"`
	Timestamp       time.Time        `json:"timestamp"`
}

// Response is what a provider is expected to answer with.
type Response struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	ProviderID string `json:"provider_id"`
}

// Registry stores the configured providers.
type Registry interface {
	RegisterProvider(ctx context.Context, provider *Provider) error
	UpdateProvider(ctx context.Context, providerID string, provider *Provider) error
	DeleteProvider(ctx context.Context, providerID string) error
	GetProvider(ctx context.Context, providerID string) (*Provider, error)
	ListProviders(ctx context.Context, channel model.Channel) ([]*Provider, error)
	RecordRun(ctx context.Context, provider *Provider, success bool) error
}
