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
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/blnkfinance/churnguard/model"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	providerKeyPrefix = "delivery:providers"
	channelKeyPrefix  = "delivery:channel"

	defaultTimeout    = 10
	defaultRetryCount = 2
)

// ErrProviderNotFound is returned for unknown provider ids.
var ErrProviderNotFound = errors.New("delivery provider not found")

var knownChannels = map[model.Channel]bool{
	model.ChannelEmail:           true,
	model.ChannelSMS:             true,
	model.ChannelPhone:           true,
	model.ChannelInApp:           true,
	model.ChannelWorkflow:        true,
	model.ChannelHumanAssignment: true,
}

type redisRegistry struct {
	client redis.UniversalClient
}

// NewRegistry returns a Redis backed provider registry.
func NewRegistry(client redis.UniversalClient) Registry {
	return &redisRegistry{client: client}
}

func providerKey(id string) string {
	return fmt.Sprintf("%s:%s", providerKeyPrefix, id)
}

func channelKey(channel model.Channel) string {
	return fmt.Sprintf("%s:%s", channelKeyPrefix, channel)
}

func validateProvider(p *Provider) error {
	if p.URL == "" {
		return errors.New("provider URL is required")
	}
	if !knownChannels[p.Channel] {
		return fmt.Errorf("invalid provider channel: %s", p.Channel)
	}
	if p.Timeout <= 0 {
		p.Timeout = defaultTimeout
	}
	if p.RetryCount < 0 {
		p.RetryCount = defaultRetryCount
	}
	return nil
}

func (r *redisRegistry) save(ctx context.Context, p *Provider) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal provider: %w", err)
	}
	return r.client.Set(ctx, providerKey(p.ID), data, 0).Err()
}

func (r *redisRegistry) RegisterProvider(ctx context.Context, p *Provider) error {
	if p.ID == "" {
		p.ID = model.GenerateUUIDWithSuffix("prov")
	}
	p.CreatedAt = time.Now().UTC()
	if err := validateProvider(p); err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal provider: %w", err)
	}
	pipe.Set(ctx, providerKey(p.ID), data, 0)
	pipe.SAdd(ctx, channelKey(p.Channel), p.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *redisRegistry) UpdateProvider(ctx context.Context, providerID string, p *Provider) error {
	existing, err := r.GetProvider(ctx, providerID)
	if err != nil {
		return err
	}
	if err := validateProvider(p); err != nil {
		return err
	}

	p.ID = existing.ID
	p.CreatedAt = existing.CreatedAt
	p.LastRun = existing.LastRun
	p.LastSuccess = existing.LastSuccess

	if existing.Channel != p.Channel {
		pipe := r.client.TxPipeline()
		pipe.SRem(ctx, channelKey(existing.Channel), providerID)
		pipe.SAdd(ctx, channelKey(p.Channel), providerID)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return r.save(ctx, p)
}

func (r *redisRegistry) DeleteProvider(ctx context.Context, providerID string) error {
	p, err := r.GetProvider(ctx, providerID)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, providerKey(providerID))
	pipe.SRem(ctx, channelKey(p.Channel), providerID)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *redisRegistry) GetProvider(ctx context.Context, providerID string) (*Provider, error) {
	data, err := r.client.Get(ctx, providerKey(providerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, providerID)
	}
	if err != nil {
		return nil, err
	}

	var p Provider
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal provider: %w", err)
	}
	return &p, nil
}

// ListProviders returns the providers of a channel, highest priority first.
func (r *redisRegistry) ListProviders(ctx context.Context, channel model.Channel) ([]*Provider, error) {
	ids, err := r.client.SMembers(ctx, channelKey(channel)).Result()
	if err != nil {
		return nil, err
	}

	providers := make([]*Provider, 0, len(ids))
	for _, id := range ids {
		p, err := r.GetProvider(ctx, id)
		if err != nil {
			logrus.WithError(err).WithField("provider_id", id).Warn("skipping unreadable provider")
			continue
		}
		providers = append(providers, p)
	}
	sort.SliceStable(providers, func(i, j int) bool {
		if providers[i].Priority != providers[j].Priority {
			return providers[i].Priority > providers[j].Priority
		}
		return providers[i].ID < providers[j].ID
	})
	return providers, nil
}

func (r *redisRegistry) RecordRun(ctx context.Context, p *Provider, success bool) error {
	p.LastRun = time.Now().UTC()
	p.LastSuccess = success

	logrus.WithFields(logrus.Fields{
		"provider_id": p.ID,
		"channel":     p.Channel,
		"success":     success,
	}).Debug("updated provider execution status")
	return r.save(ctx, p)
}
