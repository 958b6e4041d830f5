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

package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/blnkfinance/churnguard/model"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Publisher pushes engine events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, event model.Event) error
}

// MultiPublisher fans an event out to every publisher. A failing publisher
// does not stop the others; their errors are joined.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, event model.Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogPublisher writes events to the log. It is the publisher of last resort
// when nothing else is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, event model.Event) error {
	logrus.WithFields(logrus.Fields{
		"event":     event.Type,
		"event_id":  event.EventID,
		"tenant_id": event.TenantID,
		"lead_id":   event.LeadID,
	}).Debug("event published")
	return nil
}

// RedisPublisher publishes events on a per-tenant pub/sub channel so live
// dashboards can subscribe to a single tenant.
type RedisPublisher struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisPublisher(client redis.UniversalClient, prefix string) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: prefix}
}

// Channel returns the pub/sub channel used for a tenant.
func (p *RedisPublisher) Channel(tenantID string) string {
	return fmt.Sprintf("%s:%s", p.prefix, tenantID)
}

func (p *RedisPublisher) Publish(ctx context.Context, event model.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.Channel(event.TenantID), data).Err()
}
