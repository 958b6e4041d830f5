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
	"fmt"
	"net/http"

	"github.com/blnkfinance/churnguard/config"
	"github.com/blnkfinance/churnguard/internal/request"
	"github.com/blnkfinance/churnguard/model"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// TypeWebhookDelivery is the asynq task type for outbound webhooks.
const TypeWebhookDelivery = "webhook:deliver"

const webhookMaxRetry = 5

// Webhook is the body posted to the subscriber url.
type Webhook struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"data"`
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// WebhookPublisher enqueues events for delivery by the workers, so a slow
// subscriber never holds up the engine.
type WebhookPublisher struct {
	client enqueuer
	queue  string
}

func NewWebhookPublisher(client *asynq.Client, queue string) *WebhookPublisher {
	return &WebhookPublisher{client: client, queue: queue}
}

func (p *WebhookPublisher) Publish(ctx context.Context, event model.Event) error {
	return p.Send(ctx, event.Type, event)
}

// Send enqueues an arbitrary named payload, used for system notifications.
func (p *WebhookPublisher) Send(ctx context.Context, eventType string, payload interface{}) error {
	data, err := json.Marshal(Webhook{Event: eventType, Payload: payload})
	if err != nil {
		return err
	}

	task := asynq.NewTask(TypeWebhookDelivery, data)
	info, err := p.client.EnqueueContext(ctx, task, asynq.Queue(p.queue), asynq.MaxRetry(webhookMaxRetry))
	if err != nil {
		return fmt.Errorf("failed to enqueue webhook %s: %w", eventType, err)
	}
	logrus.WithFields(logrus.Fields{
		"event":   eventType,
		"task_id": info.ID,
	}).Debug("webhook enqueued")
	return nil
}

// ProcessWebhook delivers a queued webhook. Returning an error makes asynq
// retry the task.
func ProcessWebhook(ctx context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	var payload Webhook
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	logrus.WithField("event", payload.Event).Info("processing webhook")
	return request.PostJSON(ctx, http.DefaultClient, conf.Notification.Webhook.Url, conf.Notification.Webhook.Headers, payload, nil)
}
