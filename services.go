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

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/blnkfinance/churnguard/config"
	"github.com/blnkfinance/churnguard/database"
	"github.com/blnkfinance/churnguard/internal/broadcast"
	"github.com/blnkfinance/churnguard/internal/cache"
	"github.com/blnkfinance/churnguard/internal/delivery"
	redlock "github.com/blnkfinance/churnguard/internal/lock"
	"github.com/blnkfinance/churnguard/internal/notification"
	redis_db "github.com/blnkfinance/churnguard/internal/redis-db"
	"github.com/blnkfinance/churnguard/internal/routing"
	"github.com/blnkfinance/churnguard/internal/scoring"
)

// Services is a ChurnGuard wired to its production collaborators, plus the
// adapters the API layer administers directly.
type Services struct {
	Guard    *ChurnGuard
	Redis    redis.UniversalClient
	Registry delivery.Registry
	Router   *routing.RedisRouter
	closers  []func() error
}

// NewServices connects to Redis and builds the engine from configuration.
// db may be nil, in which case nothing is persisted.
func NewServices(cnf *config.Configuration, db database.IDataSource) (*Services, error) {
	redisClient, err := redis_db.NewRedisClient([]string{cnf.Redis.Dns}, cnf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	client := redisClient.Client()
	s := &Services{Redis: client, closers: []func() error{redisClient.Close}}

	scorer, err := scoring.NewHTTPScorerFromConfig(cnf)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	publishers := broadcast.MultiPublisher{
		broadcast.LogPublisher{},
		broadcast.NewRedisPublisher(client, "churnguard:events:"),
	}
	if len(cnf.Kafka.Brokers) > 0 {
		kafka := broadcast.NewKafkaPublisher(cnf.Kafka.Brokers, cnf.Kafka.Topic)
		publishers = append(publishers, kafka)
		s.closers = append(s.closers, kafka.Close)
	}
	if cnf.Notification.Webhook.Url != "" {
		opts, err := redis_db.ParseRedisURL(cnf.Redis.Dns, cnf.Redis.SkipTLSVerify)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: opts.Addr, Password: opts.Password, DB: opts.DB, TLSConfig: opts.TLSConfig})
		s.closers = append(s.closers, asynqClient.Close)
		webhooks := broadcast.NewWebhookPublisher(asynqClient, cnf.Queue.WebhookQueue)
		publishers = append(publishers, webhooks)
		notification.RegisterWebhookSender(func(event string, payload interface{}) error {
			return webhooks.Send(context.Background(), event, payload)
		})
	}

	s.Registry = delivery.NewRegistry(client)
	s.Router = routing.NewRedisRouter(client, cnf.Intervention.DefaultOwner)

	guard, err := NewChurnGuard(cnf, Dependencies{
		Scorer:    scorer,
		Sender:    delivery.NewHTTPSender(s.Registry),
		Publisher: publishers,
		Router:    s.Router,
		Cache:     cache.NewRedisCache(client),
		Cooldown:  redlock.NewRedisCooldown(client, "churnguard:escalation:cooldown:"),
		Store:     db,
	})
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.Guard = guard
	return s, nil
}

// Close releases every connection opened by NewServices.
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
