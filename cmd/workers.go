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

package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.elastic.co/apm/module/apmlogrus/v2"

	"github.com/blnkfinance/churnguard/config"
	"github.com/blnkfinance/churnguard/internal/broadcast"
	redis_db "github.com/blnkfinance/churnguard/internal/redis-db"
)

func init() {
	logrus.AddHook(&apmlogrus.Hook{})
}

func redisClientOpt(conf *config.Configuration) (asynq.RedisClientOpt, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return asynq.RedisClientOpt{}, fmt.Errorf("error parsing Redis URL: %v", err)
	}
	return asynq.RedisClientOpt{
		Addr:      redisOption.Addr,
		Password:  redisOption.Password,
		DB:        redisOption.DB,
		TLSConfig: redisOption.TLSConfig,
	}, nil
}

func initializeWorkerServer(conf *config.Configuration) (*asynq.Server, error) {
	opt, err := redisClientOpt(conf)
	if err != nil {
		return nil, err
	}

	return asynq.NewServer(opt, asynq.Config{
		Concurrency: conf.Queue.WorkerCount,
		Queues:      map[string]int{conf.Queue.WebhookQueue: 1},
	}), nil
}

// startMonitoring serves the asynqmon dashboard under /monitoring.
func startMonitoring(conf *config.Configuration, opt asynq.RedisClientOpt) {
	h := asynqmon.New(asynqmon.Options{
		RootPath:     "/monitoring",
		RedisConnOpt: opt,
	})

	go func() {
		addr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
		logrus.Infof("asynqmon listening on %s/monitoring", addr)
		if err := http.ListenAndServe(addr, h); err != nil {
			logrus.Fatalf("could not start asynqmon server: %v", err)
		}
	}()
}

// workerCommands defines the workers command, which drains the outbound
// webhook queue fed by the escalation and intervention events.
func workerCommands(app *churnguardInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start churnguard workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			conf := app.cnf

			phClient, shutdown, err := initializeObservability(ctx, conf, app.services.Guard)
			if err != nil {
				logrus.Fatal(err)
			}
			defer func() {
				if err := shutdown(ctx); err != nil {
					logrus.Errorf("error during shutdown: %v", err)
				}
			}()
			if phClient != nil {
				defer phClient.Close()
			}

			srv, err := initializeWorkerServer(conf)
			if err != nil {
				logrus.Fatal(err)
			}

			mux := asynq.NewServeMux()
			mux.HandleFunc(broadcast.TypeWebhookDelivery, broadcast.ProcessWebhook)

			opt, _ := redisClientOpt(conf)
			startMonitoring(conf, opt)

			if err := srv.Run(mux); err != nil {
				logrus.Fatalf("could not run worker server: %v", err)
			}
		},
	}

	return cmd
}
