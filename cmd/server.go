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
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caddyserver/certmagic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/posthog/posthog-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/blnkfinance/churnguard"
	"github.com/blnkfinance/churnguard/api"
	"github.com/blnkfinance/churnguard/config"
	"github.com/blnkfinance/churnguard/internal/metrics"
	trace "github.com/blnkfinance/churnguard/internal/traces"
)

const heartbeatInterval = 5 * time.Minute

/*
serveTLS starts an HTTPS server whose certificates are managed by CertMagic.
Without a configured domain the certificate is issued for localhost.
*/
func serveTLS(r *gin.Engine, conf config.ServerConfig) error {
	certmagic.DefaultACME.Agreed = true
	certmagic.DefaultACME.Email = conf.Email
	cfg := certmagic.NewDefault()
	cfg.Storage = &certmagic.FileStorage{Path: "certmagic"}

	domains := []string{conf.Domain}
	if conf.Domain == "" {
		logrus.Info("no domain specified, defaulting to localhost")
		domains = []string{"localhost"}
	}

	if err := cfg.ManageSync(context.Background(), domains); err != nil {
		return err
	}

	server := &http.Server{
		Addr:      ":" + conf.Port,
		Handler:   r,
		TLSConfig: cfg.TLSConfig(),
	}

	logrus.Infof("starting HTTPS server on %s", conf.Port)
	if err := server.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("https server: %w", err)
	}
	return nil
}

// sendHeartbeat reports liveness to PostHog until the process exits.
func sendHeartbeat(client posthog.Client, heartbeatID string, guard *churnguard.ChurnGuard) {
	ticker := time.NewTicker(heartbeatInterval)
	go func() {
		for range ticker.C {
			stats := guard.GetPreventionMetrics()
			if err := client.Enqueue(posthog.Capture{
				DistinctId: heartbeatID,
				Event:      "server_heartbeat",
				Properties: map[string]interface{}{
					"timestamp":               time.Now().UTC(),
					"interventions_triggered": stats.InterventionsTriggered,
					"queue_depth":             stats.QueueDepth,
				},
			}); err != nil {
				logrus.Warnf("failed to send heartbeat: %v", err)
			}
		}
	}()
}

func initializeTracing(ctx context.Context, cfg *config.Configuration) (func(context.Context) error, error) {
	if err := config.SetOtelExporterEnvs(); err != nil {
		return nil, fmt.Errorf("error exporting OTel settings: %v", err)
	}
	name := cfg.Otel.ServiceName
	if name == "" {
		name = cfg.ProjectName
	}
	shutdown, err := trace.SetupOTelSDK(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("error setting up OTel SDK: %v", err)
	}
	return shutdown, nil
}

func initializePostHog(guard *churnguard.ChurnGuard) (posthog.Client, error) {
	client, err := posthog.NewWithConfig("phc_XbsHF5iBSnPiTA96gl7xygazrwBa0r2Ut4vEHoBHNiG",
		posthog.Config{Endpoint: "https://us.i.posthog.com"})
	if err != nil {
		return nil, err
	}
	sendHeartbeat(client, uuid.New().String(), guard)
	return client, nil
}

// initializeObservability sets up tracing and the heartbeat when telemetry is
// enabled. The returned shutdown func is never nil.
func initializeObservability(ctx context.Context, cfg *config.Configuration, guard *churnguard.ChurnGuard) (posthog.Client, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if !cfg.EnableTelemetry {
		return nil, noop, nil
	}

	shutdown, err := initializeTracing(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	phClient, err := initializePostHog(guard)
	if err != nil {
		logrus.Warnf("posthog disabled: %v", err)
		return nil, shutdown, nil
	}
	return phClient, shutdown, nil
}

func startServer(router *gin.Engine, cfg config.ServerConfig) error {
	if cfg.SSL {
		return serveTLS(router, cfg)
	}
	logrus.Infof("starting server on http://localhost:%s", cfg.Port)
	return router.Run(":" + cfg.Port)
}

/*
serverCommands returns the start command. It restores persisted interventions,
starts the monitoring scheduler and then serves the API until interrupted.
*/
func serverCommands(app *churnguardInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start churnguard server",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			services := app.services
			defer func() {
				if err := services.Close(); err != nil {
					logrus.Errorf("error closing services: %v", err)
				}
			}()

			phClient, shutdown, err := initializeObservability(ctx, app.cnf, services.Guard)
			if err != nil {
				logrus.Fatal(err)
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logrus.Errorf("error during shutdown: %v", err)
				}
			}()
			if phClient != nil {
				defer phClient.Close()
			}

			if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
				logrus.Warnf("metrics registration: %v", err)
			}

			restored, err := services.Guard.Restore(ctx)
			if err != nil {
				logrus.Errorf("restoring interventions: %v", err)
			} else if restored > 0 {
				logrus.Infof("restored %d interventions", restored)
			}

			scheduler := churnguard.NewScheduler(services.Guard, app.cnf.Schedule, services.Redis)
			scheduler.Start(ctx)
			defer scheduler.Stop()

			router := api.NewAPI(services.Guard, services.Registry, services.Router).Router()
			errCh := make(chan error, 1)
			go func() {
				errCh <- startServer(router, app.cnf.Server)
			}()

			select {
			case <-ctx.Done():
				logrus.Info("shutting down")
			case err := <-errCh:
				if err != nil {
					logrus.Error(err)
				}
			}
		},
	}

	return cmd
}
