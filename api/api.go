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

package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/blnkfinance/churnguard"
	"github.com/blnkfinance/churnguard/api/middleware"
	"github.com/blnkfinance/churnguard/config"
	"github.com/blnkfinance/churnguard/internal/delivery"
)

// OwnerAdmin manages who escalations are routed to.
type OwnerAdmin interface {
	AddOwner(ctx context.Context, tenantID, owner string) error
	RemoveOwner(ctx context.Context, tenantID, owner string) error
	SetOnCall(ctx context.Context, tenantID, owner string) error
	Assign(ctx context.Context, tenantID, leadID, owner string) error
}

type Api struct {
	guard    *churnguard.ChurnGuard
	registry delivery.Registry
	owners   OwnerAdmin
	router   *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router

	router.POST("/assessments", a.AssessRisk)
	router.GET("/assessments/:tenant_id/:lead_id", a.GetLatestAssessment)

	router.POST("/interventions", a.TriggerIntervention)
	router.POST("/interventions/track", a.StartTracking)
	router.GET("/interventions/:id", a.GetIntervention)
	router.PUT("/interventions/:id/delivery", a.RecordDelivery)
	router.POST("/interventions/:id/engagements", a.RecordEngagement)
	router.PUT("/interventions/:id/outcome", a.RecordOutcome)

	router.POST("/escalations", a.CreateEscalation)
	router.GET("/escalations/:id", a.GetEscalation)
	router.PUT("/escalations/:id/acknowledge", a.AcknowledgeEscalation)
	router.PUT("/escalations/:id/resolve", a.ResolveEscalation)

	router.GET("/analytics", a.GetAnalytics)
	router.GET("/analytics/latest", a.GetLatestAnalytics)
	router.GET("/analytics/business-impact", a.GetBusinessImpact)
	router.GET("/analytics/prevention", a.GetPreventionMetrics)

	router.POST("/monitored-leads", a.MonitorLead)
	router.GET("/monitored-leads", a.GetMonitoredLeads)
	router.DELETE("/monitored-leads/:tenant_id/:lead_id", a.UnmonitorLead)

	if a.registry != nil {
		router.POST("/providers", a.CreateProvider)
		router.GET("/providers", a.GetProviders)
		router.GET("/providers/:id", a.GetProvider)
		router.PUT("/providers/:id", a.UpdateProvider)
		router.DELETE("/providers/:id", a.DeleteProvider)
	}

	if a.owners != nil {
		router.POST("/owners", a.AddOwner)
		router.DELETE("/owners/:tenant_id/:owner", a.RemoveOwner)
		router.POST("/assignments", a.AssignLead)
	}
	return a.router
}

// NewAPI builds the HTTP surface over a guard. registry and owners are
// optional; their admin routes are only mounted when set.
func NewAPI(guard *churnguard.ChurnGuard, registry delivery.Registry, owners OwnerAdmin) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.New()
	r.Use(gin.Recovery())
	if conf.EnableTelemetry {
		r.Use(otelgin.Middleware(conf.ProjectName))
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})
	r.GET("/health", func(c *gin.Context) {
		m := guard.GetPreventionMetrics()
		c.JSON(http.StatusOK, gin.H{"status": "ok", "queue_depth": m.QueueDepth, "active_interventions": m.ActiveInterventions})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(middleware.RateLimitMiddleware(conf))
	r.Use(middleware.Authenticate())

	return &Api{guard: guard, registry: registry, owners: owners, router: r}
}
