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
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apimodel "github.com/blnkfinance/churnguard/api/model"
	"github.com/blnkfinance/churnguard/internal/delivery"
	"github.com/blnkfinance/churnguard/model"
)

func toProvider(req apimodel.Provider) *delivery.Provider {
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	return &delivery.Provider{
		Name:       req.Name,
		Channel:    req.Channel,
		URL:        req.URL,
		APIKey:     req.APIKey,
		Active:     active,
		Priority:   req.Priority,
		Timeout:    req.Timeout,
		RetryCount: req.RetryCount,
	}
}

func bindProvider(c *gin.Context) (apimodel.Provider, bool) {
	var req apimodel.Provider
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return req, false
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return req, false
	}
	return req, true
}

func providerError(c *gin.Context, err error) {
	if errors.Is(err, delivery.ErrProviderNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func (a Api) CreateProvider(c *gin.Context) {
	req, ok := bindProvider(c)
	if !ok {
		return
	}
	provider := toProvider(req)
	if err := a.registry.RegisterProvider(c.Request.Context(), provider); err != nil {
		providerError(c, err)
		return
	}
	c.JSON(http.StatusCreated, provider)
}

func (a Api) GetProvider(c *gin.Context) {
	provider, err := a.registry.GetProvider(c.Request.Context(), c.Param("id"))
	if err != nil {
		providerError(c, err)
		return
	}
	c.JSON(http.StatusOK, provider)
}

// GetProviders lists the providers of one channel, or of every channel
// when none is given.
func (a Api) GetProviders(c *gin.Context) {
	channels := []model.Channel{model.Channel(c.Query("channel"))}
	if channels[0] == "" {
		channels = []model.Channel{
			model.ChannelEmail, model.ChannelSMS, model.ChannelPhone,
			model.ChannelInApp, model.ChannelWorkflow, model.ChannelHumanAssignment,
		}
	}

	providers := make([]*delivery.Provider, 0)
	for _, channel := range channels {
		list, err := a.registry.ListProviders(c.Request.Context(), channel)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		providers = append(providers, list...)
	}
	c.JSON(http.StatusOK, providers)
}

func (a Api) UpdateProvider(c *gin.Context) {
	req, ok := bindProvider(c)
	if !ok {
		return
	}
	provider := toProvider(req)
	if err := a.registry.UpdateProvider(c.Request.Context(), c.Param("id"), provider); err != nil {
		providerError(c, err)
		return
	}
	c.JSON(http.StatusOK, provider)
}

func (a Api) DeleteProvider(c *gin.Context) {
	if err := a.registry.DeleteProvider(c.Request.Context(), c.Param("id")); err != nil {
		providerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Provider deleted successfully"})
}

// AddOwner puts an owner in a tenant's escalation pool, optionally as the
// on-call owner for critical escalations.
func (a Api) AddOwner(c *gin.Context) {
	var req apimodel.Owner
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if err := a.owners.AddOwner(ctx, req.TenantID, req.Owner); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if req.OnCall {
		if err := a.owners.SetOnCall(ctx, req.TenantID, req.Owner); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusCreated, req)
}

func (a Api) RemoveOwner(c *gin.Context) {
	if err := a.owners.RemoveOwner(c.Request.Context(), c.Param("tenant_id"), c.Param("owner")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Owner removed"})
}

func (a Api) AssignLead(c *gin.Context) {
	var req apimodel.Assignment
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := a.owners.Assign(c.Request.Context(), req.TenantID, req.LeadID, req.Owner); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, req)
}
