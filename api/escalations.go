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
	"net/http"

	"github.com/gin-gonic/gin"

	apimodel "github.com/blnkfinance/churnguard/api/model"
	"github.com/blnkfinance/churnguard/internal/apierror"
)

// CreateEscalation answers 409 with the blocked result when the lead is
// still inside its escalation cooldown.
func (a Api) CreateEscalation(c *gin.Context) {
	var req apimodel.CreateEscalation
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	result := a.guard.Escalate(c.Request.Context(), req.ToEscalationRequest())
	if result.Blocked() {
		c.JSON(http.StatusConflict, result)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (a Api) GetEscalation(c *gin.Context) {
	id := c.Param("id")
	escalation, ok := a.guard.GetEscalation(c.Request.Context(), id)
	if !ok {
		respondError(c, apierror.NotFound("escalation", id))
		return
	}
	c.JSON(http.StatusOK, escalation)
}

func (a Api) AcknowledgeEscalation(c *gin.Context) {
	id := c.Param("id")
	escalation, ok := a.guard.AcknowledgeEscalation(c.Request.Context(), id)
	if !ok {
		a.escalationConflict(c, id, "is not pending")
		return
	}
	c.JSON(http.StatusOK, escalation)
}

func (a Api) ResolveEscalation(c *gin.Context) {
	id := c.Param("id")
	var req apimodel.ResolveEscalation
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	escalation, ok := a.guard.ResolveEscalation(c.Request.Context(), id, req.Resolution)
	if !ok {
		a.escalationConflict(c, id, "is not open")
		return
	}
	c.JSON(http.StatusOK, escalation)
}

// escalationConflict tells an unknown escalation apart from one in the
// wrong state for the transition.
func (a Api) escalationConflict(c *gin.Context, id, reason string) {
	if _, exists := a.guard.GetEscalation(c.Request.Context(), id); !exists {
		respondError(c, apierror.NotFound("escalation", id))
		return
	}
	respondError(c, apierror.NewAPIError(apierror.ErrConflict, "escalation "+id+" "+reason, nil))
}
