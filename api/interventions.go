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
	"time"

	"github.com/gin-gonic/gin"

	apimodel "github.com/blnkfinance/churnguard/api/model"
	"github.com/blnkfinance/churnguard/internal/apierror"
	"github.com/blnkfinance/churnguard/model"
)

func (a Api) TriggerIntervention(c *gin.Context) {
	var req apimodel.LeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	outcome := a.guard.TriggerIntervention(c.Request.Context(), req.ToTriggerRequest())
	if outcome.Reason == model.ReasonNoViableActions {
		c.JSON(http.StatusUnprocessableEntity, outcome)
		return
	}
	c.JSON(http.StatusCreated, outcome)
}

func (a Api) StartTracking(c *gin.Context) {
	var req apimodel.StartTracking
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	action, assessment := req.ToAction()
	trackingID := a.guard.StartTracking(c.Request.Context(), action, assessment)
	c.JSON(http.StatusCreated, gin.H{"tracking_id": trackingID})
}

func (a Api) GetIntervention(c *gin.Context) {
	id := c.Param("id")
	record, ok := a.guard.GetIntervention(c.Request.Context(), id)
	if !ok {
		respondError(c, apierror.NotFound("intervention", id))
		return
	}
	c.JSON(http.StatusOK, record)
}

func (a Api) RecordDelivery(c *gin.Context) {
	id := c.Param("id")
	var req apimodel.RecordDelivery
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if !a.guard.RecordDelivery(c.Request.Context(), id, req.ToResult(time.Now().UTC())) {
		respondError(c, apierror.NotFound("active intervention", id))
		return
	}
	a.respondRecord(c, id)
}

func (a Api) RecordEngagement(c *gin.Context) {
	id := c.Param("id")
	var req apimodel.RecordEngagement
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if !a.guard.RecordEngagement(c.Request.Context(), id, req.EventType, req.Data) {
		respondError(c, apierror.NotFound("active intervention", id))
		return
	}
	a.respondRecord(c, id)
}

func (a Api) RecordOutcome(c *gin.Context) {
	id := c.Param("id")
	var req apimodel.RecordOutcome
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if !a.guard.RecordOutcome(c.Request.Context(), id, req.Outcome, req.Reason) {
		respondError(c, apierror.NotFound("active intervention", id))
		return
	}
	a.respondRecord(c, id)
}

func (a Api) respondRecord(c *gin.Context, id string) {
	record, ok := a.guard.GetIntervention(c.Request.Context(), id)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"tracking_id": id})
		return
	}
	c.JSON(http.StatusOK, record)
}
