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

// AssessRisk scores a lead. A scorer outage still answers 200 with a
// degraded assessment.
func (a Api) AssessRisk(c *gin.Context) {
	var req apimodel.LeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	assessment := a.guard.AssessRisk(c.Request.Context(), req.LeadID, req.TenantID, req.ForceRefresh)
	c.JSON(http.StatusOK, assessment)
}

func (a Api) GetLatestAssessment(c *gin.Context) {
	tenantID, leadID := c.Param("tenant_id"), c.Param("lead_id")
	assessment := a.guard.LatestAssessment(c.Request.Context(), tenantID, leadID)
	if assessment == nil {
		respondError(c, apierror.NotFound("assessment", leadID))
		return
	}
	c.JSON(http.StatusOK, assessment)
}

func respondError(c *gin.Context, err error) {
	c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
}
