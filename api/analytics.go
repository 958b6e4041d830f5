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
	"github.com/blnkfinance/churnguard/model"
)

func (a Api) window(c *gin.Context) (model.TimeWindow, bool) {
	window, err := apimodel.ParseWindow(c.Query("from"), c.Query("to"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return window, false
	}
	return window, true
}

func (a Api) GetAnalytics(c *gin.Context) {
	window, ok := a.window(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, a.guard.GetAnalytics(c.Request.Context(), window))
}

// GetLatestAnalytics serves the last scheduled snapshot, computing one on
// demand before the first refresh.
func (a Api) GetLatestAnalytics(c *gin.Context) {
	snapshot, ok := a.guard.LatestAnalytics(c.Request.Context())
	if !ok {
		snapshot = a.guard.GetAnalytics(c.Request.Context(), model.TimeWindow{})
	}
	c.JSON(http.StatusOK, snapshot)
}

func (a Api) GetBusinessImpact(c *gin.Context) {
	window, ok := a.window(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, a.guard.GetBusinessImpactReport(c.Request.Context(), window))
}

func (a Api) GetPreventionMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, a.guard.GetPreventionMetrics())
}
