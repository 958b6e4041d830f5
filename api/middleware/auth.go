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

package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/blnkfinance/churnguard/config"
)

const KeyHeader = "X-Churnguard-Key"

var pathToResource = map[string]Resource{
	"assessments":     ResourceAssessments,
	"interventions":   ResourceInterventions,
	"escalations":     ResourceEscalations,
	"analytics":       ResourceAnalytics,
	"monitored-leads": ResourceLeads,
	"providers":       ResourceProviders,
	"owners":          ResourceOwners,
	"assignments":     ResourceOwners,
}

func getResourceFromPath(path string) Resource {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(parts) == 0 {
		return ""
	}
	return pathToResource[parts[0]]
}

// Authenticate accepts the master secret key or one of the configured
// scoped keys on the X-Churnguard-Key header. It is a no-op unless the
// server runs in secure mode.
func Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		conf, err := config.Fetch()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "configuration not loaded"})
			return
		}
		if !conf.Server.Secure {
			c.Next()
			return
		}

		key := c.GetHeader(KeyHeader)
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required. Use " + KeyHeader + " header"})
			return
		}

		if conf.Server.SecretKey != "" && secureCompare(conf.Server.SecretKey, key) {
			c.Set("isMasterKey", true)
			c.Next()
			return
		}

		apiKey := findKey(conf.Server.APIKeys, key)
		if apiKey == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			return
		}
		if !apiKey.ExpiresAt.IsZero() && time.Now().After(apiKey.ExpiresAt) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "API key is expired"})
			return
		}

		resource := getResourceFromPath(c.Request.URL.Path)
		if resource == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Unknown resource type"})
			return
		}
		if !HasPermission(apiKey.Scopes, resource, c.Request.Method) {
			action := methodToAction[c.Request.Method]
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions for " + BuildScope(resource, action)})
			return
		}

		c.Set("apiKey", apiKey.Name)
		c.Next()
	}
}

func findKey(keys []config.APIKey, key string) *config.APIKey {
	for i := range keys {
		if secureCompare(keys[i].Key, key) {
			return &keys[i]
		}
	}
	return nil
}

func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
