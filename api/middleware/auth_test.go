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
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/blnkfinance/churnguard/config"
)

func secureConfig() *config.Configuration {
	return &config.Configuration{
		Redis: config.RedisConfig{Dns: "localhost:6379"},
		Server: config.ServerConfig{
			Secure:    true,
			SecretKey: "master-key",
			APIKeys: []config.APIKey{
				{Name: "dashboard", Key: "read-only", Scopes: []string{"analytics:read", "escalations:read"}},
				{Name: "crm", Key: "crm-key", Scopes: []string{"escalations:*", "interventions:write"}},
				{Name: "old", Key: "expired-key", Scopes: []string{"*:*"}, ExpiresAt: time.Now().Add(-time.Hour)},
			},
		},
	}
}

func authRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Authenticate())
	ok := func(c *gin.Context) { c.Status(http.StatusOK) }
	r.GET("/analytics", ok)
	r.GET("/escalations/:id", ok)
	r.PUT("/escalations/:id/resolve", ok)
	r.POST("/interventions", ok)
	r.DELETE("/providers/:id", ok)
	r.GET("/unknown", ok)
	return r
}

func TestAuthenticate(t *testing.T) {
	config.MockConfig(secureConfig())
	router := authRouter()

	tests := []struct {
		name   string
		method string
		path   string
		key    string
		want   int
	}{
		{"missing key", http.MethodGet, "/analytics", "", http.StatusUnauthorized},
		{"invalid key", http.MethodGet, "/analytics", "nope", http.StatusUnauthorized},
		{"master key", http.MethodDelete, "/providers/prv_1", "master-key", http.StatusOK},
		{"scoped read", http.MethodGet, "/analytics", "read-only", http.StatusOK},
		{"scoped write denied", http.MethodPut, "/escalations/esc_1/resolve", "read-only", http.StatusForbidden},
		{"wildcard action", http.MethodPut, "/escalations/esc_1/resolve", "crm-key", http.StatusOK},
		{"write scope", http.MethodPost, "/interventions", "crm-key", http.StatusOK},
		{"other resource", http.MethodDelete, "/providers/prv_1", "crm-key", http.StatusForbidden},
		{"expired key", http.MethodGet, "/analytics", "expired-key", http.StatusUnauthorized},
		{"unknown resource", http.MethodGet, "/unknown", "read-only", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.key != "" {
				req.Header.Set(KeyHeader, tt.key)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestAuthenticateDisabledOutsideSecureMode(t *testing.T) {
	cnf := secureConfig()
	cnf.Server.Secure = false
	config.MockConfig(cnf)

	w := httptest.NewRecorder()
	authRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/analytics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHasPermission(t *testing.T) {
	assert.True(t, HasPermission([]string{"*:read"}, ResourceOwners, http.MethodGet))
	assert.False(t, HasPermission([]string{"*:read"}, ResourceOwners, http.MethodPost))
	assert.True(t, HasPermission([]string{"owners:delete"}, ResourceOwners, http.MethodDelete))
	assert.False(t, HasPermission([]string{"owners"}, ResourceOwners, http.MethodGet))
	assert.False(t, HasPermission([]string{"*:*"}, ResourceOwners, "TRACE"))
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rps, burst, cleanup := 1.0, 1, 60
	cnf := &config.Configuration{RateLimit: config.RateLimitConfig{RequestsPerSecond: &rps, Burst: &burst, CleanupIntervalSec: &cleanup}}

	r := gin.New()
	r.Use(RateLimitMiddleware(cnf))
	r.GET("/analytics", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/analytics", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, http.StatusOK, codes[0])
	assert.Contains(t, codes, http.StatusTooManyRequests)
}

func TestRateLimitDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimitMiddleware(&config.Configuration{}))
	r.GET("/analytics", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/analytics", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}
