package config

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAndAddDefaults(t *testing.T) {
	cnf := Configuration{
		Redis: RedisConfig{Dns: ""},
	}
	err := cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "redis DNS is required" {
		t.Errorf("Expected redis DNS required error, got %v", err)
	}

	cnf = Configuration{
		ProjectName: "Test Project",
		Redis:       RedisConfig{Dns: "localhost:6379"},
	}
	err = cnf.validateAndAddDefaults()
	assert.NoError(t, err)
	assert.Equal(t, DEFAULT_PORT, cnf.Server.Port)
	assert.Equal(t, "churnguard_webhooks", cnf.Queue.WebhookQueue)
	assert.NotNil(t, cnf.RateLimit.CleanupIntervalSec)
}

func TestInterventionDefaults(t *testing.T) {
	cnf := DefaultConfiguration("localhost:6379")

	assert.Equal(t, 300, cnf.Intervention.FreshnessWindowSec)
	assert.Equal(t, 5*time.Minute, cnf.Intervention.FreshnessWindow())
	assert.Equal(t, 10000, cnf.Intervention.QueueCapacity)
	assert.Equal(t, 50000.0, cnf.Intervention.AvgDealValue)
	assert.Equal(t, 0.35, cnf.Intervention.BaselineChurnRate)
	assert.Equal(t, 0.20, cnf.Intervention.TargetChurnRate)
	assert.Equal(t, 100000, cnf.Intervention.HistoryCapacity)
	assert.Equal(t, 24*time.Hour, cnf.Intervention.EscalationCooldown())
	assert.Equal(t, 10, cnf.Intervention.EscalationHistoryLimit)
	assert.Equal(t, time.Hour, cnf.Intervention.TrackingCacheTTL())
	assert.Equal(t, 300, cnf.Schedule.MonitorIntervalSec)
}

func TestInvalidChurnRates(t *testing.T) {
	cnf := Configuration{
		Redis:        RedisConfig{Dns: "localhost:6379"},
		Intervention: InterventionConfig{BaselineChurnRate: 35},
	}
	assert.Error(t, cnf.validateAndAddDefaults())
}

func TestRateLimitDefaults(t *testing.T) {
	rps := 10.0
	cnf := Configuration{
		Redis:     RedisConfig{Dns: "localhost:6379"},
		RateLimit: RateLimitConfig{RequestsPerSecond: &rps},
	}
	require.NoError(t, cnf.validateAndAddDefaults())
	require.NotNil(t, cnf.RateLimit.Burst)
	assert.Equal(t, 20, *cnf.RateLimit.Burst)
}

func TestLoadConfigFromFile(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "churnguard.json")
	if err != nil {
		t.Fatalf("Unable to create temporary file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	sampleConfig := Configuration{
		ProjectName: "Temp Project",
		DataSource:  DataSourceConfig{Dns: "temp-dns"},
		Redis:       RedisConfig{Dns: "temp-redis"},
		Intervention: InterventionConfig{
			AvgDealValue: 75000,
		},
	}
	if err := json.NewEncoder(tmpFile).Encode(sampleConfig); err != nil {
		t.Fatalf("Unable to write to temporary file: %v", err)
	}
	tmpFile.Close()

	os.Setenv("CHURNGUARD_PROJECT_NAME", "Env Project")
	defer os.Unsetenv("CHURNGUARD_PROJECT_NAME")

	if err := loadConfigFromFile(tmpFile.Name()); err != nil {
		t.Fatalf("loadConfigFromFile failed: %v", err)
	}

	loadedConfig, err := Fetch()
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	assert.Equal(t, "Env Project", loadedConfig.ProjectName)
	assert.Equal(t, "temp-dns", loadedConfig.DataSource.Dns)
	assert.Equal(t, 75000.0, loadedConfig.Intervention.AvgDealValue)
	assert.Equal(t, 0.35, loadedConfig.Intervention.BaselineChurnRate)
}

func TestInitConfigWithoutFileUsesEnv(t *testing.T) {
	os.Setenv("CHURNGUARD_REDIS_DNS", "localhost:6379")
	defer os.Unsetenv("CHURNGUARD_REDIS_DNS")

	require.NoError(t, InitConfig("does-not-exist.json"))
	loadedConfig, err := Fetch()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", loadedConfig.Redis.Dns)
}

func TestSetOtelExporterEnvs(t *testing.T) {
	MockConfig(&Configuration{
		Otel: OtelConfig{
			ExporterProtocol: "http/protobuf",
			ExporterEndpoint: "localhost:4318",
			ExporterHeaders:  "api-key=12345",
		},
	})
	defer func() {
		os.Unsetenv("OTEL_EXPORTER_OTLP_PROTOCOL")
		os.Unsetenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		os.Unsetenv("OTEL_EXPORTER_OTLP_HEADERS")
	}()

	require.NoError(t, SetOtelExporterEnvs())
	assert.Equal(t, "http/protobuf", os.Getenv("OTEL_EXPORTER_OTLP_PROTOCOL"))
	assert.Equal(t, "localhost:4318", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	assert.Equal(t, "api-key=12345", os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
}
