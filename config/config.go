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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5005"
)

var ConfigStore atomic.Value

// APIKey is a scoped key accepted alongside the master secret key.
// Scopes take the form resource:action, e.g. "escalations:write".
type APIKey struct {
	Name      string    `json:"name"`
	Key       string    `json:"key"`
	Scopes    []string  `json:"scopes"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ServerConfig struct {
	SSL       bool     `json:"ssl" envconfig:"CHURNGUARD_SERVER_SSL"`
	Secure    bool     `json:"secure" envconfig:"CHURNGUARD_SERVER_SECURE"`
	SecretKey string   `json:"secret_key" envconfig:"CHURNGUARD_SERVER_SECRET_KEY"`
	Domain    string   `json:"domain" envconfig:"CHURNGUARD_SERVER_SSL_DOMAIN"`
	Email     string   `json:"ssl_email" envconfig:"CHURNGUARD_SERVER_SSL_EMAIL"`
	Port      string   `json:"port" envconfig:"CHURNGUARD_SERVER_PORT"`
	APIKeys   []APIKey `json:"api_keys"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"CHURNGUARD_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"CHURNGUARD_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"CHURNGUARD_REDIS_SKIP_TLS_VERIFY"`
}

type KafkaConfig struct {
	Brokers []string `json:"brokers" envconfig:"CHURNGUARD_KAFKA_BROKERS"`
	Topic   string   `json:"topic" envconfig:"CHURNGUARD_KAFKA_TOPIC"`
}

type ScoringConfig struct {
	Url           string `json:"url" envconfig:"CHURNGUARD_SCORING_URL"`
	ApiKey        string `json:"api_key" envconfig:"CHURNGUARD_SCORING_API_KEY"`
	TimeoutSec    int    `json:"timeout_sec" envconfig:"CHURNGUARD_SCORING_TIMEOUT_SEC"`
	MaxElapsedSec int    `json:"max_elapsed_sec" envconfig:"CHURNGUARD_SCORING_MAX_ELAPSED_SEC"`
}

type QueueConfig struct {
	WebhookQueue   string `json:"webhook_queue" envconfig:"CHURNGUARD_QUEUE_WEBHOOK"`
	MonitoringPort string `json:"monitoring_port" envconfig:"CHURNGUARD_QUEUE_MONITORING_PORT"`
	WorkerCount    int    `json:"worker_count" envconfig:"CHURNGUARD_QUEUE_WORKER_COUNT"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"CHURNGUARD_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"CHURNGUARD_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"CHURNGUARD_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"CHURNGUARD_SLACK_WEBHOOK_URL"`
}

type WebhookConfig struct {
	Url     string            `json:"url" envconfig:"CHURNGUARD_WEBHOOK_URL"`
	Headers map[string]string `json:"headers"`
}

type Notification struct {
	Slack   SlackWebhook  `json:"slack"`
	Webhook WebhookConfig `json:"webhook"`
}

type OtelConfig struct {
	ServiceName      string `json:"service_name" envconfig:"CHURNGUARD_OTEL_SERVICE_NAME"`
	ExporterProtocol string `json:"exporter_protocol"`
	ExporterEndpoint string `json:"exporter_endpoint"`
	ExporterHeaders  string `json:"exporter_headers"`
}

// InterventionConfig holds the tunables of the prevention pipeline.
type InterventionConfig struct {
	FreshnessWindowSec      int     `json:"freshness_window_sec" envconfig:"CHURNGUARD_FRESHNESS_WINDOW_SEC"`
	QueueCapacity           int     `json:"queue_capacity" envconfig:"CHURNGUARD_QUEUE_CAPACITY"`
	AvgDealValue            float64 `json:"avg_deal_value" envconfig:"CHURNGUARD_AVG_DEAL_VALUE"`
	CostPerIntervention     float64 `json:"cost_per_intervention" envconfig:"CHURNGUARD_COST_PER_INTERVENTION"`
	BaselineChurnRate       float64 `json:"baseline_churn_rate" envconfig:"CHURNGUARD_BASELINE_CHURN_RATE"`
	TargetChurnRate         float64 `json:"target_churn_rate" envconfig:"CHURNGUARD_TARGET_CHURN_RATE"`
	HistoryCapacity         int     `json:"history_capacity" envconfig:"CHURNGUARD_HISTORY_CAPACITY"`
	RetentionDays           int     `json:"retention_days" envconfig:"CHURNGUARD_RETENTION_DAYS"`
	EscalationCooldownHours int     `json:"escalation_cooldown_hours" envconfig:"CHURNGUARD_ESCALATION_COOLDOWN_HOURS"`
	EscalationHistoryLimit  int     `json:"escalation_history_limit"`
	TrackingCacheTTLSec     int     `json:"tracking_cache_ttl_sec"`
	MaxWorkers              int     `json:"max_workers" envconfig:"CHURNGUARD_MAX_WORKERS"`
	DefaultOwner            string  `json:"default_owner" envconfig:"CHURNGUARD_DEFAULT_OWNER"`
	RecommendationRulesFile string  `json:"recommendation_rules_file" envconfig:"CHURNGUARD_RECOMMENDATION_RULES_FILE"`
}

type ScheduleConfig struct {
	MonitorIntervalSec   int `json:"monitor_interval_sec" envconfig:"CHURNGUARD_MONITOR_INTERVAL_SEC"`
	AnalyticsIntervalSec int `json:"analytics_interval_sec" envconfig:"CHURNGUARD_ANALYTICS_INTERVAL_SEC"`
	CleanupIntervalSec   int `json:"cleanup_interval_sec" envconfig:"CHURNGUARD_CLEANUP_INTERVAL_SEC"`
}

type Configuration struct {
	ProjectName     string             `json:"project_name" envconfig:"CHURNGUARD_PROJECT_NAME"`
	EnableTelemetry bool               `json:"enable_telemetry" envconfig:"CHURNGUARD_ENABLE_TELEMETRY"`
	PostHogKey      string             `json:"posthog_key" envconfig:"CHURNGUARD_POSTHOG_KEY"`
	Server          ServerConfig       `json:"server"`
	DataSource      DataSourceConfig   `json:"data_source"`
	Redis           RedisConfig        `json:"redis"`
	Kafka           KafkaConfig        `json:"kafka"`
	Scoring         ScoringConfig      `json:"scoring"`
	Queue           QueueConfig        `json:"queue"`
	Notification    Notification       `json:"notification"`
	RateLimit       RateLimitConfig    `json:"rate_limit"`
	Otel            OtelConfig         `json:"otel"`
	Intervention    InterventionConfig `json:"intervention"`
	Schedule        ScheduleConfig     `json:"schedule"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("churnguard", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return nil
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called churnguard.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "ChurnGuard"
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Warning: Data source DNS is empty. Intervention history will not be persisted.")
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "churnguard_webhooks"
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5006"
	}
	if cnf.Queue.WorkerCount <= 0 {
		cnf.Queue.WorkerCount = 5
	}
	if cnf.Kafka.Topic == "" {
		cnf.Kafka.Topic = "churnguard.events"
	}
	if cnf.Scoring.TimeoutSec <= 0 {
		cnf.Scoring.TimeoutSec = 5
	}
	if cnf.Scoring.MaxElapsedSec <= 0 {
		cnf.Scoring.MaxElapsedSec = 10
	}
	if cnf.Otel.ServiceName == "" {
		cnf.Otel.ServiceName = "CHURNGUARD"
	}

	cnf.Intervention.applyDefaults()
	cnf.Schedule.applyDefaults()
	return cnf.Intervention.validate()
}

func (ic *InterventionConfig) applyDefaults() {
	if ic.FreshnessWindowSec <= 0 {
		ic.FreshnessWindowSec = 300
	}
	if ic.QueueCapacity <= 0 {
		ic.QueueCapacity = 10000
	}
	if ic.AvgDealValue <= 0 {
		ic.AvgDealValue = 50000
	}
	if ic.CostPerIntervention <= 0 {
		ic.CostPerIntervention = 50
	}
	if ic.BaselineChurnRate <= 0 {
		ic.BaselineChurnRate = 0.35
	}
	if ic.TargetChurnRate <= 0 {
		ic.TargetChurnRate = 0.20
	}
	if ic.HistoryCapacity <= 0 {
		ic.HistoryCapacity = 100000
	}
	if ic.RetentionDays <= 0 {
		ic.RetentionDays = 90
	}
	if ic.EscalationCooldownHours <= 0 {
		ic.EscalationCooldownHours = 24
	}
	if ic.EscalationHistoryLimit <= 0 {
		ic.EscalationHistoryLimit = 10
	}
	if ic.TrackingCacheTTLSec <= 0 {
		ic.TrackingCacheTTLSec = 3600
	}
	if ic.MaxWorkers <= 0 {
		ic.MaxWorkers = 10
	}
	if ic.DefaultOwner == "" {
		ic.DefaultOwner = "unassigned"
	}
}

func (ic *InterventionConfig) validate() error {
	if ic.BaselineChurnRate > 1 || ic.TargetChurnRate > 1 {
		return errors.New("churn rates must be expressed as fractions between 0 and 1")
	}
	return nil
}

func (sc *ScheduleConfig) applyDefaults() {
	if sc.MonitorIntervalSec <= 0 {
		sc.MonitorIntervalSec = 300
	}
	if sc.AnalyticsIntervalSec <= 0 {
		sc.AnalyticsIntervalSec = 900
	}
	if sc.CleanupIntervalSec <= 0 {
		sc.CleanupIntervalSec = 3600
	}
}

// FreshnessWindow is how long a cached assessment is served before re-scoring.
func (ic InterventionConfig) FreshnessWindow() time.Duration {
	return time.Duration(ic.FreshnessWindowSec) * time.Second
}

// EscalationCooldown is the per-lead minimum gap between escalations.
func (ic InterventionConfig) EscalationCooldown() time.Duration {
	return time.Duration(ic.EscalationCooldownHours) * time.Hour
}

// RetentionWindow is how long completed interventions are kept.
func (ic InterventionConfig) RetentionWindow() time.Duration {
	return time.Duration(ic.RetentionDays) * 24 * time.Hour
}

// TrackingCacheTTL is the TTL of cached tracking records.
func (ic InterventionConfig) TrackingCacheTTL() time.Duration {
	return time.Duration(ic.TrackingCacheTTLSec) * time.Second
}

// SetOtelExporterEnvs exports the OTLP settings for the OpenTelemetry SDK.
func SetOtelExporterEnvs() error {
	cnf, err := Fetch()
	if err != nil {
		return err
	}
	envs := map[string]string{
		"OTEL_EXPORTER_OTLP_PROTOCOL": cnf.Otel.ExporterProtocol,
		"OTEL_EXPORTER_OTLP_ENDPOINT": cnf.Otel.ExporterEndpoint,
		"OTEL_EXPORTER_OTLP_HEADERS":  cnf.Otel.ExporterHeaders,
	}
	for key, value := range envs {
		if value == "" {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return err
		}
	}
	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

// DefaultConfiguration returns a configuration with every default applied.
// It is meant for tests and embedded use where no file is loaded.
func DefaultConfiguration(redisDns string) *Configuration {
	cnf := &Configuration{Redis: RedisConfig{Dns: redisDns}}
	if err := cnf.validateAndAddDefaults(); err != nil {
		logrus.Warnf("default configuration invalid: %v", err)
	}
	return cnf
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
