package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/khachaneojas/service-scheduler/internal/dispatcher"
)

// Config holds all configuration for the scheduler service.
// Values are loaded from environment variables; see printUsage() for the full list.
type Config struct {
	DatabaseURL        string `json:"database_url"`
	WebsiteDatabaseURL string `json:"website_database_url,omitempty"`
	RedisAddr          string `json:"redis_addr,omitempty"`
	HTTPAddr           string `json:"http_addr"`
	APIToken           string `json:"-"`

	// Transport: "channel" (in-process) or "redis" (Redis Streams).
	Transport          string        `json:"transport"`
	RedisGroup         string        `json:"redis_group"`
	RedisClaimIdle     time.Duration `json:"-"`
	RedisClaimIdleStr  string        `json:"redis_claim_idle"`
	EventBusBufferSize int           `json:"eventbus_buffer_size"`
	ConsumerWorkers    int           `json:"consumer_workers"`

	// Sweep trigger: a five-field cron expression or a descriptor such as "@every 90s".
	SweepSchedule        string        `json:"sweep_schedule"`
	SweepInitialDelay    time.Duration `json:"-"`
	SweepInitialDelayStr string        `json:"sweep_initial_delay"`

	RetryDelay time.Duration `json:"-"`
	RetryLimit int           `json:"retry_limit"`

	// Broker naming. Channels without QUEUE_<CHANNEL>/ROUTING_KEY_<CHANNEL>
	// fall back to "<exchange>.<channel>" and "<channel>".
	Exchange string                                    `json:"exchange"`
	Bindings map[dispatcher.Channel]dispatcher.Binding `json:"-"`

	SMTPHost          string  `json:"smtp_host,omitempty"`
	SMTPPort          int     `json:"smtp_port"`
	SMTPUsername      string  `json:"smtp_username,omitempty"`
	SMTPPassword      string  `json:"-"`
	MailFrom          string  `json:"mail_from,omitempty"`
	MailConcurrency   int     `json:"mail_concurrency"`
	MailRatePerSecond float64 `json:"mail_rate_per_second"`

	StudentServiceURL string        `json:"student_service_url,omitempty"`
	ExamServiceURL    string        `json:"exam_service_url,omitempty"`
	ServiceSecret     string        `json:"-"`
	RemoteTimeout     time.Duration `json:"-"`
	RemoteTimeoutStr  string        `json:"remote_timeout"`

	DownloadLinkBase string `json:"download_link_base,omitempty"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	HTTPShutdownTimeout     time.Duration `json:"-"`
	HTTPShutdownTimeoutStr  string        `json:"http_shutdown_timeout"`
	ConsumerDrainTimeout    time.Duration `json:"-"`
	ConsumerDrainTimeoutStr string        `json:"consumer_drain_timeout"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`

	AnalyticsRetention    time.Duration `json:"-"`
	AnalyticsRetentionStr string        `json:"analytics_retention"`

	ReconcileEnabled     bool          `json:"reconcile_enabled"`
	ReconcileInterval    time.Duration `json:"-"`
	ReconcileIntervalStr string        `json:"reconcile_interval"`

	// ReconcileThreshold should exceed the longest expected handler run.
	ReconcileThreshold    time.Duration `json:"-"`
	ReconcileThresholdStr string        `json:"reconcile_threshold"`

	ReconcileBatchSize int `json:"reconcile_batch_size"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	HeartbeatInterval    time.Duration `json:"-"`
	HeartbeatIntervalStr string        `json:"heartbeat_interval"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		WebsiteDatabaseURL:      os.Getenv("WEBSITE_DATABASE_URL"),
		RedisAddr:               os.Getenv("REDIS_ADDR"),
		HTTPAddr:                os.Getenv("HTTP_ADDR"),
		APIToken:                os.Getenv("API_TOKEN"),
		Transport:               os.Getenv("TRANSPORT"),
		RedisGroup:              os.Getenv("REDIS_GROUP"),
		RedisClaimIdleStr:       os.Getenv("REDIS_CLAIM_IDLE"),
		SweepSchedule:           os.Getenv("SWEEP_SCHEDULE"),
		SweepInitialDelayStr:    os.Getenv("SWEEP_INITIAL_DELAY"),
		Exchange:                os.Getenv("AMQP_EXCHANGE"),
		SMTPHost:                os.Getenv("SMTP_HOST"),
		SMTPUsername:            os.Getenv("SMTP_USERNAME"),
		SMTPPassword:            os.Getenv("SMTP_PASSWORD"),
		MailFrom:                os.Getenv("MAIL_FROM"),
		StudentServiceURL:       os.Getenv("STUDENT_SERVICE_URL"),
		ExamServiceURL:          os.Getenv("EXAM_SERVICE_URL"),
		ServiceSecret:           os.Getenv("SERVICE_SECRET"),
		RemoteTimeoutStr:        os.Getenv("REMOTE_TIMEOUT"),
		DownloadLinkBase:        os.Getenv("DOWNLOAD_LINK_BASE"),
		DBOpTimeoutStr:          os.Getenv("DB_OP_TIMEOUT"),
		DBConnMaxLifetimeStr:    os.Getenv("DB_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTimeStr:    os.Getenv("DB_CONN_MAX_IDLE_TIME"),
		HTTPShutdownTimeoutStr:  os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		ConsumerDrainTimeoutStr: os.Getenv("CONSUMER_DRAIN_TIMEOUT"),
		MetricsEnabled:          os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:             os.Getenv("METRICS_PATH"),
		AnalyticsRetentionStr:   os.Getenv("ANALYTICS_RETENTION"),
		ReconcileEnabled:        os.Getenv("RECONCILE_ENABLED") != "false",
		ReconcileIntervalStr:    os.Getenv("RECONCILE_INTERVAL"),
		ReconcileThresholdStr:   os.Getenv("RECONCILE_THRESHOLD"),
		HeartbeatIntervalStr:    os.Getenv("HEARTBEAT_INTERVAL"),
	}

	cfg.RetryLimit = positiveInt("RETRY_LIMIT", 3)
	cfg.ReconcileBatchSize = positiveInt("RECONCILE_BATCH_SIZE", 100)
	cfg.EventBusBufferSize = positiveInt("EVENTBUS_BUFFER_SIZE", 100)
	cfg.ConsumerWorkers = positiveInt("CONSUMER_WORKERS", 1)
	cfg.MailConcurrency = positiveInt("MAIL_CONCURRENCY", 4)
	cfg.SMTPPort = positiveInt("SMTP_PORT", 587)
	cfg.DBMaxOpenConns = positiveInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = positiveInt("DB_MAX_IDLE_CONNS", 5)

	cfg.RetryDelay = 5 * time.Minute
	if msStr := os.Getenv("RETRY_DELAY_MS"); msStr != "" {
		if ms, err := parseInt(msStr); err == nil {
			cfg.RetryDelay = time.Duration(ms) * time.Millisecond
		} else {
			log.Printf("config: invalid RETRY_DELAY_MS %q (must be a non-negative integer), using default 300000", msStr)
		}
	}

	if rateStr := os.Getenv("MAIL_RATE_PER_SECOND"); rateStr != "" {
		if r, err := strconv.ParseFloat(rateStr, 64); err == nil && r >= 0 {
			cfg.MailRatePerSecond = r
		} else {
			log.Printf("config: invalid MAIL_RATE_PER_SECOND %q, rate limiting disabled", rateStr)
		}
	}

	if cbThreshStr := os.Getenv("CIRCUIT_BREAKER_THRESHOLD"); cbThreshStr != "" {
		if n, err := parseInt(cbThreshStr); err == nil {
			cfg.CircuitBreakerThreshold = n
		} else {
			log.Printf("config: invalid CIRCUIT_BREAKER_THRESHOLD %q, using default 5", cbThreshStr)
		}
	}
	if cfg.CircuitBreakerThreshold == 0 && os.Getenv("CIRCUIT_BREAKER_THRESHOLD") == "" {
		cfg.CircuitBreakerThreshold = 5
	}
	cfg.CircuitBreakerCooldownStr = os.Getenv("CIRCUIT_BREAKER_COOLDOWN")

	if cfg.Exchange == "" {
		cfg.Exchange = "scheduler"
	}
	cfg.Bindings = loadBindings()

	if cfg.Transport == "" {
		cfg.Transport = "channel"
	}
	if cfg.RedisGroup == "" {
		cfg.RedisGroup = "scheduler"
	}

	// Support the platform's PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = "@every 90s"
	}
	if cfg.SweepInitialDelayStr == "" {
		cfg.SweepInitialDelayStr = "60s"
	}
	if cfg.RedisClaimIdleStr == "" {
		cfg.RedisClaimIdleStr = "10m"
	}
	if cfg.RemoteTimeoutStr == "" {
		cfg.RemoteTimeoutStr = "30s"
	}
	if cfg.DBOpTimeoutStr == "" {
		cfg.DBOpTimeoutStr = "5s"
	}
	if cfg.DBConnMaxLifetimeStr == "" {
		cfg.DBConnMaxLifetimeStr = "30m"
	}
	if cfg.DBConnMaxIdleTimeStr == "" {
		cfg.DBConnMaxIdleTimeStr = "5m"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.ConsumerDrainTimeoutStr == "" {
		cfg.ConsumerDrainTimeoutStr = "30s"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.AnalyticsRetentionStr == "" {
		cfg.AnalyticsRetentionStr = "720h"
	}
	if cfg.ReconcileIntervalStr == "" {
		cfg.ReconcileIntervalStr = "5m"
	}
	if cfg.ReconcileThresholdStr == "" {
		cfg.ReconcileThresholdStr = "30m"
	}
	if cfg.CircuitBreakerCooldownStr == "" {
		cfg.CircuitBreakerCooldownStr = "2m"
	}
	if cfg.HeartbeatIntervalStr == "" {
		cfg.HeartbeatIntervalStr = "10s"
	}

	// Parse durations; validation is handled separately by Validate().
	for _, d := range cfg.durations() {
		if v, err := time.ParseDuration(*d.raw); err == nil {
			*d.dst = v
		}
	}

	return cfg
}

type durationField struct {
	env string
	raw *string
	dst *time.Duration
}

// durations lists every string-backed duration with its env var name.
func (c *Config) durations() []durationField {
	return []durationField{
		{"SWEEP_INITIAL_DELAY", &c.SweepInitialDelayStr, &c.SweepInitialDelay},
		{"REDIS_CLAIM_IDLE", &c.RedisClaimIdleStr, &c.RedisClaimIdle},
		{"REMOTE_TIMEOUT", &c.RemoteTimeoutStr, &c.RemoteTimeout},
		{"DB_OP_TIMEOUT", &c.DBOpTimeoutStr, &c.DBOpTimeout},
		{"DB_CONN_MAX_LIFETIME", &c.DBConnMaxLifetimeStr, &c.DBConnMaxLifetime},
		{"DB_CONN_MAX_IDLE_TIME", &c.DBConnMaxIdleTimeStr, &c.DBConnMaxIdleTime},
		{"HTTP_SHUTDOWN_TIMEOUT", &c.HTTPShutdownTimeoutStr, &c.HTTPShutdownTimeout},
		{"CONSUMER_DRAIN_TIMEOUT", &c.ConsumerDrainTimeoutStr, &c.ConsumerDrainTimeout},
		{"ANALYTICS_RETENTION", &c.AnalyticsRetentionStr, &c.AnalyticsRetention},
		{"RECONCILE_INTERVAL", &c.ReconcileIntervalStr, &c.ReconcileInterval},
		{"RECONCILE_THRESHOLD", &c.ReconcileThresholdStr, &c.ReconcileThreshold},
		{"CIRCUIT_BREAKER_COOLDOWN", &c.CircuitBreakerCooldownStr, &c.CircuitBreakerCooldown},
		{"HEARTBEAT_INTERVAL", &c.HeartbeatIntervalStr, &c.HeartbeatInterval},
	}
}

// channelEnv maps a channel name to its env var suffix, e.g.
// "certificate-releaser" to "CERTIFICATE_RELEASER".
func channelEnv(ch dispatcher.Channel) string {
	return strings.ToUpper(strings.ReplaceAll(string(ch), "-", "_"))
}

func loadBindings() map[dispatcher.Channel]dispatcher.Binding {
	out := make(map[dispatcher.Channel]dispatcher.Binding)
	for _, ch := range dispatcher.Channels() {
		suffix := channelEnv(ch)
		b := dispatcher.Binding{
			Queue:      os.Getenv("QUEUE_" + suffix),
			RoutingKey: os.Getenv("ROUTING_KEY_" + suffix),
		}
		if b.Queue != "" || b.RoutingKey != "" {
			out[ch] = b
		}
	}
	return out
}

// positiveInt reads env as a positive integer, logging and falling back to
// def when it is set but invalid.
func positiveInt(env string, def int) int {
	s := os.Getenv(env)
	if s == "" {
		return def
	}
	if n, err := parseInt(s); err == nil && n > 0 {
		return n
	}
	log.Printf("config: invalid %s %q (must be a positive integer), using default %d", env, s, def)
	return def
}

// parseInt parses a string as an integer.
func parseInt(s string) (int, error) {
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	type masked struct {
		Config
		DatabaseURL        string            `json:"database_url"`
		WebsiteDatabaseURL string            `json:"website_database_url,omitempty"`
		SMTPPassword       string            `json:"smtp_password,omitempty"`
		ServiceSecret      string            `json:"service_secret,omitempty"`
		APIToken           string            `json:"api_token,omitempty"`
		RetryDelayMS       int64             `json:"retry_delay_ms"`
		Queues             map[string]string `json:"queues,omitempty"`
		RoutingKeys        map[string]string `json:"routing_keys,omitempty"`
	}
	m := masked{
		Config:             c,
		DatabaseURL:        maskSecret(c.DatabaseURL),
		WebsiteDatabaseURL: maskSecret(c.WebsiteDatabaseURL),
		SMTPPassword:       maskSecret(c.SMTPPassword),
		ServiceSecret:      maskSecret(c.ServiceSecret),
		APIToken:           maskSecret(c.APIToken),
		RetryDelayMS:       c.RetryDelay.Milliseconds(),
	}
	for ch, b := range c.Bindings {
		if b.Queue != "" {
			if m.Queues == nil {
				m.Queues = make(map[string]string)
			}
			m.Queues[string(ch)] = b.Queue
		}
		if b.RoutingKey != "" {
			if m.RoutingKeys == nil {
				m.RoutingKeys = make(map[string]string)
			}
			m.RoutingKeys[string(ch)] = b.RoutingKey
		}
	}
	return json.MarshalIndent(m, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return scheme + "***"
		}
	}
	return "***"
}
