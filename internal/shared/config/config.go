package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the location of the optional YAML config file.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths are searched in order when CONFIG_PATH is not set.
var DefaultConfigPaths = []string{"config.yaml", "config.yml"}

// Aggregator operating modes. Pending is the sandbox tier with tighter quotas.
const (
	ModePending = "pending"
	ModeLive    = "live"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	TLS       TLSConfig       `koanf:"tls"`
	SaltEdge  SaltEdgeConfig  `koanf:"saltedge"`
	Webhook   WebhookConfig   `koanf:"webhook"`
	JWT       JWTConfig       `koanf:"jwt"`
	Worker    WorkerConfig    `koanf:"worker"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	Breaker   BreakerConfig   `koanf:"breaker"`
	Firebase  FirebaseConfig  `koanf:"firebase"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Log       LogConfig       `koanf:"log"`
}

type ServerConfig struct {
	Port         string   `koanf:"port" validate:"required"`
	Host         string   `koanf:"host"`
	PublicURL    string   `koanf:"public_url" validate:"required,url"`
	Environment  string   `koanf:"environment" validate:"oneof=development staging production test"`
	AllowedHosts []string `koanf:"allowed_hosts"`
}

type DatabaseConfig struct {
	Host     string `koanf:"host" validate:"required"`
	Port     int    `koanf:"port" validate:"gt=0"`
	User     string `koanf:"user" validate:"required"`
	Password string `koanf:"password"`
	DBName   string `koanf:"name" validate:"required"`
	SSLMode  string `koanf:"sslmode"`
}

type TLSConfig struct {
	Enabled      bool   `koanf:"enabled"`
	CertPath     string `koanf:"cert_path"`
	KeyPath      string `koanf:"key_path"`
	RedirectHTTP bool   `koanf:"redirect_http"`
}

type SaltEdgeConfig struct {
	AppID       string        `koanf:"app_id"`
	Secret      string        `koanf:"secret"`
	BaseURL     string        `koanf:"base_url"`
	PrivateKey  string        `koanf:"private_key"`
	Mode        string        `koanf:"mode" validate:"oneof=pending live"`
	Timeout     time.Duration `koanf:"timeout" validate:"gt=0"`
	Locale      string        `koanf:"locale"`
	Country     string        `koanf:"country" validate:"len=2"`
	CustomerTTL time.Duration `koanf:"customer_ttl" validate:"gt=0"`
}

type WebhookConfig struct {
	PublicKey string `koanf:"public_key"`
	// Strict rejects webhooks whose signature cannot be verified.
	Strict bool `koanf:"strict"`
}

type JWTConfig struct {
	Secret string `koanf:"secret"`
}

type WorkerConfig struct {
	Count          int           `koanf:"count" validate:"gt=0"`
	QueueSize      int           `koanf:"queue_size" validate:"gt=0"`
	JobDelay       time.Duration `koanf:"job_delay"`
	JobTimeout     time.Duration `koanf:"job_timeout" validate:"gt=0"`
	MaxAttempts    int           `koanf:"max_attempts" validate:"gte=1"`
	RetryBaseDelay time.Duration `koanf:"retry_base_delay" validate:"gt=0"`
}

type RateLimitConfig struct {
	Requests int           `koanf:"requests" validate:"gt=0"`
	Window   time.Duration `koanf:"window" validate:"gt=0"`
	Disabled bool          `koanf:"disabled"`
}

type BreakerConfig struct {
	MaxRequests  uint32        `koanf:"max_requests" validate:"gt=0"`
	Interval     time.Duration `koanf:"interval"`
	Timeout      time.Duration `koanf:"timeout" validate:"gt=0"`
	MinRequests  uint32        `koanf:"min_requests" validate:"gt=0"`
	FailureRatio float64       `koanf:"failure_ratio" validate:"gt=0,lte=1"`
}

type FirebaseConfig struct {
	CredentialsFile string `koanf:"credentials_file"`
	MessagesFile    string `koanf:"messages_file"`
}

type TelemetryConfig struct {
	Enabled      bool    `koanf:"enabled"`
	ServiceName  string  `koanf:"service_name"`
	OTLPEndpoint string  `koanf:"otlp_endpoint"` // empty disables trace export
	MetricsPort  string  `koanf:"metrics_port"`
	SampleRatio  float64 `koanf:"sample_ratio" validate:"gte=0,lte=1"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        "8080",
			Host:        "0.0.0.0",
			PublicURL:   "http://localhost:8080",
			Environment: "development",
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "finsight",
			DBName:  "finsight",
			SSLMode: "disable",
		},
		SaltEdge: SaltEdgeConfig{
			BaseURL:     "https://www.saltedge.com/api/v6",
			Mode:        ModePending,
			Timeout:     30 * time.Second,
			Locale:      "fr",
			Country:     "FR",
			CustomerTTL: 24 * time.Hour,
		},
		Worker: WorkerConfig{
			Count:          3,
			QueueSize:      100,
			JobDelay:       0,
			JobTimeout:     120 * time.Second,
			MaxAttempts:    3,
			RetryBaseDelay: 30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Requests: 60,
			Window:   time.Minute,
		},
		Breaker: BreakerConfig{
			MaxRequests:  3,
			Interval:     time.Minute,
			Timeout:      2 * time.Minute,
			MinRequests:  10,
			FailureRatio: 0.6,
		},
		Firebase: FirebaseConfig{
			MessagesFile: "messages.json",
		},
		Telemetry: TelemetryConfig{
			ServiceName:  "finsight-api",
			OTLPEndpoint: "localhost:4317",
			MetricsPort:  "9464",
			SampleRatio:  1,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// envKeys maps environment variables to koanf paths. Anything not listed is ignored.
var envKeys = map[string]string{
	"PORT":                      "server.port",
	"HOST":                      "server.host",
	"HOST_URL":                  "server.public_url",
	"ENVIRONMENT":               "server.environment",
	"ALLOWED_HOSTS":             "server.allowed_hosts",
	"DB_HOST":                   "database.host",
	"DB_PORT":                   "database.port",
	"DB_USER":                   "database.user",
	"DB_PASSWORD":               "database.password",
	"DB_NAME":                   "database.name",
	"DB_SSLMODE":                "database.sslmode",
	"TLS_ENABLED":               "tls.enabled",
	"TLS_CERT_PATH":             "tls.cert_path",
	"TLS_KEY_PATH":              "tls.key_path",
	"TLS_REDIRECT_HTTP":         "tls.redirect_http",
	"SALTEDGE_APP_ID":           "saltedge.app_id",
	"SALTEDGE_SECRET":           "saltedge.secret",
	"SALTEDGE_BASE_URL":         "saltedge.base_url",
	"SALTEDGE_PRIVATE_KEY":      "saltedge.private_key",
	"SALTEDGE_STATUS":           "saltedge.mode",
	"SALTEDGE_TIMEOUT":          "saltedge.timeout",
	"SALTEDGE_LOCALE":           "saltedge.locale",
	"SALTEDGE_COUNTRY":          "saltedge.country",
	"SALTEDGE_CUSTOMER_TTL":     "saltedge.customer_ttl",
	"SALTEDGE_PUBLIC_KEY":       "webhook.public_key",
	"WEBHOOK_STRICT":            "webhook.strict",
	"JWT_SECRET":                "jwt.secret",
	"WORKER_COUNT":              "worker.count",
	"WORKER_QUEUE_SIZE":         "worker.queue_size",
	"WORKER_JOB_DELAY":          "worker.job_delay",
	"WORKER_JOB_TIMEOUT":        "worker.job_timeout",
	"WORKER_MAX_ATTEMPTS":       "worker.max_attempts",
	"WORKER_RETRY_BASE_DELAY":   "worker.retry_base_delay",
	"RATE_LIMIT_REQUESTS":       "ratelimit.requests",
	"RATE_LIMIT_WINDOW":         "ratelimit.window",
	"RATE_LIMIT_DISABLED":       "ratelimit.disabled",
	"BREAKER_MAX_REQUESTS":      "breaker.max_requests",
	"BREAKER_INTERVAL":          "breaker.interval",
	"BREAKER_TIMEOUT":           "breaker.timeout",
	"BREAKER_MIN_REQUESTS":      "breaker.min_requests",
	"BREAKER_FAILURE_RATIO":     "breaker.failure_ratio",
	"FIREBASE_CREDENTIALS_FILE": "firebase.credentials_file",
	"FIREBASE_MESSAGES_FILE":    "firebase.messages_file",
	"OTEL_ENABLED":              "telemetry.enabled",
	"OTEL_SERVICE_NAME":         "telemetry.service_name",
	"OTEL_EXPORTER_ENDPOINT":    "telemetry.otlp_endpoint",
	"METRICS_PORT":              "telemetry.metrics_port",
	"OTEL_SAMPLE_RATIO":         "telemetry.sample_ratio",
	"LOG_LEVEL":                 "log.level",
	"LOG_FORMAT":                "log.format",
}

var validate = validator.New()

// Load builds the configuration from struct defaults, an optional YAML file and
// the environment, in increasing order of precedence.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	// Comma-separated env values arrive as a single string.
	if raw, ok := k.Get("server.allowed_hosts").(string); ok && raw != "" {
		if err := k.Set("server.allowed_hosts", splitList(raw)); err != nil {
			return nil, fmt.Errorf("invalid ALLOWED_HOSTS: %w", err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.SaltEdge.AppID == "" || c.SaltEdge.Secret == "" {
		return fmt.Errorf("SALTEDGE_APP_ID and SALTEDGE_SECRET are required")
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Webhook.Strict && c.Webhook.PublicKey == "" {
		return fmt.Errorf("SALTEDGE_PUBLIC_KEY is required when WEBHOOK_STRICT=true")
	}

	if c.TLS.Enabled {
		if c.TLS.CertPath == "" {
			return fmt.Errorf("TLS_CERT_PATH is required when TLS_ENABLED=true")
		}
		if c.TLS.KeyPath == "" {
			return fmt.Errorf("TLS_KEY_PATH is required when TLS_ENABLED=true")
		}
	}

	return nil
}

// IsProduction reports whether raw error details must be hidden from API callers.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// CallbackURL is the browser return address handed to the hosted consent widget.
func (c *Config) CallbackURL() string {
	return strings.TrimRight(c.Server.PublicURL, "/") + "/api/saltedge/callback"
}

// DashboardURL is where the callback handler redirects the browser.
func (c *Config) DashboardURL() string {
	return strings.TrimRight(c.Server.PublicURL, "/") + "/dashboard"
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// URL renders the database settings in the postgres:// form used by migrations.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

func envKey(key string) string {
	if mapped, ok := envKeys[key]; ok {
		return mapped
	}
	return ""
}

func findConfigFile() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		return path
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
