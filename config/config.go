package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "LIVESESSION_"

type Config struct {
	HTTP      HTTPConfig      `yaml:"http" envPrefix:"HTTP_"`
	GRPC      GRPCConfig      `yaml:"grpc" envPrefix:"GRPC_"`
	Admin     AdminConfig     `yaml:"admin" envPrefix:"ADMIN_"`
	Log       LogConfig       `yaml:"log" envPrefix:"LOG_"`
	Auth      AuthConfig      `yaml:"auth" envPrefix:"AUTH_"`
	Store     StoreConfig     `yaml:"store" envPrefix:"STORE_"`
	Redis     RedisConfig     `yaml:"redis" envPrefix:"REDIS_"`
	Events    EventsConfig    `yaml:"events" envPrefix:"EVENTS_"`
	Gateway   GatewayConfig   `yaml:"gateway" envPrefix:"GATEWAY_"`
	Payment   PaymentConfig   `yaml:"payment" envPrefix:"PAYMENT_"`
	Worker    WorkerConfig    `yaml:"worker" envPrefix:"WORKER_"`
	Notify    NotifyConfig    `yaml:"notify" envPrefix:"NOTIFY_"`
	Telemetry TelemetryConfig `yaml:"telemetry" envPrefix:"TELEMETRY_"`
}

type HTTPConfig struct {
	Address        string   `yaml:"address" env:"ADDRESS"`
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
	RateLimit      int      `yaml:"rate_limit_per_minute" env:"RATE_LIMIT_PER_MINUTE"`
	EnableSwagger  bool     `yaml:"enable_swagger" env:"ENABLE_SWAGGER"`
}

type GRPCConfig struct {
	Address string `yaml:"address" env:"ADDRESS"`
}

type AdminConfig struct {
	Address string `yaml:"address" env:"ADDRESS"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	Issuer    string        `yaml:"issuer" env:"ISSUER"`
	TokenTTL  time.Duration `yaml:"token_ttl" env:"TOKEN_TTL"`
}

const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
	StoreDriverMemory   = "memory"
)

type StoreConfig struct {
	Driver     string         `yaml:"driver" env:"DRIVER"`
	SQLitePath string         `yaml:"sqlite_path" env:"SQLITE_PATH"`
	Database   DatabaseConfig `yaml:"database" envPrefix:"DB_"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	Name     string `yaml:"name" env:"NAME"`
	SSLMode  string `yaml:"ssl_mode" env:"SSL_MODE"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
}

const (
	EventsDriverKafka = "kafka"
	EventsDriverNATS  = "nats"
	EventsDriverNone  = "none"
)

type EventsConfig struct {
	Driver             string      `yaml:"driver" env:"DRIVER"`
	SessionsTopic      string      `yaml:"sessions_topic" env:"SESSIONS_TOPIC"`
	NotificationsTopic string      `yaml:"notifications_topic" env:"NOTIFICATIONS_TOPIC"`
	Kafka              KafkaConfig `yaml:"kafka" envPrefix:"KAFKA_"`
	NATS               NATSConfig  `yaml:"nats" envPrefix:"NATS_"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers" env:"BROKERS"`
	GroupID string   `yaml:"group_id" env:"GROUP_ID"`
}

type NATSConfig struct {
	URL     string `yaml:"url" env:"URL"`
	Stream  string `yaml:"stream" env:"STREAM"`
	Durable string `yaml:"durable" env:"DURABLE"`
}

const (
	GatewayDriverHTTP    = "http"
	GatewayDriverSandbox = "sandbox"
)

type GatewayConfig struct {
	Driver             string        `yaml:"driver" env:"DRIVER"`
	BaseURL            string        `yaml:"base_url" env:"BASE_URL"`
	APIKey             string        `yaml:"api_key" env:"API_KEY"`
	Timeout            time.Duration `yaml:"timeout" env:"TIMEOUT"`
	SandboxAutoApprove bool          `yaml:"sandbox_auto_approve" env:"SANDBOX_AUTO_APPROVE"`
}

type PaymentConfig struct {
	LockTTL time.Duration `yaml:"lock_ttl" env:"LOCK_TTL"`
}

type WorkerConfig struct {
	ReconcileInterval time.Duration `yaml:"reconcile_interval" env:"RECONCILE_INTERVAL"`
	StaleAfter        time.Duration `yaml:"stale_after" env:"STALE_AFTER"`
	BatchSize         int           `yaml:"batch_size" env:"BATCH_SIZE"`
}

type NotifyConfig struct {
	OperatorWebhookURL string `yaml:"operator_webhook_url" env:"OPERATOR_WEBHOOK_URL"`
	EmailFrom          string `yaml:"email_from" env:"EMAIL_FROM"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string `yaml:"service_name" env:"SERVICE_NAME"`
}

// LoadConfig reads the YAML file at path, then applies an optional .env file and
// LIVESESSION_* environment overrides. A missing file is allowed when path is empty.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse env overrides: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	setDefault(&c.HTTP.Address, ":8080")
	setDefault(&c.GRPC.Address, ":9090")
	setDefault(&c.Admin.Address, ":8081")
	setDefault(&c.Log.Level, "info")
	setDefault(&c.Log.Format, "json")
	setDefault(&c.Auth.Issuer, "livesession")
	setDefault(&c.Store.Driver, StoreDriverPostgres)
	setDefault(&c.Store.SQLitePath, "livesession.db")
	setDefault(&c.Store.Database.SSLMode, "disable")
	setDefault(&c.Events.Driver, EventsDriverKafka)
	setDefault(&c.Events.SessionsTopic, "livesession.sessions")
	setDefault(&c.Events.NotificationsTopic, "livesession.notifications")
	setDefault(&c.Events.Kafka.GroupID, "livesession-worker")
	setDefault(&c.Events.NATS.Stream, "LIVESESSION")
	setDefault(&c.Events.NATS.Durable, "livesession-worker")
	setDefault(&c.Gateway.Driver, GatewayDriverHTTP)
	setDefault(&c.Telemetry.ServiceName, "livesession")
	if c.HTTP.RateLimit == 0 {
		c.HTTP.RateLimit = 300
	}
	if c.Store.Database.Port == 0 {
		c.Store.Database.Port = 5432
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = time.Hour
	}
	if c.Gateway.Timeout == 0 {
		c.Gateway.Timeout = 10 * time.Second
	}
	if c.Payment.LockTTL == 0 {
		c.Payment.LockTTL = 30 * time.Second
	}
	if c.Worker.ReconcileInterval == 0 {
		c.Worker.ReconcileInterval = 5 * time.Minute
	}
	if c.Worker.StaleAfter == 0 {
		c.Worker.StaleAfter = 10 * time.Minute
	}
	if c.Worker.BatchSize == 0 {
		c.Worker.BatchSize = 50
	}
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	switch c.Store.Driver {
	case StoreDriverPostgres, StoreDriverSQLite, StoreDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	switch c.Events.Driver {
	case EventsDriverKafka:
		if len(c.Events.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("events.kafka.brokers is required for the kafka driver"))
		}
	case EventsDriverNATS:
		if c.Events.NATS.URL == "" {
			errs = append(errs, errors.New("events.nats.url is required for the nats driver"))
		}
	case EventsDriverNone:
	default:
		errs = append(errs, fmt.Errorf("unknown events.driver %q", c.Events.Driver))
	}
	switch c.Gateway.Driver {
	case GatewayDriverHTTP:
		if c.Gateway.BaseURL == "" {
			errs = append(errs, errors.New("gateway.base_url is required for the http driver"))
		}
	case GatewayDriverSandbox:
	default:
		errs = append(errs, fmt.Errorf("unknown gateway.driver %q", c.Gateway.Driver))
	}
	if c.Gateway.Timeout < 0 || c.Payment.LockTTL < 0 || c.Worker.ReconcileInterval < 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	return errors.Join(errs...)
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}
