package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	SessionStoreMemory = "memory"
	SessionStoreRedis  = "redis"

	StorageMemory = "memory"
	StorageMinio  = "minio"
	StorageGCS    = "gcs"

	MQNone     = "none"
	MQRabbitMQ = "rabbitmq"
	MQPubSub   = "pubsub"
)

type Config struct {
	Env        string `env:"ENV" envDefault:"production"`
	ServerPort int    `env:"PORT" envDefault:"8080"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`

	// BackendURL is the single origin of the processing service.
	BackendURL string `env:"TAXDESK_BACKEND_URL" envDefault:"http://localhost:5000"`

	JWTSecret        string        `env:"JWT_SECRET"`
	SessionTTL       time.Duration `env:"SESSION_TTL" envDefault:"12h"`
	SessionStore     string        `env:"SESSION_STORE" envDefault:"memory"`
	RedisURL         string        `env:"REDIS_URL"`
	SecureCookies    bool          `env:"SECURE_COOKIES" envDefault:"false"`
	MaxUploadBytes   int64         `env:"MAX_UPLOAD_BYTES" envDefault:"67108864"`
	ChatPollInterval time.Duration `env:"CHAT_POLL_INTERVAL" envDefault:"5s"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	OTLPEndpoint       string   `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	Storage  StorageConfig
	MQ       MQConfig
	Database DatabaseConfig
}

type StorageConfig struct {
	Backend string `env:"STORAGE_BACKEND" envDefault:"memory"`
	Minio   MinioConfig
	GCS     GCSConfig
}

type MinioConfig struct {
	Endpoint  string `env:"MINIO_ENDPOINT"`
	AccessKey string `env:"MINIO_ACCESS_KEY"`
	SecretKey string `env:"MINIO_SECRET_KEY"`
	Bucket    string `env:"MINIO_BUCKET" envDefault:"taxdesk-results"`
	UseSSL    bool   `env:"MINIO_USE_SSL" envDefault:"false"`
}

type GCSConfig struct {
	Bucket          string `env:"GCS_BUCKET"`
	ProjectID       string `env:"GCS_PROJECT_ID"`
	CredentialsFile string `env:"GCS_CREDENTIALS_FILE"`
}

type MQConfig struct {
	Backend  string `env:"MQ_BACKEND" envDefault:"none"`
	Channel  string `env:"MQ_RUN_EVENTS_CHANNEL" envDefault:"taxdesk.runs"`
	RabbitMQ RabbitMQConfig
	PubSub   PubSubConfig
}

type RabbitMQConfig struct {
	URL             string `env:"RABBITMQ_URL"`
	PrefetchCount   int    `env:"RABBITMQ_PREFETCH" envDefault:"0"`
	QueueDurable    bool   `env:"RABBITMQ_QUEUE_DURABLE" envDefault:"true"`
	QueueAutoDelete bool   `env:"RABBITMQ_QUEUE_AUTO_DELETE" envDefault:"false"`
}

type PubSubConfig struct {
	ProjectID          string `env:"PUBSUB_PROJECT_ID"`
	CredentialsFile    string `env:"PUBSUB_CREDENTIALS_FILE"`
	SubscriptionSuffix string `env:"PUBSUB_SUBSCRIPTION_SUFFIX" envDefault:"-sub"`
}

// DatabaseConfig points at the Postgres instance holding the admin audit
// log. The audit log is optional; it is enabled when Host is set.
type DatabaseConfig struct {
	Host     string `env:"DB_HOST"`
	Port     int    `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"taxdesk"`
	Password string `env:"DB_PASSWORD"`
	DBName   string `env:"DB_NAME" envDefault:"taxdesk"`
	UseSSL   bool   `env:"DB_USE_SSL" envDefault:"false"`
}

// Enabled reports whether a database has been configured.
func (d DatabaseConfig) Enabled() bool {
	return strings.TrimSpace(d.Host) != ""
}

// IsDev reports whether the process runs in development mode.
func (c Config) IsDev() bool {
	return c.Env == "dev" || c.Env == "development"
}

// LoadConfig reads configuration from the environment. In development a
// .env file in the working directory is loaded first.
func LoadConfig() (Config, error) {
	if e := os.Getenv("ENV"); e == "dev" || e == "development" {
		_ = godotenv.Load()
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.BackendURL = strings.TrimRight(strings.TrimSpace(cfg.BackendURL), "/")
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks option combinations that env tags cannot express.
func (c Config) Validate() error {
	if c.BackendURL == "" {
		return errors.New("TAXDESK_BACKEND_URL is required")
	}
	switch c.SessionStore {
	case SessionStoreMemory:
	case SessionStoreRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return errors.New("REDIS_URL is required when SESSION_STORE is redis")
		}
	default:
		return fmt.Errorf("SESSION_STORE must be 'memory' or 'redis', got '%s'", c.SessionStore)
	}
	switch c.Storage.Backend {
	case StorageMemory, StorageMinio, StorageGCS:
	default:
		return fmt.Errorf("STORAGE_BACKEND must be one of memory, minio, gcs, got '%s'", c.Storage.Backend)
	}
	switch c.MQ.Backend {
	case MQNone, MQRabbitMQ, MQPubSub:
	default:
		return fmt.Errorf("MQ_BACKEND must be one of none, rabbitmq, pubsub, got '%s'", c.MQ.Backend)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes)
	}
	if c.ChatPollInterval <= 0 {
		return fmt.Errorf("CHAT_POLL_INTERVAL must be positive, got %s", c.ChatPollInterval)
	}
	return nil
}
