package env

import (
	"fmt"
	"os"
	"strings"
	"time"

	envparse "github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

const (
	StoreBackendDynamo = "dynamodb"
	StoreBackendMemory = "memory"

	LockBackendRedis  = "redis"
	LockBackendMemory = "memory"
)

type AWSConfig struct {
	Region           string `env:"AWS_REGION" envDefault:"eu-central-1"`
	AccessKeyID      string `env:"AWS_ID"`
	SecretAccessKey  string `env:"AWS_SECRET"`
	SessionToken     string `env:"AWS_TOKEN"`
	DynamoDBEndpoint string `env:"DYNAMODB_ENDPOINT"`
}

type RedisConfig struct {
	Addr     string `env:"CHAT_REDIS_URL" envDefault:"localhost:6379"`
	Password string `env:"CHAT_REDIS_PASS"`
	DB       int    `env:"CHAT_REDIS_DB" envDefault:"0"`
}

type KafkaConfig struct {
	Brokers  []string `env:"KAFKA_BROKERS" envSeparator:","`
	Topic    string   `env:"KAFKA_KNOWLEDGE_TOPIC" envDefault:"livechat.knowledge"`
	Username string   `env:"KAFKA_USERNAME"`
	Password string   `env:"KAFKA_PASSWORD"`
	// Mechanism is PLAIN, SCRAM-SHA-256 or SCRAM-SHA-512.
	Mechanism string `env:"KAFKA_SASL_MECHANISM" envDefault:"PLAIN"`
}

// Config holds the settings shared by every server binary.
type Config struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"livechat-backend"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`

	AgentListenAddr    string   `env:"AGENT_LISTEN_ADDR" envDefault:":81"`
	IncomingListenAddr string   `env:"INCOMING_LISTEN_ADDR" envDefault:":82"`
	WSListenAddr       string   `env:"WS_LISTEN_ADDR" envDefault:":83"`
	AllowedOrigins     []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	UserSecret string `env:"USER_SECRET,required"`

	StoreBackend string        `env:"STORE_BACKEND" envDefault:"dynamodb"`
	LockBackend  string        `env:"LOCK_BACKEND" envDefault:"redis"`
	LockTTL      time.Duration `env:"LOCK_TTL" envDefault:"30s"`
	LockWait     time.Duration `env:"LOCK_WAIT" envDefault:"10s"`

	QueueSize  int `env:"QUEUE_SIZE" envDefault:"100"`
	MaxWorkers int `env:"QUEUE_WORKERS" envDefault:"10"`

	IncomingServicesFile string `env:"INCOMING_SERVICES_FILE" envDefault:"incoming-services.yaml"`
	// IncomingRateLimit is requests per window per service and client IP; 0 disables.
	IncomingRateLimit  int           `env:"INCOMING_RATE_LIMIT" envDefault:"120"`
	IncomingRateWindow time.Duration `env:"INCOMING_RATE_WINDOW" envDefault:"1m"`

	MergeSweepInterval time.Duration `env:"MERGE_SWEEP_INTERVAL" envDefault:"1m"`
	MergeStaleAfter    time.Duration `env:"MERGE_STALE_AFTER" envDefault:"2m"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	AWS   AWSConfig
	Redis RedisConfig
	Kafka KafkaConfig
}

// Load reads .env files when present and parses the environment.
func Load() (*Config, error) {
	loadEnvFiles()

	cfg := &Config{}
	if err := envparse.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}

	switch cfg.StoreBackend {
	case StoreBackendDynamo, StoreBackendMemory:
	default:
		return nil, fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", StoreBackendDynamo, StoreBackendMemory, cfg.StoreBackend)
	}
	switch cfg.LockBackend {
	case LockBackendRedis, LockBackendMemory:
	default:
		return nil, fmt.Errorf("LOCK_BACKEND must be %q or %q, got %q", LockBackendRedis, LockBackendMemory, cfg.LockBackend)
	}
	if cfg.StoreBackend == StoreBackendDynamo && strings.TrimSpace(cfg.AWS.Region) == "" {
		return nil, fmt.Errorf("AWS_REGION is required for the dynamodb store")
	}
	if cfg.IncomingRateLimit > 0 && cfg.IncomingRateWindow <= 0 {
		return nil, fmt.Errorf("INCOMING_RATE_WINDOW must be positive")
	}
	if cfg.LockTTL <= 0 {
		return nil, fmt.Errorf("LOCK_TTL must be positive")
	}

	return cfg, nil
}

func loadEnvFiles() {
	for _, path := range []string{".env", "../.env"} {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}
