package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

// Auth modes.
const (
	AuthJWT    = "jwt"
	AuthHeader = "header"
)

// Event log drivers.
const (
	EventLogKafka  = "kafka"
	EventLogMemory = "memory"
)

type Config struct {
	Host            string        `env:"HOST,default=0.0.0.0"`
	Port            int           `env:"PORT,default=8080"`
	LogLevel        string        `env:"LOG_LEVEL,default=INFO"`
	GinMode         string        `env:"GIN_MODE,default=release"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`

	StoreDriver   string        `env:"STORE_DRIVER,default=postgres"`
	DBHost        string        `env:"DB_HOST,default=localhost"`
	DBUser        string        `env:"DB_USER,default=postgres"`
	DBPassword    string        `env:"DB_PASS"`
	DBName        string        `env:"DB_NAME,default=chat"`
	DBPort        int           `env:"DB_PORT,default=5432"`
	SQLitePath    string        `env:"SQLITE_PATH,default=chat.db"`
	MongoURL      string        `env:"MONGO_URL,default=mongodb://localhost:27017"`
	MongoDatabase string        `env:"MONGO_DATABASE,default=intellicollab"`
	StoreTimeout  time.Duration `env:"STORE_TIMEOUT,default=10s"`

	EventLogDriver         string        `env:"EVENT_LOG_DRIVER,default=kafka"`
	KafkaBrokers           string        `env:"KAFKA_BROKERS,default=localhost:9094"`
	KafkaTopic             string        `env:"KAFKA_TOPIC,default=intellicollab_messages"`
	// A replica only broadcasts the records its own group receives. When
	// several gateways run, give each a distinct, stable KAFKA_GROUP_ID
	// (for example the pod name) so that every one of them sees every room.
	KafkaGroupID           string        `env:"KAFKA_GROUP_ID,default=chat-service-group"`
	KafkaClientID          string        `env:"KAFKA_CLIENT_ID,default=chat-service"`
	KafkaPartitions        int           `env:"KAFKA_PARTITIONS,default=3"`
	KafkaReplicationFactor int           `env:"KAFKA_REPLICATION_FACTOR,default=1"`
	PublishTimeout         time.Duration `env:"PUBLISH_TIMEOUT,default=5s"`
	PublishAttempts        int           `env:"PUBLISH_ATTEMPTS,default=5"`
	PublishRetryDelay      time.Duration `env:"PUBLISH_RETRY_DELAY,default=200ms"`
	PublishRetryMaxDelay   time.Duration `env:"PUBLISH_RETRY_MAX_DELAY,default=5s"`

	AuthMode  string `env:"AUTH_MODE,default=jwt"`
	JWTSecret string `env:"JWT_SECRET"`

	DedupeWindow       int     `env:"DEDUPE_WINDOW,default=128"`
	SendBufferSize     int     `env:"SEND_BUFFER_SIZE,default=256"`
	MaxMessageSize     int     `env:"MAX_MESSAGE_SIZE,default=10000"`
	MaxTextLength      int     `env:"MAX_TEXT_LENGTH,default=4000"`
	// Zero disables rate limiting on both the API and websocket sessions.
	RateLimitPerSecond float64 `env:"RATE_LIMIT_PER_SECOND,default=10"`
	RateLimitBurst     int     `env:"RATE_LIMIT_BURST,default=20"`
}

// Load reads .env when present, then the environment. The second return
// value reports whether a .env file was found.
func Load() (Config, bool, error) {
	dotenv := godotenv.Load() == nil

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, dotenv, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, dotenv, err
	}
	return cfg, dotenv, nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case "postgres", "sqlite", "mongo":
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER: unknown driver %q", c.StoreDriver))
	}
	switch c.EventLogDriver {
	case EventLogKafka:
		if len(c.Brokers()) == 0 {
			errs = append(errs, errors.New("KAFKA_BROKERS: at least one broker is required"))
		}
	case EventLogMemory:
	default:
		errs = append(errs, fmt.Errorf("EVENT_LOG_DRIVER: unknown driver %q", c.EventLogDriver))
	}
	switch c.AuthMode {
	case AuthJWT:
		if c.JWTSecret == "" {
			errs = append(errs, errors.New("JWT_SECRET: required when AUTH_MODE=jwt"))
		}
	case AuthHeader:
	default:
		errs = append(errs, fmt.Errorf("AUTH_MODE: unknown mode %q", c.AuthMode))
	}
	if c.KafkaTopic == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC: required"))
	}
	for name, v := range map[string]int{
		"PORT":                     c.Port,
		"KAFKA_PARTITIONS":         c.KafkaPartitions,
		"KAFKA_REPLICATION_FACTOR": c.KafkaReplicationFactor,
		"PUBLISH_ATTEMPTS":         c.PublishAttempts,
		"SEND_BUFFER_SIZE":         c.SendBufferSize,
		"MAX_MESSAGE_SIZE":         c.MaxMessageSize,
		"MAX_TEXT_LENGTH":          c.MaxTextLength,
	} {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s: must be positive, got %d", name, v))
		}
	}
	if c.DedupeWindow < 0 {
		errs = append(errs, fmt.Errorf("DEDUPE_WINDOW: must not be negative, got %d", c.DedupeWindow))
	}
	switch {
	case c.RateLimitPerSecond < 0:
		errs = append(errs, fmt.Errorf("RATE_LIMIT_PER_SECOND: must not be negative, got %g", c.RateLimitPerSecond))
	case c.RateLimitPerSecond > 0 && c.RateLimitBurst < 1:
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BURST: must be at least 1 when RATE_LIMIT_PER_SECOND is set, got %d", c.RateLimitBurst))
	}
	if c.PublishTimeout <= 0 {
		errs = append(errs, errors.New("PUBLISH_TIMEOUT: must be positive"))
	}
	return errors.Join(errs...)
}

// Brokers splits KAFKA_BROKERS on commas.
func (c Config) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
