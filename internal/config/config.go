package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const DefaultPort = "3500"

// ServerConfig captures all tunable parameters for the session server.
// Values come from environment variables (optionally seeded from a .env
// file) with defaults that run locally without any backend.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string

	WSSendBuffer      int
	WSMaxMessageBytes int64
	WSPongWait        time.Duration

	EngineQueueSize int
	JournalBuffer   int
	MemoryMaxRides  int

	RedisAddr      string
	RedisPassword  string
	RedisKeyPrefix string
	RideArchiveTTL time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN         string
	RunMigrations bool
	MigrationFile string

	LogLevel  string
	LogFormat string
}

// ConsumerConfig configures the ride-event archiver.
type ConsumerConfig struct {
	MetricsAddr string

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	RedisAddr      string
	RedisPassword  string
	RedisKeyPrefix string
	RideArchiveTTL time.Duration

	PGDSN string

	WriteAttempts int
	RetryDelay    time.Duration

	LogLevel  string
	LogFormat string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:          ":" + DefaultPort,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		ShutdownTimeout:   15 * time.Second,
		CORSOrigins:       []string{"*"},
		WSSendBuffer:      256,
		WSMaxMessageBytes: 64 << 10,
		WSPongWait:        60 * time.Second,
		EngineQueueSize:   1024,
		JournalBuffer:     512,
		MemoryMaxRides:    1024,
		RedisKeyPrefix:    "ride:",
		RideArchiveTTL:    24 * time.Hour,
		KafkaTopic:        "ride-events",
		MigrationFile:     "migrations/001_create_ride_events.sql",
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

// LoadDotEnv seeds the environment from path if it exists. Variables that
// are already set win.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		cfg.HTTPAddr = ":" + port
	}
	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitAndTrim(v)
	}

	setIntFromEnv(&cfg.WSSendBuffer, "WS_SEND_BUFFER", &errs)
	setInt64FromEnv(&cfg.WSMaxMessageBytes, "WS_MAX_MESSAGE_BYTES", &errs)
	setDurationFromEnv(&cfg.WSPongWait, "WS_PONG_WAIT", &errs)
	setIntFromEnv(&cfg.EngineQueueSize, "ENGINE_QUEUE_SIZE", &errs)
	setIntFromEnv(&cfg.JournalBuffer, "JOURNAL_BUFFER", &errs)
	setIntFromEnv(&cfg.MemoryMaxRides, "MEMORY_MAX_RIDES", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisKeyPrefix, "REDIS_KEY_PREFIX")
	setDurationFromEnv(&cfg.RideArchiveTTL, "RIDE_ARCHIVE_TTL", &errs)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")
	setStringFromEnv(&cfg.MigrationFile, "MIGRATION_FILE")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	setStringFromEnv(&cfg.LogFormat, "LOG_FORMAT")

	if cfg.WSSendBuffer <= 0 {
		errs = append(errs, fmt.Errorf("WS_SEND_BUFFER must be > 0"))
	}
	if cfg.WSMaxMessageBytes <= 0 {
		errs = append(errs, fmt.Errorf("WS_MAX_MESSAGE_BYTES must be > 0"))
	}
	if cfg.EngineQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("ENGINE_QUEUE_SIZE must be > 0"))
	}
	if cfg.JournalBuffer <= 0 {
		errs = append(errs, fmt.Errorf("JOURNAL_BUFFER must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		MetricsAddr:    ":2112",
		KafkaBrokers:   []string{"localhost:9092"},
		KafkaTopic:     "ride-events",
		KafkaGroup:     "ride-archiver",
		RedisKeyPrefix: "ride:",
		RideArchiveTTL: 24 * time.Hour,
		WriteAttempts:  3,
		RetryDelay:     200 * time.Millisecond,
		LogLevel:       "info",
		LogFormat:      "json",
	}
	var errs []error

	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		brokers = os.Getenv("KAFKA_BROKER")
	}
	if brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisKeyPrefix, "REDIS_KEY_PREFIX")
	setDurationFromEnv(&cfg.RideArchiveTTL, "RIDE_ARCHIVE_TTL", &errs)
	cfg.PGDSN = os.Getenv("PG_DSN")

	setIntFromEnv(&cfg.WriteAttempts, "CONSUMER_WRITE_ATTEMPTS", &errs)
	setDurationFromEnv(&cfg.RetryDelay, "CONSUMER_RETRY_DELAY", &errs)
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	setStringFromEnv(&cfg.LogFormat, "LOG_FORMAT")

	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS must list at least one broker"))
	}
	if cfg.PGDSN == "" && cfg.RedisAddr == "" {
		errs = append(errs, fmt.Errorf("one of PG_DSN or REDIS_ADDR is required"))
	}
	if cfg.WriteAttempts <= 0 {
		errs = append(errs, fmt.Errorf("CONSUMER_WRITE_ATTEMPTS must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setInt64FromEnv(target *int64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
