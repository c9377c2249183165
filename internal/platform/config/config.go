package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures process-level configuration.
type Server struct {
	Addr      string
	LogLevel  string
	LogFormat string

	Database Database
	Redis    RedisConfig
	Kafka    Kafka
	Outbox   Outbox

	// SealingKey is the 32-byte master key for vendor payload encryption.
	SealingKey []byte
	// VendorCallTimeout bounds a single vendor call.
	VendorCallTimeout time.Duration
	// IdempotencyTTL bounds how long an in-flight guard is held.
	IdempotencyTTL time.Duration
	// TenantConfigPath points at the YAML tenant file.
	TenantConfigPath string
}

// Database configures the Postgres connection. An empty URL selects in-memory stores.
type Database struct {
	URL          string
	MaxOpenConns int
}

// RedisConfig configures the Redis connection used for idempotency guards.
type RedisConfig struct {
	URL string
	// KeyPrefix namespaces every key; defaults to "kycflow:".
	KeyPrefix    string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka configures the event producer.
type Kafka struct {
	Brokers         []string
	WorkflowTopic   string
	TelemetryTopic  string
	ClientID        string
	CreateTopics    bool
	TopicPartitions int32
}

// Outbox configures the relay that publishes committed events.
type Outbox struct {
	PollInterval time.Duration
	BatchSize    int
}

// devSealingKey is only used when SEALING_KEY is unset.
const devSealingKey = "6b7963666c6f772d6465762d6b65792d6368616e67652d6d652d706c65617365"

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	key, err := hex.DecodeString(envOr("SEALING_KEY", devSealingKey))
	if err != nil {
		return Server{}, fmt.Errorf("decode SEALING_KEY: %w", err)
	}

	return Server{
		Addr:      envOr("KYCFLOW_ADDR", ":8080"),
		LogLevel:  envOr("LOG_LEVEL", "info"),
		LogFormat: envOr("LOG_FORMAT", "json"),
		Database: Database{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			KeyPrefix:    os.Getenv("REDIS_KEY_PREFIX"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: Kafka{
			Brokers:         splitList(os.Getenv("KAFKA_BROKERS")),
			WorkflowTopic:   envOr("KAFKA_WORKFLOW_TOPIC", "kycflow.workflow-events"),
			TelemetryTopic:  envOr("KAFKA_TELEMETRY_TOPIC", "kycflow.billing"),
			ClientID:        envOr("KAFKA_CLIENT_ID", "kycflow"),
			CreateTopics:    os.Getenv("KAFKA_CREATE_TOPICS") == "true",
			TopicPartitions: int32(envInt("KAFKA_TOPIC_PARTITIONS", 3)),
		},
		Outbox: Outbox{
			PollInterval: envDuration("OUTBOX_POLL_INTERVAL", time.Second),
			BatchSize:    envInt("OUTBOX_BATCH_SIZE", 100),
		},
		SealingKey:        key,
		VendorCallTimeout: envDuration("VENDOR_CALL_TIMEOUT", 20*time.Second),
		IdempotencyTTL:    envDuration("IDEMPOTENCY_TTL", time.Minute),
		TenantConfigPath:  envOr("TENANT_CONFIG_PATH", "tenants.yaml"),
	}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
