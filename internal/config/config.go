// internal/config/config.go
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreBackendDynamoDB = "dynamodb"
	StoreBackendMemory   = "memory"

	LockBackendLocal = "local"
	LockBackendRedis = "redis"
)

type Config struct {
	// Server
	Port           string
	GRPCPort       string
	Environment    string
	MaxConnections int

	// Timeouts
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration

	// AWS / DynamoDB
	AWSRegion             string
	DynamoDBEndpoint      string // DynamoDB Local, empty for AWS
	SessionsTableName     string
	SessionsStartTimeGSI  string
	ChannelsTableName     string
	ChannelsChannelArnGSI string
	AutoMigrate           bool
	StoreBackend          string

	// channelArn -> owner id, seeds STORE_BACKEND=memory
	MemoryChannelOwners map[string]string

	// Optional side channels, empty disables
	KinesisStreamName string
	S3ArchiveBucket   string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	OwnerCacheTTL time.Duration

	// Per-session write serialization
	LockBackend string
	LockTTL     time.Duration
}

func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		// Server
		Port:           getEnv("PORT", "8080"),
		GRPCPort:       getEnv("GRPC_PORT", "9090"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		MaxConnections: getEnvAsInt("MAX_CONNECTIONS", 512),

		// Timeouts
		HTTPReadTimeout:  getEnvAsDuration("HTTP_READ_TIMEOUT", 15*time.Second),
		HTTPWriteTimeout: getEnvAsDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),

		// AWS / DynamoDB
		AWSRegion:             getEnv("AWS_REGION", "us-east-1"),
		DynamoDBEndpoint:      getEnv("DYNAMODB_ENDPOINT", ""),
		SessionsTableName:     getEnv("DYNAMODB_SESSIONS_TABLE", "stream-sessions"),
		SessionsStartTimeGSI:  getEnv("DYNAMODB_SESSIONS_INDEX", "channelArn-startTime-index"),
		ChannelsTableName:     getEnv("DYNAMODB_CHANNELS_TABLE", "channels"),
		ChannelsChannelArnGSI: getEnv("DYNAMODB_CHANNELS_INDEX", "channelArn-index"),
		AutoMigrate:           getEnvAsBool("DYNAMODB_AUTO_MIGRATE", false),
		StoreBackend:          strings.ToLower(getEnv("STORE_BACKEND", StoreBackendDynamoDB)),
		MemoryChannelOwners:   getEnvAsMap("MEMORY_CHANNEL_OWNERS"),

		KinesisStreamName: getEnv("KINESIS_STREAM_NAME", ""),
		S3ArchiveBucket:   getEnv("S3_ARCHIVE_BUCKET", ""),

		// Redis
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),
		OwnerCacheTTL: getEnvAsDuration("OWNER_CACHE_TTL", 5*time.Minute),

		LockBackend: strings.ToLower(getEnv("LOCK_BACKEND", LockBackendLocal)),
		LockTTL:     getEnvAsDuration("LOCK_TTL", 10*time.Second),
	}
}

// IsProduction reports whether the service runs with production logging.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// RedisEnabled is true when a Redis address is configured.
func (c *Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvAsMap parses "k1=v1,k2=v2". Malformed pairs are skipped.
func getEnvAsMap(key string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(os.Getenv(key), ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}
