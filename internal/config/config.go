// Package config loads broker configuration from the process environment.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Defaults applied when the corresponding variable is unset.
const (
	DefaultVisibilityTimeout = 30 * time.Second
	DefaultMaxStreamLen      = 100_000
	DefaultMaxPayloadBytes   = 262_144
	DefaultKeyPrefix         = "cw:"
	// ConnectTimeout bounds initial connections to both tiers.
	ConnectTimeout = 10 * time.Second
)

// ErrInvalidConfig is returned by Validate for unusable configurations.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds every recognised option. Zero values mean "use default".
type Config struct {
	// MongoOnly selects the emulated hot backend instead of Redis.
	MongoOnly bool

	// Redis connection options (native backend).
	RedisURL          string
	RedisTLS          bool
	RedisUsername     string
	RedisPassword     string
	RedisDB           int
	RedisKeyPrefix    string
	RedisRetryBackoff time.Duration
	RedisCACert       string
	RedisClusterNodes []string

	// MongoURI is the emulated-backend and warm-store endpoint.
	MongoURI string

	// Reserved for future payload offload.
	SpaceAccessKey string
	SpaceSecretKey string
	SpaceEndpoint  string

	// Broker tuning.
	VisibilityTimeout time.Duration
	MaxStreamLen      int64
	MaxPayloadBytes   int64
}

// Default returns a Config with only the tuning defaults filled in.
func Default() *Config {
	return &Config{
		RedisKeyPrefix:    DefaultKeyPrefix,
		VisibilityTimeout: DefaultVisibilityTimeout,
		MaxStreamLen:      DefaultMaxStreamLen,
		MaxPayloadBytes:   DefaultMaxPayloadBytes,
	}
}

// FromEnv reads the recognised environment variables, consulting a .env
// file when one is present in the working directory.
func FromEnv() *Config {
	_ = godotenv.Load()

	cfg := Default()
	cfg.MongoOnly = os.Getenv("CHRONOW_MONGO_ONLY") == "true"
	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.RedisTLS = os.Getenv("REDIS_TLS") == "true"
	cfg.RedisUsername = os.Getenv("REDIS_USERNAME")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.RedisDB = envInt("REDIS_DB", 0)
	cfg.RedisKeyPrefix = envOrDefault("REDIS_KEY_PREFIX", DefaultKeyPrefix)
	cfg.RedisRetryBackoff = time.Duration(envInt("REDIS_RETRY_MS", 0)) * time.Millisecond
	cfg.RedisCACert = os.Getenv("REDIS_CA_CERT")
	if nodes := os.Getenv("REDIS_CLUSTER_NODES"); nodes != "" {
		for _, node := range strings.Split(nodes, ",") {
			if node = strings.TrimSpace(node); node != "" {
				cfg.RedisClusterNodes = append(cfg.RedisClusterNodes, node)
			}
		}
	}
	cfg.MongoURI = os.Getenv("MONGO_URI")
	cfg.SpaceAccessKey = os.Getenv("SPACE_ACCESS_KEY")
	cfg.SpaceSecretKey = os.Getenv("SPACE_SECRET_KEY")
	cfg.SpaceEndpoint = os.Getenv("SPACE_ENDPOINT")
	cfg.VisibilityTimeout = time.Duration(envInt64("REDIS_VISIBILITY_TIMEOUT_MS", DefaultVisibilityTimeout.Milliseconds())) * time.Millisecond
	cfg.MaxStreamLen = envInt64("REDIS_MAX_STREAM_LEN", DefaultMaxStreamLen)
	cfg.MaxPayloadBytes = envInt64("REDIS_MAX_PAYLOAD_BYTES", DefaultMaxPayloadBytes)
	return cfg
}

// Validate checks that a hot backend is selectable and a warm endpoint is
// configured.
func (c *Config) Validate() error {
	if c.MongoOnly {
		if c.MongoURI == "" {
			return errors.Join(ErrInvalidConfig, errors.New("CHRONOW_MONGO_ONLY requires MONGO_URI"))
		}
		return nil
	}
	if c.RedisURL == "" && len(c.RedisClusterNodes) == 0 {
		return errors.Join(ErrInvalidConfig, errors.New("REDIS_URL (or REDIS_CLUSTER_NODES) is required unless CHRONOW_MONGO_ONLY=true"))
	}
	if c.MongoURI == "" {
		return errors.Join(ErrInvalidConfig, errors.New("MONGO_URI is required for the warm store"))
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}
