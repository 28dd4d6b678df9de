package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	RedisURL string

	ServerPort string

	JWTSecret string

	AccessTokenMaxAge  int
	RefreshTokenMaxAge int

	// Fan-out engine tuning
	FanoutBatchSize     int  // follower IDs fetched per adjacency page
	FanoutConcurrency   int  // concurrent timeline appends per batch
	FanoutMaxAttempts   int  // bounded retries per append before recording a failure
	FanoutPullThreshold int  // follower count at which an author switches to pull-model reads
	FanoutIncludeSelf   bool // whether authors see their own posts in their timeline

	// Maximum following-set size materialized per request before degrading
	// to batched per-item lookups.
	MaxFollowingSetSize int

	// When true, a malformed pagination cursor is rejected with 400 instead
	// of restarting the listing from the beginning.
	StrictCursors bool

	WorkerCount int
}

func LoadConfig() (*Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found or error loading it, relying on environment variables")
	}

	return &Config{
		DBHost:     os.Getenv("DB_HOST"),
		DBPort:     os.Getenv("DB_PORT"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),

		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379"),

		ServerPort: getEnv("SERVER_PORT", "8080"),

		JWTSecret: os.Getenv("JWT_SECRET"),

		AccessTokenMaxAge:  getEnvInt("ACCESS_TOKEN_MAX_AGE", 900),
		RefreshTokenMaxAge: getEnvInt("REFRESH_TOKEN_MAX_AGE", 2592000),

		FanoutBatchSize:     getEnvInt("FANOUT_BATCH_SIZE", 200),
		FanoutConcurrency:   getEnvInt("FANOUT_CONCURRENCY", 8),
		FanoutMaxAttempts:   getEnvInt("FANOUT_MAX_ATTEMPTS", 3),
		FanoutPullThreshold: getEnvInt("FANOUT_PULL_THRESHOLD", 10000),
		FanoutIncludeSelf:   getEnvBool("FANOUT_INCLUDE_SELF", true),

		MaxFollowingSetSize: getEnvInt("MAX_FOLLOWING_SET_SIZE", 5000),

		StrictCursors: getEnvBool("STRICT_CURSORS", false),

		WorkerCount: getEnvInt("WORKER_COUNT", 2),
	}, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func getEnvBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}
