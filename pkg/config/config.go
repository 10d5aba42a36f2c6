// Package config loads engine configuration from environment variables
// and YAML profiles.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds process configuration.
type Config struct {
	LogLevel string

	// Provenance
	ProvenanceDSN     string // Postgres DSN; empty selects SQLite
	ProvenancePath    string // SQLite path
	RetentionDays     int
	SigningAlgorithm  string // RS256 | ES256 | EdDSA
	SigningKeyID      string
	ArchiveBucket     string
	ArchiveRegion     string
	ArchiveEndpoint   string

	// Dispatch
	QueueCapacity    int
	MaxConcurrent    int
	PerWorkerTimeout time.Duration
	RedisAddr        string

	// Observability
	OTLPEndpoint string
	OTelEnabled  bool
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		LogLevel:         getenv("LOG_LEVEL", "INFO"),
		ProvenanceDSN:    os.Getenv("PROVENANCE_DATABASE_URL"),
		ProvenancePath:   getenv("PROVENANCE_SQLITE_PATH", "arbiter-provenance.db"),
		RetentionDays:    getint("PROVENANCE_RETENTION_DAYS", 90),
		SigningAlgorithm: getenv("PROVENANCE_SIGNING_ALG", "EdDSA"),
		SigningKeyID:     getenv("PROVENANCE_SIGNING_KEY_ID", "arbiter-signing-1"),
		ArchiveBucket:    os.Getenv("PROVENANCE_ARCHIVE_BUCKET"),
		ArchiveRegion:    getenv("PROVENANCE_ARCHIVE_REGION", "us-east-1"),
		ArchiveEndpoint:  os.Getenv("PROVENANCE_ARCHIVE_ENDPOINT"),
		QueueCapacity:    getint("DISPATCH_QUEUE_CAPACITY", 64),
		MaxConcurrent:    getint("DISPATCH_MAX_CONCURRENT", 0),
		PerWorkerTimeout: getdur("DISPATCH_WORKER_TIMEOUT", 60*time.Second),
		RedisAddr:        os.Getenv("DISPATCH_REDIS_ADDR"),
		OTLPEndpoint:     getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTelEnabled:      os.Getenv("OTEL_ENABLED") == "true",
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getdur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
