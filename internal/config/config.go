// Package config collects sandboxd's tunables into one validated struct,
// populated from environment variables with flag overrides in cmd/sandboxd.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// DispatchMode documents the resolved sync-vs-async Open Question. Go's
// goroutine model makes both source deployment modes the same code path, so
// this field is carried for documentation only and never branches behavior.
type DispatchMode string

const (
	DispatchSync  DispatchMode = "sync"
	DispatchAsync DispatchMode = "async"
)

// Config holds every tunable the CLI and environment can set.
type Config struct {
	// Workers is the number of worker goroutines (W), each bound to one
	// cpuset slot.
	Workers int
	// QueueSize is the intake queue capacity (Q).
	QueueSize int
	// CacheSize is the result cache capacity (C).
	CacheSize int
	// MemLimitBytes bounds each sandbox container's memory and swap ceiling.
	MemLimitBytes int64
	// DispatchMode is vestigial; see DispatchMode's doc comment.
	DispatchMode DispatchMode

	ListenAddr string

	LogLevel  string
	LogJSON   bool
	LogFile   string

	RedisURL      string
	RedisKeyPrefix string

	MongoURL    string
	MongoDB     string

	KeepTemplateImages bool

	ProcessID int
}

// Defaults returns the zero-environment configuration.
func Defaults() Config {
	return Config{
		Workers:            4,
		QueueSize:          64,
		CacheSize:          256,
		MemLimitBytes:      512 << 20, // 512 MiB
		DispatchMode:       DispatchAsync,
		ListenAddr:         ":8080",
		LogLevel:           "info",
		LogJSON:            false,
		RedisKeyPrefix:     "sandboxd",
		MongoDB:            "sandboxd",
		KeepTemplateImages: true,
	}
}

// FromEnv layers SANDBOXD_* environment variables over defaults. Flags set
// in cmd/sandboxd override whatever this returns.
func FromEnv() Config {
	cfg := Defaults()

	if v := os.Getenv("SANDBOXD_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("SANDBOXD_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueSize = n
		}
	}
	if v := os.Getenv("SANDBOXD_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CacheSize = n
		}
	}
	if v := os.Getenv("SANDBOXD_MEM_LIMIT_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MemLimitBytes = n
		}
	}
	if v := os.Getenv("SANDBOXD_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("SANDBOXD_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SANDBOXD_LOG_JSON"); v != "" {
		cfg.LogJSON = v == "1" || v == "true"
	}
	if v := os.Getenv("SANDBOXD_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("SANDBOXD_REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("SANDBOXD_MONGO_URL"); v != "" {
		cfg.MongoURL = v
	}
	if v := os.Getenv("SANDBOXD_KEEP_TEMPLATE_IMAGES"); v != "" {
		cfg.KeepTemplateImages = v == "1" || v == "true"
	}
	if v := os.Getenv("SANDBOXD_PROCESS_ID"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ProcessID = n
		}
	}

	return cfg
}

// Validate rejects configurations the scheduler or queue cannot run with.
func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue size must be >= 1, got %d", c.QueueSize)
	}
	if c.CacheSize < 1 {
		return fmt.Errorf("cache size must be >= 1, got %d", c.CacheSize)
	}
	if c.MemLimitBytes < 1<<20 {
		return fmt.Errorf("mem limit must be >= 1 MiB, got %d bytes", c.MemLimitBytes)
	}
	return nil
}
