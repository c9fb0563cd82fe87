// Package store is the persisted key-value contract owned by the coordinator.
// Values are opaque JSON documents; callers serialize their own read-modify-write.
package store

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Keys used by the coordinator.
const (
	KeyPending = "pending_transactions"
	KeyHistory = "intercepted_transactions"
	KeyBadge   = "badge"
)

// Store is a process-wide key-value store that survives restarts.
// Get returns (nil, nil) for a key that was never written.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Driver    string `yaml:"driver"` // memory, file, sqlite, redis
	Path      string `yaml:"path"`   // directory for file, database file for sqlite
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
	RedisPass string `yaml:"redis_password"`
	Prefix    string `yaml:"prefix"`
}

// Open returns the backend named by cfg.Driver.
func Open(cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "file":
		return NewFile(cfg.Path)
	case "memory":
		return NewMemory(), nil
	case "sqlite":
		return OpenSQLite(cfg.Path)
	case "redis":
		return NewRedis(RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
			Prefix:   cfg.Prefix,
		})
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// validKey matches alphanumeric, dash, underscore, and dot characters only.
var validKey = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// ValidateKey rejects keys that could escape a directory or confuse a backend.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("key must not be empty")
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("key must not contain '..'")
	}
	if !validKey.MatchString(key) {
		return fmt.Errorf("key contains invalid characters: only alphanumeric, dash, underscore, and dot are allowed")
	}
	return nil
}
