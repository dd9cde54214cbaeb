// Package config reads service configuration from the environment, with an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"

	"github.com/matthewbaird/schemacanvas/internal/activity"
	"github.com/matthewbaird/schemacanvas/internal/eventbus"
	"github.com/matthewbaird/schemacanvas/internal/gateway"
	"github.com/matthewbaird/schemacanvas/internal/layoutstore"
	"github.com/matthewbaird/schemacanvas/internal/types"
)

// Config is the full service configuration.
type Config struct {
	Port       int    `validate:"gt=0,lte=65535"`
	LogLevel   string `validate:"oneof=debug info warn error"`
	PrettyLogs bool

	Backend        gateway.Config
	DebounceWindow time.Duration `validate:"gt=0"`
	Layout         layoutstore.Options
	Activity       activity.Options

	SessionMaxAge          time.Duration `validate:"gte=0"`
	SessionIdleTimeout     time.Duration `validate:"gte=0"`
	SessionCleanupSchedule string        `validate:"required"`

	AllowOrigins []string `validate:"min=1"`

	// Canvas events go to Kafka when brokers are set.
	Kafka eventbus.KafkaConfig
}

var defaults = map[string]string{
	"PORT":                     "8080",
	"LOG_LEVEL":                "info",
	"PRETTY_LOGS":              "false",
	"BACKEND_URL":              "http://localhost:8000/api",
	"BACKEND_TOKEN":            "",
	"BACKEND_TIMEOUT":          "30s",
	"DEBOUNCE_WINDOW":          "500ms",
	"LAYOUT_STORE":             layoutstore.KindMemory,
	"SQLITE_DSN":               "file:layout.db",
	"REDIS_ADDR":               "localhost:6379",
	"REDIS_PASSWORD":           "",
	"REDIS_DB":                 "0",
	"ACTIVITY_STORE":           activity.KindMemory,
	"ACTIVITY_SQLITE_DSN":      "file:activity.db",
	"SESSION_MAX_AGE":          "24h",
	"SESSION_IDLE_TIMEOUT":     "30m",
	"SESSION_CLEANUP_SCHEDULE": "@every 5m",
	"ALLOW_ORIGINS":            "*",
	"EVENTS_KAFKA_BROKERS":     "",
	"EVENTS_KAFKA_TOPIC":       eventbus.DefaultKafkaTopic,
}

// Load reads the given .env files (a missing file is not an error), then
// builds and validates the configuration from the environment. Variables
// already set in the environment win over .env values.
func Load(envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds the configuration from a variable lookup function.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	get := func(key string) string {
		if v, ok := lookup(key); ok {
			return v
		}
		return defaults[key]
	}

	var errs []error
	duration := func(key string) time.Duration {
		d, err := cast.ToDurationE(get(key))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return d
	}
	integer := func(key string) int {
		n, err := cast.ToIntE(get(key))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return n
	}
	boolean := func(key string) bool {
		b, err := cast.ToBoolE(get(key))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return b
	}

	cfg := Config{
		Port:       integer("PORT"),
		LogLevel:   strings.ToLower(get("LOG_LEVEL")),
		PrettyLogs: boolean("PRETTY_LOGS"),
		Backend: gateway.Config{
			BaseURL: get("BACKEND_URL"),
			Token:   get("BACKEND_TOKEN"),
			Timeout: duration("BACKEND_TIMEOUT"),
		},
		DebounceWindow: duration("DEBOUNCE_WINDOW"),
		Layout: layoutstore.Options{
			Kind:          strings.ToLower(get("LAYOUT_STORE")),
			SQLiteDSN:     get("SQLITE_DSN"),
			RedisAddr:     get("REDIS_ADDR"),
			RedisPassword: get("REDIS_PASSWORD"),
			RedisDB:       integer("REDIS_DB"),
		},
		Activity: activity.Options{
			Kind:      strings.ToLower(get("ACTIVITY_STORE")),
			SQLiteDSN: get("ACTIVITY_SQLITE_DSN"),
		},
		SessionMaxAge:          duration("SESSION_MAX_AGE"),
		SessionIdleTimeout:     duration("SESSION_IDLE_TIMEOUT"),
		SessionCleanupSchedule: get("SESSION_CLEANUP_SCHEDULE"),
		AllowOrigins:           splitList(get("ALLOW_ORIGINS")),
		Kafka: eventbus.KafkaConfig{
			Brokers: eventbus.ParseBrokers(get("EVENTS_KAFKA_BROKERS")),
			Topic:   get("EVENTS_KAFKA_TOPIC"),
		},
	}
	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	if err := types.Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
