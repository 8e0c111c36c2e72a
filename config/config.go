// Package config loads server and engine settings from the environment.
// A .env file in the working directory is read first when present; values
// already set in the environment win.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates application configuration values.
type Config struct {
	HTTP       HTTPConfig
	Store      StoreConfig
	Attendance AttendanceConfig
	Scheduler  SchedulerConfig
	Logging    LoggingConfig
}

// HTTPConfig governs HTTP server behaviour.
type HTTPConfig struct {
	Port              int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	AllowedOriginsCSV string
}

// AllowedOrigins splits the CSV; empty means "*".
func (c HTTPConfig) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOriginsCSV, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// StoreConfig selects the tree store. Path "memory" uses the in-process store.
type StoreConfig struct {
	Path string
}

// InMemory reports whether the in-process store was requested.
func (c StoreConfig) InMemory() bool { return c.Path == MemoryStore }

// AttendanceConfig tunes the reconciliation engine.
type AttendanceConfig struct {
	Timezone       string
	LateGrace      time.Duration
	DefaultStart   string
	CategoryStarts map[string]string
	ThresholdsFile string
	Timeout        time.Duration
	MaxRetries     int
}

// SchedulerConfig controls the nightly absence sweep.
type SchedulerConfig struct {
	Enabled      bool
	AbsenceCron  string
	LookbackDays int
}

// LoggingConfig controls structured logging settings.
type LoggingConfig struct {
	Level         string
	Format        string // text|json
	IncludeCaller bool
}

const (
	MemoryStore = "memory"

	defaultPort            = 8080
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 15 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 30 * time.Second
	defaultDBPath          = "attendance.db"
	defaultTimezone        = "America/Mexico_City"
	defaultLateGrace       = 15 * time.Minute
	defaultStart           = "09:00"
	defaultReconcileWait   = 5 * time.Second
	defaultMaxRetries      = 3
	defaultAbsenceCron     = "0 2 * * *"
	defaultLookbackDays    = 7
	defaultLoggingLevel    = "info"
	defaultLoggingFormat   = "text"
)

// Load reads a .env file if present, then the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv reads configuration from environment variables, applying defaults.
func FromEnv() (Config, error) {
	cfg := Config{
		HTTP: HTTPConfig{
			AllowedOriginsCSV: os.Getenv("SERVER_ALLOWED_ORIGINS"),
		},
		Store: StoreConfig{
			Path: valueOrDefault("DB_PATH", defaultDBPath),
		},
		Attendance: AttendanceConfig{
			Timezone:       valueOrDefault("ORG_TIMEZONE", defaultTimezone),
			DefaultStart:   valueOrDefault("DEFAULT_START", defaultStart),
			ThresholdsFile: os.Getenv("THRESHOLDS_FILE"),
			MaxRetries:     parseIntWithDefault("RECONCILE_MAX_RETRIES", defaultMaxRetries),
		},
		Scheduler: SchedulerConfig{
			Enabled:      parseBoolWithDefault("SCHEDULER_ENABLED", true),
			AbsenceCron:  valueOrDefault("ABSENCE_CRON", defaultAbsenceCron),
			LookbackDays: parseIntWithDefault("ABSENCE_LOOKBACK_DAYS", defaultLookbackDays),
		},
		Logging: LoggingConfig{
			Level:         valueOrDefault("LOG_LEVEL", defaultLoggingLevel),
			Format:        valueOrDefault("LOG_FORMAT", defaultLoggingFormat),
			IncludeCaller: parseBoolWithDefault("LOG_INCLUDE_CALLER", false),
		},
	}

	port, err := parsePort("SERVER_PORT", defaultPort)
	if err != nil {
		return Config{}, err
	}
	cfg.HTTP.Port = port

	durations := []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"SERVER_READ_TIMEOUT", defaultReadTimeout, &cfg.HTTP.ReadTimeout},
		{"SERVER_WRITE_TIMEOUT", defaultWriteTimeout, &cfg.HTTP.WriteTimeout},
		{"SERVER_IDLE_TIMEOUT", defaultIdleTimeout, &cfg.HTTP.IdleTimeout},
		{"SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout, &cfg.HTTP.ShutdownTimeout},
		{"LATE_GRACE", defaultLateGrace, &cfg.Attendance.LateGrace},
		{"RECONCILE_TIMEOUT", defaultReconcileWait, &cfg.Attendance.Timeout},
	}
	for _, d := range durations {
		v, err := parseDurationWithDefault(d.key, d.fallback)
		if err != nil {
			return Config{}, err
		}
		*d.dst = v
	}

	starts, err := parseStarts(os.Getenv("CATEGORY_STARTS"))
	if err != nil {
		return Config{}, err
	}
	cfg.Attendance.CategoryStarts = starts

	if cfg.Attendance.MaxRetries < 1 {
		cfg.Attendance.MaxRetries = 1
	}
	return cfg, nil
}

func valueOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBoolWithDefault(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		val, err := strconv.ParseBool(v)
		if err != nil {
			return fallback
		}
		return val
	}
	return fallback
}

func parseIntWithDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			return val
		}
	}
	return fallback
}

func parseDurationWithDefault(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func parsePort(key string, fallback int) (int, error) {
	if v := os.Getenv(key); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
		}
		if port <= 0 || port > 65535 {
			return 0, fmt.Errorf("port %d is out of range", port)
		}
		return port, nil
	}
	return fallback, nil
}

// parseStarts reads "taller=19:00,reunion_grupo=20:30".
func parseStarts(csv string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(csv, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		cat, start, ok := strings.Cut(pair, "=")
		cat, start = strings.TrimSpace(cat), strings.TrimSpace(start)
		if !ok || cat == "" || start == "" {
			return nil, fmt.Errorf("invalid CATEGORY_STARTS entry %q (use category=HH:MM)", pair)
		}
		if _, err := time.Parse("15:04", start); err != nil {
			return nil, fmt.Errorf("invalid CATEGORY_STARTS time for %s: %w", cat, err)
		}
		out[cat] = start
	}
	return out, nil
}
