/*
Package config loads server configuration.

SOURCES (later wins):
  1. Built-in defaults
  2. .env file in the working directory, if present
  3. Environment variables
  4. Command-line flags

VARIABLES:
  COMMISSION_PORT          HTTP port (8080)
  COMMISSION_DB            SQLite history path (commission.db), ":memory:" allowed,
                           empty disables history and stats
  COMMISSION_LOG_LEVEL     debug, info, warn, error (info)
  COMMISSION_RULES_FILE    YAML/JSON rule pack replacing the embedded defaults
  COMMISSION_STATS_TTL     stats cache TTL, Go duration (1m); 0 disables
  COMMISSION_RATE_LIMIT    requests per second on /api (50); 0 disables
  COMMISSION_CORS_ORIGINS  comma-separated allowed origins (*)
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        int
	DBPath      string
	LogLevel    slog.Level
	RulesFile   string
	StatsTTL    time.Duration
	RateLimit   float64
	CORSOrigins []string
}

func Defaults() Config {
	return Config{
		Port:        8080,
		DBPath:      "commission.db",
		LogLevel:    slog.LevelInfo,
		StatsTTL:    time.Minute,
		RateLimit:   50,
		CORSOrigins: []string{"*"},
	}
}

// Load builds the configuration for args (without the program name).
// A missing .env file is not an error.
func Load(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := FromEnv(Defaults())
	if err != nil {
		return Config{}, err
	}
	return cfg.ApplyFlags(args)
}

// FromEnv overlays COMMISSION_* variables on base.
func FromEnv(base Config) (Config, error) {
	cfg := base
	var errs []error

	if v, ok := os.LookupEnv("COMMISSION_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("COMMISSION_PORT: %w", err))
		}
		cfg.Port = port
	}
	if v, ok := os.LookupEnv("COMMISSION_DB"); ok {
		cfg.DBPath = v
	}
	if v, ok := os.LookupEnv("COMMISSION_LOG_LEVEL"); ok {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			errs = append(errs, fmt.Errorf("COMMISSION_LOG_LEVEL: %w", err))
		}
	}
	if v, ok := os.LookupEnv("COMMISSION_RULES_FILE"); ok {
		cfg.RulesFile = v
	}
	if v, ok := os.LookupEnv("COMMISSION_STATS_TTL"); ok {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("COMMISSION_STATS_TTL: %w", err))
		}
		cfg.StatsTTL = ttl
	}
	if v, ok := os.LookupEnv("COMMISSION_RATE_LIMIT"); ok {
		limit, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("COMMISSION_RATE_LIMIT: %w", err))
		}
		cfg.RateLimit = limit
	}
	if v, ok := os.LookupEnv("COMMISSION_CORS_ORIGINS"); ok {
		cfg.CORSOrigins = splitList(v)
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// ApplyFlags parses command-line flags on top of cfg.
func (c Config) ApplyFlags(args []string) (Config, error) {
	cfg := c
	fset := flag.NewFlagSet("server", flag.ContinueOnError)
	fset.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	fset.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite history path (empty disables stats)")
	fset.TextVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	fset.StringVar(&cfg.RulesFile, "rules", cfg.RulesFile, "rule pack file (default: embedded rules)")
	fset.DurationVar(&cfg.StatsTTL, "stats-ttl", cfg.StatsTTL, "stats cache TTL (0 disables)")
	fset.Float64Var(&cfg.RateLimit, "rate-limit", cfg.RateLimit, "API requests per second (0 disables)")
	origins := fset.String("cors-origins", strings.Join(cfg.CORSOrigins, ","), "comma-separated CORS origins")

	if err := fset.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.CORSOrigins = splitList(*origins)
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.StatsTTL < 0 {
		errs = append(errs, fmt.Errorf("stats TTL must not be negative"))
	}
	if c.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rate limit must not be negative"))
	}
	return errors.Join(errs...)
}

func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
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
