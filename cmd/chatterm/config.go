package main

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"chatterm/internal/logger"
)

const (
	defaultServerURL    = "http://localhost:8000/api/v1"
	defaultLoggingLevel = logger.LevelWarn
	defaultEnvironment  = logger.EnvDev
	defaultTimeout      = 60 * time.Second
)

type Config struct {
	// Default logging level
	LogLevel string

	// Base URL of the chat service to talk to
	ServerURL string

	// Path to the local state database (tokens, preferences)
	// Empty means a per-user default location
	StatePath string

	// Timeout for a single HTTP exchange
	Timeout time.Duration

	// Environment
	Environment string
}

func NewConfig() *Config {
	return &Config{
		LogLevel:    defaultLoggingLevel,
		ServerURL:   defaultServerURL,
		Timeout:     defaultTimeout,
		Environment: defaultEnvironment,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		c.LoadEnv(func(key string) string {
			return envMap[key]
		})
		return nil
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) {
		return func(value string) {
			if value != "" {
				*o = value
			}
		}
	}
	setDuration := func(o *time.Duration) func(value string) {
		return func(value string) {
			if parsed, err := time.ParseDuration(value); err == nil {
				*o = parsed
			}
		}
	}

	envMap := map[string]func(string){
		"SERVER_URL":      setString(&c.ServerURL),
		"STATE_PATH":      setString(&c.StatePath),
		"LOG_LEVEL":       setString(&c.LogLevel),
		"REQUEST_TIMEOUT": setDuration(&c.Timeout),
		"ENVIRONMENT":     setString(&c.Environment),
	}

	for key, parseFn := range envMap {
		parseFn(getenv(key))
	}
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("chatterm", pflag.ContinueOnError)

	fs.StringVarP(&c.ServerURL, "server", "s", c.ServerURL, "Chat service base URL")
	fs.StringVarP(&c.StatePath, "state", "d", c.StatePath, "Path to the local state database")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.DurationVarP(&c.Timeout, "timeout", "t", c.Timeout, "Request timeout")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")

	return fs.Parse(args)
}

// ResolveStatePath fills the per-user default when no explicit path is set
func (c *Config) ResolveStatePath() (string, error) {
	if c.StatePath != "" {
		return c.StatePath, nil
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "chatterm", "state.db"), nil
}
