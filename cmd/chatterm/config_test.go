package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfig(t *testing.T) {
	t.Run("set default option", func(t *testing.T) {
		c := NewConfig()

		require.Equal(t, "http://localhost:8000/api/v1", c.ServerURL, "default server url not set")
		require.Equal(t, "warn", c.LogLevel, "default log level not set")
		require.Equal(t, "", c.StatePath, "state path should be empty by default")
		require.Equal(t, 60*time.Second, c.Timeout, "default timeout not set")
		require.Equal(t, "dev", c.Environment, "default environment not set")
	})

	t.Run("load env", func(t *testing.T) {
		c := NewConfig()
		getenv := func(key string) string {
			switch key {
			case "SERVER_URL":
				return "http://chat.example.com/api/v1"
			case "STATE_PATH":
				return "/tmp/chatterm.db"
			case "LOG_LEVEL":
				return "debug"
			case "REQUEST_TIMEOUT":
				return "15s"
			case "ENVIRONMENT":
				return "prod"
			default:
				return ""
			}
		}

		c.LoadEnv(getenv)

		require.Equal(t, "http://chat.example.com/api/v1", c.ServerURL)
		require.Equal(t, "/tmp/chatterm.db", c.StatePath)
		require.Equal(t, "debug", c.LogLevel)
		require.Equal(t, 15*time.Second, c.Timeout)
		require.Equal(t, "prod", c.Environment)
	})

	t.Run("load env ignores empty and broken values", func(t *testing.T) {
		c := NewConfig()
		getenv := func(key string) string {
			if key == "REQUEST_TIMEOUT" {
				return "not-a-duration"
			}
			return ""
		}

		c.LoadEnv(getenv)

		require.Equal(t, "http://localhost:8000/api/v1", c.ServerURL, "empty env must not override defaults")
		require.Equal(t, 60*time.Second, c.Timeout, "unparsable duration must be ignored")
	})

	t.Run("parse flags", func(t *testing.T) {
		t.Run("valid flags", func(t *testing.T) {
			tests := []struct {
				name  string
				flags []string
			}{
				{
					name: "short",
					flags: []string{
						"-s", "http://chat.example.com/api/v1",
						"-d", "/tmp/chatterm.db",
						"-l", "debug",
						"-t", "15s",
						"-e", "prod",
					},
				},
				{
					name: "long",
					flags: []string{
						"--server", "http://chat.example.com/api/v1",
						"--state", "/tmp/chatterm.db",
						"--log-level", "debug",
						"--timeout", "15s",
						"--environment", "prod",
					},
				},
			}

			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					c := NewConfig()

					err := c.ParseFlags(tt.flags)

					require.NoError(t, err, "correct flags must parsed without error")
					require.Equal(t, "http://chat.example.com/api/v1", c.ServerURL)
					require.Equal(t, "/tmp/chatterm.db", c.StatePath)
					require.Equal(t, "debug", c.LogLevel)
					require.Equal(t, 15*time.Second, c.Timeout)
					require.Equal(t, "prod", c.Environment)
				})
			}
		})

		t.Run("invalid flags", func(t *testing.T) {
			c := NewConfig()

			err := c.ParseFlags([]string{
				"--invalid-flag", "value",
			})

			require.Error(t, err, "invalid flag should return an error")
		})
	})

	t.Run("resolve state path", func(t *testing.T) {
		t.Run("explicit path wins", func(t *testing.T) {
			c := NewConfig()
			c.StatePath = "/tmp/explicit.db"

			path, err := c.ResolveStatePath()

			require.NoError(t, err)
			require.Equal(t, "/tmp/explicit.db", path)
		})

		t.Run("default path is per user", func(t *testing.T) {
			c := NewConfig()

			path, err := c.ResolveStatePath()

			require.NoError(t, err)
			require.Equal(t, "state.db", filepath.Base(path))
			require.Contains(t, path, "chatterm")
		})
	})
}
