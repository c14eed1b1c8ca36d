// Package config reads console settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	DefaultAPIURL       = "http://localhost:8000/api"
	DefaultTimeout      = 10 * time.Second
	DefaultPollInterval = 30 * time.Second
	DefaultLogLevel     = logrus.InfoLevel
)

// Config holds the resolved settings.
type Config struct {
	APIURL       string
	AdminURL     string
	DataDir      string
	Timeout      time.Duration
	PollInterval time.Duration
	LogLevel     logrus.Level
}

// Load reads .env files (missing ones are ignored) and then the process
// environment. Values already set in the environment win over .env.
func Load(envFiles ...string) Config {
	if len(envFiles) == 0 {
		_ = godotenv.Load()
	} else {
		for _, f := range envFiles {
			_ = godotenv.Load(f)
		}
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables alone.
func FromEnv() Config {
	api := strings.TrimRight(getenv("HWSTORE_API_URL", DefaultAPIURL), "/")
	return Config{
		APIURL:       api,
		AdminURL:     getenv("HWSTORE_ADMIN_URL", adminURL(api)),
		DataDir:      getenv("HWSTORE_DATA_DIR", defaultDataDir()),
		Timeout:      duration("HWSTORE_TIMEOUT", DefaultTimeout),
		PollInterval: duration("HWSTORE_POLL_INTERVAL", DefaultPollInterval),
		LogLevel:     level("HWSTORE_LOG_LEVEL", DefaultLogLevel),
	}
}

// WithAPIURL points the config at another backend. An admin URL that was
// derived from the old API URL follows the new one.
func (c Config) WithAPIURL(api string) Config {
	api = strings.TrimRight(api, "/")
	if c.AdminURL == adminURL(c.APIURL) {
		c.AdminURL = adminURL(api)
	}
	c.APIURL = api
	return c
}

// SessionPath is where the persisted session lives.
func (c Config) SessionPath() string {
	return filepath.Join(c.DataDir, "session.db")
}

// LogPath is where the console writes its log while it owns the terminal.
func (c Config) LogPath() string {
	return filepath.Join(c.DataDir, "hwstore.log")
}

// EnsureDataDir creates the data directory with owner-only permissions.
func (c Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0700)
}

// adminURL guesses the backend admin site from the API base:
// http://host/api becomes http://host/admin/.
func adminURL(api string) string {
	return strings.TrimSuffix(api, "/api") + "/admin/"
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func duration(k string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(getenv(k, ""))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func level(k string, def logrus.Level) logrus.Level {
	l, err := logrus.ParseLevel(getenv(k, def.String()))
	if err != nil {
		return def
	}
	return l
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hwstore"
	}
	return filepath.Join(home, ".hwstore")
}
