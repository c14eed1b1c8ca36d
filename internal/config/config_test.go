package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"HWSTORE_API_URL", "HWSTORE_ADMIN_URL", "HWSTORE_DATA_DIR", "HWSTORE_TIMEOUT", "HWSTORE_POLL_INTERVAL", "HWSTORE_LOG_LEVEL"} {
		t.Setenv(k, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	cfg := FromEnv()
	assert.Equal(t, DefaultAPIURL, cfg.APIURL)
	assert.Equal(t, "http://localhost:8000/admin/", cfg.AdminURL)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, DefaultPollInterval, cfg.PollInterval)
	assert.Equal(t, logrus.InfoLevel, cfg.LogLevel)
	assert.Equal(t, ".hwstore", filepath.Base(cfg.DataDir))
}

func TestFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("HWSTORE_API_URL", "https://shop.example.com/api/")
	t.Setenv("HWSTORE_DATA_DIR", "/tmp/hw")
	t.Setenv("HWSTORE_TIMEOUT", "3s")
	t.Setenv("HWSTORE_POLL_INTERVAL", "1m")
	t.Setenv("HWSTORE_LOG_LEVEL", "debug")

	cfg := FromEnv()
	assert.Equal(t, "https://shop.example.com/api", cfg.APIURL)
	assert.Equal(t, "https://shop.example.com/admin/", cfg.AdminURL)
	assert.Equal(t, "/tmp/hw", cfg.DataDir)
	assert.Equal(t, 3*time.Second, cfg.Timeout)
	assert.Equal(t, time.Minute, cfg.PollInterval)
	assert.Equal(t, logrus.DebugLevel, cfg.LogLevel)
	assert.Equal(t, "/tmp/hw/session.db", cfg.SessionPath())
	assert.Equal(t, "/tmp/hw/hwstore.log", cfg.LogPath())
}

func TestInvalidValuesFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("HWSTORE_TIMEOUT", "soon")
	t.Setenv("HWSTORE_POLL_INTERVAL", "-5s")
	t.Setenv("HWSTORE_LOG_LEVEL", "loud")

	cfg := FromEnv()
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, DefaultPollInterval, cfg.PollInterval)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
}

func TestLoadReadsEnvFile(t *testing.T) {
	clearEnv(t)
	// godotenv never overrides a variable that is set, even to "".
	os.Unsetenv("HWSTORE_API_URL")
	t.Setenv("HWSTORE_TIMEOUT", "7s")
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("HWSTORE_API_URL=http://mock:9000/api\nHWSTORE_TIMEOUT=1s\n"), 0600))

	cfg := Load(path)
	assert.Equal(t, "http://mock:9000/api", cfg.APIURL)
	assert.Equal(t, 7*time.Second, cfg.Timeout, "environment wins over .env")
}

func TestEnsureDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "hw")
	cfg := Config{DataDir: dir}
	require.NoError(t, cfg.EnsureDataDir())
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestAdminURLOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("HWSTORE_API_URL", "https://api.example.com")
	assert.Equal(t, "https://api.example.com/admin/", FromEnv().AdminURL)

	t.Setenv("HWSTORE_ADMIN_URL", "https://admin.example.com/")
	assert.Equal(t, "https://admin.example.com/", FromEnv().AdminURL)
}

func TestWithAPIURL(t *testing.T) {
	clearEnv(t)
	cfg := FromEnv().WithAPIURL("http://127.0.0.1:9000/api/")
	assert.Equal(t, "http://127.0.0.1:9000/api", cfg.APIURL)
	assert.Equal(t, "http://127.0.0.1:9000/admin/", cfg.AdminURL)

	t.Setenv("HWSTORE_ADMIN_URL", "https://admin.example.com/")
	cfg = FromEnv().WithAPIURL("http://127.0.0.1:9000/api")
	assert.Equal(t, "https://admin.example.com/", cfg.AdminURL)
}
