package config

import (
	"os"
	"path/filepath"
	"testing"

	"teamflow/internal/testutil"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDotenvSupport(t *testing.T) {
	tempDir := testutil.CreateTempDir(t)

	envContent := `TEAMFLOW_TEST_API_KEY=secret-key-123
TEAMFLOW_TEST_DB=/var/lib/teamflow/runs.db`
	envPath := testutil.CreateTempFile(t, tempDir, ".env", envContent)

	require.NoError(t, godotenv.Load(envPath))
	t.Cleanup(func() {
		os.Unsetenv("TEAMFLOW_TEST_API_KEY")
		os.Unsetenv("TEAMFLOW_TEST_DB")
	})

	assert.Equal(t, "secret-key-123", os.Getenv("TEAMFLOW_TEST_API_KEY"))

	// Test that config can reference environment variables
	configContent := `server:
  api_key: "${TEAMFLOW_TEST_API_KEY}"
store:
  driver: sqlite
  path: "${TEAMFLOW_TEST_DB}"
agents:
  - id: lead
    type: debug`
	configPath := testutil.CreateTempFile(t, tempDir, DefaultConfigFile, configContent)

	cfg, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "secret-key-123", cfg.Server.APIKey)
	assert.Equal(t, "/var/lib/teamflow/runs.db", cfg.Store.Path)
}

func TestDotenvOptional(t *testing.T) {
	tempDir := testutil.CreateTempDir(t)

	// a missing .env is reported but the CLI ignores it
	err := godotenv.Load(filepath.Join(tempDir, ".env"))
	assert.Error(t, err)

	configContent := `server:
  api_key: direct-key
agents:
  - id: lead
    type: debug`
	configPath := testutil.CreateTempFile(t, tempDir, DefaultConfigFile, configContent)

	cfg, err := LoadConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, "direct-key", cfg.Server.APIKey)
}
