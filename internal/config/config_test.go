package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_CreatesDirWithDefaults(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "home")

	cfg, err := Load(Options{ConfigDir: dir})
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())

	assert.Equal(t, filepath.Join(dir, DefaultConfigFile), cfg.ConfigPath)
	assert.Equal(t, filepath.Join(dir, DefaultPolicyFile), cfg.PolicyPath)
	assert.Equal(t, filepath.Join(dir, DefaultPacksDir), cfg.PacksDir)
	assert.Equal(t, filepath.Join(dir, DefaultLogFile), cfg.LogPath)
	assert.Equal(t, 2, cfg.Governance.MaxRetries)
	assert.True(t, cfg.Log.Audit)
}

func TestLoad_EnvHome(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvHome, dir)

	cfg, err := Load(Options{})
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.ConfigDir)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(`
governance:
  max_retries: 4
  json_only: true
llm:
  base_url: http://localhost:11434/v1
  timeout: 15s
log:
  audit: false
`), 0600))

	cfg, err := Load(Options{ConfigDir: dir})
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Governance.MaxRetries)
	assert.True(t, cfg.Governance.JSONOnly)
	assert.Equal(t, "http://localhost:11434/v1", cfg.LLM.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.LLM.Timeout)
	assert.False(t, cfg.Log.Audit)

	// untouched fields keep defaults
	assert.Equal(t, "OPENAI_API_KEY", cfg.LLM.APIKeyEnv)
	assert.Equal(t, 30, cfg.LLM.RequestsPerMinute)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_PathOverrides(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(Options{
		ConfigDir:  dir,
		PolicyPath: "/etc/outputguard/policy.yaml",
		LogPath:    filepath.Join(dir, "custom.jsonl"),
	})
	require.NoError(t, err)
	assert.Equal(t, "/etc/outputguard/policy.yaml", cfg.PolicyPath)
	assert.Equal(t, filepath.Join(dir, "custom.jsonl"), cfg.LogPath)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad yaml":         "governance: [",
		"negative retries": "governance:\n  max_retries: -1\n",
		"bad duration":     "llm:\n  timeout: soon\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(body), 0600))
			_, err := Load(Options{ConfigDir: dir})
			assert.Error(t, err)
		})
	}
}

func TestAPIKey(t *testing.T) {
	cfg := Default()
	cfg.LLM.APIKeyEnv = "OUTPUTGUARD_TEST_KEY"
	t.Setenv("OUTPUTGUARD_TEST_KEY", "sk-test")
	assert.Equal(t, "sk-test", cfg.APIKey())

	cfg.LLM.APIKeyEnv = ""
	assert.Empty(t, cfg.APIKey())
}
