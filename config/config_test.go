package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `{"server":{"jwt_secret":"0123456789abcdef0123"}}`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 30*24*time.Hour, cfg.Server.SessionTTL)
	assert.Equal(t, 500*time.Millisecond, cfg.Server.EventPoll)
	assert.Equal(t, "openai/gpt-4o", cfg.LLM.Model)
	assert.Equal(t, 15, cfg.LLM.MaxIterations)
	assert.Equal(t, 0.9, cfg.LLM.WrapUpRatio)
	assert.Equal(t, "localhost:6379", cfg.Storage.Redis.Addr())
	assert.Equal(t, "job.step", cfg.Worker.Stream)
	assert.Equal(t, time.Minute, cfg.Scheduler.Interval)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := writeConfig(t, `{"server":{"jwt_secret":"0123456789abcdef0123"},"llm":{"model":"file/model"}}`)
	t.Setenv("REALISM_LLM_MODEL", "env/model")
	t.Setenv("REALISM_SERVER_DEV_AUTH_BYPASS", "true")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "env/model", cfg.LLM.Model)
	assert.True(t, cfg.Server.DevAuthBypass)
}

func TestLoadConfigMissingFileUsesEnv(t *testing.T) {
	t.Setenv("REALISM_SERVER_JWT_SECRET", "0123456789abcdef0123")
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef0123", cfg.Server.JWTSecret)
}

func TestLoadConfigValidation(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `{"server":{"jwt_secret":"short"}}`))
	assert.ErrorContains(t, err, "jwt_secret")

	_, err = LoadConfig(writeConfig(t, `{"server":{"jwt_secret":"0123456789abcdef0123"},"llm":{"wrap_up_ratio":1.5}}`))
	assert.ErrorContains(t, err, "wrap_up_ratio")

	_, err = LoadConfig(writeConfig(t, `{not json`))
	assert.Error(t, err)
}
