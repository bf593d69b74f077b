package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("CONFIG_FILE", path)
}

func TestLoadDefaultsAndFile(t *testing.T) {
	writeConfig(t, `
server:
  port: 9090
call_service:
  api_key: key_from_file
  agent_id: agent_from_file
  poll_interval: 2s
redis:
  enabled: true
`)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "key_from_file", cfg.CallService.APIKey)
	assert.Equal(t, 2*time.Second, cfg.CallService.PollInterval)
	assert.Equal(t, 3*time.Second, cfg.CallService.AnalysisGrace)
	assert.Equal(t, 600*time.Second, cfg.CallService.MaxWait)
	assert.Equal(t, 120*time.Second, cfg.CallService.RecoveryMaxWait)
	assert.Equal(t, 5, cfg.Campaign.MaxCandidates)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "campaign.progress", cfg.Redis.Channel)
	assert.NoError(t, cfg.Validate())
}

func TestEnvironmentSecretsWin(t *testing.T) {
	writeConfig(t, `
call_service:
  api_key: key_from_file
  agent_id: agent_from_file
`)
	t.Setenv("RETELL_API_KEY", "key_from_env")
	t.Setenv("FROM_NUMBER", "+14155550100")
	t.Setenv("SERVER_PORT", "7070")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "key_from_env", cfg.CallService.APIKey)
	assert.Equal(t, "agent_from_file", cfg.CallService.AgentID)
	assert.Equal(t, "+14155550100", cfg.CallService.FromNumber)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yml"))
	_, err := Load()
	assert.Error(t, err)
}

func TestValidateRejectsPlaceholders(t *testing.T) {
	writeConfig(t, `
call_service:
  api_key: your_retell_api_key_here
  agent_id: your_agent_id_here
  from_number: "+1 (415) 555-0100"
`)
	cfg, err := Load()
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "call_service.api_key still has its example value")
	assert.Contains(t, err.Error(), "call_service.agent_id still has its example value")
	assert.Contains(t, err.Error(), "call_service.from_number must be in E.164 format")
}

func TestValidateMissingCredentials(t *testing.T) {
	writeConfig(t, "server:\n  port: 8080\n")
	cfg, err := Load()
	require.NoError(t, err)
	assert.ErrorContains(t, cfg.Validate(), "call_service.api_key is required")
}

func TestValidateAuth(t *testing.T) {
	writeConfig(t, `
call_service:
  api_key: k
  agent_id: a
auth:
  enabled: true
  secret: short
`)
	cfg, err := Load()
	require.NoError(t, err)
	assert.ErrorContains(t, cfg.Validate(), "auth.secret")
}
