package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 1, cfg.ConcurrencyLimit)
	assert.Equal(t, 30*time.Second, cfg.StartCooldown)
	assert.Equal(t, 10*time.Minute, cfg.BuildTimeout)
	assert.Equal(t, 50, cfg.ClarifyThreshold)
	assert.Equal(t, 5*time.Minute, cfg.ResponseTimeout)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 30*time.Minute, cfg.StreamLifetime)
	assert.Equal(t, 5, cfg.BreakerFailureThreshold)
	assert.Equal(t, 3, cfg.CallMaxAttempts)
	assert.False(t, cfg.DeployEnabled)
	assert.False(t, cfg.GitHubEnabled())
	assert.False(t, cfg.SlackEnabled())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CONCURRENCY_LIMIT", "4")
	t.Setenv("BUILD_TIMEOUT", "20m")
	t.Setenv("CLARIFY_THRESHOLD", "70")
	t.Setenv("AGENT_ARGS", "--verbose, --max-turns=40 ,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.ConcurrencyLimit)
	assert.Equal(t, 20*time.Minute, cfg.BuildTimeout)
	assert.Equal(t, 70, cfg.ClarifyThreshold)
	assert.Equal(t, []string{"--verbose", "--max-turns=40"}, cfg.AgentArgList())
}

func TestAgentArgList_Empty(t *testing.T) {
	cfg := &Config{}
	assert.Nil(t, cfg.AgentArgList())
}

func TestGitHubEnabled(t *testing.T) {
	cfg := &Config{GitHubAppID: 123, GitHubPrivateKeyPath: "/key.pem", GitHubOwner: "acme"}
	assert.True(t, cfg.GitHubEnabled())

	cfg.GitHubOwner = ""
	assert.False(t, cfg.GitHubEnabled())
}

func TestSlackEnabled(t *testing.T) {
	cfg := &Config{SlackBotToken: "xoxb-test", SlackChannel: "#builds"}
	assert.True(t, cfg.SlackEnabled())

	cfg.SlackChannel = ""
	assert.False(t, cfg.SlackEnabled())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero concurrency", func(c *Config) { c.ConcurrencyLimit = 0 }, "CONCURRENCY_LIMIT"},
		{"threshold too high", func(c *Config) { c.ClarifyThreshold = 101 }, "CLARIFY_THRESHOLD"},
		{"negative threshold", func(c *Config) { c.ClarifyThreshold = -1 }, "CLARIFY_THRESHOLD"},
		{"empty workspace", func(c *Config) { c.WorkspaceRoot = "" }, "WORKSPACE_ROOT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{ConcurrencyLimit: 1, ClarifyThreshold: 50, WorkspaceRoot: "./w"}
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
