package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
// Every timing and threshold constant in the orchestrator is configuration,
// not code; the defaults below are the tuned production values.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	ListenAddr  string `envconfig:"LISTEN_ADDR" default:":8080"`
	DBPath      string `envconfig:"DB_PATH" default:"forge.db"`

	// Build orchestration
	WorkspaceRoot    string        `envconfig:"WORKSPACE_ROOT" default:"./workspaces"`
	ConcurrencyLimit int           `envconfig:"CONCURRENCY_LIMIT" default:"1"`
	StartCooldown    time.Duration `envconfig:"START_COOLDOWN" default:"30s"`
	BuildTimeout     time.Duration `envconfig:"BUILD_TIMEOUT" default:"10m"`

	// Coding agent process
	AgentBin  string `envconfig:"AGENT_BIN" default:"claude"`
	AgentArgs string `envconfig:"AGENT_ARGS"` // comma-separated extra args

	// Clarification detection
	ClarifyThreshold    int           `envconfig:"CLARIFY_THRESHOLD" default:"50"`
	ClarifyPatternsFile string        `envconfig:"CLARIFY_PATTERNS_FILE"` // optional YAML override
	ResponseTimeout     time.Duration `envconfig:"RESPONSE_TIMEOUT" default:"5m"`

	// Live progress feed
	HeartbeatInterval time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"30s"`
	StreamLifetime    time.Duration `envconfig:"STREAM_LIFETIME" default:"30m"`
	ReplayProjects    int           `envconfig:"REPLAY_PROJECTS" default:"64"` // bounded replay cache size

	// Resilience
	BreakerFailureThreshold  int           `envconfig:"BREAKER_FAILURE_THRESHOLD" default:"5"`
	BreakerResetTimeout      time.Duration `envconfig:"BREAKER_RESET_TIMEOUT" default:"60s"`
	BreakerHalfOpenSuccesses int           `envconfig:"BREAKER_HALF_OPEN_SUCCESSES" default:"3"`
	CallTimeout              time.Duration `envconfig:"CALL_TIMEOUT" default:"30s"`
	CallMaxAttempts          int           `envconfig:"CALL_MAX_ATTEMPTS" default:"3"`

	// HTTP middleware
	RateLimitRPS   int    `envconfig:"RATE_LIMIT_RPS" default:"100"`
	RateLimitBurst int    `envconfig:"RATE_LIMIT_BURST" default:"200"`
	CORSOrigins    string `envconfig:"CORS_ORIGINS"`

	// GitHub publish collaborator (optional — publish disabled without it)
	GitHubAppID          int64  `envconfig:"GITHUB_APP_ID"`
	GitHubInstallationID int64  `envconfig:"GITHUB_INSTALLATION_ID"`
	GitHubPrivateKeyPath string `envconfig:"GITHUB_PRIVATE_KEY_PATH"`
	GitHubOwner          string `envconfig:"GITHUB_OWNER"`

	// Kubernetes deploy collaborator (optional)
	DeployEnabled   bool   `envconfig:"DEPLOY_ENABLED" default:"false"`
	KubeconfigPath  string `envconfig:"KUBECONFIG_PATH"`
	DeployNamespace string `envconfig:"DEPLOY_NAMESPACE" default:"forge-apps"`
	DeployImage     string `envconfig:"DEPLOY_IMAGE" default:"ghcr.io/p-blackswan/forge-runtime:latest"`
	DeployDomain    string `envconfig:"DEPLOY_DOMAIN"` // e.g. apps.example.com

	// Slack notifier (optional)
	// Prefixed with FORGE_ to keep other bots from auto-detecting the token
	SlackBotToken string `envconfig:"FORGE_SLACK_BOT_TOKEN"`
	SlackChannel  string `envconfig:"FORGE_SLACK_CHANNEL"`
}

// AgentArgList returns the parsed extra agent args.
func (c *Config) AgentArgList() []string {
	if c.AgentArgs == "" {
		return nil
	}
	parts := strings.Split(c.AgentArgs, ",")
	args := make([]string, 0, len(parts))
	for _, a := range parts {
		a = strings.TrimSpace(a)
		if a != "" {
			args = append(args, a)
		}
	}
	return args
}

// GitHubEnabled returns true if GitHub App credentials are configured.
func (c *Config) GitHubEnabled() bool {
	return c.GitHubAppID > 0 && c.GitHubPrivateKeyPath != "" && c.GitHubOwner != ""
}

// SlackEnabled returns true if Slack notification settings are configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackChannel != ""
}

// Validate checks cross-field constraints that envconfig cannot express.
func (c *Config) Validate() error {
	if c.ConcurrencyLimit < 1 {
		return fmt.Errorf("CONCURRENCY_LIMIT must be >= 1, got %d", c.ConcurrencyLimit)
	}
	if c.ClarifyThreshold < 0 || c.ClarifyThreshold > 100 {
		return fmt.Errorf("CLARIFY_THRESHOLD must be in [0,100], got %d", c.ClarifyThreshold)
	}
	if c.WorkspaceRoot == "" {
		return fmt.Errorf("WORKSPACE_ROOT must not be empty")
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
