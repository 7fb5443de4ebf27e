package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p-blackswan/forge/internal/api"
	"github.com/p-blackswan/forge/internal/broadcast"
	"github.com/p-blackswan/forge/internal/clarify"
	"github.com/p-blackswan/forge/internal/config"
	"github.com/p-blackswan/forge/internal/deploy"
	"github.com/p-blackswan/forge/internal/health"
	"github.com/p-blackswan/forge/internal/metrics"
	"github.com/p-blackswan/forge/internal/notify"
	"github.com/p-blackswan/forge/internal/orchestrator"
	"github.com/p-blackswan/forge/internal/publish"
	"github.com/p-blackswan/forge/internal/resilience"
	"github.com/p-blackswan/forge/internal/runner"
	"github.com/p-blackswan/forge/internal/session"
	"github.com/p-blackswan/forge/internal/store"
	"github.com/p-blackswan/forge/pkg/tokenstore"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("listen_addr", cfg.ListenAddr).
		Bool("github_enabled", cfg.GitHubEnabled()).
		Bool("deploy_enabled", cfg.DeployEnabled).
		Bool("slack_enabled", cfg.SlackEnabled()).
		Msg("starting forge")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Persistence
	db, err := store.New(cfg.DBPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer db.Close()

	// Health checker
	checker := health.NewChecker(logger)

	// Metrics
	m := metrics.New()

	// Breakers for every outside collaborator
	breakers := resilience.NewRegistry(resilience.BreakerConfig{
		FailureThreshold:  cfg.BreakerFailureThreshold,
		ResetTimeout:      cfg.BreakerResetTimeout,
		HalfOpenSuccesses: cfg.BreakerHalfOpenSuccesses,
	}, logger)

	// Clarification detection
	patterns := clarify.DefaultPatterns()
	if cfg.ClarifyPatternsFile != "" {
		patterns, err = clarify.LoadPatterns(cfg.ClarifyPatternsFile)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.ClarifyPatternsFile).Msg("failed to load clarify patterns")
		}
		logger.Info().Str("path", cfg.ClarifyPatternsFile).Msg("clarify patterns loaded from file")
	}
	detector := clarify.NewDetector(clarify.DetectorConfig{
		Threshold: cfg.ClarifyThreshold,
		Patterns:  patterns,
	})
	sessions := session.NewManager(detector, cfg.ResponseTimeout, logger)

	// Live feed hub
	hub := broadcast.NewHub(cfg.ReplayProjects, logger)

	// GitHub publisher (optional)
	var publisher publish.Publisher
	tokens := tokenstore.NewMemoryStore()
	tokenstore.StartJanitor(ctx, tokens, 10*time.Minute)
	if cfg.GitHubEnabled() {
		ghClient, ghErr := publish.NewClient(
			cfg.GitHubAppID,
			cfg.GitHubInstallationID,
			cfg.GitHubPrivateKeyPath,
			tokens,
			logger,
		)
		if ghErr != nil {
			logger.Warn().Err(ghErr).Msg("failed to init GitHub client (non-fatal)")
		} else {
			publisher = publish.NewGitHubPublisher(ghClient, cfg.GitHubOwner, logger)
			logger.Info().Msg("GitHub publisher initialized")
			checker.Register("github", func(ctx context.Context) health.Status {
				if _, err := ghClient.GetInstallationClient(ctx); err != nil {
					return health.StatusDown
				}
				return health.StatusOK
			})
		}
	} else {
		logger.Info().Msg("GitHub not configured — builds will not be published")
	}

	// Deploy target: cluster when configured, local preview otherwise
	var deployer deploy.Target
	if cfg.DeployEnabled {
		k8sTarget, k8sErr := deploy.NewKubernetesTarget(deploy.KubernetesConfig{
			KubeconfigPath: cfg.KubeconfigPath,
			Namespace:      cfg.DeployNamespace,
			BaseDomain:     cfg.DeployDomain,
			DefaultImage:   cfg.DeployImage,
		}, logger)
		if k8sErr != nil {
			logger.Fatal().Err(k8sErr).Msg("failed to init kubernetes deploy target")
		}
		deployer = k8sTarget
	} else {
		local := deploy.NewLocalTarget(logger)
		defer local.Close()
		deployer = local
		logger.Info().Msg("cluster deploy not configured — serving builds locally")
	}

	// Slack notifier (optional)
	var notifier notify.Notifier
	if cfg.SlackEnabled() {
		notifier = notify.NewSlackNotifier(cfg.SlackBotToken, cfg.SlackChannel, logger)
		logger.Info().Str("channel", cfg.SlackChannel).Msg("Slack notifier initialized")
	} else {
		logger.Info().Msg("Slack not configured — no build notifications")
	}

	// The coding agent
	agent := runner.NewExecAgent(cfg.AgentBin, cfg.AgentArgList(), logger)

	orch := orchestrator.New(cfg, orchestrator.Deps{
		Store:     db,
		Hub:       hub,
		Sessions:  sessions,
		Agent:     agent,
		Breakers:  breakers,
		Metrics:   m,
		Publisher: publisher,
		Deployer:  deployer,
		Notifier:  notifier,
	}, logger)

	// Export breaker states
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, snap := range breakers.Snapshots() {
					var v float64
					switch snap.State {
					case resilience.StateHalfOpen:
						v = 1
					case resilience.StateOpen:
						v = 2
					}
					m.BreakerState.WithLabelValues(snap.Name).Set(v)
				}
			}
		}
	}()

	handlers := api.NewHandlers(orch, db, hub, checker, breakers, m, api.StreamConfig{
		Heartbeat: cfg.HeartbeatInterval,
		Lifetime:  cfg.StreamLifetime,
	}, logger)

	server := api.NewServer(api.ServerConfig{
		ListenAddr: cfg.ListenAddr,
		RateLimit: api.RateLimitConfig{
			RPS:   cfg.RateLimitRPS,
			Burst: cfg.RateLimitBurst,
		},
		CORSOrigins: cfg.CORSOrigins,
	}, handlers, m, logger)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("api server error")
		}
	}()

	// Wait for shutdown signal
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

	cancel()

	if err := server.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("api server shutdown error")
	}

	orch.Close()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	logger.Info().Msg("forge stopped")
}
