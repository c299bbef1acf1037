package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/giantswarm/mcp-oauth/storage/memory"

	"github.com/teemow/inboxpilot/internal/backends"
	"github.com/teemow/inboxpilot/internal/checkpoint"
	"github.com/teemow/inboxpilot/internal/credentials"
	"github.com/teemow/inboxpilot/internal/instrumentation"
	"github.com/teemow/inboxpilot/internal/llm"
	"github.com/teemow/inboxpilot/internal/logging"
	"github.com/teemow/inboxpilot/internal/server"
	"github.com/teemow/inboxpilot/internal/service"
	"github.com/teemow/inboxpilot/internal/tools/google_tools"
	"github.com/teemow/inboxpilot/internal/tools/memory_tools"
	"github.com/teemow/inboxpilot/internal/workspace"
)

// Storage backend names.
const (
	storeMemory   = "memory"
	storePostgres = "postgres"
	storePGX      = "pgx"
	storeRedis    = "redis"
)

// MetricsConfig holds configuration for the metrics server
type MetricsConfig struct {
	// Enabled determines whether to start the metrics server (default: true)
	Enabled bool

	// Addr is the address for the metrics server (e.g., ":9090")
	Addr string
}

// StorageConfig selects where credentials and checkpoints are kept.
type StorageConfig struct {
	// Credentials is "memory", "postgres" (lib/pq) or "pgx".
	Credentials string

	// DatabaseURL is the DSN of the credential database.
	DatabaseURL string

	// Checkpoints is "memory" or "redis".
	Checkpoints string

	Redis checkpoint.RedisConfig
}

// PlannerConfig configures the chat completion planner.
type PlannerConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// ServeConfig is the complete configuration of the serve command.
type ServeConfig struct {
	Debug    bool
	HTTPAddr string

	// ConfigFile is the engine YAML configuration; defaults apply when empty.
	ConfigFile string
	PolicyFile string

	// Providers restricts the configured providers to these names.
	Providers []string

	GoogleClientID     string
	GoogleClientSecret string

	Storage StorageConfig
	Planner PlannerConfig
	Metrics MetricsConfig
}

func newServeCmd() *cobra.Command {
	var (
		config    ServeConfig
		providers string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the workflow API server",
		Long: `Start the HTTP API that runs agent workflows against each user's tools.

Workflow runs stream their events as Server-Sent Events. Calls to tools with
side effects suspend the run until the user approves, edits or rejects them.

Credentials:
  Tokens are read from the credential store and refreshed automatically.
    --google-client-id and --google-client-secret
    OR GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET env vars
  Without these, Google tokens are used until they expire.

Storage:
  --credential-store memory|postgres|pgx (DATABASE_URL for the DSN)
  --checkpoint-store memory|redis (REDIS_ADDR, REDIS_PASSWORD, REDIS_DB)

Planner:
  --openai-api-key OR OPENAI_API_KEY env var
  --openai-base-url for OpenAI compatible endpoints`,
		RunE: func(cmd *cobra.Command, args []string) error {
			config.Providers = parseCommaSeparatedList(providers)
			loadServeEnvVars(cmd, &config)
			return runServe(config)
		},
	}

	cmd.Flags().BoolVar(&config.Debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&config.HTTPAddr, "http-addr", server.DefaultAddr, "HTTP API address")
	cmd.Flags().StringVar(&config.ConfigFile, "config", "", "Engine configuration file (YAML). Can also use INBOXPILOT_CONFIG env var.")
	cmd.Flags().StringVar(&config.PolicyFile, "tool-policy-file", "", "Tool policy file with category overrides; reloaded on change")
	cmd.Flags().StringVar(&providers, "providers", "", "Comma-separated provider names to enable (default: all configured)")

	cmd.Flags().StringVar(&config.GoogleClientID, "google-client-id", "", "Google OAuth Client ID for automatic token refresh. Can also use GOOGLE_CLIENT_ID env var.")
	cmd.Flags().StringVar(&config.GoogleClientSecret, "google-client-secret", "", "Google OAuth Client Secret for automatic token refresh. Can also use GOOGLE_CLIENT_SECRET env var.")

	cmd.Flags().StringVar(&config.Storage.Credentials, "credential-store", storeMemory, "Credential storage: memory, postgres or pgx. Can also use CREDENTIAL_STORE env var.")
	cmd.Flags().StringVar(&config.Storage.DatabaseURL, "database-url", "", "Credential database DSN. Can also use DATABASE_URL env var.")
	cmd.Flags().StringVar(&config.Storage.Checkpoints, "checkpoint-store", storeMemory, "Checkpoint storage: memory or redis. Can also use CHECKPOINT_STORE env var.")
	cmd.Flags().StringVar(&config.Storage.Redis.Addr, "redis-addr", "", "Redis address for checkpoints (e.g., redis:6379). Can also use REDIS_ADDR env var.")
	cmd.Flags().StringVar(&config.Storage.Redis.Password, "redis-password", "", "Redis password. Can also use REDIS_PASSWORD env var.")
	cmd.Flags().IntVar(&config.Storage.Redis.DB, "redis-db", 0, "Redis database number. Can also use REDIS_DB env var.")
	cmd.Flags().StringVar(&config.Storage.Redis.Prefix, "redis-key-prefix", checkpoint.DefaultKeyPrefix, "Prefix for checkpoint keys")

	cmd.Flags().StringVar(&config.Planner.APIKey, "openai-api-key", "", "API key of the chat completion endpoint. Can also use OPENAI_API_KEY env var.")
	cmd.Flags().StringVar(&config.Planner.BaseURL, "openai-base-url", "", "Base URL of an OpenAI compatible endpoint. Can also use OPENAI_BASE_URL env var.")
	cmd.Flags().StringVar(&config.Planner.Model, "model", llm.DefaultModel, "Chat completion model. Can also use OPENAI_MODEL env var.")

	cmd.Flags().BoolVar(&config.Metrics.Enabled, "metrics-enabled", true, "Enable the metrics server on a dedicated port. Can also use METRICS_ENABLED env var.")
	cmd.Flags().StringVar(&config.Metrics.Addr, "metrics-addr", server.DefaultMetricsAddr, "Metrics server address. Can also use METRICS_ADDR env var.")

	return cmd
}

func runServe(config ServeConfig) error {
	// Setup graceful shutdown
	shutdownCtx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	level := "info"
	if config.Debug {
		level = "debug"
	}
	logger := logging.Setup(level)

	engineConfig, err := loadEngineConfig(config)
	if err != nil {
		return err
	}

	instrConfig := instrumentation.DefaultConfig()
	instrConfig.Resource.ServiceVersion = version
	provider, err := instrumentation.NewProvider(shutdownCtx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			logger.Error("error during instrumentation shutdown", logging.Err(err))
		}
	}()
	metrics := provider.Metrics()
	audit := instrumentation.NewAuditLoggerWithConfig(logger, instrConfig.Audit)

	store, closeStore, err := openCredentialStore(config.Storage, providerNames(engineConfig))
	if err != nil {
		return err
	}
	defer closeStore()

	checkpoints, closeCheckpoints, err := openCheckpointStore(shutdownCtx, config.Storage)
	if err != nil {
		return err
	}
	defer closeCheckpoints()

	providerConfigs := oauthProviders(engineConfig, config.GoogleClientID, config.GoogleClientSecret)
	refresher, err := credentials.NewRefresher(credentials.RefresherConfig{
		Store:     store,
		Providers: providerConfigs,
		Logger:    logger,
		Metrics:   metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create token refresher: %w", err)
	}
	if config.GoogleClientID == "" || config.GoogleClientSecret == "" {
		logger.Warn("automatic Google token refresh disabled; provide --google-client-id and --google-client-secret to enable it")
	}

	planner, err := llm.NewOpenAIPlanner(llm.Config{
		APIKey:  config.Planner.APIKey,
		BaseURL: config.Planner.BaseURL,
		Model:   config.Planner.Model,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create planner: %w", err)
	}

	factory := backends.NewMCPFactory(map[backends.Kind]backends.ServerBuilder{
		backends.KindGoogle: google_tools.ServerBuilder(workspace.Config{}, audit, version),
		backends.KindMemory: memory_tools.ServerBuilder(memory_tools.NewStore(nil), audit, version),
	}, nil, logger, version)

	engine, err := service.New(engineConfig, service.Dependencies{
		Store:       store,
		Refresher:   refresher,
		Factory:     factory,
		Planner:     planner,
		Checkpoints: checkpoints,
		Logger:      logger,
		Metrics:     metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	if err := engine.Start(shutdownCtx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	defer engine.Stop()
	go logRefreshErrors(shutdownCtx, logger, engine.Errors())

	var metricsServer *server.MetricsServer
	if config.Metrics.Enabled && provider.Enabled() && provider.MetricsHandler() != nil {
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    config.Metrics.Addr,
			InstrumentationProvider: provider,
			Logger:                  logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Error("metrics server stopped", logging.Err(err))
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(ctx); err != nil {
				logger.Error("error during metrics server shutdown", logging.Err(err))
			}
		}()
	}

	serverContext := server.NewServerContext(shutdownCtx, engine)
	health := server.NewHealthChecker(serverContext, version, providerNames(engineConfig))
	httpServer, err := server.NewHTTPServer(server.HTTPServerConfig{
		Addr:          config.HTTPAddr,
		ServerContext: serverContext,
		Health:        health,
		Metrics:       metrics,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	return runHTTPServer(shutdownCtx, httpServer, logger)
}

func runHTTPServer(ctx context.Context, httpServer *server.HTTPServer, logger *slog.Logger) error {
	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := httpServer.Start(); err != nil {
			serverDone <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("error shutting down HTTP server: %w", err)
		}
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("HTTP server stopped with error: %w", err)
		}
	}

	logger.Info("HTTP server gracefully stopped")
	return nil
}

func logRefreshErrors(ctx context.Context, logger *slog.Logger, errs <-chan error) {
	for {
		select {
		case err := <-errs:
			logger.Warn("background token refresh failed", logging.Err(err))
		case <-ctx.Done():
			return
		}
	}
}

// loadEngineConfig reads the engine configuration and applies the flags
// that override it.
func loadEngineConfig(config ServeConfig) (service.Config, error) {
	cfg := service.DefaultConfig()
	if config.ConfigFile != "" {
		loaded, err := service.LoadConfig(config.ConfigFile)
		if err != nil {
			return service.Config{}, err
		}
		cfg = loaded
	}
	if config.PolicyFile != "" {
		cfg.PolicyFile = config.PolicyFile
	}
	if len(config.Providers) > 0 {
		servers, err := filterServers(cfg.Servers, config.Providers)
		if err != nil {
			return service.Config{}, err
		}
		cfg.Servers = servers
	}
	return cfg, cfg.Validate()
}

// filterServers keeps the named servers in configuration order.
func filterServers(servers []backends.ServerConfig, names []string) ([]backends.ServerConfig, error) {
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	var out []backends.ServerConfig
	for _, s := range servers {
		if wanted[s.Name] {
			out = append(out, s)
			delete(wanted, s.Name)
		}
	}
	if len(wanted) > 0 {
		missing := make([]string, 0, len(wanted))
		for n := range wanted {
			missing = append(missing, n)
		}
		sort.Strings(missing)
		return nil, fmt.Errorf("providers not configured: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

func providerNames(cfg service.Config) []string {
	names := make([]string, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		names = append(names, s.Name)
	}
	return names
}

// oauthProviders returns the refresh configuration of every server that
// needs a credential. Only Google tokens can be refreshed; other tokens are
// used until they expire.
func oauthProviders(cfg service.Config, googleClientID, googleClientSecret string) []credentials.ProviderConfig {
	var out []credentials.ProviderConfig
	for _, s := range cfg.Servers {
		if !s.NeedsCredential() {
			continue
		}
		if s.Kind == backends.KindGoogle {
			p := credentials.GoogleProvider(googleClientID, googleClientSecret)
			p.Name = s.Name
			if googleClientID == "" || googleClientSecret == "" {
				p.OAuth2 = nil
			}
			out = append(out, p)
			continue
		}
		out = append(out, credentials.ProviderConfig{Name: s.Name, DisplayName: s.Name})
	}
	return out
}

func openCredentialStore(config StorageConfig, providers []string) (credentials.Store, func(), error) {
	switch config.Credentials {
	case "", storeMemory:
		return credentials.NewTokenStoreAdapter(memory.New(), providers), func() {}, nil
	case storePostgres, storePGX:
		sqlConfig := credentials.DefaultSQLConfig(config.DatabaseURL)
		sqlConfig.Driver = config.Credentials
		store, err := credentials.OpenSQLStore(sqlConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open credential store: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported credential store %q (supported: memory, postgres, pgx)", config.Credentials)
	}
}

func openCheckpointStore(ctx context.Context, config StorageConfig) (checkpoint.Store, func(), error) {
	switch config.Checkpoints {
	case "", storeMemory:
		return checkpoint.NewMemoryStore(nil), func() {}, nil
	case storeRedis:
		store, err := checkpoint.OpenRedisStore(ctx, config.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open checkpoint store: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported checkpoint store %q (supported: memory, redis)", config.Checkpoints)
	}
}

// loadServeEnvVars loads configuration from environment variables.
// Environment variables only override flag values when the flag was not explicitly set.
func loadServeEnvVars(cmd *cobra.Command, config *ServeConfig) {
	envString := func(flag, env string, target *string) {
		if !cmd.Flags().Changed(flag) {
			if v := os.Getenv(env); v != "" {
				*target = v
			}
		}
	}

	envString("config", "INBOXPILOT_CONFIG", &config.ConfigFile)
	envString("google-client-id", "GOOGLE_CLIENT_ID", &config.GoogleClientID)
	envString("google-client-secret", "GOOGLE_CLIENT_SECRET", &config.GoogleClientSecret)
	envString("credential-store", "CREDENTIAL_STORE", &config.Storage.Credentials)
	envString("database-url", "DATABASE_URL", &config.Storage.DatabaseURL)
	envString("checkpoint-store", "CHECKPOINT_STORE", &config.Storage.Checkpoints)
	envString("redis-addr", "REDIS_ADDR", &config.Storage.Redis.Addr)
	envString("redis-password", "REDIS_PASSWORD", &config.Storage.Redis.Password)
	envString("openai-api-key", "OPENAI_API_KEY", &config.Planner.APIKey)
	envString("openai-base-url", "OPENAI_BASE_URL", &config.Planner.BaseURL)
	envString("model", "OPENAI_MODEL", &config.Planner.Model)
	envString("metrics-addr", "METRICS_ADDR", &config.Metrics.Addr)

	if !cmd.Flags().Changed("redis-db") {
		if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
			if db, err := strconv.Atoi(dbStr); err == nil {
				config.Storage.Redis.DB = db
			}
		}
	}
	if !cmd.Flags().Changed("metrics-enabled") {
		if v := os.Getenv("METRICS_ENABLED"); v != "" {
			if enabled, err := strconv.ParseBool(v); err == nil {
				config.Metrics.Enabled = enabled
			}
		}
	}
	if !cmd.Flags().Changed("providers") && len(config.Providers) == 0 {
		config.Providers = parseCommaSeparatedList(os.Getenv("INBOXPILOT_PROVIDERS"))
	}
}

// parseCommaSeparatedList parses a comma-separated string into a slice,
// trimming whitespace from each element and filtering out empty strings.
// Returns nil if the input is empty or contains only whitespace/commas.
func parseCommaSeparatedList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
