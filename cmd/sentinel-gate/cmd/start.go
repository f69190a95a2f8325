// Package cmd provides the CLI commands for Sentinel Gate.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	stdhttp "net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/sentinelgate/sentinel/internal/adapter/inbound/admin"
	inboundstdio "github.com/sentinelgate/sentinel/internal/adapter/inbound/stdio"
	"github.com/sentinelgate/sentinel/internal/adapter/outbound/cel"
	"github.com/sentinelgate/sentinel/internal/adapter/outbound/downstream"
	mcpclient "github.com/sentinelgate/sentinel/internal/adapter/outbound/mcp"
	sentinelmetrics "github.com/sentinelgate/sentinel/internal/adapter/outbound/metrics"
	"github.com/sentinelgate/sentinel/internal/adapter/outbound/sqlstore"
	"github.com/sentinelgate/sentinel/internal/adapter/outbound/tracing"
	"github.com/sentinelgate/sentinel/internal/config"
	"github.com/sentinelgate/sentinel/internal/domain/sentinel"
	"github.com/sentinelgate/sentinel/internal/domain/sentinel/anomaly"
	"github.com/sentinelgate/sentinel/internal/domain/sentinel/breaker"
	"github.com/sentinelgate/sentinel/internal/domain/sentinel/policy"
	"github.com/sentinelgate/sentinel/internal/domain/sentinel/ratelimit"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the sentinel",
	Long: `Start Sentinel Gate.

Spawns the configured downstream MCP server as a subprocess and begins
reading tool calls on stdin, evaluating each against the policy engine,
circuit breaker, rate limiter, and anomaly detector before forwarding,
denying, or asking for confirmation. Responses are written to stdout.

The operator admin API (rule/quarantine CRUD, mode get/set, audit query)
listens on the address configured under server.http_addr.

Examples:
  # Start with config file settings
  sentinel-gate start

  # Start with a specific config file
  sentinel-gate --config /path/to/config.yaml start`,
	RunE: runStart,
}

var devMode bool

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (verbose logging, relaxed validation)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	cfg.SetDefaults()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return run(ctx, cfg, logger)
}

func run(ctx context.Context, cfg *config.SentinelConfig, logger *slog.Logger) error {
	db, err := sqlstore.Open(cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("opening store %q: %w", cfg.Store.DSN, err)
	}
	defer db.Close()

	ruleStore := sqlstore.NewRuleStore(db)
	quarantineStore := sqlstore.NewQuarantineStore(db)
	confirmationStore := sqlstore.NewConfirmationStore(db)
	breakerStore := sqlstore.NewBreakerStore(db)
	rateLimitStore := sqlstore.NewRateLimitStore(db)
	anomalyStore := sqlstore.NewAnomalyStore(db)
	auditStore := sqlstore.NewAuditStore(db)
	configStore := sqlstore.NewConfigStore(db)

	cooldown, err := time.ParseDuration(cfg.Breaker.Cooldown)
	if err != nil || cfg.Breaker.Cooldown == "" {
		cooldown = 2 * time.Minute
	}
	threshold := cfg.Breaker.Threshold
	if threshold <= 0 {
		threshold = breaker.DefaultThreshold
	}
	circuitBreaker := breaker.NewWithConfig(breakerStore, threshold, cooldown)
	limiter := ratelimit.New(rateLimitStore)
	detector := anomaly.New(anomalyStore)

	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return fmt.Errorf("building condition evaluator: %w", err)
	}

	engine := policy.New(
		ruleStore,
		quarantineStore,
		confirmationStore,
		breakerGate{circuitBreaker},
		rateLimitGate{limiter},
		evaluator,
	)

	fallbackMode, err := policy.ParseMode(cfg.Mode)
	if err != nil {
		return fmt.Errorf("parsing mode %q: %w", cfg.Mode, err)
	}
	modeHolder := sentinel.NewModeHolder(configStore, fallbackMode)
	if err := modeHolder.Load(ctx); err != nil {
		return fmt.Errorf("loading persisted mode: %w", err)
	}

	client := mcpclient.NewStdioClient(cfg.Downstream.Command, cfg.Downstream.Args...)
	stdioDownstream := downstream.NewStdio(client)
	if err := stdioDownstream.Start(ctx); err != nil {
		return fmt.Errorf("starting downstream %q: %w", cfg.Downstream.Command, err)
	}
	defer stdioDownstream.Close()

	recordingDownstream := newBreakerRecordingDownstream(stdioDownstream, circuitBreaker, logger)

	registry := prometheus.NewRegistry()
	recorder := sentinelmetrics.New(registry)

	tracerProvider, err := tracing.NewStdout(Version)
	if err != nil {
		return fmt.Errorf("building tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			logger.Error("tracer shutdown", "error", err)
		}
	}()

	interceptor := sentinel.New(engine, detector, auditStore, recordingDownstream, modeHolder.Current, logger)
	interceptor.SetMetrics(recorder)
	interceptor.SetTracer(tracerProvider)
	transport := inboundstdio.New(interceptor, stdioDownstream, os.Stdin, os.Stdout, logger)

	adminHandler := admin.NewAdminAPIHandler(
		admin.WithRuleStore(ruleStore),
		admin.WithQuarantineStore(quarantineStore),
		admin.WithAuditQueryStore(auditStore),
		admin.WithModeHolder(modeHolder),
		admin.WithBuildInfo(&admin.BuildInfo{Version: Version, Commit: Commit, BuildDate: BuildDate}),
		admin.WithAPILogger(logger),
		admin.WithStartTime(time.Now().UTC()),
	)

	mux := stdhttp.NewServeMux()
	mux.Handle("/", adminHandler.Routes())
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	adminServer := &stdhttp.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: mux,
	}

	serverErrs := make(chan error, 1)
	go func() {
		logger.Info("admin API listening", "addr", cfg.Server.HTTPAddr)
		if err := adminServer.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErrs <- err
		}
	}()

	printBanner(Version, cfg.Server.HTTPAddr, cfg.DevMode, string(modeHolder.Current()))

	transportErrs := make(chan error, 1)
	go func() {
		transportErrs <- transport.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-transportErrs:
		if err != nil && err != context.Canceled {
			logger.Error("transport stopped", "error", err)
		}
	case err := <-serverErrs:
		logger.Error("admin API failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin API shutdown", "error", err)
	}
	return nil
}

// breakerGate adapts breaker.Breaker to policy.BreakerGate.
type breakerGate struct {
	b *breaker.Breaker
}

func (g breakerGate) Allowed(ctx context.Context, host string, now time.Time) (bool, time.Duration, error) {
	healthy, err := g.b.IsHealthy(ctx, host, now)
	if err != nil {
		return false, 0, err
	}
	if healthy {
		return true, 0, nil
	}
	retryAfter, err := g.b.RetryAfterSeconds(ctx, host, now)
	if err != nil {
		return false, 0, err
	}
	return false, time.Duration(retryAfter) * time.Second, nil
}

// rateLimitGate adapts ratelimit.Limiter to policy.RateLimitGate.
type rateLimitGate struct {
	l *ratelimit.Limiter
}

func (g rateLimitGate) Allow(ctx context.Context, ruleID, tool, host, agent string, spec policy.RateLimitSpec, now time.Time) (bool, time.Duration, error) {
	key := ratelimit.Key{RuleID: ruleID, Tool: tool, Host: host, Agent: agent}
	result, err := g.l.Allow(ctx, key, ratelimit.Spec{MaxTokens: spec.MaxTokens, RefillRatePerSec: spec.RefillRatePerSec}, now)
	if err != nil {
		return false, 0, err
	}
	return result.Allowed, time.Duration(result.RetryAfterSeconds) * time.Second, nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// printBanner prints a formatted startup banner to stderr. Always
// written to stderr, never stdout, since stdout carries the JSON-RPC
// stream the agent reads.
func printBanner(version, httpAddr string, devMode bool, mode string) {
	const (
		reset  = "\033[0m"
		bold   = "\033[1m"
		cyan   = "\033[36m"
		green  = "\033[32m"
		yellow = "\033[33m"
		dim    = "\033[2m"
	)

	adminURL := fmt.Sprintf("http://localhost%s/admin", httpAddr)
	if !strings.HasPrefix(httpAddr, ":") {
		adminURL = fmt.Sprintf("http://%s/admin", httpAddr)
	}

	envStr := green + "production" + reset
	if devMode {
		envStr = yellow + "development" + reset
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  %s%s Sentinel Gate %s%s\n", bold, cyan, version, reset)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Admin API:", adminURL)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Environment:", envStr)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Mode:", mode)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "\n")
}
