package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/llmshield/shield-gateway/internal/audit"
	"github.com/llmshield/shield-gateway/internal/config"
	"github.com/llmshield/shield-gateway/internal/detector"
	"github.com/llmshield/shield-gateway/internal/gateway"
	"github.com/llmshield/shield-gateway/internal/httputil"
	"github.com/llmshield/shield-gateway/internal/judge"
	"github.com/llmshield/shield-gateway/internal/penalty"
	"github.com/llmshield/shield-gateway/internal/pipeline"
	"github.com/llmshield/shield-gateway/internal/ratelimit"
	"github.com/llmshield/shield-gateway/internal/sieve"
	"github.com/llmshield/shield-gateway/internal/telemetry"
	"github.com/llmshield/shield-gateway/internal/tokens"
	"github.com/llmshield/shield-gateway/internal/upstream"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	loader := config.NewLoader(*configDir, logger)
	if err := loader.Load(); err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := loader.Watch(); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}

	cfg := loader.Config()

	logger = newLogger(cfg.Telemetry)
	slog.SetDefault(logger)

	// Compile signature patterns. Reloads swap the scanner atomically;
	// a bad pattern set keeps the previous one serving.
	scanner, err := detector.NewScanner(
		cfg.Security.Patterns.RoleHijack,
		cfg.Security.Patterns.InstructionOverride,
	)
	if err != nil {
		logger.Error("failed to compile signature patterns", "error", err)
		os.Exit(1)
	}
	var scannerRef atomic.Pointer[detector.Scanner]
	scannerRef.Store(scanner)
	loader.OnReload(func() {
		c := loader.Config()
		next, err := detector.NewScanner(
			c.Security.Patterns.RoleHijack,
			c.Security.Patterns.InstructionOverride,
		)
		if err != nil {
			logger.Error("invalid signature patterns after reload, keeping previous set", "error", err)
			return
		}
		scannerRef.Store(next)
		logger.Info("signature patterns reloaded")
	})

	// Connect to PostgreSQL. An empty host disables the audit journal.
	var journal *audit.Journal
	if cfg.Database.Host != "" {
		dbPool, err := pgxpool.New(context.Background(), cfg.Database.DSN())
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbPool.Close()

		if err := dbPool.Ping(context.Background()); err != nil {
			logger.Warn("database not reachable (audit events will be dropped until it is)", "error", err)
		} else {
			logger.Info("database connected")
		}
		journal = audit.NewJournal(dbPool, logger)
	} else {
		logger.Info("no database configured, audit journal disabled")
	}

	// Connect to Redis
	var rdb *redis.Client
	if len(cfg.Redis.Addresses) > 0 && cfg.Redis.Addresses[0] != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addresses[0],
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis not reachable (rate limiting disabled)", "error", err)
			rdb = nil
		} else {
			logger.Info("redis connected")
		}
	}

	metrics := telemetry.NewMetrics()

	penalties := penalty.NewStore(cfg.Penalty.Threshold, cfg.Penalty.HalfLife)
	metrics.RegisterPenaltyGauge(penalties.Len)

	// Downstream clients. Endpoints and keys are fixed at startup;
	// thresholds, levels and patterns reload live.
	breaker := upstream.NewCircuitBreaker(
		cfg.Upstream.CircuitBreaker.FailureThreshold,
		cfg.Upstream.CircuitBreaker.RecoveryProbeInterval,
	)
	upstreamClient := upstream.NewClient(
		cfg.Upstream.BaseURL,
		cfg.Upstream.APIKey,
		cfg.Upstream.Model,
		cfg.Upstream.Headers,
		cfg.Timeouts.Upstream,
		breaker,
	)
	sieveClient := sieve.NewClient(cfg.Sieve.URL, cfg.Sieve.APIKey, cfg.Timeouts.Sieve)
	judgeClient := judge.NewClient(cfg.Judge.URL, cfg.Judge.APIKey, cfg.Judge.Model, cfg.Timeouts.Judge)

	pipe := pipeline.New(
		loader.Config,
		scannerRef.Load,
		penalties,
		tokens.NewCounter(),
		sieveClient,
		judgeClient,
		metrics,
		logger,
	)

	usage := ratelimit.NewUsageTracker(rdb)
	handler := gateway.NewHandler(pipe, scannerRef.Load, upstreamClient, journal, usage, metrics, version)

	// Router setup
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(httputil.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(ratelimit.Middleware(ratelimit.NewLimiter(rdb), usage, loader.Config, metrics))

	r.Get("/", handler.Root)
	r.Post("/v1/chat/completions", handler.ChatCompletions)
	r.Post("/shield", handler.ShieldCheck)

	// Metrics on a separate listener, never on the proxy port.
	if cfg.Telemetry.MetricsPort > 0 {
		go func() {
			metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Telemetry.MetricsPort)
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Info("metrics listener starting", "addr", metricsAddr)
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				logger.Error("metrics listener failed", "error", err)
			}
		}()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("shield gateway starting", "addr", addr, "version", version)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	journal.Close()
	logger.Info("shield gateway stopped")
}

func newLogger(tc config.TelemetryConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(tc.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(tc.LogFormat) == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", reqID)
		ctx := context.WithValue(r.Context(), requestIDKey, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type contextKey string

const requestIDKey contextKey = "request_id"

func generateRequestID() string {
	now := time.Now()
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("req_%d_%s", now.UnixMilli(), hex.EncodeToString(b))
}
