package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"github.com/relayops/switchyard/internal/api"
	"github.com/relayops/switchyard/internal/catalog"
	"github.com/relayops/switchyard/internal/dispatch"
	"github.com/relayops/switchyard/internal/dispatch/adapters"
	"github.com/relayops/switchyard/internal/dispatch/creds"
	"github.com/relayops/switchyard/internal/engine"
	"github.com/relayops/switchyard/internal/engine/judge"
	"github.com/relayops/switchyard/internal/gateway"
	"github.com/relayops/switchyard/internal/telemetry"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// Logger
	logger := mustBuildLogger(envOrDefault("SWITCHYARD_LOG_LEVEL", "info"))
	defer logger.Sync() //nolint:errcheck // best-effort flush

	// Config from env
	httpPort := envOrDefault("SWITCHYARD_HTTP_PORT", "8080")
	postgresDSN := os.Getenv("POSTGRES_DSN")
	clickhouseDSN := os.Getenv("CLICKHOUSE_DSN")
	cacheSize := envOrDefaultInt("SWITCHYARD_CATALOG_CACHE_SIZE", catalog.DefaultCacheSize)
	cacheTTL := envOrDefaultInt("SWITCHYARD_CATALOG_CACHE_TTL_S", 300)
	refreshS := envOrDefaultInt("SWITCHYARD_CATALOG_REFRESH_S", 60)
	epsilon := envOrDefaultFloat("SWITCHYARD_TIE_EPSILON", engine.DefaultEpsilon)
	judgeTimeoutMs := envOrDefaultInt("SWITCHYARD_JUDGE_TIMEOUT_MS", 3000)
	selectionTTL := envOrDefaultInt("SWITCHYARD_SELECTION_TTL_S", 60)
	selectionGrace := envOrDefaultInt("SWITCHYARD_SELECTION_GRACE_S", 600)
	calibrationS := envOrDefaultInt("SWITCHYARD_CALIBRATION_REFRESH_S", 300)
	calibrationDays := envOrDefaultInt("SWITCHYARD_CALIBRATION_WINDOW_DAYS", 7)
	maxConcurrency := envOrDefaultInt("SWITCHYARD_MAX_CONCURRENCY", 0)

	logger.Info("starting switchyard server",
		zap.String("http_port", httpPort),
		zap.Float64("tie_epsilon", epsilon),
		zap.Int("judge_timeout_ms", judgeTimeoutMs),
		zap.Int("selection_ttl_s", selectionTTL),
	)

	if postgresDSN == "" {
		logger.Fatal("POSTGRES_DSN is required")
	}

	// Background loops stop when the shutdown signal lands
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	// Postgres pool — the catalog's system of record
	db, err := sql.Open("pgx", postgresDSN)
	if err != nil {
		logger.Fatal("failed to open postgres", zap.Error(err))
	}
	defer func() { _ = db.Close() }()
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(context.Background()); err != nil {
		logger.Fatal("failed to ping postgres", zap.Error(err))
	}
	logger.Info("postgres connected")

	store := catalog.NewPostgresStore(db, logger)
	cached := catalog.NewCachedCatalog(catalog.CachedCatalogConfig{
		Store:  store,
		Size:   cacheSize,
		TTL:    time.Duration(cacheTTL) * time.Second,
		Logger: logger,
	})
	if err := cached.Reload(context.Background()); err != nil {
		logger.Warn("initial catalog reload failed, serving lookups on demand", zap.Error(err))
	}
	cached.StartRefresher(bgCtx, time.Duration(refreshS)*time.Second)

	// Telemetry — ClickHouse or LogWriter fallback
	var writer telemetry.Writer
	if clickhouseDSN != "" {
		chWriter, err := telemetry.NewClickHouseWriter(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer",
				zap.Error(err),
			)
			writer = telemetry.NewLogWriter(logger)
		} else {
			writer = chWriter
			logger.Info("clickhouse writer connected")
		}
	} else {
		writer = telemetry.NewLogWriter(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log writer")
	}
	defer writer.Close()

	// ClickHouse reader (for summary endpoint and calibration feedback)
	var chReader *telemetry.Reader
	if clickhouseDSN != "" {
		chReader, err = telemetry.NewReader(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse reader connection failed", zap.Error(err))
			chReader = nil
		} else {
			defer func() { _ = chReader.Close() }()
			logger.Info("clickhouse reader connected")
		}
	}

	// LLM judge for near-ties, static fallback without an API key
	var j judge.Judge
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		j = judge.NewOpenAI(apiKey, os.Getenv("SWITCHYARD_JUDGE_MODEL"), logger)
		logger.Info("llm judge enabled")
	} else {
		j = judge.Static{}
		logger.Info("no OPENAI_API_KEY set, using static tie-break")
	}

	// Selection engine behind the caching gateway
	holder := engine.NewCalibrationHolder()
	eng := engine.New(engine.Config{
		Catalog:      cached,
		Judge:        j,
		Calibration:  holder,
		Epsilon:      epsilon,
		JudgeTimeout: time.Duration(judgeTimeoutMs) * time.Millisecond,
		Logger:       logger,
	})
	gw := gateway.New(gateway.Config{
		Resolver: eng,
		TTL:      time.Duration(selectionTTL) * time.Second,
		Grace:    time.Duration(selectionGrace) * time.Second,
		Logger:   logger,
	})
	gw.StartSweeper(bgCtx, time.Duration(selectionTTL)*time.Second)

	if chReader != nil {
		startCalibrationLoop(bgCtx, chReader, holder, time.Duration(calibrationS)*time.Second, calibrationDays, logger)
	}

	// Dispatcher — protocol adapters wired by execution location
	resolver := creds.NewEnvResolver()
	dispatcher := dispatch.New(dispatch.Config{
		Telemetry:      writer,
		MaxConcurrency: maxConcurrency,
		Logger:         logger,
	})
	local := adapters.NewLocal(logger)
	dispatcher.Register("local", local)
	dispatcher.Register("ssh", adapters.NewSSH(resolver, logger))
	dispatcher.Register("winrm", adapters.NewWinRM(resolver, logger))
	dispatcher.Register("http", adapters.NewHTTP(resolver, logger))
	dispatcher.RegisterDefault(local)
	if execDSN := os.Getenv("SWITCHYARD_EXEC_DATABASE_DSN"); execDSN != "" {
		execDB, err := sql.Open("pgx", execDSN)
		if err != nil {
			logger.Warn("failed to open execution database, adapter disabled", zap.Error(err))
		} else {
			defer func() { _ = execDB.Close() }()
			execDB.SetMaxOpenConns(5)
			dispatcher.Register("database", adapters.NewDatabase(execDB, logger))
			logger.Info("database adapter enabled")
		}
	}

	deps := &api.Dependencies{
		Catalog:    cached,
		Importer:   catalog.NewImporter(store, logger),
		Selector:   gw,
		Dispatcher: dispatcher,
		Writer:     writer,
		Logger:     logger,
	}
	if chReader != nil {
		deps.Stats = chReader
	}

	httpServer := &http.Server{
		Addr:         ":" + httpPort,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// Block until shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	bgCancel()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	logger.Info("switchyard server stopped")
}

// startCalibrationLoop periodically folds observed/estimated ratios from
// telemetry back into the scorer. Failures keep the previous snapshot.
func startCalibrationLoop(ctx context.Context, reader *telemetry.Reader, holder *engine.CalibrationHolder, interval time.Duration, windowDays int, logger *zap.Logger) {
	refresh := func() {
		statsCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		stats, err := reader.PatternStats(statsCtx, windowDays)
		if err != nil {
			logger.Warn("calibration refresh failed", zap.Error(err))
			return
		}
		timeFactors, costFactors := telemetry.Factors(stats)
		holder.Publish(&engine.Calibration{Time: timeFactors, Cost: costFactors})
		logger.Debug("calibration published", zap.Int("patterns", len(stats)))
	}
	go func() {
		refresh()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				refresh()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envOrDefaultFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
