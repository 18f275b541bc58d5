package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/sheetd/internal/config"
	"github.com/JonMunkholm/sheetd/internal/core"
	"github.com/JonMunkholm/sheetd/internal/logging"
	"github.com/JonMunkholm/sheetd/internal/translator"
	"github.com/JonMunkholm/sheetd/internal/web"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env file if it exists; real environment variables win.
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	flushLogs := logging.Setup(logging.Options{
		Level:            cfg.Logging.Level,
		Format:           cfg.Logging.Format,
		SeqURL:           cfg.Logging.SeqURL,
		SeqFlushInterval: cfg.Logging.SeqFlushInterval,
	})
	defer flushLogs()

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"translator", cfg.Translator.Backend,
		"instruction_max_concurrent", cfg.Instruction.MaxConcurrent,
		"session_ttl", cfg.Session.TTL,
		"audit_enabled", cfg.Database.Enabled(),
		"rate_limit_enabled", cfg.Rate.Enabled,
	)
	slog.Debug("effective configuration", "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	auditLog, closeAudit, err := openAuditLog(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeAudit()

	tr, err := newTranslator(ctx, cfg.Translator)
	if err != nil {
		return fmt.Errorf("create translator: %w", err)
	}
	if c, ok := tr.(io.Closer); ok {
		defer c.Close()
	}

	service := core.NewService(tr, auditLog, core.Options{
		LockWait:                  cfg.Session.LockWait,
		HistoryLimit:              cfg.Session.HistoryLimit,
		MaxUploadBytes:            cfg.Upload.MaxFileSize,
		MaxRows:                   cfg.Upload.MaxRows,
		PreviewDefaultLimit:       cfg.Preview.DefaultLimit,
		PreviewMaxLimit:           cfg.Preview.MaxLimit,
		InstructionTimeout:        cfg.Instruction.Timeout,
		SandboxTimeout:            cfg.Sandbox.Timeout,
		ResultRetention:           cfg.Instruction.ResultRetention,
		ProgressInterval:          cfg.Instruction.ProgressInterval,
		SchemaSampleRows:          cfg.Instruction.SchemaSampleRows,
		MaxConcurrentInstructions: cfg.Instruction.MaxConcurrent,
		LimiterWait:               cfg.Instruction.MaxWaitTime,
	})
	defer service.Close()

	server := web.NewServer(service, cfg)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		service.StartJanitor(gctx, core.JanitorConfig{
			TTL:      cfg.Session.TTL,
			Interval: cfg.Session.SweepInterval,
		})
		return nil
	})

	g.Go(func() error {
		return server.Start()
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Stop accepting requests first so no new instructions arrive.
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		if st := service.Status(); st.ActiveInstructions > 0 {
			slog.Info("waiting for instructions to finish", "active", st.ActiveInstructions)
		}
		if err := service.WaitForDrain(shutdownCtx); err != nil {
			slog.Warn("instructions did not finish in time, cancelled", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("server stopped")
	return nil
}

// openAuditLog connects the PostgreSQL audit sink when a database URL is
// configured. Without one, audit events are discarded.
func openAuditLog(ctx context.Context, cfg config.DatabaseConfig) (core.AuditLog, func(), error) {
	if !cfg.Enabled() {
		slog.Info("audit log disabled (no DATABASE_URL)")
		return core.NopAuditLog{}, func() {}, nil
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}

	auditLog := core.NewPGAuditLog(pool)
	if err := auditLog.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("create audit schema: %w", err)
	}

	if u, err := url.Parse(cfg.URL); err == nil {
		slog.Info("connected to audit database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to audit database")
	}
	return auditLog, pool.Close, nil
}

// newTranslator builds the configured translator backend.
func newTranslator(ctx context.Context, cfg config.TranslatorConfig) (translator.Translator, error) {
	retry := translator.DefaultRetryPolicy
	retry.MaxRetries = cfg.MaxRetries

	switch cfg.Backend {
	case "vertex":
		return translator.NewVertex(ctx, translator.VertexConfig{
			Project:  cfg.Project,
			Location: cfg.Location,
			Model:    cfg.Model,
			RPS:      cfg.RPS,
			Retry:    retry,

			CredentialsFile: cfg.CredentialsFile,
			Endpoint:        cfg.Endpoint,
		})
	default:
		return translator.NewHTTP(translator.HTTPConfig{
			URL:     cfg.URL,
			APIKey:  cfg.APIKey,
			Timeout: cfg.Timeout,
			RPS:     cfg.RPS,
			Retry:   retry,
		})
	}
}
