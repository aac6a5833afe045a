package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/loomworks/loom/internal/expressions"
	"github.com/loomworks/loom/internal/logging"
	"github.com/loomworks/loom/internal/serializer"
	"github.com/loomworks/loom/internal/store"
	"github.com/loomworks/loom/internal/validation"
	"github.com/loomworks/loom/internal/workflow"
	"github.com/loomworks/loom/pkg/mcp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "loom:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	cel, err := expressions.NewCELChecker()
	if err != nil {
		return fmt.Errorf("init cel checker: %w", err)
	}
	registry := validation.NewRegistry(validation.Checkers{
		CEL:  cel,
		Expr: expressions.NewExprChecker(),
		JQ:   expressions.NewGoJQChecker(),
	})
	validator := validation.NewValidator(st, registry)
	service := workflow.NewService(st, validator, logger)

	ser, err := serializer.New(st)
	if err != nil {
		return fmt.Errorf("init serializer: %w", err)
	}

	srv := mcp.NewLoomServer(mcp.LoomServerDeps{
		Service:    service,
		Serializer: ser,
		Logger:     logger,
	})

	logger.Info("loom mcp server starting", slog.String("db", cfg.DBPath))
	return srv.Serve(ctx)
}

// newLogger builds the process logger: JSON to stderr (stdout carries the
// MCP transport) with correlation IDs injected from the context.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}
