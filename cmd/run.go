package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/koopa0/relay/internal/bot"
	"github.com/koopa0/relay/internal/config"
	"github.com/koopa0/relay/internal/history"
	"github.com/koopa0/relay/internal/log"
	"github.com/koopa0/relay/internal/platform/discord"
	"github.com/koopa0/relay/internal/provider/gemini"
	"github.com/koopa0/relay/internal/session"
	"github.com/koopa0/relay/internal/stream"
)

// errAlreadyRunning indicates another relay process holds the instance lock.
var errAlreadyRunning = errors.New("another relay instance is already running")

// runBot wires the application and blocks until interrupted.
func runBot(_ *cobra.Command, _ []string) error {
	// .env is a development convenience; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := log.New(log.Config{
		Level: parseLevel(cfg.LogLevel),
		JSON:  cfg.LogJSON,
	})
	slog.SetDefault(logger)

	// One gateway connection per deployment; a second process would fight
	// over command registration and double-answer interactions.
	lock := flock.New(filepath.Join(os.TempDir(), "relay.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire instance lock: %w", err)
	}
	if !locked {
		return errAlreadyRunning
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("failed to release instance lock", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := gemini.New(ctx, cfg.GeminiAPIKey, cfg.ModelName, logger.With("component", "gemini"))
	if err != nil {
		return err
	}

	gateway, err := discord.NewGateway(cfg.DiscordToken, logger.With("component", "gateway"))
	if err != nil {
		return err
	}
	assistantID, err := gateway.Identity()
	if err != nil {
		return err
	}

	builder := history.NewBuilder(assistantID, cfg.LineLimit, cfg.ContextBudget,
		logger.With("component", "history"))
	registry := session.NewRegistry(logger.With("component", "registry"))
	engine := stream.NewEngine(cfg.FlushThreshold, logger.With("component", "stream"))
	gateway.Bind(bot.New(registry, engine, builder, provider, cfg.HistoryLimit,
		logger.With("component", "bot")))

	logger.Info("relay starting", "model", cfg.ModelName, "history_limit", cfg.HistoryLimit)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return gateway.Run(gctx)
	})
	return g.Wait()
}

// parseLevel maps the configured level name to a slog level. Unknown names
// fall back to info.
func parseLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
