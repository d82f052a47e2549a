package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"manim-studio/internal/config"
	"manim-studio/internal/janitor"
	"manim-studio/internal/logging"
	"manim-studio/internal/store"
)

func main() {
	cfg := config.Load()
	logger := logging.Component(logging.New(cfg.Development(), cfg.LogLevel), "janitor-cmd")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.New(ctx, cfg.PostgresDSN, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer st.Close()

	j := janitor.New(cfg.RenderWorkDir, cfg.JanitorRetention, st, logger)
	logger.Info().
		Str("work_dir", cfg.RenderWorkDir).
		Dur("retention", cfg.JanitorRetention).
		Dur("interval", cfg.JanitorInterval).
		Msg("janitor started")
	if err := j.Run(ctx, cfg.JanitorInterval); err != nil {
		logger.Error().Err(err).Msg("janitor stopped")
		os.Exit(1)
	}
}
