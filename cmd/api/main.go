package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	api "manim-studio/internal/api"
	"manim-studio/internal/config"
	"manim-studio/internal/lease"
	"manim-studio/internal/llm"
	"manim-studio/internal/logging"
	"manim-studio/internal/ratelimit"
	"manim-studio/internal/render"
	"manim-studio/internal/storage"
	"manim-studio/internal/store"
	"manim-studio/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.Development(), cfg.LogLevel)
	mainLog := logging.Component(logger, "main")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.New(ctx, cfg.PostgresDSN, logger)
	if err != nil {
		mainLog.Fatal().Err(err).Msg("connect postgres")
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		mainLog.Fatal().Err(err).Msg("migrations")
	}

	if cfg.LLMAPIKey == "" {
		mainLog.Warn().Msg("LLM_API_KEY is not set; every job will fail at code generation")
	}
	generator := llm.NewClient(llm.Config{
		APIKey:      cfg.LLMAPIKey,
		BaseURL:     cfg.LLMBaseURL,
		Model:       cfg.LLMModel,
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: cfg.LLMTemperature,
		Timeout:     cfg.LLMTimeout,
	})

	invoker, err := render.NewInvoker(cfg.RenderWorkDir,
		render.WithBinary(cfg.RenderBinary),
		render.WithTimeout(cfg.RenderTimeout),
		render.WithMaxOutput(cfg.RenderMaxOutputBytes),
	)
	if err != nil {
		mainLog.Fatal().Err(err).Msg("render invoker")
	}

	var procOpts []worker.Option
	var apiOpts []api.Option
	if cfg.RedisAddr != "" {
		client := lease.NewRedisClient(cfg)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			mainLog.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("connect redis")
		}
		procOpts = append(procOpts, worker.WithLease(lease.NewRedisLease(client, cfg.RunLeaseTTL)))
		limiter := ratelimit.NewTokenBucket(client, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
		apiOpts = append(apiOpts, api.WithLimiter(limiter))
	} else {
		mainLog.Info().Msg("REDIS_ADDR not set; run lease and rate limiting disabled")
	}

	mirror, err := storage.NewS3Mirror(ctx, cfg)
	if err != nil {
		mainLog.Fatal().Err(err).Msg("s3 mirror")
	}
	if mirror != nil {
		procOpts = append(procOpts, worker.WithMirror(mirror))
	}

	processor := worker.NewProcessor(st, generator, invoker, logger, procOpts...)
	if n, err := processor.RecoverInterrupted(ctx); err != nil {
		mainLog.Error().Err(err).Msg("recover interrupted jobs")
	} else if n > 0 {
		mainLog.Warn().Int("jobs", n).Msg("marked interrupted jobs failed")
	}

	apiOpts = append(apiOpts,
		api.WithHealthCheck(st.Ping),
		api.WithAllowedOrigin(cfg.CORSAllowedOrigin),
	)
	server := api.New(st, processor, logger, apiOpts...)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	mainLog.Info().
		Str("port", cfg.HTTPPort).
		Str("work_dir", invoker.WorkDir()).
		Str("model", generator.Model()).
		Msg("api listening")
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			mainLog.Error().Err(err).Msg("listen")
			cancel()
		}
	}()

	<-ctx.Done()
	mainLog.Info().Msg("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		mainLog.Error().Err(err).Msg("http shutdown")
	}
	if err := processor.Wait(shutdownCtx); err != nil {
		mainLog.Warn().Err(err).Msg("in-flight runs did not finish; they will be marked failed on next start")
	}
}
