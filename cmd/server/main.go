package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/graphpulse/forcemap/internal/api"
	"github.com/graphpulse/forcemap/internal/cache"
	"github.com/graphpulse/forcemap/internal/config"
	"github.com/graphpulse/forcemap/internal/errorreporting"
	"github.com/graphpulse/forcemap/internal/layout"
	"github.com/graphpulse/forcemap/internal/logger"
	"github.com/graphpulse/forcemap/internal/store"
	"github.com/graphpulse/forcemap/internal/tracing"
)

func main() {
	envLoaded := godotenv.Load() == nil

	cfg := config.Load()
	logger.Init(cfg.LogLevel)
	if !envLoaded {
		logger.Info("no .env file found, using system env")
	}

	if err := errorreporting.Init(cfg.SentryEnvironment); err != nil {
		logger.Warn("sentry init failed", "error", err)
	}
	defer errorreporting.Flush(2 * time.Second)

	shutdownTracing, err := tracing.Init("forcemap-server")
	if err != nil {
		logger.Warn("tracing init failed", "error", err)
	}
	defer func() {
		if shutdownTracing != nil {
			shutdownTracing(context.Background())
		}
	}()

	var resultCache cache.Cache
	if cfg.CacheEnabled {
		c, err := cache.NewRistretto(cfg.CacheMaxCost, cfg.CacheTTL)
		if err != nil {
			logger.Error("cache init failed", "error", err)
			os.Exit(1)
		}
		defer c.Close()
		resultCache = c
	}

	var st *store.Store
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		st, err = store.Open(dbURL, cfg.DBStatementTimeout, cfg.PositionBatchSize)
		if err != nil {
			logger.Error("store init failed", "error", err)
			os.Exit(1)
		}
		defer st.Close()
		logger.Info("graph persistence enabled")
	} else {
		logger.Info("DATABASE_URL not set, graph persistence disabled")
	}

	if st != nil && cfg.LayoutRefreshInterval > 0 {
		job := store.NewRefreshJob(st, cfg.LayoutRefreshInterval, layout.Options{
			Threads:           cfg.LayoutThreads,
			Iterations:        cfg.LayoutIterations,
			Separation:        cfg.LayoutSeparation,
			RepulsionStrength: cfg.LayoutRepulsion,
			EdgeStiffness:     cfg.LayoutEdgeStiffness,
			Softening:         cfg.LayoutSoftening,
			MaxStep:           cfg.LayoutMaxStep,
			ConvergenceEps:    cfg.LayoutEpsilon,
			DirectThreshold:   cfg.LayoutDirectThreshold,
		})
		jobCtx, cancelJob := context.WithCancel(context.Background())
		defer cancelJob()
		go job.Start(jobCtx)
	}

	router := api.NewRouter(cfg, resultCache, st)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // large layouts take a while
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
		}
	}
}
