package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/systemshift/cattree/internal/app"
	"github.com/systemshift/cattree/internal/config"
	"github.com/systemshift/cattree/internal/server/api"
	"github.com/systemshift/cattree/internal/server/subscriptions"
)

func main() {
	configPath := flag.String("config", config.GetConfigPath(), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cattreed: %v\n", err)
		os.Exit(1)
	}
	logger := cfg.Logger()
	slog.SetDefault(logger)
	logger.Debug("configuration loaded", slog.String("config", cfg.String()))

	if err := run(cfg, logger); err != nil {
		logger.Error("cattreed exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	// Initialize subscription manager
	subMgr := subscriptions.NewManager(a.Service, logger)
	if err := subMgr.Start(ctx); err != nil {
		return fmt.Errorf("starting subscription manager: %w", err)
	}
	defer subMgr.Stop()
	a.Service.SetEmitter(subMgr.GetEmitter())

	// Setup HTTP router
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	api.New(a.Service, subMgr, logger).Routes(r)

	// WriteTimeout stays unset so subscription streams are not cut off
	srv := &http.Server{
		Addr:        cfg.HTTP.Addr,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting cattree server",
			slog.String("addr", cfg.HTTP.Addr),
			slog.String("index", cfg.Index),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server exited")
	return nil
}
