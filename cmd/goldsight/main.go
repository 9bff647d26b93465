package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"goldsight/internal/cfg"
	"goldsight/internal/forecast"
	"goldsight/internal/metrics"
	"goldsight/internal/server"
	"goldsight/internal/storage"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

func main() {
	// Optional .env for local development; real deployments use the environment.
	_ = godotenv.Load()

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	runs := initializeRunStore(c)
	if runs != nil {
		defer runs.Close()
	}

	startMetricsServer(ctx, c)

	artifacts := forecast.NewArtifactStore(forecast.ArtifactPaths{
		Model:        c.ModelPath,
		InputScaler:  c.ScalerXPath,
		TargetScaler: c.ScalerYPath,
		Dataset:      c.DatasetPath,
	}, c.InferenceTimeout)

	if err := artifacts.Load(ctx); err != nil {
		// Keep serving: the API reports 503 until a restart fixes the
		// artifacts, and /health exposes the failure.
		m.ArtifactLoadFailuresInc()
		log.Error().Err(err).Msg("artifact load failed, serving in degraded mode")
	} else {
		m.ModelAgeSet(time.Since(artifacts.LoadedAt()).Seconds())
	}

	forecaster := forecast.New(artifacts, c.WindowLength, c.RMSE, m)

	api := server.New(server.Config{
		Port:           c.ListenPort,
		DefaultHorizon: c.Horizon,
		WindowLength:   c.WindowLength,
		RMSE:           c.RMSE,
	}, artifacts, forecaster, runs, m)

	if err := api.Start(); err != nil {
		log.Fatal().Err(err).Msg("API server start failed")
	}

	waitForShutdown(ctx, cancel, api)
}

// initializeRunStore opens run persistence if DATA_PATH is configured.
func initializeRunStore(c cfg.Settings) *storage.Store {
	if c.DataPath == "" {
		return nil
	}
	runs, err := storage.New(c.DataPath)
	if err != nil {
		log.Warn().Err(err).Msg("run store initialization failed, continuing without persistence")
		return nil
	}
	return runs
}

// startMetricsServer starts the Prometheus metrics HTTP server.
func startMetricsServer(ctx context.Context, c cfg.Settings) {
	go func() {
		mux := http.NewServeMux()

		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})
		mux.Handle("/metrics", promhttp.Handler())

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", c.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		go func() {
			<-ctx.Done()
			if err := srv.Shutdown(context.Background()); err != nil {
				log.Error().Err(err).Msg("failed to shutdown metrics server")
			}
		}()

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

// waitForShutdown blocks until a signal arrives, then drains the API server.
func waitForShutdown(ctx context.Context, cancel context.CancelFunc, api *server.Server) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("context canceled")
	}

	log.Info().Msg("shutting down gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := api.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("API server shutdown incomplete")
	} else {
		log.Info().Msg("API server stopped")
	}
}
