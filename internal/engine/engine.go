// Copyright 2025 Verdin Energy
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package engine hosts the long-running service wrapper around the
// verdin engine: config translation, the prometheus metrics listener,
// and signal-driven graceful shutdown.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	verdin "github.com/verdin-energy/verdin"
	"github.com/verdin-energy/verdin/internal/config"
)

func Run(cfg *config.Config, logger *slog.Logger) error {
	logger.Debug(fmt.Sprintf("config: %+v", cfg), "component", "engine")

	shutdownTimeout := 30 * time.Second
	if cfg.ShutdownTimeout != "" {
		var err error
		shutdownTimeout, err = time.ParseDuration(cfg.ShutdownTimeout)
		if err != nil {
			return fmt.Errorf("invalid shutdown timeout: %w", err)
		}
	}
	lockTimeout := time.Duration(0)
	if cfg.LockTimeout != "" {
		var err error
		lockTimeout, err = time.ParseDuration(cfg.LockTimeout)
		if err != nil {
			return fmt.Errorf("invalid lock timeout: %w", err)
		}
	}

	e, err := verdin.New(
		verdin.NewConfig(
			verdin.WithLogger(logger),
			verdin.WithDataDir(cfg.DataDir),
			verdin.WithGridEmissionFactor(cfg.GridEmissionFactor),
			verdin.WithMinCertifiableKWh(cfg.MinCertifiableKWh),
			verdin.WithValidityMonths(cfg.ValidityMonths),
			verdin.WithLockTimeout(lockTimeout),
			verdin.WithTargetRenewableRatio(cfg.TargetRenewableRatio),
			verdin.WithApiListenAddress(cfg.ApiListenAddress),
			verdin.WithTracing(cfg.Tracing),
			verdin.WithTracingStdout(cfg.TracingStdout),
			verdin.WithShutdownTimeout(shutdownTimeout),
			// Enable metrics with default prometheus registry
			verdin.WithPrometheusRegistry(prometheus.DefaultRegisterer),
		),
	)
	if err != nil {
		return err
	}

	// Metrics listener
	http.Handle("/metrics", promhttp.Handler())
	metricsAddr := fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.MetricsPort)
	logger.Info(
		"serving prometheus metrics on "+metricsAddr,
		"component", "engine",
	)
	metricsServer := &http.Server{
		Addr:              metricsAddr,
		ReadHeaderTimeout: 60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			logger.Error(
				fmt.Sprintf("failed to start metrics listener: %s", err),
				"component", "engine",
			)
			os.Exit(1)
		}
	}()

	// Wait for interrupt/termination signal
	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()

	// Run engine in goroutine
	errChan := make(chan error, 1)
	go func() {
		err := e.Run()
		select {
		case errChan <- err:
		case <-signalCtx.Done():
		}
	}()

	shutdownMetrics := func() {
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			shutdownTimeout,
		)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", "error", err)
		}
	}

	select {
	case <-signalCtx.Done():
		logger.Info("signal received, initiating graceful shutdown")
		shutdownMetrics()
		if err := e.Stop(); err != nil {
			logger.Error("shutdown errors occurred", "error", err)
			return err
		}
		logger.Info("shutdown complete")
		return nil
	case err := <-errChan:
		shutdownMetrics()
		if err != nil {
			return err
		}
		logger.Info("engine stopped")
		return e.Stop()
	}
}
