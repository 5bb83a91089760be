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

package verdin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/verdin-energy/verdin/allocation"
	"github.com/verdin-energy/verdin/api"
	"github.com/verdin-energy/verdin/database"
	"github.com/verdin-energy/verdin/event"
	"github.com/verdin-energy/verdin/ingest"
	"github.com/verdin-energy/verdin/locker"
	"github.com/verdin-energy/verdin/registry"
	"github.com/verdin-energy/verdin/report"
	"github.com/verdin-energy/verdin/trace"
	"github.com/verdin-energy/verdin/transfer"
)

// Engine wires the certification and tracing components around the
// shared database, event bus, and per-certificate lock table.
type Engine struct {
	eventBus      *event.EventBus
	db            *database.Database
	locker        *locker.Locker
	registry      *registry.Registry
	ingester      *ingest.Ingester
	allocator     *allocation.Allocator
	transfers     *transfer.Engine
	verifier      *trace.Verifier
	reporter      *report.Reporter
	api           *api.Server
	shutdownFuncs []func(context.Context) error
	config        Config
	done          chan struct{}
	shutdownOnce  sync.Once
}

func New(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &Engine{
		config:   cfg,
		eventBus: event.NewEventBus(cfg.promRegistry, cfg.logger),
		done:     make(chan struct{}),
	}, nil
}

func (e *Engine) Run() error {
	// Configure tracing
	if e.config.tracing {
		if err := e.setupTracing(); err != nil {
			return err
		}
	}
	// Load database
	db, err := database.New(&database.Config{
		DataDir:      e.config.dataDir,
		Logger:       e.config.logger,
		PromRegistry: e.config.promRegistry,
		Tracing:      e.config.tracing,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	e.db = db
	e.locker = locker.New(e.config.lockTimeout)
	// Certificate registry, the single balance mutation path
	e.registry = registry.New(registry.Config{
		Logger:         e.config.logger,
		EventBus:       e.eventBus,
		Database:       e.db,
		Locker:         e.locker,
		PromRegistry:   e.config.promRegistry,
		ValidityMonths: e.config.validityMonths,
	})
	// Measurement ingest with issuance side effect
	e.ingester = ingest.New(ingest.Config{
		Logger:             e.config.logger,
		EventBus:           e.eventBus,
		Database:           e.db,
		Registry:           e.registry,
		PromRegistry:       e.config.promRegistry,
		GridEmissionFactor: e.config.gridEmissionFactor,
		MinCertifiableKWh:  e.config.minCertifiableKWh,
	})
	// Consumption allocation
	e.allocator = allocation.New(allocation.Config{
		Logger:             e.config.logger,
		EventBus:           e.eventBus,
		Database:           e.db,
		Registry:           e.registry,
		PromRegistry:       e.config.promRegistry,
		GridEmissionFactor: e.config.gridEmissionFactor,
	})
	// Transfers and splits
	e.transfers = transfer.New(transfer.Config{
		Logger:       e.config.logger,
		Database:     e.db,
		Registry:     e.registry,
		PromRegistry: e.config.promRegistry,
	})
	// Chain verifier
	e.verifier = trace.New(trace.Config{
		Logger:       e.config.logger,
		EventBus:     e.eventBus,
		Database:     e.db,
		PromRegistry: e.config.promRegistry,
	})
	// Reporting
	e.reporter = report.New(report.Config{
		Logger:      e.config.logger,
		Database:    e.db,
		TargetRatio: e.config.targetRenewableRatio,
	})
	// REST API
	if e.config.apiListenAddress != "" {
		e.api = api.New(api.Config{
			Logger:        e.config.logger,
			ListenAddress: e.config.apiListenAddress,
			Database:      e.db,
			Ingester:      e.ingester,
			Registry:      e.registry,
			Allocator:     e.allocator,
			Transfers:     e.transfers,
			Verifier:      e.verifier,
			Reporter:      e.reporter,
		})
		if err := e.api.Start(); err != nil {
			return err
		}
	}

	// Wait for shutdown signal
	<-e.done
	return nil
}

func (e *Engine) Stop() error {
	var err error
	e.shutdownOnce.Do(func() {
		err = e.shutdown()
	})
	return err
}

func (e *Engine) shutdown() error {
	// Create shutdown context with timeout (default 30s if not configured)
	shutdownTimeout := 30 * time.Second
	if e.config.shutdownTimeout > 0 {
		shutdownTimeout = e.config.shutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error

	e.config.logger.Debug("starting graceful shutdown")

	// Phase 1: stop accepting new work
	if e.api != nil {
		if stopErr := e.api.Stop(ctx); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("api shutdown: %w", stopErr))
		}
	}

	// Phase 2: cleanup resources
	for _, fn := range e.shutdownFuncs {
		if fnErr := fn(ctx); fnErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown function: %w", fnErr))
		}
	}
	e.shutdownFuncs = nil

	// Phase 3: flush and close storage
	if e.db != nil {
		if closeErr := e.db.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("database close: %w", closeErr))
		}
	}

	if e.eventBus != nil {
		e.eventBus.Stop()
	}

	e.config.logger.Debug("graceful shutdown complete")
	close(e.done)
	return err
}

// EventBus returns the engine's event bus for external subscribers.
func (e *Engine) EventBus() *event.EventBus {
	return e.eventBus
}

// Database returns the underlying database facade.
func (e *Engine) Database() *database.Database {
	return e.db
}

// Registry returns the certificate registry.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Ingester returns the measurement ingest component.
func (e *Engine) Ingester() *ingest.Ingester {
	return e.ingester
}

// Allocator returns the consumption allocation component.
func (e *Engine) Allocator() *allocation.Allocator {
	return e.allocator
}

// Transfers returns the transfer and split engine.
func (e *Engine) Transfers() *transfer.Engine {
	return e.transfers
}

// Verifier returns the chain verifier.
func (e *Engine) Verifier() *trace.Verifier {
	return e.verifier
}

// Reporter returns the reporting component.
func (e *Engine) Reporter() *report.Reporter {
	return e.reporter
}
