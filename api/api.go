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
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package api exposes the engine's operations over a small REST
// surface. The API is a thin adapter; all semantics live in the
// underlying components.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/verdin-energy/verdin/allocation"
	"github.com/verdin-energy/verdin/database"
	"github.com/verdin-energy/verdin/ingest"
	"github.com/verdin-energy/verdin/registry"
	"github.com/verdin-energy/verdin/report"
	"github.com/verdin-energy/verdin/trace"
	"github.com/verdin-energy/verdin/transfer"
)

type Config struct {
	Logger        *slog.Logger
	ListenAddress string
	Database      *database.Database
	Ingester      *ingest.Ingester
	Registry      *registry.Registry
	Allocator     *allocation.Allocator
	Transfers     *transfer.Engine
	Verifier      *trace.Verifier
	Reporter      *report.Reporter
}

// Server is the REST API server.
type Server struct {
	config     Config
	logger     *slog.Logger
	httpServer *http.Server
	mu         sync.Mutex
}

// New creates a new API server instance.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(
			slog.NewJSONHandler(io.Discard, nil),
		)
	}
	logger = logger.With("component", "api")
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8090"
	}
	return &Server{
		config: cfg,
		logger: logger,
	}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /v1/sources", s.handleCreateSource)
	mux.HandleFunc("GET /v1/sources/{id}", s.handleGetSource)
	mux.HandleFunc("POST /v1/generation", s.handleRecordGeneration)
	mux.HandleFunc("GET /v1/certificates/{id}", s.handleGetCertificate)
	mux.HandleFunc(
		"GET /v1/certificates/{id}/validity",
		s.handleCheckValidity,
	)
	mux.HandleFunc(
		"GET /v1/certificates/{id}/chain",
		s.handleGetChain,
	)
	mux.HandleFunc(
		"GET /v1/certificates/{id}/verify",
		s.handleVerifyChain,
	)
	mux.HandleFunc(
		"POST /v1/certificates/{id}/cancel",
		s.handleCancelCertificate,
	)
	mux.HandleFunc("POST /v1/certificates/verify", s.handleBatchVerify)
	mux.HandleFunc("POST /v1/allocations", s.handleAllocate)
	mux.HandleFunc("POST /v1/transfers", s.handleTransfer)
	mux.HandleFunc("POST /v1/splits", s.handleSplit)
	mux.HandleFunc(
		"GET /v1/reports/renewable-ratio",
		s.handleRenewableRatio,
	)
	mux.HandleFunc("GET /v1/reports/production", s.handleProduction)
	mux.HandleFunc("GET /v1/reports/consumption", s.handleConsumption)
	return mux
}

// Start starts the HTTP server in a background goroutine.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.httpServer != nil {
		s.mu.Unlock()
		return errors.New("server already started")
	}
	server := &http.Server{
		Addr:              s.config.ListenAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 60 * time.Second,
	}
	s.httpServer = server
	s.mu.Unlock()

	// Bind the listening socket first so port conflicts are detected
	// immediately, then serve in a background goroutine
	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		s.mu.Lock()
		s.httpServer = nil
		s.mu.Unlock()
		return fmt.Errorf("failed to listen for API server: %w", err)
	}
	go func() {
		if err := server.Serve(ln); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	s.logger.Info(
		"API listener started on " + s.config.ListenAddress,
	)
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()

	if srv != nil {
		s.logger.Debug("shutting down API server")
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf(
				"failed to shutdown API server: %w",
				err,
			)
		}
	}
	return nil
}
