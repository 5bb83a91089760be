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

package database

import (
	"errors"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/verdin-energy/verdin/database/chainlog"
	"github.com/verdin-energy/verdin/database/metadata"
)

// Database bundles the engine's two stores: the SQLite metadata store
// (sources, certificates, consumption) and the Badger chain log
// (per-certificate traceability events).
type Database struct {
	logger   *slog.Logger
	metadata *metadata.Store
	chain    *chainlog.Store
	dataDir  string
}

// Config describes how to open the database.
type Config struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	// DataDir is the storage directory. Empty keeps both stores in
	// memory, useful for testing
	DataDir string
	// Tracing enables the gorm OpenTelemetry plugin on the metadata store
	Tracing bool
}

// New creates a new database instance with optional persistence using the provided data directory
func New(cfg *Config) (*Database, error) {
	logger := cfg.Logger
	if logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	metadataDb, err := metadata.New(metadata.Config{
		DataDir:      cfg.DataDir,
		Logger:       logger,
		PromRegistry: cfg.PromRegistry,
		Tracing:      cfg.Tracing,
	})
	if err != nil {
		return nil, err
	}
	chainDb, err := chainlog.New(chainlog.Config{
		DataDir:      cfg.DataDir,
		Logger:       logger,
		PromRegistry: cfg.PromRegistry,
	})
	if err != nil {
		metadataDb.Close() //nolint:errcheck
		return nil, err
	}
	return &Database{
		logger:   logger,
		metadata: metadataDb,
		chain:    chainDb,
		dataDir:  cfg.DataDir,
	}, nil
}

// Metadata returns the underlying metadata store instance
func (d *Database) Metadata() *metadata.Store {
	return d.metadata
}

// Chain returns the underlying chain log instance
func (d *Database) Chain() *chainlog.Store {
	return d.chain
}

// DataDir returns the path to the data directory used for storage
func (d *Database) DataDir() string {
	return d.dataDir
}

// Logger returns the logger instance
func (d *Database) Logger() *slog.Logger {
	return d.logger
}

// Close cleans up the database connections
func (d *Database) Close() error {
	var err error
	metadataErr := d.metadata.Close()
	err = errors.Join(err, metadataErr)
	chainErr := d.chain.Close()
	err = errors.Join(err, chainErr)
	return err
}
