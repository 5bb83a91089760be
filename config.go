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
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Config struct {
	promRegistry         prometheus.Registerer
	logger               *slog.Logger
	dataDir              string
	apiListenAddress     string
	gridEmissionFactor   float64
	targetRenewableRatio float64
	minCertifiableKWh    uint64
	validityMonths       int
	lockTimeout          time.Duration
	shutdownTimeout      time.Duration
	tracing              bool
	tracingStdout        bool
}

func (c *Config) validate() error {
	if c.gridEmissionFactor < 0 {
		return errors.New("grid emission factor cannot be negative")
	}
	if c.targetRenewableRatio < 0 || c.targetRenewableRatio > 1 {
		return errors.New("target renewable ratio must be within [0, 1]")
	}
	if c.validityMonths < 0 {
		return errors.New("validity months cannot be negative")
	}
	return nil
}

// ConfigOptionFunc is a type that represents functions that modify the engine config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new verdin config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	// Apply options
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithLogger specifies the logger to use. This defaults to discarding log output
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithDataDir specifies the persistent data directory to use. The default is to store everything in memory
func WithDataDir(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.dataDir = dataDir
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to add metrics to. In most cases, prometheus.DefaultRegistry would be
// a good choice to get metrics working
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithGridEmissionFactor specifies the grid emission factor in kg CO2e
// per kWh used for avoided and residual carbon accounting
func WithGridEmissionFactor(factor float64) ConfigOptionFunc {
	return func(c *Config) {
		c.gridEmissionFactor = factor
	}
}

// WithMinCertifiableKWh specifies the minimum measurement size eligible
// for certificate issuance. The default is 1000 kWh
func WithMinCertifiableKWh(kwh uint64) ConfigOptionFunc {
	return func(c *Config) {
		c.minCertifiableKWh = kwh
	}
}

// WithValidityMonths specifies how many calendar months issued
// certificates stay valid. The default is twelve
func WithValidityMonths(months int) ConfigOptionFunc {
	return func(c *Config) {
		c.validityMonths = months
	}
}

// WithLockTimeout specifies how long balance operations wait on a
// contended certificate before giving up. The default is 5 seconds
func WithLockTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.lockTimeout = timeout
	}
}

// WithTargetRenewableRatio specifies the renewable coverage goal used
// for compliance-gap reporting. The default is 1.0 (full coverage)
func WithTargetRenewableRatio(ratio float64) ConfigOptionFunc {
	return func(c *Config) {
		c.targetRenewableRatio = ratio
	}
}

// WithApiListenAddress specifies the listen address
// for the REST API server. An empty string disables
// the server. The default is empty (disabled).
func WithApiListenAddress(addr string) ConfigOptionFunc {
	return func(c *Config) {
		c.apiListenAddress = addr
	}
}

// WithTracing enables tracing. By default, spans are submitted to a HTTP(s) endpoint using OTLP. This can be configured
// using the OTEL_EXPORTER_OTLP_* env vars documented in the README for [go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp]
func WithTracing(tracing bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracing = tracing
	}
}

// WithTracingStdout enables tracing output to stdout. This also requires tracing to enabled separately. This is mostly useful for debugging
func WithTracingStdout(stdout bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingStdout = stdout
	}
}

// WithShutdownTimeout specifies the timeout for graceful shutdown. The default is 30 seconds
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}
