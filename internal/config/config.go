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

package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type ctxKey string

const configContextKey ctxKey = "verdin.config"

const DefaultShutdownTimeout = "30s"

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

type Config struct {
	DataDir              string  `yaml:"dataDir"              split_words:"true"`
	BindAddr             string  `yaml:"bindAddr"             split_words:"true"`
	ApiListenAddress     string  `yaml:"apiListenAddress"     envconfig:"VERDIN_API_LISTEN_ADDRESS"`
	ValidityMonths       int     `yaml:"validityMonths"       split_words:"true"`
	LockTimeout          string  `yaml:"lockTimeout"          split_words:"true"`
	ShutdownTimeout      string  `yaml:"shutdownTimeout"      split_words:"true"`
	GridEmissionFactor   float64 `yaml:"gridEmissionFactor"   split_words:"true"`
	TargetRenewableRatio float64 `yaml:"targetRenewableRatio" split_words:"true"`
	MinCertifiableKWh    uint64  `yaml:"minCertifiableKwh"    envconfig:"VERDIN_MIN_CERTIFIABLE_KWH"`
	MetricsPort          uint    `yaml:"metricsPort"          split_words:"true"`
	Tracing              bool    `yaml:"tracing"`
	TracingStdout        bool    `yaml:"tracingStdout"        split_words:"true"`
}

var globalConfig = &Config{
	DataDir:              ".verdin",
	BindAddr:             "0.0.0.0",
	ApiListenAddress:     "localhost:8090",
	ValidityMonths:       12,
	LockTimeout:          "5s",
	ShutdownTimeout:      DefaultShutdownTimeout,
	GridEmissionFactor:   0.4,
	TargetRenewableRatio: 1.0,
	MinCertifiableKWh:    1000,
	MetricsPort:          12798,
}

// LoadConfig reads the YAML config file (explicit path, then
// ~/.verdin/verdin.yaml, then /etc/verdin/verdin.yaml) and applies
// environment variable overrides on top.
func LoadConfig(configFile string) (*Config, error) {
	if configFile == "" {
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".verdin", "verdin.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}
		if configFile == "" {
			systemPath := "/etc/verdin/verdin.yaml"
			if _, err := os.Stat(systemPath); err == nil {
				configFile = systemPath
			}
		}
	}
	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, globalConfig); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	if err := envconfig.Process("verdin", globalConfig); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}
	return globalConfig, nil
}

// GetConfig returns the global config instance
func GetConfig() *Config {
	return globalConfig
}
