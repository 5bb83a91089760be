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

// Package ingest accepts raw generation measurements from onboarded
// sources, computes avoided carbon, and triggers certificate issuance
// for eligible measurements.
package ingest

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/verdin-energy/verdin/database"
	"github.com/verdin-energy/verdin/database/models"
	"github.com/verdin-energy/verdin/event"
	"github.com/verdin-energy/verdin/fault"
	"github.com/verdin-energy/verdin/ident"
	"github.com/verdin-energy/verdin/registry"
)

const (
	// DefaultGridEmissionFactor is kg CO2e emitted per grid kWh,
	// used when no factor is configured
	DefaultGridEmissionFactor = 0.4
	// DefaultMinCertifiableKWh is the issuance eligibility threshold
	DefaultMinCertifiableKWh = 1000
)

type Config struct {
	Logger             *slog.Logger
	EventBus           *event.EventBus
	Database           *database.Database
	Registry           *registry.Registry
	PromRegistry       prometheus.Registerer
	GridEmissionFactor float64
	MinCertifiableKWh  uint64
	Now                func() time.Time
}

type ingestMetrics struct {
	measurements *prometheus.CounterVec
	generatedKWh prometheus.Counter
}

type Ingester struct {
	logger            *slog.Logger
	eventBus          *event.EventBus
	db                *database.Database
	registry          *registry.Registry
	metrics           *ingestMetrics
	now               func() time.Time
	gridFactor        float64
	minCertifiableKWh uint64
}

func New(cfg Config) *Ingester {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	gridFactor := cfg.GridEmissionFactor
	if gridFactor <= 0 {
		gridFactor = DefaultGridEmissionFactor
	}
	minKWh := cfg.MinCertifiableKWh
	if minKWh == 0 {
		minKWh = DefaultMinCertifiableKWh
	}
	nowFunc := cfg.Now
	if nowFunc == nil {
		nowFunc = time.Now
	}
	i := &Ingester{
		logger:            logger.With("component", "ingest"),
		eventBus:          cfg.EventBus,
		db:                cfg.Database,
		registry:          cfg.Registry,
		now:               nowFunc,
		gridFactor:        gridFactor,
		minCertifiableKWh: minKWh,
	}
	if cfg.PromRegistry != nil {
		promFactory := promauto.With(cfg.PromRegistry)
		i.metrics = &ingestMetrics{
			measurements: promFactory.NewCounterVec(
				prometheus.CounterOpts{
					Name: "verdin_generation_measurements_total",
					Help: "accepted measurements by power type",
				},
				[]string{"power_type"},
			),
			generatedKWh: promFactory.NewCounter(prometheus.CounterOpts{
				Name: "verdin_generation_kwh_total",
				Help: "total accepted generation in kWh",
			}),
		}
	}
	return i
}

// Request is a single generation measurement.
type Request struct {
	SourceID    string
	AmountKWh   uint64
	GeneratedAt time.Time
}

// Result is the outcome of an accepted measurement. Certificate is nil
// when the measurement was below the eligibility threshold or a
// certificate for the facility and period already exists.
type Result struct {
	Record      *models.GenerationRecord
	Certificate *models.Certificate
}

// RecordGeneration validates and persists a measurement, updates the
// source's cumulative total, and issues a certificate when the amount
// meets the eligibility threshold. A duplicate-period issuance conflict
// does not fail the measurement; the record stands on its own.
func (i *Ingester) RecordGeneration(
	ctx context.Context,
	req Request,
) (*Result, error) {
	if req.SourceID == "" {
		return nil, fault.Validation("", "source id is required")
	}
	if req.AmountKWh == 0 {
		return nil, fault.Validation("", "amount must be positive")
	}
	if req.GeneratedAt.IsZero() {
		return nil, fault.Validation("", "generation timestamp is required")
	}
	source, err := i.db.Metadata().GetSource(req.SourceID)
	if err != nil {
		return nil, err
	}
	if !source.Active {
		return nil, fault.Conflict(
			fault.ReasonSourceInactive,
			"source %s is deactivated",
			source.ID,
		)
	}
	record := &models.GenerationRecord{
		ID:                  ident.New("gen", source.ID),
		SourceID:            source.ID,
		PowerType:           source.PowerType,
		AmountKWh:           req.AmountKWh,
		AvoidedCarbonKg:     i.avoidedCarbon(source, req.AmountKWh),
		CertificateEligible: req.AmountKWh >= i.minCertifiableKWh,
		GeneratedAt:         req.GeneratedAt,
	}
	if err := i.db.Metadata().RecordGeneration(record); err != nil {
		return nil, err
	}
	if i.metrics != nil {
		i.metrics.measurements.WithLabelValues(string(record.PowerType)).Inc()
		i.metrics.generatedKWh.Add(float64(record.AmountKWh))
	}
	i.publishRecorded(record)
	result := &Result{Record: record}
	if !record.CertificateEligible {
		i.logger.Debug(
			"measurement below certification threshold",
			"record", record.ID,
			"amount_kwh", record.AmountKWh,
		)
		return result, nil
	}
	cert, err := i.registry.Issue(ctx, record, source)
	if err != nil {
		if fault.IsConflict(err) {
			// The period already has a certificate; the measurement
			// still counts toward production reporting
			i.logger.Warn(
				"certificate not issued",
				"record", record.ID,
				"reason", fault.ReasonOf(err),
			)
			return result, nil
		}
		return nil, err
	}
	result.Certificate = cert
	return result, nil
}

// avoidedCarbon is the grid emissions displaced by the measurement,
// net of the source's own lifecycle emissions. Never negative.
func (i *Ingester) avoidedCarbon(
	source *models.Source,
	amountKWh uint64,
) float64 {
	factor := i.gridFactor - source.CarbonFactor
	if factor < 0 {
		factor = 0
	}
	return float64(amountKWh) * factor
}

func (i *Ingester) publishRecorded(record *models.GenerationRecord) {
	if i.eventBus == nil {
		return
	}
	i.eventBus.Publish(
		event.GenerationRecordedEventType,
		event.NewEvent(
			event.GenerationRecordedEventType,
			event.GenerationRecordedEvent{
				RecordID:    record.ID,
				SourceID:    record.SourceID,
				PowerType:   string(record.PowerType),
				AmountKWh:   record.AmountKWh,
				Eligible:    record.CertificateEligible,
				GeneratedAt: record.GeneratedAt,
			},
		),
	)
}
