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

// Package allocation matches consumption against available certificate
// balance. Certificates are drained soonest-expiry-first; whatever green
// balance cannot cover the request falls back to grid power at the
// configured emission factor.
package allocation

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/verdin-energy/verdin/database"
	"github.com/verdin-energy/verdin/database/chainlog"
	"github.com/verdin-energy/verdin/database/models"
	"github.com/verdin-energy/verdin/event"
	"github.com/verdin-energy/verdin/fault"
	"github.com/verdin-energy/verdin/ident"
	"github.com/verdin-energy/verdin/registry"
)

const DefaultGridEmissionFactor = 0.4

type Config struct {
	Logger             *slog.Logger
	EventBus           *event.EventBus
	Database           *database.Database
	Registry           *registry.Registry
	PromRegistry       prometheus.Registerer
	GridEmissionFactor float64
	Now                func() time.Time
}

type allocatorMetrics struct {
	allocations  prometheus.Counter
	greenKWh     prometheus.Counter
	gridKWh      prometheus.Counter
	skippedCerts *prometheus.CounterVec
}

type Allocator struct {
	logger     *slog.Logger
	eventBus   *event.EventBus
	db         *database.Database
	registry   *registry.Registry
	metrics    *allocatorMetrics
	now        func() time.Time
	gridFactor float64
}

func New(cfg Config) *Allocator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	gridFactor := cfg.GridEmissionFactor
	if gridFactor <= 0 {
		gridFactor = DefaultGridEmissionFactor
	}
	nowFunc := cfg.Now
	if nowFunc == nil {
		nowFunc = time.Now
	}
	a := &Allocator{
		logger:     logger.With("component", "allocation"),
		eventBus:   cfg.EventBus,
		db:         cfg.Database,
		registry:   cfg.Registry,
		now:        nowFunc,
		gridFactor: gridFactor,
	}
	if cfg.PromRegistry != nil {
		promFactory := promauto.With(cfg.PromRegistry)
		a.metrics = &allocatorMetrics{
			allocations: promFactory.NewCounter(prometheus.CounterOpts{
				Name: "verdin_allocations_total",
				Help: "total consumption allocations",
			}),
			greenKWh: promFactory.NewCounter(prometheus.CounterOpts{
				Name: "verdin_allocated_green_kwh_total",
				Help: "total green kWh allocated to consumption",
			}),
			gridKWh: promFactory.NewCounter(prometheus.CounterOpts{
				Name: "verdin_allocated_grid_kwh_total",
				Help: "total grid fallback kWh",
			}),
			skippedCerts: promFactory.NewCounterVec(
				prometheus.CounterOpts{
					Name: "verdin_allocation_skipped_certificates_total",
					Help: "allocation candidates skipped by failure kind",
				},
				[]string{"kind"},
			),
		}
	}
	return a
}

// Request is a consumption event to cover with green balance.
type Request struct {
	ConsumerID string
	AmountKWh  uint64
	ConsumedAt time.Time
}

// AllocateConsumption drains allocatable certificates against the
// request, soonest expiry first, and persists an immutable consumption
// record with per-certificate entries. Candidates that hit contention
// or a balance race are skipped, not fatal. A request larger than all
// available green balance succeeds with a grid remainder.
func (a *Allocator) AllocateConsumption(
	ctx context.Context,
	req Request,
) (*models.ConsumptionRecord, error) {
	if req.ConsumerID == "" {
		return nil, fault.Validation("", "consumer id is required")
	}
	if req.AmountKWh == 0 {
		return nil, fault.Validation("", "amount must be positive")
	}
	now := a.now()
	consumedAt := req.ConsumedAt
	if consumedAt.IsZero() {
		consumedAt = now
	}
	// The record id is assigned before any debit so each chain event can
	// reference the record it will belong to
	recordID := ident.New("con", req.ConsumerID)

	candidates, err := a.db.Metadata().ListAllocatable(now)
	if err != nil {
		return nil, fault.ExternalDependency(err, "allocatable query")
	}
	var entries []models.AllocationEntry
	remaining := req.AmountKWh
	for _, cert := range candidates {
		if remaining == 0 {
			break
		}
		take, err := a.debitCandidate(
			ctx,
			&cert,
			req.ConsumerID,
			recordID,
			remaining,
		)
		if err != nil {
			// Another allocation may have raced us to this certificate;
			// move on to the next candidate
			if fault.IsConflict(err) || fault.IsLockTimeout(err) {
				a.countSkip(err)
				a.logger.Debug(
					"allocation candidate skipped",
					"certificate", cert.ID,
					"error", err,
				)
				continue
			}
			a.unwind(ctx, entries, recordID)
			return nil, err
		}
		entries = append(entries, models.AllocationEntry{
			ConsumptionRecordID: recordID,
			CertificateID:       cert.ID,
			SourceID:            cert.FacilityID,
			PowerType:           cert.PowerType,
			AmountKWh:           take,
		})
		remaining -= take
	}

	greenKWh := req.AmountKWh - remaining
	record := &models.ConsumptionRecord{
		ID:              recordID,
		ConsumerID:      req.ConsumerID,
		RequestedKWh:    req.AmountKWh,
		GreenKWh:        greenKWh,
		GridKWh:         remaining,
		GreenRatio:      ratio(greenKWh, req.AmountKWh),
		GridCarbonKg:    float64(remaining) * a.gridFactor,
		AvoidedCarbonKg: float64(greenKWh) * a.gridFactor,
		ConsumedAt:      consumedAt,
		Entries:         entries,
	}
	if err := a.db.Metadata().CreateConsumptionRecord(record); err != nil {
		a.unwind(ctx, entries, recordID)
		return nil, fault.ExternalDependency(err, "consumption record insert")
	}
	if a.metrics != nil {
		a.metrics.allocations.Inc()
		a.metrics.greenKWh.Add(float64(record.GreenKWh))
		a.metrics.gridKWh.Add(float64(record.GridKWh))
	}
	a.publish(record)
	a.logger.Info(
		"consumption allocated",
		"record", record.ID,
		"consumer", record.ConsumerID,
		"green_kwh", record.GreenKWh,
		"grid_kwh", record.GridKWh,
	)
	return record, nil
}

// debitCandidate debits up to want kWh from a candidate, starting from
// the balance the allocatable listing reported. When the debit conflicts
// the certificate is re-read and, if it still holds balance, retried at
// the reduced remainder so a partially drained candidate contributes
// what is left instead of being skipped outright.
func (a *Allocator) debitCandidate(
	ctx context.Context,
	cert *models.Certificate,
	consumerID string,
	recordID string,
	want uint64,
) (uint64, error) {
	take := min(want, cert.RemainingKWh)
	_, err := a.registry.Debit(ctx, registry.DebitRequest{
		CertificateID: cert.ID,
		Entity:        consumerID,
		Reference:     recordID,
		Cause:         chainlog.EventTypeAllocation,
		AmountKWh:     take,
	})
	if err == nil {
		return take, nil
	}
	if !fault.IsConflict(err) {
		return 0, err
	}
	refreshed, getErr := a.registry.Get(ctx, cert.ID)
	if getErr != nil ||
		refreshed.Status != models.CertificateStatusActive ||
		refreshed.RemainingKWh == 0 {
		return 0, err
	}
	take = min(want, refreshed.RemainingKWh)
	_, err = a.registry.Debit(ctx, registry.DebitRequest{
		CertificateID: cert.ID,
		Entity:        consumerID,
		Reference:     recordID,
		Cause:         chainlog.EventTypeAllocation,
		AmountKWh:     take,
	})
	if err != nil {
		return 0, err
	}
	return take, nil
}

// unwind credits back every debit made for a failed allocation.
func (a *Allocator) unwind(
	ctx context.Context,
	entries []models.AllocationEntry,
	recordID string,
) {
	for _, entry := range entries {
		err := a.registry.Credit(
			ctx,
			entry.CertificateID,
			entry.AmountKWh,
			recordID,
		)
		if err != nil {
			a.logger.Error(
				"allocation unwind failed",
				"certificate", entry.CertificateID,
				"amount_kwh", entry.AmountKWh,
				"error", err,
			)
		}
	}
}

func (a *Allocator) countSkip(err error) {
	if a.metrics != nil {
		a.metrics.skippedCerts.WithLabelValues(fault.KindOf(err).String()).
			Inc()
	}
}

func (a *Allocator) publish(record *models.ConsumptionRecord) {
	if a.eventBus == nil {
		return
	}
	a.eventBus.Publish(
		event.AllocationRecordedEventType,
		event.NewEvent(
			event.AllocationRecordedEventType,
			event.AllocationRecordedEvent{
				ConsumptionRecordID: record.ID,
				ConsumerID:          record.ConsumerID,
				RequestedKWh:        record.RequestedKWh,
				GreenKWh:            record.GreenKWh,
				GridKWh:             record.GridKWh,
			},
		),
	)
	if record.GridKWh > 0 {
		a.eventBus.Publish(
			event.SupplyShortfallEventType,
			event.NewEvent(
				event.SupplyShortfallEventType,
				event.SupplyShortfallEvent{
					ConsumptionRecordID: record.ID,
					ConsumerID:          record.ConsumerID,
					RequestedKWh:        record.RequestedKWh,
					GreenKWh:            record.GreenKWh,
					ShortfallKWh:        record.GridKWh,
				},
			),
		)
	}
}

func ratio(part, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total)
}
