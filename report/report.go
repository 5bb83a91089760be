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

// Package report aggregates stored generation and consumption into
// renewable-ratio, production, and consumption reports. Reporting is
// read-only; it never mutates balances or records.
package report

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/verdin-energy/verdin/database"
	"github.com/verdin-energy/verdin/database/metadata"
	"github.com/verdin-energy/verdin/database/models"
	"github.com/verdin-energy/verdin/fault"
)

// DefaultTargetRatio is the renewable coverage goal used when no
// target is configured.
const DefaultTargetRatio = 1.0

type Config struct {
	Logger      *slog.Logger
	Database    *database.Database
	TargetRatio float64
}

type Reporter struct {
	logger      *slog.Logger
	db          *database.Database
	targetRatio float64
}

func New(cfg Config) *Reporter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	targetRatio := cfg.TargetRatio
	if targetRatio <= 0 {
		targetRatio = DefaultTargetRatio
	}
	return &Reporter{
		logger:      logger.With("component", "report"),
		db:          cfg.Database,
		targetRatio: targetRatio,
	}
}

// Window is a half-open reporting interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return fault.Validation("", "report window is required")
	}
	if !w.End.After(w.Start) {
		return fault.Validation("", "window end must be after start")
	}
	return nil
}

// PowerTypeShare is one power type's contribution to green consumption.
type PowerTypeShare struct {
	PowerType models.PowerType
	GreenKWh  uint64
	Share     float64
}

// RatioReport summarizes renewable coverage over a window.
type RatioReport struct {
	Window          Window
	TotalKWh        uint64
	GreenKWh        uint64
	GridKWh         uint64
	RenewableRatio  float64
	TargetRatio     float64
	ComplianceGap   float64
	GridCarbonKg    float64
	AvoidedCarbonKg float64
	Breakdown       []PowerTypeShare
	// Partial is set when the power-type breakdown could not be
	// computed; the headline figures are still authoritative
	Partial bool
}

// RenewableRatio reports the green share of consumption in the window,
// optionally for a single consumer. A window with no consumption yields
// a zero ratio, not an error.
func (r *Reporter) RenewableRatio(
	ctx context.Context,
	window Window,
	consumerID string,
) (*RatioReport, error) {
	if err := window.validate(); err != nil {
		return nil, err
	}
	records, err := r.db.Metadata().QueryConsumption(
		window.Start,
		window.End,
		consumerID,
	)
	if err != nil {
		return nil, fault.ExternalDependency(err, "consumption query")
	}
	rep := &RatioReport{
		Window:      window,
		TargetRatio: r.targetRatio,
	}
	for _, record := range records {
		rep.TotalKWh += record.RequestedKWh
		rep.GreenKWh += record.GreenKWh
		rep.GridKWh += record.GridKWh
		rep.GridCarbonKg += record.GridCarbonKg
		rep.AvoidedCarbonKg += record.AvoidedCarbonKg
	}
	if rep.TotalKWh > 0 {
		rep.RenewableRatio = float64(rep.GreenKWh) / float64(rep.TotalKWh)
	}
	rep.ComplianceGap = max(0, rep.TargetRatio-rep.RenewableRatio)

	rep.Breakdown, err = r.breakdown(window, rep.GreenKWh, consumerID, records)
	if err != nil {
		// Headline numbers stand; mark the report partial
		r.logger.Warn("power type breakdown failed", "error", err)
		rep.Partial = true
	}
	return rep, nil
}

// breakdown computes green shares per power type. A consumer-scoped
// request aggregates from the already-loaded records because the grouped
// store query spans all consumers.
func (r *Reporter) breakdown(
	window Window,
	greenKWh uint64,
	consumerID string,
	records []models.ConsumptionRecord,
) ([]PowerTypeShare, error) {
	var rows []metadata.PowerTypeAllocation
	if consumerID == "" {
		var err error
		rows, err = r.db.Metadata().GreenBreakdownByPowerType(
			window.Start,
			window.End,
		)
		if err != nil {
			return nil, err
		}
	} else {
		byType := make(map[models.PowerType]uint64)
		for _, record := range records {
			for _, entry := range record.Entries {
				byType[entry.PowerType] += entry.AmountKWh
			}
		}
		for powerType, amount := range byType {
			rows = append(rows, metadata.PowerTypeAllocation{
				PowerType: powerType,
				GreenKWh:  amount,
			})
		}
	}
	shares := make([]PowerTypeShare, 0, len(rows))
	for _, row := range rows {
		share := PowerTypeShare{
			PowerType: row.PowerType,
			GreenKWh:  row.GreenKWh,
		}
		if greenKWh > 0 {
			share.Share = float64(row.GreenKWh) / float64(greenKWh)
		}
		shares = append(shares, share)
	}
	return shares, nil
}

// SourceProduction aggregates one source's output over a window.
type SourceProduction struct {
	SourceID        string
	PowerType       models.PowerType
	GeneratedKWh    uint64
	UsedKWh         uint64
	RemainingKWh    uint64
	AvoidedCarbonKg float64
	Measurements    int
	EligibleCount   int
}

// ProductionReport summarizes generation over a window.
type ProductionReport struct {
	Window          Window
	TotalKWh        uint64
	AvoidedCarbonKg float64
	Sources         []SourceProduction
}

// Production aggregates generation measurements per source, optionally
// restricted to one source.
func (r *Reporter) Production(
	ctx context.Context,
	window Window,
	sourceID string,
) (*ProductionReport, error) {
	if err := window.validate(); err != nil {
		return nil, err
	}
	records, err := r.db.Metadata().QueryGeneration(
		window.Start,
		window.End,
		sourceID,
	)
	if err != nil {
		return nil, fault.ExternalDependency(err, "generation query")
	}
	rep := &ProductionReport{Window: window}
	bySource := make(map[string]*SourceProduction)
	var order []string
	for _, record := range records {
		agg, ok := bySource[record.SourceID]
		if !ok {
			agg = &SourceProduction{
				SourceID:  record.SourceID,
				PowerType: record.PowerType,
			}
			bySource[record.SourceID] = agg
			order = append(order, record.SourceID)
		}
		agg.GeneratedKWh += record.AmountKWh
		agg.UsedKWh += record.UsedKWh
		agg.RemainingKWh += record.RemainingKWh()
		agg.AvoidedCarbonKg += record.AvoidedCarbonKg
		agg.Measurements++
		if record.CertificateEligible {
			agg.EligibleCount++
		}
		rep.TotalKWh += record.AmountKWh
		rep.AvoidedCarbonKg += record.AvoidedCarbonKg
	}
	for _, id := range order {
		rep.Sources = append(rep.Sources, *bySource[id])
	}
	return rep, nil
}

// ConsumptionReport summarizes consumption over a window.
type ConsumptionReport struct {
	Window          Window
	TotalKWh        uint64
	GreenKWh        uint64
	GridKWh         uint64
	GridCarbonKg    float64
	AvoidedCarbonKg float64
	Records         []models.ConsumptionRecord
}

// Consumption lists consumption records with window totals, optionally
// for one consumer.
func (r *Reporter) Consumption(
	ctx context.Context,
	window Window,
	consumerID string,
) (*ConsumptionReport, error) {
	if err := window.validate(); err != nil {
		return nil, err
	}
	records, err := r.db.Metadata().QueryConsumption(
		window.Start,
		window.End,
		consumerID,
	)
	if err != nil {
		return nil, fault.ExternalDependency(err, "consumption query")
	}
	rep := &ConsumptionReport{Window: window, Records: records}
	for _, record := range records {
		rep.TotalKWh += record.RequestedKWh
		rep.GreenKWh += record.GreenKWh
		rep.GridKWh += record.GridKWh
		rep.GridCarbonKg += record.GridCarbonKg
		rep.AvoidedCarbonKg += record.AvoidedCarbonKg
	}
	return rep, nil
}
