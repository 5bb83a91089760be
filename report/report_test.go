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

package report_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/verdin-energy/verdin/database"
	"github.com/verdin-energy/verdin/database/models"
	"github.com/verdin-energy/verdin/fault"
	"github.com/verdin-energy/verdin/report"
)

var windowStart = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func testWindow() report.Window {
	return report.Window{
		Start: windowStart,
		End:   windowStart.AddDate(0, 1, 0),
	}
}

func newFixture(t *testing.T) (*report.Reporter, *database.Database) {
	t.Helper()
	db, err := database.New(&database.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close() //nolint:errcheck
	})
	return report.New(report.Config{Database: db}), db
}

func seedConsumption(t *testing.T, db *database.Database) {
	t.Helper()
	records := []*models.ConsumptionRecord{
		{
			ID:              "con-1",
			ConsumerID:      "consumer-1",
			RequestedKWh:    10000,
			GreenKWh:        8000,
			GridKWh:         2000,
			GreenRatio:      0.8,
			GridCarbonKg:    800,
			AvoidedCarbonKg: 3200,
			ConsumedAt:      windowStart.Add(24 * time.Hour),
			Entries: []models.AllocationEntry{
				{
					CertificateID: "grc-1",
					PowerType:     models.PowerTypeWind,
					AmountKWh:     6000,
				},
				{
					CertificateID: "grc-2",
					PowerType:     models.PowerTypeSolar,
					AmountKWh:     2000,
				},
			},
		},
		{
			ID:           "con-2",
			ConsumerID:   "consumer-2",
			RequestedKWh: 10000,
			GreenKWh:     2000,
			GridKWh:      8000,
			GreenRatio:   0.2,
			GridCarbonKg: 3200,
			ConsumedAt:   windowStart.Add(48 * time.Hour),
			Entries: []models.AllocationEntry{
				{
					CertificateID: "grc-1",
					PowerType:     models.PowerTypeWind,
					AmountKWh:     2000,
				},
			},
		},
		{
			// Outside the window, must be ignored
			ID:           "con-3",
			ConsumerID:   "consumer-1",
			RequestedKWh: 99999,
			GreenKWh:     99999,
			ConsumedAt:   windowStart.AddDate(0, 2, 0),
		},
	}
	for _, record := range records {
		require.NoError(t, db.Metadata().CreateConsumptionRecord(record))
	}
}

func TestRenewableRatio(t *testing.T) {
	r, db := newFixture(t)
	seedConsumption(t, db)
	rep, err := r.RenewableRatio(context.Background(), testWindow(), "")
	require.NoError(t, err)
	require.Equal(t, uint64(20000), rep.TotalKWh)
	require.Equal(t, uint64(10000), rep.GreenKWh)
	require.Equal(t, uint64(10000), rep.GridKWh)
	require.InDelta(t, 0.5, rep.RenewableRatio, 0.0001)
	require.InDelta(t, 0.5, rep.ComplianceGap, 0.0001)
	require.False(t, rep.Partial)

	require.Len(t, rep.Breakdown, 2)
	shares := make(map[models.PowerType]float64)
	for _, share := range rep.Breakdown {
		shares[share.PowerType] = share.Share
	}
	require.InDelta(t, 0.8, shares[models.PowerTypeWind], 0.0001)
	require.InDelta(t, 0.2, shares[models.PowerTypeSolar], 0.0001)
}

func TestRenewableRatioSingleConsumer(t *testing.T) {
	r, db := newFixture(t)
	seedConsumption(t, db)
	rep, err := r.RenewableRatio(
		context.Background(),
		testWindow(),
		"consumer-1",
	)
	require.NoError(t, err)
	require.Equal(t, uint64(10000), rep.TotalKWh)
	require.InDelta(t, 0.8, rep.RenewableRatio, 0.0001)
	require.Len(t, rep.Breakdown, 2)
	for _, share := range rep.Breakdown {
		if share.PowerType == models.PowerTypeWind {
			require.Equal(t, uint64(6000), share.GreenKWh)
		}
	}
}

func TestRenewableRatioEmptyWindow(t *testing.T) {
	r, _ := newFixture(t)
	rep, err := r.RenewableRatio(context.Background(), testWindow(), "")
	require.NoError(t, err)
	require.Equal(t, uint64(0), rep.TotalKWh)
	require.Equal(t, 0.0, rep.RenewableRatio)
	require.InDelta(t, 1.0, rep.ComplianceGap, 0.0001)
	require.Empty(t, rep.Breakdown)
}

func TestRenewableRatioCustomTarget(t *testing.T) {
	db, err := database.New(&database.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close() //nolint:errcheck
	})
	seedConsumption(t, db)
	r := report.New(report.Config{Database: db, TargetRatio: 0.4})
	rep, err := r.RenewableRatio(context.Background(), testWindow(), "")
	require.NoError(t, err)
	// Ratio 0.5 already beats the 0.4 target
	require.Equal(t, 0.0, rep.ComplianceGap)
}

func TestWindowValidation(t *testing.T) {
	r, _ := newFixture(t)
	_, err := r.RenewableRatio(context.Background(), report.Window{}, "")
	require.True(t, fault.IsValidation(err))
	_, err = r.Production(context.Background(), report.Window{
		Start: windowStart,
		End:   windowStart.Add(-time.Hour),
	}, "")
	require.True(t, fault.IsValidation(err))
}

func TestProduction(t *testing.T) {
	r, db := newFixture(t)
	for _, src := range []string{"src-1", "src-2"} {
		require.NoError(t, db.Metadata().CreateSource(&models.Source{
			ID:        src,
			PowerType: models.PowerTypeSolar,
			Active:    true,
		}))
	}
	records := []*models.GenerationRecord{
		{
			ID:                  "gen-1",
			SourceID:            "src-1",
			PowerType:           models.PowerTypeSolar,
			AmountKWh:           50000,
			UsedKWh:             20000,
			AvoidedCarbonKg:     20000,
			CertificateEligible: true,
			GeneratedAt:         windowStart.Add(time.Hour),
		},
		{
			ID:          "gen-2",
			SourceID:    "src-1",
			PowerType:   models.PowerTypeSolar,
			AmountKWh:   500,
			GeneratedAt: windowStart.Add(2 * time.Hour),
		},
		{
			ID:                  "gen-3",
			SourceID:            "src-2",
			PowerType:           models.PowerTypeSolar,
			AmountKWh:           30000,
			AvoidedCarbonKg:     12000,
			CertificateEligible: true,
			GeneratedAt:         windowStart.Add(3 * time.Hour),
		},
	}
	for _, record := range records {
		require.NoError(t, db.Metadata().RecordGeneration(record))
	}

	rep, err := r.Production(context.Background(), testWindow(), "")
	require.NoError(t, err)
	require.Equal(t, uint64(80500), rep.TotalKWh)
	require.InDelta(t, 32000, rep.AvoidedCarbonKg, 0.001)
	require.Len(t, rep.Sources, 2)
	require.Equal(t, "src-1", rep.Sources[0].SourceID)
	require.Equal(t, uint64(50500), rep.Sources[0].GeneratedKWh)
	require.Equal(t, uint64(20000), rep.Sources[0].UsedKWh)
	require.Equal(t, uint64(30500), rep.Sources[0].RemainingKWh)
	require.Equal(t, 2, rep.Sources[0].Measurements)
	require.Equal(t, 1, rep.Sources[0].EligibleCount)

	scoped, err := r.Production(context.Background(), testWindow(), "src-2")
	require.NoError(t, err)
	require.Len(t, scoped.Sources, 1)
	require.Equal(t, uint64(30000), scoped.TotalKWh)
}

func TestConsumption(t *testing.T) {
	r, db := newFixture(t)
	seedConsumption(t, db)
	rep, err := r.Consumption(context.Background(), testWindow(), "")
	require.NoError(t, err)
	require.Len(t, rep.Records, 2)
	require.Equal(t, uint64(20000), rep.TotalKWh)
	require.Equal(t, uint64(10000), rep.GreenKWh)
	require.InDelta(t, 4000, rep.GridCarbonKg, 0.001)
	require.InDelta(t, 3200, rep.AvoidedCarbonKg, 0.001)

	scoped, err := r.Consumption(
		context.Background(),
		testWindow(),
		"consumer-2",
	)
	require.NoError(t, err)
	require.Len(t, scoped.Records, 1)
	require.Equal(t, uint64(2000), scoped.GreenKWh)
}
