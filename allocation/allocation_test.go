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

package allocation_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/verdin-energy/verdin/allocation"
	"github.com/verdin-energy/verdin/database"
	"github.com/verdin-energy/verdin/database/models"
	"github.com/verdin-energy/verdin/fault"
	"github.com/verdin-energy/verdin/registry"
)

type fixture struct {
	db        *database.Database
	registry  *registry.Registry
	allocator *allocation.Allocator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.New(&database.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close() //nolint:errcheck
	})
	reg := registry.New(registry.Config{Database: db})
	alloc := allocation.New(allocation.Config{
		Database: db,
		Registry: reg,
	})
	return &fixture{db: db, registry: reg, allocator: alloc}
}

// issueCert creates a facility and an active certificate holding
// amountKWh, expiring at the given time.
func (f *fixture) issueCert(
	t *testing.T,
	facility string,
	amountKWh uint64,
	expiresAt time.Time,
	generatedAt time.Time,
) *models.Certificate {
	t.Helper()
	source := &models.Source{
		ID:        facility,
		Name:      facility,
		PowerType: models.PowerTypeWind,
		Location:  "site",
		Active:    true,
	}
	if _, err := f.db.Metadata().GetSource(facility); err != nil {
		require.NoError(t, f.db.Metadata().CreateSource(source))
	}
	cert, err := f.registry.Issue(
		context.Background(),
		&models.GenerationRecord{
			ID:          "gen-" + facility,
			SourceID:    facility,
			PowerType:   models.PowerTypeWind,
			AmountKWh:   amountKWh,
			GeneratedAt: generatedAt,
		},
		source,
	)
	require.NoError(t, err)
	require.NoError(
		t,
		f.db.Metadata().UpdateCertificateExpiry(cert.ID, expiresAt),
	)
	cert.ExpiresAt = expiresAt
	return cert
}

func TestAllocateSingleCertificate(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	cert := f.issueCert(
		t,
		"fac-1",
		50000,
		now.Add(30*24*time.Hour),
		now.AddDate(0, -1, 0),
	)
	record, err := f.allocator.AllocateConsumption(
		context.Background(),
		allocation.Request{ConsumerID: "consumer-1", AmountKWh: 8000},
	)
	require.NoError(t, err)
	require.Equal(t, uint64(8000), record.GreenKWh)
	require.Equal(t, uint64(0), record.GridKWh)
	require.InDelta(t, 1.0, record.GreenRatio, 0.0001)
	require.Len(t, record.Entries, 1)
	require.Equal(t, cert.ID, record.Entries[0].CertificateID)

	got, err := f.registry.Get(context.Background(), cert.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(42000), got.RemainingKWh)
}

func TestAllocateSpansCertificatesExpiryFirst(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	soon := f.issueCert(
		t,
		"fac-soon",
		10000,
		now.Add(24*time.Hour),
		now.AddDate(0, -2, 0),
	)
	late := f.issueCert(
		t,
		"fac-late",
		10000,
		now.Add(30*24*time.Hour),
		now.AddDate(0, -1, 0),
	)
	record, err := f.allocator.AllocateConsumption(
		context.Background(),
		allocation.Request{ConsumerID: "consumer-1", AmountKWh: 15000},
	)
	require.NoError(t, err)
	require.Equal(t, uint64(15000), record.GreenKWh)
	require.Len(t, record.Entries, 2)

	// Soonest expiry drained fully before touching the later one
	require.Equal(t, soon.ID, record.Entries[0].CertificateID)
	require.Equal(t, uint64(10000), record.Entries[0].AmountKWh)
	require.Equal(t, late.ID, record.Entries[1].CertificateID)
	require.Equal(t, uint64(5000), record.Entries[1].AmountKWh)

	gotSoon, err := f.registry.Get(context.Background(), soon.ID)
	require.NoError(t, err)
	require.Equal(t, models.CertificateStatusUsed, gotSoon.Status)
	gotLate, err := f.registry.Get(context.Background(), late.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(5000), gotLate.RemainingKWh)
}

func TestAllocateShortfallFallsBackToGrid(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.issueCert(
		t,
		"fac-1",
		6000,
		now.Add(24*time.Hour),
		now.AddDate(0, -1, 0),
	)
	record, err := f.allocator.AllocateConsumption(
		context.Background(),
		allocation.Request{ConsumerID: "consumer-1", AmountKWh: 10000},
	)
	require.NoError(t, err)
	require.Equal(t, uint64(6000), record.GreenKWh)
	require.Equal(t, uint64(4000), record.GridKWh)
	require.InDelta(t, 0.6, record.GreenRatio, 0.0001)

	// Grid remainder carries emissions at the default factor
	require.InDelta(t, 1600, record.GridCarbonKg, 0.001)
	require.InDelta(t, 2400, record.AvoidedCarbonKg, 0.001)
}

func TestAllocateNoSupplyIsAllGrid(t *testing.T) {
	f := newFixture(t)
	record, err := f.allocator.AllocateConsumption(
		context.Background(),
		allocation.Request{ConsumerID: "consumer-1", AmountKWh: 5000},
	)
	require.NoError(t, err)
	require.Equal(t, uint64(0), record.GreenKWh)
	require.Equal(t, uint64(5000), record.GridKWh)
	require.Equal(t, 0.0, record.GreenRatio)
	require.Empty(t, record.Entries)
}

func TestAllocateValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.allocator.AllocateConsumption(
		context.Background(),
		allocation.Request{AmountKWh: 1000},
	)
	require.True(t, fault.IsValidation(err))
	_, err = f.allocator.AllocateConsumption(
		context.Background(),
		allocation.Request{ConsumerID: "consumer-1"},
	)
	require.True(t, fault.IsValidation(err))
}

func TestConcurrentAllocationsConserveBalance(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	cert := f.issueCert(
		t,
		"fac-1",
		10000,
		now.Add(24*time.Hour),
		now.AddDate(0, -1, 0),
	)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var totalGreen uint64
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			record, err := f.allocator.AllocateConsumption(
				context.Background(),
				allocation.Request{
					ConsumerID: "consumer-1",
					AmountKWh:  500,
				},
			)
			if err != nil {
				return
			}
			mu.Lock()
			totalGreen += record.GreenKWh
			mu.Unlock()
		}()
	}
	wg.Wait()

	// Conservation: everything granted as green came out of the one
	// certificate, with no double spending
	got, err := f.registry.Get(context.Background(), cert.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(10000), totalGreen+got.RemainingKWh)
}
