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

package trace_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/verdin-energy/verdin/database"
	"github.com/verdin-energy/verdin/database/chainlog"
	"github.com/verdin-energy/verdin/database/models"
	"github.com/verdin-energy/verdin/fault"
	"github.com/verdin-energy/verdin/trace"
)

var chainStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) (*trace.Verifier, *database.Database) {
	t.Helper()
	db, err := database.New(&database.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close() //nolint:errcheck
	})
	return trace.New(trace.Config{Database: db}), db
}

func storeCert(
	t *testing.T,
	db *database.Database,
	id string,
	amountKWh, remainingKWh uint64,
) {
	t.Helper()
	err := db.Metadata().IssueCertificate(&models.Certificate{
		ID:             id,
		FacilityID:     "fac-" + id,
		FacilityName:   "Facility",
		Location:       "site",
		CertifyingBody: "verdin",
		PowerType:      models.PowerTypeWind,
		Status:         models.CertificateStatusActive,
		AmountKWh:      amountKWh,
		RemainingKWh:   remainingKWh,
		PeriodStart:    chainStart,
		PeriodEnd:      chainStart.AddDate(0, 1, 0),
		IssuedAt:       chainStart,
		ExpiresAt:      chainStart.AddDate(1, 0, 0),
	})
	require.NoError(t, err)
}

func appendEvent(
	t *testing.T,
	db *database.Database,
	certID string,
	ev chainlog.Event,
) {
	t.Helper()
	_, err := db.Chain().Append(certID, ev)
	require.NoError(t, err)
}

func TestVerifyIntactChain(t *testing.T) {
	v, db := newFixture(t)
	storeCert(t, db, "grc-1", 50000, 40000)
	appendEvent(t, db, "grc-1", chainlog.Event{
		Type:      chainlog.EventTypeIssuance,
		AmountKWh: 50000,
		Timestamp: chainStart,
	})
	appendEvent(t, db, "grc-1", chainlog.Event{
		Type:      chainlog.EventTypeAllocation,
		AmountKWh: 8000,
		Reference: "con-1",
		Timestamp: chainStart.Add(time.Hour),
	})
	appendEvent(t, db, "grc-1", chainlog.Event{
		Type:      chainlog.EventTypeTransfer,
		AmountKWh: 2000,
		Reference: "trf-1",
		Timestamp: chainStart.Add(2 * time.Hour),
	})
	result, err := v.VerifyChain(context.Background(), "grc-1")
	require.NoError(t, err)
	require.True(t, result.Intact)
	require.Empty(t, result.Anomalies)
	require.Equal(t, 3, result.EventCount)
	require.Equal(t, uint64(50000), result.IssuedKWh)
	require.Equal(t, uint64(10000), result.DebitedKWh)
	require.Equal(t, uint64(40000), result.ReplayedBalance)
}

func TestVerifyOverspentChain(t *testing.T) {
	v, db := newFixture(t)
	storeCert(t, db, "grc-1", 10000, 0)
	appendEvent(t, db, "grc-1", chainlog.Event{
		Type:      chainlog.EventTypeIssuance,
		AmountKWh: 10000,
		Timestamp: chainStart,
	})
	// Debits exceeding the issued amount mark the chain compromised
	appendEvent(t, db, "grc-1", chainlog.Event{
		Type:      chainlog.EventTypeTransfer,
		AmountKWh: 8000,
		Reference: "trf-1",
		Timestamp: chainStart.Add(time.Hour),
	})
	appendEvent(t, db, "grc-1", chainlog.Event{
		Type:      chainlog.EventTypeTransfer,
		AmountKWh: 8000,
		Reference: "trf-2",
		Timestamp: chainStart.Add(2 * time.Hour),
	})
	result, err := v.VerifyChain(context.Background(), "grc-1")
	require.NoError(t, err)
	require.False(t, result.Intact)
	require.Len(t, result.Anomalies, 1)
	require.Equal(t, trace.AnomalyOverspend, result.Anomalies[0].Code)
}

func TestVerifyDeduplicatesRetriedAppends(t *testing.T) {
	v, db := newFixture(t)
	storeCert(t, db, "grc-1", 10000, 5000)
	appendEvent(t, db, "grc-1", chainlog.Event{
		Type:      chainlog.EventTypeIssuance,
		AmountKWh: 10000,
		Timestamp: chainStart,
	})
	debit := chainlog.Event{
		Type:      chainlog.EventTypeAllocation,
		AmountKWh: 5000,
		Reference: "con-1",
		Timestamp: chainStart.Add(time.Hour),
	}
	// The same logical event written twice by a retried producer
	appendEvent(t, db, "grc-1", debit)
	appendEvent(t, db, "grc-1", debit)

	result, err := v.VerifyChain(context.Background(), "grc-1")
	require.NoError(t, err)
	require.True(t, result.Intact)
	require.Equal(t, 2, result.EventCount)
	require.Equal(t, uint64(5000), result.DebitedKWh)
}

func TestVerifyCreditsOffsetDebits(t *testing.T) {
	v, db := newFixture(t)
	storeCert(t, db, "grc-1", 10000, 10000)
	appendEvent(t, db, "grc-1", chainlog.Event{
		Type:      chainlog.EventTypeIssuance,
		AmountKWh: 10000,
		Timestamp: chainStart,
	})
	appendEvent(t, db, "grc-1", chainlog.Event{
		Type:      chainlog.EventTypeAllocation,
		AmountKWh: 4000,
		Reference: "con-1",
		Timestamp: chainStart.Add(time.Hour),
	})
	appendEvent(t, db, "grc-1", chainlog.Event{
		Type:      chainlog.EventTypeCredit,
		AmountKWh: 4000,
		Reference: "con-1",
		Timestamp: chainStart.Add(2 * time.Hour),
	})
	result, err := v.VerifyChain(context.Background(), "grc-1")
	require.NoError(t, err)
	require.True(t, result.Intact)
	require.Equal(t, uint64(0), result.DebitedKWh)
	require.Equal(t, uint64(10000), result.ReplayedBalance)
}

func TestVerifyTimestampInconsistency(t *testing.T) {
	v, db := newFixture(t)
	storeCert(t, db, "grc-1", 10000, 9000)
	appendEvent(t, db, "grc-1", chainlog.Event{
		Type:      chainlog.EventTypeIssuance,
		AmountKWh: 10000,
		Timestamp: chainStart,
	})
	appendEvent(t, db, "grc-1", chainlog.Event{
		Type:      chainlog.EventTypeAllocation,
		AmountKWh: 1000,
		Reference: "con-1",
		Timestamp: chainStart.Add(-time.Hour),
	})
	result, err := v.VerifyChain(context.Background(), "grc-1")
	require.NoError(t, err)
	require.False(t, result.Intact)
	require.Equal(t, trace.AnomalyTimestampOrder, result.Anomalies[0].Code)
}

func TestVerifyBalanceMismatch(t *testing.T) {
	v, db := newFixture(t)
	// Stored balance disagrees with the replayed chain
	storeCert(t, db, "grc-1", 10000, 3000)
	appendEvent(t, db, "grc-1", chainlog.Event{
		Type:      chainlog.EventTypeIssuance,
		AmountKWh: 10000,
		Timestamp: chainStart,
	})
	result, err := v.VerifyChain(context.Background(), "grc-1")
	require.NoError(t, err)
	require.False(t, result.Intact)
	require.Equal(t, trace.AnomalyBalanceMismatch, result.Anomalies[0].Code)
}

func TestVerifyChainWithoutCertificate(t *testing.T) {
	v, db := newFixture(t)
	appendEvent(t, db, "grc-ghost", chainlog.Event{
		Type:      chainlog.EventTypeIssuance,
		AmountKWh: 10000,
		Timestamp: chainStart,
	})
	result, err := v.VerifyChain(context.Background(), "grc-ghost")
	require.NoError(t, err)
	require.False(t, result.Intact)
	require.Equal(
		t,
		trace.AnomalyCertificateMissing,
		result.Anomalies[0].Code,
	)
}

func TestVerifyChainWithoutIssuance(t *testing.T) {
	v, db := newFixture(t)
	storeCert(t, db, "grc-1", 10000, 10000)
	// A chain whose first event is not an issuance reports the same
	// code as a missing certificate
	appendEvent(t, db, "grc-1", chainlog.Event{
		Type:      chainlog.EventTypeTransfer,
		AmountKWh: 2000,
		Reference: "trf-1",
		Timestamp: chainStart,
	})
	result, err := v.VerifyChain(context.Background(), "grc-1")
	require.NoError(t, err)
	require.False(t, result.Intact)
	require.Equal(
		t,
		"certificate_not_found",
		result.Anomalies[0].Code,
	)
}

func TestVerifyUnknownCertificate(t *testing.T) {
	v, _ := newFixture(t)
	_, err := v.VerifyChain(context.Background(), "grc-missing")
	require.True(t, fault.IsNotFound(err))
}

func TestVerifyIsIdempotent(t *testing.T) {
	v, db := newFixture(t)
	storeCert(t, db, "grc-1", 10000, 10000)
	appendEvent(t, db, "grc-1", chainlog.Event{
		Type:      chainlog.EventTypeIssuance,
		AmountKWh: 10000,
		Timestamp: chainStart,
	})
	first, err := v.VerifyChain(context.Background(), "grc-1")
	require.NoError(t, err)
	second, err := v.VerifyChain(context.Background(), "grc-1")
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestBatchVerifyIsolation(t *testing.T) {
	v, db := newFixture(t)
	storeCert(t, db, "grc-good", 10000, 10000)
	appendEvent(t, db, "grc-good", chainlog.Event{
		Type:      chainlog.EventTypeIssuance,
		AmountKWh: 10000,
		Timestamp: chainStart,
	})
	results, err := v.BatchVerify(
		context.Background(),
		[]string{"grc-good", "grc-missing"},
	)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.True(t, results[0].Intact)
	require.False(t, results[1].Intact)
	require.Equal(
		t,
		trace.AnomalyCertificateMissing,
		results[1].Anomalies[0].Code,
	)
}
