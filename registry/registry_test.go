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

package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/verdin-energy/verdin/database"
	"github.com/verdin-energy/verdin/database/chainlog"
	"github.com/verdin-energy/verdin/database/metadata"
	"github.com/verdin-energy/verdin/database/models"
	"github.com/verdin-energy/verdin/fault"
	"github.com/verdin-energy/verdin/registry"
)

var testNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestRegistry(t *testing.T) (*registry.Registry, *database.Database) {
	t.Helper()
	db, err := database.New(&database.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close() //nolint:errcheck
	})
	reg := registry.New(registry.Config{
		Database: db,
		Now:      func() time.Time { return testNow },
	})
	return reg, db
}

func testSource() *models.Source {
	return &models.Source{
		ID:        "src-1",
		Name:      "North Ridge Wind",
		PowerType: models.PowerTypeWind,
		Location:  "sector 7",
		Active:    true,
	}
}

func testRecord() *models.GenerationRecord {
	return &models.GenerationRecord{
		ID:          "gen-1",
		SourceID:    "src-1",
		PowerType:   models.PowerTypeWind,
		AmountKWh:   50000,
		GeneratedAt: time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC),
	}
}

func TestIssue(t *testing.T) {
	reg, db := newTestRegistry(t)
	cert, err := reg.Issue(context.Background(), testRecord(), testSource())
	require.NoError(t, err)
	require.Equal(t, models.CertificateStatusActive, cert.Status)
	require.Equal(t, uint64(50000), cert.AmountKWh)
	require.Equal(t, uint64(50000), cert.RemainingKWh)
	require.Equal(
		t,
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		cert.PeriodStart,
	)
	require.Equal(
		t,
		time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		cert.PeriodEnd,
	)

	// The issuance chain event is the first entry of the chain
	events, err := db.Chain().ReadAll(cert.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, chainlog.EventTypeIssuance, events[0].Type)
	require.Equal(t, uint64(50000), events[0].AmountKWh)
}

func TestIssueExpiryIsTwelveCalendarMonths(t *testing.T) {
	db, err := database.New(&database.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close() //nolint:errcheck
	})
	issuedAt := time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC)
	reg := registry.New(registry.Config{
		Database: db,
		Now:      func() time.Time { return issuedAt },
	})
	record := testRecord()
	record.GeneratedAt = time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)
	cert, err := reg.Issue(context.Background(), record, testSource())
	require.NoError(t, err)
	// Calendar months, not a fixed number of days
	require.Equal(
		t,
		time.Date(2025, 1, 31, 12, 0, 0, 0, time.UTC),
		cert.ExpiresAt,
	)
}

func TestIssueMissingVerificationField(t *testing.T) {
	reg, db := newTestRegistry(t)
	source := testSource()
	source.Location = ""
	_, err := reg.Issue(context.Background(), testRecord(), source)
	require.True(t, fault.IsValidation(err))
	require.Equal(t, fault.ReasonMissingGenerationData, fault.ReasonOf(err))

	// Nothing was persisted
	certs, err := db.Metadata().QueryCertificates(metadata.CertificateFilter{})
	require.NoError(t, err)
	require.Empty(t, certs)
}

func TestIssueDuplicatePeriod(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, err := reg.Issue(context.Background(), testRecord(), testSource())
	require.NoError(t, err)
	record := testRecord()
	record.ID = "gen-2"
	// Same facility, same calendar month
	record.GeneratedAt = time.Date(2024, 3, 28, 0, 0, 0, 0, time.UTC)
	_, err = reg.Issue(context.Background(), record, testSource())
	require.True(t, fault.IsConflict(err))
	require.Equal(t, fault.ReasonDuplicatePeriod, fault.ReasonOf(err))
}

func TestCheckValidity(t *testing.T) {
	reg, _ := newTestRegistry(t)
	cert, err := reg.Issue(context.Background(), testRecord(), testSource())
	require.NoError(t, err)
	v, err := reg.CheckValidity(context.Background(), cert.ID)
	require.NoError(t, err)
	require.True(t, v.IsValid)
	require.Equal(t, models.CertificateStatusActive, v.Status)
	require.Equal(t, 0, v.DaysOverdue)

	_, err = reg.CheckValidity(context.Background(), "grc-missing")
	require.True(t, fault.IsNotFound(err))
}

func TestCheckValidityExpired(t *testing.T) {
	reg, db := newTestRegistry(t)
	cert, err := reg.Issue(context.Background(), testRecord(), testSource())
	require.NoError(t, err)

	// Move the expiry into the past without touching stored status
	err = db.Metadata().UpdateCertificateExpiry(
		cert.ID,
		testNow.Add(-72*time.Hour),
	)
	require.NoError(t, err)

	v, err := reg.CheckValidity(context.Background(), cert.ID)
	require.NoError(t, err)
	require.False(t, v.IsValid)
	require.Equal(t, models.CertificateStatusExpired, v.Status)
	require.Equal(t, 3, v.DaysOverdue)
}

func TestDebit(t *testing.T) {
	reg, db := newTestRegistry(t)
	cert, err := reg.Issue(context.Background(), testRecord(), testSource())
	require.NoError(t, err)

	updated, err := reg.Debit(context.Background(), registry.DebitRequest{
		CertificateID: cert.ID,
		AmountKWh:     8000,
		Cause:         chainlog.EventTypeAllocation,
		Entity:        "consumer-1",
		Reference:     "con-1",
	})
	require.NoError(t, err)
	require.Equal(t, uint64(42000), updated.RemainingKWh)

	events, err := db.Chain().ReadAll(cert.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, chainlog.EventTypeAllocation, events[1].Type)
	require.Equal(t, uint64(8000), events[1].AmountKWh)
	require.Equal(t, "con-1", events[1].Reference)
}

func TestDebitInsufficientBalance(t *testing.T) {
	reg, db := newTestRegistry(t)
	cert, err := reg.Issue(context.Background(), testRecord(), testSource())
	require.NoError(t, err)

	_, err = reg.Debit(context.Background(), registry.DebitRequest{
		CertificateID: cert.ID,
		AmountKWh:     60000,
		Cause:         chainlog.EventTypeTransfer,
	})
	require.True(t, fault.IsConflict(err))
	require.Equal(t, fault.ReasonInsufficientBalance, fault.ReasonOf(err))

	// No debit event was appended and the balance is intact
	events, err := db.Chain().ReadAll(cert.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	got, err := reg.Get(context.Background(), cert.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(50000), got.RemainingKWh)
}

func TestDebitExpiredCertificate(t *testing.T) {
	reg, db := newTestRegistry(t)
	cert, err := reg.Issue(context.Background(), testRecord(), testSource())
	require.NoError(t, err)
	err = db.Metadata().UpdateCertificateExpiry(
		cert.ID,
		testNow.Add(-time.Hour),
	)
	require.NoError(t, err)

	_, err = reg.Debit(context.Background(), registry.DebitRequest{
		CertificateID: cert.ID,
		AmountKWh:     1000,
		Cause:         chainlog.EventTypeAllocation,
	})
	require.True(t, fault.IsConflict(err))
	require.Equal(t, fault.ReasonCertificateExpired, fault.ReasonOf(err))

	// The lapsed certificate was promoted to expired on the way out
	got, err := reg.Get(context.Background(), cert.ID)
	require.NoError(t, err)
	require.Equal(t, models.CertificateStatusExpired, got.Status)
}

func TestDebitExhaustionFlipsStatus(t *testing.T) {
	reg, _ := newTestRegistry(t)
	cert, err := reg.Issue(context.Background(), testRecord(), testSource())
	require.NoError(t, err)
	updated, err := reg.Debit(context.Background(), registry.DebitRequest{
		CertificateID: cert.ID,
		AmountKWh:     50000,
		Cause:         chainlog.EventTypeAllocation,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(0), updated.RemainingKWh)
	require.Equal(t, models.CertificateStatusUsed, updated.Status)

	// A used certificate rejects further debits
	_, err = reg.Debit(context.Background(), registry.DebitRequest{
		CertificateID: cert.ID,
		AmountKWh:     1,
		Cause:         chainlog.EventTypeAllocation,
	})
	require.True(t, fault.IsConflict(err))
	require.Equal(t, fault.ReasonCertificateInactive, fault.ReasonOf(err))
}

func TestCreditRestoresAfterDebit(t *testing.T) {
	reg, db := newTestRegistry(t)
	cert, err := reg.Issue(context.Background(), testRecord(), testSource())
	require.NoError(t, err)
	_, err = reg.Debit(context.Background(), registry.DebitRequest{
		CertificateID: cert.ID,
		AmountKWh:     50000,
		Cause:         chainlog.EventTypeAllocation,
	})
	require.NoError(t, err)
	require.NoError(
		t,
		reg.Credit(context.Background(), cert.ID, 50000, "con-rollback"),
	)
	got, err := reg.Get(context.Background(), cert.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(50000), got.RemainingKWh)
	require.Equal(t, models.CertificateStatusActive, got.Status)

	// The credit is on the chain, so replay still balances
	events, err := db.Chain().ReadAll(cert.ID)
	require.NoError(t, err)
	require.Equal(t, chainlog.EventTypeCredit, events[len(events)-1].Type)
}

func TestCancel(t *testing.T) {
	reg, _ := newTestRegistry(t)
	cert, err := reg.Issue(context.Background(), testRecord(), testSource())
	require.NoError(t, err)
	require.NoError(t, reg.Cancel(context.Background(), cert.ID))
	got, err := reg.Get(context.Background(), cert.ID)
	require.NoError(t, err)
	require.Equal(t, models.CertificateStatusCancelled, got.Status)

	// Terminal, cannot cancel twice
	err = reg.Cancel(context.Background(), cert.ID)
	require.True(t, fault.IsConflict(err))
}

func TestIssueDerivatives(t *testing.T) {
	reg, db := newTestRegistry(t)
	parent, err := reg.Issue(context.Background(), testRecord(), testSource())
	require.NoError(t, err)
	derivatives, err := reg.IssueDerivatives(
		context.Background(),
		parent,
		[]registry.DerivativePart{
			{Entity: "corp-a", AmountKWh: 30000},
			{Entity: "corp-b", AmountKWh: 20000},
		},
	)
	require.NoError(t, err)
	require.Len(t, derivatives, 2)
	for _, d := range derivatives {
		require.Equal(t, parent.ID, d.OriginalCertificateID)
		require.Equal(t, parent.FacilityID, d.FacilityID)
		require.Equal(t, parent.ExpiresAt, d.ExpiresAt)
		require.Equal(t, models.CertificateStatusActive, d.Status)
		events, err := db.Chain().ReadAll(d.ID)
		require.NoError(t, err)
		require.Len(t, events, 1)
		require.Equal(t, chainlog.EventTypeIssuance, events[0].Type)
		require.Equal(t, parent.ID, events[0].Reference)
	}
}
