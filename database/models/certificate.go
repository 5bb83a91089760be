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

package models

import "time"

// CertificateStatus represents certificate lifecycle state with type safety
type CertificateStatus string

const (
	CertificateStatusPending   CertificateStatus = "pending"
	CertificateStatusActive    CertificateStatus = "active"
	CertificateStatusUsed      CertificateStatus = "used"
	CertificateStatusExpired   CertificateStatus = "expired"
	CertificateStatusCancelled CertificateStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s CertificateStatus) Terminal() bool {
	switch s {
	case CertificateStatusUsed, CertificateStatusExpired,
		CertificateStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether the lifecycle state machine permits
// moving from s to next: pending -> active -> {used, expired, cancelled}.
func (s CertificateStatus) CanTransition(next CertificateStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case CertificateStatusPending:
		return next == CertificateStatusActive ||
			next == CertificateStatusCancelled
	case CertificateStatusActive:
		return next == CertificateStatusUsed ||
			next == CertificateStatusExpired ||
			next == CertificateStatusCancelled
	default:
		return false
	}
}

// Certificate is an auditable claim on a quantity of renewable
// generation with a bounded validity period and a mutable remaining
// balance. All internal amounts are kWh; MWh is presentation only.
// Only the certificate registry mutates RemainingKWh and Status.
type Certificate struct {
	ID                 string `gorm:"primaryKey;size:64"`
	GenerationRecordID string `gorm:"index;size:64"`
	// OriginalCertificateID is set on derivatives created by a split
	OriginalCertificateID string            `gorm:"index;size:64"`
	FacilityID            string            `gorm:"index:idx_cert_facility_period;size:64"`
	FacilityName          string            `gorm:"size:128"`
	Location              string            `gorm:"size:128"`
	CertifyingBody        string            `gorm:"size:128"`
	HolderEntity          string            `gorm:"index;size:64"`
	PowerType             PowerType         `gorm:"size:16"`
	Status                CertificateStatus `gorm:"index;size:16"`
	// Explicit column names: gorm's default namer would render these
	// as amount_k_wh / remaining_k_wh
	AmountKWh    uint64 `gorm:"column:amount_kwh"`
	RemainingKWh uint64 `gorm:"column:remaining_kwh"`
	PeriodStart           time.Time `gorm:"index:idx_cert_facility_period"`
	PeriodEnd             time.Time `gorm:"index:idx_cert_facility_period"`
	IssuedAt              time.Time `gorm:"index"`
	ExpiresAt             time.Time `gorm:"index"`
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (Certificate) TableName() string {
	return "certificate"
}

// UsedKWh returns the total debited against the certificate.
func (c *Certificate) UsedKWh() uint64 {
	if c.RemainingKWh > c.AmountKWh {
		return 0
	}
	return c.AmountKWh - c.RemainingKWh
}

// AmountMWh returns the certificate amount in display units.
// Never used in invariant checks.
func (c *Certificate) AmountMWh() float64 {
	return float64(c.AmountKWh) / 1000
}

// Expired reports whether the certificate's validity period has lapsed.
func (c *Certificate) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
