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

package metadata

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/verdin-energy/verdin/database/models"
	"github.com/verdin-energy/verdin/fault"
)

// CertificateFilter narrows QueryCertificates results. Zero values are
// ignored.
type CertificateFilter struct {
	FacilityID   string
	HolderEntity string
	Statuses     []models.CertificateStatus
	PeriodStart  time.Time
	PeriodEnd    time.Time
}

// IssueCertificate persists a new certificate after running the
// duplicate-period check in the same transaction. A non-derivative
// certificate for the same (facility, generation period) that is not
// cancelled blocks issuance.
func (s *Store) IssueCertificate(cert *models.Certificate) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if cert.OriginalCertificateID == "" {
			var count int64
			err := tx.Model(&models.Certificate{}).
				Where(
					"facility_id = ? AND period_start = ? AND period_end = ?",
					cert.FacilityID,
					cert.PeriodStart,
					cert.PeriodEnd,
				).
				Where("original_certificate_id = ?", "").
				Where("status <> ?", models.CertificateStatusCancelled).
				Count(&count).Error
			if err != nil {
				return err
			}
			if count > 0 {
				return fault.Conflict(
					fault.ReasonDuplicatePeriod,
					"certificate already issued for facility %s period %s",
					cert.FacilityID,
					cert.PeriodStart.Format(time.DateOnly),
				)
			}
		}
		return tx.Create(cert).Error
	})
}

// CreateCertificates persists a batch of derivative certificates.
func (s *Store) CreateCertificates(certs []*models.Certificate) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, cert := range certs {
			if err := tx.Create(cert).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteCertificate removes a certificate. Used only as a compensating
// action when the issuance chain append fails after the insert.
func (s *Store) DeleteCertificate(id string) error {
	return s.db.Delete(&models.Certificate{}, "id = ?", id).Error
}

// GetCertificate returns the certificate with the given id.
func (s *Store) GetCertificate(id string) (*models.Certificate, error) {
	var cert models.Certificate
	result := s.db.First(&cert, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fault.NotFound("certificate %s", id)
		}
		return nil, result.Error
	}
	return &cert, nil
}

// QueryCertificates returns certificates matching the filter, ordered
// by expiry then issue time.
func (s *Store) QueryCertificates(
	filter CertificateFilter,
) ([]models.Certificate, error) {
	query := s.db.Model(&models.Certificate{})
	if filter.FacilityID != "" {
		query = query.Where("facility_id = ?", filter.FacilityID)
	}
	if filter.HolderEntity != "" {
		query = query.Where("holder_entity = ?", filter.HolderEntity)
	}
	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}
	if !filter.PeriodStart.IsZero() {
		query = query.Where("period_start >= ?", filter.PeriodStart)
	}
	if !filter.PeriodEnd.IsZero() {
		query = query.Where("period_end <= ?", filter.PeriodEnd)
	}
	var certs []models.Certificate
	result := query.Order("expires_at, issued_at").Find(&certs)
	return certs, result.Error
}

// ListAllocatable returns active, unexpired certificates with a
// positive remaining balance, ordered soonest-expiry-first with ties
// broken by earliest issue time ("use it or lose it").
func (s *Store) ListAllocatable(
	now time.Time,
) ([]models.Certificate, error) {
	var certs []models.Certificate
	result := s.db.
		Where("status = ?", models.CertificateStatusActive).
		Where("expires_at > ?", now).
		Where("remaining_kwh > ?", 0).
		Order("expires_at, issued_at").
		Find(&certs)
	return certs, result.Error
}

// UpdateCertificateExpiry overrides a certificate's expiry timestamp.
func (s *Store) UpdateCertificateExpiry(
	id string,
	expiresAt time.Time,
) error {
	result := s.db.Model(&models.Certificate{}).
		Where("id = ?", id).
		Update("expires_at", expiresAt)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fault.NotFound("certificate %s", id)
	}
	return nil
}

// UpdateCertificateStatus transitions a certificate's lifecycle state.
// The expected current status guards against concurrent transitions.
func (s *Store) UpdateCertificateStatus(
	id string,
	from, to models.CertificateStatus,
) error {
	result := s.db.Model(&models.Certificate{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fault.Conflict(
			fault.ReasonCertificateInactive,
			"certificate %s is not in status %s",
			id,
			from,
		)
	}
	return nil
}

// DebitCertificate decrements a certificate's remaining balance and
// mirrors the debit onto the originating generation record, all in one
// transaction. The balance check re-runs inside the transaction so the
// store stays authoritative even if a caller raced past the registry's
// per-certificate lock. Returns the updated certificate.
func (s *Store) DebitCertificate(
	id string,
	amountKWh uint64,
) (*models.Certificate, error) {
	var updated models.Certificate
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var cert models.Certificate
		if err := tx.First(&cert, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fault.NotFound("certificate %s", id)
			}
			return err
		}
		if cert.RemainingKWh < amountKWh {
			return fault.Conflict(
				fault.ReasonInsufficientBalance,
				"requested %d kWh, remaining %d kWh",
				amountKWh,
				cert.RemainingKWh,
			)
		}
		cert.RemainingKWh -= amountKWh
		if cert.RemainingKWh == 0 {
			cert.Status = models.CertificateStatusUsed
		}
		if err := tx.Model(&models.Certificate{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"remaining_kwh": cert.RemainingKWh,
				"status":        cert.Status,
			}).Error; err != nil {
			return err
		}
		if cert.GenerationRecordID != "" {
			if err := tx.Model(&models.GenerationRecord{}).
				Where("id = ?", cert.GenerationRecordID).
				Update(
					"used_kwh",
					gorm.Expr("used_kwh + ?", amountKWh),
				).Error; err != nil {
				return err
			}
		}
		updated = cert
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// CreditCertificate restores balance to a certificate. Used only as a
// compensating action when a post-debit persistence step fails; the
// certificate returns to active if the credit makes it non-empty.
func (s *Store) CreditCertificate(id string, amountKWh uint64) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var cert models.Certificate
		if err := tx.First(&cert, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fault.NotFound("certificate %s", id)
			}
			return err
		}
		cert.RemainingKWh += amountKWh
		if cert.Status == models.CertificateStatusUsed &&
			cert.RemainingKWh > 0 {
			cert.Status = models.CertificateStatusActive
		}
		if err := tx.Model(&models.Certificate{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"remaining_kwh": cert.RemainingKWh,
				"status":        cert.Status,
			}).Error; err != nil {
			return err
		}
		if cert.GenerationRecordID != "" {
			if err := tx.Model(&models.GenerationRecord{}).
				Where("id = ?", cert.GenerationRecordID).
				Update(
					"used_kwh",
					gorm.Expr("used_kwh - ?", amountKWh),
				).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
