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

// CreateConsumptionRecord persists an immutable consumption record and
// its allocation entries.
func (s *Store) CreateConsumptionRecord(
	record *models.ConsumptionRecord,
) error {
	return s.db.Create(record).Error
}

// GetConsumptionRecord returns a consumption record with its entries.
func (s *Store) GetConsumptionRecord(
	id string,
) (*models.ConsumptionRecord, error) {
	var record models.ConsumptionRecord
	result := s.db.Preload("Entries").First(&record, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fault.NotFound("consumption record %s", id)
		}
		return nil, result.Error
	}
	return &record, nil
}

// QueryConsumption returns consumption records whose timestamp falls in
// [start, end), optionally restricted to one consumer, with entries
// preloaded.
func (s *Store) QueryConsumption(
	start, end time.Time,
	consumerID string,
) ([]models.ConsumptionRecord, error) {
	query := s.db.Preload("Entries").
		Where("consumed_at >= ? AND consumed_at < ?", start, end)
	if consumerID != "" {
		query = query.Where("consumer_id = ?", consumerID)
	}
	var records []models.ConsumptionRecord
	result := query.Order("consumed_at").Find(&records)
	return records, result.Error
}

// PowerTypeAllocation is one row of the per-power-type green
// consumption breakdown.
type PowerTypeAllocation struct {
	PowerType models.PowerType `gorm:"column:power_type"`
	GreenKWh  uint64           `gorm:"column:green_kwh"`
}

// GreenBreakdownByPowerType sums allocation entries per power type for
// consumption records in [start, end).
func (s *Store) GreenBreakdownByPowerType(
	start, end time.Time,
) ([]PowerTypeAllocation, error) {
	var rows []PowerTypeAllocation
	result := s.db.Model(&models.AllocationEntry{}).
		Select(
			"allocation_entry.power_type AS power_type, " +
				"SUM(allocation_entry.amount_kwh) AS green_kwh",
		).
		Joins(
			"JOIN consumption_record ON "+
				"consumption_record.id = allocation_entry.consumption_record_id",
		).
		Where(
			"consumption_record.consumed_at >= ? AND "+
				"consumption_record.consumed_at < ?",
			start,
			end,
		).
		Group("allocation_entry.power_type").
		Scan(&rows)
	return rows, result.Error
}

// CreateTransferRecord persists an immutable transfer record.
func (s *Store) CreateTransferRecord(record *models.TransferRecord) error {
	return s.db.Create(record).Error
}

// CreateSplitRecord persists an immutable split record and its parts.
func (s *Store) CreateSplitRecord(record *models.SplitRecord) error {
	return s.db.Create(record).Error
}

// QueryTransfers returns transfer records for a certificate.
func (s *Store) QueryTransfers(
	certificateID string,
) ([]models.TransferRecord, error) {
	var records []models.TransferRecord
	result := s.db.
		Where("certificate_id = ?", certificateID).
		Order("transferred_at").
		Find(&records)
	return records, result.Error
}
