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

// CreateSource onboards a new generation facility.
func (s *Store) CreateSource(source *models.Source) error {
	return s.db.Create(source).Error
}

// GetSource returns the source with the given id.
func (s *Store) GetSource(id string) (*models.Source, error) {
	var source models.Source
	result := s.db.First(&source, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fault.NotFound("source %s", id)
		}
		return nil, result.Error
	}
	return &source, nil
}

// ListSources returns all onboarded sources.
func (s *Store) ListSources() ([]models.Source, error) {
	var sources []models.Source
	result := s.db.Order("id").Find(&sources)
	return sources, result.Error
}

// SetSourceActive toggles a source's active flag. Sources are never
// deleted.
func (s *Store) SetSourceActive(id string, active bool) error {
	result := s.db.Model(&models.Source{}).
		Where("id = ?", id).
		Update("active", active)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fault.NotFound("source %s", id)
	}
	return nil
}

// RecordGeneration persists a new generation record and increments the
// owning source's cumulative generation in the same transaction, so the
// monotonic counter can never drift from the record set.
func (s *Store) RecordGeneration(record *models.GenerationRecord) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(record).Error; err != nil {
			return err
		}
		result := tx.Model(&models.Source{}).
			Where("id = ?", record.SourceID).
			Update(
				"cumulative_kwh",
				gorm.Expr("cumulative_kwh + ?", record.AmountKWh),
			)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fault.NotFound("source %s", record.SourceID)
		}
		return nil
	})
}

// GetGenerationRecord returns the generation record with the given id.
func (s *Store) GetGenerationRecord(
	id string,
) (*models.GenerationRecord, error) {
	var record models.GenerationRecord
	result := s.db.First(&record, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fault.NotFound("generation record %s", id)
		}
		return nil, result.Error
	}
	return &record, nil
}

// QueryGeneration returns generation records whose timestamp falls in
// [start, end), optionally restricted to one source.
func (s *Store) QueryGeneration(
	start, end time.Time,
	sourceID string,
) ([]models.GenerationRecord, error) {
	var records []models.GenerationRecord
	query := s.db.Where(
		"generated_at >= ? AND generated_at < ?",
		start,
		end,
	)
	if sourceID != "" {
		query = query.Where("source_id = ?", sourceID)
	}
	result := query.Order("generated_at").Find(&records)
	return records, result.Error
}
