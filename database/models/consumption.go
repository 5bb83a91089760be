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

// ConsumptionRecord captures one consumption event and its green
// coverage breakdown. Records are immutable once created; corrections
// are modeled as new records, never in-place edits.
type ConsumptionRecord struct {
	ID           string `gorm:"primaryKey;size:64"`
	ConsumerID   string `gorm:"index;size:64"`
	RequestedKWh uint64 `gorm:"column:requested_kwh"`
	GreenKWh     uint64 `gorm:"column:green_kwh"`
	GridKWh      uint64 `gorm:"column:grid_kwh"`
	GreenRatio   float64
	// Carbon figures: the green portion counts as zero, the grid
	// portion at the grid emission factor
	GridCarbonKg    float64
	AvoidedCarbonKg float64
	ConsumedAt      time.Time         `gorm:"index"`
	Entries         []AllocationEntry `gorm:"foreignKey:ConsumptionRecordID"`
	CreatedAt       time.Time
}

func (ConsumptionRecord) TableName() string {
	return "consumption_record"
}

// AllocationEntry is one certificate's contribution to a consumption
// record's green coverage.
type AllocationEntry struct {
	ID                  uint      `gorm:"primarykey"`
	ConsumptionRecordID string    `gorm:"index;size:64"`
	CertificateID       string    `gorm:"index;size:64"`
	SourceID            string    `gorm:"size:64"`
	PowerType           PowerType `gorm:"size:16"`
	AmountKWh           uint64    `gorm:"column:amount_kwh"`
}

func (AllocationEntry) TableName() string {
	return "allocation_entry"
}
