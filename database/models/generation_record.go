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

// GenerationRecord is the raw, immutable measurement event from which a
// certificate may be issued. AmountKWh never changes after creation;
// UsedKWh is incremented only through the certificate registry's debit
// path, preserving 0 <= UsedKWh <= AmountKWh.
type GenerationRecord struct {
	ID                  string    `gorm:"primaryKey;size:64"`
	SourceID            string    `gorm:"index;size:64"`
	PowerType           PowerType `gorm:"size:16"`
	AmountKWh           uint64 `gorm:"column:amount_kwh"`
	UsedKWh             uint64 `gorm:"column:used_kwh"`
	AvoidedCarbonKg     float64
	CertificateEligible bool
	GeneratedAt         time.Time `gorm:"index"`
	CreatedAt           time.Time
}

func (GenerationRecord) TableName() string {
	return "generation_record"
}

// RemainingKWh returns the unallocated balance of the measurement.
func (r *GenerationRecord) RemainingKWh() uint64 {
	if r.UsedKWh > r.AmountKWh {
		return 0
	}
	return r.AmountKWh - r.UsedKWh
}
