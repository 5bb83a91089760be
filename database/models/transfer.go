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

// TransferRecord documents a balance movement between two entities.
// Never mutated after creation.
type TransferRecord struct {
	ID            string `gorm:"primaryKey;size:64"`
	CertificateID string `gorm:"index;size:64"`
	FromEntity    string `gorm:"size:64"`
	ToEntity      string `gorm:"size:64"`
	AmountKWh     uint64 `gorm:"column:amount_kwh"`
	// Metadata holds caller-supplied context as JSON
	Metadata      string `gorm:"size:1024"`
	TransferredAt time.Time
	CreatedAt     time.Time
}

func (TransferRecord) TableName() string {
	return "transfer_record"
}

// SplitRecord documents the subdivision of a certificate balance into
// derivative certificates. Never mutated after creation.
type SplitRecord struct {
	ID            string `gorm:"primaryKey;size:64"`
	CertificateID string `gorm:"index;size:64"`
	TotalKWh      uint64 `gorm:"column:total_kwh"`
	Parts         []SplitPart `gorm:"foreignKey:SplitRecordID"`
	SplitAt       time.Time
	CreatedAt     time.Time
}

func (SplitRecord) TableName() string {
	return "split_record"
}

// SplitPart is one destination of a split, paired with the derivative
// certificate created for it.
type SplitPart struct {
	ID                      uint   `gorm:"primarykey"`
	SplitRecordID           string `gorm:"index;size:64"`
	Entity                  string `gorm:"size:64"`
	DerivativeCertificateID string `gorm:"size:64"`
	AmountKWh               uint64 `gorm:"column:amount_kwh"`
}

func (SplitPart) TableName() string {
	return "split_part"
}
