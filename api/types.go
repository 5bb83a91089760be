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
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package api

import "time"

// ErrorResponse is the error envelope for all failed requests.
type ErrorResponse struct {
	Error   string `json:"error"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
	// Retryable marks transient failures the caller may retry
	Retryable bool `json:"retryable"`
}

// HealthResponse reports server liveness.
type HealthResponse struct {
	Healthy bool `json:"healthy"`
}

// CreateSourceRequest onboards a generation facility.
type CreateSourceRequest struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	PowerType        string  `json:"power_type"`
	GridConnection   string  `json:"grid_connection,omitempty"`
	Location         string  `json:"location"`
	RatedCapacityKW  uint64  `json:"rated_capacity_kw,omitempty"`
	CarbonFactor     float64 `json:"carbon_factor,omitempty"`
	EfficiencyFactor float64 `json:"efficiency_factor,omitempty"`
}

// RecordGenerationRequest submits one measurement.
type RecordGenerationRequest struct {
	SourceID    string    `json:"source_id"`
	AmountKWh   uint64    `json:"amount_kwh"`
	GeneratedAt time.Time `json:"generated_at"`
}

// AllocateRequest covers a consumption event with green balance.
type AllocateRequest struct {
	ConsumerID string    `json:"consumer_id"`
	AmountKWh  uint64    `json:"amount_kwh"`
	ConsumedAt time.Time `json:"consumed_at,omitempty"`
}

// TransferRequest moves certificate balance between entities.
type TransferRequest struct {
	CertificateID string            `json:"certificate_id"`
	FromEntity    string            `json:"from_entity"`
	ToEntity      string            `json:"to_entity"`
	AmountKWh     uint64            `json:"amount_kwh"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// SplitRequest subdivides a certificate into derivatives.
type SplitRequest struct {
	CertificateID string      `json:"certificate_id"`
	Parts         []SplitPart `json:"parts"`
}

// SplitPart is one requested share of a split.
type SplitPart struct {
	Entity    string `json:"entity"`
	AmountKWh uint64 `json:"amount_kwh"`
}

// BatchVerifyRequest names the chains to verify.
type BatchVerifyRequest struct {
	CertificateIDs []string `json:"certificate_ids"`
}

// ValidityResponse is the result of a validity check.
type ValidityResponse struct {
	CertificateID string `json:"certificate_id"`
	Status        string `json:"status"`
	IsValid       bool   `json:"is_valid"`
	DaysOverdue   int    `json:"days_overdue,omitempty"`
}
