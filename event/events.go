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

package event

import "time"

const (
	GenerationRecordedEventType EventType = "generation.recorded"
	CertificateIssuedEventType  EventType = "certificate.issued"
	CertificateStatusEventType  EventType = "certificate.status"
	AllocationRecordedEventType EventType = "allocation.recorded"
	SupplyShortfallEventType    EventType = "supply.shortfall"
	ChainAnomalyEventType       EventType = "chain.anomaly"
)

// GenerationRecordedEvent is published for every accepted measurement.
type GenerationRecordedEvent struct {
	RecordID    string
	SourceID    string
	PowerType   string
	AmountKWh   uint64
	Eligible    bool
	GeneratedAt time.Time
}

// CertificateIssuedEvent is published when a certificate (including
// split derivatives) is created.
type CertificateIssuedEvent struct {
	CertificateID         string
	OriginalCertificateID string
	FacilityID            string
	PowerType             string
	AmountKWh             uint64
	ExpiresAt             time.Time
}

// CertificateStatusEvent is published on lifecycle transitions.
type CertificateStatusEvent struct {
	CertificateID string
	OldStatus     string
	NewStatus     string
}

// AllocationRecordedEvent is published for every consumption record.
type AllocationRecordedEvent struct {
	ConsumptionRecordID string
	ConsumerID          string
	RequestedKWh        uint64
	GreenKWh            uint64
	GridKWh             uint64
}

// SupplyShortfallEvent is published when green supply could not cover a
// consumption request, so operators can see under-coverage.
type SupplyShortfallEvent struct {
	ConsumptionRecordID string
	ConsumerID          string
	RequestedKWh        uint64
	GreenKWh            uint64
	ShortfallKWh        uint64
}

// ChainAnomalyEvent is published when the verifier flags a certificate
// chain. Remediation is an operator decision; the engine never
// auto-corrects.
type ChainAnomalyEvent struct {
	CertificateID string
	Anomalies     []string
}
