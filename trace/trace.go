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

// Package trace replays certificate chains and checks them against the
// stored certificate state. The verifier reports anomalies; it never
// repairs them. Remediation is an operator decision.
package trace

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/verdin-energy/verdin/database"
	"github.com/verdin-energy/verdin/database/chainlog"
	"github.com/verdin-energy/verdin/database/models"
	"github.com/verdin-energy/verdin/event"
	"github.com/verdin-energy/verdin/fault"
)

// Anomaly codes reported by the verifier. A chain with no issuance
// event and a chain with no certificate record both report
// certificate_not_found; the detail string tells them apart.
const (
	AnomalyOverspend          = "transfer_amount_exceeds_generation"
	AnomalyTimestampOrder     = "timestamp_inconsistency"
	AnomalyCertificateMissing = "certificate_not_found"
	AnomalyBalanceMismatch    = "balance_mismatch"
)

type Config struct {
	Logger       *slog.Logger
	EventBus     *event.EventBus
	Database     *database.Database
	PromRegistry prometheus.Registerer
}

type verifierMetrics struct {
	verifications *prometheus.CounterVec
	anomalies     *prometheus.CounterVec
}

type Verifier struct {
	logger   *slog.Logger
	eventBus *event.EventBus
	db       *database.Database
	metrics  *verifierMetrics
}

func New(cfg Config) *Verifier {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	v := &Verifier{
		logger:   logger.With("component", "trace"),
		eventBus: cfg.EventBus,
		db:       cfg.Database,
	}
	if cfg.PromRegistry != nil {
		promFactory := promauto.With(cfg.PromRegistry)
		v.metrics = &verifierMetrics{
			verifications: promFactory.NewCounterVec(
				prometheus.CounterOpts{
					Name: "verdin_chain_verifications_total",
					Help: "chain verifications by outcome",
				},
				[]string{"outcome"},
			),
			anomalies: promFactory.NewCounterVec(
				prometheus.CounterOpts{
					Name: "verdin_chain_anomalies_total",
					Help: "detected chain anomalies by code",
				},
				[]string{"code"},
			),
		}
	}
	return v
}

// Anomaly is one verifier finding on a chain.
type Anomaly struct {
	Code   string
	Detail string
}

// Result is the outcome of replaying one certificate chain.
type Result struct {
	CertificateID   string
	Anomalies       []Anomaly
	EventCount      int
	IssuedKWh       uint64
	DebitedKWh      uint64
	ReplayedBalance uint64
	Intact          bool
}

// VerifyChain replays a certificate's chain and cross-checks it against
// the stored certificate. The chain log is written at-least-once, so
// replay first drops exact duplicate events before applying any amount
// checks. Anomalies mark the chain compromised and are published, never
// auto-corrected.
func (v *Verifier) VerifyChain(
	ctx context.Context,
	certID string,
) (*Result, error) {
	events, err := v.db.Chain().ReadAll(certID)
	if err != nil {
		return nil, fault.ExternalDependency(err, "chain read")
	}
	cert, err := v.db.Metadata().GetCertificate(certID)
	if err != nil {
		if !fault.IsNotFound(err) {
			return nil, err
		}
		if len(events) == 0 {
			// Neither chain nor certificate exists
			return nil, err
		}
		cert = nil
	}
	result := v.replay(certID, cert, events)
	v.report(result)
	return result, nil
}

// BatchVerify verifies each chain independently. One bad certificate id
// does not abort the batch; an unknown id yields a compromised result
// rather than an error.
func (v *Verifier) BatchVerify(
	ctx context.Context,
	certIDs []string,
) ([]*Result, error) {
	results := make([]*Result, 0, len(certIDs))
	for _, id := range certIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := v.VerifyChain(ctx, id)
		if err != nil {
			if fault.IsNotFound(err) {
				result = &Result{
					CertificateID: id,
					Anomalies: []Anomaly{{
						Code:   AnomalyCertificateMissing,
						Detail: "no certificate or chain for " + id,
					}},
				}
				v.report(result)
			} else {
				return nil, err
			}
		}
		results = append(results, result)
	}
	return results, nil
}

type eventKey struct {
	eventType chainlog.EventType
	entity    string
	reference string
	amountKWh uint64
	timestamp int64
}

func (v *Verifier) replay(
	certID string,
	cert *models.Certificate,
	events []chainlog.Event,
) *Result {
	result := &Result{CertificateID: certID}
	if cert == nil {
		result.addAnomaly(
			AnomalyCertificateMissing,
			"chain exists but certificate record is missing",
		)
	}

	seen := make(map[eventKey]bool)
	var issued, debited, credited uint64
	var lastTimestamp time.Time
	for _, ev := range events {
		key := eventKey{
			eventType: ev.Type,
			entity:    ev.Entity,
			reference: ev.Reference,
			amountKWh: ev.AmountKWh,
			timestamp: ev.Timestamp.UnixNano(),
		}
		if seen[key] {
			// Duplicate append from a retried write, not an anomaly
			continue
		}
		seen[key] = true
		result.EventCount++

		if !ev.Timestamp.IsZero() {
			if !lastTimestamp.IsZero() && ev.Timestamp.Before(lastTimestamp) {
				result.addAnomaly(
					AnomalyTimestampOrder,
					fmt.Sprintf(
						"event %d predates its predecessor",
						ev.Seq,
					),
				)
			}
			lastTimestamp = ev.Timestamp
		}
		switch {
		case ev.Type == chainlog.EventTypeIssuance:
			issued += ev.AmountKWh
		case ev.Type == chainlog.EventTypeCredit:
			credited += ev.AmountKWh
		case ev.Debit():
			debited += ev.AmountKWh
		}
	}

	if len(events) > 0 && events[0].Type != chainlog.EventTypeIssuance {
		result.addAnomaly(
			AnomalyCertificateMissing,
			"chain does not begin with an issuance event",
		)
	}
	result.IssuedKWh = issued
	// Credits undo earlier debits
	netDebited := debited
	if credited > netDebited {
		netDebited = 0
	} else {
		netDebited -= credited
	}
	result.DebitedKWh = netDebited
	if netDebited > issued {
		result.addAnomaly(
			AnomalyOverspend,
			fmt.Sprintf(
				"chain debits %d kWh exceed issued %d kWh",
				netDebited,
				issued,
			),
		)
	} else {
		result.ReplayedBalance = issued - netDebited
	}
	if cert != nil && len(result.Anomalies) == 0 &&
		result.ReplayedBalance != cert.RemainingKWh {
		result.addAnomaly(
			AnomalyBalanceMismatch,
			fmt.Sprintf(
				"replayed balance %d kWh, stored balance %d kWh",
				result.ReplayedBalance,
				cert.RemainingKWh,
			),
		)
	}
	result.Intact = len(result.Anomalies) == 0
	return result
}

func (result *Result) addAnomaly(code, detail string) {
	result.Anomalies = append(result.Anomalies, Anomaly{
		Code:   code,
		Detail: detail,
	})
}

func (v *Verifier) report(result *Result) {
	outcome := "intact"
	if !result.Intact {
		outcome = "compromised"
	}
	if v.metrics != nil {
		v.metrics.verifications.WithLabelValues(outcome).Inc()
		for _, anomaly := range result.Anomalies {
			v.metrics.anomalies.WithLabelValues(anomaly.Code).Inc()
		}
	}
	if result.Intact {
		return
	}
	codes := make([]string, 0, len(result.Anomalies))
	for _, anomaly := range result.Anomalies {
		codes = append(codes, anomaly.Code)
	}
	v.logger.Warn(
		"chain verification failed",
		"certificate", result.CertificateID,
		"anomalies", codes,
	)
	if v.eventBus != nil {
		v.eventBus.Publish(
			event.ChainAnomalyEventType,
			event.NewEvent(
				event.ChainAnomalyEventType,
				event.ChainAnomalyEvent{
					CertificateID: result.CertificateID,
					Anomalies:     codes,
				},
			),
		)
	}
}
