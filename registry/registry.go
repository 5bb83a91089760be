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

// Package registry owns certificate lifecycle state and is the single
// mutation path for certificate balances. The allocation and transfer
// engines request debits through it and never touch remaining balances
// directly, which keeps the conservation invariant enforceable in one
// place.
package registry

import (
	"context"
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
	"github.com/verdin-energy/verdin/ident"
	"github.com/verdin-energy/verdin/locker"
)

// DefaultValidityMonths is how long an issued certificate stays valid.
// Validity is counted in calendar months, so a certificate issued on
// the 31st expires on the matching day a year later, not 360 days out
const DefaultValidityMonths = 12

type Config struct {
	Logger         *slog.Logger
	EventBus       *event.EventBus
	Database       *database.Database
	Locker         *locker.Locker
	PromRegistry   prometheus.Registerer
	ValidityMonths int
	// Now allows tests to control the clock
	Now func() time.Time
}

type registryMetrics struct {
	issued    prometheus.Counter
	debits    *prometheus.CounterVec
	conflicts *prometheus.CounterVec
}

type Registry struct {
	logger         *slog.Logger
	eventBus       *event.EventBus
	db             *database.Database
	locker         *locker.Locker
	metrics        *registryMetrics
	now            func() time.Time
	validityMonths int
}

func New(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	validityMonths := cfg.ValidityMonths
	if validityMonths <= 0 {
		validityMonths = DefaultValidityMonths
	}
	nowFunc := cfg.Now
	if nowFunc == nil {
		nowFunc = time.Now
	}
	lockerInst := cfg.Locker
	if lockerInst == nil {
		lockerInst = locker.New(0)
	}
	r := &Registry{
		logger:         logger.With("component", "registry"),
		eventBus:       cfg.EventBus,
		db:             cfg.Database,
		locker:         lockerInst,
		now:            nowFunc,
		validityMonths: validityMonths,
	}
	if cfg.PromRegistry != nil {
		promFactory := promauto.With(cfg.PromRegistry)
		r.metrics = &registryMetrics{
			issued: promFactory.NewCounter(prometheus.CounterOpts{
				Name: "verdin_certificates_issued_total",
				Help: "total certificates issued, including derivatives",
			}),
			debits: promFactory.NewCounterVec(
				prometheus.CounterOpts{
					Name: "verdin_certificate_debits_total",
					Help: "total balance debits by cause",
				},
				[]string{"cause"},
			),
			conflicts: promFactory.NewCounterVec(
				prometheus.CounterOpts{
					Name: "verdin_certificate_conflicts_total",
					Help: "rejected operations by reason",
				},
				[]string{"reason"},
			),
		}
	}
	return r
}

// generationPeriod maps a measurement timestamp to its accounting
// period (the calendar month, UTC). Duplicate issuance is judged
// per facility and period.
func generationPeriod(ts time.Time) (time.Time, time.Time) {
	ts = ts.UTC()
	start := time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// Issue creates a certificate for an eligible generation record. The
// duplicate-period check runs against the authoritative store inside
// the insert transaction; nothing is persisted when required
// verification fields are missing.
func (r *Registry) Issue(
	ctx context.Context,
	record *models.GenerationRecord,
	source *models.Source,
) (*models.Certificate, error) {
	if record == nil || source == nil {
		return nil, fault.Validation(
			fault.ReasonMissingGenerationData,
			"generation record and source are required",
		)
	}
	periodStart, periodEnd := generationPeriod(record.GeneratedAt)
	now := r.now()
	cert := &models.Certificate{
		ID:                 ident.New("grc", source.ID, record.ID),
		GenerationRecordID: record.ID,
		FacilityID:         source.ID,
		FacilityName:       source.Name,
		Location:           source.Location,
		CertifyingBody:     "verdin-registry",
		HolderEntity:       source.ID,
		PowerType:          record.PowerType,
		Status:             models.CertificateStatusPending,
		AmountKWh:          record.AmountKWh,
		RemainingKWh:       record.AmountKWh,
		PeriodStart:        periodStart,
		PeriodEnd:          periodEnd,
		IssuedAt:           now,
		ExpiresAt:          now.AddDate(0, r.validityMonths, 0),
	}
	if err := verifyRequiredFields(cert); err != nil {
		return nil, err
	}
	// All verification fields are present; promote before persisting
	cert.Status = models.CertificateStatusActive
	if err := r.db.Metadata().IssueCertificate(cert); err != nil {
		if fault.IsConflict(err) {
			r.countConflict(fault.ReasonOf(err))
			return nil, err
		}
		return nil, fault.ExternalDependency(err, "certificate insert")
	}
	_, err := r.db.Chain().Append(cert.ID, chainlog.Event{
		Type:      chainlog.EventTypeIssuance,
		AmountKWh: cert.AmountKWh,
		Entity:    cert.HolderEntity,
		Reference: record.ID,
		Timestamp: now,
	})
	if err != nil {
		// The certificate must not exist without its issuance event
		if delErr := r.db.Metadata().DeleteCertificate(cert.ID); delErr != nil {
			r.logger.Error(
				"issuance compensation failed",
				"certificate", cert.ID,
				"error", delErr,
			)
		}
		return nil, fault.ExternalDependency(err, "issuance chain append")
	}
	if r.metrics != nil {
		r.metrics.issued.Inc()
	}
	r.publishIssued(cert)
	r.logger.Info(
		"certificate issued",
		"certificate", cert.ID,
		"facility", cert.FacilityID,
		"amount_kwh", cert.AmountKWh,
	)
	return cert, nil
}

func verifyRequiredFields(cert *models.Certificate) error {
	missing := ""
	switch {
	case cert.FacilityID == "":
		missing = "facility id"
	case cert.FacilityName == "":
		missing = "facility name"
	case !cert.PowerType.Valid():
		missing = "power type"
	case cert.AmountKWh == 0:
		missing = "amount"
	case cert.PeriodStart.IsZero() || cert.PeriodEnd.IsZero():
		missing = "generation period"
	case cert.Location == "":
		missing = "location"
	case cert.CertifyingBody == "":
		missing = "certifying body"
	}
	if missing != "" {
		return fault.Validation(
			fault.ReasonMissingGenerationData,
			"certificate verification field missing: %s",
			missing,
		)
	}
	return nil
}

// Get returns a certificate by id.
func (r *Registry) Get(
	ctx context.Context,
	id string,
) (*models.Certificate, error) {
	return r.db.Metadata().GetCertificate(id)
}

// Cancel is the explicit admin action that terminates a certificate.
func (r *Registry) Cancel(ctx context.Context, id string) error {
	release, err := r.locker.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer release()
	cert, err := r.db.Metadata().GetCertificate(id)
	if err != nil {
		return err
	}
	if !cert.Status.CanTransition(models.CertificateStatusCancelled) {
		return fault.Conflict(
			fault.ReasonCertificateInactive,
			"certificate %s in terminal status %s",
			id,
			cert.Status,
		)
	}
	err = r.db.Metadata().UpdateCertificateStatus(
		id,
		cert.Status,
		models.CertificateStatusCancelled,
	)
	if err != nil {
		return err
	}
	r.publishStatus(id, cert.Status, models.CertificateStatusCancelled)
	return nil
}

func (r *Registry) countConflict(reason string) {
	if r.metrics != nil && reason != "" {
		r.metrics.conflicts.WithLabelValues(reason).Inc()
	}
}

func (r *Registry) publishIssued(cert *models.Certificate) {
	if r.eventBus == nil {
		return
	}
	r.eventBus.Publish(
		event.CertificateIssuedEventType,
		event.NewEvent(
			event.CertificateIssuedEventType,
			event.CertificateIssuedEvent{
				CertificateID:         cert.ID,
				OriginalCertificateID: cert.OriginalCertificateID,
				FacilityID:            cert.FacilityID,
				PowerType:             string(cert.PowerType),
				AmountKWh:             cert.AmountKWh,
				ExpiresAt:             cert.ExpiresAt,
			},
		),
	)
}

func (r *Registry) publishStatus(
	id string,
	oldStatus, newStatus models.CertificateStatus,
) {
	if r.eventBus == nil {
		return
	}
	r.eventBus.Publish(
		event.CertificateStatusEventType,
		event.NewEvent(
			event.CertificateStatusEventType,
			event.CertificateStatusEvent{
				CertificateID: id,
				OldStatus:     string(oldStatus),
				NewStatus:     string(newStatus),
			},
		),
	)
}
