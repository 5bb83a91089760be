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

package registry

import (
	"context"
	"time"

	"github.com/verdin-energy/verdin/database/chainlog"
	"github.com/verdin-energy/verdin/database/models"
	"github.com/verdin-energy/verdin/fault"
	"github.com/verdin-energy/verdin/ident"
)

// Validity is the result of a validity check.
type Validity struct {
	Status      models.CertificateStatus
	IsValid     bool
	DaysOverdue int
}

// CheckValidity reports whether a certificate is currently usable.
// Expiry is judged against the wall clock even when the stored status
// has not been promoted to expired yet.
func (r *Registry) CheckValidity(
	ctx context.Context,
	id string,
) (*Validity, error) {
	cert, err := r.db.Metadata().GetCertificate(id)
	if err != nil {
		return nil, err
	}
	now := r.now()
	v := &Validity{Status: cert.Status}
	if cert.Expired(now) {
		if cert.Status == models.CertificateStatusActive {
			v.Status = models.CertificateStatusExpired
		}
		v.DaysOverdue = int(now.Sub(cert.ExpiresAt).Hours() / 24)
		return v, nil
	}
	v.IsValid = cert.Status == models.CertificateStatusActive &&
		cert.RemainingKWh > 0
	return v, nil
}

// DebitRequest describes a single balance consumption against one
// certificate. Cause selects the chain event type recorded for it.
type DebitRequest struct {
	CertificateID string
	Entity        string
	Counterparty  string
	Reference     string
	Cause         chainlog.EventType
	AmountKWh     uint64
}

// Debit consumes balance from a certificate under its per-certificate
// lock and appends the matching chain event. The store debit and the
// chain append are not one transaction; a failed append is compensated
// with a balance credit so conservation holds either way.
func (r *Registry) Debit(
	ctx context.Context,
	req DebitRequest,
) (*models.Certificate, error) {
	if req.AmountKWh == 0 {
		return nil, fault.Validation(
			"",
			"debit amount must be positive",
		)
	}
	release, err := r.locker.Lock(ctx, req.CertificateID)
	if err != nil {
		return nil, err
	}
	defer release()

	cert, err := r.db.Metadata().GetCertificate(req.CertificateID)
	if err != nil {
		return nil, err
	}
	now := r.now()
	if cert.Expired(now) {
		// Promote lazily so reads after expiry see the right status
		r.expire(cert)
		return nil, fault.Conflict(
			fault.ReasonCertificateExpired,
			"certificate %s expired at %s",
			cert.ID,
			cert.ExpiresAt.Format(time.RFC3339),
		)
	}
	if cert.Status != models.CertificateStatusActive {
		return nil, fault.Conflict(
			fault.ReasonCertificateInactive,
			"certificate %s is %s",
			cert.ID,
			cert.Status,
		)
	}
	oldStatus := cert.Status
	updated, err := r.db.Metadata().DebitCertificate(
		req.CertificateID,
		req.AmountKWh,
	)
	if err != nil {
		if fault.IsConflict(err) {
			r.countConflict(fault.ReasonOf(err))
		}
		return nil, err
	}
	_, err = r.db.Chain().Append(req.CertificateID, chainlog.Event{
		Type:         req.Cause,
		AmountKWh:    req.AmountKWh,
		Entity:       req.Entity,
		Counterparty: req.Counterparty,
		Reference:    req.Reference,
		Timestamp:    now,
	})
	if err != nil {
		if creditErr := r.db.Metadata().CreditCertificate(
			req.CertificateID,
			req.AmountKWh,
		); creditErr != nil {
			r.logger.Error(
				"debit compensation failed",
				"certificate", req.CertificateID,
				"amount_kwh", req.AmountKWh,
				"error", creditErr,
			)
		}
		return nil, fault.ExternalDependency(
			err,
			"chain append for %s debit",
			req.Cause,
		)
	}
	if r.metrics != nil {
		r.metrics.debits.WithLabelValues(string(req.Cause)).
			Add(float64(req.AmountKWh))
	}
	if updated.Status != oldStatus {
		r.publishStatus(updated.ID, oldStatus, updated.Status)
	}
	return updated, nil
}

// Credit returns previously debited balance to a certificate and
// appends a credit event so the chain stays balanced. Used when a step
// after a successful debit fails and the debit must be unwound.
func (r *Registry) Credit(
	ctx context.Context,
	certID string,
	amountKWh uint64,
	reference string,
) error {
	release, err := r.locker.Lock(ctx, certID)
	if err != nil {
		return err
	}
	defer release()
	if err := r.db.Metadata().CreditCertificate(certID, amountKWh); err != nil {
		return err
	}
	_, err = r.db.Chain().Append(certID, chainlog.Event{
		Type:      chainlog.EventTypeCredit,
		AmountKWh: amountKWh,
		Reference: reference,
		Timestamp: r.now(),
	})
	if err != nil {
		// The balance is already restored; the missing credit event will
		// surface as a verifier anomaly rather than lost balance
		r.logger.Error(
			"credit chain append failed",
			"certificate", certID,
			"amount_kwh", amountKWh,
			"error", err,
		)
		return fault.ExternalDependency(err, "credit chain append")
	}
	return nil
}

// expire promotes an active certificate whose validity lapsed. Best
// effort; a losing race just means another caller got there first.
func (r *Registry) expire(cert *models.Certificate) {
	if cert.Status != models.CertificateStatusActive {
		return
	}
	err := r.db.Metadata().UpdateCertificateStatus(
		cert.ID,
		models.CertificateStatusActive,
		models.CertificateStatusExpired,
	)
	if err != nil {
		if !fault.IsConflict(err) {
			r.logger.Warn(
				"expiry promotion failed",
				"certificate", cert.ID,
				"error", err,
			)
		}
		return
	}
	r.publishStatus(
		cert.ID,
		models.CertificateStatusActive,
		models.CertificateStatusExpired,
	)
}

// IssueDerivatives creates the derivative certificates produced by a
// split. The parent must already be debited down; derivatives inherit
// the parent's provenance fields and expiry.
func (r *Registry) IssueDerivatives(
	ctx context.Context,
	parent *models.Certificate,
	parts []DerivativePart,
) ([]*models.Certificate, error) {
	now := r.now()
	certs := make([]*models.Certificate, 0, len(parts))
	for _, part := range parts {
		if part.AmountKWh == 0 {
			return nil, fault.Validation(
				"",
				"derivative amount must be positive",
			)
		}
		certs = append(certs, &models.Certificate{
			ID: ident.New(
				"grc",
				parent.ID,
				part.Entity,
			),
			GenerationRecordID:    parent.GenerationRecordID,
			OriginalCertificateID: parent.ID,
			FacilityID:            parent.FacilityID,
			FacilityName:          parent.FacilityName,
			Location:              parent.Location,
			CertifyingBody:        parent.CertifyingBody,
			HolderEntity:          part.Entity,
			PowerType:             parent.PowerType,
			Status:                models.CertificateStatusActive,
			AmountKWh:             part.AmountKWh,
			RemainingKWh:          part.AmountKWh,
			PeriodStart:           parent.PeriodStart,
			PeriodEnd:             parent.PeriodEnd,
			IssuedAt:              now,
			ExpiresAt:             parent.ExpiresAt,
		})
	}
	if err := r.db.Metadata().CreateCertificates(certs); err != nil {
		return nil, fault.ExternalDependency(err, "derivative insert")
	}
	for _, cert := range certs {
		_, err := r.db.Chain().Append(cert.ID, chainlog.Event{
			Type:      chainlog.EventTypeIssuance,
			AmountKWh: cert.AmountKWh,
			Entity:    cert.HolderEntity,
			Reference: parent.ID,
			Timestamp: now,
		})
		if err != nil {
			// Derivative rows already exist; surface the append failure
			// and let the verifier flag the gap rather than tearing down
			// sibling derivatives
			return nil, fault.ExternalDependency(
				err,
				"derivative issuance chain append",
			)
		}
		if r.metrics != nil {
			r.metrics.issued.Inc()
		}
		r.publishIssued(cert)
	}
	return certs, nil
}

// DerivativePart is one requested share of a split.
type DerivativePart struct {
	Entity    string
	AmountKWh uint64
}
