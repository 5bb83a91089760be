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

// Package transfer moves certificate balance between entities, either
// as a plain ownership transfer or by splitting a certificate into
// derivative certificates held by different entities.
package transfer

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/verdin-energy/verdin/database"
	"github.com/verdin-energy/verdin/database/chainlog"
	"github.com/verdin-energy/verdin/database/models"
	"github.com/verdin-energy/verdin/fault"
	"github.com/verdin-energy/verdin/ident"
	"github.com/verdin-energy/verdin/registry"
)

type Config struct {
	Logger       *slog.Logger
	Database     *database.Database
	Registry     *registry.Registry
	PromRegistry prometheus.Registerer
	Now          func() time.Time
}

type transferMetrics struct {
	transfers prometheus.Counter
	splits    prometheus.Counter
}

type Engine struct {
	logger   *slog.Logger
	db       *database.Database
	registry *registry.Registry
	metrics  *transferMetrics
	now      func() time.Time
}

func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	nowFunc := cfg.Now
	if nowFunc == nil {
		nowFunc = time.Now
	}
	e := &Engine{
		logger:   logger.With("component", "transfer"),
		db:       cfg.Database,
		registry: cfg.Registry,
		now:      nowFunc,
	}
	if cfg.PromRegistry != nil {
		promFactory := promauto.With(cfg.PromRegistry)
		e.metrics = &transferMetrics{
			transfers: promFactory.NewCounter(prometheus.CounterOpts{
				Name: "verdin_transfers_total",
				Help: "total completed transfers",
			}),
			splits: promFactory.NewCounter(prometheus.CounterOpts{
				Name: "verdin_splits_total",
				Help: "total completed splits",
			}),
		}
	}
	return e
}

// TransferRequest moves amountKWh of a certificate's balance from its
// current holder to another entity.
type TransferRequest struct {
	CertificateID string
	FromEntity    string
	ToEntity      string
	Metadata      map[string]string
	AmountKWh     uint64
}

// Transfer debits the certificate and records the movement. The debit
// is rejected for more than the remaining balance, so a transfer can
// never create balance out of thin air.
func (e *Engine) Transfer(
	ctx context.Context,
	req TransferRequest,
) (*models.TransferRecord, error) {
	if req.CertificateID == "" {
		return nil, fault.Validation("", "certificate id is required")
	}
	if req.FromEntity == "" || req.ToEntity == "" {
		return nil, fault.Validation("", "both entities are required")
	}
	if req.FromEntity == req.ToEntity {
		return nil, fault.Validation(
			"",
			"cannot transfer from an entity to itself",
		)
	}
	if req.AmountKWh == 0 {
		return nil, fault.Validation("", "amount must be positive")
	}
	cert, err := e.registry.Get(ctx, req.CertificateID)
	if err != nil {
		return nil, err
	}
	if cert.HolderEntity != req.FromEntity {
		return nil, fault.Conflict(
			fault.ReasonCertificateInactive,
			"certificate %s is held by %s, not %s",
			cert.ID,
			cert.HolderEntity,
			req.FromEntity,
		)
	}
	recordID := ident.New("trf", req.CertificateID, req.ToEntity)
	_, err = e.registry.Debit(ctx, registry.DebitRequest{
		CertificateID: req.CertificateID,
		Entity:        req.FromEntity,
		Counterparty:  req.ToEntity,
		Reference:     recordID,
		Cause:         chainlog.EventTypeTransfer,
		AmountKWh:     req.AmountKWh,
	})
	if err != nil {
		return nil, err
	}
	metadata := ""
	if len(req.Metadata) > 0 {
		raw, err := json.Marshal(req.Metadata)
		if err == nil {
			metadata = string(raw)
		}
	}
	now := e.now()
	record := &models.TransferRecord{
		ID:            recordID,
		CertificateID: req.CertificateID,
		FromEntity:    req.FromEntity,
		ToEntity:      req.ToEntity,
		AmountKWh:     req.AmountKWh,
		Metadata:      metadata,
		TransferredAt: now,
	}
	if err := e.db.Metadata().CreateTransferRecord(record); err != nil {
		if creditErr := e.registry.Credit(
			ctx,
			req.CertificateID,
			req.AmountKWh,
			recordID,
		); creditErr != nil {
			e.logger.Error(
				"transfer compensation failed",
				"certificate", req.CertificateID,
				"error", creditErr,
			)
		}
		return nil, fault.ExternalDependency(err, "transfer record insert")
	}
	if e.metrics != nil {
		e.metrics.transfers.Inc()
	}
	e.logger.Info(
		"balance transferred",
		"certificate", req.CertificateID,
		"from", req.FromEntity,
		"to", req.ToEntity,
		"amount_kwh", req.AmountKWh,
	)
	return record, nil
}

// SplitRequest subdivides a certificate's remaining balance into
// derivative certificates held by the named entities.
type SplitRequest struct {
	CertificateID string
	Parts         []registry.DerivativePart
}

// SplitResult pairs the split record with the derivative certificates
// it produced.
type SplitResult struct {
	Record       *models.SplitRecord
	Certificates []*models.Certificate
}

// Split debits the parent for the combined part total, issues one
// derivative certificate per part, and records the subdivision. Parts
// must sum to no more than the parent's remaining balance.
func (e *Engine) Split(
	ctx context.Context,
	req SplitRequest,
) (*SplitResult, error) {
	if req.CertificateID == "" {
		return nil, fault.Validation("", "certificate id is required")
	}
	if len(req.Parts) < 2 {
		return nil, fault.Validation(
			"",
			"a split needs at least two parts",
		)
	}
	var total uint64
	for _, part := range req.Parts {
		if part.Entity == "" {
			return nil, fault.Validation("", "part entity is required")
		}
		if part.AmountKWh == 0 {
			return nil, fault.Validation(
				"",
				"part amount must be positive",
			)
		}
		// A wrapped sum would slip past the parent's balance check and
		// mint derivative balance out of thin air
		if part.AmountKWh > math.MaxUint64-total {
			return nil, fault.Validation(
				"",
				"part amounts overflow the total",
			)
		}
		total += part.AmountKWh
	}
	parent, err := e.registry.Get(ctx, req.CertificateID)
	if err != nil {
		return nil, err
	}
	recordID := ident.New("spl", req.CertificateID)
	_, err = e.registry.Debit(ctx, registry.DebitRequest{
		CertificateID: req.CertificateID,
		Entity:        parent.HolderEntity,
		Reference:     recordID,
		Cause:         chainlog.EventTypeSplit,
		AmountKWh:     total,
	})
	if err != nil {
		return nil, err
	}
	derivatives, err := e.registry.IssueDerivatives(ctx, parent, req.Parts)
	if err != nil {
		if creditErr := e.registry.Credit(
			ctx,
			req.CertificateID,
			total,
			recordID,
		); creditErr != nil {
			e.logger.Error(
				"split compensation failed",
				"certificate", req.CertificateID,
				"error", creditErr,
			)
		}
		return nil, err
	}
	now := e.now()
	record := &models.SplitRecord{
		ID:            recordID,
		CertificateID: req.CertificateID,
		TotalKWh:      total,
		SplitAt:       now,
	}
	for i, part := range req.Parts {
		record.Parts = append(record.Parts, models.SplitPart{
			SplitRecordID:           recordID,
			Entity:                  part.Entity,
			DerivativeCertificateID: derivatives[i].ID,
			AmountKWh:               part.AmountKWh,
		})
	}
	if err := e.db.Metadata().CreateSplitRecord(record); err != nil {
		// Derivatives are live and the parent debit stands; the split
		// record is bookkeeping and its loss is logged, not unwound
		e.logger.Error(
			"split record insert failed",
			"certificate", req.CertificateID,
			"error", err,
		)
		return nil, fault.ExternalDependency(err, "split record insert")
	}
	if e.metrics != nil {
		e.metrics.splits.Inc()
	}
	e.logger.Info(
		"certificate split",
		"certificate", req.CertificateID,
		"parts", len(req.Parts),
		"total_kwh", total,
	)
	return &SplitResult{Record: record, Certificates: derivatives}, nil
}
