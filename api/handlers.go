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

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/verdin-energy/verdin/allocation"
	"github.com/verdin-energy/verdin/database/models"
	"github.com/verdin-energy/verdin/fault"
	"github.com/verdin-energy/verdin/ingest"
	"github.com/verdin-energy/verdin/registry"
	"github.com/verdin-energy/verdin/report"
	"github.com/verdin-energy/verdin/transfer"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck,errchkjson
	json.NewEncoder(w).Encode(v)
}

// writeError maps an engine error onto an HTTP status and the error
// envelope.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch fault.KindOf(err) {
	case fault.KindValidation:
		status = http.StatusBadRequest
	case fault.KindNotFound:
		status = http.StatusNotFound
	case fault.KindConflict:
		status = http.StatusConflict
	case fault.KindLockTimeout:
		status = http.StatusServiceUnavailable
	case fault.KindExternalDependency:
		status = http.StatusBadGateway
	case fault.KindIntegrity:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, ErrorResponse{
		Error:     fault.KindOf(err).String(),
		Reason:    fault.ReasonOf(err),
		Message:   err.Error(),
		Retryable: fault.Retryable(err),
	})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(
			w,
			fault.Validation("", "malformed request body: %s", err),
		)
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Healthy: true})
}

func (s *Server) handleCreateSource(
	w http.ResponseWriter,
	r *http.Request,
) {
	var req CreateSourceRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, fault.Validation("", "source id and name are required"))
		return
	}
	powerType := models.PowerType(req.PowerType)
	if !powerType.Valid() {
		writeError(
			w,
			fault.Validation("", "unknown power type %q", req.PowerType),
		)
		return
	}
	source := &models.Source{
		ID:               req.ID,
		Name:             req.Name,
		PowerType:        powerType,
		GridConnection:   req.GridConnection,
		Location:         req.Location,
		RatedCapacityKW:  req.RatedCapacityKW,
		CarbonFactor:     req.CarbonFactor,
		EfficiencyFactor: req.EfficiencyFactor,
		Active:           true,
	}
	if err := s.config.Database.Metadata().CreateSource(source); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, source)
}

func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	source, err := s.config.Database.Metadata().GetSource(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, source)
}

func (s *Server) handleRecordGeneration(
	w http.ResponseWriter,
	r *http.Request,
) {
	var req RecordGenerationRequest
	if !decode(w, r, &req) {
		return
	}
	result, err := s.config.Ingester.RecordGeneration(
		r.Context(),
		ingest.Request{
			SourceID:    req.SourceID,
			AmountKWh:   req.AmountKWh,
			GeneratedAt: req.GeneratedAt,
		},
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleGetCertificate(
	w http.ResponseWriter,
	r *http.Request,
) {
	cert, err := s.config.Registry.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cert)
}

func (s *Server) handleCheckValidity(
	w http.ResponseWriter,
	r *http.Request,
) {
	id := r.PathValue("id")
	validity, err := s.config.Registry.CheckValidity(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ValidityResponse{
		CertificateID: id,
		Status:        string(validity.Status),
		IsValid:       validity.IsValid,
		DaysOverdue:   validity.DaysOverdue,
	})
}

func (s *Server) handleGetChain(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	// A certificate must exist before its chain is served
	if _, err := s.config.Registry.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	events, err := s.config.Database.Chain().ReadAll(id)
	if err != nil {
		writeError(w, fault.ExternalDependency(err, "chain read"))
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleVerifyChain(
	w http.ResponseWriter,
	r *http.Request,
) {
	result, err := s.config.Verifier.VerifyChain(
		r.Context(),
		r.PathValue("id"),
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCancelCertificate(
	w http.ResponseWriter,
	r *http.Request,
) {
	id := r.PathValue("id")
	if err := s.config.Registry.Cancel(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	cert, err := s.config.Registry.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cert)
}

func (s *Server) handleBatchVerify(
	w http.ResponseWriter,
	r *http.Request,
) {
	var req BatchVerifyRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.CertificateIDs) == 0 {
		writeError(w, fault.Validation("", "certificate_ids is required"))
		return
	}
	results, err := s.config.Verifier.BatchVerify(
		r.Context(),
		req.CertificateIDs,
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleAllocate(w http.ResponseWriter, r *http.Request) {
	var req AllocateRequest
	if !decode(w, r, &req) {
		return
	}
	record, err := s.config.Allocator.AllocateConsumption(
		r.Context(),
		allocation.Request{
			ConsumerID: req.ConsumerID,
			AmountKWh:  req.AmountKWh,
			ConsumedAt: req.ConsumedAt,
		},
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !decode(w, r, &req) {
		return
	}
	record, err := s.config.Transfers.Transfer(
		r.Context(),
		transfer.TransferRequest{
			CertificateID: req.CertificateID,
			FromEntity:    req.FromEntity,
			ToEntity:      req.ToEntity,
			AmountKWh:     req.AmountKWh,
			Metadata:      req.Metadata,
		},
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (s *Server) handleSplit(w http.ResponseWriter, r *http.Request) {
	var req SplitRequest
	if !decode(w, r, &req) {
		return
	}
	parts := make([]registry.DerivativePart, 0, len(req.Parts))
	for _, part := range req.Parts {
		parts = append(parts, registry.DerivativePart{
			Entity:    part.Entity,
			AmountKWh: part.AmountKWh,
		})
	}
	result, err := s.config.Transfers.Split(
		r.Context(),
		transfer.SplitRequest{
			CertificateID: req.CertificateID,
			Parts:         parts,
		},
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// parseWindow reads the start/end query params shared by the report
// endpoints.
func parseWindow(r *http.Request) (report.Window, error) {
	start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
	if err != nil {
		return report.Window{}, fault.Validation(
			"",
			"start must be RFC 3339: %s",
			err,
		)
	}
	end, err := time.Parse(time.RFC3339, r.URL.Query().Get("end"))
	if err != nil {
		return report.Window{}, fault.Validation(
			"",
			"end must be RFC 3339: %s",
			err,
		)
	}
	return report.Window{Start: start, End: end}, nil
}

func (s *Server) handleRenewableRatio(
	w http.ResponseWriter,
	r *http.Request,
) {
	window, err := parseWindow(r)
	if err != nil {
		writeError(w, err)
		return
	}
	rep, err := s.config.Reporter.RenewableRatio(
		r.Context(),
		window,
		r.URL.Query().Get("consumer_id"),
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleProduction(
	w http.ResponseWriter,
	r *http.Request,
) {
	window, err := parseWindow(r)
	if err != nil {
		writeError(w, err)
		return
	}
	rep, err := s.config.Reporter.Production(
		r.Context(),
		window,
		r.URL.Query().Get("source_id"),
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleConsumption(
	w http.ResponseWriter,
	r *http.Request,
) {
	window, err := parseWindow(r)
	if err != nil {
		writeError(w, err)
		return
	}
	rep, err := s.config.Reporter.Consumption(
		r.Context(),
		window,
		r.URL.Query().Get("consumer_id"),
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
