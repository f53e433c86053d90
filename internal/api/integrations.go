package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/leadfunnel/internal/conversion"
	"github.com/sells-group/leadfunnel/internal/crm"
	"github.com/sells-group/leadfunnel/internal/funnel"
	"github.com/sells-group/leadfunnel/internal/leadlog"
	"github.com/sells-group/leadfunnel/internal/model"
)

type crmUpsertResponse struct {
	Success   bool   `json:"success"`
	LeadID    string `json:"leadId,omitempty"`
	WatchLink string `json:"watchLink,omitempty"`
	Message   string `json:"message,omitempty"`
}

// handleCRMUpsert creates or updates the CRM contact for a prospect. The body
// is a lead record; name, email and phone are required.
func (s *Server) handleCRMUpsert(w http.ResponseWriter, r *http.Request) {
	var rec model.LeadRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeMessage(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	email := strings.TrimSpace(model.Deref(rec.Email))
	if email == "" || strings.TrimSpace(model.Deref(rec.Name)) == "" || strings.TrimSpace(model.Deref(rec.Phone)) == "" {
		writeMessage(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	if !model.ValidEmail(email) {
		writeMessage(w, http.StatusBadRequest, "Invalid email format")
		return
	}
	rec.Name = model.Ptr(strings.TrimSpace(*rec.Name))
	phone, ok := crmPhone(*rec.Phone, s.opts.CountryCode)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Invalid phone number")
		return
	}
	rec.Phone = model.Ptr(phone)

	res, err := s.crm.UpsertContact(r.Context(), email, crm.AttributesFor(rec, s.opts.CountryCode), 0)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	leadID := res.ExternalID
	msg := "Contact added successfully"
	if res.Duplicate {
		msg = "Contact already exists, updated successfully"
	}
	if leadID == "" {
		leadID = funnel.FallbackLeadID(email, s.now())
	}
	writeJSON(w, http.StatusOK, crmUpsertResponse{
		Success:   true,
		LeadID:    leadID,
		WatchLink: funnel.WatchLink(s.opts.PublicBaseURL, leadID),
		Message:   msg,
	})
}

// crmPhone returns the national number when raw is one, else raw in E.164
// form when it carries its own country code.
func crmPhone(raw, countryCode string) (string, bool) {
	if national := model.NormalizePhone(raw, countryCode); model.ValidPhone(national) {
		return national, true
	}
	return model.InternationalPhone(raw)
}

type sheetAppendRequest struct {
	Action leadlog.Intent   `json:"action"`
	Data   model.LeadRecord `json:"data"`
}

type sheetAppendResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Action  leadlog.Action `json:"action"`
}

// handleSheetAppend creates or updates the lead row keyed by email.
func (s *Server) handleSheetAppend(w http.ResponseWriter, r *http.Request) {
	if !s.sheet.Configured() {
		s.log.Error("api: google sheets is not configured")
		writeMessage(w, http.StatusInternalServerError, msgConfiguration)
		return
	}
	var req sheetAppendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	action, err := s.sheet.Upsert(r.Context(), req.Action, req.Data)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	msg := "Lead updated successfully"
	if action == leadlog.ActionCreated {
		msg = "Lead created successfully"
	}
	writeJSON(w, http.StatusOK, sheetAppendResponse{Success: true, Message: msg, Action: action})
}

type conversionRequest struct {
	EventName      string         `json:"event_name"`
	Email          string         `json:"email"`
	Phone          string         `json:"phone"`
	FBP            string         `json:"fbp"`
	FBC            string         `json:"fbc"`
	EventSourceURL string         `json:"event_source_url"`
	CustomData     map[string]any `json:"custom_data"`
}

type conversionResponse struct {
	Success        bool            `json:"success"`
	VendorResponse json.RawMessage `json:"vendor_response"`
}

// handleConversionReport forwards one event synchronously and returns the
// vendor's reply.
func (s *Server) handleConversionReport(w http.ResponseWriter, r *http.Request) {
	var req conversionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	resp, err := s.reporter.Report(r.Context(), conversion.Event{
		Name:       req.EventName,
		Email:      req.Email,
		Phone:      req.Phone,
		CustomData: req.CustomData,
		Signals: conversion.Signals{
			FBP:            req.FBP,
			FBC:            req.FBC,
			ClientIP:       conversion.ClientIP(r.Header.Get("X-Forwarded-For"), r.RemoteAddr),
			UserAgent:      r.UserAgent(),
			EventSourceURL: req.EventSourceURL,
		},
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.log.Debug("api: conversion reported", zap.String("event", req.EventName), zap.Int("received", resp.EventsReceived))
	writeJSON(w, http.StatusOK, conversionResponse{Success: true, VendorResponse: resp.Raw})
}
