package model

import "time"

// Session record keys. Each key is stored and overwritten independently.
const (
	RecordLeadData           = "lead_data"
	RecordLeadFormData       = "lead_form_data"
	RecordApplyQualification = "apply_qualification"
	RecordUTMParams          = "utm_params"
)

// LeadData identifies the prospect and carries the lead-screening verdict.
type LeadData struct {
	LeadID        string    `json:"leadId"`
	Email         string    `json:"email"`
	Qualification *Verdict  `json:"qualification,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// LeadFormData keeps prior-stage form fields for prefill.
type LeadFormData struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// ApplyQualification is the application-screening verdict as stored in the
// session.
type ApplyQualification struct {
	Verdict
	Timestamp time.Time `json:"timestamp"`
}

// SessionState is the funnel progress of one browser session. Nil fields are
// absent records. When used as a patch, only non-nil records are written.
type SessionState struct {
	LeadData           *LeadData           `json:"lead_data,omitempty"`
	LeadForm           *LeadFormData       `json:"lead_form_data,omitempty"`
	ApplyQualification *ApplyQualification `json:"apply_qualification,omitempty"`
	UTM                *UTMAttribution     `json:"utm_params,omitempty"`
}

// Entered reports whether the prospect has passed lead capture.
func (s *SessionState) Entered() bool {
	return s != nil && s.LeadData != nil && s.LeadData.Email != ""
}

// Attribution returns the stored UTM tags or the zero value.
func (s *SessionState) Attribution() UTMAttribution {
	if s == nil || s.UTM == nil {
		return UTMAttribution{}
	}
	return *s.UTM
}
