package model

import (
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

// LeadForm is the initial lead-capture submission, including the
// lead-screening answers.
type LeadForm struct {
	Name              string           `json:"name"`
	Email             string           `json:"email"`
	Phone             string           `json:"phone"`
	EmploymentStatus  EmploymentStatus `json:"employmentStatus"`
	YearsOfExperience Experience       `json:"yearsOfExperience"`
	MonthlySalary     string           `json:"monthlySalary,omitempty"`
}

// Normalize trims identity fields, lowercases the email and reduces the phone
// to its national subscriber number.
func (f LeadForm) Normalize(countryCode string) LeadForm {
	f.Name = strings.TrimSpace(f.Name)
	f.Email = NormalizeEmail(f.Email)
	f.Phone = NormalizePhone(f.Phone, countryCode)
	f.MonthlySalary = strings.TrimSpace(f.MonthlySalary)
	return f
}

// Validate checks required fields, formats and enum membership. Call it on a
// normalized form.
func (f LeadForm) Validate() error {
	ve := &ValidationError{}
	if !ValidName(f.Name) {
		ve.add("name", "Name must be at least 4 characters")
	}
	if f.Email == "" {
		ve.add("email", "Email is required")
	} else if !ValidEmail(f.Email) {
		ve.add("email", "Please enter a valid email address")
	}
	if !ValidPhone(f.Phone) {
		ve.add("phone", "Please enter a valid 10-digit phone number")
	}
	if !f.EmploymentStatus.Valid() {
		ve.add("employmentStatus", "Please select your employment status")
	}
	if !f.YearsOfExperience.Valid() {
		ve.add("yearsOfExperience", "Please select your years of experience")
	}
	return ve.errOrNil()
}

// Prospect returns the identity portion of the form.
func (f LeadForm) Prospect(countryCode string, utm UTMAttribution) Prospect {
	return Prospect{
		Email:       f.Email,
		Name:        f.Name,
		Phone:       f.Phone,
		CountryCode: countryCode,
		UTM:         utm,
	}
}

// ApplicationForm is the pre-booking application.
type ApplicationForm struct {
	LinkedInURL         string              `json:"linkedinUrl"`
	CurrentRole         string              `json:"currentRole"`
	CurrentCompany      string              `json:"currentCompany"`
	TargetRole          string              `json:"targetRole"`
	TargetSalary        string              `json:"targetSalary"`
	BlockingIssue       string              `json:"blockingIssue"`
	WhyImportant        string              `json:"whyImportant"`
	InvestmentReadiness InvestmentReadiness `json:"investmentReadiness"`
	Timeline            Timeline            `json:"timeline"`
}

// Validate checks the application's required fields and minimum lengths.
func (f ApplicationForm) Validate() error {
	ve := &ValidationError{}
	if u, err := url.ParseRequestURI(strings.TrimSpace(f.LinkedInURL)); err != nil || u.Host == "" {
		ve.add("linkedinUrl", "Please enter a valid LinkedIn URL")
	}
	if strings.TrimSpace(f.CurrentRole) == "" {
		ve.add("currentRole", "Please select your current role")
	}
	if utf8.RuneCountInString(strings.TrimSpace(f.CurrentCompany)) < 2 {
		ve.add("currentCompany", "Company name must be at least 2 characters")
	}
	if strings.TrimSpace(f.TargetRole) == "" {
		ve.add("targetRole", "Please select your target role")
	}
	if strings.TrimSpace(f.TargetSalary) == "" {
		ve.add("targetSalary", "Please enter your target monthly salary")
	}
	if strings.TrimSpace(f.BlockingIssue) == "" {
		ve.add("blockingIssue", "Please select your biggest blocking issue")
	}
	if utf8.RuneCountInString(strings.TrimSpace(f.WhyImportant)) < 10 {
		ve.add("whyImportant", "Please provide at least 10 characters explaining why this is important")
	}
	if !f.InvestmentReadiness.Valid() {
		ve.add("investmentReadiness", "Please select your investment readiness")
	}
	if !f.Timeline.Valid() {
		ve.add("timeline", "Please select your timeline")
	}
	return ve.errOrNil()
}

// Record flattens the application answers into a sheet/CRM record.
func (f ApplicationForm) Record() LeadRecord {
	return LeadRecord{
		LinkedInURL:         Ptr(strings.TrimSpace(f.LinkedInURL)),
		CurrentRole:         Ptr(f.CurrentRole),
		CurrentCompany:      Ptr(strings.TrimSpace(f.CurrentCompany)),
		TargetRole:          Ptr(f.TargetRole),
		TargetSalary:        Ptr(strings.TrimSpace(f.TargetSalary)),
		BlockingIssue:       Ptr(f.BlockingIssue),
		WhyImportant:        Ptr(strings.TrimSpace(f.WhyImportant)),
		InvestmentReadiness: Ptr(string(f.InvestmentReadiness)),
		Timeline:            Ptr(string(f.Timeline)),
	}
}

// BookingConfirmation is the booking widget's onBookingConfirmed event.
type BookingConfirmation struct {
	BookedAt time.Time      `json:"bookedAt"`
	Details  map[string]any `json:"details,omitempty"`
}
