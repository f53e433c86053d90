package model

import (
	"errors"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validLeadForm() LeadForm {
	return LeadForm{
		Name:              "Jane Doe",
		Email:             "JANE@Example.com",
		Phone:             "9876543210",
		EmploymentStatus:  EmployedYes,
		YearsOfExperience: ExperienceOver5,
	}
}

func TestLeadForm_NormalizeAndValidate(t *testing.T) {
	t.Parallel()

	f := validLeadForm().Normalize("+91")
	assert.Equal(t, "jane@example.com", f.Email)
	require.NoError(t, f.Validate())
}

func TestLeadForm_ValidateCollectsAllFields(t *testing.T) {
	t.Parallel()

	f := LeadForm{Name: "Jo", Email: "nope", Phone: "123", EmploymentStatus: "maybe"}
	err := f.Validate()
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Fields, "name")
	assert.Contains(t, ve.Fields, "email")
	assert.Contains(t, ve.Fields, "phone")
	assert.Contains(t, ve.Fields, "employmentStatus")
	assert.Contains(t, ve.Fields, "yearsOfExperience")
}

func TestLeadForm_MissingEmail(t *testing.T) {
	t.Parallel()

	f := validLeadForm()
	f.Email = ""
	var ve *ValidationError
	require.True(t, errors.As(f.Validate(), &ve))
	assert.Equal(t, "Email is required", ve.Fields["email"])
}

func validApplication() ApplicationForm {
	return ApplicationForm{
		LinkedInURL:         "https://www.linkedin.com/in/janedoe",
		CurrentRole:         "UX Designer",
		CurrentCompany:      "Acme",
		TargetRole:          "Lead UX Designer",
		TargetSalary:        "300000",
		BlockingIssue:       "Getting rejected in portfolio rounds",
		WhyImportant:        "I want to lead a design team next year.",
		InvestmentReadiness: ReadyToInvest,
		Timeline:            TimelineASAP,
	}
}

func TestApplicationForm_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, validApplication().Validate())

	bad := validApplication()
	bad.LinkedInURL = "linkedin"
	bad.WhyImportant = "short"
	bad.CurrentCompany = "A"
	bad.Timeline = "someday"

	var ve *ValidationError
	require.True(t, errors.As(bad.Validate(), &ve))
	assert.Len(t, ve.Fields, 4)
	assert.Contains(t, ve.Fields, "linkedinUrl")
	assert.Contains(t, ve.Fields, "whyImportant")
	assert.Contains(t, ve.Fields, "currentCompany")
	assert.Contains(t, ve.Fields, "timeline")
}

func TestApplicationForm_Record(t *testing.T) {
	t.Parallel()

	rec := validApplication().Record()
	assert.Equal(t, "ready_to_invest", Deref(rec.InvestmentReadiness))
	assert.Equal(t, "asap", Deref(rec.Timeline))
	assert.Nil(t, rec.Email)
	assert.Nil(t, rec.Stage)
}

func TestErrorHelpers(t *testing.T) {
	t.Parallel()

	assert.True(t, IsNotFound(eris.Wrap(ErrNotFound, "leadlog: update")))
	assert.True(t, IsConfiguration(eris.Wrap(ErrConfiguration, "brevo: api key")))
	assert.False(t, IsNotFound(ErrConfiguration))

	se := NewSyncError("crm", "Invalid API key", errors.New("status 401"))
	wrapped := eris.Wrap(se, "funnel: capture lead")
	assert.True(t, IsSyncFailure(wrapped))
	assert.Equal(t, "crm sync failed: Invalid API key", se.Error())
	assert.False(t, IsValidation(wrapped))
}

func TestRecordBuilders(t *testing.T) {
	t.Parallel()

	rec := LeadRecord{Email: Ptr("JANE@example.com ")}.
		WithLeadVerdict(Verdict{Qualified: true, Reason: ReasonMeetsAllCriteria, Category: CategoryQualified}).
		WithUTM(UTMAttribution{Source: "fb"}).
		WithStage(StageLead)

	assert.Equal(t, "jane@example.com", rec.EmailKey())
	assert.True(t, Deref(rec.Qualified))
	assert.Equal(t, "meets_all_criteria", Deref(rec.QualificationReason))
	assert.Equal(t, "fb", Deref(rec.UTMSource))
	require.NotNil(t, rec.UTMTerm)
	assert.Empty(t, *rec.UTMTerm)
	assert.Equal(t, "lead", Deref(rec.Stage))
}
