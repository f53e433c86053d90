package leadlog

import "github.com/sells-group/leadfunnel/internal/model"

// column is one cell of a lead row. get reports the cell text and whether the
// record supplied the field.
type column struct {
	header      string
	get         func(r *model.LeadRecord) (string, bool)
	missingCell string
}

func str(f func(r *model.LeadRecord) *string) func(*model.LeadRecord) (string, bool) {
	return func(r *model.LeadRecord) (string, bool) {
		p := f(r)
		if p == nil {
			return "", false
		}
		return *p, true
	}
}

func flag(f func(r *model.LeadRecord) *bool) func(*model.LeadRecord) (string, bool) {
	return func(r *model.LeadRecord) (string, bool) {
		p := f(r)
		if p == nil {
			return "", false
		}
		if *p {
			return "yes", true
		}
		return "no", true
	}
}

// columns is the fixed sheet layout, A through AB. created_at and updated_at
// follow in AC and AD.
var columns = []column{
	{header: "email", get: str(func(r *model.LeadRecord) *string { return r.Email })},
	{header: "name", get: str(func(r *model.LeadRecord) *string { return r.Name })},
	{header: "phone", get: str(func(r *model.LeadRecord) *string { return r.Phone })},
	{header: "employment_status", get: str(func(r *model.LeadRecord) *string { return r.EmploymentStatus })},
	{header: "years_of_experience", get: str(func(r *model.LeadRecord) *string { return r.YearsOfExperience })},
	{header: "monthly_salary", get: str(func(r *model.LeadRecord) *string { return r.MonthlySalary })},
	{header: "qualified", get: flag(func(r *model.LeadRecord) *bool { return r.Qualified }), missingCell: "no"},
	{header: "qualification_reason", get: str(func(r *model.LeadRecord) *string { return r.QualificationReason })},
	{header: "qualification_category", get: str(func(r *model.LeadRecord) *string { return r.QualificationCategory })},
	{header: "utm_source", get: str(func(r *model.LeadRecord) *string { return r.UTMSource })},
	{header: "utm_medium", get: str(func(r *model.LeadRecord) *string { return r.UTMMedium })},
	{header: "utm_campaign", get: str(func(r *model.LeadRecord) *string { return r.UTMCampaign })},
	{header: "utm_content", get: str(func(r *model.LeadRecord) *string { return r.UTMContent })},
	{header: "utm_term", get: str(func(r *model.LeadRecord) *string { return r.UTMTerm })},
	{header: "linkedin_url", get: str(func(r *model.LeadRecord) *string { return r.LinkedInURL })},
	{header: "current_role", get: str(func(r *model.LeadRecord) *string { return r.CurrentRole })},
	{header: "current_company", get: str(func(r *model.LeadRecord) *string { return r.CurrentCompany })},
	{header: "target_role", get: str(func(r *model.LeadRecord) *string { return r.TargetRole })},
	{header: "target_salary", get: str(func(r *model.LeadRecord) *string { return r.TargetSalary })},
	{header: "blocking_issue", get: str(func(r *model.LeadRecord) *string { return r.BlockingIssue })},
	{header: "why_important", get: str(func(r *model.LeadRecord) *string { return r.WhyImportant })},
	{header: "investment_readiness", get: str(func(r *model.LeadRecord) *string { return r.InvestmentReadiness })},
	{header: "timeline", get: str(func(r *model.LeadRecord) *string { return r.Timeline })},
	// An application verdict that was never produced stays blank.
	{header: "apply_qualified", get: flag(func(r *model.LeadRecord) *bool { return r.ApplyQualified })},
	{header: "apply_qualification_reason", get: str(func(r *model.LeadRecord) *string { return r.ApplyQualificationReason })},
	{header: "has_booked", get: flag(func(r *model.LeadRecord) *bool { return r.HasBooked }), missingCell: "no"},
	{header: "booking_date", get: str(func(r *model.LeadRecord) *string { return r.BookingDate })},
	{header: "stage", get: str(func(r *model.LeadRecord) *string { return r.Stage }), missingCell: string(model.StageLead)},
}

const (
	colCreatedAt = 28
	colUpdatedAt = 29
	rowWidth     = 30
	lastColumn   = "AD"
)

// Headers returns the column headers in sheet order.
func Headers() []string {
	out := make([]string, 0, rowWidth)
	for _, c := range columns {
		out = append(out, c.header)
	}
	return append(out, "created_at", "updated_at")
}
