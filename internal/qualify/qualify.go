// Package qualify holds the funnel's two qualification checkpoints. Both are
// pure functions: callers guarantee enum membership before calling.
package qualify

import "github.com/sells-group/leadfunnel/internal/model"

// Checkpoint identifies a qualification point in the funnel.
type Checkpoint string

// Funnel checkpoints.
const (
	CheckpointLead        Checkpoint = "lead"
	CheckpointApplication Checkpoint = "application"
)

// LeadScreening decides whether a new lead may watch the training.
// Qualified iff employed with at least two years of experience. Employment is
// checked before experience so a not-employed junior reports not_employed.
func LeadScreening(employment model.EmploymentStatus, experience model.Experience) model.Verdict {
	employed := employment == model.EmployedYes
	experienced := experience == model.Experience2To5 || experience == model.ExperienceOver5

	switch {
	case employed && experienced:
		return model.Verdict{Qualified: true, Reason: model.ReasonMeetsAllCriteria, Category: model.CategoryQualified}
	case !employed:
		return model.Verdict{Reason: model.ReasonNotEmployed, Category: model.CategoryEmployment}
	case !experienced:
		return model.Verdict{Reason: model.ReasonInsufficientExperience, Category: model.CategoryExperience}
	default:
		// Unreachable with the two conditions above.
		return model.Verdict{Reason: model.ReasonGeneral, Category: model.CategoryGeneral}
	}
}

// ApplicationScreening decides whether an applicant may book a call. The
// combined case must be tested first or its diagnostic is lost.
func ApplicationScreening(readiness model.InvestmentReadiness, timeline model.Timeline) model.Verdict {
	cannotInvest := readiness == model.CannotInvest
	longTimeline := timeline == model.TimelineOver90Days

	switch {
	case cannotInvest && longTimeline:
		return model.Verdict{Reason: model.ReasonCannotInvestLong, Category: model.CategoryBoth}
	case cannotInvest:
		return model.Verdict{Reason: model.ReasonCannotInvest, Category: model.CategoryInvestment}
	case longTimeline:
		return model.Verdict{Reason: model.ReasonLongTimeline, Category: model.CategoryTimeline}
	default:
		return model.Verdict{Qualified: true, Reason: model.ReasonMeetsAllCriteria, Category: model.CategoryQualified}
	}
}
