package model

// Reason explains a qualification verdict.
type Reason string

// Qualification reason codes.
const (
	ReasonMeetsAllCriteria       Reason = "meets_all_criteria"
	ReasonNotEmployed            Reason = "not_employed"
	ReasonInsufficientExperience Reason = "insufficient_experience"
	ReasonGeneral                Reason = "general_disqualification"
	ReasonCannotInvestLong       Reason = "cannot_invest_and_long_timeline"
	ReasonCannotInvest           Reason = "cannot_invest"
	ReasonLongTimeline           Reason = "long_timeline"
)

// Category is a coarse grouping of reasons.
type Category string

// Qualification categories.
const (
	CategoryQualified  Category = "qualified"
	CategoryEmployment Category = "employment"
	CategoryExperience Category = "experience"
	CategoryGeneral    Category = "general"
	CategoryInvestment Category = "investment"
	CategoryTimeline   Category = "timeline"
	CategoryBoth       Category = "both"
)

// Verdict is the result of one qualification checkpoint. It is a value type:
// once produced it is stored and compared, never mutated.
type Verdict struct {
	Qualified bool     `json:"qualified"`
	Reason    Reason   `json:"reason"`
	Category  Category `json:"category"`
}

// EmploymentStatus answers "are you currently employed as a designer?".
type EmploymentStatus string

// Employment answers.
const (
	EmployedYes EmploymentStatus = "yes"
	EmployedNo  EmploymentStatus = "no"
)

// Valid reports enum membership.
func (e EmploymentStatus) Valid() bool {
	return e == EmployedYes || e == EmployedNo
}

// Experience is the years-of-experience bucket.
type Experience string

// Experience buckets.
const (
	ExperienceUnder2 Experience = "less_than_2"
	Experience2To5   Experience = "2_to_5"
	ExperienceOver5  Experience = "5_plus"
)

// Valid reports enum membership.
func (e Experience) Valid() bool {
	switch e {
	case ExperienceUnder2, Experience2To5, ExperienceOver5:
		return true
	}
	return false
}

// InvestmentReadiness answers whether the applicant can pay for the program.
type InvestmentReadiness string

// Investment readiness answers.
const (
	ReadyToInvest    InvestmentReadiness = "ready_to_invest"
	NeedToUnderstand InvestmentReadiness = "need_to_understand"
	CannotInvest     InvestmentReadiness = "cannot_invest"
)

// Valid reports enum membership.
func (r InvestmentReadiness) Valid() bool {
	switch r {
	case ReadyToInvest, NeedToUnderstand, CannotInvest:
		return true
	}
	return false
}

// Timeline is how soon the applicant wants to start.
type Timeline string

// Timeline answers.
const (
	TimelineASAP       Timeline = "asap"
	Timeline30Days     Timeline = "30_days"
	Timeline90Days     Timeline = "90_days"
	TimelineOver90Days Timeline = "more_than_90_days"
)

// Valid reports enum membership.
func (t Timeline) Valid() bool {
	switch t {
	case TimelineASAP, Timeline30Days, Timeline90Days, TimelineOver90Days:
		return true
	}
	return false
}
