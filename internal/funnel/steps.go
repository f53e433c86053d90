package funnel

import (
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadfunnel/internal/model"
)

// Step is a page-level position in the funnel.
type Step string

// Funnel steps.
const (
	StepLanding       Step = "landing"
	StepLeadCapture   Step = "lead_capture"
	StepWatch         Step = "watch"
	StepDisqualified  Step = "disqualified"
	StepApplication   Step = "application"
	StepBooking       Step = "booking"
	StepApplyRejected Step = "apply_rejected"
	StepConfirmation  Step = "confirmation"
)

// transitions lists the allowed moves. Exit steps have none.
var transitions = map[Step]map[Step]bool{
	StepLanding:       {StepLeadCapture: true},
	StepLeadCapture:   {StepWatch: true, StepDisqualified: true},
	StepWatch:         {StepApplication: true},
	StepApplication:   {StepBooking: true, StepApplyRejected: true},
	StepBooking:       {StepConfirmation: true},
	StepDisqualified:  {},
	StepApplyRejected: {},
	StepConfirmation:  {},
}

// CanTransition reports whether the funnel may move from one step to another.
func CanTransition(from, to Step) bool {
	return transitions[from][to]
}

// Terminal reports whether s is an exit step.
func (s Step) Terminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// defaultRoutes maps steps to page paths.
var defaultRoutes = map[Step]string{
	StepLanding:       "/",
	StepLeadCapture:   "/getstarted",
	StepWatch:         "/watch",
	StepDisqualified:  "/disqualified",
	StepApplication:   "/apply",
	StepBooking:       "/book",
	StepApplyRejected: "/apply-rejected",
	StepConfirmation:  "/congratulations",
}

// ParseRoutes converts configured step→path overrides, rejecting unknown step
// names.
func ParseRoutes(raw map[string]string) (map[Step]string, error) {
	out := make(map[Step]string, len(raw))
	for name, path := range raw {
		step := Step(name)
		if _, ok := transitions[step]; !ok {
			return nil, eris.Wrapf(model.ErrConfiguration, "funnel: unknown step %q in routes", name)
		}
		out[step] = path
	}
	return out, nil
}

// CurrentStep derives the resting step of a session from its records.
// Booking confirmation is not stored, so a booked prospect rests at booking.
func CurrentStep(s *model.SessionState) Step {
	switch {
	case !s.Entered():
		return StepLanding
	case s.LeadData.Qualification != nil && !s.LeadData.Qualification.Qualified:
		return StepDisqualified
	case s.ApplyQualification == nil:
		return StepWatch
	case s.ApplyQualification.Qualified:
		return StepBooking
	default:
		return StepApplyRejected
	}
}

// TransitionError rejects an operation the session's step does not allow.
type TransitionError struct {
	From Step
	To   Step
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("funnel: cannot move from %s to %s", e.From, e.To)
}

// guard allows staying on the current step or a listed transition from it.
func guard(s *model.SessionState, to Step) error {
	from := CurrentStep(s)
	if from == to || CanTransition(from, to) {
		return nil
	}
	return &TransitionError{From: from, To: to}
}
