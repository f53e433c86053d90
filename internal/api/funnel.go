package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/sells-group/leadfunnel/internal/funnel"
	"github.com/sells-group/leadfunnel/internal/model"
)

type outcomeResponse struct {
	Success bool `json:"success"`
	funnel.Outcome
}

type sessionResponse struct {
	Success  bool                `json:"success"`
	Step     funnel.Step         `json:"step"`
	Route    string              `json:"route"`
	Terminal bool                `json:"terminal"`
	Session  *model.SessionState `json:"session"`
}

type landRequest struct {
	// LandingURL is the page URL the prospect arrived on. When empty the
	// request's own query string is used.
	LandingURL string `json:"landingUrl"`
}

// decodeOptional decodes a JSON body, accepting an empty one.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Server) writeOutcome(w http.ResponseWriter, r *http.Request, out funnel.Outcome, err error) {
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcomeResponse{Success: true, Outcome: out})
}

func (s *Server) handleLand(w http.ResponseWriter, r *http.Request) {
	var req landRequest
	if err := decodeOptional(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	query := r.URL.Query()
	if req.LandingURL != "" {
		u, err := url.Parse(req.LandingURL)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "Invalid landing URL")
			return
		}
		query = u.Query()
	}
	out, err := s.funnel.Land(r.Context(), sessionID(r), query, signals(r))
	s.writeOutcome(w, r, out, err)
}

func (s *Server) handleLead(w http.ResponseWriter, r *http.Request) {
	var form model.LeadForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		writeMessage(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	out, err := s.funnel.CaptureLead(r.Context(), sessionID(r), form, signals(r))
	s.writeOutcome(w, r, out, err)
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	out, err := s.funnel.Watch(r.Context(), sessionID(r), signals(r))
	s.writeOutcome(w, r, out, err)
}

func (s *Server) handleApplyStart(w http.ResponseWriter, r *http.Request) {
	out, err := s.funnel.StartApplication(r.Context(), sessionID(r), signals(r))
	s.writeOutcome(w, r, out, err)
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	var form model.ApplicationForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		writeMessage(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	out, err := s.funnel.SubmitApplication(r.Context(), sessionID(r), form, signals(r))
	s.writeOutcome(w, r, out, err)
}

func (s *Server) handleBooking(w http.ResponseWriter, r *http.Request) {
	var conf model.BookingConfirmation
	if err := decodeOptional(r, &conf); err != nil {
		writeMessage(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	out, err := s.funnel.ConfirmBooking(r.Context(), sessionID(r), conf, signals(r))
	s.writeOutcome(w, r, out, err)
}

func (s *Server) handleApplyRejected(w http.ResponseWriter, r *http.Request) {
	out, err := s.funnel.RejectAcknowledged(r.Context(), sessionID(r))
	s.writeOutcome(w, r, out, err)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	out, err := s.funnel.Restart(r.Context(), sessionID(r))
	s.writeOutcome(w, r, out, err)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	state, err := s.funnel.Session(r.Context(), sessionID(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	step := funnel.CurrentStep(state)
	writeJSON(w, http.StatusOK, sessionResponse{
		Success:  true,
		Step:     step,
		Route:    s.funnel.Route(step),
		Terminal: step.Terminal(),
		Session:  state,
	})
}
