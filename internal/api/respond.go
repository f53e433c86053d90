package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/sells-group/leadfunnel/internal/funnel"
	"github.com/sells-group/leadfunnel/internal/model"
	"github.com/sells-group/leadfunnel/internal/resilience"
)

// Client-facing messages.
const (
	msgMethodNotAllowed = "Method not allowed"
	msgInvalidBody      = "Invalid request body"
	msgConfiguration    = "Server configuration error"
	msgLeadNotFound     = "Lead not found"
	msgGenericFailure   = "Failed to process request"
	msgUnavailable      = "Service temporarily unavailable"
	msgValidation       = "Validation failed"
)

// errorBody is the JSON shape of every failed response.
type errorBody struct {
	Success  bool              `json:"success"`
	Error    string            `json:"error"`
	Fields   map[string]string `json:"fields,omitempty"`
	Redirect string            `json:"redirect,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// respondError maps the error taxonomy to a status and a client-safe message.
// Server-side failures are logged with the full error.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve *model.ValidationError
		se *model.SyncError
		te *funnel.TransitionError
	)
	body := errorBody{}
	status := http.StatusInternalServerError

	switch {
	case errors.As(err, &ve):
		status = http.StatusBadRequest
		body.Fields = ve.Fields
		body.Error = msgValidation
		if len(ve.Fields) == 1 {
			for _, msg := range ve.Fields {
				body.Error = msg
			}
		}
	case errors.Is(err, model.ErrNoSession):
		status = http.StatusConflict
		body.Error = "Lead data not found. Please start from the beginning."
		body.Redirect = s.funnel.EntryRoute()
	case errors.As(err, &te):
		status = http.StatusConflict
		body.Error = "This step is not available"
		body.Redirect = s.funnel.Route(te.From)
	case model.IsNotFound(err):
		status = http.StatusNotFound
		body.Error = msgLeadNotFound
	case model.IsConfiguration(err):
		body.Error = msgConfiguration
	case resilience.IsOpen(err):
		status = http.StatusServiceUnavailable
		body.Error = msgUnavailable
	case errors.As(err, &se):
		body.Error = se.Message
		if body.Error == "" {
			body.Error = msgGenericFailure
		}
	default:
		body.Error = msgGenericFailure
	}

	if status >= http.StatusInternalServerError {
		s.log.Error("api: request failed",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	writeJSON(w, status, body)
}
