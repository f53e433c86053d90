package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// Sentinel errors for the funnel's error taxonomy. Wrap them with eris so
// callers can still match with errors.Is.
var (
	// ErrNotFound means an update targeted a record that does not exist.
	ErrNotFound = eris.New("record not found")
	// ErrConfiguration means a required server credential is absent.
	ErrConfiguration = eris.New("server configuration error")
	// ErrNoSession means the prospect has not entered the funnel in this session.
	ErrNoSession = eris.New("funnel session not found")
)

// ValidationError reports bad input. No network call is made when one is
// returned.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: %s", k, e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// add records a field problem, keeping the first message per field.
func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = msg
	}
}

// errOrNil returns nil when no field failed.
func (e *ValidationError) errOrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// SyncError reports that an integration call failed outright.
type SyncError struct {
	Integration string
	// Message is the vendor's message when one was available.
	Message string
	Err     error
}

// NewSyncError wraps err as a failure of the named integration.
func NewSyncError(integration, message string, err error) *SyncError {
	return &SyncError{Integration: integration, Message: message, Err: err}
}

func (e *SyncError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s sync failed: %s", e.Integration, msg)
}

func (e *SyncError) Unwrap() error { return e.Err }

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsSyncFailure reports whether err is or wraps a SyncError.
func IsSyncFailure(err error) bool {
	var se *SyncError
	return errors.As(err, &se)
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConfiguration reports whether err wraps ErrConfiguration.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}
