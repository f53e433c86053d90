// Package leadlog keeps one spreadsheet row per prospect email. Rows are
// found by a case-insensitive scan of column A and merged field by field.
//
// Find-then-write is not atomic: two near-simultaneous creates for the same
// email can produce two rows.
package leadlog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"

	"github.com/sells-group/leadfunnel/internal/model"
	"github.com/sells-group/leadfunnel/pkg/sheets"
)

// DefaultSheet is the tab holding lead rows.
const DefaultSheet = "Sheet1"

// Intent is what the caller wants done with a record.
type Intent string

// Upsert intents.
const (
	IntentCreate Intent = "create"
	IntentUpdate Intent = "update"
)

// Action is what an upsert actually did.
type Action string

// Upsert actions.
const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
)

// Log reads and writes lead rows. A nil client means the sheet is not
// configured.
type Log struct {
	client sheets.Client
	sheet  string
	now    func() time.Time
	log    *zap.Logger
}

// Option configures a Log.
type Option func(*Log)

// WithClock replaces time.Now (for testing).
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		l.now = now
	}
}

// New creates a Log over the named sheet tab.
func New(client sheets.Client, sheet string, opts ...Option) *Log {
	if sheet == "" {
		sheet = DefaultSheet
	}
	l := &Log{
		client: client,
		sheet:  sheet,
		now:    time.Now,
		log:    zap.L().With(zap.String("component", "leadlog")),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Configured reports whether a sheets client is set.
func (l *Log) Configured() bool {
	return l.client != nil
}

func (l *Log) configured() error {
	if !l.Configured() {
		return eris.Wrap(model.ErrConfiguration, "leadlog: google sheets not configured")
	}
	return nil
}

// FindRowByEmail returns the 1-based row of the first row whose email cell
// matches under Unicode case folding.
func (l *Log) FindRowByEmail(ctx context.Context, email string) (int, bool, error) {
	if err := l.configured(); err != nil {
		return 0, false, err
	}
	values, err := l.client.GetValues(ctx, fmt.Sprintf("%s!A:A", l.sheet))
	if err != nil {
		return 0, false, sheetError(err, "leadlog: find row")
	}

	fold := cases.Fold()
	want := fold.String(strings.TrimSpace(email))
	for i, row := range values {
		if len(row) == 0 {
			continue
		}
		if fold.String(strings.TrimSpace(row[0])) == want {
			return i + 1, true, nil
		}
	}
	return 0, false, nil
}

// AppendRow writes a full row for rec. Missing strings become "", missing
// booleans "no", and stage defaults to lead.
func (l *Log) AppendRow(ctx context.Context, rec model.LeadRecord) error {
	if err := l.configured(); err != nil {
		return err
	}
	ts := model.Timestamp(l.now())
	row := make([]string, rowWidth)
	for i, c := range columns {
		if v, ok := c.get(&rec); ok {
			row[i] = v
		} else {
			row[i] = c.missingCell
		}
	}
	row[0] = rec.EmailKey()
	row[colCreatedAt] = ts
	row[colUpdatedAt] = ts

	if err := l.client.AppendValues(ctx, fmt.Sprintf("%s!A:%s", l.sheet, lastColumn), [][]string{row}); err != nil {
		return sheetError(err, "leadlog: append row")
	}
	return nil
}

// UpdateRow overlays the fields present in partial onto row n. created_at is
// kept (or set when blank) and updated_at is refreshed.
func (l *Log) UpdateRow(ctx context.Context, n int, partial model.LeadRecord) error {
	if err := l.configured(); err != nil {
		return err
	}
	if n < 1 {
		return eris.Errorf("leadlog: invalid row %d", n)
	}
	rng := fmt.Sprintf("%s!A%d:%s%d", l.sheet, n, lastColumn, n)

	values, err := l.client.GetValues(ctx, rng)
	if err != nil {
		return sheetError(err, fmt.Sprintf("leadlog: read row %d", n))
	}
	row := make([]string, rowWidth)
	if len(values) > 0 {
		copy(row, values[0])
	}

	for i, c := range columns {
		if v, ok := c.get(&partial); ok {
			row[i] = v
		}
	}
	if e := partial.EmailKey(); e != "" {
		row[0] = e
	}
	ts := model.Timestamp(l.now())
	if row[colCreatedAt] == "" {
		row[colCreatedAt] = ts
	}
	row[colUpdatedAt] = ts

	if err := l.client.UpdateValues(ctx, rng, [][]string{row}); err != nil {
		return sheetError(err, fmt.Sprintf("leadlog: update row %d", n))
	}
	return nil
}

// Upsert applies intent to the row keyed by rec's email. A create on an
// existing email updates it; an update on a missing email is ErrNotFound.
func (l *Log) Upsert(ctx context.Context, intent Intent, rec model.LeadRecord) (Action, error) {
	email := rec.EmailKey()
	if email == "" {
		return "", model.NewValidationError("email", "Email is required")
	}
	if intent != IntentCreate && intent != IntentUpdate {
		return "", model.NewValidationError("action", "Invalid action. Must be 'create' or 'update'")
	}
	if st := model.Deref(rec.Stage); st != "" && !model.Stage(st).Valid() {
		return "", model.NewValidationError("stage", fmt.Sprintf("Invalid stage %q", st))
	}
	if err := l.configured(); err != nil {
		return "", err
	}

	row, found, err := l.FindRowByEmail(ctx, email)
	if err != nil {
		return "", err
	}

	switch {
	case found:
		if err := l.UpdateRow(ctx, row, rec); err != nil {
			return "", err
		}
		l.log.Debug("leadlog: row updated", zap.String("email", model.MaskEmail(email)), zap.Int("row", row))
		return ActionUpdated, nil
	case intent == IntentCreate:
		if err := l.AppendRow(ctx, rec); err != nil {
			return "", err
		}
		l.log.Debug("leadlog: row created", zap.String("email", model.MaskEmail(email)))
		return ActionCreated, nil
	default:
		return "", eris.Wrapf(model.ErrNotFound, "leadlog: no row for %s", model.MaskEmail(email))
	}
}

// Lookup returns the row for email keyed by column header.
func (l *Log) Lookup(ctx context.Context, email string) (map[string]string, int, error) {
	n, found, err := l.FindRowByEmail(ctx, email)
	if err != nil {
		return nil, 0, err
	}
	if !found {
		return nil, 0, eris.Wrapf(model.ErrNotFound, "leadlog: no row for %s", model.MaskEmail(email))
	}
	values, err := l.client.GetValues(ctx, fmt.Sprintf("%s!A%d:%s%d", l.sheet, n, lastColumn, n))
	if err != nil {
		return nil, 0, sheetError(err, fmt.Sprintf("leadlog: read row %d", n))
	}
	out := make(map[string]string, rowWidth)
	for i, h := range Headers() {
		if len(values) > 0 && i < len(values[0]) {
			out[h] = values[0][i]
		} else {
			out[h] = ""
		}
	}
	return out, n, nil
}

// sheetError marks a failed Sheets call as a sync failure carrying the API's
// message.
func sheetError(err error, msg string) error {
	return eris.Wrap(model.NewSyncError("sheet", sheets.APIMessage(err), err), msg)
}
