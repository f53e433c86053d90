package api

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/leadfunnel/pkg/brevo"
)

// --- Brevo Mock ---

type mockBrevoClient struct {
	mock.Mock
}

func (m *mockBrevoClient) CreateContact(ctx context.Context, req brevo.CreateContactRequest) (*brevo.CreateContactResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*brevo.CreateContactResponse), args.Error(1)
}

// --- Sheets fake ---

type memSheet struct {
	mu   sync.Mutex
	rows [][]string
}

var a1 = regexp.MustCompile(`^[^!]+!A(\d*):[A-Z]+\d*$`)

func (f *memSheet) GetValues(_ context.Context, rng string) ([][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := a1.FindStringSubmatch(rng)
	if m == nil {
		return nil, errors.New("bad range " + rng)
	}
	if m[1] == "" {
		out := make([][]string, len(f.rows))
		for i, r := range f.rows {
			out[i] = r[:1]
		}
		return out, nil
	}
	n, _ := strconv.Atoi(m[1])
	if n > len(f.rows) {
		return nil, nil
	}
	return [][]string{append([]string(nil), f.rows[n-1]...)}, nil
}

func (f *memSheet) AppendValues(_ context.Context, _ string, rows [][]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, rows...)
	return nil
}

func (f *memSheet) UpdateValues(_ context.Context, rng string, rows [][]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := a1.FindStringSubmatch(rng)
	if m == nil || m[1] == "" {
		return errors.New("bad range " + rng)
	}
	n, _ := strconv.Atoi(m[1])
	f.rows[n-1] = rows[0]
	return nil
}
