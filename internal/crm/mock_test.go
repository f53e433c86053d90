package crm

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/leadfunnel/pkg/brevo"
)

// mockBrevoClient implements brevo.Client for testing.
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
