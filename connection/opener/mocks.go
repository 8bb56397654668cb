package opener

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockOpener struct {
	mock.Mock
}

func (m *MockOpener) OpenConnection(ctx context.Context) (*OpenResponse, error) {
	args := m.Called()
	if r := args.Get(0); r != nil {
		return r.(*OpenResponse), args.Error(1)
	}
	return nil, args.Error(1)
}
