package transporter

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockTransporter struct {
	mock.Mock
}

func (m *MockTransporter) Id() int64 {
	args := m.Called()
	return args.Get(0).(int64)
}

func (m *MockTransporter) State() TransportState {
	args := m.Called()
	return args.Get(0).(TransportState)
}

func (m *MockTransporter) Done() <-chan struct{} {
	args := m.Called()
	return args.Get(0).(chan struct{})
}

func (m *MockTransporter) Inbound() <-chan []byte {
	args := m.Called()
	return args.Get(0).(chan []byte)
}

func (m *MockTransporter) Dial(ctx context.Context) error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockTransporter) Send(message []byte) error {
	args := m.Called(message)
	return args.Error(0)
}

func (m *MockTransporter) Close(reason error) {
	m.Called()
}

func (m *MockTransporter) Err() error {
	args := m.Called()
	return args.Error(0)
}

type MockFactory struct {
	mock.Mock
}

func (m *MockFactory) Create(id int64, connUrl string) (Transporter, error) {
	args := m.Called(id, connUrl)
	if t := args.Get(0); t != nil {
		return t.(Transporter), args.Error(1)
	}
	return nil, args.Error(1)
}
