package device

import (
	"github.com/stretchr/testify/mock"
)

// MockConnection is a stretchr mock for the Connection interface.  It is
// exported to support testing of components in other packages that route
// traffic to devices.
type MockConnection struct {
	mock.Mock
}

var _ Connection = (*MockConnection)(nil)

func (m *MockConnection) Send(data []byte) error {
	return m.Called(data).Error(0)
}

func (m *MockConnection) Close(code int, reason string) error {
	return m.Called(code, reason).Error(0)
}
