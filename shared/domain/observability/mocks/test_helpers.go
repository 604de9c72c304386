package mocks

import (
	"github.com/stretchr/testify/mock"
)

// NewQuietLogger returns a MockLogger that accepts any call. Tests that
// assert on specific log lines should add their own expectations first.
func NewQuietLogger() *MockLogger {
	m := &MockLogger{}
	for _, method := range []string{"Debug", "Info", "Warn", "Error"} {
		m.On(method, mock.Anything, mock.Anything).Maybe()
	}
	m.On("WithFields", mock.Anything).Return(m).Maybe()
	return m
}

// NewQuietMetrics returns a MockMetrics that accepts any call.
func NewQuietMetrics() *MockMetrics {
	m := &MockMetrics{}
	m.On("IncrementCounter", mock.Anything, mock.Anything).Maybe()
	m.On("RecordHistogram", mock.Anything, mock.Anything, mock.Anything).Maybe()
	m.On("RecordGauge", mock.Anything, mock.Anything, mock.Anything).Maybe()
	m.On("WithTags", mock.Anything).Return(m).Maybe()
	return m
}
