package engine

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockEngine is a mock implementation of the Engine interface for testing.
type MockEngine struct {
	mock.Mock
}

// Init is the mock implementation of the Init method.
func (m *MockEngine) Init(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Consume is the mock implementation of the Consume method.
func (m *MockEngine) Consume(ctx context.Context, h Handler) error {
	args := m.Called(ctx, h)
	return args.Error(0)
}

// Ack is the mock implementation of the Ack method.
func (m *MockEngine) Ack(ctx context.Context, job Job) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

// Response is the mock implementation of the Response method.
func (m *MockEngine) Response(ctx context.Context, job Job, result any) error {
	args := m.Called(ctx, job, result)
	return args.Error(0)
}

// Close is the mock implementation of the Close method.
func (m *MockEngine) Close() error {
	args := m.Called()
	return args.Error(0)
}
