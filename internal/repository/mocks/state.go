package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// StateRepository is a mock type for the repository.StateRepository type
type StateRepository struct {
	mock.Mock
}

func (m *StateRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}
