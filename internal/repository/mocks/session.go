package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"classroom-qa/internal/domain"
)

// SessionRepository is a mock type for the repository.SessionRepository type
type SessionRepository struct {
	mock.Mock
}

func (m *SessionRepository) FindByID(ctx context.Context, id uint) (*domain.Session, error) {
	args := m.Called(ctx, id)
	var session *domain.Session
	if v := args.Get(0); v != nil {
		session = v.(*domain.Session)
	}
	return session, args.Error(1)
}

func (m *SessionRepository) Create(ctx context.Context, session *domain.Session) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *SessionRepository) Update(ctx context.Context, session *domain.Session) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *SessionRepository) SetCurrentSlide(ctx context.Context, sessionID, slideID uint, page int) error {
	args := m.Called(ctx, sessionID, slideID, page)
	return args.Error(0)
}
