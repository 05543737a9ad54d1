package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"classroom-qa/internal/domain"
	"classroom-qa/internal/repository"
)

// QuestionRepository is a mock type for the repository.QuestionRepository type
type QuestionRepository struct {
	mock.Mock
}

func (m *QuestionRepository) Create(ctx context.Context, question *domain.Question) error {
	args := m.Called(ctx, question)
	return args.Error(0)
}

func (m *QuestionRepository) FindByID(ctx context.Context, id uint) (*domain.Question, error) {
	args := m.Called(ctx, id)
	var question *domain.Question
	if v := args.Get(0); v != nil {
		question = v.(*domain.Question)
	}
	return question, args.Error(1)
}

func (m *QuestionRepository) ListBySession(ctx context.Context, sessionID uint, visibilities []domain.Visibility, beforeID uint, limit int) ([]domain.Question, error) {
	args := m.Called(ctx, sessionID, visibilities, beforeID, limit)
	var questions []domain.Question
	if v := args.Get(0); v != nil {
		questions = v.([]domain.Question)
	}
	return questions, args.Error(1)
}

func (m *QuestionRepository) ToggleUpvote(ctx context.Context, questionID, userID uint) (*repository.UpvoteResult, error) {
	args := m.Called(ctx, questionID, userID)
	var result *repository.UpvoteResult
	if v := args.Get(0); v != nil {
		result = v.(*repository.UpvoteResult)
	}
	return result, args.Error(1)
}

func (m *QuestionRepository) MarkResolved(ctx context.Context, questionID uint) error {
	args := m.Called(ctx, questionID)
	return args.Error(0)
}

func (m *QuestionRepository) CountUpvotes(ctx context.Context, questionID uint) (int64, error) {
	args := m.Called(ctx, questionID)
	return args.Get(0).(int64), args.Error(1)
}

// AnswerRepository is a mock type for the repository.AnswerRepository type
type AnswerRepository struct {
	mock.Mock
}

func (m *AnswerRepository) Create(ctx context.Context, answer *domain.Answer) error {
	args := m.Called(ctx, answer)
	return args.Error(0)
}

func (m *AnswerRepository) ListByQuestion(ctx context.Context, questionID uint, afterID uint, limit int) ([]domain.Answer, error) {
	args := m.Called(ctx, questionID, afterID, limit)
	var answers []domain.Answer
	if v := args.Get(0); v != nil {
		answers = v.([]domain.Answer)
	}
	return answers, args.Error(1)
}
