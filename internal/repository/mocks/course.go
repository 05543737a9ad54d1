package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"classroom-qa/internal/domain"
)

// CourseRepository is a mock type for the repository.CourseRepository type
type CourseRepository struct {
	mock.Mock
}

func (m *CourseRepository) FindByID(ctx context.Context, id uint) (*domain.Course, error) {
	args := m.Called(ctx, id)
	var course *domain.Course
	if v := args.Get(0); v != nil {
		course = v.(*domain.Course)
	}
	return course, args.Error(1)
}

func (m *CourseRepository) FindByJoinCode(ctx context.Context, code string) (*domain.Course, error) {
	args := m.Called(ctx, code)
	var course *domain.Course
	if v := args.Get(0); v != nil {
		course = v.(*domain.Course)
	}
	return course, args.Error(1)
}

func (m *CourseRepository) IsJoinCodeExists(ctx context.Context, code string) (bool, error) {
	args := m.Called(ctx, code)
	return args.Bool(0), args.Error(1)
}

func (m *CourseRepository) CreateWithOwner(ctx context.Context, course *domain.Course) error {
	args := m.Called(ctx, course)
	return args.Error(0)
}

func (m *CourseRepository) UpdateJoinCode(ctx context.Context, courseID uint, code string) error {
	args := m.Called(ctx, courseID, code)
	return args.Error(0)
}

// EnrollmentRepository is a mock type for the repository.EnrollmentRepository type
type EnrollmentRepository struct {
	mock.Mock
}

func (m *EnrollmentRepository) FindRole(ctx context.Context, courseID, userID uint) (domain.Role, error) {
	args := m.Called(ctx, courseID, userID)
	return args.Get(0).(domain.Role), args.Error(1)
}

func (m *EnrollmentRepository) Enroll(ctx context.Context, courseID, userID uint, role domain.Role) (*domain.Enrollment, error) {
	args := m.Called(ctx, courseID, userID, role)
	var enrollment *domain.Enrollment
	if v := args.Get(0); v != nil {
		enrollment = v.(*domain.Enrollment)
	}
	return enrollment, args.Error(1)
}

func (m *EnrollmentRepository) SetRole(ctx context.Context, courseID, userID uint, role domain.Role) error {
	args := m.Called(ctx, courseID, userID, role)
	return args.Error(0)
}
