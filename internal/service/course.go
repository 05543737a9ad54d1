package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"classroom-qa/internal/domain"
	"classroom-qa/internal/hub"
	"classroom-qa/internal/repository"
)

const (
	joinCodeLetters = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	joinCodeLength  = 6
)

// CourseService 负责课程、加入码和选课。
type CourseService struct {
	courseRepo  repository.CourseRepository
	enrollments repository.EnrollmentRepository
	limiter     *RateLimiter
	roles       RoleNotifier
}

// NewCourseService 创建 CourseService 实例。
func NewCourseService(courseRepo repository.CourseRepository, enrollments repository.EnrollmentRepository, limiter *RateLimiter, roles RoleNotifier) *CourseService {
	if courseRepo == nil {
		panic("CourseRepository cannot be nil for CourseService")
	}
	if enrollments == nil {
		panic("EnrollmentRepository cannot be nil for CourseService")
	}
	if limiter == nil {
		panic("RateLimiter cannot be nil for CourseService")
	}
	if roles == nil {
		panic("RoleNotifier cannot be nil for CourseService")
	}
	return &CourseService{courseRepo: courseRepo, enrollments: enrollments, limiter: limiter, roles: roles}
}

// CreateCourse 创建课程，创建者自动成为 PROFESSOR。
func (s *CourseService) CreateCourse(ctx context.Context, creatorID uint, name string) (*domain.Course, error) {
	logCtx := logrus.WithField("creator_id", creatorID)
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, newValidationError("Course name is required")
	}
	if len(name) > 191 {
		return nil, newValidationError("Course name must be at most 191 characters")
	}

	code, err := s.generateUniqueJoinCode(ctx)
	if err != nil {
		logCtx.WithError(err).Error("Failed to generate unique join code")
		return nil, ErrInternalServer
	}

	course := &domain.Course{Name: name, JoinCode: code, CreatedBy: creatorID}
	if err := s.courseRepo.CreateWithOwner(ctx, course); err != nil {
		logCtx.WithError(err).Error("Failed to save new course to database")
		return nil, ErrInternalServer
	}

	logCtx.WithFields(logrus.Fields{"course_id": course.ID, "join_code": code}).Info("Course created successfully")
	return course, nil
}

// LookupByCode 根据加入码查找课程，不登记选课。
func (s *CourseService) LookupByCode(ctx context.Context, userID uint, code string) (*domain.Course, error) {
	if err := s.limiter.Allow(ctx, ActionJoinLookup, userID); err != nil {
		return nil, err
	}
	return s.findByCode(ctx, code)
}

// JoinByCode 以 STUDENT 身份加入课程；已经选课时保留原角色。
func (s *CourseService) JoinByCode(ctx context.Context, userID uint, code string) (*domain.Course, *domain.Enrollment, error) {
	if err := s.limiter.Allow(ctx, ActionJoinRegister, userID); err != nil {
		return nil, nil, err
	}
	course, err := s.findByCode(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	logCtx := logrus.WithFields(logrus.Fields{"user_id": userID, "course_id": course.ID})

	enrollment, err := s.enrollments.Enroll(ctx, course.ID, userID, domain.RoleStudent)
	if err != nil {
		logCtx.WithError(err).Error("Failed to enroll user")
		return nil, nil, ErrInternalServer
	}
	logCtx.WithField("role", enrollment.Role).Info("User joined course")
	return course, enrollment, nil
}

// RegenerateCode 为课程生成新的加入码，仅 PROFESSOR 可用。
func (s *CourseService) RegenerateCode(ctx context.Context, userID, courseID uint) (*domain.Course, error) {
	logCtx := logrus.WithFields(logrus.Fields{"user_id": userID, "course_id": courseID})
	if err := s.requireProfessor(ctx, courseID, userID); err != nil {
		return nil, err
	}
	if err := s.limiter.Allow(ctx, ActionCodeRegen, userID); err != nil {
		return nil, err
	}

	code, err := s.generateUniqueJoinCode(ctx)
	if err != nil {
		logCtx.WithError(err).Error("Failed to generate unique join code")
		return nil, ErrInternalServer
	}
	if err := s.courseRepo.UpdateJoinCode(ctx, courseID, code); err != nil {
		if errors.Is(err, repository.ErrCourseNotFound) {
			return nil, ErrCourseNotFound
		}
		logCtx.WithError(err).Error("Failed to update join code")
		return nil, ErrInternalServer
	}
	course, err := s.courseRepo.FindByID(ctx, courseID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to reload course")
		return nil, ErrInternalServer
	}
	logCtx.Info("Join code regenerated")
	return course, nil
}

// SetMemberRole 设置成员角色（例如指派 TA），仅 PROFESSOR 可用。
// 提交之后同步到该成员已加入的会话：降级的连接立即离开讲师房间。
func (s *CourseService) SetMemberRole(ctx context.Context, actorID, courseID, memberID uint, role domain.Role) error {
	if !role.Valid() {
		return newValidationError("Invalid role")
	}
	if err := s.requireProfessor(ctx, courseID, actorID); err != nil {
		return err
	}
	if err := s.enrollments.SetRole(ctx, courseID, memberID, role); err != nil {
		logrus.WithFields(logrus.Fields{"course_id": courseID, "member_id": memberID}).WithError(err).Error("Failed to set member role")
		return ErrInternalServer
	}
	logCtx := logrus.WithFields(logrus.Fields{"course_id": courseID, "member_id": memberID, "role": role, "actor_id": actorID})
	logCtx.Info("Member role updated")

	// 其他进程没收到时，连接要到重新加入会话才会换房间
	if err := s.roles.PublishRoleChange(ctx, hub.RoleChange{CourseID: courseID, UserID: memberID, Role: role}); err != nil {
		logCtx.WithError(err).Warn("Role change did not reach every node")
	}
	return nil
}

// RoleOf 返回用户在课程中的角色，未选课时返回 ErrNotEnrolled。
func (s *CourseService) RoleOf(ctx context.Context, courseID, userID uint) (domain.Role, error) {
	return access{enrollments: s.enrollments}.roleIn(ctx, courseID, userID)
}

func (s *CourseService) requireProfessor(ctx context.Context, courseID, userID uint) error {
	role, err := s.RoleOf(ctx, courseID, userID)
	if err != nil {
		return err
	}
	if role != domain.RoleProfessor {
		return ErrInsufficientRole
	}
	return nil
}

func (s *CourseService) findByCode(ctx context.Context, code string) (*domain.Course, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != joinCodeLength {
		return nil, ErrInvalidJoinCode
	}
	course, err := s.courseRepo.FindByJoinCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrCourseNotFound) {
			return nil, ErrInvalidJoinCode
		}
		logrus.WithField("join_code", code).WithError(err).Error("Failed to find course by join code")
		return nil, ErrInternalServer
	}
	return course, nil
}

// generateUniqueJoinCode 生成唯一的加入码
func (s *CourseService) generateUniqueJoinCode(ctx context.Context) (string, error) {
	const maxAttempts = 10

	b := make([]byte, joinCodeLength)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if _, err := rand.Read(b); err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		for i := range b {
			b[i] = joinCodeLetters[int(b[i])%len(joinCodeLetters)]
		}
		code := string(b)

		exists, err := s.courseRepo.IsJoinCodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("database error checking join code: %w", err)
		}
		if !exists {
			return code, nil
		}
		logrus.WithField("join_code", code).Warnf("Generated join code already exists, retrying (attempt %d)...", attempt+1)
	}
	return "", fmt.Errorf("failed to generate a unique join code after %d attempts", maxAttempts)
}
