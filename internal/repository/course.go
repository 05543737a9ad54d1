package repository

import (
	"context"

	"classroom-qa/internal/domain"
)

// CourseRepository 定义了课程和选课关系的存储操作。
type CourseRepository interface {
	FindByID(ctx context.Context, id uint) (*domain.Course, error)
	FindByJoinCode(ctx context.Context, code string) (*domain.Course, error)
	IsJoinCodeExists(ctx context.Context, code string) (bool, error)

	// CreateWithOwner 在同一个事务中创建课程并把创建者登记为 PROFESSOR。
	CreateWithOwner(ctx context.Context, course *domain.Course) error

	// UpdateJoinCode 更新课程的加入码。
	UpdateJoinCode(ctx context.Context, courseID uint, code string) error
}

// EnrollmentRepository 是选课协作者：按课程查询用户角色。
type EnrollmentRepository interface {
	// FindRole 返回用户在课程中的角色；未选课时返回 ErrEnrollmentNotFound。
	FindRole(ctx context.Context, courseID, userID uint) (domain.Role, error)

	// Enroll 登记选课；已存在时返回已有记录且不修改角色。
	Enroll(ctx context.Context, courseID, userID uint, role domain.Role) (*domain.Enrollment, error)

	// SetRole 创建或覆盖用户在课程中的角色。
	SetRole(ctx context.Context, courseID, userID uint, role domain.Role) error
}
