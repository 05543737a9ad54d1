package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"classroom-qa/internal/domain"
	"classroom-qa/internal/repository"
)

// GormCourseRepository 实现 CourseRepository 和 EnrollmentRepository
type GormCourseRepository struct {
	db *gorm.DB
}

// NewGormCourseRepository 创建 GormCourseRepository 实例
func NewGormCourseRepository(db *gorm.DB) *GormCourseRepository {
	if db == nil {
		panic("database connection cannot be nil for GormCourseRepository")
	}
	return &GormCourseRepository{db: db}
}

// FindByID 实现根据课程 ID 查找课程
func (r *GormCourseRepository) FindByID(ctx context.Context, id uint) (*domain.Course, error) {
	var course domain.Course
	err := r.db.WithContext(ctx).First(&course, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrCourseNotFound
		}
		return nil, fmt.Errorf("gorm: find course by id %d: %w", id, err)
	}
	return &course, nil
}

// FindByJoinCode 实现根据加入码查找课程
func (r *GormCourseRepository) FindByJoinCode(ctx context.Context, code string) (*domain.Course, error) {
	var course domain.Course
	err := r.db.WithContext(ctx).Where("join_code = ?", code).First(&course).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrCourseNotFound
		}
		return nil, fmt.Errorf("gorm: find course by join code '%s': %w", code, err)
	}
	return &course, nil
}

// IsJoinCodeExists 实现检查加入码是否存在
func (r *GormCourseRepository) IsJoinCodeExists(ctx context.Context, code string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Course{}).Where("join_code = ?", code).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("gorm: count courses by join code '%s': %w", code, err)
	}
	return count > 0, nil
}

// CreateWithOwner 在一个事务里创建课程和创建者的 PROFESSOR 选课记录
func (r *GormCourseRepository) CreateWithOwner(ctx context.Context, course *domain.Course) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(course).Error; err != nil {
			return err
		}
		owner := domain.Enrollment{CourseID: course.ID, UserID: course.CreatedBy, Role: domain.RoleProfessor}
		return tx.Create(&owner).Error
	})
	if err != nil {
		if isDuplicateEntryError(err) {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: create course '%s': %w", course.Name, err)
	}
	return nil
}

// UpdateJoinCode 更新加入码
func (r *GormCourseRepository) UpdateJoinCode(ctx context.Context, courseID uint, code string) error {
	result := r.db.WithContext(ctx).Model(&domain.Course{}).Where("id = ?", courseID).Update("join_code", code)
	if result.Error != nil {
		if isDuplicateEntryError(result.Error) {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: update join code for course %d: %w", courseID, result.Error)
	}
	if result.RowsAffected == 0 {
		return repository.ErrCourseNotFound
	}
	return nil
}

// FindRole 查询用户在课程中的角色
func (r *GormCourseRepository) FindRole(ctx context.Context, courseID, userID uint) (domain.Role, error) {
	var enrollment domain.Enrollment
	err := r.db.WithContext(ctx).
		Where("course_id = ? AND user_id = ?", courseID, userID).
		First(&enrollment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", repository.ErrEnrollmentNotFound
		}
		return "", fmt.Errorf("gorm: find enrollment (course %d, user %d): %w", courseID, userID, err)
	}
	return enrollment.Role, nil
}

// Enroll 登记选课，已存在时原样返回
func (r *GormCourseRepository) Enroll(ctx context.Context, courseID, userID uint, role domain.Role) (*domain.Enrollment, error) {
	enrollment := domain.Enrollment{CourseID: courseID, UserID: userID, Role: role}
	err := r.db.WithContext(ctx).
		Where(domain.Enrollment{CourseID: courseID, UserID: userID}).
		Attrs(domain.Enrollment{Role: role}).
		FirstOrCreate(&enrollment).Error
	if err != nil {
		if isDuplicateEntryError(err) {
			// 并发登记，读回已存在的记录
			existing, findErr := r.FindRole(ctx, courseID, userID)
			if findErr != nil {
				return nil, findErr
			}
			return &domain.Enrollment{CourseID: courseID, UserID: userID, Role: existing}, nil
		}
		return nil, fmt.Errorf("gorm: enroll user %d in course %d: %w", userID, courseID, err)
	}
	return &enrollment, nil
}

// SetRole 创建或覆盖选课角色
func (r *GormCourseRepository) SetRole(ctx context.Context, courseID, userID uint, role domain.Role) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&domain.Enrollment{}).
			Where("course_id = ? AND user_id = ?", courseID, userID).
			Update("role", role)
		if result.Error != nil {
			return fmt.Errorf("gorm: update role (course %d, user %d): %w", courseID, userID, result.Error)
		}
		if result.RowsAffected > 0 {
			return nil
		}
		if err := tx.Create(&domain.Enrollment{CourseID: courseID, UserID: userID, Role: role}).Error; err != nil {
			return fmt.Errorf("gorm: create enrollment (course %d, user %d): %w", courseID, userID, err)
		}
		return nil
	})
}
