package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"classroom-qa/internal/domain"
	"classroom-qa/internal/repository"
)

// GormSessionRepository 是 SessionRepository 的 GORM 实现
type GormSessionRepository struct {
	db *gorm.DB
}

// NewGormSessionRepository 创建 GormSessionRepository 实例
func NewGormSessionRepository(db *gorm.DB) *GormSessionRepository {
	if db == nil {
		panic("database connection cannot be nil for GormSessionRepository")
	}
	return &GormSessionRepository{db: db}
}

func (r *GormSessionRepository) FindByID(ctx context.Context, id uint) (*domain.Session, error) {
	var session domain.Session
	err := r.db.WithContext(ctx).First(&session, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrSessionNotFound
		}
		return nil, fmt.Errorf("gorm: find session by id %d: %w", id, err)
	}
	return &session, nil
}

func (r *GormSessionRepository) Create(ctx context.Context, session *domain.Session) error {
	// bool 列不能带 default 标签，否则 GORM 会把 false 当作零值替换成默认值
	err := r.db.WithContext(ctx).Create(session).Error
	if err != nil {
		return fmt.Errorf("gorm: create session '%s' in course %d: %w", session.Title, session.CourseID, err)
	}
	return nil
}

// Update 只更新状态和提交开关
func (r *GormSessionRepository) Update(ctx context.Context, session *domain.Session) error {
	result := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("id = ?", session.ID).
		Updates(map[string]interface{}{
			"status":                 session.Status,
			"is_submissions_enabled": session.IsSubmissionsEnabled,
		})
	if result.Error != nil {
		return fmt.Errorf("gorm: update session %d: %w", session.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return repository.ErrSessionNotFound
	}
	return nil
}

func (r *GormSessionRepository) SetCurrentSlide(ctx context.Context, sessionID, slideID uint, page int) error {
	result := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("id = ?", sessionID).
		Updates(map[string]interface{}{
			"current_slide_id": slideID,
			"current_page":     page,
		})
	if result.Error != nil {
		return fmt.Errorf("gorm: set current slide for session %d: %w", sessionID, result.Error)
	}
	if result.RowsAffected == 0 {
		return repository.ErrSessionNotFound
	}
	return nil
}
