package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"classroom-qa/internal/domain"
	"classroom-qa/internal/repository"
)

// GormSlideRepository 是 SlideRepository 的 GORM 实现
type GormSlideRepository struct {
	db *gorm.DB
}

// NewGormSlideRepository 创建 GormSlideRepository 实例
func NewGormSlideRepository(db *gorm.DB) *GormSlideRepository {
	if db == nil {
		panic("database connection cannot be nil for GormSlideRepository")
	}
	return &GormSlideRepository{db: db}
}

func (r *GormSlideRepository) Create(ctx context.Context, slide *domain.Slide) error {
	if err := r.db.WithContext(ctx).Create(slide).Error; err != nil {
		return fmt.Errorf("gorm: create slide '%s' for session %d: %w", slide.FileName, slide.SessionID, err)
	}
	return nil
}

func (r *GormSlideRepository) FindByID(ctx context.Context, id uint) (*domain.Slide, error) {
	var slide domain.Slide
	err := r.db.WithContext(ctx).First(&slide, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrSlideNotFound
		}
		return nil, fmt.Errorf("gorm: find slide by id %d: %w", id, err)
	}
	return &slide, nil
}

func (r *GormSlideRepository) IsStorageKeyReferenced(ctx context.Context, key string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Slide{}).Where("storage_key = ?", key).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("gorm: count slides by storage key '%s': %w", key, err)
	}
	return count > 0, nil
}
