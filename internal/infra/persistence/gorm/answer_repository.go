package gormpersistence

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"classroom-qa/internal/domain"
)

// GormAnswerRepository 是 AnswerRepository 的 GORM 实现
type GormAnswerRepository struct {
	db *gorm.DB
}

// NewGormAnswerRepository 创建 GormAnswerRepository 实例
func NewGormAnswerRepository(db *gorm.DB) *GormAnswerRepository {
	if db == nil {
		panic("database connection cannot be nil for GormAnswerRepository")
	}
	return &GormAnswerRepository{db: db}
}

// Create 保存回答，同时把 OPEN 的问题推进到 ANSWERED
func (r *GormAnswerRepository) Create(ctx context.Context, answer *domain.Answer) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(answer).Error; err != nil {
			return err
		}
		return tx.Model(&domain.Question{}).
			Where("id = ? AND status = ?", answer.QuestionID, domain.QuestionOpen).
			Update("status", domain.QuestionAnswered).Error
	})
	if err != nil {
		return fmt.Errorf("gorm: create answer for question %d: %w", answer.QuestionID, err)
	}
	return nil
}

func (r *GormAnswerRepository) ListByQuestion(ctx context.Context, questionID uint, afterID uint, limit int) ([]domain.Answer, error) {
	var answers []domain.Answer
	query := r.db.WithContext(ctx).Where("question_id = ?", questionID)
	if afterID > 0 {
		query = query.Where("id > ?", afterID)
	}
	if err := query.Order("id ASC").Limit(limit).Find(&answers).Error; err != nil {
		return nil, fmt.Errorf("gorm: list answers for question %d: %w", questionID, err)
	}
	return answers, nil
}
