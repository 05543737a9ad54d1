package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"classroom-qa/internal/domain"
	"classroom-qa/internal/repository"
)

// GormQuestionRepository 是 QuestionRepository 的 GORM 实现
type GormQuestionRepository struct {
	db *gorm.DB
}

// NewGormQuestionRepository 创建 GormQuestionRepository 实例
func NewGormQuestionRepository(db *gorm.DB) *GormQuestionRepository {
	if db == nil {
		panic("database connection cannot be nil for GormQuestionRepository")
	}
	return &GormQuestionRepository{db: db}
}

func (r *GormQuestionRepository) Create(ctx context.Context, question *domain.Question) error {
	if err := r.db.WithContext(ctx).Create(question).Error; err != nil {
		return fmt.Errorf("gorm: create question in session %d: %w", question.SessionID, err)
	}
	return nil
}

func (r *GormQuestionRepository) FindByID(ctx context.Context, id uint) (*domain.Question, error) {
	var question domain.Question
	err := r.db.WithContext(ctx).First(&question, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrQuestionNotFound
		}
		return nil, fmt.Errorf("gorm: find question by id %d: %w", id, err)
	}
	return &question, nil
}

func (r *GormQuestionRepository) ListBySession(ctx context.Context, sessionID uint, visibilities []domain.Visibility, beforeID uint, limit int) ([]domain.Question, error) {
	var questions []domain.Question
	if len(visibilities) == 0 {
		return questions, nil
	}
	query := r.db.WithContext(ctx).
		Where("session_id = ? AND visibility IN ?", sessionID, visibilities)
	if beforeID > 0 {
		query = query.Where("id < ?", beforeID)
	}
	if err := query.Order("id DESC").Limit(limit).Find(&questions).Error; err != nil {
		return nil, fmt.Errorf("gorm: list questions for session %d: %w", sessionID, err)
	}
	return questions, nil
}

// ToggleUpvote 在事务中锁住问题行，再根据点赞行是否存在决定删除或插入，
// 计数列与点赞行在同一事务内一起变化。
func (r *GormQuestionRepository) ToggleUpvote(ctx context.Context, questionID, userID uint) (*repository.UpvoteResult, error) {
	result := &repository.UpvoteResult{}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lockQuery := tx
		// SQLite 不支持 SELECT ... FOR UPDATE，整库写锁已经串行化了事务
		if tx.Dialector.Name() != "sqlite" {
			lockQuery = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var question domain.Question
		if err := lockQuery.Select("id").First(&question, questionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return repository.ErrQuestionNotFound
			}
			return err
		}

		var vote domain.QuestionUpvote
		err := tx.Where("question_id = ? AND user_id = ?", questionID, userID).First(&vote).Error
		switch {
		case err == nil:
			if err := tx.Delete(&vote).Error; err != nil {
				return err
			}
			if err := tx.Model(&domain.Question{}).Where("id = ?", questionID).
				UpdateColumn("upvote_count", gorm.Expr("upvote_count - 1")).Error; err != nil {
				return err
			}
			result.Voted = false
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(&domain.QuestionUpvote{QuestionID: questionID, UserID: userID}).Error; err != nil {
				return err
			}
			if err := tx.Model(&domain.Question{}).Where("id = ?", questionID).
				UpdateColumn("upvote_count", gorm.Expr("upvote_count + 1")).Error; err != nil {
				return err
			}
			result.Voted = true
		default:
			return err
		}

		var updated domain.Question
		if err := tx.Select("id", "upvote_count").First(&updated, questionID).Error; err != nil {
			return err
		}
		result.UpvoteCount = updated.UpvoteCount
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrQuestionNotFound) {
			return nil, err
		}
		if isDuplicateEntryError(err) {
			// 同一用户的并发开关撞上唯一索引，交给调用方当作冲突处理
			return nil, repository.ErrConflict
		}
		return nil, fmt.Errorf("gorm: toggle upvote (question %d, user %d): %w", questionID, userID, err)
	}
	return result, nil
}

// MarkResolved 使用条件更新，保证只有一次解决能成功
func (r *GormQuestionRepository) MarkResolved(ctx context.Context, questionID uint) error {
	result := r.db.WithContext(ctx).Model(&domain.Question{}).
		Where("id = ? AND status <> ?", questionID, domain.QuestionResolved).
		Update("status", domain.QuestionResolved)
	if result.Error != nil {
		return fmt.Errorf("gorm: mark question %d resolved: %w", questionID, result.Error)
	}
	if result.RowsAffected == 0 {
		return repository.ErrConflict
	}
	return nil
}

func (r *GormQuestionRepository) CountUpvotes(ctx context.Context, questionID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.QuestionUpvote{}).
		Where("question_id = ?", questionID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("gorm: count upvotes for question %d: %w", questionID, err)
	}
	return count, nil
}
