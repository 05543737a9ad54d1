package repository

import (
	"context"

	"classroom-qa/internal/domain"
)

// SessionRepository 定义了课堂会话的存储操作。
type SessionRepository interface {
	FindByID(ctx context.Context, id uint) (*domain.Session, error)
	Create(ctx context.Context, session *domain.Session) error

	// Update 只写入 status / is_submissions_enabled 两列。
	Update(ctx context.Context, session *domain.Session) error

	// SetCurrentSlide 记录当前展示的讲义和页码。
	SetCurrentSlide(ctx context.Context, sessionID, slideID uint, page int) error
}
