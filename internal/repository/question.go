package repository

import (
	"context"

	"classroom-qa/internal/domain"
)

// UpvoteResult 是一次点赞开关之后的状态。
type UpvoteResult struct {
	Voted       bool // true 表示当前用户现在处于已点赞状态
	UpvoteCount int
}

// QuestionRepository 定义了问题及其点赞的存储操作。
type QuestionRepository interface {
	Create(ctx context.Context, question *domain.Question) error
	FindByID(ctx context.Context, id uint) (*domain.Question, error)

	// ListBySession 按 id 倒序分页；beforeID 为 0 表示从最新开始。
	ListBySession(ctx context.Context, sessionID uint, visibilities []domain.Visibility, beforeID uint, limit int) ([]domain.Question, error)

	// ToggleUpvote 在单个事务中增删点赞行并同步维护 upvote_count。
	ToggleUpvote(ctx context.Context, questionID, userID uint) (*UpvoteResult, error)

	// MarkResolved 把问题置为 RESOLVED；已经是 RESOLVED 时返回 ErrConflict。
	MarkResolved(ctx context.Context, questionID uint) error

	// CountUpvotes 统计实际的点赞行数。
	CountUpvotes(ctx context.Context, questionID uint) (int64, error)
}

// AnswerRepository 定义了回答的存储操作。
type AnswerRepository interface {
	// Create 保存回答，并在同一事务中把 OPEN 的问题标记为 ANSWERED。
	Create(ctx context.Context, answer *domain.Answer) error

	// ListByQuestion 按 id 正序分页；afterID 为 0 表示从最早开始。
	ListByQuestion(ctx context.Context, questionID uint, afterID uint, limit int) ([]domain.Answer, error)
}
