package domain

import "time"

// QuestionStatus 是问题的状态；RESOLVED 是终态。
type QuestionStatus string

const (
	QuestionOpen     QuestionStatus = "OPEN"
	QuestionAnswered QuestionStatus = "ANSWERED"
	QuestionResolved QuestionStatus = "RESOLVED"
)

// Question 是学生在会话中提出的问题。
// AuthorID 总是保存真实作者，匿名只影响展示视图。
type Question struct {
	ID          uint           `gorm:"primaryKey"`
	SessionID   uint           `gorm:"index;not null"`
	AuthorID    uint           `gorm:"index;not null"`
	SlideID     *uint          `gorm:"index"`
	Content     string         `gorm:"type:text;not null"`
	Visibility  Visibility     `gorm:"size:32;not null;default:PUBLIC"`
	Status      QuestionStatus `gorm:"size:16;not null;default:OPEN"`
	UpvoteCount int            `gorm:"not null;default:0"`
	IsAnonymous bool           `gorm:"not null;default:false"`
	CreatedAt   time.Time      `gorm:"autoCreateTime;index"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime"`
}

// QuestionUpvote 的 (QuestionID, UserID) 唯一，这使得点赞是开关而不是累加。
type QuestionUpvote struct {
	ID         uint      `gorm:"primaryKey"`
	QuestionID uint      `gorm:"uniqueIndex:idx_upvote_question_user;not null"`
	UserID     uint      `gorm:"uniqueIndex:idx_upvote_question_user;not null"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

// Answer 是对问题的回答。
type Answer struct {
	ID          uint      `gorm:"primaryKey"`
	QuestionID  uint      `gorm:"index;not null"`
	AuthorID    uint      `gorm:"index;not null"`
	Content     string    `gorm:"type:text;not null"`
	IsAccepted  bool      `gorm:"not null;default:false"`
	IsAnonymous bool      `gorm:"not null;default:false"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}
