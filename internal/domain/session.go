package domain

import "time"

// SessionStatus 是课堂会话的生命周期状态。
type SessionStatus string

const (
	SessionScheduled SessionStatus = "SCHEDULED"
	SessionActive    SessionStatus = "ACTIVE"
	SessionEnded     SessionStatus = "ENDED"
)

var sessionStatusOrder = map[SessionStatus]int{
	SessionScheduled: 0,
	SessionActive:    1,
	SessionEnded:     2,
}

// Valid 判断状态取值是否合法。
func (s SessionStatus) Valid() bool {
	_, ok := sessionStatusOrder[s]
	return ok
}

// CanTransitionTo 只允许向前迁移：SCHEDULED -> ACTIVE -> ENDED。
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	from, ok1 := sessionStatusOrder[s]
	to, ok2 := sessionStatusOrder[next]
	return ok1 && ok2 && to >= from && s != SessionEnded
}

// Session 表示一次课堂问答会话。
type Session struct {
	ID                   uint          `gorm:"primaryKey"`
	CourseID             uint          `gorm:"index;not null"`
	Title                string        `gorm:"size:191;not null"`
	Status               SessionStatus `gorm:"size:16;not null;default:SCHEDULED"`
	IsSubmissionsEnabled bool          `gorm:"not null"` // 新会话由 SessionService 置为 true
	CurrentSlideID       *uint
	CurrentPage          int
	CreatedBy            uint      `gorm:"not null"`
	CreatedAt            time.Time `gorm:"autoCreateTime"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime"`
}

// Ended 会话结束后不接受任何变更。
func (s *Session) Ended() bool {
	return s.Status == SessionEnded
}
