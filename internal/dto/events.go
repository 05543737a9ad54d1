package dto

import (
	"encoding/json"
	"time"

	"classroom-qa/internal/domain"
)

// 实时事件名称。客户端和服务端使用同一个信封格式 {"event": ..., "data": ...}。
const (
	EventSessionJoin     = "session:join"
	EventSessionLeave    = "session:leave"
	EventQuestionCreate  = "question:create"
	EventQuestionUpvote  = "question:upvote"
	EventQuestionResolve = "question:resolve"
	EventAnswerCreate    = "answer:create"

	EventSessionJoined    = "session:joined"
	EventSessionLeft      = "session:left"
	EventSessionError     = "session:error"
	EventQuestionCreated  = "question:created"
	EventQuestionUpdated  = "question:updated"
	EventQuestionResolved = "question:resolved"
	EventQuestionError    = "question:error"
	EventAnswerCreated    = "answer:created"
	EventAnswerError      = "answer:error"
	EventSlideChanged     = "slide:changed"

	// EventError 用于无法解析出事件名的帧
	EventError = "error"
)

// Envelope 是 WebSocket 上传输的消息。
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// --- 客户端 -> 服务端 ---

type SessionRefPayload struct {
	SessionID uint `json:"sessionId" validate:"required,gt=0"`
}

// CreateQuestionPayload 的内容和可见性由 service 按固定顺序校验，这里只校验形状。
type CreateQuestionPayload struct {
	Content     string `json:"content"`
	SessionID   uint   `json:"sessionId" validate:"required,gt=0"`
	Visibility  string `json:"visibility"`
	IsAnonymous bool   `json:"isAnonymous"`
	SlideID     *uint  `json:"slideId" validate:"omitempty,gt=0"`
}

type QuestionRefPayload struct {
	QuestionID uint `json:"questionId" validate:"required,gt=0"`
}

type CreateAnswerPayload struct {
	QuestionID  uint   `json:"questionId" validate:"required,gt=0"`
	Content     string `json:"content"`
	IsAnonymous bool   `json:"isAnonymous"`
}

// --- 服务端 -> 客户端 ---

// QuestionView 是问题的展示视图；匿名问题对学生隐藏 AuthorID。
type QuestionView struct {
	ID          uint                  `json:"id"`
	SessionID   uint                  `json:"sessionId"`
	AuthorID    *uint                 `json:"authorId,omitempty"`
	SlideID     *uint                 `json:"slideId,omitempty"`
	Content     string                `json:"content"`
	Visibility  domain.Visibility     `json:"visibility"`
	Status      domain.QuestionStatus `json:"status"`
	UpvoteCount int                   `json:"upvoteCount"`
	IsAnonymous bool                  `json:"isAnonymous"`
	CreatedAt   time.Time             `json:"createdAt"`
}

// AnswerView 是回答的展示视图。
type AnswerView struct {
	ID          uint      `json:"id"`
	QuestionID  uint      `json:"questionId"`
	AuthorID    *uint     `json:"authorId,omitempty"`
	AuthorName  *string   `json:"authorName,omitempty"`
	Content     string    `json:"content"`
	IsAccepted  bool      `json:"isAccepted"`
	IsAnonymous bool      `json:"isAnonymous"`
	CreatedAt   time.Time `json:"createdAt"`
}

type QuestionUpdatedPayload struct {
	ID          uint `json:"id"`
	UpvoteCount int  `json:"upvoteCount"`
}

type QuestionResolvedPayload struct {
	ID     uint                  `json:"id"`
	Status domain.QuestionStatus `json:"status"`
}

type SlideChangedPayload struct {
	SessionID uint `json:"sessionId"`
	SlideID   uint `json:"slideId"`
	Page      int  `json:"page"`
}

type SessionJoinedPayload struct {
	SessionID uint        `json:"sessionId"`
	Role      domain.Role `json:"role"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
