package repository

import "errors"

// 通用的存储库错误
var (
	// ErrNotFound 表示请求的记录未找到
	ErrNotFound = errors.New("repository: record not found")
	// ErrDuplicateEntry 表示尝试插入或更新的数据违反了唯一约束
	ErrDuplicateEntry = errors.New("repository: duplicate entry")
	// ErrConflict 表示条件更新没有命中任何行（例如状态已被其他请求修改）
	ErrConflict = errors.New("repository: conditional update conflict")
)

// 特定资源的错误
var (
	ErrUserNotFound       = ErrNotFound
	ErrCourseNotFound     = ErrNotFound
	ErrEnrollmentNotFound = ErrNotFound
	ErrSessionNotFound    = ErrNotFound
	ErrQuestionNotFound   = ErrNotFound
	ErrSlideNotFound      = ErrNotFound
)
