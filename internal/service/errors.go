package service

import (
	"errors"
	"fmt"
)

// ValidationError 表示调用方输入不合法，Message 可以直接返回给调用方。
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func newValidationError(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrUnauthenticated      = errors.New("authentication required")
	ErrRegistrationFailed   = errors.New("registration failed: username already exists")

	ErrNotEnrolled      = errors.New("not enrolled in course")
	ErrInsufficientRole = errors.New("insufficient role")
	ErrNotOwner         = errors.New("not the resource owner")

	ErrCourseNotFound   = errors.New("course not found")
	ErrInvalidJoinCode  = errors.New("invalid join code")
	ErrSessionNotFound  = errors.New("session not found")
	ErrQuestionNotFound = errors.New("question not found")
	ErrSlideNotFound    = errors.New("slide not found")
	ErrUserNotFound     = errors.New("user not found")

	ErrSessionEnded        = errors.New("session has ended")
	ErrSubmissionsDisabled = errors.New("submissions are disabled")
	ErrAlreadyResolved     = errors.New("question already resolved")
	ErrInvalidTransition   = errors.New("invalid session status transition")

	ErrRateLimited = errors.New("rate limit exceeded")

	ErrInternalServer = errors.New("internal server error")
)

// clientMessages 是每个业务错误发给调用方的文本
var clientMessages = []struct {
	err error
	msg string
}{
	{ErrAuthenticationFailed, "Invalid username or password"},
	{ErrUnauthenticated, "Authentication required"},
	{ErrRegistrationFailed, "Username already exists"},
	{ErrNotEnrolled, "You are not enrolled in this course"},
	{ErrInsufficientRole, "Only TAs and professors can perform this action"},
	{ErrNotOwner, "You can only resolve your own questions"},
	{ErrCourseNotFound, "Course not found"},
	{ErrInvalidJoinCode, "Invalid join code"},
	{ErrSessionNotFound, "Session not found"},
	{ErrQuestionNotFound, "Question not found"},
	{ErrSlideNotFound, "Slide not found"},
	{ErrUserNotFound, "User not found"},
	{ErrSessionEnded, "Session has ended"},
	{ErrSubmissionsDisabled, "Submissions are disabled for this session"},
	{ErrAlreadyResolved, "Question is already resolved"},
	{ErrInvalidTransition, "Invalid session status transition"},
	{ErrRateLimited, "Rate limit exceeded. Please wait before trying again"},
}

// ClientMessage 返回可以发送给发起方的消息。
// 业务错误返回对应文本；内部错误和未知错误返回 fallback，不泄露细节。
func ClientMessage(err error, fallback string) string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Message
	}
	for _, m := range clientMessages {
		if errors.Is(err, m.err) {
			return m.msg
		}
	}
	return fallback
}
