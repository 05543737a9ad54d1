package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"classroom-qa/internal/middleware"
	"classroom-qa/internal/service"
)

// statusFor 把 service 层的错误映射为 HTTP 状态码
func statusFor(err error) int {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrAuthenticationFailed), errors.Is(err, service.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrNotEnrolled), errors.Is(err, service.ErrInsufficientRole), errors.Is(err, service.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, service.ErrCourseNotFound), errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, service.ErrQuestionNotFound), errors.Is(err, service.ErrSlideNotFound),
		errors.Is(err, service.ErrUserNotFound), errors.Is(err, service.ErrInvalidJoinCode):
		return http.StatusNotFound
	case errors.Is(err, service.ErrRegistrationFailed), errors.Is(err, service.ErrSessionEnded),
		errors.Is(err, service.ErrSubmissionsDisabled), errors.Is(err, service.ErrAlreadyResolved),
		errors.Is(err, service.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, service.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// HandleServiceError 写回 service 错误；内部错误只返回 fallback
func HandleServiceError(c *gin.Context, err error, fallback string) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		logrus.WithError(err).WithField("path", c.FullPath()).Error("Unhandled internal server error")
	}
	ErrorResponse(c, code, service.ClientMessage(err, fallback))
}

// currentUser 读取 Auth 中间件写入的用户 ID，缺失时写回 401
func currentUser(c *gin.Context) (uint, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		logrus.WithField("path", c.FullPath()).Warn("User ID not found in context, middleware missing or failed?")
		ErrorResponse(c, http.StatusUnauthorized, "User not authenticated")
		return 0, false
	}
	return userID, true
}

// uintParam 解析路径参数中的正整数 ID，失败时写回 400
func uintParam(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || v == 0 {
		ErrorResponse(c, http.StatusBadRequest, "Invalid "+name)
		return 0, false
	}
	return uint(v), true
}

// pageQuery 解析 cursor 和 limit 查询参数；缺省时为 0，由 service 决定默认值
func pageQuery(c *gin.Context) (uint, int, bool) {
	var cursor uint64
	var limit int
	var err error
	if s := c.Query("cursor"); s != "" {
		if cursor, err = strconv.ParseUint(s, 10, 32); err != nil {
			ErrorResponse(c, http.StatusBadRequest, "Invalid cursor")
			return 0, 0, false
		}
	}
	if s := c.Query("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit < 0 {
			ErrorResponse(c, http.StatusBadRequest, "Invalid limit")
			return 0, 0, false
		}
	}
	return uint(cursor), limit, true
}
