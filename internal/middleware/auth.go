package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// UserIDKey 是认证后用户 ID 在 gin.Context 中的键
const UserIDKey = "user_id"

// TokenParser 校验 token 并返回其中的用户 ID，由 service.AuthService 实现
type TokenParser interface {
	ParseToken(tokenStr string) (uint, error)
}

var (
	// ErrMissingToken 表示请求既没有 Authorization 头也没有 token 查询参数
	ErrMissingToken = errors.New("missing bearer token")
	// ErrMalformedAuthHeader 表示 Authorization 头不是 "Bearer <token>" 格式
	ErrMalformedAuthHeader = errors.New("malformed Authorization header")
)

// Auth 返回一个 Gin 中间件，用于验证 JWT token。
func Auth(parser TokenParser) gin.HandlerFunc {
	if parser == nil {
		panic("TokenParser cannot be nil for Auth middleware")
	}

	return func(c *gin.Context) {
		tokenStr, err := ExtractToken(c, false)
		if err != nil {
			logrus.WithError(err).Warn("Auth middleware: Missing or malformed token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is required"})
			return
		}

		userID, err := parser.ParseToken(tokenStr)
		if err != nil {
			logrus.WithError(err).Warn("Auth middleware: Invalid token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set(UserIDKey, userID)
		logrus.WithField("user_id", userID).Debug("Auth middleware: User authenticated via JWT")
		c.Next()
	}
}

// ExtractToken 从 Authorization 头提取 Bearer Token；allowQuery 为 true 时
// 也接受 token 查询参数（浏览器的 WebSocket 握手无法设置请求头）。
func ExtractToken(c *gin.Context, allowQuery bool) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if allowQuery {
			if token := strings.TrimSpace(c.Query("token")); token != "" {
				return token, nil
			}
		}
		return "", ErrMissingToken
	}
	parts := strings.Fields(authHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ErrMalformedAuthHeader
	}
	return parts[1], nil
}

// UserID 返回 Auth 中间件写入的用户 ID
func UserID(c *gin.Context) (uint, bool) {
	v, exists := c.Get(UserIDKey)
	if !exists {
		return 0, false
	}
	userID, ok := v.(uint)
	return userID, ok && userID != 0
}
