package bootstrap

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	httpHandler "classroom-qa/internal/handler/http"
	wsHandler "classroom-qa/internal/handler/websocket"
	"classroom-qa/internal/middleware"
	"classroom-qa/internal/repository"
)

type routeHandlers struct {
	auth     *httpHandler.AuthHandler
	course   *httpHandler.CourseHandler
	session  *httpHandler.SessionHandler
	question *httpHandler.QuestionHandler
	ws       *wsHandler.WebSocketHandler
	tokens   middleware.TokenParser
	state    repository.StateRepository
}

// newRouter 组装中间件和全部路由
func newRouter(cfg *Config, log *logrus.Logger, h routeHandlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(log))
	router.Use(middleware.Metrics())
	router.Use(CORSMiddleware(cfg.CORSAllowedOrigin))
	router.Use(middleware.RateLimit(h.state, cfg.RateLimitMax, cfg.RateLimitWindow))

	api := router.Group("/api")
	authRoutes := api.Group("/auth")
	{
		authRoutes.POST("/register", h.auth.Register)
		authRoutes.POST("/login", h.auth.Login)
	}

	protected := api.Group("", middleware.Auth(h.tokens))
	courseRoutes := protected.Group("/courses")
	{
		courseRoutes.POST("", h.course.CreateCourse)
		courseRoutes.GET("/lookup", h.course.LookupCourse)
		courseRoutes.POST("/join", h.course.JoinCourse)
		courseRoutes.POST("/:courseId/join-code", h.course.RegenerateJoinCode)
		courseRoutes.PUT("/:courseId/members/:userId", h.course.SetMemberRole)
		courseRoutes.POST("/:courseId/sessions", h.session.CreateSession)
	}
	sessionRoutes := protected.Group("/sessions")
	{
		sessionRoutes.PATCH("/:sessionId", h.session.UpdateSession)
		sessionRoutes.PUT("/:sessionId/slide", h.session.ChangeSlide)
		sessionRoutes.POST("/:sessionId/slides", h.session.UploadSlide)
		sessionRoutes.GET("/:sessionId/questions", h.question.ListQuestions)
		sessionRoutes.POST("/:sessionId/questions", h.question.CreateQuestion)
	}
	questionRoutes := protected.Group("/questions")
	{
		questionRoutes.POST("/:questionId/upvote", h.question.UpvoteQuestion)
		questionRoutes.POST("/:questionId/resolve", h.question.ResolveQuestion)
		questionRoutes.GET("/:questionId/answers", h.question.ListAnswers)
		questionRoutes.POST("/:questionId/answers", h.question.CreateAnswer)
	}

	// 握手自己校验 token，浏览器无法给 WebSocket 设置 Authorization 头
	router.GET("/ws", h.ws.HandleConnection)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
	return router
}

// CORSMiddleware 只允许配置的前端来源
func CORSMiddleware(allowedOrigin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// LoggerMiddleware 创建一个 Gin 中间件用于记录请求日志
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()

		// 查询参数里可能带着 WebSocket token，不记录
		entry := log.WithFields(logrus.Fields{
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
		})

		if errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String(); errorMessage != "" {
			entry.Error(errorMessage)
			return
		}
		switch {
		case statusCode >= 500:
			entry.Error("Server error")
		case statusCode >= 400:
			entry.Warn("Client error")
		default:
			entry.Info("Request handled")
		}
	}
}
