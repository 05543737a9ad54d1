package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"classroom-qa/internal/dto"
	"classroom-qa/internal/hub"
	"classroom-qa/internal/metrics"
	"classroom-qa/internal/middleware"
	"classroom-qa/internal/service"
)

// ReadinessChecker 报告跨节点广播是否已经就绪
type ReadinessChecker interface {
	IsReady() bool
}

// WebSocketHandler 负责 WebSocket 握手，并把客户端事件分派给各个 service。
// 它实现了 hub.EventHandler。
type WebSocketHandler struct {
	upgrader  websocket.Upgrader
	hub       *hub.Hub
	readiness ReadinessChecker
	auth      middleware.TokenParser
	sessions  *service.SessionService
	questions *service.QuestionService
	answers   *service.AnswerService
}

// NewWebSocketHandler 创建 WebSocketHandler 实例，并把自己注册为 hub 的事件处理器
func NewWebSocketHandler(
	h *hub.Hub,
	readiness ReadinessChecker,
	auth middleware.TokenParser,
	sessions *service.SessionService,
	questions *service.QuestionService,
	answers *service.AnswerService,
	allowedOrigin string,
) *WebSocketHandler {
	if h == nil {
		panic("Hub cannot be nil for WebSocketHandler")
	}
	if readiness == nil || auth == nil {
		panic("readiness checker and token parser cannot be nil for WebSocketHandler")
	}
	if sessions == nil || questions == nil || answers == nil {
		panic("services cannot be nil for WebSocketHandler")
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if allowedOrigin == "" || allowedOrigin == "*" {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || origin == allowedOrigin
		},
	}

	handler := &WebSocketHandler{
		upgrader:  upgrader,
		hub:       h,
		readiness: readiness,
		auth:      auth,
		sessions:  sessions,
		questions: questions,
		answers:   answers,
	}
	h.SetHandler(handler)
	return handler
}

// HandleConnection 处理 WebSocket 连接请求。
// 身份在升级之前校验，失败时返回 401，不会加入任何房间。
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	logCtx := logrus.WithField("remote_addr", c.ClientIP())

	tokenStr, err := middleware.ExtractToken(c, true)
	if err != nil {
		logCtx.WithError(err).Warn("WS Handler: Missing credential")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}
	userID, err := h.auth.ParseToken(tokenStr)
	if err != nil {
		logCtx.WithError(err).Warn("WS Handler: Invalid credential")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
		return
	}
	logCtx = logCtx.WithField("user_id", userID)

	// 订阅未确认之前，其他节点的广播会丢失
	if !h.readiness.IsReady() {
		logCtx.Warn("WS Handler: Fan-out not ready, refusing connection")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server is starting, please retry"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写回了 HTTP 错误
		logCtx.WithError(err).Error("WS Handler: Failed to upgrade connection")
		return
	}

	client := hub.NewClient(h.hub, conn, userID)
	if !h.hub.Register(client) {
		logCtx.Warn("WS Handler: Hub is shutting down, closing connection")
		_ = conn.Close()
		return
	}
	client.Run()
	logCtx.Info("WS Handler: Client connected")
}

// HandleEvent 实现 hub.EventHandler。
// 所有错误（包括 panic）都只以 <scope>:error 的形式回给发起方，不会广播。
func (h *WebSocketHandler) HandleEvent(ctx context.Context, client *hub.Client, event string, data json.RawMessage) {
	logCtx := logrus.WithFields(logrus.Fields{"user_id": client.UserID(), "event": event})
	errEvent, fallback := errorScope(event)

	defer func() {
		if r := recover(); r != nil {
			metrics.EventsTotal.WithLabelValues(event, "panic").Inc()
			logCtx.WithField("panic", r).Error("Recovered from panic in event handler")
			client.Send(errEvent, dto.ErrorPayload{Message: fallback})
		}
	}()

	err := h.dispatch(ctx, client, event, data)
	if err == nil {
		metrics.EventsTotal.WithLabelValues(event, "ok").Inc()
		return
	}

	outcome := "rejected"
	message := ClientMessage(err, fallback)
	if message == fallback {
		outcome = "error"
		logCtx.WithError(err).Error("Event handling failed")
	} else {
		logCtx.WithError(err).Info("Event rejected")
	}
	metrics.EventsTotal.WithLabelValues(event, outcome).Inc()
	client.Send(errEvent, dto.ErrorPayload{Message: message})
}

var errUnknownEvent = errors.New("unknown event")

func (h *WebSocketHandler) dispatch(ctx context.Context, client *hub.Client, event string, data json.RawMessage) error {
	userID := client.UserID()

	switch event {
	case dto.EventSessionJoin:
		var p dto.SessionRefPayload
		if err := dto.Decode(data, &p); err != nil {
			return err
		}
		session, role, err := h.sessions.Join(ctx, userID, p.SessionID)
		if err != nil {
			return err
		}
		h.hub.Join(client, session.CourseID, session.ID, role)
		client.Send(dto.EventSessionJoined, dto.SessionJoinedPayload{SessionID: session.ID, Role: role})
		return nil

	case dto.EventSessionLeave:
		var p dto.SessionRefPayload
		if err := dto.Decode(data, &p); err != nil {
			return err
		}
		h.hub.Leave(client, p.SessionID)
		client.Send(dto.EventSessionLeft, dto.SessionRefPayload{SessionID: p.SessionID})
		return nil

	case dto.EventQuestionCreate:
		var p dto.CreateQuestionPayload
		if err := dto.Decode(data, &p); err != nil {
			return err
		}
		_, err := h.questions.CreateQuestion(ctx, userID, service.CreateQuestionInput{
			SessionID:   p.SessionID,
			Content:     p.Content,
			Visibility:  p.Visibility,
			IsAnonymous: p.IsAnonymous,
			SlideID:     p.SlideID,
		})
		return err

	case dto.EventQuestionUpvote:
		var p dto.QuestionRefPayload
		if err := dto.Decode(data, &p); err != nil {
			return err
		}
		_, _, err := h.questions.ToggleUpvote(ctx, userID, p.QuestionID)
		return err

	case dto.EventQuestionResolve:
		var p dto.QuestionRefPayload
		if err := dto.Decode(data, &p); err != nil {
			return err
		}
		_, err := h.questions.ResolveQuestion(ctx, userID, p.QuestionID)
		return err

	case dto.EventAnswerCreate:
		var p dto.CreateAnswerPayload
		if err := dto.Decode(data, &p); err != nil {
			return err
		}
		_, err := h.answers.CreateAnswer(ctx, userID, service.CreateAnswerInput{
			QuestionID:  p.QuestionID,
			Content:     p.Content,
			IsAnonymous: p.IsAnonymous,
		})
		return err

	default:
		return errUnknownEvent
	}
}

// errorScope 返回事件对应的错误事件名和通用失败消息
func errorScope(event string) (string, string) {
	switch event {
	case dto.EventSessionJoin:
		return dto.EventSessionError, "Failed to join session"
	case dto.EventSessionLeave:
		return dto.EventSessionError, "Failed to leave session"
	case dto.EventQuestionCreate:
		return dto.EventQuestionError, "Failed to create question"
	case dto.EventQuestionUpvote:
		return dto.EventQuestionError, "Failed to upvote question"
	case dto.EventQuestionResolve:
		return dto.EventQuestionError, "Failed to resolve question"
	case dto.EventAnswerCreate:
		return dto.EventAnswerError, "Failed to create answer"
	default:
		return dto.EventError, "Failed to handle event"
	}
}

// ClientMessage 在 service.ClientMessage 的基础上加入传输层自己的错误
func ClientMessage(err error, fallback string) string {
	switch {
	case errors.Is(err, dto.ErrMalformedPayload):
		return "Invalid payload"
	case errors.Is(err, errUnknownEvent):
		return "Unknown event"
	}
	return service.ClientMessage(err, fallback)
}
