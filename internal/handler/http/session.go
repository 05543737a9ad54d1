package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"classroom-qa/internal/domain"
	"classroom-qa/internal/service"
)

// SessionHandler 封装了课堂会话和讲义的 HTTP 处理逻辑
type SessionHandler struct {
	sessionService *service.SessionService
	slideService   *service.SlideService
}

// NewSessionHandler 创建 SessionHandler 实例
func NewSessionHandler(sessionService *service.SessionService, slideService *service.SlideService) *SessionHandler {
	if sessionService == nil || slideService == nil {
		panic("services cannot be nil for SessionHandler")
	}
	return &SessionHandler{sessionService: sessionService, slideService: slideService}
}

type SessionResponse struct {
	ID                   uint                 `json:"id"`
	CourseID             uint                 `json:"courseId"`
	Title                string               `json:"title"`
	Status               domain.SessionStatus `json:"status"`
	IsSubmissionsEnabled bool                 `json:"isSubmissionsEnabled"`
	CurrentSlideID       *uint                `json:"currentSlideId,omitempty"`
	CurrentPage          int                  `json:"currentPage,omitempty"`
	CreatedAt            time.Time            `json:"createdAt"`
}

func newSessionResponse(s *domain.Session) SessionResponse {
	return SessionResponse{
		ID:                   s.ID,
		CourseID:             s.CourseID,
		Title:                s.Title,
		Status:               s.Status,
		IsSubmissionsEnabled: s.IsSubmissionsEnabled,
		CurrentSlideID:       s.CurrentSlideID,
		CurrentPage:          s.CurrentPage,
		CreatedAt:            s.CreatedAt,
	}
}

type CreateSessionRequest struct {
	Title string `json:"title" binding:"required"`
}

// CreateSession 在课程中创建会话
func (h *SessionHandler) CreateSession(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	courseID, ok := uintParam(c, "courseId")
	if !ok {
		return
	}
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: title is required")
		return
	}

	session, err := h.sessionService.CreateSession(c.Request.Context(), userID, courseID, req.Title)
	if err != nil {
		HandleServiceError(c, err, "Failed to create session")
		return
	}
	SuccessResponse(c, http.StatusCreated, newSessionResponse(session))
}

type UpdateSessionRequest struct {
	Status               *domain.SessionStatus `json:"status"`
	IsSubmissionsEnabled *bool                 `json:"isSubmissionsEnabled"`
}

// UpdateSession 修改会话状态或提交开关
func (h *SessionHandler) UpdateSession(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	sessionID, ok := uintParam(c, "sessionId")
	if !ok {
		return
	}
	var req UpdateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil || (req.Status == nil && req.IsSubmissionsEnabled == nil) {
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: status or isSubmissionsEnabled is required")
		return
	}

	session, err := h.sessionService.UpdateSession(c.Request.Context(), userID, sessionID, service.UpdateSessionInput{
		Status:               req.Status,
		IsSubmissionsEnabled: req.IsSubmissionsEnabled,
	})
	if err != nil {
		HandleServiceError(c, err, "Failed to update session")
		return
	}
	SuccessResponse(c, http.StatusOK, newSessionResponse(session))
}

type ChangeSlideRequest struct {
	SlideID uint `json:"slideId" binding:"required"`
	Page    int  `json:"page" binding:"required"`
}

// ChangeSlide 切换当前讲义页并广播 slide:changed
func (h *SessionHandler) ChangeSlide(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	sessionID, ok := uintParam(c, "sessionId")
	if !ok {
		return
	}
	var req ChangeSlideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: slideId and page are required")
		return
	}

	if err := h.sessionService.ChangeSlide(c.Request.Context(), userID, sessionID, req.SlideID, req.Page); err != nil {
		HandleServiceError(c, err, "Failed to change slide")
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"sessionId": sessionID, "slideId": req.SlideID, "page": req.Page})
}

// UploadSlide 接收 multipart 表单中的 file 字段
func (h *SessionHandler) UploadSlide(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	sessionID, ok := uintParam(c, "sessionId")
	if !ok {
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: file is required")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Failed to read uploaded file")
		return
	}
	defer file.Close()

	slide, err := h.slideService.UploadSlide(c.Request.Context(), userID, sessionID, fileHeader.Filename, file)
	if err != nil {
		HandleServiceError(c, err, "Failed to upload slide")
		return
	}
	SuccessResponse(c, http.StatusCreated, gin.H{
		"id":         slide.ID,
		"sessionId":  slide.SessionID,
		"fileName":   slide.FileName,
		"storageKey": slide.StorageKey,
		"sizeBytes":  slide.SizeBytes,
	})
}
