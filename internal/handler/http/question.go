package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"classroom-qa/internal/service"
)

// QuestionHandler 是实时事件的 REST 等价入口，供没有 WebSocket 的客户端使用。
// 写操作走同一个 service，因此同样会广播给在线的参与者。
type QuestionHandler struct {
	questionService *service.QuestionService
	answerService   *service.AnswerService
}

// NewQuestionHandler 创建 QuestionHandler 实例
func NewQuestionHandler(questionService *service.QuestionService, answerService *service.AnswerService) *QuestionHandler {
	if questionService == nil || answerService == nil {
		panic("services cannot be nil for QuestionHandler")
	}
	return &QuestionHandler{questionService: questionService, answerService: answerService}
}

type CreateQuestionRequest struct {
	Content     string `json:"content"`
	Visibility  string `json:"visibility"`
	IsAnonymous bool   `json:"isAnonymous"`
	SlideID     *uint  `json:"slideId"`
}

// CreateQuestion 在会话中提问
func (h *QuestionHandler) CreateQuestion(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	sessionID, ok := uintParam(c, "sessionId")
	if !ok {
		return
	}
	var req CreateQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid payload")
		return
	}

	view, err := h.questionService.CreateQuestion(c.Request.Context(), userID, service.CreateQuestionInput{
		SessionID:   sessionID,
		Content:     req.Content,
		Visibility:  req.Visibility,
		IsAnonymous: req.IsAnonymous,
		SlideID:     req.SlideID,
	})
	if err != nil {
		HandleServiceError(c, err, "Failed to create question")
		return
	}
	SuccessResponse(c, http.StatusCreated, view)
}

// ListQuestions 返回会话中对调用者可见的问题，新的在前
func (h *QuestionHandler) ListQuestions(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	sessionID, ok := uintParam(c, "sessionId")
	if !ok {
		return
	}
	cursor, limit, ok := pageQuery(c)
	if !ok {
		return
	}

	page, err := h.questionService.ListQuestions(c.Request.Context(), userID, sessionID, cursor, limit)
	if err != nil {
		HandleServiceError(c, err, "Failed to list questions")
		return
	}
	SuccessResponse(c, http.StatusOK, page)
}

// UpvoteQuestion 切换调用者对问题的点赞
func (h *QuestionHandler) UpvoteQuestion(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	questionID, ok := uintParam(c, "questionId")
	if !ok {
		return
	}

	payload, voted, err := h.questionService.ToggleUpvote(c.Request.Context(), userID, questionID)
	if err != nil {
		HandleServiceError(c, err, "Failed to upvote question")
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"id": payload.ID, "upvoteCount": payload.UpvoteCount, "voted": voted})
}

// ResolveQuestion 把问题标记为已解决
func (h *QuestionHandler) ResolveQuestion(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	questionID, ok := uintParam(c, "questionId")
	if !ok {
		return
	}

	payload, err := h.questionService.ResolveQuestion(c.Request.Context(), userID, questionID)
	if err != nil {
		HandleServiceError(c, err, "Failed to resolve question")
		return
	}
	SuccessResponse(c, http.StatusOK, payload)
}

type CreateAnswerRequest struct {
	Content     string `json:"content"`
	IsAnonymous bool   `json:"isAnonymous"`
}

// CreateAnswer 回答一个问题
func (h *QuestionHandler) CreateAnswer(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	questionID, ok := uintParam(c, "questionId")
	if !ok {
		return
	}
	var req CreateAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid payload")
		return
	}

	view, err := h.answerService.CreateAnswer(c.Request.Context(), userID, service.CreateAnswerInput{
		QuestionID:  questionID,
		Content:     req.Content,
		IsAnonymous: req.IsAnonymous,
	})
	if err != nil {
		HandleServiceError(c, err, "Failed to create answer")
		return
	}
	SuccessResponse(c, http.StatusCreated, view)
}

// ListAnswers 返回问题的回答，旧的在前
func (h *QuestionHandler) ListAnswers(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	questionID, ok := uintParam(c, "questionId")
	if !ok {
		return
	}
	cursor, limit, ok := pageQuery(c)
	if !ok {
		return
	}

	page, err := h.answerService.ListAnswers(c.Request.Context(), userID, questionID, cursor, limit)
	if err != nil {
		HandleServiceError(c, err, "Failed to list answers")
		return
	}
	SuccessResponse(c, http.StatusOK, page)
}
