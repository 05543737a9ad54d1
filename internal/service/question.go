package service

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"classroom-qa/internal/domain"
	"classroom-qa/internal/dto"
	"classroom-qa/internal/hub"
	"classroom-qa/internal/policy"
	"classroom-qa/internal/repository"
)

const (
	maxQuestionLength = 2000
	defaultPageSize   = 20
	maxPageSize       = 100
)

// QuestionService 实现问题的创建、点赞、解决以及按角色过滤的读取。
// 每个写操作都是：校验 -> 授权 -> 限流 -> 持久化 -> 构建视图 -> 广播，
// 各步骤的先后顺序按操作固定，错误消息因此可以复现。
type QuestionService struct {
	access
	questions   repository.QuestionRepository
	limiter     *RateLimiter
	broadcaster Broadcaster
}

// NewQuestionService 创建 QuestionService 实例。
func NewQuestionService(
	questions repository.QuestionRepository,
	sessions repository.SessionRepository,
	enrollments repository.EnrollmentRepository,
	limiter *RateLimiter,
	broadcaster Broadcaster,
) *QuestionService {
	if questions == nil || sessions == nil || enrollments == nil {
		panic("repositories cannot be nil for QuestionService")
	}
	if limiter == nil {
		panic("RateLimiter cannot be nil for QuestionService")
	}
	if broadcaster == nil {
		panic("Broadcaster cannot be nil for QuestionService")
	}
	return &QuestionService{
		access:      access{sessions: sessions, enrollments: enrollments},
		questions:   questions,
		limiter:     limiter,
		broadcaster: broadcaster,
	}
}

// CreateQuestionInput 是创建问题的输入
type CreateQuestionInput struct {
	SessionID   uint
	Content     string
	Visibility  string
	IsAnonymous bool
	SlideID     *uint
}

// CreateQuestion 校验顺序：形状 -> 内容 -> 可见性 -> 限流 -> 会话状态 -> 选课。
// 返回按创建者角色构建的视图。
func (s *QuestionService) CreateQuestion(ctx context.Context, userID uint, in CreateQuestionInput) (*dto.QuestionView, error) {
	logCtx := logrus.WithFields(logrus.Fields{"user_id": userID, "session_id": in.SessionID, "event": dto.EventQuestionCreate})

	if in.SessionID == 0 {
		return nil, newValidationError("sessionId is required")
	}
	content, err := validateContent(in.Content, "Question", maxQuestionLength)
	if err != nil {
		return nil, err
	}
	visibility, ok := domain.ParseVisibility(in.Visibility)
	if !ok {
		return nil, newValidationError("Invalid visibility")
	}
	if err := s.limiter.Allow(ctx, ActionQuestionCreate, userID); err != nil {
		return nil, err
	}

	session, err := s.loadSession(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	if session.Ended() {
		return nil, ErrSessionEnded
	}
	if !session.IsSubmissionsEnabled {
		return nil, ErrSubmissionsDisabled
	}
	role, err := s.roleIn(ctx, session.CourseID, userID)
	if err != nil {
		return nil, err
	}

	question := &domain.Question{
		SessionID:   session.ID,
		AuthorID:    userID, // 匿名时也保存真实作者
		SlideID:     in.SlideID,
		Content:     content,
		Visibility:  visibility,
		Status:      domain.QuestionOpen,
		IsAnonymous: in.IsAnonymous,
	}
	if err := s.questions.Create(ctx, question); err != nil {
		logCtx.WithError(err).Error("Failed to persist question")
		return nil, ErrInternalServer
	}
	logCtx = logCtx.WithField("question_id", question.ID)

	room, err := hub.RoomForVisibility(question.Visibility, question.SessionID)
	if err != nil {
		logCtx.WithError(err).Error("No broadcast room for question")
	} else {
		publish(ctx, s.broadcaster, room, dto.EventQuestionCreated,
			policy.QuestionView(question, domain.RoleStudent),
			policy.QuestionView(question, domain.RoleProfessor))
	}

	logCtx.WithFields(logrus.Fields{"visibility": visibility, "anonymous": in.IsAnonymous}).Info("Question created")
	view := policy.QuestionView(question, role)
	return &view, nil
}

// ToggleUpvote 校验顺序：形状 -> 限流 -> 查找问题 -> 会话状态 -> 选课 -> 可见性 -> 切换。
// 广播只携带新的计数。
func (s *QuestionService) ToggleUpvote(ctx context.Context, userID, questionID uint) (*dto.QuestionUpdatedPayload, bool, error) {
	logCtx := logrus.WithFields(logrus.Fields{"user_id": userID, "question_id": questionID, "event": dto.EventQuestionUpvote})

	if questionID == 0 {
		return nil, false, newValidationError("questionId is required")
	}
	if err := s.limiter.Allow(ctx, ActionUpvote, userID); err != nil {
		return nil, false, err
	}
	question, err := s.findQuestion(ctx, questionID)
	if err != nil {
		return nil, false, err
	}
	session, err := s.loadSession(ctx, question.SessionID)
	if err != nil {
		return nil, false, err
	}
	if session.Ended() {
		return nil, false, ErrSessionEnded
	}
	if _, err := s.visibleRole(ctx, session, question, userID); err != nil {
		return nil, false, err
	}

	result, err := s.questions.ToggleUpvote(ctx, questionID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrQuestionNotFound) {
			return nil, false, ErrQuestionNotFound
		}
		logCtx.WithError(err).Error("Failed to toggle upvote")
		return nil, false, ErrInternalServer
	}

	payload := dto.QuestionUpdatedPayload{ID: question.ID, UpvoteCount: result.UpvoteCount}
	if room, err := hub.RoomForVisibility(question.Visibility, question.SessionID); err == nil {
		publish(ctx, s.broadcaster, room, dto.EventQuestionUpdated, payload, nil)
	}
	logCtx.WithFields(logrus.Fields{"voted": result.Voted, "upvote_count": result.UpvoteCount}).Info("Upvote toggled")
	return &payload, result.Voted, nil
}

// ResolveQuestion 校验顺序：形状 -> 限流 -> 查找 -> 是否已解决 -> 会话状态 -> 权限 -> 持久化。
// TA/教授可以解决任何问题，学生只能解决自己提出的问题。
func (s *QuestionService) ResolveQuestion(ctx context.Context, userID, questionID uint) (*dto.QuestionResolvedPayload, error) {
	logCtx := logrus.WithFields(logrus.Fields{"user_id": userID, "question_id": questionID, "event": dto.EventQuestionResolve})

	if questionID == 0 {
		return nil, newValidationError("questionId is required")
	}
	if err := s.limiter.Allow(ctx, ActionResolve, userID); err != nil {
		return nil, err
	}
	question, err := s.findQuestion(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if question.Status == domain.QuestionResolved {
		return nil, ErrAlreadyResolved
	}
	session, err := s.loadSession(ctx, question.SessionID)
	if err != nil {
		return nil, err
	}
	if session.Ended() {
		return nil, ErrSessionEnded
	}

	role, err := s.roleIn(ctx, session.CourseID, userID)
	if err != nil {
		return nil, err
	}
	if !role.IsInstructor() && question.AuthorID != userID {
		return nil, ErrNotOwner
	}

	if err := s.questions.MarkResolved(ctx, questionID); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// 并发的另一次解决先提交了
			return nil, ErrAlreadyResolved
		}
		logCtx.WithError(err).Error("Failed to mark question resolved")
		return nil, ErrInternalServer
	}

	payload := dto.QuestionResolvedPayload{ID: question.ID, Status: domain.QuestionResolved}
	if room, err := hub.RoomForVisibility(question.Visibility, question.SessionID); err == nil {
		publish(ctx, s.broadcaster, room, dto.EventQuestionResolved, payload, nil)
	}
	logCtx.WithField("role", role).Info("Question resolved")
	return &payload, nil
}

// QuestionPage 是一页问题
type QuestionPage struct {
	Items      []dto.QuestionView `json:"items"`
	NextCursor *uint              `json:"nextCursor"`
}

// ListQuestions 按 id 倒序返回会话中对该用户可见的问题，已按角色脱敏。
// cursor 是上一页最后一个 id。
func (s *QuestionService) ListQuestions(ctx context.Context, userID, sessionID, cursor uint, limit int) (*QuestionPage, error) {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	role, err := s.roleIn(ctx, session.CourseID, userID)
	if err != nil {
		return nil, err
	}
	limit = clampLimit(limit)

	questions, err := s.questions.ListBySession(ctx, sessionID, policy.AllowedVisibilities(role), cursor, limit)
	if err != nil {
		logrus.WithFields(logrus.Fields{"user_id": userID, "session_id": sessionID}).WithError(err).Error("Failed to list questions")
		return nil, ErrInternalServer
	}

	page := &QuestionPage{Items: make([]dto.QuestionView, 0, len(questions))}
	for i := range questions {
		page.Items = append(page.Items, policy.QuestionView(&questions[i], role))
	}
	if len(questions) == limit {
		last := questions[len(questions)-1].ID
		page.NextCursor = &last
	}
	return page, nil
}

// GetQuestionForAudit 返回存储中的原始行（包括匿名问题的真实作者），只供内部使用。
func (s *QuestionService) GetQuestionForAudit(ctx context.Context, questionID uint) (*domain.Question, error) {
	return s.findQuestion(ctx, questionID)
}

func (s *QuestionService) findQuestion(ctx context.Context, questionID uint) (*domain.Question, error) {
	question, err := s.questions.FindByID(ctx, questionID)
	if err != nil {
		if errors.Is(err, repository.ErrQuestionNotFound) {
			return nil, ErrQuestionNotFound
		}
		logrus.WithField("question_id", questionID).WithError(err).Error("Failed to load question")
		return nil, ErrInternalServer
	}
	return question, nil
}

// validateContent 去掉首尾空白后检查非空和长度上限
func validateContent(raw, label string, max int) (string, error) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return "", newValidationError("%s content is required", label)
	}
	if utf8.RuneCountInString(content) > max {
		return "", newValidationError("%s content must be at most %d characters", label, max)
	}
	return content, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}
