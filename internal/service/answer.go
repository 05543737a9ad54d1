package service

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"classroom-qa/internal/domain"
	"classroom-qa/internal/dto"
	"classroom-qa/internal/hub"
	"classroom-qa/internal/policy"
	"classroom-qa/internal/repository"
)

const maxAnswerLength = 5000

// AnswerService 实现回答的创建和读取。
type AnswerService struct {
	access
	questions   repository.QuestionRepository
	answers     repository.AnswerRepository
	users       repository.UserRepository
	limiter     *RateLimiter
	broadcaster Broadcaster
}

// NewAnswerService 创建 AnswerService 实例。
func NewAnswerService(
	answers repository.AnswerRepository,
	questions repository.QuestionRepository,
	sessions repository.SessionRepository,
	enrollments repository.EnrollmentRepository,
	users repository.UserRepository,
	limiter *RateLimiter,
	broadcaster Broadcaster,
) *AnswerService {
	if answers == nil || questions == nil || sessions == nil || enrollments == nil || users == nil {
		panic("repositories cannot be nil for AnswerService")
	}
	if limiter == nil {
		panic("RateLimiter cannot be nil for AnswerService")
	}
	if broadcaster == nil {
		panic("Broadcaster cannot be nil for AnswerService")
	}
	return &AnswerService{
		access:      access{sessions: sessions, enrollments: enrollments},
		questions:   questions,
		answers:     answers,
		users:       users,
		limiter:     limiter,
		broadcaster: broadcaster,
	}
}

// CreateAnswerInput 是创建回答的输入
type CreateAnswerInput struct {
	QuestionID  uint
	Content     string
	IsAnonymous bool
}

// CreateAnswer 校验顺序：形状 -> 查找问题 -> 内容 -> 限流 -> 会话状态 -> 选课 -> 可见性。
// 实时和 HTTP 入口使用同一顺序：先确认目标存在再消耗配额，
// 对不存在的问题反复请求不会耗尽正常用户的配额。
func (s *AnswerService) CreateAnswer(ctx context.Context, userID uint, in CreateAnswerInput) (*dto.AnswerView, error) {
	logCtx := logrus.WithFields(logrus.Fields{"user_id": userID, "question_id": in.QuestionID, "event": dto.EventAnswerCreate})

	if in.QuestionID == 0 {
		return nil, newValidationError("questionId is required")
	}
	question, err := s.findQuestion(ctx, in.QuestionID)
	if err != nil {
		return nil, err
	}
	content, err := validateContent(in.Content, "Answer", maxAnswerLength)
	if err != nil {
		return nil, err
	}
	if err := s.limiter.Allow(ctx, ActionAnswerCreate, userID); err != nil {
		return nil, err
	}

	session, err := s.loadSession(ctx, question.SessionID)
	if err != nil {
		return nil, err
	}
	if session.Ended() {
		return nil, ErrSessionEnded
	}
	if !session.IsSubmissionsEnabled {
		return nil, ErrSubmissionsDisabled
	}
	role, err := s.visibleRole(ctx, session, question, userID)
	if err != nil {
		return nil, err
	}

	answer := &domain.Answer{
		QuestionID:  question.ID,
		AuthorID:    userID,
		Content:     content,
		IsAnonymous: in.IsAnonymous,
	}
	if err := s.answers.Create(ctx, answer); err != nil {
		logCtx.WithError(err).Error("Failed to persist answer")
		return nil, ErrInternalServer
	}
	logCtx = logCtx.WithField("answer_id", answer.ID)

	authorName := s.authorName(ctx, userID)
	if room, err := hub.RoomForVisibility(question.Visibility, question.SessionID); err != nil {
		logCtx.WithError(err).Error("No broadcast room for answer")
	} else {
		publish(ctx, s.broadcaster, room, dto.EventAnswerCreated,
			policy.AnswerView(answer, authorName, domain.RoleStudent),
			policy.AnswerView(answer, authorName, domain.RoleProfessor))
	}

	logCtx.WithField("anonymous", in.IsAnonymous).Info("Answer created")
	view := policy.AnswerView(answer, authorName, role)
	return &view, nil
}

// AnswerPage 是一页回答
type AnswerPage struct {
	Items      []dto.AnswerView `json:"items"`
	NextCursor *uint            `json:"nextCursor"`
}

// ListAnswers 按 id 正序返回问题的回答；问题必须对调用者可见。
func (s *AnswerService) ListAnswers(ctx context.Context, userID, questionID, cursor uint, limit int) (*AnswerPage, error) {
	question, err := s.findQuestion(ctx, questionID)
	if err != nil {
		return nil, err
	}
	session, err := s.loadSession(ctx, question.SessionID)
	if err != nil {
		return nil, err
	}
	role, err := s.visibleRole(ctx, session, question, userID)
	if err != nil {
		return nil, err
	}
	limit = clampLimit(limit)

	answers, err := s.answers.ListByQuestion(ctx, questionID, cursor, limit)
	if err != nil {
		logrus.WithFields(logrus.Fields{"user_id": userID, "question_id": questionID}).WithError(err).Error("Failed to list answers")
		return nil, ErrInternalServer
	}

	names := make(map[uint]string)
	page := &AnswerPage{Items: make([]dto.AnswerView, 0, len(answers))}
	for i := range answers {
		authorID := answers[i].AuthorID
		name, ok := names[authorID]
		if !ok {
			name = s.authorName(ctx, authorID)
			names[authorID] = name
		}
		page.Items = append(page.Items, policy.AnswerView(&answers[i], name, role))
	}
	if len(answers) == limit {
		last := answers[len(answers)-1].ID
		page.NextCursor = &last
	}
	return page, nil
}

func (s *AnswerService) findQuestion(ctx context.Context, questionID uint) (*domain.Question, error) {
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

// authorName 查不到用户时返回空字符串，视图里不带名字
func (s *AnswerService) authorName(ctx context.Context, userID uint) string {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		logrus.WithField("user_id", userID).WithError(err).Warn("Failed to load answer author")
		return ""
	}
	return user.Name()
}
