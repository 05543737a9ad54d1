package service

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"classroom-qa/internal/domain"
	"classroom-qa/internal/dto"
	"classroom-qa/internal/hub"
	"classroom-qa/internal/repository"
)

// SessionService 负责课堂会话的生命周期、实时加入和讲义切换。
type SessionService struct {
	access
	courses     repository.CourseRepository
	slides      repository.SlideRepository
	limiter     *RateLimiter
	broadcaster Broadcaster
}

// NewSessionService 创建 SessionService 实例。
func NewSessionService(
	sessions repository.SessionRepository,
	enrollments repository.EnrollmentRepository,
	courses repository.CourseRepository,
	slides repository.SlideRepository,
	limiter *RateLimiter,
	broadcaster Broadcaster,
) *SessionService {
	if sessions == nil || enrollments == nil || courses == nil || slides == nil {
		panic("repositories cannot be nil for SessionService")
	}
	if limiter == nil {
		panic("RateLimiter cannot be nil for SessionService")
	}
	if broadcaster == nil {
		panic("Broadcaster cannot be nil for SessionService")
	}
	return &SessionService{
		access:      access{sessions: sessions, enrollments: enrollments},
		courses:     courses,
		slides:      slides,
		limiter:     limiter,
		broadcaster: broadcaster,
	}
}

// CreateSession 在课程中创建会话，仅 TA/PROFESSOR 可用。新会话处于 SCHEDULED 且允许提交。
func (s *SessionService) CreateSession(ctx context.Context, actorID, courseID uint, title string) (*domain.Session, error) {
	logCtx := logrus.WithFields(logrus.Fields{"user_id": actorID, "course_id": courseID})
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, newValidationError("Session title is required")
	}
	if len(title) > 191 {
		return nil, newValidationError("Session title must be at most 191 characters")
	}

	if _, err := s.courses.FindByID(ctx, courseID); err != nil {
		if errors.Is(err, repository.ErrCourseNotFound) {
			return nil, ErrCourseNotFound
		}
		logCtx.WithError(err).Error("Failed to load course")
		return nil, ErrInternalServer
	}
	if _, err := s.requireInstructor(ctx, courseID, actorID); err != nil {
		return nil, err
	}
	if err := s.limiter.Allow(ctx, ActionSessionCreate, actorID); err != nil {
		return nil, err
	}

	session := &domain.Session{
		CourseID:             courseID,
		Title:                title,
		Status:               domain.SessionScheduled,
		IsSubmissionsEnabled: true,
		CreatedBy:            actorID,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		logCtx.WithError(err).Error("Failed to create session")
		return nil, ErrInternalServer
	}
	logCtx.WithField("session_id", session.ID).Info("Session created")
	return session, nil
}

// UpdateSessionInput 中的 nil 字段表示不修改
type UpdateSessionInput struct {
	Status               *domain.SessionStatus
	IsSubmissionsEnabled *bool
}

// UpdateSession 修改会话状态或提交开关，状态只能向前迁移，ENDED 之后不可修改。
func (s *SessionService) UpdateSession(ctx context.Context, actorID, sessionID uint, in UpdateSessionInput) (*domain.Session, error) {
	logCtx := logrus.WithFields(logrus.Fields{"user_id": actorID, "session_id": sessionID})
	if in.Status != nil && !in.Status.Valid() {
		return nil, newValidationError("Invalid session status")
	}

	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireInstructor(ctx, session.CourseID, actorID); err != nil {
		return nil, err
	}
	if session.Ended() {
		return nil, ErrSessionEnded
	}
	if in.Status != nil {
		if !session.Status.CanTransitionTo(*in.Status) {
			return nil, ErrInvalidTransition
		}
		session.Status = *in.Status
	}
	if in.IsSubmissionsEnabled != nil {
		session.IsSubmissionsEnabled = *in.IsSubmissionsEnabled
	}

	if err := s.sessions.Update(ctx, session); err != nil {
		logCtx.WithError(err).Error("Failed to update session")
		return nil, ErrInternalServer
	}
	logCtx.WithFields(logrus.Fields{"status": session.Status, "submissions": session.IsSubmissionsEnabled}).Info("Session updated")
	return session, nil
}

// Join 校验会话存在且调用者已选课，返回其角色。实时连接据此加入房间。
func (s *SessionService) Join(ctx context.Context, userID, sessionID uint) (*domain.Session, domain.Role, error) {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	role, err := s.roleIn(ctx, session.CourseID, userID)
	if err != nil {
		return nil, "", err
	}
	return session, role, nil
}

// ChangeSlide 记录当前讲义和页码，并广播 slide:changed 到通用房间。
func (s *SessionService) ChangeSlide(ctx context.Context, actorID, sessionID, slideID uint, page int) error {
	logCtx := logrus.WithFields(logrus.Fields{"user_id": actorID, "session_id": sessionID, "slide_id": slideID})
	if slideID == 0 {
		return newValidationError("slideId is required")
	}
	if page < 1 {
		return newValidationError("Page must be at least 1")
	}

	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if _, err := s.requireInstructor(ctx, session.CourseID, actorID); err != nil {
		return err
	}
	if session.Ended() {
		return ErrSessionEnded
	}

	slide, err := s.slides.FindByID(ctx, slideID)
	if err != nil {
		if errors.Is(err, repository.ErrSlideNotFound) {
			return ErrSlideNotFound
		}
		logCtx.WithError(err).Error("Failed to load slide")
		return ErrInternalServer
	}
	if slide.SessionID != sessionID {
		return ErrSlideNotFound
	}

	if err := s.sessions.SetCurrentSlide(ctx, sessionID, slideID, page); err != nil {
		logCtx.WithError(err).Error("Failed to persist current slide")
		return ErrInternalServer
	}

	publish(ctx, s.broadcaster, hub.GeneralRoom(sessionID), dto.EventSlideChanged,
		dto.SlideChangedPayload{SessionID: sessionID, SlideID: slideID, Page: page}, nil)
	logCtx.WithField("page", page).Info("Slide changed")
	return nil
}
