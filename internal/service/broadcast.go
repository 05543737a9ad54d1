package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/sirupsen/logrus"

	"classroom-qa/internal/domain"
	"classroom-qa/internal/hub"
	"classroom-qa/internal/policy"
	"classroom-qa/internal/repository"
)

// Broadcaster 把一次房间广播送达所有进程上的成员。hub.Fanout 实现了它。
type Broadcaster interface {
	Publish(ctx context.Context, env hub.Envelope) error
}

// RoleNotifier 把课程角色变化同步到所有进程上已加入会话的连接。hub.Fanout 实现了它。
type RoleNotifier interface {
	PublishRoleChange(ctx context.Context, change hub.RoleChange) error
}

// publish 只在持久化成功之后调用。
// 广播失败不会回滚已经提交的写入，只记录日志。
func publish(ctx context.Context, b Broadcaster, room hub.RoomID, event string, payload, privileged interface{}) {
	logCtx := logrus.WithFields(logrus.Fields{"room": room, "event": event})
	env := hub.Envelope{Room: room, Event: event}

	data, err := json.Marshal(payload)
	if err != nil {
		logCtx.WithError(err).Error("Failed to marshal broadcast payload")
		return
	}
	env.Payload = data
	if privileged != nil {
		if env.PrivilegedPayload, err = json.Marshal(privileged); err != nil {
			logCtx.WithError(err).Error("Failed to marshal privileged broadcast payload")
			return
		}
	}

	if err := b.Publish(ctx, env); err != nil {
		logCtx.WithError(err).Warn("Broadcast did not reach every node")
	}
}

// access 汇集了各个服务共用的会话和选课查询
type access struct {
	sessions    repository.SessionRepository
	enrollments repository.EnrollmentRepository
}

func (a access) loadSession(ctx context.Context, sessionID uint) (*domain.Session, error) {
	session, err := a.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		logrus.WithField("session_id", sessionID).WithError(err).Error("Failed to load session")
		return nil, ErrInternalServer
	}
	return session, nil
}

// roleIn 每次都从选课关系读取角色，角色可能在连接建立后改变
func (a access) roleIn(ctx context.Context, courseID, userID uint) (domain.Role, error) {
	role, err := a.enrollments.FindRole(ctx, courseID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrEnrollmentNotFound) {
			return "", ErrNotEnrolled
		}
		logrus.WithFields(logrus.Fields{"course_id": courseID, "user_id": userID}).WithError(err).Error("Failed to load enrollment")
		return "", ErrInternalServer
	}
	return role, nil
}

func (a access) requireInstructor(ctx context.Context, courseID, userID uint) (domain.Role, error) {
	role, err := a.roleIn(ctx, courseID, userID)
	if err != nil {
		return "", err
	}
	if !role.IsInstructor() {
		return role, ErrInsufficientRole
	}
	return role, nil
}

// visibleRole 返回调用者在会话所属课程中的角色，并确认其能看到该问题；看不到的问题按不存在处理。
func (a access) visibleRole(ctx context.Context, session *domain.Session, question *domain.Question, userID uint) (domain.Role, error) {
	role, err := a.roleIn(ctx, session.CourseID, userID)
	if err != nil {
		return "", err
	}
	if !policy.CanSee(role, question.Visibility) {
		return "", ErrQuestionNotFound
	}
	return role, nil
}
