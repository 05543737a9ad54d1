package service_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"classroom-qa/internal/domain"
	"classroom-qa/internal/hub"
	"classroom-qa/internal/repository"
	"classroom-qa/internal/repository/mocks"
	"classroom-qa/internal/service"
)

// fakeBroadcaster 记录所有广播
type fakeBroadcaster struct {
	mu          sync.Mutex
	envelopes   []hub.Envelope
	roleChanges []hub.RoleChange
	err         error
}

func (b *fakeBroadcaster) PublishRoleChange(ctx context.Context, change hub.RoleChange) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.roleChanges = append(b.roleChanges, change)
	return b.err
}

func (b *fakeBroadcaster) Publish(ctx context.Context, env hub.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.envelopes = append(b.envelopes, env)
	return b.err
}

func (b *fakeBroadcaster) sent() []hub.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]hub.Envelope(nil), b.envelopes...)
}

func decode(t *testing.T, raw json.RawMessage) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

const (
	courseID  uint = 1
	sessionID uint = 10
	studentA  uint = 100
	studentB  uint = 101
	taUser    uint = 200
	profUser  uint = 300
	outsider  uint = 999
)

// deps 汇集服务测试使用的 mock
type deps struct {
	users       *mocks.UserRepository
	courses     *mocks.CourseRepository
	enrollments *mocks.EnrollmentRepository
	sessions    *mocks.SessionRepository
	questions   *mocks.QuestionRepository
	answers     *mocks.AnswerRepository
	slides      *mocks.SlideRepository
	blobs       *mocks.BlobStore
	state       *mocks.StateRepository
	broadcaster *fakeBroadcaster
	limiter     *service.RateLimiter
}

func newDeps() *deps {
	d := &deps{
		users:       new(mocks.UserRepository),
		courses:     new(mocks.CourseRepository),
		enrollments: new(mocks.EnrollmentRepository),
		sessions:    new(mocks.SessionRepository),
		questions:   new(mocks.QuestionRepository),
		answers:     new(mocks.AnswerRepository),
		slides:      new(mocks.SlideRepository),
		blobs:       new(mocks.BlobStore),
		state:       new(mocks.StateRepository),
		broadcaster: &fakeBroadcaster{},
	}
	d.limiter = service.NewRateLimiter(d.state, nil)
	return d
}

// allowAll 让限流总是放行
func (d *deps) allowAll() *deps {
	d.state.On("CheckRateLimit", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(false, nil)
	return d
}

// withCourse 注册标准的选课关系：两个学生、一个 TA、一个教授
func (d *deps) withCourse() *deps {
	d.enrollments.On("FindRole", mock.Anything, courseID, studentA).Return(domain.RoleStudent, nil).Maybe()
	d.enrollments.On("FindRole", mock.Anything, courseID, studentB).Return(domain.RoleStudent, nil).Maybe()
	d.enrollments.On("FindRole", mock.Anything, courseID, taUser).Return(domain.RoleTA, nil).Maybe()
	d.enrollments.On("FindRole", mock.Anything, courseID, profUser).Return(domain.RoleProfessor, nil).Maybe()
	d.enrollments.On("FindRole", mock.Anything, courseID, outsider).Return(domain.Role(""), errNotFound()).Maybe()
	return d
}

func (d *deps) withSession(s *domain.Session) *deps {
	d.sessions.On("FindByID", mock.Anything, s.ID).Return(s, nil).Maybe()
	return d
}

func activeSession() *domain.Session {
	return &domain.Session{ID: sessionID, CourseID: courseID, Title: "Lecture", Status: domain.SessionActive, IsSubmissionsEnabled: true}
}

func (d *deps) questionService() *service.QuestionService {
	return service.NewQuestionService(d.questions, d.sessions, d.enrollments, d.limiter, d.broadcaster)
}

func (d *deps) answerService() *service.AnswerService {
	return service.NewAnswerService(d.answers, d.questions, d.sessions, d.enrollments, d.users, d.limiter, d.broadcaster)
}

func (d *deps) sessionService() *service.SessionService {
	return service.NewSessionService(d.sessions, d.enrollments, d.courses, d.slides, d.limiter, d.broadcaster)
}

func (d *deps) courseService() *service.CourseService {
	return service.NewCourseService(d.courses, d.enrollments, d.limiter, d.broadcaster)
}

func errNotFound() error { return repository.ErrNotFound }
