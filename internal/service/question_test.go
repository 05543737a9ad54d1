package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"classroom-qa/internal/domain"
	"classroom-qa/internal/dto"
	"classroom-qa/internal/hub"
	redisstate "classroom-qa/internal/infra/state/redis"
	"classroom-qa/internal/repository"
	"classroom-qa/internal/service"
)

func TestCreateQuestion_AnonymousPublicBroadcast(t *testing.T) {
	// Arrange
	d := newDeps().allowAll().withCourse().withSession(activeSession())
	d.questions.On("Create", mock.Anything, mock.MatchedBy(func(q *domain.Question) bool {
		return q.AuthorID == studentA && q.IsAnonymous && q.Visibility == domain.VisibilityPublic && q.Content == "Why is the sky blue?"
	})).Run(func(args mock.Arguments) {
		args.Get(1).(*domain.Question).ID = 7
	}).Return(nil).Once()
	svc := d.questionService()

	// Act
	view, err := svc.CreateQuestion(context.Background(), studentA, service.CreateQuestionInput{
		SessionID: sessionID, Content: "  Why is the sky blue?  ", IsAnonymous: true,
	})

	// Assert
	require.NoError(t, err)
	assert.Nil(t, view.AuthorID, "a student creator gets the redacted view")

	sent := d.broadcaster.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, hub.GeneralRoom(sessionID), sent[0].Room)
	assert.Equal(t, dto.EventQuestionCreated, sent[0].Event)
	assert.NotContains(t, decode(t, sent[0].Payload), "authorId")
	assert.Equal(t, float64(studentA), decode(t, sent[0].PrivilegedPayload)["authorId"])
	d.questions.AssertExpectations(t)
}

func TestCreateQuestion_InstructorOnlyRoutesToInstructorsRoom(t *testing.T) {
	d := newDeps().allowAll().withCourse().withSession(activeSession())
	d.questions.On("Create", mock.Anything, mock.Anything).Return(nil).Once()

	_, err := d.questionService().CreateQuestion(context.Background(), studentA, service.CreateQuestionInput{
		SessionID: sessionID, Content: "private", Visibility: "INSTRUCTOR_ONLY",
	})

	require.NoError(t, err)
	sent := d.broadcaster.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, hub.InstructorsRoom(sessionID), sent[0].Room)
	// 匿名和可见性互相独立：非匿名问题在两个视图里都带作者
	assert.Equal(t, float64(studentA), decode(t, sent[0].Payload)["authorId"])
}

func TestCreateQuestion_ValidationOrder(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(d *deps)
		input   service.CreateQuestionInput
		wantErr error
		wantMsg string
	}{
		{
			name:    "empty content is rejected before rate limiting",
			input:   service.CreateQuestionInput{SessionID: sessionID, Content: "   "},
			wantMsg: "Question content is required",
		},
		{
			name:    "invalid visibility is rejected before rate limiting",
			input:   service.CreateQuestionInput{SessionID: sessionID, Content: "hi", Visibility: "SECRET"},
			wantMsg: "Invalid visibility",
		},
		{
			name: "rate limit is checked before the session lookup",
			setup: func(d *deps) {
				d.state.On("CheckRateLimit", mock.Anything, "question-create:100", 10, time.Minute).Return(true, nil).Once()
			},
			input:   service.CreateQuestionInput{SessionID: sessionID, Content: "hi"},
			wantErr: service.ErrRateLimited,
		},
		{
			name: "unknown session",
			setup: func(d *deps) {
				d.allowAll()
				d.sessions.On("FindByID", mock.Anything, uint(55)).Return(nil, repository.ErrSessionNotFound).Once()
			},
			input:   service.CreateQuestionInput{SessionID: 55, Content: "hi"},
			wantErr: service.ErrSessionNotFound,
		},
		{
			name: "ended session",
			setup: func(d *deps) {
				s := activeSession()
				s.Status = domain.SessionEnded
				s.IsSubmissionsEnabled = false
				d.allowAll().withSession(s)
			},
			input:   service.CreateQuestionInput{SessionID: sessionID, Content: "hi"},
			wantErr: service.ErrSessionEnded,
		},
		{
			name: "submissions disabled",
			setup: func(d *deps) {
				s := activeSession()
				s.IsSubmissionsEnabled = false
				d.allowAll().withSession(s)
			},
			input:   service.CreateQuestionInput{SessionID: sessionID, Content: "hi"},
			wantErr: service.ErrSubmissionsDisabled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDeps()
			if tt.setup != nil {
				tt.setup(d)
			}
			_, err := d.questionService().CreateQuestion(context.Background(), studentA, tt.input)

			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, service.ClientMessage(err, "Failed to create question"))
			}
			if tt.setup == nil {
				d.state.AssertNotCalled(t, "CheckRateLimit", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			}
			d.questions.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
			assert.Empty(t, d.broadcaster.sent())
		})
	}
}

func TestCreateQuestion_NotEnrolled(t *testing.T) {
	d := newDeps().allowAll().withCourse().withSession(activeSession())

	_, err := d.questionService().CreateQuestion(context.Background(), outsider, service.CreateQuestionInput{SessionID: sessionID, Content: "hi"})

	assert.ErrorIs(t, err, service.ErrNotEnrolled)
	assert.Equal(t, "You are not enrolled in this course", service.ClientMessage(err, "x"))
}

func TestCreateQuestion_PersistenceFailsClosed(t *testing.T) {
	d := newDeps().allowAll().withCourse().withSession(activeSession())
	d.questions.On("Create", mock.Anything, mock.Anything).Return(errors.New("connection refused")).Once()

	_, err := d.questionService().CreateQuestion(context.Background(), studentA, service.CreateQuestionInput{SessionID: sessionID, Content: "hi"})

	assert.ErrorIs(t, err, service.ErrInternalServer)
	assert.Equal(t, "Failed to create question", service.ClientMessage(err, "Failed to create question"))
	assert.Empty(t, d.broadcaster.sent(), "nothing is broadcast when persistence fails")
}

func TestCreateQuestion_RateLimitStoreFailsOpen(t *testing.T) {
	d := newDeps().withCourse().withSession(activeSession())
	d.state.On("CheckRateLimit", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(false, errors.New("redis down")).Once()
	d.questions.On("Create", mock.Anything, mock.Anything).Return(nil).Once()

	_, err := d.questionService().CreateQuestion(context.Background(), studentA, service.CreateQuestionInput{SessionID: sessionID, Content: "hi"})

	assert.NoError(t, err)
	assert.Len(t, d.broadcaster.sent(), 1)
}

func TestCreateQuestion_BroadcastFailureDoesNotFailWrite(t *testing.T) {
	d := newDeps().allowAll().withCourse().withSession(activeSession())
	d.broadcaster.err = hub.ErrFanoutClosed
	d.questions.On("Create", mock.Anything, mock.Anything).Return(nil).Once()

	_, err := d.questionService().CreateQuestion(context.Background(), studentA, service.CreateQuestionInput{SessionID: sessionID, Content: "hi"})

	assert.NoError(t, err)
}

func TestCreateQuestion_RateLimitBoundary(t *testing.T) {
	// 使用真实的 Redis 计数实现
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	d := newDeps().withCourse().withSession(activeSession())
	d.limiter = service.NewRateLimiter(redisstate.NewRedisStateRepository(client, "test:"), nil)
	d.questions.On("Create", mock.Anything, mock.Anything).Return(nil)
	svc := d.questionService()
	ctx := context.Background()
	in := service.CreateQuestionInput{SessionID: sessionID, Content: "again"}

	for i := 0; i < 10; i++ {
		_, err := svc.CreateQuestion(ctx, studentA, in)
		require.NoError(t, err, "question %d should be accepted", i+1)
	}
	_, err := svc.CreateQuestion(ctx, studentA, in)
	assert.ErrorIs(t, err, service.ErrRateLimited)

	// 另一个用户的配额是独立的
	_, err = svc.CreateQuestion(ctx, studentB, in)
	assert.NoError(t, err)

	mr.FastForward(61 * time.Second)
	_, err = svc.CreateQuestion(ctx, studentA, in)
	assert.NoError(t, err)
}

func storedQuestion(id, author uint, v domain.Visibility, anonymous bool) *domain.Question {
	return &domain.Question{ID: id, SessionID: sessionID, AuthorID: author, Content: "q", Visibility: v, Status: domain.QuestionOpen, IsAnonymous: anonymous}
}

func TestToggleUpvote_BroadcastsOnlyCounter(t *testing.T) {
	d := newDeps().allowAll().withCourse().withSession(activeSession())
	d.questions.On("FindByID", mock.Anything, uint(7)).Return(storedQuestion(7, studentB, domain.VisibilityPublic, false), nil)
	d.questions.On("ToggleUpvote", mock.Anything, uint(7), studentA).Return(&repository.UpvoteResult{Voted: true, UpvoteCount: 3}, nil).Once()

	payload, voted, err := d.questionService().ToggleUpvote(context.Background(), studentA, 7)

	require.NoError(t, err)
	assert.True(t, voted)
	assert.Equal(t, 3, payload.UpvoteCount)
	sent := d.broadcaster.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, hub.GeneralRoom(sessionID), sent[0].Room)
	assert.Equal(t, dto.EventQuestionUpdated, sent[0].Event)
	assert.JSONEq(t, `{"id":7,"upvoteCount":3}`, string(sent[0].Payload))
}

func TestToggleUpvote_HiddenQuestionLooksMissing(t *testing.T) {
	d := newDeps().allowAll().withCourse().withSession(activeSession())
	d.questions.On("FindByID", mock.Anything, uint(8)).Return(storedQuestion(8, taUser, domain.VisibilityInstructorOnly, false), nil)

	_, _, err := d.questionService().ToggleUpvote(context.Background(), studentA, 8)

	assert.ErrorIs(t, err, service.ErrQuestionNotFound)
	d.questions.AssertNotCalled(t, "ToggleUpvote", mock.Anything, mock.Anything, mock.Anything)
}

func TestToggleUpvote_InstructorOnlyCounterGoesToInstructors(t *testing.T) {
	d := newDeps().allowAll().withCourse().withSession(activeSession())
	d.questions.On("FindByID", mock.Anything, uint(8)).Return(storedQuestion(8, studentA, domain.VisibilityInstructorOnly, false), nil)
	d.questions.On("ToggleUpvote", mock.Anything, uint(8), taUser).Return(&repository.UpvoteResult{Voted: true, UpvoteCount: 1}, nil).Once()

	_, _, err := d.questionService().ToggleUpvote(context.Background(), taUser, 8)

	require.NoError(t, err)
	require.Len(t, d.broadcaster.sent(), 1)
	assert.Equal(t, hub.InstructorsRoom(sessionID), d.broadcaster.sent()[0].Room)
}

func TestToggleUpvote_RateLimitedBeforeLookup(t *testing.T) {
	d := newDeps()
	d.state.On("CheckRateLimit", mock.Anything, "upvote:100", 30, time.Minute).Return(true, nil).Once()

	_, _, err := d.questionService().ToggleUpvote(context.Background(), studentA, 7)

	assert.ErrorIs(t, err, service.ErrRateLimited)
	d.questions.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
}

func TestResolveQuestion_Permissions(t *testing.T) {
	d := newDeps().allowAll().withCourse().withSession(activeSession())
	q := storedQuestion(9, studentA, domain.VisibilityPublic, false)
	d.questions.On("FindByID", mock.Anything, uint(9)).Return(q, nil)
	svc := d.questionService()
	ctx := context.Background()

	// 其他学生不能解决
	_, err := svc.ResolveQuestion(ctx, studentB, 9)
	assert.ErrorIs(t, err, service.ErrNotOwner)
	assert.Equal(t, "You can only resolve your own questions", service.ClientMessage(err, "x"))

	// 作者本人可以
	d.questions.On("MarkResolved", mock.Anything, uint(9)).Run(func(args mock.Arguments) {
		q.Status = domain.QuestionResolved
	}).Return(nil).Once()
	payload, err := svc.ResolveQuestion(ctx, studentA, 9)
	require.NoError(t, err)
	assert.Equal(t, domain.QuestionResolved, payload.Status)

	sent := d.broadcaster.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, dto.EventQuestionResolved, sent[0].Event)
	assert.JSONEq(t, `{"id":9,"status":"RESOLVED"}`, string(sent[0].Payload))

	// 第二次解决被拒绝
	_, err = svc.ResolveQuestion(ctx, studentA, 9)
	assert.ErrorIs(t, err, service.ErrAlreadyResolved)
	d.questions.AssertNumberOfCalls(t, "MarkResolved", 1)
}

func TestResolveQuestion_InstructorResolvesAny(t *testing.T) {
	d := newDeps().allowAll().withCourse().withSession(activeSession())
	d.questions.On("FindByID", mock.Anything, uint(9)).Return(storedQuestion(9, studentA, domain.VisibilityPublic, false), nil)
	d.questions.On("MarkResolved", mock.Anything, uint(9)).Return(nil).Once()

	_, err := d.questionService().ResolveQuestion(context.Background(), taUser, 9)

	assert.NoError(t, err)
}

func TestResolveQuestion_ConcurrentResolveLoses(t *testing.T) {
	d := newDeps().allowAll().withCourse().withSession(activeSession())
	d.questions.On("FindByID", mock.Anything, uint(9)).Return(storedQuestion(9, studentA, domain.VisibilityPublic, false), nil)
	d.questions.On("MarkResolved", mock.Anything, uint(9)).Return(repository.ErrConflict).Once()

	_, err := d.questionService().ResolveQuestion(context.Background(), profUser, 9)

	assert.ErrorIs(t, err, service.ErrAlreadyResolved)
	assert.Empty(t, d.broadcaster.sent())
}

func TestResolveQuestion_StateCheckedBeforePermission(t *testing.T) {
	s := activeSession()
	s.Status = domain.SessionEnded
	d := newDeps().allowAll().withCourse().withSession(s)
	d.questions.On("FindByID", mock.Anything, uint(9)).Return(storedQuestion(9, studentA, domain.VisibilityPublic, false), nil)

	// 会话已结束的错误先于权限错误
	_, err := d.questionService().ResolveQuestion(context.Background(), studentB, 9)

	assert.ErrorIs(t, err, service.ErrSessionEnded)
}

func TestListQuestions_VisibilityPartitionAndRedaction(t *testing.T) {
	d := newDeps().withCourse().withSession(activeSession())
	public := *storedQuestion(2, studentA, domain.VisibilityPublic, true)
	private := *storedQuestion(1, studentA, domain.VisibilityInstructorOnly, false)

	d.questions.On("ListBySession", mock.Anything, sessionID, []domain.Visibility{domain.VisibilityPublic}, uint(0), 20).
		Return([]domain.Question{public}, nil).Once()
	d.questions.On("ListBySession", mock.Anything, sessionID, []domain.Visibility{domain.VisibilityPublic, domain.VisibilityInstructorOnly}, uint(0), 20).
		Return([]domain.Question{public, private}, nil).Once()
	d.questions.On("FindByID", mock.Anything, uint(2)).Return(&public, nil).Once()
	svc := d.questionService()
	ctx := context.Background()

	studentPage, err := svc.ListQuestions(ctx, studentB, sessionID, 0, 0)
	require.NoError(t, err)
	require.Len(t, studentPage.Items, 1)
	assert.Equal(t, uint(2), studentPage.Items[0].ID)
	assert.Nil(t, studentPage.Items[0].AuthorID, "anonymous author hidden from students")
	assert.Nil(t, studentPage.NextCursor)

	taPage, err := svc.ListQuestions(ctx, taUser, sessionID, 0, 0)
	require.NoError(t, err)
	require.Len(t, taPage.Items, 2)
	require.NotNil(t, taPage.Items[0].AuthorID)
	assert.Equal(t, studentA, *taPage.Items[0].AuthorID)

	// 存储中的行保留真实作者
	stored, err := svc.GetQuestionForAudit(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, studentA, stored.AuthorID)
	assert.True(t, stored.IsAnonymous)
}

func TestListQuestions_Pagination(t *testing.T) {
	d := newDeps().withCourse().withSession(activeSession())
	page := []domain.Question{*storedQuestion(9, studentA, domain.VisibilityPublic, false), *storedQuestion(8, studentA, domain.VisibilityPublic, false)}
	d.questions.On("ListBySession", mock.Anything, sessionID, mock.Anything, uint(10), 2).Return(page, nil).Once()

	result, err := d.questionService().ListQuestions(context.Background(), studentA, sessionID, 10, 2)

	require.NoError(t, err)
	require.NotNil(t, result.NextCursor)
	assert.Equal(t, uint(8), *result.NextCursor)
}
