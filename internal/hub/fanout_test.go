package hub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classroom-qa/internal/domain"
	"classroom-qa/internal/dto"
)

func newFanout(t *testing.T, mr *miniredis.Miniredis, h *Hub, nodeID string) *Fanout {
	t.Helper()
	pub := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sub := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	f := NewFanout(h, pub, sub, "test:", nodeID)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestFanout_PublishBeforeReady(t *testing.T) {
	mr := miniredis.RunT(t)
	f := newFanout(t, mr, startHub(t), "node-a")

	err := f.Publish(context.Background(), Envelope{Room: GeneralRoom(1), Event: dto.EventQuestionCreated})
	assert.ErrorIs(t, err, ErrFanoutNotReady)
	assert.False(t, f.IsReady())
}

func TestFanout_CrossNodeDelivery(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	hubA, hubB := startHub(t), startHub(t)
	fanA := newFanout(t, mr, hubA, "node-a")
	fanB := newFanout(t, mr, hubB, "node-b")
	require.NoError(t, fanA.Start(ctx))
	require.NoError(t, fanB.Start(ctx))
	<-fanB.Ready()

	local := newTestClient(t, hubA, 1)
	remote := newTestClient(t, hubB, 2)
	remoteInstructor := newTestClient(t, hubB, 3)
	hubA.Join(local, 1, 42, domain.RoleStudent)
	hubB.Join(remote, 1, 42, domain.RoleStudent)
	hubB.Join(remoteInstructor, 1, 42, domain.RoleProfessor)

	env := Envelope{
		Room:              GeneralRoom(42),
		Event:             dto.EventQuestionCreated,
		Payload:           json.RawMessage(`{"id":7}`),
		PrivilegedPayload: json.RawMessage(`{"id":7,"authorId":1}`),
	}
	require.NoError(t, fanA.Publish(ctx, env))

	assert.JSONEq(t, `{"id":7}`, string(receive(t, local).Data))
	assert.JSONEq(t, `{"id":7}`, string(receive(t, remote).Data))
	assert.JSONEq(t, `{"id":7,"authorId":1}`, string(receive(t, remoteInstructor).Data))

	// 发布方自己订阅到的消息会被跳过，不会重复投递
	assertNothing(t, local)
}

func TestFanout_InstructorOnlyStaysInInstructorRoomAcrossNodes(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	hubA, hubB := startHub(t), startHub(t)
	fanA := newFanout(t, mr, hubA, "node-a")
	fanB := newFanout(t, mr, hubB, "node-b")
	require.NoError(t, fanA.Start(ctx))
	require.NoError(t, fanB.Start(ctx))

	student := newTestClient(t, hubB, 1)
	ta := newTestClient(t, hubB, 2)
	hubB.Join(student, 1, 8, domain.RoleStudent)
	hubB.Join(ta, 1, 8, domain.RoleTA)

	require.NoError(t, fanA.Publish(ctx, Envelope{Room: InstructorsRoom(8), Event: dto.EventQuestionCreated, Payload: json.RawMessage(`{"id":1}`)}))

	assert.Equal(t, dto.EventQuestionCreated, receive(t, ta).Event)
	assertNothing(t, student)
}

func TestFanout_PublishAfterClose(t *testing.T) {
	mr := miniredis.RunT(t)
	f := newFanout(t, mr, startHub(t), "node-a")
	require.NoError(t, f.Start(context.Background()))
	require.True(t, f.IsReady())

	require.NoError(t, f.Close())
	assert.False(t, f.IsReady())
	assert.ErrorIs(t, f.Publish(context.Background(), Envelope{Room: GeneralRoom(1), Event: "x"}), ErrFanoutClosed)
	assert.ErrorIs(t, f.Start(context.Background()), ErrFanoutClosed)
}

func TestFanout_StartFailsWhenBrokerDown(t *testing.T) {
	mr := miniredis.RunT(t)
	f := newFanout(t, mr, startHub(t), "node-a")
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Error(t, f.Start(ctx))
	assert.False(t, f.IsReady())
}

func TestFanout_RoleChangeReachesOtherNodes(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	hubA, hubB := startHub(t), startHub(t)
	fanA := newFanout(t, mr, hubA, "node-a")
	fanB := newFanout(t, mr, hubB, "node-b")
	require.NoError(t, fanA.Start(ctx))
	require.NoError(t, fanB.Start(ctx))

	localTA := newTestClient(t, hubA, 5)
	remoteTA := newTestClient(t, hubB, 5)
	hubA.Join(localTA, 3, 9, domain.RoleTA)
	hubB.Join(remoteTA, 3, 9, domain.RoleTA)

	require.NoError(t, fanA.PublishRoleChange(ctx, RoleChange{CourseID: 3, UserID: 5, Role: domain.RoleStudent}))

	assert.False(t, hubA.IsMember(localTA, InstructorsRoom(9)))
	require.Eventually(t, func() bool { return !hubB.IsMember(remoteTA, InstructorsRoom(9)) }, time.Second, 10*time.Millisecond)
	assert.True(t, hubB.IsMember(remoteTA, GeneralRoom(9)))
	assertNothing(t, remoteTA)
}

func TestFanout_RoleChangeBeforeReady(t *testing.T) {
	mr := miniredis.RunT(t)
	f := newFanout(t, mr, startHub(t), "node-a")

	assert.ErrorIs(t, f.PublishRoleChange(context.Background(), RoleChange{CourseID: 1, UserID: 1, Role: domain.RoleStudent}), ErrFanoutNotReady)
}
