package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"classroom-qa/internal/domain"
	"classroom-qa/internal/dto"
	"classroom-qa/internal/metrics"
)

// 包级别的 WebSocket 常量，供 hub 和 client 使用
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 16 * 1024

	sendBufferSize = 256
)

const (
	msgRegister   = "register"
	msgUnregister = "unregister"
)

// HubMessage 定义了在 Hub 内部通道传递的消息类型
type HubMessage struct {
	Type   string // "register", "unregister"
	Client *Client
	done   chan struct{}
}

// EventHandler 处理客户端发来的单个事件。
// 同一个连接的事件在其 readPump 中依次调用，保持接收顺序。
type EventHandler interface {
	HandleEvent(ctx context.Context, client *Client, event string, data json.RawMessage)
}

// Envelope 是一次房间广播。
// PrivilegedPayload 非空时发给房间里的 TA/教授，其余成员收到 Payload，
// 这样匿名脱敏可以和房间路由独立进行。
type Envelope struct {
	Room              RoomID          `json:"room"`
	Event             string          `json:"event"`
	Payload           json.RawMessage `json:"payload"`
	PrivilegedPayload json.RawMessage `json:"privilegedPayload,omitempty"`
}

// RoleChange 表示某个用户在课程中的角色被修改，需要同步到已加入的会话房间
type RoleChange struct {
	CourseID uint        `json:"courseId"`
	UserID   uint        `json:"userId"`
	Role     domain.Role `json:"role"`
}

// member 是客户端在某个房间里的身份
type member struct {
	role      domain.Role
	courseID  uint
	sessionID uint
}

// Hub 维护本进程内的连接和房间成员关系
type Hub struct {
	messageChan chan HubMessage

	// 已注册的客户端
	clients map[*Client]bool
	// map[room]map[client]member，角色在加入时确定，课程角色变化时由 ApplyRoleChange 更新
	rooms   map[RoomID]map[*Client]member
	roomsMu sync.RWMutex

	handler EventHandler
	quit    chan struct{}
	once    sync.Once
}

// NewHub 创建并返回一个新的 Hub 实例
func NewHub() *Hub {
	return &Hub{
		messageChan: make(chan HubMessage, 512),
		clients:     make(map[*Client]bool),
		rooms:       make(map[RoomID]map[*Client]member),
		quit:        make(chan struct{}),
	}
}

// SetHandler 注入事件处理器，必须在 Run 之前调用
func (h *Hub) SetHandler(handler EventHandler) {
	h.handler = handler
}

// Run 启动 Hub 的主循环，直到 ctx 结束。
// 它应该在一个单独的 goroutine 中运行。
func (h *Hub) Run(ctx context.Context) {
	log := logrus.WithField("component", "hub")
	log.Info("Hub is running...")

	for {
		select {
		case msg := <-h.messageChan:
			switch msg.Type {
			case msgRegister:
				h.registerClient(msg.Client)
			case msgUnregister:
				h.unregisterClient(msg.Client)
			default:
				log.Warnf("Hub: Received unknown message type: %s", msg.Type)
			}
			if msg.done != nil {
				close(msg.done)
			}
		case <-ctx.Done():
			h.shutdown()
			log.Info("Hub is shutting down...")
			return
		}
	}
}

// Register 把客户端交给 Hub 注册，并等待注册完成
func (h *Hub) Register(c *Client) bool {
	done := make(chan struct{})
	select {
	case h.messageChan <- HubMessage{Type: msgRegister, Client: c, done: done}:
	case <-h.quit:
		return false
	}
	select {
	case <-done:
		return true
	case <-h.quit:
		return false
	}
}

// unregister 一直等到 Hub 收下注销消息或 Hub 退出，否则客户端会永远留在房间里
func (h *Hub) unregister(c *Client) {
	select {
	case h.messageChan <- HubMessage{Type: msgUnregister, Client: c}:
	case <-h.quit:
	}
}

func (h *Hub) registerClient(c *Client) {
	if c == nil {
		logrus.Error("Hub: Attempted to register a nil client")
		return
	}
	h.roomsMu.Lock()
	h.clients[c] = true
	h.roomsMu.Unlock()
	metrics.ActiveConnections.Inc()
	logrus.WithField("user_id", c.UserID()).Info("Client registered to Hub")
}

// unregisterClient 把客户端移出所有房间并关闭 send 通道。
// 关闭在写锁内进行，持读锁的投递方不会向已关闭的通道写入。
func (h *Hub) unregisterClient(c *Client) {
	if c == nil {
		return
	}
	logCtx := logrus.WithField("user_id", c.UserID())

	h.roomsMu.Lock()
	if !h.clients[c] {
		h.roomsMu.Unlock()
		logCtx.Debug("Client not registered during unregister")
		return
	}
	delete(h.clients, c)
	for room, members := range h.rooms {
		if _, ok := members[c]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	close(c.send)
	h.roomsMu.Unlock()

	metrics.ActiveConnections.Dec()
	logCtx.Info("Client unregistered from Hub")
}

func (h *Hub) shutdown() {
	h.once.Do(func() { close(h.quit) })
	h.roomsMu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
		metrics.ActiveConnections.Dec()
	}
	h.rooms = make(map[RoomID]map[*Client]member)
	h.roomsMu.Unlock()
}

// Join 把客户端加入会话的通用房间；TA/教授同时加入讲师房间。
// 重复加入是幂等的，角色以最近一次为准。
func (h *Hub) Join(c *Client, courseID, sessionID uint, role domain.Role) {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()
	if !h.clients[c] {
		return
	}
	h.joinLocked(c, member{role: role, courseID: courseID, sessionID: sessionID})
	logrus.WithFields(logrus.Fields{"user_id": c.UserID(), "room": GeneralRoom(sessionID), "role": role}).Debug("Client joined session")
}

func (h *Hub) joinLocked(c *Client, m member) {
	h.addLocked(GeneralRoom(m.sessionID), c, m)
	if m.role.IsInstructor() {
		h.addLocked(InstructorsRoom(m.sessionID), c, m)
	} else {
		h.removeLocked(InstructorsRoom(m.sessionID), c)
	}
}

// ApplyRoleChange 更新该用户在本进程内所有属于该课程的会话中的角色。
// 降级为 STUDENT 的连接离开讲师房间，之后只收到脱敏后的内容；升级的连接加入讲师房间。
// 返回受影响的 (连接, 会话) 数。
func (h *Hub) ApplyRoleChange(change RoleChange) int {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()

	type joined struct {
		client *Client
		m      member
	}
	var affected []joined
	for room, members := range h.rooms {
		for c, m := range members {
			if c.userID == change.UserID && m.courseID == change.CourseID && room == GeneralRoom(m.sessionID) {
				affected = append(affected, joined{client: c, m: m})
			}
		}
	}
	for _, j := range affected {
		j.m.role = change.Role
		h.joinLocked(j.client, j.m)
	}
	if len(affected) > 0 {
		logrus.WithFields(logrus.Fields{
			"course_id": change.CourseID,
			"user_id":   change.UserID,
			"role":      change.Role,
			"sessions":  len(affected),
		}).Info("Applied role change to joined sessions")
	}
	return len(affected)
}

// Leave 把客户端移出会话的两个房间；未加入时什么也不做。
func (h *Hub) Leave(c *Client, sessionID uint) {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()
	h.removeLocked(GeneralRoom(sessionID), c)
	h.removeLocked(InstructorsRoom(sessionID), c)
}

func (h *Hub) addLocked(room RoomID, c *Client, m member) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]member)
		h.rooms[room] = members
	}
	members[c] = m
}

func (h *Hub) removeLocked(room RoomID, c *Client) {
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// IsMember 判断客户端是否在房间中
func (h *Hub) IsMember(c *Client, room RoomID) bool {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	_, ok := h.rooms[room][c]
	return ok
}

// RoomSize 返回本进程内房间的成员数
func (h *Hub) RoomSize(room RoomID) int {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	return len(h.rooms[room])
}

// Deliver 把信封投递给本进程内该房间的所有成员。
// 发送是非阻塞的，慢客户端的消息会被丢弃。
func (h *Hub) Deliver(env Envelope) int {
	plain, err := encodeFrame(env.Event, env.Payload)
	if err != nil {
		logrus.WithFields(logrus.Fields{"room": env.Room, "event": env.Event}).WithError(err).Error("Failed to encode broadcast frame")
		return 0
	}
	privileged := plain
	if len(env.PrivilegedPayload) > 0 {
		if privileged, err = encodeFrame(env.Event, env.PrivilegedPayload); err != nil {
			logrus.WithFields(logrus.Fields{"room": env.Room, "event": env.Event}).WithError(err).Error("Failed to encode privileged broadcast frame")
			return 0
		}
	}

	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	members := h.rooms[env.Room]
	delivered := 0
	for c, m := range members {
		frame := plain
		if m.role.IsInstructor() {
			frame = privileged
		}
		select {
		case c.send <- frame:
			delivered++
		default:
			metrics.DroppedMessagesTotal.Inc()
			logrus.WithFields(logrus.Fields{"room": env.Room, "user_id": c.UserID()}).Warn("Client send channel full during broadcast, skipping this client")
		}
	}
	logrus.WithFields(logrus.Fields{"room": env.Room, "event": env.Event, "recipient_count": delivered}).Debug("Broadcast delivered")
	return delivered
}

// SendTo 只向一个客户端发送事件，用于确认和错误回执
func (h *Hub) SendTo(c *Client, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		logrus.WithField("event", event).WithError(err).Error("Failed to marshal direct message")
		return
	}
	frame, err := encodeFrame(event, data)
	if err != nil {
		return
	}

	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	if !h.clients[c] {
		return
	}
	select {
	case c.send <- frame:
	default:
		metrics.DroppedMessagesTotal.Inc()
		logrus.WithFields(logrus.Fields{"user_id": c.UserID(), "event": event}).Warn("Client send channel full, direct message dropped")
	}
}

func encodeFrame(event string, payload json.RawMessage) ([]byte, error) {
	return json.Marshal(dto.Envelope{Event: event, Data: payload})
}
