package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"classroom-qa/internal/metrics"
)

var (
	// ErrFanoutNotReady 表示订阅连接还没有确认，此时不能接受任何工作
	ErrFanoutNotReady = errors.New("fanout: broker subscription not ready")
	// ErrFanoutClosed 表示适配器已经关闭
	ErrFanoutClosed = errors.New("fanout: closed")
)

// fanoutMessage 是通过 broker 传递的消息，Origin 用于跳过自己发出的消息。
// RoleChange 非空时是一条控制消息，不投递给客户端。
type fanoutMessage struct {
	Origin     string      `json:"origin"`
	Envelope   Envelope    `json:"envelope"`
	RoleChange *RoleChange `json:"roleChange,omitempty"`
}

// Fanout 把房间广播同步到所有进程。
// 发布和订阅使用两个独立的 Redis 连接：订阅模式下的连接不能再执行普通命令。
type Fanout struct {
	hub     *Hub
	pub     *redis.Client
	sub     *redis.Client
	channel string
	nodeID  string

	mu      sync.RWMutex
	pubsub  *redis.PubSub
	ready   bool
	closed  bool
	readyCh chan struct{}
	done    chan struct{}
}

// NewFanout 创建跨进程广播适配器。pub 和 sub 必须是两个不同的客户端，适配器负责关闭它们。
func NewFanout(hub *Hub, pub, sub *redis.Client, keyPrefix, nodeID string) *Fanout {
	if hub == nil {
		panic("hub cannot be nil for Fanout")
	}
	if pub == nil || sub == nil {
		panic("redis clients cannot be nil for Fanout")
	}
	if pub == sub {
		panic("Fanout requires dedicated publish and subscribe clients")
	}
	return &Fanout{
		hub:     hub,
		pub:     pub,
		sub:     sub,
		channel: keyPrefix + "fanout",
		nodeID:  nodeID,
		readyCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start 订阅广播频道并等待 broker 确认，确认之后才算就绪。
func (f *Fanout) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFanoutClosed
	}
	if f.ready {
		f.mu.Unlock()
		return nil
	}
	f.mu.Unlock()

	pubsub := f.sub.Subscribe(ctx, f.channel)
	// 第一条回复是订阅确认
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		metrics.StoreErrorsTotal.WithLabelValues("broker", "subscribe").Inc()
		return fmt.Errorf("fanout: subscribe to %s: %w", f.channel, err)
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		_ = pubsub.Close()
		return ErrFanoutClosed
	}
	f.pubsub = pubsub
	f.ready = true
	close(f.readyCh)
	f.mu.Unlock()

	go f.listen(pubsub.Channel())
	logrus.WithFields(logrus.Fields{"channel": f.channel, "node_id": f.nodeID}).Info("Fanout subscribed and ready")
	return nil
}

// Ready 返回一个在订阅确认后关闭的 channel
func (f *Fanout) Ready() <-chan struct{} {
	return f.readyCh
}

// IsReady 判断当前是否可以接受工作
func (f *Fanout) IsReady() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.ready && !f.closed
}

func (f *Fanout) NodeID() string { return f.nodeID }

// Publish 先投递给本进程的房间成员，再发布到 broker 让其他进程投递。
// 本地投递已经完成时，broker 失败只会影响其他进程，错误返回给调用方记录。
func (f *Fanout) Publish(ctx context.Context, env Envelope) error {
	if err := f.checkReady(); err != nil {
		return err
	}

	f.hub.Deliver(env)
	metrics.BroadcastsTotal.WithLabelValues(env.Event, "local").Inc()

	return f.send(ctx, fanoutMessage{Origin: f.nodeID, Envelope: env}, logrus.Fields{"room": env.Room, "event": env.Event})
}

// PublishRoleChange 在本进程和其他进程上把课程角色变化应用到已加入的会话
func (f *Fanout) PublishRoleChange(ctx context.Context, change RoleChange) error {
	if err := f.checkReady(); err != nil {
		return err
	}

	f.hub.ApplyRoleChange(change)
	return f.send(ctx, fanoutMessage{Origin: f.nodeID, RoleChange: &change},
		logrus.Fields{"course_id": change.CourseID, "user_id": change.UserID})
}

func (f *Fanout) checkReady() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrFanoutClosed
	}
	if !f.ready {
		return ErrFanoutNotReady
	}
	return nil
}

func (f *Fanout) send(ctx context.Context, fm fanoutMessage, fields logrus.Fields) error {
	data, err := json.Marshal(fm)
	if err != nil {
		return fmt.Errorf("fanout: marshal message: %w", err)
	}
	if err := f.pub.Publish(ctx, f.channel, data).Err(); err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("broker", "publish").Inc()
		logrus.WithFields(fields).WithFields(logrus.Fields{
			"channel":      f.channel,
			"payload_size": len(data),
		}).WithError(err).Error("Redis Publish failed")
		return fmt.Errorf("fanout: publish to %s: %w", f.channel, err)
	}
	return nil
}

func (f *Fanout) listen(ch <-chan *redis.Message) {
	defer close(f.done)
	log := logrus.WithFields(logrus.Fields{"component": "fanout", "node_id": f.nodeID})
	for msg := range ch {
		var fm fanoutMessage
		if err := json.Unmarshal([]byte(msg.Payload), &fm); err != nil {
			log.WithError(err).Warn("Dropping malformed fanout message")
			continue
		}
		if fm.Origin == f.nodeID {
			continue
		}
		if f.isClosed() {
			return
		}
		if fm.RoleChange != nil {
			f.hub.ApplyRoleChange(*fm.RoleChange)
			continue
		}
		f.hub.Deliver(fm.Envelope)
		metrics.BroadcastsTotal.WithLabelValues(fm.Envelope.Event, "remote").Inc()
	}
	log.Info("Fanout subscription channel closed")
}

func (f *Fanout) isClosed() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.closed
}

// Close 停止接收和发布，并关闭两个 broker 连接
func (f *Fanout) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	pubsub := f.pubsub
	f.mu.Unlock()

	var errs []error
	if pubsub != nil {
		if err := pubsub.Close(); err != nil {
			errs = append(errs, err)
		}
		<-f.done
	}
	if err := f.pub.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := f.sub.Close(); err != nil {
		errs = append(errs, err)
	}
	logrus.WithField("node_id", f.nodeID).Info("Fanout closed")
	return errors.Join(errs...)
}
