package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"classroom-qa/internal/metrics"
	"classroom-qa/internal/repository"
)

// ActionKind 标识一类受限流保护的操作
type ActionKind string

const (
	ActionQuestionCreate ActionKind = "question-create"
	ActionAnswerCreate   ActionKind = "answer-create"
	ActionUpvote         ActionKind = "upvote"
	ActionResolve        ActionKind = "resolve"
	ActionSessionCreate  ActionKind = "session-create"
	ActionCodeRegen      ActionKind = "code-regen"
	ActionJoinLookup     ActionKind = "join-lookup"
	ActionJoinRegister   ActionKind = "join-register"
)

// Quota 是一个固定窗口内允许的次数
type Quota struct {
	Limit  int
	Window time.Duration
}

// DefaultQuotas 是每类操作、每个用户的配额
var DefaultQuotas = map[ActionKind]Quota{
	ActionQuestionCreate: {Limit: 10, Window: time.Minute},
	ActionAnswerCreate:   {Limit: 15, Window: time.Minute},
	ActionUpvote:         {Limit: 30, Window: time.Minute},
	ActionResolve:        {Limit: 20, Window: time.Minute},
	ActionSessionCreate:  {Limit: 10, Window: time.Hour},
	ActionCodeRegen:      {Limit: 5, Window: time.Hour},
	ActionJoinLookup:     {Limit: 30, Window: time.Minute},
	ActionJoinRegister:   {Limit: 10, Window: time.Minute},
}

// RateLimiter 按 (操作, 用户) 做固定窗口限流。
// 计数存储不可用时放行：它和跨节点广播共用 Redis，Redis 故障时不应再阻塞所有写入。
type RateLimiter struct {
	state  repository.StateRepository
	quotas map[ActionKind]Quota
}

// NewRateLimiter 创建 RateLimiter，quotas 为空时使用 DefaultQuotas
func NewRateLimiter(state repository.StateRepository, quotas map[ActionKind]Quota) *RateLimiter {
	if state == nil {
		panic("StateRepository cannot be nil for RateLimiter")
	}
	if quotas == nil {
		quotas = DefaultQuotas
	}
	return &RateLimiter{state: state, quotas: quotas}
}

// CheckAndConsume 消耗一次配额，返回是否超限
func (l *RateLimiter) CheckAndConsume(ctx context.Context, kind ActionKind, userID uint, limit int, window time.Duration) bool {
	key := fmt.Sprintf("%s:%d", kind, userID)
	exceeded, err := l.state.CheckRateLimit(ctx, key, limit, window)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("redis", "rate_limit").Inc()
		logrus.WithFields(logrus.Fields{
			"action":  kind,
			"user_id": userID,
		}).WithError(err).Error("Rate limit store unavailable, allowing action")
		return false
	}
	if exceeded {
		metrics.RateLimitRejectionsTotal.WithLabelValues(string(kind)).Inc()
	}
	return exceeded
}

// Allow 按配置的配额检查，超限时返回 ErrRateLimited
func (l *RateLimiter) Allow(ctx context.Context, kind ActionKind, userID uint) error {
	quota, ok := l.quotas[kind]
	if !ok {
		quota, ok = DefaultQuotas[kind]
	}
	if !ok {
		logrus.WithField("action", kind).Warn("No quota configured for action, allowing")
		return nil
	}
	if l.CheckAndConsume(ctx, kind, userID, quota.Limit, quota.Window) {
		logrus.WithFields(logrus.Fields{"action": kind, "user_id": userID}).Info("Rate limit exceeded")
		return ErrRateLimited
	}
	return nil
}
