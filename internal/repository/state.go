package repository

import (
	"context"
	"time"
)

// StateRepository 定义了共享计数器存储（Redis）上的操作。
type StateRepository interface {
	// CheckRateLimit 以固定窗口计数：窗口内第一次调用设置计数和过期时间，之后递增。
	// 返回 true 表示本次调用超出 limit。
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
