package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// 定义任务类型常量
const (
	TypeBlobCleanup = "blob:cleanup" // 删除一个补偿失败留下的孤儿 blob
	TypeBlobSweep   = "blob:sweep"   // 周期性扫描所有孤儿 blob
)

const (
	QueueLow = "low"

	blobCleanupMaxRetry = 10
)

// BlobCleanupPayload 定义了 blob 清理任务的数据结构
type BlobCleanupPayload struct {
	StorageKey string `json:"storage_key"`
}

// NewBlobCleanupTask 创建一个 blob 清理任务
func NewBlobCleanupTask(key string) (*asynq.Task, error) {
	if key == "" {
		return nil, errors.New("storage key is required")
	}
	payloadBytes, err := json.Marshal(BlobCleanupPayload{StorageKey: key})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeBlobCleanup, payloadBytes,
		asynq.Queue(QueueLow),
		asynq.MaxRetry(blobCleanupMaxRetry),
		asynq.Timeout(time.Minute),
	), nil
}

// ParseBlobCleanupPayload 解析 blob 清理任务的 payload
func ParseBlobCleanupPayload(t *asynq.Task) (BlobCleanupPayload, error) {
	var payload BlobCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return payload, err
	}
	if payload.StorageKey == "" {
		return payload, errors.New("storage key is empty")
	}
	return payload, nil
}

// NewBlobSweepTask 创建周期性的孤儿扫描任务，没有 payload
func NewBlobSweepTask() *asynq.Task {
	return asynq.NewTask(TypeBlobSweep, nil, asynq.Queue(QueueLow), asynq.MaxRetry(0))
}

// Enqueuer 把后台任务放入 Asynq 队列
type Enqueuer struct {
	client *asynq.Client
}

// NewEnqueuer 创建 Enqueuer 实例
func NewEnqueuer(client *asynq.Client) *Enqueuer {
	if client == nil {
		panic("asynq.Client cannot be nil for Enqueuer")
	}
	return &Enqueuer{client: client}
}

// ScheduleBlobCleanup 安排删除一个孤儿 blob，由讲义上传的补偿逻辑调用
func (e *Enqueuer) ScheduleBlobCleanup(ctx context.Context, key string) error {
	task, err := NewBlobCleanupTask(key)
	if err != nil {
		return err
	}
	info, err := e.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("enqueue %s task: %w", TypeBlobCleanup, err)
	}
	logrus.WithFields(logrus.Fields{
		"task_id":     info.ID,
		"queue":       info.Queue,
		"storage_key": key,
	}).Info("Blob cleanup task enqueued")
	return nil
}
