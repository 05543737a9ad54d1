package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"classroom-qa/internal/tasks"
)

// BlobCleaner 是 worker 需要的 blob 清理能力，由 service.SlideService 实现
type BlobCleaner interface {
	CleanupBlob(ctx context.Context, key string) error
	SweepOrphans(ctx context.Context, minAge time.Duration) (int, error)
}

// taskLogger 返回带有任务信息的日志上下文
func taskLogger(ctx context.Context, t *asynq.Task) *logrus.Entry {
	taskID := ""
	if rw := t.ResultWriter(); rw != nil {
		taskID = rw.TaskID()
	}
	queue, _ := asynq.GetQueueName(ctx)
	currentRetry, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)

	return logrus.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": t.Type(),
		"queue":     queue,
		"retry":     currentRetry,
		"max_retry": maxRetry,
	})
}

// BlobCleanupHandler 处理单个孤儿 blob 的删除任务
type BlobCleanupHandler struct {
	cleaner BlobCleaner
}

// NewBlobCleanupHandler 创建 Handler 实例
func NewBlobCleanupHandler(cleaner BlobCleaner) *BlobCleanupHandler {
	if cleaner == nil {
		panic("BlobCleaner cannot be nil for BlobCleanupHandler")
	}
	return &BlobCleanupHandler{cleaner: cleaner}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *BlobCleanupHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := taskLogger(ctx, t)

	payload, err := tasks.ParseBlobCleanupPayload(t)
	if err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	logCtx = logCtx.WithField("storage_key", payload.StorageKey)

	if err := h.cleaner.CleanupBlob(ctx, payload.StorageKey); err != nil {
		logCtx.WithError(err).Warn("Blob cleanup failed, will retry")
		return err
	}
	logCtx.Info("Blob cleanup task processed successfully")
	return nil
}

// BlobSweepHandler 处理周期性的孤儿扫描任务
type BlobSweepHandler struct {
	cleaner BlobCleaner
	minAge  time.Duration
}

// NewBlobSweepHandler 创建 Handler 实例；minAge 之内的 blob 可能属于仍在进行的上传
func NewBlobSweepHandler(cleaner BlobCleaner, minAge time.Duration) *BlobSweepHandler {
	if cleaner == nil {
		panic("BlobCleaner cannot be nil for BlobSweepHandler")
	}
	if minAge <= 0 {
		minAge = time.Hour
	}
	return &BlobSweepHandler{cleaner: cleaner, minAge: minAge}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *BlobSweepHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := taskLogger(ctx, t)
	logCtx.Info("Processing periodic blob sweep task...")

	removed, err := h.cleaner.SweepOrphans(ctx, h.minAge)
	if err != nil {
		// 部分失败的 blob 留给下一轮扫描，周期任务本身视为完成
		logCtx.WithError(err).WithField("removed", removed).Error("Blob sweep completed with errors")
		return nil
	}
	logCtx.WithField("removed", removed).Info("Periodic blob sweep task completed successfully")
	return nil
}
