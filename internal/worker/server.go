package worker

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"classroom-qa/internal/tasks"
)

// Options 是 worker 的运行参数
type Options struct {
	Concurrency   int
	SweepInterval time.Duration
	SweepMinAge   time.Duration
}

// WorkerServer 封装了 Asynq Worker Server 和周期任务调度器的启动和关闭逻辑
type WorkerServer struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	log       *logrus.Entry
	cleaner   BlobCleaner
	opts      Options
}

// NewWorkerServer 创建一个新的 WorkerServer 实例
func NewWorkerServer(redisOpt asynq.RedisClientOpt, cleaner BlobCleaner, opts Options, logger *logrus.Logger) *WorkerServer {
	if cleaner == nil {
		panic("BlobCleaner cannot be nil for WorkerServer")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 30 * time.Minute
	}
	logEntry := logger.WithField("component", "worker_server")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: opts.Concurrency,
			Queues: map[string]int{
				"default":      3,
				tasks.QueueLow: 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				taskLogger(ctx, task).WithError(err).Error("Task failed")
			}),
		},
	)
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{})

	return &WorkerServer{
		server:    server,
		scheduler: scheduler,
		log:       logEntry,
		cleaner:   cleaner,
		opts:      opts,
	}
}

// NewServeMux 注册所有任务处理器
func (ws *WorkerServer) NewServeMux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(tasks.TypeBlobCleanup, NewBlobCleanupHandler(ws.cleaner))
	mux.Handle(tasks.TypeBlobSweep, NewBlobSweepHandler(ws.cleaner, ws.opts.SweepMinAge))
	return mux
}

// Start 在后台启动 Worker Server 和调度器，立即返回
func (ws *WorkerServer) Start() error {
	ws.log.Info("Worker server starting...")
	if err := ws.server.Start(ws.NewServeMux()); err != nil {
		return err
	}

	schedule := "@every " + ws.opts.SweepInterval.String()
	entryID, err := ws.scheduler.Register(schedule, tasks.NewBlobSweepTask())
	if err != nil {
		ws.server.Shutdown()
		return err
	}
	if err := ws.scheduler.Start(); err != nil {
		ws.server.Shutdown()
		return err
	}
	ws.log.WithFields(logrus.Fields{"entry_id": entryID, "schedule": schedule}).Info("Periodic blob sweep registered")
	return nil
}

// Shutdown 优雅地关闭调度器和 Worker Server
func (ws *WorkerServer) Shutdown() {
	ws.log.Info("Shutting down worker server...")
	ws.scheduler.Shutdown()
	ws.server.Shutdown()
	ws.log.Info("Worker server shut down complete.")
}
