package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	httpHandler "classroom-qa/internal/handler/http"
	wsHandler "classroom-qa/internal/handler/websocket"
	"classroom-qa/internal/hub"
	"classroom-qa/internal/infra/blob"
	gormpersistence "classroom-qa/internal/infra/persistence/gorm"
	"classroom-qa/internal/infra/setup"
	redisstate "classroom-qa/internal/infra/state/redis"
	"classroom-qa/internal/service"
	"classroom-qa/internal/tasks"
	"classroom-qa/internal/worker"
)

// App 结构体包含应用的所有组件和配置
type App struct {
	Config      *Config
	Log         *logrus.Logger
	DB          *gorm.DB
	RedisClient *redis.Client // 限流计数；广播的 pub/sub 连接归 Fanout 所有
	AsynqClient *asynq.Client
	AsynqServer *worker.WorkerServer
	Hub         *hub.Hub
	Fanout      *hub.Fanout
	HttpServer  *http.Server

	cancel context.CancelFunc
}

// NewApp 创建并初始化应用的所有组件
func NewApp() (*App, error) {
	// 1. 加载配置
	cfg, err := LoadConfig()
	if err != nil {
		// logrus 还未配置，直接写 stderr
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, err
	}

	// 2. 初始化 Logger
	log := newLogger(cfg)
	log.WithField("node_id", cfg.NodeID).Info("Configuration loaded successfully")

	// 3. 初始化基础设施
	log.Info("Initializing infrastructure...")
	db, err := setup.InitDB(setup.DBOptions{
		Driver:   cfg.DBDriver,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		Name:     cfg.DBName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init DB: %w", err)
	}
	if err := setup.MigrateDB(db); err != nil {
		return nil, fmt.Errorf("failed to migrate DB: %w", err)
	}
	log.Info("Database migrated")

	ctx := context.Background()
	stateClient, err := setup.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to init Redis: %w", err)
	}
	// 订阅连接进入 pub/sub 模式后不能再发普通命令，发布和订阅各用一个客户端
	pubClient, err := setup.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		_ = stateClient.Close()
		return nil, fmt.Errorf("failed to init Redis publisher: %w", err)
	}
	subClient, err := setup.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		_ = stateClient.Close()
		_ = pubClient.Close()
		return nil, fmt.Errorf("failed to init Redis subscriber: %w", err)
	}

	redisClientOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	asynqClient := asynq.NewClient(redisClientOpt)

	blobStore, err := blob.NewLocalStore(cfg.BlobDir)
	if err != nil {
		return nil, fmt.Errorf("failed to init blob store: %w", err)
	}
	log.Info("Infrastructure initialized successfully")

	// 4. 初始化 Repositories
	userRepo := gormpersistence.NewGormUserRepository(db)
	courseRepo := gormpersistence.NewGormCourseRepository(db) // 同时实现 EnrollmentRepository
	sessionRepo := gormpersistence.NewGormSessionRepository(db)
	questionRepo := gormpersistence.NewGormQuestionRepository(db)
	answerRepo := gormpersistence.NewGormAnswerRepository(db)
	slideRepo := gormpersistence.NewGormSlideRepository(db)
	stateRepo := redisstate.NewRedisStateRepository(stateClient, cfg.KeyPrefix)
	log.Info("Repositories initialized")

	// 5. 初始化 Hub 和跨节点广播
	hubInstance := hub.NewHub()
	fanout := hub.NewFanout(hubInstance, pubClient, subClient, cfg.KeyPrefix, cfg.NodeID)

	// 6. 初始化 Services
	authService, err := service.NewAuthService(userRepo, cfg.JWTSecret, cfg.JWTExpiryHours)
	if err != nil {
		return nil, fmt.Errorf("failed to create AuthService: %w", err)
	}
	limiter := service.NewRateLimiter(stateRepo, nil)
	courseService := service.NewCourseService(courseRepo, courseRepo, limiter, fanout)
	sessionService := service.NewSessionService(sessionRepo, courseRepo, courseRepo, slideRepo, limiter, fanout)
	questionService := service.NewQuestionService(questionRepo, sessionRepo, courseRepo, limiter, fanout)
	answerService := service.NewAnswerService(answerRepo, questionRepo, sessionRepo, courseRepo, userRepo, limiter, fanout)
	slideService := service.NewSlideService(slideRepo, sessionRepo, courseRepo, blobStore,
		tasks.NewEnqueuer(asynqClient), cfg.MaxUploadBytes, cfg.PDFValidationTimeout)
	log.Info("Services initialized")

	// 7. 初始化 Handlers
	handlers := routeHandlers{
		auth:     httpHandler.NewAuthHandler(authService),
		course:   httpHandler.NewCourseHandler(courseService),
		session:  httpHandler.NewSessionHandler(sessionService, slideService),
		question: httpHandler.NewQuestionHandler(questionService, answerService),
		ws: wsHandler.NewWebSocketHandler(hubInstance, fanout, authService,
			sessionService, questionService, answerService, cfg.CORSAllowedOrigin),
		tokens: authService,
		state:  stateRepo,
	}

	// 8. 初始化 Worker Server
	workerServer := worker.NewWorkerServer(redisClientOpt, slideService, worker.Options{SweepMinAge: time.Hour}, log)

	// 9. 初始化 Gin Engine 和路由
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := newRouter(cfg, log, handlers)
	log.Info("Router setup complete")

	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		Config:      cfg,
		Log:         log,
		DB:          db,
		RedisClient: stateClient,
		AsynqClient: asynqClient,
		AsynqServer: workerServer,
		Hub:         hubInstance,
		Fanout:      fanout,
		HttpServer:  httpServer,
	}, nil
}

func newLogger(cfg *Config) *logrus.Logger {
	log := logrus.New()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})
	}
	level, _ := logrus.ParseLevel(cfg.LogLevel) // LoadConfig 已校验
	log.SetLevel(level)
	log.SetOutput(os.Stdout)

	// 各组件使用包级 logrus，保持同样的格式和级别
	logrus.SetFormatter(log.Formatter)
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stdout)
	return log
}

// Start 启动 Hub、广播订阅、Worker 和 HTTP 服务器。
// 广播订阅确认之前 WebSocket 握手返回 503。
func (a *App) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	go a.Hub.Run(ctx)
	a.Log.Info("Hub routine started")

	if err := a.Fanout.Start(ctx); err != nil {
		return fmt.Errorf("failed to start fan-out subscription: %w", err)
	}
	a.Log.WithField("node_id", a.Fanout.NodeID()).Info("Fan-out subscription confirmed")

	if err := a.AsynqServer.Start(); err != nil {
		return fmt.Errorf("failed to start worker server: %w", err)
	}
	a.Log.Info("Asynq worker server started")

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
	return nil
}

// Shutdown 优雅地关闭应用
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")

	// 1. 先停止接收新请求
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	} else {
		a.Log.Info("HTTP server shut down gracefully.")
	}

	// 2. 停止广播订阅和 Hub，Hub 退出时关闭所有客户端连接
	if err := a.Fanout.Close(); err != nil {
		a.Log.Errorf("Error closing fan-out: %v", err)
	}
	if a.cancel != nil {
		a.cancel()
	}

	// 3. 优雅关闭 Worker Server
	if a.AsynqServer != nil {
		a.AsynqServer.Shutdown()
	}

	// 4. 关闭 Asynq Client 和 Redis 连接
	if a.AsynqClient != nil {
		if err := a.AsynqClient.Close(); err != nil {
			a.Log.Errorf("Error closing Asynq client: %v", err)
		}
	}
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		}
	}

	// 5. 关闭数据库连接池
	if sqlDB, err := a.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			a.Log.Errorf("Error closing database connection: %v", err)
		}
	}

	a.Log.Info("Application shutdown complete.")
}
