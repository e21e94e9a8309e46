package worker

import (
	"context"
	"errors"

	"claireportal/internal/config"
	"claireportal/internal/infra"
	"claireportal/internal/metrics"
	"claireportal/internal/worker/handlers"
	"claireportal/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

func NewServer(
	redisCfg config.RedisConfig,
	workerCfg config.WorkerConfig,
	highlighter handlers.HighlightRunner,
	logger *zap.Logger,
) *Server {
	concurrency := workerCfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}

	highlightHandler := handlers.NewHighlightHandler(highlighter, logger)
	srv := asynq.NewServer(
		infra.AsynqRedisOpt(redisCfg),
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				tasks.QueueHighlight: 6,
				tasks.QueueDefault:   1,
			},
			ErrorHandler: errorHandler(highlightHandler, logger),
			Logger:       zapAsynqLogger{logger.Sugar()},
		},
	)

	return &Server{
		server: srv,
		mux:    newMux(highlightHandler),
		logger: logger,
	}
}

// NewMux 注册全部任务处理器
func NewMux(highlighter handlers.HighlightRunner, logger *zap.Logger) *asynq.ServeMux {
	return newMux(handlers.NewHighlightHandler(highlighter, logger))
}

func newMux(highlightHandler *handlers.HighlightHandler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeHighlightExecution, highlightHandler.HandleHighlightExecution)
	return mux
}

// errorHandler 记录失败指标；任务不再重试时交给处理器写入失败标记
func errorHandler(highlightHandler *handlers.HighlightHandler, logger *zap.Logger) asynq.ErrorHandlerFunc {
	return func(ctx context.Context, task *asynq.Task, err error) {
		metrics.BackgroundJobFailures.WithLabelValues(task.Type()).Inc()
		final := finalAttempt(ctx, err)
		logger.Error("任务执行失败",
			zap.String("type", task.Type()),
			zap.Bool("final", final),
			zap.Error(err),
		)
		highlightHandler.RecordFailure(ctx, task, err, final)
	}
}

// finalAttempt SkipRetry 或重试次数达到上限时任务会被归档
func finalAttempt(ctx context.Context, err error) bool {
	if errors.Is(err, asynq.SkipRetry) {
		return true
	}
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return false
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	return ok && retried >= maxRetry
}

// Run 启动 Worker 服务器（阻塞直到收到信号）
func (s *Server) Run() error {
	s.logger.Info("Worker 服务器启动中...")
	return s.server.Run(s.mux)
}

// Start 非阻塞启动
func (s *Server) Start() error {
	s.logger.Info("Worker 服务器启动中 (后台)...")
	return s.server.Start(s.mux)
}

// Shutdown 停止 Worker 服务器
func (s *Server) Shutdown() {
	s.logger.Info("Worker 服务器停止中...")
	s.server.Shutdown()
}

type zapAsynqLogger struct {
	s *zap.SugaredLogger
}

func (l zapAsynqLogger) Debug(args ...interface{}) { l.s.Debug(args...) }
func (l zapAsynqLogger) Info(args ...interface{})  { l.s.Info(args...) }
func (l zapAsynqLogger) Warn(args ...interface{})  { l.s.Warn(args...) }
func (l zapAsynqLogger) Error(args ...interface{}) { l.s.Error(args...) }
func (l zapAsynqLogger) Fatal(args ...interface{}) { l.s.Fatal(args...) }
