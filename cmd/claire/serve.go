package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"claireportal/api"
	"claireportal/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	var withWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (and the highlight worker)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if a.cfg.Database.AutoMigrate {
				if err := a.migrate(ctx); err != nil {
					return err
				}
			} else {
				logger.Info("跳过自动迁移（配置已禁用）")
			}

			gin.SetMode(a.cfg.Server.Mode)
			server := &http.Server{
				Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
				Handler:      api.SetupRouter(a.container),
				ReadTimeout:  time.Duration(a.cfg.Server.ReadTimeout) * time.Second,
				WriteTimeout: time.Duration(a.cfg.Server.WriteTimeout) * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				logger.Info("HTTP 服务器启动", zap.Int("port", a.cfg.Server.Port))
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("HTTP 服务器异常: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				a.container.RateLimiter.Run(gctx)
				return nil
			})
			if withWorker {
				// 队列不可用时只影响异步高亮，API 继续服务
				if err := a.container.WorkerServer.Start(); err != nil {
					logger.Error("Worker 启动失败，高亮任务将积压", zap.Error(err))
				} else {
					defer a.container.WorkerServer.Shutdown()
				}
			}
			g.Go(func() error {
				<-gctx.Done()
				logger.Info("正在关闭服务器...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			})

			err = g.Wait()
			logger.Info("服务器已安全关闭")
			return err
		},
	}
	cmd.Flags().BoolVar(&withWorker, "worker", true, "also run the highlight worker in-process")
	return cmd
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run only the highlight worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			// asynq 自行处理 SIGINT/SIGTERM
			return a.container.WorkerServer.Run()
		},
	}
}
