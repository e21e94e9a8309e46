// Package queue 基于 asynq 的任务投递
package queue

import (
	"context"
	"fmt"

	"claireportal/internal/config"
	"claireportal/internal/infra"
	"claireportal/internal/worker/tasks"

	"github.com/hibiken/asynq"
)

// Client 任务投递
type Client interface {
	EnqueueHighlightExecution(ctx context.Context, payload tasks.HighlightExecutionPayload) error
	Close() error
}

type asynqClient struct {
	client *asynq.Client
}

// NewClient 与 worker 使用同一 Redis 连接配置
func NewClient(cfg config.RedisConfig) Client {
	return &asynqClient{client: asynq.NewClient(infra.AsynqRedisOpt(cfg))}
}

func (c *asynqClient) EnqueueHighlightExecution(ctx context.Context, payload tasks.HighlightExecutionPayload) error {
	task, err := tasks.NewHighlightTask(payload)
	if err != nil {
		return err
	}
	if _, err := c.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue %s failed: %w", task.Type(), err)
	}
	return nil
}

func (c *asynqClient) Close() error {
	return c.client.Close()
}
