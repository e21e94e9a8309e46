package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"claireportal/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// HighlightRunner 高亮执行器抽象，便于注入 mock
type HighlightRunner interface {
	RunHighlight(ctx context.Context, executionID string) error
	// MarkHighlightFailed 任务不再重试时写入失败标记
	MarkHighlightFailed(ctx context.Context, executionID, msg string) error
}

const failureWriteTimeout = 5 * time.Second

type HighlightHandler struct {
	runner HighlightRunner
	logger *zap.Logger
}

func NewHighlightHandler(runner HighlightRunner, logger *zap.Logger) *HighlightHandler {
	return &HighlightHandler{
		runner: runner,
		logger: logger,
	}
}

func (h *HighlightHandler) HandleHighlightExecution(ctx context.Context, t *asynq.Task) error {
	p, err := tasks.ParseHighlightTask(t)
	if err != nil {
		return err
	}

	h.logger.Info("开始高亮执行结果",
		zap.String("execution_id", p.ExecutionID),
		zap.String("play_code", p.PlayCode),
	)

	if err := h.runner.RunHighlight(ctx, p.ExecutionID); err != nil {
		h.logger.Error("高亮任务失败",
			zap.String("execution_id", p.ExecutionID),
			zap.Error(err),
		)
		if errors.Is(err, tasks.ErrExecutionGone) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}

	h.logger.Info("高亮任务完成", zap.String("execution_id", p.ExecutionID))
	return nil
}

// RecordFailure final 为 true 表示任务不会再被重试，此时写入失败标记
// 任务上下文可能已超时，写入使用独立的上下文
func (h *HighlightHandler) RecordFailure(ctx context.Context, t *asynq.Task, taskErr error, final bool) {
	if !final || t.Type() != tasks.TypeHighlightExecution {
		return
	}
	p, err := tasks.ParseHighlightTask(t)
	if err != nil || p.ExecutionID == "" {
		return
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()
	if err := h.runner.MarkHighlightFailed(wctx, p.ExecutionID, taskErr.Error()); err != nil {
		h.logger.Error("写入高亮失败标记失败",
			zap.String("execution_id", p.ExecutionID),
			zap.Error(err),
		)
		return
	}
	h.logger.Warn("高亮任务重试耗尽，已标记失败", zap.String("execution_id", p.ExecutionID))
}
