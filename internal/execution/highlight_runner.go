package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"claireportal/internal/gtm"
	"claireportal/internal/metrics"
	"claireportal/internal/worker/tasks"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const failureWriteTimeout = 5 * time.Second

// RunHighlight 对执行输出做分类高亮并回写
// 内容在高亮期间被修改时放弃本次结果，由修改触发的新任务负责
func (s *Service) RunHighlight(ctx context.Context, executionID string) error {
	var rec PlayExecution
	err := s.DB.WithContext(ctx).Where("id = ?", executionID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tasks.ErrExecutionGone
	}
	if err != nil {
		s.recordHighlightFailure(ctx, executionID, err)
		return fmt.Errorf("load execution: %w", err)
	}

	if err := s.setHighlightState(ctx, rec.ID, HighlightInProgress, ""); err != nil {
		s.recordHighlightFailure(ctx, rec.ID, err)
		return fmt.Errorf("mark in progress: %w", err)
	}

	ws, err := s.workspaces.Latest(ctx, rec.UserID)
	if err != nil {
		s.logger.Warn("高亮时未取到工作区，仅使用执行上下文",
			zap.String("execution_id", rec.ID), zap.Error(err))
		ws = nil
	}

	var rc RuntimeContext
	if len(rec.RuntimeContext) > 0 {
		if err := json.Unmarshal(rec.RuntimeContext, &rc); err != nil {
			s.logger.Warn("执行上下文解析失败", zap.String("execution_id", rec.ID), zap.Error(err))
		}
	}
	hctx := gtm.EnrichHighlightContext(ws, rc.HighlightContext())

	content := rec.Output.Data().Content
	result := s.highlighter.Highlight(content, hctx, rec.PlayCode)
	status := HighlightNoHighlights
	html := content
	if result.HasHighlights {
		status = HighlightCompleted
		html = result.HTML
	}

	stale := false
	err = s.Transaction(ctx, func(tx *gorm.DB) error {
		var current PlayExecution
		if err := tx.Where("id = ?", rec.ID).First(&current).Error; err != nil {
			return err
		}
		out := current.Output.Data()
		if out.Content != content {
			stale = true
			return nil
		}
		out.HighlightedHTML = html
		return tx.Model(&PlayExecution{}).Where("id = ?", rec.ID).Updates(map[string]interface{}{
			"output":              datatypes.NewJSONType(out),
			"highlighting_status": status,
			"highlighting_error":  "",
		}).Error
	})
	if err != nil {
		metrics.HighlightJobsTotal.WithLabelValues(string(HighlightFailed)).Inc()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tasks.ErrExecutionGone
		}
		s.recordHighlightFailure(ctx, rec.ID, err)
		return fmt.Errorf("save highlight: %w", err)
	}
	if stale {
		s.logger.Info("输出已被修改，丢弃本次高亮", zap.String("execution_id", rec.ID))
		return nil
	}

	metrics.HighlightJobsTotal.WithLabelValues(string(status)).Inc()
	s.logger.Info("高亮完成",
		zap.String("execution_id", rec.ID),
		zap.String("status", string(status)),
		zap.Int("spans", len(result.Spans)),
	)
	return nil
}

// MarkHighlightFailed 重试耗尽后写入失败标记；已完成的结果不覆盖
func (s *Service) MarkHighlightFailed(ctx context.Context, executionID, msg string) error {
	return s.DB.WithContext(ctx).Model(&PlayExecution{}).
		Where("id = ? AND highlighting_status IN ?", executionID,
			[]HighlightStatus{HighlightPending, HighlightInProgress, HighlightFailed}).
		Updates(map[string]interface{}{
			"highlighting_status": HighlightFailed,
			"highlighting_error":  msg,
		}).Error
}

// recordHighlightFailure 任务上下文可能已取消，失败标记用独立的超时上下文写入
func (s *Service) recordHighlightFailure(ctx context.Context, executionID string, cause error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()
	if err := s.setHighlightState(wctx, executionID, HighlightFailed, cause.Error()); err != nil {
		s.logger.Error("记录高亮失败状态失败", zap.String("execution_id", executionID), zap.Error(err))
	}
}
