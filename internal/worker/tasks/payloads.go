// Package tasks 定义异步任务类型、队列与载荷编解码
package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const TypeHighlightExecution = "execution:highlight"

const (
	QueueHighlight = "highlight"
	QueueDefault   = "default"
)

// HighlightExecutionPayload 执行结果高亮任务载荷
type HighlightExecutionPayload struct {
	ExecutionID string `json:"execution_id"`
	PlayCode    string `json:"play_code,omitempty"`
}

// ErrExecutionGone 执行记录已不存在，重试无意义
var ErrExecutionGone = errors.New("execution not found")

// NewHighlightTask 高亮为纯计算，失败多为存储抖动，重试 2 次
func NewHighlightTask(p HighlightExecutionPayload) (*asynq.Task, error) {
	if p.ExecutionID == "" {
		return nil, errors.New("missing execution_id")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload failed: %w", err)
	}
	return asynq.NewTask(TypeHighlightExecution, data,
		asynq.Queue(QueueHighlight),
		asynq.MaxRetry(2),
		asynq.Timeout(2*time.Minute),
	), nil
}

// ParseHighlightTask 载荷非法时包装 asynq.SkipRetry
func ParseHighlightTask(t *asynq.Task) (HighlightExecutionPayload, error) {
	var p HighlightExecutionPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("json unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	if p.ExecutionID == "" {
		return p, fmt.Errorf("missing execution_id: %w", asynq.SkipRetry)
	}
	return p, nil
}
