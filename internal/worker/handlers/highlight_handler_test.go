package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"claireportal/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeRunner struct {
	called  bool
	execID  string
	retErr  error
	failed  map[string]string
	markErr error
	ctxErr  error
}

func (f *fakeRunner) MarkHighlightFailed(ctx context.Context, executionID, msg string) error {
	f.ctxErr = ctx.Err()
	if f.markErr != nil {
		return f.markErr
	}
	if f.failed == nil {
		f.failed = map[string]string{}
	}
	f.failed[executionID] = msg
	return nil
}

func (f *fakeRunner) RunHighlight(ctx context.Context, executionID string) error {
	f.called = true
	f.execID = executionID
	return f.retErr
}

func newTask(t *testing.T, p tasks.HighlightExecutionPayload) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(p)
	require.NoError(t, err)
	return asynq.NewTask(tasks.TypeHighlightExecution, payload)
}

func TestHighlightHandler_Success(t *testing.T) {
	runner := &fakeRunner{}
	h := NewHighlightHandler(runner, zaptest.NewLogger(t))

	err := h.HandleHighlightExecution(context.Background(), newTask(t, tasks.HighlightExecutionPayload{ExecutionID: "exec-1"}))
	require.NoError(t, err)
	assert.True(t, runner.called)
	assert.Equal(t, "exec-1", runner.execID)
}

func TestHighlightHandler_RunError(t *testing.T) {
	expectedErr := errors.New("boom")
	runner := &fakeRunner{retErr: expectedErr}
	h := NewHighlightHandler(runner, zaptest.NewLogger(t))

	err := h.HandleHighlightExecution(context.Background(), newTask(t, tasks.HighlightExecutionPayload{ExecutionID: "exec-2"}))
	assert.ErrorIs(t, err, expectedErr)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestHighlightHandler_MissingExecutionSkipsRetry(t *testing.T) {
	runner := &fakeRunner{retErr: tasks.ErrExecutionGone}
	h := NewHighlightHandler(runner, zaptest.NewLogger(t))

	err := h.HandleHighlightExecution(context.Background(), newTask(t, tasks.HighlightExecutionPayload{ExecutionID: "gone"}))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.ErrorIs(t, err, tasks.ErrExecutionGone)
}

func TestHighlightHandler_InvalidPayload(t *testing.T) {
	runner := &fakeRunner{}
	h := NewHighlightHandler(runner, zaptest.NewLogger(t))

	t.Run("非 JSON 载荷", func(t *testing.T) {
		err := h.HandleHighlightExecution(context.Background(), asynq.NewTask(tasks.TypeHighlightExecution, []byte("not-json")))
		assert.ErrorIs(t, err, asynq.SkipRetry)
	})
	t.Run("缺少 execution_id", func(t *testing.T) {
		err := h.HandleHighlightExecution(context.Background(), newTask(t, tasks.HighlightExecutionPayload{}))
		assert.ErrorIs(t, err, asynq.SkipRetry)
	})
	assert.False(t, runner.called)
}

func TestHighlightHandler_RecordFailure(t *testing.T) {
	task := newTask(t, tasks.HighlightExecutionPayload{ExecutionID: "exec-3"})

	t.Run("仍会重试时不写标记", func(t *testing.T) {
		runner := &fakeRunner{}
		h := NewHighlightHandler(runner, zaptest.NewLogger(t))
		h.RecordFailure(context.Background(), task, errors.New("db down"), false)
		assert.Empty(t, runner.failed)
	})

	t.Run("重试耗尽后写入失败标记", func(t *testing.T) {
		runner := &fakeRunner{}
		h := NewHighlightHandler(runner, zaptest.NewLogger(t))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		h.RecordFailure(ctx, task, errors.New("db down"), true)
		assert.Equal(t, map[string]string{"exec-3": "db down"}, runner.failed)
		assert.NoError(t, runner.ctxErr)
	})

	t.Run("载荷无效或类型不符时忽略", func(t *testing.T) {
		runner := &fakeRunner{}
		h := NewHighlightHandler(runner, zaptest.NewLogger(t))
		h.RecordFailure(context.Background(), asynq.NewTask(tasks.TypeHighlightExecution, []byte("not-json")), errors.New("x"), true)
		h.RecordFailure(context.Background(), asynq.NewTask("other:type", nil), errors.New("x"), true)
		assert.Empty(t, runner.failed)
	})

	t.Run("写入失败只记日志", func(t *testing.T) {
		runner := &fakeRunner{markErr: errors.New("still down")}
		h := NewHighlightHandler(runner, zaptest.NewLogger(t))
		assert.NotPanics(t, func() {
			h.RecordFailure(context.Background(), task, errors.New("db down"), true)
		})
	})
}
