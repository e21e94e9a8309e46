package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"claireportal/internal/worker/handlers"
	"claireportal/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingRunner struct {
	mu     sync.Mutex
	ids    []string
	failed []string
}

func (r *recordingRunner) MarkHighlightFailed(ctx context.Context, executionID, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, executionID+": "+msg)
	return nil
}

func (r *recordingRunner) RunHighlight(ctx context.Context, executionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, executionID)
	return nil
}

func TestNewMux_RoutesHighlightTask(t *testing.T) {
	runner := &recordingRunner{}
	mux := NewMux(runner, zaptest.NewLogger(t))

	payload, err := json.Marshal(tasks.HighlightExecutionPayload{ExecutionID: "exec-9"})
	require.NoError(t, err)

	require.NoError(t, mux.ProcessTask(context.Background(), asynq.NewTask(tasks.TypeHighlightExecution, payload)))
	assert.Equal(t, []string{"exec-9"}, runner.ids)
}

func TestNewMux_UnknownTaskType(t *testing.T) {
	mux := NewMux(&recordingRunner{}, zaptest.NewLogger(t))
	err := mux.ProcessTask(context.Background(), asynq.NewTask("unknown:type", nil))
	assert.Error(t, err)
}

func TestErrorHandler_MarksFinalFailure(t *testing.T) {
	payload, err := json.Marshal(tasks.HighlightExecutionPayload{ExecutionID: "exec-7"})
	require.NoError(t, err)
	task := asynq.NewTask(tasks.TypeHighlightExecution, payload)

	t.Run("还会重试时不标记", func(t *testing.T) {
		runner := &recordingRunner{}
		logger := zaptest.NewLogger(t)
		errorHandler(handlers.NewHighlightHandler(runner, logger), logger).
			HandleError(context.Background(), task, errors.New("db down"))
		assert.Empty(t, runner.failed)
	})

	t.Run("跳过重试时标记失败", func(t *testing.T) {
		runner := &recordingRunner{}
		logger := zaptest.NewLogger(t)
		cause := fmt.Errorf("save highlight: %w", asynq.SkipRetry)
		errorHandler(handlers.NewHighlightHandler(runner, logger), logger).
			HandleError(context.Background(), task, cause)
		assert.Equal(t, []string{"exec-7: " + cause.Error()}, runner.failed)
	})
}

func TestFinalAttempt(t *testing.T) {
	assert.False(t, finalAttempt(context.Background(), errors.New("boom")))
	assert.True(t, finalAttempt(context.Background(), fmt.Errorf("gone: %w", asynq.SkipRetry)))
}
