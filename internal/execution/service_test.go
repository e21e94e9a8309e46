package execution

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"claireportal/internal/approval"
	"claireportal/internal/common"
	"claireportal/internal/dispatch"
	"claireportal/internal/octave"
	"claireportal/internal/plays"
	"claireportal/internal/testutil"
	"claireportal/internal/worker/tasks"
	"claireportal/internal/workspace"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const testUser = "user-1"

type fakeWorkspaces struct {
	ws  *workspace.ClientWorkspace
	err error
}

func (f *fakeWorkspaces) Latest(ctx context.Context, userID string) (*workspace.ClientWorkspace, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.ws, nil
}

func (f *fakeWorkspaces) Credentials(ctx context.Context, userID string) (*workspace.ClientWorkspace, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return f.ws, "key-123", nil
}

type fakeRunner struct {
	content string
	err     error
	got     []dispatch.Request
}

func (f *fakeRunner) Run(ctx context.Context, req dispatch.Request) (*dispatch.Result, error) {
	f.got = append(f.got, req)
	if f.err != nil {
		return nil, f.err
	}
	return &dispatch.Result{
		Agent:       octave.Agent{OID: "ag-1", Name: "Claire 9001"},
		Endpoint:    octave.EndpointContent,
		Content:     f.content,
		JSONContent: json.RawMessage(`{"k":"v"}`),
		Data:        &octave.RunData{Persona: json.RawMessage(`{"name":"VP of Sales"}`)},
	}, nil
}

type fakeQueue struct {
	mu       sync.Mutex
	payloads []tasks.HighlightExecutionPayload
	err      error
}

func (f *fakeQueue) EnqueueHighlightExecution(ctx context.Context, p tasks.HighlightExecutionPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.payloads = append(f.payloads, p)
	return nil
}

type fixture struct {
	svc    *Service
	db     *gorm.DB
	runner *fakeRunner
	queue  *fakeQueue
}

func setup(t *testing.T, withQueue bool) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t, &PlayExecution{}, &plays.Play{}, &approval.Approval{}, &workspace.ClientWorkspace{})
	ws := &fakeWorkspaces{ws: &workspace.ClientWorkspace{
		ID:            "ws-1",
		UserID:        testUser,
		WorkspaceOID:  "wo-1",
		CompanyName:   "Acme",
		CompanyDomain: "acme.com",
	}}
	runner := &fakeRunner{content: "Hi there, as a VP of Sales you know the drill."}
	f := &fixture{db: db, runner: runner}
	var q Enqueuer
	if withQueue {
		f.queue = &fakeQueue{}
		q = f.queue
	}
	logger := zaptest.NewLogger(t)
	f.svc = NewService(db, ws, runner, plays.NewCatalog(db, nil, nil, logger), q, nil, logger)
	return f
}

func runtimeContext() json.RawMessage {
	return json.RawMessage(`{"personas":[{"oId":"p1","name":"VP of Sales"}],"useCases":[],"clientReferences":[],"customInput":"focus on Q3"}`)
}

func TestService_Execute(t *testing.T) {
	ctx := context.Background()

	t.Run("缺少参数", func(t *testing.T) {
		f := setup(t, true)
		_, err := f.svc.Execute(ctx, ExecuteInput{UserID: testUser, PlayCode: "9001"})
		require.Error(t, err)
		assert.Equal(t, MsgRequired, err.Error())
		assert.Equal(t, common.CodeInvalidRequest, common.CodeOf(err))

		_, err = f.svc.Execute(ctx, ExecuteInput{UserID: testUser, PlayCode: "9001", RuntimeContext: json.RawMessage(`[1]`)})
		assert.Equal(t, common.CodeInvalidRequest, common.CodeOf(err))
		assert.Empty(t, f.runner.got)
	})

	t.Run("保存草稿并排队高亮", func(t *testing.T) {
		f := setup(t, true)
		res, err := f.svc.Execute(ctx, ExecuteInput{UserID: testUser, PlayCode: "9001", RuntimeContext: runtimeContext()})
		require.NoError(t, err)
		assert.NotEmpty(t, res.ID)
		assert.Equal(t, "Claire 9001", res.AgentName)
		assert.Equal(t, res.Output.Content, res.Output.HighlightedHTML)
		assert.JSONEq(t, `{"name":"VP of Sales"}`, string(res.Output.MatchedPersona))

		require.Len(t, f.runner.got, 1)
		req := f.runner.got[0]
		assert.Equal(t, "key-123", req.APIKey)
		assert.Equal(t, "Acme", req.CompanyName)
		assert.Equal(t, "focus on Q3", req.Context["customInput"])
		assert.Equal(t, false, req.Context["isRefinement"])

		require.Len(t, f.queue.payloads, 1)
		assert.Equal(t, tasks.HighlightExecutionPayload{ExecutionID: res.ID, PlayCode: "9001"}, f.queue.payloads[0])

		var rec PlayExecution
		require.NoError(t, f.db.First(&rec, "id = ?", res.ID).Error)
		assert.Equal(t, StatusDraft, rec.Status)
		assert.Equal(t, HighlightPending, rec.HighlightingStatus)
		assert.Equal(t, "wo-1", rec.WorkspaceOID)
		assert.NotEmpty(t, rec.PlayID)

		var play plays.Play
		require.NoError(t, f.db.First(&play, "code = ?", "9001").Error)
		assert.Equal(t, rec.PlayID, play.ID)
	})

	t.Run("优化提示覆盖自定义输入", func(t *testing.T) {
		f := setup(t, true)
		_, err := f.svc.Execute(ctx, ExecuteInput{
			UserID:           testUser,
			PlayCode:         "9001",
			RuntimeContext:   runtimeContext(),
			RefinementPrompt: "shorter please",
		})
		require.NoError(t, err)
		req := f.runner.got[0]
		assert.Equal(t, "shorter please", req.Context["customInput"])
		assert.Equal(t, true, req.Context["isRefinement"])
	})

	t.Run("智能体失败不落库", func(t *testing.T) {
		f := setup(t, true)
		f.runner.err = common.ErrUpstream("Failed to run agent", errors.New("502"))
		_, err := f.svc.Execute(ctx, ExecuteInput{UserID: testUser, PlayCode: "9001", RuntimeContext: runtimeContext()})
		require.Error(t, err)
		assert.Equal(t, common.CodeUpstreamFailed, common.CodeOf(err))

		var count int64
		f.db.Model(&PlayExecution{}).Count(&count)
		assert.Zero(t, count)
	})

	t.Run("入队失败记录高亮失败", func(t *testing.T) {
		f := setup(t, true)
		f.queue.err = errors.New("redis down")
		res, err := f.svc.Execute(ctx, ExecuteInput{UserID: testUser, PlayCode: "9001", RuntimeContext: runtimeContext()})
		require.NoError(t, err)

		var rec PlayExecution
		require.NoError(t, f.db.First(&rec, "id = ?", res.ID).Error)
		assert.Equal(t, HighlightFailed, rec.HighlightingStatus)
		assert.Contains(t, rec.HighlightingError, "redis down")
	})
}

func TestService_InlineHighlight(t *testing.T) {
	ctx := context.Background()
	f := setup(t, false)

	res, err := f.svc.Execute(ctx, ExecuteInput{UserID: testUser, PlayCode: "9001", RuntimeContext: runtimeContext()})
	require.NoError(t, err)

	view, err := f.svc.Get(ctx, testUser, res.ID)
	require.NoError(t, err)
	assert.Equal(t, HighlightCompleted, view.HighlightingStatus)
	assert.Contains(t, view.Output.HighlightedHTML, `<span class="bg-highlight-persona`)
	assert.Equal(t, res.Output.Content, view.Output.Content)
	require.NotNil(t, view.Play)
	assert.Equal(t, "9001", view.Play.Code)
}

func TestService_RunHighlight(t *testing.T) {
	ctx := context.Background()

	t.Run("记录不存在", func(t *testing.T) {
		f := setup(t, true)
		err := f.svc.RunHighlight(ctx, "missing")
		assert.ErrorIs(t, err, tasks.ErrExecutionGone)
	})

	t.Run("无命中", func(t *testing.T) {
		f := setup(t, true)
		f.runner.content = "Nothing to see <here>"
		res, err := f.svc.Execute(ctx, ExecuteInput{UserID: testUser, PlayCode: "9001", RuntimeContext: json.RawMessage(`{}`)})
		require.NoError(t, err)

		require.NoError(t, f.svc.RunHighlight(ctx, res.ID))
		var rec PlayExecution
		require.NoError(t, f.db.First(&rec, "id = ?", res.ID).Error)
		assert.Equal(t, HighlightNoHighlights, rec.HighlightingStatus)
		assert.Equal(t, "Nothing to see <here>", rec.Output.Data().HighlightedHTML)
	})

	t.Run("工作区缺失时仍可高亮", func(t *testing.T) {
		f := setup(t, true)
		res, err := f.svc.Execute(ctx, ExecuteInput{UserID: testUser, PlayCode: "9001", RuntimeContext: runtimeContext()})
		require.NoError(t, err)

		f.svc.workspaces = &fakeWorkspaces{err: workspace.ErrNoWorkspace}
		require.NoError(t, f.svc.RunHighlight(ctx, res.ID))
		var rec PlayExecution
		require.NoError(t, f.db.First(&rec, "id = ?", res.ID).Error)
		assert.Equal(t, HighlightCompleted, rec.HighlightingStatus)
	})

	t.Run("读取失败时留下失败标记", func(t *testing.T) {
		f := setup(t, true)
		res, err := f.svc.Execute(ctx, ExecuteInput{UserID: testUser, PlayCode: "9001", RuntimeContext: runtimeContext()})
		require.NoError(t, err)

		canceled, cancel := context.WithCancel(ctx)
		cancel()
		err = f.svc.RunHighlight(canceled, res.ID)
		require.Error(t, err)
		assert.NotErrorIs(t, err, tasks.ErrExecutionGone)

		var rec PlayExecution
		require.NoError(t, f.db.First(&rec, "id = ?", res.ID).Error)
		assert.Equal(t, HighlightFailed, rec.HighlightingStatus)
		assert.Contains(t, rec.HighlightingError, "context canceled")
	})
}

func TestService_MarkHighlightFailed(t *testing.T) {
	ctx := context.Background()
	f := setup(t, true)

	t.Run("进行中的任务标记为失败", func(t *testing.T) {
		res, err := f.svc.Execute(ctx, ExecuteInput{UserID: testUser, PlayCode: "9001", RuntimeContext: runtimeContext()})
		require.NoError(t, err)
		require.NoError(t, f.db.Model(&PlayExecution{}).Where("id = ?", res.ID).Update("highlighting_status", HighlightInProgress).Error)

		require.NoError(t, f.svc.MarkHighlightFailed(ctx, res.ID, "redis: connection refused"))
		var rec PlayExecution
		require.NoError(t, f.db.First(&rec, "id = ?", res.ID).Error)
		assert.Equal(t, HighlightFailed, rec.HighlightingStatus)
		assert.Equal(t, "redis: connection refused", rec.HighlightingError)
	})

	t.Run("已完成的结果不被覆盖", func(t *testing.T) {
		res, err := f.svc.Execute(ctx, ExecuteInput{UserID: testUser, PlayCode: "9001", RuntimeContext: runtimeContext()})
		require.NoError(t, err)
		require.NoError(t, f.svc.RunHighlight(ctx, res.ID))

		require.NoError(t, f.svc.MarkHighlightFailed(ctx, res.ID, "late failure"))
		var rec PlayExecution
		require.NoError(t, f.db.First(&rec, "id = ?", res.ID).Error)
		assert.Equal(t, HighlightCompleted, rec.HighlightingStatus)
		assert.Empty(t, rec.HighlightingError)
	})
}

func TestService_UpdateOutput(t *testing.T) {
	ctx := context.Background()
	f := setup(t, true)
	res, err := f.svc.Execute(ctx, ExecuteInput{UserID: testUser, PlayCode: "9001", RuntimeContext: runtimeContext()})
	require.NoError(t, err)

	t.Run("输出为空", func(t *testing.T) {
		_, err := f.svc.UpdateOutput(ctx, testUser, res.ID, UpdateOutputInput{Output: json.RawMessage(`""`)})
		require.Error(t, err)
		assert.Equal(t, MsgOutputRequired, err.Error())
	})

	t.Run("他人记录", func(t *testing.T) {
		_, err := f.svc.UpdateOutput(ctx, "user-2", res.ID, UpdateOutputInput{Output: json.RawMessage(`"x"`)})
		require.Error(t, err)
		assert.Equal(t, common.CodeNotFound, common.CodeOf(err))
		assert.Equal(t, MsgNotFoundOrDenied, err.Error())
	})

	t.Run("字符串输出", func(t *testing.T) {
		view, err := f.svc.UpdateOutput(ctx, testUser, res.ID, UpdateOutputInput{Output: json.RawMessage(`"edited copy"`)})
		require.NoError(t, err)
		assert.Equal(t, "edited copy", view.Output.Content)
		assert.Equal(t, "edited copy", view.Output.HighlightedHTML)
		assert.Equal(t, StatusDraft, view.Status)
		assert.Len(t, f.queue.payloads, 2)
	})

	t.Run("对象输出", func(t *testing.T) {
		view, err := f.svc.UpdateOutput(ctx, testUser, res.ID, UpdateOutputInput{
			Output: json.RawMessage(`{"content":"object copy","jsonContent":{"a":1}}`),
		})
		require.NoError(t, err)
		assert.Equal(t, "object copy", view.Output.Content)
		assert.JSONEq(t, `{"a":1}`, string(view.Output.JSONContent))
	})

	t.Run("待审批不可修改", func(t *testing.T) {
		require.NoError(t, f.db.Model(&PlayExecution{}).Where("id = ?", res.ID).Update("status", StatusPendingApproval).Error)
		_, err := f.svc.UpdateOutput(ctx, testUser, res.ID, UpdateOutputInput{Output: json.RawMessage(`"nope"`)})
		require.Error(t, err)
		assert.Equal(t, common.CodeConflict, common.CodeOf(err))
	})
}

func TestService_RequestHighlight(t *testing.T) {
	ctx := context.Background()
	f := setup(t, true)

	empty := &PlayExecution{UserID: testUser, PlayCode: "9001", Status: StatusDraft, Output: datatypes.NewJSONType(Output{})}
	require.NoError(t, f.db.Create(empty).Error)
	err := f.svc.RequestHighlight(ctx, testUser, empty.ID)
	require.Error(t, err)
	assert.Equal(t, MsgNothingToMark, err.Error())

	res, err := f.svc.Execute(ctx, ExecuteInput{UserID: testUser, PlayCode: "9001", RuntimeContext: runtimeContext()})
	require.NoError(t, err)
	require.NoError(t, f.svc.RequestHighlight(ctx, testUser, res.ID))
	assert.Len(t, f.queue.payloads, 2)

	err = f.svc.RequestHighlight(ctx, "user-2", res.ID)
	assert.Equal(t, common.CodeNotFound, common.CodeOf(err))
}

func TestService_ListAndCounts(t *testing.T) {
	ctx := context.Background()
	f := setup(t, true)

	var ids []string
	for _, code := range []string{"9001", "9001", "0001"} {
		res, err := f.svc.Execute(ctx, ExecuteInput{UserID: testUser, PlayCode: code, RuntimeContext: runtimeContext()})
		require.NoError(t, err)
		ids = append(ids, res.ID)
	}
	require.NoError(t, f.db.Model(&PlayExecution{}).Where("id = ?", ids[1]).Update("status", StatusPendingApproval).Error)

	all, err := f.svc.List(ctx, testUser, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	drafts, err := f.svc.List(ctx, testUser, ListFilter{Status: string(StatusDraft)})
	require.NoError(t, err)
	assert.Len(t, drafts, 2)

	allbound, err := f.svc.List(ctx, testUser, ListFilter{Category: string(plays.CategoryAllbound)})
	require.NoError(t, err)
	require.Len(t, allbound, 1)
	assert.Equal(t, "0001", allbound[0].PlayCode)

	page := &common.PaginationRequest{Page: 2, PageSize: 2}
	paged, err := f.svc.List(ctx, testUser, ListFilter{Page: page})
	require.NoError(t, err)
	assert.Len(t, paged, 1)

	others, err := f.svc.List(ctx, "user-2", ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, others)

	counts, err := f.svc.StatusCounts(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, StatusCount{Draft: 1, InProgress: 1, Total: 2}, counts["9001"])
	assert.Equal(t, StatusCount{Draft: 1, Total: 1}, counts["0001"])
}

func TestService_ApprovalFlow(t *testing.T) {
	ctx := context.Background()
	f := setup(t, true)
	mgr := approval.NewManager(f.db,
		approval.WithSubjectStore(approval.SubjectExecution, SubjectStore{}),
		approval.WithManagerLogger(zaptest.NewLogger(t)),
	)

	res, err := f.svc.Execute(ctx, ExecuteInput{UserID: testUser, PlayCode: "9001", RuntimeContext: runtimeContext()})
	require.NoError(t, err)

	a, err := mgr.RequestApproval(ctx, approval.RequestInput{SubjectID: res.ID, ActorID: testUser, ActorEmail: "c@acme.com"})
	require.NoError(t, err)

	view, err := f.svc.Get(ctx, testUser, res.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingApproval, view.Status)
	require.NotNil(t, view.Approval)
	assert.Equal(t, a.ShareableToken, view.Approval.ShareableToken)

	_, err = mgr.Decide(ctx, approval.DecideInput{ApprovalID: a.ID, Status: approval.StatusApproved, ActorID: testUser})
	require.NoError(t, err)

	view, err = f.svc.Get(ctx, testUser, res.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, view.Status)
	assert.NotNil(t, view.ApprovedAt)
	assert.Equal(t, approval.StatusApproved, view.Approval.Status)

	t.Run("没有通过记录时不显示 approved", func(t *testing.T) {
		other, err := f.svc.Execute(ctx, ExecuteInput{UserID: testUser, PlayCode: "9001", RuntimeContext: runtimeContext()})
		require.NoError(t, err)
		require.NoError(t, f.db.Model(&PlayExecution{}).Where("id = ?", other.ID).Update("status", StatusApproved).Error)

		view, err := f.svc.Get(ctx, testUser, other.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusPendingApproval, view.Status)
		assert.Nil(t, view.ApprovedAt)
	})

	t.Run("被拒绝后可再次编辑", func(t *testing.T) {
		b, err := mgr.RequestApproval(ctx, approval.RequestInput{SubjectID: res.ID, ActorID: testUser})
		require.NoError(t, err)
		_, err = mgr.Decide(ctx, approval.DecideInput{ApprovalID: b.ID, Status: approval.StatusRejected, ActorID: testUser})
		require.NoError(t, err)

		var rec PlayExecution
		require.NoError(t, f.db.First(&rec, "id = ?", res.ID).Error)
		assert.Equal(t, StatusRejected, rec.Status)
		assert.Nil(t, rec.ApprovedAt)

		_, err = f.svc.UpdateOutput(ctx, testUser, res.ID, UpdateOutputInput{Output: json.RawMessage(`"v2"`)})
		require.NoError(t, err)

		_, err = mgr.Decide(ctx, approval.DecideInput{ApprovalID: b.ID, Status: approval.StatusApproved, ActorID: testUser})
		assert.Equal(t, common.CodeConflict, common.CodeOf(err))

		view, err := f.svc.Get(ctx, testUser, res.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusDraft, view.Status)
		assert.Nil(t, view.ApprovedAt)
	})

	t.Run("旧审批在新审批通过后不能再决定", func(t *testing.T) {
		other, err := f.svc.Execute(ctx, ExecuteInput{UserID: testUser, PlayCode: "9001", RuntimeContext: runtimeContext()})
		require.NoError(t, err)
		first, err := mgr.RequestApproval(ctx, approval.RequestInput{SubjectID: other.ID, ActorID: testUser})
		require.NoError(t, err)
		_, err = mgr.Decide(ctx, approval.DecideInput{ApprovalID: first.ID, Status: approval.StatusRejected, ActorID: testUser})
		require.NoError(t, err)
		second, err := mgr.RequestApproval(ctx, approval.RequestInput{SubjectID: other.ID, ActorID: testUser})
		require.NoError(t, err)
		_, err = mgr.Decide(ctx, approval.DecideInput{ApprovalID: second.ID, Status: approval.StatusApproved, ActorID: testUser})
		require.NoError(t, err)

		_, err = mgr.Decide(ctx, approval.DecideInput{ApprovalID: first.ID, Status: approval.StatusRejected, ActorID: testUser})
		assert.Equal(t, common.CodeConflict, common.CodeOf(err))

		var rec PlayExecution
		require.NoError(t, f.db.First(&rec, "id = ?", other.ID).Error)
		assert.Equal(t, StatusApproved, rec.Status)
		assert.NotNil(t, rec.ApprovedAt)
	})

	t.Run("未提交审批的记录不能被决定", func(t *testing.T) {
		draft, err := f.svc.Execute(ctx, ExecuteInput{UserID: testUser, PlayCode: "9001", RuntimeContext: runtimeContext()})
		require.NoError(t, err)
		err = f.db.Transaction(func(tx *gorm.DB) error {
			return SubjectStore{}.SetSubjectStatus(ctx, tx, draft.ID, approval.StatusChange{To: string(StatusApproved), At: time.Now().UTC()})
		})
		assert.Equal(t, common.CodeConflict, common.CodeOf(err))
		err = f.db.Transaction(func(tx *gorm.DB) error {
			return SubjectStore{}.SetSubjectStatus(ctx, tx, draft.ID, approval.StatusChange{To: string(StatusApproved), Direct: true, At: time.Now().UTC()})
		})
		require.NoError(t, err)
	})
}

func TestOutput_HighlightedHTMLAlwaysPresent(t *testing.T) {
	raw, err := json.Marshal(Output{Content: "draft"})
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Contains(t, fields, "highlighted_html")
	assert.Equal(t, "", fields["highlighted_html"])
}
