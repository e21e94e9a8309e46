package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"claireportal/internal/ai/openai"
	"claireportal/internal/approval"
	"claireportal/internal/common"
	"claireportal/internal/dispatch"
	"claireportal/internal/octave"
	"claireportal/internal/plays"
	"claireportal/internal/storage"
	"claireportal/internal/testutil"
	"claireportal/internal/workspace"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

const (
	testUser  = "user-1"
	testEmail = "client@acme.io"
)

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
	return f.ws, f.ws.APIKey, nil
}

type fakeGenerator struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeGenerator) GenerateJSON(ctx context.Context, prompt string, opts openai.Options, out any) error {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return f.err
	}
	return json.Unmarshal([]byte(f.response), out)
}

type fakeRunner struct {
	content string
	got     []dispatch.Request
}

func (f *fakeRunner) Run(ctx context.Context, req dispatch.Request) (*dispatch.Result, error) {
	f.got = append(f.got, req)
	return &dispatch.Result{
		Agent:       octave.Agent{OID: "ag-2009", Name: "Claire 2009"},
		Endpoint:    octave.EndpointSequence,
		Content:     f.content,
		JSONContent: json.RawMessage(`{"emails":[]}`),
	}, nil
}

const generated = `{
  "listBuildingInstructions": "Target SaaS companies attending SaaStr.",
  "hook": "Saw you're heading to SaaStr next month.",
  "attractionOffer": {"headline": "Free pipeline teardown", "valueBullets": ["Find 3 stalled deals"], "easeBullets": ["15 minutes on site"]},
  "asset": {"type": "landing_page", "url": "https://acme.com/saastr"},
  "caseStudies": [{"clientName": "Globex", "description": "2x meetings in 30 days"}],
  "clientReferences": [{"oId": "r1", "name": "Globex"}],
  "personas": [{"oId": "p1", "name": "VP of Sales", "description": "Owns pipeline"}],
  "useCases": [{"oId": "u1", "name": "Pipeline Review", "desiredOutcome": "more meetings"}]
}`

const copyText = "Hi {{first_name}}, heading to the conference? Globex booked a meeting with us. " +
	"Worth a quick call with {{company_name}}?\n%signature%"

type fixture struct {
	svc       *Service
	db        *gorm.DB
	gen       *fakeGenerator
	runner    *fakeRunner
	uploader  *storage.MemoryUploader
	approvals *approval.Manager
	notifier  *recordingNotifier
}

type recordingNotifier struct {
	events []string
}

func (r *recordingNotifier) Send(ctx context.Context, n approval.Notification) error {
	r.events = append(r.events, n.Event)
	return nil
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t,
		&Campaign{}, &plays.Play{}, &approval.Approval{}, &approval.CampaignApproval{}, &workspace.ClientWorkspace{},
	)
	require.NoError(t, db.Create(&plays.Play{Code: "2009", Name: "Pre-Conference → Book On-Site Meetings", Category: plays.CategoryOutbound, IsActive: true}).Error)
	require.NoError(t, db.Create(&plays.Play{Code: "2001", Name: "Retired Play", Category: plays.CategoryOutbound}).Error)
	require.NoError(t, db.Create(&workspace.ClientWorkspace{UserID: testUser, CompanyName: "Acme"}).Error)

	logger := zaptest.NewLogger(t)
	f := &fixture{
		db:       db,
		gen:      &fakeGenerator{response: generated},
		runner:   &fakeRunner{content: copyText},
		uploader: storage.NewMemoryUploader(),
		notifier: &recordingNotifier{},
	}
	f.approvals = approval.NewManager(db, approval.WithNotifier(f.notifier), approval.WithManagerLogger(logger))
	f.svc = NewService(db, Deps{
		Workspaces: &fakeWorkspaces{ws: &workspace.ClientWorkspace{
			ID:            "ws-1",
			UserID:        testUser,
			WorkspaceOID:  "wo-1",
			APIKey:        "key-123",
			CompanyName:   "Acme",
			CompanyDomain: "acme.com",
		}},
		Plays:     plays.NewCatalog(db, nil, nil, logger),
		Runner:    f.runner,
		Generator: f.gen,
		Uploader:  f.uploader,
		Approvals: f.approvals,
		Logger:    logger,
	})
	return f
}

func (f *fixture) create(t *testing.T) *Campaign {
	t.Helper()
	c, err := f.svc.Create(context.Background(), CreateInput{
		UserID:       testUser,
		PlayCode:     "2009",
		CampaignName: "SaaStr 2026",
		CampaignBrief: Brief{
			MeetingTranscript: "We want meetings   \n\n\n\nat SaaStr.",
		},
	})
	require.NoError(t, err)
	return c
}

// toCopy 生成中间产物与文案
func (f *fixture) toCopy(t *testing.T, hasLists bool) *Campaign {
	t.Helper()
	ctx := context.Background()
	c := f.create(t)
	_, err := f.svc.AnswerListQuestions(ctx, testUser, c.ID, ListAnswersInput{HasAccountList: &hasLists, HasProspectList: &hasLists})
	require.NoError(t, err)
	_, err = f.svc.GenerateIntermediary(ctx, testUser, c.ID)
	require.NoError(t, err)
	_, err = f.svc.GenerateCopy(ctx, testUser, c.ID)
	require.NoError(t, err)
	return c
}

func (f *fixture) reload(t *testing.T, id string) Campaign {
	t.Helper()
	var c Campaign
	require.NoError(t, f.db.Where("id = ?", id).First(&c).Error)
	return c
}

func TestService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("创建草稿", func(t *testing.T) {
		f := setup(t)
		c := f.create(t)
		assert.Equal(t, StateDraft, c.Status)
		assert.Equal(t, ApprovalDraft, c.ApprovalStatus)
		assert.Equal(t, ListPendingQuestions, c.ListStatus)
		assert.Equal(t, "Pre-Conference → Book On-Site Meetings", c.CampaignType)
		assert.Equal(t, "wo-1", c.WorkspaceOID)
	})

	t.Run("参数校验", func(t *testing.T) {
		f := setup(t)
		_, err := f.svc.Create(ctx, CreateInput{UserID: testUser, PlayCode: "2009"})
		assert.Equal(t, MsgCreateRequired, err.Error())

		_, err = f.svc.Create(ctx, CreateInput{UserID: testUser, PlayCode: "2001", CampaignName: "x"})
		assert.Equal(t, common.CodeInvalidRequest, common.CodeOf(err))

		_, err = f.svc.Create(ctx, CreateInput{UserID: testUser, PlayCode: "7777", CampaignName: "x"})
		assert.Equal(t, common.CodeNotFound, common.CodeOf(err))
	})

	t.Run("未完成 onboarding", func(t *testing.T) {
		f := setup(t)
		f.svc.workspaces = &fakeWorkspaces{err: workspace.ErrNoWorkspace}
		_, err := f.svc.Create(ctx, CreateInput{UserID: testUser, PlayCode: "2009", CampaignName: "x"})
		require.Error(t, err)
		assert.Equal(t, MsgNoWorkspace, err.Error())
		assert.Equal(t, common.CodeNotFound, common.CodeOf(err))
	})
}

func TestService_ListAndGet(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	c := f.create(t)

	list, err := f.svc.List(ctx, testUser, ListFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "outbound", list[0].PlayCategory)
	assert.Equal(t, c.ID, list[0].ID)

	list, err = f.svc.List(ctx, testUser, ListFilter{Status: string(StateApproved)})
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = f.svc.List(ctx, "user-2", ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = f.svc.Get(ctx, "user-2", c.ID)
	assert.Equal(t, common.CodeNotFound, common.CodeOf(err))

	got, err := f.svc.Get(ctx, testUser, c.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Approvals)
}

func TestService_GenerateIntermediary(t *testing.T) {
	ctx := context.Background()

	t.Run("保存中间产物与运行时上下文", func(t *testing.T) {
		f := setup(t)
		c := f.create(t)
		res, err := f.svc.GenerateIntermediary(ctx, testUser, c.ID)
		require.NoError(t, err)
		assert.Equal(t, "Saw you're heading to SaaStr next month.", res.Hook)
		require.Len(t, res.Personas, 1)

		require.Len(t, f.gen.prompts, 1)
		prompt := f.gen.prompts[0]
		assert.Contains(t, prompt, "CAMPAIGN BRIEF FOR SaaStr 2026")
		assert.Contains(t, prompt, "We want meetings\n\nat SaaStr.")
		assert.Contains(t, prompt, "CONFERENCE PLAY")
		assert.Contains(t, prompt, "Company Domain: acme.com")

		stored := f.reload(t, c.ID)
		assert.Equal(t, StateIntermediaryGenerated, stored.Status)
		assert.True(t, stored.IntermediaryOutputs.Data().Ready())
		assert.Equal(t, "u1", stored.RuntimeContext.Data().UseCases[0].OID)
	})

	t.Run("模型失败", func(t *testing.T) {
		f := setup(t)
		c := f.create(t)
		f.gen.err = errors.New("rate limited")
		_, err := f.svc.GenerateIntermediary(ctx, testUser, c.ID)
		assert.Equal(t, common.CodeUpstreamFailed, common.CodeOf(err))
		assert.Equal(t, StateDraft, f.reload(t, c.ID).Status)
	})

	t.Run("未配置模型", func(t *testing.T) {
		f := setup(t)
		c := f.create(t)
		f.svc.generator = nil
		_, err := f.svc.GenerateIntermediary(ctx, testUser, c.ID)
		assert.Equal(t, common.CodeMisconfigured, common.CodeOf(err))
	})
}

func TestService_GenerateCopy(t *testing.T) {
	ctx := context.Background()

	t.Run("缺少中间产物", func(t *testing.T) {
		f := setup(t)
		c := f.create(t)
		_, err := f.svc.GenerateCopy(ctx, testUser, c.ID)
		require.Error(t, err)
		assert.Equal(t, MsgIntermediaryMissing, err.Error())
		assert.Empty(t, f.runner.got)
	})

	t.Run("生成文案并高亮", func(t *testing.T) {
		f := setup(t)
		c := f.create(t)
		_, err := f.svc.GenerateIntermediary(ctx, testUser, c.ID)
		require.NoError(t, err)

		res, err := f.svc.GenerateCopy(ctx, testUser, c.ID)
		require.NoError(t, err)
		assert.Equal(t, copyText, res.RawContent)
		assert.Equal(t, ApprovalPendingList, res.ApprovalStatus)
		assert.True(t, res.ValidationReport.HasPlaceholders)
		assert.True(t, res.ValidationReport.HasCTA)
		assert.True(t, res.ValidationReport.HasConferenceTieIn)
		assert.True(t, res.ValidationReport.Placeholders.IsValid)

		require.Len(t, f.runner.got, 1)
		req := f.runner.got[0]
		assert.Equal(t, "key-123", req.APIKey)
		assert.Equal(t, "2009", req.PlayCode)
		brief := req.Context["campaignBrief"].(map[string]any)
		assert.Contains(t, brief["conferenceInstructions"], "PRE-conference")

		stored := f.reload(t, c.ID)
		assert.Equal(t, StateAssetsGenerated, stored.Status)
		assert.Equal(t, "Claire 2009", stored.FinalOutputs.Data().AgentName)
	})

	t.Run("已批准不可重新生成", func(t *testing.T) {
		f := setup(t)
		c := f.toCopy(t, true)
		_, err := f.svc.ApproveCopy(ctx, testUser, testEmail, c.ID, ApproveCopyInput{EditedCopy: copyText})
		require.NoError(t, err)

		_, err = f.svc.GenerateCopy(ctx, testUser, c.ID)
		assert.Equal(t, common.CodeConflict, common.CodeOf(err))
		_, err = f.svc.GenerateIntermediary(ctx, testUser, c.ID)
		assert.Equal(t, common.CodeConflict, common.CodeOf(err))
	})
}

func TestService_ListFlow(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	c := f.toCopy(t, false)
	assert.Equal(t, ApprovalPendingList, f.reload(t, c.ID).ApprovalStatus)

	_, err := f.svc.ApproveCopy(ctx, testUser, testEmail, c.ID, ApproveCopyInput{EditedCopy: copyText})
	require.Error(t, err)
	assert.Equal(t, MsgListPendingApproval, err.Error())

	_, err = f.svc.PreviewList(ctx, testUser, c.ID)
	assert.Equal(t, MsgNoListPreview, err.Error())
	err = f.svc.ApproveList(ctx, testUser, testEmail, c.ID)
	assert.Equal(t, MsgListNotUploaded, err.Error())

	up, err := f.svc.UploadList(ctx, c.ID, UploadInput{
		ListType:   "prospect",
		FileName:   "list.csv",
		Body:       strings.NewReader("company,contact,title\nGlobex,John,CTO\n"),
		ActorEmail: "sa@claire.io",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, up.TotalRecords)
	require.Len(t, f.uploader.Keys(), 1)
	assert.True(t, strings.HasPrefix(f.uploader.Keys()[0], "lists/"+c.ID+"/prospect-"))
	assert.Contains(t, f.notifier.events, approval.EventListUploaded)

	preview, err := f.svc.PreviewList(ctx, testUser, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Globex", preview.ListPreview[0].AccountName)

	require.NoError(t, f.svc.ApproveList(ctx, testUser, testEmail, c.ID))
	stored := f.reload(t, c.ID)
	assert.Equal(t, ListClientReviewed, stored.ListStatus)
	assert.Equal(t, ApprovalPendingCopy, stored.ApprovalStatus)

	res, err := f.svc.ApproveCopy(ctx, testUser, testEmail, c.ID, ApproveCopyInput{EditedCopy: copyText})
	require.NoError(t, err)
	assert.True(t, res.Validation.IsValid)

	detail, err := f.svc.Get(ctx, testUser, c.ID)
	require.NoError(t, err)
	require.Len(t, detail.Approvals, 2)
}

func TestService_ApproveCopy(t *testing.T) {
	ctx := context.Background()

	t.Run("编辑后确认记录差异", func(t *testing.T) {
		f := setup(t)
		c := f.toCopy(t, true)
		edited := "Hi {{first_name}}, quick one.\n%signature%"
		res, err := f.svc.ApproveCopy(ctx, testUser, testEmail, c.ID, ApproveCopyInput{EditedCopy: edited, Comments: "tightened"})
		require.NoError(t, err)
		assert.False(t, res.Validation.IsValid)
		assert.Equal(t, []string{"Company Name"}, res.Validation.MissingPlaceholders)

		stored := f.reload(t, c.ID)
		assert.Equal(t, StateApproved, stored.Status)
		assert.Equal(t, ApprovalApproved, stored.ApprovalStatus)
		assert.Equal(t, edited, stored.ApprovedCopy)

		history, err := approval.CampaignHistory(ctx, f.db, c.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, approval.StageCopy, history[0].Stage)
		assert.Contains(t, history[0].Diff, "+Hi {{first_name}}, quick one.")
		assert.Equal(t, "tightened", history[0].Comments)
		assert.Contains(t, f.notifier.events, approval.EventLaunchApproved)
	})

	t.Run("空文案", func(t *testing.T) {
		f := setup(t)
		c := f.toCopy(t, true)
		_, err := f.svc.ApproveCopy(ctx, testUser, testEmail, c.ID, ApproveCopyInput{EditedCopy: "  "})
		assert.Equal(t, "edited_copy is required", err.Error())
	})

	t.Run("文案未生成", func(t *testing.T) {
		f := setup(t)
		c := f.create(t)
		_, err := f.svc.ApproveCopy(ctx, testUser, testEmail, c.ID, ApproveCopyInput{EditedCopy: copyText})
		assert.Equal(t, MsgCopyNotGenerated, err.Error())
	})
}

func TestService_RejectCopy(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	c := f.toCopy(t, true)

	require.NoError(t, f.svc.RejectCopy(ctx, testUser, testEmail, c.ID, RejectCopyInput{}))
	stored := f.reload(t, c.ID)
	assert.Equal(t, StateRejected, stored.Status)
	assert.Equal(t, ApprovalRejected, stored.ApprovalStatus)
	assert.Contains(t, f.notifier.events, approval.EventCopyRejected)

	history, err := approval.CampaignHistory(ctx, f.db, c.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, approval.DefaultRejectionReason, history[0].Comments)

	inter := stored.IntermediaryOutputs.Data()
	inter.Hook = "New hook"
	_, err = f.svc.UpdateIntermediaries(ctx, testUser, c.ID, UpdateIntermediariesInput{IntermediaryOutputs: &inter})
	require.NoError(t, err)
	stored = f.reload(t, c.ID)
	assert.Equal(t, StateIntermediaryGenerated, stored.Status)
	assert.Equal(t, "New hook", stored.IntermediaryOutputs.Data().Hook)
}

func TestSubjectStore_ApprovalManager(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	draft := f.create(t)
	_, err := f.approvals.RequestApproval(ctx, approval.RequestInput{
		SubjectType: approval.SubjectCampaign,
		SubjectID:   draft.ID,
		ActorID:     testUser,
	})
	require.Error(t, err)
	assert.Equal(t, MsgCopyNotGenerated, err.Error())

	c := f.toCopy(t, true)
	a, err := f.approvals.RequestApproval(ctx, approval.RequestInput{
		SubjectType: approval.SubjectCampaign,
		SubjectID:   c.ID,
		ActorID:     testUser,
		ActorEmail:  testEmail,
	})
	require.NoError(t, err)
	assert.Equal(t, StateAssetsGenerated, f.reload(t, c.ID).Status)

	_, err = f.approvals.Decide(ctx, approval.DecideInput{
		ApprovalID: a.ID,
		Status:     approval.StatusApproved,
		ActorID:    testUser,
		ActorEmail: testEmail,
	})
	require.NoError(t, err)
	stored := f.reload(t, c.ID)
	assert.Equal(t, StateApproved, stored.Status)
	assert.Equal(t, ApprovalApproved, stored.ApprovalStatus)
}

func TestSubjectStore_ListPendingBlocksApproval(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	t.Run("名单待确认时不能提交审批", func(t *testing.T) {
		c := f.toCopy(t, false)
		require.Equal(t, ApprovalPendingList, f.reload(t, c.ID).ApprovalStatus)

		_, err := f.approvals.RequestApproval(ctx, approval.RequestInput{
			SubjectType: approval.SubjectCampaign,
			SubjectID:   c.ID,
			ActorID:     testUser,
		})
		require.Error(t, err)
		assert.Equal(t, MsgListPendingApproval, err.Error())

		var count int64
		require.NoError(t, f.db.Model(&approval.Approval{}).Where("subject_id = ?", c.ID).Count(&count).Error)
		assert.Zero(t, count)
	})

	t.Run("名单待确认时不能通过", func(t *testing.T) {
		c := f.toCopy(t, true)
		a, err := f.approvals.RequestApproval(ctx, approval.RequestInput{
			SubjectType: approval.SubjectCampaign,
			SubjectID:   c.ID,
			ActorID:     testUser,
		})
		require.NoError(t, err)
		require.NoError(t, f.db.Model(&Campaign{}).Where("id = ?", c.ID).Update("approval_status", ApprovalPendingList).Error)

		_, err = f.approvals.Decide(ctx, approval.DecideInput{ApprovalID: a.ID, Status: approval.StatusApproved, ActorID: testUser})
		require.Error(t, err)
		assert.Equal(t, MsgListPendingApproval, err.Error())

		stored := f.reload(t, c.ID)
		assert.Equal(t, StateAssetsGenerated, stored.Status)
		assert.Equal(t, ApprovalPendingList, stored.ApprovalStatus)

		_, err = f.approvals.Decide(ctx, approval.DecideInput{ApprovalID: a.ID, Status: approval.StatusRejected, ActorID: testUser})
		require.NoError(t, err)
		assert.Equal(t, StateRejected, f.reload(t, c.ID).Status)
	})

	t.Run("名单确认后重新生成文案需再次确认名单", func(t *testing.T) {
		c := f.toCopy(t, false)
		_, err := f.svc.UploadList(ctx, c.ID, UploadInput{
			ListType:   "prospect",
			FileName:   "list.csv",
			Body:       strings.NewReader("company,contact,title\nGlobex,John,CTO\n"),
			ActorEmail: "sa@claire.io",
		})
		require.NoError(t, err)
		require.NoError(t, f.svc.ApproveList(ctx, testUser, testEmail, c.ID))
		assert.Equal(t, ApprovalPendingCopy, f.reload(t, c.ID).ApprovalStatus)

		res, err := f.svc.GenerateCopy(ctx, testUser, c.ID)
		require.NoError(t, err)
		assert.Equal(t, ApprovalPendingList, res.ApprovalStatus)

		require.NoError(t, f.svc.ApproveList(ctx, testUser, testEmail, c.ID))
		stored := f.reload(t, c.ID)
		assert.Equal(t, ListClientReviewed, stored.ListStatus)
		assert.Equal(t, ApprovalPendingCopy, stored.ApprovalStatus)
	})
}
