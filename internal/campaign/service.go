package campaign

import (
	"context"
	"errors"
	"strings"
	"time"

	"claireportal/internal/ai/openai"
	"claireportal/internal/approval"
	"claireportal/internal/common"
	"claireportal/internal/dispatch"
	"claireportal/internal/highlight"
	"claireportal/internal/metrics"
	"claireportal/internal/plays"
	"claireportal/internal/storage"
	"claireportal/internal/workspace"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 对外错误信息
const (
	MsgCreateRequired      = "playCode and campaignName are required"
	MsgNoWorkspace         = "No workspace found. Please complete onboarding first."
	MsgWorkspaceNotFound   = "Workspace not found"
	MsgNotFound            = "Campaign not found"
	MsgIntermediaryMissing = "Intermediary outputs not generated. Please generate intermediary outputs first."
	MsgCampaignLocked      = "Campaign has been approved and can no longer be changed"
	MsgCopyNotGenerated    = "Campaign copy must be generated before approval"
)

// Workspaces 工作区读取
type Workspaces interface {
	Latest(ctx context.Context, userID string) (*workspace.ClientWorkspace, error)
	Credentials(ctx context.Context, userID string) (*workspace.ClientWorkspace, string, error)
}

// PlayLookup 玩法校验
type PlayLookup interface {
	RequireActive(ctx context.Context, code string) (*plays.Play, error)
}

// Runner 智能体调用
type Runner interface {
	Run(ctx context.Context, req dispatch.Request) (*dispatch.Result, error)
}

// Generator 结构化生成
type Generator interface {
	GenerateJSON(ctx context.Context, prompt string, opts openai.Options, out any) error
}

// Service 外呼活动服务
type Service struct {
	*common.BaseService
	workspaces  Workspaces
	plays       PlayLookup
	runner      Runner
	generator   Generator
	uploader    storage.Uploader
	approvals   *approval.Manager
	highlighter *highlight.Highlighter
	logger      *zap.Logger
	now         func() time.Time
}

// Deps 服务依赖；Generator 为 nil 时中间产物生成返回配置错误
type Deps struct {
	Workspaces  Workspaces
	Plays       PlayLookup
	Runner      Runner
	Generator   Generator
	Uploader    storage.Uploader
	Approvals   *approval.Manager
	Highlighter *highlight.Highlighter
	Logger      *zap.Logger
}

// NewService 创建活动服务并把自身注册为审批对象存储
func NewService(db *gorm.DB, deps Deps) *Service {
	s := &Service{
		BaseService: common.NewBaseService(db),
		workspaces:  deps.Workspaces,
		plays:       deps.Plays,
		runner:      deps.Runner,
		generator:   deps.Generator,
		uploader:    deps.Uploader,
		approvals:   deps.Approvals,
		highlighter: deps.Highlighter,
		logger:      deps.Logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.highlighter == nil {
		s.highlighter = highlight.NewHighlighter(nil)
	}
	if s.uploader == nil {
		s.uploader = storage.NopUploader{}
	}
	if s.approvals != nil {
		s.approvals.RegisterStore(approval.SubjectCampaign, SubjectStore{})
	}
	return s
}

// CreateInput 新建活动参数
type CreateInput struct {
	UserID          string `json:"-"`
	PlayCode        string `json:"playCode"`
	CampaignName    string `json:"campaignName"`
	CampaignBrief   Brief  `json:"campaignBrief"`
	AdditionalBrief string `json:"additionalBrief"`
}

// Create 玩法必须存在且启用，用户必须已完成 onboarding
func (s *Service) Create(ctx context.Context, in CreateInput) (*Campaign, error) {
	in.PlayCode = strings.TrimSpace(in.PlayCode)
	in.CampaignName = strings.TrimSpace(in.CampaignName)
	if in.PlayCode == "" || in.CampaignName == "" {
		return nil, common.ErrValidation(MsgCreateRequired)
	}

	play, err := s.plays.RequireActive(ctx, in.PlayCode)
	if err != nil {
		return nil, err
	}

	ws, err := s.workspaces.Latest(ctx, in.UserID)
	if errors.Is(err, workspace.ErrNoWorkspace) || (err == nil && ws.APIKey == "") {
		return nil, common.ErrNotFound(MsgNoWorkspace)
	}
	if err != nil {
		return nil, err
	}

	c := &Campaign{
		UserID:          in.UserID,
		PlayCode:        in.PlayCode,
		CampaignName:    in.CampaignName,
		CampaignType:    play.Name,
		CampaignBrief:   datatypes.NewJSONType(in.CampaignBrief),
		AdditionalBrief: strings.TrimSpace(in.AdditionalBrief),
		WorkspaceOID:    ws.WorkspaceOID,
		Status:          StateDraft,
		ApprovalStatus:  ApprovalDraft,
		ListStatus:      ListPendingQuestions,
		RuntimeContext:  datatypes.NewJSONType(Context{Personas: []Persona{}, UseCases: []UseCase{}, Problems: []string{}}),
	}
	if err := s.DB.WithContext(ctx).Create(c).Error; err != nil {
		return nil, common.ErrPersistence("Failed to create campaign", err)
	}
	s.logger.Info("活动已创建",
		zap.String("campaign_id", c.ID),
		zap.String("play_code", c.PlayCode),
		zap.String("user_id", c.UserID),
	)
	return c, nil
}

// ListFilter 列表筛选
type ListFilter struct {
	PlayCode       string
	Status         string
	ApprovalStatus string
}

// List 用户的活动，附玩法名称与分类
func (s *Service) List(ctx context.Context, userID string, f ListFilter) ([]Summary, error) {
	q := s.ApplyUserFilter(s.DB.WithContext(ctx).Model(&Campaign{}), userID)
	q = s.ApplyEqualFilters(q, map[string]string{
		"play_code":       f.PlayCode,
		"status":          f.Status,
		"approval_status": f.ApprovalStatus,
	})
	var rows []Campaign
	if err := q.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, common.ErrPersistence("Failed to fetch campaigns", err)
	}

	codes := make([]string, 0, len(rows))
	for _, r := range rows {
		codes = append(codes, r.PlayCode)
	}
	byCode := map[string]plays.Play{}
	if len(codes) > 0 {
		var ps []plays.Play
		if err := s.DB.WithContext(ctx).Where("code IN ?", codes).Find(&ps).Error; err != nil {
			return nil, common.ErrPersistence("Failed to fetch campaigns", err)
		}
		for _, p := range ps {
			byCode[p.Code] = p
		}
	}

	out := make([]Summary, 0, len(rows))
	for _, r := range rows {
		sum := Summary{
			ID:             r.ID,
			CampaignName:   r.CampaignName,
			PlayCode:       r.PlayCode,
			PlayName:       r.PlayCode,
			PlayCategory:   "unknown",
			CampaignType:   r.CampaignType,
			Status:         r.Status,
			ApprovalStatus: r.ApprovalStatus,
			ListStatus:     r.ListStatus,
			CreatedAt:      r.CreatedAt,
			UpdatedAt:      r.UpdatedAt,
		}
		if p, ok := byCode[r.PlayCode]; ok {
			sum.PlayName = p.Name
			sum.PlayCategory = string(p.Category)
		}
		out = append(out, sum)
	}
	return out, nil
}

// Detail 单个活动及审批审计
type Detail struct {
	*Campaign
	Approvals []approval.CampaignApproval `json:"approvals"`
}

// Get 查询单个活动
func (s *Service) Get(ctx context.Context, userID, id string) (*Detail, error) {
	c, err := s.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	history, err := approval.CampaignHistory(ctx, s.DB, c.ID)
	if err != nil {
		return nil, err
	}
	return &Detail{Campaign: c, Approvals: history}, nil
}

// IntermediaryResult 中间产物生成结果
type IntermediaryResult struct {
	Intermediary
	Personas []Persona `json:"personas"`
	UseCases []UseCase `json:"use_cases"`
}

// GenerateIntermediary 由简报生成 hook、提案等中间产物；可重复调用
func (s *Service) GenerateIntermediary(ctx context.Context, userID, id string) (*IntermediaryResult, error) {
	c, err := s.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(c.Status, StateIntermediaryGenerated) {
		return nil, common.ErrConflict(MsgCampaignLocked)
	}
	if s.generator == nil {
		return nil, common.ErrMisconfigured()
	}
	ws, err := s.workspaces.Latest(ctx, userID)
	if errors.Is(err, workspace.ErrNoWorkspace) {
		return nil, common.ErrNotFound(MsgWorkspaceNotFound)
	}
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var gen generatedIntermediary
	err = s.generator.GenerateJSON(ctx, buildIntermediaryPrompt(c, ws), openai.Options{
		System:      intermediarySystemPrompt,
		Temperature: 0.7,
	}, &gen)
	if err != nil {
		s.logger.Error("中间产物生成失败", zap.String("campaign_id", c.ID), zap.Error(err))
		return nil, common.ErrUpstream("Failed to generate intermediary outputs", err)
	}

	inter := gen.intermediary()
	rc := gen.context()
	if err := s.transition(ctx, c.ID, StateIntermediaryGenerated, map[string]interface{}{
		"intermediary_outputs": datatypes.NewJSONType(inter),
		"runtime_context":      datatypes.NewJSONType(rc),
	}); err != nil {
		return nil, err
	}

	s.logger.Info("中间产物已生成",
		zap.String("campaign_id", c.ID),
		zap.Bool("has_hook", inter.Hook != ""),
		zap.Int("personas", len(rc.Personas)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &IntermediaryResult{Intermediary: inter, Personas: rc.Personas, UseCases: rc.UseCases}, nil
}

// UpdateIntermediariesInput 客户编辑的中间产物
type UpdateIntermediariesInput struct {
	IntermediaryOutputs *Intermediary `json:"intermediaryOutputs"`
}

// UpdateIntermediaries 整体替换中间产物；被拒绝的活动编辑后回到 intermediary_generated
func (s *Service) UpdateIntermediaries(ctx context.Context, userID, id string, in UpdateIntermediariesInput) (*Intermediary, error) {
	if in.IntermediaryOutputs == nil {
		return nil, common.ErrValidation("intermediaryOutputs is required")
	}
	c, err := s.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !c.Status.Editable() {
		return nil, common.ErrConflict(MsgCampaignLocked)
	}

	updates := map[string]interface{}{
		"intermediary_outputs": datatypes.NewJSONType(*in.IntermediaryOutputs),
		"updated_at":           s.now(),
	}
	if c.Status == StateRejected {
		updates["status"] = StateIntermediaryGenerated
	}
	affected, err := s.GuardedUpdate(ctx, &Campaign{}, updates, "id = ? AND status = ?", c.ID, c.Status)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, common.ErrConflict("Campaign was modified concurrently, please reload")
	}
	return in.IntermediaryOutputs, nil
}

// CopyResult 文案生成结果
type CopyResult struct {
	RawContent       string            `json:"rawContent"`
	HighlightedHTML  string            `json:"highlightedHtml"`
	CampaignCopy     any               `json:"campaignCopy"`
	ValidationReport *ValidationReport `json:"validationReport"`
	ApprovalStatus   ApprovalStatus    `json:"approvalStatus"`
}

// GenerateCopy 调用智能体生成活动文案并同步高亮
func (s *Service) GenerateCopy(ctx context.Context, userID, id string) (*CopyResult, error) {
	c, err := s.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	inter := c.IntermediaryOutputs.Data()
	if !inter.Ready() {
		return nil, common.ErrValidation(MsgIntermediaryMissing)
	}
	if !CanTransition(c.Status, StateAssetsGenerated) {
		return nil, common.ErrConflict(MsgCampaignLocked)
	}

	ws, apiKey, err := s.workspaces.Credentials(ctx, userID)
	if err != nil {
		return nil, err
	}

	rc := c.RuntimeContext.Data()
	result, err := s.runner.Run(ctx, dispatch.Request{
		APIKey:        apiKey,
		PlayCode:      c.PlayCode,
		Context:       copyContext(c, inter, rc),
		CompanyName:   ws.CompanyName,
		CompanyDomain: ws.CompanyDomain,
	})
	if err != nil {
		return nil, err
	}

	raw := result.Content
	hl := s.highlighter.Highlight(raw, highlightContext(inter, rc), c.PlayCode)
	html := raw
	if hl.HasHighlights {
		html = hl.HTML
	}
	report := validateCopy(raw, c.CampaignType)
	now := s.now()
	final := FinalOutputs{
		CampaignCopy:     result.JSONContent,
		RawContent:       raw,
		HighlightedHTML:  html,
		ValidationReport: report,
		AgentOID:         result.Agent.OID,
		AgentName:        result.Agent.Name,
		GeneratedAt:      &now,
	}
	next := approvalAfterCopy(c.ListStatus)
	if err := s.transition(ctx, c.ID, StateAssetsGenerated, map[string]interface{}{
		"final_outputs":   datatypes.NewJSONType(final),
		"approval_status": next,
	}); err != nil {
		return nil, err
	}

	s.logger.Info("活动文案已生成",
		zap.String("campaign_id", c.ID),
		zap.String("agent_name", result.Agent.Name),
		zap.Int("emails", len(result.Emails)),
		zap.Int("spans", len(hl.Spans)),
		zap.String("approval_status", string(next)),
	)
	return &CopyResult{
		RawContent:       raw,
		HighlightedHTML:  html,
		CampaignCopy:     result.JSONContent,
		ValidationReport: report,
		ApprovalStatus:   next,
	}, nil
}

// copyContext 智能体运行时上下文
func copyContext(c *Campaign, inter Intermediary, rc Context) map[string]any {
	brief := c.CampaignBrief.Data()
	return map[string]any{
		"campaignBrief": map[string]any{
			"meetingTranscript":      cleanBrief(brief.MeetingTranscript),
			"writtenStrategy":        cleanBrief(brief.WrittenStrategy),
			"documents":              nonNil(brief.Documents),
			"blogPosts":              nonNil(brief.BlogPosts),
			"additionalBrief":        c.AdditionalBrief,
			"campaignType":           c.CampaignType,
			"campaignName":           c.CampaignName,
			"conferenceInstructions": conferenceInstructions(c.PlayCode),
		},
		"intermediaryOutputs": map[string]any{
			"listBuildingInstructions": inter.ListBuildingInstructions,
			"hook":                     inter.Hook,
			"attractionOffer":          inter.AttractionOffer,
			"asset":                    inter.Asset,
			"caseStudies":              nonNil(inter.CaseStudies),
			"clientReferences":         nonNil(inter.ClientReferences),
		},
		"selectedPersonas":   nonNil(rc.Personas),
		"selectedUseCases":   nonNil(rc.UseCases),
		"selectedReferences": nonNil(inter.ClientReferences),
		"playConfig": map[string]any{
			"playCode":                  c.PlayCode,
			"sequenceLength":            plays.SequenceLengthForPlay(c.PlayCode),
			"channel":                   "email",
			"tone":                      "professional",
			"requiresConferenceContext": plays.IsConferencePlay(c.PlayCode),
		},
	}
}

func highlightContext(inter Intermediary, rc Context) highlight.Context {
	var hctx highlight.Context
	for _, p := range rc.Personas {
		hctx.Personas = append(hctx.Personas, highlight.Persona{OID: p.OID, Name: p.Name})
	}
	for _, u := range rc.UseCases {
		hctx.UseCases = append(hctx.UseCases, highlight.UseCase{
			OID:            u.OID,
			Name:           u.Name,
			DesiredOutcome: u.DesiredOutcome,
			Blocker:        u.Blocker,
		})
	}
	hctx.ClientReferences = append(hctx.ClientReferences, inter.ClientReferences...)
	return hctx
}

// validateCopy 占位符、CTA 与会议关联检查
func validateCopy(raw, campaignType string) *ValidationReport {
	lower := strings.ToLower(raw)
	report := &ValidationReport{
		HasPlaceholders:    highlight.HasPlaceholders(raw),
		HasCTA:             strings.Contains(lower, "meeting") || strings.Contains(lower, "call"),
		HasConferenceTieIn: true,
	}
	if strings.Contains(strings.ToLower(campaignType), "conference") {
		report.HasConferenceTieIn = strings.Contains(lower, "conference") || strings.Contains(lower, "event")
	}
	pr := highlight.ValidatePlaceholders(raw)
	report.Placeholders = &pr
	return report
}

// transition 条件更新主状态；源状态不合法时返回冲突
func (s *Service) transition(ctx context.Context, id string, to State, updates map[string]interface{}) error {
	updates["status"] = to
	updates["updated_at"] = s.now()
	affected, err := s.GuardedUpdate(ctx, &Campaign{}, updates, "id = ? AND status IN ?", id, sourcesOf(to))
	if err != nil {
		return err
	}
	if affected == 0 {
		return common.ErrConflict(MsgCampaignLocked)
	}
	metrics.CampaignTransitions.WithLabelValues(string(to)).Inc()
	return nil
}

func (s *Service) load(ctx context.Context, userID, id string) (*Campaign, error) {
	var c Campaign
	if err := s.FindOwned(ctx, &c, id, userID, MsgNotFound); err != nil {
		return nil, err
	}
	return &c, nil
}
