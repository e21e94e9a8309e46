package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"claireportal/internal/approval"
	"claireportal/internal/common"
	"claireportal/internal/dispatch"
	"claireportal/internal/highlight"
	"claireportal/internal/plays"
	"claireportal/internal/workspace"
	"claireportal/internal/worker/tasks"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 对外错误信息
const (
	MsgRequired         = "playCode and runtimeContext are required"
	MsgNotFound         = "Execution not found"
	MsgNotFoundOrDenied = "Execution not found or unauthorized"
	MsgOutputRequired   = "Output is required"
	MsgNothingToMark    = "No output content found to highlight"
	MsgNotEditable      = "Execution can only be edited in draft or rejected status"
)

// Workspaces 工作区读取
type Workspaces interface {
	Latest(ctx context.Context, userID string) (*workspace.ClientWorkspace, error)
	Credentials(ctx context.Context, userID string) (*workspace.ClientWorkspace, string, error)
}

// Runner 智能体调用
type Runner interface {
	Run(ctx context.Context, req dispatch.Request) (*dispatch.Result, error)
}

// PlayRegistry 玩法行维护
type PlayRegistry interface {
	EnsurePlay(ctx context.Context, code, name string) (*plays.Play, error)
}

// Enqueuer 高亮任务入队
type Enqueuer interface {
	EnqueueHighlightExecution(ctx context.Context, payload tasks.HighlightExecutionPayload) error
}

// Service 玩法执行服务
type Service struct {
	*common.BaseService
	workspaces  Workspaces
	runner      Runner
	plays       PlayRegistry
	queue       Enqueuer
	highlighter *highlight.Highlighter
	logger      *zap.Logger
	now         func() time.Time
}

// NewService 创建执行服务；queue 为 nil 时高亮在写库后同步执行
func NewService(db *gorm.DB, workspaces Workspaces, runner Runner, playRegistry PlayRegistry, queue Enqueuer, highlighter *highlight.Highlighter, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if highlighter == nil {
		highlighter = highlight.NewHighlighter(nil)
	}
	return &Service{
		BaseService: common.NewBaseService(db),
		workspaces:  workspaces,
		runner:      runner,
		plays:       playRegistry,
		queue:       queue,
		highlighter: highlighter,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ExecuteInput 执行参数
type ExecuteInput struct {
	UserID           string
	PlayCode         string          `json:"playCode"`
	RuntimeContext   json.RawMessage `json:"runtimeContext"`
	RefinementPrompt string          `json:"refinementPrompt"`
}

// ExecuteResult 执行结果
type ExecuteResult struct {
	ID         string    `json:"id"`
	Output     Output    `json:"output"`
	AgentName  string    `json:"agentName"`
	ExecutedAt time.Time `json:"executedAt"`
}

// Execute 调用智能体并保存草稿，随后排队高亮
func (s *Service) Execute(ctx context.Context, in ExecuteInput) (*ExecuteResult, error) {
	in.PlayCode = strings.TrimSpace(in.PlayCode)
	raw := bytes.TrimSpace(in.RuntimeContext)
	if in.PlayCode == "" || len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, common.ErrValidation(MsgRequired)
	}
	var rc map[string]any
	if err := json.Unmarshal(raw, &rc); err != nil {
		return nil, common.ErrValidation("runtimeContext must be a JSON object")
	}

	ws, apiKey, err := s.workspaces.Credentials(ctx, in.UserID)
	if err != nil {
		return nil, err
	}

	customInput, _ := rc["customInput"].(string)
	if in.RefinementPrompt != "" {
		customInput = in.RefinementPrompt
	}
	result, err := s.runner.Run(ctx, dispatch.Request{
		APIKey:   apiKey,
		PlayCode: in.PlayCode,
		Context: map[string]any{
			"selectedPersonas":   listOrEmpty(rc["personas"]),
			"selectedUseCases":   listOrEmpty(rc["useCases"]),
			"selectedReferences": listOrEmpty(rc["clientReferences"]),
			"customInput":        customInput,
			"isRefinement":       in.RefinementPrompt != "",
		},
		CompanyName:   ws.CompanyName,
		CompanyDomain: ws.CompanyDomain,
	})
	if err != nil {
		return nil, err
	}

	out := Output{
		Content:         result.Content,
		HighlightedHTML: result.Content,
		JSONContent:     result.JSONContent,
	}
	if result.Data != nil {
		out.MatchedPersona = result.Data.Persona
		out.MatchedUseCases = result.Data.UseCases
		out.MatchedReferences = result.Data.ReferenceCustomers
	}

	var playID string
	if play, err := s.plays.EnsurePlay(ctx, in.PlayCode, ""); err != nil {
		s.logger.Warn("玩法行创建失败，执行记录不关联玩法", zap.String("play_code", in.PlayCode), zap.Error(err))
	} else {
		playID = play.ID
	}

	now := s.now()
	rec := &PlayExecution{
		UserID:             in.UserID,
		PlayID:             playID,
		PlayCode:           in.PlayCode,
		WorkspaceOID:       ws.WorkspaceOID,
		RuntimeContext:     datatypes.JSON(raw),
		AgentOID:           result.Agent.OID,
		AgentName:          result.Agent.Name,
		Output:             datatypes.NewJSONType(out),
		Status:             StatusDraft,
		HighlightingStatus: HighlightPending,
		ExecutedAt:         now,
	}
	if err := s.DB.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, common.ErrPersistence("Failed to save execution", err)
	}

	s.logger.Info("玩法执行完成",
		zap.String("execution_id", rec.ID),
		zap.String("play_code", in.PlayCode),
		zap.String("agent_name", rec.AgentName),
		zap.Bool("refinement", in.RefinementPrompt != ""),
	)
	s.scheduleHighlight(ctx, rec)

	return &ExecuteResult{ID: rec.ID, Output: out, AgentName: rec.AgentName, ExecutedAt: now}, nil
}

// Get 查询单条执行记录
func (s *Service) Get(ctx context.Context, userID, id string) (*View, error) {
	if id == "" {
		return nil, common.ErrValidation("Execution ID is required")
	}
	var rec PlayExecution
	if err := s.FindOwned(ctx, &rec, id, userID, MsgNotFound); err != nil {
		return nil, err
	}
	views, err := s.views(ctx, []PlayExecution{rec})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// ListFilter 列表筛选
type ListFilter struct {
	Status   string
	Category string
	PlayCode string
	// Page 为 nil 时返回全部
	Page *common.PaginationRequest
}

// List 用户的执行记录，按创建时间倒序
func (s *Service) List(ctx context.Context, userID string, f ListFilter) ([]View, error) {
	q := s.DB.WithContext(ctx).Model(&PlayExecution{}).Where("play_executions.user_id = ?", userID)
	q = s.ApplyEqualFilters(q, map[string]string{
		"play_executions.status":    f.Status,
		"play_executions.play_code": f.PlayCode,
	})
	if f.Category != "" {
		q = q.Select("play_executions.*").
			Joins("JOIN claire_plays ON claire_plays.id = play_executions.play_id").
			Where("claire_plays.category = ?", f.Category)
	}
	if f.Page != nil {
		q = s.ApplyPagination(q, *f.Page)
	}
	var rows []PlayExecution
	if err := q.Order("play_executions.created_at DESC").Find(&rows).Error; err != nil {
		return nil, common.ErrPersistence("Failed to fetch executions", err)
	}
	return s.views(ctx, rows)
}

// UpdateOutputInput 修改输出；Output 可为字符串或对象
type UpdateOutputInput struct {
	Output json.RawMessage `json:"output"`
}

// UpdateOutput 草稿或被拒绝的记录允许修改，修改后回到草稿并重新高亮
func (s *Service) UpdateOutput(ctx context.Context, userID, id string, in UpdateOutputInput) (*View, error) {
	raw := bytes.TrimSpace(in.Output)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte(`""`)) {
		return nil, common.ErrValidation(MsgOutputRequired)
	}

	var rec PlayExecution
	if err := s.FindOwned(ctx, &rec, id, userID, MsgNotFoundOrDenied); err != nil {
		return nil, err
	}
	if !rec.Status.Editable() {
		return nil, common.ErrConflict(MsgNotEditable)
	}

	out := rec.Output.Data()
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		out.Content = text
		out.JSONContent = json.RawMessage("{}")
	} else {
		var edited Output
		if err := json.Unmarshal(raw, &edited); err != nil {
			return nil, common.ErrValidation("Output must be a string or an object")
		}
		out.Content = edited.Content
		if len(edited.JSONContent) > 0 {
			out.JSONContent = edited.JSONContent
		}
	}
	out.HighlightedHTML = out.Content

	affected, err := s.GuardedUpdate(ctx, &PlayExecution{}, map[string]interface{}{
		"output":              datatypes.NewJSONType(out),
		"status":              StatusDraft,
		"highlighting_status": HighlightPending,
		"highlighting_error":  "",
		"updated_at":          s.now(),
	}, "id = ? AND status IN ?", rec.ID, []Status{StatusDraft, StatusRejected})
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, common.ErrConflict(MsgNotEditable)
	}

	rec.Output = datatypes.NewJSONType(out)
	rec.Status = StatusDraft
	rec.HighlightingStatus = HighlightPending
	rec.HighlightingError = ""
	s.scheduleHighlight(ctx, &rec)
	return s.Get(ctx, userID, id)
}

// RequestHighlight 手动重新排队高亮
func (s *Service) RequestHighlight(ctx context.Context, userID, id string) error {
	var rec PlayExecution
	if err := s.FindOwned(ctx, &rec, id, userID, MsgNotFound); err != nil {
		return err
	}
	if strings.TrimSpace(rec.Output.Data().Content) == "" {
		return common.ErrValidation(MsgNothingToMark)
	}
	if err := s.setHighlightState(ctx, rec.ID, HighlightPending, ""); err != nil {
		return err
	}
	if !s.scheduleHighlight(ctx, &rec) {
		return common.NewBusinessError(common.CodeServiceUnavailable, "Failed to trigger highlighting")
	}
	return nil
}

// StatusCounts 按玩法代码统计执行状态
func (s *Service) StatusCounts(ctx context.Context, userID string) (map[string]StatusCount, error) {
	var rows []struct {
		PlayCode string
		Status   Status
	}
	if err := s.ApplyUserFilter(s.DB.WithContext(ctx).Model(&PlayExecution{}), userID).
		Select("play_code, status").
		Scan(&rows).Error; err != nil {
		return nil, common.ErrPersistence("Failed to fetch execution statuses", err)
	}
	out := make(map[string]StatusCount)
	for _, r := range rows {
		if r.PlayCode == "" {
			continue
		}
		c := out[r.PlayCode]
		c.Total++
		switch r.Status {
		case StatusDraft:
			c.Draft++
		case StatusPendingApproval:
			c.InProgress++
		case StatusApproved:
			c.Approved++
		}
		out[r.PlayCode] = c
	}
	return out, nil
}

// scheduleHighlight 排队失败时记录 failed，返回是否已排队或已执行
func (s *Service) scheduleHighlight(ctx context.Context, rec *PlayExecution) bool {
	if s.queue == nil {
		if err := s.RunHighlight(ctx, rec.ID); err != nil {
			s.logger.Warn("同步高亮失败", zap.String("execution_id", rec.ID), zap.Error(err))
			return false
		}
		return true
	}
	err := s.queue.EnqueueHighlightExecution(ctx, tasks.HighlightExecutionPayload{ExecutionID: rec.ID, PlayCode: rec.PlayCode})
	if err == nil {
		return true
	}
	s.logger.Error("高亮任务入队失败", zap.String("execution_id", rec.ID), zap.Error(err))
	if serr := s.setHighlightState(ctx, rec.ID, HighlightFailed, "Failed to enqueue highlighting: "+err.Error()); serr != nil {
		s.logger.Error("记录高亮失败状态失败", zap.String("execution_id", rec.ID), zap.Error(serr))
	}
	return false
}

func (s *Service) setHighlightState(ctx context.Context, id string, status HighlightStatus, msg string) error {
	return s.DB.WithContext(ctx).Model(&PlayExecution{}).Where("id = ?", id).Updates(map[string]interface{}{
		"highlighting_status": status,
		"highlighting_error":  msg,
	}).Error
}

// views 组装对外视图；已通过的记录只有在最新审批为通过时才显示 approved
func (s *Service) views(ctx context.Context, rows []PlayExecution) ([]View, error) {
	ids := make([]string, 0, len(rows))
	playIDs := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
		if r.PlayID != "" {
			playIDs = append(playIDs, r.PlayID)
		}
	}
	latest, err := approval.LatestBySubject(ctx, s.DB, approval.SubjectExecution, ids...)
	if err != nil {
		return nil, err
	}
	playRefs := map[string]*PlayRef{}
	if len(playIDs) > 0 {
		var ps []plays.Play
		if err := s.DB.WithContext(ctx).Where("id IN ?", playIDs).Find(&ps).Error; err != nil {
			return nil, common.ErrPersistence("Failed to load plays", err)
		}
		for _, p := range ps {
			playRefs[p.ID] = &PlayRef{Code: p.Code, Name: p.Name, Category: string(p.Category)}
		}
	}

	out := make([]View, 0, len(rows))
	for _, r := range rows {
		v := View{
			ID:                 r.ID,
			PlayCode:           r.PlayCode,
			Output:             r.Output.Data(),
			Status:             r.Status,
			HighlightingStatus: r.HighlightingStatus,
			HighlightingError:  r.HighlightingError,
			RuntimeContext:     json.RawMessage(r.RuntimeContext),
			AgentName:          r.AgentName,
			CreatedAt:          r.CreatedAt,
			ExecutedAt:         r.ExecutedAt,
			ApprovedAt:         r.ApprovedAt,
			Play:               playRefs[r.PlayID],
		}
		a := latest[r.ID]
		if a != nil {
			sum := a.Summarize()
			v.Approval = &sum
		}
		if v.Status == StatusApproved && (a == nil || a.Status != approval.StatusApproved) {
			v.Status = StatusPendingApproval
			v.ApprovedAt = nil
		}
		out = append(out, v)
	}
	return out, nil
}

func listOrEmpty(v any) any {
	if list, ok := v.([]any); ok {
		return list
	}
	return []any{}
}
