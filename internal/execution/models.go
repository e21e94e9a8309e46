package execution

import (
	"encoding/json"
	"time"

	"claireportal/internal/approval"
	"claireportal/internal/highlight"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Status 执行记录状态
type Status string

const (
	StatusDraft           Status = "draft"
	StatusPendingApproval Status = approval.SubjectPendingApproval
	StatusApproved        Status = approval.SubjectApproved
	StatusRejected        Status = approval.SubjectRejected
)

// Editable 草稿与被拒绝的记录允许修改输出
func (s Status) Editable() bool {
	return s == StatusDraft || s == StatusRejected
}

// HighlightStatus 高亮任务状态
type HighlightStatus string

const (
	HighlightPending      HighlightStatus = "pending"
	HighlightInProgress   HighlightStatus = "in_progress"
	HighlightCompleted    HighlightStatus = "completed"
	HighlightNoHighlights HighlightStatus = "completed_no_highlights"
	HighlightFailed       HighlightStatus = "failed"
)

// Output 智能体生成结果
type Output struct {
	Content           string          `json:"content"`
	HighlightedHTML   string          `json:"highlighted_html"`
	JSONContent       json.RawMessage `json:"jsonContent,omitempty"`
	MatchedPersona    json.RawMessage `json:"matchedPersona,omitempty"`
	MatchedUseCases   json.RawMessage `json:"matchedUseCases,omitempty"`
	MatchedReferences json.RawMessage `json:"matchedReferences,omitempty"`
}

// PlayExecution 一次玩法执行
type PlayExecution struct {
	ID                 string                     `gorm:"type:uuid;primaryKey" json:"id"`
	UserID             string                     `gorm:"type:uuid;not null;index" json:"user_id"`
	PlayID             string                     `gorm:"size:36;index" json:"play_id,omitempty"`
	PlayCode           string                     `gorm:"size:10;index" json:"play_code"`
	WorkspaceOID       string                     `gorm:"column:workspace_oid;size:100" json:"workspace_oid,omitempty"`
	RuntimeContext     datatypes.JSON             `gorm:"type:jsonb" json:"runtime_context"`
	AgentOID           string                     `gorm:"column:agent_o_id;size:100" json:"agent_o_id"`
	AgentName          string                     `gorm:"size:255" json:"agent_name"`
	Output             datatypes.JSONType[Output] `gorm:"type:jsonb" json:"output"`
	Status             Status                     `gorm:"size:20;not null;index" json:"status"`
	HighlightingStatus HighlightStatus            `gorm:"size:30" json:"highlighting_status"`
	HighlightingError  string                     `gorm:"type:text" json:"highlighting_error,omitempty"`
	ExecutedAt         time.Time                  `json:"executed_at"`
	ApprovedAt         *time.Time                 `json:"approved_at"`
	CreatedAt          time.Time                  `gorm:"index" json:"created_at"`
	UpdatedAt          time.Time                  `json:"updated_at"`
}

// TableName 表名
func (PlayExecution) TableName() string {
	return "play_executions"
}

// BeforeCreate 设置默认 ID
func (e *PlayExecution) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	return nil
}

// RuntimeContext 客户提交的执行上下文
type RuntimeContext struct {
	Personas         []highlight.Persona   `json:"personas"`
	UseCases         []highlight.UseCase   `json:"useCases"`
	ClientReferences []highlight.Reference `json:"clientReferences"`
	CustomInput      string                `json:"customInput"`
}

// HighlightContext 转换为高亮上下文
func (rc RuntimeContext) HighlightContext() highlight.Context {
	return highlight.Context{
		Personas:         rc.Personas,
		UseCases:         rc.UseCases,
		ClientReferences: rc.ClientReferences,
	}
}

// PlayRef 执行所属玩法
type PlayRef struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// View 对外返回的执行记录
type View struct {
	ID                 string            `json:"id"`
	PlayCode           string            `json:"play_code"`
	Output             Output            `json:"output"`
	Status             Status            `json:"status"`
	HighlightingStatus HighlightStatus   `json:"highlighting_status"`
	HighlightingError  string            `json:"highlighting_error,omitempty"`
	RuntimeContext     json.RawMessage   `json:"runtime_context"`
	AgentName          string            `json:"agent_name"`
	CreatedAt          time.Time         `json:"created_at"`
	ExecutedAt         time.Time         `json:"executed_at"`
	ApprovedAt         *time.Time        `json:"approved_at"`
	Play               *PlayRef          `json:"play,omitempty"`
	Approval           *approval.Summary `json:"approval,omitempty"`
}

// StatusCount 单个玩法下的执行状态计数
type StatusCount struct {
	Draft      int `json:"draft"`
	InProgress int `json:"in_progress"`
	Approved   int `json:"approved"`
	Total      int `json:"total"`
}
