package approval

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SubjectType 审批对象类型
type SubjectType string

const (
	SubjectExecution SubjectType = "execution"
	SubjectCampaign  SubjectType = "campaign"
)

// Status 审批状态
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Decision 是否为可提交的审批决定
func (s Status) Decision() bool {
	return s == StatusApproved || s == StatusRejected
}

// 审批阶段
const (
	StageReview = "review"
	StageDirect = "direct"
	StageList   = "list"
	StageCopy   = "copy"
)

// DefaultRejectionReason 未填写意见时的拒绝原因
const DefaultRejectionReason = "Rejected by user"

// Approval 审批记录，通过分享令牌访问
type Approval struct {
	ID              string      `gorm:"type:uuid;primaryKey" json:"id"`
	SubjectType     SubjectType `gorm:"size:20;not null;index:idx_approval_subject" json:"subject_type"`
	SubjectID       string      `gorm:"type:uuid;not null;index:idx_approval_subject" json:"subject_id"`
	OwnerID         string      `gorm:"type:uuid;not null;index" json:"owner_id"`
	Stage           string      `gorm:"size:20;not null" json:"stage"`
	ShareableToken  string      `gorm:"type:uuid;uniqueIndex;not null" json:"shareable_token"`
	Status          Status      `gorm:"size:20;not null;index" json:"status"`
	DueDate         time.Time   `json:"due_date"`
	ApprovedAt      *time.Time  `json:"approved_at"`
	RejectedAt      *time.Time  `json:"rejected_at"`
	Comments        string      `gorm:"type:text" json:"comments,omitempty"`
	ApproverEmail   string      `gorm:"size:255" json:"approver_email,omitempty"`
	ApproverUserID  string      `gorm:"size:36" json:"approver_user_id,omitempty"`
	RejectionReason string      `gorm:"type:text" json:"rejection_reason,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// TableName 表名
func (Approval) TableName() string {
	return "play_approvals"
}

// BeforeCreate 设置默认 ID 与分享令牌
func (a *Approval) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.ShareableToken == "" {
		a.ShareableToken = uuid.New().String()
	}
	return nil
}

// Summary 列表中展示的审批摘要
type Summary struct {
	ID             string     `json:"id"`
	ShareableToken string     `json:"shareable_token"`
	Status         Status     `json:"status"`
	DueDate        time.Time  `json:"due_date"`
	ApprovedAt     *time.Time `json:"approved_at"`
	RejectedAt     *time.Time `json:"rejected_at"`
	Comments       string     `json:"comments,omitempty"`
}

// Summarize 转换为摘要
func (a *Approval) Summarize() Summary {
	return Summary{
		ID:             a.ID,
		ShareableToken: a.ShareableToken,
		Status:         a.Status,
		DueDate:        a.DueDate,
		ApprovedAt:     a.ApprovedAt,
		RejectedAt:     a.RejectedAt,
		Comments:       a.Comments,
	}
}

// AuditEntry 活动审批审计明细
type AuditEntry struct {
	Action    string         `json:"action"`
	Timestamp time.Time      `json:"timestamp"`
	Actor     string         `json:"actor"`
	Details   map[string]any `json:"details,omitempty"`
}

// CampaignApproval 活动各阶段的审批审计行
type CampaignApproval struct {
	ID            string                          `gorm:"type:uuid;primaryKey" json:"id"`
	CampaignID    string                          `gorm:"type:uuid;not null;index" json:"campaign_id"`
	Stage         string                          `gorm:"column:approval_stage;size:20;not null" json:"approval_stage"`
	Status        Status                          `gorm:"size:20;not null" json:"status"`
	ApprovedBy    string                          `gorm:"size:36" json:"approved_by"`
	ApproverEmail string                          `gorm:"size:255" json:"approver_email,omitempty"`
	Comments      string                          `gorm:"type:text" json:"comments,omitempty"`
	Diff          string                          `gorm:"type:text" json:"diff,omitempty"`
	AuditLog      datatypes.JSONSlice[AuditEntry] `gorm:"type:jsonb" json:"audit_log,omitempty"`
	ApprovedAt    *time.Time                      `json:"approved_at"`
	CreatedAt     time.Time                       `json:"created_at"`
}

// TableName 表名
func (CampaignApproval) TableName() string {
	return "campaign_approvals"
}

// BeforeCreate 设置默认 ID
func (c *CampaignApproval) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return nil
}
