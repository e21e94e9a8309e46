package campaign

import (
	"encoding/json"
	"strings"
	"time"

	"claireportal/internal/highlight"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Campaign 多封邮件的外呼活动
type Campaign struct {
	ID                  string                           `gorm:"type:uuid;primaryKey" json:"id"`
	UserID              string                           `gorm:"type:uuid;not null;index" json:"user_id"`
	PlayCode            string                           `gorm:"size:10;not null;index" json:"play_code"`
	CampaignName        string                           `gorm:"size:255;not null" json:"campaign_name"`
	CampaignType        string                           `gorm:"size:255" json:"campaign_type"`
	CampaignBrief       datatypes.JSONType[Brief]        `gorm:"type:jsonb" json:"campaign_brief"`
	AdditionalBrief     string                           `gorm:"type:text" json:"additional_brief,omitempty"`
	WorkspaceOID        string                           `gorm:"column:workspace_oid;size:100" json:"workspace_oid"`
	Status              State                            `gorm:"size:30;not null;index" json:"status"`
	ApprovalStatus      ApprovalStatus                   `gorm:"size:30;not null;index" json:"approval_status"`
	ListStatus          ListStatus                       `gorm:"size:30;not null" json:"list_status"`
	IntermediaryOutputs datatypes.JSONType[Intermediary] `gorm:"type:jsonb" json:"intermediary_outputs"`
	RuntimeContext      datatypes.JSONType[Context]      `gorm:"type:jsonb" json:"runtime_context"`
	FinalOutputs        datatypes.JSONType[FinalOutputs] `gorm:"type:jsonb" json:"final_outputs"`
	ListData            datatypes.JSONType[ListData]     `gorm:"type:jsonb" json:"list_data"`
	ApprovedCopy        string                           `gorm:"type:text" json:"approved_copy,omitempty"`
	CreatedAt           time.Time                        `gorm:"index" json:"created_at"`
	UpdatedAt           time.Time                        `json:"updated_at"`
}

// TableName 表名
func (Campaign) TableName() string {
	return "campaigns"
}

// BeforeCreate 设置默认 ID
func (c *Campaign) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return nil
}

// Brief 活动简报原始材料
type Brief struct {
	MeetingTranscript string   `json:"meeting_transcript,omitempty"`
	WrittenStrategy   string   `json:"written_strategy,omitempty"`
	Documents         []string `json:"documents,omitempty"`
	BlogPosts         []string `json:"blog_posts,omitempty"`
}

// Offer 吸引力提案
type Offer struct {
	Headline     string   `json:"headline"`
	ValueBullets []string `json:"valueBullets"`
	EaseBullets  []string `json:"easeBullets"`
}

// Empty 标题与要点都为空
func (o *Offer) Empty() bool {
	return o == nil || (strings.TrimSpace(o.Headline) == "" && len(o.ValueBullets) == 0 && len(o.EaseBullets) == 0)
}

// Asset 活动落地资产
type Asset struct {
	Type    string `json:"type,omitempty"`
	Content string `json:"content,omitempty"`
	URL     string `json:"url,omitempty"`
}

// CaseStudy 客户案例
type CaseStudy struct {
	ClientName  string `json:"clientName"`
	Description string `json:"description"`
}

// Intermediary 生成文案前的中间产物
type Intermediary struct {
	ListBuildingInstructions string                `json:"list_building_instructions,omitempty"`
	Hook                     string                `json:"hook,omitempty"`
	AttractionOffer          *Offer                `json:"attraction_offer,omitempty"`
	Asset                    *Asset                `json:"asset,omitempty"`
	CaseStudies              []CaseStudy           `json:"case_studies,omitempty"`
	ClientReferences         []highlight.Reference `json:"client_references,omitempty"`
}

// Ready hook 与吸引力提案均已填写
func (i Intermediary) Ready() bool {
	return strings.TrimSpace(i.Hook) != "" && !i.AttractionOffer.Empty()
}

// Persona 活动选用的画像
type Persona struct {
	OID         string `json:"oId,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// UseCase 活动选用的用例
type UseCase struct {
	OID            string `json:"oId,omitempty"`
	Name           string `json:"name"`
	DesiredOutcome string `json:"desiredOutcome,omitempty"`
	Blocker        string `json:"blocker,omitempty"`
}

// Context 活动运行时上下文
type Context struct {
	Personas []Persona `json:"personas"`
	UseCases []UseCase `json:"use_cases"`
	Problems []string  `json:"problems"`
}

// ValidationReport 文案自检结果
type ValidationReport struct {
	HasPlaceholders    bool                         `json:"hasPlaceholders"`
	HasCTA             bool                         `json:"hasCTA"`
	HasConferenceTieIn bool                         `json:"hasConferenceTieIn"`
	Placeholders       *highlight.PlaceholderReport `json:"placeholders,omitempty"`
}

// FinalOutputs 生成的活动文案
type FinalOutputs struct {
	CampaignCopy     json.RawMessage   `json:"campaign_copy,omitempty"`
	RawContent       string            `json:"raw_content,omitempty"`
	HighlightedHTML  string            `json:"highlighted_html,omitempty"`
	ValidationReport *ValidationReport `json:"validation_report,omitempty"`
	AgentOID         string            `json:"agent_o_id,omitempty"`
	AgentName        string            `json:"agent_name,omitempty"`
	GeneratedAt      *time.Time        `json:"generated_at,omitempty"`
}

// ListRow 名单预览行
type ListRow struct {
	AccountName  string `json:"account_name"`
	ProspectName string `json:"prospect_name"`
	JobTitle     string `json:"job_title"`
}

// ListData 名单问答与上传结果
type ListData struct {
	HasAccountList   *bool      `json:"has_account_list,omitempty"`
	HasProspectList  *bool      `json:"has_prospect_list,omitempty"`
	AccountListFile  string     `json:"account_list_file,omitempty"`
	ProspectListFile string     `json:"prospect_list_file,omitempty"`
	ListPreview      []ListRow  `json:"list_preview,omitempty"`
	TotalRecords     int        `json:"total_records,omitempty"`
	UploadedAt       *time.Time `json:"uploaded_at,omitempty"`
	UploadedBy       string     `json:"uploaded_by,omitempty"`
}

// Summary 列表项
type Summary struct {
	ID             string         `json:"id"`
	CampaignName   string         `json:"campaignName"`
	PlayCode       string         `json:"playCode"`
	PlayName       string         `json:"playName"`
	PlayCategory   string         `json:"playCategory"`
	CampaignType   string         `json:"campaignType"`
	Status         State          `json:"status"`
	ApprovalStatus ApprovalStatus `json:"approvalStatus"`
	ListStatus     ListStatus     `json:"listStatus"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}
