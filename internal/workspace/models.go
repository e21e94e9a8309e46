package workspace

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ClientWorkspace 客户在外部智能体平台上的工作区快照
// 同一用户可能存在多行，按创建时间取最新一行
type ClientWorkspace struct {
	ID            string `gorm:"type:uuid;primaryKey" json:"id"`
	UserID        string `gorm:"type:uuid;not null;index:idx_client_workspace_user" json:"user_id"`
	WorkspaceOID  string `gorm:"column:workspace_oid;size:100" json:"workspace_oid"`
	ProductOID    string `gorm:"column:product_oid;size:100" json:"product_oid"`
	APIKey        string `gorm:"column:workspace_api_key;size:512" json:"-"`
	CompanyName   string `gorm:"size:255" json:"company_name"`
	CompanyDomain string `gorm:"size:255" json:"company_domain"`

	ServiceOffering  datatypes.JSON `gorm:"type:jsonb" json:"service_offering"`
	Personas         datatypes.JSON `gorm:"type:jsonb" json:"personas"`
	UseCases         datatypes.JSON `gorm:"type:jsonb" json:"use_cases"`
	ClientReferences datatypes.JSON `gorm:"type:jsonb" json:"client_references"`
	Segments         datatypes.JSON `gorm:"type:jsonb" json:"segments"`
	Playbooks        datatypes.JSON `gorm:"type:jsonb" json:"playbooks"`
	Competitors      datatypes.JSON `gorm:"type:jsonb" json:"competitors"`
	ProofPoints      datatypes.JSON `gorm:"type:jsonb" json:"proof_points"`
	AgentIDs         datatypes.JSON `gorm:"column:agent_ids;type:jsonb" json:"agent_ids"`

	CampaignIdeas  datatypes.JSONSlice[CampaignIdea]   `gorm:"type:jsonb" json:"campaign_ideas"`
	ProspectList   datatypes.JSONSlice[Prospect]       `gorm:"type:jsonb" json:"prospect_list"`
	ColdEmails     datatypes.JSONType[ColdEmails]      `gorm:"type:jsonb" json:"cold_emails"`
	LinkedinPosts  datatypes.JSONType[LinkedinPosts]   `gorm:"type:jsonb" json:"linkedin_posts"`
	LinkedinDMs    datatypes.JSONType[LinkedinDMs]     `gorm:"column:linkedin_dms;type:jsonb" json:"linkedin_dms"`
	Newsletters    datatypes.JSONType[Newsletters]     `gorm:"type:jsonb" json:"newsletters"`
	CallPrep       datatypes.JSONType[CallPrep]        `gorm:"type:jsonb" json:"call_prep"`
	YoutubeScripts datatypes.JSONType[YoutubeScripts]  `gorm:"type:jsonb" json:"youtube_scripts"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// TableName 表名
func (ClientWorkspace) TableName() string {
	return "client_workspaces"
}

// BeforeCreate 设置默认 ID 与时间戳
func (w *ClientWorkspace) BeforeCreate(tx *gorm.DB) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	if w.UpdatedAt.IsZero() {
		w.UpdatedAt = w.CreatedAt
	}
	return nil
}

// BeforeUpdate 更新时间戳
func (w *ClientWorkspace) BeforeUpdate(tx *gorm.DB) error {
	w.UpdatedAt = time.Now().UTC()
	return nil
}

// CampaignIdea 活动创意
type CampaignIdea struct {
	ID          int    `json:"id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Prospect 潜在客户
type Prospect struct {
	Name     string `json:"name"`
	Title    string `json:"title,omitempty"`
	Company  string `json:"company,omitempty"`
	LinkedIn string `json:"linkedIn,omitempty"`
}

// SequenceEmail 序列中的单封邮件
type SequenceEmail struct {
	Subject string `json:"subject"`
	Email   string `json:"email,omitempty"`
	Body    string `json:"body,omitempty"`
}

// Text 正文，email 为空时取 body
func (e SequenceEmail) Text() string {
	if e.Email != "" {
		return e.Email
	}
	return e.Body
}

// ColdEmails 五种冷邮件变体
type ColdEmails struct {
	PersonalizedSolutions []SequenceEmail `json:"personalizedSolutions,omitempty"`
	LeadMagnetShort       []SequenceEmail `json:"leadMagnetShort,omitempty"`
	LocalCity             []SequenceEmail `json:"localCity,omitempty"`
	ProblemSolution       []SequenceEmail `json:"problemSolution,omitempty"`
	LeadMagnetLong        []SequenceEmail `json:"leadMagnetLong,omitempty"`
}

// LinkedinPosts 三种领英帖子
type LinkedinPosts struct {
	Inspiring   string `json:"inspiring,omitempty"`
	Promotional string `json:"promotional,omitempty"`
	Actionable  string `json:"actionable,omitempty"`
}

// LinkedinDMs 领英私信
type LinkedinDMs struct {
	Newsletter  string `json:"newsletter,omitempty"`
	LeadMagnet  string `json:"leadMagnet,omitempty"`
	AskQuestion string `json:"askQuestion,omitempty"`
}

// Newsletters 通讯稿
type Newsletters struct {
	Tactical   string `json:"tactical,omitempty"`
	Leadership string `json:"leadership,omitempty"`
}

// CallPrep 电话准备材料
type CallPrep struct {
	DiscoveryQuestions []string `json:"discoveryQuestions,omitempty"`
	CallScript         string   `json:"callScript,omitempty"`
	ObjectionHandling  string   `json:"objectionHandling,omitempty"`
}

// Empty 是否没有任何内容
func (c CallPrep) Empty() bool {
	return len(c.DiscoveryQuestions) == 0 && c.CallScript == "" && c.ObjectionHandling == ""
}

// YoutubeScripts 视频脚本
type YoutubeScripts struct {
	LongForm string `json:"longForm,omitempty"`
}

// Account 客户账号及其问卷快照
type Account struct {
	ID            string         `gorm:"type:uuid;primaryKey" json:"id"`
	Email         string         `gorm:"size:255;not null;uniqueIndex" json:"email"`
	Questionnaire datatypes.JSON `gorm:"type:jsonb" json:"questionnaire"`
	CreatedAt     time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null" json:"updated_at"`
}

// TableName 表名
func (Account) TableName() string {
	return "user_accounts"
}

// BeforeCreate 设置默认 ID 与时间戳
func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}
	return nil
}
