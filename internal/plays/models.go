package plays

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Category 玩法分类
type Category string

const (
	CategoryAllbound Category = "allbound"
	CategoryNurture  Category = "nurture"
	CategoryOutbound Category = "outbound"
)

// Valid 是否为已知分类
func (c Category) Valid() bool {
	switch c {
	case CategoryAllbound, CategoryNurture, CategoryOutbound:
		return true
	}
	return false
}

// StatusBlocked 文档状态为 Blocked 的玩法不对客户展示
const StatusBlocked = "Blocked"

// Play 数据库中的玩法行，覆盖内置目录
type Play struct {
	ID                  string    `gorm:"type:uuid;primaryKey" json:"id"`
	Code                string    `gorm:"size:10;uniqueIndex;not null" json:"code"`
	Name                string    `gorm:"size:255;not null" json:"name"`
	Category            Category  `gorm:"size:20;not null;index" json:"category"`
	Description         string    `gorm:"type:text" json:"description,omitempty"`
	DocumentationStatus string    `gorm:"size:50" json:"documentation_status"`
	ContentAgentStatus  string    `gorm:"size:50" json:"content_agent_status"`
	AgentNamePattern    string    `gorm:"size:100" json:"agent_name_pattern,omitempty"`
	AgentID             string    `gorm:"size:100" json:"agent_id,omitempty"`
	PromptTemplate      string    `gorm:"type:text" json:"prompt_template,omitempty"`
	IsActive            bool      `gorm:"not null;index" json:"is_active"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// TableName 表名
func (Play) TableName() string {
	return "claire_plays"
}

// BeforeCreate 设置默认 ID
func (p *Play) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}

// Question 执行表单中单个问题的配置
type Question struct {
	Required    bool   `json:"required"`
	MultiSelect bool   `json:"multiSelect,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
}

// Questions 执行表单配置
type Questions struct {
	Personas         Question `json:"personas"`
	UseCases         Question `json:"useCases"`
	ClientReferences Question `json:"clientReferences"`
	CustomInput      Question `json:"customInput"`
}

// DefaultQuestions 未自定义表单的玩法使用的配置
func DefaultQuestions() Questions {
	return Questions{
		Personas:         Question{Required: true},
		UseCases:         Question{Required: true, MultiSelect: true},
		ClientReferences: Question{MultiSelect: true},
		CustomInput:      Question{Required: true, Placeholder: "Describe your idea or thought on this play (2-3 sentences)..."},
	}
}

// View 客户端看到的玩法
type View struct {
	Code                string     `json:"code"`
	Name                string     `json:"name"`
	Category            Category   `json:"category"`
	Description         string     `json:"description,omitempty"`
	DocumentationStatus string     `json:"documentation_status"`
	ContentAgentStatus  string     `json:"content_agent_status"`
	AgentNamePattern    string     `json:"agent_name_pattern"`
	IsActive            bool       `json:"is_active"`
	Questions           *Questions `json:"questions,omitempty"`
}

// AdminView 管理端目录条目，附带提示词模板信息
type AdminView struct {
	Play
	HasPromptConfig bool `json:"hasPromptConfig"`
	VariableCount   int  `json:"variableCount"`
}
