// Package plays 管理玩法目录：内置 YAML 目录与数据库覆盖合并
package plays

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"claireportal/internal/common"
	"claireportal/internal/highlight"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

//go:embed plays.yaml
var catalogYAML []byte

// Entry 内置目录条目
type Entry struct {
	Code                string   `yaml:"code"`
	Name                string   `yaml:"name"`
	Category            Category `yaml:"category"`
	DocumentationStatus string   `yaml:"documentation_status"`
	ContentAgentStatus  string   `yaml:"content_agent_status"`
	Description         string   `yaml:"description"`
}

// ParseCatalog 解析目录 YAML
func ParseCatalog(raw []byte) ([]Entry, error) {
	var doc struct {
		Plays []Entry `yaml:"plays"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse play catalog: %w", err)
	}
	seen := make(map[string]bool, len(doc.Plays))
	for _, e := range doc.Plays {
		if e.Code == "" || e.Name == "" {
			return nil, fmt.Errorf("parse play catalog: entry missing code or name")
		}
		if !e.Category.Valid() {
			return nil, fmt.Errorf("parse play catalog: play %s has unknown category %q", e.Code, e.Category)
		}
		if seen[e.Code] {
			return nil, fmt.Errorf("parse play catalog: duplicate code %s", e.Code)
		}
		seen[e.Code] = true
	}
	return doc.Plays, nil
}

// BuiltinCatalog 内置目录
func BuiltinCatalog() []Entry {
	entries, err := ParseCatalog(catalogYAML)
	if err != nil {
		panic(err)
	}
	return entries
}

// Catalog 玩法目录服务
type Catalog struct {
	*common.BaseService
	entries  []Entry
	registry *highlight.Registry
	logger   *zap.Logger
}

// NewCatalog 创建目录服务；entries 为 nil 时使用内置目录
func NewCatalog(db *gorm.DB, entries []Entry, registry *highlight.Registry, logger *zap.Logger) *Catalog {
	if entries == nil {
		entries = BuiltinCatalog()
	}
	if registry == nil {
		registry = highlight.DefaultRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{BaseService: common.NewBaseService(db), entries: entries, registry: registry, logger: logger}
}

// List 客户端玩法列表：内置目录过滤 Blocked 后与启用的数据库行合并，同 code 以数据库为准，均附带默认表单配置
// 数据库读取失败时退回内置目录
func (c *Catalog) List(ctx context.Context, category Category) ([]View, error) {
	if category != "" && !category.Valid() {
		category = ""
	}

	merged := make(map[string]View)
	for _, e := range c.entries {
		if category != "" && e.Category != category {
			continue
		}
		if e.DocumentationStatus == StatusBlocked {
			continue
		}
		q := DefaultQuestions()
		merged[e.Code] = View{
			Code:                e.Code,
			Name:                e.Name,
			Category:            e.Category,
			Description:         e.Description,
			DocumentationStatus: e.DocumentationStatus,
			ContentAgentStatus:  e.ContentAgentStatus,
			AgentNamePattern:    e.Code,
			IsActive:            true,
			Questions:           &q,
		}
	}

	var rows []Play
	query := c.DB.WithContext(ctx).Where("is_active = ?", true)
	if category != "" {
		query = query.Where("category = ?", category)
	}
	if err := query.Find(&rows).Error; err != nil {
		c.logger.Warn("读取玩法覆盖失败，使用内置目录", zap.Error(err))
		rows = nil
	}
	for _, p := range rows {
		q := DefaultQuestions()
		v := View{
			Code:                p.Code,
			Name:                p.Name,
			Category:            p.Category,
			Description:         p.Description,
			DocumentationStatus: p.DocumentationStatus,
			ContentAgentStatus:  p.ContentAgentStatus,
			AgentNamePattern:    p.AgentNamePattern,
			IsActive:            p.IsActive,
			Questions:           &q,
		}
		if v.AgentNamePattern == "" {
			v.AgentNamePattern = p.Code
		}
		if v.Description == "" {
			if prev, ok := merged[p.Code]; ok {
				v.Description = prev.Description
			}
		}
		merged[p.Code] = v
	}

	out := make([]View, 0, len(merged))
	for _, v := range merged {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// AdminCatalog 管理端目录：全部数据库行，附带模板信息
func (c *Catalog) AdminCatalog(ctx context.Context) ([]AdminView, error) {
	var rows []Play
	if err := c.DB.WithContext(ctx).Order("code ASC").Find(&rows).Error; err != nil {
		return nil, common.ErrPersistence("Failed to fetch plays", err)
	}
	out := make([]AdminView, 0, len(rows))
	for _, p := range rows {
		v := AdminView{Play: p}
		if tmpl, ok := c.registry.Lookup(p.Code); ok {
			v.AgentID = tmpl.AgentOID
			v.PromptTemplate = tmpl.Prompt
			v.HasPromptConfig = true
			v.VariableCount = len(tmpl.Mappings)
		}
		out = append(out, v)
	}
	return out, nil
}

// Lookup 查找数据库中的玩法
func (c *Catalog) Lookup(ctx context.Context, code string) (*Play, error) {
	var p Play
	err := c.DB.WithContext(ctx).Where("code = ?", code).First(&p).Error
	if err != nil {
		return nil, common.TranslateDBError(err, fmt.Sprintf("Play code %q not found", code))
	}
	return &p, nil
}

// RequireActive 查找并要求玩法已启用
func (c *Catalog) RequireActive(ctx context.Context, code string) (*Play, error) {
	p, err := c.Lookup(ctx, code)
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, common.ErrValidation(fmt.Sprintf("Play %q is not active", code))
	}
	return p, nil
}

// EnsurePlay 玩法行不存在时自动创建；name 为空时取内置目录名称或 "Play <code>"
func (c *Catalog) EnsurePlay(ctx context.Context, code, name string) (*Play, error) {
	var p Play
	err := c.DB.WithContext(ctx).Where("code = ?", code).First(&p).Error
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.ErrPersistence("Failed to look up play", err)
	}

	p = Play{Code: code, Name: name, Category: CategoryForCode(code), IsActive: true, AgentNamePattern: code}
	if e, ok := c.entry(code); ok {
		if p.Name == "" {
			p.Name = e.Name
		}
		p.Description = e.Description
		p.DocumentationStatus = e.DocumentationStatus
		p.ContentAgentStatus = e.ContentAgentStatus
	}
	if p.Name == "" {
		p.Name = "Play " + code
	}

	// 并发创建时唯一索引冲突，回读已存在的行
	if err := c.DB.WithContext(ctx).Create(&p).Error; err != nil {
		var existing Play
		if rerr := c.DB.WithContext(ctx).Where("code = ?", code).First(&existing).Error; rerr == nil {
			return &existing, nil
		}
		return nil, common.ErrPersistence("Failed to create play", err)
	}
	c.logger.Info("自动创建玩法", zap.String("code", code), zap.String("name", p.Name))
	return &p, nil
}

// Seed 将内置目录中数据库缺失的玩法写入，返回新增数量
func (c *Catalog) Seed(ctx context.Context) (int, error) {
	var existing []string
	if err := c.DB.WithContext(ctx).Model(&Play{}).Pluck("code", &existing).Error; err != nil {
		return 0, common.ErrPersistence("Failed to read plays", err)
	}
	have := make(map[string]bool, len(existing))
	for _, code := range existing {
		have[code] = true
	}

	var missing []Play
	for _, e := range c.entries {
		if have[e.Code] {
			continue
		}
		missing = append(missing, Play{
			Code:                e.Code,
			Name:                e.Name,
			Category:            e.Category,
			Description:         e.Description,
			DocumentationStatus: e.DocumentationStatus,
			ContentAgentStatus:  e.ContentAgentStatus,
			AgentNamePattern:    e.Code,
			IsActive:            e.DocumentationStatus != StatusBlocked,
		})
	}
	if len(missing) == 0 {
		return 0, nil
	}
	if err := c.DB.WithContext(ctx).Create(&missing).Error; err != nil {
		return 0, common.ErrPersistence("Failed to seed plays", err)
	}
	return len(missing), nil
}

func (c *Catalog) entry(code string) (Entry, bool) {
	for _, e := range c.entries {
		if e.Code == code {
			return e, true
		}
	}
	return Entry{}, false
}

// CategoryForCode 按首位数字推断分类：0 allbound，1 nurture，其余 outbound
func CategoryForCode(code string) Category {
	switch {
	case strings.HasPrefix(code, "0"):
		return CategoryAllbound
	case strings.HasPrefix(code, "1"):
		return CategoryNurture
	default:
		return CategoryOutbound
	}
}

// IsConferencePlay 会议前后的外呼玩法
func IsConferencePlay(code string) bool {
	return code == "2009" || code == "2010"
}

// SequenceLengthForPlay 玩法默认的邮件序列长度
func SequenceLengthForPlay(code string) int {
	switch {
	case IsConferencePlay(code):
		return 4
	case strings.HasPrefix(code, "2"), strings.HasPrefix(code, "1"):
		return 3
	default:
		return 1
	}
}
