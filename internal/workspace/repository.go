package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"claireportal/internal/common"
	"claireportal/internal/security"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MsgWorkspaceMissing 工作区或 API Key 缺失时返回给客户的提示
const MsgWorkspaceMissing = "Claire API key missing, please contact Fractional Ops to fix."

// ErrNoWorkspace 用户尚无工作区
var ErrNoWorkspace = errors.New("workspace not found")

// 缓存数组列，仅允许整列替换
const (
	ColumnPersonas         = "personas"
	ColumnUseCases         = "use_cases"
	ColumnClientReferences = "client_references"
	ColumnSegments         = "segments"
	ColumnPlaybooks        = "playbooks"
	ColumnCompetitors      = "competitors"
	ColumnProofPoints      = "proof_points"
	ColumnServiceOffering  = "service_offering"
)

var cachedColumns = map[string]struct{}{
	ColumnPersonas:         {},
	ColumnUseCases:         {},
	ColumnClientReferences: {},
	ColumnSegments:         {},
	ColumnPlaybooks:        {},
	ColumnCompetitors:      {},
	ColumnProofPoints:      {},
	ColumnServiceOffering:  {},
}

// 生成内容列
const (
	ContentCampaignIdeas  = "campaign_ideas"
	ContentProspectList   = "prospect_list"
	ContentColdEmails     = "cold_emails"
	ContentLinkedinPosts  = "linkedin_posts"
	ContentLinkedinDMs    = "linkedin_dms"
	ContentNewsletters    = "newsletters"
	ContentCallPrep       = "call_prep"
	ContentYoutubeScripts = "youtube_scripts"
)

var contentColumns = map[string]struct{}{
	ContentCampaignIdeas:  {},
	ContentProspectList:   {},
	ContentColdEmails:     {},
	ContentLinkedinPosts:  {},
	ContentLinkedinDMs:    {},
	ContentNewsletters:    {},
	ContentCallPrep:       {},
	ContentYoutubeScripts: {},
}

// Repository 工作区持久化
type Repository struct {
	*common.BaseService
	sealer *security.Sealer
}

// NewRepository 创建仓储；sealer 可为 nil（明文存储）
func NewRepository(db *gorm.DB, sealer *security.Sealer) *Repository {
	return &Repository{BaseService: common.NewBaseService(db), sealer: sealer}
}

// Latest 返回用户最新一行工作区
func (r *Repository) Latest(ctx context.Context, userID string) (*ClientWorkspace, error) {
	var ws ClientWorkspace
	err := r.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		First(&ws).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoWorkspace
	}
	if err != nil {
		return nil, common.ErrPersistence("Failed to load workspace", err)
	}
	return &ws, nil
}

// Credentials 返回最新工作区及解密后的 API Key
// 工作区或 Key 缺失时返回 404 业务错误
func (r *Repository) Credentials(ctx context.Context, userID string) (*ClientWorkspace, string, error) {
	ws, err := r.Latest(ctx, userID)
	if errors.Is(err, ErrNoWorkspace) {
		return nil, "", common.ErrNotFound(MsgWorkspaceMissing)
	}
	if err != nil {
		return nil, "", err
	}
	key, err := r.sealer.Open(ws.APIKey)
	if err != nil {
		return nil, "", common.Wrap(common.CodeMisconfigured, "Server configuration error", err)
	}
	if key == "" {
		return nil, "", common.ErrNotFound(MsgWorkspaceMissing)
	}
	return ws, key, nil
}

// Create 新增工作区行，API Key 加密后落库
func (r *Repository) Create(ctx context.Context, ws *ClientWorkspace, apiKey string) error {
	sealed, err := r.sealer.Seal(apiKey)
	if err != nil {
		return common.ErrPersistence("Failed to seal workspace key", err)
	}
	ws.APIKey = sealed
	if err := r.DB.WithContext(ctx).Create(ws).Error; err != nil {
		return common.ErrPersistence("Failed to save workspace", err)
	}
	return nil
}

// ReplaceEntities 整列替换缓存数组
func (r *Repository) ReplaceEntities(ctx context.Context, workspaceID, column string, value json.RawMessage) error {
	if _, ok := cachedColumns[column]; !ok {
		return fmt.Errorf("unknown cached column %q", column)
	}
	return r.updateColumn(ctx, workspaceID, column, datatypes.JSON(value))
}

// UpdateContent 整列替换生成内容字段
func (r *Repository) UpdateContent(ctx context.Context, workspaceID, column string, value any) error {
	if _, ok := contentColumns[column]; !ok {
		return fmt.Errorf("unknown content column %q", column)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", column, err)
	}
	return r.updateColumn(ctx, workspaceID, column, datatypes.JSON(raw))
}

func (r *Repository) updateColumn(ctx context.Context, workspaceID, column string, value datatypes.JSON) error {
	res := r.DB.WithContext(ctx).Model(&ClientWorkspace{}).
		Where("id = ?", workspaceID).
		Updates(map[string]interface{}{column: value})
	if res.Error != nil {
		return common.ErrPersistence("Failed to update workspace", res.Error)
	}
	if res.RowsAffected == 0 {
		return common.ErrNotFound("Workspace not found")
	}
	return nil
}

// FindAccount 按 ID 或邮箱查账号
func (r *Repository) FindAccount(ctx context.Context, userID, email string) (*Account, error) {
	q := r.DB.WithContext(ctx)
	switch {
	case userID != "":
		q = q.Where("id = ?", userID)
	case email != "":
		q = q.Where("LOWER(email) = LOWER(?)", email)
	default:
		return nil, common.ErrValidation("User ID is required")
	}
	var acc Account
	if err := q.First(&acc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if userID != "" {
				return nil, common.ErrNotFound("No user found with ID: " + userID)
			}
			return nil, common.ErrNotFound("No user found with email: " + email)
		}
		return nil, common.ErrPersistence("Failed to lookup user", err)
	}
	return &acc, nil
}

// SaveAccount 新增或更新账号问卷
func (r *Repository) SaveAccount(ctx context.Context, acc *Account) error {
	if err := r.DB.WithContext(ctx).Save(acc).Error; err != nil {
		return common.ErrPersistence("Failed to save account", err)
	}
	return nil
}
