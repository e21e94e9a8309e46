package workspace

import (
	"context"
	"encoding/json"
	"errors"

	"claireportal/internal/common"
	"claireportal/internal/config"
	"claireportal/internal/octave"

	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// MsgWorkspaceExists 外部平台已存在同域名工作区
const MsgWorkspaceExists = "A workspace for this domain already exists. Please delete it in Octave first, then try again."

// Builder 外部工作区开通接口
type Builder interface {
	BuildWorkspace(ctx context.Context, req octave.WorkspaceBuildRequest) (*octave.WorkspaceBuildResult, error)
}

// Service 工作区业务服务
type Service struct {
	repo    *Repository
	builder Builder
	cfg     config.OctaveConfig
	logger  *zap.Logger
}

// NewService 创建工作区服务
func NewService(repo *Repository, builder Builder, cfg config.OctaveConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, builder: builder, cfg: cfg, logger: logger}
}

// Repository 返回底层仓储
func (s *Service) Repository() *Repository {
	return s.repo
}

// RegenerateRequest 重建请求，UserID 与 Email 二选一
type RegenerateRequest struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// RegenerateResult 重建结果
type RegenerateResult struct {
	Message       string `json:"message"`
	UserEmail     string `json:"userEmail"`
	UserID        string `json:"userId"`
	CompanyName   string `json:"companyName"`
	CompanyDomain string `json:"companyDomain"`
	WorkspaceOID  string `json:"workspaceOId"`
	ProductOID    string `json:"productOId"`
	WorkspaceName string `json:"workspaceName"`
	WorkspaceURL  string `json:"workspaceUrl"`
	WorkspaceID   string `json:"workspaceId"`
}

// Regenerate 按账号问卷重新开通外部工作区，并写入新的工作区行
// 并发重建不加锁，以最后写入的行为准
func (s *Service) Regenerate(ctx context.Context, req RegenerateRequest) (*RegenerateResult, error) {
	acc, err := s.repo.FindAccount(ctx, req.UserID, req.Email)
	if err != nil {
		return nil, err
	}

	q, err := ParseQuestionnaire(acc.Questionnaire)
	if err != nil {
		return nil, common.ErrValidation("Failed to load questionnaire data: " + err.Error())
	}

	buildReq := octave.WorkspaceBuildRequest{
		Workspace: octave.WorkspaceSpec{
			Name:             q.WorkspaceName(),
			URL:              q.WorkspaceURL(),
			AddExistingUsers: true,
			AgentOIDs:        s.cfg.DefaultAgentOIDs,
		},
		Offering:            q.Offering(),
		RuntimeContext:      string(q.Raw),
		BrandVoiceOID:       s.cfg.BrandVoiceOID,
		CreateDefaultAgents: true,
	}

	s.logger.Info("开始重建工作区",
		zap.String("user_id", acc.ID),
		zap.String("company", q.CompanyInfo.CompanyName),
		zap.Int("agents", len(buildReq.Workspace.AgentOIDs)),
	)

	built, err := s.builder.BuildWorkspace(ctx, buildReq)
	if err != nil {
		return nil, translateBuildError(err)
	}

	offering, _ := json.Marshal(buildReq.Offering)
	ws := &ClientWorkspace{
		UserID:          acc.ID,
		WorkspaceOID:    built.WorkspaceOID,
		ProductOID:      built.ProductOID,
		CompanyName:     q.CompanyInfo.CompanyName,
		CompanyDomain:   q.CompanyInfo.CompanyDomain,
		ServiceOffering: datatypes.JSON(offering),
	}
	if err := s.repo.Create(ctx, ws, built.APIKey); err != nil {
		return nil, err
	}

	s.logger.Info("工作区重建完成",
		zap.String("user_id", acc.ID),
		zap.String("workspace_oid", built.WorkspaceOID),
		zap.String("product_oid", built.ProductOID),
		zap.Bool("api_key_returned", built.APIKey != ""),
	)

	return &RegenerateResult{
		Message:       "Workspace successfully regenerated for " + q.CompanyInfo.CompanyName,
		UserEmail:     acc.Email,
		UserID:        acc.ID,
		CompanyName:   q.CompanyInfo.CompanyName,
		CompanyDomain: q.CompanyInfo.CompanyDomain,
		WorkspaceOID:  built.WorkspaceOID,
		ProductOID:    built.ProductOID,
		WorkspaceName: q.WorkspaceName(),
		WorkspaceURL:  q.WorkspaceURL(),
		WorkspaceID:   ws.ID,
	}, nil
}

func translateBuildError(err error) error {
	if errors.Is(err, octave.ErrWorkspaceExists) {
		return common.Wrap(common.CodeConflict, MsgWorkspaceExists, err)
	}
	return octave.Translate(err, "Failed to create workspace")
}
