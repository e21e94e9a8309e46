// Package workspace 管理员重建客户工作区
package workspace

import (
	"context"

	hcommon "claireportal/api/handlers/common"
	"claireportal/internal/common"
	"claireportal/internal/workspace"

	"github.com/gin-gonic/gin"
)

// Regenerator 工作区重建
type Regenerator interface {
	Regenerate(ctx context.Context, req workspace.RegenerateRequest) (*workspace.RegenerateResult, error)
}

// Handler 提供工作区管理 API
type Handler struct {
	svc Regenerator
}

// NewHandler 构造函数
func NewHandler(svc Regenerator) *Handler {
	return &Handler{svc: svc}
}

// Regenerate 按 userId 或 email 重建平台工作区
func (h *Handler) Regenerate(c *gin.Context) {
	var req workspace.RegenerateRequest
	if !hcommon.BindJSON(c, &req) {
		return
	}
	if req.UserID == "" && req.Email == "" {
		common.ResponseBadRequest(c, "userId or email is required")
		return
	}
	res, err := h.svc.Regenerate(c.Request.Context(), req)
	if err != nil {
		common.ResponseError(c, err)
		return
	}
	common.ResponseSuccess(c, gin.H{
		"message":       res.Message,
		"userEmail":     res.UserEmail,
		"userId":        res.UserID,
		"companyName":   res.CompanyName,
		"companyDomain": res.CompanyDomain,
		"workspaceOId":  res.WorkspaceOID,
		"productOId":    res.ProductOID,
		"workspaceName": res.WorkspaceName,
	})
}
