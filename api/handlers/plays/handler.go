package plays

import (
	"context"

	"claireportal/internal/common"
	"claireportal/internal/plays"

	"github.com/gin-gonic/gin"
)

// Catalog 玩法目录
type Catalog interface {
	List(ctx context.Context, category plays.Category) ([]plays.View, error)
	AdminCatalog(ctx context.Context) ([]plays.AdminView, error)
}

// Handler 玩法目录 API
type Handler struct {
	catalog Catalog
}

func NewHandler(catalog Catalog) *Handler {
	return &Handler{catalog: catalog}
}

// List 客户端玩法列表，?category= 按分类过滤
func (h *Handler) List(c *gin.Context) {
	views, err := h.catalog.List(c.Request.Context(), plays.Category(c.Query("category")))
	if err != nil {
		common.ResponseError(c, err)
		return
	}
	common.ResponseSuccess(c, gin.H{"plays": views})
}

// AdminCatalog 管理端完整目录
func (h *Handler) AdminCatalog(c *gin.Context) {
	views, err := h.catalog.AdminCatalog(c.Request.Context())
	if err != nil {
		common.ResponseError(c, err)
		return
	}
	common.ResponseSuccess(c, gin.H{"plays": views, "total": len(views)})
}
