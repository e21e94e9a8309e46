// Package strategy 战略 PDF 下载
package strategy

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	hcommon "claireportal/api/handlers/common"
	"claireportal/internal/common"
	"claireportal/internal/export"

	"github.com/gin-gonic/gin"
)

// Exporter PDF 导出
type Exporter interface {
	Export(ctx context.Context, userID string) (*export.Document, error)
}

type Handler struct {
	exporter Exporter
}

func NewHandler(exporter Exporter) *Handler {
	return &Handler{exporter: exporter}
}

// PDF 以附件形式返回当前用户的战略 PDF
func (h *Handler) PDF(c *gin.Context) {
	actor, ok := hcommon.CurrentActor(c)
	if !ok {
		return
	}
	doc, err := h.exporter.Export(c.Request.Context(), actor.UserID)
	if err != nil {
		common.ResponseError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, doc.FileName))
	c.Header("X-Page-Count", strconv.Itoa(doc.Pages))
	c.Data(http.StatusOK, "application/pdf", doc.Content)
}
