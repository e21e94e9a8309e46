// Package gtm GTM 库读取与实体写入
package gtm

import (
	"context"
	"io"

	hcommon "claireportal/api/handlers/common"
	"claireportal/internal/common"
	"claireportal/internal/gtm"

	"github.com/gin-gonic/gin"
)

// Service GTM 服务
type Service interface {
	Library(ctx context.Context, userID string) (*gtm.Library, error)
	Upsert(ctx context.Context, userID string, k gtm.Kind, in *gtm.Input) (*gtm.UpsertResult, error)
}

type Handler struct {
	svc Service
}

func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// Library GTM 库全量
func (h *Handler) Library(c *gin.Context) {
	actor, ok := hcommon.CurrentActor(c)
	if !ok {
		return
	}
	lib, err := h.svc.Library(c.Request.Context(), actor.UserID)
	if err != nil {
		common.ResponseError(c, err)
		return
	}
	common.ResponseSuccess(c, gin.H{
		"workspace":        lib.Workspace,
		"personas":         lib.Personas,
		"useCases":         lib.UseCases,
		"clientReferences": lib.ClientReferences,
		"segments":         lib.Segments,
		"playbooks":        lib.Playbooks,
		"competitors":      lib.Competitors,
		"proofPoints":      lib.ProofPoints,
		"serviceOffering":  lib.ServiceOffering,
		"degraded":         lib.Degraded,
	})
}

// Upsert 按 oId 更新，缺省时创建
func (h *Handler) Upsert(c *gin.Context) {
	actor, ok := hcommon.CurrentActor(c)
	if !ok {
		return
	}
	kind, found := gtm.ParseRouteKind(c.Param("kind"))
	if !found {
		common.ResponseError(c, common.ErrNotFound("Unknown GTM entity type"))
		return
	}
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		common.ResponseBadRequest(c, hcommon.MsgInvalidBody)
		return
	}
	in, err := gtm.DecodeInput(kind, raw)
	if err != nil {
		common.ResponseError(c, err)
		return
	}

	res, err := h.svc.Upsert(c.Request.Context(), actor.UserID, kind, in)
	if err != nil {
		common.ResponseError(c, err)
		return
	}
	common.ResponseSuccess(c, gin.H{"data": res.Data})
}
