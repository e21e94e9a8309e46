package executions

import (
	"context"
	"net/http"

	hcommon "claireportal/api/handlers/common"
	"claireportal/internal/common"
	"claireportal/internal/execution"

	"github.com/gin-gonic/gin"
)

// Service 执行服务
type Service interface {
	Execute(ctx context.Context, in execution.ExecuteInput) (*execution.ExecuteResult, error)
	Get(ctx context.Context, userID, id string) (*execution.View, error)
	List(ctx context.Context, userID string, f execution.ListFilter) ([]execution.View, error)
	UpdateOutput(ctx context.Context, userID, id string, in execution.UpdateOutputInput) (*execution.View, error)
	RequestHighlight(ctx context.Context, userID, id string) error
	StatusCounts(ctx context.Context, userID string) (map[string]execution.StatusCount, error)
}

// Handler 玩法执行 API
type Handler struct {
	svc Service
}

func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// Execute 执行玩法
// @Summary 调用智能体执行玩法并保存草稿
// @Tags Executions
// @Security BearerAuth
// @Router /api/client/execute-play [post]
func (h *Handler) Execute(c *gin.Context) {
	actor, ok := hcommon.CurrentActor(c)
	if !ok {
		return
	}
	var in execution.ExecuteInput
	if !hcommon.BindJSON(c, &in) {
		return
	}
	in.UserID = actor.UserID

	result, err := h.svc.Execute(c.Request.Context(), in)
	if err != nil {
		common.ResponseError(c, err)
		return
	}
	common.ResponseSuccess(c, gin.H{"execution": result})
}

// List 执行记录列表，支持 status、category、play_code 筛选；带 page 或 page_size 时分页
func (h *Handler) List(c *gin.Context) {
	actor, ok := hcommon.CurrentActor(c)
	if !ok {
		return
	}
	filter := execution.ListFilter{
		Status:   c.Query("status"),
		Category: c.Query("category"),
		PlayCode: c.Query("play_code"),
	}
	if c.Query("page") != "" || c.Query("page_size") != "" {
		var page common.PaginationRequest
		if err := c.ShouldBindQuery(&page); err != nil {
			common.ResponseBadRequest(c, "Invalid pagination parameters")
			return
		}
		filter.Page = &page
	}
	views, err := h.svc.List(c.Request.Context(), actor.UserID, filter)
	if err != nil {
		common.ResponseError(c, err)
		return
	}
	common.ResponseSuccess(c, gin.H{"executions": views})
}

// Get 单条执行记录
func (h *Handler) Get(c *gin.Context) {
	actor, ok := hcommon.CurrentActor(c)
	if !ok {
		return
	}
	view, err := h.svc.Get(c.Request.Context(), actor.UserID, c.Param("id"))
	if err != nil {
		common.ResponseError(c, err)
		return
	}
	common.ResponseSuccess(c, gin.H{"execution": view})
}

// Update 修改执行输出
func (h *Handler) Update(c *gin.Context) {
	actor, ok := hcommon.CurrentActor(c)
	if !ok {
		return
	}
	var in execution.UpdateOutputInput
	if !hcommon.BindJSON(c, &in) {
		return
	}
	view, err := h.svc.UpdateOutput(c.Request.Context(), actor.UserID, c.Param("id"), in)
	if err != nil {
		common.ResponseError(c, err)
		return
	}
	common.ResponseSuccess(c, gin.H{"execution": view})
}

// Highlight 重新排队高亮
func (h *Handler) Highlight(c *gin.Context) {
	actor, ok := hcommon.CurrentActor(c)
	if !ok {
		return
	}
	if err := h.svc.RequestHighlight(c.Request.Context(), actor.UserID, c.Param("id")); err != nil {
		common.ResponseError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "message": "Highlighting queued"})
}

// Statuses 按玩法统计执行状态
func (h *Handler) Statuses(c *gin.Context) {
	actor, ok := hcommon.CurrentActor(c)
	if !ok {
		return
	}
	statuses, err := h.svc.StatusCounts(c.Request.Context(), actor.UserID)
	if err != nil {
		common.ResponseError(c, err)
		return
	}
	common.ResponseSuccess(c, gin.H{"statuses": statuses})
}
