package campaigns

import (
	"context"

	hcommon "claireportal/api/handlers/common"
	"claireportal/internal/campaign"
	"claireportal/internal/common"

	"github.com/gin-gonic/gin"
)

// maxListBytes 名单文件上限
const maxListBytes = 10 << 20

// Service 外呼活动服务
type Service interface {
	Create(ctx context.Context, in campaign.CreateInput) (*campaign.Campaign, error)
	List(ctx context.Context, userID string, f campaign.ListFilter) ([]campaign.Summary, error)
	Get(ctx context.Context, userID, id string) (*campaign.Detail, error)
	GenerateIntermediary(ctx context.Context, userID, id string) (*campaign.IntermediaryResult, error)
	UpdateIntermediaries(ctx context.Context, userID, id string, in campaign.UpdateIntermediariesInput) (*campaign.Intermediary, error)
	AnswerListQuestions(ctx context.Context, userID, id string, in campaign.ListAnswersInput) (*campaign.ListAnswersResult, error)
	UploadList(ctx context.Context, id string, in campaign.UploadInput) (*campaign.UploadResult, error)
	PreviewList(ctx context.Context, userID, id string) (*campaign.ListPreview, error)
	GenerateCopy(ctx context.Context, userID, id string) (*campaign.CopyResult, error)
	ApproveList(ctx context.Context, userID, actorEmail, id string) error
	ApproveCopy(ctx context.Context, userID, actorEmail, id string, in campaign.ApproveCopyInput) (*campaign.ApproveCopyResult, error)
	RejectCopy(ctx context.Context, userID, actorEmail, id string, in campaign.RejectCopyInput) error
}

// Handler 外呼活动 API
type Handler struct {
	svc Service
}

func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// Create 新建活动
func (h *Handler) Create(c *gin.Context) {
	actor, ok := hcommon.CurrentActor(c)
	if !ok {
		return
	}
	var in campaign.CreateInput
	if !hcommon.BindJSON(c, &in) {
		return
	}
	in.UserID = actor.UserID

	created, err := h.svc.Create(c.Request.Context(), in)
	if err != nil {
		common.ResponseError(c, err)
		return
	}
	common.ResponseCreated(c, gin.H{"campaign": gin.H{
		"id":             created.ID,
		"campaignName":   created.CampaignName,
		"playCode":       created.PlayCode,
		"status":         created.Status,
		"approvalStatus": created.ApprovalStatus,
		"createdAt":      created.CreatedAt,
	}})
}

// List 活动列表
func (h *Handler) List(c *gin.Context) {
	actor, ok := hcommon.CurrentActor(c)
	if !ok {
		return
	}
	rows, err := h.svc.List(c.Request.Context(), actor.UserID, campaign.ListFilter{
		PlayCode:       c.Query("play_code"),
		Status:         c.Query("status"),
		ApprovalStatus: c.Query("approval_status"),
	})
	if err != nil {
		common.ResponseError(c, err)
		return
	}
	common.ResponseSuccess(c, gin.H{"campaigns": rows})
}

// Get 单个活动
func (h *Handler) Get(c *gin.Context) {
	actor, ok := hcommon.CurrentActor(c)
	if !ok {
		return
	}
	detail, err := h.svc.Get(c.Request.Context(), actor.UserID, c.Param("id"))
	if err != nil {
		common.ResponseError(c, err)
		return
	}
	common.ResponseSuccess(c, gin.H{"campaign": detail})
}

// GenerateIntermediary 生成中间产物
func (h *Handler) GenerateIntermediary(c *gin.Context) {
	actor, ok := hcommon.CurrentActor(c)
	if !ok {
		return
	}
	res, err := h.svc.GenerateIntermediary(c.Request.Context(), actor.UserID, c.Param("id"))
	if err != nil {
		common.ResponseError(c, err)
		return
	}
	common.ResponseSuccess(c, gin.H{"intermediaryOutputs": res})
}

// UpdateIntermediaries 保存客户编辑的中间产物
func (h *Handler) UpdateIntermediaries(c *gin.Context) {
	actor, ok := hcommon.CurrentActor(c)
	if !ok {
		return
	}
	var in campaign.UpdateIntermediariesInput
	if !hcommon.BindJSON(c, &in) {
		return
	}
	out, err := h.svc.UpdateIntermediaries(c.Request.Context(), actor.UserID, c.Param("id"), in)
	if err != nil {
		common.ResponseError(c, err)
		return
	}
	common.ResponseSuccess(c, gin.H{"intermediaryOutputs": out})
}

// ListQuestions 名单问答
func (h *Handler) ListQuestions(c *gin.Context) {
	actor, ok := hcommon.CurrentActor(c)
	if !ok {
		return
	}
	var in campaign.ListAnswersInput
	if !hcommon.BindJSON(c, &in) {
		return
	}
	res, err := h.svc.AnswerListQuestions(c.Request.Context(), actor.UserID, c.Param("id"), in)
	if err != nil {
		common.ResponseError(c, err)
		return
	}
	common.ResponseSuccess(c, gin.H{
		"listStatus":     res.ListStatus,
		"approvalStatus": res.ApprovalStatus,
		"message":        res.Message,
	})
}

// UploadList 管理员上传名单（multipart: file, listType）
func (h *Handler) UploadList(c *gin.Context) {
	actor, ok := hcommon.CurrentActor(c)
	if !ok {
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		common.ResponseBadRequest(c, campaign.MsgListUploadRequired)
		return
	}
	if fh.Size > maxListBytes {
		common.ResponseBadRequest(c, "File is too large")
		return
	}
	f, err := fh.Open()
	if err != nil {
		common.ResponseBadRequest(c, campaign.MsgListUploadRequired)
		return
	}
	defer f.Close()

	res, err := h.svc.UploadList(c.Request.Context(), c.Param("id"), campaign.UploadInput{
		ListType:   c.PostForm("listType"),
		FileName:   fh.Filename,
		Body:       f,
		ActorEmail: actor.Email,
	})
	if err != nil {
		common.ResponseError(c, err)
		return
	}
	common.ResponseSuccess(c, gin.H{
		"listPreview":  res.ListPreview,
		"totalRecords": res.TotalRecords,
		"location":     res.Location,
		"message":      res.Message,
	})
}

// PreviewList 名单预览
func (h *Handler) PreviewList(c *gin.Context) {
	actor, ok := hcommon.CurrentActor(c)
	if !ok {
		return
	}
	res, err := h.svc.PreviewList(c.Request.Context(), actor.UserID, c.Param("id"))
	if err != nil {
		common.ResponseError(c, err)
		return
	}
	common.ResponseSuccess(c, gin.H{
		"listPreview":  res.ListPreview,
		"totalRecords": res.TotalRecords,
		"uploadedAt":   res.UploadedAt,
	})
}

// GenerateCopy 生成活动文案
func (h *Handler) GenerateCopy(c *gin.Context) {
	actor, ok := hcommon.CurrentActor(c)
	if !ok {
		return
	}
	res, err := h.svc.GenerateCopy(c.Request.Context(), actor.UserID, c.Param("id"))
	if err != nil {
		common.ResponseError(c, err)
		return
	}
	common.ResponseSuccess(c, gin.H{"finalOutputs": res})
}

// ApproveList 客户确认名单
func (h *Handler) ApproveList(c *gin.Context) {
	actor, ok := hcommon.CurrentActor(c)
	if !ok {
		return
	}
	if err := h.svc.ApproveList(c.Request.Context(), actor.UserID, actor.Email, c.Param("id")); err != nil {
		common.ResponseError(c, err)
		return
	}
	common.ResponseSuccess(c, gin.H{"message": "List approved. Proceeding to copy approval."})
}

// ApproveCopy 客户确认文案
func (h *Handler) ApproveCopy(c *gin.Context) {
	actor, ok := hcommon.CurrentActor(c)
	if !ok {
		return
	}
	var in campaign.ApproveCopyInput
	if !hcommon.BindJSON(c, &in) {
		return
	}
	res, err := h.svc.ApproveCopy(c.Request.Context(), actor.UserID, actor.Email, c.Param("id"), in)
	if err != nil {
		common.ResponseError(c, err)
		return
	}
	common.ResponseSuccess(c, gin.H{"message": res.Message, "validation": res.Validation})
}

// RejectCopy 客户退回文案
func (h *Handler) RejectCopy(c *gin.Context) {
	actor, ok := hcommon.CurrentActor(c)
	if !ok {
		return
	}
	var in campaign.RejectCopyInput
	if !hcommon.BindJSON(c, &in) {
		return
	}
	if err := h.svc.RejectCopy(c.Request.Context(), actor.UserID, actor.Email, c.Param("id"), in); err != nil {
		common.ResponseError(c, err)
		return
	}
	common.ResponseSuccess(c, gin.H{"message": "Campaign copy rejected"})
}
