// Package approvals 审批与分享链接 API
package approvals

import (
	"context"
	"errors"
	"strings"
	"time"

	hcommon "claireportal/api/handlers/common"
	"claireportal/internal/approval"
	"claireportal/internal/campaign"
	"claireportal/internal/common"
	"claireportal/internal/execution"

	"github.com/gin-gonic/gin"
)

const (
	defaultWait = 25 * time.Second
	maxWait     = 60 * time.Second
)

// Approvals 审批管理
type Approvals interface {
	RequestApproval(ctx context.Context, in approval.RequestInput) (*approval.Approval, error)
	GetByToken(ctx context.Context, token, userID string) (*approval.Approval, error)
	Decide(ctx context.Context, in approval.DecideInput) (*approval.Approval, error)
	DirectApprove(ctx context.Context, in approval.DirectInput) (*approval.Approval, error)
	WaitForDecision(ctx context.Context, subjectID string) (*approval.Event, error)
}

// Executions 执行记录读取
type Executions interface {
	Get(ctx context.Context, userID, id string) (*execution.View, error)
}

// Campaigns 活动读取
type Campaigns interface {
	Get(ctx context.Context, userID, id string) (*campaign.Detail, error)
}

// Handler 审批 API
type Handler struct {
	approvals  Approvals
	executions Executions
	campaigns  Campaigns
}

func NewHandler(approvals Approvals, executions Executions, campaigns Campaigns) *Handler {
	return &Handler{approvals: approvals, executions: executions, campaigns: campaigns}
}

// RequestBody 发起审批；executionId 与 campaignId 二选一
type RequestBody struct {
	ExecutionID string `json:"executionId"`
	CampaignID  string `json:"campaignId"`
	DueDate     string `json:"dueDate"`
}

// Request 发起审批并返回分享令牌
func (h *Handler) Request(c *gin.Context) {
	actor, ok := hcommon.CurrentActor(c)
	if !ok {
		return
	}
	var body RequestBody
	if !hcommon.BindJSON(c, &body) {
		return
	}
	due, err := parseDueDate(body.DueDate)
	if err != nil {
		common.ResponseBadRequest(c, "Invalid dueDate")
		return
	}

	in := approval.RequestInput{
		SubjectType: approval.SubjectExecution,
		SubjectID:   body.ExecutionID,
		ActorID:     actor.UserID,
		ActorEmail:  actor.Email,
		DueDate:     due,
	}
	if body.CampaignID != "" {
		in.SubjectType = approval.SubjectCampaign
		in.SubjectID = body.CampaignID
	}
	a, err := h.approvals.RequestApproval(c.Request.Context(), in)
	if err != nil {
		common.ResponseError(c, err)
		return
	}
	common.ResponseSuccess(c, gin.H{"approval": gin.H{
		"id":             a.ID,
		"shareableToken": a.ShareableToken,
		"dueDate":        a.DueDate,
	}})
}

// DecideBody 审批决定
type DecideBody struct {
	ApprovalID    string `json:"approvalId"`
	Status        string `json:"status"`
	Comments      string `json:"comments"`
	ApproverEmail string `json:"approverEmail"`
}

// Decide 通过或拒绝
func (h *Handler) Decide(c *gin.Context) {
	actor, ok := hcommon.CurrentActor(c)
	if !ok {
		return
	}
	var body DecideBody
	if !hcommon.BindJSON(c, &body) {
		return
	}
	a, err := h.approvals.Decide(c.Request.Context(), approval.DecideInput{
		ApprovalID:    body.ApprovalID,
		Status:        approval.Status(body.Status),
		Comments:      body.Comments,
		ApproverEmail: body.ApproverEmail,
		ActorID:       actor.UserID,
		ActorEmail:    actor.Email,
	})
	if err != nil {
		common.ResponseError(c, err)
		return
	}
	common.ResponseSuccess(c, gin.H{"approval": a})
}

// GetByToken 分享链接落地页数据，仅对象所有者可见
func (h *Handler) GetByToken(c *gin.Context) {
	actor, ok := hcommon.CurrentActor(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	a, err := h.approvals.GetByToken(ctx, c.Param("token"), actor.UserID)
	if err != nil {
		common.ResponseError(c, err)
		return
	}

	fields := gin.H{"approval": a.Summarize()}
	switch a.SubjectType {
	case approval.SubjectCampaign:
		detail, err := h.campaigns.Get(ctx, a.OwnerID, a.SubjectID)
		if err != nil {
			common.ResponseError(c, err)
			return
		}
		fields["campaign"] = detail
	default:
		view, err := h.executions.Get(ctx, a.OwnerID, a.SubjectID)
		if err != nil {
			common.ResponseError(c, err)
			return
		}
		fields["execution"] = view
	}
	common.ResponseSuccess(c, fields)
}

// DirectBody 直接通过执行结果
type DirectBody struct {
	ExecutionID  string `json:"executionId"`
	PlayCode     string `json:"playCode"`
	PlayName     string `json:"playName"`
	EditedOutput any    `json:"editedOutput"`
}

// ApproveExecution 跳过分享链接直接通过
func (h *Handler) ApproveExecution(c *gin.Context) {
	actor, ok := hcommon.CurrentActor(c)
	if !ok {
		return
	}
	var body DirectBody
	if !hcommon.BindJSON(c, &body) {
		return
	}
	a, err := h.approvals.DirectApprove(c.Request.Context(), approval.DirectInput{
		ExecutionID:  body.ExecutionID,
		ActorID:      actor.UserID,
		ActorEmail:   actor.Email,
		PlayCode:     body.PlayCode,
		PlayName:     body.PlayName,
		EditedOutput: body.EditedOutput,
	})
	if err != nil {
		common.ResponseError(c, err)
		return
	}
	common.ResponseSuccess(c, gin.H{"execution": gin.H{
		"id":         a.SubjectID,
		"status":     approval.SubjectApproved,
		"approvedAt": a.ApprovedAt,
	}})
}

// Wait 长轮询等待对象的下一次审批事件；超时返回 timedOut
func (h *Handler) Wait(c *gin.Context) {
	actor, ok := hcommon.CurrentActor(c)
	if !ok {
		return
	}
	subjectID := c.Param("subjectId")
	if err := h.ownSubject(c.Request.Context(), actor.UserID, subjectID); err != nil {
		common.ResponseError(c, err)
		return
	}

	wait := defaultWait
	if raw := c.Query("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			common.ResponseBadRequest(c, "Invalid timeout")
			return
		}
		wait = min(d, maxWait)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), wait)
	defer cancel()
	evt, err := h.approvals.WaitForDecision(ctx, subjectID)
	if errors.Is(err, context.DeadlineExceeded) {
		common.ResponseSuccess(c, gin.H{"timedOut": true})
		return
	}
	if err != nil {
		common.ResponseError(c, err)
		return
	}
	common.ResponseSuccess(c, gin.H{"timedOut": false, "event": evt})
}

// ownSubject 执行或活动属于当前用户
func (h *Handler) ownSubject(ctx context.Context, userID, id string) error {
	_, err := h.executions.Get(ctx, userID, id)
	if err == nil || common.CodeOf(err) != common.CodeNotFound {
		return err
	}
	_, err = h.campaigns.Get(ctx, userID, id)
	return err
}

// parseDueDate 接受 RFC3339 或 YYYY-MM-DD，空串返回 nil
func parseDueDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, errors.New("invalid due date")
}
