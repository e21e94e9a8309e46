package campaign

import (
	"context"
	"fmt"
	"strings"

	"claireportal/internal/approval"
	"claireportal/internal/common"
	"claireportal/internal/highlight"
	"claireportal/internal/metrics"
	"claireportal/internal/workspace"

	"github.com/pmezard/go-difflib/difflib"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MsgListPendingApproval 需要名单的活动先确认名单
const MsgListPendingApproval = "List must be approved before copy approval"

// ApproveCopyInput 客户确认的最终文案
type ApproveCopyInput struct {
	EditedCopy string `json:"edited_copy"`
	Comments   string `json:"comments"`
}

// ApproveCopyResult 文案确认结果
type ApproveCopyResult struct {
	Message    string                      `json:"message"`
	Validation highlight.PlaceholderReport `json:"validation"`
}

// ApproveCopy 客户确认文案；缺失占位符只提示不拦截，编辑差异写入审计
func (s *Service) ApproveCopy(ctx context.Context, userID, actorEmail, id string, in ApproveCopyInput) (*ApproveCopyResult, error) {
	if strings.TrimSpace(in.EditedCopy) == "" {
		return nil, common.ErrValidation("edited_copy is required")
	}
	c, err := s.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if c.Status != StateAssetsGenerated {
		return nil, common.ErrValidation(MsgCopyNotGenerated)
	}
	if c.ApprovalStatus == ApprovalPendingList {
		return nil, common.ErrValidation(MsgListPendingApproval)
	}

	report := highlight.ValidatePlaceholders(in.EditedCopy)
	if !report.IsValid {
		s.logger.Warn("确认的文案缺少占位符",
			zap.String("campaign_id", c.ID),
			zap.Strings("missing", report.MissingPlaceholders),
		)
	}
	generated := c.FinalOutputs.Data().RawContent
	diff := copyDiff(generated, in.EditedCopy)

	now := s.now()
	details := map[string]any{"edited": in.EditedCopy != generated}
	if len(report.MissingPlaceholders) > 0 {
		details["missingPlaceholders"] = report.MissingPlaceholders
	}
	if len(report.Warnings) > 0 {
		details["warnings"] = report.Warnings
	}
	err = s.Transaction(ctx, func(tx *gorm.DB) error {
		if err := s.decide(tx, c.ID, StateApproved, map[string]interface{}{
			"approval_status": ApprovalApproved,
			"approved_copy":   in.EditedCopy,
		}); err != nil {
			return err
		}
		return approval.RecordCampaignDecision(tx, &approval.CampaignApproval{
			CampaignID:    c.ID,
			Stage:         approval.StageCopy,
			Status:        approval.StatusApproved,
			ApprovedBy:    userID,
			ApproverEmail: actorEmail,
			Comments:      in.Comments,
			Diff:          diff,
			ApprovedAt:    &now,
			AuditLog: datatypes.NewJSONSlice([]approval.AuditEntry{{
				Action:    "approved",
				Timestamp: now,
				Actor:     actorEmail,
				Details:   details,
			}}),
		})
	})
	if err != nil {
		return nil, translateTx(err, "Failed to approve copy")
	}

	metrics.CampaignTransitions.WithLabelValues(string(StateApproved)).Inc()
	metrics.ApprovalDecisions.WithLabelValues(string(approval.SubjectCampaign), string(approval.StatusApproved)).Inc()
	s.logger.Info("活动文案已确认",
		zap.String("campaign_id", c.ID),
		zap.Bool("edited", details["edited"] == true),
	)
	if s.approvals != nil {
		s.approvals.Publish(approval.Event{
			SubjectType: approval.SubjectCampaign,
			SubjectID:   c.ID,
			Status:      approval.StatusApproved,
			Actor:       actorEmail,
			Comments:    in.Comments,
		})
		s.approvals.Notify(ctx, approval.Notification{
			Event:        approval.EventLaunchApproved,
			ClientEmail:  actorEmail,
			ClientName:   c.CampaignName,
			PlayCode:     c.PlayCode,
			PlayName:     c.CampaignType,
			CampaignID:   c.ID,
			ApprovedAt:   &now,
			ApprovedBy:   actorEmail,
			EditedOutput: in.EditedCopy,
		})
	}
	return &ApproveCopyResult{Message: "Campaign copy approved!", Validation: report}, nil
}

// RejectCopyInput 拒绝原因
type RejectCopyInput struct {
	Comments string `json:"comments"`
}

// RejectCopy 拒绝文案，活动回到可编辑状态
func (s *Service) RejectCopy(ctx context.Context, userID, actorEmail, id string, in RejectCopyInput) error {
	c, err := s.load(ctx, userID, id)
	if err != nil {
		return err
	}
	if c.Status != StateAssetsGenerated {
		return common.ErrValidation(MsgCopyNotGenerated)
	}
	reason := strings.TrimSpace(in.Comments)
	if reason == "" {
		reason = approval.DefaultRejectionReason
	}

	now := s.now()
	err = s.Transaction(ctx, func(tx *gorm.DB) error {
		if err := s.decide(tx, c.ID, StateRejected, map[string]interface{}{
			"approval_status": ApprovalRejected,
		}); err != nil {
			return err
		}
		return approval.RecordCampaignDecision(tx, &approval.CampaignApproval{
			CampaignID:    c.ID,
			Stage:         approval.StageCopy,
			Status:        approval.StatusRejected,
			ApprovedBy:    userID,
			ApproverEmail: actorEmail,
			Comments:      reason,
			AuditLog: datatypes.NewJSONSlice([]approval.AuditEntry{{
				Action:    "rejected",
				Timestamp: now,
				Actor:     actorEmail,
			}}),
		})
	})
	if err != nil {
		return translateTx(err, "Failed to reject copy")
	}

	metrics.CampaignTransitions.WithLabelValues(string(StateRejected)).Inc()
	metrics.ApprovalDecisions.WithLabelValues(string(approval.SubjectCampaign), string(approval.StatusRejected)).Inc()
	s.logger.Info("活动文案被拒绝", zap.String("campaign_id", c.ID))
	if s.approvals != nil {
		s.approvals.Publish(approval.Event{
			SubjectType: approval.SubjectCampaign,
			SubjectID:   c.ID,
			Status:      approval.StatusRejected,
			Actor:       actorEmail,
			Comments:    reason,
		})
		s.approvals.Notify(ctx, approval.Notification{
			Event:       approval.EventCopyRejected,
			ClientEmail: actorEmail,
			ClientName:  c.CampaignName,
			PlayCode:    c.PlayCode,
			PlayName:    c.CampaignType,
			CampaignID:  c.ID,
		})
	}
	return nil
}

// decide 在事务内把 assets_generated 的活动迁移到审批结果
func (s *Service) decide(tx *gorm.DB, id string, to State, updates map[string]interface{}) error {
	updates["status"] = to
	updates["updated_at"] = s.now()
	res := tx.Model(&Campaign{}).Where("id = ? AND status = ?", id, StateAssetsGenerated).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return common.ErrValidation(MsgCopyNotGenerated)
	}
	return nil
}

// copyDiff 生成稿与确认稿的 unified diff，无修改时为空
func copyDiff(generated, approved string) string {
	if generated == approved {
		return ""
	}
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(generated),
		B:        difflib.SplitLines(approved),
		FromFile: "generated",
		ToFile:   "approved",
		Context:  2,
	})
	if err != nil {
		return fmt.Sprintf("diff unavailable: %v", err)
	}
	return diff
}

// SubjectStore 活动作为通用审批对象
type SubjectStore struct{}

var _ approval.SubjectStore = SubjectStore{}

// LoadSubject 读取活动
func (SubjectStore) LoadSubject(ctx context.Context, tx *gorm.DB, id, ownerID string) (*approval.Subject, error) {
	var c Campaign
	q := tx.WithContext(ctx).Where("id = ?", id)
	if ownerID != "" {
		q = q.Where("user_id = ?", ownerID)
	}
	if err := q.First(&c).Error; err != nil {
		return nil, common.TranslateDBError(err, MsgNotFound)
	}
	subject := &approval.Subject{
		Type:     approval.SubjectCampaign,
		ID:       c.ID,
		OwnerID:  c.UserID,
		PlayCode: c.PlayCode,
		PlayName: c.CampaignType,
	}
	var ws workspace.ClientWorkspace
	if err := tx.WithContext(ctx).Where("user_id = ?", c.UserID).Order("created_at DESC").Limit(1).Find(&ws).Error; err == nil {
		subject.CompanyName = ws.CompanyName
	}
	return subject, nil
}

// SetSubjectStatus 只有已生成文案的活动可进入审批或被决定；名单待确认时不能进入审批或通过
func (SubjectStore) SetSubjectStatus(ctx context.Context, tx *gorm.DB, id string, change approval.StatusChange) error {
	var c Campaign
	if err := tx.WithContext(ctx).Select("id", "status", "approval_status").Where("id = ?", id).Take(&c).Error; err != nil {
		return err
	}
	if c.Status != StateAssetsGenerated {
		return common.ErrValidation(MsgCopyNotGenerated)
	}

	var updates map[string]interface{}
	switch change.To {
	case approval.SubjectPendingApproval:
		if c.ApprovalStatus == ApprovalPendingList {
			return common.ErrValidation(MsgListPendingApproval)
		}
		return nil
	case approval.SubjectApproved:
		if c.ApprovalStatus == ApprovalPendingList {
			return common.ErrValidation(MsgListPendingApproval)
		}
		updates = map[string]interface{}{"status": StateApproved, "approval_status": ApprovalApproved}
	case approval.SubjectRejected:
		updates = map[string]interface{}{"status": StateRejected, "approval_status": ApprovalRejected}
	default:
		return fmt.Errorf("unsupported campaign status %q", change.To)
	}
	updates["updated_at"] = change.At
	res := tx.WithContext(ctx).Model(&Campaign{}).
		Where("id = ? AND status = ? AND approval_status = ?", id, StateAssetsGenerated, c.ApprovalStatus).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return common.ErrConflict(MsgCopyNotGenerated)
	}
	metrics.CampaignTransitions.WithLabelValues(change.To).Inc()
	return nil
}
