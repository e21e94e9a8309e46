package execution

import (
	"context"
	"fmt"

	"claireportal/internal/approval"
	"claireportal/internal/common"
	"claireportal/internal/plays"
	"claireportal/internal/workspace"

	"gorm.io/gorm"
)

// SubjectStore 执行记录作为审批对象
type SubjectStore struct{}

var _ approval.SubjectStore = SubjectStore{}

// LoadSubject 读取执行记录及展示用的玩法名、公司名
func (SubjectStore) LoadSubject(ctx context.Context, tx *gorm.DB, id, ownerID string) (*approval.Subject, error) {
	var rec PlayExecution
	q := tx.WithContext(ctx).Where("id = ?", id)
	if ownerID != "" {
		q = q.Where("user_id = ?", ownerID)
	}
	if err := q.First(&rec).Error; err != nil {
		return nil, common.TranslateDBError(err, MsgNotFound)
	}

	subject := &approval.Subject{
		Type:     approval.SubjectExecution,
		ID:       rec.ID,
		OwnerID:  rec.UserID,
		PlayCode: rec.PlayCode,
	}
	var play plays.Play
	if err := tx.WithContext(ctx).Where("code = ?", rec.PlayCode).Limit(1).Find(&play).Error; err == nil {
		subject.PlayName = play.Name
	}
	var ws workspace.ClientWorkspace
	if err := tx.WithContext(ctx).Where("user_id = ?", rec.UserID).Order("created_at DESC").Limit(1).Find(&ws).Error; err == nil {
		subject.CompanyName = ws.CompanyName
	}
	return subject, nil
}

// MsgNotAwaitingApproval 执行记录不在待审批状态
const MsgNotAwaitingApproval = "Execution is not awaiting approval"

// SetSubjectStatus 决定只作用于 pending_approval 的记录；直接通过允许草稿与被拒绝的记录
func (SubjectStore) SetSubjectStatus(ctx context.Context, tx *gorm.DB, id string, change approval.StatusChange) error {
	to := Status(change.To)
	updates := map[string]interface{}{
		"status":      to,
		"updated_at":  change.At,
		"approved_at": nil,
	}
	q := tx.WithContext(ctx).Model(&PlayExecution{}).Where("id = ?", id)
	switch {
	case to == StatusPendingApproval:
	case to == StatusApproved && change.Direct:
		updates["approved_at"] = change.At
		q = q.Where("status IN ?", []Status{StatusDraft, StatusRejected, StatusPendingApproval})
	case to == StatusApproved:
		updates["approved_at"] = change.At
		q = q.Where("status = ?", StatusPendingApproval)
	case to == StatusRejected:
		q = q.Where("status = ?", StatusPendingApproval)
	default:
		return fmt.Errorf("unsupported execution status %q", change.To)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return common.ErrConflict(MsgNotAwaitingApproval)
	}
	return nil
}
