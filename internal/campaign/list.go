package campaign

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"claireportal/internal/approval"
	"claireportal/internal/common"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 名单相关错误信息
const (
	MsgListAnswersInvalid = "has_account_list and has_prospect_list must be boolean values"
	MsgListUploadRequired = "file and list_type are required"
	MsgListTypeInvalid    = `list_type must be "account" or "prospect"`
	MsgListEmpty          = "CSV file is empty or invalid"
	MsgListColumns        = "Required columns not found. CSV must include: account/company name, prospect/contact name, and job title"
	MsgListNotUploaded    = "List must be uploaded before approval"
	MsgNoListPreview      = "No list available for preview"
)

// previewRows 预览保留的行数
const previewRows = 100

// ListAnswersInput 名单问答
type ListAnswersInput struct {
	HasAccountList  *bool `json:"has_account_list"`
	HasProspectList *bool `json:"has_prospect_list"`
}

// ListAnswersResult 问答结果
type ListAnswersResult struct {
	ListStatus     ListStatus     `json:"listStatus"`
	ApprovalStatus ApprovalStatus `json:"approvalStatus"`
	Message        string         `json:"message"`
}

// AnswerListQuestions 客户已有两份名单时无需建名单
func (s *Service) AnswerListQuestions(ctx context.Context, userID, id string, in ListAnswersInput) (*ListAnswersResult, error) {
	if in.HasAccountList == nil || in.HasProspectList == nil {
		return nil, common.ErrValidation(MsgListAnswersInvalid)
	}
	c, err := s.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !c.Status.Editable() {
		return nil, common.ErrConflict(MsgCampaignLocked)
	}

	res := &ListAnswersResult{
		ListStatus:     ListNotRequired,
		ApprovalStatus: ApprovalPendingCopy,
		Message:        "List not required. Proceeding to copy approval.",
	}
	if !*in.HasAccountList || !*in.HasProspectList {
		res.ListStatus = ListPendingUpload
		res.ApprovalStatus = ApprovalPendingList
		res.Message = "List building required. Solution architect will be notified when copy is generated."
	}

	data := c.ListData.Data()
	data.HasAccountList = in.HasAccountList
	data.HasProspectList = in.HasProspectList
	if _, err := s.GuardedUpdate(ctx, &Campaign{}, map[string]interface{}{
		"list_status":     res.ListStatus,
		"approval_status": res.ApprovalStatus,
		"list_data":       datatypes.NewJSONType(data),
		"updated_at":      s.now(),
	}, "id = ?", c.ID); err != nil {
		return nil, err
	}
	return res, nil
}

// UploadInput 管理员上传名单
type UploadInput struct {
	ListType   string
	FileName   string
	Body       io.Reader
	ActorEmail string
}

// UploadResult 上传结果
type UploadResult struct {
	ListPreview  []ListRow `json:"listPreview"`
	TotalRecords int       `json:"totalRecords"`
	Location     string    `json:"location"`
	Message      string    `json:"message"`
}

// UploadList 解析 CSV、归档原文件并通知客户审核；管理员可操作任意活动
func (s *Service) UploadList(ctx context.Context, id string, in UploadInput) (*UploadResult, error) {
	if in.Body == nil || in.ListType == "" {
		return nil, common.ErrValidation(MsgListUploadRequired)
	}
	if in.ListType != "account" && in.ListType != "prospect" {
		return nil, common.ErrValidation(MsgListTypeInvalid)
	}
	raw, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, common.ErrValidation("Failed to read uploaded file")
	}
	rows, total, err := ParseList(raw)
	if err != nil {
		return nil, err
	}

	var c Campaign
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, common.TranslateDBError(err, MsgNotFound)
	}

	key := fmt.Sprintf("lists/%s/%s-%d.csv", c.ID, in.ListType, s.now().Unix())
	location, err := s.uploader.Upload(ctx, key, "text/csv", bytes.NewReader(raw))
	if err != nil {
		s.logger.Error("名单归档失败", zap.String("campaign_id", c.ID), zap.Error(err))
		return nil, common.ErrUpstream("Failed to store list file", err)
	}
	if location == "" {
		location = "data:text/csv;base64," + base64.StdEncoding.EncodeToString(raw)
	}

	now := s.now()
	data := c.ListData.Data()
	if in.ListType == "account" {
		data.AccountListFile = location
	} else {
		data.ProspectListFile = location
	}
	data.ListPreview = rows
	data.TotalRecords = total
	data.UploadedAt = &now
	data.UploadedBy = in.ActorEmail
	if _, err := s.GuardedUpdate(ctx, &Campaign{}, map[string]interface{}{
		"list_status": ListUploaded,
		"list_data":   datatypes.NewJSONType(data),
		"updated_at":  now,
	}, "id = ?", c.ID); err != nil {
		return nil, err
	}

	s.logger.Info("名单已上传",
		zap.String("campaign_id", c.ID),
		zap.String("list_type", in.ListType),
		zap.Int("records", total),
	)
	if s.approvals != nil {
		s.approvals.Notify(ctx, approval.Notification{
			Event:      approval.EventListUploaded,
			ClientName: c.CampaignName,
			PlayCode:   c.PlayCode,
			PlayName:   c.CampaignType,
			CampaignID: c.ID,
			CreatedAt:  &now,
		})
	}
	shown := location
	if strings.HasPrefix(shown, "data:") {
		shown = ""
	}
	return &UploadResult{
		ListPreview:  rows,
		TotalRecords: total,
		Location:     shown,
		Message:      "List uploaded successfully. Client has been notified to review.",
	}, nil
}

// ParseList 按表头识别公司、联系人与职位列，返回前 100 行预览与总行数
func ParseList(raw []byte) ([]ListRow, int, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, 0, common.ErrValidation(MsgListEmpty)
	}
	if err != nil {
		return nil, 0, common.ErrValidation("Failed to parse CSV file").WithDetails(err.Error())
	}

	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.ToLower(strings.TrimSpace(h))
	}
	account := findColumn(columns, -1, "account", "company", "organization")
	prospect := findColumn(columns, account, "prospect", "contact", "first", "name")
	title := findColumn(columns, -1, "title", "role", "position")
	if account < 0 || prospect < 0 || title < 0 {
		return nil, 0, common.ErrValidation(MsgListColumns).WithDetails(map[string]any{"availableColumns": columns})
	}

	var preview []ListRow
	total := 0
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, common.ErrValidation("Failed to parse CSV file").WithDetails(err.Error())
		}
		if blank(rec) {
			continue
		}
		total++
		if len(preview) < previewRows {
			preview = append(preview, ListRow{
				AccountName:  field(rec, account),
				ProspectName: field(rec, prospect),
				JobTitle:     field(rec, title),
			})
		}
	}
	if total == 0 {
		return nil, 0, common.ErrValidation(MsgListEmpty)
	}
	return preview, total, nil
}

// findColumn 按关键词优先级找列，skip 为已被占用的列
func findColumn(columns []string, skip int, keywords ...string) int {
	for _, k := range keywords {
		for i, c := range columns {
			if i != skip && strings.Contains(c, k) {
				return i
			}
		}
	}
	return -1
}

func field(rec []string, i int) string {
	if i < len(rec) {
		return strings.TrimSpace(rec[i])
	}
	return ""
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// ListPreview 名单预览
type ListPreview struct {
	ListPreview  []ListRow  `json:"listPreview"`
	TotalRecords int        `json:"totalRecords"`
	UploadedAt   *time.Time `json:"uploadedAt"`
}

// PreviewList 已上传或已审核的名单可预览
func (s *Service) PreviewList(ctx context.Context, userID, id string) (*ListPreview, error) {
	c, err := s.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if c.ListStatus != ListUploaded && c.ListStatus != ListClientReviewed {
		return nil, common.ErrValidation(MsgNoListPreview)
	}
	data := c.ListData.Data()
	return &ListPreview{ListPreview: nonNil(data.ListPreview), TotalRecords: data.TotalRecords, UploadedAt: data.UploadedAt}, nil
}

// ApproveList 客户确认名单，进入文案审批
func (s *Service) ApproveList(ctx context.Context, userID, actorEmail, id string) error {
	c, err := s.load(ctx, userID, id)
	if err != nil {
		return err
	}
	reviewable := []ListStatus{ListUploaded}
	if c.ApprovalStatus == ApprovalPendingList {
		// 重新生成文案后已审核的名单需再次确认
		reviewable = append(reviewable, ListClientReviewed)
	}
	if !containsList(reviewable, c.ListStatus) {
		return common.ErrValidation(MsgListNotUploaded)
	}

	now := s.now()
	err = s.Transaction(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&Campaign{}).
			Where("id = ? AND list_status IN ?", c.ID, reviewable).
			Updates(map[string]interface{}{
				"list_status":     ListClientReviewed,
				"approval_status": ApprovalPendingCopy,
				"updated_at":      now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return common.ErrValidation(MsgListNotUploaded)
		}
		return approval.RecordCampaignDecision(tx, &approval.CampaignApproval{
			CampaignID:    c.ID,
			Stage:         approval.StageList,
			Status:        approval.StatusApproved,
			ApprovedBy:    userID,
			ApproverEmail: actorEmail,
			ApprovedAt:    &now,
			AuditLog: datatypes.NewJSONSlice([]approval.AuditEntry{{
				Action:    "list_approved",
				Timestamp: now,
				Actor:     actorEmail,
			}}),
		})
	})
	if err != nil {
		return translateTx(err, "Failed to approve list")
	}
	s.logger.Info("名单已确认", zap.String("campaign_id", c.ID))
	return nil
}

// translateTx 业务错误原样返回，其余视为持久化失败
func translateTx(err error, msg string) error {
	if _, ok := common.AsBusinessError(err); ok {
		return err
	}
	return common.ErrPersistence(msg, err)
}

func containsList(list []ListStatus, v ListStatus) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
