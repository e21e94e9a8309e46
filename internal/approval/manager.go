package approval

import (
	"context"
	"errors"
	"strings"
	"time"

	"claireportal/internal/common"
	"claireportal/internal/metrics"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 审批对象自身的状态值
const (
	SubjectPendingApproval = "pending_approval"
	SubjectApproved        = "approved"
	SubjectRejected        = "rejected"
)

// Subject 审批对象的只读信息
type Subject struct {
	Type        SubjectType
	ID          string
	OwnerID     string
	PlayCode    string
	PlayName    string
	CompanyName string
}

// StatusChange 对象状态变更；Direct 表示跳过审批直接通过，对象可不处于 pending_approval
type StatusChange struct {
	To     string
	Direct bool
	At     time.Time
}

// 审批冲突提示
const (
	MsgAlreadyDecided = "Approval has already been decided"
	MsgSuperseded     = "Approval has been superseded by a newer request"
)

// SubjectStore 审批对象存储，所有写入都在调用方事务内完成
type SubjectStore interface {
	// LoadSubject ownerID 非空时限定归属，不存在返回 NotFound 业务错误
	LoadSubject(ctx context.Context, tx *gorm.DB, id, ownerID string) (*Subject, error)
	// SetSubjectStatus 对象当前状态不允许该变更时返回业务错误
	SetSubjectStatus(ctx context.Context, tx *gorm.DB, id string, change StatusChange) error
}

// Manager 审批管理器
type Manager struct {
	db        *gorm.DB
	stores    map[SubjectType]SubjectStore
	notifier  Notifier
	eventBus  *EventBus
	dueDays   int
	portalURL string
	logger    *zap.Logger
	now       func() time.Time
}

// ManagerOption 自定义配置
type ManagerOption func(*Manager)

// WithNotifier 注入通知器
func WithNotifier(notifier Notifier) ManagerOption {
	return func(m *Manager) { m.notifier = notifier }
}

// WithEventBus 注入事件总线
func WithEventBus(bus *EventBus) ManagerOption {
	return func(m *Manager) { m.eventBus = bus }
}

// WithManagerLogger 注入自定义日志器
func WithManagerLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithSubjectStore 注册审批对象存储
func WithSubjectStore(t SubjectType, store SubjectStore) ManagerOption {
	return func(m *Manager) { m.stores[t] = store }
}

// WithDefaultDueDays 未指定截止日期时的默认天数
func WithDefaultDueDays(days int) ManagerOption {
	return func(m *Manager) {
		if days > 0 {
			m.dueDays = days
		}
	}
}

// WithPortalBaseURL 生成通知中的审批链接
func WithPortalBaseURL(url string) ManagerOption {
	return func(m *Manager) { m.portalURL = strings.TrimRight(url, "/") }
}

// NewManager 创建审批管理器
func NewManager(db *gorm.DB, opts ...ManagerOption) *Manager {
	mgr := &Manager{
		db:      db,
		stores:  make(map[SubjectType]SubjectStore),
		dueDays: 7,
		logger:  zap.NewNop(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(mgr)
		}
	}
	return mgr
}

// RegisterStore 注册审批对象存储，用于存在循环依赖的服务
func (m *Manager) RegisterStore(t SubjectType, store SubjectStore) {
	m.stores[t] = store
}

// RequestInput 发起审批参数
type RequestInput struct {
	SubjectType SubjectType
	SubjectID   string
	ActorID     string
	ActorEmail  string
	DueDate     *time.Time
}

// RequestApproval 生成分享令牌，对象状态置为 pending_approval 并通知
func (m *Manager) RequestApproval(ctx context.Context, in RequestInput) (*Approval, error) {
	if in.SubjectType == "" {
		in.SubjectType = SubjectExecution
	}
	if in.SubjectID == "" {
		return nil, common.ErrValidation(string(in.SubjectType) + "Id is required")
	}
	store, err := m.store(in.SubjectType)
	if err != nil {
		return nil, err
	}

	now := m.now()
	due := now.AddDate(0, 0, m.dueDays)
	if in.DueDate != nil && !in.DueDate.IsZero() {
		due = in.DueDate.UTC()
	}

	var subject *Subject
	approval := &Approval{
		SubjectType: in.SubjectType,
		SubjectID:   in.SubjectID,
		OwnerID:     in.ActorID,
		Stage:       StageReview,
		Status:      StatusPending,
		DueDate:     due,
	}
	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if subject, err = store.LoadSubject(ctx, tx, in.SubjectID, in.ActorID); err != nil {
			return err
		}
		if err := store.SetSubjectStatus(ctx, tx, in.SubjectID, StatusChange{To: SubjectPendingApproval, At: now}); err != nil {
			return err
		}
		approval.OwnerID = subject.OwnerID
		return tx.Create(approval).Error
	})
	if err != nil {
		return nil, translate(err, "Failed to create approval")
	}

	m.logger.Info("已发起审批",
		zap.String("approval_id", approval.ID),
		zap.String("subject_type", string(in.SubjectType)),
		zap.String("subject_id", in.SubjectID),
		zap.Time("due_date", due),
	)
	m.publish(approval, "")
	m.notify(ctx, Notification{
		Event:         EventApprovalRequested,
		ClientEmail:   in.ActorEmail,
		ClientName:    orUnknown(subject.CompanyName),
		PlayCode:      orUnknown(subject.PlayCode),
		PlayName:      orUnknown(subject.PlayName),
		ExecutionID:   idFor(SubjectExecution, approval),
		CampaignID:    idFor(SubjectCampaign, approval),
		ApprovalToken: approval.ShareableToken,
		ApprovalURL:   m.approvalURL(approval.ShareableToken),
		DueDate:       &due,
		CreatedAt:     &now,
	})
	return approval, nil
}

// GetByToken 按分享令牌查询，仅对象所有者可见
func (m *Manager) GetByToken(ctx context.Context, token, userID string) (*Approval, error) {
	if strings.TrimSpace(token) == "" {
		return nil, common.ErrValidation("Token is required")
	}
	var approval Approval
	err := m.db.WithContext(ctx).Where("shareable_token = ?", token).First(&approval).Error
	if err != nil {
		return nil, common.TranslateDBError(err, "Approval not found")
	}
	if approval.OwnerID != userID {
		return nil, common.ErrForbidden("Unauthorized")
	}
	return &approval, nil
}

// DecideInput 审批决定参数
type DecideInput struct {
	ApprovalID    string
	Status        Status
	Comments      string
	ApproverEmail string
	ActorID       string
	ActorEmail    string
}

// Decide 审批通过或拒绝，审批行与对象状态在同一事务内更新
func (m *Manager) Decide(ctx context.Context, in DecideInput) (*Approval, error) {
	if in.ApprovalID == "" || in.Status == "" {
		return nil, common.ErrValidation("approvalId and status are required")
	}
	if !in.Status.Decision() {
		return nil, common.ErrValidation(`Invalid status. Must be "approved" or "rejected"`)
	}

	now := m.now()
	var approval Approval
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", in.ApprovalID).First(&approval).Error; err != nil {
			return common.TranslateDBError(err, "Approval not found")
		}
		if approval.OwnerID != in.ActorID {
			return common.ErrForbidden("Unauthorized")
		}
		if approval.Status != StatusPending {
			return common.ErrConflict(MsgAlreadyDecided)
		}
		var newer int64
		if err := tx.Model(&Approval{}).
			Where("subject_type = ? AND subject_id = ? AND id <> ?", approval.SubjectType, approval.SubjectID, approval.ID).
			Where("(created_at > ? OR (created_at = ? AND id > ?))", approval.CreatedAt, approval.CreatedAt, approval.ID).
			Count(&newer).Error; err != nil {
			return err
		}
		if newer > 0 {
			return common.ErrConflict(MsgSuperseded)
		}
		store, err := m.store(approval.SubjectType)
		if err != nil {
			return err
		}

		approval.Status = in.Status
		approval.ApproverEmail = firstNonEmpty(in.ApproverEmail, in.ActorEmail)
		approval.ApproverUserID = in.ActorID
		approval.Comments = in.Comments
		subjectStatus := SubjectApproved
		if in.Status == StatusApproved {
			approval.ApprovedAt = &now
			approval.RejectedAt = nil
			approval.RejectionReason = ""
		} else {
			subjectStatus = SubjectRejected
			approval.RejectedAt = &now
			approval.ApprovedAt = nil
			approval.RejectionReason = firstNonEmpty(in.Comments, DefaultRejectionReason)
		}
		res := tx.Model(&Approval{}).Where("id = ? AND status = ?", approval.ID, StatusPending).Updates(map[string]any{
			"status":           approval.Status,
			"approver_email":   approval.ApproverEmail,
			"approver_user_id": approval.ApproverUserID,
			"comments":         approval.Comments,
			"approved_at":      approval.ApprovedAt,
			"rejected_at":      approval.RejectedAt,
			"rejection_reason": approval.RejectionReason,
			"updated_at":       now,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return common.ErrConflict(MsgAlreadyDecided)
		}
		return store.SetSubjectStatus(ctx, tx, approval.SubjectID, StatusChange{To: subjectStatus, At: now})
	})
	if err != nil {
		return nil, translate(err, "Failed to update approval")
	}

	metrics.ApprovalDecisions.WithLabelValues(string(approval.SubjectType), string(approval.Status)).Inc()
	m.logger.Info("审批已处理",
		zap.String("approval_id", approval.ID),
		zap.String("subject_id", approval.SubjectID),
		zap.String("status", string(approval.Status)),
	)
	m.publish(&approval, approval.ApproverEmail)
	return &approval, nil
}

// DirectInput 跳过审批页直接通过
type DirectInput struct {
	ExecutionID  string
	ActorID      string
	ActorEmail   string
	PlayCode     string
	PlayName     string
	EditedOutput any
}

// DirectApprove 直接通过执行结果，同时写入一条已通过的审批行
func (m *Manager) DirectApprove(ctx context.Context, in DirectInput) (*Approval, error) {
	if in.ExecutionID == "" {
		return nil, common.ErrValidation("executionId is required")
	}
	store, err := m.store(SubjectExecution)
	if err != nil {
		return nil, err
	}

	now := m.now()
	var subject *Subject
	approval := &Approval{
		SubjectType:    SubjectExecution,
		SubjectID:      in.ExecutionID,
		Stage:          StageDirect,
		Status:         StatusApproved,
		DueDate:        now,
		ApprovedAt:     &now,
		ApproverEmail:  in.ActorEmail,
		ApproverUserID: in.ActorID,
	}
	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if subject, err = store.LoadSubject(ctx, tx, in.ExecutionID, in.ActorID); err != nil {
			return err
		}
		if err := store.SetSubjectStatus(ctx, tx, in.ExecutionID, StatusChange{To: SubjectApproved, Direct: true, At: now}); err != nil {
			return err
		}
		approval.OwnerID = subject.OwnerID
		return tx.Create(approval).Error
	})
	if err != nil {
		return nil, translate(err, "Failed to update execution")
	}

	metrics.ApprovalDecisions.WithLabelValues(string(SubjectExecution), "direct").Inc()
	m.publish(approval, in.ActorEmail)
	m.notify(ctx, Notification{
		Event:        EventExecutionApproved,
		ClientEmail:  in.ActorEmail,
		ClientName:   orUnknown(subject.CompanyName),
		PlayCode:     orUnknown(firstNonEmpty(in.PlayCode, subject.PlayCode)),
		PlayName:     orUnknown(firstNonEmpty(in.PlayName, subject.PlayName)),
		ExecutionID:  in.ExecutionID,
		ApprovedAt:   &now,
		ApprovedBy:   in.ActorEmail,
		EditedOutput: in.EditedOutput,
	})
	return approval, nil
}

// Notify 发送任意通知，失败只记录日志
func (m *Manager) Notify(ctx context.Context, n Notification) {
	m.notify(ctx, n)
}

// WaitForDecision 阻塞直到对象出现下一次审批事件或 ctx 结束
func (m *Manager) WaitForDecision(ctx context.Context, subjectID string) (*Event, error) {
	if m.eventBus == nil {
		return nil, errors.New("event bus not configured")
	}
	ch, cancel := m.eventBus.Subscribe(subjectID)
	defer cancel()
	select {
	case evt, ok := <-ch:
		if !ok {
			return nil, context.Canceled
		}
		return &evt, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Publish 发布审批事件（活动直接审批等场景）
func (m *Manager) Publish(evt Event) {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = m.now()
	}
	m.eventBus.Publish(evt)
}

func (m *Manager) publish(a *Approval, actor string) {
	m.Publish(Event{
		ApprovalID:  a.ID,
		SubjectType: a.SubjectType,
		SubjectID:   a.SubjectID,
		Status:      a.Status,
		Actor:       actor,
		Comments:    a.Comments,
	})
}

func (m *Manager) notify(ctx context.Context, n Notification) {
	if m.notifier == nil {
		m.logger.Warn("审批通知地址未配置，跳过通知", zap.String("event", n.Event))
		return
	}
	if err := m.notifier.Send(ctx, n); err != nil {
		m.logger.Warn("发送审批通知失败", zap.String("event", n.Event), zap.Error(err))
	}
}

func (m *Manager) store(t SubjectType) (SubjectStore, error) {
	store, ok := m.stores[t]
	if !ok || store == nil {
		return nil, common.ErrValidation("Unsupported approval subject: " + string(t))
	}
	return store, nil
}

func (m *Manager) approvalURL(token string) string {
	if m.portalURL == "" {
		return ""
	}
	return m.portalURL + "/client/approve/" + token
}

// LatestBySubject 每个对象最新一条审批
func LatestBySubject(ctx context.Context, db *gorm.DB, t SubjectType, ids ...string) (map[string]*Approval, error) {
	out := make(map[string]*Approval, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []*Approval
	if err := db.WithContext(ctx).
		Where("subject_type = ? AND subject_id IN ?", t, ids).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, common.ErrPersistence("Failed to load approvals", err)
	}
	for _, a := range rows {
		out[a.SubjectID] = a
	}
	return out, nil
}

// RecordCampaignDecision 在调用方事务内写入活动审批审计行
func RecordCampaignDecision(tx *gorm.DB, rec *CampaignApproval) error {
	if rec.CampaignID == "" || rec.Stage == "" {
		return errors.New("campaign approval requires campaign id and stage")
	}
	return tx.Create(rec).Error
}

// CampaignHistory 活动审批审计行，按时间升序
func CampaignHistory(ctx context.Context, db *gorm.DB, campaignID string) ([]CampaignApproval, error) {
	var rows []CampaignApproval
	if err := db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, common.ErrPersistence("Failed to load campaign approvals", err)
	}
	return rows, nil
}

func translate(err error, msg string) error {
	if _, ok := common.AsBusinessError(err); ok {
		return err
	}
	return common.ErrPersistence(msg, err)
}

func idFor(t SubjectType, a *Approval) string {
	if a.SubjectType == t {
		return a.SubjectID
	}
	return ""
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
