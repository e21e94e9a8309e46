package approval

import (
	"context"
	"time"

	"claireportal/pkg/httputil"
)

// Notification 推送给 GTM 团队的审批通知
type Notification struct {
	Event         string     `json:"event"`
	ClientEmail   string     `json:"clientEmail"`
	ClientName    string     `json:"clientName"`
	PlayCode      string     `json:"playCode"`
	PlayName      string     `json:"playName"`
	ExecutionID   string     `json:"executionId,omitempty"`
	CampaignID    string     `json:"campaignId,omitempty"`
	ApprovalToken string     `json:"approvalToken,omitempty"`
	ApprovalURL   string     `json:"approvalUrl,omitempty"`
	DueDate       *time.Time `json:"dueDate,omitempty"`
	CreatedAt     *time.Time `json:"createdAt,omitempty"`
	ApprovedAt    *time.Time `json:"approvedAt,omitempty"`
	ApprovedBy    string     `json:"approvedBy,omitempty"`
	EditedOutput  any        `json:"editedOutput,omitempty"`
}

// 通知事件
const (
	EventApprovalRequested = "approval_requested"
	EventExecutionApproved = "execution_approved"
	EventLaunchApproved    = "launch_approved"
	EventCopyRejected      = "copy_rejected"
	EventListUploaded      = "list_uploaded"
)

// Notifier 审批通知发送
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// WebhookNotifier 将通知以 JSON POST 到固定地址
type WebhookNotifier struct {
	url    string
	client *httputil.Client
}

// NewWebhookNotifier url 为空时返回 nil
func NewWebhookNotifier(url string, client *httputil.Client) *WebhookNotifier {
	if url == "" {
		return nil
	}
	if client == nil {
		client = httputil.NewClient(httputil.WithTimeout(15 * time.Second))
	}
	return &WebhookNotifier{url: url, client: client}
}

// Send 发送通知
func (w *WebhookNotifier) Send(ctx context.Context, n Notification) error {
	if w == nil {
		return nil
	}
	return w.client.PostJSON(ctx, w.url, n, nil)
}
