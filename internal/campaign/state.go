package campaign

// State 活动主状态
type State string

const (
	StateDraft                 State = "draft"
	StateIntermediaryGenerated State = "intermediary_generated"
	StateAssetsGenerated       State = "assets_generated"
	StateApproved              State = "approved"
	StateRejected              State = "rejected"
)

// ApprovalStatus 审批进度
type ApprovalStatus string

const (
	ApprovalDraft       ApprovalStatus = "draft"
	ApprovalPendingList ApprovalStatus = "pending_list"
	ApprovalPendingCopy ApprovalStatus = "pending_copy"
	ApprovalApproved    ApprovalStatus = "approved"
	ApprovalRejected    ApprovalStatus = "rejected"
)

// ListStatus 名单进度
type ListStatus string

const (
	ListPendingQuestions ListStatus = "pending_questions"
	ListNotRequired      ListStatus = "not_required"
	ListPendingUpload    ListStatus = "pending_upload"
	ListUploaded         ListStatus = "uploaded"
	ListClientReviewed   ListStatus = "client_reviewed"
)

// transitions 允许的状态迁移；同状态迁移表示可重复生成
var transitions = map[State][]State{
	StateDraft:                 {StateIntermediaryGenerated, StateAssetsGenerated},
	StateIntermediaryGenerated: {StateIntermediaryGenerated, StateAssetsGenerated},
	StateAssetsGenerated:       {StateIntermediaryGenerated, StateAssetsGenerated, StateApproved, StateRejected},
	StateRejected:              {StateIntermediaryGenerated, StateAssetsGenerated},
}

// CanTransition from 是否可迁移到 to
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// sourcesOf 可迁移到 to 的全部状态，用于条件更新
func sourcesOf(to State) []State {
	var out []State
	for _, from := range []State{StateDraft, StateIntermediaryGenerated, StateAssetsGenerated, StateApproved, StateRejected} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// Editable 中间产物可修改
func (s State) Editable() bool {
	return s != StateApproved
}

// approvalAfterCopy 文案生成后的审批进度；只有无需名单时直接进入文案审批
func approvalAfterCopy(list ListStatus) ApprovalStatus {
	if list == ListNotRequired {
		return ApprovalPendingCopy
	}
	return ApprovalPendingList
}
