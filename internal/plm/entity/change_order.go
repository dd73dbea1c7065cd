package entity

import (
	"time"
)

// ChangeOrder 工程变更单（ECR/ECN）
type ChangeOrder struct {
	ID                    string     `json:"id" gorm:"primaryKey;size:32"`
	ProjectID             string     `json:"project_id" gorm:"size:32;not null;uniqueIndex:idx_change_orders_number"`
	Type                  string     `json:"type" gorm:"size:8;not null;uniqueIndex:idx_change_orders_number"`
	Number                string     `json:"number" gorm:"size:8;not null;uniqueIndex:idx_change_orders_number"`
	Title                 string     `json:"title" gorm:"size:500;not null"`
	Description           string     `json:"description" gorm:"type:text;not null"`
	Reason                string     `json:"reason" gorm:"type:text;not null"`
	Priority              string     `json:"priority" gorm:"size:16;not null;default:medium"`
	Status                string     `json:"status" gorm:"size:16;not null;default:draft"`
	RequesterID           string     `json:"requester_id" gorm:"size:32;not null"`
	ImplementedAt         *time.Time `json:"implemented_at,omitempty"`
	ImplementedRevisionID *string    `json:"implemented_revision_id,omitempty" gorm:"size:32"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`

	// 关联
	Requester     *User                     `json:"requester,omitempty" gorm:"foreignKey:RequesterID"`
	Approvers     []ChangeOrderApprover     `json:"approvers,omitempty" gorm:"foreignKey:ChangeOrderID"`
	AffectedParts []ChangeOrderAffectedPart `json:"affected_parts,omitempty" gorm:"foreignKey:ChangeOrderID"`

	// 计算字段，由服务层填充
	ApprovalProgress *ApprovalProgress `json:"approval_progress,omitempty" gorm:"-"`
}

func (ChangeOrder) TableName() string {
	return "change_orders"
}

// ApprovalProgress 审批进度统计
type ApprovalProgress struct {
	Total    int `json:"total"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
	Pending  int `json:"pending"`
}

// ChangeOrderApprover 变更单审批人
type ChangeOrderApprover struct {
	ID            string     `json:"id" gorm:"primaryKey;size:32"`
	ChangeOrderID string     `json:"change_order_id" gorm:"size:32;not null;uniqueIndex:idx_co_approvers"`
	ApproverID    string     `json:"approver_id" gorm:"size:32;not null;uniqueIndex:idx_co_approvers"`
	Status        string     `json:"status" gorm:"size:16;not null;default:pending"`
	Comment       string     `json:"comment,omitempty" gorm:"type:text"`
	ReviewedAt    *time.Time `json:"reviewed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`

	// 关联
	ChangeOrder *ChangeOrder `json:"change_order,omitempty" gorm:"foreignKey:ChangeOrderID"`
	Approver    *User        `json:"approver,omitempty" gorm:"foreignKey:ApproverID"`
}

func (ChangeOrderApprover) TableName() string {
	return "change_order_approvers"
}

// ChangeOrderAffectedPart 变更单受影响零件
type ChangeOrderAffectedPart struct {
	ID            string    `json:"id" gorm:"primaryKey;size:32"`
	ChangeOrderID string    `json:"change_order_id" gorm:"size:32;not null;index"`
	PartID        string    `json:"part_id" gorm:"size:32;not null;index"`
	CreatedAt     time.Time `json:"created_at"`

	// 关联
	Part *Part `json:"part,omitempty" gorm:"foreignKey:PartID"`
}

func (ChangeOrderAffectedPart) TableName() string {
	return "change_order_affected_parts"
}

// ChangeOrderAudit 变更单审计记录（只追加，不修改不删除）
type ChangeOrderAudit struct {
	ID            string    `json:"id" gorm:"primaryKey;size:32"`
	ChangeOrderID string    `json:"change_order_id" gorm:"size:32;not null;index"`
	FromStatus    string    `json:"from_status" gorm:"size:16;not null"`
	ToStatus      string    `json:"to_status" gorm:"size:16;not null"`
	ChangedBy     string    `json:"changed_by" gorm:"size:32;not null"`
	Comment       string    `json:"comment,omitempty" gorm:"type:text"`
	CreatedAt     time.Time `json:"created_at"`

	// 关联
	Actor *User `json:"actor,omitempty" gorm:"foreignKey:ChangedBy"`
}

func (ChangeOrderAudit) TableName() string {
	return "change_order_audits"
}

// 变更单类型
const (
	ChangeOrderTypeECR = "ECR"
	ChangeOrderTypeECN = "ECN"
)

// 变更单状态
const (
	ChangeOrderStatusDraft       = "draft"
	ChangeOrderStatusSubmitted   = "submitted"
	ChangeOrderStatusInReview    = "in_review"
	ChangeOrderStatusApproved    = "approved"
	ChangeOrderStatusRejected    = "rejected"
	ChangeOrderStatusImplemented = "implemented"
)

// 变更单优先级
const (
	ChangeOrderPriorityLow    = "low"
	ChangeOrderPriorityMedium = "medium"
	ChangeOrderPriorityHigh   = "high"
	ChangeOrderPriorityUrgent = "urgent"
)

// 审批人状态
const (
	ApproverStatusPending  = "pending"
	ApproverStatusApproved = "approved"
	ApproverStatusRejected = "rejected"
)

// changeOrderTransitions 变更单状态机：from -> 允许的to集合
//
// implemented 为终态。
var changeOrderTransitions = map[string][]string{
	ChangeOrderStatusDraft:       {ChangeOrderStatusSubmitted, ChangeOrderStatusRejected},
	ChangeOrderStatusSubmitted:   {ChangeOrderStatusInReview, ChangeOrderStatusRejected},
	ChangeOrderStatusInReview:    {ChangeOrderStatusApproved, ChangeOrderStatusRejected, ChangeOrderStatusSubmitted},
	ChangeOrderStatusApproved:    {ChangeOrderStatusImplemented},
	ChangeOrderStatusRejected:    {ChangeOrderStatusSubmitted},
	ChangeOrderStatusImplemented: {},
}

// CanTransitionChangeOrder 检查变更单状态流转是否允许
func CanTransitionChangeOrder(from, to string) bool {
	for _, allowed := range changeOrderTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsValidChangeOrderType 检查变更单类型取值
func IsValidChangeOrderType(t string) bool {
	return t == ChangeOrderTypeECR || t == ChangeOrderTypeECN
}

// IsValidChangeOrderPriority 检查变更单优先级取值
func IsValidChangeOrderPriority(p string) bool {
	switch p {
	case ChangeOrderPriorityLow, ChangeOrderPriorityMedium, ChangeOrderPriorityHigh, ChangeOrderPriorityUrgent:
		return true
	}
	return false
}
