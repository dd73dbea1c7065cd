package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/holee9/plm-system-web-sub001/internal/plm/apperror"
	"github.com/holee9/plm-system-web-sub001/internal/plm/entity"
)

// ChangeOrderRepository 变更单仓储
type ChangeOrderRepository struct {
	db *gorm.DB
}

// NewChangeOrderRepository 创建变更单仓储
func NewChangeOrderRepository(db *gorm.DB) *ChangeOrderRepository {
	return &ChangeOrderRepository{db: db}
}

// FindByID 根据ID查找变更单（含审批人、受影响零件）
func (r *ChangeOrderRepository) FindByID(ctx context.Context, id string) (*entity.ChangeOrder, error) {
	var order entity.ChangeOrder
	err := r.db.WithContext(ctx).
		Preload("Requester").
		Preload("Approvers", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		}).
		Preload("Approvers.Approver").
		Preload("AffectedParts").
		Preload("AffectedParts.Part").
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}

// List 获取变更单列表
func (r *ChangeOrderRepository) List(ctx context.Context, projectID string, page, pageSize int, filters map[string]interface{}) ([]entity.ChangeOrder, int64, error) {
	var orders []entity.ChangeOrder
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.ChangeOrder{}).Where("project_id = ?", projectID)

	if status, ok := filters["status"].(string); ok && status != "" {
		query = query.Where("status = ?", status)
	}
	if orderType, ok := filters["type"].(string); ok && orderType != "" {
		query = query.Where("type = ?", orderType)
	}
	if priority, ok := filters["priority"].(string); ok && priority != "" {
		query = query.Where("priority = ?", priority)
	}
	if keyword, ok := filters["keyword"].(string); ok && keyword != "" {
		query = query.Where("title ILIKE ? OR number ILIKE ?", "%"+keyword+"%", "%"+keyword+"%")
	}
	if requesterID, ok := filters["requester_id"].(string); ok && requesterID != "" {
		query = query.Where("requester_id = ?", requesterID)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Preload("Requester").
		Order("created_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&orders).Error
	if err != nil {
		return nil, 0, err
	}

	return orders, total, nil
}

// CreateWithChildren 创建变更单及其审批人、受影响零件。
//
// 编号为 (项目, 类型) 维度的顺延计数，在项目行锁下由既有最大值+1得出，
// 三位零填充（"001"，超过999后自然变四位）。
func (r *ChangeOrderRepository) CreateWithChildren(ctx context.Context, order *entity.ChangeOrder, approvers []entity.ChangeOrderApprover, affected []entity.ChangeOrderAffectedPart) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var project entity.Project
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", order.ProjectID).
			First(&project).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperror.NotFound("project", order.ProjectID)
			}
			return err
		}

		var maxNumber int
		err = tx.Model(&entity.ChangeOrder{}).
			Where("project_id = ? AND type = ?", order.ProjectID, order.Type).
			Select("COALESCE(MAX(number::int), 0)").
			Scan(&maxNumber).Error
		if err != nil {
			return err
		}
		order.Number = fmt.Sprintf("%03d", maxNumber+1)

		if err := tx.Create(order).Error; err != nil {
			return err
		}
		for i := range approvers {
			approvers[i].ChangeOrderID = order.ID
			if err := tx.Create(&approvers[i]).Error; err != nil {
				return err
			}
		}
		for i := range affected {
			affected[i].ChangeOrderID = order.ID
			if err := tx.Create(&affected[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Update 更新变更单主记录
func (r *ChangeOrderRepository) Update(ctx context.Context, order *entity.ChangeOrder) error {
	order.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Save(order).Error
}

// ReplaceApprovers 整体替换审批人集合（仅草稿期调用）
func (r *ChangeOrderRepository) ReplaceApprovers(ctx context.Context, orderID string, approvers []entity.ChangeOrderApprover) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&entity.ChangeOrderApprover{}, "change_order_id = ?", orderID).Error; err != nil {
			return err
		}
		for i := range approvers {
			approvers[i].ChangeOrderID = orderID
			if err := tx.Create(&approvers[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// ReplaceAffectedParts 整体替换受影响零件集合（仅草稿期调用）
func (r *ChangeOrderRepository) ReplaceAffectedParts(ctx context.Context, orderID string, affected []entity.ChangeOrderAffectedPart) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&entity.ChangeOrderAffectedPart{}, "change_order_id = ?", orderID).Error; err != nil {
			return err
		}
		for i := range affected {
			affected[i].ChangeOrderID = orderID
			if err := tx.Create(&affected[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete 删除变更单，级联删除审批人、受影响零件与审计记录
func (r *ChangeOrderRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&entity.ChangeOrderApprover{}, "change_order_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&entity.ChangeOrderAffectedPart{}, "change_order_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&entity.ChangeOrderAudit{}, "change_order_id = ?", id).Error; err != nil {
			return err
		}
		result := tx.Delete(&entity.ChangeOrder{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Transition 在行锁下执行一次状态流转并追加审计记录。
//
// 锁内重读当前状态并用状态机表校验，杜绝并发下的非法流转。
// rejected -> submitted 重新提交时将所有审批人复位为pending。
// extra 为随流转一并写入的字段（如实施时间、实施修订）。
func (r *ChangeOrderRepository) Transition(ctx context.Context, id, to, changedBy, comment string, extra map[string]interface{}) (*entity.ChangeOrder, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order entity.ChangeOrder
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&order).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		if !entity.CanTransitionChangeOrder(order.Status, to) {
			return apperror.InvalidTransition(order.Status, to)
		}

		now := time.Now()
		updates := map[string]interface{}{
			"status":     to,
			"updated_at": now,
		}
		for k, v := range extra {
			updates[k] = v
		}
		if err := tx.Model(&entity.ChangeOrder{}).
			Where("id = ?", id).
			Updates(updates).Error; err != nil {
			return err
		}

		if order.Status == entity.ChangeOrderStatusRejected && to == entity.ChangeOrderStatusSubmitted {
			if err := tx.Model(&entity.ChangeOrderApprover{}).
				Where("change_order_id = ?", id).
				Updates(map[string]interface{}{
					"status":      entity.ApproverStatusPending,
					"comment":     "",
					"reviewed_at": nil,
				}).Error; err != nil {
				return err
			}
		}

		return appendAudit(tx, id, order.Status, to, changedBy, comment, now)
	})
	if err != nil {
		return nil, err
	}
	return r.FindByID(ctx, id)
}

// Review 记录一位审批人的评审并在同一事务内做共识判定。
//
// 变更单行先加锁，保证共识检查读到的是一致快照：任一审批人rejected
// 则变更单立即rejected（短路）；全部approved才approved；否则停留在
// in_review。每次评审恰好追加一条审计记录。
func (r *ChangeOrderRepository) Review(ctx context.Context, orderID, approverID, decision, comment string) (*entity.ChangeOrder, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order entity.ChangeOrder
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", orderID).
			First(&order).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		if order.Status != entity.ChangeOrderStatusInReview {
			return apperror.Statef("change order %s is %s, review requires %s",
				order.Number, order.Status, entity.ChangeOrderStatusInReview)
		}

		var approver entity.ChangeOrderApprover
		err = tx.Where("change_order_id = ? AND approver_id = ?", orderID, approverID).
			First(&approver).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperror.Accessf("user %s is not an approver of change order %s", approverID, order.Number)
			}
			return err
		}
		if approver.Status != entity.ApproverStatusPending {
			return apperror.Statef("approver has already reviewed with %s", approver.Status)
		}

		now := time.Now()
		if err := tx.Model(&entity.ChangeOrderApprover{}).
			Where("id = ?", approver.ID).
			Updates(map[string]interface{}{
				"status":      decision,
				"comment":     comment,
				"reviewed_at": now,
			}).Error; err != nil {
			return err
		}

		// 共识判定：锁内重读全部审批人状态
		var all []entity.ChangeOrderApprover
		if err := tx.Where("change_order_id = ?", orderID).Find(&all).Error; err != nil {
			return err
		}
		next := entity.ChangeOrderStatusInReview
		rejected := false
		pending := 0
		for _, a := range all {
			switch a.Status {
			case entity.ApproverStatusRejected:
				rejected = true
			case entity.ApproverStatusPending:
				pending++
			}
		}
		if rejected {
			next = entity.ChangeOrderStatusRejected
		} else if pending == 0 {
			next = entity.ChangeOrderStatusApproved
		}

		if next != entity.ChangeOrderStatusInReview {
			if err := tx.Model(&entity.ChangeOrder{}).
				Where("id = ?", orderID).
				Updates(map[string]interface{}{
					"status":     next,
					"updated_at": now,
				}).Error; err != nil {
				return err
			}
		}

		return appendAudit(tx, orderID, entity.ChangeOrderStatusInReview, next, approverID, comment, now)
	})
	if err != nil {
		return nil, err
	}
	return r.FindByID(ctx, orderID)
}

// AddApprover 添加审批人（重复添加被唯一索引与前置检查双重拒绝）
func (r *ChangeOrderRepository) AddApprover(ctx context.Context, approver *entity.ChangeOrderApprover) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&entity.ChangeOrderApprover{}).
			Where("change_order_id = ? AND approver_id = ?", approver.ChangeOrderID, approver.ApproverID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return apperror.Validationf("user %s is already an approver", approver.ApproverID)
		}
		return tx.Create(approver).Error
	})
}

// RemoveApprover 移除审批人，仅当其仍处于pending
func (r *ChangeOrderRepository) RemoveApprover(ctx context.Context, orderID, approverID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var approver entity.ChangeOrderApprover
		err := tx.Where("change_order_id = ? AND approver_id = ?", orderID, approverID).
			First(&approver).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if approver.Status != entity.ApproverStatusPending {
			return apperror.Statef("cannot remove approver with status %s", approver.Status)
		}
		return tx.Delete(&approver).Error
	})
}

// ListAudit 获取审计轨迹，按时间顺序
func (r *ChangeOrderRepository) ListAudit(ctx context.Context, orderID string) ([]entity.ChangeOrderAudit, error) {
	var entries []entity.ChangeOrderAudit
	err := r.db.WithContext(ctx).
		Preload("Actor").
		Where("change_order_id = ?", orderID).
		Order("created_at ASC, id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// StatusCount 分组统计行
type StatusCount struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// CountByProject 项目维度统计：按状态、按类型
func (r *ChangeOrderRepository) CountByProject(ctx context.Context, projectID string) (byStatus, byType []StatusCount, err error) {
	err = r.db.WithContext(ctx).
		Model(&entity.ChangeOrder{}).
		Select("status AS key, COUNT(*) AS count").
		Where("project_id = ?", projectID).
		Group("status").
		Scan(&byStatus).Error
	if err != nil {
		return nil, nil, err
	}
	err = r.db.WithContext(ctx).
		Model(&entity.ChangeOrder{}).
		Select("type AS key, COUNT(*) AS count").
		Where("project_id = ?", projectID).
		Group("type").
		Scan(&byType).Error
	if err != nil {
		return nil, nil, err
	}
	return byStatus, byType, nil
}

// ListByAffectedParts 查找受影响零件与给定集合重叠的其他变更单
func (r *ChangeOrderRepository) ListByAffectedParts(ctx context.Context, partIDs []string, excludeOrderID string) ([]entity.ChangeOrder, error) {
	var orders []entity.ChangeOrder
	if len(partIDs) == 0 {
		return orders, nil
	}
	err := r.db.WithContext(ctx).
		Distinct("change_orders.*").
		Joins("JOIN change_order_affected_parts cap ON cap.change_order_id = change_orders.id").
		Where("cap.part_id IN ?", partIDs).
		Where("change_orders.id <> ?", excludeOrderID).
		Order("change_orders.created_at DESC").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// appendAudit 追加一条审计记录
func appendAudit(tx *gorm.DB, orderID, from, to, changedBy, comment string, at time.Time) error {
	entry := &entity.ChangeOrderAudit{
		ID:            uuid.New().String()[:32],
		ChangeOrderID: orderID,
		FromStatus:    from,
		ToStatus:      to,
		ChangedBy:     changedBy,
		Comment:       comment,
		CreatedAt:     at,
	}
	return tx.Create(entry).Error
}
