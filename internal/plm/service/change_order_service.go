package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/holee9/plm-system-web-sub001/internal/plm/apperror"
	"github.com/holee9/plm-system-web-sub001/internal/plm/entity"
	"github.com/holee9/plm-system-web-sub001/internal/plm/repository"
)

const statsCacheTTL = 60 * time.Second

// ChangeOrderService 工程变更工作流服务
type ChangeOrderService struct {
	orderRepo   *repository.ChangeOrderRepository
	partRepo    *repository.PartRepository
	projectRepo *repository.ProjectRepository
	userRepo    *repository.UserRepository
	bomRepo     *repository.BOMRepository
	rdb         *redis.Client
}

// NewChangeOrderService 创建变更单服务
func NewChangeOrderService(orderRepo *repository.ChangeOrderRepository, partRepo *repository.PartRepository, projectRepo *repository.ProjectRepository, userRepo *repository.UserRepository, bomRepo *repository.BOMRepository, rdb *redis.Client) *ChangeOrderService {
	return &ChangeOrderService{
		orderRepo:   orderRepo,
		partRepo:    partRepo,
		projectRepo: projectRepo,
		userRepo:    userRepo,
		bomRepo:     bomRepo,
		rdb:         rdb,
	}
}

// CreateChangeOrderRequest 创建变更单请求
type CreateChangeOrderRequest struct {
	ProjectID       string   `json:"project_id" binding:"required"`
	Type            string   `json:"type" binding:"required"`
	Title           string   `json:"title" binding:"required"`
	Description     string   `json:"description" binding:"required"`
	Reason          string   `json:"reason" binding:"required"`
	Priority        string   `json:"priority"`
	ApproverIDs     []string `json:"approver_ids" binding:"required"`
	AffectedPartIDs []string `json:"affected_part_ids"`
}

// UpdateChangeOrderRequest 更新变更单请求（仅草稿期）
type UpdateChangeOrderRequest struct {
	Title           *string   `json:"title"`
	Description     *string   `json:"description"`
	Reason          *string   `json:"reason"`
	Priority        *string   `json:"priority"`
	ApproverIDs     *[]string `json:"approver_ids"`
	AffectedPartIDs *[]string `json:"affected_part_ids"`
}

// ReviewRequest 评审请求
type ReviewRequest struct {
	Status  string `json:"status" binding:"required"` // approved/rejected
	Comment string `json:"comment"`
}

// ChangeOrderListResult 变更单列表结果
type ChangeOrderListResult struct {
	Items      []entity.ChangeOrder `json:"items"`
	Total      int64                `json:"total"`
	Page       int                  `json:"page"`
	PageSize   int                  `json:"page_size"`
	TotalPages int                  `json:"total_pages"`
}

// ImpactedPart 影响分析中的单个零件
type ImpactedPart struct {
	PartID         string `json:"part_id"`
	PartNumber     string `json:"part_number"`
	Name           string `json:"name"`
	WhereUsedCount int    `json:"where_used_count"`
}

// ImpactAnalysisResult 影响分析结果
type ImpactAnalysisResult struct {
	ChangeOrderID       string               `json:"change_order_id"`
	AffectedParts       []ImpactedPart       `json:"affected_parts"`
	WhereUsedCount      int                  `json:"where_used_count"`
	RelatedChangeOrders []entity.ChangeOrder `json:"related_change_orders"`
}

// ProjectStatistics 项目维度统计
type ProjectStatistics struct {
	ProjectID string           `json:"project_id"`
	Total     int64            `json:"total"`
	ByStatus  map[string]int64 `json:"by_status"`
	ByType    map[string]int64 `json:"by_type"`
}

// validateCreate 创建请求的字段校验
func (s *ChangeOrderService) validateCreate(req *CreateChangeOrderRequest) error {
	if !entity.IsValidChangeOrderType(req.Type) {
		return apperror.Validationf("change order type must be ECR or ECN, got %q", req.Type)
	}
	if l := utf8.RuneCountInString(strings.TrimSpace(req.Title)); l < 5 || l > 500 {
		return apperror.Validationf("title must be 5-500 characters")
	}
	if utf8.RuneCountInString(strings.TrimSpace(req.Description)) < 10 {
		return apperror.Validationf("description must be at least 10 characters")
	}
	if strings.TrimSpace(req.Reason) == "" {
		return apperror.Validationf("reason must not be empty")
	}
	if len(req.ApproverIDs) == 0 {
		return apperror.Validationf("at least one approver is required")
	}
	if req.Priority != "" && !entity.IsValidChangeOrderPriority(req.Priority) {
		return apperror.Validationf("invalid priority %q", req.Priority)
	}
	return nil
}

// checkApproversExist 校验审批人均为已知用户
func (s *ChangeOrderService) checkApproversExist(ctx context.Context, ids []string) error {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return apperror.Validationf("duplicate approver %s", id)
		}
		seen[id] = true
	}
	users, err := s.userRepo.FindByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("find approvers: %w", err)
	}
	if len(users) != len(ids) {
		found := make(map[string]bool, len(users))
		for _, u := range users {
			found[u.ID] = true
		}
		for _, id := range ids {
			if !found[id] {
				return apperror.NotFound("user", id)
			}
		}
	}
	return nil
}

// checkPartsExist 校验受影响零件存在
func (s *ChangeOrderService) checkPartsExist(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	parts, err := s.partRepo.ListByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("find affected parts: %w", err)
	}
	if len(parts) != len(ids) {
		found := make(map[string]bool, len(parts))
		for _, p := range parts {
			found[p.ID] = true
		}
		for _, id := range ids {
			if !found[id] {
				return apperror.NotFound("part", id)
			}
		}
	}
	return nil
}

// Create 创建变更单，初始状态draft，编号在项目行锁下顺延
func (s *ChangeOrderService) Create(ctx context.Context, userID string, req *CreateChangeOrderRequest) (*entity.ChangeOrder, error) {
	if err := s.validateCreate(req); err != nil {
		return nil, err
	}
	if err := s.checkApproversExist(ctx, req.ApproverIDs); err != nil {
		return nil, err
	}
	if err := s.checkPartsExist(ctx, req.AffectedPartIDs); err != nil {
		return nil, err
	}

	priority := req.Priority
	if priority == "" {
		priority = entity.ChangeOrderPriorityMedium
	}

	now := time.Now()
	order := &entity.ChangeOrder{
		ID:          uuid.New().String()[:32],
		ProjectID:   req.ProjectID,
		Type:        req.Type,
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Reason:      req.Reason,
		Priority:    priority,
		Status:      entity.ChangeOrderStatusDraft,
		RequesterID: userID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	approvers := buildApprovers(req.ApproverIDs, now)
	affected := buildAffectedParts(req.AffectedPartIDs, now)

	if err := s.orderRepo.CreateWithChildren(ctx, order, approvers, affected); err != nil {
		return nil, err
	}

	s.invalidateStatsCache(ctx, order.ProjectID)
	return s.Get(ctx, order.ID)
}

// Update 更新变更单。仅发起人、仅草稿期。
func (s *ChangeOrderService) Update(ctx context.Context, id, userID string, req *UpdateChangeOrderRequest) (*entity.ChangeOrder, error) {
	order, err := s.findOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.RequesterID != userID {
		return nil, apperror.Accessf("only the requester may update change order %s", order.Number)
	}
	if order.Status != entity.ChangeOrderStatusDraft {
		return nil, apperror.Statef("change order %s is %s, updates are only allowed in draft", order.Number, order.Status)
	}

	if req.Title != nil {
		if l := utf8.RuneCountInString(strings.TrimSpace(*req.Title)); l < 5 || l > 500 {
			return nil, apperror.Validationf("title must be 5-500 characters")
		}
		order.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		if utf8.RuneCountInString(strings.TrimSpace(*req.Description)) < 10 {
			return nil, apperror.Validationf("description must be at least 10 characters")
		}
		order.Description = *req.Description
	}
	if req.Reason != nil {
		if strings.TrimSpace(*req.Reason) == "" {
			return nil, apperror.Validationf("reason must not be empty")
		}
		order.Reason = *req.Reason
	}
	if req.Priority != nil {
		if !entity.IsValidChangeOrderPriority(*req.Priority) {
			return nil, apperror.Validationf("invalid priority %q", *req.Priority)
		}
		order.Priority = *req.Priority
	}

	if req.ApproverIDs != nil {
		if len(*req.ApproverIDs) == 0 {
			return nil, apperror.Validationf("at least one approver is required")
		}
		if err := s.checkApproversExist(ctx, *req.ApproverIDs); err != nil {
			return nil, err
		}
	}
	if req.AffectedPartIDs != nil {
		if err := s.checkPartsExist(ctx, *req.AffectedPartIDs); err != nil {
			return nil, err
		}
	}

	order.Approvers = nil
	order.AffectedParts = nil
	order.Requester = nil
	if err := s.orderRepo.Update(ctx, order); err != nil {
		return nil, fmt.Errorf("update change order: %w", err)
	}

	now := time.Now()
	if req.ApproverIDs != nil {
		if err := s.orderRepo.ReplaceApprovers(ctx, id, buildApprovers(*req.ApproverIDs, now)); err != nil {
			return nil, fmt.Errorf("replace approvers: %w", err)
		}
	}
	if req.AffectedPartIDs != nil {
		if err := s.orderRepo.ReplaceAffectedParts(ctx, id, buildAffectedParts(*req.AffectedPartIDs, now)); err != nil {
			return nil, fmt.Errorf("replace affected parts: %w", err)
		}
	}

	return s.Get(ctx, id)
}

// Delete 删除变更单。仅发起人、仅草稿期，级联删除子记录与审计。
func (s *ChangeOrderService) Delete(ctx context.Context, id, userID string) error {
	order, err := s.findOrder(ctx, id)
	if err != nil {
		return err
	}
	if order.RequesterID != userID {
		return apperror.Accessf("only the requester may delete change order %s", order.Number)
	}
	if order.Status != entity.ChangeOrderStatusDraft {
		return apperror.Statef("change order %s is %s, deletion is only allowed in draft", order.Number, order.Status)
	}

	if err := s.orderRepo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete change order: %w", err)
	}
	s.invalidateStatsCache(ctx, order.ProjectID)
	return nil
}

// Submit 提交评审。仅发起人；draft|rejected -> submitted。
func (s *ChangeOrderService) Submit(ctx context.Context, id, userID string) (*entity.ChangeOrder, error) {
	order, err := s.findOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.RequesterID != userID {
		return nil, apperror.Accessf("only the requester may submit change order %s", order.Number)
	}
	if len(order.Approvers) == 0 {
		return nil, apperror.Validationf("change order %s has no approvers", order.Number)
	}

	updated, err := s.orderRepo.Transition(ctx, id, entity.ChangeOrderStatusSubmitted, userID, "Submitted for review", nil)
	if err != nil {
		return nil, err
	}
	s.invalidateStatsCache(ctx, order.ProjectID)
	return s.enrich(updated), nil
}

// AcceptForReview 受理评审：submitted -> in_review
func (s *ChangeOrderService) AcceptForReview(ctx context.Context, id, userID string) (*entity.ChangeOrder, error) {
	order, err := s.orderRepo.Transition(ctx, id, entity.ChangeOrderStatusInReview, userID, "Accepted for review", nil)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.NotFound("change order", id)
		}
		return nil, err
	}
	s.invalidateStatsCache(ctx, order.ProjectID)
	return s.enrich(order), nil
}

// Review 审批人评审。拒绝必须附评语（统一规则）；
// 共识判定与审批写入在仓储事务内基于一致快照完成。
func (s *ChangeOrderService) Review(ctx context.Context, id, userID string, req *ReviewRequest) (*entity.ChangeOrder, error) {
	if req.Status != entity.ApproverStatusApproved && req.Status != entity.ApproverStatusRejected {
		return nil, apperror.Validationf("review status must be approved or rejected, got %q", req.Status)
	}
	if req.Status == entity.ApproverStatusRejected && strings.TrimSpace(req.Comment) == "" {
		return nil, apperror.Validationf("comment is required when rejecting")
	}

	order, err := s.orderRepo.Review(ctx, id, userID, req.Status, req.Comment)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.NotFound("change order", id)
		}
		return nil, err
	}
	s.invalidateStatsCache(ctx, order.ProjectID)
	return s.enrich(order), nil
}

// AddApprover 添加审批人。仅发起人、仅草稿期，重复添加被拒绝。
func (s *ChangeOrderService) AddApprover(ctx context.Context, id, userID, approverID string) (*entity.ChangeOrder, error) {
	order, err := s.findOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.RequesterID != userID {
		return nil, apperror.Accessf("only the requester may modify approvers of change order %s", order.Number)
	}
	if order.Status != entity.ChangeOrderStatusDraft {
		return nil, apperror.Statef("change order %s is %s, approvers are only editable in draft", order.Number, order.Status)
	}
	if err := s.checkApproversExist(ctx, []string{approverID}); err != nil {
		return nil, err
	}

	approver := &entity.ChangeOrderApprover{
		ID:            uuid.New().String()[:32],
		ChangeOrderID: id,
		ApproverID:    approverID,
		Status:        entity.ApproverStatusPending,
		CreatedAt:     time.Now(),
	}
	if err := s.orderRepo.AddApprover(ctx, approver); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// RemoveApprover 移除审批人。仅发起人、仅草稿期、仅pending状态的审批人。
func (s *ChangeOrderService) RemoveApprover(ctx context.Context, id, userID, approverID string) (*entity.ChangeOrder, error) {
	order, err := s.findOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.RequesterID != userID {
		return nil, apperror.Accessf("only the requester may modify approvers of change order %s", order.Number)
	}
	if order.Status != entity.ChangeOrderStatusDraft {
		return nil, apperror.Statef("change order %s is %s, approvers are only editable in draft", order.Number, order.Status)
	}

	if err := s.orderRepo.RemoveApprover(ctx, id, approverID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.NotFound("approver", approverID)
		}
		return nil, err
	}
	return s.Get(ctx, id)
}

// Implement 实施变更：approved -> implemented，可关联实施修订
func (s *ChangeOrderService) Implement(ctx context.Context, id, userID string, revisionID *string) (*entity.ChangeOrder, error) {
	now := time.Now()
	extra := map[string]interface{}{
		"implemented_at": now,
	}
	if revisionID != nil && *revisionID != "" {
		extra["implemented_revision_id"] = *revisionID
	}

	order, err := s.orderRepo.Transition(ctx, id, entity.ChangeOrderStatusImplemented, userID, "Change implemented", extra)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.NotFound("change order", id)
		}
		return nil, err
	}
	s.invalidateStatsCache(ctx, order.ProjectID)
	return s.enrich(order), nil
}

// Get 获取变更单详情，附审批进度
func (s *ChangeOrderService) Get(ctx context.Context, id string) (*entity.ChangeOrder, error) {
	order, err := s.findOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.enrich(order), nil
}

// List 获取变更单列表
func (s *ChangeOrderService) List(ctx context.Context, projectID string, page, pageSize int, filters map[string]interface{}) (*ChangeOrderListResult, error) {
	orders, total, err := s.orderRepo.List(ctx, projectID, page, pageSize, filters)
	if err != nil {
		return nil, fmt.Errorf("list change orders: %w", err)
	}

	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}

	return &ChangeOrderListResult{
		Items:      orders,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}

// GetAuditTrail 获取审计轨迹
func (s *ChangeOrderService) GetAuditTrail(ctx context.Context, id string) ([]entity.ChangeOrderAudit, error) {
	if _, err := s.findOrder(ctx, id); err != nil {
		return nil, err
	}
	return s.orderRepo.ListAudit(ctx, id)
}

// PerformImpactAnalysis 影响分析：受影响零件的反查计数 + 关联变更单
func (s *ChangeOrderService) PerformImpactAnalysis(ctx context.Context, id string) (*ImpactAnalysisResult, error) {
	order, err := s.findOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	result := &ImpactAnalysisResult{
		ChangeOrderID: order.ID,
		AffectedParts: make([]ImpactedPart, 0, len(order.AffectedParts)),
	}

	partIDs := make([]string, 0, len(order.AffectedParts))
	for _, ap := range order.AffectedParts {
		partIDs = append(partIDs, ap.PartID)

		impacted := ImpactedPart{PartID: ap.PartID}
		if ap.Part != nil {
			impacted.PartNumber = ap.Part.PartNumber
			impacted.Name = ap.Part.Name
		}

		usages, err := s.bomRepo.WhereUsed(ctx, ap.PartID)
		if err != nil {
			return nil, fmt.Errorf("where used for %s: %w", ap.PartID, err)
		}
		parents := make(map[string]bool, len(usages))
		for _, u := range usages {
			parents[u.ParentID] = true
		}
		impacted.WhereUsedCount = len(parents)
		result.WhereUsedCount += impacted.WhereUsedCount
		result.AffectedParts = append(result.AffectedParts, impacted)
	}

	related, err := s.orderRepo.ListByAffectedParts(ctx, partIDs, order.ID)
	if err != nil {
		return nil, fmt.Errorf("related change orders: %w", err)
	}
	result.RelatedChangeOrders = related

	return result, nil
}

// GetProjectStatistics 项目维度按状态/类型计数，短暂缓存
func (s *ChangeOrderService) GetProjectStatistics(ctx context.Context, projectID string) (*ProjectStatistics, error) {
	cacheKey := "change_orders:stats:" + projectID
	if cached, err := s.rdb.Get(ctx, cacheKey).Result(); err == nil {
		var stats ProjectStatistics
		if json.Unmarshal([]byte(cached), &stats) == nil {
			return &stats, nil
		}
	}

	byStatus, byType, err := s.orderRepo.CountByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("count change orders: %w", err)
	}

	stats := &ProjectStatistics{
		ProjectID: projectID,
		ByStatus:  make(map[string]int64, len(byStatus)),
		ByType:    make(map[string]int64, len(byType)),
	}
	for _, row := range byStatus {
		stats.ByStatus[row.Key] = row.Count
		stats.Total += row.Count
	}
	for _, row := range byType {
		stats.ByType[row.Key] = row.Count
	}

	if data, err := json.Marshal(stats); err == nil {
		s.rdb.Set(ctx, cacheKey, data, statsCacheTTL)
	}
	return stats, nil
}

// findOrder 查找变更单并转换NotFound
func (s *ChangeOrderService) findOrder(ctx context.Context, id string) (*entity.ChangeOrder, error) {
	order, err := s.orderRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.NotFound("change order", id)
		}
		return nil, fmt.Errorf("find change order: %w", err)
	}
	return order, nil
}

// enrich 填充审批进度计算字段
func (s *ChangeOrderService) enrich(order *entity.ChangeOrder) *entity.ChangeOrder {
	progress := &entity.ApprovalProgress{Total: len(order.Approvers)}
	for _, a := range order.Approvers {
		switch a.Status {
		case entity.ApproverStatusApproved:
			progress.Approved++
		case entity.ApproverStatusRejected:
			progress.Rejected++
		default:
			progress.Pending++
		}
	}
	order.ApprovalProgress = progress
	return order
}

// invalidateStatsCache 变更后清理统计缓存
func (s *ChangeOrderService) invalidateStatsCache(ctx context.Context, projectID string) {
	s.rdb.Del(ctx, "change_orders:stats:"+projectID)
}

func buildApprovers(ids []string, now time.Time) []entity.ChangeOrderApprover {
	approvers := make([]entity.ChangeOrderApprover, 0, len(ids))
	for _, approverID := range ids {
		approvers = append(approvers, entity.ChangeOrderApprover{
			ID:         uuid.New().String()[:32],
			ApproverID: approverID,
			Status:     entity.ApproverStatusPending,
			CreatedAt:  now,
		})
	}
	return approvers
}

func buildAffectedParts(ids []string, now time.Time) []entity.ChangeOrderAffectedPart {
	affected := make([]entity.ChangeOrderAffectedPart, 0, len(ids))
	for _, partID := range ids {
		affected = append(affected, entity.ChangeOrderAffectedPart{
			ID:        uuid.New().String()[:32],
			PartID:    partID,
			CreatedAt: now,
		})
	}
	return affected
}
