package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/holee9/plm-system-web-sub001/internal/plm/service"
)

// ChangeOrderHandler 变更单处理器
type ChangeOrderHandler struct {
	svc *service.ChangeOrderService
}

// NewChangeOrderHandler 创建变更单处理器
func NewChangeOrderHandler(svc *service.ChangeOrderService) *ChangeOrderHandler {
	return &ChangeOrderHandler{svc: svc}
}

// Create 创建变更单
func (h *ChangeOrderHandler) Create(c *gin.Context) {
	var req service.CreateChangeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	order, err := h.svc.Create(c.Request.Context(), GetUserID(c), &req)
	if err != nil {
		HandleError(c, err)
		return
	}

	Created(c, order)
}

// Get 获取变更单详情
func (h *ChangeOrderHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		BadRequest(c, "change order ID is required")
		return
	}

	order, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		HandleError(c, err)
		return
	}

	Success(c, order)
}

// Update 更新变更单（仅草稿期）
func (h *ChangeOrderHandler) Update(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		BadRequest(c, "change order ID is required")
		return
	}

	var req service.UpdateChangeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	order, err := h.svc.Update(c.Request.Context(), id, GetUserID(c), &req)
	if err != nil {
		HandleError(c, err)
		return
	}

	Success(c, order)
}

// Delete 删除变更单（仅草稿期）
func (h *ChangeOrderHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		BadRequest(c, "change order ID is required")
		return
	}

	if err := h.svc.Delete(c.Request.Context(), id, GetUserID(c)); err != nil {
		HandleError(c, err)
		return
	}

	Success(c, nil)
}

// List 获取变更单列表
func (h *ChangeOrderHandler) List(c *gin.Context) {
	projectID := c.Query("project_id")
	if projectID == "" {
		BadRequest(c, "project_id is required")
		return
	}

	page, pageSize := GetPagination(c)
	filters := map[string]interface{}{
		"status":       c.Query("status"),
		"type":         c.Query("type"),
		"priority":     c.Query("priority"),
		"requester_id": c.Query("requester_id"),
		"keyword":      c.Query("keyword"),
	}

	result, err := h.svc.List(c.Request.Context(), projectID, page, pageSize, filters)
	if err != nil {
		HandleError(c, err)
		return
	}

	Success(c, result)
}

// Submit 提交评审
func (h *ChangeOrderHandler) Submit(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		BadRequest(c, "change order ID is required")
		return
	}

	order, err := h.svc.Submit(c.Request.Context(), id, GetUserID(c))
	if err != nil {
		HandleError(c, err)
		return
	}

	Success(c, order)
}

// AcceptForReview 受理评审
func (h *ChangeOrderHandler) AcceptForReview(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		BadRequest(c, "change order ID is required")
		return
	}

	order, err := h.svc.AcceptForReview(c.Request.Context(), id, GetUserID(c))
	if err != nil {
		HandleError(c, err)
		return
	}

	Success(c, order)
}

// Review 审批人评审
func (h *ChangeOrderHandler) Review(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		BadRequest(c, "change order ID is required")
		return
	}

	var req service.ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	order, err := h.svc.Review(c.Request.Context(), id, GetUserID(c), &req)
	if err != nil {
		HandleError(c, err)
		return
	}

	Success(c, order)
}

// AddApprover 添加审批人
func (h *ChangeOrderHandler) AddApprover(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		BadRequest(c, "change order ID is required")
		return
	}

	var req struct {
		ApproverID string `json:"approver_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	order, err := h.svc.AddApprover(c.Request.Context(), id, GetUserID(c), req.ApproverID)
	if err != nil {
		HandleError(c, err)
		return
	}

	Success(c, order)
}

// RemoveApprover 移除审批人
func (h *ChangeOrderHandler) RemoveApprover(c *gin.Context) {
	id := c.Param("id")
	approverID := c.Param("approver_id")
	if id == "" || approverID == "" {
		BadRequest(c, "change order ID and approver ID are required")
		return
	}

	order, err := h.svc.RemoveApprover(c.Request.Context(), id, GetUserID(c), approverID)
	if err != nil {
		HandleError(c, err)
		return
	}

	Success(c, order)
}

// Implement 实施变更
func (h *ChangeOrderHandler) Implement(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		BadRequest(c, "change order ID is required")
		return
	}

	var req struct {
		RevisionID *string `json:"revision_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	order, err := h.svc.Implement(c.Request.Context(), id, GetUserID(c), req.RevisionID)
	if err != nil {
		HandleError(c, err)
		return
	}

	Success(c, order)
}

// GetAuditTrail 获取审计轨迹
func (h *ChangeOrderHandler) GetAuditTrail(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		BadRequest(c, "change order ID is required")
		return
	}

	entries, err := h.svc.GetAuditTrail(c.Request.Context(), id)
	if err != nil {
		HandleError(c, err)
		return
	}

	Success(c, entries)
}

// GetImpactAnalysis 影响分析
func (h *ChangeOrderHandler) GetImpactAnalysis(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		BadRequest(c, "change order ID is required")
		return
	}

	result, err := h.svc.PerformImpactAnalysis(c.Request.Context(), id)
	if err != nil {
		HandleError(c, err)
		return
	}

	Success(c, result)
}

// GetStatistics 项目维度统计
func (h *ChangeOrderHandler) GetStatistics(c *gin.Context) {
	projectID := c.Query("project_id")
	if projectID == "" {
		BadRequest(c, "project_id is required")
		return
	}

	stats, err := h.svc.GetProjectStatistics(c.Request.Context(), projectID)
	if err != nil {
		HandleError(c, err)
		return
	}

	Success(c, stats)
}
