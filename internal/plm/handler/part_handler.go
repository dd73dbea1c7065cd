package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/holee9/plm-system-web-sub001/internal/plm/service"
)

// PartHandler 零件处理器
type PartHandler struct {
	svc *service.PartService
}

// NewPartHandler 创建零件处理器
func NewPartHandler(svc *service.PartService) *PartHandler {
	return &PartHandler{svc: svc}
}

// Create 创建零件
func (h *PartHandler) Create(c *gin.Context) {
	var req service.CreatePartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	part, err := h.svc.Create(c.Request.Context(), GetUserID(c), &req)
	if err != nil {
		HandleError(c, err)
		return
	}

	Created(c, part)
}

// Get 获取零件详情
func (h *PartHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		BadRequest(c, "part ID is required")
		return
	}

	part, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		HandleError(c, err)
		return
	}

	Success(c, part)
}

// Update 更新零件，有实际变更时自动生成新修订
func (h *PartHandler) Update(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		BadRequest(c, "part ID is required")
		return
	}

	var req service.UpdatePartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	part, err := h.svc.Update(c.Request.Context(), id, GetUserID(c), &req)
	if err != nil {
		HandleError(c, err)
		return
	}

	Success(c, part)
}

// List 获取零件列表
func (h *PartHandler) List(c *gin.Context) {
	projectID := c.Query("project_id")
	if projectID == "" {
		BadRequest(c, "project_id is required")
		return
	}

	page, pageSize := GetPagination(c)
	filters := map[string]interface{}{
		"status":   c.Query("status"),
		"category": c.Query("category"),
		"keyword":  c.Query("keyword"),
	}

	result, err := h.svc.List(c.Request.Context(), projectID, page, pageSize, filters)
	if err != nil {
		HandleError(c, err)
		return
	}

	Success(c, result)
}

// Search 零件搜索
func (h *PartHandler) Search(c *gin.Context) {
	projectID := c.Query("project_id")
	if projectID == "" {
		BadRequest(c, "project_id is required")
		return
	}

	query := c.Query("q")
	limit := 20
	if l := c.Query("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 100 {
			limit = v
		}
	}

	parts, err := h.svc.Search(c.Request.Context(), projectID, query, limit)
	if err != nil {
		HandleError(c, err)
		return
	}

	Success(c, parts)
}

// GetRevisions 获取零件修订历史
func (h *PartHandler) GetRevisions(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		BadRequest(c, "part ID is required")
		return
	}

	revisions, err := h.svc.GetRevisionHistory(c.Request.Context(), id)
	if err != nil {
		HandleError(c, err)
		return
	}

	Success(c, revisions)
}
