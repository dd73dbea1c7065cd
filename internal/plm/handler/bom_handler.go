package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/holee9/plm-system-web-sub001/internal/plm/service"
)

// BOMHandler BOM处理器
type BOMHandler struct {
	svc *service.BOMService
}

// NewBOMHandler 创建BOM处理器
func NewBOMHandler(svc *service.BOMService) *BOMHandler {
	return &BOMHandler{svc: svc}
}

// AddItem 添加BOM行
func (h *BOMHandler) AddItem(c *gin.Context) {
	var req service.AddBOMItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	item, err := h.svc.AddItem(c.Request.Context(), GetUserID(c), &req)
	if err != nil {
		HandleError(c, err)
		return
	}

	Created(c, item)
}

// UpdateItem 更新BOM行
func (h *BOMHandler) UpdateItem(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		BadRequest(c, "BOM item ID is required")
		return
	}

	var req service.UpdateBOMItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	item, err := h.svc.UpdateItem(c.Request.Context(), id, GetUserID(c), &req)
	if err != nil {
		HandleError(c, err)
		return
	}

	Success(c, item)
}

// RemoveItem 删除BOM行
func (h *BOMHandler) RemoveItem(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		BadRequest(c, "BOM item ID is required")
		return
	}

	if err := h.svc.RemoveItem(c.Request.Context(), id); err != nil {
		HandleError(c, err)
		return
	}

	Success(c, nil)
}

// GetTree 获取BOM树
func (h *BOMHandler) GetTree(c *gin.Context) {
	rootID := c.Param("id")
	if rootID == "" {
		BadRequest(c, "part ID is required")
		return
	}

	tree, err := h.svc.GetTree(c.Request.Context(), rootID)
	if err != nil {
		HandleError(c, err)
		return
	}

	Success(c, tree)
}

// GetWhereUsed 零件反查
func (h *BOMHandler) GetWhereUsed(c *gin.Context) {
	partID := c.Param("id")
	if partID == "" {
		BadRequest(c, "part ID is required")
		return
	}

	entries, err := h.svc.GetWhereUsed(c.Request.Context(), partID)
	if err != nil {
		HandleError(c, err)
		return
	}

	Success(c, entries)
}

// RollUp 数量汇总：根到目标零件的总用量
func (h *BOMHandler) RollUp(c *gin.Context) {
	rootID := c.Param("id")
	targetID := c.Query("target_id")
	if rootID == "" || targetID == "" {
		BadRequest(c, "part ID and target_id are required")
		return
	}

	total, err := h.svc.RollUpQuantity(c.Request.Context(), rootID, targetID)
	if err != nil {
		HandleError(c, err)
		return
	}

	Success(c, gin.H{
		"root_id":        rootID,
		"target_id":      targetID,
		"total_quantity": total,
	})
}

// Validate 校验BOM结构
func (h *BOMHandler) Validate(c *gin.Context) {
	rootID := c.Param("id")
	if rootID == "" {
		BadRequest(c, "part ID is required")
		return
	}

	result, err := h.svc.ValidateBOM(c.Request.Context(), rootID)
	if err != nil {
		HandleError(c, err)
		return
	}

	Success(c, result)
}

// Export 导出BOM为Excel
func (h *BOMHandler) Export(c *gin.Context) {
	rootID := c.Param("id")
	if rootID == "" {
		BadRequest(c, "part ID is required")
		return
	}

	f, filename, err := h.svc.ExportBOM(c.Request.Context(), rootID)
	if err != nil {
		HandleError(c, err)
		return
	}
	defer f.Close()

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Status(http.StatusOK)

	if err := f.Write(c.Writer); err != nil {
		InternalError(c, "failed to write export: "+err.Error())
	}
}
