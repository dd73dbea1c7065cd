package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/holee9/plm-system-web-sub001/internal/plm/apperror"
	"github.com/holee9/plm-system-web-sub001/internal/plm/bomgraph"
	"github.com/holee9/plm-system-web-sub001/internal/plm/entity"
	"github.com/holee9/plm-system-web-sub001/internal/plm/repository"
)

// BOMService BOM结构服务
type BOMService struct {
	bomRepo  *repository.BOMRepository
	partRepo *repository.PartRepository
}

// NewBOMService 创建BOM服务
func NewBOMService(bomRepo *repository.BOMRepository, partRepo *repository.PartRepository) *BOMService {
	return &BOMService{
		bomRepo:  bomRepo,
		partRepo: partRepo,
	}
}

// AddBOMItemRequest 添加BOM边请求
type AddBOMItemRequest struct {
	ParentID string `json:"parent_id" binding:"required"`
	ChildID  string `json:"child_id" binding:"required"`
	Quantity string `json:"quantity" binding:"required"`
	Unit     string `json:"unit"`
	Position *int   `json:"position"`
	Notes    string `json:"notes"`
}

// UpdateBOMItemRequest 更新BOM边请求
type UpdateBOMItemRequest struct {
	Quantity *string `json:"quantity"`
	Unit     *string `json:"unit"`
	Notes    *string `json:"notes"`
}

// WhereUsedEntry 反查结果行（按父件去重）
type WhereUsedEntry struct {
	PartID     string `json:"part_id"`
	PartNumber string `json:"part_number"`
	Name       string `json:"name"`
	Quantity   string `json:"quantity"`
	Unit       string `json:"unit"`
}

// validateQuantity 数量必须是非负十进制数，在边创建/更新时校验
func validateQuantity(qty string) error {
	d, err := decimal.NewFromString(qty)
	if err != nil {
		return apperror.Validationf("invalid quantity %q", qty)
	}
	if d.IsNegative() {
		return apperror.Validationf("quantity must not be negative, got %s", qty)
	}
	return nil
}

// AddItem 添加BOM边。环检查与position分配在插入事务内完成。
func (s *BOMService) AddItem(ctx context.Context, userID string, req *AddBOMItemRequest) (*entity.BOMItem, error) {
	if req.ParentID == req.ChildID {
		return nil, apperror.Cyclef("part cannot contain itself")
	}
	if err := validateQuantity(req.Quantity); err != nil {
		return nil, err
	}

	unit := req.Unit
	if unit == "" {
		unit = entity.DefaultBOMUnit
	}

	item := &entity.BOMItem{
		ID:        uuid.New().String()[:32],
		ParentID:  req.ParentID,
		ChildID:   req.ChildID,
		Quantity:  req.Quantity,
		Unit:      unit,
		Notes:     req.Notes,
		CreatedBy: userID,
	}
	autoPosition := req.Position == nil
	if !autoPosition {
		item.Position = *req.Position
	}

	if err := s.bomRepo.CreateItem(ctx, item, autoPosition); err != nil {
		return nil, err
	}
	return item, nil
}

// UpdateItem 更新BOM边的数量/单位/备注
func (s *BOMService) UpdateItem(ctx context.Context, id, userID string, req *UpdateBOMItemRequest) (*entity.BOMItem, error) {
	item, err := s.bomRepo.GetItem(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.NotFound("BOM item", id)
		}
		return nil, fmt.Errorf("find BOM item: %w", err)
	}

	if req.Quantity != nil {
		if err := validateQuantity(*req.Quantity); err != nil {
			return nil, err
		}
		item.Quantity = *req.Quantity
	}
	if req.Unit != nil && *req.Unit != "" {
		item.Unit = *req.Unit
	}
	if req.Notes != nil {
		item.Notes = *req.Notes
	}

	if err := s.bomRepo.UpdateItem(ctx, item); err != nil {
		return nil, fmt.Errorf("update BOM item: %w", err)
	}
	return item, nil
}

// RemoveItem 删除BOM边
func (s *BOMService) RemoveItem(ctx context.Context, id string) error {
	if err := s.bomRepo.DeleteItem(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperror.NotFound("BOM item", id)
		}
		return fmt.Errorf("delete BOM item: %w", err)
	}
	return nil
}

// GetTree 构建以rootID为根的BOM树
func (s *BOMService) GetTree(ctx context.Context, rootID string) (*bomgraph.TreeNode, error) {
	parts, edges, err := s.loadGraph(ctx, rootID)
	if err != nil {
		return nil, err
	}
	return bomgraph.BuildTree(rootID, parts, edges, bomgraph.DefaultMaxDepth)
}

// GetWhereUsed 反查零件的直接父件，按父件去重
func (s *BOMService) GetWhereUsed(ctx context.Context, partID string) ([]WhereUsedEntry, error) {
	if _, err := s.partRepo.FindByID(ctx, partID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.NotFound("part", partID)
		}
		return nil, fmt.Errorf("find part: %w", err)
	}

	items, err := s.bomRepo.WhereUsed(ctx, partID)
	if err != nil {
		return nil, fmt.Errorf("where used: %w", err)
	}

	seen := make(map[string]bool, len(items))
	entries := make([]WhereUsedEntry, 0, len(items))
	for _, item := range items {
		if seen[item.ParentID] {
			continue
		}
		seen[item.ParentID] = true
		entry := WhereUsedEntry{
			PartID:   item.ParentID,
			Quantity: item.Quantity,
			Unit:     item.Unit,
		}
		if item.Parent != nil {
			entry.PartNumber = item.Parent.PartNumber
			entry.Name = item.Parent.Name
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// RollUpQuantity 汇总rootID的BOM树中targetID的总用量
// （菱形结构按路径乘积相加）
func (s *BOMService) RollUpQuantity(ctx context.Context, rootID, targetID string) (string, error) {
	tree, err := s.GetTree(ctx, rootID)
	if err != nil {
		return "", err
	}
	return bomgraph.TotalQuantity(tree, targetID)
}

// ValidateBOM 不抛错校验：收集缺件、超深、环等全部问题
func (s *BOMService) ValidateBOM(ctx context.Context, rootID string) (*bomgraph.ValidationResult, error) {
	parts, edges, err := s.loadGraph(ctx, rootID)
	if err != nil {
		return nil, err
	}
	result := bomgraph.Validate(rootID, parts, edges, bomgraph.DefaultMaxDepth)
	return &result, nil
}

// ExportBOM 将展平的BOM树导出为xlsx
func (s *BOMService) ExportBOM(ctx context.Context, rootID string) (*excelize.File, string, error) {
	tree, err := s.GetTree(ctx, rootID)
	if err != nil {
		return nil, "", err
	}
	flat := bomgraph.Flatten(tree)

	f := excelize.NewFile()
	sheet := "BOM"
	f.SetSheetName("Sheet1", sheet)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})

	headers := []string{"Level", "Part Number", "Name", "Quantity", "Unit", "Path"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, h)
		f.SetCellStyle(sheet, cell, cell, headerStyle)
	}

	for row, item := range flat {
		values := []interface{}{item.Level, item.PartNumber, item.Name, item.Quantity, item.Unit, item.Path}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			f.SetCellValue(sheet, cell, v)
		}
	}

	f.SetColWidth(sheet, "B", "C", 24)
	f.SetColWidth(sheet, "F", "F", 48)

	filename := fmt.Sprintf("bom_%s_%s.xlsx", tree.PartNumber, time.Now().Format("20060102"))
	return f, filename, nil
}

// loadGraph 加载根零件所在项目的零件摘要与边集合
func (s *BOMService) loadGraph(ctx context.Context, rootID string) (map[string]bomgraph.PartRef, []bomgraph.Edge, error) {
	root, err := s.partRepo.FindByID(ctx, rootID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, apperror.NotFound("part", rootID)
		}
		return nil, nil, fmt.Errorf("find part: %w", err)
	}

	parts, err := s.partRepo.ListByProject(ctx, root.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("list parts: %w", err)
	}
	refs := make(map[string]bomgraph.PartRef, len(parts))
	for _, p := range parts {
		refs[p.ID] = bomgraph.PartRef{ID: p.ID, PartNumber: p.PartNumber, Name: p.Name}
	}

	items, err := s.bomRepo.ListByProject(ctx, root.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("list BOM items: %w", err)
	}
	edges := make([]bomgraph.Edge, 0, len(items))
	for _, item := range items {
		edges = append(edges, bomgraph.Edge{
			ID:       item.ID,
			ParentID: item.ParentID,
			ChildID:  item.ChildID,
			Quantity: item.Quantity,
			Unit:     item.Unit,
			Position: item.Position,
			Notes:    item.Notes,
		})
	}
	return refs, edges, nil
}
