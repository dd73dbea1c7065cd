package repository

import (
	"context"
	"errors"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/holee9/plm-system-web-sub001/internal/plm/apperror"
	"github.com/holee9/plm-system-web-sub001/internal/plm/bomgraph"
	"github.com/holee9/plm-system-web-sub001/internal/plm/entity"
)

// BOMRepository BOM边仓储
type BOMRepository struct {
	db *gorm.DB
}

// NewBOMRepository 创建BOM仓储
func NewBOMRepository(db *gorm.DB) *BOMRepository {
	return &BOMRepository{db: db}
}

// GetItem 根据ID查找BOM边
func (r *BOMRepository) GetItem(ctx context.Context, id string) (*entity.BOMItem, error) {
	var item entity.BOMItem
	err := r.db.WithContext(ctx).
		Preload("Parent").
		Preload("Child").
		Where("id = ?", id).
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

// ListByProject 获取项目的全部BOM边。
// position相同的兄弟按创建顺序稳定排列。
func (r *BOMRepository) ListByProject(ctx context.Context, projectID string) ([]entity.BOMItem, error) {
	var items []entity.BOMItem
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("position ASC, created_at ASC, id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// ListByParent 获取某父件的直接子边
func (r *BOMRepository) ListByParent(ctx context.Context, parentID string) ([]entity.BOMItem, error) {
	var items []entity.BOMItem
	err := r.db.WithContext(ctx).
		Preload("Child").
		Where("parent_id = ?", parentID).
		Order("position ASC, created_at ASC, id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// WhereUsed 反查：partID作为子件出现的全部边
func (r *BOMRepository) WhereUsed(ctx context.Context, partID string) ([]entity.BOMItem, error) {
	var items []entity.BOMItem
	err := r.db.WithContext(ctx).
		Preload("Parent").
		Where("child_id = ?", partID).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// CreateItem 在事务内插入BOM边并做环检查。
//
// 并发约束：两条并发插入合起来成环时不允许都成功。仅锁父、子零件行
// 不够——成环的两条边可以四个端点互不相交（已有B→C、D→A时并发插入
// A→B与C→D）。因此在读取边集前先对项目行加FOR UPDATE锁，同一项目的
// 边插入彻底串行，后到的事务必然读到先提交的边。零件行仍按ID升序
// 加锁用于存在性校验。autoPosition为真时在锁内取同级最大position+1。
func (r *BOMRepository) CreateItem(ctx context.Context, item *entity.BOMItem, autoPosition bool) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lockIDs := []string{item.ParentID, item.ChildID}
		sort.Strings(lockIDs)

		var locked []entity.Part
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id IN ?", lockIDs).
			Order("id ASC").
			Find(&locked).Error; err != nil {
			return err
		}
		byID := make(map[string]*entity.Part, len(locked))
		for i := range locked {
			byID[locked[i].ID] = &locked[i]
		}
		parent, ok := byID[item.ParentID]
		if !ok {
			return apperror.NotFound("part", item.ParentID)
		}
		if _, ok := byID[item.ChildID]; !ok {
			return apperror.NotFound("part", item.ChildID)
		}
		item.ProjectID = parent.ProjectID

		// 项目行锁串行化本项目的边插入
		var project entity.Project
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", parent.ProjectID).
			First(&project).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperror.NotFound("project", parent.ProjectID)
			}
			return err
		}

		var existing []entity.BOMItem
		if err := tx.Where("project_id = ?", parent.ProjectID).
			Find(&existing).Error; err != nil {
			return err
		}
		edges := make([]bomgraph.Edge, 0, len(existing))
		for _, e := range existing {
			edges = append(edges, bomgraph.Edge{ParentID: e.ParentID, ChildID: e.ChildID})
		}
		if bomgraph.DetectCycle(edges, item.ParentID, item.ChildID) {
			return apperror.Cyclef("adding %s under %s would create a cycle", item.ChildID, item.ParentID)
		}

		if autoPosition {
			maxPos := 0
			for _, e := range existing {
				if e.ParentID == item.ParentID && e.Position > maxPos {
					maxPos = e.Position
				}
			}
			item.Position = maxPos + 1
		}

		now := time.Now()
		item.CreatedAt = now
		item.UpdatedAt = now
		return tx.Create(item).Error
	})
}

// UpdateItem 更新BOM边
func (r *BOMRepository) UpdateItem(ctx context.Context, item *entity.BOMItem) error {
	item.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Save(item).Error
}

// DeleteItem 删除BOM边
func (r *BOMRepository) DeleteItem(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&entity.BOMItem{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
