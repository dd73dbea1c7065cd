package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/holee9/plm-system-web-sub001/internal/plm/entity"
	"github.com/holee9/plm-system-web-sub001/internal/plm/revision"
)

// PartRepository 零件仓储
type PartRepository struct {
	db *gorm.DB
}

// NewPartRepository 创建零件仓储
func NewPartRepository(db *gorm.DB) *PartRepository {
	return &PartRepository{db: db}
}

// FindByID 根据ID查找零件
func (r *PartRepository) FindByID(ctx context.Context, id string) (*entity.Part, error) {
	var part entity.Part
	err := r.db.WithContext(ctx).
		Preload("Creator").
		Where("id = ?", id).
		First(&part).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &part, nil
}

// FindByNumber 按 (项目, 零件号) 查找
func (r *PartRepository) FindByNumber(ctx context.Context, projectID, partNumber string) (*entity.Part, error) {
	var part entity.Part
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND part_number = ?", projectID, partNumber).
		First(&part).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &part, nil
}

// List 获取零件列表
func (r *PartRepository) List(ctx context.Context, projectID string, page, pageSize int, filters map[string]interface{}) ([]entity.Part, int64, error) {
	var parts []entity.Part
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.Part{}).Where("project_id = ?", projectID)

	if status, ok := filters["status"].(string); ok && status != "" {
		query = query.Where("status = ?", status)
	}
	if category, ok := filters["category"].(string); ok && category != "" {
		query = query.Where("category = ?", category)
	}
	if keyword, ok := filters["keyword"].(string); ok && keyword != "" {
		query = query.Where("part_number ILIKE ? OR name ILIKE ?", "%"+keyword+"%", "%"+keyword+"%")
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Order("part_number ASC").
		Offset(offset).
		Limit(pageSize).
		Find(&parts).Error
	if err != nil {
		return nil, 0, err
	}

	return parts, total, nil
}

// ListByProject 获取项目的全部零件
func (r *PartRepository) ListByProject(ctx context.Context, projectID string) ([]entity.Part, error) {
	var parts []entity.Part
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Find(&parts).Error
	if err != nil {
		return nil, err
	}
	return parts, nil
}

// ListByIDs 批量查找零件
func (r *PartRepository) ListByIDs(ctx context.Context, ids []string) ([]entity.Part, error) {
	var parts []entity.Part
	if len(ids) == 0 {
		return parts, nil
	}
	err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&parts).Error
	if err != nil {
		return nil, err
	}
	return parts, nil
}

// Search 按零件号/名称搜索
func (r *PartRepository) Search(ctx context.Context, projectID, query string, limit int) ([]entity.Part, error) {
	var parts []entity.Part
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Where("part_number ILIKE ? OR name ILIKE ?", "%"+query+"%", "%"+query+"%").
		Order("part_number ASC").
		Limit(limit).
		Find(&parts).Error
	if err != nil {
		return nil, err
	}
	return parts, nil
}

// CreateWithInitialRevision 创建零件并在同一事务内写入首个修订
func (r *PartRepository) CreateWithInitialRevision(ctx context.Context, part *entity.Part, rev *entity.PartRevision) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(part).Error; err != nil {
			return err
		}
		return tx.Create(rev).Error
	})
}

// UpdateWithRevision 在零件行锁下执行变更并生成新修订。
//
// mutate 在锁内收到最新零件记录，按输入计算字段级diff并就地修改零件，
// 返回 (changes, 修订说明)。changes为空表示无实际变化，不写入任何记录。
// 修订号由锁内读到的最新修订计算 next，保证同一零件的并发更新不会撞号。
func (r *PartRepository) UpdateWithRevision(ctx context.Context, partID, actorID string, mutate func(part *entity.Part) (entity.JSONB, string, error)) (*entity.Part, error) {
	var result *entity.Part

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var part entity.Part
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", partID).
			First(&part).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		changes, description, err := mutate(&part)
		if err != nil {
			return err
		}
		if len(changes) == 0 {
			result = &part
			return nil
		}

		currentCode, err := r.latestRevisionCode(tx, partID)
		if err != nil {
			return err
		}
		nextCode, err := revision.Next(currentCode)
		if err != nil {
			return err
		}

		now := time.Now()
		rev := &entity.PartRevision{
			ID:           uuid.New().String()[:32],
			PartID:       partID,
			RevisionCode: nextCode,
			Description:  description,
			Changes:      changes,
			CreatedBy:    actorID,
			CreatedAt:    now,
		}
		if err := tx.Create(rev).Error; err != nil {
			return err
		}

		part.UpdatedAt = now
		if err := tx.Save(&part).Error; err != nil {
			return err
		}

		result = &part
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// latestRevisionCode 读取零件当前最新修订号。
// 按长度优先再字典序排序，与base-26顺序一致。
func (r *PartRepository) latestRevisionCode(tx *gorm.DB, partID string) (string, error) {
	var rev entity.PartRevision
	err := tx.Where("part_id = ?", partID).
		Order("length(revision_code) DESC, revision_code DESC").
		First(&rev).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return rev.RevisionCode, nil
}

// ListRevisions 获取零件修订历史，按创建顺序（亦即修订号顺序）
func (r *PartRepository) ListRevisions(ctx context.Context, partID string) ([]entity.PartRevision, error) {
	var revisions []entity.PartRevision
	err := r.db.WithContext(ctx).
		Preload("Creator").
		Where("part_id = ?", partID).
		Order("length(revision_code) ASC, revision_code ASC").
		Find(&revisions).Error
	if err != nil {
		return nil, err
	}
	return revisions, nil
}
