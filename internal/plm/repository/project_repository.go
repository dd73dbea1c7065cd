package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/holee9/plm-system-web-sub001/internal/plm/entity"
)

// ProjectRepository 项目仓储
type ProjectRepository struct {
	db *gorm.DB
}

// NewProjectRepository 创建项目仓储
func NewProjectRepository(db *gorm.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// FindByID 根据ID查找项目
func (r *ProjectRepository) FindByID(ctx context.Context, id string) (*entity.Project, error) {
	var project entity.Project
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&project).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &project, nil
}

// Create 创建项目
func (r *ProjectRepository) Create(ctx context.Context, project *entity.Project) error {
	return r.db.WithContext(ctx).Create(project).Error
}
