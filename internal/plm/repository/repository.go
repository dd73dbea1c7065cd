package repository

import (
	"errors"

	"gorm.io/gorm"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// Repositories 仓储集合
type Repositories struct {
	User        *UserRepository
	Project     *ProjectRepository
	Part        *PartRepository
	BOM         *BOMRepository
	ChangeOrder *ChangeOrderRepository
}

// NewRepositories 创建仓储集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:        NewUserRepository(db),
		Project:     NewProjectRepository(db),
		Part:        NewPartRepository(db),
		BOM:         NewBOMRepository(db),
		ChangeOrder: NewChangeOrderRepository(db),
	}
}
