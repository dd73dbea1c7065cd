package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/holee9/plm-system-web-sub001/internal/plm/entity"
)

// UserRepository 用户仓储（外部用户体系的只读投影）
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository 创建用户仓储
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID 根据ID查找用户
func (r *UserRepository) FindByID(ctx context.Context, id string) (*entity.User, error) {
	var user entity.User
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// FindByIDs 批量查找用户，返回存在的记录
func (r *UserRepository) FindByIDs(ctx context.Context, ids []string) ([]entity.User, error) {
	var users []entity.User
	if len(ids) == 0 {
		return users, nil
	}
	err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}
