package service

import (
	"github.com/redis/go-redis/v9"

	"github.com/holee9/plm-system-web-sub001/internal/plm/repository"
)

// Services 服务集合
type Services struct {
	Part        *PartService
	BOM         *BOMService
	ChangeOrder *ChangeOrderService
}

// NewServices 创建服务集合
func NewServices(repos *repository.Repositories, rdb *redis.Client) *Services {
	bomSvc := NewBOMService(repos.BOM, repos.Part)
	return &Services{
		Part:        NewPartService(repos.Part, repos.Project, rdb),
		BOM:         bomSvc,
		ChangeOrder: NewChangeOrderService(repos.ChangeOrder, repos.Part, repos.Project, repos.User, repos.BOM, rdb),
	}
}
