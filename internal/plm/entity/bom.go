package entity

import (
	"time"
)

// BOMItem BOM边：父零件包含子零件
//
// 边集合构成以零件ID为节点的有向图，必须保持无环。
// Quantity 以字符串承载十进制数量，计算时用精确十进制运算。
type BOMItem struct {
	ID        string    `json:"id" gorm:"primaryKey;size:32"`
	ProjectID string    `json:"project_id" gorm:"size:32;not null;index"`
	ParentID  string    `json:"parent_id" gorm:"size:32;not null;index"`
	ChildID   string    `json:"child_id" gorm:"size:32;not null;index"`
	Quantity  string    `json:"quantity" gorm:"type:numeric(18,6);not null"`
	Unit      string    `json:"unit" gorm:"size:16;not null;default:EA"`
	Position  int       `json:"position" gorm:"not null;default:0"`
	Notes     string    `json:"notes,omitempty" gorm:"type:text"`
	CreatedBy string    `json:"created_by" gorm:"size:32;not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// 关联
	Parent *Part `json:"parent,omitempty" gorm:"foreignKey:ParentID"`
	Child  *Part `json:"child,omitempty" gorm:"foreignKey:ChildID"`
}

func (BOMItem) TableName() string {
	return "bom_items"
}

// DefaultBOMUnit 默认计量单位
const DefaultBOMUnit = "EA"
