package entity

import (
	"time"
)

// Part 零件
type Part struct {
	ID          string    `json:"id" gorm:"primaryKey;size:32"`
	ProjectID   string    `json:"project_id" gorm:"size:32;not null;uniqueIndex:idx_parts_project_number"`
	PartNumber  string    `json:"part_number" gorm:"size:50;not null;uniqueIndex:idx_parts_project_number"`
	Name        string    `json:"name" gorm:"size:255;not null"`
	Description string    `json:"description,omitempty" gorm:"type:text"`
	Category    string    `json:"category,omitempty" gorm:"size:64"`
	Status      string    `json:"status" gorm:"size:16;not null;default:draft"`
	CreatedBy   string    `json:"created_by" gorm:"size:32;not null"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// 关联
	Project   *Project       `json:"project,omitempty" gorm:"foreignKey:ProjectID"`
	Creator   *User          `json:"creator,omitempty" gorm:"foreignKey:CreatedBy"`
	Revisions []PartRevision `json:"revisions,omitempty" gorm:"foreignKey:PartID"`
}

func (Part) TableName() string {
	return "parts"
}

// PartRevision 零件修订（不可变，只追加）
type PartRevision struct {
	ID           string    `json:"id" gorm:"primaryKey;size:32"`
	PartID       string    `json:"part_id" gorm:"size:32;not null;uniqueIndex:idx_revisions_part_code"`
	RevisionCode string    `json:"revision_code" gorm:"size:8;not null;uniqueIndex:idx_revisions_part_code"`
	Description  string    `json:"description" gorm:"type:text"`
	Changes      JSONB     `json:"changes,omitempty" gorm:"type:jsonb"`
	CreatedBy    string    `json:"created_by" gorm:"size:32;not null"`
	CreatedAt    time.Time `json:"created_at"`

	// 关联
	Part    *Part `json:"part,omitempty" gorm:"foreignKey:PartID"`
	Creator *User `json:"creator,omitempty" gorm:"foreignKey:CreatedBy"`
}

func (PartRevision) TableName() string {
	return "part_revisions"
}

// 零件状态
const (
	PartStatusDraft    = "draft"
	PartStatusActive   = "active"
	PartStatusObsolete = "obsolete"
)

// partStatusTransitions 零件状态允许的流转
var partStatusTransitions = map[string][]string{
	PartStatusDraft:    {PartStatusActive, PartStatusObsolete},
	PartStatusActive:   {PartStatusObsolete},
	PartStatusObsolete: {},
}

// CanTransitionPartStatus 检查零件状态流转是否允许
func CanTransitionPartStatus(from, to string) bool {
	for _, allowed := range partStatusTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsValidPartStatus 检查零件状态取值是否合法
func IsValidPartStatus(status string) bool {
	switch status {
	case PartStatusDraft, PartStatusActive, PartStatusObsolete:
		return true
	}
	return false
}
