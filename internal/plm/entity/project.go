package entity

import (
	"time"
)

// Project 项目（零件与变更单的归属范围）
type Project struct {
	ID          string    `json:"id" gorm:"primaryKey;size:32"`
	Code        string    `json:"code" gorm:"size:64;not null;uniqueIndex"`
	Name        string    `json:"name" gorm:"size:128;not null"`
	Description string    `json:"description,omitempty" gorm:"type:text"`
	Status      string    `json:"status" gorm:"size:16;not null;default:active"`
	CreatedBy   string    `json:"created_by" gorm:"size:32"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Project) TableName() string {
	return "projects"
}

// 项目状态
const (
	ProjectStatusActive   = "active"
	ProjectStatusArchived = "archived"
)
