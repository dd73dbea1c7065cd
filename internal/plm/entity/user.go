package entity

import (
	"time"
)

// User 用户（外部用户体系的本地投影，核心只读）
type User struct {
	ID        string    `json:"id" gorm:"primaryKey;size:32"`
	Username  string    `json:"username" gorm:"size:64;not null;uniqueIndex"`
	Name      string    `json:"name" gorm:"size:128;not null"`
	Email     string    `json:"email" gorm:"size:128"`
	Status    string    `json:"status" gorm:"size:16;not null;default:active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// 用户状态
const (
	UserStatusActive   = "active"
	UserStatusInactive = "inactive"
)
