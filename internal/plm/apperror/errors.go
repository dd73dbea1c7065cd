// Package apperror 定义核心操作对外暴露的错误类别。
//
// 服务层与仓储层返回这些类型，API层用 errors.As 匹配后映射到HTTP状态码。
package apperror

import (
	"fmt"
)

// ValidationError 输入不合法（格式、长度、取值范围）
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Validationf 创建校验错误
func Validationf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// NotFoundError 引用的实体不存在
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// NotFound 创建实体不存在错误
func NotFound(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// AccessError 操作者与实体不具备所需关系（非发起人、非审批人）
type AccessError struct {
	Message string
}

func (e *AccessError) Error() string {
	return e.Message
}

// Accessf 创建权限错误
func Accessf(format string, args ...interface{}) *AccessError {
	return &AccessError{Message: fmt.Sprintf(format, args...)}
}

// CycleError BOM变更会引入环，或遍历时在既有数据中发现环
type CycleError struct {
	Message string
}

func (e *CycleError) Error() string {
	return e.Message
}

// Cyclef 创建环错误
func Cyclef(format string, args ...interface{}) *CycleError {
	return &CycleError{Message: fmt.Sprintf(format, args...)}
}

// StateError 当前状态不允许该操作
type StateError struct {
	Message string
}

func (e *StateError) Error() string {
	return e.Message
}

// Statef 创建状态错误
func Statef(format string, args ...interface{}) *StateError {
	return &StateError{Message: fmt.Sprintf(format, args...)}
}

// InvalidTransition 创建携带当前/目标状态的状态机错误
func InvalidTransition(from, to string) *StateError {
	return &StateError{Message: fmt.Sprintf("invalid status transition from %q to %q", from, to)}
}
