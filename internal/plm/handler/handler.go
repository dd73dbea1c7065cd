package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/holee9/plm-system-web-sub001/internal/plm/apperror"
	"github.com/holee9/plm-system-web-sub001/internal/plm/service"
)

// Handlers 处理器集合
type Handlers struct {
	Part        *PartHandler
	BOM         *BOMHandler
	ChangeOrder *ChangeOrderHandler
}

// NewHandlers 创建处理器集合
func NewHandlers(svc *service.Services) *Handlers {
	return &Handlers{
		Part:        NewPartHandler(svc.Part),
		BOM:         NewBOMHandler(svc.BOM),
		ChangeOrder: NewChangeOrderHandler(svc.ChangeOrder),
	}
}

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(200, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Created 创建成功响应
func Created(c *gin.Context, data interface{}) {
	c.JSON(201, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Error 错误响应
func Error(c *gin.Context, code int, message string) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = 500
	}
	c.JSON(statusCode, Response{
		Code:    code,
		Message: message,
	})
}

// BadRequest 参数错误响应
func BadRequest(c *gin.Context, message string) {
	Error(c, 40000, message)
}

// Forbidden 禁止访问响应
func Forbidden(c *gin.Context, message string) {
	Error(c, 40300, message)
}

// NotFound 资源不存在响应
func NotFound(c *gin.Context, message string) {
	Error(c, 40400, message)
}

// Conflict 状态冲突响应
func Conflict(c *gin.Context, message string) {
	Error(c, 40900, message)
}

// InternalError 服务器错误响应
func InternalError(c *gin.Context, message string) {
	Error(c, 50000, message)
}

// HandleError 按错误类别映射响应
func HandleError(c *gin.Context, err error) {
	var (
		validationErr *apperror.ValidationError
		notFoundErr   *apperror.NotFoundError
		accessErr     *apperror.AccessError
		cycleErr      *apperror.CycleError
		stateErr      *apperror.StateError
	)
	switch {
	case errors.As(err, &validationErr):
		BadRequest(c, validationErr.Message)
	case errors.As(err, &notFoundErr):
		NotFound(c, notFoundErr.Error())
	case errors.As(err, &accessErr):
		Forbidden(c, accessErr.Message)
	case errors.As(err, &cycleErr):
		Conflict(c, cycleErr.Message)
	case errors.As(err, &stateErr):
		Conflict(c, stateErr.Message)
	default:
		InternalError(c, err.Error())
	}
}

// GetUserID 从上下文获取用户ID
func GetUserID(c *gin.Context) string {
	userID, _ := c.Get("user_id")
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}

// GetPagination 从请求获取分页参数
func GetPagination(c *gin.Context) (page, pageSize int) {
	page = 1
	pageSize = 20

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}

	if ps := c.Query("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
			pageSize = v
		}
	}

	return page, pageSize
}
