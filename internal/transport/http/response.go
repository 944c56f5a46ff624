package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"keyledger/backend/internal/middleware"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`            // HTTP 状态码
	Msg     string      `json:"msg"`             // 中文提示信息
	Success bool        `json:"success"`         // 是否成功
	Error   string      `json:"error,omitempty"` // 错误码，成功时为空
	Data    interface{} `json:"data,omitempty"`  // 数据载荷
}

// 业务状态码定义
const (
	CodeSuccess = 200 // 成功

	CodeBadRequest      = 400 // 请求参数错误
	CodeUnauthorized    = 401 // 未认证
	CodePaymentRequired = 402 // 余额不足
	CodeNotFound        = 404 // 资源不存在
	CodeConflict        = 409 // 资源冲突

	CodeInternalError = 500 // 服务器内部错误
)

// Success 成功响应（200）
func Success(c *gin.Context, data interface{}) {
	SuccessWithMsg(c, "成功", data)
}

// SuccessWithMsg 成功响应（自定义消息）
func SuccessWithMsg(c *gin.Context, msg string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Msg:     msg,
		Success: true,
		Data:    data,
	})
}

// Fail 错误响应，httpCode 同时作为业务状态码
func Fail(c *gin.Context, httpCode int, errorCode ErrorCode, msg string) {
	c.Set(middleware.ContextErrorCode, string(errorCode))
	c.JSON(httpCode, Response{
		Code:    httpCode,
		Msg:     msg,
		Success: false,
		Error:   string(errorCode),
	})
}

// BadRequest 请求参数错误（400）
func BadRequest(c *gin.Context, errorCode ErrorCode, msg string) {
	Fail(c, http.StatusBadRequest, errorCode, msg)
}

// NotFound 资源不存在错误（404）
func NotFound(c *gin.Context, errorCode ErrorCode, msg string) {
	Fail(c, http.StatusNotFound, errorCode, msg)
}

// Conflict 资源冲突错误（409）
func Conflict(c *gin.Context, errorCode ErrorCode, msg string) {
	Fail(c, http.StatusConflict, errorCode, msg)
}

// InternalError 服务器内部错误（500）
func InternalError(c *gin.Context, errorCode ErrorCode, msg string) {
	Fail(c, http.StatusInternalServerError, errorCode, msg)
}
