package middleware

import (
	"github.com/gin-gonic/gin"
)

// 中间件直接返回的错误码，与处理器使用同一套响应结构
const (
	CodeAuthFailed      = "AUTH_FAILED"
	CodeRateLimited     = "RATE_LIMITED"
	CodeRequestTooLarge = "REQUEST_TOO_LARGE"
	CodeInternalError   = "INTERNAL_ERROR"
)

// abortWithError 以统一响应结构终止请求
func abortWithError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"code":    status,
		"msg":     msg,
		"success": false,
		"error":   code,
	})
}
