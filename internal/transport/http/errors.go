package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"keyledger/backend/internal/middleware"
	"keyledger/backend/internal/money"
	"keyledger/backend/internal/service"
)

// ErrorCode 对外错误码
type ErrorCode string

const (
	ErrCodeAuthFailed          ErrorCode = middleware.CodeAuthFailed
	ErrCodeMissingParams       ErrorCode = "MISSING_PARAMS"
	ErrCodeInvalidParams       ErrorCode = "INVALID_PARAMS"
	ErrCodeInvalidKey          ErrorCode = "INVALID_KEY"
	ErrCodeNotFoundOrInactive  ErrorCode = "NOT_FOUND_OR_INACTIVE"
	ErrCodeInsufficientBalance ErrorCode = "INSUFFICIENT_BALANCE"
	ErrCodePersistFailed       ErrorCode = "PERSIST_FAILED"
	ErrCodeCreateFailed        ErrorCode = "CREATE_FAILED"
	ErrCodeUpdateFailed        ErrorCode = "UPDATE_FAILED"
	ErrCodeDeleteFailed        ErrorCode = "DELETE_FAILED"
	ErrCodeMasterKeyExists     ErrorCode = "MASTER_KEY_EXISTS"
	ErrCodeMasterKeyNotFound   ErrorCode = "MASTER_KEY_NOT_FOUND"
	ErrCodeRateLimited         ErrorCode = middleware.CodeRateLimited
	ErrCodeInternal            ErrorCode = middleware.CodeInternalError
)

// 错误消息映射表（业务错误 -> 中文消息）
var errorMessages = map[error]string{
	service.ErrAuthFailed:          MsgAuthFailed,
	service.ErrNotFoundOrInactive:  MsgKeyNotFoundOrInactive,
	service.ErrNotFound:            MsgKeyNotFound,
	service.ErrInsufficientBalance: MsgInsufficientBalance,
	service.ErrPersistFailed:       MsgPersistFailed,
	money.ErrInvalidAmount:         MsgInvalidAmount,
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	for target, msg := range errorMessages {
		if errors.Is(err, target) {
			return msg
		}
	}
	return err.Error()
}

// 通用错误消息
const (
	MsgInvalidRequest        = "请求参数格式错误"
	MsgMissingSubKey         = "缺少子密钥"
	MsgMissingParams         = "缺少必要参数"
	MsgInvalidAmount         = "金额格式无效"
	MsgNegativeBalance       = "余额不能为负数"
	MsgAuthFailed            = "主密钥验证失败"
	MsgInvalidKey            = "密钥无效"
	MsgKeyNotFoundOrInactive = "密钥不存在或已停用"
	MsgKeyNotFound           = "密钥不存在"
	MsgInsufficientBalance   = "余额不足"
	MsgPersistFailed         = "操作失败，数据未能保存"
	MsgCreateFailed          = "密钥创建失败"
	MsgUpdateFailed          = "更新失败"
	MsgDeleteFailed          = "删除失败"
	MsgMasterKeyExists       = "主密钥已存在"
	MsgMasterKeyNotFound     = "主密钥不存在"
	MsgMasterKeyInvalid      = "主密钥格式无效"
	MsgLastMasterKey         = "不能删除最后一个主密钥"
	MsgMasterKeySaveFailed   = "主密钥保存失败"
)

// writeLedgerError 将账本错误映射为响应
//
// notFoundCode 区分各操作对"不存在"的错误码，持久化失败统一为 500。
func writeLedgerError(c *gin.Context, err error, notFoundCode, failedCode ErrorCode, failedMsg string) {
	switch {
	case errors.Is(err, service.ErrNotFoundOrInactive), errors.Is(err, service.ErrNotFound):
		NotFound(c, notFoundCode, GetErrorMessage(err))
	case errors.Is(err, money.ErrInvalidAmount):
		BadRequest(c, ErrCodeInvalidParams, MsgInvalidAmount)
	case errors.Is(err, service.ErrInsufficientBalance):
		Fail(c, http.StatusPaymentRequired, ErrCodeInsufficientBalance, MsgInsufficientBalance)
	case errors.Is(err, service.ErrPersistFailed):
		InternalError(c, failedCode, failedMsg)
	default:
		InternalError(c, ErrCodeInternal, "服务器内部错误")
	}
}
