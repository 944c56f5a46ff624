package httptransport

import (
	"errors"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"

	"keyledger/backend/internal/domain"
	"keyledger/backend/internal/health"
	"keyledger/backend/internal/monitoring"
	"keyledger/backend/internal/money"
	"keyledger/backend/internal/service"
)

var (
	defaultDeductAmount  = money.MustParse("1.00")
	defaultCreateBalance = money.MustParse("100.00")
)

// Handler 聚合所有 HTTP 处理逻辑。
type Handler struct {
	ledger   *service.Ledger
	registry *service.MasterKeyRegistry
	health   *health.HealthChecker
	metrics  *monitoring.Metrics
	log      *zap.Logger
}

// bindBody 绑定 JSON 请求体，空请求体视为空对象
//
// 使用 ShouldBindBodyWith 以便与主密钥中间件共享已读取的请求体。
func bindBody(c *gin.Context, obj interface{}) error {
	if c.Request.Body == nil {
		return nil
	}
	if err := c.ShouldBindBodyWith(obj, binding.JSON); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ========== 客户端接口（子密钥鉴权） ==========

type validateAndDeductRequest struct {
	SubKey string        `json:"sub_key"`
	Amount *money.Amount `json:"amount"`
}

type subKeyRequest struct {
	SubKey string `json:"sub_key"`
}

// validateAndDeduct 校验子密钥并扣费，负数金额为退款
func (h *Handler) validateAndDeduct(c *gin.Context) {
	var req validateAndDeductRequest
	if err := bindBody(c, &req); err != nil {
		BadRequest(c, ErrCodeInvalidParams, MsgInvalidRequest)
		return
	}

	subKey := strings.TrimSpace(req.SubKey)
	if subKey == "" {
		BadRequest(c, ErrCodeMissingParams, MsgMissingSubKey)
		return
	}

	amount := defaultDeductAmount
	if req.Amount != nil {
		amount = *req.Amount
	}

	result, err := h.ledger.ValidateAndDeduct(subKey, amount)
	if err != nil {
		h.metrics.RecordBalanceChange(domain.ActionFor(amount), resultLabel(err), 0)
		switch {
		case errors.Is(err, service.ErrNotFoundOrInactive):
			NotFound(c, ErrCodeInvalidKey, MsgInvalidKey)
		default:
			writeLedgerError(c, err, ErrCodeInvalidKey, ErrCodePersistFailed, MsgPersistFailed)
		}
		return
	}

	h.metrics.RecordBalanceChange(result.Action, "success", amount.Float64())
	Success(c, result)
}

// getBalance 查询子密钥余额
func (h *Handler) getBalance(c *gin.Context) {
	var req subKeyRequest
	if err := bindBody(c, &req); err != nil {
		BadRequest(c, ErrCodeInvalidParams, MsgInvalidRequest)
		return
	}

	subKey := strings.TrimSpace(req.SubKey)
	if subKey == "" {
		BadRequest(c, ErrCodeMissingParams, MsgMissingSubKey)
		return
	}

	balance, err := h.ledger.GetBalance(subKey)
	if err != nil {
		writeLedgerError(c, err, ErrCodeNotFoundOrInactive, ErrCodeInternal, MsgKeyNotFoundOrInactive)
		return
	}

	Success(c, gin.H{"balance": balance})
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, service.ErrNotFoundOrInactive):
		return "invalid_key"
	case errors.Is(err, service.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, service.ErrPersistFailed):
		return "persist_failed"
	case errors.Is(err, money.ErrInvalidAmount):
		return "invalid_amount"
	default:
		return "error"
	}
}

// ========== 健康检查 ==========

// healthStatus 返回服务状态与密钥计数
func (h *Handler) healthStatus(c *gin.Context) {
	status := h.health.Status()
	h.metrics.UpdateKeyCounts(status.TotalKeys, status.MasterKeysCount, h.registry.HasPlaceholder())
	Success(c, status)
}
