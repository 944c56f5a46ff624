package httptransport

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"keyledger/backend/internal/domain"
	"keyledger/backend/internal/money"
)

type createKeyRequest struct {
	Balance     *money.Amount `json:"balance"`
	Description string        `json:"description"`
}

type updateBalanceRequest struct {
	SubKey     string        `json:"sub_key"`
	NewBalance *money.Amount `json:"new_balance"`
}

type masterKeyChangeRequest struct {
	NewMasterKey    string `json:"new_master_key"`
	TargetMasterKey string `json:"target_master_key"`
}

// createKey 创建子密钥
func (h *Handler) createKey(c *gin.Context) {
	var req createKeyRequest
	if err := bindBody(c, &req); err != nil {
		BadRequest(c, ErrCodeInvalidParams, MsgInvalidRequest)
		return
	}

	balance := defaultCreateBalance
	if req.Balance != nil {
		balance = *req.Balance
	}
	if balance.IsNegative() {
		BadRequest(c, ErrCodeInvalidParams, MsgNegativeBalance)
		return
	}

	id, err := h.ledger.CreateSubKey(balance, req.Description)
	if err != nil {
		if errors.Is(err, money.ErrInvalidAmount) {
			BadRequest(c, ErrCodeInvalidParams, MsgInvalidAmount)
			return
		}
		InternalError(c, ErrCodeCreateFailed, MsgCreateFailed)
		return
	}

	h.metrics.RecordSubKeyCreated()
	SuccessWithMsg(c, "密钥创建成功", gin.H{
		"sub_key": id,
		"balance": balance,
	})
}

// listKeys 列出所有子密钥（含停用）
func (h *Handler) listKeys(c *gin.Context) {
	keys := h.ledger.ListKeys()
	Success(c, gin.H{
		"keys":  keys,
		"total": len(keys),
	})
}

// updateBalance 管理员直接设置余额
func (h *Handler) updateBalance(c *gin.Context) {
	var req updateBalanceRequest
	if err := bindBody(c, &req); err != nil {
		BadRequest(c, ErrCodeInvalidParams, MsgInvalidRequest)
		return
	}

	subKey := strings.TrimSpace(req.SubKey)
	if subKey == "" || req.NewBalance == nil {
		BadRequest(c, ErrCodeMissingParams, MsgMissingParams)
		return
	}
	if req.NewBalance.IsNegative() {
		BadRequest(c, ErrCodeInvalidParams, MsgNegativeBalance)
		return
	}

	if err := h.ledger.UpdateBalance(subKey, *req.NewBalance); err != nil {
		writeLedgerError(c, err, ErrCodeUpdateFailed, ErrCodeUpdateFailed, MsgUpdateFailed)
		return
	}

	Success(c, gin.H{
		"sub_key":     subKey,
		"new_balance": *req.NewBalance,
	})
}

// deleteKey 删除子密钥
func (h *Handler) deleteKey(c *gin.Context) {
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

	if err := h.ledger.DeleteKey(subKey); err != nil {
		writeLedgerError(c, err, ErrCodeDeleteFailed, ErrCodeDeleteFailed, MsgDeleteFailed)
		return
	}

	h.metrics.RecordSubKeyDeleted()
	SuccessWithMsg(c, "删除成功", nil)
}

// activateKey 启用子密钥
func (h *Handler) activateKey(c *gin.Context) {
	h.setActive(c, true)
}

// deactivateKey 停用子密钥
func (h *Handler) deactivateKey(c *gin.Context) {
	h.setActive(c, false)
}

func (h *Handler) setActive(c *gin.Context, active bool) {
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

	var err error
	if active {
		err = h.ledger.Activate(subKey)
	} else {
		err = h.ledger.Deactivate(subKey)
	}
	if err != nil {
		writeLedgerError(c, err, ErrCodeUpdateFailed, ErrCodeUpdateFailed, MsgUpdateFailed)
		return
	}

	Success(c, gin.H{
		"sub_key":   subKey,
		"is_active": active,
	})
}

// ========== 主密钥管理 ==========

// listMasterKeys 只返回数量，不返回主密钥本身
func (h *Handler) listMasterKeys(c *gin.Context) {
	count := h.registry.Count()
	Success(c, gin.H{
		"total_keys": count,
		"keys_count": count,
	})
}

// addMasterKey 添加主密钥
func (h *Handler) addMasterKey(c *gin.Context) {
	var req masterKeyChangeRequest
	if err := bindBody(c, &req); err != nil {
		BadRequest(c, ErrCodeInvalidParams, MsgInvalidRequest)
		return
	}

	key := strings.TrimSpace(req.NewMasterKey)
	if key == "" {
		BadRequest(c, ErrCodeMissingParams, MsgMissingParams)
		return
	}
	if key == domain.PlaceholderMasterKey {
		BadRequest(c, ErrCodeInvalidParams, MsgMasterKeyInvalid)
		return
	}

	if !h.registry.Add(key) {
		if h.registry.Contains(key) {
			Conflict(c, ErrCodeMasterKeyExists, MsgMasterKeyExists)
			return
		}
		InternalError(c, ErrCodePersistFailed, MsgMasterKeySaveFailed)
		return
	}

	h.log.Info("master key added via API", zap.String("ip", c.ClientIP()))
	SuccessWithMsg(c, "主密钥添加成功", gin.H{"total_keys": h.registry.Count()})
}

// removeMasterKey 删除主密钥，至少保留一个
func (h *Handler) removeMasterKey(c *gin.Context) {
	var req masterKeyChangeRequest
	if err := bindBody(c, &req); err != nil {
		BadRequest(c, ErrCodeInvalidParams, MsgInvalidRequest)
		return
	}

	key := strings.TrimSpace(req.TargetMasterKey)
	if key == "" {
		BadRequest(c, ErrCodeMissingParams, MsgMissingParams)
		return
	}
	if !h.registry.Contains(key) {
		NotFound(c, ErrCodeMasterKeyNotFound, MsgMasterKeyNotFound)
		return
	}
	if h.registry.Count() <= 1 {
		BadRequest(c, ErrCodeInvalidParams, MsgLastMasterKey)
		return
	}

	if !h.registry.Remove(key) {
		if !h.registry.Contains(key) {
			NotFound(c, ErrCodeMasterKeyNotFound, MsgMasterKeyNotFound)
			return
		}
		InternalError(c, ErrCodePersistFailed, MsgMasterKeySaveFailed)
		return
	}

	h.log.Info("master key removed via API", zap.String("ip", c.ClientIP()))
	SuccessWithMsg(c, "主密钥删除成功", gin.H{"total_keys": h.registry.Count()})
}
