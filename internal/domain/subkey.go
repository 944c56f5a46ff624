package domain

import (
	"time"

	"keyledger/backend/internal/money"
)

// 子密钥动作类型
const (
	ActionDeduct = "deduct" // 扣费
	ActionRefund = "refund" // 退款（负数金额）
)

// ActionFor 根据金额符号判定动作，负数为退款
func ActionFor(amount money.Amount) string {
	if amount.IsNegative() {
		return ActionRefund
	}
	return ActionDeduct
}

// SubKey 子密钥记录
//
// ID 同时是查找键和对外的密钥本身，持久化时作为 map 的键，不重复写入记录体。
type SubKey struct {
	ID          string       `json:"-"`
	Balance     money.Amount `json:"balance"`      // 当前余额，两位小数
	CreatedTime time.Time    `json:"created_time"` // 创建时间，不可变
	Description string       `json:"description"`  // 描述
	IsActive    bool         `json:"is_active"`    // 是否启用
	UsedAmount  money.Amount `json:"used_amount"`  // 累计使用金额（退款会反向扣减）
	LastUsed    *time.Time   `json:"last_used"`    // 最后一次扣费/退款时间
}

// Clone 返回记录的独立副本
func (k SubKey) Clone() SubKey {
	out := k
	if k.LastUsed != nil {
		t := *k.LastUsed
		out.LastUsed = &t
	}
	return out
}

// DeductResult 扣费/退款结果
type DeductResult struct {
	NewBalance money.Amount `json:"new_balance"`
	Action     string       `json:"action"`
}
