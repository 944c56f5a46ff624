package service

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"keyledger/backend/internal/domain"
	"keyledger/backend/internal/money"
	"keyledger/backend/internal/storage"
)

// subKeyIDLength 子密钥 ID 长度（十六进制字符）
const subKeyIDLength = 32

// maxIDAttempts 生成 ID 时的最大重试次数
const maxIDAttempts = 8

// PersistFailureHook 持久化失败回调，op 为失败的操作名
type PersistFailureHook func(op string)

// LedgerOption 账本选项
type LedgerOption func(*Ledger)

// WithClock 替换时间来源
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) { l.now = now }
}

// WithIDGenerator 替换子密钥 ID 生成器
func WithIDGenerator(gen func() string) LedgerOption {
	return func(l *Ledger) { l.newID = gen }
}

// WithPersistFailureHook 注册持久化失败回调
func WithPersistFailureHook(hook PersistFailureHook) LedgerOption {
	return func(l *Ledger) { l.onPersistFailure = hook }
}

// Ledger 子密钥账本。
//
// 所有写操作在同一把写锁内完成"读取-修改-持久化"，持久化失败时内存中的
// 修改不回滚，以 ErrPersistFailed 告知调用方并计入对账风险计数。
type Ledger struct {
	mu               sync.RWMutex
	repo             storage.SubKeyRepository
	log              *zap.Logger
	keys             map[string]*domain.SubKey
	now              func() time.Time
	newID            func() string
	onPersistFailure PersistFailureHook
	hazards          atomic.Int64
}

// NewLedger 创建账本并加载快照。
//
// 存储不存在时以空账本启动；其他读取错误直接返回，避免覆盖无法读取的数据。
func NewLedger(repo storage.SubKeyRepository, log *zap.Logger, opts ...LedgerOption) (*Ledger, error) {
	if log == nil {
		log = zap.NewNop()
	}

	l := &Ledger{
		repo:  repo,
		log:   log,
		keys:  make(map[string]*domain.SubKey),
		now:   func() time.Time { return time.Now().UTC() },
		newID: GenerateSubKeyID,
	}
	for _, opt := range opts {
		opt(l)
	}

	snapshot, err := repo.LoadSubKeys()
	if errors.Is(err, storage.ErrNotExist) {
		log.Info("sub key store not found, starting with an empty ledger")
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load sub keys: %w", err)
	}

	for id, k := range snapshot {
		rec := k.Clone()
		rec.ID = id
		rec.Balance = money.Round2(rec.Balance.Decimal())
		rec.UsedAmount = money.Round2(rec.UsedAmount.Decimal())
		l.keys[id] = &rec
	}

	log.Info("sub keys loaded", zap.Int("count", len(l.keys)))
	return l, nil
}

// GenerateSubKeyID 生成子密钥 ID：sha256("sk-" + uuid + unix 秒) 的前 32 个十六进制字符
func GenerateSubKeyID() string {
	seed := "sk-" + strings.ReplaceAll(uuid.NewString(), "-", "") + strconv.FormatInt(time.Now().Unix(), 10)
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])[:subKeyIDLength]
}

// CreateSubKey 创建子密钥并返回 ID。
//
// 持久化失败时返回 ErrPersistFailed 且不返回 ID，但记录仍保留在内存中。
func (l *Ledger) CreateSubKey(balance money.Amount, description string) (string, error) {
	if !balance.WithinLimit() {
		return "", errAmountOutOfRange
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	id, err := l.uniqueID()
	if err != nil {
		return "", err
	}

	l.keys[id] = &domain.SubKey{
		ID:          id,
		Balance:     money.Round2(balance.Decimal()),
		CreatedTime: l.now(),
		Description: description,
		IsActive:    true,
		UsedAmount:  money.Zero,
	}

	if err := l.persist("create"); err != nil {
		l.log.Error("sub key created in memory but not persisted",
			zap.String("sub_key", id),
			zap.Stringer("balance", balance),
			zap.Error(err),
		)
		return "", err
	}

	l.log.Info("sub key created", zap.String("sub_key", mask(id)), zap.Stringer("balance", balance))
	return id, nil
}

// GetBalance 返回启用状态子密钥的余额
func (l *Ledger) GetBalance(id string) (money.Amount, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	k, ok := l.keys[id]
	if !ok || !k.IsActive {
		return money.Zero, ErrNotFoundOrInactive
	}
	return money.Round2(k.Balance.Decimal()), nil
}

// ValidateAndDeduct 校验子密钥并扣费，负数金额视为退款。
//
// 正数金额要求余额充足，否则不做任何修改；零和负数跳过余额检查。
// 结果余额或累计使用金额超出可存储范围时返回 money.ErrInvalidAmount，同样不做修改。
func (l *Ledger) ValidateAndDeduct(id string, amount money.Amount) (domain.DeductResult, error) {
	if !amount.WithinLimit() {
		return domain.DeductResult{}, errAmountOutOfRange
	}
	amount = money.Round2(amount.Decimal())

	l.mu.Lock()
	defer l.mu.Unlock()

	k, ok := l.keys[id]
	if !ok || !k.IsActive {
		return domain.DeductResult{}, ErrNotFoundOrInactive
	}

	if amount.IsPositive() && k.Balance.LessThan(amount) {
		return domain.DeductResult{}, ErrInsufficientBalance
	}

	newBalance := k.Balance.Sub(amount)
	newUsed := k.UsedAmount.Add(amount)
	if !newBalance.WithinLimit() || !newUsed.WithinLimit() {
		return domain.DeductResult{}, errAmountOutOfRange
	}

	now := l.now()
	k.Balance = newBalance
	k.UsedAmount = newUsed
	k.LastUsed = &now

	action := domain.ActionFor(amount)

	if err := l.persist(action); err != nil {
		l.log.Error("balance changed in memory but not persisted",
			zap.String("sub_key", id),
			zap.String("action", action),
			zap.Stringer("amount", amount),
			zap.Stringer("new_balance", k.Balance),
			zap.Error(err),
		)
		return domain.DeductResult{}, err
	}

	l.log.Debug("balance changed",
		zap.String("sub_key", mask(id)),
		zap.String("action", action),
		zap.Stringer("amount", amount),
		zap.Stringer("new_balance", k.Balance),
	)
	return domain.DeductResult{NewBalance: k.Balance, Action: action}, nil
}

// UpdateBalance 直接覆盖余额，不影响累计使用金额和最后使用时间，停用的子密钥同样适用
func (l *Ledger) UpdateBalance(id string, newBalance money.Amount) error {
	if !newBalance.WithinLimit() {
		return errAmountOutOfRange
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	k, ok := l.keys[id]
	if !ok {
		return ErrNotFound
	}
	k.Balance = money.Round2(newBalance.Decimal())

	if err := l.persist("update_balance"); err != nil {
		l.log.Error("balance overwritten in memory but not persisted",
			zap.String("sub_key", id),
			zap.Stringer("new_balance", k.Balance),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// Deactivate 停用子密钥
func (l *Ledger) Deactivate(id string) error {
	return l.setActive(id, false)
}

// Activate 启用子密钥
func (l *Ledger) Activate(id string) error {
	return l.setActive(id, true)
}

func (l *Ledger) setActive(id string, active bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	k, ok := l.keys[id]
	if !ok {
		return ErrNotFound
	}
	k.IsActive = active

	op := "deactivate"
	if active {
		op = "activate"
	}
	if err := l.persist(op); err != nil {
		l.log.Error("sub key state changed in memory but not persisted",
			zap.String("sub_key", id),
			zap.Bool("is_active", active),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// DeleteKey 删除子密钥，不可恢复
func (l *Ledger) DeleteKey(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.keys[id]; !ok {
		return ErrNotFound
	}
	delete(l.keys, id)

	if err := l.persist("delete"); err != nil {
		l.log.Error("sub key deleted in memory but not persisted", zap.String("sub_key", id), zap.Error(err))
		return err
	}

	l.log.Info("sub key deleted", zap.String("sub_key", mask(id)))
	return nil
}

// ListKeys 返回所有子密钥（含停用）的副本
func (l *Ledger) ListKeys() map[string]domain.SubKey {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshot()
}

// Count 返回子密钥数量
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.keys)
}

// ReconciliationHazards 返回内存与存储可能不一致的写操作次数
func (l *Ledger) ReconciliationHazards() int64 {
	return l.hazards.Load()
}

// Health 检查底层存储
func (l *Ledger) Health() error {
	if h, ok := l.repo.(interface{ Health() error }); ok {
		return h.Health()
	}
	return nil
}

func (l *Ledger) uniqueID() (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id := l.newID()
		if _, exists := l.keys[id]; !exists {
			return id, nil
		}
	}
	return "", fmt.Errorf("could not generate a unique sub key id after %d attempts", maxIDAttempts)
}

// persist 写入完整快照，调用方必须持有写锁
func (l *Ledger) persist(op string) error {
	if err := l.repo.SaveSubKeys(l.snapshot()); err != nil {
		l.hazards.Add(1)
		if l.onPersistFailure != nil {
			l.onPersistFailure(op)
		}
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	return nil
}

func (l *Ledger) snapshot() map[string]domain.SubKey {
	out := make(map[string]domain.SubKey, len(l.keys))
	for id, k := range l.keys {
		rec := k.Clone()
		rec.Balance = money.Round2(rec.Balance.Decimal())
		rec.UsedAmount = money.Round2(rec.UsedAmount.Decimal())
		out[id] = rec
	}
	return out
}

// mask 日志中只保留子密钥前 8 位
func mask(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8] + "..."
}
