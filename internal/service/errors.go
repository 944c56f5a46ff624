package service

import (
	"errors"
	"fmt"

	"keyledger/backend/internal/money"
)

var (
	ErrAuthFailed          = errors.New("master key authentication failed")
	ErrNotFoundOrInactive  = errors.New("sub key not found or inactive")
	ErrNotFound            = errors.New("sub key not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrPersistFailed       = errors.New("failed to persist sub keys")
)

// errAmountOutOfRange 金额或运算结果超出可存储范围
var errAmountOutOfRange = fmt.Errorf("%w: out of storable range", money.ErrInvalidAmount)
