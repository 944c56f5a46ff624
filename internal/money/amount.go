// Package money 提供精确到分的金额运算
//
// 所有进出账本的金额都必须经过本包转换，避免二进制浮点在多次扣费/退款后产生分位误差。
// 舍入规则为"四舍五入"（远离零方向），不是银行家舍入，也不是截断。
package money

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Places 金额保留的小数位数
const Places = 2

// MaxIntegerDigits 金额整数部分最多位数，与数据库 decimal(20,2) 列一致
const MaxIntegerDigits = 18

const (
	maxInputScale      = 30  // 输入允许的最多小数位
	maxCoefficientBits = 256 // 约 77 位有效数字
)

// ErrInvalidAmount 金额格式无效或超出范围
var ErrInvalidAmount = errors.New("invalid amount")

// limit 金额绝对值上限（不含）
var limit = decimal.New(1, MaxIntegerDigits)

// Amount 两位小数的精确金额（不可变值）
type Amount struct {
	d decimal.Decimal
}

// Zero 零金额
var Zero = Amount{}

// Round2 将任意精度的十进制数四舍五入到两位小数
func Round2(d decimal.Decimal) Amount {
	return Amount{d: d.Round(Places)}
}

// fromDecimal 校验范围后舍入
//
// 超大指数或超长系数在舍入前就拒绝，舍入本身的代价与指数成正比。
func fromDecimal(d decimal.Decimal) (Amount, error) {
	if d.IsZero() {
		return Zero, nil
	}
	if d.Exponent() < -maxInputScale {
		return Zero, fmt.Errorf("%w: more than %d decimal places", ErrInvalidAmount, maxInputScale)
	}
	if d.Coefficient().BitLen() > maxCoefficientBits {
		return Zero, fmt.Errorf("%w: too many digits", ErrInvalidAmount)
	}
	if int64(d.NumDigits())+int64(d.Exponent()) > MaxIntegerDigits+1 {
		return Zero, fmt.Errorf("%w: out of range", ErrInvalidAmount)
	}

	a := Round2(d)
	if !a.WithinLimit() {
		return Zero, fmt.Errorf("%w: out of range", ErrInvalidAmount)
	}
	return a, nil
}

// ToDecimal 将整数、浮点数、字符串等输入统一转换为两位小数金额
//
// 浮点数按其最短十进制表示转换（0.1 -> "0.1"），不会展开二进制误差。
//
// 参数:
//   - v: 待转换的值
//
// 返回值:
//   - Amount: 四舍五入后的金额
//   - error: 无法识别的类型、格式或绝对值不小于 10^18 时返回 ErrInvalidAmount
func ToDecimal(v any) (Amount, error) {
	switch x := v.(type) {
	case Amount:
		return fromDecimal(x.d)
	case *Amount:
		if x == nil {
			return Zero, fmt.Errorf("%w: nil", ErrInvalidAmount)
		}
		return fromDecimal(x.d)
	case decimal.Decimal:
		return fromDecimal(x)
	case int:
		return fromDecimal(decimal.NewFromInt(int64(x)))
	case int8:
		return fromDecimal(decimal.NewFromInt(int64(x)))
	case int16:
		return fromDecimal(decimal.NewFromInt(int64(x)))
	case int32:
		return fromDecimal(decimal.NewFromInt32(x))
	case int64:
		return fromDecimal(decimal.NewFromInt(x))
	case uint:
		return fromDecimal(decimal.NewFromUint64(uint64(x)))
	case uint8:
		return fromDecimal(decimal.NewFromUint64(uint64(x)))
	case uint16:
		return fromDecimal(decimal.NewFromUint64(uint64(x)))
	case uint32:
		return fromDecimal(decimal.NewFromUint64(uint64(x)))
	case uint64:
		return fromDecimal(decimal.NewFromUint64(x))
	case float32:
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return Zero, fmt.Errorf("%w: %v", ErrInvalidAmount, x)
		}
		return fromDecimal(decimal.NewFromFloat32(x))
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return Zero, fmt.Errorf("%w: %v", ErrInvalidAmount, x)
		}
		return fromDecimal(decimal.NewFromFloat(x))
	case json.Number:
		return Parse(string(x))
	case string:
		return Parse(x)
	default:
		return Zero, fmt.Errorf("%w: unsupported type %T", ErrInvalidAmount, v)
	}
}

// Parse 解析十进制字符串并四舍五入到两位小数，超出范围时返回 ErrInvalidAmount
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return fromDecimal(d)
}

// MustParse 解析金额，失败时 panic（仅用于常量和测试）
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// WithinLimit 绝对值是否小于 10^18，即可以写入存储
func (a Amount) WithinLimit() bool {
	return a.d.Abs().LessThan(limit)
}

// Decimal 返回底层十进制值
func (a Amount) Decimal() decimal.Decimal { return a.d }

// Add 加法，结果重新舍入
func (a Amount) Add(b Amount) Amount { return Round2(a.d.Add(b.d)) }

// Sub 减法，结果重新舍入
func (a Amount) Sub(b Amount) Amount { return Round2(a.d.Sub(b.d)) }

// Neg 取反
func (a Amount) Neg() Amount { return Amount{d: a.d.Neg()} }

// Cmp 比较：a<b 返回 -1，相等返回 0，a>b 返回 1
func (a Amount) Cmp(b Amount) int { return a.d.Cmp(b.d) }

// Equal 数值相等
func (a Amount) Equal(b Amount) bool { return a.d.Equal(b.d) }

// LessThan 小于
func (a Amount) LessThan(b Amount) bool { return a.d.LessThan(b.d) }

func (a Amount) Sign() int        { return a.d.Sign() }
func (a Amount) IsZero() bool     { return a.d.IsZero() }
func (a Amount) IsPositive() bool { return a.d.IsPositive() }
func (a Amount) IsNegative() bool { return a.d.IsNegative() }

// String 固定两位小数的字符串，如 "6.67"、"0.00"
func (a Amount) String() string { return a.d.StringFixed(Places) }

// Float64 转换为浮点数（仅用于展示，不得参与运算）
func (a Amount) Float64() float64 {
	f, _ := a.d.Float64()
	return f
}

// MarshalJSON 输出带两位小数的 JSON 数字
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalJSON 接受 JSON 数字或字符串
func (a *Amount) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return nil
	}
	raw = strings.Trim(raw, `"`)
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Value 实现 driver.Valuer，以定点字符串写入数据库
func (a Amount) Value() (driver.Value, error) {
	return a.String(), nil
}

// Scan 实现 sql.Scanner
func (a *Amount) Scan(value interface{}) error {
	var d decimal.Decimal
	if err := d.Scan(value); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	parsed, err := fromDecimal(d)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
