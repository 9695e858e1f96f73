// Package units 提供 18 位精度的定点数运算（基于 *big.Int），所有函数都不修改入参。
package units

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Decimals 是单位换算使用的精度位数。
const Decimals = 18

// PreciseUnit = 1e18，代表 1.0。
var PreciseUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

var ErrDivideByZero = errors.New("divide by zero")

// PreciseMul 返回 floor(a*b/1e18)。
func PreciseMul(a, b *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, PreciseUnit)
}

// PreciseMulCeil 返回 ceil(a*b/1e18)；任一参数为 0 时返回 0。
func PreciseMulCeil(a, b *big.Int) *big.Int {
	if a.Sign() == 0 || b.Sign() == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(a, b)
	out.Sub(out, big.NewInt(1))
	out.Quo(out, PreciseUnit)
	return out.Add(out, big.NewInt(1))
}

// PreciseDiv 返回 floor(a*1e18/b)。
func PreciseDiv(a, b *big.Int) (*big.Int, error) {
	if b.Sign() == 0 {
		return nil, ErrDivideByZero
	}
	out := new(big.Int).Mul(a, PreciseUnit)
	return out.Quo(out, b), nil
}

// PreciseDivCeil 返回 ceil(a*1e18/b)。
func PreciseDivCeil(a, b *big.Int) (*big.Int, error) {
	if b.Sign() == 0 {
		return nil, ErrDivideByZero
	}
	if a.Sign() == 0 {
		return new(big.Int), nil
	}
	out := new(big.Int).Mul(a, PreciseUnit)
	out.Sub(out, big.NewInt(1))
	out.Quo(out, b)
	return out.Add(out, big.NewInt(1)), nil
}

// MulDiv 返回 floor(a*b/c)。
func MulDiv(a, b, c *big.Int) (*big.Int, error) {
	if c.Sign() == 0 {
		return nil, ErrDivideByZero
	}
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, c), nil
}

func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// AbsDiff 返回 |a-b|。
func AbsDiff(a, b *big.Int) *big.Int {
	out := new(big.Int).Sub(a, b)
	return out.Abs(out)
}

// Copy 返回独立副本；nil 视为 0。
func Copy(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// Ether 返回 n * 1e18，主要用于测试与默认配置。
func Ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), PreciseUnit)
}

// Parse 将十进制字符串（如 "1.5"）按 18 位精度转换为整数，超出精度的部分直接截断。
func Parse(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse unit %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("parse unit %q: negative amount", s)
	}
	shifted := d.Shift(Decimals)
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("parse unit %q: more than %d decimal places", s, Decimals)
	}
	return shifted.BigInt(), nil
}

// MustParse 与 Parse 相同，出错时 panic。
func MustParse(s string) *big.Int {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Format 将 18 位精度整数格式化为十进制字符串，用于日志与命令行输出。
func Format(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -Decimals).String()
}

// Float 返回近似浮点值，仅用于监控指标。
func Float(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := decimal.NewFromBigInt(v, -Decimals).Float64()
	return f
}
