// Package sizing 计算单个成分下一笔交易的方向与受限名义规模。
package sizing

import (
	"errors"
	"fmt"
	"math/big"

	"index-rebalancer/units"
)

var (
	// ErrInvalidState 指数尚未发行（总份额为 0）时无法再平衡。
	ErrInvalidState = errors.New("invalid state")
	// ErrTradeMaximumUnset 单笔上限未配置。
	ErrTradeMaximumUnset = errors.New("trade maximum not set")
)

// TradeSize 是一笔交易的规模。Units 为真实单位差，Notional 为 Units × 总份额。
type TradeSize struct {
	IsSell   bool
	Units    *big.Int
	Notional *big.Int
}

// IsZero 当且仅当当前单位等于目标单位。
func (s TradeSize) IsZero() bool { return s.Units.Sign() == 0 }

// ComputeTradeSize 返回 min(tradeMaximum, |current-target|) 及其名义规模，方向为 current-target 的符号。
// 名义规模向上取整，保证 Notional == 0 当且仅当 current == target。
func ComputeTradeSize(currentUnit, targetUnit, totalSupply, tradeMaximum *big.Int) (TradeSize, error) {
	if totalSupply == nil || totalSupply.Sign() <= 0 {
		return TradeSize{}, fmt.Errorf("%w: total supply is zero", ErrInvalidState)
	}
	delta := units.AbsDiff(currentUnit, targetUnit)
	size := TradeSize{
		IsSell:   currentUnit.Cmp(targetUnit) > 0,
		Units:    new(big.Int),
		Notional: new(big.Int),
	}
	if delta.Sign() == 0 {
		return size, nil
	}
	if tradeMaximum == nil || tradeMaximum.Sign() <= 0 {
		return TradeSize{}, ErrTradeMaximumUnset
	}
	size.Units = units.Min(tradeMaximum, delta)
	size.Notional = units.PreciseMulCeil(size.Units, totalSupply)
	return size, nil
}
