package rebalance

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"index-rebalancer/sizing"
	"index-rebalancer/units"
)

// Indexes 返回已登记的指数。
func (c *Controller) Indexes() []common.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]common.Address, 0, len(c.indexes))
	for addr := range c.indexes {
		out = append(out, addr)
	}
	return out
}

// RebalanceComponents 返回本轮参与再平衡的成分。
func (c *Controller) RebalanceComponents(index common.Address) ([]common.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.lookup(index)
	if err != nil {
		return nil, err
	}
	return append([]common.Address(nil), s.components...), nil
}

// ComponentTradeQuantityAndDirection 返回成分下一笔交易的方向与规模。
func (c *Controller) ComponentTradeQuantityAndDirection(index, component common.Address) (sizing.TradeSize, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.lookup(index)
	if err != nil {
		return sizing.TradeSize{}, err
	}
	if component == c.staging {
		return sizing.TradeSize{}, ErrCannotTradeStaging
	}
	if !s.inRebalance(component) {
		return sizing.TradeSize{}, fmt.Errorf("%w: %s", ErrNotInRebalance, component.Hex())
	}
	return sizing.ComputeTradeSize(
		s.ledger.RealUnit(component),
		c.normalizedTarget(s, component),
		s.ledger.TotalSupply(),
		s.peek(component).MaxSize)
}

// IsTradeReady 判断成分当前能否交易：在本轮中、冷却期已过且仍有交易量。
func (c *Controller) IsTradeReady(index, component common.Address) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.lookup(index)
	if err != nil || component == c.staging || !s.inRebalance(component) {
		return false
	}
	info := s.peek(component)
	if coolOffElapsed(info, c.clock.Now()) != nil {
		return false
	}
	size, err := sizing.ComputeTradeSize(s.ledger.RealUnit(component), c.normalizedTarget(s, component), s.ledger.TotalSupply(), info.MaxSize)
	return err == nil && !size.IsZero()
}

// AllowedTraders 返回白名单（按加入顺序）。
func (c *Controller) AllowedTraders(index common.Address) ([]common.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.lookup(index)
	if err != nil {
		return nil, err
	}
	return append([]common.Address(nil), s.traders...), nil
}

// IsAllowedTrader 在开启任意地址可交易时对所有地址返回 true。
func (c *Controller) IsAllowedTrader(index, trader common.Address) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.lookup(index)
	if err != nil {
		return false
	}
	return s.anyoneTrade || s.traderAllowed[trader]
}

// ExecutionInfo 返回成分执行参数的副本。
func (c *Controller) ExecutionInfo(index, component common.Address) (ExecutionInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.lookup(index)
	if err != nil {
		return ExecutionInfo{}, err
	}
	e, ok := s.execution[component]
	if !ok {
		return ExecutionInfo{TargetUnit: new(big.Int), MaxSize: new(big.Int)}, nil
	}
	return e.clone(), nil
}

// TargetUnit 返回按当前乘数换算后的目标单位。
func (c *Controller) TargetUnit(index, component common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.lookup(index)
	if err != nil {
		return nil, err
	}
	return c.normalizedTarget(s, component), nil
}

// State 返回指数的轮次状态，未登记的指数为 StateUninitialized。
func (c *Controller) State(index common.Address) RoundState {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.lookup(index)
	if err != nil {
		return StateUninitialized
	}
	// 乘数在外部变化后重新判定
	if c.allTargetsMet(s) {
		return StateIdle
	}
	return StateRebalancing
}

// RaiseTargetPercentage 返回当前的抬高比例。
func (c *Controller) RaiseTargetPercentage(index common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.lookup(index)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(s.raiseTargetPct), nil
}

// RemainingStagingQuantity 返回 TradeRemainingWETH 此刻会卖出的中转资产数量；
// 中转资产未高于目标时为 0。
func (c *Controller) RemainingStagingQuantity(index common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.lookup(index)
	if err != nil {
		return nil, err
	}
	excess := new(big.Int).Sub(s.ledger.RealUnit(c.staging), c.normalizedTarget(s, c.staging))
	if excess.Sign() <= 0 {
		return new(big.Int), nil
	}
	return units.Min(units.PreciseMul(excess, s.ledger.TotalSupply()), s.ledger.Balance(c.staging)), nil
}
