package rebalance

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"index-rebalancer/adapter"
	"index-rebalancer/amm"
	"index-rebalancer/ledger"
	"index-rebalancer/sizing"
	"index-rebalancer/units"
)

// Trade 对一个成分执行一笔受单笔上限约束的交易。
//
// 卖出时 valueLimit 是至少收到的中转资产数量，买入时是最多付出的中转资产数量。
// 任何一步失败都不会留下余额、单位或时间戳的变化。
func (c *Controller) Trade(ctx context.Context, caller, index, component common.Address, valueLimit *big.Int) (TradeReceipt, error) {
	c.mu.Lock()
	receipt, err := c.trade(ctx, caller, index, component, valueLimit)
	c.mu.Unlock()
	c.finish(ctx, "trade", index, component, receipt, err)
	return receipt, err
}

func (c *Controller) trade(ctx context.Context, caller, index, component common.Address, valueLimit *big.Int) (TradeReceipt, error) {
	s, err := c.tradable(caller, index)
	if err != nil {
		return TradeReceipt{}, err
	}
	if component == c.staging {
		return TradeReceipt{}, ErrCannotTradeStaging
	}
	if !s.inRebalance(component) {
		return TradeReceipt{}, fmt.Errorf("%w: %s", ErrNotInRebalance, component.Hex())
	}
	info := s.info(component)
	supply := s.ledger.TotalSupply()
	current := s.ledger.RealUnit(component)
	target := c.normalizedTarget(s, component)

	size, err := sizing.ComputeTradeSize(current, target, supply, info.MaxSize)
	if err != nil {
		return TradeReceipt{}, err
	}
	now := c.clock.Now()
	if err := coolOffElapsed(info, now); err != nil {
		return TradeReceipt{}, err
	}
	if size.IsZero() {
		return TradeReceipt{}, fmt.Errorf("%w: %s at target", ErrZeroSizeTrade, component.Hex())
	}

	limit := units.Copy(valueLimit)
	req := adapter.TradeRequest{Recipient: index, Data: info.ExchangeData}
	if size.IsSell {
		req.SourceToken, req.DestinationToken = component, c.staging
		req.IsSendTokenFixed = true
		// 托管余额按发行时向上取整，卖出量不超过实际持有
		req.SourceQuantity = units.Min(size.Notional, s.ledger.Balance(component))
		req.DestinationQuantity = limit
	} else {
		req.SourceToken, req.DestinationToken = c.staging, component
		req.SourceQuantity = limit
		req.DestinationQuantity = size.Notional
	}

	var componentDelta, stagingDelta *big.Int
	check := func(f ledger.Fill) error {
		if size.IsSell {
			if f.Received.Cmp(limit) < 0 {
				return fmt.Errorf("%w: received %s < %s", ErrSlippageExceeded, f.Received, limit)
			}
			credit, err := units.PreciseDiv(f.Received, supply)
			if err != nil {
				return err
			}
			componentDelta, stagingDelta = new(big.Int).Neg(size.Units), credit
			return nil
		}
		if f.Sent.Cmp(limit) > 0 {
			return fmt.Errorf("%w: sent %s > %s", ErrSlippageExceeded, f.Sent, limit)
		}
		if f.Received.Cmp(size.Notional) < 0 {
			return fmt.Errorf("%w: received %s < %s", ErrSlippageExceeded, f.Received, size.Notional)
		}
		debit, err := units.PreciseDivCeil(f.Sent, supply)
		if err != nil {
			return err
		}
		if debit.Cmp(s.ledger.RealUnit(c.staging)) > 0 {
			return fmt.Errorf("%w: staging unit below %s", ledger.ErrInsufficientBalance, debit)
		}
		componentDelta, stagingDelta = new(big.Int).Set(size.Units), new(big.Int).Neg(debit)
		return nil
	}

	fill, err := c.execute(ctx, s, info, req, now, check)
	if err != nil {
		return TradeReceipt{}, err
	}
	if err := c.applyDeltas(s, component, componentDelta, stagingDelta); err != nil {
		return TradeReceipt{}, err
	}
	info.LastTradeTimestamp = now
	if err := c.refreshStatus(s); err != nil {
		return TradeReceipt{}, err
	}
	return c.receipt(s, index, component, size.IsSell, req, fill, info, now), nil
}

// TradeRemainingWETH 在卖出全部完成后，把中转资产高于目标的部分全部买入一个仍低于目标的成分。
// minComponentReceived 是至少收到的成分数量。
func (c *Controller) TradeRemainingWETH(ctx context.Context, caller, index, component common.Address, minComponentReceived *big.Int) (TradeReceipt, error) {
	c.mu.Lock()
	receipt, err := c.tradeRemaining(ctx, caller, index, component, minComponentReceived)
	c.mu.Unlock()
	c.finish(ctx, "trade_remaining", index, component, receipt, err)
	return receipt, err
}

func (c *Controller) tradeRemaining(ctx context.Context, caller, index, component common.Address, minComponentReceived *big.Int) (TradeReceipt, error) {
	s, err := c.tradable(caller, index)
	if err != nil {
		return TradeReceipt{}, err
	}
	if component == c.staging {
		return TradeReceipt{}, ErrCannotTradeStaging
	}
	if !s.inRebalance(component) {
		return TradeReceipt{}, fmt.Errorf("%w: %s", ErrNotInRebalance, component.Hex())
	}
	for _, comp := range s.components {
		if comp != c.staging && s.ledger.RealUnit(comp).Cmp(c.normalizedTarget(s, comp)) > 0 {
			return TradeReceipt{}, fmt.Errorf("%w: %s above target", ErrSellFirst, comp.Hex())
		}
	}
	stagingCurrent := s.ledger.RealUnit(c.staging)
	stagingTarget := c.normalizedTarget(s, c.staging)
	if stagingCurrent.Cmp(stagingTarget) <= 0 {
		return TradeReceipt{}, ErrStagingBelowTarget
	}

	info := s.info(component)
	now := c.clock.Now()
	if err := coolOffElapsed(info, now); err != nil {
		return TradeReceipt{}, err
	}
	supply := s.ledger.TotalSupply()
	if supply.Sign() <= 0 {
		return TradeReceipt{}, sizing.ErrInvalidState
	}
	excess := new(big.Int).Sub(stagingCurrent, stagingTarget)
	sendQty := units.Min(units.PreciseMul(excess, supply), s.ledger.Balance(c.staging))
	if sendQty.Sign() == 0 {
		return TradeReceipt{}, fmt.Errorf("%w: staging excess rounds to zero", ErrZeroSizeTrade)
	}
	minOut := units.Copy(minComponentReceived)
	componentCurrent := s.ledger.RealUnit(component)
	componentTarget := c.normalizedTarget(s, component)
	maxNotional := units.PreciseMul(info.MaxSize, supply)

	req := adapter.TradeRequest{
		SourceToken:         c.staging,
		DestinationToken:    component,
		Recipient:           index,
		IsSendTokenFixed:    true,
		SourceQuantity:      sendQty,
		DestinationQuantity: minOut,
		Data:                info.ExchangeData,
	}

	var componentDelta, stagingDelta *big.Int
	check := func(f ledger.Fill) error {
		if f.Received.Cmp(minOut) < 0 {
			return fmt.Errorf("%w: received %s < %s", ErrSlippageExceeded, f.Received, minOut)
		}
		if f.Received.Cmp(maxNotional) > 0 {
			return fmt.Errorf("%w: received %s > %s", ErrExceedsTradeMaximum, f.Received, maxNotional)
		}
		credit, err := units.PreciseDiv(f.Received, supply)
		if err != nil {
			return err
		}
		if new(big.Int).Add(componentCurrent, credit).Cmp(componentTarget) > 0 {
			return fmt.Errorf("%w: %s", ErrExceedsTarget, component.Hex())
		}
		debit, err := units.PreciseDivCeil(f.Sent, supply)
		if err != nil {
			return err
		}
		componentDelta, stagingDelta = credit, new(big.Int).Neg(debit)
		return nil
	}

	fill, err := c.execute(ctx, s, info, req, now, check)
	if err != nil {
		return TradeReceipt{}, err
	}
	if err := c.applyDeltas(s, component, componentDelta, stagingDelta); err != nil {
		return TradeReceipt{}, err
	}
	info.LastTradeTimestamp = now
	if err := c.refreshStatus(s); err != nil {
		return TradeReceipt{}, err
	}
	return c.receipt(s, index, component, false, req, fill, info, now), nil
}

// RaiseAssetTargets 在所有成分达标而中转资产仍有剩余时，按比例抬高所有目标。
func (c *Controller) RaiseAssetTargets(caller, index common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.tradable(caller, index)
	if err != nil {
		return err
	}
	if !c.targetsNearlyMet(s) || s.ledger.RealUnit(c.staging).Cmp(c.normalizedTarget(s, c.staging)) <= 0 {
		return ErrTargetsNotMet
	}
	if s.raiseTargetPct.Sign() <= 0 {
		return ErrInvalidPercentage
	}
	scaled, err := units.PreciseDiv(s.multiplier, new(big.Int).Add(units.PreciseUnit, s.raiseTargetPct))
	if err != nil {
		return err
	}
	s.multiplier = scaled
	if err := c.refreshStatus(s); err != nil {
		return err
	}
	c.log.Info("asset targets raised",
		zap.String("index", index.Hex()),
		zap.String("percentage", units.Format(s.raiseTargetPct)),
		zap.String("multiplier", scaled.String()))
	return nil
}

// execute 解析适配器、生成调用数据并通过指数发起调用。
func (c *Controller) execute(ctx context.Context, s *indexState, info *ExecutionInfo, req adapter.TradeRequest, now time.Time, check func(ledger.Fill) error) (ledger.Fill, error) {
	ex, err := c.resolver.Get(c.module, info.ExchangeName)
	if err != nil {
		return ledger.Fill{}, err
	}
	req.Deadline = big.NewInt(now.Add(c.deadlineBuffer).Unix())
	cd, err := ex.TradeCalldata(req)
	if err != nil {
		return ledger.Fill{}, err
	}
	fill, err := s.ledger.Invoke(ctx, ledger.Call{
		Target:       cd.Target,
		Value:        cd.Value,
		Data:         cd.Data,
		Spender:      ex.Spender(),
		Allowance:    req.SourceQuantity,
		SendToken:    req.SourceToken,
		ReceiveToken: req.DestinationToken,
	}, check)
	if err != nil {
		if errors.Is(err, amm.ErrInsufficientOutputAmount) || errors.Is(err, amm.ErrExcessiveInputAmount) {
			return ledger.Fill{}, fmt.Errorf("%w: %w", ErrSlippageExceeded, err)
		}
		return ledger.Fill{}, err
	}
	return fill, nil
}

// applyDeltas 在场所调用提交后更新成分与中转资产的单位。两个变化都已在 check 中校验过。
func (c *Controller) applyDeltas(s *indexState, component common.Address, componentDelta, stagingDelta *big.Int) error {
	if err := s.ledger.EditUnit(component, componentDelta); err != nil {
		c.log.Error("component unit update failed after fill", zap.String("component", component.Hex()), zap.Error(err))
		return err
	}
	if err := s.ledger.EditUnit(c.staging, stagingDelta); err != nil {
		c.log.Error("staging unit update failed after fill", zap.Error(err))
		return err
	}
	return nil
}

func (c *Controller) receipt(s *indexState, index, component common.Address, isSell bool, req adapter.TradeRequest, fill ledger.Fill, info *ExecutionInfo, now time.Time) TradeReceipt {
	return TradeReceipt{
		ID:             uuid.NewString(),
		Index:          index,
		Component:      component,
		IsSell:         isSell,
		SentToken:      req.SourceToken,
		SentAmount:     fill.Sent,
		ReceivedToken:  req.DestinationToken,
		ReceivedAmount: fill.Received,
		Exchange:       info.ExchangeName,
		Remaining:      units.AbsDiff(s.ledger.RealUnit(component), c.normalizedTarget(s, component)),
		Timestamp:      now,
	}
}

// finish 在锁外记录日志、指标并分发回执。
func (c *Controller) finish(ctx context.Context, op string, index, component common.Address, r TradeReceipt, err error) {
	if err != nil {
		class := Classify(err)
		c.observer.ObserveReject(class.String())
		c.log.Warn("trade rejected",
			zap.String("op", op),
			zap.String("index", index.Hex()),
			zap.String("component", component.Hex()),
			zap.String("class", class.String()),
			zap.Error(err))
		return
	}
	notional := r.ReceivedAmount
	if r.IsSell {
		notional = r.SentAmount
	}
	c.observer.ObserveTrade(component.Hex(), r.Side(), r.Exchange, units.Float(notional), units.Float(r.Remaining))
	c.log.Info("trade_event",
		zap.String("op", op),
		zap.String("id", r.ID),
		zap.String("index", index.Hex()),
		zap.String("component", component.Hex()),
		zap.String("side", r.Side()),
		zap.String("sent", units.Format(r.SentAmount)),
		zap.String("received", units.Format(r.ReceivedAmount)),
		zap.String("exchange", r.Exchange),
		zap.String("remaining", units.Format(r.Remaining)))
	for _, sink := range c.sinks {
		if err := sink.OnTrade(ctx, r); err != nil {
			c.log.Warn("receipt sink failed", zap.String("id", r.ID), zap.Error(err))
		}
	}
}

func coolOffElapsed(info *ExecutionInfo, now time.Time) error {
	if info.LastTradeTimestamp.IsZero() {
		return nil
	}
	if elapsed := now.Sub(info.LastTradeTimestamp); elapsed < info.CoolOffPeriod {
		return fmt.Errorf("%w: %s of %s elapsed", ErrCoolOffNotElapsed, elapsed, info.CoolOffPeriod)
	}
	return nil
}
