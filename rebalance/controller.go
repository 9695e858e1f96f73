// Package rebalance 是指数再平衡的执行引擎：持有每个指数的成分目标、授权名单与冷却期状态，
// 按单笔上限把当前单位逐步推向目标单位。
package rebalance

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"index-rebalancer/ledger"
	"index-rebalancer/units"
)

// Config 控制器配置。
type Config struct {
	Module       string         // 在集成注册表中的模块名
	StagingAsset common.Address // 卖出所得累积、买入所用的中转资产（WETH）
	Resolver     Resolver
	Clock        Clock
	Logger       *zap.Logger
	Observer     Observer
	Sinks        []ReceiptSink
	// DeadlineBuffer 加到当前时间上作为场所调用的截止时间
	DeadlineBuffer time.Duration
}

// Controller 是再平衡控制器。所有入口由同一把锁串行化。
type Controller struct {
	mu             sync.Mutex
	module         string
	staging        common.Address
	resolver       Resolver
	clock          Clock
	log            *zap.Logger
	observer       Observer
	sinks          []ReceiptSink
	deadlineBuffer time.Duration
	indexes        map[common.Address]*indexState
}

func New(cfg Config) (*Controller, error) {
	if cfg.Resolver == nil {
		return nil, errors.New("adapter resolver is required")
	}
	if cfg.StagingAsset == (common.Address{}) {
		return nil, fmt.Errorf("%w: staging asset", ErrZeroAddress)
	}
	c := &Controller{
		module:         cfg.Module,
		staging:        cfg.StagingAsset,
		resolver:       cfg.Resolver,
		clock:          cfg.Clock,
		log:            cfg.Logger,
		observer:       cfg.Observer,
		sinks:          cfg.Sinks,
		deadlineBuffer: cfg.DeadlineBuffer,
		indexes:        make(map[common.Address]*indexState),
	}
	if c.clock == nil {
		c.clock = SystemClock
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if c.observer == nil {
		c.observer = nopObserver{}
	}
	return c, nil
}

// StagingAsset 返回中转资产。
func (c *Controller) StagingAsset() common.Address { return c.staging }

// Module 返回注册表模块名。
func (c *Controller) Module() string { return c.module }

// Initialize 由指数管理人调用，登记指数：当前成分的目标即当前单位，并记录乘数快照。
func (c *Controller) Initialize(caller common.Address, l ledger.PositionLedger) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if caller != l.Manager() {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller.Hex())
	}
	if _, ok := c.indexes[l.Address()]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyInitialized, l.Address().Hex())
	}
	if err := ValidateTransition(StateUninitialized, StateIdle); err != nil {
		return err
	}
	s := &indexState{
		ledger:         l,
		multiplier:     l.PositionMultiplier(),
		raiseTargetPct: new(big.Int),
		execution:      make(map[common.Address]*ExecutionInfo),
		traderAllowed:  make(map[common.Address]bool),
		status:         StateIdle,
	}
	for _, comp := range l.Components() {
		s.info(comp).TargetUnit = l.RealUnit(comp)
	}
	c.indexes[l.Address()] = s
	c.log.Info("index initialized",
		zap.String("index", l.Address().Hex()),
		zap.Int("components", len(s.execution)))
	return nil
}

// RemoveIndex 清除指数的全部再平衡状态。
func (c *Controller) RemoveIndex(caller, index common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.managed(caller, index)
	if err != nil {
		return err
	}
	if err := ValidateTransition(s.status, StateUninitialized); err != nil {
		return err
	}
	delete(c.indexes, index)
	c.log.Info("index removed", zap.String("index", index.Hex()))
	return nil
}

// StartRebalance 开启新一轮再平衡。
//
// oldTargets 按指数当前成分顺序给出目标；newComponents 为新加入的成分。
// positionMultiplier 必须等于指数的当前乘数。各成分的上次交易时间不会被重置。
func (c *Controller) StartRebalance(caller, index common.Address, newComponents []common.Address, newTargets, oldTargets []*big.Int, positionMultiplier *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.managed(caller, index)
	if err != nil {
		return err
	}
	if len(newComponents) != len(newTargets) {
		return fmt.Errorf("%w: %d components, %d targets", ErrArrayLengthMismatch, len(newComponents), len(newTargets))
	}
	current := s.ledger.Components()
	if len(oldTargets) != len(current) {
		return fmt.Errorf("%w: %d components, %d targets", ErrOldTargetsMissing, len(current), len(oldTargets))
	}
	live := s.ledger.PositionMultiplier()
	if positionMultiplier == nil || positionMultiplier.Cmp(live) != 0 {
		return fmt.Errorf("%w: got %s, live %s", ErrStaleMultiplier, positionMultiplier, live)
	}

	aggregate := append(append([]common.Address{}, current...), newComponents...)
	targets := append(append([]*big.Int{}, oldTargets...), newTargets...)
	if err := validateAddresses(aggregate); err != nil {
		return err
	}
	for i, t := range targets {
		if t == nil || t.Sign() < 0 {
			return fmt.Errorf("%w: target for %s", ErrNegativeValue, aggregate[i].Hex())
		}
	}

	for i, comp := range aggregate {
		s.info(comp).TargetUnit = new(big.Int).Set(targets[i])
	}
	s.components = aggregate
	s.multiplier = new(big.Int).Set(positionMultiplier)

	if err := c.refreshStatus(s); err != nil {
		return err
	}
	c.observer.ObserveRound()
	c.log.Info("rebalance started",
		zap.String("index", index.Hex()),
		zap.Int("components", len(aggregate)),
		zap.String("multiplier", positionMultiplier.String()),
		zap.String("state", string(s.status)))
	return nil
}

// SetTradeMaximums 设置各成分的单笔最大单位差。
func (c *Controller) SetTradeMaximums(caller, index common.Address, components []common.Address, maximums []*big.Int) error {
	return c.configure(caller, index, components, len(maximums), func(s *indexState, i int, comp common.Address) error {
		if maximums[i] == nil || maximums[i].Sign() < 0 {
			return fmt.Errorf("%w: trade maximum for %s", ErrNegativeValue, comp.Hex())
		}
		s.info(comp).MaxSize = new(big.Int).Set(maximums[i])
		return nil
	})
}

// SetExchanges 设置各成分使用的交易场所名称。中转资产本身不交易，可以留空。
func (c *Controller) SetExchanges(caller, index common.Address, components []common.Address, names []string) error {
	return c.configure(caller, index, components, len(names), func(s *indexState, i int, comp common.Address) error {
		if comp != c.staging {
			if names[i] == "" {
				return fmt.Errorf("%w: %s", ErrEmptyExchangeName, comp.Hex())
			}
			if !c.resolver.IsValid(c.module, names[i]) {
				_, err := c.resolver.Get(c.module, names[i])
				return err
			}
		}
		s.info(comp).ExchangeName = names[i]
		return nil
	})
}

// SetCoolOffPeriods 设置各成分两次交易之间的最短间隔。
func (c *Controller) SetCoolOffPeriods(caller, index common.Address, components []common.Address, periods []time.Duration) error {
	return c.configure(caller, index, components, len(periods), func(s *indexState, i int, comp common.Address) error {
		if periods[i] < 0 {
			return fmt.Errorf("%w: cool off for %s", ErrNegativeValue, comp.Hex())
		}
		s.info(comp).CoolOffPeriod = periods[i]
		return nil
	})
}

// SetExchangeData 设置交给适配器的场所数据。
func (c *Controller) SetExchangeData(caller, index common.Address, components []common.Address, data [][]byte) error {
	return c.configure(caller, index, components, len(data), func(s *indexState, i int, comp common.Address) error {
		s.info(comp).ExchangeData = append([]byte(nil), data[i]...)
		return nil
	})
}

// configure 校验数组后先逐项检查再统一写入，保证失败时不留下部分修改。
func (c *Controller) configure(caller, index common.Address, components []common.Address, n int, apply func(*indexState, int, common.Address) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.managed(caller, index)
	if err != nil {
		return err
	}
	if err := validatePairs(components, n); err != nil {
		return err
	}
	staged := &indexState{execution: make(map[common.Address]*ExecutionInfo, len(components))}
	for _, comp := range components {
		if e, ok := s.execution[comp]; ok {
			cp := e.clone()
			staged.execution[comp] = &cp
		}
	}
	for i, comp := range components {
		if err := apply(staged, i, comp); err != nil {
			return err
		}
	}
	for comp, e := range staged.execution {
		s.execution[comp] = e
	}
	return nil
}

// SetTraderStatus 批量设置交易员白名单。
func (c *Controller) SetTraderStatus(caller, index common.Address, traders []common.Address, statuses []bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.managed(caller, index)
	if err != nil {
		return err
	}
	if err := validatePairs(traders, len(statuses)); err != nil {
		return err
	}
	for i, trader := range traders {
		allowed := statuses[i]
		if allowed == s.traderAllowed[trader] {
			continue
		}
		if allowed {
			s.traders = append(s.traders, trader)
		} else {
			for k, t := range s.traders {
				if t == trader {
					s.traders = append(s.traders[:k], s.traders[k+1:]...)
					break
				}
			}
		}
		s.traderAllowed[trader] = allowed
		c.log.Info("trader status updated",
			zap.String("index", index.Hex()),
			zap.String("trader", trader.Hex()),
			zap.Bool("allowed", allowed))
	}
	return nil
}

// SetAnyoneTrade 开关任意地址可交易。
func (c *Controller) SetAnyoneTrade(caller, index common.Address, status bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.managed(caller, index)
	if err != nil {
		return err
	}
	s.anyoneTrade = status
	c.log.Info("anyone trade updated", zap.String("index", index.Hex()), zap.Bool("status", status))
	return nil
}

// SetRaiseTargetPercentage 设置 RaiseAssetTargets 每次抬高目标的比例（1e18 = 100%）。
func (c *Controller) SetRaiseTargetPercentage(caller, index common.Address, pct *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.managed(caller, index)
	if err != nil {
		return err
	}
	if pct == nil || pct.Sign() <= 0 {
		return ErrInvalidPercentage
	}
	s.raiseTargetPct = new(big.Int).Set(pct)
	return nil
}

// RemoveComponent 移除单位已归零的成分。
func (c *Controller) RemoveComponent(caller, index, component common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.managed(caller, index)
	if err != nil {
		return err
	}
	if err := s.ledger.RemoveComponent(component); err != nil {
		return err
	}
	for k, comp := range s.components {
		if comp == component {
			s.components = append(s.components[:k], s.components[k+1:]...)
			break
		}
	}
	c.log.Info("component removed", zap.String("index", index.Hex()), zap.String("component", component.Hex()))
	return nil
}

func (c *Controller) lookup(index common.Address) (*indexState, error) {
	s, ok := c.indexes[index]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotInitialized, index.Hex())
	}
	return s, nil
}

func (c *Controller) managed(caller, index common.Address) (*indexState, error) {
	s, err := c.lookup(index)
	if err != nil {
		return nil, err
	}
	if caller != s.ledger.Manager() {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, caller.Hex())
	}
	return s, nil
}

func (c *Controller) tradable(caller, index common.Address) (*indexState, error) {
	s, err := c.lookup(index)
	if err != nil {
		return nil, err
	}
	if !s.anyoneTrade && !s.traderAllowed[caller] {
		return nil, fmt.Errorf("%w: %s", ErrNotAllowedTrader, caller.Hex())
	}
	return s, nil
}

// refreshStatus 根据当前单位重新判定轮次状态。
func (c *Controller) refreshStatus(s *indexState) error {
	next := StateIdle
	if !c.allTargetsMet(s) {
		next = StateRebalancing
	}
	if err := ValidateTransition(s.status, next); err != nil {
		return err
	}
	if next != s.status {
		c.log.Info("round state changed",
			zap.String("index", s.ledger.Address().Hex()),
			zap.String("from", string(s.status)),
			zap.String("to", string(next)))
	}
	s.status = next
	return nil
}

func validatePairs(addrs []common.Address, n int) error {
	if len(addrs) == 0 {
		return ErrEmptyArray
	}
	if len(addrs) != n {
		return fmt.Errorf("%w: %d addresses, %d values", ErrArrayLengthMismatch, len(addrs), n)
	}
	return validateAddresses(addrs)
}

func validateAddresses(addrs []common.Address) error {
	seen := make(map[common.Address]struct{}, len(addrs))
	for _, a := range addrs {
		if a == (common.Address{}) {
			return ErrZeroAddress
		}
		if _, dup := seen[a]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateComponent, a.Hex())
		}
		seen[a] = struct{}{}
	}
	return nil
}

// normalizedTarget 返回按当前乘数换算后的目标单位：target × 当前乘数 / 快照乘数。
func (c *Controller) normalizedTarget(s *indexState, component common.Address) *big.Int {
	e, ok := s.execution[component]
	if !ok || e.TargetUnit.Sign() == 0 {
		return new(big.Int)
	}
	out, err := units.MulDiv(e.TargetUnit, s.ledger.PositionMultiplier(), s.multiplier)
	if err != nil {
		return new(big.Int)
	}
	return out
}

// targetUnmet 判断非中转成分是否仍偏离目标，tolerance 为允许的绝对误差。
func (c *Controller) targetUnmet(s *indexState, component common.Address, tolerance int64) bool {
	if component == c.staging {
		return false
	}
	target := c.normalizedTarget(s, component)
	current := s.ledger.RealUnit(component)
	if target.Sign() > 0 {
		return units.AbsDiff(target, current).Cmp(big.NewInt(tolerance)) > 0
	}
	return current.Sign() != 0
}

// allTargetsMet 要求每个非中转成分的当前单位与目标完全相等，决定轮次状态。
func (c *Controller) allTargetsMet(s *indexState) bool {
	for _, comp := range s.components {
		if c.targetUnmet(s, comp, 0) {
			return false
		}
	}
	return true
}

// targetsNearlyMet 允许非零目标存在 1 的舍入误差，仅用于抬高目标的前置判断。
func (c *Controller) targetsNearlyMet(s *indexState) bool {
	for _, comp := range s.components {
		if c.targetUnmet(s, comp, 1) {
			return false
		}
	}
	return true
}
