// Package keeper 定时扫描可交易的成分并代交易员提交交易：先卖、后买，
// 没有待卖成分时用剩余中转资产补足仍低于目标的成分。
package keeper

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"index-rebalancer/rebalance"
	"index-rebalancer/sizing"
)

const bpsDenominator = 10_000

// Controller 是 keeper 用到的 rebalance.Controller 方法。
type Controller interface {
	Indexes() []common.Address
	StagingAsset() common.Address
	RebalanceComponents(index common.Address) ([]common.Address, error)
	ComponentTradeQuantityAndDirection(index, component common.Address) (sizing.TradeSize, error)
	IsTradeReady(index, component common.Address) bool
	ExecutionInfo(index, component common.Address) (rebalance.ExecutionInfo, error)
	RemainingStagingQuantity(index common.Address) (*big.Int, error)
	Trade(ctx context.Context, caller, index, component common.Address, valueLimit *big.Int) (rebalance.TradeReceipt, error)
	TradeRemainingWETH(ctx context.Context, caller, index, component common.Address, minComponentReceived *big.Int) (rebalance.TradeReceipt, error)
}

// ScanObserver 接收扫描指标。
type ScanObserver interface {
	ObserveScan(seconds float64, ready int)
}

type Config struct {
	Schedule    string
	Trader      common.Address
	SlippageBps int64
	Logger      *zap.Logger
	Observer    ScanObserver
}

// 动作类型
const (
	OpSell           = "sell"
	OpBuy            = "buy"
	OpTradeRemaining = "trade_remaining"
)

// Action 是一次扫描中提交的一笔交易。
type Action struct {
	Index     common.Address
	Component common.Address
	Op        string
	Receipt   rebalance.TradeReceipt
	Err       error
}

// Keeper 由 cron 驱动；同一时刻最多一次扫描。
type Keeper struct {
	cron   *cron.Cron
	ctrl   Controller
	quoter Quoter
	cfg    Config
	logger *zap.Logger
	mu     sync.Mutex
	entry  cron.EntryID
	ctx    context.Context
	cancel context.CancelFunc
}

func New(ctrl Controller, quoter Quoter, cfg Config) (*Keeper, error) {
	if cfg.SlippageBps < 0 || cfg.SlippageBps >= bpsDenominator {
		return nil, fmt.Errorf("slippage bps must be in [0, %d), got %d", bpsDenominator, cfg.SlippageBps)
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 30s"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	k := &Keeper{
		cron:   cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger))),
		ctrl:   ctrl,
		quoter: quoter,
		cfg:    cfg,
		logger: logger.Named("keeper"),
	}
	id, err := k.cron.AddFunc(cfg.Schedule, k.tick)
	if err != nil {
		return nil, fmt.Errorf("register keeper scan: %w", err)
	}
	k.entry = id
	return k, nil
}

// Start 启动调度，ctx 取消后正在进行的扫描会尽快结束。
func (k *Keeper) Start(ctx context.Context) error {
	k.ctx, k.cancel = context.WithCancel(ctx)
	k.cron.Start()
	k.logger.Info("keeper started", zap.String("schedule", k.cfg.Schedule), zap.String("trader", k.cfg.Trader.Hex()))
	return nil
}

// Stop 停止调度并等待正在进行的扫描结束。
func (k *Keeper) Stop(ctx context.Context) error {
	if k.cancel != nil {
		k.cancel()
	}
	select {
	case <-k.cron.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	k.logger.Info("keeper stopped")
	return nil
}

// NextRun 返回下一次计划扫描时间，未启动时为零值。
func (k *Keeper) NextRun() time.Time {
	return k.cron.Entry(k.entry).Next
}

func (k *Keeper) tick() {
	ctx := k.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := k.Scan(ctx); err != nil {
		k.logger.Warn("keeper scan failed", zap.Error(err))
	}
}

// Scan 对所有已登记指数执行一轮扫描，返回提交过的交易（含失败的）。
func (k *Keeper) Scan(ctx context.Context) ([]Action, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	start := time.Now()
	var actions []Action
	ready := 0
	for _, index := range k.ctrl.Indexes() {
		if err := ctx.Err(); err != nil {
			return actions, err
		}
		acts, n, err := k.scanIndex(ctx, index)
		actions = append(actions, acts...)
		ready += n
		if err != nil {
			return actions, fmt.Errorf("scan %s: %w", index.Hex(), err)
		}
	}
	if k.cfg.Observer != nil {
		k.cfg.Observer.ObserveScan(time.Since(start).Seconds(), ready)
	}
	return actions, nil
}

type candidate struct {
	component common.Address
	size      sizing.TradeSize
	info      rebalance.ExecutionInfo
}

func (k *Keeper) scanIndex(ctx context.Context, index common.Address) ([]Action, int, error) {
	components, err := k.ctrl.RebalanceComponents(index)
	if err != nil {
		return nil, 0, err
	}
	staging := k.ctrl.StagingAsset()

	var sells, buys []candidate
	pendingSell := false
	for _, comp := range components {
		if comp == staging {
			continue
		}
		size, err := k.ctrl.ComponentTradeQuantityAndDirection(index, comp)
		if err != nil {
			// 未配置单笔上限的成分无法交易，跳过
			if errors.Is(err, sizing.ErrTradeMaximumUnset) {
				continue
			}
			return nil, 0, err
		}
		if size.IsZero() {
			continue
		}
		if size.IsSell {
			pendingSell = true
		}
		if !k.ctrl.IsTradeReady(index, comp) {
			continue
		}
		info, err := k.ctrl.ExecutionInfo(index, comp)
		if err != nil {
			return nil, 0, err
		}
		c := candidate{component: comp, size: size, info: info}
		if size.IsSell {
			sells = append(sells, c)
		} else {
			buys = append(buys, c)
		}
	}

	ready := len(sells) + len(buys)
	var actions []Action
	for _, c := range sells {
		actions = append(actions, k.sell(ctx, index, staging, c))
	}
	// 卖出所得到账之前不买
	if pendingSell {
		return actions, ready, nil
	}
	for _, c := range buys {
		actions = append(actions, k.buy(ctx, index, staging, c))
	}
	return actions, ready, nil
}

func (k *Keeper) sell(ctx context.Context, index, staging common.Address, c candidate) Action {
	act := Action{Index: index, Component: c.component, Op: OpSell}
	path := route(c.info.ExchangeData, c.component, staging)
	amounts, err := k.quoter.AmountsOut(c.info.ExchangeName, c.size.Notional, path)
	if err != nil {
		act.Err = fmt.Errorf("quote sell: %w", err)
		k.report(act)
		return act
	}
	minOut := k.floor(amounts[len(amounts)-1])
	act.Receipt, act.Err = k.ctrl.Trade(ctx, k.cfg.Trader, index, c.component, minOut)
	k.report(act)
	return act
}

func (k *Keeper) buy(ctx context.Context, index, staging common.Address, c candidate) Action {
	path := route(c.info.ExchangeData, staging, c.component)

	// 剩余中转资产能一次补完且不越过目标时走 TradeRemainingWETH
	if excess, err := k.ctrl.RemainingStagingQuantity(index); err == nil && excess.Sign() > 0 {
		if amounts, err := k.quoter.AmountsOut(c.info.ExchangeName, excess, path); err == nil {
			out := amounts[len(amounts)-1]
			if out.Sign() > 0 && out.Cmp(c.size.Notional) <= 0 {
				act := Action{Index: index, Component: c.component, Op: OpTradeRemaining}
				act.Receipt, act.Err = k.ctrl.TradeRemainingWETH(ctx, k.cfg.Trader, index, c.component, k.floor(out))
				k.report(act)
				return act
			}
		}
	}

	act := Action{Index: index, Component: c.component, Op: OpBuy}
	amounts, err := k.quoter.AmountsIn(c.info.ExchangeName, c.size.Notional, path)
	if err != nil {
		act.Err = fmt.Errorf("quote buy: %w", err)
		k.report(act)
		return act
	}
	act.Receipt, act.Err = k.ctrl.Trade(ctx, k.cfg.Trader, index, c.component, k.ceil(amounts[0]))
	k.report(act)
	return act
}

func (k *Keeper) report(a Action) {
	if a.Err != nil {
		k.logger.Warn("keeper trade failed",
			zap.String("index", a.Index.Hex()),
			zap.String("component", a.Component.Hex()),
			zap.String("op", a.Op),
			zap.String("class", rebalance.Classify(a.Err).String()),
			zap.Error(a.Err))
		return
	}
	k.logger.Debug("keeper trade submitted",
		zap.String("index", a.Index.Hex()),
		zap.String("component", a.Component.Hex()),
		zap.String("op", a.Op),
		zap.String("receipt", a.Receipt.ID))
}

// floor 返回 v × (1 - bps)，向下取整。
func (k *Keeper) floor(v *big.Int) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(bpsDenominator-k.cfg.SlippageBps))
	return out.Quo(out, big.NewInt(bpsDenominator))
}

// ceil 返回 v × (1 + bps)，向上取整。
func (k *Keeper) ceil(v *big.Int) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(bpsDenominator+k.cfg.SlippageBps))
	out.Add(out, big.NewInt(bpsDenominator-1))
	return out.Quo(out, big.NewInt(bpsDenominator))
}
