package rebalance

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"index-rebalancer/adapter"
	"index-rebalancer/ledger"
	"index-rebalancer/units"
)

// ExecutionInfo 是单个成分的执行参数（即成分状态）。
type ExecutionInfo struct {
	TargetUnit         *big.Int // 轮次开始时乘数口径下的目标单位
	MaxSize            *big.Int // 单笔最大单位差
	CoolOffPeriod      time.Duration
	LastTradeTimestamp time.Time
	ExchangeName       string
	ExchangeData       []byte
}

func (e *ExecutionInfo) clone() ExecutionInfo {
	out := *e
	out.TargetUnit = units.Copy(e.TargetUnit)
	out.MaxSize = units.Copy(e.MaxSize)
	out.ExchangeData = append([]byte(nil), e.ExchangeData...)
	return out
}

// TradeReceipt 是一笔成功交易的回执。
type TradeReceipt struct {
	ID             string
	Index          common.Address
	Component      common.Address
	IsSell         bool
	SentToken      common.Address
	SentAmount     *big.Int
	ReceivedToken  common.Address
	ReceivedAmount *big.Int
	Exchange       string
	Remaining      *big.Int // 交易后 |当前单位-目标单位|
	Timestamp      time.Time
}

// Side 返回 "sell" 或 "buy"。
func (r TradeReceipt) Side() string {
	if r.IsSell {
		return "sell"
	}
	return "buy"
}

// Resolver 按名称解析交易适配器，adapter.Registry 实现此接口。
type Resolver interface {
	Get(module, name string) (adapter.IndexExchangeAdapter, error)
	IsValid(module, name string) bool
}

// Observer 接收指标事件。
type Observer interface {
	ObserveTrade(component, side, exchange string, notional, remaining float64)
	ObserveReject(reason string)
	ObserveRound()
}

// ReceiptSink 接收成交回执，例如交易记录与推送。
type ReceiptSink interface {
	OnTrade(ctx context.Context, r TradeReceipt) error
}

type nopObserver struct{}

func (nopObserver) ObserveTrade(string, string, string, float64, float64) {}
func (nopObserver) ObserveReject(string)                                  {}
func (nopObserver) ObserveRound()                                         {}

// indexState 是单个指数的再平衡聚合：账本句柄、成分状态、交易员名单。
type indexState struct {
	ledger         ledger.PositionLedger
	components     []common.Address
	multiplier     *big.Int // 轮次开始时的乘数快照
	raiseTargetPct *big.Int
	execution      map[common.Address]*ExecutionInfo
	traders        []common.Address
	traderAllowed  map[common.Address]bool
	anyoneTrade    bool
	status         RoundState
}

// peek 返回成分执行参数，缺失时返回零值且不登记。
func (s *indexState) peek(component common.Address) *ExecutionInfo {
	if e, ok := s.execution[component]; ok {
		return e
	}
	return &ExecutionInfo{TargetUnit: new(big.Int), MaxSize: new(big.Int)}
}

func (s *indexState) info(component common.Address) *ExecutionInfo {
	e, ok := s.execution[component]
	if !ok {
		e = &ExecutionInfo{TargetUnit: new(big.Int), MaxSize: new(big.Int)}
		s.execution[component] = e
	}
	return e
}

func (s *indexState) inRebalance(component common.Address) bool {
	for _, c := range s.components {
		if c == component {
			return true
		}
	}
	return false
}
