// Package recorder 持久化成交回执，供事后审计与对账。
package recorder

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"index-rebalancer/rebalance"
)

// Recorder 同时是 rebalance.ReceiptSink。
type Recorder interface {
	OnTrade(ctx context.Context, r rebalance.TradeReceipt) error
	Trades(ctx context.Context, index common.Address, limit int) ([]rebalance.TradeReceipt, error)
	Close() error
}

// New 按驱动名创建记录器，未知驱动退化为 noop。
func New(driver, path string) (Recorder, error) {
	if driver == "sqlite" {
		return NewSQLiteRecorder(path)
	}
	return NewNoopRecorder(), nil
}
