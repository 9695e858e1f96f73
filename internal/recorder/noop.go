package recorder

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"index-rebalancer/rebalance"
)

// NoopRecorder is used when no database is configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) OnTrade(context.Context, rebalance.TradeReceipt) error { return nil }
func (n *NoopRecorder) Trades(context.Context, common.Address, int) ([]rebalance.TradeReceipt, error) {
	return nil, nil
}
func (n *NoopRecorder) Close() error { return nil }
