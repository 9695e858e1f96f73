package keeper

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"index-rebalancer/adapter"
	"index-rebalancer/ledger"
)

// ErrNoQuoteSource 场所没有注册报价来源。
var ErrNoQuoteSource = errors.New("no quote source for exchange")

// Quoter 按场所名给出路径上的逐跳数量。
type Quoter interface {
	AmountsOut(exchange string, amountIn *big.Int, path []common.Address) ([]*big.Int, error)
	AmountsIn(exchange string, amountOut *big.Int, path []common.Address) ([]*big.Int, error)
}

// QuoteSource 由 amm.Factory 与 splitter.Splitter 实现。
type QuoteSource interface {
	GetAmountsOut(r ledger.BalanceReader, amountIn *big.Int, path []common.Address) ([]*big.Int, error)
	GetAmountsIn(r ledger.BalanceReader, amountOut *big.Int, path []common.Address) ([]*big.Int, error)
}

// Snapshotter 提供报价用的余额快照。
type Snapshotter interface {
	Snapshot() ledger.BalanceReader
}

// PoolQuoter 在宿主余额快照上对进程内的池子报价。
type PoolQuoter struct {
	host    Snapshotter
	mu      sync.RWMutex
	sources map[string]QuoteSource
}

func NewPoolQuoter(host Snapshotter) *PoolQuoter {
	return &PoolQuoter{host: host, sources: make(map[string]QuoteSource)}
}

// Register 绑定场所名与报价来源，重复注册会覆盖。
func (q *PoolQuoter) Register(exchange string, src QuoteSource) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sources[exchange] = src
}

func (q *PoolQuoter) source(exchange string) (QuoteSource, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	src, ok := q.sources[exchange]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoQuoteSource, exchange)
	}
	return src, nil
}

func (q *PoolQuoter) AmountsOut(exchange string, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	src, err := q.source(exchange)
	if err != nil {
		return nil, err
	}
	return src.GetAmountsOut(q.host.Snapshot(), amountIn, path)
}

func (q *PoolQuoter) AmountsIn(exchange string, amountOut *big.Int, path []common.Address) ([]*big.Int, error) {
	src, err := q.source(exchange)
	if err != nil {
		return nil, err
	}
	return src.GetAmountsIn(q.host.Snapshot(), amountOut, path)
}

// route 与 UniswapV2 适配器取相同的路径：交易数据可解码且端点一致时用自定义路径。
func route(data []byte, src, dst common.Address) []common.Address {
	if len(data) > 0 {
		if p, err := adapter.DecodePath(data); err == nil && len(p) >= 2 && p[0] == src && p[len(p)-1] == dst {
			return p
		}
	}
	return []common.Address{src, dst}
}
