package amm

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"index-rebalancer/ledger"
)

type pairKey struct {
	token0 common.Address
	token1 common.Address
}

// Factory 管理一族恒定乘积池。池的储备即池地址在 Host 上的余额。
type Factory struct {
	mu      sync.RWMutex
	address common.Address
	name    string
	pairs   map[pairKey]common.Address
}

// NewFactory 创建工厂，name 仅用于日志。
func NewFactory(name string, address common.Address) *Factory {
	return &Factory{
		address: address,
		name:    name,
		pairs:   make(map[pairKey]common.Address),
	}
}

func (f *Factory) Address() common.Address { return f.address }
func (f *Factory) Name() string            { return f.name }

// PairFor 计算池地址：keccak256(factory, token0, token1) 的后 20 字节。
func (f *Factory) PairFor(a, b common.Address) (common.Address, error) {
	t0, t1, err := SortTokens(a, b)
	if err != nil {
		return common.Address{}, err
	}
	h := crypto.Keccak256(f.address.Bytes(), t0.Bytes(), t1.Bytes())
	return common.BytesToAddress(h[12:]), nil
}

// CreatePair 注册交易对。
func (f *Factory) CreatePair(a, b common.Address) (common.Address, error) {
	t0, t1, err := SortTokens(a, b)
	if err != nil {
		return common.Address{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	k := pairKey{t0, t1}
	if _, ok := f.pairs[k]; ok {
		return common.Address{}, fmt.Errorf("%w: %s/%s", ErrPairExists, t0.Hex(), t1.Hex())
	}
	addr, err := f.PairFor(t0, t1)
	if err != nil {
		return common.Address{}, err
	}
	f.pairs[k] = addr
	return addr, nil
}

// GetPair 查询交易对地址。
func (f *Factory) GetPair(a, b common.Address) (common.Address, bool) {
	t0, t1, err := SortTokens(a, b)
	if err != nil {
		return common.Address{}, false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	addr, ok := f.pairs[pairKey{t0, t1}]
	return addr, ok
}

// HasPath 判断路径上每一跳是否都有池。
func (f *Factory) HasPath(path []common.Address) bool {
	if len(path) < 2 {
		return false
	}
	for i := 0; i < len(path)-1; i++ {
		if _, ok := f.GetPair(path[i], path[i+1]); !ok {
			return false
		}
	}
	return true
}

// Seed 创建（或复用）交易对并注入流动性。
func (f *Factory) Seed(h *ledger.Host, a, b common.Address, amountA, amountB *big.Int) (common.Address, error) {
	pair, ok := f.GetPair(a, b)
	if !ok {
		var err error
		if pair, err = f.CreatePair(a, b); err != nil {
			return common.Address{}, err
		}
	}
	h.Credit(pair, a, amountA)
	h.Credit(pair, b, amountB)
	return pair, nil
}

// GetReserves 返回按 (a, b) 顺序的储备。
func (f *Factory) GetReserves(r ledger.BalanceReader, a, b common.Address) (*big.Int, *big.Int, error) {
	pair, ok := f.GetPair(a, b)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s %s/%s", ErrPairNotFound, f.name, a.Hex(), b.Hex())
	}
	return r.BalanceOf(pair, a), r.BalanceOf(pair, b), nil
}

// GetAmountsOut 沿路径逐跳计算输出。
func (f *Factory) GetAmountsOut(r ledger.BalanceReader, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	if len(path) < 2 {
		return nil, ErrInvalidPath
	}
	amounts := make([]*big.Int, len(path))
	amounts[0] = new(big.Int).Set(amountIn)
	for i := 0; i < len(path)-1; i++ {
		rIn, rOut, err := f.GetReserves(r, path[i], path[i+1])
		if err != nil {
			return nil, err
		}
		if amounts[i+1], err = GetAmountOut(amounts[i], rIn, rOut); err != nil {
			return nil, err
		}
	}
	return amounts, nil
}

// GetAmountsIn 自路径末端反推各跳所需输入。
func (f *Factory) GetAmountsIn(r ledger.BalanceReader, amountOut *big.Int, path []common.Address) ([]*big.Int, error) {
	if len(path) < 2 {
		return nil, ErrInvalidPath
	}
	amounts := make([]*big.Int, len(path))
	amounts[len(path)-1] = new(big.Int).Set(amountOut)
	for i := len(path) - 1; i > 0; i-- {
		rIn, rOut, err := f.GetReserves(r, path[i-1], path[i])
		if err != nil {
			return nil, err
		}
		if amounts[i-1], err = GetAmountIn(amounts[i], rIn, rOut); err != nil {
			return nil, err
		}
	}
	return amounts, nil
}

// Swap 假定 amounts[0] 已转入首个池，逐跳把输出转给下一跳的池或最终接收人。
func (f *Factory) Swap(s *ledger.State, amounts []*big.Int, path []common.Address, to common.Address) error {
	for i := 0; i < len(path)-1; i++ {
		pair, ok := f.GetPair(path[i], path[i+1])
		if !ok {
			return fmt.Errorf("%w: %s %s/%s", ErrPairNotFound, f.name, path[i].Hex(), path[i+1].Hex())
		}
		dest := to
		if i < len(path)-2 {
			next, ok := f.GetPair(path[i+1], path[i+2])
			if !ok {
				return fmt.Errorf("%w: %s %s/%s", ErrPairNotFound, f.name, path[i+1].Hex(), path[i+2].Hex())
			}
			dest = next
		}
		if err := s.Transfer(path[i+1], pair, dest, amounts[i+1]); err != nil {
			return err
		}
	}
	return nil
}

// FirstPair 返回路径首跳的池地址。
func (f *Factory) FirstPair(path []common.Address) (common.Address, error) {
	if len(path) < 2 {
		return common.Address{}, ErrInvalidPath
	}
	pair, ok := f.GetPair(path[0], path[1])
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s %s/%s", ErrPairNotFound, f.name, path[0].Hex(), path[1].Hex())
	}
	return pair, nil
}
