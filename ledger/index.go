// Package ledger 是再平衡核心的外部协作方：指数持仓账本与执行外部场所调用的宿主。
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"index-rebalancer/units"
)

var (
	ErrComponentNotEmpty = errors.New("component unit is not zero")
	ErrNotComponent      = errors.New("asset is not a component")
	ErrNegativeUnit      = errors.New("unit would become negative")
	ErrInvalidMultiplier = errors.New("position multiplier must be > 0")
)

// PositionLedger 是控制器唯一依赖的持仓接口：读取当前真实单位、请求单位变化、发起外部调用。
type PositionLedger interface {
	Address() common.Address
	Manager() common.Address
	Components() []common.Address
	IsComponent(asset common.Address) bool
	PositionMultiplier() *big.Int
	TotalSupply() *big.Int
	RealUnit(asset common.Address) *big.Int
	EditUnit(asset common.Address, delta *big.Int) error
	RemoveComponent(asset common.Address) error
	Balance(asset common.Address) *big.Int
	Invoke(ctx context.Context, call Call, check func(Fill) error) (Fill, error)
}

// Position 是一个成分资产的真实单位（每 1e18 份额持有量）。
type Position struct {
	Component common.Address
	Unit      *big.Int
}

// IndexConfig 用于构造内存指数。
type IndexConfig struct {
	Address            common.Address
	Manager            common.Address
	TotalSupply        *big.Int
	PositionMultiplier *big.Int
	Positions          []Position
}

// Index 是内存实现的指数账本。真实单位直接存储；乘数变化时统一重算。
type Index struct {
	mu         sync.RWMutex
	address    common.Address
	manager    common.Address
	supply     *big.Int
	multiplier *big.Int
	components []common.Address
	units      map[common.Address]*big.Int
	host       *Host
}

// NewIndex 创建指数并向 Host 记入与单位匹配的托管余额（向上取整，与发行时的计算一致）。
func NewIndex(cfg IndexConfig, host *Host) (*Index, error) {
	if cfg.TotalSupply == nil || cfg.TotalSupply.Sign() < 0 {
		return nil, errors.New("total supply must be >= 0")
	}
	multiplier := cfg.PositionMultiplier
	if multiplier == nil {
		multiplier = units.PreciseUnit
	}
	if multiplier.Sign() <= 0 {
		return nil, ErrInvalidMultiplier
	}
	idx := &Index{
		address:    cfg.Address,
		manager:    cfg.Manager,
		supply:     new(big.Int).Set(cfg.TotalSupply),
		multiplier: new(big.Int).Set(multiplier),
		units:      make(map[common.Address]*big.Int),
		host:       host,
	}
	for _, p := range cfg.Positions {
		if _, dup := idx.units[p.Component]; dup {
			return nil, fmt.Errorf("duplicate component %s", p.Component.Hex())
		}
		if p.Unit == nil || p.Unit.Sign() <= 0 {
			return nil, fmt.Errorf("component %s unit must be > 0", p.Component.Hex())
		}
		idx.components = append(idx.components, p.Component)
		idx.units[p.Component] = new(big.Int).Set(p.Unit)
		if host != nil {
			host.Credit(cfg.Address, p.Component, units.PreciseMulCeil(p.Unit, cfg.TotalSupply))
		}
	}
	return idx, nil
}

func (i *Index) Address() common.Address { return i.address }
func (i *Index) Manager() common.Address { return i.manager }

// Components 返回有序的成分列表副本。
func (i *Index) Components() []common.Address {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]common.Address, len(i.components))
	copy(out, i.components)
	return out
}

func (i *Index) IsComponent(asset common.Address) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	_, ok := i.units[asset]
	return ok
}

func (i *Index) PositionMultiplier() *big.Int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return new(big.Int).Set(i.multiplier)
}

func (i *Index) TotalSupply() *big.Int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return new(big.Int).Set(i.supply)
}

// RealUnit 返回当前真实单位，非成分返回 0。
func (i *Index) RealUnit(asset common.Address) *big.Int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return units.Copy(i.units[asset])
}

// EditUnit 对真实单位加上 delta。单位由 0 变正时加入成分列表；
// 单位降为 0 时仍保留在列表中，需显式 RemoveComponent。
func (i *Index) EditUnit(asset common.Address, delta *big.Int) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	cur, ok := i.units[asset]
	if !ok {
		cur = new(big.Int)
	}
	next := new(big.Int).Add(cur, delta)
	if next.Sign() < 0 {
		return fmt.Errorf("%w: %s %s%+d", ErrNegativeUnit, asset.Hex(), cur, delta)
	}
	if !ok {
		if next.Sign() == 0 {
			return nil
		}
		i.components = append(i.components, asset)
	}
	i.units[asset] = next
	return nil
}

// RemoveComponent 仅在真实单位恰为 0 时移除成分。
func (i *Index) RemoveComponent(asset common.Address) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	cur, ok := i.units[asset]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotComponent, asset.Hex())
	}
	if cur.Sign() != 0 {
		return fmt.Errorf("%w: %s holds %s", ErrComponentNotEmpty, asset.Hex(), cur)
	}
	delete(i.units, asset)
	for k, c := range i.components {
		if c == asset {
			i.components = append(i.components[:k], i.components[k+1:]...)
			break
		}
	}
	return nil
}

// SetPositionMultiplier 模拟外部费用计提：按 新/旧 比例重算所有真实单位（向下取整）。
func (i *Index) SetPositionMultiplier(m *big.Int) error {
	if m == nil || m.Sign() <= 0 {
		return ErrInvalidMultiplier
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	for asset, u := range i.units {
		scaled, err := units.MulDiv(u, m, i.multiplier)
		if err != nil {
			return err
		}
		i.units[asset] = scaled
	}
	i.multiplier = new(big.Int).Set(m)
	return nil
}

// Invoke 通过 Host 以指数身份执行外部调用。
func (i *Index) Invoke(ctx context.Context, call Call, check func(Fill) error) (Fill, error) {
	if i.host == nil {
		return Fill{}, errors.New("index has no host")
	}
	return i.host.Execute(ctx, i.address, call, check)
}

// Balance 返回指数托管的资产余额。
func (i *Index) Balance(asset common.Address) *big.Int {
	if i.host == nil {
		return new(big.Int)
	}
	return i.host.BalanceOf(i.address, asset)
}
