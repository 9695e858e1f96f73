package ledger

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrNegativeAmount        = errors.New("negative amount")
)

// BalanceReader 只读余额视图。Host（已提交状态）与 State（执行中的日志视图）都实现该接口。
type BalanceReader interface {
	BalanceOf(holder, asset common.Address) *big.Int
}

type balanceKey struct {
	holder common.Address
	asset  common.Address
}

type allowanceKey struct {
	asset   common.Address
	owner   common.Address
	spender common.Address
}

// State 是一次外部调用期间的可回滚余额视图：写入只落在 dirty 集合，Commit 时才写回 Host。
type State struct {
	base       map[balanceKey]*big.Int
	dirty      map[balanceKey]*big.Int
	allowances map[allowanceKey]*big.Int
}

func newState(base map[balanceKey]*big.Int) *State {
	return &State{
		base:       base,
		dirty:      make(map[balanceKey]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
	}
}

// BalanceOf 返回持有人的资产余额（副本）。
func (s *State) BalanceOf(holder, asset common.Address) *big.Int {
	k := balanceKey{holder, asset}
	if v, ok := s.dirty[k]; ok {
		return new(big.Int).Set(v)
	}
	if v, ok := s.base[k]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// Transfer 从 from 转出 amount 到 to。
func (s *State) Transfer(asset, from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	fromBal := s.BalanceOf(from, asset)
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s of %s, needs %s", ErrInsufficientBalance, from.Hex(), fromBal, asset.Hex(), amount)
	}
	s.dirty[balanceKey{from, asset}] = fromBal.Sub(fromBal, amount)
	toBal := s.BalanceOf(to, asset)
	s.dirty[balanceKey{to, asset}] = toBal.Add(toBal, amount)
	return nil
}

// Approve 设置 spender 可代 owner 转出的额度。额度只在本次调用内有效。
func (s *State) Approve(asset, owner, spender common.Address, amount *big.Int) {
	s.allowances[allowanceKey{asset, owner, spender}] = new(big.Int).Set(amount)
}

// Allowance 返回剩余额度。
func (s *State) Allowance(asset, owner, spender common.Address) *big.Int {
	if v, ok := s.allowances[allowanceKey{asset, owner, spender}]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// TransferFrom 由 spender 动用 owner 授予的额度转账。
func (s *State) TransferFrom(spender, asset, from, to common.Address, amount *big.Int) error {
	allowed := s.Allowance(asset, from, spender)
	if allowed.Cmp(amount) < 0 {
		return fmt.Errorf("%w: spender %s allowed %s, needs %s", ErrInsufficientAllowance, spender.Hex(), allowed, amount)
	}
	if err := s.Transfer(asset, from, to, amount); err != nil {
		return err
	}
	s.allowances[allowanceKey{asset, from, spender}] = allowed.Sub(allowed, amount)
	return nil
}

func (s *State) commit() {
	for k, v := range s.dirty {
		if v.Sign() == 0 {
			delete(s.base, k)
			continue
		}
		s.base[k] = v
	}
	s.dirty = make(map[balanceKey]*big.Int)
}
