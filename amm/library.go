// Package amm 实现恒定乘积（x·y=k）流动性池、工厂与路由合约，路由可在 ledger.Host 上执行。
package amm

import (
	"bytes"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// 0.3% 手续费：有效输入 = amountIn × 997 / 1000。
const (
	FeeNumerator   = 997
	FeeDenominator = 1000
)

var (
	ErrInsufficientOutputAmount = errors.New("insufficient output amount")
	ErrExcessiveInputAmount     = errors.New("excessive input amount")
	ErrInsufficientInputAmount  = errors.New("insufficient input amount")
	ErrInsufficientLiquidity    = errors.New("insufficient liquidity")
	ErrIdenticalAddresses       = errors.New("identical addresses")
	ErrPairExists               = errors.New("pair exists")
	ErrPairNotFound             = errors.New("pair not found")
	ErrInvalidPath              = errors.New("invalid path")
	ErrExpired                  = errors.New("deadline expired")
	ErrUnknownMethod            = errors.New("unknown method selector")
)

var (
	feeNum = big.NewInt(FeeNumerator)
	feeDen = big.NewInt(FeeDenominator)
	one    = big.NewInt(1)
)

// SortTokens 按地址字节序排序。
func SortTokens(a, b common.Address) (common.Address, common.Address, error) {
	switch bytes.Compare(a.Bytes(), b.Bytes()) {
	case 0:
		return common.Address{}, common.Address{}, ErrIdenticalAddresses
	case 1:
		return b, a, nil
	}
	return a, b, nil
}

// GetAmountOut 给定输入与储备，返回扣费后的最大输出。
func GetAmountOut(amountIn, reserveIn, reserveOut *big.Int) (*big.Int, error) {
	if amountIn.Sign() <= 0 {
		return nil, ErrInsufficientInputAmount
	}
	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, ErrInsufficientLiquidity
	}
	inWithFee := new(big.Int).Mul(amountIn, feeNum)
	num := new(big.Int).Mul(inWithFee, reserveOut)
	den := new(big.Int).Mul(reserveIn, feeDen)
	den.Add(den, inWithFee)
	return num.Quo(num, den), nil
}

// GetAmountIn 给定期望输出与储备，返回所需的最小输入。
func GetAmountIn(amountOut, reserveIn, reserveOut *big.Int) (*big.Int, error) {
	if amountOut.Sign() <= 0 {
		return nil, ErrInsufficientOutputAmount
	}
	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 || amountOut.Cmp(reserveOut) >= 0 {
		return nil, ErrInsufficientLiquidity
	}
	num := new(big.Int).Mul(reserveIn, amountOut)
	num.Mul(num, feeDen)
	den := new(big.Int).Sub(reserveOut, amountOut)
	den.Mul(den, feeNum)
	num.Quo(num, den)
	return num.Add(num, one), nil
}
