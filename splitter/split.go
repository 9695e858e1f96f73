// Package splitter 在两族恒定乘积池之间拆分同一笔交易，使两边成交后的边际价格相等。
//
// 对外接口与恒定乘积路由一致（精确输入/精确输出 swap 以及 getAmountsOut/getAmountsIn），
// 因此可以直接作为路由地址配置给交易适配器。
package splitter

import (
	"math/big"

	"index-rebalancer/amm"
)

// Reserves 是单个池在交易方向上的储备；In 为 nil 表示该池不存在。
type Reserves struct {
	In  *big.Int
	Out *big.Int
}

func (r Reserves) usable() bool {
	return r.In != nil && r.Out != nil && r.In.Sign() > 0 && r.Out.Sign() > 0
}

var (
	feeNum = big.NewInt(amm.FeeNumerator)
	feeDen = big.NewInt(amm.FeeDenominator)
)

func depth(r Reserves) *big.Int {
	k := new(big.Int).Mul(r.In, r.Out)
	return k.Sqrt(k)
}

// ExactInputSplit 返回精确输入 amountIn 在 A、B 两池间的分配。
//
// 令 k_i = √(x_i·y_i)，γ = 997/1000，两池边际输出相等的解为
//
//	a_A = k_A/(k_A+k_B)·T + (k_A·x_B − k_B·x_A) / (γ·(k_A+k_B))
//
// 结果截断到 [0, amountIn]；任一池缺失时全部走另一池。
func ExactInputSplit(a, b Reserves, amountIn *big.Int) (*big.Int, *big.Int) {
	switch {
	case !a.usable() && !b.usable():
		return new(big.Int), new(big.Int)
	case !a.usable():
		return new(big.Int), new(big.Int).Set(amountIn)
	case !b.usable():
		return new(big.Int).Set(amountIn), new(big.Int)
	}
	kA, kB := depth(a), depth(b)

	// num = k_A·(1000·x_B + 997·T) − 1000·k_B·x_A
	term := new(big.Int).Mul(feeDen, b.In)
	term.Add(term, new(big.Int).Mul(feeNum, amountIn))
	num := new(big.Int).Mul(kA, term)
	corr := new(big.Int).Mul(feeDen, kB)
	corr.Mul(corr, a.In)
	num.Sub(num, corr)

	den := new(big.Int).Add(kA, kB)
	den.Mul(den, feeNum)

	toA := clamp(num, den, amountIn)
	return toA, new(big.Int).Sub(amountIn, toA)
}

// ExactOutputSplit 返回精确输出 amountOut 在 A、B 两池间的分配。
//
// 令 c_i = √(x_i·y_i)，两池边际成本相等的解为
//
//	o_A = (c_A·O + c_B·y_A − c_A·y_B) / (c_A + c_B)
//
// 手续费在两侧同比例出现，因此不影响分配。
func ExactOutputSplit(a, b Reserves, amountOut *big.Int) (*big.Int, *big.Int) {
	switch {
	case !a.usable() && !b.usable():
		return new(big.Int), new(big.Int)
	case !a.usable():
		return new(big.Int), new(big.Int).Set(amountOut)
	case !b.usable():
		return new(big.Int).Set(amountOut), new(big.Int)
	}
	cA, cB := depth(a), depth(b)

	num := new(big.Int).Mul(cA, amountOut)
	num.Add(num, new(big.Int).Mul(cB, a.Out))
	num.Sub(num, new(big.Int).Mul(cA, b.Out))
	den := new(big.Int).Add(cA, cB)

	toA := clamp(num, den, amountOut)
	return toA, new(big.Int).Sub(amountOut, toA)
}

// clamp 返回 num/den 截断到 [0, limit]。
func clamp(num, den, limit *big.Int) *big.Int {
	if num.Sign() <= 0 {
		return new(big.Int)
	}
	out := new(big.Int).Quo(num, den)
	if out.Cmp(limit) > 0 {
		return new(big.Int).Set(limit)
	}
	return out
}
