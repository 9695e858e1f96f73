package splitter

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"index-rebalancer/amm"
	"index-rebalancer/ledger"
)

var ErrNoRoute = errors.New("no pool family covers the path")

// Leg 是拆单后一族池承担的部分。
type Leg struct {
	Factory *amm.Factory
	Amounts []*big.Int
}

func (l Leg) active() bool { return l.Amounts != nil }

// Plan 是一次拆单报价。Amounts 为两条腿逐跳相加后的数量。
type Plan struct {
	ExactInput bool
	Path       []common.Address
	A          Leg
	B          Leg
	Amounts    []*big.Int
}

// AmountIn 返回总输入。
func (p Plan) AmountIn() *big.Int { return p.Amounts[0] }

// AmountOut 返回总输出。
func (p Plan) AmountOut() *big.Int { return p.Amounts[len(p.Amounts)-1] }

// RatioA 返回 A 腿所占比例（18 位精度），便于日志与测试。
func (p Plan) RatioA() *big.Int {
	fixed := p.AmountIn()
	var legA *big.Int
	if p.A.active() {
		legA = p.A.Amounts[0]
	}
	if !p.ExactInput {
		fixed = p.AmountOut()
		if p.A.active() {
			legA = p.A.Amounts[len(p.A.Amounts)-1]
		}
	}
	if legA == nil || fixed.Sign() == 0 {
		return new(big.Int)
	}
	r := new(big.Int).Mul(legA, big.NewInt(1e18))
	return r.Quo(r, fixed)
}

// Splitter 在 A、B 两个工厂之间拆单。
type Splitter struct {
	address common.Address
	a       *amm.Factory
	b       *amm.Factory
}

// New 创建拆单器。
func New(address common.Address, a, b *amm.Factory) *Splitter {
	return &Splitter{address: address, a: a, b: b}
}

func (s *Splitter) Address() common.Address { return s.address }

// hopReserves 读取某族在 (in, out) 一跳上的储备；该族无法覆盖整条路径时视为不存在。
func hopReserves(r ledger.BalanceReader, f *amm.Factory, path []common.Address, in, out common.Address) Reserves {
	if !f.HasPath(path) {
		return Reserves{}
	}
	rIn, rOut, err := f.GetReserves(r, in, out)
	if err != nil {
		return Reserves{}
	}
	return Reserves{In: rIn, Out: rOut}
}

// Quote 计算拆单方案。多跳时只在紧邻固定数量的一跳上求解比例（精确输入取首跳，
// 精确输出取末跳），其余各跳沿用该比例，不保证全路径边际价格相等。
// 精确输出不沿用首跳比例：固定数量在末跳，首跳的输入此时尚未确定。
func (s *Splitter) Quote(r ledger.BalanceReader, exactInput bool, amount *big.Int, path []common.Address) (Plan, error) {
	if len(path) < 2 {
		return Plan{}, amm.ErrInvalidPath
	}
	if amount.Sign() <= 0 {
		if exactInput {
			return Plan{}, amm.ErrInsufficientInputAmount
		}
		return Plan{}, amm.ErrInsufficientOutputAmount
	}
	in, out := path[0], path[1]
	if !exactInput {
		in, out = path[len(path)-2], path[len(path)-1]
	}
	resA := hopReserves(r, s.a, path, in, out)
	resB := hopReserves(r, s.b, path, in, out)
	if !resA.usable() && !resB.usable() {
		return Plan{}, fmt.Errorf("%w: %v", ErrNoRoute, path)
	}

	var toA, toB *big.Int
	if exactInput {
		toA, toB = ExactInputSplit(resA, resB, amount)
	} else {
		toA, toB = ExactOutputSplit(resA, resB, amount)
	}

	plan := Plan{ExactInput: exactInput, Path: path, A: Leg{Factory: s.a}, B: Leg{Factory: s.b}}
	var err error
	if plan.A.Amounts, err = legAmounts(r, s.a, exactInput, toA, path); err != nil {
		return Plan{}, err
	}
	if plan.B.Amounts, err = legAmounts(r, s.b, exactInput, toB, path); err != nil {
		return Plan{}, err
	}
	plan.Amounts = make([]*big.Int, len(path))
	for i := range plan.Amounts {
		total := new(big.Int)
		if plan.A.active() {
			total.Add(total, plan.A.Amounts[i])
		}
		if plan.B.active() {
			total.Add(total, plan.B.Amounts[i])
		}
		plan.Amounts[i] = total
	}
	return plan, nil
}

func legAmounts(r ledger.BalanceReader, f *amm.Factory, exactInput bool, amount *big.Int, path []common.Address) ([]*big.Int, error) {
	if amount.Sign() == 0 {
		return nil, nil
	}
	if exactInput {
		return f.GetAmountsOut(r, amount, path)
	}
	return f.GetAmountsIn(r, amount, path)
}

// GetAmountsOut 与路由同名方法语义一致，返回拆单后的逐跳总量。
func (s *Splitter) GetAmountsOut(r ledger.BalanceReader, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	plan, err := s.Quote(r, true, amountIn, path)
	if err != nil {
		return nil, err
	}
	return plan.Amounts, nil
}

// GetAmountsIn 与路由同名方法语义一致。
func (s *Splitter) GetAmountsIn(r ledger.BalanceReader, amountOut *big.Int, path []common.Address) ([]*big.Int, error) {
	plan, err := s.Quote(r, false, amountOut, path)
	if err != nil {
		return nil, err
	}
	return plan.Amounts, nil
}

// Call 实现 ledger.Contract，接受与恒定乘积路由相同的调用数据。
func (s *Splitter) Call(_ context.Context, env ledger.Env, data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, amm.ErrUnknownMethod
	}
	method, err := amm.RouterABI.MethodById(data[:4])
	if err != nil {
		return nil, fmt.Errorf("%w: %x", amm.ErrUnknownMethod, data[:4])
	}
	if method.Name == "getAmountsOut" || method.Name == "getAmountsIn" {
		args, err := method.Inputs.Unpack(data[4:])
		if err != nil {
			return nil, fmt.Errorf("unpack %s: %w", method.Name, err)
		}
		plan, err := s.Quote(env.State, method.Name == "getAmountsOut", args[0].(*big.Int), args[1].([]common.Address))
		if err != nil {
			return nil, err
		}
		return method.Outputs.Pack(plan.Amounts)
	}

	args, err := amm.DecodeSwap(data)
	if err != nil {
		return nil, err
	}
	if err := amm.CheckDeadline(env, args.Deadline); err != nil {
		return nil, err
	}
	plan, err := s.Quote(env.State, args.ExactInput, args.Amount, args.Path)
	if err != nil {
		return nil, err
	}
	if args.ExactInput && plan.AmountOut().Cmp(args.Limit) < 0 {
		return nil, fmt.Errorf("%w: %s < %s", amm.ErrInsufficientOutputAmount, plan.AmountOut(), args.Limit)
	}
	if !args.ExactInput && plan.AmountIn().Cmp(args.Limit) > 0 {
		return nil, fmt.Errorf("%w: %s > %s", amm.ErrExcessiveInputAmount, plan.AmountIn(), args.Limit)
	}
	for _, leg := range []Leg{plan.A, plan.B} {
		if !leg.active() {
			continue
		}
		first, err := leg.Factory.FirstPair(args.Path)
		if err != nil {
			return nil, err
		}
		if err := env.State.TransferFrom(s.address, args.Path[0], env.Caller, first, leg.Amounts[0]); err != nil {
			return nil, err
		}
		if err := leg.Factory.Swap(env.State, leg.Amounts, args.Path, args.To); err != nil {
			return nil, err
		}
	}
	return method.Outputs.Pack(plan.Amounts)
}
