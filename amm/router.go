package amm

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"index-rebalancer/ledger"
)

const routerABIJSON = `[
 {"type":"function","name":"swapExactTokensForTokens","stateMutability":"nonpayable",
  "inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],
  "outputs":[{"name":"amounts","type":"uint256[]"}]},
 {"type":"function","name":"swapTokensForExactTokens","stateMutability":"nonpayable",
  "inputs":[{"name":"amountOut","type":"uint256"},{"name":"amountInMax","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],
  "outputs":[{"name":"amounts","type":"uint256[]"}]},
 {"type":"function","name":"getAmountsOut","stateMutability":"view",
  "inputs":[{"name":"amountIn","type":"uint256"},{"name":"path","type":"address[]"}],
  "outputs":[{"name":"amounts","type":"uint256[]"}]},
 {"type":"function","name":"getAmountsIn","stateMutability":"view",
  "inputs":[{"name":"amountOut","type":"uint256"},{"name":"path","type":"address[]"}],
  "outputs":[{"name":"amounts","type":"uint256[]"}]}
]`

// RouterABI 是恒定乘积路由的调用接口，拆单器沿用同一接口。
var RouterABI = mustParseABI(routerABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse router abi: %v", err))
	}
	return parsed
}

// SwapArgs 是两个 swap 方法共用的参数。
// 精确输入时 Amount 为输入量、Limit 为最小输出；精确输出时 Amount 为输出量、Limit 为最大输入。
type SwapArgs struct {
	ExactInput bool
	Amount     *big.Int
	Limit      *big.Int
	Path       []common.Address
	To         common.Address
	Deadline   *big.Int
}

// DecodeSwap 解析路由 swap 调用。
func DecodeSwap(data []byte) (SwapArgs, error) {
	if len(data) < 4 {
		return SwapArgs{}, ErrUnknownMethod
	}
	method, err := RouterABI.MethodById(data[:4])
	if err != nil {
		return SwapArgs{}, fmt.Errorf("%w: %x", ErrUnknownMethod, data[:4])
	}
	var exactIn bool
	switch method.Name {
	case "swapExactTokensForTokens":
		exactIn = true
	case "swapTokensForExactTokens":
	default:
		return SwapArgs{}, fmt.Errorf("%w: %s is not a swap", ErrUnknownMethod, method.Name)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return SwapArgs{}, fmt.Errorf("unpack %s: %w", method.Name, err)
	}
	return SwapArgs{
		ExactInput: exactIn,
		Amount:     args[0].(*big.Int),
		Limit:      args[1].(*big.Int),
		Path:       args[2].([]common.Address),
		To:         args[3].(common.Address),
		Deadline:   args[4].(*big.Int),
	}, nil
}

// EncodeSwap 生成 swap 调用数据。
func EncodeSwap(a SwapArgs) ([]byte, error) {
	name := "swapTokensForExactTokens"
	if a.ExactInput {
		name = "swapExactTokensForTokens"
	}
	return RouterABI.Pack(name, a.Amount, a.Limit, a.Path, a.To, a.Deadline)
}

// CheckDeadline 截止时间早于当前区块时间则失败。
func CheckDeadline(env ledger.Env, deadline *big.Int) error {
	if deadline.Cmp(big.NewInt(env.Timestamp.Unix())) < 0 {
		return fmt.Errorf("%w: %s < %d", ErrExpired, deadline, env.Timestamp.Unix())
	}
	return nil
}

// Router 是绑定单个工厂的恒定乘积路由。
type Router struct {
	address common.Address
	factory *Factory
}

func NewRouter(address common.Address, factory *Factory) *Router {
	return &Router{address: address, factory: factory}
}

func (r *Router) Address() common.Address { return r.address }
func (r *Router) Factory() *Factory       { return r.factory }

// Call 实现 ledger.Contract。
func (r *Router) Call(_ context.Context, env ledger.Env, data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, ErrUnknownMethod
	}
	method, err := RouterABI.MethodById(data[:4])
	if err != nil {
		return nil, fmt.Errorf("%w: %x", ErrUnknownMethod, data[:4])
	}
	switch method.Name {
	case "getAmountsOut", "getAmountsIn":
		args, err := method.Inputs.Unpack(data[4:])
		if err != nil {
			return nil, fmt.Errorf("unpack %s: %w", method.Name, err)
		}
		amount, path := args[0].(*big.Int), args[1].([]common.Address)
		var amounts []*big.Int
		if method.Name == "getAmountsOut" {
			amounts, err = r.factory.GetAmountsOut(env.State, amount, path)
		} else {
			amounts, err = r.factory.GetAmountsIn(env.State, amount, path)
		}
		if err != nil {
			return nil, err
		}
		return method.Outputs.Pack(amounts)
	}

	args, err := DecodeSwap(data)
	if err != nil {
		return nil, err
	}
	if err := CheckDeadline(env, args.Deadline); err != nil {
		return nil, err
	}
	var amounts []*big.Int
	if args.ExactInput {
		if amounts, err = r.factory.GetAmountsOut(env.State, args.Amount, args.Path); err != nil {
			return nil, err
		}
		if amounts[len(amounts)-1].Cmp(args.Limit) < 0 {
			return nil, fmt.Errorf("%w: %s < %s", ErrInsufficientOutputAmount, amounts[len(amounts)-1], args.Limit)
		}
	} else {
		if amounts, err = r.factory.GetAmountsIn(env.State, args.Amount, args.Path); err != nil {
			return nil, err
		}
		if amounts[0].Cmp(args.Limit) > 0 {
			return nil, fmt.Errorf("%w: %s > %s", ErrExcessiveInputAmount, amounts[0], args.Limit)
		}
	}
	first, err := r.factory.FirstPair(args.Path)
	if err != nil {
		return nil, err
	}
	if err := env.State.TransferFrom(r.address, args.Path[0], env.Caller, first, amounts[0]); err != nil {
		return nil, err
	}
	if err := r.factory.Swap(env.State, amounts, args.Path, args.To); err != nil {
		return nil, err
	}
	return method.Outputs.Pack(amounts)
}
