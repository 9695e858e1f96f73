package adapter

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const zeroExABIJSON = `[
 {"type":"function","name":"transformERC20","stateMutability":"payable",
  "inputs":[{"name":"inputToken","type":"address"},{"name":"outputToken","type":"address"},
   {"name":"inputTokenAmount","type":"uint256"},{"name":"minOutputTokenAmount","type":"uint256"},
   {"name":"transformations","type":"tuple[]","components":[
     {"name":"deploymentNonce","type":"uint32"},{"name":"data","type":"bytes"}]}],
  "outputs":[{"name":"outputTokenAmount","type":"uint256"}]},
 {"type":"function","name":"sellToUniswap","stateMutability":"payable",
  "inputs":[{"name":"tokens","type":"address[]"},{"name":"sellAmount","type":"uint256"},
   {"name":"minBuyAmount","type":"uint256"},{"name":"isSushi","type":"bool"}],
  "outputs":[{"name":"buyAmount","type":"uint256"}]},
 {"type":"function","name":"sellToLiquidityProvider","stateMutability":"payable",
  "inputs":[{"name":"inputToken","type":"address"},{"name":"outputToken","type":"address"},
   {"name":"provider","type":"address"},{"name":"recipient","type":"address"},
   {"name":"sellAmount","type":"uint256"},{"name":"minBuyAmount","type":"uint256"},
   {"name":"auxiliaryData","type":"bytes"}],
  "outputs":[{"name":"boughtAmount","type":"uint256"}]},
 {"type":"function","name":"sellTokenForTokenToUniswapV3","stateMutability":"nonpayable",
  "inputs":[{"name":"encodedPath","type":"bytes"},{"name":"sellAmount","type":"uint256"},
   {"name":"minBuyAmount","type":"uint256"},{"name":"recipient","type":"address"}],
  "outputs":[{"name":"buyAmount","type":"uint256"}]},
 {"type":"function","name":"multiplexBatchSellTokenForToken","stateMutability":"nonpayable",
  "inputs":[{"name":"inputToken","type":"address"},{"name":"outputToken","type":"address"},
   {"name":"calls","type":"tuple[]","components":[
     {"name":"id","type":"uint8"},{"name":"sellAmount","type":"uint256"},{"name":"data","type":"bytes"}]},
   {"name":"sellAmount","type":"uint256"},{"name":"minBuyAmount","type":"uint256"}],
  "outputs":[{"name":"boughtAmount","type":"uint256"}]},
 {"type":"function","name":"multiplexMultiHopSellTokenForToken","stateMutability":"nonpayable",
  "inputs":[{"name":"tokens","type":"address[]"},
   {"name":"calls","type":"tuple[]","components":[
     {"name":"id","type":"uint8"},{"name":"data","type":"bytes"}]},
   {"name":"sellAmount","type":"uint256"},{"name":"minBuyAmount","type":"uint256"}],
  "outputs":[{"name":"boughtAmount","type":"uint256"}]}
]`

var zeroExABI = mustABI(zeroExABIJSON)

// Transformation 是 transformERC20 的单步变换。
type Transformation struct {
	DeploymentNonce uint32
	Data            []byte
}

// BatchSellSubcall 是批量卖出中的单个子调用。
type BatchSellSubcall struct {
	Id         uint8
	SellAmount *big.Int
	Data       []byte
}

// MultiHopSellSubcall 是多跳卖出中的单跳子调用。
type MultiHopSellSubcall struct {
	Id   uint8
	Data []byte
}

// AggregatorFill 是从聚合器调用中解出的关键字段。HasRecipient 为 false 时调用不携带接收地址。
type AggregatorFill struct {
	Method       string
	InputToken   common.Address
	OutputToken  common.Address
	InputAmount  *big.Int
	MinOutput    *big.Int
	Recipient    common.Address
	HasRecipient bool
}

// ZeroExAdapter 面向聚合器代理，data 为完整调用数据。
// 只支持精确输入，调用内嵌的资产、数量、接收地址必须与请求一致。
type ZeroExAdapter struct {
	Proxy common.Address
}

func NewZeroExAdapter(proxy common.Address) *ZeroExAdapter {
	return &ZeroExAdapter{Proxy: proxy}
}

func (a *ZeroExAdapter) Spender() common.Address { return a.Proxy }

func (a *ZeroExAdapter) TradeCalldata(req TradeRequest) (Calldata, error) {
	if err := req.validate(); err != nil {
		return Calldata{}, err
	}
	if !req.IsSendTokenFixed {
		return Calldata{}, ErrUnsupportedTradeType
	}
	fill, err := DecodeAggregatorCall(req.Data)
	if err != nil {
		return Calldata{}, err
	}
	if err := fill.matches(req); err != nil {
		return Calldata{}, err
	}
	return Calldata{Target: a.Proxy, Value: new(big.Int), Data: append([]byte{}, req.Data...)}, nil
}

// matches 依次校验输入资产、输出资产、输入数量、最小输出、接收地址。
func (f AggregatorFill) matches(req TradeRequest) error {
	if f.InputToken != req.SourceToken {
		return ErrMismatchedInputToken
	}
	if f.OutputToken != req.DestinationToken {
		return ErrMismatchedOutputToken
	}
	if f.InputAmount.Cmp(req.SourceQuantity) != 0 {
		return ErrMismatchedInputQuantity
	}
	if f.MinOutput.Cmp(req.DestinationQuantity) < 0 {
		return ErrMismatchedOutputQuantity
	}
	// 零地址表示发给调用方
	if f.HasRecipient && f.Recipient != (common.Address{}) && f.Recipient != req.Recipient {
		return ErrMismatchedRecipient
	}
	return nil
}

// DecodeAggregatorCall 按选择器分派解析聚合器调用。
func DecodeAggregatorCall(data []byte) (AggregatorFill, error) {
	if len(data) < 4 {
		return AggregatorFill{}, fmt.Errorf("%w: calldata too short", ErrInvalidData)
	}
	method, err := zeroExABI.MethodById(data[:4])
	if err != nil {
		return AggregatorFill{}, fmt.Errorf("%w: %x", ErrUnsupportedMethod, data[:4])
	}
	vals, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return AggregatorFill{}, fmt.Errorf("%w: unpack %s: %v", ErrInvalidData, method.Name, err)
	}

	fill := AggregatorFill{Method: method.Name}
	switch method.Name {
	case "transformERC20":
		fill.InputToken = vals[0].(common.Address)
		fill.OutputToken = vals[1].(common.Address)
		fill.InputAmount = vals[2].(*big.Int)
		fill.MinOutput = vals[3].(*big.Int)
	case "sellToUniswap":
		if err := fill.setEnds(vals[0].([]common.Address)); err != nil {
			return AggregatorFill{}, err
		}
		fill.InputAmount = vals[1].(*big.Int)
		fill.MinOutput = vals[2].(*big.Int)
	case "sellToLiquidityProvider":
		fill.InputToken = vals[0].(common.Address)
		fill.OutputToken = vals[1].(common.Address)
		fill.Recipient, fill.HasRecipient = vals[3].(common.Address), true
		fill.InputAmount = vals[4].(*big.Int)
		fill.MinOutput = vals[5].(*big.Int)
	case "sellTokenForTokenToUniswapV3":
		first, last, err := packedEnds(vals[0].([]byte))
		if err != nil {
			return AggregatorFill{}, err
		}
		fill.InputToken, fill.OutputToken = first, last
		fill.InputAmount = vals[1].(*big.Int)
		fill.MinOutput = vals[2].(*big.Int)
		fill.Recipient, fill.HasRecipient = vals[3].(common.Address), true
	case "multiplexBatchSellTokenForToken":
		fill.InputToken = vals[0].(common.Address)
		fill.OutputToken = vals[1].(common.Address)
		fill.InputAmount = vals[3].(*big.Int)
		fill.MinOutput = vals[4].(*big.Int)
	case "multiplexMultiHopSellTokenForToken":
		if err := fill.setEnds(vals[0].([]common.Address)); err != nil {
			return AggregatorFill{}, err
		}
		fill.InputAmount = vals[2].(*big.Int)
		fill.MinOutput = vals[3].(*big.Int)
	default:
		return AggregatorFill{}, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method.Name)
	}
	return fill, nil
}

func (f *AggregatorFill) setEnds(tokens []common.Address) error {
	if len(tokens) < 2 {
		return fmt.Errorf("%w: %d tokens", ErrInvalidPath, len(tokens))
	}
	f.InputToken, f.OutputToken = tokens[0], tokens[len(tokens)-1]
	return nil
}

// PackAggregatorCall 生成聚合器调用数据，供测试与报价工具构造请求。
func PackAggregatorCall(method string, args ...interface{}) ([]byte, error) {
	data, err := zeroExABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	return data, nil
}
