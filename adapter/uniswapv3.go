package adapter

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const v3RouterABIJSON = `[
 {"type":"function","name":"exactInput","stateMutability":"payable",
  "inputs":[{"name":"params","type":"tuple","components":[
    {"name":"path","type":"bytes"},{"name":"recipient","type":"address"},{"name":"deadline","type":"uint256"},
    {"name":"amountIn","type":"uint256"},{"name":"amountOutMinimum","type":"uint256"}]}],
  "outputs":[{"name":"amountOut","type":"uint256"}]},
 {"type":"function","name":"exactOutput","stateMutability":"payable",
  "inputs":[{"name":"params","type":"tuple","components":[
    {"name":"path","type":"bytes"},{"name":"recipient","type":"address"},{"name":"deadline","type":"uint256"},
    {"name":"amountOut","type":"uint256"},{"name":"amountInMaximum","type":"uint256"}]}],
  "outputs":[{"name":"amountIn","type":"uint256"}]}
]`

var v3RouterABI = mustABI(v3RouterABIJSON)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// ExactInputParams 对应集中流动性路由 exactInput 的参数结构。
type ExactInputParams struct {
	Path             []byte
	Recipient        common.Address
	Deadline         *big.Int
	AmountIn         *big.Int
	AmountOutMinimum *big.Int
}

// ExactOutputParams 对应 exactOutput 的参数结构。
type ExactOutputParams struct {
	Path            []byte
	Recipient       common.Address
	Deadline        *big.Int
	AmountOut       *big.Int
	AmountInMaximum *big.Int
}

const (
	addrLen = common.AddressLength
	feeLen  = 3
	hopLen  = addrLen + feeLen
)

// EncodeFeeTier 把费率档位编码为 3 字节大端。
func EncodeFeeTier(fee uint32) []byte {
	return []byte{byte(fee >> 16), byte(fee >> 8), byte(fee)}
}

// EncodeV3Path 生成 token|fee|token|... 形式的打包路径。
func EncodeV3Path(tokens []common.Address, fees []uint32) ([]byte, error) {
	if len(tokens) < 2 || len(fees) != len(tokens)-1 {
		return nil, fmt.Errorf("%w: %d tokens, %d fees", ErrInvalidPath, len(tokens), len(fees))
	}
	out := make([]byte, 0, addrLen+len(fees)*hopLen)
	for i, fee := range fees {
		out = append(out, tokens[i].Bytes()...)
		out = append(out, EncodeFeeTier(fee)...)
	}
	return append(out, tokens[len(tokens)-1].Bytes()...), nil
}

// DecodeV3Path 拆解打包路径。
func DecodeV3Path(path []byte) ([]common.Address, []uint32, error) {
	if len(path) < addrLen+hopLen || (len(path)-addrLen)%hopLen != 0 {
		return nil, nil, fmt.Errorf("%w: bad packed path length %d", ErrInvalidPath, len(path))
	}
	hops := (len(path) - addrLen) / hopLen
	tokens := make([]common.Address, 0, hops+1)
	fees := make([]uint32, 0, hops)
	for i := 0; i < hops; i++ {
		off := i * hopLen
		tokens = append(tokens, common.BytesToAddress(path[off:off+addrLen]))
		f := path[off+addrLen : off+hopLen]
		fees = append(fees, uint32(f[0])<<16|uint32(f[1])<<8|uint32(f[2]))
	}
	tokens = append(tokens, common.BytesToAddress(path[len(path)-addrLen:]))
	return tokens, fees, nil
}

// packedEnds 返回打包路径的首尾资产。
func packedEnds(path []byte) (common.Address, common.Address, error) {
	if len(path) < addrLen+hopLen || (len(path)-addrLen)%hopLen != 0 {
		return common.Address{}, common.Address{}, fmt.Errorf("%w: bad packed path length %d", ErrInvalidPath, len(path))
	}
	return common.BytesToAddress(path[:addrLen]), common.BytesToAddress(path[len(path)-addrLen:]), nil
}

func reverseV3Path(path []byte) ([]byte, error) {
	tokens, fees, err := DecodeV3Path(path)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(tokens)-1; i < j; i, j = i+1, j-1 {
		tokens[i], tokens[j] = tokens[j], tokens[i]
	}
	for i, j := 0, len(fees)-1; i < j; i, j = i+1, j-1 {
		fees[i], fees[j] = fees[j], fees[i]
	}
	return EncodeV3Path(tokens, fees)
}

// UniswapV3Adapter 面向集中流动性路由。data 为 3 字节费率档位，或 source→destination 方向的完整打包路径。
type UniswapV3Adapter struct {
	Router common.Address
}

func NewUniswapV3Adapter(router common.Address) *UniswapV3Adapter {
	return &UniswapV3Adapter{Router: router}
}

func (a *UniswapV3Adapter) Spender() common.Address { return a.Router }

func (a *UniswapV3Adapter) TradeCalldata(req TradeRequest) (Calldata, error) {
	if err := req.validate(); err != nil {
		return Calldata{}, err
	}
	var path []byte
	switch {
	case len(req.Data) == feeLen:
		path = append(append(append([]byte{}, req.SourceToken.Bytes()...), req.Data...), req.DestinationToken.Bytes()...)
	case len(req.Data) > feeLen:
		first, last, err := packedEnds(req.Data)
		if err != nil {
			return Calldata{}, err
		}
		if first != req.SourceToken || last != req.DestinationToken {
			return Calldata{}, fmt.Errorf("%w: packed path does not connect %s to %s", ErrInvalidPath, req.SourceToken.Hex(), req.DestinationToken.Hex())
		}
		path = req.Data
	default:
		return Calldata{}, fmt.Errorf("%w: fee tier or packed path required", ErrInvalidData)
	}

	var data []byte
	var err error
	if req.IsSendTokenFixed {
		data, err = v3RouterABI.Pack("exactInput", ExactInputParams{
			Path:             path,
			Recipient:        req.Recipient,
			Deadline:         req.Deadline,
			AmountIn:         req.SourceQuantity,
			AmountOutMinimum: req.DestinationQuantity,
		})
	} else {
		// 精确输出路径由输出资产开始
		reversed, rerr := reverseV3Path(path)
		if rerr != nil {
			return Calldata{}, rerr
		}
		data, err = v3RouterABI.Pack("exactOutput", ExactOutputParams{
			Path:            reversed,
			Recipient:       req.Recipient,
			Deadline:        req.Deadline,
			AmountOut:       req.DestinationQuantity,
			AmountInMaximum: req.SourceQuantity,
		})
	}
	if err != nil {
		return Calldata{}, fmt.Errorf("pack v3 swap: %w", err)
	}
	return Calldata{Target: a.Router, Value: new(big.Int), Data: data}, nil
}

// DecodeExactInput 解析 exactInput 调用，主要用于测试与审计日志。
func DecodeExactInput(data []byte) (ExactInputParams, error) {
	vals, err := unpackArgs(v3RouterABI, "exactInput", data)
	if err != nil {
		return ExactInputParams{}, err
	}
	return convert[ExactInputParams](vals[0])
}

// DecodeExactOutput 解析 exactOutput 调用。
func DecodeExactOutput(data []byte) (ExactOutputParams, error) {
	vals, err := unpackArgs(v3RouterABI, "exactOutput", data)
	if err != nil {
		return ExactOutputParams{}, err
	}
	return convert[ExactOutputParams](vals[0])
}

func unpackArgs(a abi.ABI, name string, data []byte) ([]interface{}, error) {
	method, ok := a.Methods[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, name)
	}
	if len(data) < 4 || !bytes.Equal(data[:4], method.ID) {
		return nil, fmt.Errorf("%w: selector is not %s", ErrUnsupportedMethod, name)
	}
	vals, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", name, err)
	}
	return vals, nil
}

// convert 把 abi 解出的匿名结构体转换为具名结构体。
func convert[T any](v interface{}) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrInvalidData, r)
		}
	}()
	p, ok := abi.ConvertType(v, new(T)).(*T)
	if !ok {
		return out, fmt.Errorf("%w: unexpected tuple type %T", ErrInvalidData, v)
	}
	return *p, nil
}
