package adapter

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"index-rebalancer/amm"
)

var addressSliceArgs = func() abi.Arguments {
	t, err := abi.NewType("address[]", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: t}}
}()

// EncodePath 把多跳路径编码为恒定乘积适配器的 data。
func EncodePath(path []common.Address) ([]byte, error) {
	return addressSliceArgs.Pack(path)
}

// DecodePath 解析 EncodePath 的结果。
func DecodePath(data []byte) ([]common.Address, error) {
	vals, err := addressSliceArgs.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return vals[0].([]common.Address), nil
}

// UniswapV2Adapter 面向恒定乘积路由（以及接口相同的拆单器）。
// data 为空时路径为 [source, destination]，否则为编码后的完整路径。
type UniswapV2Adapter struct {
	Router common.Address
}

func NewUniswapV2Adapter(router common.Address) *UniswapV2Adapter {
	return &UniswapV2Adapter{Router: router}
}

func (a *UniswapV2Adapter) Spender() common.Address { return a.Router }

func (a *UniswapV2Adapter) TradeCalldata(req TradeRequest) (Calldata, error) {
	if err := req.validate(); err != nil {
		return Calldata{}, err
	}
	path := []common.Address{req.SourceToken, req.DestinationToken}
	if len(req.Data) > 0 {
		decoded, err := DecodePath(req.Data)
		if err != nil {
			return Calldata{}, err
		}
		if len(decoded) < 2 || decoded[0] != req.SourceToken || decoded[len(decoded)-1] != req.DestinationToken {
			return Calldata{}, fmt.Errorf("%w: path does not connect %s to %s", ErrInvalidPath, req.SourceToken.Hex(), req.DestinationToken.Hex())
		}
		path = decoded
	}
	args := amm.SwapArgs{
		ExactInput: req.IsSendTokenFixed,
		Path:       path,
		To:         req.Recipient,
		Deadline:   req.Deadline,
	}
	if req.IsSendTokenFixed {
		args.Amount, args.Limit = req.SourceQuantity, req.DestinationQuantity
	} else {
		args.Amount, args.Limit = req.DestinationQuantity, req.SourceQuantity
	}
	data, err := amm.EncodeSwap(args)
	if err != nil {
		return Calldata{}, err
	}
	return Calldata{Target: a.Router, Value: new(big.Int), Data: data}, nil
}
