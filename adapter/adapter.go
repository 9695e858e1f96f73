// Package adapter 把通用交易请求翻译成各外部场所的调用数据。
// 每个适配器都是无状态的纯函数集合，按 (模块, 名称) 注册到 Registry，交易时按名称解析。
package adapter

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidPath          = errors.New("invalid path")
	ErrInvalidData          = errors.New("invalid exchange data")
	ErrMissingDeadline      = errors.New("deadline is required")
	ErrUnsupportedTradeType = errors.New("exact output trades are not supported")
	ErrUnsupportedMethod    = errors.New("unsupported method")

	// 聚合器调用数据与请求不一致时的原因，字符串即对外的失败原因。
	ErrMismatchedInputToken     = errors.New("Mismatched input token")
	ErrMismatchedOutputToken    = errors.New("Mismatched output token")
	ErrMismatchedInputQuantity  = errors.New("Mismatched input token quantity")
	ErrMismatchedOutputQuantity = errors.New("Mismatched output token quantity")
	ErrMismatchedRecipient      = errors.New("Mismatched recipient")
)

// TradeRequest 是控制器发给适配器的通用交易请求。
//
// IsSendTokenFixed 为 true 时 SourceQuantity 为精确卖出量、DestinationQuantity 为最小买入量；
// 否则 DestinationQuantity 为精确买入量、SourceQuantity 为最大卖出量。
type TradeRequest struct {
	SourceToken         common.Address
	DestinationToken    common.Address
	Recipient           common.Address
	IsSendTokenFixed    bool
	SourceQuantity      *big.Int
	DestinationQuantity *big.Int
	Deadline            *big.Int
	Data                []byte
}

// Calldata 是指数需要发起的外部调用。
type Calldata struct {
	Target common.Address
	Value  *big.Int
	Data   []byte
}

// IndexExchangeAdapter 是单一场所家族的翻译器。
type IndexExchangeAdapter interface {
	// Spender 是需要被授予卖出资产额度的地址。
	Spender() common.Address
	// TradeCalldata 生成调用数据，并校验请求与 data 一致。
	TradeCalldata(req TradeRequest) (Calldata, error)
}

func (r TradeRequest) validate() error {
	if r.Deadline == nil {
		return ErrMissingDeadline
	}
	if r.SourceQuantity == nil || r.DestinationQuantity == nil {
		return errors.New("trade quantities are required")
	}
	return nil
}
