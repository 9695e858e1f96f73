package adapter

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const vaultABIJSON = `[
 {"type":"function","name":"swap","stateMutability":"payable",
  "inputs":[
   {"name":"singleSwap","type":"tuple","components":[
     {"name":"poolId","type":"bytes32"},{"name":"kind","type":"uint8"},
     {"name":"assetIn","type":"address"},{"name":"assetOut","type":"address"},
     {"name":"amount","type":"uint256"},{"name":"userData","type":"bytes"}]},
   {"name":"funds","type":"tuple","components":[
     {"name":"sender","type":"address"},{"name":"fromInternalBalance","type":"bool"},
     {"name":"recipient","type":"address"},{"name":"toInternalBalance","type":"bool"}]},
   {"name":"limit","type":"uint256"},
   {"name":"deadline","type":"uint256"}],
  "outputs":[{"name":"amountCalculated","type":"uint256"}]}
]`

var vaultABI = mustABI(vaultABIJSON)

// 金库 swap 的方向
const (
	SwapKindGivenIn  uint8 = 0
	SwapKindGivenOut uint8 = 1
)

type SingleSwap struct {
	PoolId   [32]byte
	Kind     uint8
	AssetIn  common.Address
	AssetOut common.Address
	Amount   *big.Int
	UserData []byte
}

type FundManagement struct {
	Sender              common.Address
	FromInternalBalance bool
	Recipient           common.Address
	ToInternalBalance   bool
}

// VaultSwap 是解码后的金库单笔兑换调用。
type VaultSwap struct {
	Swap     SingleSwap
	Funds    FundManagement
	Limit    *big.Int
	Deadline *big.Int
}

// BalancerV2Adapter 面向金库式池子，data 必须是 32 字节池 ID。
// 额度授予金库本身。
type BalancerV2Adapter struct {
	Vault common.Address
}

func NewBalancerV2Adapter(vault common.Address) *BalancerV2Adapter {
	return &BalancerV2Adapter{Vault: vault}
}

func (a *BalancerV2Adapter) Spender() common.Address { return a.Vault }

func (a *BalancerV2Adapter) TradeCalldata(req TradeRequest) (Calldata, error) {
	if err := req.validate(); err != nil {
		return Calldata{}, err
	}
	if len(req.Data) != 32 {
		return Calldata{}, fmt.Errorf("%w: pool id must be 32 bytes, got %d", ErrInvalidData, len(req.Data))
	}
	var poolID [32]byte
	copy(poolID[:], req.Data)

	swap := SingleSwap{
		PoolId:   poolID,
		AssetIn:  req.SourceToken,
		AssetOut: req.DestinationToken,
		UserData: []byte{},
	}
	var limit *big.Int
	if req.IsSendTokenFixed {
		swap.Kind, swap.Amount, limit = SwapKindGivenIn, req.SourceQuantity, req.DestinationQuantity
	} else {
		swap.Kind, swap.Amount, limit = SwapKindGivenOut, req.DestinationQuantity, req.SourceQuantity
	}
	funds := FundManagement{Sender: req.Recipient, Recipient: req.Recipient}

	data, err := vaultABI.Pack("swap", swap, funds, limit, req.Deadline)
	if err != nil {
		return Calldata{}, fmt.Errorf("pack vault swap: %w", err)
	}
	return Calldata{Target: a.Vault, Value: new(big.Int), Data: data}, nil
}

// DecodeVaultSwap 解析金库 swap 调用。
func DecodeVaultSwap(data []byte) (VaultSwap, error) {
	vals, err := unpackArgs(vaultABI, "swap", data)
	if err != nil {
		return VaultSwap{}, err
	}
	swap, err := convert[SingleSwap](vals[0])
	if err != nil {
		return VaultSwap{}, err
	}
	funds, err := convert[FundManagement](vals[1])
	if err != nil {
		return VaultSwap{}, err
	}
	return VaultSwap{Swap: swap, Funds: funds, Limit: vals[2].(*big.Int), Deadline: vals[3].(*big.Int)}, nil
}
