package adapter

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"index-rebalancer/amm"
	"index-rebalancer/units"
)

var (
	weth   = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	dai    = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	usdc   = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	index  = common.HexToAddress("0x00000000000000000000000000000000000001dd")
	router = common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
)

func request(exactIn bool, data []byte) TradeRequest {
	return TradeRequest{
		SourceToken:         weth,
		DestinationToken:    dai,
		Recipient:           index,
		IsSendTokenFixed:    exactIn,
		SourceQuantity:      units.Ether(1),
		DestinationQuantity: units.Ether(2_000),
		Deadline:            big.NewInt(1_700_000_000),
		Data:                data,
	}
}

func TestUniswapV2Calldata(t *testing.T) {
	a := NewUniswapV2Adapter(router)
	assert.Equal(t, router, a.Spender())

	tests := []struct {
		name     string
		exactIn  bool
		data     func(t *testing.T) []byte
		wantPath []common.Address
		wantErr  error
	}{
		{
			name:     "默认两跳路径_精确输入",
			exactIn:  true,
			data:     func(*testing.T) []byte { return nil },
			wantPath: []common.Address{weth, dai},
		},
		{
			name:     "默认两跳路径_精确输出",
			exactIn:  false,
			data:     func(*testing.T) []byte { return nil },
			wantPath: []common.Address{weth, dai},
		},
		{
			name:    "自定义多跳路径",
			exactIn: true,
			data: func(t *testing.T) []byte {
				d, err := EncodePath([]common.Address{weth, usdc, dai})
				require.NoError(t, err)
				return d
			},
			wantPath: []common.Address{weth, usdc, dai},
		},
		{
			name:    "路径终点不是目标资产",
			exactIn: true,
			data: func(t *testing.T) []byte {
				d, err := EncodePath([]common.Address{weth, usdc})
				require.NoError(t, err)
				return d
			},
			wantErr: ErrInvalidPath,
		},
		{
			name:    "data无法解析",
			exactIn: true,
			data:    func(*testing.T) []byte { return []byte{1, 2, 3} },
			wantErr: ErrInvalidData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cd, err := a.TradeCalldata(request(tt.exactIn, tt.data(t)))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, router, cd.Target)
			assert.Zero(t, cd.Value.Sign())

			args, err := amm.DecodeSwap(cd.Data)
			require.NoError(t, err)
			assert.Equal(t, tt.exactIn, args.ExactInput)
			assert.Equal(t, tt.wantPath, args.Path)
			assert.Equal(t, index, args.To)
			if tt.exactIn {
				assert.Equal(t, units.Ether(1), args.Amount)
				assert.Equal(t, units.Ether(2_000), args.Limit)
			} else {
				assert.Equal(t, units.Ether(2_000), args.Amount)
				assert.Equal(t, units.Ether(1), args.Limit)
			}
		})
	}
}

func TestMissingDeadlineRejected(t *testing.T) {
	req := request(true, nil)
	req.Deadline = nil
	_, err := NewUniswapV2Adapter(router).TradeCalldata(req)
	assert.ErrorIs(t, err, ErrMissingDeadline)
}

func TestUniswapV3Calldata(t *testing.T) {
	a := NewUniswapV3Adapter(router)

	t.Run("费率档位_精确输入", func(t *testing.T) {
		cd, err := a.TradeCalldata(request(true, EncodeFeeTier(3000)))
		require.NoError(t, err)
		params, err := DecodeExactInput(cd.Data)
		require.NoError(t, err)
		tokens, fees, err := DecodeV3Path(params.Path)
		require.NoError(t, err)
		assert.Equal(t, []common.Address{weth, dai}, tokens)
		assert.Equal(t, []uint32{3000}, fees)
		assert.Equal(t, index, params.Recipient)
		assert.Equal(t, units.Ether(1), params.AmountIn)
		assert.Equal(t, units.Ether(2_000), params.AmountOutMinimum)
	})

	t.Run("打包路径_精确输出反向", func(t *testing.T) {
		path, err := EncodeV3Path([]common.Address{weth, usdc, dai}, []uint32{500, 100})
		require.NoError(t, err)
		cd, err := a.TradeCalldata(request(false, path))
		require.NoError(t, err)
		params, err := DecodeExactOutput(cd.Data)
		require.NoError(t, err)
		tokens, fees, err := DecodeV3Path(params.Path)
		require.NoError(t, err)
		assert.Equal(t, []common.Address{dai, usdc, weth}, tokens)
		assert.Equal(t, []uint32{100, 500}, fees)
		assert.Equal(t, units.Ether(2_000), params.AmountOut)
		assert.Equal(t, units.Ether(1), params.AmountInMaximum)
	})

	t.Run("打包路径不连接请求资产", func(t *testing.T) {
		path, err := EncodeV3Path([]common.Address{usdc, dai}, []uint32{500})
		require.NoError(t, err)
		_, err = a.TradeCalldata(request(true, path))
		assert.ErrorIs(t, err, ErrInvalidPath)
	})

	t.Run("缺少费率", func(t *testing.T) {
		_, err := a.TradeCalldata(request(true, nil))
		assert.ErrorIs(t, err, ErrInvalidData)
	})
}

func TestBalancerCalldata(t *testing.T) {
	vault := common.HexToAddress("0xBA12222222228d8Ba445958a75a0704d566BF2C8")
	a := NewBalancerV2Adapter(vault)
	assert.Equal(t, vault, a.Spender())

	poolID := common.HexToHash("0x0b09dea16768f0799065c475be02919503cb2a3500020000000000000000001a")
	cd, err := a.TradeCalldata(request(false, poolID.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, vault, cd.Target)

	swap, err := DecodeVaultSwap(cd.Data)
	require.NoError(t, err)
	assert.Equal(t, [32]byte(poolID), swap.Swap.PoolId)
	assert.Equal(t, SwapKindGivenOut, swap.Swap.Kind)
	assert.Equal(t, weth, swap.Swap.AssetIn)
	assert.Equal(t, dai, swap.Swap.AssetOut)
	assert.Equal(t, units.Ether(2_000), swap.Swap.Amount)
	assert.Equal(t, units.Ether(1), swap.Limit)
	assert.Equal(t, index, swap.Funds.Sender)
	assert.Equal(t, index, swap.Funds.Recipient)

	_, err = a.TradeCalldata(request(true, []byte{0x01}))
	assert.ErrorIs(t, err, ErrInvalidData)
}

func mustPack(t *testing.T, method string, args ...interface{}) []byte {
	t.Helper()
	data, err := PackAggregatorCall(method, args...)
	require.NoError(t, err)
	return data
}

func TestZeroExValidatesEmbeddedCall(t *testing.T) {
	proxy := common.HexToAddress("0xDef1C0ded9bec7F1a1670819833240f027b25EfF")
	provider := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	a := NewZeroExAdapter(proxy)
	one, minOut := units.Ether(1), units.Ether(2_000)
	v3Path, err := EncodeV3Path([]common.Address{weth, dai}, []uint32{3000})
	require.NoError(t, err)
	v3Wrong, err := EncodeV3Path([]common.Address{weth, usdc}, []uint32{3000})
	require.NoError(t, err)

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{
			name: "transformERC20_一致",
			data: mustPack(t, "transformERC20", weth, dai, one, minOut, []Transformation{{DeploymentNonce: 7, Data: []byte{0xaa}}}),
		},
		{
			name:    "transformERC20_输入资产不符",
			data:    mustPack(t, "transformERC20", usdc, dai, one, minOut, []Transformation{}),
			wantErr: ErrMismatchedInputToken,
		},
		{
			name:    "transformERC20_输出资产不符",
			data:    mustPack(t, "transformERC20", weth, usdc, one, minOut, []Transformation{}),
			wantErr: ErrMismatchedOutputToken,
		},
		{
			name:    "transformERC20_输入数量不符",
			data:    mustPack(t, "transformERC20", weth, dai, units.Ether(2), minOut, []Transformation{}),
			wantErr: ErrMismatchedInputQuantity,
		},
		{
			name:    "transformERC20_最小输出过低",
			data:    mustPack(t, "transformERC20", weth, dai, one, units.Ether(1_999), []Transformation{}),
			wantErr: ErrMismatchedOutputQuantity,
		},
		{
			name: "sellToUniswap_多跳",
			data: mustPack(t, "sellToUniswap", []common.Address{weth, usdc, dai}, one, minOut, true),
		},
		{
			name:    "sellToUniswap_终点不符",
			data:    mustPack(t, "sellToUniswap", []common.Address{weth, usdc}, one, minOut, false),
			wantErr: ErrMismatchedOutputToken,
		},
		{
			name: "sellToLiquidityProvider_接收方为指数",
			data: mustPack(t, "sellToLiquidityProvider", weth, dai, provider, index, one, minOut, []byte{}),
		},
		{
			name:    "sellToLiquidityProvider_接收方不符",
			data:    mustPack(t, "sellToLiquidityProvider", weth, dai, provider, provider, one, minOut, []byte{}),
			wantErr: ErrMismatchedRecipient,
		},
		{
			name: "sellTokenForTokenToUniswapV3_零地址接收方",
			data: mustPack(t, "sellTokenForTokenToUniswapV3", v3Path, one, minOut, common.Address{}),
		},
		{
			name:    "sellTokenForTokenToUniswapV3_路径终点不符",
			data:    mustPack(t, "sellTokenForTokenToUniswapV3", v3Wrong, one, minOut, index),
			wantErr: ErrMismatchedOutputToken,
		},
		{
			name: "multiplexBatchSellTokenForToken_一致",
			data: mustPack(t, "multiplexBatchSellTokenForToken", weth, dai,
				[]BatchSellSubcall{{Id: 1, SellAmount: one, Data: []byte{}}}, one, minOut),
		},
		{
			name: "multiplexMultiHopSellTokenForToken_输入数量不符",
			data: mustPack(t, "multiplexMultiHopSellTokenForToken", []common.Address{weth, usdc, dai},
				[]MultiHopSellSubcall{{Id: 2, Data: []byte{}}, {Id: 2, Data: []byte{}}}, units.Ether(3), minOut),
			wantErr: ErrMismatchedInputQuantity,
		},
		{
			name:    "未知选择器",
			data:    []byte{0xde, 0xad, 0xbe, 0xef},
			wantErr: ErrUnsupportedMethod,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cd, err := a.TradeCalldata(request(true, tt.data))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, proxy, cd.Target)
			assert.Equal(t, tt.data, cd.Data)
		})
	}
}

func TestZeroExMismatchedOutputTokenReason(t *testing.T) {
	a := NewZeroExAdapter(common.HexToAddress("0xDef1C0ded9bec7F1a1670819833240f027b25EfF"))
	data := mustPack(t, "transformERC20", weth, usdc, units.Ether(1), units.Ether(2_000), []Transformation{})
	_, err := a.TradeCalldata(request(true, data))
	require.Error(t, err)
	assert.Equal(t, "Mismatched output token", err.Error())
}

func TestZeroExRejectsExactOutput(t *testing.T) {
	a := NewZeroExAdapter(common.HexToAddress("0xDef1C0ded9bec7F1a1670819833240f027b25EfF"))
	_, err := a.TradeCalldata(request(false, nil))
	assert.ErrorIs(t, err, ErrUnsupportedTradeType)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	v2 := NewUniswapV2Adapter(router)

	require.NoError(t, r.Add("rebalance", "uniswap", v2))
	assert.ErrorIs(t, r.Add("rebalance", "uniswap", v2), ErrAdapterRegistered)
	assert.ErrorIs(t, r.Add("rebalance", "", v2), ErrEmptyName)
	assert.True(t, r.IsValid("rebalance", "uniswap"))
	assert.False(t, r.IsValid("other", "uniswap"))

	got, err := r.Get("rebalance", "uniswap")
	require.NoError(t, err)
	assert.Same(t, v2, got)

	v3 := NewUniswapV3Adapter(router)
	require.NoError(t, r.Edit("rebalance", "uniswap", v3))
	got, err = r.Get("rebalance", "uniswap")
	require.NoError(t, err)
	assert.Same(t, v3, got)

	require.NoError(t, r.Add("rebalance", "balancer", NewBalancerV2Adapter(router)))
	assert.Equal(t, []string{"balancer", "uniswap"}, r.Names("rebalance"))

	require.NoError(t, r.Remove("rebalance", "uniswap"))
	_, err = r.Get("rebalance", "uniswap")
	assert.ErrorIs(t, err, ErrAdapterNotFound)
	assert.ErrorIs(t, r.Remove("rebalance", "uniswap"), ErrAdapterNotFound)
}
