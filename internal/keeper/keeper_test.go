package keeper

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"index-rebalancer/adapter"
	"index-rebalancer/amm"
	"index-rebalancer/ledger"
	"index-rebalancer/rebalance"
	"index-rebalancer/units"
)

const module = "rebalance"

var (
	weth       = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	dai        = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	usdc       = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	indexAddr  = common.HexToAddress("0x00000000000000000000000000000000000001dd")
	manager    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	trader     = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	routerAddr = common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
)

type scanRecorder struct {
	scans int
	ready []int
}

func (s *scanRecorder) ObserveScan(_ float64, ready int) {
	s.scans++
	s.ready = append(s.ready, ready)
}

type fixture struct {
	host   *ledger.Host
	index  *ledger.Index
	ctrl   *rebalance.Controller
	quoter *PoolQuoter
}

// newFixture 构造 10 份额的指数：DAI 100、WETH 1；目标 DAI 60、新增 USDC 100。
func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	host := ledger.NewHost(clock)

	factory := amm.NewFactory("uniswap", common.HexToAddress("0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f"))
	_, err := factory.Seed(host, weth, dai, units.Ether(1_000), units.Ether(2_500_000))
	require.NoError(t, err)
	_, err = factory.Seed(host, weth, usdc, units.Ether(1_000), units.Ether(2_500_000))
	require.NoError(t, err)
	require.NoError(t, host.Deploy(routerAddr, amm.NewRouter(routerAddr, factory)))

	registry := adapter.NewRegistry()
	require.NoError(t, registry.Add(module, "uniswap", adapter.NewUniswapV2Adapter(routerAddr)))

	idx, err := ledger.NewIndex(ledger.IndexConfig{
		Address:     indexAddr,
		Manager:     manager,
		TotalSupply: units.Ether(10),
		Positions: []ledger.Position{
			{Component: dai, Unit: units.Ether(100)},
			{Component: weth, Unit: units.Ether(1)},
		},
	}, host)
	require.NoError(t, err)

	ctrl, err := rebalance.New(rebalance.Config{
		Module:       module,
		StagingAsset: weth,
		Resolver:     registry,
		Clock:        rebalance.ClockFunc(clock),
	})
	require.NoError(t, err)
	require.NoError(t, ctrl.Initialize(manager, idx))
	require.NoError(t, ctrl.SetTraderStatus(manager, indexAddr, []common.Address{trader}, []bool{true}))

	comps := []common.Address{dai, usdc}
	require.NoError(t, ctrl.StartRebalance(manager, indexAddr,
		[]common.Address{usdc}, []*big.Int{units.Ether(100)},
		[]*big.Int{units.Ether(60), units.Ether(1)}, idx.PositionMultiplier()))
	require.NoError(t, ctrl.SetTradeMaximums(manager, indexAddr, comps, []*big.Int{units.Ether(50), units.Ether(50)}))
	require.NoError(t, ctrl.SetExchanges(manager, indexAddr, comps, []string{"uniswap", "uniswap"}))

	quoter := NewPoolQuoter(host)
	quoter.Register("uniswap", factory)
	return &fixture{host: host, index: idx, ctrl: ctrl, quoter: quoter}
}

func TestScanConvergesSellsFirst(t *testing.T) {
	f := newFixture(t)
	obs := &scanRecorder{}
	k, err := New(f.ctrl, f.quoter, Config{Trader: trader, SlippageBps: 50, Observer: obs})
	require.NoError(t, err)
	ctx := context.Background()

	// 第一轮只卖 DAI，USDC 的买入要等卖出到账
	actions, err := k.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, OpSell, actions[0].Op)
	assert.Equal(t, dai, actions[0].Component)
	require.NoError(t, actions[0].Err)
	assert.Equal(t, units.Ether(60), f.index.RealUnit(dai))

	// 第二轮卖出所得的中转资产一次买入 USDC
	actions, err = k.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, OpTradeRemaining, actions[0].Op)
	require.NoError(t, actions[0].Err)
	assert.True(t, f.index.RealUnit(usdc).Sign() > 0)

	var ops []string
	for i := 0; i < 10; i++ {
		actions, err = k.Scan(ctx)
		require.NoError(t, err)
		if len(actions) == 0 {
			break
		}
		for _, a := range actions {
			require.NoError(t, a.Err)
			ops = append(ops, a.Op)
		}
	}
	assert.NotEmpty(t, ops)
	for _, op := range ops {
		assert.Equal(t, OpBuy, op)
	}
	assert.Equal(t, units.Ether(100), f.index.RealUnit(usdc))
	assert.Equal(t, rebalance.StateIdle, f.ctrl.State(indexAddr))
	assert.GreaterOrEqual(t, obs.scans, 3)
	assert.Equal(t, 2, obs.ready[0])
}

func TestScanReportsQuoteFailure(t *testing.T) {
	f := newFixture(t)
	k, err := New(f.ctrl, NewPoolQuoter(f.host), Config{Trader: trader})
	require.NoError(t, err)

	actions, err := k.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.ErrorIs(t, actions[0].Err, ErrNoQuoteSource)
	assert.Equal(t, units.Ether(100), f.index.RealUnit(dai))
}

func TestScanUnauthorizedTrader(t *testing.T) {
	f := newFixture(t)
	k, err := New(f.ctrl, f.quoter, Config{Trader: common.HexToAddress("0xdead")})
	require.NoError(t, err)

	actions, err := k.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.ErrorIs(t, actions[0].Err, rebalance.ErrNotAllowedTrader)
	assert.Equal(t, rebalance.ClassAuthorization, rebalance.Classify(actions[0].Err))
}

func TestNewValidates(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		cfg  Config
	}{
		{"滑点为负", Config{SlippageBps: -1}},
		{"滑点达到100%", Config{SlippageBps: 10_000}},
		{"非法表达式", Config{Schedule: "sometimes"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(f.ctrl, f.quoter, tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)
	k, err := New(f.ctrl, f.quoter, Config{Schedule: "@every 1h", Trader: trader})
	require.NoError(t, err)
	require.NoError(t, k.Start(context.Background()))
	assert.False(t, k.NextRun().IsZero())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, k.Stop(ctx))
}

func TestSlippageBounds(t *testing.T) {
	k := &Keeper{cfg: Config{SlippageBps: 50}}
	assert.Equal(t, big.NewInt(995), k.floor(big.NewInt(1000)))
	assert.Equal(t, big.NewInt(1007), k.ceil(big.NewInt(1001)))
	assert.Equal(t, big.NewInt(1005), k.ceil(big.NewInt(1000)))
}

func TestRouteUsesExchangeDataPath(t *testing.T) {
	custom := []common.Address{dai, usdc, weth}
	data, err := adapter.EncodePath(custom)
	require.NoError(t, err)

	assert.Equal(t, custom, route(data, dai, weth))
	assert.Equal(t, []common.Address{weth, dai}, route(data, weth, dai))
	assert.Equal(t, []common.Address{dai, weth}, route(nil, dai, weth))
}
