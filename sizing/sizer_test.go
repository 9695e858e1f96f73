package sizing

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"index-rebalancer/units"
)

func TestComputeTradeSize(t *testing.T) {
	testCases := []struct {
		name         string
		current      *big.Int
		target       *big.Int
		max          *big.Int
		expectSell   bool
		expectUnits  *big.Int
		expectNotion *big.Int
	}{
		{
			name:         "卖出受单笔上限约束",
			current:      units.Ether(10),
			target:       units.Ether(4),
			max:          units.Ether(2),
			expectSell:   true,
			expectUnits:  units.Ether(2),
			expectNotion: units.Ether(4),
		},
		{
			name:         "买入剩余差额小于上限",
			current:      units.Ether(1),
			target:       units.Ether(2),
			max:          units.Ether(5),
			expectSell:   false,
			expectUnits:  units.Ether(1),
			expectNotion: units.Ether(2),
		},
		{
			name:         "已达目标",
			current:      units.Ether(3),
			target:       units.Ether(3),
			max:          units.Ether(1),
			expectSell:   false,
			expectUnits:  big.NewInt(0),
			expectNotion: big.NewInt(0),
		},
	}
	supply := units.Ether(2)
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			size, err := ComputeTradeSize(tc.current, tc.target, supply, tc.max)
			require.NoError(t, err)
			assert.Equal(t, tc.expectSell, size.IsSell)
			assert.Zero(t, tc.expectUnits.Cmp(size.Units))
			assert.Zero(t, tc.expectNotion.Cmp(size.Notional))
		})
	}
}

func TestComputeTradeSizeDustIsNonZero(t *testing.T) {
	// 1 wei 单位 × 0.1 份额向下取整为 0，向上取整保证非零
	supply := new(big.Int).Div(units.PreciseUnit, big.NewInt(10))
	size, err := ComputeTradeSize(big.NewInt(1), big.NewInt(0), supply, units.Ether(1))
	require.NoError(t, err)
	assert.False(t, size.IsZero())
	assert.Equal(t, int64(1), size.Notional.Int64())
}

func TestComputeTradeSizeErrors(t *testing.T) {
	_, err := ComputeTradeSize(units.Ether(1), units.Ether(0), big.NewInt(0), units.Ether(1))
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = ComputeTradeSize(units.Ether(1), units.Ether(0), units.Ether(1), nil)
	assert.ErrorIs(t, err, ErrTradeMaximumUnset)

	// 无差额时即使没有上限也不报错
	size, err := ComputeTradeSize(units.Ether(1), units.Ether(1), units.Ether(1), nil)
	require.NoError(t, err)
	assert.True(t, size.IsZero())
}

func TestComputeTradeSizeNeverCrossesTarget(t *testing.T) {
	supply := units.Ether(3)
	for _, cur := range []int64{0, 1, 7, 13} {
		for _, tgt := range []int64{0, 2, 7, 20} {
			c, g := units.Ether(cur), units.Ether(tgt)
			size, err := ComputeTradeSize(c, g, supply, units.Ether(4))
			require.NoError(t, err)
			next := new(big.Int).Set(c)
			if size.IsSell {
				next.Sub(next, size.Units)
			} else {
				next.Add(next, size.Units)
			}
			before := c.Cmp(g)
			after := next.Cmp(g)
			assert.True(t, after == 0 || after == before, "cur=%d tgt=%d crossed target", cur, tgt)
		}
	}
}
