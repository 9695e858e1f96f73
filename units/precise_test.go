package units

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreciseMulRounding(t *testing.T) {
	a := big.NewInt(3)
	b := new(big.Int).Div(PreciseUnit, big.NewInt(2)) // 0.5

	assert.Equal(t, int64(1), PreciseMul(a, b).Int64())
	assert.Equal(t, int64(2), PreciseMulCeil(a, b).Int64())
	assert.Equal(t, int64(0), PreciseMulCeil(big.NewInt(0), b).Int64())
	// 入参不可被修改
	assert.Equal(t, int64(3), a.Int64())
}

func TestPreciseDivRounding(t *testing.T) {
	floor, err := PreciseDiv(big.NewInt(1), big.NewInt(3))
	require.NoError(t, err)
	ceil, err := PreciseDivCeil(big.NewInt(1), big.NewInt(3))
	require.NoError(t, err)
	assert.Equal(t, "333333333333333333", floor.String())
	assert.Equal(t, "333333333333333334", ceil.String())

	_, err = PreciseDiv(big.NewInt(1), big.NewInt(0))
	assert.ErrorIs(t, err, ErrDivideByZero)
}

func TestParseAndFormat(t *testing.T) {
	v, err := Parse("1.5")
	require.NoError(t, err)
	assert.Equal(t, "1500000000000000000", v.String())
	assert.Equal(t, "1.5", Format(v))

	_, err = Parse("-1")
	assert.Error(t, err)
	_, err = Parse("abc")
	assert.Error(t, err)
	_, err = Parse("0.0000000000000000001")
	assert.Error(t, err)

	v, err = Parse("0.000000000000000001")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.Int64())
	v, err = Parse("1.0000000000000000000")
	require.NoError(t, err)
	assert.Equal(t, Ether(1), v)

	assert.Equal(t, Ether(2), MustParse("2"))
	assert.InDelta(t, 2.0, Float(Ether(2)), 1e-12)
}

func TestMinAndAbsDiff(t *testing.T) {
	assert.Equal(t, int64(2), Min(big.NewInt(2), big.NewInt(5)).Int64())
	assert.Equal(t, int64(3), AbsDiff(big.NewInt(2), big.NewInt(5)).Int64())
	assert.Equal(t, int64(0), Copy(nil).Int64())
}
