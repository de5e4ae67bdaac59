package liquiditymath

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMaxUint128() *big.Int {
	n := new(big.Int).Lsh(big.NewInt(1), 128)
	return n.Sub(n, big.NewInt(1))
}

func TestAddDelta(t *testing.T) {
	dest := new(big.Int)

	require.NoError(t, AddDelta(dest, big.NewInt(100), big.NewInt(50)))
	assert.Zero(t, dest.Cmp(big.NewInt(150)))

	require.NoError(t, AddDelta(dest, big.NewInt(100), big.NewInt(-50)))
	assert.Zero(t, dest.Cmp(big.NewInt(50)))

	require.NoError(t, AddDelta(dest, big.NewInt(100), big.NewInt(-100)))
	assert.Zero(t, dest.Sign())
}

func TestAddDelta_Underflow(t *testing.T) {
	dest := new(big.Int)
	err := AddDelta(dest, big.NewInt(100), big.NewInt(-101))
	assert.ErrorIs(t, err, ErrLiquidityUnderflow)
}

func TestAddDelta_Overflow(t *testing.T) {
	dest := new(big.Int)

	// Exactly at the ceiling is fine.
	require.NoError(t, AddDelta(dest, new(big.Int).Sub(testMaxUint128(), big.NewInt(1)), big.NewInt(1)))
	assert.Zero(t, dest.Cmp(testMaxUint128()))

	err := AddDelta(dest, testMaxUint128(), big.NewInt(1))
	assert.ErrorIs(t, err, ErrLiquidityOverflow)
}
