package pool

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defistate/amm-engine-go/amm"
	"github.com/defistate/amm-engine-go/amm/calculator/liquiditymath"
	"github.com/defistate/amm-engine-go/amm/calculator/tickmath"
)

var (
	token0 = common.HexToAddress("0x0000000000000000000000000000000000000001")
	token1 = common.HexToAddress("0x0000000000000000000000000000000000000002")
	alice  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	bob    = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

func testKey(fee uint64, spacing int32) amm.PoolKey {
	return amm.PoolKey{
		Token0: token0,
		Token1: token1,
		Config: amm.PoolConfig{Fee: fee, TickSpacing: spacing},
	}
}

// newTestPool creates a pool at price 1.0 (sqrt price 2^96, tick 0).
func newTestPool(t *testing.T, fee uint64, spacing int32) *Pool {
	t.Helper()
	p, err := New(testKey(fee, spacing), new(big.Int).Lsh(big.NewInt(1), 96))
	require.NoError(t, err)
	return p
}

func mint(t *testing.T, p *Pool, owner common.Address, lower, upper int32, liquidity int64) amm.BalanceDelta {
	t.Helper()
	delta, _, _, err := p.UpdatePosition(amm.UpdatePositionParams{
		Owner:          owner,
		TickLower:      lower,
		TickUpper:      upper,
		LiquidityDelta: big.NewInt(liquidity),
	})
	require.NoError(t, err)
	return delta
}

func TestNew(t *testing.T) {
	p := newTestPool(t, 3000, 60)
	assert.Equal(t, int32(0), p.State.Tick)
	assert.Zero(t, p.State.Liquidity.Sign())

	t.Run("rejects invalid key", func(t *testing.T) {
		key := testKey(3000, 60)
		key.Token0, key.Token1 = key.Token1, key.Token0
		_, err := New(key, new(big.Int).Lsh(big.NewInt(1), 96))
		assert.ErrorIs(t, err, amm.ErrTokensUnsorted)
	})

	t.Run("rejects out-of-domain price", func(t *testing.T) {
		_, err := New(testKey(3000, 60), big.NewInt(1))
		assert.ErrorIs(t, err, tickmath.ErrSqrtPriceOutOfBounds)
	})
}

func TestUpdatePosition_Bounds(t *testing.T) {
	p := newTestPool(t, 10_000, 20_000)

	t.Run("equal bounds", func(t *testing.T) {
		_, _, _, err := p.UpdatePosition(amm.UpdatePositionParams{
			Owner: alice, TickLower: 100_000, TickUpper: 100_000,
			LiquidityDelta: big.NewInt(1),
		})
		assert.ErrorIs(t, err, amm.ErrInvalidTickBounds)
	})

	t.Run("inverted bounds", func(t *testing.T) {
		_, _, _, err := p.UpdatePosition(amm.UpdatePositionParams{
			Owner: alice, TickLower: 100_000, TickUpper: -100_000,
			LiquidityDelta: big.NewInt(1),
		})
		assert.ErrorIs(t, err, amm.ErrInvalidTickBounds)
	})

	t.Run("misaligned bounds", func(t *testing.T) {
		_, _, _, err := p.UpdatePosition(amm.UpdatePositionParams{
			Owner: alice, TickLower: -100_010, TickUpper: 100_000,
			LiquidityDelta: big.NewInt(1),
		})
		assert.ErrorIs(t, err, amm.ErrTickNotAligned)
	})

	t.Run("outside tick domain", func(t *testing.T) {
		_, _, _, err := p.UpdatePosition(amm.UpdatePositionParams{
			Owner: alice, TickLower: tickmath.MIN_TICK - 1, TickUpper: 0,
			LiquidityDelta: big.NewInt(1),
		})
		assert.ErrorIs(t, err, amm.ErrInvalidTickBounds)
	})
}

func TestUpdatePosition_FullRangeOnly(t *testing.T) {
	p := newTestPool(t, 3000, 0)

	_, _, _, err := p.UpdatePosition(amm.UpdatePositionParams{
		Owner: alice, TickLower: -100, TickUpper: 100,
		LiquidityDelta: big.NewInt(1000),
	})
	assert.ErrorIs(t, err, amm.ErrFullRangeOnly)

	delta, _, _, err := p.UpdatePosition(amm.UpdatePositionParams{
		Owner: alice, TickLower: tickmath.MIN_TICK, TickUpper: tickmath.MAX_TICK,
		LiquidityDelta: big.NewInt(1000),
	})
	require.NoError(t, err)
	assert.True(t, delta.Amount0.Sign() > 0)
	assert.True(t, delta.Amount1.Sign() > 0)
}

func TestUpdatePosition_MintAmounts(t *testing.T) {
	p := newTestPool(t, 10_000, 20_000)

	// About 20.5M liquidity over [-100000, 100000] at price 1.0 deposits
	// close to one million of each token.
	delta := mint(t, p, alice, -100_000, 100_000, 20_500_000)
	assert.True(t, delta.Amount0.Cmp(big.NewInt(995_000)) > 0 && delta.Amount0.Cmp(big.NewInt(1_005_000)) < 0,
		"amount0 = %s", delta.Amount0)
	assert.True(t, delta.Amount1.Cmp(big.NewInt(995_000)) > 0 && delta.Amount1.Cmp(big.NewInt(1_005_000)) < 0,
		"amount1 = %s", delta.Amount1)

	// The range contains the current price, so the liquidity is active.
	assert.Zero(t, p.State.Liquidity.Cmp(big.NewInt(20_500_000)))

	t.Run("burn returns at most the deposit", func(t *testing.T) {
		burned, _, _, err := p.UpdatePosition(amm.UpdatePositionParams{
			Owner: alice, TickLower: -100_000, TickUpper: 100_000,
			LiquidityDelta: big.NewInt(-20_500_000),
		})
		require.NoError(t, err)

		returned0 := new(big.Int).Neg(burned.Amount0)
		returned1 := new(big.Int).Neg(burned.Amount1)
		assert.True(t, returned0.Cmp(delta.Amount0) <= 0)
		assert.True(t, returned1.Cmp(delta.Amount1) <= 0)

		// Rounding keeps at most a couple of units in the pool.
		diff := new(big.Int).Sub(delta.Amount0, returned0)
		assert.True(t, diff.Cmp(big.NewInt(2)) <= 0)

		// Burning to zero removes the position and deactivates liquidity.
		_, ok := p.Position(amm.PositionRef{Owner: alice, TickLower: -100_000, TickUpper: 100_000})
		assert.False(t, ok)
		assert.Zero(t, p.State.Liquidity.Sign())
		assert.Equal(t, 0, p.Ticks.Count())
	})
}

func TestUpdatePosition_BurnErrors(t *testing.T) {
	p := newTestPool(t, 10_000, 20_000)
	mint(t, p, alice, -100_000, 100_000, 1_000)

	_, _, _, err := p.UpdatePosition(amm.UpdatePositionParams{
		Owner: alice, TickLower: -100_000, TickUpper: 100_000,
		LiquidityDelta: big.NewInt(-1_001),
	})
	assert.ErrorIs(t, err, liquiditymath.ErrLiquidityUnderflow)

	// Burning an absent position underflows too.
	_, _, _, err = p.UpdatePosition(amm.UpdatePositionParams{
		Owner: bob, TickLower: -100_000, TickUpper: 100_000,
		LiquidityDelta: big.NewInt(-1),
	})
	assert.ErrorIs(t, err, liquiditymath.ErrLiquidityUnderflow)

	// Collecting fees for an absent position is an error.
	_, _, err = p.CollectFees(amm.PositionRef{Owner: bob, TickLower: -100_000, TickUpper: 100_000})
	assert.ErrorIs(t, err, amm.ErrPositionNotFound)
}

func TestSwap_ExactIn(t *testing.T) {
	p := newTestPool(t, 10_000, 20_000)
	mint(t, p, alice, -100_000, 100_000, 20_500_000)

	res, err := p.Swap(amm.SwapParams{Amount: big.NewInt(100_000)})
	require.NoError(t, err)

	// Input charged in full, output close to but below the input net of
	// the 1% fee and slippage.
	assert.Zero(t, res.Amount0.Cmp(big.NewInt(100_000)))
	out := new(big.Int).Neg(res.Amount1)
	assert.True(t, out.Cmp(big.NewInt(98_000)) >= 0 && out.Cmp(big.NewInt(99_000)) < 0, "out = %s", out)

	// Price dropped into the expected tick neighborhood.
	assert.True(t, p.State.Tick <= -9_600 && p.State.Tick >= -9_700, "tick = %d", p.State.Tick)

	// No boundary was crossed: active liquidity is unchanged.
	assert.Zero(t, p.State.Liquidity.Cmp(big.NewInt(20_500_000)))
	assert.True(t, res.Steps >= 1)

	// Fee growth accrued on the input token only.
	assert.True(t, p.State.FeeGrowthGlobal0X128.Sign() > 0)
	assert.Zero(t, p.State.FeeGrowthGlobal1X128.Sign())
}

func TestSwap_ExactOut(t *testing.T) {
	p := newTestPool(t, 10_000, 20_000)
	mint(t, p, alice, -100_000, 100_000, 20_500_000)

	res, err := p.Swap(amm.SwapParams{Amount: big.NewInt(-98_000), IsToken1: true})
	require.NoError(t, err)

	// The requested output is delivered exactly; the charged input covers
	// the curve amount plus the 1% fee.
	assert.Zero(t, res.Amount1.Cmp(big.NewInt(-98_000)))
	assert.True(t, res.Amount0.Cmp(big.NewInt(99_000)) > 0 && res.Amount0.Cmp(big.NewInt(100_000)) < 0,
		"in = %s", res.Amount0)
}

func TestSwap_ZeroFeeRoundTrip(t *testing.T) {
	p := newTestPool(t, 0, 20_000)
	mint(t, p, alice, -100_000, 100_000, 20_500_000)

	res, err := p.Swap(amm.SwapParams{Amount: big.NewInt(10_000)})
	require.NoError(t, err)
	out := new(big.Int).Neg(res.Amount1)

	back, err := p.Swap(amm.SwapParams{Amount: out, IsToken1: true})
	require.NoError(t, err)
	returned := new(big.Int).Neg(back.Amount0)

	// Rounding always favors the pool: the round trip never mints tokens
	// and loses at most a few units.
	assert.True(t, returned.Cmp(big.NewInt(10_000)) <= 0, "returned = %s", returned)
	diff := new(big.Int).Sub(big.NewInt(10_000), returned)
	assert.True(t, diff.Cmp(big.NewInt(10)) < 0, "diff = %s", diff)
}

func TestSwap_FeeMonotonicity(t *testing.T) {
	outputFor := func(fee uint64) *big.Int {
		p := newTestPool(t, fee, 20_000)
		mint(t, p, alice, -100_000, 100_000, 20_500_000)
		res, err := p.Swap(amm.SwapParams{Amount: big.NewInt(50_000)})
		require.NoError(t, err)
		return new(big.Int).Neg(res.Amount1)
	}

	free := outputFor(0)
	cheap := outputFor(3_000)
	costly := outputFor(10_000)
	assert.True(t, cheap.Cmp(free) < 0)
	assert.True(t, costly.Cmp(cheap) < 0)
}

func TestSwap_PriceLimit(t *testing.T) {
	p := newTestPool(t, 0, 20_000)
	mint(t, p, alice, -100_000, 100_000, 20_500_000)

	limit := new(big.Int)
	require.NoError(t, tickmath.GetSqrtRatioAtTick(limit, -2_000))

	// A huge exact-in order stops at the limit with a partial fill.
	res, err := p.Swap(amm.SwapParams{Amount: big.NewInt(100_000_000), SqrtPriceLimitX96: limit})
	require.NoError(t, err)
	assert.Zero(t, p.State.SqrtPriceX96.Cmp(limit))
	assert.True(t, res.Amount0.Cmp(big.NewInt(100_000_000)) < 0)

	t.Run("limit behind price is rejected", func(t *testing.T) {
		above := new(big.Int)
		require.NoError(t, tickmath.GetSqrtRatioAtTick(above, 1_000))
		_, err := p.Swap(amm.SwapParams{Amount: big.NewInt(1_000), SqrtPriceLimitX96: above})
		assert.ErrorIs(t, err, amm.ErrInvalidPriceLimit)
	})
}

func TestSwap_CrossesTick(t *testing.T) {
	p := newTestPool(t, 0, 10)
	mint(t, p, alice, -100, 100, 1_000_000)
	mint(t, p, bob, -50, 50, 1_000_000)
	assert.Zero(t, p.State.Liquidity.Cmp(big.NewInt(2_000_000)))

	res, err := p.Swap(amm.SwapParams{Amount: big.NewInt(60)})
	require.NoError(t, err)

	// The swap pushed the price through bob's lower boundary: his
	// liquidity left the active range.
	assert.True(t, p.State.Tick < -50, "tick = %d", p.State.Tick)
	assert.True(t, p.State.Tick >= -100)
	assert.Zero(t, p.State.Liquidity.Cmp(big.NewInt(1_000_000)))
	assert.True(t, res.Steps >= 2)

	out := new(big.Int).Neg(res.Amount1)
	assert.True(t, out.Cmp(big.NewInt(55)) >= 0 && out.Cmp(big.NewInt(61)) < 0, "out = %s", out)
}

func TestSwap_EmptyPool(t *testing.T) {
	p := newTestPool(t, 3_000, 20_000)

	limit := new(big.Int)
	require.NoError(t, tickmath.GetSqrtRatioAtTick(limit, -40_000))

	// With no liquidity anywhere the price walks to the limit and nothing
	// is exchanged.
	res, err := p.Swap(amm.SwapParams{Amount: big.NewInt(1_000), SqrtPriceLimitX96: limit})
	require.NoError(t, err)
	assert.Zero(t, res.Amount0.Sign())
	assert.Zero(t, res.Amount1.Sign())
	assert.Zero(t, p.State.SqrtPriceX96.Cmp(limit))
}

func TestSwap_ZeroAmount(t *testing.T) {
	p := newTestPool(t, 3_000, 20_000)
	res, err := p.Swap(amm.SwapParams{Amount: new(big.Int)})
	require.NoError(t, err)
	assert.Zero(t, res.Amount0.Sign())
	assert.Zero(t, res.Amount1.Sign())
}

func TestFees_AccrueToInRangePositions(t *testing.T) {
	p := newTestPool(t, 10_000, 20_000)
	mint(t, p, alice, -100_000, 100_000, 20_500_000)

	_, err := p.Swap(amm.SwapParams{Amount: big.NewInt(100_000)})
	require.NoError(t, err)

	// A position created after the swap starts with a fresh snapshot and
	// owes nothing.
	mint(t, p, bob, -100_000, 100_000, 5_000_000)
	fees0, fees1, err := p.CollectFees(amm.PositionRef{Owner: bob, TickLower: -100_000, TickUpper: 100_000})
	require.NoError(t, err)
	assert.Zero(t, fees0.Sign())
	assert.Zero(t, fees1.Sign())

	// The sole pre-swap provider earned close to the full 1% fee take.
	fees0, fees1, err = p.CollectFees(amm.PositionRef{Owner: alice, TickLower: -100_000, TickUpper: 100_000})
	require.NoError(t, err)
	assert.True(t, fees0.Cmp(big.NewInt(900)) >= 0 && fees0.Cmp(big.NewInt(1_001)) < 0, "fees0 = %s", fees0)
	assert.Zero(t, fees1.Sign())

	// Fees are settled by the first collect; a second collect owes nothing.
	fees0, _, err = p.CollectFees(amm.PositionRef{Owner: alice, TickLower: -100_000, TickUpper: 100_000})
	require.NoError(t, err)
	assert.Zero(t, fees0.Sign())
}

func TestFees_SplitByLiquidityShare(t *testing.T) {
	p := newTestPool(t, 10_000, 20_000)
	mint(t, p, alice, -100_000, 100_000, 10_000_000)
	mint(t, p, bob, -100_000, 100_000, 30_000_000)

	_, err := p.Swap(amm.SwapParams{Amount: big.NewInt(400_000)})
	require.NoError(t, err)

	aliceFees, _, err := p.CollectFees(amm.PositionRef{Owner: alice, TickLower: -100_000, TickUpper: 100_000})
	require.NoError(t, err)
	bobFees, _, err := p.CollectFees(amm.PositionRef{Owner: bob, TickLower: -100_000, TickUpper: 100_000})
	require.NoError(t, err)

	// Bob holds three quarters of the range's liquidity.
	ratio := new(big.Int).Div(bobFees, aliceFees)
	assert.Zero(t, ratio.Cmp(big.NewInt(3)), "alice %s bob %s", aliceFees, bobFees)
}

func TestFees_BurnAfterLateMintOwesNothing(t *testing.T) {
	p := newTestPool(t, 10_000, 20_000)
	mint(t, p, alice, -100_000, 100_000, 20_500_000)

	_, err := p.Swap(amm.SwapParams{Amount: big.NewInt(100_000)})
	require.NoError(t, err)

	// A position opened after the swap and burned straight away must not be
	// credited for growth that predates it, even though the burn removes its
	// boundary tick records.
	mint(t, p, bob, -20_000, 20_000, 1_000_000)
	_, fees0, fees1, err := p.UpdatePosition(amm.UpdatePositionParams{
		Owner: bob, TickLower: -20_000, TickUpper: 20_000,
		LiquidityDelta: big.NewInt(-1_000_000),
	})
	require.NoError(t, err)
	assert.Zero(t, fees0.Sign(), "fees0 = %s", fees0)
	assert.Zero(t, fees1.Sign(), "fees1 = %s", fees1)

	// Only the surviving provider's boundaries remain.
	assert.Equal(t, 2, p.Ticks.Count())
}

// FuzzPoolOperations drives random mint/burn/swap sequences against one pool
// and checks the bookkeeping invariants after every operation: the net
// liquidity deltas across initialized ticks sum to zero, the fee growth
// accumulators never decrease, and unwinding every position empties the
// tick store and the active liquidity.
func FuzzPoolOperations(f *testing.F) {
	for _, seed := range []int64{1, 7, 42, 1337, 987654321} {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, seed int64) {
		rng := rand.New(rand.NewSource(seed))
		p := newTestPool(t, 3_000, 10)

		// A wide backstop keeps the price from running off into empty space.
		mint(t, p, alice, -1_000_000, 1_000_000, 50_000_000)

		type holding struct {
			lower, upper int32
			liquidity    int64
		}
		var open []holding

		prev0 := new(big.Int)
		prev1 := new(big.Int)

		for i := 0; i < 200; i++ {
			switch rng.Intn(3) {
			case 0: // mint an aligned range near the starting price
				lower := int32(rng.Intn(200)-100) * 10
				width := int32(1+rng.Intn(20)) * 10
				liquidity := 1 + rng.Int63n(1_000_000)
				mint(t, p, bob, lower, lower+width, liquidity)
				open = append(open, holding{lower, lower + width, liquidity})

			case 1: // burn one holding, fully or in part
				if len(open) == 0 {
					continue
				}
				idx := rng.Intn(len(open))
				h := &open[idx]
				amount := h.liquidity
				if rng.Intn(2) == 0 {
					amount = 1 + rng.Int63n(h.liquidity)
				}
				_, _, _, err := p.UpdatePosition(amm.UpdatePositionParams{
					Owner: bob, TickLower: h.lower, TickUpper: h.upper,
					LiquidityDelta: big.NewInt(-amount),
				})
				require.NoError(t, err)
				h.liquidity -= amount
				if h.liquidity == 0 {
					open = append(open[:idx], open[idx+1:]...)
				}

			case 2: // swap a modest amount in a random direction
				_, err := p.Swap(amm.SwapParams{
					Amount:   big.NewInt(1 + rng.Int63n(10_000)),
					IsToken1: rng.Intn(2) == 0,
				})
				require.NoError(t, err)
			}

			require.Zero(t, p.Ticks.LiquidityNetSum().Sign(),
				"net liquidity must sum to zero after op %d", i)
			require.True(t, p.State.FeeGrowthGlobal0X128.Cmp(prev0) >= 0,
				"fee growth 0 decreased after op %d", i)
			require.True(t, p.State.FeeGrowthGlobal1X128.Cmp(prev1) >= 0,
				"fee growth 1 decreased after op %d", i)
			prev0.Set(p.State.FeeGrowthGlobal0X128)
			prev1.Set(p.State.FeeGrowthGlobal1X128)
		}

		// Unwind everything.
		for _, h := range open {
			_, _, _, err := p.UpdatePosition(amm.UpdatePositionParams{
				Owner: bob, TickLower: h.lower, TickUpper: h.upper,
				LiquidityDelta: big.NewInt(-h.liquidity),
			})
			require.NoError(t, err)
		}
		_, _, _, err := p.UpdatePosition(amm.UpdatePositionParams{
			Owner: alice, TickLower: -1_000_000, TickUpper: 1_000_000,
			LiquidityDelta: big.NewInt(-50_000_000),
		})
		require.NoError(t, err)

		require.Equal(t, 0, p.Ticks.Count())
		require.Zero(t, p.Ticks.LiquidityNetSum().Sign())
		require.Zero(t, p.State.Liquidity.Sign())
	})
}

func TestClone_Isolated(t *testing.T) {
	p := newTestPool(t, 10_000, 20_000)
	mint(t, p, alice, -100_000, 100_000, 20_500_000)

	c := p.Clone()
	_, err := c.Swap(amm.SwapParams{Amount: big.NewInt(100_000)})
	require.NoError(t, err)
	mint(t, c, bob, -100_000, 100_000, 1_000)

	// The original pool is untouched by the clone's swap and mint.
	assert.Equal(t, int32(0), p.State.Tick)
	assert.Zero(t, p.State.FeeGrowthGlobal0X128.Sign())
	assert.Len(t, p.Positions, 1)
	assert.Zero(t, p.State.Liquidity.Cmp(big.NewInt(20_500_000)))
}
