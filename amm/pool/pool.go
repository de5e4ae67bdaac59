// Package pool implements the per-pool state machine: the step-wise swap
// engine that walks the liquidity curve across tick boundaries, and the
// position accountant that mints/burns liquidity and settles owed fees.
package pool

import (
	"math/big"

	"github.com/defistate/amm-engine-go/amm"
	"github.com/defistate/amm-engine-go/amm/calculator/liquiditymath"
	"github.com/defistate/amm-engine-go/amm/calculator/sqrtpricemath"
	"github.com/defistate/amm-engine-go/amm/calculator/swapmath"
	"github.com/defistate/amm-engine-go/amm/calculator/tickmath"
	"github.com/defistate/amm-engine-go/amm/tickstore"
)

var (
	// q128 scales fee amounts into fee-growth-per-liquidity units.
	q128 = new(big.Int).Lsh(big.NewInt(1), 128)
	// mod256 is the wrap modulus for fee growth differences.
	mod256 = new(big.Int).Lsh(big.NewInt(1), 256)
)

// Pool combines a pool's identity, price state, tick store and positions.
type Pool struct {
	Key   amm.PoolKey
	ID    amm.PoolID
	State *amm.PoolState

	Ticks     *tickstore.Store
	Positions map[amm.PositionID]*amm.Position
}

// New initializes a pool at the given starting price.
func New(key amm.PoolKey, sqrtPriceX96 *big.Int) (*Pool, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if !tickmath.ValidSqrtRatio(sqrtPriceX96) {
		return nil, tickmath.ErrSqrtPriceOutOfBounds
	}
	tick, err := tickmath.GetTickAtSqrtRatio(sqrtPriceX96)
	if err != nil {
		return nil, err
	}

	return &Pool{
		Key: key,
		ID:  key.ID(),
		State: &amm.PoolState{
			SqrtPriceX96:         new(big.Int).Set(sqrtPriceX96),
			Tick:                 tick,
			Liquidity:            new(big.Int),
			FeeGrowthGlobal0X128: new(big.Int),
			FeeGrowthGlobal1X128: new(big.Int),
		},
		Ticks:     tickstore.New(key.Config.TickSpacing),
		Positions: make(map[amm.PositionID]*amm.Position),
	}, nil
}

// Clone returns a deep copy of the pool. Sessions stage their mutations on
// clones and commit by swapping the copies in.
func (p *Pool) Clone() *Pool {
	positions := make(map[amm.PositionID]*amm.Position, len(p.Positions))
	for id, pos := range p.Positions {
		positions[id] = pos.Clone()
	}
	return &Pool{
		Key:       p.Key,
		ID:        p.ID,
		State:     p.State.Clone(),
		Ticks:     p.Ticks.Clone(),
		Positions: positions,
	}
}

// SwapResult reports the outcome of a swap.
type SwapResult struct {
	// Signed deltas: positive amounts are owed to the pool.
	Amount0 *big.Int
	Amount1 *big.Int

	// Steps is the number of curve steps taken, for observability.
	Steps int
}

// Swap executes a swap against the pool, mutating its state.
//
// The sign of params.Amount selects exact-input (positive) or exact-output
// (negative); params.IsToken1 selects which token the amount refers to. The
// swap stops when the amount is consumed, the price limit is reached, or no
// further initialized tick exists in range. The last case is a clean stop,
// not an error: liquidity is exhausted.
func (p *Pool) Swap(params amm.SwapParams) (SwapResult, error) {
	st := p.State

	if params.Amount == nil || params.Amount.Sign() == 0 {
		return SwapResult{Amount0: new(big.Int), Amount1: new(big.Int)}, nil
	}

	zeroForOne := (params.Amount.Sign() > 0) != params.IsToken1

	limit := params.SqrtPriceLimitX96
	if limit == nil {
		if zeroForOne {
			limit = tickmath.MIN_SQRT_RATIO
		} else {
			limit = tickmath.MAX_SQRT_RATIO
		}
	} else {
		if zeroForOne {
			if limit.Cmp(st.SqrtPriceX96) >= 0 || limit.Cmp(tickmath.MIN_SQRT_RATIO) < 0 {
				return SwapResult{}, amm.ErrInvalidPriceLimit
			}
		} else {
			if limit.Cmp(st.SqrtPriceX96) <= 0 || limit.Cmp(tickmath.MAX_SQRT_RATIO) > 0 {
				return SwapResult{}, amm.ErrInvalidPriceLimit
			}
		}
	}

	var (
		remaining = new(big.Int).Set(params.Amount)
		price     = new(big.Int).Set(st.SqrtPriceX96)
		tick      = st.Tick
		liquidity = new(big.Int).Set(st.Liquidity)

		totalIn  = new(big.Int)
		totalOut = new(big.Int)

		priceStart = new(big.Int)
		priceNext  = new(big.Int)
		target     = new(big.Int)
		stepIn     = new(big.Int)
		stepOut    = new(big.Int)
		stepFee    = new(big.Int)
		feePips    = new(big.Int).SetUint64(p.Key.Config.Fee)
		growth     = new(big.Int)

		steps int
	)

	for remaining.Sign() != 0 && price.Cmp(limit) != 0 {
		steps++
		priceStart.Set(price)

		tickNext, initialized := p.Ticks.NextInitialized(tick, zeroForOne, params.SkipAhead)
		if tickNext < tickmath.MIN_TICK {
			tickNext = tickmath.MIN_TICK
		} else if tickNext > tickmath.MAX_TICK {
			tickNext = tickmath.MAX_TICK
		}

		if err := tickmath.GetSqrtRatioAtTick(priceNext, tickNext); err != nil {
			return SwapResult{}, err
		}

		if (zeroForOne && priceNext.Cmp(limit) < 0) ||
			(!zeroForOne && priceNext.Cmp(limit) > 0) {
			target.Set(limit)
		} else {
			target.Set(priceNext)
		}

		if liquidity.Sign() == 0 {
			// No liquidity in range: the price teleports to the step
			// target without consuming or producing anything.
			price.Set(target)
			stepIn.SetInt64(0)
			stepOut.SetInt64(0)
			stepFee.SetInt64(0)
		} else {
			err := swapmath.ComputeSwapStep(
				price, stepIn, stepOut, stepFee,
				priceStart, target, liquidity, remaining, feePips,
			)
			if err != nil {
				return SwapResult{}, err
			}

			if remaining.Sign() > 0 {
				growth.Add(stepIn, stepFee)
				remaining.Sub(remaining, growth)
			} else {
				remaining.Add(remaining, stepOut)
			}
			totalIn.Add(totalIn, stepIn)
			totalIn.Add(totalIn, stepFee)
			totalOut.Add(totalOut, stepOut)

			// Accrue the step fee to the input token's growth accumulator.
			if stepFee.Sign() > 0 {
				growth.Mul(stepFee, q128)
				growth.Div(growth, liquidity)
				if zeroForOne {
					st.FeeGrowthGlobal0X128.Add(st.FeeGrowthGlobal0X128, growth)
				} else {
					st.FeeGrowthGlobal1X128.Add(st.FeeGrowthGlobal1X128, growth)
				}
			}
		}

		if price.Cmp(priceNext) == 0 {
			// The step ended exactly on the candidate tick.
			if initialized {
				liquidityNet := p.Ticks.Cross(tickNext, st.FeeGrowthGlobal0X128, st.FeeGrowthGlobal1X128)
				if zeroForOne {
					liquidityNet.Neg(liquidityNet)
				}
				if err := liquiditymath.AddDelta(liquidity, liquidity, liquidityNet); err != nil {
					return SwapResult{}, err
				}
			}
			if zeroForOne {
				tick = tickNext - 1
			} else {
				tick = tickNext
			}
		} else if price.Cmp(priceStart) != 0 {
			var err error
			tick, err = tickmath.GetTickAtSqrtRatio(price)
			if err != nil {
				return SwapResult{}, err
			}
		}
	}

	if tick < tickmath.MIN_TICK {
		tick = tickmath.MIN_TICK
	}
	st.SqrtPriceX96.Set(price)
	st.Tick = tick
	st.Liquidity.Set(liquidity)

	res := SwapResult{Steps: steps}
	if zeroForOne {
		res.Amount0 = totalIn
		res.Amount1 = new(big.Int).Neg(totalOut)
	} else {
		res.Amount0 = new(big.Int).Neg(totalOut)
		res.Amount1 = totalIn
	}
	return res, nil
}

// UpdatePosition applies a signed liquidity delta to an owner's position,
// returning the token amounts owed (positive = owed to pool) and the fees
// settled for the position's liquidity prior to the change.
func (p *Pool) UpdatePosition(params amm.UpdatePositionParams) (delta amm.BalanceDelta, fees0, fees1 *big.Int, err error) {
	if err := p.checkBounds(params.TickLower, params.TickUpper); err != nil {
		return amm.BalanceDelta{}, nil, nil, err
	}

	liquidityDelta := params.LiquidityDelta
	if liquidityDelta == nil {
		liquidityDelta = new(big.Int)
	}

	id := amm.NewPositionID(p.ID, params.Owner, params.TickLower, params.TickUpper, params.Salt)
	pos, ok := p.Positions[id]
	if !ok {
		if liquidityDelta.Sign() < 0 {
			return amm.BalanceDelta{}, nil, nil, liquiditymath.ErrLiquidityUnderflow
		}
		if liquidityDelta.Sign() == 0 {
			return amm.BalanceDelta{}, nil, nil, amm.ErrPositionNotFound
		}
		pos = amm.NewPosition()
	}
	if liquidityDelta.Sign() < 0 {
		if new(big.Int).Neg(liquidityDelta).Cmp(pos.Liquidity) > 0 {
			return amm.BalanceDelta{}, nil, nil, liquiditymath.ErrLiquidityUnderflow
		}
	}

	st := p.State

	var flippedLower, flippedUpper bool
	if liquidityDelta.Sign() != 0 {
		if flippedLower, err = p.Ticks.Update(params.TickLower, st.Tick, liquidityDelta, false, st.FeeGrowthGlobal0X128, st.FeeGrowthGlobal1X128); err != nil {
			return amm.BalanceDelta{}, nil, nil, err
		}
		if flippedUpper, err = p.Ticks.Update(params.TickUpper, st.Tick, liquidityDelta, true, st.FeeGrowthGlobal0X128, st.FeeGrowthGlobal1X128); err != nil {
			return amm.BalanceDelta{}, nil, nil, err
		}
	}

	// Settle fees against the liquidity held before this change.
	inside0, inside1 := p.Ticks.FeeGrowthInside(params.TickLower, params.TickUpper, st.Tick, st.FeeGrowthGlobal0X128, st.FeeGrowthGlobal1X128)
	fees0 = feesOwed(pos.Liquidity, inside0, pos.FeeGrowthInside0LastX128)
	fees1 = feesOwed(pos.Liquidity, inside1, pos.FeeGrowthInside1LastX128)
	pos.FeeGrowthInside0LastX128.Set(inside0)
	pos.FeeGrowthInside1LastX128.Set(inside1)

	if err := liquiditymath.AddDelta(pos.Liquidity, pos.Liquidity, liquidityDelta); err != nil {
		return amm.BalanceDelta{}, nil, nil, err
	}

	delta = amm.ZeroBalanceDelta()
	if liquidityDelta.Sign() != 0 {
		delta, err = p.amountsForLiquidity(params.TickLower, params.TickUpper, liquidityDelta)
		if err != nil {
			return amm.BalanceDelta{}, nil, nil, err
		}

		// Adjust active liquidity when the range contains the current price.
		if params.TickLower <= st.Tick && st.Tick < params.TickUpper {
			if err := liquiditymath.AddDelta(st.Liquidity, st.Liquidity, liquidityDelta); err != nil {
				return amm.BalanceDelta{}, nil, nil, err
			}
		}
	}

	// Boundary records that flipped off must only be dropped now, after the
	// fee settlement above has read their checkpoints.
	if liquidityDelta.Sign() < 0 {
		if flippedLower {
			p.Ticks.Clear(params.TickLower)
		}
		if flippedUpper {
			p.Ticks.Clear(params.TickUpper)
		}
	}

	if pos.Liquidity.Sign() == 0 && liquidityDelta.Sign() < 0 {
		// Burning to zero closes the position.
		delete(p.Positions, id)
	} else {
		p.Positions[id] = pos
	}

	return delta, fees0, fees1, nil
}

// CollectFees settles and returns the fees accrued to a position without
// changing its liquidity.
func (p *Pool) CollectFees(ref amm.PositionRef) (fees0, fees1 *big.Int, err error) {
	_, fees0, fees1, err = p.UpdatePosition(amm.UpdatePositionParams{
		Owner:     ref.Owner,
		TickLower: ref.TickLower,
		TickUpper: ref.TickUpper,
		Salt:      ref.Salt,
	})
	return fees0, fees1, err
}

// Position returns the record for a position, if present.
func (p *Pool) Position(ref amm.PositionRef) (*amm.Position, bool) {
	id := amm.NewPositionID(p.ID, ref.Owner, ref.TickLower, ref.TickUpper, ref.Salt)
	pos, ok := p.Positions[id]
	return pos, ok
}

// checkBounds validates ordering, domain and spacing alignment of a range.
func (p *Pool) checkBounds(lower, upper int32) error {
	if lower >= upper {
		return amm.ErrInvalidTickBounds
	}
	if lower < tickmath.MIN_TICK || upper > tickmath.MAX_TICK {
		return amm.ErrInvalidTickBounds
	}
	if p.Key.FullRangeOnly() {
		if lower != tickmath.MIN_TICK || upper != tickmath.MAX_TICK {
			return amm.ErrFullRangeOnly
		}
		return nil
	}
	spacing := p.Key.Config.TickSpacing
	if lower%spacing != 0 || upper%spacing != 0 {
		return amm.ErrTickNotAligned
	}
	return nil
}

// amountsForLiquidity computes the signed token amounts required (positive)
// or returned (negative) for a liquidity delta at the current price, using
// the closed form for the three price-vs-range cases. Amounts round up when
// owed to the pool and down when owed to the caller.
func (p *Pool) amountsForLiquidity(lower, upper int32, liquidityDelta *big.Int) (amm.BalanceDelta, error) {
	var sqrtLower, sqrtUpper big.Int
	if err := tickmath.GetSqrtRatioAtTick(&sqrtLower, lower); err != nil {
		return amm.BalanceDelta{}, err
	}
	if err := tickmath.GetSqrtRatioAtTick(&sqrtUpper, upper); err != nil {
		return amm.BalanceDelta{}, err
	}

	adding := liquidityDelta.Sign() > 0
	absLiquidity := new(big.Int).Abs(liquidityDelta)

	amount0 := new(big.Int)
	amount1 := new(big.Int)
	st := p.State

	switch {
	case st.Tick < lower:
		// Price below the range: the position is entirely token0.
		if err := sqrtpricemath.GetAmount0Delta(amount0, &sqrtLower, &sqrtUpper, absLiquidity, adding); err != nil {
			return amm.BalanceDelta{}, err
		}
	case st.Tick < upper:
		// Price inside the range: both tokens participate.
		if err := sqrtpricemath.GetAmount0Delta(amount0, st.SqrtPriceX96, &sqrtUpper, absLiquidity, adding); err != nil {
			return amm.BalanceDelta{}, err
		}
		sqrtpricemath.GetAmount1Delta(amount1, &sqrtLower, st.SqrtPriceX96, absLiquidity, adding)
	default:
		// Price above the range: the position is entirely token1.
		sqrtpricemath.GetAmount1Delta(amount1, &sqrtLower, &sqrtUpper, absLiquidity, adding)
	}

	if !adding {
		amount0.Neg(amount0)
		amount1.Neg(amount1)
	}
	return amm.BalanceDelta{Amount0: amount0, Amount1: amount1}, nil
}

// feesOwed computes liquidity * (insideNow - insideLast) / 2^128, with the
// difference taken modulo 2^256 to match the checkpoints' wrap arithmetic.
func feesOwed(liquidity, insideNow, insideLast *big.Int) *big.Int {
	diff := new(big.Int).Sub(insideNow, insideLast)
	if diff.Sign() < 0 {
		diff.Add(diff, mod256)
	}
	owed := diff.Mul(diff, liquidity)
	return owed.Div(owed, q128)
}
