package amm

import (
	"bytes"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Token identifies an asset handled by the engine.
type Token = common.Address

// PoolID is the content-derived identifier of a pool.
type PoolID [32]byte

// PositionID is the content-derived identifier of a liquidity position.
type PositionID [32]byte

// PoolConfig carries the immutable configuration half of a pool key.
type PoolConfig struct {
	// Fee in pips (1/1,000,000). 10_000 pips = 1%.
	Fee uint64 `json:"fee"`

	// TickSpacing is the minimum distance between usable ticks.
	// A spacing of zero marks a full-range-only pool: the only legal
	// position bounds are [MinTick, MaxTick].
	TickSpacing int32 `json:"tickSpacing"`

	// Extension is the identity of the pool's extension, or the zero
	// address for no extension. Its hook call points are resolved once at
	// pool initialization and cached in PoolState.
	Extension common.Address `json:"extension"`
}

// PoolKey identifies a pool. Immutable after creation.
// Invariant: Token0 < Token1 bytewise.
type PoolKey struct {
	Token0 Token      `json:"token0"`
	Token1 Token      `json:"token1"`
	Config PoolConfig `json:"config"`
}

// Validate checks token ordering and fee bounds.
func (k PoolKey) Validate() error {
	if bytes.Compare(k.Token0.Bytes(), k.Token1.Bytes()) >= 0 {
		return ErrTokensUnsorted
	}
	if k.Config.Fee >= FeeDenominator {
		return ErrInvalidFee
	}
	if k.Config.TickSpacing < 0 {
		return ErrInvalidTickSpacing
	}
	return nil
}

// FullRangeOnly reports whether the pool accepts only [MinTick, MaxTick] positions.
func (k PoolKey) FullRangeOnly() bool {
	return k.Config.TickSpacing == 0
}

// FeeDenominator is the fee unit denominator: 1,000,000 pips = 100%.
const FeeDenominator = 1_000_000

// CallPoints records which extension hooks are active for a pool.
// It is a pure function of the pool's extension and is cached in PoolState
// so dispatch needs no further lookup.
type CallPoints struct {
	BeforeInitializePool bool
	AfterInitializePool  bool
	BeforeUpdatePosition bool
	AfterUpdatePosition  bool
	BeforeSwap           bool
	AfterSwap            bool
	BeforeCollectFees    bool
	AfterCollectFees     bool
}

// Any reports whether at least one hook is active.
func (c CallPoints) Any() bool {
	return c.BeforeInitializePool || c.AfterInitializePool ||
		c.BeforeUpdatePosition || c.AfterUpdatePosition ||
		c.BeforeSwap || c.AfterSwap ||
		c.BeforeCollectFees || c.AfterCollectFees
}

// PoolState is the mutable per-pool state. Created on initialization,
// mutated by every swap and position update, never destroyed.
// The fee growth accumulators are monotonically non-decreasing.
type PoolState struct {
	SqrtPriceX96         *big.Int   `json:"sqrtPriceX96"`
	Tick                 int32      `json:"tick"`
	Liquidity            *big.Int   `json:"liquidity"`
	FeeGrowthGlobal0X128 *big.Int   `json:"feeGrowthGlobal0X128"`
	FeeGrowthGlobal1X128 *big.Int   `json:"feeGrowthGlobal1X128"`
	CallPoints           CallPoints `json:"-"`
}

// Clone returns a deep copy of the state.
func (s *PoolState) Clone() *PoolState {
	if s == nil {
		return nil
	}
	return &PoolState{
		SqrtPriceX96:         new(big.Int).Set(s.SqrtPriceX96),
		Tick:                 s.Tick,
		Liquidity:            new(big.Int).Set(s.Liquidity),
		FeeGrowthGlobal0X128: new(big.Int).Set(s.FeeGrowthGlobal0X128),
		FeeGrowthGlobal1X128: new(big.Int).Set(s.FeeGrowthGlobal1X128),
		CallPoints:           s.CallPoints,
	}
}

// TickInfo holds the bookkeeping for one initialized tick.
// A record exists iff LiquidityGross is nonzero.
type TickInfo struct {
	// LiquidityGross is the total position liquidity referencing this tick
	// as a boundary. Used to decide when the tick can be discarded.
	LiquidityGross *big.Int `json:"liquidityGross"`

	// LiquidityNet is added to the pool's active liquidity when the price
	// crosses this tick left-to-right, subtracted right-to-left.
	LiquidityNet *big.Int `json:"liquidityNet"`

	// Fee growth on the far side of this tick relative to the current
	// price, per unit liquidity. The sign convention flips on every cross.
	FeeGrowthOutside0X128 *big.Int `json:"feeGrowthOutside0X128"`
	FeeGrowthOutside1X128 *big.Int `json:"feeGrowthOutside1X128"`
}

// NewTickInfo returns a zeroed tick record.
func NewTickInfo() *TickInfo {
	return &TickInfo{
		LiquidityGross:        new(big.Int),
		LiquidityNet:          new(big.Int),
		FeeGrowthOutside0X128: new(big.Int),
		FeeGrowthOutside1X128: new(big.Int),
	}
}

// Clone returns a deep copy of the tick record.
func (t *TickInfo) Clone() *TickInfo {
	return &TickInfo{
		LiquidityGross:        new(big.Int).Set(t.LiquidityGross),
		LiquidityNet:          new(big.Int).Set(t.LiquidityNet),
		FeeGrowthOutside0X128: new(big.Int).Set(t.FeeGrowthOutside0X128),
		FeeGrowthOutside1X128: new(big.Int).Set(t.FeeGrowthOutside1X128),
	}
}

// Position is an owner's liquidity over a tick range.
// A freshly created position snapshots fee growth inside its range, so it
// starts with zero owed fees regardless of global accumulated growth.
type Position struct {
	Liquidity                *big.Int `json:"liquidity"`
	FeeGrowthInside0LastX128 *big.Int `json:"feeGrowthInside0LastX128"`
	FeeGrowthInside1LastX128 *big.Int `json:"feeGrowthInside1LastX128"`
}

// NewPosition returns an empty position.
func NewPosition() *Position {
	return &Position{
		Liquidity:                new(big.Int),
		FeeGrowthInside0LastX128: new(big.Int),
		FeeGrowthInside1LastX128: new(big.Int),
	}
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	return &Position{
		Liquidity:                new(big.Int).Set(p.Liquidity),
		FeeGrowthInside0LastX128: new(big.Int).Set(p.FeeGrowthInside0LastX128),
		FeeGrowthInside1LastX128: new(big.Int).Set(p.FeeGrowthInside1LastX128),
	}
}

// BalanceDelta is a signed pair of token amounts.
// Positive amounts are owed to the pool, negative amounts to the caller.
type BalanceDelta struct {
	Amount0 *big.Int `json:"amount0"`
	Amount1 *big.Int `json:"amount1"`
}

// NewBalanceDelta builds a delta, treating nil amounts as zero.
func NewBalanceDelta(amount0, amount1 *big.Int) BalanceDelta {
	if amount0 == nil {
		amount0 = new(big.Int)
	}
	if amount1 == nil {
		amount1 = new(big.Int)
	}
	return BalanceDelta{Amount0: amount0, Amount1: amount1}
}

// ZeroBalanceDelta returns a zero-valued delta.
func ZeroBalanceDelta() BalanceDelta {
	return BalanceDelta{Amount0: new(big.Int), Amount1: new(big.Int)}
}

// SwapParams describes one swap request.
type SwapParams struct {
	// Amount is the specified amount of the selected token.
	// Positive = exact-input, negative = exact-output.
	Amount *big.Int

	// IsToken1 selects which token Amount refers to.
	IsToken1 bool

	// SqrtPriceLimitX96 bounds how far the price may move. nil means the
	// domain boundary in the trade direction.
	SqrtPriceLimitX96 *big.Int

	// SkipAhead bounds per-step tick traversal: the number of extra bitmap
	// pages searched for the next initialized tick on each step. Only
	// affects traversal cost, never the result.
	SkipAhead uint32

	// Deadline is an optional unix-seconds timestamp after which the swap
	// is rejected. Zero disables the check.
	Deadline int64
}

// UpdatePositionParams describes one position update.
type UpdatePositionParams struct {
	Owner          common.Address
	TickLower      int32
	TickUpper      int32
	Salt           [32]byte
	LiquidityDelta *big.Int
}

// PositionRef identifies a position without a liquidity change.
type PositionRef struct {
	Owner     common.Address
	TickLower int32
	TickUpper int32
	Salt      [32]byte
}
