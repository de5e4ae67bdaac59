// Package tickstore maintains the sparse per-tick liquidity records of a
// pool together with a paged bitmap used to locate the next initialized
// tick in either direction without scanning the whole tick domain.
package tickstore

import (
	"math/big"

	"github.com/defistate/amm-engine-go/amm"
	"github.com/defistate/amm-engine-go/amm/calculator/liquiditymath"
	"github.com/defistate/amm-engine-go/amm/calculator/tickmath"
	"github.com/defistate/amm-engine-go/bitset"
)

// pageBits is the number of spacing-compressed ticks tracked per bitmap page.
const pageBits = 256

var (
	// mod256 is 2^256, the wrap modulus for fee growth arithmetic.
	mod256 = new(big.Int).Lsh(big.NewInt(1), 256)
)

// Store holds all initialized ticks of a single pool.
type Store struct {
	// spacing used for bitmap compression. Always >= 1.
	spacing int32

	ticks map[int32]*amm.TickInfo

	// pages maps a page index of the compressed tick to a 256-bit page.
	// A missing page means no initialized tick in that range.
	pages map[int32]bitset.BitSet
}

// New creates an empty store for a pool with the given tick spacing.
// Spacing below one is treated as one (full-range-only pools).
func New(spacing int32) *Store {
	if spacing < 1 {
		spacing = 1
	}
	return &Store{
		spacing: spacing,
		ticks:   make(map[int32]*amm.TickInfo),
		pages:   make(map[int32]bitset.BitSet),
	}
}

// Clone returns a deep copy of the store.
func (s *Store) Clone() *Store {
	c := &Store{
		spacing: s.spacing,
		ticks:   make(map[int32]*amm.TickInfo, len(s.ticks)),
		pages:   make(map[int32]bitset.BitSet, len(s.pages)),
	}
	for tick, info := range s.ticks {
		c.ticks[tick] = info.Clone()
	}
	for page, bits := range s.pages {
		c.pages[page] = bits.Clone()
	}
	return c
}

// Get returns the record for an initialized tick, or (nil, false).
func (s *Store) Get(tick int32) (*amm.TickInfo, bool) {
	info, ok := s.ticks[tick]
	return info, ok
}

// Count returns the number of initialized ticks.
func (s *Store) Count() int {
	return len(s.ticks)
}

// Each calls fn for every initialized tick.
func (s *Store) Each(fn func(tick int32, info *amm.TickInfo)) {
	for tick, info := range s.ticks {
		fn(tick, info)
	}
}

// Update applies a signed liquidity delta to a position boundary tick.
// current is the pool's current tick; the global fee growth values seed the
// outside checkpoints when the tick is first initialized. isUpper selects
// the net-liquidity sign convention for the boundary.
//
// It returns whether the tick flipped between initialized and uninitialized.
// A tick that flipped off keeps its record until Clear is called, so fee
// settlement for the burn reads consistent checkpoints.
func (s *Store) Update(
	tick, current int32,
	liquidityDelta *big.Int,
	isUpper bool,
	feeGrowthGlobal0X128, feeGrowthGlobal1X128 *big.Int,
) (flipped bool, err error) {
	info, ok := s.ticks[tick]
	if !ok {
		info = amm.NewTickInfo()
	}

	grossBefore := new(big.Int).Set(info.LiquidityGross)
	if err := liquiditymath.AddDelta(info.LiquidityGross, grossBefore, liquidityDelta); err != nil {
		return false, err
	}

	if grossBefore.Sign() == 0 {
		// Convention: a tick at or below the current price is assumed to
		// have accumulated all growth so far on its outside.
		if tick <= current {
			info.FeeGrowthOutside0X128.Set(feeGrowthGlobal0X128)
			info.FeeGrowthOutside1X128.Set(feeGrowthGlobal1X128)
		}
	}

	if isUpper {
		info.LiquidityNet.Sub(info.LiquidityNet, liquidityDelta)
	} else {
		info.LiquidityNet.Add(info.LiquidityNet, liquidityDelta)
	}

	flipped = (info.LiquidityGross.Sign() == 0) != (grossBefore.Sign() == 0)

	// A record whose gross liquidity returned to zero stays resident until
	// the caller clears it: the burning position still settles its fees
	// against the outside checkpoints. Only the bitmap bit drops here.
	s.ticks[tick] = info
	if flipped {
		s.setBit(tick, info.LiquidityGross.Sign() != 0)
	}
	return flipped, nil
}

// Clear drops a tick record. Called for a boundary that flipped off during a
// burn, after the position's fees have been settled against its checkpoints.
func (s *Store) Clear(tick int32) {
	delete(s.ticks, tick)
}

// Cross flips the tick's outside fee growth checkpoints (growth outside
// becomes the complement of global growth) and returns its net liquidity.
func (s *Store) Cross(tick int32, feeGrowthGlobal0X128, feeGrowthGlobal1X128 *big.Int) *big.Int {
	info, ok := s.ticks[tick]
	if !ok {
		return new(big.Int)
	}
	info.FeeGrowthOutside0X128 = subMod256(feeGrowthGlobal0X128, info.FeeGrowthOutside0X128)
	info.FeeGrowthOutside1X128 = subMod256(feeGrowthGlobal1X128, info.FeeGrowthOutside1X128)
	return new(big.Int).Set(info.LiquidityNet)
}

// FeeGrowthInside computes the fee growth per liquidity accumulated inside
// [lower, upper], derived from the boundary ticks' outside checkpoints.
// Arithmetic wraps at 2^256; only differences of these values are meaningful.
func (s *Store) FeeGrowthInside(
	lower, upper, current int32,
	feeGrowthGlobal0X128, feeGrowthGlobal1X128 *big.Int,
) (inside0, inside1 *big.Int) {
	var below0, below1, above0, above1 *big.Int

	if info, ok := s.ticks[lower]; ok {
		if current >= lower {
			below0 = new(big.Int).Set(info.FeeGrowthOutside0X128)
			below1 = new(big.Int).Set(info.FeeGrowthOutside1X128)
		} else {
			below0 = subMod256(feeGrowthGlobal0X128, info.FeeGrowthOutside0X128)
			below1 = subMod256(feeGrowthGlobal1X128, info.FeeGrowthOutside1X128)
		}
	} else if current < lower {
		below0 = new(big.Int).Set(feeGrowthGlobal0X128)
		below1 = new(big.Int).Set(feeGrowthGlobal1X128)
	} else {
		below0, below1 = new(big.Int), new(big.Int)
	}

	if info, ok := s.ticks[upper]; ok {
		if current < upper {
			above0 = new(big.Int).Set(info.FeeGrowthOutside0X128)
			above1 = new(big.Int).Set(info.FeeGrowthOutside1X128)
		} else {
			above0 = subMod256(feeGrowthGlobal0X128, info.FeeGrowthOutside0X128)
			above1 = subMod256(feeGrowthGlobal1X128, info.FeeGrowthOutside1X128)
		}
	} else if current >= upper {
		above0 = new(big.Int).Set(feeGrowthGlobal0X128)
		above1 = new(big.Int).Set(feeGrowthGlobal1X128)
	} else {
		above0, above1 = new(big.Int), new(big.Int)
	}

	inside0 = subMod256(subMod256(feeGrowthGlobal0X128, below0), above0)
	inside1 = subMod256(subMod256(feeGrowthGlobal1X128, below1), above1)
	return inside0, inside1
}

// NextInitialized finds the next initialized tick from fromTick, moving down
// when lte is true and up otherwise. The search covers the page containing
// fromTick plus skipAhead further pages. When nothing is found within that
// range it returns the far boundary of the searched range with found=false,
// clamped to the tick domain; the caller may continue the search from there.
func (s *Store) NextInitialized(fromTick int32, lte bool, skipAhead uint32) (tick int32, found bool) {
	compressed := floorDiv(fromTick, s.spacing)
	if !lte {
		compressed++
	}

	page := floorDiv(compressed, pageBits)
	bit := compressed - page*pageBits

	if lte {
		minPage := floorDiv(floorDiv(tickmath.MIN_TICK, s.spacing), pageBits)
		for i := uint32(0); ; i++ {
			if bits, ok := s.pages[page]; ok {
				if idx, ok := bits.PrevSet(uint64(bit)); ok {
					return (page*pageBits + int32(idx)) * s.spacing, true
				}
			}
			if i >= skipAhead || page <= minPage {
				break
			}
			page--
			bit = pageBits - 1
		}
		boundary := int64(page) * pageBits * int64(s.spacing)
		if boundary < int64(tickmath.MIN_TICK) {
			boundary = int64(tickmath.MIN_TICK)
		}
		return int32(boundary), false
	}

	maxPage := floorDiv(floorDiv(tickmath.MAX_TICK, s.spacing), pageBits)
	for i := uint32(0); ; i++ {
		if bits, ok := s.pages[page]; ok {
			if idx, ok := bits.NextSet(uint64(bit)); ok {
				return (page*pageBits + int32(idx)) * s.spacing, true
			}
		}
		if i >= skipAhead || page >= maxPage {
			break
		}
		page++
		bit = 0
	}
	boundary := (int64(page)*pageBits + pageBits - 1) * int64(s.spacing)
	if boundary > int64(tickmath.MAX_TICK) {
		boundary = int64(tickmath.MAX_TICK)
	}
	return int32(boundary), false
}

// LiquidityNetSum sums LiquidityNet over all initialized ticks. It is zero
// after any consistent sequence of position updates.
func (s *Store) LiquidityNetSum() *big.Int {
	sum := new(big.Int)
	for _, info := range s.ticks {
		sum.Add(sum, info.LiquidityNet)
	}
	return sum
}

func (s *Store) setBit(tick int32, on bool) {
	compressed := floorDiv(tick, s.spacing)
	page := floorDiv(compressed, pageBits)
	bit := uint64(compressed - page*pageBits)

	bits, ok := s.pages[page]
	if !ok {
		if !on {
			return
		}
		bits = bitset.NewBitSet(pageBits)
		s.pages[page] = bits
	}
	if on {
		bits.Set(bit)
		return
	}
	bits.Unset(bit)
	if bits.None() {
		delete(s.pages, page)
	}
}

// floorDiv divides rounding toward negative infinity.
func floorDiv(x, y int32) int32 {
	q := x / y
	if x%y != 0 && (x < 0) != (y < 0) {
		q--
	}
	return q
}

// subMod256 returns (a - b) mod 2^256.
func subMod256(a, b *big.Int) *big.Int {
	d := new(big.Int).Sub(a, b)
	if d.Sign() < 0 {
		d.Add(d, mod256)
	}
	return d
}
