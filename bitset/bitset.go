package bitset

import (
	"fmt"
	"math/bits"
)

// NewBitSet returns a bitset capable of holding len bits.
func NewBitSet(len uint64) BitSet {
	words := (len + 63) / 64
	bits := make([]uint64, words)
	return bits
}

type BitSet []uint64

func (b BitSet) IsSet(index uint64) bool {
	wordPosition := index / 64
	bitPosition := index % 64
	mask := uint64(1) << bitPosition

	return (b[wordPosition] & mask) != 0
}

func (b BitSet) Set(index uint64) {
	wordPosition := index / 64
	bitPosition := index % 64
	mask := uint64(1) << bitPosition

	b[wordPosition] |= mask
}

func (b BitSet) Unset(index uint64) {
	wordPosition := index / 64
	bitPosition := index % 64
	mask := uint64(1) << bitPosition

	b[wordPosition] = b[wordPosition] &^ mask
}

func (b BitSet) Clear() {
	for i := range b {
		b[i] = 0
	}
}

// None reports whether no bit is set.
func (b BitSet) None() bool {
	for _, word := range b {
		if word != 0 {
			return false
		}
	}
	return true
}

func (b BitSet) SetFrom(o BitSet) {
	if len(b) != len(o) {
		panic(fmt.Sprintf("bitsets must be same size: got %d vs %d", len(b), len(o)))
	}
	copy(b, o)
}

// Clone returns an independent copy of the bitset.
func (b BitSet) Clone() BitSet {
	c := make(BitSet, len(b))
	copy(c, b)
	return c
}

// NextSet returns the index of the first set bit at or above index.
// The second return value is false if no such bit exists.
func (b BitSet) NextSet(index uint64) (uint64, bool) {
	wordPosition := index / 64
	if wordPosition >= uint64(len(b)) {
		return 0, false
	}

	// Mask off bits below index in the first word.
	word := b[wordPosition] & ^(uint64(1)<<(index%64) - 1)
	for {
		if word != 0 {
			return wordPosition*64 + uint64(bits.TrailingZeros64(word)), true
		}
		wordPosition++
		if wordPosition >= uint64(len(b)) {
			return 0, false
		}
		word = b[wordPosition]
	}
}

// PrevSet returns the index of the first set bit at or below index.
// The second return value is false if no such bit exists.
func (b BitSet) PrevSet(index uint64) (uint64, bool) {
	wordPosition := index / 64
	if wordPosition >= uint64(len(b)) {
		wordPosition = uint64(len(b)) - 1
		index = wordPosition*64 + 63
	}

	// Mask off bits above index in the first word.
	bitPosition := index % 64
	var mask uint64
	if bitPosition == 63 {
		mask = ^uint64(0)
	} else {
		mask = uint64(1)<<(bitPosition+1) - 1
	}

	word := b[wordPosition] & mask
	for {
		if word != 0 {
			return wordPosition*64 + uint64(63-bits.LeadingZeros64(word)), true
		}
		if wordPosition == 0 {
			return 0, false
		}
		wordPosition--
		word = b[wordPosition]
	}
}
