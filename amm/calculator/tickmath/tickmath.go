package tickmath

import (
	"errors"
	"math/big"
	"sync"

	"github.com/holiman/uint256"
)

var (
	// MIN_TICK is the minimum tick that may be passed to GetSqrtRatioAtTick.
	MIN_TICK = int32(-88722883)
	// MAX_TICK is the maximum tick that may be passed to GetSqrtRatioAtTick.
	MAX_TICK = int32(88722883)

	// MIN_SQRT_RATIO is the minimum value that can be returned from GetSqrtRatioAtTick.
	MIN_SQRT_RATIO, _ = new(big.Int).SetString("4294968312", 10)
	// MAX_SQRT_RATIO is the maximum value that can be returned from GetSqrtRatioAtTick.
	MAX_SQRT_RATIO, _ = new(big.Int).SetString("1461501291623747319898319337843130763760377106928", 10)

	ErrTickOutOfBounds      = errors.New("tick out of bounds")
	ErrSqrtPriceOutOfBounds = errors.New("sqrt price out of bounds")

	// Pre-computed constants for performance
	one        = uint256.NewInt(1)
	maxUint256 = uint256.MustFromBig(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1)))

	// Constants for GetSqrtRatioAtTick, pre-parsed from hex.
	// These represent sqrt(1.000001^-2^i) in UQ128.128 for i in 0..26, and a mask.
	ratioConstants = [29]*uint256.Int{
		uint256.MustFromBig(fromHex("0xfffff79c8499329c7cbb2510d893283b")),  // sqrt(1.000001^1)
		uint256.MustFromBig(fromHex("0x100000000000000000000000000000000")), // 1 in UQ128.128
		uint256.MustFromBig(fromHex("0xffffef390978c398134b4ff3764fe410")),  // sqrt(1.000001^2)
		uint256.MustFromBig(fromHex("0xffffde72140b00a354bd3dc828e976c9")),  // sqrt(1.000001^4)
		uint256.MustFromBig(fromHex("0xffffbce42c7be6c998ad6318193c0b18")),  // sqrt(1.000001^8)
		uint256.MustFromBig(fromHex("0xffff79c86a8f6150a32d9778eceef97c")),  // sqrt(1.000001^16)
		uint256.MustFromBig(fromHex("0xfffef3911b7cff24ba1b3dbb5f8f5974")),  // sqrt(1.000001^32)
		uint256.MustFromBig(fromHex("0xfffde72350725cc4ea8feece3b5f13c8")),  // sqrt(1.000001^64)
		uint256.MustFromBig(fromHex("0xfffbce4b06c196e9247ac87695d53c60")),  // sqrt(1.000001^128)
		uint256.MustFromBig(fromHex("0xfff79ca7a4d1bf1ee8556cea23cdbaa5")),  // sqrt(1.000001^256)
		uint256.MustFromBig(fromHex("0xffef3995a5b6a6267530f207142a5764")),  // sqrt(1.000001^512)
		uint256.MustFromBig(fromHex("0xffde7444b28145508125d10077ba83b8")),  // sqrt(1.000001^1024)
		uint256.MustFromBig(fromHex("0xffbceceeb791747f10df216f2e53ec57")),  // sqrt(1.000001^2048)
		uint256.MustFromBig(fromHex("0xff79eb706b9a64c6431d76e63531e929")),  // sqrt(1.000001^4096)
		uint256.MustFromBig(fromHex("0xfef41d1a5f2ae3a20676bec6f7f9459a")),  // sqrt(1.000001^8192)
		uint256.MustFromBig(fromHex("0xfde95287d26d81bea159c37073122c73")),  // sqrt(1.000001^16384)
		uint256.MustFromBig(fromHex("0xfbd701c7cbc4c8a6bb81efd232d1e4e7")),  // sqrt(1.000001^32768)
		uint256.MustFromBig(fromHex("0xf7bf5211c72f5185f372aeb1d48f937e")),  // sqrt(1.000001^65536)
		uint256.MustFromBig(fromHex("0xefc2bf59df33ecc28125cf78ec4f167f")),  // sqrt(1.000001^131072)
		uint256.MustFromBig(fromHex("0xe08d35706200796273f0b3a981d90cfd")),  // sqrt(1.000001^262144)
		uint256.MustFromBig(fromHex("0xc4f76b68947482dc198a48a54348c4ed")),  // sqrt(1.000001^524288)
		uint256.MustFromBig(fromHex("0x978bcb9894317807e5fa4498eee7c0fa")),  // sqrt(1.000001^1048576)
		uint256.MustFromBig(fromHex("0x59b63684b86e9f486ec54727371ba6ca")),  // sqrt(1.000001^2097152)
		uint256.MustFromBig(fromHex("0x1f703399d88f6aa83a28b22d4a1f56e3")),  // sqrt(1.000001^4194304)
		uint256.MustFromBig(fromHex("0x3dc5dac7376e20fc8679758d1bcdcfc")),   // sqrt(1.000001^8388608)
		uint256.MustFromBig(fromHex("0xee7e32d61fdb0a5e622b820f681d0")),     // sqrt(1.000001^16777216)
		uint256.MustFromBig(fromHex("0xde2ee4bc381afa7089aa84bb66")),        // sqrt(1.000001^33554432)
		uint256.MustFromBig(fromHex("0xc0d55d4d7152c25fb139")),              // sqrt(1.000001^67108864)
		uint256.MustFromBig(fromHex("0xffffffff")),                          // mask for rounding
	}
)

// tickMath holds reusable big.Int objects to avoid memory allocations.
type tickMath struct {
	ratio *uint256.Int
	rem   *uint256.Int
	temp  *big.Int
}

// pool manages a pool of tickMath objects for safe concurrent use.
var pool = sync.Pool{
	New: func() any {
		return &tickMath{
			ratio: new(uint256.Int),
			rem:   new(uint256.Int),
			temp:  new(big.Int),
		}
	},
}

// ValidSqrtRatio reports whether sqrtPriceX96 lies inside the representable
// price domain [MIN_SQRT_RATIO, MAX_SQRT_RATIO].
func ValidSqrtRatio(sqrtPriceX96 *big.Int) bool {
	if sqrtPriceX96 == nil {
		return false
	}
	return sqrtPriceX96.Cmp(MIN_SQRT_RATIO) >= 0 && sqrtPriceX96.Cmp(MAX_SQRT_RATIO) <= 0
}

// GetSqrtRatioAtTick calculates sqrt(1.000001^tick) * 2^96.
// This is a high-performance, allocation-free Go implementation.
func GetSqrtRatioAtTick(dest *big.Int, tick int32) error {
	if tick < MIN_TICK || tick > MAX_TICK {
		return ErrTickOutOfBounds
	}

	tm := pool.Get().(*tickMath)
	defer pool.Put(tm)

	absTick := int64(tick)
	if tick < 0 {
		absTick = -absTick
	}

	// Initialize ratio based on the least significant bit of absTick.
	if (absTick & 0x1) != 0 {
		tm.ratio.Set(ratioConstants[0])
	} else {
		tm.ratio.Set(ratioConstants[1])
	}

	// Repeated squaring: multiply in sqrt(1.000001^2^i) for every set bit.
	for i := 2; i < 28; i++ {
		if (absTick & (1 << (i - 1))) != 0 {
			tm.ratio.Mul(tm.ratio, ratioConstants[i]).Rsh(tm.ratio, 128)
		}
	}

	// If the tick is positive, compute the reciprocal.
	if tick > 0 {
		tm.ratio.Div(maxUint256, tm.ratio)
	}

	// Final rounding step: divide by 2^32 and round up.
	tm.rem.And(tm.ratio, ratioConstants[28])
	tm.ratio.Rsh(tm.ratio, 32)
	if tm.rem.Sign() > 0 {
		tm.ratio.Add(tm.ratio, one)
	}

	tm.ratio.IntoBig(&dest)
	return nil
}

// GetTickAtSqrtRatio calculates the greatest tick value such that
// GetSqrtRatioAtTick(tick) <= sqrtPriceX96.
// It uses a binary search for an efficient and accurate result.
func GetTickAtSqrtRatio(sqrtPriceX96 *big.Int) (int32, error) {
	if sqrtPriceX96.Cmp(MIN_SQRT_RATIO) < 0 || sqrtPriceX96.Cmp(MAX_SQRT_RATIO) >= 0 {
		return 0, ErrSqrtPriceOutOfBounds
	}

	low := MIN_TICK
	high := MAX_TICK
	var tick int32
	var err error

	// Reusable variable for the loop to avoid allocations.
	p := pool.Get().(*tickMath)
	defer pool.Put(p)

	sqrtRatio := p.temp

	for low <= high {
		mid := (low + high) / 2
		err = GetSqrtRatioAtTick(sqrtRatio, mid)
		if err != nil {
			return 0, err // Should not happen within the valid range
		}

		if sqrtRatio.Cmp(sqrtPriceX96) <= 0 {
			// mid is a candidate; try to find a larger tick that still satisfies it.
			tick = mid
			low = mid + 1
		} else {
			high = mid - 1
		}
	}

	return tick, nil
}

// Helper to create a big.Int from a hex string.
func fromHex(s string) *big.Int {
	n, _ := new(big.Int).SetString(s[2:], 16)
	return n
}
