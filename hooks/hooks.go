// Package hooks defines the extension interface pools may attach to.
// An extension declares its call points once; the engine caches them in
// the pool state at initialization and dispatches only the hooks the
// extension opted into.
package hooks

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/defistate/amm-engine-go/amm"
	"github.com/defistate/amm-engine-go/settlement"
)

// Core is the engine surface an extension may call back into while a hook
// is running. All mutating calls operate on the same locked session the
// triggering operation runs in.
type Core interface {
	Swap(s *settlement.Session, key amm.PoolKey, params amm.SwapParams) (amm.BalanceDelta, error)
	UpdatePosition(s *settlement.Session, key amm.PoolKey, params amm.UpdatePositionParams) (amm.BalanceDelta, *big.Int, *big.Int, error)
	CollectFees(s *settlement.Session, key amm.PoolKey, ref amm.PositionRef) (*big.Int, *big.Int, error)
	Pay(s *settlement.Session, token amm.Token, amount *big.Int) error
	Withdraw(s *settlement.Session, token amm.Token, amount *big.Int) error
	PoolState(key amm.PoolKey) (*amm.PoolState, error)
}

// Extension is a pool extension. Implementations embed NoopExtension and
// override the hooks their CallPoints declare; the engine never invokes a
// hook whose call point is false.
type Extension interface {
	// Address is the extension's identity. Pools reference extensions by
	// this address in their key.
	Address() common.Address

	// CallPoints declares which hooks the extension wants. It must be a
	// pure function: the result is cached per pool at initialization.
	CallPoints() amm.CallPoints

	BeforeInitializePool(core Core, s *settlement.Session, key amm.PoolKey, sqrtPriceX96 *big.Int) error
	AfterInitializePool(core Core, s *settlement.Session, key amm.PoolKey, sqrtPriceX96 *big.Int, tick int32) error

	BeforeUpdatePosition(core Core, s *settlement.Session, key amm.PoolKey, params amm.UpdatePositionParams) error
	AfterUpdatePosition(core Core, s *settlement.Session, key amm.PoolKey, params amm.UpdatePositionParams, delta amm.BalanceDelta, fees0, fees1 *big.Int) error

	BeforeSwap(core Core, s *settlement.Session, key amm.PoolKey, params amm.SwapParams) error
	AfterSwap(core Core, s *settlement.Session, key amm.PoolKey, params amm.SwapParams, delta amm.BalanceDelta) error

	BeforeCollectFees(core Core, s *settlement.Session, key amm.PoolKey, ref amm.PositionRef) error
	AfterCollectFees(core Core, s *settlement.Session, key amm.PoolKey, ref amm.PositionRef, fees0, fees1 *big.Int) error

	// Forwarded handles an opaque payload forwarded to the extension by
	// the locking account. The extension runs as the acting account for
	// the duration of the call.
	Forwarded(core Core, s *settlement.Session, payload []byte) ([]byte, error)
}

// NoopExtension implements Extension with every hook disabled. Embed it
// and override Address, CallPoints and the hooks you need.
type NoopExtension struct{}

func (NoopExtension) Address() common.Address { return common.Address{} }

func (NoopExtension) CallPoints() amm.CallPoints { return amm.CallPoints{} }

func (NoopExtension) BeforeInitializePool(Core, *settlement.Session, amm.PoolKey, *big.Int) error {
	return nil
}

func (NoopExtension) AfterInitializePool(Core, *settlement.Session, amm.PoolKey, *big.Int, int32) error {
	return nil
}

func (NoopExtension) BeforeUpdatePosition(Core, *settlement.Session, amm.PoolKey, amm.UpdatePositionParams) error {
	return nil
}

func (NoopExtension) AfterUpdatePosition(Core, *settlement.Session, amm.PoolKey, amm.UpdatePositionParams, amm.BalanceDelta, *big.Int, *big.Int) error {
	return nil
}

func (NoopExtension) BeforeSwap(Core, *settlement.Session, amm.PoolKey, amm.SwapParams) error {
	return nil
}

func (NoopExtension) AfterSwap(Core, *settlement.Session, amm.PoolKey, amm.SwapParams, amm.BalanceDelta) error {
	return nil
}

func (NoopExtension) BeforeCollectFees(Core, *settlement.Session, amm.PoolKey, amm.PositionRef) error {
	return nil
}

func (NoopExtension) AfterCollectFees(Core, *settlement.Session, amm.PoolKey, amm.PositionRef, *big.Int, *big.Int) error {
	return nil
}

func (NoopExtension) Forwarded(Core, *settlement.Session, []byte) ([]byte, error) {
	return nil, nil
}
