// Package engine is the top-level facade: it owns every pool, the token
// reserves, and the extension registry, and exposes the locked-session
// surface all mutating operations run through.
//
// Mutations are staged on deep copies of the committed state. A session
// that returns an error, or closes with unsettled ledger deltas, is
// discarded wholesale; the committed state is replaced only on a clean
// close. Readers outside a session always observe the last committed state.
package engine

import (
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/defistate/amm-engine-go/amm"
	"github.com/defistate/amm-engine-go/amm/pool"
	"github.com/defistate/amm-engine-go/hooks"
	"github.com/defistate/amm-engine-go/settlement"
)

var (
	ErrNilLogger   = errors.New("engine: logger is required")
	ErrNilRegistry = errors.New("engine: prometheus registerer is required")
)

// Config carries the engine's dependencies. Logger and Registry are
// required.
type Config struct {
	Logger   *slog.Logger
	Registry prometheus.Registerer

	// Now supplies the clock for deadline checks. Defaults to time.Now.
	Now func() time.Time
}

// state is the complete mutable world: pools plus token reserves. It is
// replaced atomically on session commit.
type state struct {
	pools    map[amm.PoolID]*pool.Pool
	reserves map[amm.Token]*big.Int
}

func newState() *state {
	return &state{
		pools:    make(map[amm.PoolID]*pool.Pool),
		reserves: make(map[amm.Token]*big.Int),
	}
}

func (s *state) clone() *state {
	pools := make(map[amm.PoolID]*pool.Pool, len(s.pools))
	for id, p := range s.pools {
		pools[id] = p.Clone()
	}
	reserves := make(map[amm.Token]*big.Int, len(s.reserves))
	for token, amount := range s.reserves {
		reserves[token] = new(big.Int).Set(amount)
	}
	return &state{pools: pools, reserves: reserves}
}

// Engine coordinates sessions over the pool set. All mutating methods
// require the *settlement.Session of the currently open Lock; queries may
// be called at any time and see staged state while a session is open.
type Engine struct {
	mu      sync.Mutex
	locked  bool
	session *settlement.Session

	committed *state
	staged    *state

	extensions map[common.Address]hooks.Extension

	logger  *slog.Logger
	metrics *metrics
	now     func() time.Time
}

// Compile-time check that the engine satisfies the extension callback surface.
var _ hooks.Core = (*Engine)(nil)

// New builds an engine from cfg.
func New(cfg Config) (*Engine, error) {
	if cfg.Logger == nil {
		return nil, ErrNilLogger
	}
	if cfg.Registry == nil {
		return nil, ErrNilRegistry
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		committed:  newState(),
		extensions: make(map[common.Address]hooks.Extension),
		logger:     cfg.Logger,
		metrics:    newMetrics(cfg.Registry),
		now:        now,
	}, nil
}

// RegisterExtension adds ext to the registry under its address. The
// registry is append-only; registering the same address twice fails.
func (e *Engine) RegisterExtension(ext hooks.Extension) error {
	addr := ext.Address()
	if addr == (common.Address{}) {
		return amm.ErrExtensionNotRegistered
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.extensions[addr]; ok {
		return amm.ErrExtensionAlreadyRegistered
	}
	e.extensions[addr] = ext
	e.logger.Info("extension registered", "address", addr.Hex())
	return nil
}

// Lock opens a session for actor, runs fn against it, and commits the
// staged state iff fn succeeds and every ledger delta has been settled.
// Nested Lock calls fail with amm.ErrReentrantLock.
func (e *Engine) Lock(actor common.Address, fn func(s *settlement.Session) error) error {
	e.mu.Lock()
	if e.locked {
		e.mu.Unlock()
		return amm.ErrReentrantLock
	}
	e.locked = true
	e.staged = e.committed.clone()
	session := settlement.NewSession(actor)
	e.session = session
	e.mu.Unlock()

	e.metrics.sessionsOpened.Inc()

	err := fn(session)
	if err == nil {
		err = session.Close()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.staged = nil
		e.session = nil
		e.locked = false
		e.metrics.sessionsAborted.Inc()
		e.logger.Warn("session aborted", "actor", actor.Hex(), "error", err)
		return err
	}
	e.committed = e.staged
	e.staged = nil
	e.session = nil
	e.locked = false
	e.metrics.sessionsCommitted.Inc()
	return nil
}

// working returns the staged state for s, verifying s is the session of
// the currently open lock.
func (e *Engine) working(s *settlement.Session) (*state, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s == nil || s != e.session {
		return nil, amm.ErrNoActiveSession
	}
	return e.staged, nil
}

// extensionFor returns the registered extension behind a pool, or nil when
// the pool has none.
func (e *Engine) extensionFor(p *pool.Pool) hooks.Extension {
	addr := p.Key.Config.Extension
	if addr == (common.Address{}) {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.extensions[addr]
}

// InitializePool creates a pool for key at the given starting price and
// returns its initial tick. The pool's extension, if any, must already be
// registered; its call points are resolved here and cached for the pool's
// lifetime.
func (e *Engine) InitializePool(s *settlement.Session, key amm.PoolKey, sqrtPriceX96 *big.Int) (int32, error) {
	st, err := e.working(s)
	if err != nil {
		return 0, err
	}
	id := key.ID()
	if _, ok := st.pools[id]; ok {
		return 0, amm.ErrPoolAlreadyInitialized
	}

	var ext hooks.Extension
	var cp amm.CallPoints
	if key.Config.Extension != (common.Address{}) {
		e.mu.Lock()
		ext = e.extensions[key.Config.Extension]
		e.mu.Unlock()
		if ext == nil {
			return 0, amm.ErrExtensionNotRegistered
		}
		cp = ext.CallPoints()
	}

	if cp.BeforeInitializePool {
		if err := ext.BeforeInitializePool(e, s, key, sqrtPriceX96); err != nil {
			return 0, err
		}
	}

	p, err := pool.New(key, sqrtPriceX96)
	if err != nil {
		return 0, err
	}
	p.State.CallPoints = cp
	st.pools[id] = p

	if cp.AfterInitializePool {
		if err := ext.AfterInitializePool(e, s, key, sqrtPriceX96, p.State.Tick); err != nil {
			return 0, err
		}
	}

	e.metrics.poolsInitialized.Inc()
	e.logger.Info("pool initialized",
		"pool", common.Bytes2Hex(id[:]),
		"token0", key.Token0.Hex(),
		"token1", key.Token1.Hex(),
		"fee", key.Config.Fee,
		"tickSpacing", key.Config.TickSpacing,
		"tick", p.State.Tick,
	)
	return p.State.Tick, nil
}

// Swap executes a swap against key's pool and records the resulting token
// deltas on the acting account. Positive amounts are owed to the engine.
func (e *Engine) Swap(s *settlement.Session, key amm.PoolKey, params amm.SwapParams) (amm.BalanceDelta, error) {
	st, err := e.working(s)
	if err != nil {
		return amm.ZeroBalanceDelta(), err
	}
	if params.Deadline != 0 && e.now().Unix() > params.Deadline {
		return amm.ZeroBalanceDelta(), amm.ErrDeadlineExceeded
	}
	p, ok := st.pools[key.ID()]
	if !ok {
		return amm.ZeroBalanceDelta(), amm.ErrPoolNotInitialized
	}

	if p.State.CallPoints.BeforeSwap {
		if err := e.extensionFor(p).BeforeSwap(e, s, key, params); err != nil {
			return amm.ZeroBalanceDelta(), err
		}
	}

	res, err := p.Swap(params)
	if err != nil {
		return amm.ZeroBalanceDelta(), err
	}
	s.Record(s.Actor(), key.Token0, res.Amount0)
	s.Record(s.Actor(), key.Token1, res.Amount1)
	delta := amm.NewBalanceDelta(res.Amount0, res.Amount1)

	if p.State.CallPoints.AfterSwap {
		if err := e.extensionFor(p).AfterSwap(e, s, key, params, delta); err != nil {
			return amm.ZeroBalanceDelta(), err
		}
	}

	e.metrics.swaps.Inc()
	e.metrics.swapSteps.Observe(float64(res.Steps))
	e.logger.Debug("swap",
		"pool", common.Bytes2Hex(p.ID[:]),
		"amount0", res.Amount0,
		"amount1", res.Amount1,
		"steps", res.Steps,
		"tick", p.State.Tick,
	)
	return delta, nil
}

// UpdatePosition applies a liquidity delta to the acting account's position
// and records both the principal amounts and the settled fees on the
// session ledger. Fees are credited (negative deltas) to the actor.
func (e *Engine) UpdatePosition(s *settlement.Session, key amm.PoolKey, params amm.UpdatePositionParams) (amm.BalanceDelta, *big.Int, *big.Int, error) {
	st, err := e.working(s)
	if err != nil {
		return amm.ZeroBalanceDelta(), nil, nil, err
	}
	p, ok := st.pools[key.ID()]
	if !ok {
		return amm.ZeroBalanceDelta(), nil, nil, amm.ErrPoolNotInitialized
	}

	if p.State.CallPoints.BeforeUpdatePosition {
		if err := e.extensionFor(p).BeforeUpdatePosition(e, s, key, params); err != nil {
			return amm.ZeroBalanceDelta(), nil, nil, err
		}
	}

	delta, fees0, fees1, err := p.UpdatePosition(params)
	if err != nil {
		return amm.ZeroBalanceDelta(), nil, nil, err
	}
	actor := s.Actor()
	s.Record(actor, key.Token0, delta.Amount0)
	s.Record(actor, key.Token1, delta.Amount1)
	s.Record(actor, key.Token0, new(big.Int).Neg(fees0))
	s.Record(actor, key.Token1, new(big.Int).Neg(fees1))

	if p.State.CallPoints.AfterUpdatePosition {
		if err := e.extensionFor(p).AfterUpdatePosition(e, s, key, params, delta, fees0, fees1); err != nil {
			return amm.ZeroBalanceDelta(), nil, nil, err
		}
	}

	e.metrics.positionUpdates.Inc()
	e.logger.Debug("position updated",
		"pool", common.Bytes2Hex(p.ID[:]),
		"owner", params.Owner.Hex(),
		"tickLower", params.TickLower,
		"tickUpper", params.TickUpper,
		"liquidityDelta", params.LiquidityDelta,
		"amount0", delta.Amount0,
		"amount1", delta.Amount1,
	)
	return delta, fees0, fees1, nil
}

// CollectFees settles a position's accrued fees and credits them to the
// acting account without changing its liquidity.
func (e *Engine) CollectFees(s *settlement.Session, key amm.PoolKey, ref amm.PositionRef) (*big.Int, *big.Int, error) {
	st, err := e.working(s)
	if err != nil {
		return nil, nil, err
	}
	p, ok := st.pools[key.ID()]
	if !ok {
		return nil, nil, amm.ErrPoolNotInitialized
	}

	if p.State.CallPoints.BeforeCollectFees {
		if err := e.extensionFor(p).BeforeCollectFees(e, s, key, ref); err != nil {
			return nil, nil, err
		}
	}

	fees0, fees1, err := p.CollectFees(ref)
	if err != nil {
		return nil, nil, err
	}
	actor := s.Actor()
	s.Record(actor, key.Token0, new(big.Int).Neg(fees0))
	s.Record(actor, key.Token1, new(big.Int).Neg(fees1))

	if p.State.CallPoints.AfterCollectFees {
		if err := e.extensionFor(p).AfterCollectFees(e, s, key, ref, fees0, fees1); err != nil {
			return nil, nil, err
		}
	}

	e.metrics.feeCollections.Inc()
	return fees0, fees1, nil
}

// Pay moves amount of token from the acting account into the engine's
// reserves, reducing the account's outstanding debt on the ledger.
func (e *Engine) Pay(s *settlement.Session, token amm.Token, amount *big.Int) error {
	st, err := e.working(s)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return amm.ErrInvalidAmount
	}
	reserve, ok := st.reserves[token]
	if !ok {
		reserve = new(big.Int)
		st.reserves[token] = reserve
	}
	reserve.Add(reserve, amount)
	s.Record(s.Actor(), token, new(big.Int).Neg(amount))
	return nil
}

// Withdraw moves amount of token from the engine's reserves to the acting
// account, increasing the account's ledger delta.
func (e *Engine) Withdraw(s *settlement.Session, token amm.Token, amount *big.Int) error {
	st, err := e.working(s)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return amm.ErrInvalidAmount
	}
	reserve, ok := st.reserves[token]
	if !ok || reserve.Cmp(amount) < 0 {
		return amm.ErrInsufficientReserves
	}
	reserve.Sub(reserve, amount)
	s.Record(s.Actor(), token, new(big.Int).Set(amount))
	return nil
}

// Forward hands payload to a registered extension, making it the acting
// account for the duration of the call. Ledger deltas the extension
// accumulates are its own to settle before the session closes.
func (e *Engine) Forward(s *settlement.Session, extension common.Address, payload []byte) ([]byte, error) {
	if _, err := e.working(s); err != nil {
		return nil, err
	}
	e.mu.Lock()
	ext, ok := e.extensions[extension]
	e.mu.Unlock()
	if !ok {
		return nil, amm.ErrExtensionNotRegistered
	}
	s.PushActor(ext.Address())
	defer s.PopActor()
	return ext.Forwarded(e, s, payload)
}

// snapshot returns the state readers should observe: the staged state
// while a session is open, the committed state otherwise.
func (e *Engine) snapshot() *state {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.staged != nil {
		return e.staged
	}
	return e.committed
}

// PoolState returns a copy of the current state of key's pool.
func (e *Engine) PoolState(key amm.PoolKey) (*amm.PoolState, error) {
	p, ok := e.snapshot().pools[key.ID()]
	if !ok {
		return nil, amm.ErrPoolNotInitialized
	}
	return p.State.Clone(), nil
}

// Tick returns a copy of the record for an initialized tick of key's pool.
func (e *Engine) Tick(key amm.PoolKey, tick int32) (*amm.TickInfo, bool, error) {
	p, ok := e.snapshot().pools[key.ID()]
	if !ok {
		return nil, false, amm.ErrPoolNotInitialized
	}
	info, ok := p.Ticks.Get(tick)
	if !ok {
		return nil, false, nil
	}
	return info.Clone(), true, nil
}

// Position returns a copy of a position's record.
func (e *Engine) Position(key amm.PoolKey, ref amm.PositionRef) (*amm.Position, error) {
	p, ok := e.snapshot().pools[key.ID()]
	if !ok {
		return nil, amm.ErrPoolNotInitialized
	}
	pos, ok := p.Position(ref)
	if !ok {
		return nil, amm.ErrPositionNotFound
	}
	return pos.Clone(), nil
}

// Reserve returns the engine's reserve balance for token.
func (e *Engine) Reserve(token amm.Token) *big.Int {
	if reserve, ok := e.snapshot().reserves[token]; ok {
		return new(big.Int).Set(reserve)
	}
	return new(big.Int)
}
