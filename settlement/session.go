// Package settlement tracks the token obligations accumulated inside a
// locked engine session. Every pool operation records the amounts it moves
// as signed deltas against the acting account; the session may only close
// once every delta has been paid or withdrawn back to zero.
package settlement

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/defistate/amm-engine-go/amm"
)

// Session is the flash-accounting ledger for one engine lock. It is not
// safe for concurrent use; the engine serializes access to it.
type Session struct {
	// actors is the acting-account stack. Index 0 is the account that
	// opened the lock; forwarding to an extension pushes the extension
	// on top for the duration of the forwarded call.
	actors []common.Address

	// ledger holds the net signed delta per (account, token). Positive
	// means the account owes tokens to the engine, negative means the
	// engine owes tokens to the account.
	ledger map[common.Address]map[amm.Token]*big.Int
}

// NewSession opens a ledger with opener as the acting account.
func NewSession(opener common.Address) *Session {
	return &Session{
		actors: []common.Address{opener},
		ledger: make(map[common.Address]map[amm.Token]*big.Int),
	}
}

// Actor returns the current acting account.
func (s *Session) Actor() common.Address {
	return s.actors[len(s.actors)-1]
}

// Opener returns the account that opened the session.
func (s *Session) Opener() common.Address {
	return s.actors[0]
}

// Depth returns the size of the acting-account stack.
func (s *Session) Depth() int {
	return len(s.actors)
}

// PushActor makes actor the acting account until the matching PopActor.
func (s *Session) PushActor(actor common.Address) {
	s.actors = append(s.actors, actor)
}

// PopActor restores the previous acting account. The opener is never popped.
func (s *Session) PopActor() {
	if len(s.actors) > 1 {
		s.actors = s.actors[:len(s.actors)-1]
	}
}

// Record adds amount to the delta actor holds for token. Entries that net
// out to zero are dropped so an untouched ledger stays empty.
func (s *Session) Record(actor common.Address, token amm.Token, amount *big.Int) {
	if amount == nil || amount.Sign() == 0 {
		return
	}
	byToken, ok := s.ledger[actor]
	if !ok {
		byToken = make(map[amm.Token]*big.Int)
		s.ledger[actor] = byToken
	}
	delta, ok := byToken[token]
	if !ok {
		delta = new(big.Int)
		byToken[token] = delta
	}
	delta.Add(delta, amount)
	if delta.Sign() == 0 {
		delete(byToken, token)
		if len(byToken) == 0 {
			delete(s.ledger, actor)
		}
	}
}

// Delta returns a copy of the current delta for (actor, token); zero when
// no obligation is outstanding.
func (s *Session) Delta(actor common.Address, token amm.Token) *big.Int {
	if byToken, ok := s.ledger[actor]; ok {
		if delta, ok := byToken[token]; ok {
			return new(big.Int).Set(delta)
		}
	}
	return new(big.Int)
}

// Outstanding returns the number of (account, token) pairs with a nonzero
// delta.
func (s *Session) Outstanding() int {
	n := 0
	for _, byToken := range s.ledger {
		n += len(byToken)
	}
	return n
}

// Close verifies the ledger has been fully settled. It returns
// amm.ErrInsolvent when any delta is nonzero.
func (s *Session) Close() error {
	if s.Outstanding() != 0 {
		return amm.ErrInsolvent
	}
	return nil
}
