package settlement

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defistate/amm-engine-go/amm"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	tokA  = common.HexToAddress("0x0000000000000000000000000000000000000001")
	tokB  = common.HexToAddress("0x0000000000000000000000000000000000000002")
)

func TestSession_RecordAndDelta(t *testing.T) {
	s := NewSession(alice)
	assert.Equal(t, alice, s.Actor())
	assert.Equal(t, alice, s.Opener())

	s.Record(alice, tokA, big.NewInt(100))
	s.Record(alice, tokA, big.NewInt(-30))
	s.Record(alice, tokB, big.NewInt(-5))

	assert.Zero(t, s.Delta(alice, tokA).Cmp(big.NewInt(70)))
	assert.Zero(t, s.Delta(alice, tokB).Cmp(big.NewInt(-5)))
	assert.Zero(t, s.Delta(bob, tokA).Sign())
	assert.Equal(t, 2, s.Outstanding())
}

func TestSession_ZeroedEntriesAreDropped(t *testing.T) {
	s := NewSession(alice)
	s.Record(alice, tokA, big.NewInt(100))
	s.Record(alice, tokA, big.NewInt(-100))
	assert.Equal(t, 0, s.Outstanding())

	// Nil and zero records are no-ops.
	s.Record(alice, tokA, nil)
	s.Record(alice, tokA, new(big.Int))
	assert.Equal(t, 0, s.Outstanding())
}

func TestSession_Close(t *testing.T) {
	s := NewSession(alice)
	require.NoError(t, s.Close())

	s.Record(alice, tokA, big.NewInt(1))
	assert.ErrorIs(t, s.Close(), amm.ErrInsolvent)

	s.Record(alice, tokA, big.NewInt(-1))
	require.NoError(t, s.Close())
}

func TestSession_CloseChecksAllActors(t *testing.T) {
	// A debt parked on a forwarded actor blocks the close just as the
	// opener's own would.
	s := NewSession(alice)
	s.Record(bob, tokB, big.NewInt(7))
	assert.ErrorIs(t, s.Close(), amm.ErrInsolvent)
}

func TestSession_ActorStack(t *testing.T) {
	s := NewSession(alice)
	assert.Equal(t, 1, s.Depth())

	s.PushActor(bob)
	assert.Equal(t, bob, s.Actor())
	assert.Equal(t, alice, s.Opener())
	assert.Equal(t, 2, s.Depth())

	s.PopActor()
	assert.Equal(t, alice, s.Actor())

	// The opener is never popped.
	s.PopActor()
	assert.Equal(t, alice, s.Actor())
	assert.Equal(t, 1, s.Depth())
}

func TestSession_DeltaReturnsCopy(t *testing.T) {
	s := NewSession(alice)
	s.Record(alice, tokA, big.NewInt(10))

	d := s.Delta(alice, tokA)
	d.SetInt64(999)
	assert.Zero(t, s.Delta(alice, tokA).Cmp(big.NewInt(10)))
}
