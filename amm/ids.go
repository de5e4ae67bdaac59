package amm

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/zeebo/blake3"
)

// ID derives the pool's content-derived identifier from its key.
func (k PoolKey) ID() PoolID {
	h := blake3.New()
	h.Write(k.Token0.Bytes())
	h.Write(k.Token1.Bytes())

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], k.Config.Fee)
	h.Write(buf[:])
	binary.BigEndian.PutUint32(buf[:4], uint32(k.Config.TickSpacing))
	h.Write(buf[:4])
	h.Write(k.Config.Extension.Bytes())

	var id PoolID
	h.Digest().Read(id[:])
	return id
}

// NewPositionID derives the identifier of an owner's position in a pool.
func NewPositionID(pool PoolID, owner common.Address, tickLower, tickUpper int32, salt [32]byte) PositionID {
	h := blake3.New()
	h.Write(pool[:])
	h.Write(owner.Bytes())

	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(tickLower))
	h.Write(buf[:])
	binary.BigEndian.PutUint32(buf[:], uint32(tickUpper))
	h.Write(buf[:])
	h.Write(salt[:])

	var id PositionID
	h.Digest().Read(id[:])
	return id
}
