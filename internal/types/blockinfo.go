package types

import (
	"encoding/binary"
	"errors"
)

// BlockInfo is the metadata of a decided (or proposed) block that the next
// height's validation depends on. Per the timestamp invariant, for
// consecutive decided blocks B_n, B_{n+1}: B_{n+1}.Timestamp > B_n.Timestamp.
type BlockInfo struct {
	Height     uint64
	Timestamp  uint64
	Builder    ValidatorID
	StateRoot  Hash
	TxRoot     Hash
	ContentID  Hash
}

// Equal reports whether two BlockInfo values describe the same block. Used
// by ValidProposalStore to detect a divergent re-insertion under the same
// (round, proposal-id) key.
func (b BlockInfo) Equal(other BlockInfo) bool {
	return b.Height == other.Height &&
		b.Timestamp == other.Timestamp &&
		b.Builder == other.Builder &&
		b.StateRoot == other.StateRoot &&
		b.TxRoot == other.TxRoot &&
		b.ContentID == other.ContentID
}

// encodeBlockInfo serializes BlockInfo into a fixed-layout, deterministic
// byte representation used for hashing and signing. There is no protobuf
// schema available in this build (see DESIGN.md); the layout is
// height(8) || timestamp(8) || builder(32) || state_root(32) || tx_root(32).
func encodeBlockInfo(b BlockInfo) []byte {
	buf := make([]byte, 8+8+AddressSize+HashSize+HashSize)
	off := 0
	binary.BigEndian.PutUint64(buf[off:], b.Height)
	off += 8
	binary.BigEndian.PutUint64(buf[off:], b.Timestamp)
	off += 8
	copy(buf[off:], b.Builder[:])
	off += AddressSize
	copy(buf[off:], b.StateRoot[:])
	off += HashSize
	copy(buf[off:], b.TxRoot[:])
	return buf
}

// BlockInfoFromBytes decodes bytes produced by encodeBlockInfo. Exposed for
// the p2p wire codec.
func BlockInfoFromBytes(b []byte) (BlockInfo, error) {
	want := 8 + 8 + AddressSize + HashSize + HashSize
	if len(b) != want {
		return BlockInfo{}, errors.New("types: invalid block info encoding length")
	}
	off := 0
	height := binary.BigEndian.Uint64(b[off:])
	off += 8
	ts := binary.BigEndian.Uint64(b[off:])
	off += 8
	var builder ValidatorID
	copy(builder[:], b[off:off+AddressSize])
	off += AddressSize
	var stateRoot, txRoot Hash
	copy(stateRoot[:], b[off:off+HashSize])
	off += HashSize
	copy(txRoot[:], b[off:off+HashSize])
	return BlockInfo{
		Height:    height,
		Timestamp: ts,
		Builder:   builder,
		StateRoot: stateRoot,
		TxRoot:    txRoot,
	}, nil
}

// Bytes returns the deterministic wire encoding of b (without ContentID,
// which is derived separately as a hash over the proposal payload).
func (b BlockInfo) Bytes() []byte {
	return encodeBlockInfo(b)
}
