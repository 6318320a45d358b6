package types

import (
	"crypto/ed25519"
	"encoding/binary"
)

// VoteKind distinguishes a Tendermint prevote from a precommit.
type VoteKind int

const (
	Prevote VoteKind = iota
	Precommit
)

func (k VoteKind) String() string {
	switch k {
	case Prevote:
		return "Prevote"
	case Precommit:
		return "Precommit"
	default:
		return "Unknown"
	}
}

// Vote is a validator's prevote or precommit for a proposal, or nil
// (ProposalID == nil) when voting for no proposal.
type Vote struct {
	Kind       VoteKind
	Height     uint64
	Round      uint32
	Voter      ValidatorID
	ProposalID *Hash // Option<P>: nil represents a nil vote
	Signature  [64]byte
}

// IsNil reports whether this is a nil vote.
func (v *Vote) IsNil() bool {
	return v.ProposalID == nil
}

// SigningPayload returns the canonical bytes to sign for this vote.
// Format: kind(1) || height(8) || round(4) || proposal_id_present(1) || proposal_id(32)
func (v *Vote) SigningPayload() []byte {
	buf := make([]byte, 1+8+4+1+32)
	off := 0
	buf[off] = byte(v.Kind)
	off++
	binary.BigEndian.PutUint64(buf[off:], v.Height)
	off += 8
	binary.BigEndian.PutUint32(buf[off:], v.Round)
	off += 4
	if v.ProposalID != nil {
		buf[off] = 1
		off++
		copy(buf[off:], v.ProposalID[:])
	}
	return buf
}

// Verify checks the vote signature against the voter's public key.
func (v *Vote) Verify(pubKey [32]byte) bool {
	if v.Signature == [64]byte{} {
		return false
	}
	payload := v.SigningPayload()
	return ed25519.Verify(pubKey[:], payload, v.Signature[:])
}

// SameProposalID reports whether two Option<ProposalID> values agree,
// treating two nils as equal.
func SameProposalID(a, b *Hash) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
