package types

import (
	"encoding/binary"
)

// Proposal is broadcast by a round's proposer. ContentID identifies the
// proposal's payload (a hash of the block commitment); two proposals with
// the same ContentID are semantically the same block even if they carry
// different Round or BlockInfo.Timestamp (§3).
type Proposal struct {
	Height     uint64
	Round      uint32
	Proposer   ValidatorID
	ValidRound *uint32 // Option<R>: the round this proposal carries a POL for, if any
	BlockInfo  BlockInfo
	ContentID  Hash
	Signature  [64]byte
}

// SigningPayload returns the canonical bytes to sign for this proposal.
// Format: content_id(32) || height(8) || round(4) || valid_round_present(1) || valid_round(4)
func (p *Proposal) SigningPayload() []byte {
	buf := make([]byte, 32+8+4+1+4)
	off := 0
	copy(buf[off:], p.ContentID[:])
	off += 32
	binary.BigEndian.PutUint64(buf[off:], p.Height)
	off += 8
	binary.BigEndian.PutUint32(buf[off:], p.Round)
	off += 4
	if p.ValidRound != nil {
		buf[off] = 1
		off++
		binary.BigEndian.PutUint32(buf[off:], *p.ValidRound)
	}
	return buf
}

// TimeoutMessage is broadcast when a validator's round timer expires,
// carrying the timeout kind so peers can distinguish
// TimeoutPropose/TimeoutPrevote/TimeoutPrecommit.
type TimeoutMessage struct {
	Kind      TimeoutKind
	Height    uint64
	Round     uint32
	Voter     ValidatorID
	Signature [64]byte
}

// TimeoutKind identifies which of the three per-round timers fired.
type TimeoutKind int

const (
	TimeoutPropose TimeoutKind = iota
	TimeoutPrevote
	TimeoutPrecommit
)

func (k TimeoutKind) String() string {
	switch k {
	case TimeoutPropose:
		return "Propose"
	case TimeoutPrevote:
		return "Prevote"
	case TimeoutPrecommit:
		return "Precommit"
	default:
		return "Unknown"
	}
}

// SigningPayload returns the canonical bytes to sign for this timeout message.
// Format: kind(1) || height(8) || round(4)
func (tm *TimeoutMessage) SigningPayload() []byte {
	buf := make([]byte, 1+8+4)
	buf[0] = byte(tm.Kind)
	binary.BigEndian.PutUint64(buf[1:], tm.Height)
	binary.BigEndian.PutUint32(buf[9:], tm.Round)
	return buf
}

// SlashingEvidence wraps evidence of validator misbehaviour that the round
// protocol reacts to directly (proposer equivocation advances the round,
// §3's Round definition).
type SlashingEvidence struct {
	DoubleProposal *DoubleProposalEvidence
	Height         uint64
}

// DoubleProposalEvidence proves a validator proposed two different
// content IDs at the same (height, round).
type DoubleProposalEvidence struct {
	ProposalA   *Proposal
	ProposalB   *Proposal
	ValidatorID ValidatorID
}
