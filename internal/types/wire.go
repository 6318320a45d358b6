package types

import (
	"encoding/binary"
	"errors"
)

// This file holds the manual binary wire encodings for the consensus
// message types the p2p layer gossips. There is no protobuf schema
// available in this build (see DESIGN.md); these mirror the fixed-layout,
// deterministic approach BlockInfo.Bytes()/BlockInfoFromBytes() already
// use, rather than a generated marshaler.

const (
	proposalFixedLen = 8 + 4 + AddressSize + 1 + 4 + HashSize + 64
	voteFixedLen     = 1 + 8 + 4 + AddressSize + 1 + HashSize + 64
	timeoutFixedLen  = 1 + 8 + 4 + AddressSize + 64

	blockInfoEncodedLen = 8 + 8 + AddressSize + HashSize + HashSize

	// ProposalEncodedLen is the total length of Proposal.Bytes(), exposed
	// so the p2p wire codec can split a proposal message's fixed header
	// from any trailing content chunks.
	ProposalEncodedLen = proposalFixedLen + blockInfoEncodedLen
)

// Bytes serializes p into its wire form:
// height(8) || round(4) || proposer(32) || valid_round_present(1) ||
// valid_round(4) || block_info(112) || content_id(32) || signature(64).
func (p *Proposal) Bytes() []byte {
	infoBytes := p.BlockInfo.Bytes()
	buf := make([]byte, proposalFixedLen+len(infoBytes))
	off := 0
	binary.BigEndian.PutUint64(buf[off:], p.Height)
	off += 8
	binary.BigEndian.PutUint32(buf[off:], p.Round)
	off += 4
	copy(buf[off:], p.Proposer[:])
	off += AddressSize
	if p.ValidRound != nil {
		buf[off] = 1
	}
	off++
	if p.ValidRound != nil {
		binary.BigEndian.PutUint32(buf[off:], *p.ValidRound)
	}
	off += 4
	copy(buf[off:], infoBytes)
	off += len(infoBytes)
	copy(buf[off:], p.ContentID[:])
	off += HashSize
	copy(buf[off:], p.Signature[:])
	return buf
}

// ProposalFromBytes decodes bytes produced by Proposal.Bytes.
func ProposalFromBytes(b []byte) (*Proposal, error) {
	const infoLen = blockInfoEncodedLen
	if len(b) != ProposalEncodedLen {
		return nil, errors.New("types: invalid proposal encoding length")
	}
	p := &Proposal{}
	off := 0
	p.Height = binary.BigEndian.Uint64(b[off:])
	off += 8
	p.Round = binary.BigEndian.Uint32(b[off:])
	off += 4
	copy(p.Proposer[:], b[off:off+AddressSize])
	off += AddressSize
	hasValidRound := b[off] == 1
	off++
	vr := binary.BigEndian.Uint32(b[off:])
	off += 4
	if hasValidRound {
		p.ValidRound = &vr
	}
	info, err := BlockInfoFromBytes(b[off : off+infoLen])
	if err != nil {
		return nil, err
	}
	off += infoLen
	p.BlockInfo = info
	var contentID Hash
	copy(contentID[:], b[off:off+HashSize])
	off += HashSize
	p.ContentID = contentID
	p.BlockInfo.ContentID = contentID
	copy(p.Signature[:], b[off:off+64])
	return p, nil
}

// Bytes serializes v into its wire form:
// kind(1) || height(8) || round(4) || voter(32) || proposal_id_present(1) ||
// proposal_id(32) || signature(64).
func (v *Vote) Bytes() []byte {
	buf := make([]byte, voteFixedLen)
	off := 0
	buf[off] = byte(v.Kind)
	off++
	binary.BigEndian.PutUint64(buf[off:], v.Height)
	off += 8
	binary.BigEndian.PutUint32(buf[off:], v.Round)
	off += 4
	copy(buf[off:], v.Voter[:])
	off += AddressSize
	if v.ProposalID != nil {
		buf[off] = 1
		off++
		copy(buf[off:], v.ProposalID[:])
	} else {
		off++
	}
	off += HashSize
	copy(buf[off:], v.Signature[:])
	return buf
}

// VoteFromBytes decodes bytes produced by Vote.Bytes.
func VoteFromBytes(b []byte) (*Vote, error) {
	if len(b) != voteFixedLen {
		return nil, errors.New("types: invalid vote encoding length")
	}
	v := &Vote{}
	off := 0
	v.Kind = VoteKind(b[off])
	off++
	v.Height = binary.BigEndian.Uint64(b[off:])
	off += 8
	v.Round = binary.BigEndian.Uint32(b[off:])
	off += 4
	copy(v.Voter[:], b[off:off+AddressSize])
	off += AddressSize
	hasProposalID := b[off] == 1
	off++
	var proposalID Hash
	copy(proposalID[:], b[off:off+HashSize])
	off += HashSize
	if hasProposalID {
		v.ProposalID = &proposalID
	}
	copy(v.Signature[:], b[off:off+64])
	return v, nil
}

// Bytes serializes tm into its wire form:
// kind(1) || height(8) || round(4) || voter(32) || signature(64).
func (tm *TimeoutMessage) Bytes() []byte {
	buf := make([]byte, timeoutFixedLen)
	off := 0
	buf[off] = byte(tm.Kind)
	off++
	binary.BigEndian.PutUint64(buf[off:], tm.Height)
	off += 8
	binary.BigEndian.PutUint32(buf[off:], tm.Round)
	off += 4
	copy(buf[off:], tm.Voter[:])
	off += AddressSize
	copy(buf[off:], tm.Signature[:])
	return buf
}

// TimeoutMessageFromBytes decodes bytes produced by TimeoutMessage.Bytes.
func TimeoutMessageFromBytes(b []byte) (*TimeoutMessage, error) {
	if len(b) != timeoutFixedLen {
		return nil, errors.New("types: invalid timeout message encoding length")
	}
	tm := &TimeoutMessage{}
	off := 0
	tm.Kind = TimeoutKind(b[off])
	off++
	tm.Height = binary.BigEndian.Uint64(b[off:])
	off += 8
	tm.Round = binary.BigEndian.Uint32(b[off:])
	off += 4
	copy(tm.Voter[:], b[off:off+AddressSize])
	off += AddressSize
	copy(tm.Signature[:], b[off:off+64])
	return tm, nil
}
