package p2p

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/echenim/Bedrock/controlplane/internal/types"
)

// MessageType identifies the type of consensus message on the wire.
type MessageType byte

const (
	MsgProposal MessageType = 0x01
	MsgVote     MessageType = 0x02
	MsgTimeout  MessageType = 0x03
)

// MaxMessageSize is the maximum allowed message size (4 MB).
const MaxMessageSize = 4 * 1024 * 1024

func (mt MessageType) String() string {
	switch mt {
	case MsgProposal:
		return "proposal"
	case MsgVote:
		return "vote"
	case MsgTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(mt))
	}
}

// Envelope wraps a typed message for wire encoding.
type Envelope struct {
	Type    MessageType
	Payload []byte
}

// Encode serializes the envelope as [type_byte | payload].
func (e *Envelope) Encode() []byte {
	buf := make([]byte, 1+len(e.Payload))
	buf[0] = byte(e.Type)
	copy(buf[1:], e.Payload)
	return buf
}

// DecodeEnvelope parses a wire-format message into an Envelope.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	if len(data) == 0 {
		return nil, errors.New("p2p: empty message")
	}
	if len(data) > MaxMessageSize {
		return nil, fmt.Errorf("p2p: message too large: %d > %d", len(data), MaxMessageSize)
	}
	return &Envelope{
		Type:    MessageType(data[0]),
		Payload: data[1:],
	}, nil
}

// DecodedProposal is a received proposal alongside its content chunks
// (the block's transaction payload, gossiped inline rather than as
// separately addressed "parts" — see DESIGN.md).
type DecodedProposal struct {
	Proposal *types.Proposal
	Content  [][]byte
}

// EncodeProposal serializes a Proposal and its content chunks into wire
// format using the manual binary codec in internal/types/wire.go (no
// protobuf schema in this build — see DESIGN.md). Layout:
// proposal_bytes || num_parts(4) || (part_len(4) || part_bytes)*.
func EncodeProposal(p *types.Proposal, content [][]byte) ([]byte, error) {
	proposalBytes := p.Bytes()
	size := len(proposalBytes) + 4
	for _, part := range content {
		size += 4 + len(part)
	}

	payload := make([]byte, size)
	off := copy(payload, proposalBytes)
	binary.BigEndian.PutUint32(payload[off:], uint32(len(content)))
	off += 4
	for _, part := range content {
		binary.BigEndian.PutUint32(payload[off:], uint32(len(part)))
		off += 4
		off += copy(payload[off:], part)
	}

	env := &Envelope{Type: MsgProposal, Payload: payload}
	return env.Encode(), nil
}

// DecodeProposal deserializes a proposal and its content chunks from
// payload bytes produced by EncodeProposal.
func DecodeProposal(payload []byte) (*DecodedProposal, error) {
	const proposalLen = types.ProposalEncodedLen
	if len(payload) < proposalLen+4 {
		return nil, errors.New("p2p: truncated proposal message")
	}
	p, err := types.ProposalFromBytes(payload[:proposalLen])
	if err != nil {
		return nil, fmt.Errorf("p2p: decode proposal: %w", err)
	}

	off := proposalLen
	numParts := binary.BigEndian.Uint32(payload[off:])
	off += 4

	content := make([][]byte, 0, numParts)
	for range int(numParts) {
		if off+4 > len(payload) {
			return nil, errors.New("p2p: truncated proposal content length")
		}
		partLen := int(binary.BigEndian.Uint32(payload[off:]))
		off += 4
		if off+partLen > len(payload) {
			return nil, errors.New("p2p: truncated proposal content part")
		}
		content = append(content, append([]byte(nil), payload[off:off+partLen]...))
		off += partLen
	}

	return &DecodedProposal{Proposal: p, Content: content}, nil
}

// EncodeVote serializes a Vote into wire format.
func EncodeVote(v *types.Vote) ([]byte, error) {
	env := &Envelope{Type: MsgVote, Payload: v.Bytes()}
	return env.Encode(), nil
}

// DecodeVote deserializes a Vote from payload bytes.
func DecodeVote(payload []byte) (*types.Vote, error) {
	v, err := types.VoteFromBytes(payload)
	if err != nil {
		return nil, fmt.Errorf("p2p: decode vote: %w", err)
	}
	return v, nil
}

// EncodeTimeout serializes a TimeoutMessage into wire format.
func EncodeTimeout(tm *types.TimeoutMessage) ([]byte, error) {
	env := &Envelope{Type: MsgTimeout, Payload: tm.Bytes()}
	return env.Encode(), nil
}

// DecodeTimeout deserializes a TimeoutMessage from payload bytes.
func DecodeTimeout(payload []byte) (*types.TimeoutMessage, error) {
	tm, err := types.TimeoutMessageFromBytes(payload)
	if err != nil {
		return nil, fmt.Errorf("p2p: decode timeout: %w", err)
	}
	return tm, nil
}

// DecodeMessage decodes a wire-format message into its type and domain object.
// Returns (MessageType, *DecodedProposal|*types.Vote|*types.TimeoutMessage, error).
func DecodeMessage(data []byte) (MessageType, interface{}, error) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return 0, nil, err
	}

	switch env.Type {
	case MsgProposal:
		p, err := DecodeProposal(env.Payload)
		return MsgProposal, p, err
	case MsgVote:
		v, err := DecodeVote(env.Payload)
		return MsgVote, v, err
	case MsgTimeout:
		tm, err := DecodeTimeout(env.Payload)
		return MsgTimeout, tm, err
	default:
		return env.Type, nil, fmt.Errorf("p2p: unknown message type: 0x%02x", byte(env.Type))
	}
}
