package consensus

import (
	"github.com/echenim/Bedrock/controlplane/internal/types"
)

// Step is the current phase of a round.
type Step int

const (
	StepPropose Step = iota
	StepPrevote
	StepPrecommit
)

func (s Step) String() string {
	switch s {
	case StepPropose:
		return "Propose"
	case StepPrevote:
		return "Prevote"
	case StepPrecommit:
		return "Precommit"
	default:
		return "Unknown"
	}
}

// RoundProposal is a (round, proposal-id) pair, the unit the locking rule and
// the valid-proposal store key on. Never reduce this to a bare ProposalId.
type RoundProposal struct {
	Round      uint32
	ProposalID types.Hash
}

// TaskKind distinguishes a build task from a validate task inside the
// per-(height, round) task registry.
type TaskKind int

const (
	TaskBuild TaskKind = iota
	TaskValidate
)

func (k TaskKind) String() string {
	switch k {
	case TaskBuild:
		return "Build"
	case TaskValidate:
		return "Validate"
	default:
		return "Unknown"
	}
}

// TaskKey identifies a single in-flight build or validate task.
type TaskKey struct {
	Round uint32
	Kind  TaskKind
}

// Event is anything fed into the state machine. Implementations are value
// types so the machine stays pure and comparable in tests.
type Event interface {
	isEvent()
}

// EventStart kicks off a height at round 0.
type EventStart struct{}

func (EventStart) isEvent() {}

// EventGetProposal delivers the local result of a fresh build task. A
// valid-rule re-propose of an existing (round, proposal) does not go
// through this event; it is broadcast directly as an already-validated
// EventProposal (see ActionRepropose).
type EventGetProposal struct {
	Round      uint32
	ProposalID types.Hash
	BlockInfo  types.BlockInfo
}

func (EventGetProposal) isEvent() {}

// EventProposalReceived is a raw, not-yet-validated proposal notification:
// content has fully arrived but the context has not yet checked it. The
// machine answers with ActionValidateProposal.
type EventProposalReceived struct {
	Round      uint32
	ProposalID types.Hash
}

func (EventProposalReceived) isEvent() {}

// EventProposal is a validated proposal: either the result of
// ActionValidateProposal succeeding, or the local re-propose of an already
// valid entry, carrying the proposer's declared valid_round.
type EventProposal struct {
	Round      uint32
	ProposalID types.Hash
	ValidRound *uint32
}

func (EventProposal) isEvent() {}

// EventProposalInvalid reports that the proposal at Round failed content
// validation (bad timestamp, bad proposer, malformed).
type EventProposalInvalid struct {
	Round uint32
}

func (EventProposalInvalid) isEvent() {}

// EventVote is a prevote or precommit, from this node or the network.
// ProposalID == nil is a nil vote.
type EventVote struct {
	Kind       types.VoteKind
	Round      uint32
	ProposalID *types.Hash
	Voter      types.ValidatorID
}

func (EventVote) isEvent() {}

// EventTimeoutPropose fires when the propose timer for Round expires.
type EventTimeoutPropose struct{ Round uint32 }

func (EventTimeoutPropose) isEvent() {}

// EventTimeoutPrevote fires when the prevote timer for Round expires.
type EventTimeoutPrevote struct{ Round uint32 }

func (EventTimeoutPrevote) isEvent() {}

// EventTimeoutPrecommit fires when the precommit timer for Round expires.
type EventTimeoutPrecommit struct{ Round uint32 }

func (EventTimeoutPrecommit) isEvent() {}

// EventProposerEquivocation reports that the round's proposer signed two
// different content ids at Round; the round advances immediately rather
// than waiting out the propose timeout.
type EventProposerEquivocation struct{ Round uint32 }

func (EventProposerEquivocation) isEvent() {}

// Action is a side effect requested by the state machine. The caller (SHC)
// executes these; the machine itself performs no I/O.
type Action interface {
	isAction()
}

// ActionBuildProposal asks the context to build a fresh proposal for Round,
// abandoning the attempt if it does not complete within Timeout.
type ActionBuildProposal struct {
	Round   uint32
	Timeout int64 // milliseconds
}

func (ActionBuildProposal) isAction() {}

// ActionRepropose asks the SHC to re-broadcast an already-valid proposal
// instead of building a new one, per the Tendermint `valid` rule.
type ActionRepropose struct {
	Round      uint32
	ValidRound uint32
	ProposalID types.Hash
}

func (ActionRepropose) isAction() {}

// ActionValidateProposal asks the context to validate the named proposal.
type ActionValidateProposal struct {
	Round      uint32
	ProposalID types.Hash
	Timeout    int64 // milliseconds
}

func (ActionValidateProposal) isAction() {}

// ActionBroadcast asks the context to broadcast a vote this node cast.
type ActionBroadcast struct {
	Vote types.Vote
}

func (ActionBroadcast) isAction() {}

// ActionStartTimer asks the SHC to arm a (kind, round) timer for Duration.
type ActionStartTimer struct {
	Kind     TimeoutKind
	Round    uint32
	Duration int64 // milliseconds
}

func (ActionStartTimer) isAction() {}

// ActionDecision is emitted exactly once per height: +2/3 precommits for
// ProposalID formed at Round, which may be lower than the current round.
type ActionDecision struct {
	Round      uint32
	ProposalID types.Hash
}

func (ActionDecision) isAction() {}

// TimeoutKind distinguishes the three independent per-round timers the
// state machine schedules.
type TimeoutKind int

const (
	TimeoutKindPropose TimeoutKind = iota
	TimeoutKindPrevote
	TimeoutKindPrecommit
)

func (k TimeoutKind) String() string {
	switch k {
	case TimeoutKindPropose:
		return "Propose"
	case TimeoutKindPrevote:
		return "Prevote"
	case TimeoutKindPrecommit:
		return "Precommit"
	default:
		return "Unknown"
	}
}

// ExecutionAdapter invokes deterministic execution for a proposed block's
// content and reports the resulting state root.
type ExecutionAdapter interface {
	ExecuteBlock(blockInfo types.BlockInfo, content [][]byte, prevStateRoot types.Hash) (*ExecutionResult, error)
}

// ExecutionResult holds the output of block execution.
type ExecutionResult struct {
	StateRoot types.Hash
	GasUsed   uint64
}

// Transport abstracts outbound P2P message sending. Duplicates are
// permitted; the receiving side is expected to be idempotent.
type Transport interface {
	BroadcastProposal(proposal *types.Proposal, content [][]byte) error
	BroadcastVote(vote *types.Vote) error
	BroadcastTimeout(msg *types.TimeoutMessage) error
}

// TxProvider supplies transactions for block building.
type TxProvider interface {
	ReapMaxTxs(maxBytes int) [][]byte
}
