package consensus

import (
	"github.com/echenim/Bedrock/controlplane/internal/types"
)

// roundVotes tallies prevotes or precommits seen at one round, grouped by
// the Option<ProposalId> each voter cast for. A voter's most recent vote of
// a kind replaces its earlier one; Tendermint does not allow a vote change
// within a round, but the state machine is defensive regardless of what the
// network delivers.
type roundVotes struct {
	prevotes   map[types.ValidatorID]*types.Hash
	precommits map[types.ValidatorID]*types.Hash
}

func newRoundVotes() *roundVotes {
	return &roundVotes{
		prevotes:   make(map[types.ValidatorID]*types.Hash),
		precommits: make(map[types.ValidatorID]*types.Hash),
	}
}

// powerFor sums the voting power of voters in tally who cast for id (nil
// matches nil votes). Validators not in the active set are ignored.
func powerFor(valSet *types.ValidatorSet, tally map[types.ValidatorID]*types.Hash, id *types.Hash) uint64 {
	var power uint64
	for voter, cast := range tally {
		if !types.SameProposalID(cast, id) {
			continue
		}
		if v, ok := valSet.ByID(voter); ok {
			power += v.VotingPower
		}
	}
	return power
}

// bestQuorumID returns the Option<ProposalId> with +2/3 power in tally, if
// any. Non-deterministic map iteration order is safe here because at most
// one id can ever hold quorum power in a well-formed vote set (validators
// vote once per round), so the search order does not affect the result.
func bestQuorumID(valSet *types.ValidatorSet, tally map[types.ValidatorID]*types.Hash) (*types.Hash, bool) {
	seen := map[types.Hash]struct{}{}
	nilPower := powerFor(valSet, tally, nil)
	if valSet.HasQuorum(nilPower) {
		return nil, true
	}
	for _, cast := range tally {
		if cast == nil {
			continue
		}
		if _, ok := seen[*cast]; ok {
			continue
		}
		seen[*cast] = struct{}{}
		if p := powerFor(valSet, tally, cast); valSet.HasQuorum(p) {
			id := *cast
			return &id, true
		}
	}
	return nil, false
}

// State is the full (H, round, step, locked, valid, ...) snapshot the
// StateMachine transitions. H itself is fixed for the lifetime of a single
// State (one SingleHeightConsensus owns one State).
type State struct {
	Height      uint64
	Round       uint32
	Step        Step
	Locked      *RoundProposal
	Valid       *RoundProposal
	Decided     bool
	votesByRound map[uint32]*roundVotes
	// proposalsByRound holds the (proposal-id, valid-round) this node has
	// seen proposed at each round, used to re-check the locking rule once
	// quorum prevotes arrive after the proposal.
	proposalsByRound map[uint32]EventProposal
	// invalidRounds marks rounds whose proposal was rejected by validation,
	// so a late Proposal event for the same round is not re-applied.
	invalidRounds map[uint32]bool
}

// NewState creates the initial State for a height, with no locked or valid
// proposal and round 0.
func NewState(height uint64) *State {
	return &State{
		Height:           height,
		Round:            0,
		Step:             StepPropose,
		votesByRound:     make(map[uint32]*roundVotes),
		proposalsByRound: make(map[uint32]EventProposal),
		invalidRounds:    make(map[uint32]bool),
	}
}

func (s *State) votes(round uint32) *roundVotes {
	rv, ok := s.votesByRound[round]
	if !ok {
		rv = newRoundVotes()
		s.votesByRound[round] = rv
	}
	return rv
}

// StateMachine is the pure, synchronous Tendermint transition function.
// It holds no clock, performs no I/O, and is safe to drive from
// property-based tests with arbitrary event orders.
type StateMachine struct {
	valSet  *types.ValidatorSet
	self    types.ValidatorID
	timeout TimeoutConfig
}

// NewStateMachine builds a StateMachine for a fixed validator set and this
// node's identity within it, using cfg for the three per-round timers.
func NewStateMachine(valSet *types.ValidatorSet, self types.ValidatorID, cfg TimeoutConfig) *StateMachine {
	return &StateMachine{valSet: valSet, self: self, timeout: cfg}
}

// proposer returns the proposer for (s.Height, round) under the
// height-sorted validator list: validators[(H+R) mod n].
func (m *StateMachine) proposer(s *State, round uint32) types.ValidatorID {
	v := m.valSet.Proposer(s.Height, round)
	if v == nil {
		return types.ValidatorID{}
	}
	return v.ID
}

// Apply transitions s in place given event ev and returns the actions the
// caller must perform. Decided is idempotent: once s.Decided is true,
// further events produce no actions (a height's SHC stops after decision).
func (m *StateMachine) Apply(s *State, ev Event) []Action {
	if s.Decided {
		return nil
	}
	switch e := ev.(type) {
	case EventStart:
		return m.enterRound(s, 0)
	case EventGetProposal:
		return m.handleGetProposal(s, e)
	case EventProposalReceived:
		return m.handleProposalReceived(s, e)
	case EventProposal:
		return m.handleProposal(s, e)
	case EventProposalInvalid:
		s.invalidRounds[e.Round] = true
		return nil
	case EventVote:
		return m.handleVote(s, e)
	case EventTimeoutPropose:
		if e.Round != s.Round || s.Step != StepPropose {
			return nil
		}
		return m.prevote(s, nil)
	case EventTimeoutPrevote:
		if e.Round != s.Round || s.Step != StepPrevote {
			return nil
		}
		return m.precommit(s, nil)
	case EventTimeoutPrecommit:
		if e.Round != s.Round {
			return nil
		}
		return m.enterRound(s, s.Round+1)
	case EventProposerEquivocation:
		if e.Round != s.Round {
			return nil
		}
		return m.enterRound(s, s.Round+1)
	default:
		return nil
	}
}

// enterRound advances to round and emits the round's entry actions.
// As proposer: if valid != None, re-propose (valid.Round, valid.ProposalID)
// per Tendermint's valid rule; otherwise request a fresh build. As
// non-proposer: arm the propose timer.
func (m *StateMachine) enterRound(s *State, round uint32) []Action {
	s.Round = round
	s.Step = StepPropose

	if m.proposer(s, round) != m.self {
		return []Action{ActionStartTimer{Kind: TimeoutKindPropose, Round: round, Duration: m.timeout.Duration(TimeoutKindPropose, round)}}
	}
	if s.Valid != nil {
		return []Action{ActionRepropose{Round: round, ValidRound: s.Valid.Round, ProposalID: s.Valid.ProposalID}}
	}
	return []Action{ActionBuildProposal{Round: round, Timeout: m.timeout.Duration(TimeoutKindPropose, round)}}
}

// handleGetProposal applies the local build result: records the built
// proposal for its round and begins this node's own prevote flow for it.
// Broadcasting the proposal is the SHC's build task's job, and a
// re-proposal arrives as an EventProposal instead.
func (m *StateMachine) handleGetProposal(s *State, e EventGetProposal) []Action {
	if e.Round != s.Round || s.Step != StepPropose {
		return nil
	}
	s.proposalsByRound[e.Round] = EventProposal{
		Round:      e.Round,
		ProposalID: e.ProposalID,
	}
	return m.prevoteForProposal(s, e.Round, e.ProposalID, nil)
}

// handleProposalReceived requests validation of a raw, not-yet-checked
// proposal for the current round, unless this round already has an
// accepted proposal or was already marked invalid.
func (m *StateMachine) handleProposalReceived(s *State, e EventProposalReceived) []Action {
	if e.Round != s.Round || s.Step != StepPropose {
		return nil
	}
	if s.invalidRounds[e.Round] {
		return nil
	}
	if _, already := s.proposalsByRound[e.Round]; already {
		return nil
	}
	return []Action{ActionValidateProposal{Round: e.Round, ProposalID: e.ProposalID, Timeout: m.timeout.Duration(TimeoutKindPropose, e.Round)}}
}

// handleProposal applies a validated proposal (from ActionValidateProposal
// succeeding, or a local re-propose): if it is for the current round and
// step, run the locking rule.
func (m *StateMachine) handleProposal(s *State, e EventProposal) []Action {
	if e.Round != s.Round || s.Step != StepPropose {
		return nil
	}
	if s.invalidRounds[e.Round] {
		return nil
	}
	if _, already := s.proposalsByRound[e.Round]; already {
		return nil
	}
	s.proposalsByRound[e.Round] = e
	return m.prevoteForProposal(s, e.Round, e.ProposalID, e.ValidRound)
}

// prevoteForProposal implements the locking rule (§4.1): prevote for P iff
// valid_round <= locked.Round, or locked is None, or locked.P == P;
// otherwise prevote nil.
func (m *StateMachine) prevoteForProposal(s *State, round uint32, proposalID types.Hash, validRound *uint32) []Action {
	if s.Locked == nil || s.Locked.ProposalID == proposalID {
		return m.prevote(s, &proposalID)
	}
	if validRound != nil && *validRound <= s.Locked.Round {
		return m.prevote(s, &proposalID)
	}
	return m.prevote(s, nil)
}

// prevote casts this node's prevote for id (nil for a nil vote), advances
// to StepPrevote, and folds the vote into the tally before returning it as
// an action to broadcast; a quorum already present (e.g. from faster peers)
// is evaluated immediately after.
func (m *StateMachine) prevote(s *State, id *types.Hash) []Action {
	s.Step = StepPrevote
	actions := []Action{
		ActionBroadcast{Vote: types.Vote{
			Kind:       types.Prevote,
			Height:     s.Height,
			Round:      s.Round,
			Voter:      m.self,
			ProposalID: id,
		}},
	}
	s.votes(s.Round).prevotes[m.self] = id
	actions = append(actions, m.checkPrevoteQuorum(s, s.Round)...)
	return actions
}

// checkPrevoteQuorum applies the precommit rule (§4.1) once +2/3 prevotes
// for the same id (including nil) are present at round.
func (m *StateMachine) checkPrevoteQuorum(s *State, round uint32) []Action {
	if round != s.Round || s.Step != StepPrevote {
		return nil
	}
	id, ok := bestQuorumID(m.valSet, s.votes(round).prevotes)
	if !ok {
		return []Action{ActionStartTimer{Kind: TimeoutKindPrevote, Round: round, Duration: m.timeout.Duration(TimeoutKindPrevote, round)}}
	}
	if id != nil {
		s.Valid = &RoundProposal{Round: round, ProposalID: *id}
	}
	return m.precommit(s, id)
}

// precommit casts this node's precommit for id, advances to StepPrecommit,
// and checks for a decision.
func (m *StateMachine) precommit(s *State, id *types.Hash) []Action {
	s.Step = StepPrecommit
	actions := []Action{
		ActionBroadcast{Vote: types.Vote{
			Kind:       types.Precommit,
			Height:     s.Height,
			Round:      s.Round,
			Voter:      m.self,
			ProposalID: id,
		}},
	}
	if id != nil {
		s.Locked = &RoundProposal{Round: s.Round, ProposalID: *id}
	}
	s.votes(s.Round).precommits[m.self] = id
	actions = append(actions, m.checkPrecommitQuorum(s, s.Round)...)
	return actions
}

// checkPrecommitQuorum applies the decision rule (§4.1): +2/3 precommits
// for P at any round decides P at that round, even if s.Round has since
// moved on. +2/3 for nil, or insufficient power, starts the precommit timer
// when round is the current round and does nothing for an older round.
func (m *StateMachine) checkPrecommitQuorum(s *State, round uint32) []Action {
	id, ok := bestQuorumID(m.valSet, s.votes(round).precommits)
	if !ok {
		if round != s.Round {
			return nil
		}
		return []Action{ActionStartTimer{Kind: TimeoutKindPrecommit, Round: round, Duration: m.timeout.Duration(TimeoutKindPrecommit, round)}}
	}
	if id == nil {
		if round != s.Round {
			return nil
		}
		return []Action{ActionStartTimer{Kind: TimeoutKindPrecommit, Round: round, Duration: m.timeout.Duration(TimeoutKindPrecommit, round)}}
	}
	s.Decided = true
	return []Action{ActionDecision{Round: round, ProposalID: *id}}
}

// handleVote folds an incoming vote into the tally for its round (which may
// be behind the current round, since a decision can be reached at a lower
// round than the node currently occupies) and re-checks quorum.
func (m *StateMachine) handleVote(s *State, e EventVote) []Action {
	rv := s.votes(e.Round)
	switch e.Kind {
	case types.Prevote:
		rv.prevotes[e.Voter] = e.ProposalID
		return m.checkPrevoteQuorum(s, e.Round)
	case types.Precommit:
		rv.precommits[e.Voter] = e.ProposalID
		return m.checkPrecommitQuorum(s, e.Round)
	default:
		return nil
	}
}
