package consensus

import (
	"context"
	"errors"
	"time"

	"github.com/echenim/Bedrock/controlplane/internal/telemetry"
	"github.com/echenim/Bedrock/controlplane/internal/types"
	"go.uber.org/zap"
)

// errMissingDecidedEntry is wrapped into a FatalError when a decided
// (round, proposal) has no store entry and no retained content to
// re-validate from — an unrecoverable condition per §7.
var errMissingDecidedEntry = errors.New("decided (round, proposal) missing from store and no content retained to re-validate")

// Decision is what an SHC emits to the manager on reaching +2/3 precommits.
type Decision struct {
	Round      uint32
	ProposalID types.Hash
	BlockInfo  types.BlockInfo
}

// receivedProposal is the raw, not-yet-validated content the SHC retains
// from the moment a proposal's parts fully arrive until it is either
// validated, cancelled, or (on decision) re-validated synchronously.
type receivedProposal struct {
	proposer   types.ValidatorID
	declared   types.BlockInfo
	content    [][]byte
	validRound *uint32
}

// timerEvent is what a timer goroutine posts back into the event loop.
type timerEvent struct {
	kind  TimeoutKind
	round uint32
}

// SingleHeightConsensus drives one block height end to end: it owns the
// StateMachine, the ValidProposalStore, the task registry, and the three
// per-round timers, and folds every external input (votes, proposals,
// timer fires, task completions) into a single-threaded event loop. The
// loop never blocks; build and validate run as spawned tasks whose
// completion re-enters the loop as an event.
type SingleHeightConsensus struct {
	height  uint64
	sm      *StateMachine
	state   *State
	ctx     ConsensusContext
	tasks   *ProposalTaskRegistry
	store   *ValidProposalStore
	logger  *zap.Logger
	metrics *telemetry.Metrics

	events  chan Event
	timers  chan timerEvent
	decided chan Decision
	done    chan struct{}

	activeTimers map[TimeoutKind]context.CancelFunc
	received     map[RoundProposal]receivedProposal
	equivocation *EquivocationPool

	round      uint32
	roundStart time.Time
}

// NewSingleHeightConsensus constructs an SHC for height, ready to receive
// Start once Run is called. A nil metrics disables the SHC's telemetry
// hooks (and those of the registry/store it owns).
func NewSingleHeightConsensus(height uint64, valSet *types.ValidatorSet, self types.ValidatorID, cctx ConsensusContext, timeouts TimeoutConfig, logger *zap.Logger, metrics *telemetry.Metrics) *SingleHeightConsensus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	return &SingleHeightConsensus{
		height:       height,
		sm:           NewStateMachine(valSet, self, timeouts),
		state:        NewState(height),
		ctx:          cctx,
		tasks:        NewProposalTaskRegistry(32, metrics),
		store:        NewValidProposalStore(metrics),
		logger:       logger.Named("shc").With(zap.Uint64("height", height)),
		metrics:      metrics,
		events:       make(chan Event, 64),
		timers:       make(chan timerEvent, 8),
		decided:      make(chan Decision, 1),
		done:         make(chan struct{}),
		activeTimers: make(map[TimeoutKind]context.CancelFunc),
		received:     make(map[RoundProposal]receivedProposal),
		equivocation: NewEquivocationPool(),
		roundStart:   time.Now(),
	}
}

// Post enqueues an externally-sourced event (a network vote or timeout
// message). Safe to call concurrently; the event loop itself is
// single-threaded.
func (s *SingleHeightConsensus) Post(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// ReceiveProposal records a fully-assembled proposal's content (its parts
// having all arrived over the wire) and notifies the event loop. The
// content is retained for the SHC's lifetime so a later Decision naming
// this (round, proposal-id) can re-validate synchronously even if the
// original validation task was cancelled.
func (s *SingleHeightConsensus) ReceiveProposal(round uint32, proposer types.ValidatorID, proposalID types.Hash, declared types.BlockInfo, content [][]byte, validRound *uint32) {
	key := RoundProposal{Round: round, ProposalID: proposalID}
	if ev := s.equivocation.Observe(types.Proposal{Height: s.height, Round: round, Proposer: proposer, ContentID: proposalID}); ev != nil {
		s.logger.Warn("proposer equivocation detected", zap.Uint32("round", round), zap.String("proposer", proposer.String()))
		s.Post(EventProposerEquivocation{Round: round})
		return
	}
	select {
	case s.events <- receiveProposalEvent{key: key, rp: receivedProposal{proposer: proposer, declared: declared, content: content, validRound: validRound}}:
	case <-s.done:
	}
}

// receiveProposalEvent is an internal-only event (never reaches the
// StateMachine) that records content before translating into the public
// EventProposalReceived the machine does act on.
type receiveProposalEvent struct {
	key RoundProposal
	rp  receivedProposal
}

func (receiveProposalEvent) isEvent() { panic("receiveProposalEvent must be intercepted before StateMachine.Apply") }

// Decisions returns the channel the manager receives this height's decision
// on. Closed (after sending) once the SHC terminates.
func (s *SingleHeightConsensus) Decisions() <-chan Decision {
	return s.decided
}

// Run starts the event loop and blocks until the height decides or runCtx
// is cancelled (sync overtook this height, or the node is shutting down),
// returning nil in both cases. A Fatal condition (a divergent store insert,
// a decided entry that cannot be re-validated, a failed DecisionReached)
// halts the loop instead: Run closes done and returns that error to its
// caller.
func (s *SingleHeightConsensus) Run(runCtx context.Context) error {
	defer s.tasks.CancelAll()
	defer close(s.done)

	s.dispatch(s.sm.Apply(s.state, EventStart{}))

	for {
		select {
		case <-runCtx.Done():
			return nil
		case ev := <-s.events:
			s.metrics.EventsAccepted.Inc()
			if rpe, ok := ev.(receiveProposalEvent); ok {
				s.received[rpe.key] = rpe.rp
				ev = EventProposalReceived{Round: rpe.key.Round, ProposalID: rpe.key.ProposalID}
			}
			actions := s.sm.Apply(s.state, ev)
			s.observeRoundChange()
			if err := s.dispatch(actions); err != nil {
				return err
			}
			if s.state.Decided {
				return nil
			}
		case te := <-s.timers:
			s.metrics.TimeoutsFired.Inc()
			actions := s.sm.Apply(s.state, timerEventToEvent(te))
			s.observeRoundChange()
			if err := s.dispatch(actions); err != nil {
				return err
			}
			if s.state.Decided {
				return nil
			}
		case outcome := <-s.tasks.Completions():
			if err := s.handleTaskOutcome(outcome); err != nil {
				return err
			}
			if s.state.Decided {
				return nil
			}
		}
	}
}

// observeRoundChange records the elapsed time of a finished round into the
// round-duration histogram whenever Apply has advanced s.state.Round past
// the round the SHC was last tracking.
func (s *SingleHeightConsensus) observeRoundChange() {
	if s.state.Round == s.round {
		return
	}
	s.metrics.RoundDuration.Observe(time.Since(s.roundStart).Seconds())
	s.round = s.state.Round
	s.roundStart = time.Now()
}

func timerEventToEvent(te timerEvent) Event {
	switch te.kind {
	case TimeoutKindPropose:
		return EventTimeoutPropose{Round: te.round}
	case TimeoutKindPrevote:
		return EventTimeoutPrevote{Round: te.round}
	default:
		return EventTimeoutPrecommit{Round: te.round}
	}
}

// dispatch executes the actions the state machine returned. Build/validate
// are spawned as tasks; broadcasts and timers are fire-and-forget; a
// Decision looks the winning (round, proposal) up in the store (§4.5) and,
// if missing because validation was cancelled, re-validates synchronously
// before handing off.
func (s *SingleHeightConsensus) dispatch(actions []Action) error {
	for _, a := range actions {
		switch act := a.(type) {
		case ActionBuildProposal:
			s.tasks.CancelRound(s.state.Round)
			s.spawnBuild(act)
		case ActionRepropose:
			s.repropose(act)
		case ActionValidateProposal:
			s.spawnValidate(act)
		case ActionBroadcast:
			s.metrics.VotesBroadcast.Inc()
			if err := s.ctx.BroadcastVote(act.Vote); err != nil {
				s.logger.Warn("broadcast vote failed", zap.Error(err))
			}
		case ActionStartTimer:
			s.tasks.CancelRound(s.state.Round)
			s.armTimer(act)
		case ActionDecision:
			return s.finalizeDecision(act)
		}
	}
	return nil
}

func (s *SingleHeightConsensus) spawnBuild(act ActionBuildProposal) {
	round := act.Round
	s.tasks.Spawn(TaskKey{Round: round, Kind: TaskBuild}, func(ctx context.Context) (interface{}, error) {
		timeout := time.Duration(act.Timeout) * time.Millisecond
		buildCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		started := time.Now()
		proposalID, info, content, err := s.ctx.BuildProposal(buildCtx, round, timeout)
		s.metrics.BuildDuration.Observe(time.Since(started).Seconds())
		if err != nil {
			return nil, err
		}
		proposal := types.Proposal{
			Height:    s.height,
			Round:     round,
			Proposer:  s.ctx.MyID(),
			BlockInfo: info,
			ContentID: proposalID,
		}
		if err := s.ctx.BroadcastProposalInit(proposal, content); err != nil {
			s.logger.Warn("broadcast proposal failed", zap.Error(err))
		}
		return buildResult{proposalID: proposalID, info: info}, nil
	})
}

type buildResult struct {
	proposalID types.Hash
	info       types.BlockInfo
}

// repropose re-broadcasts an already-valid proposal instead of spawning a
// fresh build, per the Tendermint valid rule; the re-proposal is then fed
// back through the normal Proposal event path so this node prevotes for it
// the same way a peer's proposal would drive a prevote.
func (s *SingleHeightConsensus) repropose(act ActionRepropose) {
	info, ok := s.store.Get(RoundProposal{Round: act.ValidRound, ProposalID: act.ProposalID})
	if !ok {
		s.logger.Error("repropose: valid entry missing from store", zap.Uint32("valid_round", act.ValidRound))
		return
	}
	validRound := act.ValidRound
	proposal := types.Proposal{
		Height:     s.height,
		Round:      act.Round,
		Proposer:   s.ctx.MyID(),
		ValidRound: &validRound,
		BlockInfo:  info,
		ContentID:  act.ProposalID,
	}
	if err := s.ctx.BroadcastProposalInit(proposal, nil); err != nil {
		s.logger.Warn("broadcast repropose failed", zap.Error(err))
	}
	s.Post(EventProposal{Round: act.Round, ProposalID: act.ProposalID, ValidRound: &validRound})
}

func (s *SingleHeightConsensus) spawnValidate(act ActionValidateProposal) {
	key := RoundProposal{Round: act.Round, ProposalID: act.ProposalID}
	rp, ok := s.received[key]
	if !ok {
		s.logger.Warn("validate requested but content never arrived", zap.Uint32("round", act.Round))
		s.Post(EventProposalInvalid{Round: act.Round})
		return
	}
	s.tasks.Spawn(TaskKey{Round: act.Round, Kind: TaskValidate}, func(ctx context.Context) (interface{}, error) {
		timeout := time.Duration(act.Timeout) * time.Millisecond
		valCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		started := time.Now()
		info, err := s.ctx.ValidateProposal(valCtx, act.Round, rp.proposer, rp.declared, rp.content, timeout)
		s.metrics.ValidateDuration.Observe(time.Since(started).Seconds())
		if err != nil {
			return nil, err
		}
		return validateResult{proposalID: act.ProposalID, info: info, validRound: rp.validRound}, nil
	})
}

// armTimer starts a real-time timer for (kind, round) and cancels any
// previous timer of the same kind, since a round transition invalidates
// the old round's timers per §4.2.
func (s *SingleHeightConsensus) armTimer(act ActionStartTimer) {
	if cancel, ok := s.activeTimers[act.Kind]; ok {
		cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.activeTimers[act.Kind] = cancel

	go func() {
		t := time.NewTimer(time.Duration(act.Duration) * time.Millisecond)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			select {
			case s.timers <- timerEvent{kind: act.Kind, round: act.Round}:
			case <-s.done:
			}
		}
	}()
}

// handleTaskOutcome folds a completed build/validate task back into the
// event loop. Only a task that was cancelled before producing a result (its
// fn bailed out with ctx.Err() and no value) is discarded; a task whose fn
// ran to completion is delivered and stored regardless of Cancelled, since
// CancelRound is cooperative and fn may have already broadcast the proposal
// before losing the race. This is what satisfies testable property 3: a
// self-built proposal that a later network-wide decision names must still
// be found in the store, not treated as if it never happened.
func (s *SingleHeightConsensus) handleTaskOutcome(outcome TaskOutcome) error {
	if outcome.Err != nil {
		if outcome.Cancelled {
			return nil
		}
		s.Post(EventProposalInvalid{Round: outcome.Key.Round})
		return nil
	}
	switch outcome.Key.Kind {
	case TaskBuild:
		br := outcome.Value.(buildResult)
		if err := s.store.Insert(RoundProposal{Round: outcome.Key.Round, ProposalID: br.proposalID}, br.info); err != nil {
			return err
		}
		s.Post(EventGetProposal{Round: outcome.Key.Round, ProposalID: br.proposalID, BlockInfo: br.info})
	case TaskValidate:
		vr := outcome.Value.(validateResult)
		if err := s.store.Insert(RoundProposal{Round: outcome.Key.Round, ProposalID: vr.proposalID}, vr.info); err != nil {
			return err
		}
		s.Post(EventProposal{Round: outcome.Key.Round, ProposalID: vr.proposalID, ValidRound: vr.validRound})
	}
	return nil
}

type validateResult struct {
	proposalID types.Hash
	info       types.BlockInfo
	validRound *uint32
}

// finalizeDecision looks the decided (round, proposal) up in the store
// (never by bare height or proposal-id), re-validating synchronously if
// the entry is missing because its validation was cancelled, then hands
// off to the context and terminates the SHC.
func (s *SingleHeightConsensus) finalizeDecision(act ActionDecision) error {
	key := RoundProposal{Round: act.Round, ProposalID: act.ProposalID}
	info, ok := s.store.Get(key)
	if !ok {
		var err error
		info, err = s.revalidateSync(key)
		if err != nil {
			return err
		}
	}
	if err := s.ctx.DecisionReached(s.height, act.ProposalID, info); err != nil {
		return &FatalError{Op: "ConsensusContext.DecisionReached", Err: err}
	}
	s.metrics.DecisionsTotal.Inc()
	s.decided <- Decision{Round: act.Round, ProposalID: act.ProposalID, BlockInfo: info}
	close(s.decided)
	return nil
}

// revalidateSync re-runs validation for a decided (round, proposal) whose
// store entry is missing (its validate task was cancelled by a round
// advance before the decision arrived). Uses the content retained in
// s.received; if even that is gone, the node cannot uphold the invariant
// and must halt rather than fabricate a BlockInfo, per §7.
func (s *SingleHeightConsensus) revalidateSync(key RoundProposal) (types.BlockInfo, error) {
	rp, ok := s.received[key]
	if !ok {
		s.logger.Error("decided entry missing from store and no retained content", zap.Uint32("round", key.Round))
		return types.BlockInfo{}, &FatalError{Op: "SingleHeightConsensus.finalizeDecision", Err: errMissingDecidedEntry}
	}
	info, err := s.ctx.ValidateProposal(context.Background(), key.Round, rp.proposer, rp.declared, rp.content, 0)
	if err != nil {
		return types.BlockInfo{}, &FatalError{Op: "SingleHeightConsensus.finalizeDecision", Err: err}
	}
	if err := s.store.Insert(key, info); err != nil {
		return types.BlockInfo{}, err
	}
	return info, nil
}
