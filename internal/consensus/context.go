package consensus

import (
	"context"
	"fmt"
	"time"

	"github.com/echenim/Bedrock/controlplane/internal/crypto"
	"github.com/echenim/Bedrock/controlplane/internal/types"
)

// InvalidKind enumerates why validate_proposal rejected a proposal's content.
type InvalidKind int

const (
	InvalidBadTimestamp InvalidKind = iota
	InvalidBadProposer
	InvalidMalformed
	InvalidExecutionFailed
)

func (k InvalidKind) String() string {
	switch k {
	case InvalidBadTimestamp:
		return "StaleTimestamp"
	case InvalidBadProposer:
		return "BadProposer"
	case InvalidMalformed:
		return "Malformed"
	case InvalidExecutionFailed:
		return "ExecutionFailed"
	default:
		return "Unknown"
	}
}

// InvalidProposalError reports why validate_proposal rejected content.
type InvalidProposalError struct {
	Kind InvalidKind
	Err  error
}

func (e *InvalidProposalError) Error() string {
	return fmt.Sprintf("consensus: invalid proposal (%s): %v", e.Kind, e.Err)
}

func (e *InvalidProposalError) Unwrap() error {
	return e.Err
}

// ConsensusContext bridges SingleHeightConsensus to the block layer: it
// builds and validates proposals, broadcasts votes and proposal parts,
// reports validator-set membership, and hands off decisions. Every
// operation is failable; failures are reported to the caller, never
// swallowed.
type ConsensusContext interface {
	BuildProposal(ctx context.Context, round uint32, timeout time.Duration) (types.Hash, types.BlockInfo, [][]byte, error)
	ValidateProposal(ctx context.Context, round uint32, proposer types.ValidatorID, declared types.BlockInfo, content [][]byte, timeout time.Duration) (types.BlockInfo, error)
	BroadcastVote(vote types.Vote) error
	BroadcastProposalInit(proposal types.Proposal, content [][]byte) error
	Validators(height uint64) *types.ValidatorSet
	Proposer(height uint64, round uint32) types.ValidatorID
	MyID() types.ValidatorID
	SetPreviousBlockInfo(info types.BlockInfo)
	DecisionReached(height uint64, proposalID types.Hash, info types.BlockInfo) error
}

// BlockContext is the concrete ConsensusContext backing a sequencer node:
// it builds proposals from mempool transactions through the execution
// adapter, validates received ones against the previous block's timestamp,
// and fans out votes and proposal parts over the transport.
type BlockContext struct {
	valSet      *types.ValidatorSet
	self        types.ValidatorID
	privKey     crypto.PrivateKey
	chainID     []byte
	executor    ExecutionAdapter
	transport   Transport
	txProvider  TxProvider
	timestampTolerance time.Duration

	previous types.BlockInfo
	onDecision func(height uint64, proposalID types.Hash, info types.BlockInfo) error
}

// BlockContextConfig configures a BlockContext.
type BlockContextConfig struct {
	ValSet             *types.ValidatorSet
	Self               types.ValidatorID
	PrivKey            crypto.PrivateKey
	ChainID            []byte
	Executor           ExecutionAdapter
	Transport          Transport
	TxProvider         TxProvider
	TimestampTolerance time.Duration
	OnDecision         func(height uint64, proposalID types.Hash, info types.BlockInfo) error
}

// NewBlockContext builds a BlockContext from cfg.
func NewBlockContext(cfg BlockContextConfig) *BlockContext {
	tolerance := cfg.TimestampTolerance
	if tolerance <= 0 {
		tolerance = 2 * time.Second
	}
	return &BlockContext{
		valSet:             cfg.ValSet,
		self:               cfg.Self,
		privKey:            cfg.PrivKey,
		chainID:            cfg.ChainID,
		executor:           cfg.Executor,
		transport:          cfg.Transport,
		txProvider:         cfg.TxProvider,
		timestampTolerance: tolerance,
		onDecision:         cfg.OnDecision,
	}
}

// BuildProposal reaps transactions from the mempool, executes them, and
// returns a content-addressed proposal id plus its BlockInfo.
func (c *BlockContext) BuildProposal(ctx context.Context, round uint32, timeout time.Duration) (types.Hash, types.BlockInfo, [][]byte, error) {
	var txs [][]byte
	if c.txProvider != nil {
		txs = c.txProvider.ReapMaxTxs(1 << 20)
	}

	now := uint64(time.Now().UnixMilli())
	if now <= c.previous.Timestamp {
		now = c.previous.Timestamp + 1
	}

	txRoot := crypto.ComputeTxRoot(txs)

	info := types.BlockInfo{
		Height:    c.previous.Height + 1,
		Timestamp: now,
		Builder:   c.self,
		TxRoot:    txRoot,
	}

	if c.executor != nil {
		result, err := c.executor.ExecuteBlock(info, txs, c.previous.StateRoot)
		if err != nil {
			return types.Hash{}, types.BlockInfo{}, nil, &InvalidProposalError{Kind: InvalidExecutionFailed, Err: err}
		}
		info.StateRoot = result.StateRoot
	}

	contentID := crypto.HashSHA256(append(info.Bytes(), flatten(txs)...))
	info.ContentID = contentID

	return contentID, info, txs, nil
}

// ValidateProposal re-executes a received proposal's content and checks
// declared's timestamp against previous_block_info, per §4.3: a timestamp
// at or below previous_block_info.timestamp, or beyond wall clock plus
// tolerance, is Invalid::StaleTimestamp regardless of content validity.
func (c *BlockContext) ValidateProposal(ctx context.Context, round uint32, proposer types.ValidatorID, declared types.BlockInfo, content [][]byte, timeout time.Duration) (types.BlockInfo, error) {
	if declared.Timestamp <= c.previous.Timestamp {
		return types.BlockInfo{}, &InvalidProposalError{Kind: InvalidBadTimestamp, Err: fmt.Errorf("timestamp %d <= previous %d", declared.Timestamp, c.previous.Timestamp)}
	}
	upperBound := uint64(time.Now().Add(c.timestampTolerance).UnixMilli())
	if declared.Timestamp > upperBound {
		return types.BlockInfo{}, &InvalidProposalError{Kind: InvalidBadTimestamp, Err: fmt.Errorf("timestamp %d exceeds bound %d", declared.Timestamp, upperBound)}
	}

	txRoot := crypto.ComputeTxRoot(content)
	if txRoot != declared.TxRoot {
		return types.BlockInfo{}, &InvalidProposalError{Kind: InvalidMalformed, Err: fmt.Errorf("tx root mismatch")}
	}

	info := declared
	if c.executor != nil {
		result, err := c.executor.ExecuteBlock(declared, content, c.previous.StateRoot)
		if err != nil {
			return types.BlockInfo{}, &InvalidProposalError{Kind: InvalidExecutionFailed, Err: err}
		}
		if result.StateRoot != declared.StateRoot {
			return types.BlockInfo{}, &InvalidProposalError{Kind: InvalidMalformed, Err: fmt.Errorf("state root mismatch")}
		}
		info.StateRoot = result.StateRoot
	}

	info.ContentID = crypto.HashSHA256(append(info.Bytes(), flatten(content)...))
	return info, nil
}

// flatten concatenates content chunks for hashing.
func flatten(chunks [][]byte) []byte {
	var total int
	for _, c := range chunks {
		total += len(c)
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

// BroadcastVote signs and sends vote over the transport.
func (c *BlockContext) BroadcastVote(vote types.Vote) error {
	payload := vote.SigningPayload()
	sig := crypto.Sign(c.privKey, payload)
	vote.Signature = crypto.SigTo64(sig)
	if c.transport == nil {
		return nil
	}
	return c.transport.BroadcastVote(&vote)
}

// BroadcastProposalInit signs and sends a proposal plus its content chunks.
func (c *BlockContext) BroadcastProposalInit(proposal types.Proposal, content [][]byte) error {
	payload := proposal.SigningPayload()
	sig := crypto.Sign(c.privKey, payload)
	proposal.Signature = crypto.SigTo64(sig)
	if c.transport == nil {
		return nil
	}
	return c.transport.BroadcastProposal(&proposal, content)
}

// Validators returns the active validator set. Height is accepted for
// interface symmetry with a future epoch-aware validator set; the current
// implementation is single-epoch.
func (c *BlockContext) Validators(height uint64) *types.ValidatorSet {
	return c.valSet
}

// Proposer returns the proposer for (height, round).
func (c *BlockContext) Proposer(height uint64, round uint32) types.ValidatorID {
	v := c.valSet.Proposer(height, round)
	if v == nil {
		return types.ValidatorID{}
	}
	return v.ID
}

// MyID returns this node's validator identity.
func (c *BlockContext) MyID() types.ValidatorID {
	return c.self
}

// SetPreviousBlockInfo is called by the manager before starting a new
// height; it is the sole source of the timestamp lower bound BuildProposal
// and ValidateProposal enforce.
func (c *BlockContext) SetPreviousBlockInfo(info types.BlockInfo) {
	c.previous = info
}

// DecisionReached hands the decided block off to the block layer.
func (c *BlockContext) DecisionReached(height uint64, proposalID types.Hash, info types.BlockInfo) error {
	if c.onDecision == nil {
		return nil
	}
	return c.onDecision(height, proposalID, info)
}
