package consensus

import (
	"sync"

	"github.com/echenim/Bedrock/controlplane/internal/types"
)

// EquivocationPool detects a proposer signing two different ContentIds at
// the same (height, round) and reports it so the round can advance without
// waiting out the full propose timeout. Vote equivocation is not tracked
// here: the protocol has no slashing path for it, only a proposer
// double-sign changes round behavior (§3's Round definition).
type EquivocationPool struct {
	mu   sync.Mutex
	seen map[uint32]types.Proposal
}

// NewEquivocationPool creates an empty pool, scoped to one SHC's height.
func NewEquivocationPool() *EquivocationPool {
	return &EquivocationPool{seen: make(map[uint32]types.Proposal)}
}

// Observe records a proposal the node has accepted for validation at
// proposal.Round. It returns evidence if a different ContentId was already
// observed at that round from the same proposer.
func (p *EquivocationPool) Observe(proposal types.Proposal) *types.DoubleProposalEvidence {
	p.mu.Lock()
	defer p.mu.Unlock()

	prior, ok := p.seen[proposal.Round]
	if !ok {
		p.seen[proposal.Round] = proposal
		return nil
	}
	if prior.Proposer != proposal.Proposer || prior.ContentID == proposal.ContentID {
		return nil
	}
	priorCopy, currentCopy := prior, proposal
	return &types.DoubleProposalEvidence{
		ProposalA:   &priorCopy,
		ProposalB:   &currentCopy,
		ValidatorID: proposal.Proposer,
	}
}
