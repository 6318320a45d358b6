package consensus

import (
	"fmt"
	"sync"

	"github.com/echenim/Bedrock/controlplane/internal/telemetry"
	"github.com/echenim/Bedrock/controlplane/internal/types"
)

// FatalError marks an error the manager must not recover from locally: any
// caller receiving one halts rather than risk corrupting previous_block_info.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("consensus: fatal: %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// ValidProposalStore maps (round, proposal-id) to the validated BlockInfo
// for one height. The key is the pair, never a bare ProposalId; this is the
// fix for the Node-14 bug, where a later round's re-propose of the same
// content silently overwrote an earlier round's validation result.
type ValidProposalStore struct {
	mu      sync.Mutex
	entries map[RoundProposal]types.BlockInfo
	metrics *telemetry.Metrics
}

// NewValidProposalStore creates an empty store, scoped to one SHC's height.
// A nil metrics disables the store's telemetry hooks.
func NewValidProposalStore(metrics *telemetry.Metrics) *ValidProposalStore {
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	return &ValidProposalStore{entries: make(map[RoundProposal]types.BlockInfo), metrics: metrics}
}

// Insert records a validated (round, proposal-id) -> BlockInfo. Re-inserting
// an identical BlockInfo under the same key is a no-op. Inserting a
// different BlockInfo under an existing key is a fatal internal error: it
// means either a logic bug or a proposer that equivocated and was echoed
// back to us as if it were a single validation result.
func (vs *ValidProposalStore) Insert(key RoundProposal, info types.BlockInfo) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	existing, ok := vs.entries[key]
	if !ok {
		vs.entries[key] = info
		vs.metrics.ProposalsStoredNewKey.Inc()
		return nil
	}
	if existing.Equal(info) {
		return nil
	}
	vs.metrics.ProposalStoreDivergent.Inc()
	return &FatalError{
		Op:  "ValidProposalStore.Insert",
		Err: fmt.Errorf("divergent block info for (round=%d, proposal=%s): have %+v, got %+v", key.Round, key.ProposalID, existing, info),
	}
}

// Get looks up the BlockInfo stored under key.
func (vs *ValidProposalStore) Get(key RoundProposal) (types.BlockInfo, bool) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	info, ok := vs.entries[key]
	return info, ok
}

// Len reports the number of distinct (round, proposal-id) entries stored.
// Exposed for tests asserting property 1 (no overwrite): two validations of
// the same ProposalId at different rounds must both be present.
func (vs *ValidProposalStore) Len() int {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return len(vs.entries)
}
