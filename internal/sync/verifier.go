package sync

import (
	"errors"
	"fmt"

	"github.com/echenim/Bedrock/controlplane/internal/consensus"
	"github.com/echenim/Bedrock/controlplane/internal/storage"
	"github.com/echenim/Bedrock/controlplane/internal/types"
)

// Verifier validates synced block metadata and re-executes content to
// confirm the resulting state root, since there is no persisted quorum
// certificate to check signatures against here (see DESIGN.md): the
// manager's SingleHeightConsensus only ever hands finalized BlockInfo to
// the block layer, so sync's only cross-check is re-execution.
type Verifier struct {
	valSet   *types.ValidatorSet
	executor consensus.ExecutionAdapter
}

// NewVerifier creates a block/state verifier.
func NewVerifier(valSet *types.ValidatorSet, executor consensus.ExecutionAdapter) *Verifier {
	return &Verifier{
		valSet:   valSet,
		executor: executor,
	}
}

// VerifyBlock validates a synced block's metadata is well-formed and at
// the expected height.
func (v *Verifier) VerifyBlock(info types.BlockInfo, expectedHeight uint64) error {
	if info.Height != expectedHeight {
		return fmt.Errorf("sync: height mismatch: got %d, want %d", info.Height, expectedHeight)
	}
	if info.ContentID == types.ZeroHash {
		return fmt.Errorf("sync: empty content id at height %d", info.Height)
	}
	return nil
}

// VerifyAndExecuteBlock validates the block metadata and executes its
// content to verify the resulting state root matches the one the peer
// claims was committed.
func (v *Verifier) VerifyAndExecuteBlock(
	info types.BlockInfo,
	content [][]byte,
	prevStateRoot types.Hash,
) (*consensus.ExecutionResult, error) {
	if err := v.VerifyBlock(info, info.Height); err != nil {
		return nil, err
	}

	if v.executor == nil {
		return nil, errors.New("sync: no executor configured")
	}

	result, err := v.executor.ExecuteBlock(info, content, prevStateRoot)
	if err != nil {
		return nil, fmt.Errorf("sync: execute block %d: %w", info.Height, err)
	}

	if info.StateRoot != types.ZeroHash && result.StateRoot != info.StateRoot {
		return nil, fmt.Errorf("sync: state root mismatch at height %d: got %s, want %s",
			info.Height, result.StateRoot, info.StateRoot)
	}

	return result, nil
}

// VerifySnapshot validates a downloaded snapshot's state root against
// the committed state root.
func VerifySnapshot(
	committedRoot types.Hash,
	snapshotRoot types.Hash,
	store storage.StateStore,
) error {
	if committedRoot == types.ZeroHash {
		return errors.New("sync: no committed root to verify against")
	}

	if snapshotRoot != committedRoot {
		return fmt.Errorf("sync: snapshot root mismatch: got %s, want %s",
			snapshotRoot, committedRoot)
	}

	return nil
}
