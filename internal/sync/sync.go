package sync

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/echenim/Bedrock/controlplane/internal/consensus"
	"github.com/echenim/Bedrock/controlplane/internal/storage"
	"github.com/echenim/Bedrock/controlplane/internal/types"
	"go.uber.org/zap"
)

// SyncState represents the current state of the block syncer.
type SyncState int32

const (
	SyncIdle      SyncState = iota // not syncing
	SyncFastSync                   // downloading and executing blocks
	SyncStateSync                  // downloading state snapshot
	SyncCaughtUp                   // caught up, ready for consensus
)

func (s SyncState) String() string {
	switch s {
	case SyncIdle:
		return "Idle"
	case SyncFastSync:
		return "FastSync"
	case SyncStateSync:
		return "StateSync"
	case SyncCaughtUp:
		return "CaughtUp"
	default:
		return "Unknown"
	}
}

// snapshotThreshold is the block difference threshold for choosing
// snapshot sync over fast sync.
const snapshotThreshold = 100

// CommitNotifier is the subset of ConsensusManager the syncer needs to
// report a hand-off: a synced height that overtakes whatever height
// consensus is currently working on.
type CommitNotifier interface {
	NotifySync(sig consensus.SyncSignal)
}

// BlockSyncer manages block synchronization for nodes catching up to the
// rest of the network, and hands the result to the consensus manager via
// NotifySync once it catches up, so the manager can adopt sync's result
// instead of running consensus for heights sync already decided.
type BlockSyncer struct {
	store    storage.Store
	provider BlockProvider
	executor consensus.ExecutionAdapter
	verifier *Verifier
	valSet   *types.ValidatorSet
	manager  CommitNotifier
	logger   *zap.Logger

	state   atomic.Int32
	targetH atomic.Uint64
	localH  atomic.Uint64
}

// NewBlockSyncer creates a new block syncer.
func NewBlockSyncer(
	store storage.Store,
	provider BlockProvider,
	executor consensus.ExecutionAdapter,
	valSet *types.ValidatorSet,
	manager CommitNotifier,
	logger *zap.Logger,
) *BlockSyncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlockSyncer{
		store:    store,
		provider: provider,
		executor: executor,
		verifier: NewVerifier(valSet, executor),
		valSet:   valSet,
		manager:  manager,
		logger:   logger,
	}
}

// Start begins the sync process:
//  1. Request latest height from peers
//  2. If far behind: use snapshot sync
//  3. If close: use fast sync (download, execute, and verify blocks)
//  4. When caught up: transition to CaughtUp state and notify the manager
func (bs *BlockSyncer) Start(ctx context.Context) error {
	localHeight, err := bs.store.GetLatestHeight()
	if err != nil {
		localHeight = 0
	}
	bs.localH.Store(localHeight)

	targetHeight, err := bs.provider.GetLatestHeight(ctx)
	if err != nil {
		return fmt.Errorf("sync: get latest height: %w", err)
	}
	bs.targetH.Store(targetHeight)

	bs.logger.Info("sync starting",
		zap.Uint64("local_height", localHeight),
		zap.Uint64("target_height", targetHeight),
	)

	if localHeight >= targetHeight {
		bs.setState(SyncCaughtUp)
		bs.logger.Info("already caught up")
		return nil
	}

	gap := targetHeight - localHeight

	if gap > snapshotThreshold {
		return bs.doSnapshotSync(ctx, targetHeight)
	}

	return bs.doFastSync(ctx, localHeight+1, targetHeight)
}

// doFastSync downloads, executes, and verifies blocks sequentially.
func (bs *BlockSyncer) doFastSync(ctx context.Context, startHeight, endHeight uint64) error {
	bs.setState(SyncFastSync)
	bs.logger.Info("fast sync starting",
		zap.Uint64("start", startHeight),
		zap.Uint64("end", endHeight),
	)

	prevRoot, err := bs.store.GetStateRoot()
	if err != nil {
		prevRoot = types.ZeroHash
	}

	var lastInfo types.BlockInfo
	for h := startHeight; h <= endHeight; h++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		info, content, err := bs.provider.GetBlockInfo(ctx, h)
		if err != nil {
			return fmt.Errorf("sync: fetch block %d: %w", h, err)
		}

		result, err := bs.verifier.VerifyAndExecuteBlock(info, content, prevRoot)
		if err != nil {
			return err
		}

		if err := bs.store.SaveBlockInfo(info); err != nil {
			return fmt.Errorf("sync: save block %d: %w", h, err)
		}
		if err := bs.store.SetStateRoot(result.StateRoot); err != nil {
			return fmt.Errorf("sync: set state root %d: %w", h, err)
		}

		prevRoot = result.StateRoot
		lastInfo = info
		bs.localH.Store(h)

		bs.logger.Debug("synced block",
			zap.Uint64("height", h),
			zap.String("state_root", result.StateRoot.String()),
		)
	}

	bs.setState(SyncCaughtUp)
	bs.logger.Info("fast sync complete",
		zap.Uint64("height", endHeight),
	)
	bs.notifyManager(endHeight, lastInfo)

	return nil
}

// doSnapshotSync downloads a state snapshot and applies it.
func (bs *BlockSyncer) doSnapshotSync(ctx context.Context, targetHeight uint64) error {
	bs.setState(SyncStateSync)
	bs.logger.Info("snapshot sync starting",
		zap.Uint64("target", targetHeight),
	)

	ss := NewSnapshotSyncer(bs.provider, bs.store, bs.logger)
	if err := ss.SyncToHeight(ctx, targetHeight); err != nil {
		return err
	}

	info, err := bs.store.GetBlockInfo(targetHeight)
	if err != nil {
		return fmt.Errorf("sync: missing block info after snapshot sync: %w", err)
	}

	bs.localH.Store(targetHeight)
	bs.setState(SyncCaughtUp)
	bs.notifyManager(targetHeight, info)

	return nil
}

func (bs *BlockSyncer) notifyManager(height uint64, info types.BlockInfo) {
	if bs.manager == nil {
		return
	}
	bs.manager.NotifySync(consensus.SyncSignal{SyncedHeight: height, BlockInfo: info})
}

// IsSynced returns true if the node is caught up.
func (bs *BlockSyncer) IsSynced() bool {
	return bs.State() == SyncCaughtUp
}

// State returns the current sync state.
func (bs *BlockSyncer) State() SyncState {
	return SyncState(bs.state.Load())
}

func (bs *BlockSyncer) setState(s SyncState) {
	bs.state.Store(int32(s))
}

// CurrentHeight returns the latest synced height.
func (bs *BlockSyncer) CurrentHeight() uint64 {
	return bs.localH.Load()
}

// TargetHeight returns the target height being synced to.
func (bs *BlockSyncer) TargetHeight() uint64 {
	return bs.targetH.Load()
}
