package sync

import (
	"context"
	"fmt"

	"github.com/echenim/Bedrock/controlplane/internal/storage"
	"github.com/echenim/Bedrock/controlplane/internal/types"
)

// BlockProvider abstracts block retrieval from peers.
// This allows sync to work with both P2P transports and mock providers.
type BlockProvider interface {
	// GetBlockInfo requests a decided block's metadata and content chunks
	// at the given height from a peer.
	GetBlockInfo(ctx context.Context, height uint64) (types.BlockInfo, [][]byte, error)

	// GetLatestHeight queries the network for the latest known height.
	GetLatestHeight(ctx context.Context) (uint64, error)

	// GetStateSnapshot requests a state snapshot at the given height.
	GetStateSnapshot(ctx context.Context, height uint64) (stateRoot types.Hash, data map[string][]byte, err error)
}

// Fetcher downloads block metadata from peers and stores it.
type Fetcher struct {
	provider BlockProvider
	store    storage.Store
}

// NewFetcher creates a block fetcher.
func NewFetcher(provider BlockProvider, store storage.Store) *Fetcher {
	return &Fetcher{
		provider: provider,
		store:    store,
	}
}

// FetchBlocks downloads block metadata from startHeight to endHeight
// (inclusive) and stores it. Returns the number of blocks fetched.
func (f *Fetcher) FetchBlocks(ctx context.Context, startHeight, endHeight uint64) (int, error) {
	if startHeight > endHeight {
		return 0, fmt.Errorf("sync: invalid range: start %d > end %d", startHeight, endHeight)
	}

	fetched := 0
	for h := startHeight; h <= endHeight; h++ {
		select {
		case <-ctx.Done():
			return fetched, ctx.Err()
		default:
		}

		// Check if we already have this block's metadata.
		if _, err := f.store.GetBlockInfo(h); err == nil {
			fetched++
			continue
		}

		info, _, err := f.provider.GetBlockInfo(ctx, h)
		if err != nil {
			return fetched, fmt.Errorf("sync: fetch block %d: %w", h, err)
		}

		if err := f.store.SaveBlockInfo(info); err != nil {
			return fetched, fmt.Errorf("sync: save block %d: %w", h, err)
		}

		fetched++
	}

	return fetched, nil
}

// FetchLatestHeight queries the network for the latest block height.
func (f *Fetcher) FetchLatestHeight(ctx context.Context) (uint64, error) {
	if f.provider == nil {
		return 0, fmt.Errorf("sync: no block provider")
	}
	return f.provider.GetLatestHeight(ctx)
}
