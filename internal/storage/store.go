package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/echenim/Bedrock/controlplane/internal/config"
	"github.com/echenim/Bedrock/controlplane/internal/types"
	"github.com/cockroachdb/pebble"
)

// ErrNotFound is returned by GetBlockInfo when no block is stored at the
// height. Get returns a nil value and no error for an absent key.
var ErrNotFound = errors.New("storage: not found")

// Key prefixes partition the single pebble keyspace by record kind.
var (
	prefixBlockInfo = []byte("b/")
	prefixState     = []byte("s/")
	keyLatestHeight = []byte("meta/latest_height")
	keyStateRoot    = []byte("meta/state_root")
)

// StateStore is the narrow view of Store the execution adapter and mempool
// need: raw key reads, batched writes, and the current state root. Neither
// consumer needs block history, so they depend on this interface rather
// than the full Store.
type StateStore interface {
	Get(key []byte) ([]byte, error)
	ApplyWriteSet(writes map[string][]byte) error
	SetStateRoot(root types.Hash) error
	GetStateRoot() (types.Hash, error)
}

// Store is the node's persistent store: decided block metadata, the
// account/contract key-value state, and a small amount of chain metadata
// (latest height, current state root).
type Store interface {
	StateStore

	Put(key, value []byte) error
	Delete(key []byte) error
	Close() error

	SaveBlockInfo(info types.BlockInfo) error
	GetBlockInfo(height uint64) (types.BlockInfo, error)
	GetLatestHeight() (uint64, error)

	// PreviousBlockInfo satisfies consensus.BlockLayer: the metadata of the
	// most recently decided block, or the zero-height genesis info if the
	// store is empty.
	PreviousBlockInfo() (types.BlockInfo, error)
}

// OpenStore opens a Store per cfg.Storage.Backend: "pebble" for the
// persistent on-disk store, "memory" for the in-process store used by tests
// and single-node dev runs.
func OpenStore(cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemStore(), nil
	case "pebble", "":
		return newPebbleStore(cfg.DBPath)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
	}
}

// pebbleStore is the cockroachdb/pebble-backed Store implementation.
type pebbleStore struct {
	db *pebble.DB
}

func newPebbleStore(dbPath string) (*pebbleStore, error) {
	db, err := pebble.Open(dbPath, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("storage: open pebble at %q: %w", dbPath, err)
	}
	return &pebbleStore{db: db}, nil
}

func (s *pebbleStore) Put(key, value []byte) error {
	return s.db.Set(key, value, pebble.Sync)
}

func (s *pebbleStore) Get(key []byte) ([]byte, error) {
	value, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), value...)
	closer.Close()
	return out, nil
}

func (s *pebbleStore) Delete(key []byte) error {
	return s.db.Delete(key, pebble.Sync)
}

func (s *pebbleStore) Close() error {
	return s.db.Close()
}

func (s *pebbleStore) ApplyWriteSet(writes map[string][]byte) error {
	batch := s.db.NewBatch()
	defer batch.Close()
	for k, v := range writes {
		if err := batch.Set(stateKey(k), v, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

func (s *pebbleStore) SetStateRoot(root types.Hash) error {
	return s.Put(keyStateRoot, root.Bytes())
}

func (s *pebbleStore) GetStateRoot() (types.Hash, error) {
	data, err := s.Get(keyStateRoot)
	if err != nil {
		return types.Hash{}, err
	}
	if data == nil {
		return types.Hash{}, nil
	}
	return types.HashFromBytes(data)
}

func (s *pebbleStore) SaveBlockInfo(info types.BlockInfo) error {
	// info.Bytes() omits ContentID (it is derived from the proposal payload,
	// not the header); append it so the round trip through storage is exact.
	encoded := append(append([]byte(nil), info.Bytes()...), info.ContentID.Bytes()...)
	if err := s.Put(blockInfoKey(info.Height), encoded); err != nil {
		return err
	}
	latest, err := s.GetLatestHeight()
	if err != nil {
		return err
	}
	if info.Height > latest {
		return s.Put(keyLatestHeight, encodeHeight(info.Height))
	}
	return nil
}

func (s *pebbleStore) GetBlockInfo(height uint64) (types.BlockInfo, error) {
	data, err := s.Get(blockInfoKey(height))
	if err != nil {
		return types.BlockInfo{}, err
	}
	if data == nil {
		return types.BlockInfo{}, ErrNotFound
	}
	if len(data) < types.HashSize {
		return types.BlockInfo{}, fmt.Errorf("storage: truncated block info record for height %d", height)
	}
	split := len(data) - types.HashSize
	info, err := types.BlockInfoFromBytes(data[:split])
	if err != nil {
		return types.BlockInfo{}, err
	}
	contentID, err := types.HashFromBytes(data[split:])
	if err != nil {
		return types.BlockInfo{}, err
	}
	info.ContentID = contentID
	return info, nil
}

func (s *pebbleStore) GetLatestHeight() (uint64, error) {
	data, err := s.Get(keyLatestHeight)
	if err != nil {
		return 0, err
	}
	if data == nil {
		return 0, nil
	}
	return binary.BigEndian.Uint64(data), nil
}

func (s *pebbleStore) PreviousBlockInfo() (types.BlockInfo, error) {
	height, err := s.GetLatestHeight()
	if err != nil {
		return types.BlockInfo{}, err
	}
	if height == 0 {
		return types.BlockInfo{}, nil
	}
	return s.GetBlockInfo(height)
}

func blockInfoKey(height uint64) []byte {
	key := make([]byte, len(prefixBlockInfo)+8)
	copy(key, prefixBlockInfo)
	binary.BigEndian.PutUint64(key[len(prefixBlockInfo):], height)
	return key
}

func stateKey(k string) []byte {
	return append(append([]byte(nil), prefixState...), []byte(k)...)
}

func encodeHeight(height uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, height)
	return buf
}
