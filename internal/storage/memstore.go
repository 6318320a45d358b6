package storage

import (
	"sync"

	"github.com/echenim/Bedrock/controlplane/internal/types"
)

// MemStore is an in-process Store backed by plain maps, used by tests and
// single-node dev runs started with storage.backend = "memory".
type MemStore struct {
	mu         sync.RWMutex
	kv         map[string][]byte
	blockInfos map[uint64]types.BlockInfo
	latest     uint64
	stateRoot  types.Hash
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		kv:         make(map[string][]byte),
		blockInfos: make(map[uint64]types.BlockInfo),
	}
}

func (m *MemStore) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[string(key)] = append([]byte(nil), value...)
	return nil
}

func (m *MemStore) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.kv[string(key)]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (m *MemStore) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.kv, string(key))
	return nil
}

func (m *MemStore) Close() error {
	return nil
}

func (m *MemStore) ApplyWriteSet(writes map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range writes {
		m.kv[stateMemKey(k)] = append([]byte(nil), v...)
	}
	return nil
}

func (m *MemStore) SetStateRoot(root types.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateRoot = root
	return nil
}

func (m *MemStore) GetStateRoot() (types.Hash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stateRoot, nil
}

func (m *MemStore) SaveBlockInfo(info types.BlockInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blockInfos[info.Height] = info
	if info.Height > m.latest {
		m.latest = info.Height
	}
	return nil
}

func (m *MemStore) GetBlockInfo(height uint64) (types.BlockInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.blockInfos[height]
	if !ok {
		return types.BlockInfo{}, ErrNotFound
	}
	return info, nil
}

func (m *MemStore) GetLatestHeight() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest, nil
}

func (m *MemStore) PreviousBlockInfo() (types.BlockInfo, error) {
	m.mu.RLock()
	height := m.latest
	m.mu.RUnlock()
	if height == 0 {
		return types.BlockInfo{}, nil
	}
	return m.GetBlockInfo(height)
}

func stateMemKey(k string) string {
	return "s/" + k
}

var _ Store = (*MemStore)(nil)
