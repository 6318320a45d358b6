package storage

import (
	"testing"

	"github.com/echenim/Bedrock/controlplane/internal/types"
)

func TestMemStoreBlockInfoRoundTrip(t *testing.T) {
	store := NewMemStore()

	info := types.BlockInfo{Height: 1, Timestamp: 1000, Builder: types.ValidatorID{1}}
	if err := store.SaveBlockInfo(info); err != nil {
		t.Fatalf("SaveBlockInfo: %v", err)
	}

	got, err := store.GetBlockInfo(1)
	if err != nil {
		t.Fatalf("GetBlockInfo: %v", err)
	}
	if !got.Equal(info) {
		t.Fatalf("GetBlockInfo = %+v, want %+v", got, info)
	}

	height, err := store.GetLatestHeight()
	if err != nil {
		t.Fatalf("GetLatestHeight: %v", err)
	}
	if height != 1 {
		t.Fatalf("GetLatestHeight = %d, want 1", height)
	}
}

func TestMemStoreGetBlockInfoMissing(t *testing.T) {
	store := NewMemStore()
	if _, err := store.GetBlockInfo(5); err != ErrNotFound {
		t.Fatalf("GetBlockInfo(missing) err = %v, want ErrNotFound", err)
	}
}

func TestMemStorePreviousBlockInfoEmpty(t *testing.T) {
	store := NewMemStore()
	info, err := store.PreviousBlockInfo()
	if err != nil {
		t.Fatalf("PreviousBlockInfo: %v", err)
	}
	if info.Height != 0 {
		t.Fatalf("PreviousBlockInfo.Height = %d, want 0", info.Height)
	}
}

func TestMemStoreApplyWriteSetAndGet(t *testing.T) {
	store := NewMemStore()
	if err := store.ApplyWriteSet(map[string][]byte{"a": []byte("1")}); err != nil {
		t.Fatalf("ApplyWriteSet: %v", err)
	}
	v, err := store.Get([]byte("s/a"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(v) != "1" {
		t.Fatalf("Get = %q, want %q", v, "1")
	}
}

func TestMemStoreStateRootRoundTrip(t *testing.T) {
	store := NewMemStore()
	root := types.Hash{9, 9, 9}
	if err := store.SetStateRoot(root); err != nil {
		t.Fatalf("SetStateRoot: %v", err)
	}
	got, err := store.GetStateRoot()
	if err != nil {
		t.Fatalf("GetStateRoot: %v", err)
	}
	if got != root {
		t.Fatalf("GetStateRoot = %v, want %v", got, root)
	}
}
