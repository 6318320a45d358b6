package rpc

import (
	"context"
	"testing"

	"github.com/echenim/Bedrock/controlplane/internal/config"
	"github.com/echenim/Bedrock/controlplane/internal/crypto"
	"github.com/echenim/Bedrock/controlplane/internal/mempool"
	"github.com/echenim/Bedrock/controlplane/internal/storage"
	"github.com/echenim/Bedrock/controlplane/internal/types"
)

// --- Test helpers ---

func testNodeService(t *testing.T) (*NodeServiceImpl, storage.Store) {
	t.Helper()
	store := storage.NewMemStore()

	_, privKey, _ := crypto.GenerateKeypair()
	pubKey := privKey.Public().(crypto.PublicKey)
	addr := crypto.AddressFromPubKey(pubKey)

	info := types.BlockInfo{
		Height:    1,
		Timestamp: 1_700_000_000,
		Builder:   addr,
	}
	if err := store.SaveBlockInfo(info); err != nil {
		t.Fatalf("seed block info: %v", err)
	}

	if err := store.ApplyWriteSet(map[string][]byte{
		"key1": []byte("value1"),
		"key2": []byte("value2"),
	}); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	mp := mempool.NewMempool(config.MempoolConfig{
		MaxSize:    100,
		MaxTxBytes: 1024 * 1024,
		CacheSize:  100,
	}, store, nil)

	valSet, err := types.NewValidatorSet([]types.Validator{
		{
			ID:          addr,
			PublicKey:   crypto.PubKeyTo32(pubKey),
			VotingPower: 100,
		},
	})
	if err != nil {
		t.Fatalf("build validator set: %v", err)
	}

	svc := NewNodeService(NodeServiceConfig{
		Store:   store,
		Mempool: mp,
		ValSet:  valSet,
		NodeID:  "test-node-id",
		Moniker: "test-moniker",
		ChainID: "test-chain",
	})

	return svc, store
}

func startTestServer(t *testing.T, svc *NodeServiceImpl) (addr string, cleanup func()) {
	t.Helper()
	server := NewServer(config.RPCConfig{
		GRPCAddr: "127.0.0.1:0",
	}, nil)
	server.RegisterNodeService(svc)

	ctx := context.Background()
	if err := server.Start(ctx); err != nil {
		t.Fatalf("start server: %v", err)
	}

	return server.GRPCAddr(), func() { server.Stop() }
}

// --- NodeService unit tests ---

func TestGetStatusReturnsNodeInfo(t *testing.T) {
	svc, _ := testNodeService(t)

	resp, err := svc.GetStatus(context.Background(), &GetStatusRequest{})
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if resp.NodeID != "test-node-id" {
		t.Errorf("expected node_id=test-node-id, got %s", resp.NodeID)
	}
	if resp.Moniker != "test-moniker" {
		t.Errorf("expected moniker=test-moniker, got %s", resp.Moniker)
	}
	if resp.Network != "test-chain" {
		t.Errorf("expected network=test-chain, got %s", resp.Network)
	}
	if resp.LatestBlockHeight != 1 {
		t.Errorf("expected height=1, got %d", resp.LatestBlockHeight)
	}
}

func TestGetStatusNoSyncer(t *testing.T) {
	svc, _ := testNodeService(t)
	resp, err := svc.GetStatus(context.Background(), &GetStatusRequest{})
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if resp.Syncing {
		t.Error("expected Syncing=false when no syncer")
	}
}

func TestGetBlock(t *testing.T) {
	svc, _ := testNodeService(t)

	resp, err := svc.GetBlock(context.Background(), &GetBlockRequest{Height: 1})
	if err != nil {
		t.Fatalf("GetBlock: %v", err)
	}
	if resp.Block == nil {
		t.Fatal("expected non-nil block")
	}
	if resp.Block.Height != 1 {
		t.Errorf("expected height=1, got %d", resp.Block.Height)
	}
}

func TestGetBlockLatest(t *testing.T) {
	svc, _ := testNodeService(t)

	resp, err := svc.GetBlock(context.Background(), &GetBlockRequest{Height: 0})
	if err != nil {
		t.Fatalf("GetBlock(0): %v", err)
	}
	if resp.Block == nil {
		t.Fatal("expected non-nil block")
	}
}

func TestGetBlockNotFound(t *testing.T) {
	svc, _ := testNodeService(t)

	_, err := svc.GetBlock(context.Background(), &GetBlockRequest{Height: 999})
	if err == nil {
		t.Fatal("expected error for non-existent block")
	}
}

func TestSubmitTransactionEmpty(t *testing.T) {
	svc, _ := testNodeService(t)

	_, err := svc.SubmitTransaction(context.Background(), &SubmitTransactionRequest{})
	if err == nil {
		t.Fatal("expected error for empty tx")
	}
}

func TestSubmitTransactionValid(t *testing.T) {
	svc, _ := testNodeService(t)

	tx := makeTestTx()

	resp, err := svc.SubmitTransaction(context.Background(), &SubmitTransactionRequest{Tx: tx})
	if err != nil {
		t.Fatalf("SubmitTransaction: %v", err)
	}
	if resp.Code != 0 {
		t.Logf("submit response: code=%d log=%s", resp.Code, resp.Log)
	}
}

func TestQueryState(t *testing.T) {
	svc, _ := testNodeService(t)

	resp, err := svc.QueryState(context.Background(), &QueryStateRequest{
		Key: []byte("key1"),
	})
	if err != nil {
		t.Fatalf("QueryState: %v", err)
	}
	if string(resp.Value) != "value1" {
		t.Errorf("expected value1, got %s", string(resp.Value))
	}
}

func TestQueryStateWithProof(t *testing.T) {
	svc, _ := testNodeService(t)

	resp, err := svc.QueryState(context.Background(), &QueryStateRequest{
		Key:   []byte("key1"),
		Prove: true,
	})
	if err != nil {
		t.Fatalf("QueryState: %v", err)
	}
	if resp.Proof == nil {
		t.Fatal("expected proof with Prove=true")
	}
}

func TestQueryStateEmptyKey(t *testing.T) {
	svc, _ := testNodeService(t)

	_, err := svc.QueryState(context.Background(), &QueryStateRequest{})
	if err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestGetValidators(t *testing.T) {
	svc, _ := testNodeService(t)

	resp, err := svc.GetValidators(context.Background(), &GetValidatorsRequest{})
	if err != nil {
		t.Fatalf("GetValidators: %v", err)
	}
	if len(resp.Validators) != 1 {
		t.Errorf("expected 1 validator, got %d", len(resp.Validators))
	}
}

// --- Server lifecycle tests ---

func TestServerStartStop(t *testing.T) {
	server := NewServer(config.RPCConfig{
		GRPCAddr: "127.0.0.1:0",
	}, nil)

	svc, _ := testNodeService(t)
	server.RegisterNodeService(svc)

	ctx := context.Background()
	if err := server.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	addr := server.GRPCAddr()
	if addr == "" {
		t.Fatal("expected non-empty address")
	}

	if err := server.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestServerName(t *testing.T) {
	server := NewServer(config.RPCConfig{GRPCAddr: "127.0.0.1:0"}, nil)
	if server.Name() != "rpc" {
		t.Errorf("expected name=rpc, got %s", server.Name())
	}
}

func TestServerRegistersNodeService(t *testing.T) {
	svc, _ := testNodeService(t)
	addr, cleanup := startTestServer(t, svc)
	defer cleanup()

	if addr == "" {
		t.Fatal("expected non-empty grpc address")
	}
}

// --- Helper ---

func makeTestTx() []byte {
	// Bytes: 4-byte fee (big-endian) + 4-byte nonce + 32-byte sender + 64-byte zero sig + payload.
	// This is not the mempool layout (sender(32) || nonce(8) || fee(8) || sig(64) || payload);
	// read that way the signature field is all zeros, so the mempool rejects the tx.
	tx := make([]byte, 4+4+32+64+10)
	tx[0] = 0
	tx[1] = 0
	tx[2] = 0x03
	tx[3] = 0xe8
	tx[4] = 0
	tx[5] = 0
	tx[6] = 0
	tx[7] = 1
	copy(tx[8:40], []byte("sender-address-32bytes-padded!!!"))
	return tx
}
