package rpc

import (
	"context"
	"encoding/hex"

	"github.com/echenim/Bedrock/controlplane/internal/consensus"
	"github.com/echenim/Bedrock/controlplane/internal/crypto"
	"github.com/echenim/Bedrock/controlplane/internal/mempool"
	"github.com/echenim/Bedrock/controlplane/internal/storage"
	bsync "github.com/echenim/Bedrock/controlplane/internal/sync"
	"github.com/echenim/Bedrock/controlplane/internal/types"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// NodeServiceImpl backs the hand-registered NodeService gRPC surface
// (service_desc.go) and the HTTP gateway (gateway.go).
type NodeServiceImpl struct {
	store   storage.Store
	mempool *mempool.Mempool
	manager *consensus.ConsensusManager
	syncer  *bsync.BlockSyncer
	valSet  *types.ValidatorSet
	nodeID  string
	moniker string
	chainID string
	logger  *zap.Logger
}

// NodeServiceConfig holds configuration for the NodeService.
type NodeServiceConfig struct {
	Store   storage.Store
	Mempool *mempool.Mempool
	Manager *consensus.ConsensusManager
	Syncer  *bsync.BlockSyncer
	ValSet  *types.ValidatorSet
	NodeID  string
	Moniker string
	ChainID string
	Logger  *zap.Logger
}

// NewNodeService creates the NodeService implementation.
func NewNodeService(cfg NodeServiceConfig) *NodeServiceImpl {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &NodeServiceImpl{
		store:   cfg.Store,
		mempool: cfg.Mempool,
		manager: cfg.Manager,
		syncer:  cfg.Syncer,
		valSet:  cfg.ValSet,
		nodeID:  cfg.NodeID,
		moniker: cfg.Moniker,
		chainID: cfg.ChainID,
		logger:  cfg.Logger,
	}
}

// GetStatus returns current node status.
func (s *NodeServiceImpl) GetStatus(ctx context.Context, req *GetStatusRequest) (*GetStatusResponse, error) {
	resp := &GetStatusResponse{
		NodeID:  s.nodeID,
		Moniker: s.moniker,
		Network: s.chainID,
	}

	if s.syncer != nil {
		resp.Syncing = !s.syncer.IsSynced()
	}

	if s.store != nil {
		if height, err := s.store.GetLatestHeight(); err == nil {
			resp.LatestBlockHeight = height
			if info, err := s.store.GetBlockInfo(height); err == nil {
				resp.LatestStateRoot = info.StateRoot.String()
				resp.LatestBuilder = info.Builder.String()
			}
		}
	}

	return resp, nil
}

// SubmitTransaction validates and adds tx to mempool.
func (s *NodeServiceImpl) SubmitTransaction(ctx context.Context, req *SubmitTransactionRequest) (*SubmitTransactionResponse, error) {
	if len(req.Tx) == 0 {
		return nil, status.Error(codes.InvalidArgument, "transaction data is required")
	}

	if s.mempool == nil {
		return nil, status.Error(codes.Unavailable, "mempool not available")
	}

	txHash, err := s.mempool.AddTx(req.Tx)
	if err != nil {
		return &SubmitTransactionResponse{
			TxHash: txHash.String(),
			Code:   1,
			Log:    err.Error(),
		}, nil
	}

	return &SubmitTransactionResponse{
		TxHash: txHash.String(),
		Code:   0,
		Log:    "ok",
	}, nil
}

// GetBlock retrieves decided block metadata by height (0 = latest).
func (s *NodeServiceImpl) GetBlock(ctx context.Context, req *GetBlockRequest) (*GetBlockResponse, error) {
	if s.store == nil {
		return nil, status.Error(codes.Unavailable, "store not available")
	}

	height := req.Height
	if height == 0 {
		h, err := s.store.GetLatestHeight()
		if err != nil {
			return nil, status.Error(codes.NotFound, "no blocks available")
		}
		height = h
	}

	info, err := s.store.GetBlockInfo(height)
	if err != nil {
		return nil, status.Errorf(codes.NotFound, "block at height %d not found", height)
	}

	view := blockInfoView(info)
	return &GetBlockResponse{Block: &view}, nil
}

// SubscribeBlocks streams commit events as heights decide. This is a plain
// Go channel API rather than a grpc.ServiceDesc stream method: wiring the
// hand-rolled JSON codec through a streaming ServerStream needs a custom
// encoding.Codec-aware stream wrapper the teacher's generated stubs provide
// for free, and no component in SPEC_FULL.md depends on this being exposed
// over the wire yet, so only the in-process subscription is implemented.
func (s *NodeServiceImpl) SubscribeBlocks(ctx context.Context, startHeight uint64, send func(*GetBlockResponse) error) error {
	if s.manager == nil {
		return status.Error(codes.Unavailable, "consensus manager not available")
	}

	commitCh := s.manager.SubscribeCommits()

	if startHeight > 0 && s.store != nil {
		latest, _ := s.store.GetLatestHeight()
		for h := startHeight; h <= latest; h++ {
			info, err := s.store.GetBlockInfo(h)
			if err != nil {
				continue
			}
			view := blockInfoView(info)
			if err := send(&GetBlockResponse{Block: &view}); err != nil {
				return err
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-commitCh:
			if !ok {
				return nil
			}
			view := blockInfoView(evt.BlockInfo)
			if err := send(&GetBlockResponse{Block: &view}); err != nil {
				return err
			}
		}
	}
}

// QueryState reads application state at a given key.
func (s *NodeServiceImpl) QueryState(ctx context.Context, req *QueryStateRequest) (*QueryStateResponse, error) {
	if s.store == nil {
		return nil, status.Error(codes.Unavailable, "store not available")
	}

	if len(req.Key) == 0 {
		return nil, status.Error(codes.InvalidArgument, "key is required")
	}

	// Application state written through ApplyWriteSet lives under the "s/" prefix.
	value, err := s.store.Get(append([]byte("s/"), req.Key...))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "state query failed: %v", err)
	}

	height, _ := s.store.GetLatestHeight()
	stateRoot, _ := s.store.GetStateRoot()

	resp := &QueryStateResponse{
		Key:    req.Key,
		Value:  value,
		Height: height,
	}

	if req.Prove {
		resp.Proof = &StateProof{
			RootHash: stateRoot.String(),
			Key:      string(req.Key),
			Value:    value,
		}
	}

	return resp, nil
}

// GetValidators returns the validator set.
func (s *NodeServiceImpl) GetValidators(ctx context.Context, req *GetValidatorsRequest) (*GetValidatorsResponse, error) {
	if s.valSet == nil {
		return nil, status.Error(codes.Unavailable, "validator set not available")
	}

	height := uint64(0)
	if s.store != nil {
		height, _ = s.store.GetLatestHeight()
	}

	views := make([]ValidatorView, len(s.valSet.Validators))
	for i, v := range s.valSet.Validators {
		views[i] = validatorView(v)
	}

	return &GetValidatorsResponse{
		Validators: views,
		Height:     height,
	}, nil
}

// nodeIDFromKey derives a short node ID from a private key.
func nodeIDFromKey(privKey crypto.PrivateKey) string {
	if privKey == nil {
		return "unknown"
	}
	pubKey := privKey.Public().(crypto.PublicKey)
	addr := crypto.AddressFromPubKey(pubKey)
	return hex.EncodeToString(addr[:8])
}
