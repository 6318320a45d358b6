package node

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/echenim/Bedrock/controlplane/internal/admin"
	"github.com/echenim/Bedrock/controlplane/internal/config"
	"github.com/echenim/Bedrock/controlplane/internal/consensus"
	"github.com/echenim/Bedrock/controlplane/internal/crypto"
	"github.com/echenim/Bedrock/controlplane/internal/execution"
	"github.com/echenim/Bedrock/controlplane/internal/mempool"
	"github.com/echenim/Bedrock/controlplane/internal/rpc"
	"github.com/echenim/Bedrock/controlplane/internal/storage"
	bsync "github.com/echenim/Bedrock/controlplane/internal/sync"
	"github.com/echenim/Bedrock/controlplane/internal/telemetry"
	"github.com/echenim/Bedrock/controlplane/internal/types"
	"go.uber.org/zap"
)

// Node is the top-level sequencer node that owns and manages all subsystems.
type Node struct {
	cfg     *config.Config
	privKey crypto.PrivateKey
	valSet  *types.ValidatorSet
	self    types.ValidatorID

	// Subsystems.
	store       storage.Store
	mempool     *mempool.Mempool
	executor    consensus.ExecutionAdapter
	manager     *consensus.ConsensusManager
	syncer      *bsync.BlockSyncer
	rpcServer   *rpc.Server
	gateway     *rpc.Gateway
	metrics     *telemetry.Metrics
	metricsSrv  *telemetry.MetricsServer
	adminServer *admin.Server

	svcMgr *ServiceManager
	logger *zap.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}
}

// NewNode creates and wires all subsystems without starting them.
func NewNode(
	cfg *config.Config,
	privKey crypto.PrivateKey,
	valSet *types.ValidatorSet,
	logger *zap.Logger,
) (*Node, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	nodeID := nodeIDFromKey(privKey)
	logger = logger.With(zap.String("node_id", nodeID))

	// 1. Storage.
	store, err := storage.OpenStore(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("node: open store: %w", err)
	}

	// 2. Execution adapter.
	// NewWASMAdapter falls back to native execution if WASM artifact not found.
	wasmAdapter, err := execution.NewWASMAdapter(cfg.Execution, store, logger.Named("execution"))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("node: create execution adapter: %w", err)
	}
	var executor consensus.ExecutionAdapter = wasmAdapter

	// 3. Mempool.
	mp := mempool.NewMempool(cfg.Mempool, store, logger.Named("mempool"))

	// 4. Metrics.
	metrics := telemetry.NopMetrics()
	var metricsSrv *telemetry.MetricsServer
	if cfg.Telemetry.Enabled {
		metrics = telemetry.NewMetrics("bedrock")
		metricsSrv = telemetry.NewMetricsServer(cfg.Telemetry.Addr, metrics, logger.Named("metrics"))
	}

	// 5. Consensus manager (transport is nil for now — P2P not wired here).
	self := nodeSelfID(privKey)
	timeouts := consensus.TimeoutConfig{
		ProposeBaseMs:   cfg.Consensus.TimeoutPropose.Milliseconds(),
		ProposeStepMs:   cfg.Consensus.TimeoutProposeStep.Milliseconds(),
		PrevoteBaseMs:   cfg.Consensus.TimeoutPrevote.Milliseconds(),
		PrevoteStepMs:   cfg.Consensus.TimeoutPrevoteStep.Milliseconds(),
		PrecommitBaseMs: cfg.Consensus.TimeoutPrecommit.Milliseconds(),
		PrecommitStepMs: cfg.Consensus.TimeoutPrecommitStep.Milliseconds(),
	}
	if timeouts.ProposeBaseMs == 0 {
		timeouts = consensus.DefaultTimeoutConfig()
	}

	newCtx := func(height uint64, previous types.BlockInfo) consensus.ConsensusContext {
		return consensus.NewBlockContext(consensus.BlockContextConfig{
			ValSet:     valSet,
			Self:       self,
			PrivKey:    privKey,
			ChainID:    []byte(cfg.ChainID),
			Executor:   executor,
			Transport:  nil,
			TxProvider: mp,
			OnDecision: func(height uint64, proposalID types.Hash, info types.BlockInfo) error {
				return store.SaveBlockInfo(info)
			},
		})
	}

	manager := consensus.NewConsensusManager(consensus.ManagerConfig{
		BlockLayer:      store,
		ValSet:          valSet,
		Self:            self,
		NewContext:      newCtx,
		Timeouts:        timeouts,
		CacheMaxHeights: cfg.Consensus.CacheMaxHeights,
		CacheMaxPerKey:  cfg.Consensus.CacheMaxPerKey,
		Logger:          logger.Named("consensus"),
		Metrics:         metrics,
	})

	// 6. Block syncer (no real P2P provider — placeholder nil provider).
	// In production, this would be wired to the P2P transport.
	// For now, syncer is nil unless a provider is available.
	var syncer *bsync.BlockSyncer

	// 7. RPC server.
	rpcServer := rpc.NewServer(cfg.RPC, logger.Named("rpc"))
	nodeSvc := rpc.NewNodeService(rpc.NodeServiceConfig{
		Store:   store,
		Mempool: mp,
		Manager: manager,
		Syncer:  syncer,
		ValSet:  valSet,
		NodeID:  nodeID,
		Moniker: cfg.Moniker,
		ChainID: cfg.ChainID,
		Logger:  logger.Named("rpc"),
	})
	rpcServer.RegisterNodeService(nodeSvc)

	// 8. HTTP gateway.
	var gw *rpc.Gateway
	if cfg.RPC.HTTPAddr != "" {
		gw = rpc.NewGateway(cfg.RPC.HTTPAddr, nodeSvc, logger.Named("gateway"))
	}

	// 9. Admin server.
	adminSrv := admin.NewServer("127.0.0.1:26661", store, mp, syncer, logger.Named("admin"))

	return &Node{
		cfg:         cfg,
		privKey:     privKey,
		valSet:      valSet,
		self:        self,
		store:       store,
		mempool:     mp,
		executor:    executor,
		manager:     manager,
		syncer:      syncer,
		rpcServer:   rpcServer,
		gateway:     gw,
		metrics:     metrics,
		metricsSrv:  metricsSrv,
		adminServer: adminSrv,
		svcMgr:      NewServiceManager(logger),
		logger:      logger,
		done:        make(chan struct{}),
	}, nil
}

// Start boots all subsystems in dependency order.
func (n *Node) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel

	n.logger.Info("node starting",
		zap.String("moniker", n.cfg.Moniker),
		zap.String("chain_id", n.cfg.ChainID),
	)

	// Start the consensus manager; it runs until ctx is cancelled.
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.manager.Run(ctx); err != nil {
			n.logger.Error("consensus manager halted", zap.Error(err))
		}
	}()

	// Start RPC server.
	if err := n.rpcServer.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("node: start rpc: %w", err)
	}

	// Start HTTP gateway.
	if n.gateway != nil {
		if err := n.gateway.Start(ctx); err != nil {
			n.rpcServer.Stop()
			cancel()
			return fmt.Errorf("node: start gateway: %w", err)
		}
	}

	// Start metrics server.
	if n.metricsSrv != nil {
		go n.metricsSrv.Start()
	}

	// Start admin server.
	if err := n.adminServer.Start(ctx); err != nil {
		n.logger.Warn("admin server failed to start", zap.Error(err))
		// Non-fatal.
	}

	n.logger.Info("node started successfully",
		zap.String("grpc_addr", n.rpcServer.GRPCAddr()),
	)

	return nil
}

// Stop gracefully shuts down all subsystems in reverse order.
func (n *Node) Stop() error {
	n.logger.Info("node stopping")

	if n.cancel != nil {
		n.cancel()
	}

	// Stop in reverse dependency order.
	if n.adminServer != nil {
		n.adminServer.Stop()
	}

	if n.metricsSrv != nil {
		n.metricsSrv.Stop()
	}

	if n.gateway != nil {
		n.gateway.Stop()
	}

	if n.rpcServer != nil {
		n.rpcServer.Stop()
	}

	n.wg.Wait()

	if n.store != nil {
		n.store.Close()
	}

	// Close WASM adapter if applicable.
	if closer, ok := n.executor.(interface{ Close() error }); ok {
		closer.Close()
	}

	n.logger.Info("node stopped")
	close(n.done)
	return nil
}

// Wait blocks until the node is stopped.
func (n *Node) Wait() error {
	<-n.done
	return nil
}

// Store returns the node's storage (for testing).
func (n *Node) Store() storage.Store {
	return n.store
}

// ConsensusManager returns the consensus manager (for testing).
func (n *Node) ConsensusManager() *consensus.ConsensusManager {
	return n.manager
}

// RPCServer returns the RPC server (for testing).
func (n *Node) RPCServer() *rpc.Server {
	return n.rpcServer
}

func nodeIDFromKey(privKey crypto.PrivateKey) string {
	if privKey == nil {
		return "unknown"
	}
	pubKey := privKey.Public().(crypto.PublicKey)
	addr := crypto.AddressFromPubKey(pubKey)
	return hex.EncodeToString(addr[:8])
}

// nodeSelfID derives this node's validator identity from its signing key.
func nodeSelfID(privKey crypto.PrivateKey) types.ValidatorID {
	if privKey == nil {
		return types.ValidatorID{}
	}
	pubKey := privKey.Public().(crypto.PublicKey)
	return crypto.AddressFromPubKey(pubKey)
}
