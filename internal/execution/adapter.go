package execution

import (
	"fmt"

	"github.com/echenim/Bedrock/controlplane/internal/config"
	"github.com/echenim/Bedrock/controlplane/internal/consensus"
	"github.com/echenim/Bedrock/controlplane/internal/storage"
	"github.com/echenim/Bedrock/controlplane/internal/types"
	"go.uber.org/zap"
)

// Compile-time check that WASMAdapter implements consensus.ExecutionAdapter.
var _ consensus.ExecutionAdapter = (*WASMAdapter)(nil)

// WASMAdapter implements consensus.ExecutionAdapter on top of a Sandbox.
// When no WASM artifact exists at the configured path, blocks run through
// the Sandbox's deterministic Go-native executor. When an artifact exists,
// it is loaded but not run: every ExecuteBlock call then returns an error.
// No wasmtime-go engine is created.
type WASMAdapter struct {
	sandbox    *Sandbox
	cfg        config.ExecutionConfig
	stateStore storage.StateStore
	logger     *zap.Logger
}

// NewWASMAdapter creates a new WASM execution adapter.
// It loads the WASM module from the configured path.
func NewWASMAdapter(cfg config.ExecutionConfig, stateStore storage.StateStore, logger *zap.Logger) (*WASMAdapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	sandbox, err := NewSandbox(cfg)
	if err != nil {
		return nil, fmt.Errorf("execution: create sandbox: %w", err)
	}

	return &WASMAdapter{
		sandbox:    sandbox,
		cfg:        cfg,
		stateStore: stateStore,
		logger:     logger,
	}, nil
}

// ExecuteBlock implements consensus.ExecutionAdapter.
// It executes a proposal's content through the Sandbox and returns the
// resulting state root.
//
// Per EXECUTION_SPEC.md §2: execution is a pure function:
//
//	f(previous_state_root, content) → new_state_root
func (w *WASMAdapter) ExecuteBlock(blockInfo types.BlockInfo, content [][]byte, prevStateRoot types.Hash) (*consensus.ExecutionResult, error) {
	w.logger.Debug("executing block",
		zap.Uint64("height", blockInfo.Height),
		zap.Int("tx_count", len(content)),
	)

	result, err := w.sandbox.Execute(blockInfo, content, prevStateRoot, w.stateStore)
	if err != nil {
		return nil, fmt.Errorf("execution: block %d: %w", blockInfo.Height, err)
	}

	w.logger.Debug("block executed",
		zap.Uint64("height", blockInfo.Height),
		zap.Uint64("gas_used", result.GasUsed),
		zap.String("state_root", result.StateRoot.String()),
	)

	return result, nil
}

// Close releases the sandbox's loaded WASM bytes.
func (w *WASMAdapter) Close() error {
	if w.sandbox != nil {
		return w.sandbox.Close()
	}
	return nil
}
