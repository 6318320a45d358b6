package consensus_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/echenim/Bedrock/controlplane/internal/consensus"
	"github.com/echenim/Bedrock/controlplane/internal/crypto"
	"github.com/echenim/Bedrock/controlplane/internal/types"
)

type stubExecutor struct {
	result consensus.ExecutionResult
}

func (s *stubExecutor) ExecuteBlock(info types.BlockInfo, content [][]byte, prevStateRoot types.Hash) (*consensus.ExecutionResult, error) {
	r := s.result
	return &r, nil
}

func newTestBlockContext(t *testing.T, previous types.BlockInfo) *consensus.BlockContext {
	t.Helper()
	valSet, ids := newTestValSet(t, 1)
	_, priv, err := crypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	cctx := consensus.NewBlockContext(consensus.BlockContextConfig{
		ValSet:   valSet,
		Self:     ids[0],
		PrivKey:  priv,
		Executor: &stubExecutor{},
	})
	cctx.SetPreviousBlockInfo(previous)
	return cctx
}

// TestBuildProposalEnforcesTimestampMonotonicity is the timestamp invariant
// (§3): consecutive decided blocks' timestamps strictly increase, even when
// wall-clock time has not advanced past the previous block's timestamp.
func TestBuildProposalEnforcesTimestampMonotonicity(t *testing.T) {
	previous := types.BlockInfo{Height: 5, Timestamp: uint64(time.Now().Add(time.Hour).UnixMilli())}
	cctx := newTestBlockContext(t, previous)

	_, info, _, err := cctx.BuildProposal(context.Background(), 0, time.Second)
	if err != nil {
		t.Fatalf("BuildProposal: %v", err)
	}
	if info.Timestamp <= previous.Timestamp {
		t.Fatalf("built block's timestamp %d must exceed previous block's timestamp %d", info.Timestamp, previous.Timestamp)
	}
	if info.Height != previous.Height+1 {
		t.Fatalf("expected height %d, got %d", previous.Height+1, info.Height)
	}
}

// TestValidateProposalRejectsStaleTimestamp is Scenario C: a declared
// timestamp at or below previous_block_info.timestamp is rejected as
// Invalid::StaleTimestamp regardless of content validity.
func TestValidateProposalRejectsStaleTimestamp(t *testing.T) {
	previous := types.BlockInfo{Height: 5, Timestamp: 1000}
	cctx := newTestBlockContext(t, previous)

	declared := types.BlockInfo{
		Height:    6,
		Timestamp: previous.Timestamp, // not strictly greater: stale
	}

	_, err := cctx.ValidateProposal(context.Background(), 0, types.ValidatorID{}, declared, nil, time.Second)
	if err == nil {
		t.Fatal("expected a stale-timestamp rejection")
	}
	var invalid *consensus.InvalidProposalError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected *consensus.InvalidProposalError, got %T: %v", err, err)
	}
	if invalid.Kind != consensus.InvalidBadTimestamp {
		t.Fatalf("expected InvalidBadTimestamp, got %s", invalid.Kind)
	}
}

// TestValidateProposalRejectsFutureTimestamp rejects a timestamp beyond
// wall-clock plus tolerance, the other half of the §4.3 timestamp check.
func TestValidateProposalRejectsFutureTimestamp(t *testing.T) {
	previous := types.BlockInfo{Height: 5, Timestamp: 1000}
	cctx := newTestBlockContext(t, previous)

	declared := types.BlockInfo{
		Height:    6,
		Timestamp: uint64(time.Now().Add(time.Hour).UnixMilli()),
	}

	_, err := cctx.ValidateProposal(context.Background(), 0, types.ValidatorID{}, declared, nil, time.Second)
	if err == nil {
		t.Fatal("expected a future-timestamp rejection")
	}
	var invalid *consensus.InvalidProposalError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected *consensus.InvalidProposalError, got %T: %v", err, err)
	}
	if invalid.Kind != consensus.InvalidBadTimestamp {
		t.Fatalf("expected InvalidBadTimestamp, got %s", invalid.Kind)
	}
}

// TestValidateProposalAcceptsWellFormedProposal is the complement of the two
// rejection tests: a proposal with a valid timestamp and matching tx root
// passes validation and gets a derived content id.
func TestValidateProposalAcceptsWellFormedProposal(t *testing.T) {
	previous := types.BlockInfo{Height: 5, Timestamp: 1000, StateRoot: testHash(1)}
	cctx := newTestBlockContext(t, previous)

	content := [][]byte{[]byte("tx-a"), []byte("tx-b")}
	declared := types.BlockInfo{
		Height:    6,
		Timestamp: uint64(time.Now().UnixMilli()),
		TxRoot:    crypto.ComputeTxRoot(content),
	}

	info, err := cctx.ValidateProposal(context.Background(), 0, types.ValidatorID{}, declared, content, time.Second)
	if err != nil {
		t.Fatalf("ValidateProposal: %v", err)
	}
	if info.ContentID.IsZero() {
		t.Fatal("expected a derived, non-zero content id")
	}
}

// TestValidateProposalRejectsTxRootMismatch covers the malformed-content
// rejection path distinct from the timestamp checks.
func TestValidateProposalRejectsTxRootMismatch(t *testing.T) {
	previous := types.BlockInfo{Height: 5, Timestamp: 1000}
	cctx := newTestBlockContext(t, previous)

	declared := types.BlockInfo{
		Height:    6,
		Timestamp: uint64(time.Now().UnixMilli()),
		TxRoot:    testHash(0xAA), // does not match any real content
	}

	_, err := cctx.ValidateProposal(context.Background(), 0, types.ValidatorID{}, declared, [][]byte{[]byte("tx")}, time.Second)
	if err == nil {
		t.Fatal("expected a tx root mismatch rejection")
	}
	var invalid *consensus.InvalidProposalError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected *consensus.InvalidProposalError, got %T: %v", err, err)
	}
	if invalid.Kind != consensus.InvalidMalformed {
		t.Fatalf("expected InvalidMalformed, got %s", invalid.Kind)
	}
}
