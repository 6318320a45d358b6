package consensus_test

import (
	"errors"
	"testing"

	"github.com/echenim/Bedrock/controlplane/internal/consensus"
	"github.com/echenim/Bedrock/controlplane/internal/types"
)

// TestValidProposalStoreNoOverwriteAcrossRounds is property 1 (the Node-14
// fix): two validations of the same content id at different rounds are
// distinct (round, proposal-id) entries, and neither overwrites the other.
func TestValidProposalStoreNoOverwriteAcrossRounds(t *testing.T) {
	store := consensus.NewValidProposalStore(nil)
	pid := testHash(1)

	infoR0 := types.BlockInfo{Height: 1, Timestamp: 10, ContentID: pid}
	infoR1 := types.BlockInfo{Height: 1, Timestamp: 20, ContentID: pid}

	keyR0 := consensus.RoundProposal{Round: 0, ProposalID: pid}
	keyR1 := consensus.RoundProposal{Round: 1, ProposalID: pid}

	if err := store.Insert(keyR0, infoR0); err != nil {
		t.Fatalf("insert round 0: %v", err)
	}
	if err := store.Insert(keyR1, infoR1); err != nil {
		t.Fatalf("insert round 1: %v", err)
	}

	got0, ok := store.Get(keyR0)
	if !ok || !got0.Equal(infoR0) {
		t.Fatalf("round 0 entry lost or overwritten: got %+v, ok=%v", got0, ok)
	}
	got1, ok := store.Get(keyR1)
	if !ok || !got1.Equal(infoR1) {
		t.Fatalf("round 1 entry missing: got %+v, ok=%v", got1, ok)
	}
	if store.Len() != 2 {
		t.Fatalf("expected both (round, proposal-id) entries retained, got Len()=%d", store.Len())
	}
}

func TestValidProposalStoreReinsertSameInfoIsNoOp(t *testing.T) {
	store := consensus.NewValidProposalStore(nil)
	key := consensus.RoundProposal{Round: 0, ProposalID: testHash(1)}
	info := types.BlockInfo{Height: 1, Timestamp: 10, ContentID: testHash(1)}

	if err := store.Insert(key, info); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := store.Insert(key, info); err != nil {
		t.Fatalf("identical re-insert should be a no-op, got: %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", store.Len())
	}
}

// TestValidProposalStoreDivergentInsertIsFatal is Scenario F: a divergent
// BlockInfo reinserted under the same (round, proposal-id) key can only mean
// a logic bug or an equivocating proposer echoed back as one validation
// result, so it must surface as a FatalError rather than silently overwrite.
func TestValidProposalStoreDivergentInsertIsFatal(t *testing.T) {
	store := consensus.NewValidProposalStore(nil)
	key := consensus.RoundProposal{Round: 0, ProposalID: testHash(1)}
	infoA := types.BlockInfo{Height: 1, Timestamp: 10, ContentID: testHash(1)}
	infoB := types.BlockInfo{Height: 1, Timestamp: 99, ContentID: testHash(1)}

	if err := store.Insert(key, infoA); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err := store.Insert(key, infoB)
	if err == nil {
		t.Fatal("expected an error for a divergent BlockInfo under the same key")
	}
	var fatal *consensus.FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("expected *consensus.FatalError, got %T: %v", err, err)
	}

	// The original entry must survive a rejected divergent insert.
	got, ok := store.Get(key)
	if !ok || !got.Equal(infoA) {
		t.Fatalf("original entry corrupted by rejected insert: got %+v, ok=%v", got, ok)
	}
}
