package consensus_test

import (
	"context"
	"testing"
	"time"

	"github.com/echenim/Bedrock/controlplane/internal/consensus"
)

// TestProposalTaskRegistrySpawnCancelsPriorSameKey is property 3
// (cancellation safety): spawning a second task under the same key cancels
// the first, and the first's result (even if it races to complete) must
// never reach the caller as anything but Cancelled.
func TestProposalTaskRegistrySpawnCancelsPriorSameKey(t *testing.T) {
	reg := consensus.NewProposalTaskRegistry(4, nil)
	key := consensus.TaskKey{Round: 0, Kind: consensus.TaskBuild}

	started := make(chan struct{})
	reg.Spawn(key, func(ctx context.Context) (interface{}, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("first task never started")
	}

	reg.Spawn(key, func(ctx context.Context) (interface{}, error) {
		return "second", nil
	})

	first := <-reg.Completions()
	if !first.Cancelled {
		t.Fatalf("expected the first task to report cancelled, got %+v", first)
	}

	second := <-reg.Completions()
	if second.Cancelled {
		t.Fatal("second task should not be cancelled")
	}
	if second.Value != "second" {
		t.Fatalf("unexpected second task value: %+v", second.Value)
	}
}

// TestProposalTaskRegistryCancelRoundOnlyCancelsOlderRounds checks CancelRound's
// exact boundary: a round change cancels strictly older rounds, never the
// round being entered.
func TestProposalTaskRegistryCancelRoundOnlyCancelsOlderRounds(t *testing.T) {
	reg := consensus.NewProposalTaskRegistry(4, nil)

	oldKey := consensus.TaskKey{Round: 0, Kind: consensus.TaskBuild}
	newKey := consensus.TaskKey{Round: 1, Kind: consensus.TaskBuild}

	oldStarted := make(chan struct{})
	reg.Spawn(oldKey, func(ctx context.Context) (interface{}, error) {
		close(oldStarted)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	<-oldStarted

	newDone := make(chan struct{})
	reg.Spawn(newKey, func(ctx context.Context) (interface{}, error) {
		<-ctx.Done()
		close(newDone)
		return nil, ctx.Err()
	})

	reg.CancelRound(1)

	outcome := <-reg.Completions()
	if outcome.Key != oldKey {
		t.Fatalf("expected round 0's task to be cancelled first, got %+v", outcome.Key)
	}
	if !outcome.Cancelled {
		t.Fatal("round 0's task should be cancelled")
	}

	select {
	case <-newDone:
		t.Fatal("round 1's task should not have been cancelled by CancelRound(1)")
	case <-time.After(100 * time.Millisecond):
	}

	reg.CancelAll()
	outcome2 := <-reg.Completions()
	if outcome2.Key != newKey || !outcome2.Cancelled {
		t.Fatalf("expected round 1's task cancelled by CancelAll, got %+v", outcome2)
	}
}
