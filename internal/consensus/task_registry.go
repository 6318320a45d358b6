package consensus

import (
	"context"
	"sync"

	"github.com/echenim/Bedrock/controlplane/internal/telemetry"
)

// TaskOutcome is the result folded back into the SHC's event loop when a
// spawned build or validate task completes, whether normally or by
// cancellation.
type TaskOutcome struct {
	Key       TaskKey
	Cancelled bool
	Value     interface{}
	Err       error
}

// taskHandle is what spawn returns: a cancellation signal the task body is
// expected to observe at its next suspension point.
type taskHandle struct {
	cancel context.CancelFunc
}

// ProposalTaskRegistry tracks in-flight build/validate tasks for one height,
// keyed by (round, kind). At most one task per key; spawning a second for
// the same key cancels the first. Results are delivered through a single
// completion channel in FIFO-of-completion order, not spawn order, per §4.4.
type ProposalTaskRegistry struct {
	mu      sync.Mutex
	tasks   map[TaskKey]*taskHandle
	outcome chan TaskOutcome
	metrics *telemetry.Metrics
}

// NewProposalTaskRegistry creates an empty registry with the given
// completion channel buffer size. A nil metrics disables telemetry hooks.
func NewProposalTaskRegistry(bufSize int, metrics *telemetry.Metrics) *ProposalTaskRegistry {
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	return &ProposalTaskRegistry{
		tasks:   make(map[TaskKey]*taskHandle),
		outcome: make(chan TaskOutcome, bufSize),
		metrics: metrics,
	}
}

// Spawn registers fn under key and runs it in its own goroutine. fn must
// observe ctx.Done() at its next suspension point and return promptly with
// ctx.Err() once cancelled. The task's result (or cancellation) is posted to
// Completions().
func (r *ProposalTaskRegistry) Spawn(key TaskKey, fn func(ctx context.Context) (interface{}, error)) {
	r.mu.Lock()
	if existing, ok := r.tasks[key]; ok {
		existing.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	handle := &taskHandle{cancel: cancel}
	r.tasks[key] = handle
	r.mu.Unlock()

	go func() {
		value, err := fn(ctx)
		cancelled := ctx.Err() != nil
		if cancelled {
			r.metrics.TasksCancelled.Inc()
		}

		r.mu.Lock()
		if r.tasks[key] == handle {
			delete(r.tasks, key)
		}
		r.mu.Unlock()

		r.outcome <- TaskOutcome{Key: key, Cancelled: cancelled, Value: value, Err: err}
	}()
}

// CancelRound cancels every task whose round is strictly less than
// currentRound. Cancellation is observed cooperatively: the task itself
// decides when to stop. Its outcome still reaches Completions(), with
// Cancelled set, so the consumer sees the cancellation before it uses the
// value.
func (r *ProposalTaskRegistry) CancelRound(currentRound uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, h := range r.tasks {
		if key.Round < currentRound {
			h.cancel()
		}
	}
}

// CancelAll cancels every outstanding task. Called when the SHC is dropped
// (decision reached or sync overtook the height); no task may outlive its
// registry.
func (r *ProposalTaskRegistry) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.tasks {
		h.cancel()
	}
}

// Completions returns the channel the SHC selects on for completed (or
// cancelled) task outcomes.
func (r *ProposalTaskRegistry) Completions() <-chan TaskOutcome {
	return r.outcome
}
