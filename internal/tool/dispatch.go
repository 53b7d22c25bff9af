package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/opencode-ai/opencode/internal/ollmerr"
)

// DefaultParallelism is the tool-call concurrency cap used when a runtime
// doesn't configure one explicitly (spec §5: "a configurable parallelism
// cap", default picked at 4 since the source left it unspecified).
const DefaultParallelism = 4

// Call is one model-requested tool invocation awaiting dispatch.
type Call struct {
	ID     string // the provider's tool_call id, echoed back in DispatchResult
	Name   string
	Args   json.RawMessage
	Ctx    *Context
}

// DispatchResult pairs a Call back up with its outcome, in the same slice
// position it was submitted at — callers rely on index to restore calling
// order (spec §4.3: "order of results fed back to the model matches the
// order of calls in the model's output").
type DispatchResult struct {
	Call   Call
	Result *Result
	Err    error
}

// Dispatcher bounds concurrent tool execution to a fixed parallelism cap,
// grounded on internal/tool/batch.go's errgroup-based fan-out but using a
// weighted semaphore instead, since the caller here is C7's runtime
// dispatching a heterogeneous set of model-requested calls (not a single
// "batch" meta-tool call) and needs the cap enforced across the whole
// turn, not just within one batch invocation.
type Dispatcher struct {
	sem *semaphore.Weighted
}

// NewDispatcher creates a Dispatcher with the given parallelism cap.
func NewDispatcher(parallelism int) *Dispatcher {
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	return &Dispatcher{sem: semaphore.NewWeighted(int64(parallelism))}
}

// Dispatch validates and executes every call against registry, bounded by
// the dispatcher's parallelism cap, and returns results in call order.
// Validation failures (ollmerr.ToolBadArgs) and unknown tools
// (ollmerr.ToolInternal) short-circuit that call's execution but never
// the rest of the batch — one bad call must not block its siblings.
func (d *Dispatcher) Dispatch(ctx context.Context, registry *Registry, calls []Call) []DispatchResult {
	results := make([]DispatchResult, len(calls))
	done := make(chan int, len(calls))

	for i, call := range calls {
		i, call := i, call
		if err := d.sem.Acquire(ctx, 1); err != nil {
			results[i] = DispatchResult{Call: call, Err: ollmerr.Wrap(ollmerr.Cancelled, "dispatch cancelled before tool ran", err)}
			done <- i
			continue
		}
		go func() {
			defer d.sem.Release(1)
			defer func() { done <- i }()
			results[i] = d.runOne(ctx, registry, call)
		}()
	}

	for range calls {
		<-done
	}
	return results
}

func (d *Dispatcher) runOne(ctx context.Context, registry *Registry, call Call) (res DispatchResult) {
	// A panic inside a tool implementation must surface as a normal
	// result (error_kind = internal), not crash the turn (spec §4.3).
	defer func() {
		if r := recover(); r != nil {
			res = DispatchResult{Call: call, Err: ollmerr.Wrap(ollmerr.ToolInternal, fmt.Sprintf("tool %s panicked: %v", call.Name, r), nil)}
		}
	}()

	t, ok := registry.Get(call.Name)
	if !ok {
		return DispatchResult{Call: call, Err: ollmerr.Wrap(ollmerr.ToolInternal, fmt.Sprintf("unknown tool %q", call.Name), nil)}
	}

	if err := ValidateArgs(t, call.Args); err != nil {
		return DispatchResult{Call: call, Err: err}
	}

	result, err := t.Execute(ctx, call.Args, call.Ctx)
	if err != nil {
		return DispatchResult{Call: call, Err: ollmerr.Wrap(ollmerr.ToolError, fmt.Sprintf("tool %s failed", call.Name), err)}
	}
	if result != nil && result.TimedOut {
		return DispatchResult{Call: call, Result: result, Err: ollmerr.Wrap(ollmerr.ToolTimeout, fmt.Sprintf("tool %s timed out", call.Name), nil)}
	}
	return DispatchResult{Call: call, Result: result}
}
