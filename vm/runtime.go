package vm

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
)

// RuntimeConfig configures a Runtime (ambient configuration concern, per
// SPEC_FULL.md §2).
type RuntimeConfig struct {
	// Logger is the diagnostic sink every trap is emitted to (spec §6).
	// Defaults to zap.NewNop() if nil.
	Logger *zap.Logger
	// CostLimit, if non-zero, caps the number of dispatcher iterations per
	// top-level Call before CostLimitExceeded traps — a coarse interpreter
	// fuel mechanism independent of the host's own deadline handling.
	CostLimit uint64
}

// Runtime is the root object owning process-wide (per spec §4.8/§9: "owned
// by the runtime root, not a language-level global") shared state: the
// waiter registry and the cooperative stop token (spec §5).
type Runtime struct {
	Waiters *WaiterRegistry
	stop    atomic.Bool
	logger  *zap.Logger
	cost    uint64
}

func NewRuntime(cfg RuntimeConfig) *Runtime {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runtime{
		Waiters: NewWaiterRegistry(),
		logger:  logger,
		cost:    cfg.CostLimit,
	}
}

// Terminate sets the stop token; in-flight memory.atomic.wait* calls return
// Interrupted at their next wakeup (spec §5), and the dispatcher checks the
// token at each function return.
func (r *Runtime) Terminate() {
	r.stop.Store(true)
	r.Waiters.Stop()
}

func (r *Runtime) Terminated() bool { return r.stop.Load() }

func (r *Runtime) Logger() *zap.Logger { return r.logger }

// Call invokes fn with args on a fresh Stack, running the dispatcher to
// completion (return past the initial frame) or trap. This is the seam
// described in spec §2's data flow: "a caller invokes an exported function;
// the StackManager is primed with arguments and the Instruction dispatcher
// walks the function's instruction vector."
func (r *Runtime) Call(ctx context.Context, fn *FunctionInstance, args []Value) ([]Value, error) {
	if fn.IsHost() {
		outputs := make([]Value, len(fn.Type.Results))
		frame := &CallingFrame{Module: fn.Module, rt: r}
		if err := fn.Host(frame, args, outputs); err != nil {
			return nil, err
		}
		return outputs, nil
	}
	stack := NewStack()
	d := &dispatcher{rt: r, stack: stack, ctx: ctx}
	return d.callFunction(fn, args)
}
