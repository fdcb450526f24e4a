package runtime

import (
	"context"

	"go.bytecodealliance.org/wit"

	"github.com/wasmforge/corevm/engine"
	"github.com/wasmforge/corevm/errors"
)

type Instance struct {
	module *Module
	inst   *engine.Instance
}

// Call invokes an exported function with automatic type inference.
// Requires either a component or WIT definitions; use CallWithTypes for
// native WASM without WIT.
func (i *Instance) Call(ctx context.Context, name string, args ...any) (any, error) {
	if i.module == nil {
		return nil, errors.NotInitialized(errors.PhaseRuntime, "module")
	}
	if i.module.isComponent {
		return i.inst.Call(ctx, name, args...)
	}

	if i.module.witText != "" {
		params, results, err := i.module.GetFunctionTypes(name)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseRuntime, errors.KindNotFound, err, "get function types from WIT")
		}
		return i.inst.CallWithTypes(ctx, name, params, results, args...)
	}

	return nil, errors.InvalidInput(errors.PhaseRuntime, "Call() requires a component or WIT definitions; use CallWithTypes() for native WASM without WIT")
}

// CallWithTypes invokes an exported function with explicit WIT types.
func (i *Instance) CallWithTypes(ctx context.Context, name string, params, results []wit.Type, args ...any) (any, error) {
	return i.inst.CallWithTypes(ctx, name, params, results, args...)
}

// CallInto decodes results directly into result without intermediate allocation.
// result must be a pointer. For strings, the result references WASM memory and
// is only valid while the instance is alive.
func (i *Instance) CallInto(ctx context.Context, name string, params, results []wit.Type, result any, args ...any) error {
	v, err := i.inst.CallWithTypes(ctx, name, params, results, args...)
	if err != nil {
		return err
	}
	return assignCallResult(result, v)
}

func (i *Instance) Close(ctx context.Context) error {
	return i.inst.Close(ctx)
}

// EnableAsyncify initializes asyncify support.
// The module must have been compiled with wasm-opt --asyncify.
func (i *Instance) EnableAsyncify(config engine.AsyncifyConfig) error {
	return i.inst.EnableAsyncify(config)
}

func (i *Instance) Asyncify() *engine.Asyncify {
	return i.inst.Asyncify()
}

func (i *Instance) Scheduler() *engine.Scheduler {
	return i.inst.Scheduler()
}

// StartCall creates a step-based call session for async scheduler integration.
func (i *Instance) StartCall(ctx context.Context, name string, args ...any) (*CallSession, error) {
	session, err := i.inst.StartCall(ctx, name, args...)
	if err != nil {
		return nil, err
	}
	return &CallSession{session: session}, nil
}

// RunAsync executes a function with asyncify event loop support.
func (i *Instance) RunAsync(ctx context.Context, name string, args ...uint64) ([]uint64, error) {
	return i.inst.RunAsync(ctx, name, args...)
}

// GetExportedFunction returns the raw exported function instance, or nil if not found.
func (i *Instance) GetExportedFunction(name string) any {
	fn := i.inst.GetExportedFunction(name)
	if fn == nil {
		return nil
	}
	return fn
}

func assignCallResult(result, v any) error {
	switch p := result.(type) {
	case *any:
		*p = v
		return nil
	case *string:
		s, ok := v.(string)
		if !ok {
			return errors.New(errors.PhaseRuntime, errors.KindTypeMismatch).
				Detail("CallInto result is not a string").
				Build()
		}
		*p = s
		return nil
	default:
		return errors.New(errors.PhaseRuntime, errors.KindTypeMismatch).
			Detail("unsupported CallInto result pointer type").
			Build()
	}
}
