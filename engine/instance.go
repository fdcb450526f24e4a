package engine

import (
	"context"
	"fmt"

	"go.bytecodealliance.org/wit"

	"github.com/wasmforge/corevm/canon"
	"github.com/wasmforge/corevm/component"
	"github.com/wasmforge/corevm/vm"
)

// Instance is the result of instantiating a Module on the interpreter: a
// live vm.ModuleInstance plus whatever asyncify state has been wired up
// for host calls that need to suspend.
type Instance struct {
	module *Module
	rt     *vm.Runtime
	mod    *vm.ModuleInstance

	asyncify  *Asyncify
	scheduler *Scheduler
}

// Close tears down the instance. The interpreter has no per-instance
// teardown beyond letting the ModuleInstance go out of scope; Close exists
// for API parity with callers that defer a cleanup step.
func (inst *Instance) Close(context.Context) error { return nil }

// Module returns the instance's owning Module.
func (inst *Instance) Module() *Module { return inst.module }

// ModuleInstance exposes the underlying interpreter module instance for
// callers that need direct vm access (e.g. asyncify wiring, tests).
func (inst *Instance) ModuleInstance() *vm.ModuleInstance { return inst.mod }

// GetExportedFunction returns the raw exported function instance, or nil if
// name is not an exported function. For components this is the core wasm
// export backing a lift, not the component-level name.
func (inst *Instance) GetExportedFunction(name string) *vm.FunctionInstance {
	return inst.mod.ExportedFunc(name)
}

// MemorySize returns the size in bytes of the named exported memory, or 0
// if it does not exist.
func (inst *Instance) MemorySize(name string) uint32 {
	mem := inst.mod.ExportedMemory(name)
	if mem == nil {
		return 0
	}
	return mem.Size()
}

// Call invokes a component export (when the module decoded as a component)
// or a core module export by name, lowering args and lifting results through
// the canonical ABI in the component case, or passing them through as
// core-wasm numerics otherwise.
func (inst *Instance) Call(ctx context.Context, name string, args ...any) (any, error) {
	if inst.module.canonRegistry != nil {
		lift := inst.module.FindLift(name)
		if lift == nil {
			return nil, fmt.Errorf("engine: no export named %q", name)
		}
		return inst.CallWithTypes(ctx, name, lift.Params, lift.Results, args...)
	}
	return inst.callCore(ctx, name, args...)
}

// CallWithTypes invokes a component export with explicit WIT parameter and
// result types, bypassing the registry lookup Call otherwise performs. Use
// this when the caller already knows the signature (e.g. a lift whose name
// collides with another export, or a synthesized call not present in the
// component's own lift table).
func (inst *Instance) CallWithTypes(ctx context.Context, name string, params, results []wit.Type, args ...any) (any, error) {
	lift := inst.module.FindLift(name)
	fn := inst.resolveLiftFunc(lift, name)
	if fn == nil {
		return nil, fmt.Errorf("engine: export %q has no backing core function", name)
	}
	return canon.CallExport(ctx, inst.rt, inst.mod, fn, params, results, args...)
}

// CallInto invokes name the same way as Call, then stores the single result
// into result, which must be a non-nil pointer.
func (inst *Instance) CallInto(ctx context.Context, name string, result any, args ...any) error {
	v, err := inst.Call(ctx, name, args...)
	if err != nil {
		return err
	}
	return assignInto(result, v)
}

func (inst *Instance) resolveLiftFunc(lift *component.LiftDef, name string) *vm.FunctionInstance {
	if lift != nil {
		if int(lift.CoreFuncIdx) < len(inst.mod.Funcs) {
			return inst.mod.Funcs[lift.CoreFuncIdx]
		}
		return inst.mod.ExportedFunc(lift.Name)
	}
	return inst.mod.ExportedFunc(name)
}

// callCore invokes a plain core-module export with numeric-only arguments
// and results, with no canonical ABI lifting.
func (inst *Instance) callCore(ctx context.Context, name string, args ...any) (any, error) {
	fn := inst.mod.ExportedFunc(name)
	if fn == nil {
		return nil, fmt.Errorf("engine: no export named %q", name)
	}
	inputs := make([]vm.Value, len(args))
	for i, a := range args {
		v, err := coreValueFrom(a)
		if err != nil {
			return nil, fmt.Errorf("engine: arg %d: %w", i, err)
		}
		inputs[i] = v
	}
	outputs, err := inst.rt.Call(ctx, fn, inputs)
	if err != nil {
		return nil, err
	}
	results := make([]any, len(outputs))
	for i, v := range outputs {
		results[i] = coreValueTo(v, fn.Type.Results[i])
	}
	return singleOrSliceAny(results), nil
}

// coreValueFrom converts a Go numeric into a vm.Value, inferring the flat
// kind from the Go type itself (int32/uint32 -> i32, int64/uint64 -> i64,
// float32 -> f32, float64 -> f64) since a raw core-module call carries no
// WIT type information to consult.
func coreValueFrom(a any) (vm.Value, error) {
	switch v := a.(type) {
	case int32:
		return vm.I32(v), nil
	case uint32:
		return vm.I32(int32(v)), nil
	case int64:
		return vm.I64(v), nil
	case uint64:
		return vm.I64(int64(v)), nil
	case int:
		return vm.I32(int32(v)), nil
	case float32:
		return vm.F32(v), nil
	case float64:
		return vm.F64(v), nil
	default:
		return vm.Value{}, fmt.Errorf("unsupported core call argument type %T", a)
	}
}

func coreValueTo(v vm.Value, rt vm.ValKind) any {
	switch rt.Kind {
	case vm.KindI64:
		return v.I64()
	case vm.KindF32:
		return v.F32()
	case vm.KindF64:
		return v.F64()
	default:
		return v.I32()
	}
}

func assignInto(result, v any) error {
	switch p := result.(type) {
	case *any:
		*p = v
		return nil
	case *string:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("engine: CallInto: result is %T, not string", v)
		}
		*p = s
		return nil
	default:
		return fmt.Errorf("engine: CallInto: unsupported result pointer type %T", result)
	}
}

func singleOrSliceAny(results []any) any {
	switch len(results) {
	case 0:
		return nil
	case 1:
		return results[0]
	default:
		return results
	}
}

// EnableAsyncify wires the Binaryen asyncify protocol against this
// instance's exported memory and asyncify_* exports, so a later host call
// can suspend mid-execution via Scheduler.
func (inst *Instance) EnableAsyncify(cfg AsyncifyConfig) error {
	a := NewAsyncify()
	if cfg.StackSize != 0 {
		a.SetStackSize(cfg.StackSize)
	}
	if cfg.DataAddr != 0 {
		a.SetDataAddr(cfg.DataAddr)
	}
	if err := a.Init(inst.rt, inst.mod); err != nil {
		return err
	}
	inst.asyncify = a
	inst.scheduler = NewScheduler(a)
	return nil
}

// Asyncify returns the instance's asyncify state, or nil if EnableAsyncify
// was never called.
func (inst *Instance) Asyncify() *Asyncify { return inst.asyncify }

// Scheduler returns the instance's async call scheduler, or nil if
// EnableAsyncify was never called.
func (inst *Instance) Scheduler() *Scheduler { return inst.scheduler }

// RunAsync drives name to completion, stepping the scheduler across any
// number of suspend/resume cycles and returning the final flat results.
func (inst *Instance) RunAsync(ctx context.Context, name string, args ...uint64) ([]uint64, error) {
	if inst.scheduler == nil {
		return nil, fmt.Errorf("engine: asyncify not enabled on this instance")
	}
	fn := inst.mod.ExportedFunc(name)
	if fn == nil {
		return nil, fmt.Errorf("engine: no export named %q", name)
	}
	return inst.scheduler.Run(ctx, inst.rt, fn, args...)
}
