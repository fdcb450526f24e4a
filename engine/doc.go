// Package engine provides the low-level WebAssembly Component Model runtime.
//
// This package wraps the corevm interpreter (package vm) to provide
// Component Model semantics: canonical ABI type lifting/lowering, component
// and core-module decoding, and asyncify support for host calls that need
// to suspend.
//
// # Architecture
//
// The engine package provides three main types:
//
//	Engine   - owns the interpreter runtime shared by every Module
//	Module   - a decoded core module or single-core-module component, plus
//	           whatever host functions have been registered against its
//	           imports
//	Instance - a running module instance, created by Module.Instantiate
//
// # Instantiation Flow
//
//  1. Engine.LoadModule() decodes the binary, detecting component vs. core
//     module and building a canonical-ABI registry for the former
//  2. Module.RegisterHostFuncTyped(Async) binds Go functions to the
//     module's imports, either raw (core module) or through a
//     canon.LowerWrapper (component)
//  3. Module.Instantiate() resolves the remaining imports via a
//     linker.Linker and runs vm.Instantiate
//  4. Instance.Call/CallWithTypes/CallInto invoke exports
//
// # Canonical ABI
//
// The canonical ABI defines how WIT types map to WASM core types:
//
//	WIT Type        Core Representation    Flat Count
//	─────────────────────────────────────────────────
//	bool, u8-u32    i32                    1
//	u64, s64        i64                    1
//	f32             f32                    1
//	f64             f64                    1
//	string          (ptr, len) as i32×2    2
//	list<T>         (ptr, len) as i32×2    2
//	record          flattened fields       sum of fields
//	variant         (disc, payload)        1 + max(cases)
//	option<T>       variant with none/some varies
//	result<T,E>     variant with ok/err    varies
//
// When flat count exceeds MaxFlatParams (16) or MaxFlatResults (1), values
// are passed via linear memory using a return pointer (retptr). The actual
// lift/lower marshaling lives in package canon; this package only wires it
// to interpreter calls.
//
// # Asyncify Support
//
// Asyncify enables cooperative suspension in WASM. Modules compiled with
// wasm-opt --asyncify can suspend execution (unwind) and resume later
// (rewind).
//
// Usage:
//
//	if err := inst.EnableAsyncify(config); err != nil {
//	    log.Fatal(err)
//	}
//
//	// In a host function that needs to block:
//	asyncify := inst.Asyncify()
//	if asyncify.IsNormal(ctx) {
//	    asyncify.StartUnwind(ctx) // Save stack, return to caller
//	    return                    // Guest sees function return
//	}
//	// On rewind, execution continues here
//	asyncify.StopRewind(ctx)
//	// Perform actual work, return result
//
// WASI preview2 host bindings (package wasi/preview2) and their handle
// tables (linker.ResourceTable) sit above this package; engine itself knows
// nothing about any particular WIT interface.
//
// # Thread Safety
//
// Engine and Module are safe for concurrent use. Instance is NOT
// thread-safe and should be driven by a single goroutine.
//
// # Known Limitations
//
// Multi-core-module components (a component whose core instance graph links
// more than one core module together) are not supported; see
// Engine.LoadModule. Memory64 is not supported by the interpreter's
// vm.MemoryInstance, which addresses linear memory with uint32 offsets.
//
// Most users should use the runtime package for a simpler API. This package
// is for advanced use cases requiring direct control.
package engine
