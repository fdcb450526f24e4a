// Package linker resolves WebAssembly Component Model imports into host
// functions and wires them onto the corevm interpreter (package vm).
//
// # Main Types
//
//   - Linker: a namespace tree of host function definitions, with semver
//     matching (wasi:clocks/monotonic-clock@0.2.3 satisfies an import
//     requiring @0.2.0)
//   - Namespace: one node of that tree, e.g. "wasi:io/streams@0.2.0"
//   - Resolver: maps named instances (VirtualInstance or a real
//     vm.ModuleInstance) to the exports a component import graph requests
//   - ResourceStore/ResourceTable: the handle tables backing WIT resources
//
// A component's own core module instantiation runs through
// engine.Module.Instantiate, which resolves each function import against a
// Linker built from the host functions registered on that Module. This
// package only covers host-side wiring; it does not link multiple core
// modules together.
//
// # Thread Safety
//
// Linker and Resolver are safe for concurrent use.
//
// # Import Resolution Order
//
//  1. Resolver (VirtualInstance or pre-instantiated Module)
//  2. Linker namespace bindings
//  3. Error on unresolved imports
//
// # Example
//
//	l := linker.NewWithDefaults(rt)
//	l.Namespace("wasi:clocks/monotonic-clock@0.2.3").DefineFunc("now", nowFn, params, results)
//	def := l.Resolve("wasi:clocks/monotonic-clock@0.2.0#now")
package linker
