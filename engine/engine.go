// Package engine wraps the corevm interpreter (package vm) to provide
// Component Model semantics: canonical ABI lifting/lowering of host
// functions and component exports, component/core-module decoding, and
// asyncify-based suspension for host calls that need to yield.
//
//	Engine   - owns the interpreter runtime and decodes/links modules
//	Module   - a decoded core module or single-core-module component,
//	           plus any host functions registered against its imports
//	Instance - the result of instantiating a Module on the interpreter
package engine

import (
	"context"
	"fmt"

	"github.com/wasmforge/corevm/component"
	"github.com/wasmforge/corevm/linker"
	"github.com/wasmforge/corevm/transcoder"
	"github.com/wasmforge/corevm/vm"
	"github.com/wasmforge/corevm/wasm"
)

// Engine owns the interpreter runtime shared by every Module it loads.
type Engine struct {
	rt *vm.Runtime
}

// Config holds configuration for engine creation.
type Config struct {
	// CostLimit caps dispatcher iterations per top-level call; 0 means
	// unlimited. See vm.RuntimeConfig.
	CostLimit uint64
}

// New creates an engine with default configuration.
func New(ctx context.Context) (*Engine, error) {
	return NewWithConfig(ctx, nil)
}

// NewWithConfig creates an engine with custom configuration.
func NewWithConfig(_ context.Context, cfg *Config) (*Engine, error) {
	rtCfg := vm.RuntimeConfig{Logger: Logger()}
	if cfg != nil {
		rtCfg.CostLimit = cfg.CostLimit
	}
	return &Engine{rt: vm.NewRuntime(rtCfg)}, nil
}

// Runtime returns the interpreter runtime backing this engine.
func (e *Engine) Runtime() *vm.Runtime { return e.rt }

func (e *Engine) Close(context.Context) error {
	e.rt.Terminate()
	return nil
}

// CompileConfig holds configuration for pre-compilation. Kept for API
// parity; the interpreter has no separate ahead-of-time compile stage
// beyond decoding, so Module.Compile is a validation pass.
type CompileConfig struct{}

// InstanceConfig holds configuration for module instantiation.
type InstanceConfig struct {
	Name            string
	AsyncifyImports []string
	EnableAsyncify  bool
}

// LoadModule decodes wasmBytes, which may be a core WebAssembly module or a
// single-core-module Component Model binary. Multi-core-module components
// (real inter-instance linking via a component's core instance graph) are
// out of scope for this interpreter; see DESIGN.md.
func (e *Engine) LoadModule(_ context.Context, wasmBytes []byte) (*Module, error) {
	compiler := transcoder.NewCompiler()
	m := &Module{
		engine:    e,
		compiler:  compiler,
		hostFuncs: make(map[string]*hostFuncEntry),
		rawBytes:  wasmBytes,
	}

	if component.IsComponent(wasmBytes) {
		comp, err := component.DecodeWithOptions(wasmBytes, component.DecodeOptions{})
		if err != nil {
			return nil, fmt.Errorf("decode component: %w", err)
		}
		if len(comp.CoreModules) == 0 {
			return nil, fmt.Errorf("component has no core modules")
		}
		if len(comp.CoreModules) > 1 || len(comp.CoreInstances) > 0 {
			return nil, fmt.Errorf("multi-core-module components are not supported by this interpreter (component declares %d core modules, %d core instances)",
				len(comp.CoreModules), len(comp.CoreInstances))
		}

		typeResolver := component.NewTypeResolverWithInstances(comp.TypeIndexSpace, comp.InstanceTypes)
		canonRegistry, err := component.NewCanonRegistry(comp, typeResolver)
		if err != nil {
			return nil, fmt.Errorf("build canon registry: %w", err)
		}

		coreModule, err := wasm.ParseModule(comp.CoreModules[0])
		if err != nil {
			return nil, fmt.Errorf("decode core module: %w", err)
		}

		m.isComponent = true
		m.component = comp
		m.canonRegistry = canonRegistry
		m.typeResolver = typeResolver
		m.coreModule = coreModule
		return m, nil
	}

	coreModule, err := wasm.ParseModule(wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("decode module: %w", err)
	}
	m.coreModule = coreModule
	return m, nil
}

// linkerFor builds a fresh *linker.Linker carrying every host function
// registered on m, keyed the same way the core module's own import section
// names them (module == WIT namespace, field == function name).
func (m *Module) linkerFor() (*linker.Linker, error) {
	l := linker.NewWithDefaults(m.engine.rt)
	for _, hf := range m.hostFuncs {
		ns := l.Namespace(hf.Namespace)
		ns.DefineFunc(hf.Name, hf.HostFunc(), hf.ParamTypes, hf.ResultTypes)
	}
	return l, nil
}
