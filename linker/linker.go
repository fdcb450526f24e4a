package linker

import (
	"fmt"
	"sync"

	"github.com/wasmforge/corevm/vm"
	"github.com/wasmforge/corevm/wasm"
)

// Options configures linker behavior.
type Options struct {
	AsyncifyImports   []string
	SemverMatching    bool
	AsyncifyTransform bool
}

// DefaultOptions returns default linker configuration.
func DefaultOptions() Options {
	return Options{
		SemverMatching: true,
	}
}

// Linker manages host function definitions and component instantiation.
// Thread-safe.
type Linker struct {
	runtime      *vm.Runtime
	root         *Namespace
	resolver     *Resolver
	hostModules  map[string]*vm.ModuleInstance
	options      Options
	mu           sync.RWMutex
	hostModuleMu sync.Mutex
}

// New creates a new Linker with the given vm runtime and options.
func New(rt *vm.Runtime, opts Options) *Linker {
	return &Linker{
		runtime:     rt,
		root:        NewNamespace(),
		options:     opts,
		hostModules: make(map[string]*vm.ModuleInstance),
	}
}

// NewWithDefaults creates a new Linker with default options.
func NewWithDefaults(rt *vm.Runtime) *Linker {
	return New(rt, DefaultOptions())
}

// Runtime returns the vm runtime backing this linker.
func (l *Linker) Runtime() *vm.Runtime {
	return l.runtime
}

// Options returns the configuration.
func (l *Linker) Options() Options {
	return l.options
}

// Root returns the root namespace.
func (l *Linker) Root() *Namespace {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.root
}

// Resolver returns the import resolver for registering named instances.
// Lazy-initialized on first call.
func (l *Linker) Resolver() *Resolver {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.resolver == nil {
		l.resolver = NewResolver(l)
	}
	return l.resolver
}

// Namespace returns or creates a namespace by path.
// Namespace accepts paths with versions: "wasi:io/streams@0.2.0"
// Nested paths are separated by "/": "wasi:io/streams@0.2.0/error"
func (l *Linker) Namespace(path string) *Namespace {
	l.mu.Lock()
	defer l.mu.Unlock()

	segments := parseNamespacePath(path)
	current := l.root

	for _, seg := range segments {
		name := seg.name
		if seg.version != nil {
			name += "@" + seg.version.String()
		}
		current = current.Instance(name)
	}

	return current
}

// DefineFunc is a convenience method to define a function at a full path.
// DefineFunc uses path format: "wasi:random/random@0.2.0#get-random-bytes"
func (l *Linker) DefineFunc(path string, fn vm.HostFunc, params, results []wasm.ValType) error {
	// Split into namespace path and function name
	nsPath, funcName, err := splitFuncPath(path)
	if err != nil {
		return fmt.Errorf("linker: define func %q: %w", path, err)
	}

	ns := l.Namespace(nsPath)
	ns.DefineFunc(funcName, fn, params, results)
	return nil
}

// Resolve looks up a function by full path with semver matching if enabled.
// Resolve uses path format: "wasi:io/streams@0.2.0#read"
func (l *Linker) Resolve(path string) *FuncDef {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.root.ResolveWithSemver(path, l.options.SemverMatching)
}

// splitFuncPath splits "ns/path#funcname" into namespace and function parts
func splitFuncPath(path string) (nsPath, funcName string, err error) {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '#' {
			return path[:i], path[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("linker: invalid function path %q: missing '#' separator", path)
}

// HostModuleBuilder builds a synthetic ModuleInstance whose exports are Go
// host functions (spec §6), standing in for a real *wasm.Module so the rest
// of instantiation treats host and guest imports uniformly.
type HostModuleBuilder struct {
	linker     *Linker
	namespace  *Namespace
	moduleName string
}

// NewHostModule starts building a host module with the given name.
// NewHostModule expects the full WIT interface path: "wasi:random/random@0.2.0"
func (l *Linker) NewHostModule(name string) *HostModuleBuilder {
	return &HostModuleBuilder{
		linker:     l,
		namespace:  l.Namespace(name),
		moduleName: name,
	}
}

// Func adds a function to the host module builder.
func (b *HostModuleBuilder) Func(name string, fn vm.HostFunc, params, results []wasm.ValType) *HostModuleBuilder {
	b.namespace.DefineFunc(name, fn, params, results)
	return b
}

// Build materializes the host module as a *vm.ModuleInstance whose Exports
// map resolves directly to FunctionInstance entries wrapping each Go
// handler — no bytecode involved, matching spec §6's HostFunc contract.
func (b *HostModuleBuilder) Build() (*vm.ModuleInstance, error) {
	return b.linker.getOrCreateHostModule(b.moduleName, func() (*vm.ModuleInstance, error) {
		funcs := b.namespace.AllFuncs()
		mod := &vm.ModuleInstance{
			Name:    b.moduleName,
			Exports: make(map[string]vm.ExportItem, len(funcs)),
		}
		for _, f := range funcs {
			idx := uint32(len(mod.Funcs))
			mod.Funcs = append(mod.Funcs, &vm.FunctionInstance{
				Type:   hostFuncType(f.ParamTypes, f.ResultTypes),
				Host:   f.Handler,
				Module: mod,
				Name:   f.Name,
			})
			mod.Exports[f.Name] = vm.ExportItem{Kind: wasm.KindFunc, Idx: idx}
		}
		return mod, nil
	})
}

func hostFuncType(params, results []wasm.ValType) vm.FuncType {
	ft := vm.FuncType{
		Params:  make([]vm.ValKind, len(params)),
		Results: make([]vm.ValKind, len(results)),
	}
	for i, p := range params {
		ft.Params[i] = vm.ValTypeToKind(p)
	}
	for i, r := range results {
		ft.Results[i] = vm.ValTypeToKind(r)
	}
	return ft
}

// getOrCreateHostModule atomically gets or creates a host module by name.
func (l *Linker) getOrCreateHostModule(name string, builder func() (*vm.ModuleInstance, error)) (*vm.ModuleInstance, error) {
	l.hostModuleMu.Lock()
	defer l.hostModuleMu.Unlock()

	if mod, ok := l.hostModules[name]; ok {
		return mod, nil
	}

	mod, err := builder()
	if err != nil {
		return nil, err
	}
	l.hostModules[name] = mod
	return mod, nil
}

// Close releases resources. Does not terminate the vm runtime.
func (l *Linker) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.root = NewNamespace()
	l.resolver = nil
	return nil
}
