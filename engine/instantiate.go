package engine

import (
	"context"
	"fmt"

	"github.com/wasmforge/corevm/vm"
	"github.com/wasmforge/corevm/wasm"
)

// Instantiate instantiates m with default configuration.
func (m *Module) Instantiate(ctx context.Context) (*Instance, error) {
	return m.InstantiateWithConfig(ctx, nil)
}

// InstantiateWithConfig resolves m's function imports against its registered
// host functions, instantiates the core module on the interpreter, and
// optionally wires up asyncify against the resulting guest memory.
func (m *Module) InstantiateWithConfig(ctx context.Context, cfg *InstanceConfig) (*Instance, error) {
	if m.coreModule == nil {
		return nil, fmt.Errorf("module not decoded")
	}

	instName := ""
	if cfg != nil {
		instName = cfg.Name
	}

	l, err := m.linkerFor()
	if err != nil {
		return nil, fmt.Errorf("build linker: %w", err)
	}

	imports := vm.NewImports()
	var hostFns []*vm.FunctionInstance
	for _, imp := range m.coreModule.Imports {
		if imp.Desc.Kind != wasm.KindFunc {
			continue
		}
		def := l.Resolve(imp.Module + "#" + imp.Name)
		if def == nil {
			return nil, fmt.Errorf("unresolved function import %s.%s: no host function registered", imp.Module, imp.Name)
		}
		ft := vm.FuncType{
			Params:  make([]vm.ValKind, len(def.ParamTypes)),
			Results: make([]vm.ValKind, len(def.ResultTypes)),
		}
		for i, pt := range def.ParamTypes {
			ft.Params[i] = vm.ValTypeToKind(pt)
		}
		for i, rtType := range def.ResultTypes {
			ft.Results[i] = vm.ValTypeToKind(rtType)
		}
		fn := &vm.FunctionInstance{
			Type: ft,
			Host: def.Handler,
			Name: imp.Module + "#" + imp.Name,
		}
		imports.AddFunc(imp.Module, imp.Name, fn)
		hostFns = append(hostFns, fn)
	}

	modInst, err := vm.Instantiate(ctx, m.engine.rt, m.coreModule, instName, imports)
	if err != nil {
		return nil, fmt.Errorf("instantiate: %w", err)
	}

	// Host functions see the calling guest's memory through
	// CallingFrame.Module, which dispatch.callHost populates from
	// fn.Module — bind it to the just-built instance now that it exists,
	// since Imports has to be assembled before Instantiate creates it.
	for _, fn := range hostFns {
		fn.Module = modInst
	}

	inst := &Instance{
		module: m,
		rt:     m.engine.rt,
		mod:    modInst,
	}

	if cfg != nil && cfg.EnableAsyncify {
		if err := inst.EnableAsyncify(AsyncifyConfig{}); err != nil {
			return nil, fmt.Errorf("enable asyncify: %w", err)
		}
	}

	return inst, nil
}
