package engine

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/wasmforge/corevm/canon"
	"github.com/wasmforge/corevm/component"
	"github.com/wasmforge/corevm/linker"
	"github.com/wasmforge/corevm/transcoder"
	"github.com/wasmforge/corevm/vm"
	"github.com/wasmforge/corevm/wasm"
)

// Module is a decoded core module or single-core-module component, with
// whatever host functions have been registered against its imports.
type Module struct {
	engine        *Engine
	coreModule    *wasm.Module
	component     *component.Component
	canonRegistry *component.CanonRegistry
	typeResolver  *component.TypeResolver
	compiler      *transcoder.Compiler
	hostFuncs     map[string]*hostFuncEntry
	rawBytes      []byte
	isComponent   bool
}

// hostFuncEntry is a registered Go host function, bound either to a canon
// lower definition (component imports) or directly by its own Go signature
// (core module imports, which carry no WIT type metadata).
type hostFuncEntry struct {
	Namespace   string
	Name        string
	Handler     any
	Wrapper     *canon.LowerWrapper
	Raw         vm.HostFunc
	ParamTypes  []wasm.ValType
	ResultTypes []wasm.ValType
	IsAsync     bool
}

func (hf *hostFuncEntry) HostFunc() vm.HostFunc {
	if hf.Wrapper != nil {
		return hf.Wrapper.BuildHostFunc()
	}
	return hf.Raw
}

func (m *Module) IsComponent() bool { return m.isComponent }

// Compile is a validation pass; the interpreter decodes eagerly in
// LoadModule, so this only reports whether the module is ready to
// instantiate.
func (m *Module) Compile(context.Context, *CompileConfig) error {
	if m.coreModule == nil {
		return fmt.Errorf("module not decoded")
	}
	return nil
}

// RegisterHostFuncTyped registers a typed Go function against namespace#name.
// For components, the signature is validated against the canon lower
// definition the WIT import describes. For core modules (no component
// metadata), the signature is inferred from handler's own Go types.
func (m *Module) RegisterHostFuncTyped(namespace, name string, handler any) error {
	return m.registerHostFunc(namespace, name, handler, false)
}

func (m *Module) RegisterHostFuncTypedAsync(namespace, name string, handler any) error {
	return m.registerHostFunc(namespace, name, handler, true)
}

func (m *Module) registerHostFunc(namespace, name string, handler any, async bool) error {
	key := namespace + "::" + name

	if m.canonRegistry == nil {
		paramTypes, resultTypes, raw, err := buildCoreHostFunc(handler)
		if err != nil {
			return fmt.Errorf("register core host func %s#%s: %w", namespace, name, err)
		}
		m.hostFuncs[key] = &hostFuncEntry{
			Namespace: namespace, Name: name, Handler: handler,
			Raw: raw, ParamTypes: paramTypes, ResultTypes: resultTypes, IsAsync: async,
		}
		return nil
	}

	lowerDef := m.findLowerDef(namespace, name)
	if lowerDef == nil {
		if isResourceDropImport(name) {
			raw, err := buildResourceDropFunc(handler)
			if err != nil {
				return fmt.Errorf("create resource-drop wrapper: %w", err)
			}
			m.hostFuncs[key] = &hostFuncEntry{
				Namespace: namespace, Name: name, Handler: handler,
				Raw:         raw,
				ParamTypes:  []wasm.ValType{wasm.ValI32},
				ResultTypes: nil,
			}
			return nil
		}
		return fmt.Errorf("no canon lower found for import %q#%s", namespace, name)
	}

	wrapper, err := canon.NewLowerWrapper(lowerDef, handler, Logger())
	if err != nil {
		return fmt.Errorf("create wrapper: %w", err)
	}
	if err := wrapper.ValidateHandler(); err != nil {
		return fmt.Errorf("handler validation: %w", err)
	}

	m.hostFuncs[key] = &hostFuncEntry{
		Namespace: namespace, Name: name, Handler: handler,
		Wrapper: wrapper, IsAsync: async,
	}
	return nil
}

// AsyncifyImports returns the list of import names ("namespace#name") that
// require asyncify transformation.
func (m *Module) AsyncifyImports() []string {
	var imports []string
	for _, hf := range m.hostFuncs {
		if hf.IsAsync {
			imports = append(imports, hf.Namespace+"#"+hf.Name)
		}
	}
	return imports
}

// findLowerDef resolves a registered namespace/name to a canon lower
// definition, trying exact name variants first and falling back to
// semver-compatible namespace matching (host at X.Y.Z satisfies an import
// requiring X.Y.W for W <= Z), mirroring linker.Namespace's own semver rule.
func (m *Module) findLowerDef(namespace, name string) *component.LowerDef {
	nameVariants := []string{name}
	if witName := kebabToWitName(name); witName != name {
		nameVariants = append(nameVariants, witName)
	}

	for _, n := range nameVariants {
		if lowerDef := m.canonRegistry.FindLower(namespace + "#" + n); lowerDef != nil {
			return lowerDef
		}
		if lowerDef := m.canonRegistry.FindLower(n); lowerDef != nil {
			return lowerDef
		}
	}

	hostBase, hostVersion, hasHostVersion := parseNamespaceVersion(namespace)
	if !hasHostVersion {
		return nil
	}

	for _, lowerDef := range m.canonRegistry.AllLowers() {
		lowerNs, lowerFunc := splitLowerName(lowerDef.Name)
		if lowerNs == "" {
			continue
		}
		matched := false
		for _, n := range nameVariants {
			if lowerFunc == n {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		compBase, compVersion, hasCompVersion := parseNamespaceVersion(lowerNs)
		if !hasCompVersion {
			continue
		}
		if hostBase == compBase && hostVersion.Compatible(compVersion) {
			return lowerDef
		}
	}
	return nil
}

func parseNamespaceVersion(namespace string) (basePath string, version linker.Version, hasVersion bool) {
	idx := strings.LastIndexByte(namespace, '@')
	if idx == -1 {
		return namespace, linker.Version{}, false
	}
	basePath = namespace[:idx]
	version, hasVersion = linker.ParseVersion(namespace[idx+1:])
	return basePath, version, hasVersion
}

func splitLowerName(name string) (namespace, funcName string) {
	idx := strings.LastIndexByte(name, '#')
	if idx == -1 {
		return "", name
	}
	return name[:idx], name[idx+1:]
}

func isResourceDropImport(name string) bool {
	return strings.HasPrefix(name, "[resource-drop]")
}

// buildResourceDropFunc wraps a resource-drop handler (uint32 handle in, no
// result) as a raw vm.HostFunc; resource drops live in core function space,
// not canon lower space, so they bypass LowerWrapper entirely.
func buildResourceDropFunc(handler any) (vm.HostFunc, error) {
	switch h := handler.(type) {
	case func(context.Context, uint32):
		return func(_ *vm.CallingFrame, inputs []vm.Value, _ []vm.Value) error {
			var handle uint32
			if len(inputs) > 0 {
				handle = inputs[0].U32()
			}
			h(context.Background(), handle)
			return nil
		}, nil
	case func(uint32):
		return func(_ *vm.CallingFrame, inputs []vm.Value, _ []vm.Value) error {
			var handle uint32
			if len(inputs) > 0 {
				handle = inputs[0].U32()
			}
			h(handle)
			return nil
		}, nil
	}
	return nil, fmt.Errorf("resource-drop handler must be func(uint32) or func(context.Context, uint32), got %T", handler)
}

// buildCoreHostFunc wraps a Go function as a raw vm.HostFunc for a core
// module import with no WIT metadata. Supported Go parameter/result types
// are the core wasm numeric types (int32/uint32/int64/uint64/float32/
// float64); an optional leading context.Context parameter is supported but
// does not consume a flat core wasm slot.
func buildCoreHostFunc(handler any) (paramTypes, resultTypes []wasm.ValType, fn vm.HostFunc, err error) {
	rv := reflect.ValueOf(handler)
	if rv.Kind() != reflect.Func {
		return nil, nil, nil, fmt.Errorf("handler must be a function, got %T", handler)
	}
	rt := rv.Type()

	hasCtx := rt.NumIn() > 0 && rt.In(0) == reflect.TypeOf((*context.Context)(nil)).Elem()
	goParamStart := 0
	if hasCtx {
		goParamStart = 1
	}

	for i := goParamStart; i < rt.NumIn(); i++ {
		vt, err := goKindToValType(rt.In(i).Kind())
		if err != nil {
			return nil, nil, nil, fmt.Errorf("param %d: %w", i, err)
		}
		paramTypes = append(paramTypes, vt)
	}
	for i := 0; i < rt.NumOut(); i++ {
		if rt.Out(i) == reflect.TypeOf((*error)(nil)).Elem() {
			continue
		}
		vt, err := goKindToValType(rt.Out(i).Kind())
		if err != nil {
			return nil, nil, nil, fmt.Errorf("result %d: %w", i, err)
		}
		resultTypes = append(resultTypes, vt)
	}

	fn = func(_ *vm.CallingFrame, inputs []vm.Value, outputs []vm.Value) error {
		args := make([]reflect.Value, rt.NumIn())
		if hasCtx {
			args[0] = reflect.ValueOf(context.Background())
		}
		for i, vt := range paramTypes {
			args[goParamStart+i] = flatToReflect(inputs[i], vt, rt.In(goParamStart+i))
		}
		out := rv.Call(args)
		resIdx := 0
		for _, v := range out {
			if v.Type() == reflect.TypeOf((*error)(nil)).Elem() {
				if !v.IsNil() {
					return v.Interface().(error)
				}
				continue
			}
			outputs[resIdx] = reflectToFlat(v, resultTypes[resIdx])
			resIdx++
		}
		return nil
	}
	return paramTypes, resultTypes, fn, nil
}

func goKindToValType(k reflect.Kind) (wasm.ValType, error) {
	switch k {
	case reflect.Int32, reflect.Uint32:
		return wasm.ValI32, nil
	case reflect.Int64, reflect.Uint64, reflect.Int, reflect.Uint:
		return wasm.ValI64, nil
	case reflect.Float32:
		return wasm.ValF32, nil
	case reflect.Float64:
		return wasm.ValF64, nil
	default:
		return 0, fmt.Errorf("unsupported core host func type %s (want int32/uint32/int64/uint64/float32/float64)", k)
	}
}

func flatToReflect(v vm.Value, vt wasm.ValType, target reflect.Type) reflect.Value {
	switch vt {
	case wasm.ValI64:
		return reflect.ValueOf(v.I64()).Convert(target)
	case wasm.ValF32:
		return reflect.ValueOf(v.F32()).Convert(target)
	case wasm.ValF64:
		return reflect.ValueOf(v.F64()).Convert(target)
	default:
		return reflect.ValueOf(v.I32()).Convert(target)
	}
}

func reflectToFlat(v reflect.Value, vt wasm.ValType) vm.Value {
	switch vt {
	case wasm.ValI64:
		return vm.I64(v.Convert(reflect.TypeOf(int64(0))).Int())
	case wasm.ValF32:
		return vm.F32(float32(v.Convert(reflect.TypeOf(float64(0))).Float()))
	case wasm.ValF64:
		return vm.F64(v.Convert(reflect.TypeOf(float64(0))).Float())
	default:
		return vm.I32(int32(v.Convert(reflect.TypeOf(int64(0))).Int()))
	}
}

// ExportNames returns the names a caller may pass to Instance.Call: lift
// names for a component, export names for a core module.
func (m *Module) ExportNames() []string {
	if m.canonRegistry != nil {
		lifts := m.canonRegistry.AllLifts()
		names := make([]string, 0, len(lifts))
		for _, l := range lifts {
			names = append(names, l.Name)
		}
		return names
	}
	names := make([]string, 0, len(m.coreModule.Exports))
	for _, e := range m.coreModule.Exports {
		if e.Kind == wasm.KindFunc {
			names = append(names, e.Name)
		}
	}
	return names
}

// FindLift returns the canon lift definition for a component export, or nil
// for a core module or unknown name.
func (m *Module) FindLift(name string) *component.LiftDef {
	if m.canonRegistry == nil {
		return nil
	}
	return m.canonRegistry.FindLift(name)
}
