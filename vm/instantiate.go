package vm

import (
	"context"

	"github.com/wasmforge/corevm/wasm"
)

// Imports resolves a module's import declarations to concrete instances,
// per spec §4.9's "register imports" step. Resolution is structural: the
// caller supplies already-typed instances (often from another ModuleInstance
// or a host registry), and Instantiate re-checks import matching rules.
type Imports struct {
	Funcs    map[string]map[string]*FunctionInstance
	Tables   map[string]map[string]*TableInstance
	Memories map[string]map[string]*MemoryInstance
	Globals  map[string]map[string]*GlobalInstance
	Tags     map[string]map[string]*TagInstance
}

func NewImports() *Imports {
	return &Imports{
		Funcs:    map[string]map[string]*FunctionInstance{},
		Tables:   map[string]map[string]*TableInstance{},
		Memories: map[string]map[string]*MemoryInstance{},
		Globals:  map[string]map[string]*GlobalInstance{},
		Tags:     map[string]map[string]*TagInstance{},
	}
}

func (im *Imports) AddFunc(module, name string, f *FunctionInstance) {
	if im.Funcs[module] == nil {
		im.Funcs[module] = map[string]*FunctionInstance{}
	}
	im.Funcs[module][name] = f
}

func (im *Imports) AddMemory(module, name string, m *MemoryInstance) {
	if im.Memories[module] == nil {
		im.Memories[module] = map[string]*MemoryInstance{}
	}
	im.Memories[module][name] = m
}

func (im *Imports) AddTable(module, name string, t *TableInstance) {
	if im.Tables[module] == nil {
		im.Tables[module] = map[string]*TableInstance{}
	}
	im.Tables[module][name] = t
}

func (im *Imports) AddGlobal(module, name string, g *GlobalInstance) {
	if im.Globals[module] == nil {
		im.Globals[module] = map[string]*GlobalInstance{}
	}
	im.Globals[module][name] = g
}

func (im *Imports) AddTag(module, name string, t *TagInstance) {
	if im.Tags[module] == nil {
		im.Tags[module] = map[string]*TagInstance{}
	}
	im.Tags[module][name] = t
}

// Instantiate builds a ModuleInstance from a decoded *wasm.Module, following
// the fixed order of spec §4.9 so element/data init expressions only ever
// see already-instantiated items.
func Instantiate(ctx context.Context, rt *Runtime, mod *wasm.Module, name string, imports *Imports) (*ModuleInstance, error) {
	if imports == nil {
		imports = NewImports()
	}
	inst := &ModuleInstance{
		Name:    name,
		Exports: map[string]ExportItem{},
		Gc:      NewGcAllocator(),
	}

	// 2. Types (resolve func/struct/array type table; concrete heap-type
	// references inside it point back at `inst`).
	inst.Types = resolveTypes(mod, inst)

	// 1+2. Imports + own function instances (metadata only — code bodies
	// attach to imported? no: locally defined functions get their Code
	// filled in from mod.Code; host/imported funcs come straight from
	// `imports`).
	numImportedFuncs := mod.NumImportedFuncs()
	inst.Funcs = make([]*FunctionInstance, 0, numImportedFuncs+len(mod.Funcs))
	for _, imp := range mod.Imports {
		if imp.Desc.Kind != wasm.KindFunc {
			continue
		}
		f, ok := lookupFunc(imports, imp.Module, imp.Name)
		if !ok {
			return nil, NewTrap(TrapUnknownImport, 0, 0, "unknown function import %s.%s", imp.Module, imp.Name).
				WithContext("module", imp.Module).WithContext("name", imp.Name)
		}
		ft, _ := resolveFuncType(mod, imp.Desc.TypeIdx, inst)
		if !funcTypeEquals(&f.Type, ft) {
			return nil, NewTrap(TrapIncompatibleImportType, 0, 0, "function import %s.%s type mismatch", imp.Module, imp.Name).
				WithContext("module", imp.Module).WithContext("name", imp.Name)
		}
		inst.Funcs = append(inst.Funcs, f)
	}
	for i, typeIdx := range mod.Funcs {
		ft, wft := resolveFuncType(mod, typeIdx, inst)
		var body *wasm.FuncBody
		if i < len(mod.Code) {
			body = &mod.Code[i]
		}
		fi := &FunctionInstance{TypeIdx: typeIdx, Type: *ft, Module: inst}
		if body != nil {
			fi.Code = compileBody(wft, body, inst)
		}
		inst.Funcs = append(inst.Funcs, fi)
	}

	// 3. Globals: init expressions run against a temporary frame whose
	// module is the module being built, so a global can reference an
	// imported global (already resolved) but never a local one.
	numImportedGlobals := mod.NumImportedGlobals()
	inst.Globals = make([]*GlobalInstance, 0, numImportedGlobals+len(mod.Globals))
	for _, imp := range mod.Imports {
		if imp.Desc.Kind != wasm.KindGlobal {
			continue
		}
		g, ok := lookupGlobal(imports, imp.Module, imp.Name)
		if !ok {
			return nil, NewTrap(TrapUnknownImport, 0, 0, "unknown global import %s.%s", imp.Module, imp.Name)
		}
		if g.Mutable() != imp.Desc.Global.Mutable {
			return nil, NewTrap(TrapIncompatibleImportType, 0, 0, "global import %s.%s mutability mismatch", imp.Module, imp.Name)
		}
		inst.Globals = append(inst.Globals, g)
	}
	for _, g := range mod.Globals {
		kind := extValKind(g.Type.ExtType, g.Type.ValType, inst)
		initVal, err := evalConstExpr(inst, g.Init)
		if err != nil {
			return nil, err
		}
		inst.Globals = append(inst.Globals, NewGlobalInstance(kind, g.Type.Mutable, initVal))
	}

	// 4. Tables and memories.
	numImportedTables := mod.NumImportedTables()
	inst.Tables = make([]*TableInstance, 0, numImportedTables+len(mod.Tables))
	for _, imp := range mod.Imports {
		if imp.Desc.Kind != wasm.KindTable {
			continue
		}
		t, ok := lookupTable(imports, imp.Module, imp.Name)
		if !ok {
			return nil, NewTrap(TrapUnknownImport, 0, 0, "unknown table import %s.%s", imp.Module, imp.Name)
		}
		inst.Tables = append(inst.Tables, t)
	}
	for _, tt := range mod.Tables {
		elemRT := tableElemRefType(tt, inst)
		inst.Tables = append(inst.Tables, NewTableInstance(tt.Limits.Min, tt.Limits.Max, elemRT))
	}

	numImportedMemories := mod.NumImportedMemories()
	inst.Memories = make([]*MemoryInstance, 0, numImportedMemories+len(mod.Memories))
	for _, imp := range mod.Imports {
		if imp.Desc.Kind != wasm.KindMemory {
			continue
		}
		m, ok := lookupMemory(imports, imp.Module, imp.Name)
		if !ok {
			return nil, NewTrap(TrapUnknownImport, 0, 0, "unknown memory import %s.%s", imp.Module, imp.Name)
		}
		if m.shared != imp.Desc.Memory.Limits.Shared {
			return nil, NewTrap(TrapIncompatibleImportType, 0, 0, "memory import %s.%s shared flag mismatch", imp.Module, imp.Name)
		}
		inst.Memories = append(inst.Memories, m)
	}
	for _, mt := range mod.Memories {
		inst.Memories = append(inst.Memories, NewMemoryInstance(uint32(mt.Limits.Min), memMax(mt.Limits), mt.Limits.Shared, mt.Limits.Memory64, inst))
	}

	// 5. Tags.
	numImportedTags := mod.NumImportedTags()
	inst.Tags = make([]*TagInstance, 0, numImportedTags+len(mod.Tags))
	for _, imp := range mod.Imports {
		if imp.Desc.Kind != wasm.KindTag {
			continue
		}
		t, ok := lookupTag(imports, imp.Module, imp.Name)
		if !ok {
			return nil, NewTrap(TrapUnknownImport, 0, 0, "unknown tag import %s.%s", imp.Module, imp.Name)
		}
		inst.Tags = append(inst.Tags, t)
	}
	for _, tt := range mod.Tags {
		ft, _ := resolveFuncType(mod, tt.TypeIdx, inst)
		inst.Tags = append(inst.Tags, &TagInstance{Type: *ft})
	}

	// 6. Element and data instances: evaluate offsets, populate, and write
	// active segments into tables/memories.
	inst.Elements = make([]*ElementInstance, len(mod.Elements))
	for i, el := range mod.Elements {
		refs, err := evalElementRefs(inst, mod, el)
		if err != nil {
			return nil, err
		}
		ei := &ElementInstance{Refs: refs}
		inst.Elements[i] = ei
		if el.Flags == 0 || el.Flags == 2 || el.Flags == 4 || el.Flags == 6 {
			offVal, err := evalConstExpr(inst, el.Offset)
			if err != nil {
				return nil, err
			}
			tableIdx := el.TableIdx
			if int(tableIdx) >= len(inst.Tables) {
				return nil, NewTrap(TrapTableOutOfBounds, 0, 0, "active element segment references missing table %d", tableIdx)
			}
			if t := inst.Tables[tableIdx].Init(uint64(offVal.I32()), ei, 0, uint64(len(refs)), 0, 0); t != nil {
				return nil, t
			}
			ei.Drop()
		}
	}

	inst.Data = make([]*DataInstance, len(mod.Data))
	for i, d := range mod.Data {
		di := &DataInstance{Bytes: append([]byte(nil), d.Init...)}
		inst.Data[i] = di
		if d.Flags == 0 || d.Flags == 2 {
			offVal, err := evalConstExpr(inst, d.Offset)
			if err != nil {
				return nil, err
			}
			memIdx := d.MemIdx
			if int(memIdx) >= len(inst.Memories) {
				return nil, NewTrap(TrapMemoryOutOfBounds, 0, 0, "active data segment references missing memory %d", memIdx)
			}
			if t := inst.Memories[memIdx].Init(uint64(offVal.I32()), di, 0, uint64(len(di.Bytes)), 0, 0); t != nil {
				return nil, t
			}
			di.Drop()
		}
	}

	// 7. Export table.
	for _, exp := range mod.Exports {
		inst.Exports[exp.Name] = ExportItem{Kind: exp.Kind, Idx: exp.Idx}
	}

	// 8. Run start function if present.
	if mod.Start != nil {
		if int(*mod.Start) >= len(inst.Funcs) {
			return nil, NewTrap(TrapUnknownImport, 0, 0, "start function index %d out of range", *mod.Start)
		}
		if _, err := rt.Call(ctx, inst.Funcs[*mod.Start], nil); err != nil {
			return nil, err
		}
	}

	return inst, nil
}

func memMax(l wasm.Limits) *uint64 {
	if l.Max == nil {
		return nil
	}
	v := *l.Max
	return &v
}

func lookupFunc(im *Imports, module, name string) (*FunctionInstance, bool) {
	m, ok := im.Funcs[module]
	if !ok {
		return nil, false
	}
	f, ok := m[name]
	return f, ok
}

func lookupTable(im *Imports, module, name string) (*TableInstance, bool) {
	m, ok := im.Tables[module]
	if !ok {
		return nil, false
	}
	t, ok := m[name]
	return t, ok
}

func lookupMemory(im *Imports, module, name string) (*MemoryInstance, bool) {
	m, ok := im.Memories[module]
	if !ok {
		return nil, false
	}
	v, ok := m[name]
	return v, ok
}

func lookupGlobal(im *Imports, module, name string) (*GlobalInstance, bool) {
	m, ok := im.Globals[module]
	if !ok {
		return nil, false
	}
	v, ok := m[name]
	return v, ok
}

func lookupTag(im *Imports, module, name string) (*TagInstance, bool) {
	m, ok := im.Tags[module]
	if !ok {
		return nil, false
	}
	v, ok := m[name]
	return v, ok
}

// resolveFuncType resolves a raw type index to both vm's resolved FuncType
// (for matching/compilation) and the underlying wasm.FuncType (for decoding
// the function body against its declared locals).
func resolveFuncType(mod *wasm.Module, typeIdx uint32, inst *ModuleInstance) (*FuncType, *wasm.FuncType) {
	wft := mod.GetFuncTypeByTypeIdx(typeIdx)
	if wft == nil {
		wft = &wasm.FuncType{}
	}
	return wasmFuncTypeToVM(wft, inst), wft
}

func extValKind(ext *wasm.ExtValType, vt wasm.ValType, mod *ModuleInstance) ValKind {
	if ext != nil && ext.Kind == wasm.ExtValKindRef {
		return refKind(FromWasmRefType(ext.RefType, mod))
	}
	if vt == wasm.ValFuncRef {
		return refKind(RefTypeFunc(true))
	}
	if vt == wasm.ValExtern {
		return refKind(RefTypeExtern(true))
	}
	return scalarKind(valTypeToKind(vt))
}

func tableElemRefType(tt wasm.TableType, mod *ModuleInstance) RefType {
	if tt.RefElemType != nil {
		return FromWasmRefType(*tt.RefElemType, mod)
	}
	if tt.ElemType == wasm.ValExtern {
		return RefTypeExtern(true)
	}
	return RefTypeFunc(true)
}
