package vm

import "sync/atomic"

// ModuleInstance is spec §3.3's ModuleInstance: the result of instantiating
// a *wasm.Module, owning its non-imported instances and sharing imported
// ones with the exporting module.
type ModuleInstance struct {
	Name    string
	Types   []DefType
	Funcs   []*FunctionInstance
	Tables  []*TableInstance
	Memories []*MemoryInstance
	Globals []*GlobalInstance
	Tags    []*TagInstance
	Elements []*ElementInstance
	Data     []*DataInstance
	Exports  map[string]ExportItem
	Gc       *GcAllocator
	Closed   atomic.Bool
}

// ExportItem is a tagged export (spec §3.3 "exported name->index maps").
type ExportItem struct {
	Kind byte // wasm.KindFunc/Table/Memory/Global/Tag
	Idx  uint32
}

func (m *ModuleInstance) ExportedFunc(name string) *FunctionInstance {
	e, ok := m.Exports[name]
	if !ok {
		return nil
	}
	if int(e.Idx) >= len(m.Funcs) {
		return nil
	}
	return m.Funcs[e.Idx]
}

func (m *ModuleInstance) ExportedMemory(name string) *MemoryInstance {
	e, ok := m.Exports[name]
	if !ok || int(e.Idx) >= len(m.Memories) {
		return nil
	}
	return m.Memories[e.Idx]
}

func (m *ModuleInstance) ExportedGlobal(name string) *GlobalInstance {
	e, ok := m.Exports[name]
	if !ok || int(e.Idx) >= len(m.Globals) {
		return nil
	}
	return m.Globals[e.Idx]
}

func (m *ModuleInstance) ExportedTable(name string) *TableInstance {
	e, ok := m.Exports[name]
	if !ok || int(e.Idx) >= len(m.Tables) {
		return nil
	}
	return m.Tables[e.Idx]
}
