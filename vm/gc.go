package vm

import (
	"sync"

	"github.com/wasmforge/corevm/wasm"
)

// StructInstance is spec §3.3's StructInstance: a GC-owned heap object
// allocated by struct.new[_default].
type StructInstance struct {
	TypeIdx uint32
	Module  *ModuleInstance // for type lookup; a GC object's effective type
	         // list may differ from the current module's (cross-module refs)
	Fields []Value
}

// ArrayInstance is spec §3.3's ArrayInstance: allocated by array.new*.
type ArrayInstance struct {
	TypeIdx uint32
	Module  *ModuleInstance
	Elems   []Value
}

// ExceptionInstance is a raised exception's payload, addressed by an exnref
// (spec §4.6.1 throw/throw_ref, §7 AccessNullException).
type ExceptionInstance struct {
	Tag     *TagInstance
	TagIdx  uint32
	Payload []Value
}

// GcAllocator owns struct/array heap objects for one module, per spec §4.4
// and §5 ("GC objects are owned by the GcAllocator bound to the owning
// module; freeing the module frees its GC heap").
type GcAllocator struct {
	mu         sync.Mutex
	structs    []*StructInstance
	arrays     []*ArrayInstance
	exceptions []*ExceptionInstance
}

func NewGcAllocator() *GcAllocator { return &GcAllocator{} }

// heapAddr packs a kind bit into the opaque address RefValue.Addr carries:
// bit 63 distinguishes array (1) from struct (0); the rest is the index
// into the owning allocator's slice. This keeps Value a flat 16-byte cell
// with no interface/pointer boxing, per spec §4.1.
const heapArrayBit = uint64(1) << 63

func (a *GcAllocator) NewStruct(typeIdx uint32, mod *ModuleInstance, fields []Value) Value {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := len(a.structs)
	a.structs = append(a.structs, &StructInstance{TypeIdx: typeIdx, Module: mod, Fields: fields})
	return Ref(RefType{HeapType: int64(typeIdx), Module: mod, Nullable: false}, uint64(idx))
}

func (a *GcAllocator) NewArray(typeIdx uint32, mod *ModuleInstance, elems []Value) Value {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := len(a.arrays)
	a.arrays = append(a.arrays, &ArrayInstance{TypeIdx: typeIdx, Module: mod, Elems: elems})
	return Ref(RefType{HeapType: int64(typeIdx), Module: mod, Nullable: false}, uint64(idx)|heapArrayBit)
}

func (a *GcAllocator) Struct(addr uint64) *StructInstance {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := addr &^ heapArrayBit
	if int(idx) >= len(a.structs) {
		return nil
	}
	return a.structs[idx]
}

func (a *GcAllocator) Array(addr uint64) *ArrayInstance {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := addr &^ heapArrayBit
	if int(idx) >= len(a.arrays) {
		return nil
	}
	return a.arrays[idx]
}

// NewException packs a raised exception into an exnref value, addressed the
// same way struct/array heap objects are (an index into this allocator).
func (a *GcAllocator) NewException(tagIdx uint32, tag *TagInstance, payload []Value, mod *ModuleInstance) Value {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := len(a.exceptions)
	a.exceptions = append(a.exceptions, &ExceptionInstance{Tag: tag, TagIdx: tagIdx, Payload: payload})
	return Ref(RefType{HeapType: wasm.HeapTypeExn, Module: mod, Nullable: false}, uint64(idx))
}

func (a *GcAllocator) Exception(addr uint64) *ExceptionInstance {
	a.mu.Lock()
	defer a.mu.Unlock()
	if int(addr) >= len(a.exceptions) {
		return nil
	}
	return a.exceptions[addr]
}

// WriteBarrier is invoked after mutation of any reference field. The spec
// allows a no-op here absent a generational collector (§4.4); this keeps the
// call site in place so a real barrier can be added without touching
// dispatch code.
func (a *GcAllocator) WriteBarrier(addr uint64) {}

// AutoCollect may run a mark-sweep pass at allocation sites. Per spec §4.4
// the observable behavior is identical to a no-op absent finalizers, so
// this implementation stubs it — no Wasm-visible state depends on GC timing.
func (a *GcAllocator) AutoCollect() {}
