package vm

import "github.com/wasmforge/corevm/wasm"

// DefType is a resolved composite type living in a module's type table
// (spec §4.7 "concrete type indices ... into the module's defined-type
// table"). Unlike wasm.CompType, heap-type references inside field types are
// already bound to this ModuleInstance so matching never has to re-resolve
// indices against raw ints.
type DefType struct {
	Kind    byte // wasm.CompKindFunc / CompKindStruct / CompKindArray
	Func    *FuncType
	Struct  *StructDefType
	Array   *ArrayDefType
	Parents []uint32 // explicit supertypes (sub ... ) for subtype checks
	Final   bool
}

type FuncType struct {
	Params  []ValKind
	Results []ValKind
}

// ValKind is a resolved local/param/result type: either a scalar Kind or a
// reference type.
type ValKind struct {
	Kind Kind
	Ref  RefType // meaningful iff Kind == KindRef
}

func scalarKind(k Kind) ValKind { return ValKind{Kind: k} }
func refKind(rt RefType) ValKind { return ValKind{Kind: KindRef, Ref: rt} }

// ValTypeToKind exposes valTypeToKind for callers outside this package that
// build FuncType signatures from raw wasm.ValType bytes (host function
// definitions registered before a module's own type table exists).
func ValTypeToKind(vt wasm.ValType) ValKind { return scalarKind(valTypeToKind(vt)) }

type StructFieldDefType struct {
	Storage StorageKind
	Ref     RefType // meaningful iff Storage == StorageRef
	Mutable bool
}

type StorageKind byte

const (
	StorageI32 StorageKind = iota
	StorageI64
	StorageF32
	StorageF64
	StorageV128
	StorageI8
	StorageI16
	StorageRef
)

type StructDefType struct {
	Fields []StructFieldDefType
}

type ArrayDefType struct {
	Elem StructFieldDefType
}

// ValTypeToKind maps a wasm.ValType byte to the scalar Kind used by vm.
func valTypeToKind(vt wasm.ValType) Kind {
	switch vt {
	case wasm.ValI32:
		return KindI32
	case wasm.ValI64:
		return KindI64
	case wasm.ValF32:
		return KindF32
	case wasm.ValF64:
		return KindF64
	case wasm.ValV128:
		return KindV128
	default:
		return KindRef
	}
}

// matchConcreteOrAbstract implements the concrete-type half of match_type
// (spec §4.7): a concrete struct/array/func index matches the abstract
// bucket it structurally belongs to (func<=func, struct/array<=eq<=any),
// and two concrete indices match iff their composite types are structurally
// equal, each resolved against its own module's type table.
func matchConcreteOrAbstract(sub, super RefType) bool {
	if !sub.Nullable && super.Nullable {
		// ok, narrow to non-null matching nullable
	} else if sub.Nullable && !super.Nullable {
		return false
	}
	if sub.HeapType >= 0 && super.HeapType >= 0 {
		if sub.Module == super.Module && sub.HeapType == super.HeapType {
			return true
		}
		subDef := sub.Module.resolveType(uint32(sub.HeapType))
		superDef := super.Module.resolveType(uint32(super.HeapType))
		if subDef == nil || superDef == nil {
			return false
		}
		if sub.Module.typeStructurallyEquals(subDef, super.Module, superDef) {
			return true
		}
		// walk explicit supertype declarations (sub ... final)
		for _, p := range subDef.Parents {
			if matchConcreteOrAbstract(RefType{HeapType: int64(p), Module: sub.Module, Nullable: sub.Nullable}, super) {
				return true
			}
		}
		return false
	}
	// one concrete, one abstract
	var concrete RefType
	var abstractHT int64
	if sub.HeapType >= 0 {
		concrete, abstractHT = sub, super.HeapType
	} else {
		// abstract <= concrete only possible for bottom types (none/nofunc/noextern)
		return sub.HeapType == wasm.HeapTypeNone || sub.HeapType == wasm.HeapTypeNoFunc || sub.HeapType == wasm.HeapTypeNoExtern
	}
	def := concrete.Module.resolveType(uint32(concrete.HeapType))
	if def == nil {
		return false
	}
	switch abstractHT {
	case wasm.HeapTypeAny, wasm.HeapTypeEq:
		return def.Kind == wasm.CompKindStruct || def.Kind == wasm.CompKindArray
	case wasm.HeapTypeStruct:
		return def.Kind == wasm.CompKindStruct
	case wasm.HeapTypeArray:
		return def.Kind == wasm.CompKindArray
	case wasm.HeapTypeFunc:
		return def.Kind == wasm.CompKindFunc
	default:
		return false
	}
}

func (m *ModuleInstance) resolveType(idx uint32) *DefType {
	if m == nil || int(idx) >= len(m.Types) {
		return nil
	}
	return &m.Types[idx]
}

// typeStructurallyEquals compares two composite types following each
// module's own type table for nested references (spec §4.7: "both type
// tables participate because cross-module references may refer to types
// defined elsewhere").
func (m *ModuleInstance) typeStructurallyEquals(a *DefType, other *ModuleInstance, b *DefType) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case wasm.CompKindFunc:
		return funcTypeEquals(a.Func, b.Func)
	case wasm.CompKindStruct:
		if len(a.Struct.Fields) != len(b.Struct.Fields) {
			return false
		}
		for i := range a.Struct.Fields {
			if !fieldEquals(a.Struct.Fields[i], b.Struct.Fields[i]) {
				return false
			}
		}
		return true
	case wasm.CompKindArray:
		return fieldEquals(a.Array.Elem, b.Array.Elem)
	}
	return false
}

func funcTypeEquals(a, b *FuncType) bool {
	if len(a.Params) != len(b.Params) || len(a.Results) != len(b.Results) {
		return false
	}
	for i := range a.Params {
		if a.Params[i].Kind != b.Params[i].Kind {
			return false
		}
	}
	for i := range a.Results {
		if a.Results[i].Kind != b.Results[i].Kind {
			return false
		}
	}
	return true
}

func fieldEquals(a, b StructFieldDefType) bool {
	return a.Storage == b.Storage && a.Mutable == b.Mutable
}
