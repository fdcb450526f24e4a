package vm

import "github.com/wasmforge/corevm/wasm"

// RefType mirrors spec §3.2: either an abstract heap type or a concrete type
// index into some module's defined-type table. HeapType uses the same s33
// encoding as the teacher's wasm.HeapType* constants so conversion from the
// decoded AST is a direct copy.
type RefType struct {
	HeapType int64 // negative: abstract (wasm.HeapType*); >=0: concrete type index
	Module   *ModuleInstance // owning module for concrete indices; nil for abstract
	Nullable bool
	External bool // "externalized" marker (any.convert_extern result)
}

// FromWasmRefType converts a decoded wasm.RefType, resolved against the
// owning module for concrete indices.
func FromWasmRefType(rt wasm.RefType, mod *ModuleInstance) RefType {
	out := RefType{HeapType: rt.HeapType, Nullable: rt.Nullable}
	if rt.HeapType >= 0 {
		out.Module = mod
	}
	return out
}

func RefTypeFunc(nullable bool) RefType   { return RefType{HeapType: wasm.HeapTypeFunc, Nullable: nullable} }
func RefTypeExtern(nullable bool) RefType { return RefType{HeapType: wasm.HeapTypeExtern, Nullable: nullable} }
func RefTypeAny(nullable bool) RefType    { return RefType{HeapType: wasm.HeapTypeAny, Nullable: nullable} }
func RefTypeEq(nullable bool) RefType     { return RefType{HeapType: wasm.HeapTypeEq, Nullable: nullable} }
func RefTypeI31(nullable bool) RefType    { return RefType{HeapType: wasm.HeapTypeI31, Nullable: nullable} }
func RefTypeStruct(nullable bool) RefType { return RefType{HeapType: wasm.HeapTypeStruct, Nullable: nullable} }
func RefTypeArray(nullable bool) RefType  { return RefType{HeapType: wasm.HeapTypeArray, Nullable: nullable} }
func RefTypeExn(nullable bool) RefType    { return RefType{HeapType: wasm.HeapTypeExn, Nullable: nullable} }

func (rt RefType) IsAbstract() bool { return rt.HeapType < 0 }
func (rt RefType) IsI31() bool      { return rt.HeapType == wasm.HeapTypeI31 }
func (rt RefType) IsFunc() bool     { return rt.HeapType == wasm.HeapTypeFunc || rt.HeapType == wasm.HeapTypeNoFunc }
func (rt RefType) IsExtern() bool {
	return rt.HeapType == wasm.HeapTypeExtern || rt.HeapType == wasm.HeapTypeNoExtern
}

// Bottom returns the least element of rt's hierarchy, used to type
// ref.null: ref.null func -> nofunc, ref.null extern -> noextern,
// ref.null any/eq/struct/array/i31 -> none, ref.null exn -> noexn.
func (rt RefType) Bottom() RefType {
	out := rt
	out.Nullable = true
	switch rt.HeapType {
	case wasm.HeapTypeFunc, wasm.HeapTypeNoFunc:
		out.HeapType = wasm.HeapTypeNoFunc
	case wasm.HeapTypeExtern, wasm.HeapTypeNoExtern:
		out.HeapType = wasm.HeapTypeNoExtern
	case wasm.HeapTypeExn, wasm.HeapTypeNoExn:
		out.HeapType = wasm.HeapTypeNoExn
	default:
		out.HeapType = wasm.HeapTypeNone
	}
	return out
}

// hierarchy classifies an abstract heap type into func/extern/internal/exn
// lattices so bottoms and supertype chains can be compared cheaply.
type hierarchy int

const (
	hierFunc hierarchy = iota
	hierExtern
	hierInternal
	hierExn
)

func abstractHierarchy(ht int64) hierarchy {
	switch ht {
	case wasm.HeapTypeFunc, wasm.HeapTypeNoFunc:
		return hierFunc
	case wasm.HeapTypeExtern, wasm.HeapTypeNoExtern:
		return hierExtern
	case wasm.HeapTypeExn, wasm.HeapTypeNoExn:
		return hierExn
	default:
		return hierInternal
	}
}

// internalRank orders the internal lattice any >= eq >= {struct,array,i31} >= none
// for subtype checks; struct/array/i31 are incomparable siblings under eq.
func internalRank(ht int64) int {
	switch ht {
	case wasm.HeapTypeAny:
		return 3
	case wasm.HeapTypeEq:
		return 2
	case wasm.HeapTypeStruct, wasm.HeapTypeArray, wasm.HeapTypeI31:
		return 1
	case wasm.HeapTypeNone:
		return 0
	default:
		return -1 // concrete type index: resolved via module type table, not rank
	}
}

// IsSubtypeOf implements match_type (spec §4.7) for the abstract+bottom
// portion of the lattice. Concrete type indices are handled by
// matchConcreteOrAbstract in types.go, which needs both type tables.
func (rt RefType) IsSubtypeOf(super RefType) bool {
	if rt.HeapType >= 0 || super.HeapType >= 0 {
		return matchConcreteOrAbstract(rt, super)
	}
	if abstractHierarchy(rt.HeapType) != abstractHierarchy(super.HeapType) {
		return false
	}
	if !rt.Nullable && super.Nullable {
		// non-null always matches nullable supertype
	} else if rt.Nullable && !super.Nullable {
		return false
	}
	switch abstractHierarchy(rt.HeapType) {
	case hierInternal:
		subRank := internalRank(rt.HeapType)
		superRank := internalRank(super.HeapType)
		if subRank < 0 || superRank < 0 {
			return rt.HeapType == super.HeapType
		}
		if rt.HeapType == super.HeapType {
			return true
		}
		// struct/array/i31 <= eq <= any; none <= everything
		if subRank == 0 {
			return true
		}
		return subRank <= superRank && (superRank >= 2 || rt.HeapType == super.HeapType)
	default:
		// func/extern/exn hierarchies: only bottom <= top, or equal.
		return rt.HeapType == super.HeapType || rt.HeapType == bottomOf(abstractHierarchy(rt.HeapType))
	}
}

func bottomOf(h hierarchy) int64 {
	switch h {
	case hierFunc:
		return wasm.HeapTypeNoFunc
	case hierExtern:
		return wasm.HeapTypeNoExtern
	case hierExn:
		return wasm.HeapTypeNoExn
	default:
		return wasm.HeapTypeNone
	}
}
