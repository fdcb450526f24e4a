package vm

import "github.com/wasmforge/corevm/wasm"

// resolveTypes flattens mod's type section (simple Types or GC TypeDefs with
// rec-group expansion) into vm's DefType table, binding heap-type references
// inside field types back to inst so later subtype checks never need the raw
// *wasm.Module again.
func resolveTypes(mod *wasm.Module, inst *ModuleInstance) []DefType {
	if len(mod.TypeDefs) == 0 {
		out := make([]DefType, len(mod.Types))
		for i := range mod.Types {
			ft := wasmFuncTypeToVM(&mod.Types[i], inst)
			out[i] = DefType{Kind: wasm.CompKindFunc, Func: ft, Final: true}
		}
		return out
	}
	var out []DefType
	for i := range mod.TypeDefs {
		td := &mod.TypeDefs[i]
		switch td.Kind {
		case wasm.TypeDefKindFunc:
			out = append(out, DefType{Kind: wasm.CompKindFunc, Func: wasmFuncTypeToVM(td.Func, inst), Final: true})
		case wasm.TypeDefKindSub:
			out = append(out, compTypeToDefType(td.Sub.CompType, td.Sub.Parents, td.Sub.Final, inst))
		case wasm.TypeDefKindRec:
			for j := range td.Rec.Types {
				st := &td.Rec.Types[j]
				out = append(out, compTypeToDefType(st.CompType, st.Parents, st.Final, inst))
			}
		}
	}
	return out
}

func compTypeToDefType(ct wasm.CompType, parents []uint32, final bool, inst *ModuleInstance) DefType {
	d := DefType{Kind: ct.Kind, Parents: parents, Final: final}
	switch ct.Kind {
	case wasm.CompKindFunc:
		d.Func = wasmFuncTypeToVM(ct.Func, inst)
	case wasm.CompKindStruct:
		fields := make([]StructFieldDefType, len(ct.Struct.Fields))
		for i, f := range ct.Struct.Fields {
			fields[i] = fieldTypeToVM(f, inst)
		}
		d.Struct = &StructDefType{Fields: fields}
	case wasm.CompKindArray:
		d.Array = &ArrayDefType{Elem: fieldTypeToVM(ct.Array.Element, inst)}
	}
	return d
}

func fieldTypeToVM(f wasm.FieldType, inst *ModuleInstance) StructFieldDefType {
	switch f.Type.Kind {
	case wasm.StorageKindPacked:
		if f.Type.Packed == wasm.PackedI8 {
			return StructFieldDefType{Storage: StorageI8, Mutable: f.Mutable}
		}
		return StructFieldDefType{Storage: StorageI16, Mutable: f.Mutable}
	case wasm.StorageKindRef:
		return StructFieldDefType{Storage: StorageRef, Ref: FromWasmRefType(f.Type.RefType, inst), Mutable: f.Mutable}
	default:
		switch f.Type.ValType {
		case wasm.ValI64:
			return StructFieldDefType{Storage: StorageI64, Mutable: f.Mutable}
		case wasm.ValF32:
			return StructFieldDefType{Storage: StorageF32, Mutable: f.Mutable}
		case wasm.ValF64:
			return StructFieldDefType{Storage: StorageF64, Mutable: f.Mutable}
		case wasm.ValV128:
			return StructFieldDefType{Storage: StorageV128, Mutable: f.Mutable}
		default:
			return StructFieldDefType{Storage: StorageI32, Mutable: f.Mutable}
		}
	}
}

// wasmFuncTypeToVM converts a decoded function type to vm's resolved form,
// preferring ExtParams/ExtResults when present (GC modules carry full heap
// type info there; Params/Results only have the single-byte shorthand).
func wasmFuncTypeToVM(ft *wasm.FuncType, inst *ModuleInstance) *FuncType {
	out := &FuncType{}
	if len(ft.ExtParams) > 0 {
		out.Params = make([]ValKind, len(ft.ExtParams))
		for i, p := range ft.ExtParams {
			out.Params[i] = extValTypeToVM(p, inst)
		}
	} else {
		out.Params = make([]ValKind, len(ft.Params))
		for i, p := range ft.Params {
			out.Params[i] = valTypeToVM(p, inst)
		}
	}
	if len(ft.ExtResults) > 0 {
		out.Results = make([]ValKind, len(ft.ExtResults))
		for i, r := range ft.ExtResults {
			out.Results[i] = extValTypeToVM(r, inst)
		}
	} else {
		out.Results = make([]ValKind, len(ft.Results))
		for i, r := range ft.Results {
			out.Results[i] = valTypeToVM(r, inst)
		}
	}
	return out
}

func extValTypeToVM(e wasm.ExtValType, inst *ModuleInstance) ValKind {
	if e.Kind == wasm.ExtValKindRef {
		return refKind(FromWasmRefType(e.RefType, inst))
	}
	return valTypeToVM(e.ValType, inst)
}

func valTypeToVM(vt wasm.ValType, inst *ModuleInstance) ValKind {
	switch vt {
	case wasm.ValI32, wasm.ValI64, wasm.ValF32, wasm.ValF64, wasm.ValV128:
		return scalarKind(valTypeToKind(vt))
	case wasm.ValFuncRef, wasm.ValNullFuncRef:
		return refKind(RefTypeFunc(true))
	case wasm.ValExtern, wasm.ValNullExternRef:
		return refKind(RefTypeExtern(true))
	case wasm.ValAnyRef:
		return refKind(RefTypeAny(true))
	case wasm.ValEqRef:
		return refKind(RefTypeEq(true))
	case wasm.ValI31Ref:
		return refKind(RefTypeI31(true))
	case wasm.ValStructRef:
		return refKind(RefTypeStruct(true))
	case wasm.ValArrayRef:
		return refKind(RefTypeArray(true))
	case wasm.ValNullRef:
		return refKind(RefType{HeapType: wasm.HeapTypeNone, Nullable: true})
	default:
		return refKind(RefTypeAny(true))
	}
}

// compileBody decodes a function body's raw bytecode and builds its local
// slot layout (params followed by declared locals, per spec §4.5's frame
// model where locals are addressed by stack-relative offset).
func compileBody(ft *wasm.FuncType, body *wasm.FuncBody, inst *ModuleInstance) *CompiledFunc {
	paramKinds := paramValKinds(ft, inst)
	locals := append([]ValKind(nil), paramKinds...)
	for _, le := range body.Locals {
		var k ValKind
		if le.ExtType != nil {
			k = extValTypeToVM(*le.ExtType, inst)
		} else {
			k = valTypeToVM(le.ValType, inst)
		}
		for i := uint32(0); i < le.Count; i++ {
			locals = append(locals, k)
		}
	}
	instrs, err := wasm.DecodeInstructions(body.Code)
	if err != nil {
		// The decoder is out of scope for runtime validation (spec §1); a
		// malformed body here means upstream validation was skipped. Fail
		// closed with an empty, immediately-unreachable body rather than
		// panicking mid-dispatch.
		instrs = []wasm.Instruction{{Opcode: wasm.OpUnreachable}, {Opcode: wasm.OpEnd}}
	}
	return precompile(locals, instrs)
}

func paramValKinds(ft *wasm.FuncType, inst *ModuleInstance) []ValKind {
	if len(ft.ExtParams) > 0 {
		out := make([]ValKind, len(ft.ExtParams))
		for i, p := range ft.ExtParams {
			out[i] = extValTypeToVM(p, inst)
		}
		return out
	}
	out := make([]ValKind, len(ft.Params))
	for i, p := range ft.Params {
		out[i] = valTypeToVM(p, inst)
	}
	return out
}
