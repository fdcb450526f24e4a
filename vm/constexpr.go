package vm

import "github.com/wasmforge/corevm/wasm"

// evalConstExpr evaluates a constant expression (global/element/data offset
// initializer) against inst's already-instantiated state, per spec §4.9: only
// imported globals and prior instances are visible, never the module's own
// not-yet-created locals.
func evalConstExpr(inst *ModuleInstance, code []byte) (Value, error) {
	instrs, err := wasm.DecodeInstructions(code)
	if err != nil {
		return Value{}, NewTrap(TrapUnknownImport, 0, 0, "malformed constant expression: %v", err)
	}
	var stack []Value
	for _, ins := range instrs {
		switch ins.Opcode {
		case wasm.OpI32Const:
			stack = append(stack, I32(ins.Imm.(wasm.I32Imm).Value))
		case wasm.OpI64Const:
			stack = append(stack, I64(ins.Imm.(wasm.I64Imm).Value))
		case wasm.OpF32Const:
			stack = append(stack, F32(ins.Imm.(wasm.F32Imm).Value))
		case wasm.OpF64Const:
			stack = append(stack, F64(ins.Imm.(wasm.F64Imm).Value))
		case wasm.OpGlobalGet:
			idx := ins.Imm.(wasm.GlobalImm).GlobalIdx
			if int(idx) >= len(inst.Globals) {
				return Value{}, NewTrap(TrapUnknownImport, 0, 0, "constant expression references unresolved global %d", idx)
			}
			stack = append(stack, inst.Globals[idx].Get())
		case wasm.OpRefNull:
			ht := ins.Imm.(wasm.RefNullImm).HeapType
			rt := RefType{HeapType: ht, Nullable: true}
			if ht >= 0 {
				rt.Module = inst
			}
			stack = append(stack, NullRef(rt))
		case wasm.OpRefFunc:
			idx := ins.Imm.(wasm.RefFuncImm).FuncIdx
			stack = append(stack, RefFuncVal(inst, uint64(idx)))
		case wasm.OpEnd:
			// terminator
		default:
			return Value{}, NewTrap(TrapUnknownImport, ins.Opcode, 0, "opcode 0x%02x is not valid in a constant expression", ins.Opcode)
		}
	}
	if len(stack) == 0 {
		return Value{}, nil
	}
	return stack[len(stack)-1], nil
}

// evalElementRefs materializes an element segment's reference vector, either
// from a vec(funcidx) (func-index form) or vec(expr) (general-expr form).
func evalElementRefs(inst *ModuleInstance, mod *wasm.Module, el wasm.Element) ([]Value, error) {
	if len(el.Exprs) > 0 {
		out := make([]Value, len(el.Exprs))
		for i, e := range el.Exprs {
			v, err := evalConstExpr(inst, e)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}
	out := make([]Value, len(el.FuncIdxs))
	for i, fi := range el.FuncIdxs {
		out[i] = RefFuncVal(inst, uint64(fi))
	}
	return out, nil
}
