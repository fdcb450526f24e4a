package vm

import "github.com/wasmforge/corevm/wasm"

// execGC implements the 0xFB-prefixed struct/array/ref opcodes (spec §4.6.4).
// Branching sub-opcodes (br_on_cast, br_on_cast_fail) set d.pc to one less
// than their target, since the caller always advances pc by one after a
// successful call here.
func (d *dispatcher) execGC(ins Instr) *Trap {
	imm := ins.Imm.(wasm.GCImm)
	op := ins.Opcode
	pc := uint32(d.pc)

	switch imm.SubOpcode {
	case wasm.GCStructNew:
		dt := d.mod.resolveType(imm.TypeIdx)
		fields := dt.Struct.Fields
		vals := make([]Value, len(fields))
		for i := len(fields) - 1; i >= 0; i-- {
			vals[i] = maskField(fields[i], d.stack.Pop())
		}
		d.stack.Push(d.mod.Gc.NewStruct(imm.TypeIdx, d.mod, vals))
	case wasm.GCStructNewDefault:
		dt := d.mod.resolveType(imm.TypeIdx)
		fields := dt.Struct.Fields
		vals := make([]Value, len(fields))
		for i, f := range fields {
			vals[i] = zeroValueForField(f)
		}
		d.stack.Push(d.mod.Gc.NewStruct(imm.TypeIdx, d.mod, vals))
	case wasm.GCStructGet, wasm.GCStructGetS, wasm.GCStructGetU:
		ref := d.stack.Pop()
		if ref.IsNull() {
			return NewTrap(TrapAccessNullStruct, op, pc, "struct.get on null structref")
		}
		st := ref.Ref.Type.Module.Gc.Struct(ref.Ref.Addr)
		dt := d.mod.resolveType(imm.TypeIdx)
		field := dt.Struct.Fields[imm.FieldIdx]
		v := st.Fields[imm.FieldIdx]
		d.stack.Push(unpackField(field, v, imm.SubOpcode == wasm.GCStructGetS))
	case wasm.GCStructSet:
		val := d.stack.Pop()
		ref := d.stack.Pop()
		if ref.IsNull() {
			return NewTrap(TrapAccessNullStruct, op, pc, "struct.set on null structref")
		}
		st := ref.Ref.Type.Module.Gc.Struct(ref.Ref.Addr)
		dt := d.mod.resolveType(imm.TypeIdx)
		field := dt.Struct.Fields[imm.FieldIdx]
		st.Fields[imm.FieldIdx] = maskField(field, val)
		ref.Ref.Type.Module.Gc.WriteBarrier(ref.Ref.Addr)

	case wasm.GCArrayNew:
		dt := d.mod.resolveType(imm.TypeIdx)
		n := d.stack.Pop()
		init := d.stack.Pop()
		elems := make([]Value, n.U32())
		masked := maskField(dt.Array.Elem, init)
		for i := range elems {
			elems[i] = masked
		}
		d.stack.Push(d.mod.Gc.NewArray(imm.TypeIdx, d.mod, elems))
	case wasm.GCArrayNewDefault:
		dt := d.mod.resolveType(imm.TypeIdx)
		n := d.stack.Pop()
		elems := make([]Value, n.U32())
		z := zeroValueForField(dt.Array.Elem)
		for i := range elems {
			elems[i] = z
		}
		d.stack.Push(d.mod.Gc.NewArray(imm.TypeIdx, d.mod, elems))
	case wasm.GCArrayNewFixed:
		dt := d.mod.resolveType(imm.TypeIdx)
		elems := make([]Value, imm.Size)
		for i := int(imm.Size) - 1; i >= 0; i-- {
			elems[i] = maskField(dt.Array.Elem, d.stack.Pop())
		}
		d.stack.Push(d.mod.Gc.NewArray(imm.TypeIdx, d.mod, elems))
	case wasm.GCArrayNewData:
		dt := d.mod.resolveType(imm.TypeIdx)
		n := d.stack.Pop()
		off := d.stack.Pop()
		data := d.mod.Data[imm.DataIdx]
		width := storageByteWidth(dt.Array.Elem.Storage)
		count := n.U32()
		start := off.U64()
		if start+uint64(count)*uint64(width) > uint64(len(data.Bytes)) {
			return NewTrap(TrapDataSegDoesNotFit, op, pc, "array.new_data: segment too small")
		}
		elems := make([]Value, count)
		for i := uint32(0); i < count; i++ {
			elems[i] = decodeFieldBytes(dt.Array.Elem, data.Bytes[start+uint64(i)*uint64(width):])
		}
		d.stack.Push(d.mod.Gc.NewArray(imm.TypeIdx, d.mod, elems))
	case wasm.GCArrayNewElem:
		n := d.stack.Pop()
		off := d.stack.Pop()
		elem := d.mod.Elements[imm.ElemIdx]
		count := n.U32()
		start := off.U64()
		if start+uint64(count) > uint64(len(elem.Refs)) {
			return NewTrap(TrapElemSegDoesNotFit, op, pc, "array.new_elem: segment too small")
		}
		elems := append([]Value(nil), elem.Refs[start:start+uint64(count)]...)
		d.stack.Push(d.mod.Gc.NewArray(imm.TypeIdx, d.mod, elems))
	case wasm.GCArrayGet, wasm.GCArrayGetS, wasm.GCArrayGetU:
		idx := d.stack.Pop()
		ref := d.stack.Pop()
		if ref.IsNull() {
			return NewTrap(TrapAccessNullArray, op, pc, "array.get on null arrayref")
		}
		arr := ref.Ref.Type.Module.Gc.Array(ref.Ref.Addr)
		i := idx.U32()
		if int(i) >= len(arr.Elems) {
			return NewTrap(TrapArrayOutOfBounds, op, pc, "array index %d out of bounds (len %d)", i, len(arr.Elems))
		}
		dt := d.mod.resolveType(imm.TypeIdx)
		d.stack.Push(unpackField(dt.Array.Elem, arr.Elems[i], imm.SubOpcode == wasm.GCArrayGetS))
	case wasm.GCArraySet:
		val := d.stack.Pop()
		idx := d.stack.Pop()
		ref := d.stack.Pop()
		if ref.IsNull() {
			return NewTrap(TrapAccessNullArray, op, pc, "array.set on null arrayref")
		}
		arr := ref.Ref.Type.Module.Gc.Array(ref.Ref.Addr)
		i := idx.U32()
		if int(i) >= len(arr.Elems) {
			return NewTrap(TrapArrayOutOfBounds, op, pc, "array index %d out of bounds (len %d)", i, len(arr.Elems))
		}
		dt := d.mod.resolveType(imm.TypeIdx)
		arr.Elems[i] = maskField(dt.Array.Elem, val)
		ref.Ref.Type.Module.Gc.WriteBarrier(ref.Ref.Addr)
	case wasm.GCArrayLen:
		ref := d.stack.Pop()
		if ref.IsNull() {
			return NewTrap(TrapAccessNullArray, op, pc, "array.len on null arrayref")
		}
		arr := ref.Ref.Type.Module.Gc.Array(ref.Ref.Addr)
		d.stack.Push(I32(int32(len(arr.Elems))))
	case wasm.GCArrayFill:
		n := d.stack.Pop()
		val := d.stack.Pop()
		idx := d.stack.Pop()
		ref := d.stack.Pop()
		if ref.IsNull() {
			return NewTrap(TrapAccessNullArray, op, pc, "array.fill on null arrayref")
		}
		arr := ref.Ref.Type.Module.Gc.Array(ref.Ref.Addr)
		dt := d.mod.resolveType(imm.TypeIdx)
		start, count := idx.U32(), n.U32()
		if uint64(start)+uint64(count) > uint64(len(arr.Elems)) {
			return NewTrap(TrapArrayOutOfBounds, op, pc, "array.fill out of bounds")
		}
		masked := maskField(dt.Array.Elem, val)
		for i := uint32(0); i < count; i++ {
			arr.Elems[start+i] = masked
		}
	case wasm.GCArrayCopy:
		n := d.stack.Pop()
		srcIdx := d.stack.Pop()
		srcRef := d.stack.Pop()
		dstIdx := d.stack.Pop()
		dstRef := d.stack.Pop()
		if srcRef.IsNull() || dstRef.IsNull() {
			return NewTrap(TrapAccessNullArray, op, pc, "array.copy on null arrayref")
		}
		src := srcRef.Ref.Type.Module.Gc.Array(srcRef.Ref.Addr)
		dst := dstRef.Ref.Type.Module.Gc.Array(dstRef.Ref.Addr)
		count := n.U32()
		so, do := srcIdx.U32(), dstIdx.U32()
		if uint64(so)+uint64(count) > uint64(len(src.Elems)) || uint64(do)+uint64(count) > uint64(len(dst.Elems)) {
			return NewTrap(TrapArrayOutOfBounds, op, pc, "array.copy out of bounds")
		}
		copy(dst.Elems[do:do+count], src.Elems[so:so+count])
	case wasm.GCArrayInitData:
		n := d.stack.Pop()
		srcOff := d.stack.Pop()
		dstIdx := d.stack.Pop()
		ref := d.stack.Pop()
		if ref.IsNull() {
			return NewTrap(TrapAccessNullArray, op, pc, "array.init_data on null arrayref")
		}
		arr := ref.Ref.Type.Module.Gc.Array(ref.Ref.Addr)
		dt := d.mod.resolveType(imm.TypeIdx)
		data := d.mod.Data[imm.DataIdx]
		width := storageByteWidth(dt.Array.Elem.Storage)
		count := n.U32()
		start := srcOff.U64()
		if start+uint64(count)*uint64(width) > uint64(len(data.Bytes)) {
			return NewTrap(TrapDataSegDoesNotFit, op, pc, "array.init_data: segment too small")
		}
		do := dstIdx.U32()
		if uint64(do)+uint64(count) > uint64(len(arr.Elems)) {
			return NewTrap(TrapArrayOutOfBounds, op, pc, "array.init_data out of bounds")
		}
		for i := uint32(0); i < count; i++ {
			arr.Elems[do+i] = decodeFieldBytes(dt.Array.Elem, data.Bytes[start+uint64(i)*uint64(width):])
		}
	case wasm.GCArrayInitElem:
		n := d.stack.Pop()
		srcOff := d.stack.Pop()
		dstIdx := d.stack.Pop()
		ref := d.stack.Pop()
		if ref.IsNull() {
			return NewTrap(TrapAccessNullArray, op, pc, "array.init_elem on null arrayref")
		}
		arr := ref.Ref.Type.Module.Gc.Array(ref.Ref.Addr)
		elem := d.mod.Elements[imm.ElemIdx]
		count := n.U32()
		start := srcOff.U64()
		if start+uint64(count) > uint64(len(elem.Refs)) {
			return NewTrap(TrapElemSegDoesNotFit, op, pc, "array.init_elem: segment too small")
		}
		do := dstIdx.U32()
		if uint64(do)+uint64(count) > uint64(len(arr.Elems)) {
			return NewTrap(TrapArrayOutOfBounds, op, pc, "array.init_elem out of bounds")
		}
		copy(arr.Elems[do:do+count], elem.Refs[start:start+uint64(count)])

	case wasm.GCRefTest, wasm.GCRefTestNull:
		ref := d.stack.Pop()
		target := RefType{HeapType: imm.HeapType, Module: d.mod, Nullable: imm.SubOpcode == wasm.GCRefTestNull}
		d.stack.Push(boolVal(ref.Ref.Type.IsSubtypeOf(target)))
	case wasm.GCRefCast, wasm.GCRefCastNull:
		ref := d.stack.Pop()
		target := RefType{HeapType: imm.HeapType, Module: d.mod, Nullable: imm.SubOpcode == wasm.GCRefCastNull}
		if !ref.Ref.Type.IsSubtypeOf(target) {
			if ref.IsNull() {
				return NewTrap(TrapCastNullToNonNull, op, pc, "ref.cast: null reference cast to non-null type")
			}
			return NewTrap(TrapCastFailed, op, pc, "ref.cast: reference does not match target type")
		}
		d.stack.Push(ref)
	case wasm.GCBrOnCast, wasm.GCBrOnCastFail:
		ref := d.stack.Pop()
		nullable2 := imm.CastFlags&wasm.CastFlagsSecondNull != 0
		target := RefType{HeapType: imm.HeapType2, Module: d.mod, Nullable: nullable2}
		matches := ref.Ref.Type.IsSubtypeOf(target)
		branch := matches
		if imm.SubOpcode == wasm.GCBrOnCastFail {
			branch = !matches
		}
		d.stack.Push(ref)
		if branch {
			contPC, _ := d.stack.BranchTo(int(imm.LabelIdx))
			d.pc = contPC - 1
		}

	case wasm.GCAnyConvertExtern:
		ref := d.stack.Pop()
		if ref.IsNull() {
			d.stack.Push(NullRef(RefTypeAny(true)))
		} else {
			out := ref
			out.Ref.Type.External = false
			out.Ref.Type.HeapType = wasm.HeapTypeAny
			d.stack.Push(out)
		}
	case wasm.GCExternConvertAny:
		ref := d.stack.Pop()
		if ref.IsNull() {
			d.stack.Push(NullRef(RefTypeExtern(true)))
		} else {
			out := ref
			out.Ref.Type.External = true
			out.Ref.Type.HeapType = wasm.HeapTypeExtern
			d.stack.Push(out)
		}
	case wasm.GCRefI31:
		v := d.stack.Pop()
		d.stack.Push(RefI31(v.I32()))
	case wasm.GCI31GetS:
		v := d.stack.Pop()
		if v.IsNull() {
			return NewTrap(TrapAccessNullI31, op, pc, "i31.get_s on null i31ref")
		}
		d.stack.Push(I32(v.I31Get(true)))
	case wasm.GCI31GetU:
		v := d.stack.Pop()
		if v.IsNull() {
			return NewTrap(TrapAccessNullI31, op, pc, "i31.get_u on null i31ref")
		}
		d.stack.Push(I32(v.I31Get(false)))

	default:
		return NewTrap(TrapUnreachable, op, pc, "unimplemented GC opcode")
	}
	return nil
}

func maskField(f StructFieldDefType, v Value) Value {
	switch f.Storage {
	case StorageI8:
		return I32(int32(uint8(v.I32())))
	case StorageI16:
		return I32(int32(uint16(v.I32())))
	default:
		return v
	}
}

func unpackField(f StructFieldDefType, v Value, signed bool) Value {
	switch f.Storage {
	case StorageI8:
		if signed {
			return I32(int32(int8(v.I32())))
		}
		return I32(int32(uint8(v.I32())))
	case StorageI16:
		if signed {
			return I32(int32(int16(v.I32())))
		}
		return I32(int32(uint16(v.I32())))
	default:
		return v
	}
}

func zeroValueForField(f StructFieldDefType) Value {
	switch f.Storage {
	case StorageI64:
		return I64(0)
	case StorageF32:
		return F32(0)
	case StorageF64:
		return F64(0)
	case StorageV128:
		return V128(0, 0)
	case StorageRef:
		return NullRef(f.Ref)
	default:
		return I32(0)
	}
}

func storageByteWidth(s StorageKind) int {
	switch s {
	case StorageI8:
		return 1
	case StorageI16:
		return 2
	case StorageI64, StorageF64:
		return 8
	case StorageV128:
		return 16
	default:
		return 4
	}
}

// decodeFieldBytes reads one packed element out of a data segment for
// array.new_data / array.init_data (spec §4.6.4); only scalar numeric
// storage kinds are legal there per validation.
func decodeFieldBytes(f StructFieldDefType, b []byte) Value {
	switch f.Storage {
	case StorageI8:
		return I32(int32(uint8(b[0])))
	case StorageI16:
		return I32(int32(uint16(b[0]) | uint16(b[1])<<8))
	case StorageI64:
		var u uint64
		for i := 0; i < 8; i++ {
			u |= uint64(b[i]) << (8 * i)
		}
		return I64(int64(u))
	case StorageF32:
		var u uint32
		for i := 0; i < 4; i++ {
			u |= uint32(b[i]) << (8 * i)
		}
		return Value{Kind: KindF32, Lo: uint64(u)}
	case StorageF64:
		var u uint64
		for i := 0; i < 8; i++ {
			u |= uint64(b[i]) << (8 * i)
		}
		return Value{Kind: KindF64, Lo: u}
	case StorageV128:
		var lo, hi uint64
		for i := 0; i < 8; i++ {
			lo |= uint64(b[i]) << (8 * i)
			hi |= uint64(b[i+8]) << (8 * i)
		}
		return V128(lo, hi)
	default:
		var u uint32
		for i := 0; i < 4; i++ {
			u |= uint32(b[i]) << (8 * i)
		}
		return I32(int32(u))
	}
}
