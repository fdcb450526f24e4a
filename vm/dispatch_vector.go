package vm

import (
	"encoding/binary"
	"math"
	"math/bits"

	"github.com/wasmforge/corevm/wasm"
)

// execSIMD implements the 0xFD-prefixed 128-bit vector instruction set
// (spec §4.6.3). The instruction set this dispatcher targets defines no
// separate relaxed-SIMD opcodes, so every variant here is the single
// deterministic (strict) semantics.
func (d *dispatcher) execSIMD(ins Instr) *Trap {
	imm := ins.Imm.(wasm.SIMDImm)
	op := ins.Opcode
	pc := uint32(d.pc)

	switch imm.SubOpcode {
	// loads / stores / const
	case wasm.SimdV128Load:
		return d.simdLoadFull(imm, op)
	case wasm.SimdV128Store:
		return d.simdStoreFull(imm, op)
	case wasm.SimdV128Load8x8S, wasm.SimdV128Load8x8U, wasm.SimdV128Load16x4S, wasm.SimdV128Load16x4U,
		wasm.SimdV128Load32x2S, wasm.SimdV128Load32x2U:
		return d.simdLoadWiden(imm, op, pc)
	case wasm.SimdV128Load8Splat, wasm.SimdV128Load16Splat, wasm.SimdV128Load32Splat, wasm.SimdV128Load64Splat:
		return d.simdLoadSplat(imm, op, pc)
	case wasm.SimdV128Load32Zero, wasm.SimdV128Load64Zero:
		return d.simdLoadZero(imm, op, pc)
	case wasm.SimdV128Load8Lane, wasm.SimdV128Load16Lane, wasm.SimdV128Load32Lane, wasm.SimdV128Load64Lane:
		return d.simdLoadLane(imm, op, pc)
	case wasm.SimdV128Store8Lane, wasm.SimdV128Store16Lane, wasm.SimdV128Store32Lane, wasm.SimdV128Store64Lane:
		return d.simdStoreLane(imm, op, pc)
	case wasm.SimdV128Const:
		lo := binary.LittleEndian.Uint64(imm.V128Bytes[0:8])
		hi := binary.LittleEndian.Uint64(imm.V128Bytes[8:16])
		d.stack.Push(V128(lo, hi))
	case wasm.SimdI8x16Shuffle:
		b := d.stack.Pop()
		a := d.stack.Pop()
		la, lb := a.Lanes8(), b.Lanes8()
		var out [16]byte
		for i, idx := range imm.V128Bytes {
			if idx < 16 {
				out[i] = la[idx]
			} else {
				out[i] = lb[idx-16]
			}
		}
		d.stack.Push(FromLanes8(out))
	case wasm.SimdI8x16Swizzle:
		b := d.stack.Pop()
		a := d.stack.Pop()
		la, lb := a.Lanes8(), b.Lanes8()
		var out [16]byte
		for i, idx := range lb {
			if idx < 16 {
				out[i] = la[idx]
			}
		}
		d.stack.Push(FromLanes8(out))

	// splats
	case wasm.SimdI8x16Splat:
		v := d.stack.Pop()
		var l [16]byte
		b := byte(v.I32())
		for i := range l {
			l[i] = b
		}
		d.stack.Push(FromLanes8(l))
	case wasm.SimdI16x8Splat:
		v := d.stack.Pop()
		var l [8]uint16
		u := uint16(v.I32())
		for i := range l {
			l[i] = u
		}
		d.stack.Push(FromLanes16(l))
	case wasm.SimdI32x4Splat:
		v := d.stack.Pop()
		u := v.U32()
		d.stack.Push(FromLanes32([4]uint32{u, u, u, u}))
	case wasm.SimdI64x2Splat:
		v := d.stack.Pop()
		u := v.U64()
		d.stack.Push(FromLanes64([2]uint64{u, u}))
	case wasm.SimdF32x4Splat:
		v := d.stack.Pop()
		f := v.F32()
		d.stack.Push(FromLanesF32([4]float32{f, f, f, f}))
	case wasm.SimdF64x2Splat:
		v := d.stack.Pop()
		f := v.F64()
		d.stack.Push(FromLanesF64([2]float64{f, f}))

	// extract / replace lane
	case wasm.SimdI8x16ExtractLaneS:
		v := d.stack.Pop()
		d.stack.Push(I32(int32(int8(v.Lanes8()[*imm.LaneIdx]))))
	case wasm.SimdI8x16ExtractLaneU:
		v := d.stack.Pop()
		d.stack.Push(I32(int32(v.Lanes8()[*imm.LaneIdx])))
	case wasm.SimdI8x16ReplaceLane:
		x := d.stack.Pop()
		v := d.stack.Pop()
		l := v.Lanes8()
		l[*imm.LaneIdx] = byte(x.I32())
		d.stack.Push(FromLanes8(l))
	case wasm.SimdI16x8ExtractLaneS:
		v := d.stack.Pop()
		d.stack.Push(I32(int32(int16(v.Lanes16()[*imm.LaneIdx]))))
	case wasm.SimdI16x8ExtractLaneU:
		v := d.stack.Pop()
		d.stack.Push(I32(int32(v.Lanes16()[*imm.LaneIdx])))
	case wasm.SimdI16x8ReplaceLane:
		x := d.stack.Pop()
		v := d.stack.Pop()
		l := v.Lanes16()
		l[*imm.LaneIdx] = uint16(x.I32())
		d.stack.Push(FromLanes16(l))
	case wasm.SimdI32x4ExtractLane:
		v := d.stack.Pop()
		d.stack.Push(I32(int32(v.Lanes32()[*imm.LaneIdx])))
	case wasm.SimdI32x4ReplaceLane:
		x := d.stack.Pop()
		v := d.stack.Pop()
		l := v.Lanes32()
		l[*imm.LaneIdx] = x.U32()
		d.stack.Push(FromLanes32(l))
	case wasm.SimdI64x2ExtractLane:
		v := d.stack.Pop()
		d.stack.Push(I64(int64(v.Lanes64()[*imm.LaneIdx])))
	case wasm.SimdI64x2ReplaceLane:
		x := d.stack.Pop()
		v := d.stack.Pop()
		l := v.Lanes64()
		l[*imm.LaneIdx] = x.U64()
		d.stack.Push(FromLanes64(l))
	case wasm.SimdF32x4ExtractLane:
		v := d.stack.Pop()
		d.stack.Push(F32(v.LanesF32()[*imm.LaneIdx]))
	case wasm.SimdF32x4ReplaceLane:
		x := d.stack.Pop()
		v := d.stack.Pop()
		l := v.LanesF32()
		l[*imm.LaneIdx] = x.F32()
		d.stack.Push(FromLanesF32(l))
	case wasm.SimdF64x2ExtractLane:
		v := d.stack.Pop()
		d.stack.Push(F64(v.LanesF64()[*imm.LaneIdx]))
	case wasm.SimdF64x2ReplaceLane:
		x := d.stack.Pop()
		v := d.stack.Pop()
		l := v.LanesF64()
		l[*imm.LaneIdx] = x.F64()
		d.stack.Push(FromLanesF64(l))

	// bitwise
	case wasm.SimdV128Not:
		v := d.stack.Pop()
		d.stack.Push(V128(^v.Lo, ^v.Hi))
	case wasm.SimdV128And:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(V128(a.Lo&b.Lo, a.Hi&b.Hi))
	case wasm.SimdV128AndNot:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(V128(a.Lo&^b.Lo, a.Hi&^b.Hi))
	case wasm.SimdV128Or:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(V128(a.Lo|b.Lo, a.Hi|b.Hi))
	case wasm.SimdV128Xor:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(V128(a.Lo^b.Lo, a.Hi^b.Hi))
	case wasm.SimdV128Bitselect:
		c := d.stack.Pop()
		b := d.stack.Pop()
		a := d.stack.Pop()
		d.stack.Push(V128((a.Lo&c.Lo)|(b.Lo&^c.Lo), (a.Hi&c.Hi)|(b.Hi&^c.Hi)))
	case wasm.SimdV128AnyTrue:
		v := d.stack.Pop()
		d.stack.Push(boolVal(v.Lo != 0 || v.Hi != 0))

	default:
		if trap, handled := d.execSIMDLanes(imm, op, pc); handled {
			return trap
		}
		return NewTrap(TrapUnreachable, op, pc, "unimplemented SIMD opcode")
	}
	return nil
}

func (d *dispatcher) simdLoadFull(imm wasm.SIMDImm, op byte) *Trap {
	mem := d.memoryFor(imm.MemArg.MemIdx)
	addr := d.effectiveAddr(mem, *imm.MemArg)
	raw, trap := mem.Load(addr, 16, op, uint32(imm.MemArg.Offset))
	if trap != nil {
		return trap
	}
	d.stack.Push(V128(binary.LittleEndian.Uint64(raw[0:8]), binary.LittleEndian.Uint64(raw[8:16])))
	return nil
}

func (d *dispatcher) simdStoreFull(imm wasm.SIMDImm, op byte) *Trap {
	v := d.stack.Pop()
	mem := d.memoryFor(imm.MemArg.MemIdx)
	addr := d.effectiveAddr(mem, *imm.MemArg)
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], v.Lo)
	binary.LittleEndian.PutUint64(buf[8:16], v.Hi)
	return mem.Store(addr, buf[:], op, uint32(imm.MemArg.Offset))
}

func (d *dispatcher) simdLoadWiden(imm wasm.SIMDImm, op byte, pc uint32) *Trap {
	mem := d.memoryFor(imm.MemArg.MemIdx)
	addr := d.effectiveAddr(mem, *imm.MemArg)
	raw, trap := mem.Load(addr, 8, op, uint32(imm.MemArg.Offset))
	if trap != nil {
		return trap
	}
	switch imm.SubOpcode {
	case wasm.SimdV128Load8x8S:
		var l [8]uint16
		for i := 0; i < 8; i++ {
			l[i] = uint16(int16(int8(raw[i])))
		}
		d.stack.Push(FromLanes16(l))
	case wasm.SimdV128Load8x8U:
		var l [8]uint16
		for i := 0; i < 8; i++ {
			l[i] = uint16(raw[i])
		}
		d.stack.Push(FromLanes16(l))
	case wasm.SimdV128Load16x4S:
		var l [4]uint32
		for i := 0; i < 4; i++ {
			l[i] = uint32(int32(int16(binary.LittleEndian.Uint16(raw[2*i:]))))
		}
		d.stack.Push(FromLanes32(l))
	case wasm.SimdV128Load16x4U:
		var l [4]uint32
		for i := 0; i < 4; i++ {
			l[i] = uint32(binary.LittleEndian.Uint16(raw[2*i:]))
		}
		d.stack.Push(FromLanes32(l))
	case wasm.SimdV128Load32x2S:
		var l [2]uint64
		for i := 0; i < 2; i++ {
			l[i] = uint64(int64(int32(binary.LittleEndian.Uint32(raw[4*i:]))))
		}
		d.stack.Push(FromLanes64(l))
	case wasm.SimdV128Load32x2U:
		var l [2]uint64
		for i := 0; i < 2; i++ {
			l[i] = uint64(binary.LittleEndian.Uint32(raw[4*i:]))
		}
		d.stack.Push(FromLanes64(l))
	}
	return nil
}

func (d *dispatcher) simdLoadSplat(imm wasm.SIMDImm, op byte, pc uint32) *Trap {
	mem := d.memoryFor(imm.MemArg.MemIdx)
	addr := d.effectiveAddr(mem, *imm.MemArg)
	var width int
	switch imm.SubOpcode {
	case wasm.SimdV128Load8Splat:
		width = 1
	case wasm.SimdV128Load16Splat:
		width = 2
	case wasm.SimdV128Load32Splat:
		width = 4
	case wasm.SimdV128Load64Splat:
		width = 8
	}
	raw, trap := mem.Load(addr, width, op, uint32(imm.MemArg.Offset))
	if trap != nil {
		return trap
	}
	switch width {
	case 1:
		var l [16]byte
		for i := range l {
			l[i] = raw[0]
		}
		d.stack.Push(FromLanes8(l))
	case 2:
		u := binary.LittleEndian.Uint16(raw)
		var l [8]uint16
		for i := range l {
			l[i] = u
		}
		d.stack.Push(FromLanes16(l))
	case 4:
		u := binary.LittleEndian.Uint32(raw)
		d.stack.Push(FromLanes32([4]uint32{u, u, u, u}))
	case 8:
		u := binary.LittleEndian.Uint64(raw)
		d.stack.Push(FromLanes64([2]uint64{u, u}))
	}
	return nil
}

func (d *dispatcher) simdLoadZero(imm wasm.SIMDImm, op byte, pc uint32) *Trap {
	mem := d.memoryFor(imm.MemArg.MemIdx)
	addr := d.effectiveAddr(mem, *imm.MemArg)
	if imm.SubOpcode == wasm.SimdV128Load32Zero {
		raw, trap := mem.Load(addr, 4, op, uint32(imm.MemArg.Offset))
		if trap != nil {
			return trap
		}
		d.stack.Push(V128(uint64(binary.LittleEndian.Uint32(raw)), 0))
		return nil
	}
	raw, trap := mem.Load(addr, 8, op, uint32(imm.MemArg.Offset))
	if trap != nil {
		return trap
	}
	d.stack.Push(V128(binary.LittleEndian.Uint64(raw), 0))
	return nil
}

func (d *dispatcher) simdLoadLane(imm wasm.SIMDImm, op byte, pc uint32) *Trap {
	vec := d.stack.Pop()
	mem := d.memoryFor(imm.MemArg.MemIdx)
	addr := d.effectiveAddr(mem, *imm.MemArg)
	lane := *imm.LaneIdx
	switch imm.SubOpcode {
	case wasm.SimdV128Load8Lane:
		raw, trap := mem.Load(addr, 1, op, uint32(imm.MemArg.Offset))
		if trap != nil {
			return trap
		}
		l := vec.Lanes8()
		l[lane] = raw[0]
		d.stack.Push(FromLanes8(l))
	case wasm.SimdV128Load16Lane:
		raw, trap := mem.Load(addr, 2, op, uint32(imm.MemArg.Offset))
		if trap != nil {
			return trap
		}
		l := vec.Lanes16()
		l[lane] = binary.LittleEndian.Uint16(raw)
		d.stack.Push(FromLanes16(l))
	case wasm.SimdV128Load32Lane:
		raw, trap := mem.Load(addr, 4, op, uint32(imm.MemArg.Offset))
		if trap != nil {
			return trap
		}
		l := vec.Lanes32()
		l[lane] = binary.LittleEndian.Uint32(raw)
		d.stack.Push(FromLanes32(l))
	case wasm.SimdV128Load64Lane:
		raw, trap := mem.Load(addr, 8, op, uint32(imm.MemArg.Offset))
		if trap != nil {
			return trap
		}
		l := vec.Lanes64()
		l[lane] = binary.LittleEndian.Uint64(raw)
		d.stack.Push(FromLanes64(l))
	}
	return nil
}

func (d *dispatcher) simdStoreLane(imm wasm.SIMDImm, op byte, pc uint32) *Trap {
	vec := d.stack.Pop()
	mem := d.memoryFor(imm.MemArg.MemIdx)
	addr := d.effectiveAddr(mem, *imm.MemArg)
	lane := *imm.LaneIdx
	switch imm.SubOpcode {
	case wasm.SimdV128Store8Lane:
		return mem.Store(addr, []byte{vec.Lanes8()[lane]}, op, uint32(imm.MemArg.Offset))
	case wasm.SimdV128Store16Lane:
		var buf [2]byte
		binary.LittleEndian.PutUint16(buf[:], vec.Lanes16()[lane])
		return mem.Store(addr, buf[:], op, uint32(imm.MemArg.Offset))
	case wasm.SimdV128Store32Lane:
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], vec.Lanes32()[lane])
		return mem.Store(addr, buf[:], op, uint32(imm.MemArg.Offset))
	case wasm.SimdV128Store64Lane:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], vec.Lanes64()[lane])
		return mem.Store(addr, buf[:], op, uint32(imm.MemArg.Offset))
	}
	return nil
}

func boolLane8(b bool) byte {
	if b {
		return 0xFF
	}
	return 0
}
func boolLane16(b bool) uint16 {
	if b {
		return 0xFFFF
	}
	return 0
}
func boolLane32(b bool) uint32 {
	if b {
		return 0xFFFFFFFF
	}
	return 0
}
func boolLane64(b bool) uint64 {
	if b {
		return 0xFFFFFFFFFFFFFFFF
	}
	return 0
}

// execSIMDLanes handles every per-lane-width arithmetic, comparison, shift,
// conversion and reduction opcode. Split from execSIMD's top-level switch
// purely to keep each function body within sight.
func (d *dispatcher) execSIMDLanes(imm wasm.SIMDImm, op byte, pc uint32) (*Trap, bool) {
	switch imm.SubOpcode {
	// i8x16
	case wasm.SimdI8x16Abs:
		v := d.stack.Pop()
		l := v.Lanes8()
		for i, x := range l {
			l[i] = byte(absInt8(int8(x)))
		}
		d.stack.Push(FromLanes8(l))
	case wasm.SimdI8x16Neg:
		v := d.stack.Pop()
		l := v.Lanes8()
		for i, x := range l {
			l[i] = byte(-int8(x))
		}
		d.stack.Push(FromLanes8(l))
	case wasm.SimdI8x16Popcnt:
		v := d.stack.Pop()
		l := v.Lanes8()
		for i, x := range l {
			l[i] = byte(bits.OnesCount8(x))
		}
		d.stack.Push(FromLanes8(l))
	case wasm.SimdI8x16AllTrue:
		v := d.stack.Pop()
		all := true
		for _, x := range v.Lanes8() {
			if x == 0 {
				all = false
			}
		}
		d.stack.Push(boolVal(all))
	case wasm.SimdI8x16Bitmask:
		v := d.stack.Pop()
		var m int32
		for i, x := range v.Lanes8() {
			if int8(x) < 0 {
				m |= 1 << i
			}
		}
		d.stack.Push(I32(m))
	case wasm.SimdI8x16NarrowI16x8S:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes16(), b.Lanes16()
		var out [16]byte
		for i, x := range la {
			out[i] = byte(saturateI16ToI8(int16(x)))
		}
		for i, x := range lb {
			out[i+8] = byte(saturateI16ToI8(int16(x)))
		}
		d.stack.Push(FromLanes8(out))
	case wasm.SimdI8x16NarrowI16x8U:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes16(), b.Lanes16()
		var out [16]byte
		for i, x := range la {
			out[i] = saturateI16ToU8(int16(x))
		}
		for i, x := range lb {
			out[i+8] = saturateI16ToU8(int16(x))
		}
		d.stack.Push(FromLanes8(out))
	case wasm.SimdI8x16Shl:
		shAmt := d.stack.Pop()
		v := d.stack.Pop()
		sh := shAmt.U32() & 7
		l := v.Lanes8()
		for i, x := range l {
			l[i] = x << sh
		}
		d.stack.Push(FromLanes8(l))
	case wasm.SimdI8x16ShrS:
		shAmt := d.stack.Pop()
		v := d.stack.Pop()
		sh := shAmt.U32() & 7
		l := v.Lanes8()
		for i, x := range l {
			l[i] = byte(int8(x) >> sh)
		}
		d.stack.Push(FromLanes8(l))
	case wasm.SimdI8x16ShrU:
		shAmt := d.stack.Pop()
		v := d.stack.Pop()
		sh := shAmt.U32() & 7
		l := v.Lanes8()
		for i, x := range l {
			l[i] = x >> sh
		}
		d.stack.Push(FromLanes8(l))
	case wasm.SimdI8x16Add:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes8(), b.Lanes8()
		for i := range la {
			la[i] += lb[i]
		}
		d.stack.Push(FromLanes8(la))
	case wasm.SimdI8x16AddSatS:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes8(), b.Lanes8()
		var out [16]byte
		for i := range out {
			out[i] = byte(saturateI16ToI8(int16(int8(la[i])) + int16(int8(lb[i]))))
		}
		d.stack.Push(FromLanes8(out))
	case wasm.SimdI8x16AddSatU:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes8(), b.Lanes8()
		var out [16]byte
		for i := range out {
			out[i] = saturateI16ToU8(int16(la[i]) + int16(lb[i]))
		}
		d.stack.Push(FromLanes8(out))
	case wasm.SimdI8x16Sub:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes8(), b.Lanes8()
		for i := range la {
			la[i] -= lb[i]
		}
		d.stack.Push(FromLanes8(la))
	case wasm.SimdI8x16SubSatS:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes8(), b.Lanes8()
		var out [16]byte
		for i := range out {
			out[i] = byte(saturateI16ToI8(int16(int8(la[i])) - int16(int8(lb[i]))))
		}
		d.stack.Push(FromLanes8(out))
	case wasm.SimdI8x16SubSatU:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes8(), b.Lanes8()
		var out [16]byte
		for i := range out {
			out[i] = saturateI16ToU8(int16(la[i]) - int16(lb[i]))
		}
		d.stack.Push(FromLanes8(out))
	case wasm.SimdI8x16MinS:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes8(), b.Lanes8()
		for i := range la {
			if int8(lb[i]) < int8(la[i]) {
				la[i] = lb[i]
			}
		}
		d.stack.Push(FromLanes8(la))
	case wasm.SimdI8x16MinU:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes8(), b.Lanes8()
		for i := range la {
			if lb[i] < la[i] {
				la[i] = lb[i]
			}
		}
		d.stack.Push(FromLanes8(la))
	case wasm.SimdI8x16MaxS:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes8(), b.Lanes8()
		for i := range la {
			if int8(lb[i]) > int8(la[i]) {
				la[i] = lb[i]
			}
		}
		d.stack.Push(FromLanes8(la))
	case wasm.SimdI8x16MaxU:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes8(), b.Lanes8()
		for i := range la {
			if lb[i] > la[i] {
				la[i] = lb[i]
			}
		}
		d.stack.Push(FromLanes8(la))
	case wasm.SimdI8x16AvgrU:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes8(), b.Lanes8()
		for i := range la {
			la[i] = byte((uint16(la[i]) + uint16(lb[i]) + 1) / 2)
		}
		d.stack.Push(FromLanes8(la))
	case wasm.SimdI8x16Eq, wasm.SimdI8x16Ne, wasm.SimdI8x16LtS, wasm.SimdI8x16LtU,
		wasm.SimdI8x16GtS, wasm.SimdI8x16GtU, wasm.SimdI8x16LeS, wasm.SimdI8x16LeU,
		wasm.SimdI8x16GeS, wasm.SimdI8x16GeU:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes8(), b.Lanes8()
		var out [16]byte
		for i := range out {
			out[i] = boolLane8(cmp8(imm.SubOpcode, la[i], lb[i]))
		}
		d.stack.Push(FromLanes8(out))

	// i16x8
	case wasm.SimdI16x8Neg:
		v := d.stack.Pop()
		l := v.Lanes16()
		for i, x := range l {
			l[i] = uint16(-int16(x))
		}
		d.stack.Push(FromLanes16(l))
	case wasm.SimdI16x8Abs:
		v := d.stack.Pop()
		l := v.Lanes16()
		for i, x := range l {
			l[i] = uint16(absInt16(int16(x)))
		}
		d.stack.Push(FromLanes16(l))
	case wasm.SimdI16x8AllTrue:
		v := d.stack.Pop()
		all := true
		for _, x := range v.Lanes16() {
			if x == 0 {
				all = false
			}
		}
		d.stack.Push(boolVal(all))
	case wasm.SimdI16x8Bitmask:
		v := d.stack.Pop()
		var m int32
		for i, x := range v.Lanes16() {
			if int16(x) < 0 {
				m |= 1 << i
			}
		}
		d.stack.Push(I32(m))
	case wasm.SimdI16x8Shl:
		shAmt := d.stack.Pop()
		v := d.stack.Pop()
		sh := shAmt.U32() & 15
		l := v.Lanes16()
		for i, x := range l {
			l[i] = x << sh
		}
		d.stack.Push(FromLanes16(l))
	case wasm.SimdI16x8ShrS:
		shAmt := d.stack.Pop()
		v := d.stack.Pop()
		sh := shAmt.U32() & 15
		l := v.Lanes16()
		for i, x := range l {
			l[i] = uint16(int16(x) >> sh)
		}
		d.stack.Push(FromLanes16(l))
	case wasm.SimdI16x8ShrU:
		shAmt := d.stack.Pop()
		v := d.stack.Pop()
		sh := shAmt.U32() & 15
		l := v.Lanes16()
		for i, x := range l {
			l[i] = x >> sh
		}
		d.stack.Push(FromLanes16(l))
	case wasm.SimdI16x8Add:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes16(), b.Lanes16()
		for i := range la {
			la[i] += lb[i]
		}
		d.stack.Push(FromLanes16(la))
	case wasm.SimdI16x8AddSatS:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes16(), b.Lanes16()
		for i := range la {
			la[i] = uint16(saturateI32ToI16(int32(int16(la[i])) + int32(int16(lb[i]))))
		}
		d.stack.Push(FromLanes16(la))
	case wasm.SimdI16x8AddSatU:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes16(), b.Lanes16()
		for i := range la {
			la[i] = saturateI32ToU16(int32(la[i]) + int32(lb[i]))
		}
		d.stack.Push(FromLanes16(la))
	case wasm.SimdI16x8Sub:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes16(), b.Lanes16()
		for i := range la {
			la[i] -= lb[i]
		}
		d.stack.Push(FromLanes16(la))
	case wasm.SimdI16x8SubSatS:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes16(), b.Lanes16()
		for i := range la {
			la[i] = uint16(saturateI32ToI16(int32(int16(la[i])) - int32(int16(lb[i]))))
		}
		d.stack.Push(FromLanes16(la))
	case wasm.SimdI16x8SubSatU:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes16(), b.Lanes16()
		for i := range la {
			la[i] = saturateI32ToU16(int32(la[i]) - int32(lb[i]))
		}
		d.stack.Push(FromLanes16(la))
	case wasm.SimdI16x8Mul:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes16(), b.Lanes16()
		for i := range la {
			la[i] *= lb[i]
		}
		d.stack.Push(FromLanes16(la))
	case wasm.SimdI16x8MinS:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes16(), b.Lanes16()
		for i := range la {
			if int16(lb[i]) < int16(la[i]) {
				la[i] = lb[i]
			}
		}
		d.stack.Push(FromLanes16(la))
	case wasm.SimdI16x8MinU:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes16(), b.Lanes16()
		for i := range la {
			if lb[i] < la[i] {
				la[i] = lb[i]
			}
		}
		d.stack.Push(FromLanes16(la))
	case wasm.SimdI16x8MaxS:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes16(), b.Lanes16()
		for i := range la {
			if int16(lb[i]) > int16(la[i]) {
				la[i] = lb[i]
			}
		}
		d.stack.Push(FromLanes16(la))
	case wasm.SimdI16x8MaxU:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes16(), b.Lanes16()
		for i := range la {
			if lb[i] > la[i] {
				la[i] = lb[i]
			}
		}
		d.stack.Push(FromLanes16(la))
	case wasm.SimdI16x8AvgrU:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes16(), b.Lanes16()
		for i := range la {
			la[i] = uint16((uint32(la[i]) + uint32(lb[i]) + 1) / 2)
		}
		d.stack.Push(FromLanes16(la))
	case wasm.SimdI16x8Q15mulrSatS:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes16(), b.Lanes16()
		for i := range la {
			prod := (int32(int16(la[i]))*int32(int16(lb[i])) + (1 << 14)) >> 15
			la[i] = uint16(saturateI32ToI16(prod))
		}
		d.stack.Push(FromLanes16(la))
	case wasm.SimdI16x8NarrowI32x4S:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes32(), b.Lanes32()
		var out [8]uint16
		for i, x := range la {
			out[i] = uint16(saturateI32ToI16(int32(x)))
		}
		for i, x := range lb {
			out[i+4] = uint16(saturateI32ToI16(int32(x)))
		}
		d.stack.Push(FromLanes16(out))
	case wasm.SimdI16x8NarrowI32x4U:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes32(), b.Lanes32()
		var out [8]uint16
		for i, x := range la {
			out[i] = saturateI32ToU16(int32(x))
		}
		for i, x := range lb {
			out[i+4] = saturateI32ToU16(int32(x))
		}
		d.stack.Push(FromLanes16(out))
	case wasm.SimdI16x8ExtendLowI8x16S:
		v := d.stack.Pop()
		la := v.Lanes8()
		var out [8]uint16
		for i := 0; i < 8; i++ {
			out[i] = uint16(int16(int8(la[i])))
		}
		d.stack.Push(FromLanes16(out))
	case wasm.SimdI16x8ExtendHighI8x16S:
		v := d.stack.Pop()
		la := v.Lanes8()
		var out [8]uint16
		for i := 0; i < 8; i++ {
			out[i] = uint16(int16(int8(la[i+8])))
		}
		d.stack.Push(FromLanes16(out))
	case wasm.SimdI16x8ExtendLowI8x16U:
		v := d.stack.Pop()
		la := v.Lanes8()
		var out [8]uint16
		for i := 0; i < 8; i++ {
			out[i] = uint16(la[i])
		}
		d.stack.Push(FromLanes16(out))
	case wasm.SimdI16x8ExtendHighI8x16U:
		v := d.stack.Pop()
		la := v.Lanes8()
		var out [8]uint16
		for i := 0; i < 8; i++ {
			out[i] = uint16(la[i+8])
		}
		d.stack.Push(FromLanes16(out))
	case wasm.SimdI16x8ExtAddPairwiseI8x16S:
		v := d.stack.Pop()
		la := v.Lanes8()
		var out [8]uint16
		for i := 0; i < 8; i++ {
			out[i] = uint16(int16(int8(la[2*i])) + int16(int8(la[2*i+1])))
		}
		d.stack.Push(FromLanes16(out))
	case wasm.SimdI16x8ExtAddPairwiseI8x16U:
		v := d.stack.Pop()
		la := v.Lanes8()
		var out [8]uint16
		for i := 0; i < 8; i++ {
			out[i] = uint16(la[2*i]) + uint16(la[2*i+1])
		}
		d.stack.Push(FromLanes16(out))
	case wasm.SimdI16x8ExtMulLowI8x16S, wasm.SimdI16x8ExtMulHighI8x16S,
		wasm.SimdI16x8ExtMulLowI8x16U, wasm.SimdI16x8ExtMulHighI8x16U:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes8(), b.Lanes8()
		high := imm.SubOpcode == wasm.SimdI16x8ExtMulHighI8x16S || imm.SubOpcode == wasm.SimdI16x8ExtMulHighI8x16U
		signed := imm.SubOpcode == wasm.SimdI16x8ExtMulLowI8x16S || imm.SubOpcode == wasm.SimdI16x8ExtMulHighI8x16S
		off := 0
		if high {
			off = 8
		}
		var out [8]uint16
		for i := 0; i < 8; i++ {
			if signed {
				out[i] = uint16(int16(int8(la[off+i])) * int16(int8(lb[off+i])))
			} else {
				out[i] = uint16(la[off+i]) * uint16(lb[off+i])
			}
		}
		d.stack.Push(FromLanes16(out))
	case wasm.SimdI16x8Eq, wasm.SimdI16x8Ne, wasm.SimdI16x8LtS, wasm.SimdI16x8LtU,
		wasm.SimdI16x8GtS, wasm.SimdI16x8GtU, wasm.SimdI16x8LeS, wasm.SimdI16x8LeU,
		wasm.SimdI16x8GeS, wasm.SimdI16x8GeU:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes16(), b.Lanes16()
		var out [8]uint16
		for i := range out {
			out[i] = boolLane16(cmp16(imm.SubOpcode, la[i], lb[i]))
		}
		d.stack.Push(FromLanes16(out))

	// i32x4
	case wasm.SimdI32x4Neg:
		v := d.stack.Pop()
		l := v.Lanes32()
		for i, x := range l {
			l[i] = uint32(-int32(x))
		}
		d.stack.Push(FromLanes32(l))
	case wasm.SimdI32x4Abs:
		v := d.stack.Pop()
		l := v.Lanes32()
		for i, x := range l {
			l[i] = uint32(absInt32(int32(x)))
		}
		d.stack.Push(FromLanes32(l))
	case wasm.SimdI32x4AllTrue:
		v := d.stack.Pop()
		all := true
		for _, x := range v.Lanes32() {
			if x == 0 {
				all = false
			}
		}
		d.stack.Push(boolVal(all))
	case wasm.SimdI32x4Bitmask:
		v := d.stack.Pop()
		var m int32
		for i, x := range v.Lanes32() {
			if int32(x) < 0 {
				m |= 1 << i
			}
		}
		d.stack.Push(I32(m))
	case wasm.SimdI32x4Shl:
		shAmt := d.stack.Pop()
		v := d.stack.Pop()
		sh := shAmt.U32() & 31
		l := v.Lanes32()
		for i, x := range l {
			l[i] = x << sh
		}
		d.stack.Push(FromLanes32(l))
	case wasm.SimdI32x4ShrS:
		shAmt := d.stack.Pop()
		v := d.stack.Pop()
		sh := shAmt.U32() & 31
		l := v.Lanes32()
		for i, x := range l {
			l[i] = uint32(int32(x) >> sh)
		}
		d.stack.Push(FromLanes32(l))
	case wasm.SimdI32x4ShrU:
		shAmt := d.stack.Pop()
		v := d.stack.Pop()
		sh := shAmt.U32() & 31
		l := v.Lanes32()
		for i, x := range l {
			l[i] = x >> sh
		}
		d.stack.Push(FromLanes32(l))
	case wasm.SimdI32x4Add:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes32(), b.Lanes32()
		for i := range la {
			la[i] += lb[i]
		}
		d.stack.Push(FromLanes32(la))
	case wasm.SimdI32x4Sub:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes32(), b.Lanes32()
		for i := range la {
			la[i] -= lb[i]
		}
		d.stack.Push(FromLanes32(la))
	case wasm.SimdI32x4Mul:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes32(), b.Lanes32()
		for i := range la {
			la[i] *= lb[i]
		}
		d.stack.Push(FromLanes32(la))
	case wasm.SimdI32x4MinS:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes32(), b.Lanes32()
		for i := range la {
			if int32(lb[i]) < int32(la[i]) {
				la[i] = lb[i]
			}
		}
		d.stack.Push(FromLanes32(la))
	case wasm.SimdI32x4MinU:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes32(), b.Lanes32()
		for i := range la {
			if lb[i] < la[i] {
				la[i] = lb[i]
			}
		}
		d.stack.Push(FromLanes32(la))
	case wasm.SimdI32x4MaxS:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes32(), b.Lanes32()
		for i := range la {
			if int32(lb[i]) > int32(la[i]) {
				la[i] = lb[i]
			}
		}
		d.stack.Push(FromLanes32(la))
	case wasm.SimdI32x4MaxU:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes32(), b.Lanes32()
		for i := range la {
			if lb[i] > la[i] {
				la[i] = lb[i]
			}
		}
		d.stack.Push(FromLanes32(la))
	case wasm.SimdI32x4DotI16x8S:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes16(), b.Lanes16()
		var out [4]uint32
		for i := range out {
			out[i] = uint32(int32(int16(la[2*i]))*int32(int16(lb[2*i])) + int32(int16(la[2*i+1]))*int32(int16(lb[2*i+1])))
		}
		d.stack.Push(FromLanes32(out))
	case wasm.SimdI32x4ExtendLowI16x8S:
		v := d.stack.Pop()
		la := v.Lanes16()
		var out [4]uint32
		for i := 0; i < 4; i++ {
			out[i] = uint32(int32(int16(la[i])))
		}
		d.stack.Push(FromLanes32(out))
	case wasm.SimdI32x4ExtendHighI16x8S:
		v := d.stack.Pop()
		la := v.Lanes16()
		var out [4]uint32
		for i := 0; i < 4; i++ {
			out[i] = uint32(int32(int16(la[i+4])))
		}
		d.stack.Push(FromLanes32(out))
	case wasm.SimdI32x4ExtendLowI16x8U:
		v := d.stack.Pop()
		la := v.Lanes16()
		var out [4]uint32
		for i := 0; i < 4; i++ {
			out[i] = uint32(la[i])
		}
		d.stack.Push(FromLanes32(out))
	case wasm.SimdI32x4ExtendHighI16x8U:
		v := d.stack.Pop()
		la := v.Lanes16()
		var out [4]uint32
		for i := 0; i < 4; i++ {
			out[i] = uint32(la[i+4])
		}
		d.stack.Push(FromLanes32(out))
	case wasm.SimdI32x4ExtMulLowI16x8S, wasm.SimdI32x4ExtMulHighI16x8S,
		wasm.SimdI32x4ExtMulLowI16x8U, wasm.SimdI32x4ExtMulHighI16x8U:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes16(), b.Lanes16()
		high := imm.SubOpcode == wasm.SimdI32x4ExtMulHighI16x8S || imm.SubOpcode == wasm.SimdI32x4ExtMulHighI16x8U
		signed := imm.SubOpcode == wasm.SimdI32x4ExtMulLowI16x8S || imm.SubOpcode == wasm.SimdI32x4ExtMulHighI16x8S
		off := 0
		if high {
			off = 4
		}
		var out [4]uint32
		for i := 0; i < 4; i++ {
			if signed {
				out[i] = uint32(int32(int16(la[off+i])) * int32(int16(lb[off+i])))
			} else {
				out[i] = uint32(la[off+i]) * uint32(lb[off+i])
			}
		}
		d.stack.Push(FromLanes32(out))
	case wasm.SimdI32x4Eq, wasm.SimdI32x4Ne, wasm.SimdI32x4LtS, wasm.SimdI32x4LtU,
		wasm.SimdI32x4GtS, wasm.SimdI32x4GtU, wasm.SimdI32x4LeS, wasm.SimdI32x4LeU,
		wasm.SimdI32x4GeS, wasm.SimdI32x4GeU:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes32(), b.Lanes32()
		var out [4]uint32
		for i := range out {
			out[i] = boolLane32(cmp32(imm.SubOpcode, la[i], lb[i]))
		}
		d.stack.Push(FromLanes32(out))
	case wasm.SimdI32x4TruncSatF32x4S, wasm.SimdI32x4TruncSatF32x4U:
		v := d.stack.Pop()
		lf := v.LanesF32()
		var out [4]uint32
		signed := imm.SubOpcode == wasm.SimdI32x4TruncSatF32x4S
		for i, f := range lf {
			out[i] = uint32(truncSatToI32(float64(f), signed))
		}
		d.stack.Push(FromLanes32(out))
	case wasm.SimdI32x4TruncSatF64x2SZero, wasm.SimdI32x4TruncSatF64x2UZero:
		v := d.stack.Pop()
		lf := v.LanesF64()
		var out [4]uint32
		signed := imm.SubOpcode == wasm.SimdI32x4TruncSatF64x2SZero
		for i, f := range lf {
			out[i] = uint32(truncSatToI32(f, signed))
		}
		d.stack.Push(FromLanes32(out))
	case wasm.SimdF32x4ConvertI32x4S:
		v := d.stack.Pop()
		l := v.Lanes32()
		var out [4]float32
		for i, x := range l {
			out[i] = float32(int32(x))
		}
		d.stack.Push(FromLanesF32(out))
	case wasm.SimdF32x4ConvertI32x4U:
		v := d.stack.Pop()
		l := v.Lanes32()
		var out [4]float32
		for i, x := range l {
			out[i] = float32(x)
		}
		d.stack.Push(FromLanesF32(out))
	case wasm.SimdF64x2ConvertLowI32x4S:
		v := d.stack.Pop()
		l := v.Lanes32()
		var out [2]float64
		out[0] = float64(int32(l[0]))
		out[1] = float64(int32(l[1]))
		d.stack.Push(FromLanesF64(out))
	case wasm.SimdF64x2ConvertLowI32x4U:
		v := d.stack.Pop()
		l := v.Lanes32()
		var out [2]float64
		out[0] = float64(l[0])
		out[1] = float64(l[1])
		d.stack.Push(FromLanesF64(out))
	case wasm.SimdF32x4DemoteF64x2Zero:
		v := d.stack.Pop()
		lf := v.LanesF64()
		out := [4]float32{float32(lf[0]), float32(lf[1]), 0, 0}
		d.stack.Push(FromLanesF32(out))
	case wasm.SimdF64x2PromoteLowF32x4:
		v := d.stack.Pop()
		lf := v.LanesF32()
		out := [2]float64{float64(lf[0]), float64(lf[1])}
		d.stack.Push(FromLanesF64(out))

	// i64x2
	case wasm.SimdI64x2Neg:
		v := d.stack.Pop()
		l := v.Lanes64()
		for i, x := range l {
			l[i] = uint64(-int64(x))
		}
		d.stack.Push(FromLanes64(l))
	case wasm.SimdI64x2Abs:
		v := d.stack.Pop()
		l := v.Lanes64()
		for i, x := range l {
			l[i] = uint64(absInt64(int64(x)))
		}
		d.stack.Push(FromLanes64(l))
	case wasm.SimdI64x2AllTrue:
		v := d.stack.Pop()
		all := true
		for _, x := range v.Lanes64() {
			if x == 0 {
				all = false
			}
		}
		d.stack.Push(boolVal(all))
	case wasm.SimdI64x2Bitmask:
		v := d.stack.Pop()
		var m int32
		for i, x := range v.Lanes64() {
			if int64(x) < 0 {
				m |= 1 << i
			}
		}
		d.stack.Push(I32(m))
	case wasm.SimdI64x2Shl:
		shAmt := d.stack.Pop()
		v := d.stack.Pop()
		sh := shAmt.U64() & 63
		l := v.Lanes64()
		for i, x := range l {
			l[i] = x << sh
		}
		d.stack.Push(FromLanes64(l))
	case wasm.SimdI64x2ShrS:
		shAmt := d.stack.Pop()
		v := d.stack.Pop()
		sh := shAmt.U64() & 63
		l := v.Lanes64()
		for i, x := range l {
			l[i] = uint64(int64(x) >> sh)
		}
		d.stack.Push(FromLanes64(l))
	case wasm.SimdI64x2ShrU:
		shAmt := d.stack.Pop()
		v := d.stack.Pop()
		sh := shAmt.U64() & 63
		l := v.Lanes64()
		for i, x := range l {
			l[i] = x >> sh
		}
		d.stack.Push(FromLanes64(l))
	case wasm.SimdI64x2Add:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes64(), b.Lanes64()
		for i := range la {
			la[i] += lb[i]
		}
		d.stack.Push(FromLanes64(la))
	case wasm.SimdI64x2Sub:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes64(), b.Lanes64()
		for i := range la {
			la[i] -= lb[i]
		}
		d.stack.Push(FromLanes64(la))
	case wasm.SimdI64x2Mul:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes64(), b.Lanes64()
		for i := range la {
			la[i] *= lb[i]
		}
		d.stack.Push(FromLanes64(la))
	case wasm.SimdI64x2ExtendLowI32x4S:
		v := d.stack.Pop()
		la := v.Lanes32()
		out := [2]uint64{uint64(int64(int32(la[0]))), uint64(int64(int32(la[1])))}
		d.stack.Push(FromLanes64(out))
	case wasm.SimdI64x2ExtendHighI32x4S:
		v := d.stack.Pop()
		la := v.Lanes32()
		out := [2]uint64{uint64(int64(int32(la[2]))), uint64(int64(int32(la[3])))}
		d.stack.Push(FromLanes64(out))
	case wasm.SimdI64x2ExtendLowI32x4U:
		v := d.stack.Pop()
		la := v.Lanes32()
		out := [2]uint64{uint64(la[0]), uint64(la[1])}
		d.stack.Push(FromLanes64(out))
	case wasm.SimdI64x2ExtendHighI32x4U:
		v := d.stack.Pop()
		la := v.Lanes32()
		out := [2]uint64{uint64(la[2]), uint64(la[3])}
		d.stack.Push(FromLanes64(out))
	case wasm.SimdI64x2ExtMulLowI32x4S, wasm.SimdI64x2ExtMulHighI32x4S,
		wasm.SimdI64x2ExtMulLowI32x4U, wasm.SimdI64x2ExtMulHighI32x4U:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes32(), b.Lanes32()
		high := imm.SubOpcode == wasm.SimdI64x2ExtMulHighI32x4S || imm.SubOpcode == wasm.SimdI64x2ExtMulHighI32x4U
		signed := imm.SubOpcode == wasm.SimdI64x2ExtMulLowI32x4S || imm.SubOpcode == wasm.SimdI64x2ExtMulHighI32x4S
		off := 0
		if high {
			off = 2
		}
		var out [2]uint64
		for i := 0; i < 2; i++ {
			if signed {
				out[i] = uint64(int64(int32(la[off+i])) * int64(int32(lb[off+i])))
			} else {
				out[i] = uint64(la[off+i]) * uint64(lb[off+i])
			}
		}
		d.stack.Push(FromLanes64(out))
	case wasm.SimdI64x2Eq, wasm.SimdI64x2Ne, wasm.SimdI64x2LtS, wasm.SimdI64x2GtS,
		wasm.SimdI64x2LeS, wasm.SimdI64x2GeS:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.Lanes64(), b.Lanes64()
		var out [2]uint64
		for i := range out {
			out[i] = boolLane64(cmp64(imm.SubOpcode, la[i], lb[i]))
		}
		d.stack.Push(FromLanes64(out))

	// f32x4
	case wasm.SimdF32x4Abs:
		v := d.stack.Pop()
		l := v.LanesF32()
		for i, f := range l {
			l[i] = float32(math.Abs(float64(f)))
		}
		d.stack.Push(FromLanesF32(l))
	case wasm.SimdF32x4Neg:
		v := d.stack.Pop()
		l := v.LanesF32()
		for i, f := range l {
			l[i] = -f
		}
		d.stack.Push(FromLanesF32(l))
	case wasm.SimdF32x4Sqrt:
		v := d.stack.Pop()
		l := v.LanesF32()
		for i, f := range l {
			l[i] = float32(math.Sqrt(float64(f)))
		}
		d.stack.Push(FromLanesF32(l))
	case wasm.SimdF32x4Ceil:
		v := d.stack.Pop()
		l := v.LanesF32()
		for i, f := range l {
			l[i] = float32(math.Ceil(float64(f)))
		}
		d.stack.Push(FromLanesF32(l))
	case wasm.SimdF32x4Floor:
		v := d.stack.Pop()
		l := v.LanesF32()
		for i, f := range l {
			l[i] = float32(math.Floor(float64(f)))
		}
		d.stack.Push(FromLanesF32(l))
	case wasm.SimdF32x4Trunc:
		v := d.stack.Pop()
		l := v.LanesF32()
		for i, f := range l {
			l[i] = float32(math.Trunc(float64(f)))
		}
		d.stack.Push(FromLanesF32(l))
	case wasm.SimdF32x4Nearest:
		v := d.stack.Pop()
		l := v.LanesF32()
		for i, f := range l {
			l[i] = float32(math.RoundToEven(float64(f)))
		}
		d.stack.Push(FromLanesF32(l))
	case wasm.SimdF32x4Add:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.LanesF32(), b.LanesF32()
		for i := range la {
			la[i] += lb[i]
		}
		d.stack.Push(FromLanesF32(la))
	case wasm.SimdF32x4Sub:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.LanesF32(), b.LanesF32()
		for i := range la {
			la[i] -= lb[i]
		}
		d.stack.Push(FromLanesF32(la))
	case wasm.SimdF32x4Mul:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.LanesF32(), b.LanesF32()
		for i := range la {
			la[i] *= lb[i]
		}
		d.stack.Push(FromLanesF32(la))
	case wasm.SimdF32x4Div:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.LanesF32(), b.LanesF32()
		for i := range la {
			la[i] /= lb[i]
		}
		d.stack.Push(FromLanesF32(la))
	case wasm.SimdF32x4Min:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.LanesF32(), b.LanesF32()
		for i := range la {
			la[i] = f32Min(la[i], lb[i])
		}
		d.stack.Push(FromLanesF32(la))
	case wasm.SimdF32x4Max:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.LanesF32(), b.LanesF32()
		for i := range la {
			la[i] = f32Max(la[i], lb[i])
		}
		d.stack.Push(FromLanesF32(la))
	case wasm.SimdF32x4Pmin:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.LanesF32(), b.LanesF32()
		for i := range la {
			if lb[i] < la[i] {
				la[i] = lb[i]
			}
		}
		d.stack.Push(FromLanesF32(la))
	case wasm.SimdF32x4Pmax:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.LanesF32(), b.LanesF32()
		for i := range la {
			if lb[i] > la[i] {
				la[i] = lb[i]
			}
		}
		d.stack.Push(FromLanesF32(la))
	case wasm.SimdF32x4Eq, wasm.SimdF32x4Ne, wasm.SimdF32x4Lt, wasm.SimdF32x4Gt,
		wasm.SimdF32x4Le, wasm.SimdF32x4Ge:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.LanesF32(), b.LanesF32()
		var out [4]uint32
		for i := range out {
			out[i] = boolLane32(cmpF32(imm.SubOpcode, la[i], lb[i]))
		}
		d.stack.Push(FromLanes32(out))

	// f64x2
	case wasm.SimdF64x2Abs:
		v := d.stack.Pop()
		l := v.LanesF64()
		for i, f := range l {
			l[i] = math.Abs(f)
		}
		d.stack.Push(FromLanesF64(l))
	case wasm.SimdF64x2Neg:
		v := d.stack.Pop()
		l := v.LanesF64()
		for i, f := range l {
			l[i] = -f
		}
		d.stack.Push(FromLanesF64(l))
	case wasm.SimdF64x2Sqrt:
		v := d.stack.Pop()
		l := v.LanesF64()
		for i, f := range l {
			l[i] = math.Sqrt(f)
		}
		d.stack.Push(FromLanesF64(l))
	case wasm.SimdF64x2Ceil:
		v := d.stack.Pop()
		l := v.LanesF64()
		for i, f := range l {
			l[i] = math.Ceil(f)
		}
		d.stack.Push(FromLanesF64(l))
	case wasm.SimdF64x2Floor:
		v := d.stack.Pop()
		l := v.LanesF64()
		for i, f := range l {
			l[i] = math.Floor(f)
		}
		d.stack.Push(FromLanesF64(l))
	case wasm.SimdF64x2Trunc:
		v := d.stack.Pop()
		l := v.LanesF64()
		for i, f := range l {
			l[i] = math.Trunc(f)
		}
		d.stack.Push(FromLanesF64(l))
	case wasm.SimdF64x2Nearest:
		v := d.stack.Pop()
		l := v.LanesF64()
		for i, f := range l {
			l[i] = math.RoundToEven(f)
		}
		d.stack.Push(FromLanesF64(l))
	case wasm.SimdF64x2Add:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.LanesF64(), b.LanesF64()
		for i := range la {
			la[i] += lb[i]
		}
		d.stack.Push(FromLanesF64(la))
	case wasm.SimdF64x2Sub:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.LanesF64(), b.LanesF64()
		for i := range la {
			la[i] -= lb[i]
		}
		d.stack.Push(FromLanesF64(la))
	case wasm.SimdF64x2Mul:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.LanesF64(), b.LanesF64()
		for i := range la {
			la[i] *= lb[i]
		}
		d.stack.Push(FromLanesF64(la))
	case wasm.SimdF64x2Div:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.LanesF64(), b.LanesF64()
		for i := range la {
			la[i] /= lb[i]
		}
		d.stack.Push(FromLanesF64(la))
	case wasm.SimdF64x2Min:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.LanesF64(), b.LanesF64()
		for i := range la {
			la[i] = f64Min(la[i], lb[i])
		}
		d.stack.Push(FromLanesF64(la))
	case wasm.SimdF64x2Max:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.LanesF64(), b.LanesF64()
		for i := range la {
			la[i] = f64Max(la[i], lb[i])
		}
		d.stack.Push(FromLanesF64(la))
	case wasm.SimdF64x2Pmin:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.LanesF64(), b.LanesF64()
		for i := range la {
			if lb[i] < la[i] {
				la[i] = lb[i]
			}
		}
		d.stack.Push(FromLanesF64(la))
	case wasm.SimdF64x2Pmax:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.LanesF64(), b.LanesF64()
		for i := range la {
			if lb[i] > la[i] {
				la[i] = lb[i]
			}
		}
		d.stack.Push(FromLanesF64(la))
	case wasm.SimdF64x2Eq, wasm.SimdF64x2Ne, wasm.SimdF64x2Lt, wasm.SimdF64x2Gt,
		wasm.SimdF64x2Le, wasm.SimdF64x2Ge:
		b, a := d.stack.Pop(), d.stack.Pop()
		la, lb := a.LanesF64(), b.LanesF64()
		var out [2]uint64
		for i := range out {
			out[i] = boolLane64(cmpF64(imm.SubOpcode, la[i], lb[i]))
		}
		d.stack.Push(FromLanes64(out))

	default:
		return nil, false
	}
	return nil, true
}

func cmp8(sub uint32, a, b byte) bool {
	switch sub {
	case wasm.SimdI8x16Eq:
		return a == b
	case wasm.SimdI8x16Ne:
		return a != b
	case wasm.SimdI8x16LtS:
		return int8(a) < int8(b)
	case wasm.SimdI8x16LtU:
		return a < b
	case wasm.SimdI8x16GtS:
		return int8(a) > int8(b)
	case wasm.SimdI8x16GtU:
		return a > b
	case wasm.SimdI8x16LeS:
		return int8(a) <= int8(b)
	case wasm.SimdI8x16LeU:
		return a <= b
	case wasm.SimdI8x16GeS:
		return int8(a) >= int8(b)
	case wasm.SimdI8x16GeU:
		return a >= b
	}
	return false
}

func cmp16(sub uint32, a, b uint16) bool {
	switch sub {
	case wasm.SimdI16x8Eq:
		return a == b
	case wasm.SimdI16x8Ne:
		return a != b
	case wasm.SimdI16x8LtS:
		return int16(a) < int16(b)
	case wasm.SimdI16x8LtU:
		return a < b
	case wasm.SimdI16x8GtS:
		return int16(a) > int16(b)
	case wasm.SimdI16x8GtU:
		return a > b
	case wasm.SimdI16x8LeS:
		return int16(a) <= int16(b)
	case wasm.SimdI16x8LeU:
		return a <= b
	case wasm.SimdI16x8GeS:
		return int16(a) >= int16(b)
	case wasm.SimdI16x8GeU:
		return a >= b
	}
	return false
}

func cmp32(sub uint32, a, b uint32) bool {
	switch sub {
	case wasm.SimdI32x4Eq:
		return a == b
	case wasm.SimdI32x4Ne:
		return a != b
	case wasm.SimdI32x4LtS:
		return int32(a) < int32(b)
	case wasm.SimdI32x4LtU:
		return a < b
	case wasm.SimdI32x4GtS:
		return int32(a) > int32(b)
	case wasm.SimdI32x4GtU:
		return a > b
	case wasm.SimdI32x4LeS:
		return int32(a) <= int32(b)
	case wasm.SimdI32x4LeU:
		return a <= b
	case wasm.SimdI32x4GeS:
		return int32(a) >= int32(b)
	case wasm.SimdI32x4GeU:
		return a >= b
	}
	return false
}

func cmp64(sub uint32, a, b uint64) bool {
	switch sub {
	case wasm.SimdI64x2Eq:
		return a == b
	case wasm.SimdI64x2Ne:
		return a != b
	case wasm.SimdI64x2LtS:
		return int64(a) < int64(b)
	case wasm.SimdI64x2GtS:
		return int64(a) > int64(b)
	case wasm.SimdI64x2LeS:
		return int64(a) <= int64(b)
	case wasm.SimdI64x2GeS:
		return int64(a) >= int64(b)
	}
	return false
}

func cmpF32(sub uint32, a, b float32) bool {
	switch sub {
	case wasm.SimdF32x4Eq:
		return a == b
	case wasm.SimdF32x4Ne:
		return a != b
	case wasm.SimdF32x4Lt:
		return a < b
	case wasm.SimdF32x4Gt:
		return a > b
	case wasm.SimdF32x4Le:
		return a <= b
	case wasm.SimdF32x4Ge:
		return a >= b
	}
	return false
}

func cmpF64(sub uint32, a, b float64) bool {
	switch sub {
	case wasm.SimdF64x2Eq:
		return a == b
	case wasm.SimdF64x2Ne:
		return a != b
	case wasm.SimdF64x2Lt:
		return a < b
	case wasm.SimdF64x2Gt:
		return a > b
	case wasm.SimdF64x2Le:
		return a <= b
	case wasm.SimdF64x2Ge:
		return a >= b
	}
	return false
}

func absInt8(x int8) int8 {
	if x < 0 {
		return -x
	}
	return x
}
func absInt16(x int16) int16 {
	if x < 0 {
		return -x
	}
	return x
}
func absInt32(x int32) int32 {
	if x < 0 {
		return -x
	}
	return x
}
func absInt64(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}

func saturateI16ToI8(x int16) int8 {
	if x < -128 {
		return -128
	}
	if x > 127 {
		return 127
	}
	return int8(x)
}

func saturateI16ToU8(x int16) byte {
	if x < 0 {
		return 0
	}
	if x > 255 {
		return 255
	}
	return byte(x)
}

func saturateI32ToI16(x int32) int16 {
	if x < -32768 {
		return -32768
	}
	if x > 32767 {
		return 32767
	}
	return int16(x)
}

func saturateI32ToU16(x int32) uint16 {
	if x < 0 {
		return 0
	}
	if x > 65535 {
		return 65535
	}
	return uint16(x)
}
