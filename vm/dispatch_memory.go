package vm

import (
	"encoding/binary"
	"math"

	"github.com/wasmforge/corevm/wasm"
)

func isLoadOpcode(op byte) bool {
	return op >= wasm.OpI32Load && op <= wasm.OpI64Load32U
}

func isStoreOpcode(op byte) bool {
	return op >= wasm.OpI32Store && op <= wasm.OpI64Store32
}

// effectiveAddr pops the memory index operand and folds it with the
// instruction's static offset into the widened u64 address spec §3.3 uses
// for bounds checks on both 32- and 64-bit memories.
func (d *dispatcher) effectiveAddr(mem *MemoryInstance, imm wasm.MemoryImm) uint64 {
	idx := d.stack.Pop()
	var base uint64
	if mem.is64 {
		base = idx.U64()
	} else {
		base = uint64(idx.U32())
	}
	return base + imm.Offset
}

func (d *dispatcher) memoryFor(idx uint32) *MemoryInstance {
	return d.mod.Memories[idx]
}

func (d *dispatcher) execLoadStore(ins Instr) *Trap {
	op := ins.Opcode
	pc := uint32(d.pc)
	imm, _ := ins.Imm.(wasm.MemoryImm)
	mem := d.memoryFor(imm.MemIdx)

	if isLoadOpcode(op) {
		addr := d.effectiveAddr(mem, imm)
		switch op {
		case wasm.OpI32Load:
			raw, trap := mem.Load(addr, 4, op, uint32(imm.Offset))
			if trap != nil {
				return trap
			}
			d.stack.Push(I32(int32(binary.LittleEndian.Uint32(raw))))
		case wasm.OpI64Load:
			raw, trap := mem.Load(addr, 8, op, uint32(imm.Offset))
			if trap != nil {
				return trap
			}
			d.stack.Push(I64(int64(binary.LittleEndian.Uint64(raw))))
		case wasm.OpF32Load:
			raw, trap := mem.Load(addr, 4, op, uint32(imm.Offset))
			if trap != nil {
				return trap
			}
			d.stack.Push(F32(math.Float32frombits(binary.LittleEndian.Uint32(raw))))
		case wasm.OpF64Load:
			raw, trap := mem.Load(addr, 8, op, uint32(imm.Offset))
			if trap != nil {
				return trap
			}
			d.stack.Push(F64(math.Float64frombits(binary.LittleEndian.Uint64(raw))))
		case wasm.OpI32Load8S:
			raw, trap := mem.Load(addr, 1, op, uint32(imm.Offset))
			if trap != nil {
				return trap
			}
			d.stack.Push(I32(int32(int8(raw[0]))))
		case wasm.OpI32Load8U:
			raw, trap := mem.Load(addr, 1, op, uint32(imm.Offset))
			if trap != nil {
				return trap
			}
			d.stack.Push(I32(int32(raw[0])))
		case wasm.OpI32Load16S:
			raw, trap := mem.Load(addr, 2, op, uint32(imm.Offset))
			if trap != nil {
				return trap
			}
			d.stack.Push(I32(int32(int16(binary.LittleEndian.Uint16(raw)))))
		case wasm.OpI32Load16U:
			raw, trap := mem.Load(addr, 2, op, uint32(imm.Offset))
			if trap != nil {
				return trap
			}
			d.stack.Push(I32(int32(binary.LittleEndian.Uint16(raw))))
		case wasm.OpI64Load8S:
			raw, trap := mem.Load(addr, 1, op, uint32(imm.Offset))
			if trap != nil {
				return trap
			}
			d.stack.Push(I64(int64(int8(raw[0]))))
		case wasm.OpI64Load8U:
			raw, trap := mem.Load(addr, 1, op, uint32(imm.Offset))
			if trap != nil {
				return trap
			}
			d.stack.Push(I64(int64(raw[0])))
		case wasm.OpI64Load16S:
			raw, trap := mem.Load(addr, 2, op, uint32(imm.Offset))
			if trap != nil {
				return trap
			}
			d.stack.Push(I64(int64(int16(binary.LittleEndian.Uint16(raw)))))
		case wasm.OpI64Load16U:
			raw, trap := mem.Load(addr, 2, op, uint32(imm.Offset))
			if trap != nil {
				return trap
			}
			d.stack.Push(I64(int64(binary.LittleEndian.Uint16(raw))))
		case wasm.OpI64Load32S:
			raw, trap := mem.Load(addr, 4, op, uint32(imm.Offset))
			if trap != nil {
				return trap
			}
			d.stack.Push(I64(int64(int32(binary.LittleEndian.Uint32(raw)))))
		case wasm.OpI64Load32U:
			raw, trap := mem.Load(addr, 4, op, uint32(imm.Offset))
			if trap != nil {
				return trap
			}
			d.stack.Push(I64(int64(binary.LittleEndian.Uint32(raw))))
		default:
			return NewTrap(TrapUnreachable, op, pc, "unimplemented load opcode")
		}
		return nil
	}

	// Stores pop the value first, then the address, matching operand order
	// on the wire (addr pushed before value).
	switch op {
	case wasm.OpI32Store:
		v := d.stack.Pop()
		addr := d.effectiveAddr(mem, imm)
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], v.U32())
		return mem.Store(addr, buf[:], op, uint32(imm.Offset))
	case wasm.OpI64Store:
		v := d.stack.Pop()
		addr := d.effectiveAddr(mem, imm)
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], v.U64())
		return mem.Store(addr, buf[:], op, uint32(imm.Offset))
	case wasm.OpF32Store:
		v := d.stack.Pop()
		addr := d.effectiveAddr(mem, imm)
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v.F32()))
		return mem.Store(addr, buf[:], op, uint32(imm.Offset))
	case wasm.OpF64Store:
		v := d.stack.Pop()
		addr := d.effectiveAddr(mem, imm)
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v.F64()))
		return mem.Store(addr, buf[:], op, uint32(imm.Offset))
	case wasm.OpI32Store8:
		v := d.stack.Pop()
		addr := d.effectiveAddr(mem, imm)
		return mem.Store(addr, []byte{byte(v.U32())}, op, uint32(imm.Offset))
	case wasm.OpI32Store16:
		v := d.stack.Pop()
		addr := d.effectiveAddr(mem, imm)
		var buf [2]byte
		binary.LittleEndian.PutUint16(buf[:], uint16(v.U32()))
		return mem.Store(addr, buf[:], op, uint32(imm.Offset))
	case wasm.OpI64Store8:
		v := d.stack.Pop()
		addr := d.effectiveAddr(mem, imm)
		return mem.Store(addr, []byte{byte(v.U64())}, op, uint32(imm.Offset))
	case wasm.OpI64Store16:
		v := d.stack.Pop()
		addr := d.effectiveAddr(mem, imm)
		var buf [2]byte
		binary.LittleEndian.PutUint16(buf[:], uint16(v.U64()))
		return mem.Store(addr, buf[:], op, uint32(imm.Offset))
	case wasm.OpI64Store32:
		v := d.stack.Pop()
		addr := d.effectiveAddr(mem, imm)
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(v.U64()))
		return mem.Store(addr, buf[:], op, uint32(imm.Offset))
	default:
		return NewTrap(TrapUnreachable, op, pc, "unimplemented store opcode")
	}
}
