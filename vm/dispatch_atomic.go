package vm

import "github.com/wasmforge/corevm/wasm"

// execAtomic implements the 0xFE-prefixed threads/atomics opcodes (spec
// §4.6.6): plain atomic load/store, read-modify-write, wait/notify and
// fence. Atomic ops work on both shared and unshared memories per the
// finalized threads proposal; only memory.atomic.wait requires sharedness,
// enforced inside WaiterRegistry.
func (d *dispatcher) execAtomic(ins Instr) *Trap {
	imm := ins.Imm.(wasm.AtomicImm)
	op := ins.Opcode
	pc := uint32(d.pc)

	if imm.SubOpcode == wasm.AtomicFence {
		return nil
	}

	mem := d.memoryFor(imm.MemArg.MemIdx)

	switch imm.SubOpcode {
	case wasm.AtomicNotify:
		count := d.stack.Pop()
		addr := d.effectiveAddr(mem, *imm.MemArg)
		n := d.rt.Waiters.Notify(mem, addr, count.U32())
		d.stack.Push(I32(int32(n)))
		return nil
	case wasm.AtomicWait32:
		timeout := d.stack.Pop()
		expected := d.stack.Pop()
		addr := d.effectiveAddr(mem, *imm.MemArg)
		r, trap := d.rt.Waiters.Wait32(mem, addr, expected.U32(), timeout.I64())
		if trap != nil {
			return trap
		}
		d.stack.Push(I32(r))
		return nil
	case wasm.AtomicWait64:
		timeout := d.stack.Pop()
		expected := d.stack.Pop()
		addr := d.effectiveAddr(mem, *imm.MemArg)
		r, trap := d.rt.Waiters.Wait64(mem, addr, expected.U64(), timeout.I64())
		if trap != nil {
			return trap
		}
		d.stack.Push(I32(r))
		return nil
	}

	// Plain loads
	if w, is64, ok := atomicLoadWidth(imm.SubOpcode); ok {
		addr := d.effectiveAddr(mem, *imm.MemArg)
		old, trap := atomicModify(mem, addr, w, op, pc, func(cur uint64) uint64 { return cur })
		if trap != nil {
			return trap
		}
		if is64 {
			d.stack.Push(I64(int64(old)))
		} else {
			d.stack.Push(I32(int32(uint32(old))))
		}
		return nil
	}

	// Plain stores
	if w, is64, ok := atomicStoreWidth(imm.SubOpcode); ok {
		var val uint64
		if is64 {
			val = d.stack.Pop().U64()
		} else {
			val = uint64(d.stack.Pop().U32())
		}
		addr := d.effectiveAddr(mem, *imm.MemArg)
		_, trap := atomicModify(mem, addr, w, op, pc, func(uint64) uint64 { return val })
		if trap != nil {
			return trap
		}
		return nil
	}

	if imm.SubOpcode >= wasm.AtomicI32RmwCmpxchg && isCmpxchg(imm.SubOpcode) {
		w, is64 := atomicRmwWidth(imm.SubOpcode, wasm.AtomicI32RmwCmpxchg)
		var expected, replacement uint64
		if is64 {
			replacement = d.stack.Pop().U64()
			expected = d.stack.Pop().U64()
		} else {
			replacement = uint64(d.stack.Pop().U32())
			expected = uint64(d.stack.Pop().U32())
		}
		addr := d.effectiveAddr(mem, *imm.MemArg)
		mask := widthMask(w)
		old, trap := atomicModify(mem, addr, w, op, pc, func(cur uint64) uint64 {
			if cur == expected&mask {
				return replacement
			}
			return cur
		})
		if trap != nil {
			return trap
		}
		if is64 {
			d.stack.Push(I64(int64(old)))
		} else {
			d.stack.Push(I32(int32(uint32(old))))
		}
		return nil
	}

	if base, apply, ok := rmwApply(imm.SubOpcode); ok {
		w, is64 := atomicRmwWidth(imm.SubOpcode, base)
		var operand uint64
		if is64 {
			operand = d.stack.Pop().U64()
		} else {
			operand = uint64(d.stack.Pop().U32())
		}
		addr := d.effectiveAddr(mem, *imm.MemArg)
		old, trap := atomicModify(mem, addr, w, op, pc, func(cur uint64) uint64 {
			return apply(cur, operand) & widthMask(w)
		})
		if trap != nil {
			return trap
		}
		if is64 {
			d.stack.Push(I64(int64(old)))
		} else {
			d.stack.Push(I32(int32(uint32(old))))
		}
		return nil
	}

	return NewTrap(TrapUnreachable, op, pc, "unimplemented atomic opcode")
}

func widthMask(w int) uint64 {
	if w >= 8 {
		return ^uint64(0)
	}
	return (uint64(1) << (8 * w)) - 1
}

func atomicLoadWidth(sub uint32) (width int, is64 bool, ok bool) {
	switch sub {
	case wasm.AtomicI32Load:
		return 4, false, true
	case wasm.AtomicI64Load:
		return 8, true, true
	case wasm.AtomicI32Load8U:
		return 1, false, true
	case wasm.AtomicI32Load16U:
		return 2, false, true
	case wasm.AtomicI64Load8U:
		return 1, true, true
	case wasm.AtomicI64Load16U:
		return 2, true, true
	case wasm.AtomicI64Load32U:
		return 4, true, true
	}
	return 0, false, false
}

func atomicStoreWidth(sub uint32) (width int, is64 bool, ok bool) {
	switch sub {
	case wasm.AtomicI32Store:
		return 4, false, true
	case wasm.AtomicI64Store:
		return 8, true, true
	case wasm.AtomicI32Store8:
		return 1, false, true
	case wasm.AtomicI32Store16:
		return 2, false, true
	case wasm.AtomicI64Store8:
		return 1, true, true
	case wasm.AtomicI64Store16:
		return 2, true, true
	case wasm.AtomicI64Store32:
		return 4, true, true
	}
	return 0, false, false
}

// Each RMW kind (add/sub/and/or/xor/xchg) lays out its seven width variants
// in the same relative order: i32, i64, i32_8u, i32_16u, i64_8u, i64_16u,
// i64_32u. atomicRmwWidth maps a concrete sub-opcode back to its width given
// the kind's base (the i32 plain variant's sub-opcode).
func atomicRmwWidth(sub, base uint32) (width int, is64 bool) {
	switch sub - base {
	case 0:
		return 4, false
	case 1:
		return 8, true
	case 2:
		return 1, false
	case 3:
		return 2, false
	case 4:
		return 1, true
	case 5:
		return 2, true
	case 6:
		return 4, true
	}
	return 4, false
}

func isCmpxchg(sub uint32) bool {
	return sub >= wasm.AtomicI32RmwCmpxchg && sub <= wasm.AtomicI64Rmw32CmpxchgU
}

func rmwApply(sub uint32) (base uint32, apply func(cur, operand uint64) uint64, ok bool) {
	add := func(cur, operand uint64) uint64 { return cur + operand }
	sub_ := func(cur, operand uint64) uint64 { return cur - operand }
	and := func(cur, operand uint64) uint64 { return cur & operand }
	or := func(cur, operand uint64) uint64 { return cur | operand }
	xor := func(cur, operand uint64) uint64 { return cur ^ operand }
	xchg := func(cur, operand uint64) uint64 { return operand }

	switch {
	case sub >= wasm.AtomicI32RmwAdd && sub <= wasm.AtomicI64Rmw32AddU:
		return wasm.AtomicI32RmwAdd, add, true
	case sub >= wasm.AtomicI32RmwSub && sub <= wasm.AtomicI64Rmw32SubU:
		return wasm.AtomicI32RmwSub, sub_, true
	case sub >= wasm.AtomicI32RmwAnd && sub <= wasm.AtomicI64Rmw32AndU:
		return wasm.AtomicI32RmwAnd, and, true
	case sub >= wasm.AtomicI32RmwOr && sub <= wasm.AtomicI64Rmw32OrU:
		return wasm.AtomicI32RmwOr, or, true
	case sub >= wasm.AtomicI32RmwXor && sub <= wasm.AtomicI64Rmw32XorU:
		return wasm.AtomicI32RmwXor, xor, true
	case sub >= wasm.AtomicI32RmwXchg && sub <= wasm.AtomicI64Rmw32XchgU:
		return wasm.AtomicI32RmwXchg, xchg, true
	}
	return 0, nil, false
}

// atomicModify performs a locked read-modify-write of width bytes at addr,
// enforcing natural alignment and bounds, and returns the pre-modification
// value zero-extended into a uint64.
func atomicModify(mem *MemoryInstance, addr uint64, width int, opcode byte, pc uint32, f func(uint64) uint64) (uint64, *Trap) {
	if addr%uint64(width) != 0 {
		return 0, NewTrap(TrapUnalignedAtomicAccess, opcode, pc, "unaligned atomic access: addr=%d width=%d", addr, width)
	}
	mem.Lock()
	defer mem.Unlock()
	if trap := mem.checkBounds(addr, uint64(width), opcode, pc); trap != nil {
		return 0, trap
	}
	raw := mem.bytes[addr : addr+uint64(width)]
	var old uint64
	for i := 0; i < width; i++ {
		old |= uint64(raw[i]) << (8 * i)
	}
	newVal := f(old)
	for i := 0; i < width; i++ {
		raw[i] = byte(newVal >> (8 * i))
	}
	return old, nil
}
