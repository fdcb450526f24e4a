package vm

import (
	"math"
	"math/bits"

	"github.com/wasmforge/corevm/wasm"
)

// execNumeric implements the i32/i64/f32/f64 comparison, arithmetic,
// conversion and sign-extension opcodes (spec §4.6.2). Control flow, calls,
// references and variable access are handled directly in the main dispatch
// switch; everything else numeric lands here.
func (d *dispatcher) execNumeric(ins Instr) *Trap {
	op := ins.Opcode
	pc := uint32(d.pc)

	switch op {
	// i32 comparisons
	case wasm.OpI32Eqz:
		a := d.stack.Pop()
		d.stack.Push(boolVal(a.I32() == 0))
	case wasm.OpI32Eq:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(boolVal(a.I32() == b.I32()))
	case wasm.OpI32Ne:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(boolVal(a.I32() != b.I32()))
	case wasm.OpI32LtS:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(boolVal(a.I32() < b.I32()))
	case wasm.OpI32LtU:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(boolVal(a.U32() < b.U32()))
	case wasm.OpI32GtS:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(boolVal(a.I32() > b.I32()))
	case wasm.OpI32GtU:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(boolVal(a.U32() > b.U32()))
	case wasm.OpI32LeS:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(boolVal(a.I32() <= b.I32()))
	case wasm.OpI32LeU:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(boolVal(a.U32() <= b.U32()))
	case wasm.OpI32GeS:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(boolVal(a.I32() >= b.I32()))
	case wasm.OpI32GeU:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(boolVal(a.U32() >= b.U32()))

	// i64 comparisons
	case wasm.OpI64Eqz:
		a := d.stack.Pop()
		d.stack.Push(boolVal(a.I64() == 0))
	case wasm.OpI64Eq:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(boolVal(a.I64() == b.I64()))
	case wasm.OpI64Ne:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(boolVal(a.I64() != b.I64()))
	case wasm.OpI64LtS:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(boolVal(a.I64() < b.I64()))
	case wasm.OpI64LtU:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(boolVal(a.U64() < b.U64()))
	case wasm.OpI64GtS:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(boolVal(a.I64() > b.I64()))
	case wasm.OpI64GtU:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(boolVal(a.U64() > b.U64()))
	case wasm.OpI64LeS:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(boolVal(a.I64() <= b.I64()))
	case wasm.OpI64LeU:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(boolVal(a.U64() <= b.U64()))
	case wasm.OpI64GeS:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(boolVal(a.I64() >= b.I64()))
	case wasm.OpI64GeU:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(boolVal(a.U64() >= b.U64()))

	// f32 comparisons
	case wasm.OpF32Eq:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(boolVal(a.F32() == b.F32()))
	case wasm.OpF32Ne:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(boolVal(a.F32() != b.F32()))
	case wasm.OpF32Lt:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(boolVal(a.F32() < b.F32()))
	case wasm.OpF32Gt:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(boolVal(a.F32() > b.F32()))
	case wasm.OpF32Le:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(boolVal(a.F32() <= b.F32()))
	case wasm.OpF32Ge:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(boolVal(a.F32() >= b.F32()))

	// f64 comparisons
	case wasm.OpF64Eq:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(boolVal(a.F64() == b.F64()))
	case wasm.OpF64Ne:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(boolVal(a.F64() != b.F64()))
	case wasm.OpF64Lt:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(boolVal(a.F64() < b.F64()))
	case wasm.OpF64Gt:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(boolVal(a.F64() > b.F64()))
	case wasm.OpF64Le:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(boolVal(a.F64() <= b.F64()))
	case wasm.OpF64Ge:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(boolVal(a.F64() >= b.F64()))

	// i32 arithmetic
	case wasm.OpI32Clz:
		a := d.stack.Pop()
		d.stack.Push(I32(int32(bits.LeadingZeros32(a.U32()))))
	case wasm.OpI32Ctz:
		a := d.stack.Pop()
		d.stack.Push(I32(int32(bits.TrailingZeros32(a.U32()))))
	case wasm.OpI32Popcnt:
		a := d.stack.Pop()
		d.stack.Push(I32(int32(bits.OnesCount32(a.U32()))))
	case wasm.OpI32Add:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(I32(a.I32() + b.I32()))
	case wasm.OpI32Sub:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(I32(a.I32() - b.I32()))
	case wasm.OpI32Mul:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(I32(a.I32() * b.I32()))
	case wasm.OpI32DivS:
		b, a := d.stack.Pop(), d.stack.Pop()
		if b.I32() == 0 {
			return NewTrap(TrapDivideByZero, op, pc, "i32 division by zero")
		}
		if a.I32() == math.MinInt32 && b.I32() == -1 {
			return NewTrap(TrapIntegerOverflow, op, pc, "i32 division overflow")
		}
		d.stack.Push(I32(a.I32() / b.I32()))
	case wasm.OpI32DivU:
		b, a := d.stack.Pop(), d.stack.Pop()
		if b.U32() == 0 {
			return NewTrap(TrapDivideByZero, op, pc, "i32 division by zero")
		}
		d.stack.Push(I32(int32(a.U32() / b.U32())))
	case wasm.OpI32RemS:
		b, a := d.stack.Pop(), d.stack.Pop()
		if b.I32() == 0 {
			return NewTrap(TrapDivideByZero, op, pc, "i32 remainder by zero")
		}
		if a.I32() == math.MinInt32 && b.I32() == -1 {
			d.stack.Push(I32(0))
		} else {
			d.stack.Push(I32(a.I32() % b.I32()))
		}
	case wasm.OpI32RemU:
		b, a := d.stack.Pop(), d.stack.Pop()
		if b.U32() == 0 {
			return NewTrap(TrapDivideByZero, op, pc, "i32 remainder by zero")
		}
		d.stack.Push(I32(int32(a.U32() % b.U32())))
	case wasm.OpI32And:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(I32(int32(a.U32() & b.U32())))
	case wasm.OpI32Or:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(I32(int32(a.U32() | b.U32())))
	case wasm.OpI32Xor:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(I32(int32(a.U32() ^ b.U32())))
	case wasm.OpI32Shl:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(I32(int32(a.U32() << (b.U32() & 31))))
	case wasm.OpI32ShrS:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(I32(a.I32() >> (b.U32() & 31)))
	case wasm.OpI32ShrU:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(I32(int32(a.U32() >> (b.U32() & 31))))
	case wasm.OpI32Rotl:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(I32(int32(bits.RotateLeft32(a.U32(), int(b.U32()&31)))))
	case wasm.OpI32Rotr:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(I32(int32(bits.RotateLeft32(a.U32(), -int(b.U32()&31)))))

	// i64 arithmetic
	case wasm.OpI64Clz:
		a := d.stack.Pop()
		d.stack.Push(I64(int64(bits.LeadingZeros64(a.U64()))))
	case wasm.OpI64Ctz:
		a := d.stack.Pop()
		d.stack.Push(I64(int64(bits.TrailingZeros64(a.U64()))))
	case wasm.OpI64Popcnt:
		a := d.stack.Pop()
		d.stack.Push(I64(int64(bits.OnesCount64(a.U64()))))
	case wasm.OpI64Add:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(I64(a.I64() + b.I64()))
	case wasm.OpI64Sub:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(I64(a.I64() - b.I64()))
	case wasm.OpI64Mul:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(I64(a.I64() * b.I64()))
	case wasm.OpI64DivS:
		b, a := d.stack.Pop(), d.stack.Pop()
		if b.I64() == 0 {
			return NewTrap(TrapDivideByZero, op, pc, "i64 division by zero")
		}
		if a.I64() == math.MinInt64 && b.I64() == -1 {
			return NewTrap(TrapIntegerOverflow, op, pc, "i64 division overflow")
		}
		d.stack.Push(I64(a.I64() / b.I64()))
	case wasm.OpI64DivU:
		b, a := d.stack.Pop(), d.stack.Pop()
		if b.U64() == 0 {
			return NewTrap(TrapDivideByZero, op, pc, "i64 division by zero")
		}
		d.stack.Push(I64(int64(a.U64() / b.U64())))
	case wasm.OpI64RemS:
		b, a := d.stack.Pop(), d.stack.Pop()
		if b.I64() == 0 {
			return NewTrap(TrapDivideByZero, op, pc, "i64 remainder by zero")
		}
		if a.I64() == math.MinInt64 && b.I64() == -1 {
			d.stack.Push(I64(0))
		} else {
			d.stack.Push(I64(a.I64() % b.I64()))
		}
	case wasm.OpI64RemU:
		b, a := d.stack.Pop(), d.stack.Pop()
		if b.U64() == 0 {
			return NewTrap(TrapDivideByZero, op, pc, "i64 remainder by zero")
		}
		d.stack.Push(I64(int64(a.U64() % b.U64())))
	case wasm.OpI64And:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(I64(int64(a.U64() & b.U64())))
	case wasm.OpI64Or:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(I64(int64(a.U64() | b.U64())))
	case wasm.OpI64Xor:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(I64(int64(a.U64() ^ b.U64())))
	case wasm.OpI64Shl:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(I64(int64(a.U64() << (b.U64() & 63))))
	case wasm.OpI64ShrS:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(I64(a.I64() >> (b.U64() & 63)))
	case wasm.OpI64ShrU:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(I64(int64(a.U64() >> (b.U64() & 63))))
	case wasm.OpI64Rotl:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(I64(int64(bits.RotateLeft64(a.U64(), int(b.U64()&63)))))
	case wasm.OpI64Rotr:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(I64(int64(bits.RotateLeft64(a.U64(), -int(b.U64()&63)))))

	// f32 arithmetic
	case wasm.OpF32Abs:
		a := d.stack.Pop()
		d.stack.Push(F32(float32(math.Abs(float64(a.F32())))))
	case wasm.OpF32Neg:
		a := d.stack.Pop()
		d.stack.Push(F32(-a.F32()))
	case wasm.OpF32Ceil:
		a := d.stack.Pop()
		d.stack.Push(F32(float32(math.Ceil(float64(a.F32())))))
	case wasm.OpF32Floor:
		a := d.stack.Pop()
		d.stack.Push(F32(float32(math.Floor(float64(a.F32())))))
	case wasm.OpF32Trunc:
		a := d.stack.Pop()
		d.stack.Push(F32(float32(math.Trunc(float64(a.F32())))))
	case wasm.OpF32Nearest:
		a := d.stack.Pop()
		d.stack.Push(F32(float32(math.RoundToEven(float64(a.F32())))))
	case wasm.OpF32Sqrt:
		a := d.stack.Pop()
		d.stack.Push(F32(float32(math.Sqrt(float64(a.F32())))))
	case wasm.OpF32Add:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(F32(a.F32() + b.F32()))
	case wasm.OpF32Sub:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(F32(a.F32() - b.F32()))
	case wasm.OpF32Mul:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(F32(a.F32() * b.F32()))
	case wasm.OpF32Div:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(F32(a.F32() / b.F32()))
	case wasm.OpF32Min:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(F32(f32Min(a.F32(), b.F32())))
	case wasm.OpF32Max:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(F32(f32Max(a.F32(), b.F32())))
	case wasm.OpF32Copysign:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(F32(float32(math.Copysign(float64(a.F32()), float64(b.F32())))))

	// f64 arithmetic
	case wasm.OpF64Abs:
		a := d.stack.Pop()
		d.stack.Push(F64(math.Abs(a.F64())))
	case wasm.OpF64Neg:
		a := d.stack.Pop()
		d.stack.Push(F64(-a.F64()))
	case wasm.OpF64Ceil:
		a := d.stack.Pop()
		d.stack.Push(F64(math.Ceil(a.F64())))
	case wasm.OpF64Floor:
		a := d.stack.Pop()
		d.stack.Push(F64(math.Floor(a.F64())))
	case wasm.OpF64Trunc:
		a := d.stack.Pop()
		d.stack.Push(F64(math.Trunc(a.F64())))
	case wasm.OpF64Nearest:
		a := d.stack.Pop()
		d.stack.Push(F64(math.RoundToEven(a.F64())))
	case wasm.OpF64Sqrt:
		a := d.stack.Pop()
		d.stack.Push(F64(math.Sqrt(a.F64())))
	case wasm.OpF64Add:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(F64(a.F64() + b.F64()))
	case wasm.OpF64Sub:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(F64(a.F64() - b.F64()))
	case wasm.OpF64Mul:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(F64(a.F64() * b.F64()))
	case wasm.OpF64Div:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(F64(a.F64() / b.F64()))
	case wasm.OpF64Min:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(F64(f64Min(a.F64(), b.F64())))
	case wasm.OpF64Max:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(F64(f64Max(a.F64(), b.F64())))
	case wasm.OpF64Copysign:
		b, a := d.stack.Pop(), d.stack.Pop()
		d.stack.Push(F64(math.Copysign(a.F64(), b.F64())))

	// conversions
	case wasm.OpI32WrapI64:
		a := d.stack.Pop()
		d.stack.Push(I32(int32(a.I64())))
	case wasm.OpI32TruncF32S:
		a := d.stack.Pop()
		r, trap := truncToI32(float64(a.F32()), true, op, pc)
		if trap != nil {
			return trap
		}
		d.stack.Push(I32(r))
	case wasm.OpI32TruncF32U:
		a := d.stack.Pop()
		r, trap := truncToI32(float64(a.F32()), false, op, pc)
		if trap != nil {
			return trap
		}
		d.stack.Push(I32(r))
	case wasm.OpI32TruncF64S:
		a := d.stack.Pop()
		r, trap := truncToI32(a.F64(), true, op, pc)
		if trap != nil {
			return trap
		}
		d.stack.Push(I32(r))
	case wasm.OpI32TruncF64U:
		a := d.stack.Pop()
		r, trap := truncToI32(a.F64(), false, op, pc)
		if trap != nil {
			return trap
		}
		d.stack.Push(I32(r))
	case wasm.OpI64ExtendI32S:
		a := d.stack.Pop()
		d.stack.Push(I64(int64(a.I32())))
	case wasm.OpI64ExtendI32U:
		a := d.stack.Pop()
		d.stack.Push(I64(int64(a.U32())))
	case wasm.OpI64TruncF32S:
		a := d.stack.Pop()
		r, trap := truncToI64(float64(a.F32()), true, op, pc)
		if trap != nil {
			return trap
		}
		d.stack.Push(I64(r))
	case wasm.OpI64TruncF32U:
		a := d.stack.Pop()
		r, trap := truncToI64(float64(a.F32()), false, op, pc)
		if trap != nil {
			return trap
		}
		d.stack.Push(I64(r))
	case wasm.OpI64TruncF64S:
		a := d.stack.Pop()
		r, trap := truncToI64(a.F64(), true, op, pc)
		if trap != nil {
			return trap
		}
		d.stack.Push(I64(r))
	case wasm.OpI64TruncF64U:
		a := d.stack.Pop()
		r, trap := truncToI64(a.F64(), false, op, pc)
		if trap != nil {
			return trap
		}
		d.stack.Push(I64(r))
	case wasm.OpF32ConvertI32S:
		a := d.stack.Pop()
		d.stack.Push(F32(float32(a.I32())))
	case wasm.OpF32ConvertI32U:
		a := d.stack.Pop()
		d.stack.Push(F32(float32(a.U32())))
	case wasm.OpF32ConvertI64S:
		a := d.stack.Pop()
		d.stack.Push(F32(float32(a.I64())))
	case wasm.OpF32ConvertI64U:
		a := d.stack.Pop()
		d.stack.Push(F32(float32(a.U64())))
	case wasm.OpF32DemoteF64:
		a := d.stack.Pop()
		d.stack.Push(F32(float32(a.F64())))
	case wasm.OpF64ConvertI32S:
		a := d.stack.Pop()
		d.stack.Push(F64(float64(a.I32())))
	case wasm.OpF64ConvertI32U:
		a := d.stack.Pop()
		d.stack.Push(F64(float64(a.U32())))
	case wasm.OpF64ConvertI64S:
		a := d.stack.Pop()
		d.stack.Push(F64(float64(a.I64())))
	case wasm.OpF64ConvertI64U:
		a := d.stack.Pop()
		d.stack.Push(F64(float64(a.U64())))
	case wasm.OpF64PromoteF32:
		a := d.stack.Pop()
		d.stack.Push(F64(float64(a.F32())))
	case wasm.OpI32ReinterpretF32:
		a := d.stack.Pop()
		d.stack.Push(Value{Kind: KindI32, Lo: a.Lo})
	case wasm.OpI64ReinterpretF64:
		a := d.stack.Pop()
		d.stack.Push(Value{Kind: KindI64, Lo: a.Lo})
	case wasm.OpF32ReinterpretI32:
		a := d.stack.Pop()
		d.stack.Push(Value{Kind: KindF32, Lo: a.Lo})
	case wasm.OpF64ReinterpretI64:
		a := d.stack.Pop()
		d.stack.Push(Value{Kind: KindF64, Lo: a.Lo})

	// sign extension
	case wasm.OpI32Extend8S:
		a := d.stack.Pop()
		d.stack.Push(I32(int32(int8(a.I32()))))
	case wasm.OpI32Extend16S:
		a := d.stack.Pop()
		d.stack.Push(I32(int32(int16(a.I32()))))
	case wasm.OpI64Extend8S:
		a := d.stack.Pop()
		d.stack.Push(I64(int64(int8(a.I64()))))
	case wasm.OpI64Extend16S:
		a := d.stack.Pop()
		d.stack.Push(I64(int64(int16(a.I64()))))
	case wasm.OpI64Extend32S:
		a := d.stack.Pop()
		d.stack.Push(I64(int64(int32(a.I64()))))

	default:
		return NewTrap(TrapUnreachable, op, pc, "unimplemented numeric opcode")
	}
	return nil
}

// truncToI32 implements the trapping i32.trunc_f*_{s,u} family (spec §7):
// NaN traps InvalidConvToInt, out-of-range (including infinities) traps
// IntegerOverflow.
func truncToI32(f float64, signed bool, opcode byte, pc uint32) (int32, *Trap) {
	if math.IsNaN(f) {
		return 0, NewTrap(TrapInvalidConvToInt, opcode, pc, "invalid conversion to integer: NaN")
	}
	t := math.Trunc(f)
	if signed {
		if t < -2147483648 || t >= 2147483648 {
			return 0, NewTrap(TrapIntegerOverflow, opcode, pc, "i32 trunc out of range")
		}
		return int32(t), nil
	}
	if t < 0 || t >= 4294967296 {
		return 0, NewTrap(TrapIntegerOverflow, opcode, pc, "i32 trunc out of range")
	}
	return int32(uint32(t)), nil
}

func truncToI64(f float64, signed bool, opcode byte, pc uint32) (int64, *Trap) {
	if math.IsNaN(f) {
		return 0, NewTrap(TrapInvalidConvToInt, opcode, pc, "invalid conversion to integer: NaN")
	}
	t := math.Trunc(f)
	if signed {
		if t < -9223372036854775808.0 || t >= 9223372036854775808.0 {
			return 0, NewTrap(TrapIntegerOverflow, opcode, pc, "i64 trunc out of range")
		}
		return int64(t), nil
	}
	if t < 0 || t >= 18446744073709551616.0 {
		return 0, NewTrap(TrapIntegerOverflow, opcode, pc, "i64 trunc out of range")
	}
	return int64(uint64(t)), nil
}

// truncSatToI32/I64 implement the non-trapping saturating variants (misc
// opcode block, spec §4.6.5): NaN becomes 0, out-of-range clamps to the
// nearest representable bound.
func truncSatToI32(f float64, signed bool) int32 {
	if math.IsNaN(f) {
		return 0
	}
	t := math.Trunc(f)
	if signed {
		if t <= -2147483648 {
			return math.MinInt32
		}
		if t >= 2147483648 {
			return math.MaxInt32
		}
		return int32(t)
	}
	if t <= 0 {
		return 0
	}
	if t >= 4294967296 {
		return -1
	}
	return int32(uint32(t))
}

func truncSatToI64(f float64, signed bool) int64 {
	if math.IsNaN(f) {
		return 0
	}
	t := math.Trunc(f)
	if signed {
		if t <= -9223372036854775808.0 {
			return math.MinInt64
		}
		if t >= 9223372036854775808.0 {
			return math.MaxInt64
		}
		return int64(t)
	}
	if t <= 0 {
		return 0
	}
	if t >= 18446744073709551616.0 {
		return -1
	}
	return int64(uint64(t))
}

func f32Min(a, b float32) float32 {
	if math.IsNaN(float64(a)) {
		return math.Float32frombits(quietNaN32(math.Float32bits(a)))
	}
	if math.IsNaN(float64(b)) {
		return math.Float32frombits(quietNaN32(math.Float32bits(b)))
	}
	if a == 0 && b == 0 {
		if math.Signbit(float64(a)) || math.Signbit(float64(b)) {
			return float32(math.Copysign(0, -1))
		}
		return 0
	}
	if a < b {
		return a
	}
	if b < a {
		return b
	}
	return a
}

func f32Max(a, b float32) float32 {
	if math.IsNaN(float64(a)) {
		return math.Float32frombits(quietNaN32(math.Float32bits(a)))
	}
	if math.IsNaN(float64(b)) {
		return math.Float32frombits(quietNaN32(math.Float32bits(b)))
	}
	if a == 0 && b == 0 {
		if !math.Signbit(float64(a)) || !math.Signbit(float64(b)) {
			return 0
		}
		return float32(math.Copysign(0, -1))
	}
	if a > b {
		return a
	}
	if b > a {
		return b
	}
	return a
}

func f64Min(a, b float64) float64 {
	if math.IsNaN(a) {
		return math.Float64frombits(quietNaN64(math.Float64bits(a)))
	}
	if math.IsNaN(b) {
		return math.Float64frombits(quietNaN64(math.Float64bits(b)))
	}
	if a == 0 && b == 0 {
		if math.Signbit(a) || math.Signbit(b) {
			return math.Copysign(0, -1)
		}
		return 0
	}
	if a < b {
		return a
	}
	if b < a {
		return b
	}
	return a
}

func f64Max(a, b float64) float64 {
	if math.IsNaN(a) {
		return math.Float64frombits(quietNaN64(math.Float64bits(a)))
	}
	if math.IsNaN(b) {
		return math.Float64frombits(quietNaN64(math.Float64bits(b)))
	}
	if a == 0 && b == 0 {
		if !math.Signbit(a) || !math.Signbit(b) {
			return 0
		}
		return math.Copysign(0, -1)
	}
	if a > b {
		return a
	}
	if b > a {
		return b
	}
	return a
}
