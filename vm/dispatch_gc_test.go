package vm

import (
	"testing"

	"github.com/wasmforge/corevm/wasm"
)

func newTestModuleWithGc(types []DefType) *ModuleInstance {
	mod := &ModuleInstance{Types: types, Gc: NewGcAllocator()}
	return mod
}

func TestExecGCStructRoundTrip(t *testing.T) {
	dt := DefType{
		Kind: wasm.CompKindStruct,
		Struct: &StructDefType{
			Fields: []StructFieldDefType{
				{Storage: StorageI32, Mutable: true},
				{Storage: StorageI8, Mutable: true},
			},
		},
	}
	mod := newTestModuleWithGc([]DefType{dt})
	d := &dispatcher{stack: NewStack(), mod: mod}

	d.stack.Push(I32(42))
	d.stack.Push(I32(-1)) // truncated to i8 storage on write
	if trap := d.execGC(Instr{Opcode: wasm.OpPrefixGC, Imm: wasm.GCImm{SubOpcode: wasm.GCStructNew, TypeIdx: 0}}); trap != nil {
		t.Fatalf("struct.new trapped: %v", trap)
	}
	ref := d.stack.Pop()
	if ref.IsNull() {
		t.Fatal("struct.new produced a null ref")
	}

	d.stack.Push(ref)
	if trap := d.execGC(Instr{Opcode: wasm.OpPrefixGC, Imm: wasm.GCImm{SubOpcode: wasm.GCStructGetU, TypeIdx: 0, FieldIdx: 1}}); trap != nil {
		t.Fatalf("struct.get_u trapped: %v", trap)
	}
	got := d.stack.Pop()
	if got.I32() != 0xFF {
		t.Errorf("packed i8 field should read back zero-extended as 0xFF, got %#x", got.U32())
	}
}

func TestExecGCStructGetNullTraps(t *testing.T) {
	dt := DefType{Kind: wasm.CompKindStruct, Struct: &StructDefType{Fields: []StructFieldDefType{{Storage: StorageI32}}}}
	mod := newTestModuleWithGc([]DefType{dt})
	d := &dispatcher{stack: NewStack(), mod: mod}

	d.stack.Push(NullRef(RefTypeStruct(true)))
	trap := d.execGC(Instr{Opcode: wasm.OpPrefixGC, Imm: wasm.GCImm{SubOpcode: wasm.GCStructGet, TypeIdx: 0, FieldIdx: 0}})
	if trap == nil || trap.TrapKind != TrapAccessNullStruct {
		t.Fatalf("expected AccessNullStruct, got %v", trap)
	}
}

func TestExecGCRefTestAndCast(t *testing.T) {
	dt := DefType{Kind: wasm.CompKindStruct, Struct: &StructDefType{Fields: nil}}
	mod := newTestModuleWithGc([]DefType{dt})
	d := &dispatcher{stack: NewStack(), mod: mod}

	ref := mod.Gc.NewStruct(0, mod, nil)

	d.stack.Push(ref)
	if trap := d.execGC(Instr{Opcode: wasm.OpPrefixGC, Imm: wasm.GCImm{SubOpcode: wasm.GCRefTest, HeapType: wasm.HeapTypeStruct}}); trap != nil {
		t.Fatalf("ref.test trapped: %v", trap)
	}
	if got := d.stack.Pop(); got.I32() == 0 {
		t.Error("ref.test struct on a struct ref should be true")
	}

	d.stack.Push(ref)
	if trap := d.execGC(Instr{Opcode: wasm.OpPrefixGC, Imm: wasm.GCImm{SubOpcode: wasm.GCRefCast, HeapType: wasm.HeapTypeStruct}}); trap != nil {
		t.Fatalf("ref.cast(struct) on a struct should not trap: %v", trap)
	}
	d.stack.Pop()

	d.stack.Push(NullRef(RefTypeStruct(true)))
	trap := d.execGC(Instr{Opcode: wasm.OpPrefixGC, Imm: wasm.GCImm{SubOpcode: wasm.GCRefCast, HeapType: wasm.HeapTypeStruct}})
	if trap == nil || trap.TrapKind != TrapCastNullToNonNull {
		t.Fatalf("expected CastNullToNonNull, got %v", trap)
	}
}

func TestExecGCArrayLenAndGet(t *testing.T) {
	dt := DefType{Kind: wasm.CompKindArray, Array: &ArrayDefType{Elem: StructFieldDefType{Storage: StorageI32}}}
	mod := newTestModuleWithGc([]DefType{dt})
	d := &dispatcher{stack: NewStack(), mod: mod}

	ref := mod.Gc.NewArray(0, mod, []Value{I32(1), I32(2), I32(3)})

	d.stack.Push(ref)
	if trap := d.execGC(Instr{Opcode: wasm.OpPrefixGC, Imm: wasm.GCImm{SubOpcode: wasm.GCArrayLen}}); trap != nil {
		t.Fatalf("array.len trapped: %v", trap)
	}
	if got := d.stack.Pop(); got.I32() != 3 {
		t.Errorf("array.len = %d, want 3", got.I32())
	}

	d.stack.Push(ref)
	d.stack.Push(I32(1))
	if trap := d.execGC(Instr{Opcode: wasm.OpPrefixGC, Imm: wasm.GCImm{SubOpcode: wasm.GCArrayGet, TypeIdx: 0}}); trap != nil {
		t.Fatalf("array.get trapped: %v", trap)
	}
	if got := d.stack.Pop(); got.I32() != 2 {
		t.Errorf("array.get[1] = %d, want 2", got.I32())
	}
}

func TestExecGCRefI31RoundTrip(t *testing.T) {
	d := &dispatcher{stack: NewStack(), mod: &ModuleInstance{}}
	d.stack.Push(I32(-1))
	if trap := d.execGC(Instr{Opcode: wasm.OpPrefixGC, Imm: wasm.GCImm{SubOpcode: wasm.GCRefI31}}); trap != nil {
		t.Fatalf("ref.i31 trapped: %v", trap)
	}
	ref := d.stack.Pop()
	d.stack.Push(ref)
	if trap := d.execGC(Instr{Opcode: wasm.OpPrefixGC, Imm: wasm.GCImm{SubOpcode: wasm.GCI31GetU}}); trap != nil {
		t.Fatalf("i31.get_u trapped: %v", trap)
	}
	got := d.stack.Pop()
	if got.U32() != 0x7FFFFFFF {
		t.Errorf("i31.get_u(-1) should mask to 31 bits, got %#x", got.U32())
	}
}
