package canon_test

import (
	"context"
	"strings"
	"testing"

	"go.bytecodealliance.org/wit"

	"github.com/wasmforge/corevm/canon"
	"github.com/wasmforge/corevm/component"
	"github.com/wasmforge/corevm/vm"
	"github.com/wasmforge/corevm/wasm"
)

// bumpAllocator returns a host cabi_realloc implementation doing simple
// bump allocation against mem, for exercising the canonical ABI's realloc
// protocol without a real compiled guest module.
func bumpAllocator(mem *vm.MemoryInstance) vm.HostFunc {
	next := uint32(8)
	return func(frame *vm.CallingFrame, inputs []vm.Value, outputs []vm.Value) error {
		size := inputs[3].U32()
		ptr := next
		next += size
		if next > mem.Size() {
			mem.Grow(1)
		}
		outputs[0] = vm.I32(int32(ptr))
		return nil
	}
}

func newGuestModule(t *testing.T) (*vm.ModuleInstance, *vm.MemoryInstance) {
	t.Helper()
	mod := &vm.ModuleInstance{Exports: map[string]vm.ExportItem{}}
	mem := vm.NewMemoryInstance(1, 16, false, false, mod)
	mod.Memories = []*vm.MemoryInstance{mem}
	mod.Exports["memory"] = vm.ExportItem{Kind: wasm.KindMemory, Idx: 0}

	reallocFn := &vm.FunctionInstance{
		Type:   vm.FuncType{Params: []vm.ValKind{{Kind: vm.KindI32}, {Kind: vm.KindI32}, {Kind: vm.KindI32}, {Kind: vm.KindI32}}, Results: []vm.ValKind{{Kind: vm.KindI32}}},
		Host:   bumpAllocator(mem),
		Module: mod,
		Name:   canon.CabiRealloc,
	}
	mod.Funcs = []*vm.FunctionInstance{reallocFn}
	mod.Exports[canon.CabiRealloc] = vm.ExportItem{Kind: wasm.KindFunc, Idx: 0}

	return mod, mem
}

// TestLowerWrapper_StringRoundTrip exercises canonical ABI scenario 6: a
// string argument lifted out of guest memory, processed by a Go handler, and
// the result string lowered back into guest memory via the guest's own
// realloc export.
func TestLowerWrapper_StringRoundTrip(t *testing.T) {
	rt := vm.NewRuntime(vm.RuntimeConfig{})
	mod, mem := newGuestModule(t)

	def := &component.LowerDef{
		Name:    "shout",
		Params:  []wit.Type{wit.String{}},
		Results: []wit.Type{wit.String{}},
	}

	handler := func(_ context.Context, s string) string {
		return strings.ToUpper(s)
	}

	wrapper, err := canon.NewLowerWrapper(def, handler, nil)
	if err != nil {
		t.Fatalf("NewLowerWrapper: %v", err)
	}

	input := "hello component model"
	if err := mem.Write(64, []byte(input)); err != nil {
		t.Fatalf("write input string: %v", err)
	}

	shoutFn := &vm.FunctionInstance{
		Type:   vm.FuncType{Params: []vm.ValKind{{Kind: vm.KindI32}, {Kind: vm.KindI32}}, Results: []vm.ValKind{{Kind: vm.KindI32}, {Kind: vm.KindI32}}},
		Host:   wrapper.BuildHostFunc(),
		Module: mod,
		Name:   wrapper.Name(),
	}

	outputs, err := rt.Call(context.Background(), shoutFn, []vm.Value{vm.I32(64), vm.I32(int32(len(input)))})
	if err != nil {
		t.Fatalf("rt.Call: %v", err)
	}

	resultPtr := outputs[0].U32()
	resultLen := outputs[1].U32()

	data, err := mem.Read(resultPtr, resultLen)
	if err != nil {
		t.Fatalf("read result string: %v", err)
	}
	got := string(data)
	want := strings.ToUpper(input)
	if got != want {
		t.Fatalf("round trip mismatch: got %q, want %q", got, want)
	}
}
