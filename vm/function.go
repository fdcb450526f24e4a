package vm

import "github.com/wasmforge/corevm/wasm"

// Instr is the decoded instruction type the dispatcher walks. The AST is
// produced by the (out-of-scope) binary decoder in the sibling wasm package;
// vm never parses bytes itself.
type Instr = wasm.Instruction

// HostFunc is the host function descriptor from spec §6: a callable taking
// the calling frame plus flat input/output value slices.
type HostFunc func(frame *CallingFrame, inputs []Value, outputs []Value) error

// CallingFrame exposes the current module's memory by index to host
// functions, per spec §6.
type CallingFrame struct {
	Module *ModuleInstance
	rt     *Runtime
}

func (f *CallingFrame) Memory(idx uint32) *MemoryInstance {
	if int(idx) >= len(f.Module.Memories) {
		return nil
	}
	return f.Module.Memories[idx]
}

func (f *CallingFrame) Runtime() *Runtime { return f.rt }

// FunctionInstance is spec §3.3's FunctionInstance: either a compiled Wasm
// body owned by a module, or a host callable.
type FunctionInstance struct {
	TypeIdx uint32
	Type    FuncType
	Module  *ModuleInstance // nil for host functions
	Code    *CompiledFunc   // nil for host functions
	Host    HostFunc
	Name    string // diagnostic only
}

func (f *FunctionInstance) IsHost() bool { return f.Host != nil }

// RefFuncVal builds a funcref Value addressing function idx within mod —
// table entries and ref.func results alike carry the owning module so a
// cross-module table (host-populated, or imported) still resolves correctly.
func RefFuncVal(mod *ModuleInstance, idx uint64) Value {
	return Ref(RefType{HeapType: wasm.HeapTypeFunc, Module: mod, Nullable: false}, idx)
}

// ResolveFuncRef dereferences a funcref Value to its FunctionInstance, or nil
// if null.
func ResolveFuncRef(v Value) *FunctionInstance {
	if v.IsNull() || v.Ref.Type.Module == nil {
		return nil
	}
	if int(v.Ref.Addr) >= len(v.Ref.Type.Module.Funcs) {
		return nil
	}
	return v.Ref.Type.Module.Funcs[v.Ref.Addr]
}

// CompiledFunc precomputes jump targets once at instantiation so the
// dispatcher never has to rescan for matching `end`/`else` at run time
// (spec §9 "giant opcode dispatch" design note: keep handlers tight).
type CompiledFunc struct {
	Locals   []ValKind // parameter types followed by declared locals, in slot order
	NumLocal int       // total local count including params
	Code     []Instr
	// matchEnd[pc] is the PC of the matching `end` for a block/loop/if/try/
	// try_table opening at pc; matchElse[pc] is the `else` PC for an `if`
	// that has one (0 if none).
	matchEnd  map[int]int
	matchElse map[int]int
}

// precompile walks a function body once, recording matching end/else
// offsets via a simple depth counter — the teacher's decoder already
// resolves instruction boundaries, so this is a linear pass over the
// decoded stream rather than a re-parse.
func precompile(locals []ValKind, code []Instr) *CompiledFunc {
	cf := &CompiledFunc{
		Locals:    locals,
		NumLocal:  len(locals),
		Code:      code,
		matchEnd:  make(map[int]int),
		matchElse: make(map[int]int),
	}
	type open struct {
		pc       int
		elsePC   int
		isTry    bool
	}
	var stack []open
	for pc, ins := range code {
		switch ins.Opcode {
		case wasm.OpBlock, wasm.OpLoop, wasm.OpIf, wasm.OpTry, wasm.OpTryTable:
			stack = append(stack, open{pc: pc})
		case wasm.OpElse:
			if len(stack) > 0 {
				stack[len(stack)-1].elsePC = pc
			}
		case wasm.OpEnd:
			if len(stack) > 0 {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				cf.matchEnd[top.pc] = pc
				if top.elsePC != 0 {
					cf.matchElse[top.pc] = top.elsePC
					// also index by the else pc itself, so control reaching
					// `else` by falling through the then-branch can look up
					// the end pc directly without re-finding the opening if.
					cf.matchEnd[top.elsePC] = pc
				}
			}
		}
	}
	return cf
}

// EndOf / ElseOf look up precomputed jump targets for a block-opening pc.
func (cf *CompiledFunc) EndOf(pc int) int    { return cf.matchEnd[pc] }
func (cf *CompiledFunc) ElseOf(pc int) (int, bool) { e, ok := cf.matchElse[pc]; return e, ok }
