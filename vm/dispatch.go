package vm

import (
	"context"
	"fmt"

	"github.com/wasmforge/corevm/wasm"
)

// dispatcher walks one logical call to completion. Wasm-to-Wasm calls never
// recurse at the Go level: `call`/`call_indirect`/`call_ref` push a frame and
// retarget d.code/d.cf/d.mod/d.pc in place, so the same for-loop keeps
// running across any depth of Wasm calls — this is what lets exception
// propagation and tail calls unwind/chain frames by manipulating the Stack
// alone, per spec §9's "giant opcode dispatch, no recursive interpreter
// calls" design note. Only host calls cross into Go's own call stack.
type dispatcher struct {
	rt    *Runtime
	stack *Stack
	ctx   context.Context

	code []Instr
	pc   int
	cf   *CompiledFunc
	mod  *ModuleInstance
}

// UncaughtException is returned by Runtime.Call when a thrown exception
// escapes every Wasm frame without a matching catch (spec §4.6.1:
// "propagation continues up the stack ... if it escapes the outermost frame,
// the call fails with the exception").
type UncaughtException struct {
	Tag     *TagInstance
	Payload []Value
}

func (e *UncaughtException) Error() string {
	return fmt.Sprintf("uncaught wasm exception (tag with %d payload value(s))", len(e.Payload))
}

func (d *dispatcher) callFunction(fn *FunctionInstance, args []Value) ([]Value, error) {
	if fn.IsHost() {
		return d.callHost(fn, args)
	}
	d.stack.PushFrame(fn.Module, 0, nil, nil, nil, len(fn.Type.Results), fn.Code.Locals, args)
	d.code, d.cf, d.mod, d.pc = fn.Code.Code, fn.Code, fn.Module, 0
	return d.run()
}

func (d *dispatcher) callHost(fn *FunctionInstance, args []Value) ([]Value, error) {
	outputs := make([]Value, len(fn.Type.Results))
	frame := &CallingFrame{Module: fn.Module, rt: d.rt}
	if err := fn.Host(frame, args, outputs); err != nil {
		return nil, err
	}
	return outputs, nil
}

func (d *dispatcher) popArgs(n int) []Value {
	args := make([]Value, n)
	for i := n - 1; i >= 0; i-- {
		args[i] = d.stack.Pop()
	}
	return args
}

func (d *dispatcher) popResults(n int) []Value { return d.popArgs(n) }

// blockArity resolves a block/loop/if/try_table block type to its
// (param count, result count), per spec §4.7's blocktype resolution.
func (d *dispatcher) blockArity(bt int32) (paramN, arity int) {
	switch bt {
	case wasm.BlockTypeVoid:
		return 0, 0
	case wasm.BlockTypeI32, wasm.BlockTypeI64, wasm.BlockTypeF32, wasm.BlockTypeF64, wasm.BlockTypeV128:
		return 0, 1
	default:
		dt := d.mod.resolveType(uint32(bt))
		if dt == nil || dt.Func == nil {
			return 0, 0
		}
		return len(dt.Func.Params), len(dt.Func.Results)
	}
}

func boolVal(b bool) Value {
	if b {
		return I32(1)
	}
	return I32(0)
}

func refEq(a, b Value) bool {
	if a.IsNull() || b.IsNull() {
		return a.IsNull() && b.IsNull()
	}
	if a.Ref.Type.IsI31() || b.Ref.Type.IsI31() {
		return a.Ref.Type.IsI31() && b.Ref.Type.IsI31() && a.Ref.Addr == b.Ref.Addr
	}
	return a.Ref.Type.Module == b.Ref.Type.Module && a.Ref.Addr == b.Ref.Addr
}

func resolveException(v Value) *ExceptionInstance {
	if v.IsNull() || v.Ref.Type.Module == nil {
		return nil
	}
	return v.Ref.Type.Module.Gc.Exception(v.Ref.Addr)
}

// run is the main opcode dispatch loop for one top-level Call.
func (d *dispatcher) run() ([]Value, error) {
	for {
		if err := d.ctx.Err(); err != nil {
			return nil, err
		}
		if d.rt.Terminated() {
			return nil, NewTrap(TrapTerminated, 0, uint32(d.pc), "runtime terminated")
		}
		if d.pc >= len(d.code) {
			return nil, NewTrap(TrapUnreachable, 0, uint32(d.pc), "fell off the end of a function body without `end`")
		}
		ins := d.code[d.pc]

		switch ins.Opcode {
		case wasm.OpUnreachable:
			return nil, NewTrap(TrapUnreachable, ins.Opcode, uint32(d.pc), "unreachable executed")

		case wasm.OpNop:
			d.pc++

		case wasm.OpBlock:
			imm := ins.Imm.(wasm.BlockImm)
			paramN, arity := d.blockArity(imm.Type)
			d.stack.PushLabel(paramN, arity, d.cf.EndOf(d.pc)+1, false)
			d.pc++

		case wasm.OpLoop:
			imm := ins.Imm.(wasm.BlockImm)
			paramN, arity := d.blockArity(imm.Type)
			d.stack.PushLabel(paramN, arity, d.pc, true)
			d.pc++

		case wasm.OpIf:
			imm := ins.Imm.(wasm.BlockImm)
			paramN, arity := d.blockArity(imm.Type)
			cond := d.stack.Pop()
			endPC := d.cf.EndOf(d.pc)
			elsePC, hasElse := d.cf.ElseOf(d.pc)
			d.stack.PushLabel(paramN, arity, endPC+1, false)
			if cond.Bool() {
				d.pc++
			} else if hasElse {
				d.pc = elsePC + 1
			} else {
				d.pc = endPC
			}

		case wasm.OpElse:
			// Reached by falling through the `then` arm: skip to `end`,
			// letting the OpEnd case close the still-open if-label normally.
			d.pc = d.cf.EndOf(d.pc)

		case wasm.OpEnd:
			if d.stack.HasLabelInCurrentFrame() {
				d.stack.PopLabel()
				d.pc++
				continue
			}
			retPC, retFunc, retMod, arity := d.stack.PopFrame()
			if retFunc == nil {
				return d.popResults(arity), nil
			}
			d.code, d.cf, d.mod, d.pc = retFunc.Code, retFunc, retMod, retPC

		case wasm.OpBr:
			depth := int(ins.Imm.(wasm.BranchImm).LabelIdx)
			contPC, _ := d.stack.BranchTo(depth)
			d.pc = contPC

		case wasm.OpBrIf:
			depth := int(ins.Imm.(wasm.BranchImm).LabelIdx)
			if d.stack.Pop().Bool() {
				contPC, _ := d.stack.BranchTo(depth)
				d.pc = contPC
			} else {
				d.pc++
			}

		case wasm.OpBrTable:
			imm := ins.Imm.(wasm.BrTableImm)
			idx := uint32(d.stack.Pop().I32())
			depth := imm.Default
			if int(idx) < len(imm.Labels) {
				depth = imm.Labels[idx]
			}
			contPC, _ := d.stack.BranchTo(int(depth))
			d.pc = contPC

		case wasm.OpReturn:
			retPC, retFunc, retMod, arity := d.stack.PopFrame()
			if retFunc == nil {
				return d.popResults(arity), nil
			}
			d.code, d.cf, d.mod, d.pc = retFunc.Code, retFunc, retMod, retPC

		case wasm.OpCall:
			idx := ins.Imm.(wasm.CallImm).FuncIdx
			fn := d.mod.Funcs[idx]
			args := d.popArgs(len(fn.Type.Params))
			if fn.IsHost() {
				outs, err := d.callHost(fn, args)
				if err != nil {
					return nil, err
				}
				for _, o := range outs {
					d.stack.Push(o)
				}
				d.pc++
			} else {
				d.stack.PushFrame(fn.Module, d.pc+1, d.code, d.cf, d.mod, len(fn.Type.Results), fn.Code.Locals, args)
				d.code, d.cf, d.mod, d.pc = fn.Code.Code, fn.Code, fn.Module, 0
			}

		case wasm.OpCallIndirect:
			imm := ins.Imm.(wasm.CallIndirectImm)
			fn, t := d.resolveIndirect(imm, ins.Opcode)
			if t != nil {
				return nil, t
			}
			args := d.popArgs(len(fn.Type.Params))
			if fn.IsHost() {
				outs, err := d.callHost(fn, args)
				if err != nil {
					return nil, err
				}
				for _, o := range outs {
					d.stack.Push(o)
				}
				d.pc++
			} else {
				d.stack.PushFrame(fn.Module, d.pc+1, d.code, d.cf, d.mod, len(fn.Type.Results), fn.Code.Locals, args)
				d.code, d.cf, d.mod, d.pc = fn.Code.Code, fn.Code, fn.Module, 0
			}

		case wasm.OpCallRef:
			ref := d.stack.Pop()
			fn, t := d.resolveFuncRefCallable(ref, ins.Opcode)
			if t != nil {
				return nil, t
			}
			args := d.popArgs(len(fn.Type.Params))
			if fn.IsHost() {
				outs, err := d.callHost(fn, args)
				if err != nil {
					return nil, err
				}
				for _, o := range outs {
					d.stack.Push(o)
				}
				d.pc++
			} else {
				d.stack.PushFrame(fn.Module, d.pc+1, d.code, d.cf, d.mod, len(fn.Type.Results), fn.Code.Locals, args)
				d.code, d.cf, d.mod, d.pc = fn.Code.Code, fn.Code, fn.Module, 0
			}

		case wasm.OpReturnCall:
			idx := ins.Imm.(wasm.CallImm).FuncIdx
			fn := d.mod.Funcs[idx]
			args := d.popArgs(len(fn.Type.Params))
			res, done, err := d.tailCall(fn, args)
			if done {
				return res, err
			}

		case wasm.OpReturnCallIndirect:
			imm := ins.Imm.(wasm.CallIndirectImm)
			fn, t := d.resolveIndirect(imm, ins.Opcode)
			if t != nil {
				return nil, t
			}
			args := d.popArgs(len(fn.Type.Params))
			res, done, err := d.tailCall(fn, args)
			if done {
				return res, err
			}

		case wasm.OpReturnCallRef:
			ref := d.stack.Pop()
			fn, t := d.resolveFuncRefCallable(ref, ins.Opcode)
			if t != nil {
				return nil, t
			}
			args := d.popArgs(len(fn.Type.Params))
			res, done, err := d.tailCall(fn, args)
			if done {
				return res, err
			}

		case wasm.OpDrop:
			d.stack.Pop()
			d.pc++

		case wasm.OpSelect, wasm.OpSelectType:
			c := d.stack.Pop()
			b := d.stack.Pop()
			a := d.stack.Pop()
			if c.Bool() {
				d.stack.Push(a)
			} else {
				d.stack.Push(b)
			}
			d.pc++

		case wasm.OpLocalGet:
			idx := ins.Imm.(wasm.LocalImm).LocalIdx
			d.stack.Push(d.stack.GetLocal(int(idx)))
			d.pc++

		case wasm.OpLocalSet:
			idx := ins.Imm.(wasm.LocalImm).LocalIdx
			d.stack.SetLocal(int(idx), d.stack.Pop())
			d.pc++

		case wasm.OpLocalTee:
			idx := ins.Imm.(wasm.LocalImm).LocalIdx
			d.stack.SetLocal(int(idx), d.stack.PeekTop())
			d.pc++

		case wasm.OpGlobalGet:
			idx := ins.Imm.(wasm.GlobalImm).GlobalIdx
			d.stack.Push(d.mod.Globals[idx].Get())
			d.pc++

		case wasm.OpGlobalSet:
			idx := ins.Imm.(wasm.GlobalImm).GlobalIdx
			d.mod.Globals[idx].Set(d.stack.Pop())
			d.pc++

		case wasm.OpTableGet:
			idx := ins.Imm.(wasm.TableImm).TableIdx
			i := uint64(uint32(d.stack.Pop().I32()))
			v, t := d.mod.Tables[idx].Get(i, ins.Opcode, uint32(d.pc))
			if t != nil {
				return nil, t
			}
			d.stack.Push(v)
			d.pc++

		case wasm.OpTableSet:
			idx := ins.Imm.(wasm.TableImm).TableIdx
			v := d.stack.Pop()
			i := uint64(uint32(d.stack.Pop().I32()))
			if t := d.mod.Tables[idx].Set(i, v, ins.Opcode, uint32(d.pc)); t != nil {
				return nil, t
			}
			d.pc++

		case wasm.OpRefNull:
			ht := ins.Imm.(wasm.RefNullImm).HeapType
			rt := RefType{HeapType: ht, Nullable: true}
			if ht >= 0 {
				rt.Module = d.mod
			}
			d.stack.Push(NullRef(rt))
			d.pc++

		case wasm.OpRefIsNull:
			d.stack.Push(boolVal(d.stack.Pop().IsNull()))
			d.pc++

		case wasm.OpRefFunc:
			idx := ins.Imm.(wasm.RefFuncImm).FuncIdx
			d.stack.Push(RefFuncVal(d.mod, uint64(idx)))
			d.pc++

		case wasm.OpRefAsNonNull:
			if d.stack.PeekTop().IsNull() {
				return nil, NewTrap(TrapCastNullToNonNull, ins.Opcode, uint32(d.pc), "ref.as_non_null on null reference")
			}
			d.pc++

		case wasm.OpRefEq:
			b := d.stack.Pop()
			a := d.stack.Pop()
			d.stack.Push(boolVal(refEq(a, b)))
			d.pc++

		case wasm.OpBrOnNull:
			depth := int(ins.Imm.(wasm.BranchImm).LabelIdx)
			if d.stack.PeekTop().IsNull() {
				d.stack.Pop()
				contPC, _ := d.stack.BranchTo(depth)
				d.pc = contPC
			} else {
				d.pc++
			}

		case wasm.OpBrOnNonNull:
			depth := int(ins.Imm.(wasm.BranchImm).LabelIdx)
			if !d.stack.PeekTop().IsNull() {
				contPC, _ := d.stack.BranchTo(depth)
				d.pc = contPC
			} else {
				d.stack.Pop()
				d.pc++
			}

		case wasm.OpTryTable:
			d.execTryTable(ins)

		case wasm.OpThrow:
			tagIdx := ins.Imm.(wasm.ThrowImm).TagIdx
			tag := d.mod.Tags[tagIdx]
			payload := d.popArgs(len(tag.Type.Params))
			exnVal := d.mod.Gc.NewException(tagIdx, tag, payload, d.mod)
			if err := d.raiseException(tag, exnVal, payload); err != nil {
				return nil, err
			}

		case wasm.OpThrowRef:
			ref := d.stack.Pop()
			if ref.IsNull() {
				return nil, NewTrap(TrapAccessNullException, ins.Opcode, uint32(d.pc), "throw_ref on null exnref")
			}
			exn := resolveException(ref)
			if exn == nil {
				return nil, NewTrap(TrapAccessNullException, ins.Opcode, uint32(d.pc), "throw_ref on an unresolved exnref")
			}
			if err := d.raiseException(exn.Tag, ref, exn.Payload); err != nil {
				return nil, err
			}

		case wasm.OpTry, wasm.OpCatch, wasm.OpCatchAll, wasm.OpRethrow, wasm.OpDelegate:
			// The pre-standardization exception-handling opcodes were
			// superseded by try_table before the proposal shipped; modules
			// compiled against the final spec only ever emit try_table.
			return nil, NewTrap(TrapUnreachable, ins.Opcode, uint32(d.pc), "legacy try/catch opcode 0x%02x is not supported; recompile against try_table", ins.Opcode)

		case wasm.OpMemorySize:
			idx := ins.Imm.(wasm.MemoryIdxImm).MemIdx
			d.stack.Push(I32(int32(d.mod.Memories[idx].Pages())))
			d.pc++

		case wasm.OpMemoryGrow:
			idx := ins.Imm.(wasm.MemoryIdxImm).MemIdx
			delta := uint32(d.stack.Pop().I32())
			d.stack.Push(I32(int32(d.mod.Memories[idx].Grow(delta))))
			d.pc++

		case wasm.OpI32Const:
			d.stack.Push(I32(ins.Imm.(wasm.I32Imm).Value))
			d.pc++
		case wasm.OpI64Const:
			d.stack.Push(I64(ins.Imm.(wasm.I64Imm).Value))
			d.pc++
		case wasm.OpF32Const:
			d.stack.Push(F32(ins.Imm.(wasm.F32Imm).Value))
			d.pc++
		case wasm.OpF64Const:
			d.stack.Push(F64(ins.Imm.(wasm.F64Imm).Value))
			d.pc++

		case wasm.OpPrefixGC:
			if t := d.execGC(ins); t != nil {
				return nil, t
			}
			d.pc++

		case wasm.OpPrefixMisc:
			if t := d.execMisc(ins); t != nil {
				return nil, t
			}
			d.pc++

		case wasm.OpPrefixSIMD:
			if t := d.execSIMD(ins); t != nil {
				return nil, t
			}
			d.pc++

		case wasm.OpPrefixAtomic:
			if t := d.execAtomic(ins); t != nil {
				return nil, t
			}
			d.pc++

		default:
			if isLoadOpcode(ins.Opcode) || isStoreOpcode(ins.Opcode) {
				if t := d.execLoadStore(ins); t != nil {
					return nil, t
				}
				d.pc++
				continue
			}
			if t := d.execNumeric(ins); t != nil {
				return nil, t
			}
			d.pc++
		}
	}
}

func (d *dispatcher) resolveIndirect(imm wasm.CallIndirectImm, opcode byte) (*FunctionInstance, *Trap) {
	i := uint64(uint32(d.stack.Pop().I32()))
	tbl := d.mod.Tables[imm.TableIdx]
	ref, t := tbl.Get(i, opcode, uint32(d.pc))
	if t != nil {
		return nil, t
	}
	if ref.IsNull() {
		return nil, NewTrap(TrapUninitializedElement, opcode, uint32(d.pc), "call_indirect: table slot %d is not initialized", i)
	}
	fn := ResolveFuncRef(ref)
	if fn == nil {
		return nil, NewTrap(TrapUndefinedElement, opcode, uint32(d.pc), "call_indirect: unresolved function reference")
	}
	expected := d.mod.resolveType(imm.TypeIdx)
	if expected == nil || expected.Func == nil || !funcTypeEquals(expected.Func, &fn.Type) {
		return nil, NewTrap(TrapIndirectCallTypeMismatch, opcode, uint32(d.pc), "call_indirect: table entry's type does not match the declared signature")
	}
	return fn, nil
}

func (d *dispatcher) resolveFuncRefCallable(ref Value, opcode byte) (*FunctionInstance, *Trap) {
	if ref.IsNull() {
		return nil, NewTrap(TrapAccessNullFunc, opcode, uint32(d.pc), "call_ref on null funcref")
	}
	fn := ResolveFuncRef(ref)
	if fn == nil {
		return nil, NewTrap(TrapAccessNullFunc, opcode, uint32(d.pc), "call_ref: unresolved function reference")
	}
	return fn, nil
}

// tailCall implements return_call*: discard the current frame entirely, then
// either chain straight into the callee (continuing the same dispatch loop)
// or, if the callee is a host function, invoke it and immediately resume at
// the discarded frame's own return point.
func (d *dispatcher) tailCall(fn *FunctionInstance, args []Value) ([]Value, bool, error) {
	retPC, retFunc, retMod := d.stack.PopFrameForTailCall()
	if fn.IsHost() {
		outs, err := d.callHost(fn, args)
		if err != nil {
			return nil, true, err
		}
		if retFunc == nil {
			return outs, true, nil
		}
		for _, o := range outs {
			d.stack.Push(o)
		}
		d.code, d.cf, d.mod, d.pc = retFunc.Code, retFunc, retMod, retPC
		return nil, false, nil
	}
	d.stack.PushFrame(fn.Module, retPC, nil, retFunc, retMod, len(fn.Type.Results), fn.Code.Locals, args)
	d.code, d.cf, d.mod, d.pc = fn.Code.Code, fn.Code, fn.Module, 0
	return nil, false, nil
}

// execTryTable installs a handler whose catch targets are resolved once,
// right now, against the label stack as it stands inside the try_table block
// (spec §4.6.1: resolving at install time avoids depth drift from nested
// blocks opened/closed later, or from partial unwinding during propagation).
func (d *dispatcher) execTryTable(ins Instr) {
	imm := ins.Imm.(wasm.TryTableImm)
	paramN, arity := d.blockArity(imm.BlockType)
	endPC := d.cf.EndOf(d.pc)
	d.stack.PushLabel(paramN, arity, endPC+1, false)

	catches := make([]CatchEntry, len(imm.Catches))
	for i, c := range imm.Catches {
		_, l := d.stack.labelAt(int(c.LabelIdx))
		contArity := l.arity
		contPC := l.contPC
		if l.isLoop {
			// Resume past the `loop` opcode itself rather than on it: the
			// target label is left installed (never removed, since
			// UnwindToHandler only drops labels nested inside the handler),
			// so re-running OpLoop here would push a duplicate.
			contArity = l.paramN
			contPC = l.contPC + 1
		}
		ce := CatchEntry{ContPC: contPC, Arity: contArity, IsLoop: l.isLoop}
		switch c.Kind {
		case wasm.CatchKindCatch:
			ce.Tag = d.mod.Tags[c.TagIdx]
		case wasm.CatchKindCatchRef:
			ce.Tag = d.mod.Tags[c.TagIdx]
			ce.PushRef = true
		case wasm.CatchKindCatchAll:
			ce.IsAll = true
		case wasm.CatchKindCatchAllRef:
			ce.IsAll = true
			ce.PushRef = true
		}
		catches[i] = ce
	}
	d.stack.PushHandler(d.pc, paramN, catches, d.cf, d.mod)
	d.pc++
}

// raiseException searches outward for a handler with a matching catch
// clause, discarding any call frames abandoned along the way (spec §4.6.1
// "propagation continues up the stack"), and resumes at the matched catch's
// target. It returns a non-nil error only when no handler matches anywhere —
// the exception then escapes to the host caller.
func (d *dispatcher) raiseException(tag *TagInstance, exnRef Value, payload []Value) error {
	for {
		h, ok := d.stack.InnermostHandler()
		if !ok {
			return &UncaughtException{Tag: tag, Payload: payload}
		}
		var matched *CatchEntry
		for i := range h.catches {
			c := &h.catches[i]
			if c.IsAll || c.Tag == tag {
				matched = c
				break
			}
		}
		if matched == nil {
			d.stack.PopHandler()
			continue
		}
		hh := d.stack.UnwindToHandler()
		if hh.frameIdx < d.stack.CurrentFrameIdx() {
			d.stack.UnwindFramesAbove(hh.frameIdx)
		}
		d.code, d.cf, d.mod = hh.ownerCF.Code, hh.ownerCF, hh.ownerMod
		for _, v := range payload {
			d.stack.Push(v)
		}
		if matched.PushRef {
			d.stack.Push(exnRef)
		}
		d.pc = matched.ContPC
		return nil
	}
}
