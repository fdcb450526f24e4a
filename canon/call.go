package canon

import (
	"context"
	"fmt"

	"go.bytecodealliance.org/wit"

	"github.com/wasmforge/corevm/transcoder"
	"github.com/wasmforge/corevm/vm"
	"github.com/wasmforge/corevm/wasm"
)

const wasmI32 = wasm.ValI32

func flatKindsFor(types []wit.Type) []wasm.ValType {
	var kinds []wasm.ValType
	for _, t := range types {
		kinds = append(kinds, getFlatTypes(t)...)
	}
	return kinds
}

// EncodeFlatParams lowers args into flat core-wasm values ready for a call,
// allocating guest memory for strings/lists via mod's own realloc export
// when needed, and appending a retptr argument when resultTypes need one.
// This is the argument-lowering half of CallExport, split out so a caller
// that drives the call separately (the asyncify step scheduler) can lower
// once and invoke later.
func EncodeFlatParams(ctx context.Context, rt *vm.Runtime, mod *vm.ModuleInstance, paramTypes, resultTypes []wit.Type, args ...any) (flat []uint64, retptr uint32, needsRetptr bool, err error) {
	mem := FindMemory(mod)
	allocFn := FindAllocFunc(mod)
	freeFn := FindFreeFunc(mod)
	alloc := NewVMAllocator(ctx, rt, allocFn, freeFn)

	enc := transcoder.NewEncoder()
	allocList := transcoder.NewAllocationList()
	defer allocList.Release()

	flat, err = enc.EncodeParams(paramTypes, args, mem, alloc, allocList)
	if err != nil {
		return nil, 0, false, fmt.Errorf("canon: encode params: %w", err)
	}

	needsRetptr = usesRetptr(resultTypes)
	if needsRetptr {
		size := uint32(0)
		for _, rtType := range resultTypes {
			size += resultSize(rtType)
		}
		retptr, err = alloc.Alloc(size, 8)
		if err != nil {
			return nil, 0, false, fmt.Errorf("canon: alloc retptr: %w", err)
		}
		flat = append(flat, uint64(retptr))
	}
	return flat, retptr, needsRetptr, nil
}

// DecodeFlatResults lifts flat uint64 results (or, when needsRetptr, the
// memory at retptr) back into Go values, per resultTypes. This is the
// result-lifting half of CallExport, split out for callers driving the call
// externally.
func DecodeFlatResults(resultTypes []wit.Type, flatOut []uint64, retptr uint32, needsRetptr bool, mem transcoder.Memory) (any, error) {
	dec := transcoder.NewDecoder()
	if needsRetptr {
		results := make([]any, len(resultTypes))
		offset := uint32(0)
		for i, rtType := range resultTypes {
			val, err := loadResultFromMemory(rtType, retptr+offset, mem, dec)
			if err != nil {
				return nil, fmt.Errorf("canon: decode retptr result %d: %w", i, err)
			}
			results[i] = val
			offset += resultSize(rtType)
		}
		return singleOrSlice(results), nil
	}

	results, err := dec.DecodeResults(resultTypes, flatOut, mem)
	if err != nil {
		return nil, fmt.Errorf("canon: decode results: %w", err)
	}
	return singleOrSlice(results), nil
}

// CallExport invokes fn (an export of mod) through the canonical ABI: Go
// args are lowered to flat core-wasm values (allocating guest memory for
// strings/lists via mod's own realloc export when needed), the interpreter
// runs the call via rt.Call, and flat results are lifted back into a Go
// value. This is the mirror of LowerWrapper: there, a guest calls into a Go
// host function; here, a host caller invokes a guest export.
func CallExport(ctx context.Context, rt *vm.Runtime, mod *vm.ModuleInstance, fn *vm.FunctionInstance, paramTypes, resultTypes []wit.Type, args ...any) (any, error) {
	flat, retptr, needsRetptr, err := EncodeFlatParams(ctx, rt, mod, paramTypes, resultTypes, args...)
	if err != nil {
		return nil, err
	}

	paramKinds := flatKindsFor(paramTypes)
	if needsRetptr {
		paramKinds = append(paramKinds, wasmI32)
	}

	inputs := make([]vm.Value, len(flat))
	for i, v := range flat {
		kind := wasmI32
		if i < len(paramKinds) {
			kind = paramKinds[i]
		}
		inputs[i] = valueFromFlat(kind, v)
	}

	outputs, err := rt.Call(ctx, fn, inputs)
	if err != nil {
		return nil, err
	}

	flatOut := make([]uint64, len(outputs))
	for i, v := range outputs {
		flatOut[i] = v.Lo
	}
	return DecodeFlatResults(resultTypes, flatOut, retptr, needsRetptr, FindMemory(mod))
}

func singleOrSlice(results []any) any {
	switch len(results) {
	case 0:
		return nil
	case 1:
		return results[0]
	default:
		return results
	}
}

// loadResultFromMemory is the read-side mirror of LowerWrapper's
// storeResultToMemory: a string is a ptr+len pair at addr, everything else
// is resultSize(t)/4 little-endian u32 flat words starting at addr.
func loadResultFromMemory(t wit.Type, addr uint32, mem transcoder.Memory, dec *transcoder.Decoder) (any, error) {
	if _, ok := t.(wit.String); ok {
		ptr, err := mem.ReadU32(addr)
		if err != nil {
			return nil, err
		}
		length, err := mem.ReadU32(addr + 4)
		if err != nil {
			return nil, err
		}
		data, err := mem.Read(ptr, length)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	}

	words := resultSize(t) / 4
	if words == 0 {
		words = 1
	}
	flat := make([]uint64, words)
	for i := range flat {
		w, err := mem.ReadU32(addr + uint32(i*4))
		if err != nil {
			return nil, err
		}
		flat[i] = uint64(w)
	}
	results, err := dec.DecodeResults([]wit.Type{t}, flat, mem)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0], nil
}
