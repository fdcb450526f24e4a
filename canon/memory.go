package canon

import (
	"context"
	"fmt"

	"github.com/wasmforge/corevm/vm"
)

// FindMemory returns the module's sole exported linear memory, per spec
// §4.10's assumption that a canonical-lowered function's "memory" option
// names a single instance export. Components with multiple memories are
// out of scope; the first memory found is used.
func FindMemory(mod *vm.ModuleInstance) *vm.MemoryInstance {
	if mod == nil || len(mod.Memories) == 0 {
		return nil
	}
	return mod.Memories[0]
}

// FindAllocFunc resolves the realloc export used to grow a guest's linear
// memory on the host's behalf (spec §4.10 "realloc"), trying the
// canonical name first and falling back to names used by
// pre-standardization component-model producers.
func FindAllocFunc(mod *vm.ModuleInstance) *vm.FunctionInstance {
	if mod == nil {
		return nil
	}
	for _, name := range []string{CabiRealloc, legacyRealloc, legacyAlloc, simpleAlloc} {
		if fn := mod.ExportedFunc(name); fn != nil {
			return fn
		}
	}
	return nil
}

// FindFreeFunc resolves the matching deallocation export, if any.
func FindFreeFunc(mod *vm.ModuleInstance) *vm.FunctionInstance {
	if mod == nil {
		return nil
	}
	for _, name := range []string{CabiFree, legacyDealloc, simpleFree} {
		if fn := mod.ExportedFunc(name); fn != nil {
			return fn
		}
	}
	return nil
}

// VMAllocator implements transcoder.Allocator (== wasmruntime.Allocator) by
// invoking a guest module's cabi_realloc export through vm.Runtime.Call,
// per spec §4.10's realloc-based allocation protocol.
type VMAllocator struct {
	ctx     context.Context
	rt      *vm.Runtime
	alloc   *vm.FunctionInstance
	free    *vm.FunctionInstance
}

func NewVMAllocator(ctx context.Context, rt *vm.Runtime, alloc, free *vm.FunctionInstance) *VMAllocator {
	return &VMAllocator{ctx: ctx, rt: rt, alloc: alloc, free: free}
}

func (a *VMAllocator) Alloc(size, align uint32) (uint32, error) {
	if a.alloc == nil {
		return 0, fmt.Errorf("canon: no realloc export available")
	}
	results, err := a.rt.Call(a.ctx, a.alloc, []vm.Value{
		vm.I32(0), vm.I32(0), vm.I32(int32(align)), vm.I32(int32(size)),
	})
	if err != nil {
		return 0, err
	}
	if len(results) == 0 {
		return 0, fmt.Errorf("canon: realloc export returned no results")
	}
	return uint32(results[0].I32()), nil
}

func (a *VMAllocator) Free(ptr, size, align uint32) {
	if a.free == nil {
		return
	}
	_, _ = a.rt.Call(a.ctx, a.free, []vm.Value{
		vm.I32(int32(ptr)), vm.I32(int32(size)), vm.I32(int32(align)),
	})
}
