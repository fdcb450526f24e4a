package canon

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"unsafe"

	"go.bytecodealliance.org/wit"
	"go.uber.org/zap"

	"github.com/wasmforge/corevm/component"
	"github.com/wasmforge/corevm/transcoder"
	"github.com/wasmforge/corevm/vm"
	"github.com/wasmforge/corevm/wasm"
)

// LowerWrapper wraps a Go function so it can be called from guest code as a
// canonical-ABI host import (spec §4.10): flat core-wasm values arriving on
// the frame are lifted into Go values, the handler runs, and its results are
// lowered back to the flat representation the caller reads off its stack.
type LowerWrapper struct {
	argsPool     sync.Pool
	handlerIf    any
	handlerTyp   reflect.Type
	compiler     *transcoder.Compiler
	encoder      *transcoder.Encoder
	decoder      *transcoder.Decoder
	def          *component.LowerDef
	handler      reflect.Value
	paramTypes   []*transcoder.CompiledType
	resultTypes  []*transcoder.CompiledType
	argTypes     []reflect.Type
	logger       *zap.Logger
	numIn        int
	goParamStart int
	hasCtx       bool
}

func (w *LowerWrapper) Name() string { return w.def.Name }

// NewLowerWrapper builds a wrapper around handler, a Go function implementing
// def's WIT signature. handler's first parameter may optionally be a
// context.Context; its final results map to def.Results positionally.
func NewLowerWrapper(def *component.LowerDef, handler any, logger *zap.Logger) (*LowerWrapper, error) {
	handlerVal := reflect.ValueOf(handler)
	if handlerVal.Kind() != reflect.Func {
		return nil, fmt.Errorf("canon: handler must be a function, got %T", handler)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	handlerType := handlerVal.Type()
	numIn := handlerType.NumIn()
	hasCtx := numIn > 0 && handlerType.In(0) == reflect.TypeOf((*context.Context)(nil)).Elem()
	goParamStart := 0
	if hasCtx {
		goParamStart = 1
	}

	argTypes := make([]reflect.Type, numIn)
	for i := 0; i < numIn; i++ {
		argTypes[i] = handlerType.In(i)
	}

	w := &LowerWrapper{
		def:          def,
		handler:      handlerVal,
		handlerTyp:   handlerType,
		handlerIf:    handler,
		encoder:      transcoder.NewEncoder(),
		decoder:      transcoder.NewDecoder(),
		compiler:     transcoder.NewCompiler(),
		logger:       logger,
		numIn:        numIn,
		hasCtx:       hasCtx,
		goParamStart: goParamStart,
		argTypes:     argTypes,
		argsPool: sync.Pool{
			New: func() any {
				s := make([]reflect.Value, numIn)
				return &s
			},
		},
	}

	if err := w.compileTypes(); err != nil {
		w.logger.Debug("canon: type compilation failed, using dynamic transcoding", zap.Error(err))
	}

	return w, nil
}

func (w *LowerWrapper) compileTypes() error {
	handlerType := w.handlerTyp

	w.paramTypes = make([]*transcoder.CompiledType, len(w.def.Params))
	for i, witType := range w.def.Params {
		goIdx := w.goParamStart + i
		if goIdx >= w.numIn {
			break
		}
		goType := handlerType.In(goIdx)
		ct, err := w.compiler.Compile(witType, goType)
		if err != nil {
			return fmt.Errorf("param %d: %w", i, err)
		}
		w.paramTypes[i] = ct
	}

	numOut := handlerType.NumOut()
	w.resultTypes = make([]*transcoder.CompiledType, len(w.def.Results))
	for i, witType := range w.def.Results {
		if i >= numOut {
			break
		}
		goType := handlerType.Out(i)
		ct, err := w.compiler.Compile(witType, goType)
		if err != nil {
			return fmt.Errorf("result %d: %w", i, err)
		}
		w.resultTypes[i] = ct
	}

	return nil
}

// BuildHostFunc materializes the wrapper as a vm.HostFunc suitable for
// registration on a synthetic host ModuleInstance (see linker.HostModuleBuilder).
func (w *LowerWrapper) BuildHostFunc() vm.HostFunc {
	return func(frame *vm.CallingFrame, inputs []vm.Value, outputs []vm.Value) error {
		return w.callHandler(frame, inputs, outputs)
	}
}

func (w *LowerWrapper) callHandler(frame *vm.CallingFrame, inputs []vm.Value, outputs []vm.Value) error {
	log := w.logger

	mod := frame.Module
	mem := FindMemory(mod)
	if mem == nil {
		return fmt.Errorf("canon: %s: calling module has no linear memory", w.def.Name)
	}

	allocFn := FindAllocFunc(mod)
	freeFn := FindFreeFunc(mod)
	alloc := NewVMAllocator(context.Background(), frame.Runtime(), allocFn, freeFn)

	stack := make([]uint64, len(inputs))
	for i, v := range inputs {
		stack[i] = v.Lo
	}

	argsPtr := w.argsPool.Get().(*[]reflect.Value)
	args := *argsPtr
	defer func() {
		var zero reflect.Value
		for i := range args {
			args[i] = zero
		}
		w.argsPool.Put(argsPtr)
	}()

	flatIdx := 0
	paramIdx := 0

	for i := 0; i < w.numIn; i++ {
		paramType := w.argTypes[i]

		if i == 0 && w.hasCtx {
			args[i] = reflect.ValueOf(context.Background())
			continue
		}

		if paramIdx < len(w.paramTypes) && w.paramTypes[paramIdx] != nil {
			ct := w.paramTypes[paramIdx]
			goValPtr := reflect.New(paramType)
			ptr := unsafe.Pointer(goValPtr.Pointer())
			consumed, err := w.decoder.LiftFromStack(ct, stack[flatIdx:], ptr, mem)
			if err != nil {
				log.Warn("canon: LiftFromStack failed", zap.String("func", w.def.Name), zap.Int("param", paramIdx), zap.Error(err))
				args[i] = reflect.Zero(paramType)
			} else {
				args[i] = goValPtr.Elem()
				flatIdx += consumed
			}
			paramIdx++
		} else if paramIdx < len(w.def.Params) {
			witType := w.def.Params[paramIdx]
			goArg, consumed, err := w.liftArg(witType, stack[flatIdx:], mem, paramType)
			if err != nil {
				log.Warn("canon: liftArg failed", zap.String("func", w.def.Name), zap.Int("param", paramIdx), zap.Error(err))
				args[i] = reflect.Zero(paramType)
			} else {
				args[i] = goArg
				flatIdx += consumed
			}
			paramIdx++
		} else {
			args[i] = reflect.Zero(paramType)
		}
	}

	var retptr uint32
	if w.usesRetptr() && flatIdx < len(stack) {
		retptr = uint32(stack[flatIdx])
	}

	results := w.handler.Call(args)

	if w.usesRetptr() {
		offset := uint32(0)
		for i, result := range results {
			if i < len(w.def.Results) {
				witType := w.def.Results[i]
				if err := w.storeResultToMemory(witType, result.Interface(), retptr+offset, mem, alloc); err != nil {
					return fmt.Errorf("canon: %s: store result %d: %w", w.def.Name, i, err)
				}
				offset += resultSize(witType)
			}
		}
		return nil
	}

	resultIdx := 0
	for i, result := range results {
		if i < len(w.resultTypes) && w.resultTypes[i] != nil {
			ct := w.resultTypes[i]
			val := result.Interface()
			rv := reflect.ValueOf(val)
			if rv.Kind() == reflect.Invalid {
				resultIdx += ct.FlatCount
				continue
			}
			tmp := reflect.New(rv.Type())
			tmp.Elem().Set(rv)
			ptr := unsafe.Pointer(tmp.Pointer())
			flatStack := make([]uint64, len(outputs)-resultIdx)
			consumed, err := w.encoder.LowerToStack(ct, ptr, flatStack, mem, alloc)
			if err != nil {
				log.Warn("canon: LowerToStack failed", zap.String("func", w.def.Name), zap.Int("result", i), zap.Error(err))
				continue
			}
			for j := 0; j < consumed && resultIdx < len(outputs); j++ {
				outputs[resultIdx] = valueFromFlat(w.resultKindAt(i), flatStack[j])
				resultIdx++
			}
		} else if i < len(w.def.Results) {
			witType := w.def.Results[i]
			flat, err := w.lowerResult(witType, result.Interface(), mem, alloc)
			if err != nil {
				log.Warn("canon: lowerResult failed", zap.String("func", w.def.Name), zap.Int("result", i), zap.Error(err))
				continue
			}
			for _, v := range flat {
				if resultIdx < len(outputs) {
					outputs[resultIdx] = valueFromFlat(w.resultKindAt(i), v)
					resultIdx++
				}
			}
		}
	}
	return nil
}

// resultKindAt reports the core value kind of def.Results[i] for tagging a
// flat uint64 back into a vm.Value — component model results are scalar or
// pointer-shaped at the flat boundary (strings/lists flatten to ptr+len i32
// pairs), so a single kind per declared result position is sufficient here.
func (w *LowerWrapper) resultKindAt(i int) wasm.ValType {
	if i >= len(w.def.Results) {
		return wasm.ValI32
	}
	flats := getFlatTypes(w.def.Results[i])
	if len(flats) == 0 {
		return wasm.ValI32
	}
	return flats[0]
}

func valueFromFlat(vt wasm.ValType, raw uint64) vm.Value {
	switch vt {
	case wasm.ValI64:
		return vm.Value{Kind: vm.KindI64, Lo: raw}
	case wasm.ValF32:
		return vm.Value{Kind: vm.KindF32, Lo: raw}
	case wasm.ValF64:
		return vm.Value{Kind: vm.KindF64, Lo: raw}
	default:
		return vm.Value{Kind: vm.KindI32, Lo: raw}
	}
}

func (w *LowerWrapper) storeResultToMemory(witType wit.Type, value any, addr uint32, mem transcoder.Memory, alloc transcoder.Allocator) error {
	switch witType.(type) {
	case wit.String:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
		dataLen := uint32(len(s))
		if dataLen == 0 {
			if err := mem.WriteU32(addr, 0); err != nil {
				return err
			}
			return mem.WriteU32(addr+4, 0)
		}
		dataAddr, err := alloc.Alloc(dataLen, 1)
		if err != nil {
			return err
		}
		if err := mem.Write(dataAddr, []byte(s)); err != nil {
			return err
		}
		if err := mem.WriteU32(addr, dataAddr); err != nil {
			return err
		}
		return mem.WriteU32(addr+4, dataLen)
	default:
		flat, err := w.encoder.EncodeParams([]wit.Type{witType}, []any{value}, mem, alloc, nil)
		if err != nil {
			return err
		}
		for i, v := range flat {
			if err := mem.WriteU32(addr+uint32(i*4), uint32(v)); err != nil {
				return err
			}
		}
		return nil
	}
}

func (w *LowerWrapper) liftArg(witType wit.Type, flat []uint64, mem transcoder.Memory, goType reflect.Type) (reflect.Value, int, error) {
	value, err := w.decoder.DecodeResults([]wit.Type{witType}, flat, mem)
	if err != nil {
		return reflect.Value{}, 0, err
	}
	if len(value) == 0 {
		return reflect.Zero(goType), 1, nil
	}
	consumed := flatCount(witType)
	return reflect.ValueOf(value[0]).Convert(goType), consumed, nil
}

func (w *LowerWrapper) lowerResult(witType wit.Type, value any, mem transcoder.Memory, alloc transcoder.Allocator) ([]uint64, error) {
	allocList := transcoder.NewAllocationList()
	defer allocList.Release() // allocations owned by the calling guest
	return w.encoder.EncodeParams([]wit.Type{witType}, []any{value}, mem, alloc, allocList)
}

// ValidateHandler checks the Go handler's arity/shape against the WIT
// signature. Returns nil if def.Params is nil (types unknown because
// component parsing failed upstream).
func (w *LowerWrapper) ValidateHandler() error {
	if w.def.Params == nil {
		return nil
	}

	handlerType := w.handlerTyp
	numIn := handlerType.NumIn()
	numOut := handlerType.NumOut()

	ctxOffset := 0
	if numIn > 0 && handlerType.In(0) == reflect.TypeOf((*context.Context)(nil)).Elem() {
		ctxOffset = 1
	}

	expectedParams := len(w.def.Params)
	actualParams := numIn - ctxOffset
	if actualParams != expectedParams {
		return fmt.Errorf("param count mismatch: expected %d, got %d", expectedParams, actualParams)
	}

	if w.def.Results == nil {
		return nil
	}

	expectedResults := len(w.def.Results)
	if numOut != expectedResults {
		if expectedResults == 1 && numOut == 2 && w.hasResultType() {
			// WIT result<T, E> maps to Go (T, error)
		} else if expectedResults == 0 && numOut == 0 {
		} else {
			return fmt.Errorf("result count mismatch: expected %d, got %d", expectedResults, numOut)
		}
	}

	return nil
}

func (w *LowerWrapper) hasResultType() bool {
	if len(w.def.Results) != 1 {
		return false
	}
	switch r := w.def.Results[0].(type) {
	case *wit.TypeDef:
		_, ok := r.Kind.(*wit.Result)
		return ok
	default:
		return false
	}
}

func (w *LowerWrapper) usesRetptr() bool { return usesRetptr(w.def.Results) }

// FlatParamTypes reports the core wasm.ValType sequence a guest must supply
// for this function's parameters, including a trailing i32 retptr when
// results exceed MaxFlatResults.
func (w *LowerWrapper) FlatParamTypes() []wasm.ValType {
	var types []wasm.ValType
	for _, p := range w.def.Params {
		types = append(types, getFlatTypes(p)...)
	}
	if w.usesRetptr() {
		types = append(types, wasm.ValI32)
	}
	return types
}

// FlatResultTypes reports the core wasm.ValType sequence for this function's
// results, or nil when results are written through a retptr instead.
func (w *LowerWrapper) FlatResultTypes() []wasm.ValType {
	if w.usesRetptr() {
		return nil
	}
	var types []wasm.ValType
	for _, r := range w.def.Results {
		types = append(types, getFlatTypes(r)...)
	}
	return types
}

func getFlatTypes(witType wit.Type) []wasm.ValType {
	switch t := witType.(type) {
	case wit.Bool, wit.U8, wit.S8, wit.U16, wit.S16, wit.U32, wit.S32, wit.Char:
		return []wasm.ValType{wasm.ValI32}
	case wit.U64, wit.S64:
		return []wasm.ValType{wasm.ValI64}
	case wit.F32:
		return []wasm.ValType{wasm.ValF32}
	case wit.F64:
		return []wasm.ValType{wasm.ValF64}
	case wit.String:
		return []wasm.ValType{wasm.ValI32, wasm.ValI32}
	case *wit.TypeDef:
		switch kind := t.Kind.(type) {
		case *wit.Record:
			var types []wasm.ValType
			for _, f := range kind.Fields {
				types = append(types, getFlatTypes(f.Type)...)
			}
			return types
		case *wit.List:
			return []wasm.ValType{wasm.ValI32, wasm.ValI32}
		case *wit.Tuple:
			var types []wasm.ValType
			for _, elem := range kind.Types {
				types = append(types, getFlatTypes(elem)...)
			}
			return types
		case *wit.Option:
			types := []wasm.ValType{wasm.ValI32}
			types = append(types, getFlatTypes(kind.Type)...)
			return types
		case *wit.Result:
			maxPayload := []wasm.ValType{}
			if kind.OK != nil {
				if okTypes := getFlatTypes(kind.OK); len(okTypes) > len(maxPayload) {
					maxPayload = okTypes
				}
			}
			if kind.Err != nil {
				if errTypes := getFlatTypes(kind.Err); len(errTypes) > len(maxPayload) {
					maxPayload = errTypes
				}
			}
			return append([]wasm.ValType{wasm.ValI32}, maxPayload...)
		case *wit.Variant:
			maxPayload := []wasm.ValType{}
			for _, c := range kind.Cases {
				if c.Type != nil {
					if caseTypes := getFlatTypes(c.Type); len(caseTypes) > len(maxPayload) {
						maxPayload = caseTypes
					}
				}
			}
			return append([]wasm.ValType{wasm.ValI32}, maxPayload...)
		case *wit.Enum, *wit.Flags:
			return []wasm.ValType{wasm.ValI32}
		}
	}
	return []wasm.ValType{wasm.ValI32}
}
