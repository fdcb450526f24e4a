package vm

import (
	"fmt"

	"github.com/wasmforge/corevm/errors"
)

// TrapKind enumerates the trap taxonomy from spec §7, verbatim.
type TrapKind string

const (
	TrapUnreachable TrapKind = "Unreachable"
	TrapDivideByZero TrapKind = "DivideByZero"
	TrapIntegerOverflow TrapKind = "IntegerOverflow"
	TrapInvalidConvToInt TrapKind = "InvalidConvToInt"

	TrapMemoryOutOfBounds TrapKind = "MemoryOutOfBounds"
	TrapTableOutOfBounds  TrapKind = "TableOutOfBounds"
	TrapArrayOutOfBounds  TrapKind = "ArrayOutOfBounds"

	TrapUnalignedAtomicAccess TrapKind = "UnalignedAtomicAccess"
	TrapExpectSharedMemory    TrapKind = "ExpectSharedMemory"

	TrapAccessNullFunc      TrapKind = "AccessNullFunc"
	TrapAccessNullStruct    TrapKind = "AccessNullStruct"
	TrapAccessNullArray     TrapKind = "AccessNullArray"
	TrapAccessNullI31       TrapKind = "AccessNullI31"
	TrapAccessNullException TrapKind = "AccessNullException"
	TrapCastNullToNonNull   TrapKind = "CastNullToNonNull"

	TrapUndefinedElement       TrapKind = "UndefinedElement"
	TrapUninitializedElement   TrapKind = "UninitializedElement"
	TrapIndirectCallTypeMismatch TrapKind = "IndirectCallTypeMismatch"

	TrapCastFailed TrapKind = "CastFailed"

	TrapDataSegDoesNotFit TrapKind = "DataSegDoesNotFit"
	TrapElemSegDoesNotFit TrapKind = "ElemSegDoesNotFit"

	TrapCostLimitExceeded TrapKind = "CostLimitExceeded"
	TrapInterrupted       TrapKind = "Interrupted"
	TrapTerminated        TrapKind = "Terminated"

	TrapUnknownImport          TrapKind = "UnknownImport"
	TrapIncompatibleImportType TrapKind = "IncompatibleImportType"

	TrapInvalidCoreSort             TrapKind = "InvalidCoreSort"
	TrapInvalidCanonOption           TrapKind = "InvalidCanonOption"
	TrapComponentNotImplInstantiate TrapKind = "ComponentNotImplInstantiate"
)

// Trap is the error type raised by the dispatcher and instantiator. It wraps
// the teacher's structured errors.Error so traps participate in the same
// Phase/Kind diagnostic sink as the rest of the SDK, while adding the
// opcode/byte-offset context spec §6 requires every trap to carry
// ("ErrInfo::InfoInstruction").
type Trap struct {
	*errors.Error
	TrapKind TrapKind
	Opcode   byte
	Offset   uint32
	Context  map[string]any
}

func (t *Trap) Error() string {
	if t.Offset != 0 || t.Opcode != 0 {
		return fmt.Sprintf("%s (opcode 0x%02x @ offset %d): %s", t.TrapKind, t.Opcode, t.Offset, t.Error)
	}
	return string(t.TrapKind) + ": " + t.Error.Error()
}

func (t *Trap) Unwrap() error { return t.Error }

// NewTrap constructs a Trap, recording opcode/offset for the diagnostic sink.
func NewTrap(kind TrapKind, opcode byte, offset uint32, detail string, args ...any) *Trap {
	return &Trap{
		Error: errors.New(errors.PhaseRuntime, errors.KindTrap).
			Detail(detail, args...).
			Build(),
		TrapKind: kind,
		Opcode:   opcode,
		Offset:   offset,
	}
}

// WithContext attaches kind-specific diagnostic context (boundary details,
// mismatched type lists, importing module/name) to a trap.
func (t *Trap) WithContext(key string, value any) *Trap {
	if t.Context == nil {
		t.Context = make(map[string]any, 4)
	}
	t.Context[key] = value
	return t
}

// AsTrap reports whether err is (or wraps) a *Trap of the given kind.
func AsTrap(err error, kind TrapKind) (*Trap, bool) {
	t, ok := err.(*Trap)
	if !ok {
		return nil, false
	}
	return t, t.TrapKind == kind
}
