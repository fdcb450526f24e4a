package engine

import (
	"context"
	"fmt"

	"go.bytecodealliance.org/wit"

	"github.com/wasmforge/corevm/canon"
)

// CallSession drives a single asyncify-aware call step by step, so a caller
// can suspend when the guest does (rather than blocking inside Call) and
// resume later with a host result via Step's YieldResult.
type CallSession struct {
	inst        *Instance
	resultTypes []wit.Type
	retptr      uint32
	needsRetptr bool
	isComponent bool
}

// StartCall begins an asyncify-aware call to name. The instance must have
// had EnableAsyncify called on it already.
func (inst *Instance) StartCall(ctx context.Context, name string, args ...any) (*CallSession, error) {
	if inst.scheduler == nil {
		return nil, fmt.Errorf("engine: asyncify not enabled on this instance")
	}

	if inst.module.canonRegistry != nil {
		lift := inst.module.FindLift(name)
		fn := inst.resolveLiftFunc(lift, name)
		if fn == nil {
			return nil, fmt.Errorf("engine: export %q has no backing core function", name)
		}
		var params, results []wit.Type
		if lift != nil {
			params, results = lift.Params, lift.Results
		}
		flat, retptr, needsRetptr, err := canon.EncodeFlatParams(ctx, inst.rt, inst.mod, params, results, args...)
		if err != nil {
			return nil, err
		}
		if err := inst.scheduler.Execute(ctx, inst.rt, fn, flat...); err != nil {
			return nil, err
		}
		return &CallSession{inst: inst, resultTypes: results, retptr: retptr, needsRetptr: needsRetptr, isComponent: true}, nil
	}

	fn := inst.mod.ExportedFunc(name)
	if fn == nil {
		return nil, fmt.Errorf("engine: no export named %q", name)
	}
	flat := make([]uint64, len(args))
	for i, a := range args {
		v, err := coreValueFrom(a)
		if err != nil {
			return nil, fmt.Errorf("engine: arg %d: %w", i, err)
		}
		flat[i] = v.Lo
	}
	if err := inst.scheduler.Execute(ctx, inst.rt, fn, flat...); err != nil {
		return nil, err
	}
	return &CallSession{inst: inst}, nil
}

// Step advances the underlying scheduler. Pass nil on the first call, then
// resume with the YieldResult produced by the host operation the guest
// suspended on.
func (cs *CallSession) Step(ctx context.Context, yr *YieldResult) (StepResult, error) {
	if cs == nil || cs.inst == nil || cs.inst.scheduler == nil {
		return StepResult{}, fmt.Errorf("engine: call session is nil")
	}
	return cs.inst.scheduler.Step(ctx, yr)
}

// LiftResult decodes the raw flat results produced once Step reports
// StepDone into a Go value, through the canonical ABI when the session was
// started against a component export.
func (cs *CallSession) LiftResult(_ context.Context, rawResults []uint64) (any, error) {
	if cs == nil || cs.inst == nil {
		return nil, fmt.Errorf("engine: call session is nil")
	}
	if !cs.isComponent {
		if len(rawResults) == 0 {
			return nil, nil
		}
		if len(rawResults) == 1 {
			return rawResults[0], nil
		}
		return rawResults, nil
	}
	return canon.DecodeFlatResults(cs.resultTypes, rawResults, cs.retptr, cs.needsRetptr, canon.FindMemory(cs.inst.mod))
}
