// Package vm implements the bytecode virtual machine: an operand
// stack, a call-frame list, an instruction pointer, and a dispatch
// loop that executes a linked Unit against a Context, emitting a
// StopReason (Yield/Await/CallVm/Exit) whenever execution must
// suspend to support generators and futures.
//
// The dispatch-loop shape (fetch/decode/execute, cycle-count safety
// cap, wrapped errors) follows the teacher's
// internal/vybium-starks-vm/vm/vm_state.go Run/Step/ExecuteInstruction
// methods; the context-cancellation-aware Run(ctx) entry point and
// panic-to-error recovery follow the Risor VM idiom found in the
// wider retrieval pack.
package vm

import (
	"bytes"
	"context"
	"fmt"

	vctx "github.com/vybium/vybium-script-vm/internal/vybium-script-vm/context"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/fnptr"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/lang/item"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/lang/value"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/query"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/unit"
)

func init() {
	fnptr.RegisterHostFactory(func(ctx *vctx.Context, u *unit.Unit) fnptr.Host {
		return New(ctx, u)
	})
}

// maxCycles bounds a single Run/Resume call against runaway scripts,
// matching the teacher's vm_state.go cycle-count safety cap.
const maxCycles = 1_000_000

// maxDepth bounds call-frame nesting against unbounded recursion.
const maxDepth = 4096

// InstOp tags the concrete instruction set executed for unit.OpRaw
// payloads. Jump/JumpIf/JumpIfNot/Call are handled directly from the
// unit.Inst fields and never appear here.
type InstOp int

const (
	PushUnit InstOp = iota
	PushBool
	PushInt
	PushFloat
	PushStr   // slot index into the unit's static string table
	PushChar  // Unicode scalar value carried in Int
	PushBytes // slot index into the unit's static string table, reinterpreted as bytes
	Pop
	Dup
	LoadLocal  // stack-frame-relative index
	StoreLocal // stack-frame-relative index
	Add
	Sub
	Mul
	Div
	Eq
	Neq
	Lt
	Lte
	Gt
	Gte
	Not
	NewVec    // N elements popped off the stack
	NewTuple  // N elements popped off the stack
	Return
	ReturnUnit
	Yield
	Await
	// CallDynamic pops a callable FnPtr value off the top of the
	// stack, then calls it with the N values already beneath it on
	// the stack as arguments (used for closure calls and any other
	// call through a first-class function value).
	CallDynamic

	// TupleGet pops a Tuple/TypedTuple/VariantTuple and pushes its Nth
	// element, used both for plain tuple indexing and for pattern
	// destructuring.
	TupleGet
	// ObjectGetField pops an Object and pushes the field named by the
	// static string at Slot.
	ObjectGetField
	// MakeTypedTuple pops N elements and pushes a struct (TypedTuple)
	// instance tagged with Hash.
	MakeTypedTuple
	// MakeVariant pops N elements and pushes a VariantTuple tagged with
	// enum Hash2 and variant Hash.
	MakeVariant
	// MakeObject pops as many values as the static object-key set at
	// Slot has entries, and pushes an Object pairing them positionally.
	MakeObject
	// CheckVariant peeks the top of stack (leaving it in place) and
	// pushes a bool: whether it is a VariantTuple tagged with Hash.
	CheckVariant
	// CheckTypedTuple peeks the top of stack (leaving it in place) and
	// pushes a bool: whether it is a TypedTuple tagged with Hash.
	CheckTypedTuple
	// MakeClosure pops N captured locals (in capture-list order) to form
	// the environment tuple, then pushes a callable FnPtr Value bound
	// to the function named by Hash (resolved against the unit's
	// function table at execution time, so forward references within
	// the same unit need no two-pass offset reservation) plus
	// Convention/Args and that environment.
	MakeClosure
	// MakeFn pushes a callable FnPtr Value bound to the function named
	// by Hash, with no captured environment.
	MakeFn
)

// Instruction is the payload carried by a unit.Inst with Op ==
// unit.OpRaw.
type Instruction struct {
	Op    InstOp
	Int   int64
	Float float64
	Bool  bool
	Slot  int
	N     int

	Hash       item.Hash
	Hash2      item.Hash
	Convention query.CallingConvention
	Args       int
}

// Raw wraps an Instruction as a unit.Inst ready for Assembly.Push.
func Raw(i Instruction) unit.Inst { return unit.Inst{Op: unit.OpRaw, Raw: i} }

// CallFrame records a call's return address and the operand-stack
// index its locals begin at.
type CallFrame struct {
	ReturnIP int
	Base     int
}

// VM is a single bytecode execution machine.
type VM struct {
	ctx  *vctx.Context
	unit *unit.Unit

	stack  []value.Value
	frames []CallFrame
	ip     int
	cycles int

	// suspended distinguishes a freshly constructed machine (run
	// from ip 0 / wherever SetIP placed it) from one resumed after a
	// yield/await suspension, in which case the resume value must be
	// pushed before dispatch continues.
	suspended bool

	// maxCycles overrides the package default instruction budget when
	// non-zero (SetMaxCycles).
	maxCycles int
	// maxDepth overrides the package default call-frame depth limit
	// when non-zero (SetMaxDepth).
	maxDepth int
}

// New constructs a VM linked against ctx and u, with an empty operand
// stack and instruction pointer at zero.
func New(ctx *vctx.Context, u *unit.Unit) *VM {
	return &VM{ctx: ctx, unit: u}
}

// SetIP positions the instruction pointer, used before the first Run
// to start execution at a specific function's entry offset.
func (m *VM) SetIP(offset int) { m.ip = offset }

// SetMaxCycles overrides the instruction budget this VM enforces
// (the package default is maxCycles). n <= 0 restores the default.
func (m *VM) SetMaxCycles(n int) { m.maxCycles = n }

func (m *VM) cycleBudget() int {
	if m.maxCycles > 0 {
		return m.maxCycles
	}
	return maxCycles
}

// SetMaxDepth overrides the call-frame depth limit this VM enforces
// (the package default is maxDepth). n <= 0 restores the default.
func (m *VM) SetMaxDepth(n int) { m.maxDepth = n }

func (m *VM) depthBudget() int {
	if m.maxDepth > 0 {
		return m.maxDepth
	}
	return maxDepth
}

// Push appends a value to the operand stack (context.Stack / fnptr.Host).
func (m *VM) Push(v value.Value) { m.stack = append(m.stack, v) }

// Pop removes and returns the top of the operand stack.
func (m *VM) Pop() (value.Value, error) {
	if len(m.stack) == 0 {
		return value.Value{}, fmt.Errorf("stack underflow at ip %d", m.ip)
	}
	v := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return v, nil
}

// PopSequence removes and returns the top n values, in original
// (bottom-to-top) order.
func (m *VM) PopSequence(n int) ([]value.Value, error) {
	if len(m.stack) < n {
		return nil, fmt.Errorf("stack underflow: need %d, have %d", n, len(m.stack))
	}
	out := append([]value.Value(nil), m.stack[len(m.stack)-n:]...)
	m.stack = m.stack[:len(m.stack)-n]
	return out, nil
}

// StackExtend pushes every value in vs, in order.
func (m *VM) StackExtend(vs []value.Value) {
	m.stack = append(m.stack, vs...)
}

// DrainStackTop removes and returns the top n values, used by FnPtr
// when spawning a fresh machine for a cross-unit call.
func (m *VM) DrainStackTop(n int) ([]value.Value, error) { return m.PopSequence(n) }

// PushCallFrame records a call into offset, reusing the current
// operand stack (the fast path for same-context/same-unit immediate
// calls).
func (m *VM) PushCallFrame(offset, args int) error {
	if len(m.stack) < args {
		return fmt.Errorf("stack underflow pushing call frame: need %d args, have %d", args, len(m.stack))
	}
	if budget := m.depthBudget(); len(m.frames) >= budget {
		return fmt.Errorf("exceeded maximum call depth (%d)", budget)
	}
	base := len(m.stack) - args
	m.frames = append(m.frames, CallFrame{ReturnIP: m.ip, Base: base})
	m.ip = offset
	return nil
}

// IsSame reports whether ctx/u are this VM's own context and unit,
// the condition under which FnPtr's fast call path applies.
func (m *VM) IsSame(ctx *vctx.Context, u *unit.Unit) bool {
	return m.ctx == ctx && m.unit == u
}

func (m *VM) currentBase() int {
	if len(m.frames) == 0 {
		return 0
	}
	return m.frames[len(m.frames)-1].Base
}

// Run executes until the machine exits, yields, awaits, or needs a
// nested VM to complete a cross-unit call.
func (m *VM) Run() (value.Value, *fnptr.StopReason, error) {
	return m.dispatch()
}

// Resume continues a suspended machine, feeding input back in as the
// result of the yield/await expression that suspended it.
func (m *VM) Resume(input value.Value) (value.Value, *fnptr.StopReason, error) {
	if m.suspended {
		m.Push(input)
		m.suspended = false
	}
	return m.dispatch()
}

// RunWithContext is the embedder-facing entry point: it drives the
// machine like Run, resolving CallVm/Await suspensions inline, and
// polls ctx for cancellation before it starts and after each such
// suspension, matching the Risor VM's context-cancellation idiom. It
// does not poll ctx between individual instructions.
func (m *VM) RunWithContext(ctx context.Context) (result value.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during execution at ip %d: %v", m.ip, r)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return value.Value{}, ctx.Err()
		default:
		}

		v, reason, err := m.dispatch()
		if err != nil {
			return value.Value{}, err
		}
		if reason == nil {
			return v, nil
		}
		switch reason.Kind {
		case fnptr.StopCallVm:
			sub, subErr := runHostFully(reason.Host)
			if subErr != nil {
				return value.Value{}, subErr
			}
			m.Push(sub)
		case fnptr.StopAwait:
			sub, subErr := resolveAwait(reason.Value)
			if subErr != nil {
				return value.Value{}, subErr
			}
			m.Push(sub)
			m.suspended = false
		case fnptr.StopExit:
			return v, nil
		default:
			return value.Value{}, fmt.Errorf("unsupported top-level suspension: %v", reason.Kind)
		}
	}
}

// runHostFully drives host to completion, resolving any CallVm/Await
// suspension it reports along the way by recursing into the nested
// host it names. There is no external event source in this VM (no
// I/O, no cross-VM concurrency per spec's Non-goals), so a future is
// always just another suspended computation that can be run to
// exhaustion synchronously — this is the "async_complete" driver the
// embedder-facing entry points use to resolve await chains inline.
// A Yield reaching here (a generator driven through a plain call/await
// site rather than its own resume loop) is reported as an error: a
// generator must be driven explicitly by whoever holds it.
func runHostFully(host fnptr.Host) (value.Value, error) {
	v, stop, err := host.Run()
	for {
		if err != nil {
			return value.Value{}, err
		}
		if stop == nil {
			return v, nil
		}
		switch stop.Kind {
		case fnptr.StopCallVm:
			sub, subErr := runHostFully(stop.Host)
			if subErr != nil {
				return value.Value{}, subErr
			}
			v, stop, err = host.Resume(sub)
		case fnptr.StopAwait:
			sub, subErr := resolveAwait(stop.Value)
			if subErr != nil {
				return value.Value{}, subErr
			}
			v, stop, err = host.Resume(sub)
		case fnptr.StopExit:
			return v, nil
		default:
			return value.Value{}, fmt.Errorf("unexpected suspension (%v) while driving a nested call to completion", stop.Kind)
		}
	}
}

// resolveAwait unwraps the suspended host carried by an awaited Future
// value and drives it to completion.
func resolveAwait(v value.Value) (value.Value, error) {
	shared, ok := v.Shared()
	if !ok {
		return value.Value{}, fmt.Errorf("awaited value has no suspended handle")
	}
	raw, release, err := shared.BorrowShared()
	if err != nil {
		return value.Value{}, err
	}
	data, ok := raw.(*value.SuspendedData)
	release()
	if !ok {
		return value.Value{}, fmt.Errorf("awaited value is not a suspended future")
	}
	host, ok := data.Handle.(fnptr.Host)
	if !ok {
		return value.Value{}, fmt.Errorf("awaited value does not wrap a runnable host")
	}
	return runHostFully(host)
}

func (m *VM) dispatch() (result value.Value, reason *fnptr.StopReason, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during execution at ip %d: %v", m.ip, r)
		}
	}()

	m.cycles = 0
	for {
		m.cycles++
		if budget := m.cycleBudget(); m.cycles > budget {
			return value.Value{}, nil, fmt.Errorf("exceeded maximum instruction budget (%d) at ip %d", budget, m.ip)
		}

		inst, ok := m.unit.InstructionAt(m.ip)
		if !ok {
			return value.Value{}, nil, fmt.Errorf("instruction pointer %d out of bounds", m.ip)
		}

		switch inst.Op {
		case unit.OpJump:
			m.ip += inst.Offset
			continue
		case unit.OpJumpIf:
			cond, err := m.Pop()
			if err != nil {
				return value.Value{}, nil, err
			}
			m.ip++
			if truthy(cond) {
				m.ip += inst.Offset - 1
			}
			continue
		case unit.OpJumpIfNot:
			cond, err := m.Pop()
			if err != nil {
				return value.Value{}, nil, err
			}
			m.ip++
			if !truthy(cond) {
				m.ip += inst.Offset - 1
			}
			continue
		case unit.OpCall:
			stopped, exit, err := m.execCall(inst)
			if err != nil {
				return value.Value{}, nil, err
			}
			if stopped != nil {
				return value.Value{}, stopped, nil
			}
			if exit {
				v, _ := m.Pop()
				return v, nil, nil
			}
			continue
		case unit.OpRaw:
			done, ret, stop, err := m.execRaw(inst)
			if err != nil {
				return value.Value{}, nil, err
			}
			if stop != nil {
				m.suspended = true
				return stop.Value, stop, nil
			}
			if done {
				return ret, nil, nil
			}
			continue
		default:
			return value.Value{}, nil, fmt.Errorf("unknown instruction op at ip %d", m.ip)
		}
	}
}

func (m *VM) execCall(inst unit.Inst) (stop *fnptr.StopReason, exit bool, err error) {
	if info, ok := m.unit.Lookup(inst.Hash); ok {
		if err := m.PushCallFrame(info.Offset, inst.Args); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}

	handler, ok := m.ctx.Lookup(inst.Hash)
	if !ok {
		if v, isConst := m.ctx.LookupConstant(inst.Hash); isConst {
			if inst.Args != 0 {
				return nil, false, fnptr.ArgumentCountMismatch(0, inst.Args)
			}
			m.Push(v)
			m.ip++
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("call to unresolved function hash %s", inst.Hash)
	}
	if err := handler(m, inst.Args); err != nil {
		return nil, false, err
	}
	m.ip++
	return nil, false, nil
}

func (m *VM) execRaw(inst unit.Inst) (done bool, result value.Value, stop *fnptr.StopReason, err error) {
	i, ok := inst.Raw.(Instruction)
	if !ok {
		return false, value.Value{}, nil, fmt.Errorf("malformed raw instruction at ip %d", m.ip)
	}

	switch i.Op {
	case PushUnit:
		m.Push(value.Unit())
	case PushBool:
		m.Push(value.Bool(i.Bool))
	case PushInt:
		m.Push(value.Integer(i.Int))
	case PushFloat:
		m.Push(value.Float(i.Float))
	case PushStr:
		s, err := m.unit.LookupString(i.Slot)
		if err != nil {
			return false, value.Value{}, nil, err
		}
		m.Push(value.String(s))
	case PushChar:
		m.Push(value.Char(rune(i.Int)))
	case PushBytes:
		s, err := m.unit.LookupString(i.Slot)
		if err != nil {
			return false, value.Value{}, nil, err
		}
		m.Push(value.Bytes([]byte(s)))
	case Pop:
		if _, err := m.Pop(); err != nil {
			return false, value.Value{}, nil, err
		}
	case Dup:
		if len(m.stack) == 0 {
			return false, value.Value{}, nil, fmt.Errorf("stack underflow on dup at ip %d", m.ip)
		}
		m.Push(m.stack[len(m.stack)-1])
	case LoadLocal:
		idx := m.currentBase() + i.N
		if idx < 0 || idx >= len(m.stack) {
			return false, value.Value{}, nil, fmt.Errorf("local index %d out of range at ip %d", i.N, m.ip)
		}
		m.Push(m.stack[idx])
	case StoreLocal:
		v, err := m.Pop()
		if err != nil {
			return false, value.Value{}, nil, err
		}
		idx := m.currentBase() + i.N
		if idx < 0 || idx >= len(m.stack) {
			return false, value.Value{}, nil, fmt.Errorf("local index %d out of range at ip %d", i.N, m.ip)
		}
		m.stack[idx] = v
	case Add, Sub, Mul, Div:
		if err := m.binaryArith(i.Op); err != nil {
			return false, value.Value{}, nil, err
		}
	case Eq, Neq, Lt, Lte, Gt, Gte:
		if err := m.binaryCompare(i.Op); err != nil {
			return false, value.Value{}, nil, err
		}
	case Not:
		v, err := m.Pop()
		if err != nil {
			return false, value.Value{}, nil, err
		}
		b, _ := v.AsBool()
		m.Push(value.Bool(!b))
	case NewVec:
		elems, err := m.PopSequence(i.N)
		if err != nil {
			return false, value.Value{}, nil, err
		}
		m.Push(value.Vec(elems))
	case NewTuple:
		elems, err := m.PopSequence(i.N)
		if err != nil {
			return false, value.Value{}, nil, err
		}
		m.Push(value.Tuple(elems))
	case Return:
		v, err := m.Pop()
		if err != nil {
			return false, value.Value{}, nil, err
		}
		if len(m.frames) == 0 {
			return true, v, nil, nil
		}
		frame := m.frames[len(m.frames)-1]
		m.frames = m.frames[:len(m.frames)-1]
		m.stack = m.stack[:frame.Base]
		m.Push(v)
		m.ip = frame.ReturnIP + 1
		return false, value.Value{}, nil, nil
	case ReturnUnit:
		if len(m.frames) == 0 {
			return true, value.Unit(), nil, nil
		}
		frame := m.frames[len(m.frames)-1]
		m.frames = m.frames[:len(m.frames)-1]
		m.stack = m.stack[:frame.Base]
		m.Push(value.Unit())
		m.ip = frame.ReturnIP + 1
		return false, value.Value{}, nil, nil
	case Yield:
		v, err := m.Pop()
		if err != nil {
			return false, value.Value{}, nil, err
		}
		m.ip++
		return false, value.Value{}, &fnptr.StopReason{Kind: fnptr.StopYield, Value: v}, nil
	case Await:
		v, err := m.Pop()
		if err != nil {
			return false, value.Value{}, nil, err
		}
		m.ip++
		return false, value.Value{}, &fnptr.StopReason{Kind: fnptr.StopAwait, Value: v}, nil
	case CallDynamic:
		entered, err := m.execCallDynamic(i.N)
		if err != nil {
			return false, value.Value{}, nil, err
		}
		if entered {
			// The call frame was pushed and the instruction pointer
			// already repositioned to the callee's entry; do not also
			// advance past the call instruction itself.
			return false, value.Value{}, nil, nil
		}
	case TupleGet:
		elems, err := m.tupleElems(m.ip)
		if err != nil {
			return false, value.Value{}, nil, err
		}
		if i.N < 0 || i.N >= len(elems) {
			return false, value.Value{}, nil, fmt.Errorf("tuple index %d out of range at ip %d", i.N, m.ip)
		}
		m.Push(elems[i.N])
	case ObjectGetField:
		key, err := m.unit.LookupString(i.Slot)
		if err != nil {
			return false, value.Value{}, nil, err
		}
		v, err := m.Pop()
		if err != nil {
			return false, value.Value{}, nil, err
		}
		shared, ok := v.Shared()
		if !ok {
			return false, value.Value{}, nil, fmt.Errorf("value is not an object at ip %d", m.ip)
		}
		raw, release, err := shared.BorrowShared()
		if err != nil {
			return false, value.Value{}, nil, err
		}
		obj, ok := raw.(*value.ObjectData)
		if !ok {
			release()
			return false, value.Value{}, nil, fmt.Errorf("value is not an object at ip %d", m.ip)
		}
		field, ok := obj.Fields[key]
		release()
		if !ok {
			return false, value.Value{}, nil, fmt.Errorf("missing object field %q at ip %d", key, m.ip)
		}
		m.Push(field)
	case MakeTypedTuple:
		elems, err := m.PopSequence(i.N)
		if err != nil {
			return false, value.Value{}, nil, err
		}
		m.Push(value.TypedTuple(i.Hash, elems))
	case MakeVariant:
		elems, err := m.PopSequence(i.N)
		if err != nil {
			return false, value.Value{}, nil, err
		}
		m.Push(value.VariantTuple(i.Hash2, i.Hash, elems))
	case MakeObject:
		keys, ok := m.unit.LookupObjectKeys(i.Slot)
		if !ok {
			return false, value.Value{}, nil, fmt.Errorf("missing static object-key set for slot %d at ip %d", i.Slot, m.ip)
		}
		vals, err := m.PopSequence(len(keys))
		if err != nil {
			return false, value.Value{}, nil, err
		}
		fields := make(map[string]value.Value, len(keys))
		for idx, k := range keys {
			fields[k] = vals[idx]
		}
		m.Push(value.Object(fields))
	case CheckVariant:
		ok, err := m.peekVariantHash(i.Hash)
		if err != nil {
			return false, value.Value{}, nil, err
		}
		m.Push(value.Bool(ok))
	case CheckTypedTuple:
		ok, err := m.peekTypedTupleHash(i.Hash)
		if err != nil {
			return false, value.Value{}, nil, err
		}
		m.Push(value.Bool(ok))
	case MakeClosure:
		env, err := m.PopSequence(i.N)
		if err != nil {
			return false, value.Value{}, nil, err
		}
		offset, ok := m.unit.LookupOffset(i.Hash)
		if !ok {
			return false, value.Value{}, nil, fmt.Errorf("unresolved closure function %s at ip %d", i.Hash, m.ip)
		}
		fp := fnptr.FromClosure(m.ctx, m.unit, env, offset, i.Convention, i.Args)
		m.Push(value.FromFnPtr(fp))
	case MakeFn:
		if offset, ok := m.unit.LookupOffset(i.Hash); ok {
			fp := fnptr.FromOffset(m.ctx, m.unit, offset, i.Convention, i.Args)
			m.Push(value.FromFnPtr(fp))
			break
		}
		handler, ok := m.ctx.Lookup(i.Hash)
		if !ok {
			return false, value.Value{}, nil, fmt.Errorf("unresolved function %s at ip %d", i.Hash, m.ip)
		}
		m.Push(value.FromFnPtr(fnptr.FromHandler(handler)))
	default:
		return false, value.Value{}, nil, fmt.Errorf("unknown raw op at ip %d", m.ip)
	}

	m.ip++
	return false, value.Value{}, nil, nil
}

// execCallDynamic pops a FnPtr value and dispatches it against args
// values already on the stack beneath it. An Immediate-convention call
// that takes the slow path of fnptr.FnPtr.CallWithVM is driven to
// completion inline rather than bubbled up as a suspension: it is
// purely an optimization boundary, not something an embedder needs to
// observe. A Generator/Async/Stream-convention call instead pushes a
// suspended handle wrapping the spawned host.
func (m *VM) execCallDynamic(args int) (entered bool, err error) {
	fnVal, err := m.Pop()
	if err != nil {
		return false, err
	}

	shared, ok := fnVal.Shared()
	if !ok {
		return false, fmt.Errorf("value is not callable at ip %d", m.ip)
	}
	raw, release, err := shared.BorrowShared()
	if err != nil {
		return false, err
	}
	fpData, ok := raw.(*value.FnPtrData)
	release()
	if !ok {
		return false, fmt.Errorf("value is not callable at ip %d", m.ip)
	}
	fp, ok := fpData.Ptr.(*fnptr.FnPtr)
	if !ok {
		return false, fmt.Errorf("unsupported callable type at ip %d", m.ip)
	}

	framesBefore := len(m.frames)
	stop, err := fp.CallWithVM(m, args)
	if err != nil {
		return false, err
	}
	if stop == nil {
		// A new call frame was pushed (offset/closure-offset immediate,
		// same-unit path): the instruction pointer already points at the
		// callee's entry. Anything else (handler/tuple/variant-tuple)
		// completed synchronously with its result already on the stack.
		return len(m.frames) > framesBefore, nil
	}

	if stop.Call != query.Immediate {
		// Generator/Async/Stream conventions never run eagerly: the
		// caller receives a suspendable handle wrapping the freshly
		// spawned host, exactly as fnptr.FnPtr.Call's standalone path
		// wraps it via runByConvention.
		m.Push(value.FromSuspended(suspendedKindFor(stop.Call), stop.Host))
		return false, nil
	}

	v, err := runHostFully(stop.Host)
	if err != nil {
		return false, err
	}
	m.Push(v)
	return false, nil
}

func suspendedKindFor(conv query.CallingConvention) value.Kind {
	switch conv {
	case query.Generator:
		return value.KindGenerator
	case query.Stream:
		return value.KindStream
	default:
		return value.KindFuture
	}
}

// tupleElems pops the top of stack and returns its element slice,
// regardless of whether it is a plain Tuple, TypedTuple, or
// VariantTuple.
func (m *VM) tupleElems(ip int) ([]value.Value, error) {
	v, err := m.Pop()
	if err != nil {
		return nil, err
	}
	shared, ok := v.Shared()
	if !ok {
		return nil, fmt.Errorf("value is not a tuple at ip %d", ip)
	}
	raw, release, err := shared.BorrowShared()
	if err != nil {
		return nil, err
	}
	defer release()
	switch data := raw.(type) {
	case *value.TupleData:
		return data.Elems, nil
	case *value.TypedTupleData:
		return data.Elems, nil
	case *value.VariantTupleData:
		return data.Elems, nil
	default:
		return nil, fmt.Errorf("value is not a tuple at ip %d", ip)
	}
}

// peekVariantHash reports whether the top of stack (left in place) is a
// VariantTuple tagged with hash.
func (m *VM) peekVariantHash(hash item.Hash) (bool, error) {
	if len(m.stack) == 0 {
		return false, fmt.Errorf("stack underflow at ip %d", m.ip)
	}
	v := m.stack[len(m.stack)-1]
	shared, ok := v.Shared()
	if !ok {
		return false, nil
	}
	raw, release, err := shared.BorrowShared()
	if err != nil {
		return false, err
	}
	defer release()
	data, ok := raw.(*value.VariantTupleData)
	if !ok {
		return false, nil
	}
	return data.VariantHash == hash, nil
}

// peekTypedTupleHash reports whether the top of stack (left in place)
// is a TypedTuple tagged with hash.
func (m *VM) peekTypedTupleHash(hash item.Hash) (bool, error) {
	if len(m.stack) == 0 {
		return false, fmt.Errorf("stack underflow at ip %d", m.ip)
	}
	v := m.stack[len(m.stack)-1]
	shared, ok := v.Shared()
	if !ok {
		return false, nil
	}
	raw, release, err := shared.BorrowShared()
	if err != nil {
		return false, err
	}
	defer release()
	data, ok := raw.(*value.TypedTupleData)
	if !ok {
		return false, nil
	}
	return data.TypeHash == hash, nil
}

func (m *VM) binaryArith(op InstOp) error {
	b, err := m.Pop()
	if err != nil {
		return err
	}
	a, err := m.Pop()
	if err != nil {
		return err
	}

	ai, aIsInt := a.AsInteger()
	bi, bIsInt := b.AsInteger()
	if aIsInt && bIsInt {
		var r int64
		switch op {
		case Add:
			r = ai + bi
		case Sub:
			r = ai - bi
		case Mul:
			r = ai * bi
		case Div:
			if bi == 0 {
				return fmt.Errorf("division by zero at ip %d", m.ip)
			}
			r = ai / bi
		}
		m.Push(value.Integer(r))
		return nil
	}

	af, aIsFloat := floatOf(a)
	bf, bIsFloat := floatOf(b)
	if aIsFloat && bIsFloat {
		var r float64
		switch op {
		case Add:
			r = af + bf
		case Sub:
			r = af - bf
		case Mul:
			r = af * bf
		case Div:
			r = af / bf
		}
		m.Push(value.Float(r))
		return nil
	}

	return fmt.Errorf("unsupported operand types for arithmetic at ip %d", m.ip)
}

func (m *VM) binaryCompare(op InstOp) error {
	b, err := m.Pop()
	if err != nil {
		return err
	}
	a, err := m.Pop()
	if err != nil {
		return err
	}

	af, aIsNum := floatOf(a)
	bf, bIsNum := floatOf(b)

	var result bool
	switch op {
	case Eq:
		result = valuesEqual(a, b)
	case Neq:
		result = !valuesEqual(a, b)
	case Lt, Lte, Gt, Gte:
		if !aIsNum || !bIsNum {
			return fmt.Errorf("unsupported operand types for comparison at ip %d", m.ip)
		}
		switch op {
		case Lt:
			result = af < bf
		case Lte:
			result = af <= bf
		case Gt:
			result = af > bf
		case Gte:
			result = af >= bf
		}
	}

	m.Push(value.Bool(result))
	return nil
}

func floatOf(v value.Value) (float64, bool) {
	if i, ok := v.AsInteger(); ok {
		return float64(i), true
	}
	if f, ok := v.AsFloat(); ok {
		return f, true
	}
	return 0, false
}

func valuesEqual(a, b value.Value) bool {
	if a.Kind() != b.Kind() {
		af, aok := floatOf(a)
		bf, bok := floatOf(b)
		return aok && bok && af == bf
	}
	switch a.Kind() {
	case value.KindInteger:
		ai, _ := a.AsInteger()
		bi, _ := b.AsInteger()
		return ai == bi
	case value.KindFloat:
		af, _ := a.AsFloat()
		bf, _ := b.AsFloat()
		return af == bf
	case value.KindBool:
		ab, _ := a.AsBool()
		bb, _ := b.AsBool()
		return ab == bb
	case value.KindString:
		as, _ := a.AsString()
		bs, _ := b.AsString()
		return as == bs
	case value.KindChar:
		ac, _ := a.AsChar()
		bc, _ := b.AsChar()
		return ac == bc
	case value.KindBytes:
		ab, _ := a.AsBytes()
		bb, _ := b.AsBytes()
		return bytes.Equal(ab, bb)
	case value.KindUnit:
		return true
	default:
		return false
	}
}

func truthy(v value.Value) bool {
	if b, ok := v.AsBool(); ok {
		return b
	}
	if i, ok := v.AsInteger(); ok {
		return i != 0
	}
	return v.Kind() != value.KindUnit
}
