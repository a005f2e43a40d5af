// Package fnptr implements FnPtr, the unified callable-value type: a
// stored function of one of five shapes (native handler, bytecode
// offset, closure-with-environment offset, tuple-struct constructor,
// tuple-variant constructor), exposed through two entry points — a
// standalone Call for embedder use, and CallWithVM, which lets an
// already-running VM avoid allocating a fresh machine when the call
// target lives in the same context and unit.
//
// Host is the minimal surface a VM dispatch loop must expose for FnPtr
// to drive it; internal/vybium-script-vm/vm.VM implements it. FnPtr
// lives outside the vm package specifically so that package can import
// fnptr (to dispatch Call instructions) without a cycle.
package fnptr

import (
	"fmt"

	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/context"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/lang/item"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/lang/value"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/query"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/unit"
)

// Error is raised for argument-count mismatches and other call-site
// failures.
type Error struct{ msg string }

func (e *Error) Error() string { return e.msg }

// ArgumentCountMismatch reports a call site's argument count not
// matching the target's declared arity.
func ArgumentCountMismatch(expected, actual int) error {
	return &Error{msg: fmt.Sprintf("argument count mismatch: expected %d, got %d", expected, actual)}
}

// StopKind tags why a VM dispatch loop suspended.
type StopKind int

const (
	// StopCallVm means a call was made across a context/unit boundary
	// and a fresh VM must be driven to produce the result before the
	// caller can resume.
	StopCallVm StopKind = iota
	// StopYield means a generator body yielded a value.
	StopYield
	// StopAwait means an async body is awaiting a future.
	StopAwait
	// StopExit means the VM ran to completion.
	StopExit
)

func (k StopKind) String() string {
	switch k {
	case StopYield:
		return "yield"
	case StopAwait:
		return "await"
	case StopCallVm:
		return "call-vm"
	default:
		return "exit"
	}
}

// StopReason is returned by CallWithVM (and by Host.Run/Host.Resume)
// whenever execution cannot simply continue in the calling frame.
type StopReason struct {
	Kind  StopKind
	Value value.Value
	Call  query.CallingConvention
	Host  Host
}

// Host is the subset of a VM's dispatch loop that FnPtr needs to
// drive calls, both as a fast-path continuation and as a freshly
// spawned machine.
type Host interface {
	context.Stack

	SetIP(offset int)
	StackExtend(vs []value.Value)
	DrainStackTop(n int) ([]value.Value, error)
	PushCallFrame(offset, args int) error
	IsSame(ctx *context.Context, u *unit.Unit) bool

	// Run drives the host to completion or to its first suspension
	// point (yield/await), returning the produced value (the return
	// value on completion, the yielded/awaited value on suspension).
	Run() (value.Value, *StopReason, error)
	// Resume continues a previously suspended host, feeding input back
	// in as the result of the yield/await expression.
	Resume(input value.Value) (value.Value, *StopReason, error)
}

// vmFactory is installed by the vm package's init() to let FnPtr spawn
// fresh machines without importing the vm package directly.
var vmFactory func(ctx *context.Context, u *unit.Unit) Host

// RegisterHostFactory installs the function used to construct a fresh
// Host for offset/closure calls. Called exactly once, from the vm
// package's init().
func RegisterHostFactory(f func(ctx *context.Context, u *unit.Unit) Host) {
	vmFactory = f
}

type shapeKind int

const (
	shapeHandler shapeKind = iota
	shapeOffset
	shapeClosureOffset
	shapeTuple
	shapeVariantTuple
)

// FnPtr is a stored, first-class callable value.
type FnPtr struct {
	kind shapeKind

	handler context.Handler

	ctx   *context.Context
	unit  *unit.Unit
	offset int
	call   query.CallingConvention
	args   int

	environment []value.Value

	hash      item.Hash
	enumHash  item.Hash
}

// FromHandler wraps a native Go function as a callable value.
func FromHandler(h context.Handler) *FnPtr {
	return &FnPtr{kind: shapeHandler, handler: h}
}

// FromOffset wraps a bytecode function entry point.
func FromOffset(ctx *context.Context, u *unit.Unit, offset int, call query.CallingConvention, args int) *FnPtr {
	return &FnPtr{kind: shapeOffset, ctx: ctx, unit: u, offset: offset, call: call, args: args}
}

// FromClosure wraps a bytecode closure entry point together with its
// captured environment.
func FromClosure(ctx *context.Context, u *unit.Unit, environment []value.Value, offset int, call query.CallingConvention, args int) *FnPtr {
	return &FnPtr{kind: shapeClosureOffset, ctx: ctx, unit: u, environment: environment, offset: offset, call: call, args: args}
}

// FromTuple wraps a tuple-struct constructor.
func FromTuple(hash item.Hash, args int) *FnPtr {
	return &FnPtr{kind: shapeTuple, hash: hash, args: args}
}

// FromVariantTuple wraps a tuple-enum-variant constructor.
func FromVariantTuple(enumHash, hash item.Hash, args int) *FnPtr {
	return &FnPtr{kind: shapeVariantTuple, enumHash: enumHash, hash: hash, args: args}
}

func checkArgs(actual, expected int) error {
	if actual != expected {
		return ArgumentCountMismatch(expected, actual)
	}
	return nil
}

// Call performs a standalone call, outside of any currently-running
// VM. For Offset/ClosureOffset targets under the Generator/Async/
// Stream calling convention, the returned value is an opaque suspended
// handle (a Generator/Future/Stream Value) rather than the eventual
// result; the caller drives the wrapped Host through its Run/Resume
// methods.
func (f *FnPtr) Call(args []value.Value) (value.Value, error) {
	switch f.kind {
	case shapeHandler:
		stack := newSliceStack()
		for _, a := range args {
			stack.Push(a)
		}
		if err := f.handler(stack, len(args)); err != nil {
			return value.Value{}, err
		}
		return stack.Pop()

	case shapeOffset:
		if err := checkArgs(len(args), f.args); err != nil {
			return value.Value{}, err
		}
		host := vmFactory(f.ctx, f.unit)
		host.SetIP(f.offset)
		host.StackExtend(args)
		return f.runByConvention(host)

	case shapeClosureOffset:
		if err := checkArgs(len(args), f.args); err != nil {
			return value.Value{}, err
		}
		host := vmFactory(f.ctx, f.unit)
		host.SetIP(f.offset)
		host.StackExtend(args)
		host.Push(value.Tuple(f.environment))
		return f.runByConvention(host)

	case shapeTuple:
		if err := checkArgs(len(args), f.args); err != nil {
			return value.Value{}, err
		}
		return value.TypedTuple(f.hash, args), nil

	case shapeVariantTuple:
		if err := checkArgs(len(args), f.args); err != nil {
			return value.Value{}, err
		}
		return value.VariantTuple(f.enumHash, f.hash, args), nil

	default:
		return value.Value{}, fmt.Errorf("unknown FnPtr shape")
	}
}

func (f *FnPtr) runByConvention(host Host) (value.Value, error) {
	switch f.call {
	case query.Generator:
		return value.FromSuspended(value.KindGenerator, host), nil
	case query.Async:
		return value.FromSuspended(value.KindFuture, host), nil
	case query.Stream:
		return value.FromSuspended(value.KindStream, host), nil
	default:
		v, reason, err := host.Run()
		if err != nil {
			return value.Value{}, err
		}
		if reason != nil {
			return value.Value{}, fmt.Errorf("unexpected suspension (%v) for an immediate call", reason.Kind)
		}
		return v, nil
	}
}

// CallWithVM performs a call from inside a running VM (vm), allowing
// the same-context/same-unit immediate case to continue in the
// caller's own frame instead of spawning a new machine.
func (f *FnPtr) CallWithVM(vm Host, args int) (*StopReason, error) {
	switch f.kind {
	case shapeHandler:
		if err := f.handler(vm, args); err != nil {
			return nil, err
		}
		return nil, nil

	case shapeOffset:
		if err := checkArgs(args, f.args); err != nil {
			return nil, err
		}
		if f.call == query.Immediate && vm.IsSame(f.ctx, f.unit) {
			if err := vm.PushCallFrame(f.offset, args); err != nil {
				return nil, err
			}
			return nil, nil
		}
		drained, err := vm.DrainStackTop(args)
		if err != nil {
			return nil, err
		}
		host := vmFactory(f.ctx, f.unit)
		host.SetIP(f.offset)
		host.StackExtend(drained)
		return &StopReason{Kind: StopCallVm, Call: f.call, Host: host}, nil

	case shapeClosureOffset:
		if err := checkArgs(args, f.args); err != nil {
			return nil, err
		}
		if f.call == query.Immediate && vm.IsSame(f.ctx, f.unit) {
			if err := vm.PushCallFrame(f.offset, args); err != nil {
				return nil, err
			}
			vm.Push(value.Tuple(f.environment))
			return nil, nil
		}
		drained, err := vm.DrainStackTop(args)
		if err != nil {
			return nil, err
		}
		host := vmFactory(f.ctx, f.unit)
		host.SetIP(f.offset)
		host.StackExtend(drained)
		host.Push(value.Tuple(f.environment))
		return &StopReason{Kind: StopCallVm, Call: f.call, Host: host}, nil

	case shapeTuple:
		if err := checkArgs(args, f.args); err != nil {
			return nil, err
		}
		seq, err := vm.PopSequence(args)
		if err != nil {
			return nil, err
		}
		vm.Push(value.TypedTuple(f.hash, seq))
		return nil, nil

	case shapeVariantTuple:
		if err := checkArgs(args, f.args); err != nil {
			return nil, err
		}
		seq, err := vm.PopSequence(args)
		if err != nil {
			return nil, err
		}
		vm.Push(value.VariantTuple(f.enumHash, f.hash, seq))
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown FnPtr shape")
	}
}

// sliceStack is a minimal context.Stack used for standalone handler
// calls made outside of any VM.
type sliceStack struct{ items []value.Value }

func newSliceStack() *sliceStack { return &sliceStack{} }

func (s *sliceStack) Push(v value.Value) { s.items = append(s.items, v) }

func (s *sliceStack) Pop() (value.Value, error) {
	if len(s.items) == 0 {
		return value.Value{}, fmt.Errorf("stack underflow")
	}
	v := s.items[len(s.items)-1]
	s.items = s.items[:len(s.items)-1]
	return v, nil
}

func (s *sliceStack) PopSequence(n int) ([]value.Value, error) {
	if len(s.items) < n {
		return nil, fmt.Errorf("stack underflow: need %d, have %d", n, len(s.items))
	}
	out := append([]value.Value(nil), s.items[len(s.items)-n:]...)
	s.items = s.items[:len(s.items)-n]
	return out, nil
}
